//
// (C) Copyright 2021-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package daos

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	// MaxLabelLength is the maximum length of a label.
	MaxLabelLength = 127
)

var labelRegexp = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)

// LabelIsValid checks a label to verify that it meets length/content
// requirements.
func LabelIsValid(label string) bool {
	if len(label) == 0 || len(label) > MaxLabelLength {
		return false
	}
	if _, err := uuid.Parse(label); err == nil {
		return false
	}
	return labelRegexp.MatchString(label)
}

// EcCellSizeIsValid checks EC cell Size to verify that it meets size
// requirements.
func EcCellSizeIsValid(sz uint64) bool {
	const (
		minCellSize = 1 << 10
		maxCellSize = 1 << 30
	)
	return sz >= minCellSize && sz <= maxCellSize && sz&(sz-1) == 0
}

// PropertyValue encapsulates the logic for storing a string or uint64
// property value.
type PropertyValue struct {
	data interface{}
}

// SetString sets the property value to a string.
func (pv *PropertyValue) SetString(strVal string) {
	pv.data = strVal
}

// SetNumber sets the property value to a number.
func (pv *PropertyValue) SetNumber(numVal uint64) {
	pv.data = numVal
}

// IsSet returns true if a value has been assigned.
func (pv *PropertyValue) IsSet() bool {
	return pv != nil && pv.data != nil
}

func (pv *PropertyValue) String() string {
	if !pv.IsSet() {
		return "value not set"
	}

	switch v := pv.data.(type) {
	case string:
		return v
	case uint64:
		return strconv.FormatUint(v, 10)
	default:
		return fmt.Sprintf("unknown data type for %+v", pv.data)
	}
}

// GetNumber returns the numeric value set for the property,
// or an error if the value is not a number.
func (pv *PropertyValue) GetNumber() (uint64, error) {
	if !pv.IsSet() {
		return 0, errors.New("value not set")
	}
	if v, ok := pv.data.(uint64); ok {
		return v, nil
	}
	return 0, errors.Errorf("%+v is not uint64", pv.data)
}

// GetString returns the string value set for the property,
// or an error if the value is not a string.
func (pv *PropertyValue) GetString() (string, error) {
	if !pv.IsSet() {
		return "", errors.New("value not set")
	}
	if v, ok := pv.data.(string); ok {
		return v, nil
	}
	return "", errors.Errorf("%+v is not string", pv.data)
}

func (pv PropertyValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(pv.data)
}

func (pv *PropertyValue) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case nil:
		pv.data = nil
	case string:
		pv.data = v
	case json.Number:
		n, err := strconv.ParseUint(v.String(), 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid property number %q", v)
		}
		pv.data = n
	default:
		return errors.Errorf("unsupported property value %s", string(data))
	}

	return nil
}

// Property contains a name/value pair representing a pool or container
// property.
type Property struct {
	Number        uint32        `json:"-"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	Value         PropertyValue `json:"value"`
	ReadOnly      bool          `json:"-"`
	jsonNumeric   bool          // true if value should be numeric in JSON
	valueHandler  func(string) (*PropertyValue, error)
	valueStringer func(*PropertyValue) string
}

// SetValue parses the supplied string and sets the property value.
func (p *Property) SetValue(strVal string) error {
	if p.valueHandler == nil {
		p.Value.data = strVal
		return nil
	}
	v, err := p.valueHandler(strVal)
	if err != nil {
		return err
	}
	p.Value = *v
	return nil
}

func (p *Property) String() string {
	if p == nil {
		return "<nil>"
	}

	return p.Name + ":" + p.StringValue()
}

// StringValue returns the human-readable form of the property value.
func (p *Property) StringValue() string {
	if p == nil {
		return "<nil>"
	}
	if !p.Value.IsSet() {
		return "not set"
	}
	if p.valueStringer != nil {
		return p.valueStringer(&p.Value)
	}
	return p.Value.String()
}

func (p *Property) MarshalJSON() ([]byte, error) {
	if p == nil {
		return nil, errors.New("nil property")
	}

	var jsonValue interface{}
	if p.jsonNumeric {
		n, err := p.Value.GetNumber()
		if err != nil {
			return nil, err
		}
		jsonValue = n
	} else {
		jsonValue = p.StringValue()
	}

	type toJSON Property
	return json.Marshal(&struct {
		*toJSON
		Value interface{} `json:"value"`
	}{
		Value:  jsonValue,
		toJSON: (*toJSON)(p),
	})
}

type valueMap map[string]uint64

func (m valueMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys
}

// PropHandler holds the template for a property along with the set of
// named values it accepts, if any.
type PropHandler struct {
	Property Property
	values   valueMap
}

// Values returns the sorted list of accepted value names.
func (ph *PropHandler) Values() []string {
	return ph.values.Keys()
}

// GetProperty returns a fresh property instance for the handler.
func (ph *PropHandler) GetProperty(name string) *Property {
	prop := ph.Property
	prop.Name = name

	if prop.valueHandler == nil && len(ph.values) > 0 {
		prop.valueHandler = func(in string) (*PropertyValue, error) {
			if val, found := ph.values[strings.ToLower(in)]; found {
				return &PropertyValue{val}, nil
			}
			return nil, errors.Wrapf(InvalidInput, "invalid value %q for %s (valid: %s)",
				in, name, strings.Join(ph.Values(), ","))
		}
	}

	if prop.valueStringer == nil && len(ph.values) > 0 {
		valNameMap := make(map[uint64]string)
		for name, number := range ph.values {
			if cur, found := valNameMap[number]; !found || len(name) > len(cur) {
				valNameMap[number] = name
			}
		}

		prop.valueStringer = func(v *PropertyValue) string {
			n, err := v.GetNumber()
			if err == nil {
				if name, found := valNameMap[n]; found {
					return name
				}
			}
			return v.String()
		}
	}

	return &prop
}

// PropertyMap maps property names to handlers.
type PropertyMap map[string]*PropHandler

// GetProperty returns a *Property for the property name, if valid.
func (m PropertyMap) GetProperty(name string) (*Property, error) {
	h, found := m[name]
	if !found {
		return nil, errors.Wrapf(InvalidInput, "unknown property %q", name)
	}
	return h.GetProperty(name), nil
}

// Keys returns the sorted list of property names.
func (m PropertyMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys
}

func numberHandler(name string, max uint64) func(string) (*PropertyValue, error) {
	return func(s string) (*PropertyValue, error) {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil || n > max {
			return nil, errors.Wrapf(InvalidInput, "invalid %s value %s (valid values: 0-%d)", name, s, max)
		}
		return &PropertyValue{n}, nil
	}
}

func sizeHandler(name string, check func(uint64) bool) func(string) (*PropertyValue, error) {
	return func(s string) (*PropertyValue, error) {
		b, err := humanize.ParseBytes(s)
		if err != nil || (check != nil && !check(b)) {
			return nil, errors.Wrapf(InvalidInput, "invalid %s %q", name, s)
		}
		return &PropertyValue{b}, nil
	}
}

func sizeStringer(v *PropertyValue) string {
	n, err := v.GetNumber()
	if err != nil {
		return "not set"
	}
	return humanize.IBytes(n)
}

func labelHandler(s string) (*PropertyValue, error) {
	if !LabelIsValid(s) {
		return nil, errors.Wrapf(InvalidInput, "invalid label %q", s)
	}
	return &PropertyValue{s}, nil
}

func principalHandler(s string) (*PropertyValue, error) {
	if !ACLPrincipalIsValid(s) {
		return nil, errors.Wrapf(InvalidInput, "invalid principal %q", s)
	}
	return &PropertyValue{s}, nil
}

func aclHandler(s string) (*PropertyValue, error) {
	acl, err := ParseACL(strings.NewReader(s))
	if err != nil {
		return nil, err
	}
	return &PropertyValue{acl.String()}, nil
}

// Pool property numbers.
const (
	PoolPropertyLabel uint32 = iota + 1
	PoolPropertyACL
	PoolPropertyReservedSpace
	PoolPropertySelfHealing
	PoolPropertySpaceReclaim
	PoolPropertyOwner
	PoolPropertyOwnerGroup
	PoolPropertyECCellSize
	PoolPropertyRedunFac
	PoolPropertySvcRedunFac
	PoolPropertyUpgradeStatus
	PoolPropertyScrubMode
)

const (
	PoolSpaceReclaimDisabled = iota
	PoolSpaceReclaimLazy
	PoolSpaceReclaimTime
)

const (
	PoolSelfHealingAutoExclude = 1 << iota
	PoolSelfHealingAutoRebuild
)

const (
	PoolUpgradeStatusNotStarted = iota
	PoolUpgradeStatusInProgress
	PoolUpgradeStatusCompleted
	PoolUpgradeStatusFailed
)

const (
	PoolScrubModeOff = iota
	PoolScrubModeLazy
	PoolScrubModeTimed
)

// PoolProperties returns a map of property names to handlers
// for processing property values.
func PoolProperties() PropertyMap {
	return map[string]*PropHandler{
		"label": {
			Property: Property{
				Number:       PoolPropertyLabel,
				Description:  "Pool label",
				valueHandler: labelHandler,
			},
		},
		"acl": {
			Property: Property{
				Number:       PoolPropertyACL,
				Description:  "Access Control List",
				ReadOnly:     true,
				valueHandler: aclHandler,
			},
		},
		"reclaim": {
			Property: Property{
				Number:      PoolPropertySpaceReclaim,
				Description: "Reclaim strategy",
			},
			values: map[string]uint64{
				"disabled": PoolSpaceReclaimDisabled,
				"lazy":     PoolSpaceReclaimLazy,
				"time":     PoolSpaceReclaimTime,
			},
		},
		"self_heal": {
			Property: Property{
				Number:      PoolPropertySelfHealing,
				Description: "Self-healing policy",
				valueStringer: func(v *PropertyValue) string {
					n, err := v.GetNumber()
					if err != nil {
						return "not set"
					}
					switch {
					case n&PoolSelfHealingAutoExclude > 0:
						return "exclude"
					case n&PoolSelfHealingAutoRebuild > 0:
						return "rebuild"
					default:
						return "unknown"
					}
				},
			},
			values: map[string]uint64{
				"exclude": PoolSelfHealingAutoExclude,
				"rebuild": PoolSelfHealingAutoRebuild,
			},
		},
		"space_rb": {
			Property: Property{
				Number:      PoolPropertyReservedSpace,
				Description: "Rebuild space ratio",
				valueHandler: func(s string) (*PropertyValue, error) {
					return numberHandler("space_rb", 100)(strings.ReplaceAll(s, "%", ""))
				},
				valueStringer: func(v *PropertyValue) string {
					n, err := v.GetNumber()
					if err != nil {
						return "not set"
					}
					return fmt.Sprintf("%d%%", n)
				},
				jsonNumeric: true,
			},
		},
		"ec_cell_sz": {
			Property: Property{
				Number:        PoolPropertyECCellSize,
				Description:   "EC cell size",
				valueHandler:  sizeHandler("EC cell size", EcCellSizeIsValid),
				valueStringer: sizeStringer,
				jsonNumeric:   true,
			},
		},
		"rd_fac": {
			Property: Property{
				Number:       PoolPropertyRedunFac,
				Description:  "Pool redundancy factor",
				valueHandler: numberHandler("rd_fac", 4),
				jsonNumeric:  true,
			},
		},
		"svc_rf": {
			Property: Property{
				Number:       PoolPropertySvcRedunFac,
				Description:  "Pool service redundancy factor",
				valueHandler: numberHandler("svc_rf", 4),
				jsonNumeric:  true,
			},
		},
		"owner": {
			Property: Property{
				Number:       PoolPropertyOwner,
				Description:  "Pool owner",
				valueHandler: principalHandler,
			},
		},
		"group": {
			Property: Property{
				Number:       PoolPropertyOwnerGroup,
				Description:  "Pool group",
				valueHandler: principalHandler,
			},
		},
		"upgrade_status": {
			Property: Property{
				Number:      PoolPropertyUpgradeStatus,
				Description: "Upgrade Status",
				ReadOnly:    true,
			},
			values: map[string]uint64{
				"not started": PoolUpgradeStatusNotStarted,
				"in progress": PoolUpgradeStatusInProgress,
				"completed":   PoolUpgradeStatusCompleted,
				"failed":      PoolUpgradeStatusFailed,
			},
		},
		"scrub": {
			Property: Property{
				Number:      PoolPropertyScrubMode,
				Description: "Checksum scrubbing mode",
			},
			values: map[string]uint64{
				"off":   PoolScrubModeOff,
				"lazy":  PoolScrubModeLazy,
				"timed": PoolScrubModeTimed,
			},
		},
	}
}

// Container property numbers.
const (
	ContainerPropertyLabel uint32 = iota + 1
	ContainerPropertyLayoutType
	ContainerPropertyLayoutVersion
	ContainerPropertyChecksum
	ContainerPropertyChecksumSize
	ContainerPropertyServerChecksum
	ContainerPropertyDedup
	ContainerPropertyCompression
	ContainerPropertyEncryption
	ContainerPropertyRedunFac
	ContainerPropertyRedunLevel
	ContainerPropertySnapshotMax
	ContainerPropertyACL
	ContainerPropertyOwner
	ContainerPropertyGroup
	ContainerPropertyAllocedOID
	ContainerPropertyECCellSize
	ContainerPropertyStatus
	ContainerPropertyObjectClass
	ContainerPropertyChunkSize
)

const (
	ContainerStatusHealthy = iota
	ContainerStatusUnclean
)

func enumValues(names ...string) valueMap {
	m := make(valueMap, len(names))
	for i, name := range names {
		m[name] = uint64(i)
	}
	return m
}

// ContainerProperties returns a map of property names to handlers
// for processing container property values.
func ContainerProperties() PropertyMap {
	return map[string]*PropHandler{
		"label": {
			Property: Property{
				Number:       ContainerPropertyLabel,
				Description:  "Label",
				valueHandler: labelHandler,
			},
		},
		"layout_type": {
			Property: Property{
				Number:      ContainerPropertyLayoutType,
				Description: "Layout type",
				valueHandler: func(s string) (*PropertyValue, error) {
					var l ContainerLayout
					if err := l.FromString(s); err != nil {
						return nil, errors.Wrap(InvalidInput, err.Error())
					}
					return &PropertyValue{uint64(l)}, nil
				},
				valueStringer: func(v *PropertyValue) string {
					n, err := v.GetNumber()
					if err != nil {
						return "not set"
					}
					return ContainerLayout(n).String()
				},
			},
		},
		"layout_version": {
			Property: Property{
				Number:       ContainerPropertyLayoutVersion,
				Description:  "Layout version",
				ReadOnly:     true,
				valueHandler: numberHandler("layout_version", 1<<16),
				jsonNumeric:  true,
			},
		},
		"cksum": {
			Property: Property{
				Number:      ContainerPropertyChecksum,
				Description: "Checksum",
			},
			values: enumValues("off", "adler32", "crc16", "crc32", "crc64", "sha1", "sha256", "sha512"),
		},
		"cksum_size": {
			Property: Property{
				Number:        ContainerPropertyChecksumSize,
				Description:   "Checksum chunk size",
				valueHandler:  sizeHandler("checksum chunk size", nil),
				valueStringer: sizeStringer,
				jsonNumeric:   true,
			},
		},
		"srv_cksum": {
			Property: Property{
				Number:      ContainerPropertyServerChecksum,
				Description: "Server checksumming",
			},
			values: enumValues("off", "on"),
		},
		"dedup": {
			Property: Property{
				Number:      ContainerPropertyDedup,
				Description: "Deduplication",
			},
			values: enumValues("off", "memcmp", "hash"),
		},
		"compression": {
			Property: Property{
				Number:      ContainerPropertyCompression,
				Description: "Compression",
			},
			values: enumValues("off", "lz4", "deflate", "deflate1", "deflate2", "deflate3", "deflate4"),
		},
		"encryption": {
			Property: Property{
				Number:      ContainerPropertyEncryption,
				Description: "Encryption",
			},
			values: enumValues("off", "aes-xts128", "aes-xts256", "aes-cbc128", "aes-cbc192",
				"aes-cbc256", "aes-gcm128", "aes-gcm256"),
		},
		"rd_fac": {
			Property: Property{
				Number:       ContainerPropertyRedunFac,
				Description:  "Redundancy factor",
				valueHandler: numberHandler("rd_fac", 4),
				valueStringer: func(v *PropertyValue) string {
					n, err := v.GetNumber()
					if err != nil {
						return "not set"
					}
					return fmt.Sprintf("%d", n)
				},
				jsonNumeric: true,
			},
		},
		"rd_lvl": {
			Property: Property{
				Number:      ContainerPropertyRedunLevel,
				Description: "Redundancy level",
			},
			values: map[string]uint64{
				"1":    1,
				"2":    2,
				"rank": 1,
				"node": 2,
			},
		},
		"max_snapshot": {
			Property: Property{
				Number:       ContainerPropertySnapshotMax,
				Description:  "Max snapshot",
				valueHandler: numberHandler("max_snapshot", 1<<32),
				jsonNumeric:  true,
			},
		},
		"acl": {
			Property: Property{
				Number:       ContainerPropertyACL,
				Description:  "Access Control List",
				ReadOnly:     true,
				valueHandler: aclHandler,
			},
		},
		"owner": {
			Property: Property{
				Number:       ContainerPropertyOwner,
				Description:  "Owner",
				valueHandler: principalHandler,
			},
		},
		"group": {
			Property: Property{
				Number:       ContainerPropertyGroup,
				Description:  "Group",
				valueHandler: principalHandler,
			},
		},
		"alloc_oid": {
			Property: Property{
				Number:       ContainerPropertyAllocedOID,
				Description:  "Highest Allocated OID",
				ReadOnly:     true,
				valueHandler: numberHandler("alloc_oid", ^uint64(0)),
				jsonNumeric:  true,
			},
		},
		"ec_cell_sz": {
			Property: Property{
				Number:        ContainerPropertyECCellSize,
				Description:   "EC cell size",
				valueHandler:  sizeHandler("EC cell size", EcCellSizeIsValid),
				valueStringer: sizeStringer,
				jsonNumeric:   true,
			},
		},
		"status": {
			Property: Property{
				Number:      ContainerPropertyStatus,
				Description: "Health",
				ReadOnly:    true,
			},
			values: map[string]uint64{
				"healthy": ContainerStatusHealthy,
				"unclean": ContainerStatusUnclean,
			},
		},
		"oclass": {
			Property: Property{
				Number:      ContainerPropertyObjectClass,
				Description: "Object class",
				valueHandler: func(s string) (*PropertyValue, error) {
					oc, err := ObjectClassFromString(s)
					if err != nil {
						return nil, err
					}
					return &PropertyValue{uint64(oc)}, nil
				},
				valueStringer: func(v *PropertyValue) string {
					n, err := v.GetNumber()
					if err != nil {
						return "not set"
					}
					return ObjectClass(n).String()
				},
			},
		},
		"chunk_size": {
			Property: Property{
				Number:      ContainerPropertyChunkSize,
				Description: "Chunk size",
				valueHandler: sizeHandler("chunk size", func(b uint64) bool {
					return b > 0
				}),
				valueStringer: sizeStringer,
				jsonNumeric:   true,
			},
		},
	}
}

// PropertyList is a set of property values bound to a handler map.
type PropertyList struct {
	handlers PropertyMap
	entries  map[string]*Property
}

// NewPropertyList returns an empty list bound to the supplied handlers.
func NewPropertyList(handlers PropertyMap) *PropertyList {
	return &PropertyList{
		handlers: handlers,
		entries:  make(map[string]*Property),
	}
}

// NewPoolPropertyList returns an empty pool property list.
func NewPoolPropertyList() *PropertyList {
	return NewPropertyList(PoolProperties())
}

// NewContainerPropertyList returns an empty container property list.
func NewContainerPropertyList() *PropertyList {
	return NewPropertyList(ContainerProperties())
}

// Get returns the named property, or Nonexistent if it has not been set.
func (pl *PropertyList) Get(name string) (*Property, error) {
	if _, found := pl.handlers[name]; !found {
		return nil, errors.Wrapf(InvalidInput, "unknown property %q", name)
	}
	prop, found := pl.entries[name]
	if !found {
		return nil, errors.Wrapf(Nonexistent, "property %q not set", name)
	}
	return prop, nil
}

// Set parses and stores a property value. Read-only properties are rejected.
func (pl *PropertyList) Set(name, value string) error {
	return pl.set(name, value, false)
}

// SetInternal parses and stores a property value, including read-only ones.
func (pl *PropertyList) SetInternal(name, value string) error {
	return pl.set(name, value, true)
}

func (pl *PropertyList) set(name, value string, allowRO bool) error {
	prop, err := pl.handlers.GetProperty(name)
	if err != nil {
		return err
	}
	if prop.ReadOnly && !allowRO {
		return errors.Wrapf(InvalidInput, "property %q is read-only", name)
	}
	if err := prop.SetValue(value); err != nil {
		return err
	}
	pl.entries[name] = prop
	return nil
}

// SetNumber stores a numeric property value without parsing.
func (pl *PropertyList) SetNumber(name string, n uint64) error {
	prop, err := pl.handlers.GetProperty(name)
	if err != nil {
		return err
	}
	prop.Value.SetNumber(n)
	pl.entries[name] = prop
	return nil
}

// Number returns the numeric value of a property, or def if it is unset
// or not numeric.
func (pl *PropertyList) Number(name string, def uint64) uint64 {
	prop, err := pl.Get(name)
	if err != nil {
		return def
	}
	n, err := prop.Value.GetNumber()
	if err != nil {
		return def
	}
	return n
}

// Str returns the string value of a property, or def if it is unset.
func (pl *PropertyList) Str(name, def string) string {
	prop, err := pl.Get(name)
	if err != nil {
		return def
	}
	s, err := prop.Value.GetString()
	if err != nil {
		return def
	}
	return s
}

// Delete removes a property from the list.
func (pl *PropertyList) Delete(name string) {
	delete(pl.entries, name)
}

// Len returns the number of properties set.
func (pl *PropertyList) Len() int {
	if pl == nil {
		return 0
	}
	return len(pl.entries)
}

// Properties returns the set properties ordered by number.
func (pl *PropertyList) Properties() []*Property {
	if pl == nil {
		return nil
	}
	props := make([]*Property, 0, len(pl.entries))
	for _, p := range pl.entries {
		props = append(props, p)
	}
	sort.Slice(props, func(i, j int) bool {
		return props[i].Number < props[j].Number
	})
	return props
}

// Merge copies every property in other into the list, overwriting
// existing values.
func (pl *PropertyList) Merge(other *PropertyList) {
	if other == nil {
		return
	}
	for name, p := range other.entries {
		cp := *p
		pl.entries[name] = &cp
	}
}

// Copy returns a deep copy of the list.
func (pl *PropertyList) Copy() *PropertyList {
	out := NewPropertyList(pl.handlers)
	out.Merge(pl)
	return out
}

func (pl *PropertyList) String() string {
	var b strings.Builder
	for i, p := range pl.Properties() {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(p.String())
	}
	return b.String()
}

type propertyListEntry struct {
	Name  string        `json:"name"`
	Value PropertyValue `json:"value"`
}

func (pl *PropertyList) MarshalJSON() ([]byte, error) {
	entries := []propertyListEntry{}
	for _, p := range pl.Properties() {
		entries = append(entries, propertyListEntry{Name: p.Name, Value: p.Value})
	}
	return json.Marshal(entries)
}

// UnmarshalJSON restores raw values. The list must have been created with
// its handler map before decoding.
func (pl *PropertyList) UnmarshalJSON(data []byte) error {
	if pl.handlers == nil {
		return errors.New("property list has no handlers")
	}

	var entries []propertyListEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}

	pl.entries = make(map[string]*Property)
	for _, e := range entries {
		prop, err := pl.handlers.GetProperty(e.Name)
		if err != nil {
			return err
		}
		prop.Value = e.Value
		pl.entries[e.Name] = prop
	}
	return nil
}

// ParsePropertyString parses a comma-separated "name:value" list into
// the property list.
func (pl *PropertyList) ParsePropertyString(in string) error {
	if strings.TrimSpace(in) == "" {
		return nil
	}
	for _, kv := range strings.Split(in, ",") {
		parts := strings.SplitN(kv, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return errors.Wrapf(InvalidInput, "invalid property %q (must be name:val)", kv)
		}
		if err := pl.Set(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])); err != nil {
			return err
		}
	}
	return nil
}
