//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package daos

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

type (
	// ObjectClass represents an object class in 24 bits. Bits 20-23 hold the
	// redundancy scheme, bits 16-18 the shards per group and the low 16 bits
	// the redundancy group count, where zero means "one group per target".
	ObjectClass uint32

	// ObjectRedundancy is the data protection scheme of an object class.
	ObjectRedundancy uint8

	// ObjectClassAttr describes the layout of an object class.
	ObjectClassAttr struct {
		Redundancy   ObjectRedundancy `json:"redundancy"`
		GroupCount   uint32           `json:"group_count"`
		ReplicaCount uint32           `json:"replica_count"`
		ParityCount  uint32           `json:"parity_count,omitempty"`
	}

	// ObjectType selects the key schema of an object.
	ObjectType uint8

	// ObjectID represents an object ID.
	ObjectID struct {
		Hi uint64 `json:"hi"`
		Lo uint64 `json:"lo"`
	}
)

const (
	// ObjectRedundancyNone stores a single copy of each dkey.
	ObjectRedundancyNone ObjectRedundancy = iota + 1
	// ObjectRedundancyReplicated stores full copies of each dkey.
	ObjectRedundancyReplicated
	// ObjectRedundancyErasure stores data and parity shards.
	ObjectRedundancyErasure
)

const (
	// ObjectClassUnknown selects the container's default object class.
	ObjectClassUnknown ObjectClass = 0

	objClassResShift  = 20
	objClassGroupMask = 1<<16 - 1
	// registered classes are flagged above the shard count bits
	objClassCustomBit = 1 << 19
)

func (r ObjectRedundancy) String() string {
	return strVal(int(r), []string{"unknown", "none", "replicated", "erasure"}, "unknown")
}

func newObjectClass(res ObjectRedundancy, replicas, groups uint32) ObjectClass {
	return ObjectClass(uint32(res)<<objClassResShift | replicas<<16&0x70000 | groups&objClassGroupMask)
}

// Predefined object classes.
var (
	ObjectClassS1      = newObjectClass(ObjectRedundancyNone, 1, 1)
	ObjectClassS2      = newObjectClass(ObjectRedundancyNone, 1, 2)
	ObjectClassS4      = newObjectClass(ObjectRedundancyNone, 1, 4)
	ObjectClassS8      = newObjectClass(ObjectRedundancyNone, 1, 8)
	ObjectClassSX      = newObjectClass(ObjectRedundancyNone, 1, 0)
	ObjectClassRP2G1   = newObjectClass(ObjectRedundancyReplicated, 2, 1)
	ObjectClassRP2G2   = newObjectClass(ObjectRedundancyReplicated, 2, 2)
	ObjectClassRP2GX   = newObjectClass(ObjectRedundancyReplicated, 2, 0)
	ObjectClassRP3G1   = newObjectClass(ObjectRedundancyReplicated, 3, 1)
	ObjectClassRP3GX   = newObjectClass(ObjectRedundancyReplicated, 3, 0)
	ObjectClassEC2P1G1 = newObjectClass(ObjectRedundancyErasure, 3, 1)
	ObjectClassEC2P1GX = newObjectClass(ObjectRedundancyErasure, 3, 0)
)

var objClassRegistry = struct {
	sync.RWMutex
	byName map[string]ObjectClass
	attrs  map[ObjectClass]ObjectClassAttr
	nextID uint32
}{
	byName: make(map[string]ObjectClass),
	attrs:  make(map[ObjectClass]ObjectClassAttr),
}

func init() {
	for _, oc := range []ObjectClass{
		ObjectClassS1, ObjectClassS2, ObjectClassS4, ObjectClassS8, ObjectClassSX,
		ObjectClassRP2G1, ObjectClassRP2G2, ObjectClassRP2GX, ObjectClassRP3G1, ObjectClassRP3GX,
		ObjectClassEC2P1G1, ObjectClassEC2P1GX,
	} {
		attr := oc.builtinAttr()
		objClassRegistry.byName[oc.builtinName()] = oc
		objClassRegistry.attrs[oc] = attr
	}
}

func (oc ObjectClass) builtinAttr() ObjectClassAttr {
	attr := ObjectClassAttr{
		Redundancy:   ObjectRedundancy(oc >> objClassResShift & 0xF),
		ReplicaCount: uint32(oc>>16) & 0x7,
		GroupCount:   uint32(oc) & objClassGroupMask,
	}
	if attr.Redundancy == ObjectRedundancyErasure {
		attr.ParityCount = 1
	}
	return attr
}

func (oc ObjectClass) builtinName() string {
	attr := oc.builtinAttr()
	groups := "X"
	if attr.GroupCount != 0 {
		groups = strconv.FormatUint(uint64(attr.GroupCount), 10)
	}

	switch attr.Redundancy {
	case ObjectRedundancyNone:
		return "S" + groups
	case ObjectRedundancyReplicated:
		return fmt.Sprintf("RP_%dG%s", attr.ReplicaCount, groups)
	case ObjectRedundancyErasure:
		return fmt.Sprintf("EC_%dP%dG%s", attr.ReplicaCount-attr.ParityCount, attr.ParityCount, groups)
	default:
		return fmt.Sprintf("0x%x", uint32(oc))
	}
}

// Attr returns the layout attributes of the object class.
func (oc ObjectClass) Attr() (ObjectClassAttr, error) {
	objClassRegistry.RLock()
	defer objClassRegistry.RUnlock()

	attr, found := objClassRegistry.attrs[oc]
	if !found {
		return ObjectClassAttr{}, errors.Wrapf(InvalidInput, "unknown object class 0x%x", uint32(oc))
	}
	return attr, nil
}

// ShardsPerGroup returns the number of shards in each redundancy group.
func (attr ObjectClassAttr) ShardsPerGroup() int {
	if attr.ReplicaCount == 0 {
		return 1
	}
	return int(attr.ReplicaCount)
}

// RegisterObjectClass adds a user-defined object class.
func RegisterObjectClass(name string, attr ObjectClassAttr) (ObjectClass, error) {
	name = strings.ToUpper(name)
	if name == "" {
		return ObjectClassUnknown, errors.Wrap(InvalidInput, "empty object class name")
	}
	if attr.Redundancy < ObjectRedundancyNone || attr.Redundancy > ObjectRedundancyErasure {
		return ObjectClassUnknown, errors.Wrapf(InvalidInput, "invalid redundancy %d", attr.Redundancy)
	}
	if attr.ReplicaCount == 0 {
		attr.ReplicaCount = 1
	}
	if attr.Redundancy == ObjectRedundancyNone && attr.ReplicaCount != 1 {
		return ObjectClassUnknown, errors.Wrap(InvalidInput, "unreplicated class with replicas")
	}

	objClassRegistry.Lock()
	defer objClassRegistry.Unlock()

	if _, exists := objClassRegistry.byName[name]; exists {
		return ObjectClassUnknown, errors.Wrapf(Exists, "object class %q", name)
	}

	objClassRegistry.nextID++
	oc := ObjectClass(uint32(attr.Redundancy)<<objClassResShift | objClassCustomBit | objClassRegistry.nextID)
	objClassRegistry.byName[name] = oc
	objClassRegistry.attrs[oc] = attr

	return oc, nil
}

// ListObjectClasses returns the names of all known object classes.
func ListObjectClasses() []string {
	objClassRegistry.RLock()
	defer objClassRegistry.RUnlock()

	names := make([]string, 0, len(objClassRegistry.byName))
	for name := range objClassRegistry.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ObjectClassFromString parses a string to an ObjectClass.
func ObjectClassFromString(s string) (ObjectClass, error) {
	var oc ObjectClass
	if err := oc.FromString(s); err != nil {
		return oc, err
	}
	return oc, nil
}

// FromString resolves a string to an ObjectClass.
func (oc *ObjectClass) FromString(name string) error {
	objClassRegistry.RLock()
	defer objClassRegistry.RUnlock()

	class, found := objClassRegistry.byName[strings.ToUpper(name)]
	if !found {
		return errors.Wrapf(InvalidInput, "invalid object class %q", name)
	}
	*oc = class
	return nil
}

func (oc ObjectClass) String() string {
	if oc == ObjectClassUnknown {
		return "UNKNOWN"
	}

	objClassRegistry.RLock()
	defer objClassRegistry.RUnlock()

	for name, class := range objClassRegistry.byName {
		if class == oc {
			return name
		}
	}
	return fmt.Sprintf("0x%x", uint32(oc))
}

func (oc ObjectClass) MarshalJSON() ([]byte, error) {
	return []byte(`"` + oc.String() + `"`), nil
}

func (oc *ObjectClass) UnmarshalJSON(data []byte) error {
	return oc.FromString(strings.Trim(string(data), "\""))
}

const (
	// ObjectTypeMultiHashed is a KV object with hashed dkeys and akeys.
	ObjectTypeMultiHashed ObjectType = iota
	// ObjectTypeDkeyUint64 sorts dkeys as 64-bit integers.
	ObjectTypeDkeyUint64
	// ObjectTypeKVHashed is a flat KV object with a single akey per dkey.
	ObjectTypeKVHashed
	// ObjectTypeArray is an array object with integer dkeys and an array akey.
	ObjectTypeArray
	// ObjectTypeArrayByte is an array of 1-byte cells without metadata.
	ObjectTypeArrayByte
)

var objectTypeNames = map[ObjectType]string{
	ObjectTypeMultiHashed: "multi_hashed",
	ObjectTypeDkeyUint64:  "dkey_uint64",
	ObjectTypeKVHashed:    "kv_hashed",
	ObjectTypeArray:       "array",
	ObjectTypeArrayByte:   "array_byte",
}

func (ot ObjectType) String() string {
	if name, found := objectTypeNames[ot]; found {
		return name
	}
	return "unknown"
}

// IsArray returns true for array object types.
func (ot ObjectType) IsArray() bool {
	return ot == ObjectTypeArray || ot == ObjectTypeArrayByte
}

// IntegerDkeys returns true if dkeys of this type are 64-bit integers.
func (ot ObjectType) IntegerDkeys() bool {
	return ot == ObjectTypeDkeyUint64 || ot.IsArray()
}

const (
	oidTypeShift  = 56
	oidClassShift = 32
	oidClassMask  = 1<<24 - 1
	oidUserMask   = 1<<32 - 1
)

// GenerateOID returns an object ID whose upper bits encode the object type
// and class. The low 32 bits of hi and all of lo are caller-owned.
func GenerateOID(hi uint32, lo uint64, otype ObjectType, class ObjectClass) ObjectID {
	return ObjectID{
		Hi: uint64(otype)<<oidTypeShift | (uint64(class)&oidClassMask)<<oidClassShift | uint64(hi)&oidUserMask,
		Lo: lo,
	}
}

// Type returns the object type encoded in the ID.
func (oid ObjectID) Type() ObjectType {
	return ObjectType(oid.Hi >> oidTypeShift)
}

// Class returns the derived object class.
func (oid ObjectID) Class() ObjectClass {
	return ObjectClass(oid.Hi >> oidClassShift & oidClassMask)
}

// IsZero returns true if the ObjectID is the zero value.
func (oid ObjectID) IsZero() bool {
	return oid.Hi == 0 && oid.Lo == 0
}

// FromString parses a string to an ObjectID.
func (oid *ObjectID) FromString(s string) error {
	var hi, lo uint64

	if _, err := fmt.Sscanf(s, "%d.%d", &hi, &lo); err != nil {
		return errors.Wrapf(InvalidInput, "invalid object ID %q: %v", s, err)
	}

	oid.Hi = hi
	oid.Lo = lo
	return nil
}

func (oid ObjectID) String() string {
	return fmt.Sprintf("%d.%d", oid.Hi, oid.Lo)
}

// Less orders object IDs for enumeration.
func (oid ObjectID) Less(other ObjectID) bool {
	if oid.Hi != other.Hi {
		return oid.Hi < other.Hi
	}
	return oid.Lo < other.Lo
}

// ObjectIDFromString parses a string to an ObjectID.
func ObjectIDFromString(s string) (ObjectID, error) {
	var oid ObjectID
	if err := oid.FromString(s); err != nil {
		return ObjectID{}, err
	}
	return oid, nil
}
