//
// (C) Copyright 2020-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package daos

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/lib/ranklist"
)

type (
	// PoolTierUsage describes usage of a single pool storage tier in
	// a simpler format.
	PoolTierUsage struct {
		// TierName identifies a pool's storage tier.
		TierName string `json:"tier_name"`
		// Size is the total number of bytes in the pool tier.
		Size uint64 `json:"size"`
		// Free is the number of free bytes in the pool tier.
		Free uint64 `json:"free"`
		// Imbalance is the percentage imbalance of pool tier usage
		// across all the targets.
		Imbalance uint32 `json:"imbalance"`
	}

	// StorageUsageStats represents usage statistics for a storage subsystem.
	StorageUsageStats struct {
		Total     uint64           `json:"total"`
		Free      uint64           `json:"free"`
		Min       uint64           `json:"min"`
		Max       uint64           `json:"max"`
		Mean      uint64           `json:"mean"`
		MediaType StorageMediaType `json:"media_type"`
	}

	// PoolRebuildStatus contains detailed information about the pool rebuild process.
	PoolRebuildStatus struct {
		Status  int32            `json:"status"`
		Version uint32           `json:"version"`
		State   PoolRebuildState `json:"state"`
		Objects uint64           `json:"objects"`
		Records uint64           `json:"records"`
	}

	// PoolInfo contains information about the pool.
	PoolInfo struct {
		QueryMask       PoolQueryMask        `json:"query_mask"`
		State           PoolServiceState     `json:"state"`
		UUID            uuid.UUID            `json:"uuid"`
		Label           string               `json:"label,omitempty"`
		TotalTargets    uint32               `json:"total_targets"`
		ActiveTargets   uint32               `json:"active_targets"`
		TotalEngines    uint32               `json:"total_engines"`
		DisabledTargets uint32               `json:"disabled_targets"`
		DisabledEngines uint32               `json:"disabled_engines"`
		Version         uint32               `json:"version"`
		OpenHandles     uint32               `json:"open_handles"`
		ServiceLeader   uint32               `json:"svc_ldr"`
		ServiceReplicas []ranklist.Rank      `json:"svc_reps,omitempty"`
		Rebuild         *PoolRebuildStatus   `json:"rebuild"`
		TierStats       []*StorageUsageStats `json:"tier_stats"`
		EnabledRanks    *ranklist.RankSet    `json:"enabled_ranks,omitempty"`
		DisabledRanks   *ranklist.RankSet    `json:"disabled_ranks,omitempty"`
	}

	// PoolQueryTargetType is the type of a pool target.
	PoolQueryTargetType int32
	// PoolQueryTargetState is the state of a pool target.
	PoolQueryTargetState int32

	// PoolQueryTargetInfo contains information about a single target
	PoolQueryTargetInfo struct {
		Rank  ranklist.Rank        `json:"rank"`
		Index uint32               `json:"index"`
		Type  PoolQueryTargetType  `json:"target_type"`
		State PoolQueryTargetState `json:"target_state"`
		Space []*StorageUsageStats `json:"space"`
	}

	// PoolQueryOption is used to supply pool query options.
	PoolQueryOption string

	// PoolQueryMask implements a bitmask for pool query options.
	PoolQueryMask uint64

	// PoolConnectFlag represents DAOS pool connect options.
	PoolConnectFlag uint

	// PoolTargetOp is an administrative change to the state of pool targets.
	PoolTargetOp int
)

const (
	poolQuerySpace uint64 = 1 << iota
	poolQueryRebuild
	poolQueryEnginesEnabled
	poolQueryEnginesDisabled
)

const (
	// DefaultPoolQueryMask defines the default pool query mask.
	DefaultPoolQueryMask = PoolQueryMask(^uint64(0) &^ poolQueryEnginesEnabled)
	// HealthOnlyPoolQueryMask defines the mask for health-only queries.
	HealthOnlyPoolQueryMask = PoolQueryMask(^uint64(0) &^ (poolQueryEnginesEnabled | poolQuerySpace))

	// PoolQueryOptionSpace retrieves storage space usage as part of the pool query.
	PoolQueryOptionSpace PoolQueryOption = "space"
	// PoolQueryOptionRebuild retrieves pool rebuild status as part of the pool query.
	PoolQueryOptionRebuild PoolQueryOption = "rebuild"
	// PoolQueryOptionEnabledEngines retrieves enabled engines as part of the pool query.
	PoolQueryOptionEnabledEngines PoolQueryOption = "enabled_engines"
	// PoolQueryOptionDisabledEngines retrieves disabled engines as part of the pool query.
	PoolQueryOptionDisabledEngines PoolQueryOption = "disabled_engines"

	// PoolConnectFlagReadOnly indicates that the connection is read-only.
	PoolConnectFlagReadOnly PoolConnectFlag = 1 << 0
	// PoolConnectFlagReadWrite indicates that the connection is read-write.
	PoolConnectFlagReadWrite PoolConnectFlag = 1 << 1
	// PoolConnectFlagExclusive indicates that the connection is exclusive.
	PoolConnectFlagExclusive PoolConnectFlag = 1 << 2
)

func (pcf PoolConnectFlag) String() string {
	flagStrs := []string{}
	if pcf&PoolConnectFlagReadOnly != 0 {
		flagStrs = append(flagStrs, "read-only")
	}
	if pcf&PoolConnectFlagReadWrite != 0 {
		flagStrs = append(flagStrs, "read-write")
	}
	if pcf&PoolConnectFlagExclusive != 0 {
		flagStrs = append(flagStrs, "exclusive")
	}
	sort.Strings(flagStrs)
	return strings.Join(flagStrs, ",")
}

// Writable returns true if the flags allow modification.
func (pcf PoolConnectFlag) Writable() bool {
	return pcf&(PoolConnectFlagReadWrite|PoolConnectFlagExclusive) != 0
}

func (pqo PoolQueryOption) String() string {
	return string(pqo)
}

var poolQueryOptMap = map[uint64]PoolQueryOption{
	poolQuerySpace:           PoolQueryOptionSpace,
	poolQueryRebuild:         PoolQueryOptionRebuild,
	poolQueryEnginesEnabled:  PoolQueryOptionEnabledEngines,
	poolQueryEnginesDisabled: PoolQueryOptionDisabledEngines,
}

func resolvePoolQueryOpt(name PoolQueryOption) (uint64, error) {
	for opt, optName := range poolQueryOptMap {
		if name == optName {
			return opt, nil
		}
	}
	return 0, errors.Errorf("invalid pool query option: %q", name)
}

// MustNewPoolQueryMask returns a PoolQueryMask initialized with the specified options.
// NB: If an error occurs due to an invalid option, it panics.
func MustNewPoolQueryMask(options ...PoolQueryOption) (mask PoolQueryMask) {
	if err := mask.SetOptions(options...); err != nil {
		panic(err)
	}
	return
}

// SetOptions sets the pool query mask to include the specified options.
func (pqm *PoolQueryMask) SetOptions(options ...PoolQueryOption) error {
	for _, optName := range options {
		opt, err := resolvePoolQueryOpt(optName)
		if err != nil {
			return err
		}
		*pqm |= PoolQueryMask(opt)
	}
	return nil
}

// ClearOptions clears the pool query mask of the specified options.
func (pqm *PoolQueryMask) ClearOptions(options ...PoolQueryOption) error {
	for _, optName := range options {
		opt, err := resolvePoolQueryOpt(optName)
		if err != nil {
			return err
		}
		*pqm &^= PoolQueryMask(opt)
	}
	return nil
}

// SetAll sets the pool query mask to include all pool query options.
func (pqm *PoolQueryMask) SetAll() {
	*pqm = PoolQueryMask(^uint64(0))
}

// ClearAll clears the pool query mask of all pool query options.
func (pqm *PoolQueryMask) ClearAll() {
	*pqm = 0
}

// HasOption returns true if the pool query mask includes the specified option.
func (pqm PoolQueryMask) HasOption(option PoolQueryOption) bool {
	opt, err := resolvePoolQueryOpt(option)
	if err != nil {
		return false
	}
	return uint64(pqm)&opt != 0
}

func (pqm PoolQueryMask) String() string {
	var flags []string
	for opt, name := range poolQueryOptMap {
		if uint64(pqm)&opt != 0 {
			flags = append(flags, name.String())
		}
	}
	sort.Strings(flags)
	return strings.Join(flags, ",")
}

func (pqm PoolQueryMask) MarshalJSON() ([]byte, error) {
	return json.Marshal(pqm.String())
}

func (pqm *PoolQueryMask) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		*pqm = 0
		return nil
	}

	val, err := strconv.ParseUint(string(data), 10, 64)
	if err == nil {
		*pqm = PoolQueryMask(val)
		return nil
	}

	var newVal PoolQueryMask
	trimmed := strings.Trim(string(data), "\"")
	if trimmed == "" {
		*pqm = 0
		return nil
	}
	for _, opt := range strings.Split(trimmed, ",") {
		if err := newVal.SetOptions(PoolQueryOption(opt)); err != nil {
			return err
		}
	}
	*pqm = newVal

	return nil
}

func (srs *StorageUsageStats) calcImbalance(targCount uint32) uint32 {
	if srs.Total == 0 || targCount == 0 {
		return 0
	}
	spread := srs.Max - srs.Min
	return uint32((float64(spread) / (float64(srs.Total) / float64(targCount))) * 100)
}

func (pi *PoolInfo) MarshalJSON() ([]byte, error) {
	type Alias PoolInfo

	return json.Marshal(&struct {
		*Alias
		Usage []*PoolTierUsage `json:"usage,omitempty"`
	}{
		Alias: (*Alias)(pi),
		Usage: pi.Usage(),
	})
}

// Usage returns storage usage in a simpler per-tier format.
func (pi *PoolInfo) Usage() []*PoolTierUsage {
	var tiers []*PoolTierUsage
	for _, tier := range pi.TierStats {
		tiers = append(tiers, &PoolTierUsage{
			TierName:  strings.ToUpper(tier.MediaType.String()),
			Size:      tier.Total,
			Free:      tier.Free,
			Imbalance: tier.calcImbalance(pi.ActiveTargets),
		})
	}
	return tiers
}

// RebuildState returns a string representation of the pool rebuild state.
func (pi *PoolInfo) RebuildState() string {
	if pi.Rebuild == nil {
		return "Unknown"
	}
	return pi.Rebuild.State.String()
}

// Name retrieves effective name for pool from either label or UUID.
func (pi *PoolInfo) Name() string {
	name := pi.Label
	if name == "" {
		name = strings.Split(pi.UUID.String(), "-")[0]
	}
	return name
}

func unmarshalStrVal(inStr string, names []string) (int32, error) {
	for i, name := range names {
		if strings.EqualFold(inStr, name) {
			return int32(i), nil
		}
	}

	val, err := strconv.ParseInt(inStr, 0, 32)
	if err != nil {
		return 0, errors.Errorf("non-numeric string value %q", inStr)
	}
	if val < 0 || int(val) >= len(names) {
		return 0, errors.Errorf("unable to resolve string to value %q", inStr)
	}
	return int32(val), nil
}

func strVal(val int, names []string, unknown string) string {
	if val < 0 || val >= len(names) {
		return unknown
	}
	return names[val]
}

// PoolServiceState is used to represent the state of the pool service
type PoolServiceState uint

const (
	// PoolServiceStateCreating indicates the pool service is being created
	PoolServiceStateCreating PoolServiceState = iota
	// PoolServiceStateReady indicates the pool service is ready to be used
	PoolServiceStateReady
	// PoolServiceStateDestroying indicates the pool service is being destroyed
	PoolServiceStateDestroying
	// PoolServiceStateDegraded indicates the pool service is in a degraded state
	PoolServiceStateDegraded
	// PoolServiceStateUnknown indicates the pool service state is unknown
	PoolServiceStateUnknown
)

var poolServiceStateNames = []string{"Creating", "Ready", "Destroying", "Degraded", "Unknown"}

func (pss PoolServiceState) String() string {
	return strVal(int(pss), poolServiceStateNames, "invalid")
}

func (pss PoolServiceState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + pss.String() + `"`), nil
}

func (pss *PoolServiceState) UnmarshalJSON(data []byte) error {
	state, err := unmarshalStrVal(strings.Trim(string(data), "\""), poolServiceStateNames)
	if err != nil {
		return errors.Wrap(err, "failed to unmarshal PoolServiceState")
	}
	*pss = PoolServiceState(state)

	return nil
}

// StorageMediaType indicates the type of storage.
type StorageMediaType int32

const (
	// StorageMediaTypeScm indicates that the media is storage class (persistent) memory
	StorageMediaTypeScm StorageMediaType = iota
	// StorageMediaTypeNvme indicates that the media is NVMe SSD
	StorageMediaTypeNvme
	// StorageMediaTypeMax indicates the end of the StorageMediaType array
	StorageMediaTypeMax
)

var storageMediaTypeNames = []string{"scm", "nvme"}

func (smt StorageMediaType) String() string {
	return strVal(int(smt), storageMediaTypeNames, "unknown")
}

func (smt StorageMediaType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + smt.String() + `"`), nil
}

func (smt *StorageMediaType) UnmarshalJSON(data []byte) error {
	sm, err := unmarshalStrVal(strings.Trim(string(data), "\""), storageMediaTypeNames)
	if err != nil {
		return errors.Wrap(err, "failed to unmarshal StorageMediaType")
	}
	*smt = StorageMediaType(sm)

	return nil
}

// PoolRebuildState indicates the current state of the pool rebuild process.
type PoolRebuildState int32

const (
	// PoolRebuildStateIdle indicates that the rebuild process is idle.
	PoolRebuildStateIdle PoolRebuildState = iota
	// PoolRebuildStateDone indicates that the rebuild process has completed.
	PoolRebuildStateDone
	// PoolRebuildStateBusy indicates that the rebuild process is in progress.
	PoolRebuildStateBusy
)

var poolRebuildStateNames = []string{"idle", "done", "busy"}

func (prs PoolRebuildState) String() string {
	return strVal(int(prs), poolRebuildStateNames, "unknown")
}

func (prs PoolRebuildState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + prs.String() + `"`), nil
}

func (prs *PoolRebuildState) UnmarshalJSON(data []byte) error {
	state, err := unmarshalStrVal(strings.Trim(string(data), "\""), poolRebuildStateNames)
	if err != nil {
		return errors.Wrap(err, "failed to unmarshal PoolRebuildState")
	}
	*prs = PoolRebuildState(state)

	return nil
}

const (
	PoolTargetTypeUnknown PoolQueryTargetType = iota
	PoolTargetTypeHDD
	PoolTargetTypeSSD
	PoolTargetTypePM
	PoolTargetTypeVM
)

var poolTargetTypeNames = []string{"unknown", "hdd", "ssd", "pm", "vm"}

func (ptt PoolQueryTargetType) String() string {
	return strVal(int(ptt), poolTargetTypeNames, "invalid")
}

func (ptt PoolQueryTargetType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + ptt.String() + `"`), nil
}

const (
	PoolTargetStateUnknown PoolQueryTargetState = iota
	// PoolTargetStateDownOut indicates the target is not available
	PoolTargetStateDownOut
	// PoolTargetStateDown indicates the target is not available, may need rebuild
	PoolTargetStateDown
	// PoolTargetStateUp indicates the target is up
	PoolTargetStateUp
	// PoolTargetStateUpIn indicates the target is up and running
	PoolTargetStateUpIn
	// PoolTargetStateNew indicates the target is in an intermediate state (pool map change)
	PoolTargetStateNew
	// PoolTargetStateDrain indicates the target is being drained
	PoolTargetStateDrain
)

var poolTargetStateNames = []string{"unknown", "down_out", "down", "up", "up_in", "new", "drain"}

func (pqtts PoolQueryTargetState) String() string {
	return strVal(int(pqtts), poolTargetStateNames, "invalid")
}

// InService returns true if I/O may be directed at a target in this state.
func (pqtts PoolQueryTargetState) InService() bool {
	switch pqtts {
	case PoolTargetStateUp, PoolTargetStateUpIn, PoolTargetStateDrain:
		return true
	default:
		return false
	}
}

func (pqtts PoolQueryTargetState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + pqtts.String() + `"`), nil
}

func (pqtts *PoolQueryTargetState) UnmarshalJSON(data []byte) error {
	state, err := unmarshalStrVal(strings.Trim(string(data), "\""), poolTargetStateNames)
	if err != nil {
		return errors.Wrap(err, "failed to unmarshal PoolQueryTargetState")
	}
	*pqtts = PoolQueryTargetState(state)

	return nil
}

const (
	// PoolTargetOpExclude marks targets as down and out of the pool map.
	PoolTargetOpExclude PoolTargetOp = iota + 1
	// PoolTargetOpDrain marks targets as draining; they still serve reads.
	PoolTargetOpDrain
	// PoolTargetOpReintegrate returns excluded or drained targets to service.
	PoolTargetOpReintegrate
	// PoolTargetOpExtend adds new targets to the pool map.
	PoolTargetOpExtend
)

var poolTargetOpNames = []string{"", "exclude", "drain", "reintegrate", "extend"}

func (op PoolTargetOp) String() string {
	return strVal(int(op), poolTargetOpNames, "unknown")
}

// PoolTargetOpFromString resolves a target operation by name.
func PoolTargetOpFromString(in string) (PoolTargetOp, error) {
	for i, name := range poolTargetOpNames {
		if name != "" && strings.EqualFold(in, name) {
			return PoolTargetOp(i), nil
		}
	}
	return 0, errors.Wrapf(InvalidInput, "unknown target operation %q", in)
}
