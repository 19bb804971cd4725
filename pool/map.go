//
// (C) Copyright 2022-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package pool

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/lib/ranklist"
	"github.com/daos-stack/dsr/placement"
)

type (
	// TargetRecord is the pool map entry of one target.
	TargetRecord struct {
		Rank  ranklist.Rank             `json:"rank"`
		Index uint32                    `json:"index"`
		State daos.PoolQueryTargetState `json:"state"`
	}

	// Map is the versioned set of targets that make up a pool.
	Map struct {
		Version uint32          `json:"version"`
		Targets []*TargetRecord `json:"targets"`
	}
)

// NewMap returns a version 1 map with every target up and in.
func NewMap(targets []placement.TargetRef) *Map {
	m := &Map{Version: 1}
	for _, ref := range targets {
		m.Targets = append(m.Targets, &TargetRecord{Rank: ref.Rank, Index: ref.Index, State: daos.PoolTargetStateUpIn})
	}
	sort.Slice(m.Targets, func(i, j int) bool {
		if m.Targets[i].Rank != m.Targets[j].Rank {
			return m.Targets[i].Rank < m.Targets[j].Rank
		}
		return m.Targets[i].Index < m.Targets[j].Index
	})
	return m
}

// Copy returns a deep copy of the map.
func (m *Map) Copy() *Map {
	if m == nil {
		return nil
	}
	out := &Map{Version: m.Version}
	for _, t := range m.Targets {
		tc := *t
		out.Targets = append(out.Targets, &tc)
	}
	return out
}

// Refs returns every target of the map. Objects are placed over the full
// map so that a change of target state does not move existing shards.
func (m *Map) Refs() []placement.TargetRef {
	refs := make([]placement.TargetRef, 0, len(m.Targets))
	for _, t := range m.Targets {
		refs = append(refs, placement.TargetRef{Rank: t.Rank, Index: t.Index})
	}
	return refs
}

// Target returns the record of the target.
func (m *Map) Target(ref placement.TargetRef) (*TargetRecord, error) {
	for _, t := range m.Targets {
		if t.Rank == ref.Rank && t.Index == ref.Index {
			return t, nil
		}
	}
	return nil, errors.Wrapf(daos.Nonexistent, "target %s not in pool map", ref)
}

// InService returns true if I/O may be sent to the target.
func (m *Map) InService(ref placement.TargetRef) bool {
	t, err := m.Target(ref)
	return err == nil && t.State.InService()
}

// Ranks returns the ranks of the map.
func (m *Map) Ranks() *ranklist.RankSet {
	rs := ranklist.NewRankSet()
	for _, t := range m.Targets {
		rs.Add(t.Rank)
	}
	return rs
}

// EngineSets splits the map's ranks into those with at least one target in
// service and those with none.
func (m *Map) EngineSets() (enabled, disabled *ranklist.RankSet) {
	enabled, disabled = ranklist.NewRankSet(), ranklist.NewRankSet()
	for _, t := range m.Targets {
		if t.State.InService() {
			enabled.Add(t.Rank)
		}
	}
	for _, r := range m.Ranks().Ranks() {
		if !enabled.Contains(r) {
			disabled.Add(r)
		}
	}
	return
}

// Counts returns the number of targets and of those in service.
func (m *Map) Counts() (total, active, disabled uint32) {
	for _, t := range m.Targets {
		total++
		if t.State.InService() {
			active++
		} else {
			disabled++
		}
	}
	return
}

func targetOpState(op daos.PoolTargetOp) (daos.PoolQueryTargetState, error) {
	switch op {
	case daos.PoolTargetOpExclude:
		return daos.PoolTargetStateDownOut, nil
	case daos.PoolTargetOpDrain:
		return daos.PoolTargetStateDrain, nil
	case daos.PoolTargetOpReintegrate:
		return daos.PoolTargetStateUpIn, nil
	case daos.PoolTargetOpExtend:
		return daos.PoolTargetStateUnknown, errors.Wrap(daos.NotImpl, "pool extend")
	default:
		return daos.PoolTargetStateUnknown, errors.Wrapf(daos.InvalidInput, "unknown target op %d", op)
	}
}

// update applies the target operation to the targets of the rank, or to
// all of its targets if idxs is empty. The version is bumped if any
// target changes state. A map that would be left with no target in
// service is not changed.
func (m *Map) update(op daos.PoolTargetOp, rank ranklist.Rank, idxs []uint32) error {
	state, err := targetOpState(op)
	if err != nil {
		return err
	}

	var matched []*TargetRecord
	for _, t := range m.Targets {
		if t.Rank != rank {
			continue
		}
		if len(idxs) == 0 {
			matched = append(matched, t)
			continue
		}
		for _, idx := range idxs {
			if t.Index == idx {
				matched = append(matched, t)
				break
			}
		}
	}
	if len(matched) == 0 || (len(idxs) > 0 && len(matched) != len(uniqueIdxs(idxs))) {
		return errors.Wrapf(daos.Nonexistent, "rank %d targets %v not in pool map", rank, idxs)
	}

	if !state.InService() {
		remaining := 0
		for _, t := range m.Targets {
			if t.State.InService() && !containsTarget(matched, t) {
				remaining++
			}
		}
		if remaining == 0 {
			return errors.Wrap(daos.InvalidInput, "operation would leave the pool with no targets in service")
		}
	}

	changed := false
	for _, t := range matched {
		if t.State != state {
			t.State = state
			changed = true
		}
	}
	if changed {
		m.Version++
	}
	return nil
}

func uniqueIdxs(idxs []uint32) []uint32 {
	out := append([]uint32(nil), idxs...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 0
	for i, v := range out {
		if i == 0 || v != out[n-1] {
			out[n] = v
			n++
		}
	}
	return out[:n]
}

func containsTarget(list []*TargetRecord, t *TargetRecord) bool {
	for _, c := range list {
		if c == t {
			return true
		}
	}
	return false
}
