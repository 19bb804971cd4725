//
// (C) Copyright 2020-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package system

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/lib/ranklist"
	"github.com/daos-stack/dsr/rsvc"
)

const (
	opPoolAdd rsvc.Op = iota + 1
	opPoolUpdate
	opPoolRemove
)

type (
	// PoolUuidMap provides a map of UUID->*PoolService.
	PoolUuidMap map[uuid.UUID]*PoolService
	// PoolLabelMap provides a map of Label->*PoolService.
	PoolLabelMap map[string]*PoolService

	// PoolDatabase contains a set of maps for looking up pool service
	// records.
	PoolDatabase struct {
		Uuids  PoolUuidMap
		Labels PoolLabelMap
	}

	// mgmtData is the replicated state of the management service.
	mgmtData struct {
		MapVersion uint32
		Pools      *PoolDatabase
	}

	// mgmtState implements rsvc.FSM for the management service.
	mgmtState struct {
		sync.RWMutex
		data *mgmtData
	}

	poolAddReq struct {
		Pool *PoolService
		Time time.Time
	}

	poolUpdateReq struct {
		UUID     uuid.UUID
		State    *PoolServiceState `json:",omitempty"`
		Label    *string           `json:",omitempty"`
		Replicas []ranklist.Rank   `json:",omitempty"`
		Time     time.Time
	}

	poolRemoveReq struct {
		UUID uuid.UUID
	}
)

func newPoolDatabase() *PoolDatabase {
	return &PoolDatabase{
		Uuids:  make(PoolUuidMap),
		Labels: make(PoolLabelMap),
	}
}

func newMgmtState() rsvc.FSM {
	return &mgmtState{
		data: &mgmtData{Pools: newPoolDatabase()},
	}
}

// MarshalJSON creates a serialized representation of the PoolLabelMap.
// The pool's UUID is used to represent the pool service in order to
// avoid duplicating pool service details in the serialized format.
func (plm PoolLabelMap) MarshalJSON() ([]byte, error) {
	jm := make(map[string]uuid.UUID)
	for label, ps := range plm {
		jm[label] = ps.PoolUUID
	}
	return json.Marshal(jm)
}

// UnmarshalJSON "inflates" the PoolDatabase from a compressed and
// serialized representation. The PoolUuidMap contains a full representation
// of each PoolService, whereas the label map simply uses the pool UUID as a
// placeholder for the mapping.
func (pdb *PoolDatabase) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}

	type fromJSON PoolDatabase
	from := &struct {
		Labels map[string]uuid.UUID
		*fromJSON
	}{
		Labels:   make(map[string]uuid.UUID),
		fromJSON: (*fromJSON)(pdb),
	}

	if err := json.Unmarshal(data, from); err != nil {
		return err
	}
	if pdb.Uuids == nil {
		pdb.Uuids = make(PoolUuidMap)
	}

	pdb.Labels = make(PoolLabelMap)
	for label, id := range from.Labels {
		ps, found := pdb.Uuids[id]
		if !found {
			return errors.Errorf("label %q missing UUID", label)
		}
		if _, exists := pdb.Labels[label]; exists {
			return errors.Errorf("pool label %q was already restored", label)
		}
		pdb.Labels[label] = ps
	}

	return nil
}

// addService is responsible for adding a new PoolService entry and
// updating all of the relevant maps.
func (pdb *PoolDatabase) addService(ps *PoolService) error {
	if _, exists := pdb.Uuids[ps.PoolUUID]; exists {
		return errors.Wrapf(daos.Exists, "pool %s", ps.PoolUUID)
	}
	if ps.PoolLabel != "" {
		if _, exists := pdb.Labels[ps.PoolLabel]; exists {
			return FaultPoolDuplicateLabel(ps.PoolLabel)
		}
		pdb.Labels[ps.PoolLabel] = ps
	}
	pdb.Uuids[ps.PoolUUID] = ps
	return nil
}

// removeService is responsible for removing a PoolService entry and
// updating all of the relevant maps.
func (pdb *PoolDatabase) removeService(id uuid.UUID) error {
	ps, found := pdb.Uuids[id]
	if !found {
		return errors.Wrapf(daos.Nonexistent, "pool %s", id)
	}
	delete(pdb.Uuids, id)
	if ps.PoolLabel != "" {
		delete(pdb.Labels, ps.PoolLabel)
	}
	return nil
}

func (pdb *PoolDatabase) relabel(ps *PoolService, label string) error {
	if label == ps.PoolLabel {
		return nil
	}
	if other, exists := pdb.Labels[label]; exists && other != ps {
		return FaultPoolDuplicateLabel(label)
	}
	if ps.PoolLabel != "" {
		delete(pdb.Labels, ps.PoolLabel)
	}
	ps.PoolLabel = label
	if label != "" {
		pdb.Labels[label] = ps
	}
	return nil
}

// find looks a pool record up by UUID or label.
func (pdb *PoolDatabase) find(id string) (*PoolService, error) {
	if u, err := uuid.Parse(id); err == nil {
		if ps, found := pdb.Uuids[u]; found {
			return ps, nil
		}
	} else if ps, found := pdb.Labels[id]; found {
		return ps, nil
	}
	return nil, errors.Wrapf(daos.Nonexistent, "pool %q", id)
}

// list returns copies of all records, ordered by label then UUID.
func (pdb *PoolDatabase) list() []*PoolService {
	out := make([]*PoolService, 0, len(pdb.Uuids))
	for _, ps := range pdb.Uuids {
		out = append(out, ps.copy())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PoolLabel != out[j].PoolLabel {
			return out[i].PoolLabel < out[j].PoolLabel
		}
		return out[i].PoolUUID.String() < out[j].PoolUUID.String()
	})
	return out
}

func (ms *mgmtState) Snapshot() ([]byte, error) {
	ms.RLock()
	defer ms.RUnlock()

	return json.Marshal(ms.data)
}

func (ms *mgmtState) Restore(data []byte) error {
	md := &mgmtData{Pools: newPoolDatabase()}
	if err := json.Unmarshal(data, md); err != nil {
		return errors.Wrap(err, "failed to decode management state")
	}

	ms.Lock()
	defer ms.Unlock()

	ms.data = md
	return nil
}

func (ms *mgmtState) Apply(op rsvc.Op, data []byte) error {
	ms.Lock()
	defer ms.Unlock()

	switch op {
	case opPoolAdd:
		return ms.data.poolAdd(data)
	case opPoolUpdate:
		return ms.data.poolUpdate(data)
	case opPoolRemove:
		return ms.data.poolRemove(data)
	default:
		return errors.Wrapf(daos.InvalidInput, "unknown management op %d", op)
	}
}

func (md *mgmtData) poolAdd(data []byte) error {
	var req poolAddReq
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.Wrap(daos.InvalidInput, err.Error())
	}
	if req.Pool == nil || req.Pool.PoolUUID == uuid.Nil {
		return errors.Wrap(daos.InvalidInput, "pool record without UUID")
	}

	req.Pool.Created = req.Time
	req.Pool.LastUpdate = req.Time
	if err := md.Pools.addService(req.Pool); err != nil {
		return err
	}
	md.MapVersion++
	return nil
}

func (md *mgmtData) poolUpdate(data []byte) error {
	var req poolUpdateReq
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.Wrap(daos.InvalidInput, err.Error())
	}

	ps, found := md.Pools.Uuids[req.UUID]
	if !found {
		return errors.Wrapf(daos.Nonexistent, "pool %s", req.UUID)
	}
	if req.Label != nil {
		if err := md.Pools.relabel(ps, *req.Label); err != nil {
			return err
		}
	}
	if req.State != nil {
		ps.State = *req.State
	}
	if req.Replicas != nil {
		ps.Replicas = req.Replicas
	}
	ps.LastUpdate = req.Time
	return nil
}

func (md *mgmtData) poolRemove(data []byte) error {
	var req poolRemoveReq
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.Wrap(daos.InvalidInput, err.Error())
	}

	if err := md.Pools.removeService(req.UUID); err != nil {
		return err
	}
	md.MapVersion++
	return nil
}
