//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/vos"
)

// BlobstoreState is the state of a target's storage.
type BlobstoreState int

const (
	BlobstoreSetup BlobstoreState = iota
	BlobstoreNormal
	BlobstoreFaulty
	BlobstoreTeardown
	BlobstoreOut
)

var bsStateNames = map[BlobstoreState]string{
	BlobstoreSetup:    "SETUP",
	BlobstoreNormal:   "NORMAL",
	BlobstoreFaulty:   "FAULTY",
	BlobstoreTeardown: "TEARDOWN",
	BlobstoreOut:      "OUT",
}

func (bs BlobstoreState) String() string {
	if name, found := bsStateNames[bs]; found {
		return name
	}
	return "UNKNOWN"
}

func (bs BlobstoreState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + bs.String() + `"`), nil
}

// Target is one storage target of an engine.
type Target struct {
	engine   *Engine
	Index    uint32
	SCMSize  uint64
	NVMeSize uint64

	mu     sync.RWMutex
	shards map[uuid.UUID]*Shard
}

func newTarget(e *Engine, idx uint32, scm, nvme uint64) *Target {
	return &Target{
		engine:   e,
		Index:    idx,
		SCMSize:  scm,
		NVMeSize: nvme,
		shards:   make(map[uuid.UUID]*Shard),
	}
}

func (t *Target) String() string {
	return fmt.Sprintf("%s target %d", t.engine, t.Index)
}

// Engine returns the engine that owns the target.
func (t *Target) Engine() *Engine {
	return t.engine
}

// allocated returns the space reserved by shards. Caller must hold the lock.
func (t *Target) allocated() (scm, nvme uint64) {
	for _, s := range t.shards {
		scm += s.SCMSize
		nvme += s.NVMeSize
	}
	return
}

// Free returns the space not reserved by any shard.
func (t *Target) Free() (scm, nvme uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	scm, nvme = t.allocated()
	return t.SCMSize - scm, t.NVMeSize - nvme
}

// CreateShard reserves space for a pool on the target.
func (t *Target) CreateShard(pool uuid.UUID, scm, nvme uint64) (*Shard, error) {
	if err := t.engine.checkRunning(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, found := t.shards[pool]; found {
		return nil, errors.Wrapf(daos.Exists, "pool %s shard on %s", pool, t)
	}

	usedSCM, usedNVMe := t.allocated()
	if usedSCM+scm > t.SCMSize || usedNVMe+nvme > t.NVMeSize {
		return nil, errors.Wrapf(daos.NoSpace, "%s: requested %d/%d, free %d/%d", t,
			scm, nvme, t.SCMSize-usedSCM, t.NVMeSize-usedNVMe)
	}

	s := &Shard{
		target:   t,
		PoolUUID: pool,
		SCMSize:  scm,
		NVMeSize: nvme,
		store:    vos.NewPool(pool),
	}
	t.shards[pool] = s
	t.engine.log.Debugf("%s: created shard for pool %s", t, pool)
	return s, nil
}

// DestroyShard releases the pool's shard and its data.
func (t *Target) DestroyShard(pool uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, found := t.shards[pool]
	if !found {
		return errors.Wrapf(daos.Nonexistent, "pool %s shard on %s", pool, t)
	}
	s.store.Destroy()
	delete(t.shards, pool)
	t.engine.metrics.setUsage(t.engine.Rank, t.Index, t.usageLocked())
	return nil
}

// Shard returns the pool's shard on the target.
func (t *Target) Shard(pool uuid.UUID) (*Shard, error) {
	if err := t.engine.checkRunning(); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	s, found := t.shards[pool]
	if !found {
		return nil, errors.Wrapf(daos.Nonexistent, "pool %s shard on %s", pool, t)
	}
	return s, nil
}

// Pools returns the UUIDs of pools with a shard on the target.
func (t *Target) Pools() []uuid.UUID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(t.shards))
	for id := range t.shards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func (t *Target) usageLocked() vos.Usage {
	var u vos.Usage
	for _, s := range t.shards {
		u = u.Add(s.store.Usage())
	}
	return u
}

// Usage returns the space used by data on the target.
func (t *Target) Usage() vos.Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.usageLocked()
}

// BlobstoreState reports the target's storage state for the pool.
func (t *Target) BlobstoreState(pool uuid.UUID) BlobstoreState {
	if !t.engine.IsRunning() {
		return BlobstoreFaulty
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, found := t.shards[pool]; !found {
		return BlobstoreOut
	}
	return BlobstoreNormal
}
