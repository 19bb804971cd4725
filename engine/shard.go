//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package engine

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/vos"
)

// SpaceInfo describes the capacity and free space of a shard.
type SpaceInfo struct {
	SCMTotal  uint64 `json:"scm_total"`
	SCMFree   uint64 `json:"scm_free"`
	NVMeTotal uint64 `json:"nvme_total"`
	NVMeFree  uint64 `json:"nvme_free"`
}

// Shard is the part of a pool stored on one target.
type Shard struct {
	target   *Target
	PoolUUID uuid.UUID
	SCMSize  uint64
	NVMeSize uint64

	// serializes space checks with updates
	updateMu sync.Mutex
	store    *vos.Pool
}

// Target returns the target holding the shard.
func (s *Shard) Target() *Target {
	return s.target
}

func (s *Shard) container(cont uuid.UUID) (*vos.Container, error) {
	if err := s.target.engine.checkRunning(); err != nil {
		return nil, err
	}
	return s.store.Container(cont, true)
}

func (s *Shard) countOp(op string) {
	s.target.engine.metrics.countOp(s.target.engine.Rank, op)
}

// Space returns the capacity and free space of the shard. Without NVMe,
// all data is stored on SCM.
func (s *Shard) Space() SpaceInfo {
	u := s.store.Usage()
	si := SpaceInfo{
		SCMTotal:  s.SCMSize,
		NVMeTotal: s.NVMeSize,
	}
	scmUsed := u.SCM
	if s.NVMeSize == 0 {
		scmUsed += u.NVMe
	} else if u.NVMe < s.NVMeSize {
		si.NVMeFree = s.NVMeSize - u.NVMe
	}
	if scmUsed < s.SCMSize {
		si.SCMFree = s.SCMSize - scmUsed
	}
	return si
}

func (s *Shard) checkSpace(cost vos.Usage) error {
	si := s.Space()
	scmCost, nvmeCost := cost.SCM, cost.NVMe
	if s.NVMeSize == 0 {
		scmCost += nvmeCost
		nvmeCost = 0
	}
	if scmCost > si.SCMFree || nvmeCost > si.NVMeFree {
		return errors.Wrapf(daos.NoSpace, "%s: update needs %d/%d bytes, free %d/%d",
			s.target, scmCost, nvmeCost, si.SCMFree, si.NVMeFree)
	}
	return nil
}

// Update writes to the container's store on this shard.
func (s *Shard) Update(cont uuid.UUID, oid daos.ObjectID, epoch daos.Epoch, dkey daos.Key, iods []daos.IOD, sgls []daos.SGList) error {
	c, err := s.container(cont)
	if err != nil {
		return err
	}
	s.countOp("update")

	cost := vos.UpdateCost(iods, sgls)

	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	if err := s.checkSpace(cost); err != nil {
		return err
	}
	if err := c.Update(oid, epoch, dkey, iods, sgls); err != nil {
		return err
	}

	s.target.engine.metrics.countBytes(s.target.engine.Rank, "write", int(cost.Total()))
	s.target.engine.metrics.setUsage(s.target.engine.Rank, s.target.Index, s.target.Usage())
	return nil
}

// Fetch reads from the container's store on this shard.
func (s *Shard) Fetch(cont uuid.UUID, oid daos.ObjectID, epoch daos.Epoch, dkey daos.Key, iods []daos.IOD) ([]daos.SGList, []uint64, error) {
	c, err := s.container(cont)
	if err != nil {
		return nil, nil, err
	}
	s.countOp("fetch")

	sgls, sizes, err := c.Fetch(oid, epoch, dkey, iods)
	if err != nil {
		return nil, nil, err
	}

	n := 0
	for _, sgl := range sgls {
		n += sgl.Len()
	}
	s.target.engine.metrics.countBytes(s.target.engine.Rank, "read", n)
	return sgls, sizes, nil
}

// PunchObject punches the object on this shard.
func (s *Shard) PunchObject(cont uuid.UUID, oid daos.ObjectID, epoch daos.Epoch) error {
	c, err := s.container(cont)
	if err != nil {
		return err
	}
	s.countOp("punch")
	return c.PunchObject(oid, epoch)
}

// PunchDkeys punches dkeys on this shard.
func (s *Shard) PunchDkeys(cont uuid.UUID, oid daos.ObjectID, epoch daos.Epoch, dkeys ...daos.Key) error {
	c, err := s.container(cont)
	if err != nil {
		return err
	}
	s.countOp("punch")
	return c.PunchDkeys(oid, epoch, dkeys...)
}

// PunchAkeys punches akeys on this shard.
func (s *Shard) PunchAkeys(cont uuid.UUID, oid daos.ObjectID, epoch daos.Epoch, dkey daos.Key, akeys ...daos.Key) error {
	c, err := s.container(cont)
	if err != nil {
		return err
	}
	s.countOp("punch")
	return c.PunchAkeys(oid, epoch, dkey, akeys...)
}

// ListDkeys enumerates dkeys on this shard.
func (s *Shard) ListDkeys(cont uuid.UUID, oid daos.ObjectID, epoch daos.Epoch, anchor *daos.Anchor, max int) ([]daos.Key, error) {
	c, err := s.container(cont)
	if err != nil {
		return nil, err
	}
	s.countOp("list")
	return c.ListDkeys(oid, epoch, anchor, max)
}

// ListAkeys enumerates akeys on this shard.
func (s *Shard) ListAkeys(cont uuid.UUID, oid daos.ObjectID, epoch daos.Epoch, dkey daos.Key, anchor *daos.Anchor, max int) ([]daos.Key, error) {
	c, err := s.container(cont)
	if err != nil {
		return nil, err
	}
	s.countOp("list")
	return c.ListAkeys(oid, epoch, dkey, anchor, max)
}

// ListRecx enumerates array extents on this shard.
func (s *Shard) ListRecx(cont uuid.UUID, oid daos.ObjectID, epoch daos.Epoch, dkey, akey daos.Key, anchor *daos.Anchor, max int) ([]daos.Recx, uint64, error) {
	c, err := s.container(cont)
	if err != nil {
		return nil, 0, err
	}
	s.countOp("list")
	return c.ListRecx(oid, epoch, dkey, akey, anchor, max)
}

// ListObjects enumerates objects on this shard.
func (s *Shard) ListObjects(cont uuid.UUID, epoch daos.Epoch) ([]daos.ObjectID, error) {
	c, err := s.container(cont)
	if err != nil {
		return nil, err
	}
	s.countOp("list")
	return c.ListObjects(epoch, nil, 0)
}

// QueryKey queries keys on this shard.
func (s *Shard) QueryKey(cont uuid.UUID, oid daos.ObjectID, epoch daos.Epoch, flags daos.QueryKeyFlag, dkey, akey daos.Key) (*vos.KeyQuery, error) {
	c, err := s.container(cont)
	if err != nil {
		return nil, err
	}
	s.countOp("query")
	return c.QueryKey(oid, epoch, flags, dkey, akey)
}

// LastModified returns the newest epoch touching the key on this shard.
func (s *Shard) LastModified(cont uuid.UUID, oid daos.ObjectID, dkey, akey daos.Key) (daos.Epoch, error) {
	c, err := s.container(cont)
	if err != nil {
		return 0, err
	}
	return c.LastModified(oid, dkey, akey), nil
}

// Aggregate runs aggregation on the container's store.
func (s *Shard) Aggregate(cont uuid.UUID, upTo daos.Epoch, snapshots []daos.Epoch) error {
	c, err := s.container(cont)
	if err != nil {
		return err
	}
	if err := c.Aggregate(upTo, snapshots); err != nil {
		return err
	}
	s.target.engine.metrics.setUsage(s.target.engine.Rank, s.target.Index, s.target.Usage())
	return nil
}

// Rollback discards the container's updates above the epoch.
func (s *Shard) Rollback(cont uuid.UUID, epoch daos.Epoch) error {
	c, err := s.container(cont)
	if err != nil {
		return err
	}
	if err := c.Rollback(epoch); err != nil {
		return err
	}
	s.target.engine.metrics.setUsage(s.target.engine.Rank, s.target.Index, s.target.Usage())
	return nil
}

// Discard drops the container's updates and punches at or above the epoch.
// It does not require the engine to be running.
func (s *Shard) Discard(cont uuid.UUID, epoch daos.Epoch) error {
	if epoch <= 1 {
		return errors.Wrap(daos.InvalidInput, "discard epoch must be above 1")
	}
	c, err := s.store.Container(cont, false)
	if err != nil {
		if errors.Is(err, daos.Nonexistent) {
			return nil
		}
		return err
	}
	if err := c.Rollback(epoch - 1); err != nil {
		return err
	}
	s.target.engine.metrics.setUsage(s.target.engine.Rank, s.target.Index, s.target.Usage())
	return nil
}

// DestroyContainer discards the container's store on this shard.
func (s *Shard) DestroyContainer(cont uuid.UUID) error {
	err := s.store.DestroyContainer(cont)
	if err != nil && !errors.Is(err, daos.Nonexistent) {
		return err
	}
	return nil
}
