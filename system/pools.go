//
// (C) Copyright 2020-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package system

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/daos-stack/dsr/engine"
	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/lib/ranklist"
	"github.com/daos-stack/dsr/pool"
	"github.com/daos-stack/dsr/security"
)

// PoolCreateReq describes a pool to create. Sizes are for the whole pool
// and are split evenly between the targets of the pool's ranks.
type PoolCreateReq struct {
	UUID           uuid.UUID
	Label          string
	ScmBytes       uint64
	NvmeBytes      uint64
	NumSvcReplicas int
	Ranks          []ranklist.Rank
	Props          *daos.PropertyList
	ACL            *daos.AccessControlList
	Owner          string
	Group          string
}

// TargetBlobstoreState is the storage state of one target of a pool.
type TargetBlobstoreState struct {
	Rank  ranklist.Rank         `json:"rank"`
	Index uint32                `json:"target_idx"`
	State engine.BlobstoreState `json:"state"`
}

func (sys *System) poolRecords(ctx context.Context) (records []*PoolService, err error) {
	err = sys.readMgmt(ctx, func(md *mgmtData) error {
		records = md.Pools.list()
		return nil
	})
	return
}

func (sys *System) readMgmt(ctx context.Context, fn func(*mgmtData) error) error {
	f, err := sys.MgmtSvc.LeaderFSM(ctx)
	if err != nil {
		return err
	}
	ms, ok := f.(*mgmtState)
	if !ok {
		return errors.Errorf("unexpected management service state %T", f)
	}

	ms.RLock()
	defer ms.RUnlock()

	return fn(ms.data)
}

func (sys *System) poolRecord(ctx context.Context, id string) (ps *PoolService, err error) {
	err = sys.readMgmt(ctx, func(md *mgmtData) error {
		found, err := md.Pools.find(id)
		if err != nil {
			return err
		}
		ps = found.copy()
		return nil
	})
	return
}

func (sys *System) setPoolState(ctx context.Context, id uuid.UUID, state PoolServiceState) error {
	return sys.MgmtSvc.Apply(ctx, opPoolUpdate, &poolUpdateReq{
		UUID:  id,
		State: &state,
		Time:  time.Now(),
	})
}

// poolRanks selects the ranks of a new pool. Without an explicit list,
// every running engine is used.
func (sys *System) poolRanks(req []ranklist.Rank) ([]ranklist.Rank, error) {
	if len(req) == 0 {
		var ranks []ranklist.Rank
		for _, e := range sys.Engines {
			if e.IsRunning() {
				ranks = append(ranks, e.Rank)
			}
		}
		if len(ranks) == 0 {
			return nil, errors.Wrapf(daos.Unreachable, "%s has no running engines", sys)
		}
		return ranks, nil
	}

	ranks := ranklist.RankSetFromRanks(req).Ranks()
	for _, rank := range ranks {
		e, err := sys.Engine(rank)
		if err != nil {
			return nil, err
		}
		if !e.IsRunning() {
			return nil, errors.Wrapf(daos.Unreachable, "rank %d is stopped", rank)
		}
	}
	return ranks, nil
}

// svcRanks spreads the service replicas of a pool over its ranks, starting
// at an offset derived from the pool UUID so that pools do not all share
// the same replicas.
func svcRanks(id uuid.UUID, ranks []ranklist.Rank, nr int) ([]ranklist.Rank, error) {
	if nr <= 0 || nr > len(ranks) {
		return nil, FaultBadReplicaCount(nr, len(ranks))
	}

	start := int(id[0]) % len(ranks)
	svc := make([]ranklist.Rank, 0, nr)
	for i := 0; i < nr; i++ {
		svc = append(svc, ranks[(start+i)%len(ranks)])
	}
	return svc, nil
}

func (sys *System) targetCount(ranks []ranklist.Rank) (uint32, error) {
	var count uint32
	for _, rank := range ranks {
		e, err := sys.Engine(rank)
		if err != nil {
			return 0, err
		}
		count += uint32(len(e.Targets))
	}
	return count, nil
}

// PoolCreate creates a pool. The management service records the pool as
// Creating while its storage and service are set up, then as Ready. The
// record is removed if creation fails.
func (sys *System) PoolCreate(ctx context.Context, req *PoolCreateReq) (*PoolService, error) {
	if err := sys.checkStarted(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, errors.Wrap(daos.InvalidInput, "nil pool create request")
	}
	if !daos.LabelIsValid(req.Label) {
		return nil, FaultPoolBadLabel(req.Label)
	}
	if req.ScmBytes == 0 {
		return nil, errors.Wrap(daos.InvalidInput, "pool SCM size not set")
	}

	id := req.UUID
	if id == uuid.Nil {
		id = uuid.New()
	}

	ranks, err := sys.poolRanks(req.Ranks)
	if err != nil {
		return nil, err
	}
	nrSvc := req.NumSvcReplicas
	if nrSvc == 0 {
		nrSvc = sys.cfg.PoolSvcReplicas
		if nrSvc > len(ranks) {
			nrSvc = len(ranks) - (len(ranks)+1)%2
		}
	}
	svc, err := svcRanks(id, ranks, nrSvc)
	if err != nil {
		return nil, err
	}

	nrTargets, err := sys.targetCount(ranks)
	if err != nil {
		return nil, err
	}
	scm := req.ScmBytes / uint64(nrTargets)
	nvme := req.NvmeBytes / uint64(nrTargets)
	if scm == 0 {
		return nil, errors.Wrapf(daos.InvalidInput, "SCM size %d too small for %d targets",
			req.ScmBytes, nrTargets)
	}

	owner, group := req.Owner, req.Group
	if owner == "" || group == "" {
		cred, err := security.CurrentCredential()
		if err != nil {
			return nil, err
		}
		if owner == "" {
			owner = cred.User
		}
		if group == "" {
			group = cred.Group
		}
	}

	ps := NewPoolService(id, req.Label, ranks, nrTargets, scm, nvme)
	ps.Replicas = svc
	ps.Owner = security.PrincipalName(owner)
	ps.Group = security.PrincipalName(group)
	if err := sys.MgmtSvc.Apply(ctx, opPoolAdd, &poolAddReq{Pool: ps, Time: time.Now()}); err != nil {
		return nil, err
	}

	psvc, err := pool.Create(ctx, sys.log, sys, sys.poolCfg, &pool.CreateReq{
		UUID:      id,
		Label:     req.Label,
		Owner:     ps.Owner,
		Group:     ps.Group,
		Ranks:     ranks,
		SvcRanks:  svc,
		ScmBytes:  scm,
		NvmeBytes: nvme,
		Props:     req.Props,
		ACL:       req.ACL,
	})
	if err == nil {
		sys.mu.Lock()
		sys.pools[id] = psvc
		sys.mu.Unlock()

		err = sys.setPoolState(ctx, id, PoolServiceStateReady)
		ps.State = PoolServiceStateReady
	}
	if err != nil {
		if psvc != nil {
			err = multierr.Append(err, sys.forgetPool(id, psvc))
		}
		rmErr := sys.MgmtSvc.Apply(ctx, opPoolRemove, &poolRemoveReq{UUID: id})
		return nil, multierr.Append(err, rmErr)
	}

	sys.log.Noticef("%s: created %s on ranks %s (%s)", sys, ps, ranklist.RankList(ranks), ps.Storage)
	return ps, nil
}

func (sys *System) forgetPool(id uuid.UUID, svc *pool.Service) error {
	sys.mu.Lock()
	delete(sys.pools, id)
	sys.mu.Unlock()

	return svc.Destroy(context.Background(), true)
}

// PoolDestroy destroys a pool. A pool with open handles is not destroyed
// unless forced.
func (sys *System) PoolDestroy(ctx context.Context, id string, force bool) error {
	if err := sys.checkStarted(); err != nil {
		return err
	}
	ps, err := sys.poolRecord(ctx, id)
	if err != nil {
		return err
	}

	sys.mu.RLock()
	svc := sys.pools[ps.PoolUUID]
	sys.mu.RUnlock()

	if svc != nil && !force {
		n, err := svc.HandleCount(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			return errors.Wrapf(daos.Busy, "%s has %d open handles", ps, n)
		}
	}

	if err := sys.setPoolState(ctx, ps.PoolUUID, PoolServiceStateDestroying); err != nil {
		return err
	}

	var merr error
	if svc != nil {
		merr = sys.forgetPool(ps.PoolUUID, svc)
	}
	merr = multierr.Append(merr,
		sys.MgmtSvc.Apply(ctx, opPoolRemove, &poolRemoveReq{UUID: ps.PoolUUID}))
	if merr != nil {
		return merr
	}

	sys.log.Noticef("%s: destroyed pool %s", sys, ps.ID())
	return nil
}

// PoolList returns the records of all pools. Service replicas are
// reported as currently configured.
func (sys *System) PoolList(ctx context.Context) ([]*PoolService, error) {
	if err := sys.checkStarted(); err != nil {
		return nil, err
	}
	records, err := sys.poolRecords(ctx)
	if err != nil {
		return nil, err
	}

	sys.mu.RLock()
	defer sys.mu.RUnlock()

	for _, ps := range records {
		if svc, found := sys.pools[ps.PoolUUID]; found {
			ps.Replicas = svc.Replicas()
		}
	}
	return records, nil
}

// PoolQuery returns the management record of a pool.
func (sys *System) PoolQuery(ctx context.Context, id string) (*PoolService, error) {
	if err := sys.checkStarted(); err != nil {
		return nil, err
	}
	return sys.poolRecord(ctx, id)
}

// PoolResolve returns the service of the pool with the label or UUID.
func (sys *System) PoolResolve(ctx context.Context, id string) (*pool.Service, error) {
	if err := sys.checkStarted(); err != nil {
		return nil, err
	}

	if u, err := uuid.Parse(id); err == nil {
		sys.mu.RLock()
		svc, found := sys.pools[u]
		sys.mu.RUnlock()
		if found {
			return svc, nil
		}
	}

	ps, err := sys.poolRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if ps.State != PoolServiceStateReady {
		return nil, errors.Wrapf(daos.Busy, "%s", ps)
	}

	sys.mu.RLock()
	defer sys.mu.RUnlock()

	svc, found := sys.pools[ps.PoolUUID]
	if !found {
		return nil, errors.Wrapf(daos.NoService, "%s", ps)
	}
	return svc, nil
}

// PoolSvcReplicas returns the ranks of the pool's service replicas.
func (sys *System) PoolSvcReplicas(ctx context.Context, id string) (ranklist.RankList, error) {
	svc, err := sys.PoolResolve(ctx, id)
	if err != nil {
		return nil, err
	}
	return svc.Replicas(), nil
}

// PoolSetProps sets pool properties. A new label is checked for uniqueness
// in the system before it is applied to the pool.
func (sys *System) PoolSetProps(ctx context.Context, id string, props *daos.PropertyList) error {
	svc, err := sys.PoolResolve(ctx, id)
	if err != nil {
		return err
	}

	label := props.Str("label", "")
	if label == "" {
		return svc.SetProps(ctx, props)
	}
	if !daos.LabelIsValid(label) {
		return FaultPoolBadLabel(label)
	}

	ps, err := sys.poolRecord(ctx, svc.UUID.String())
	if err != nil {
		return err
	}
	if err := sys.MgmtSvc.Apply(ctx, opPoolUpdate, &poolUpdateReq{
		UUID:  svc.UUID,
		Label: &label,
		Time:  time.Now(),
	}); err != nil {
		return err
	}

	if err := svc.SetProps(ctx, props); err != nil {
		return multierr.Append(err, sys.MgmtSvc.Apply(ctx, opPoolUpdate, &poolUpdateReq{
			UUID:  svc.UUID,
			Label: &ps.PoolLabel,
			Time:  time.Now(),
		}))
	}
	return nil
}

// PoolBlobstoreStates returns the storage state of every target of the
// pool. Targets that were excluded from the pool map are reported as out.
func (sys *System) PoolBlobstoreStates(ctx context.Context, id string) ([]*TargetBlobstoreState, error) {
	svc, err := sys.PoolResolve(ctx, id)
	if err != nil {
		return nil, err
	}
	m, err := svc.Map(ctx)
	if err != nil {
		return nil, err
	}

	var states []*TargetBlobstoreState
	for _, ref := range m.Refs() {
		tbs := &TargetBlobstoreState{Rank: ref.Rank, Index: ref.Index, State: engine.BlobstoreOut}
		if m.InService(ref) {
			e, err := sys.Engine(ref.Rank)
			if err != nil {
				return nil, err
			}
			tgt, err := e.Target(ref.Index)
			if err != nil {
				return nil, err
			}
			tbs.State = tgt.BlobstoreState(svc.UUID)
		}
		states = append(states, tbs)
	}
	return states, nil
}
