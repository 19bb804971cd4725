//
// (C) Copyright 2021-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package pool

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/daos-stack/dsr/engine"
	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/placement"
	"github.com/daos-stack/dsr/security"
)

type (
	// ContCreateReq describes a container to create. A nil UUID is
	// replaced by a random one.
	ContCreateReq struct {
		UUID  uuid.UUID
		Label string
		Props *daos.PropertyList
		ACL   *daos.AccessControlList
	}

	// Snapshot is a persistent read-only view of a container.
	Snapshot struct {
		Epoch daos.Epoch `json:"epoch"`
		Name  string     `json:"name,omitempty"`
	}

	// contRuntime is the local, unreplicated state of a container used by
	// the data path.
	contRuntime struct {
		uuid  uuid.UUID
		class daos.ObjectClass
		clock *daos.HLCClock

		// held across an epoch's allocation and the writes made at it
		commitMu sync.Mutex

		mu        sync.Mutex
		committed daos.Epoch
		advanced  chan struct{}
	}
)

// defaultObjectClass selects the class of objects created without one
// from the container's redundancy factor.
func defaultObjectClass(props *daos.PropertyList) daos.ObjectClass {
	if oc := props.Number("oclass", 0); oc != 0 {
		return daos.ObjectClass(oc)
	}
	switch props.Number("rd_fac", 0) {
	case 0:
		return daos.ObjectClassSX
	case 1:
		return daos.ObjectClassRP2GX
	default:
		return daos.ObjectClassRP3GX
	}
}

func (rt *contRuntime) lastCommitted() daos.Epoch {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	return rt.committed
}

func (rt *contRuntime) markCommitted(epoch daos.Epoch) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if epoch <= rt.committed {
		return
	}
	rt.committed = epoch
	close(rt.advanced)
	rt.advanced = make(chan struct{})
}

// waitCommitted blocks until the committed epoch is above the epoch.
func (rt *contRuntime) waitCommitted(ctx context.Context, epoch daos.Epoch) (daos.Epoch, error) {
	for {
		rt.mu.Lock()
		committed, advanced := rt.committed, rt.advanced
		rt.mu.Unlock()

		if committed > epoch {
			return committed, nil
		}

		select {
		case <-ctx.Done():
			return 0, ctxErr(ctx.Err())
		case <-advanced:
		}
	}
}

func ctxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(daos.TimedOut, "context deadline exceeded")
	}
	return errors.Wrap(daos.Canceled, "context canceled")
}

// loadRuntime returns the runtime of the container, creating it from the
// record if needed.
func (s *Service) loadRuntime(cr *ContainerRecord) *contRuntime {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rt, found := s.conts[cr.UUID]; found {
		return rt
	}
	rt := &contRuntime{
		uuid:      cr.UUID,
		class:     defaultObjectClass(cr.Props),
		clock:     daos.NewHLCClock(s.clk),
		committed: daos.Epoch(cr.Committed),
		advanced:  make(chan struct{}),
	}
	rt.clock.Update(daos.Epoch(cr.Committed))
	s.conts[cr.UUID] = rt
	return rt
}

func (s *Service) runtime(cont uuid.UUID) (*contRuntime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rt, found := s.conts[cont]
	if !found {
		return nil, errors.Wrapf(daos.NoHandle, "container %s is not open", cont)
	}
	return rt, nil
}

func (s *Service) dropRuntime(cont uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conts, cont)
}

// resolve finds the container by UUID string or label.
func (s *Service) resolve(ctx context.Context, id string) (cr *ContainerRecord, err error) {
	err = s.read(ctx, func(pd *poolData) error {
		cr, err = pd.resolveContainer(id)
		return err
	})
	return
}

// ResolveContainer returns the UUID of the container with the UUID string
// or label.
func (s *Service) ResolveContainer(ctx context.Context, id string) (uuid.UUID, error) {
	cr, err := s.resolve(ctx, id)
	if err != nil {
		return uuid.Nil, err
	}
	return cr.UUID, nil
}

// ContCreate creates a container and returns its UUID.
func (s *Service) ContCreate(ctx context.Context, cred *security.Credential, req *ContCreateReq) (uuid.UUID, error) {
	if req == nil {
		return uuid.Nil, errors.Wrap(daos.InvalidInput, "nil container create request")
	}

	id := req.UUID
	if id == uuid.Nil {
		id = uuid.New()
	}
	label := req.Label
	if label == "" && req.Props != nil {
		label = req.Props.Str("label", "")
	}

	ccr := &contCreateReq{
		UUID:  id,
		Label: label,
		Cred:  cred,
		ACL:   req.ACL,
		Time:  s.clk.Now(),
	}
	if req.Props != nil {
		data, err := json.Marshal(req.Props)
		if err != nil {
			return uuid.Nil, err
		}
		ccr.Props = data
	}

	if err := s.apply(ctx, opContCreate, ccr); err != nil {
		return uuid.Nil, err
	}
	s.log.Debugf("%s: created container %s (%q)", s, id, label)
	return id, nil
}

// ContDestroy removes the container and discards its data. Without force,
// a container with open handles is not destroyed.
func (s *Service) ContDestroy(ctx context.Context, cred *security.Credential, id string, force bool) error {
	cr, err := s.resolve(ctx, id)
	if err != nil {
		return err
	}
	if err := s.apply(ctx, opContDestroy, &contDestroyReq{UUID: cr.UUID, Cred: cred, Force: force}); err != nil {
		return err
	}

	s.dropRuntime(cr.UUID)
	var merr error
	for _, ref := range s.currentMap().Refs() {
		sh, err := s.shard(ref)
		if err != nil {
			continue
		}
		if err := sh.DestroyContainer(cr.UUID); err != nil && !errors.Is(err, daos.Nonexistent) {
			merr = multierr.Append(merr, err)
		}
	}
	if merr != nil {
		s.log.Errorf("%s: container %s: %s", s, cr.UUID, merr)
	}
	return nil
}

// ContOpen opens a handle of the container and returns its information.
func (s *Service) ContOpen(ctx context.Context, cred *security.Credential, id string, hdl uuid.UUID, flags daos.ContainerOpenFlag) (*daos.ContainerInfo, error) {
	if flags&(daos.ContainerOpenFlagReadOnly|daos.ContainerOpenFlagReadWrite|daos.ContainerOpenFlagExclusive) == 0 {
		return nil, errors.Wrapf(daos.InvalidInput, "invalid open flags %#x", uint(flags))
	}
	cr, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, opContOpen, &contOpenReq{
		UUID:   cr.UUID,
		Handle: hdl,
		Flags:  flags,
		Cred:   cred,
		Time:   s.clk.Now(),
	}); err != nil {
		return nil, err
	}

	cr, err = s.resolve(ctx, cr.UUID.String())
	if err != nil {
		return nil, err
	}
	s.loadRuntime(cr)
	return s.ContQuery(ctx, cr.UUID.String())
}

// ContClose closes the container handle.
func (s *Service) ContClose(ctx context.Context, cont, hdl uuid.UUID) error {
	var committed daos.Epoch
	if rt, err := s.runtime(cont); err == nil {
		committed = rt.lastCommitted()
	}
	return s.apply(ctx, opContClose, &contCloseReq{
		UUID:      cont,
		Handle:    hdl,
		Committed: committed.Uint64(),
		Time:      s.clk.Now(),
	})
}

func (s *Service) contInfo(cr *ContainerRecord) *daos.ContainerInfo {
	info := &daos.ContainerInfo{
		PoolUUID:         s.UUID,
		ContainerUUID:    cr.UUID,
		ContainerLabel:   cr.Label,
		Type:             daos.ContainerLayout(cr.Props.Number("layout_type", 0)),
		Owner:            cr.Owner,
		Group:            cr.Group,
		NumHandles:       uint32(len(cr.Handles)),
		RedundancyFactor: uint32(cr.Props.Number("rd_fac", 0)),
		ObjectClass:      defaultObjectClass(cr.Props),
		ChunkSize:        cr.Props.Number("chunk_size", daos.DefaultChunkSize),
		OpenTime:         cr.OpenTime,
		CloseModifyTime:  cr.CloseModifyTime,
		CommittedEpoch:   daos.Epoch(cr.Committed),
	}
	for _, e := range cr.Snapshots {
		info.Snapshots = append(info.Snapshots, daos.Epoch(e))
	}
	if n := len(cr.Snapshots); n > 0 {
		info.LatestSnapshot = daos.Epoch(cr.Snapshots[n-1])
	}
	return info
}

// ContQuery returns the container information.
func (s *Service) ContQuery(ctx context.Context, id string) (info *daos.ContainerInfo, err error) {
	err = s.read(ctx, func(pd *poolData) error {
		cr, err := pd.resolveContainer(id)
		if err != nil {
			return err
		}
		info = s.contInfo(cr)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if rt, err := s.runtime(info.ContainerUUID); err == nil {
		if e := rt.lastCommitted(); e > info.CommittedEpoch {
			info.CommittedEpoch = e
		}
	}
	return info, nil
}

func (cr *ContainerRecord) props() *daos.PropertyList {
	pl := cr.Props.Copy()
	if cr.Label != "" {
		_ = pl.SetInternal("label", cr.Label)
	}
	if cr.Owner != "" {
		_ = pl.SetInternal("owner", cr.Owner)
	}
	if cr.Group != "" {
		_ = pl.SetInternal("group", cr.Group)
	}
	if !cr.ACL.Empty() {
		_ = pl.SetInternal("acl", cr.ACL.String())
	}
	_ = pl.SetNumber("alloc_oid", cr.NextOID-1)
	_ = pl.SetNumber("status", daos.ContainerStatusHealthy)
	return pl
}

// ContGetProps returns the named container properties, or all that are
// set.
func (s *Service) ContGetProps(ctx context.Context, cont uuid.UUID, names ...string) (props *daos.PropertyList, err error) {
	err = s.read(ctx, func(pd *poolData) error {
		cr, err := pd.findContainer(cont)
		if err != nil {
			return err
		}
		props, err = filterProps(cr.props(), names, daos.NewContainerPropertyList)
		return err
	})
	return
}

// ContSetProps updates container properties.
func (s *Service) ContSetProps(ctx context.Context, cred *security.Credential, cont uuid.UUID, props *daos.PropertyList) error {
	if props.Len() == 0 {
		return errors.Wrap(daos.InvalidInput, "no properties to set")
	}
	data, err := json.Marshal(props)
	if err != nil {
		return err
	}
	if err := s.apply(ctx, opContSetProps, &propReq{Cont: cont, Cred: cred, Props: data}); err != nil {
		return err
	}

	if rt, err := s.runtime(cont); err == nil {
		cr, err := s.resolve(ctx, cont.String())
		if err != nil {
			return err
		}
		s.mu.Lock()
		rt.class = defaultObjectClass(cr.Props)
		s.mu.Unlock()
	}
	return nil
}

// ContGetACL returns the container ACL along with the owner principals.
func (s *Service) ContGetACL(ctx context.Context, cred *security.Credential, cont uuid.UUID) (acl *daos.AccessControlList, owner, group string, err error) {
	err = s.read(ctx, func(pd *poolData) error {
		cr, err := pd.findContainer(cont)
		if err != nil {
			return err
		}
		if err := security.CheckPerm(cr.perms(cred), daos.ACLPermGetACL); err != nil {
			return err
		}
		acl = cr.ACL.Copy()
		owner, group = cr.Owner, cr.Group
		return nil
	})
	return
}

// ContOverwriteACL replaces the container ACL.
func (s *Service) ContOverwriteACL(ctx context.Context, cred *security.Credential, cont uuid.UUID, acl *daos.AccessControlList) error {
	return s.apply(ctx, opContSetACL, &aclReq{Cont: cont, Cred: cred, Mode: aclOverwrite, ACL: acl})
}

// ContUpdateACL adds or replaces entries of the container ACL.
func (s *Service) ContUpdateACL(ctx context.Context, cred *security.Credential, cont uuid.UUID, acl *daos.AccessControlList) error {
	return s.apply(ctx, opContSetACL, &aclReq{Cont: cont, Cred: cred, Mode: aclUpdate, ACL: acl})
}

// ContDeleteACL removes the principal's entry from the container ACL.
func (s *Service) ContDeleteACL(ctx context.Context, cred *security.Credential, cont uuid.UUID, principal string) error {
	return s.apply(ctx, opContSetACL, &aclReq{Cont: cont, Cred: cred, Mode: aclDelete, Principal: principal})
}

// ContListAttrs returns the sorted names of the container attributes.
func (s *Service) ContListAttrs(ctx context.Context, cont uuid.UUID) (names []string, err error) {
	err = s.read(ctx, func(pd *poolData) error {
		cr, err := pd.findContainer(cont)
		if err != nil {
			return err
		}
		names = daos.AttributeListFromMap(cr.Attrs).Names()
		return nil
	})
	return
}

// ContGetAttrs returns the named container attributes, or all of them.
func (s *Service) ContGetAttrs(ctx context.Context, cont uuid.UUID, names ...string) (attrs daos.AttributeList, err error) {
	err = s.read(ctx, func(pd *poolData) error {
		cr, err := pd.findContainer(cont)
		if err != nil {
			return err
		}
		attrs, err = getAttrs(cr.Attrs, names)
		return err
	})
	return
}

// ContSetAttrs creates or updates container attributes.
func (s *Service) ContSetAttrs(ctx context.Context, cred *security.Credential, cont uuid.UUID, attrs daos.AttributeList) error {
	if len(attrs) == 0 {
		return errors.Wrap(daos.InvalidInput, "no attributes to set")
	}
	for _, a := range attrs {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return s.apply(ctx, opContSetAttrs, &attrReq{Cont: cont, Cred: cred, Attrs: attrs.AsMap()})
}

// ContDelAttrs removes container attributes.
func (s *Service) ContDelAttrs(ctx context.Context, cred *security.Credential, cont uuid.UUID, names ...string) error {
	if len(names) == 0 {
		return errors.Wrap(daos.InvalidInput, "no attributes to delete")
	}
	return s.apply(ctx, opContDelAttrs, &attrReq{Cont: cont, Cred: cred, Names: names})
}

// ContAllocOIDs reserves n consecutive object ID low values and returns
// the first. Ranges are never handed out twice.
func (s *Service) ContAllocOIDs(ctx context.Context, cont uuid.UUID, n uint64) (uint64, error) {
	if n == 0 {
		return 0, errors.Wrap(daos.InvalidInput, "zero object IDs requested")
	}

	for {
		var next uint64
		if err := s.read(ctx, func(pd *poolData) error {
			cr, err := pd.findContainer(cont)
			if err != nil {
				return err
			}
			next = cr.NextOID
			return nil
		}); err != nil {
			return 0, err
		}

		err := s.apply(ctx, opContAllocOIDs, &allocReq{UUID: cont, Expect: next, Count: n})
		switch {
		case err == nil:
			return next, nil
		case !errors.Is(err, daos.TryAgain):
			return 0, err
		}

		select {
		case <-ctx.Done():
			return 0, ctxErr(ctx.Err())
		case <-time.After(time.Millisecond):
		}
	}
}

// ContCreateSnap snapshots the container at an epoch above every write
// committed so far.
func (s *Service) ContCreateSnap(ctx context.Context, cont uuid.UUID, name string) (daos.Epoch, error) {
	rt, err := s.runtime(cont)
	if err != nil {
		return 0, err
	}

	rt.commitMu.Lock()
	epoch := rt.clock.Now()
	rt.commitMu.Unlock()

	if err := s.apply(ctx, opContSnapCreate, &snapReq{
		UUID:      cont,
		Epoch:     epoch.Uint64(),
		Name:      name,
		Committed: rt.lastCommitted().Uint64(),
	}); err != nil {
		return 0, err
	}
	return epoch, nil
}

// ContListSnaps returns the container snapshots in epoch order.
func (s *Service) ContListSnaps(ctx context.Context, cont uuid.UUID) (snaps []*Snapshot, err error) {
	err = s.read(ctx, func(pd *poolData) error {
		cr, err := pd.findContainer(cont)
		if err != nil {
			return err
		}
		for _, e := range cr.Snapshots {
			snaps = append(snaps, &Snapshot{Epoch: daos.Epoch(e), Name: cr.SnapNames[e]})
		}
		return nil
	})
	return
}

// ContDestroySnap removes every snapshot in the range. A range with Hi
// unset removes the snapshot at Lo.
func (s *Service) ContDestroySnap(ctx context.Context, cont uuid.UUID, er daos.EpochRange) error {
	if er.Lo == 0 {
		return errors.Wrap(daos.InvalidInput, "zero snapshot epoch")
	}
	if er.Hi != 0 && er.Hi < er.Lo {
		return errors.Wrapf(daos.InvalidInput, "invalid epoch range %d-%d", er.Lo, er.Hi)
	}
	return s.apply(ctx, opContSnapDestroy, &snapReq{UUID: cont, Epoch: er.Lo.Uint64(), Hi: er.Hi.Uint64()})
}

// forEachShard runs fn on every reachable in-service shard of the pool.
func (s *Service) forEachShard(fn func(ref placement.TargetRef, sh *engine.Shard) error) error {
	m := s.currentMap()
	if m == nil {
		return errors.Wrapf(daos.NotInit, "%s has no pool map", s)
	}
	for _, t := range m.Targets {
		if !t.State.InService() {
			continue
		}
		ref := placement.TargetRef{Rank: t.Rank, Index: t.Index}
		sh, err := s.shard(ref)
		if err != nil {
			if errors.Is(err, daos.Unreachable) {
				s.log.Debugf("%s: skipping %s: %s", s, ref, err)
				continue
			}
			return err
		}
		if err := fn(ref, sh); err != nil {
			return errors.Wrapf(err, "target %s", ref)
		}
	}
	return nil
}

// ContAggregate discards versions that are no longer visible at any
// snapshot, up to the epoch. A zero epoch aggregates up to the latest
// committed epoch.
func (s *Service) ContAggregate(ctx context.Context, cont uuid.UUID, epoch daos.Epoch) error {
	var snaps []daos.Epoch
	var committed daos.Epoch
	if err := s.read(ctx, func(pd *poolData) error {
		cr, err := pd.findContainer(cont)
		if err != nil {
			return err
		}
		committed = daos.Epoch(cr.Committed)
		for _, e := range cr.Snapshots {
			snaps = append(snaps, daos.Epoch(e))
		}
		return nil
	}); err != nil {
		return err
	}
	if rt, err := s.runtime(cont); err == nil {
		if e := rt.lastCommitted(); e > committed {
			committed = e
		}
	}
	if epoch == 0 {
		epoch = committed
	}
	if epoch == 0 {
		return nil
	}

	if err := s.forEachShard(func(_ placement.TargetRef, sh *engine.Shard) error {
		return sh.Aggregate(cont, epoch, snaps)
	}); err != nil {
		return err
	}
	return s.apply(ctx, opContAggregate, &epochReq{UUID: cont, Epoch: epoch.Uint64()})
}

// ContRollback discards every update above the snapshot epoch, along with
// the newer snapshots.
func (s *Service) ContRollback(ctx context.Context, cont uuid.UUID, epoch daos.Epoch) error {
	rt, err := s.runtime(cont)
	if err != nil {
		return err
	}

	rt.commitMu.Lock()
	defer rt.commitMu.Unlock()

	if err := s.apply(ctx, opContRollback, &epochReq{UUID: cont, Epoch: epoch.Uint64()}); err != nil {
		return err
	}
	rt.mu.Lock()
	rt.committed = epoch
	rt.mu.Unlock()

	return s.forEachShard(func(_ placement.TargetRef, sh *engine.Shard) error {
		return sh.Rollback(cont, epoch)
	})
}

// ContSubscribe waits for an epoch above the supplied one to be committed
// and returns the committed epoch.
func (s *Service) ContSubscribe(ctx context.Context, cont uuid.UUID, epoch daos.Epoch) (daos.Epoch, error) {
	rt, err := s.runtime(cont)
	if err != nil {
		return 0, err
	}
	return rt.waitCommitted(ctx, epoch)
}
