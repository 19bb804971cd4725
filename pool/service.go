//
// (C) Copyright 2020-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

// Package pool implements the replicated pool service and the routing of
// object I/O to the pool's shards.
package pool

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/daos-stack/dsr/engine"
	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/lib/ranklist"
	"github.com/daos-stack/dsr/logging"
	"github.com/daos-stack/dsr/placement"
	"github.com/daos-stack/dsr/rsvc"
	"github.com/daos-stack/dsr/security"
)

type (
	// EngineProvider resolves the engine of a rank.
	EngineProvider interface {
		Engine(rank ranklist.Rank) (*engine.Engine, error)
	}

	// Config holds the settings shared by the pool services of a system.
	Config struct {
		Raft    rsvc.Config
		Clock   clock.Clock
		Metrics *Metrics
	}

	// CreateReq describes a pool to create. Sizes are per target.
	CreateReq struct {
		UUID      uuid.UUID
		Label     string
		Owner     string
		Group     string
		Ranks     []ranklist.Rank
		SvcRanks  []ranklist.Rank
		ScmBytes  uint64
		NvmeBytes uint64
		Props     *daos.PropertyList
		ACL       *daos.AccessControlList
	}

	// Service is the metadata service of one pool, along with the
	// per-container runtime state used to route object I/O.
	Service struct {
		log     logging.Logger
		UUID    uuid.UUID
		engines EngineProvider
		metrics *Metrics
		clk     clock.Clock
		group   *rsvc.Group

		mu      sync.RWMutex
		poolMap *Map
		conts   map[uuid.UUID]*contRuntime
		stopped bool
	}
)

func newService(log logging.Logger, id uuid.UUID, engines EngineProvider, cfg Config) *Service {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		log:     log,
		UUID:    id,
		engines: engines,
		metrics: cfg.Metrics,
		clk:     clk,
		group:   rsvc.NewGroup(log, "pool-"+id.String(), cfg.Raft, newPoolState),
		conts:   make(map[uuid.UUID]*contRuntime),
	}
}

func (s *Service) String() string {
	return "pool " + logging.ShortUUID(s.UUID)
}

// Create allocates the pool's shards on every target of the requested
// ranks, starts the service replicas and records the initial metadata.
// Everything allocated is released if a step fails.
func Create(ctx context.Context, log logging.Logger, engines EngineProvider, cfg Config, req *CreateReq) (*Service, error) {
	if req == nil {
		return nil, errors.Wrap(daos.InvalidInput, "nil pool create request")
	}
	if req.UUID == uuid.Nil {
		return nil, errors.Wrap(daos.InvalidInput, "pool UUID not set")
	}
	if len(req.Ranks) == 0 {
		return nil, errors.Wrap(daos.InvalidInput, "no ranks for pool")
	}
	if len(req.SvcRanks) == 0 {
		return nil, errors.Wrap(daos.InvalidInput, "no service ranks for pool")
	}

	s := newService(log, req.UUID, engines, cfg)

	refs, err := s.allocShards(req.Ranks, req.ScmBytes, req.NvmeBytes)
	if err != nil {
		return nil, err
	}
	poolMap := NewMap(refs)

	ir := &initReq{
		UUID:  req.UUID,
		Label: req.Label,
		Owner: req.Owner,
		Group: req.Group,
		ACL:   req.ACL,
		Map:   poolMap,
		Time:  s.clk.Now(),
	}
	if req.Props != nil {
		if ir.Props, err = json.Marshal(req.Props); err != nil {
			return nil, multierr.Append(err, s.releaseShards(refs))
		}
	}

	if err := s.group.Start(ctx, req.SvcRanks); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "%s: failed to start service", s),
			s.group.Destroy(), s.releaseShards(refs))
	}
	if err := s.apply(ctx, opInit, ir); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "%s: failed to initialize", s),
			s.group.Destroy(), s.releaseShards(refs))
	}
	s.setMap(poolMap)

	log.Debugf("%s: created on ranks %s with %d targets, service %s", s,
		ranklist.RankSetFromRanks(req.Ranks), len(refs), s.group.Replicas())
	return s, nil
}

func (s *Service) allocShards(ranks []ranklist.Rank, scm, nvme uint64) ([]placement.TargetRef, error) {
	var refs []placement.TargetRef
	for _, rank := range ranklist.RankSetFromRanks(ranks).Ranks() {
		e, err := s.engines.Engine(rank)
		if err != nil {
			return nil, multierr.Append(err, s.releaseShards(refs))
		}
		for _, tgt := range e.Targets {
			if _, err := tgt.CreateShard(s.UUID, scm, nvme); err != nil {
				return nil, multierr.Append(err, s.releaseShards(refs))
			}
			refs = append(refs, placement.TargetRef{Rank: rank, Index: tgt.Index})
		}
	}
	return refs, nil
}

func (s *Service) releaseShards(refs []placement.TargetRef) error {
	var merr error
	for _, ref := range refs {
		e, err := s.engines.Engine(ref.Rank)
		if err != nil {
			merr = multierr.Append(merr, err)
			continue
		}
		tgt, err := e.Target(ref.Index)
		if err != nil {
			merr = multierr.Append(merr, err)
			continue
		}
		if err := tgt.DestroyShard(s.UUID); err != nil && !errors.Is(err, daos.Nonexistent) {
			merr = multierr.Append(merr, err)
		}
	}
	return merr
}

// Destroy stops the service and releases the pool's shards. Without force,
// a pool with open handles is not destroyed.
func (s *Service) Destroy(ctx context.Context, force bool) error {
	if !force {
		n, err := s.HandleCount(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			return errors.Wrapf(daos.Busy, "%s has %d open handles", s, n)
		}
	}

	s.mu.Lock()
	s.stopped = true
	poolMap := s.poolMap
	s.conts = make(map[uuid.UUID]*contRuntime)
	s.mu.Unlock()

	err := s.group.Destroy()
	if poolMap != nil {
		err = multierr.Append(err, s.releaseShards(poolMap.Refs()))
	}
	s.metrics.remove(s.UUID)
	return err
}

// StopSvc shuts down the service replicas. Metadata operations fail with
// NoService afterwards; I/O through open handles continues.
func (s *Service) StopSvc(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return errors.Wrapf(daos.Already, "%s service stopped", s)
	}
	s.stopped = true
	s.mu.Unlock()

	s.log.Noticef("%s: stopping service", s)
	return s.group.Shutdown()
}

func (s *Service) checkRunning() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		return errors.Wrapf(daos.NoService, "%s", s)
	}
	return nil
}

func (s *Service) setMap(m *Map) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.poolMap == nil || m.Version >= s.poolMap.Version {
		s.poolMap = m
	}
}

func (s *Service) currentMap() *Map {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.poolMap
}

func (s *Service) state(ctx context.Context) (*poolState, error) {
	if err := s.checkRunning(); err != nil {
		return nil, err
	}
	f, err := s.group.LeaderFSM(ctx)
	if err != nil {
		return nil, err
	}
	ps, ok := f.(*poolState)
	if !ok {
		return nil, errors.Errorf("unexpected pool service state %T", f)
	}
	return ps, nil
}

// read runs fn against the leader's view of the pool metadata.
func (s *Service) read(ctx context.Context, fn func(*poolData) error) error {
	ps, err := s.state(ctx)
	if err != nil {
		return err
	}

	ps.RLock()
	defer ps.RUnlock()

	return fn(ps.data)
}

func (s *Service) apply(ctx context.Context, op rsvc.Op, payload interface{}) error {
	if err := s.checkRunning(); err != nil {
		return err
	}
	s.metrics.countOp(s.UUID, op)

	if err := s.group.Apply(ctx, op, payload); err != nil {
		return err
	}
	if s.metrics != nil {
		_ = s.read(ctx, func(pd *poolData) error {
			s.metrics.update(s.UUID, pd)
			return nil
		})
	}
	return nil
}

// Connect opens a pool handle for the credential.
func (s *Service) Connect(ctx context.Context, hdl uuid.UUID, cred *security.Credential, flags daos.PoolConnectFlag) error {
	if flags&(daos.PoolConnectFlagReadOnly|daos.PoolConnectFlagReadWrite|daos.PoolConnectFlagExclusive) == 0 {
		return errors.Wrapf(daos.InvalidInput, "invalid connect flags %#x", uint(flags))
	}
	return s.apply(ctx, opConnect, &connectReq{
		Handle: hdl,
		Flags:  flags,
		Cred:   cred,
		Time:   s.clk.Now(),
	})
}

// Disconnect closes the pool handle.
func (s *Service) Disconnect(ctx context.Context, hdl uuid.UUID) error {
	return s.apply(ctx, opDisconnect, &handleReq{Handle: hdl})
}

// Evict closes every pool handle and the container handles opened through
// them.
func (s *Service) Evict(ctx context.Context) error {
	return s.apply(ctx, opEvict, struct{}{})
}

// HandleCount returns the number of open pool handles.
func (s *Service) HandleCount(ctx context.Context) (n int, err error) {
	err = s.read(ctx, func(pd *poolData) error {
		n = len(pd.Handles)
		return nil
	})
	return
}

// CheckHandle returns NoHandle if the pool handle is not connected.
func (s *Service) CheckHandle(ctx context.Context, hdl uuid.UUID) error {
	return s.read(ctx, func(pd *poolData) error {
		if _, found := pd.Handles[hdl]; !found {
			return errors.Wrapf(daos.NoHandle, "pool handle %s", hdl)
		}
		return nil
	})
}

// Label returns the current pool label.
func (s *Service) Label(ctx context.Context) (label string, err error) {
	err = s.read(ctx, func(pd *poolData) error {
		label = pd.Label
		return nil
	})
	return
}

// Map returns a copy of the pool map.
func (s *Service) Map(ctx context.Context) (m *Map, err error) {
	err = s.read(ctx, func(pd *poolData) error {
		m = pd.Map.Copy()
		return nil
	})
	return
}

func tierStats(media daos.StorageMediaType, total uint64, free []float64) *daos.StorageUsageStats {
	tier := &daos.StorageUsageStats{
		Total:     total,
		MediaType: media,
	}
	if len(free) == 0 {
		return tier
	}

	sum, _ := stats.Sum(free)
	lo, _ := stats.Min(free)
	hi, _ := stats.Max(free)
	mean, _ := stats.Mean(free)
	tier.Free = uint64(sum)
	tier.Min = uint64(lo)
	tier.Max = uint64(hi)
	tier.Mean = uint64(mean)
	return tier
}

func (s *Service) shard(ref placement.TargetRef) (*engine.Shard, error) {
	e, err := s.engines.Engine(ref.Rank)
	if err != nil {
		return nil, err
	}
	tgt, err := e.Target(ref.Index)
	if err != nil {
		return nil, err
	}
	return tgt.Shard(s.UUID)
}

// spaceStats gathers the free space of every in-service target that can
// be reached.
func (s *Service) spaceStats(m *Map) []*daos.StorageUsageStats {
	var scmTotal, nvmeTotal uint64
	var scmFree, nvmeFree []float64
	for _, t := range m.Targets {
		if !t.State.InService() {
			continue
		}
		sh, err := s.shard(placement.TargetRef{Rank: t.Rank, Index: t.Index})
		if err != nil {
			continue
		}
		si := sh.Space()
		scmTotal += si.SCMTotal
		nvmeTotal += si.NVMeTotal
		scmFree = append(scmFree, float64(si.SCMFree))
		nvmeFree = append(nvmeFree, float64(si.NVMeFree))
	}

	return []*daos.StorageUsageStats{
		tierStats(daos.StorageMediaTypeScm, scmTotal, scmFree),
		tierStats(daos.StorageMediaTypeNvme, nvmeTotal, nvmeFree),
	}
}

// Query returns the pool information selected by the mask.
func (s *Service) Query(ctx context.Context, mask daos.PoolQueryMask) (*daos.PoolInfo, error) {
	info := &daos.PoolInfo{
		QueryMask: mask,
		State:     daos.PoolServiceStateReady,
		UUID:      s.UUID,
	}

	var m *Map
	if err := s.read(ctx, func(pd *poolData) error {
		info.Label = pd.Label
		info.OpenHandles = uint32(len(pd.Handles))
		m = pd.Map.Copy()
		return nil
	}); err != nil {
		return nil, err
	}

	info.Version = m.Version
	info.TotalTargets, info.ActiveTargets, info.DisabledTargets = m.Counts()
	enabled, disabled := m.EngineSets()
	info.TotalEngines = uint32(m.Ranks().Count())
	info.DisabledEngines = uint32(disabled.Count())
	if info.DisabledTargets > 0 {
		info.State = daos.PoolServiceStateDegraded
	}

	if leader, _, err := s.group.Leader(); err == nil {
		info.ServiceLeader = uint32(leader)
	}
	info.ServiceReplicas = s.group.Replicas()

	if mask.HasOption(daos.PoolQueryOptionSpace) {
		info.TierStats = s.spaceStats(m)
	}
	if mask.HasOption(daos.PoolQueryOptionRebuild) {
		// Target state changes never move data, so there is never a
		// rebuild in progress.
		info.Rebuild = &daos.PoolRebuildStatus{
			Version: m.Version,
			State:   daos.PoolRebuildStateIdle,
		}
		if m.Version > 1 {
			info.Rebuild.State = daos.PoolRebuildStateDone
		}
	}
	if mask.HasOption(daos.PoolQueryOptionEnabledEngines) {
		info.EnabledRanks = enabled
	}
	if mask.HasOption(daos.PoolQueryOptionDisabledEngines) {
		info.DisabledRanks = disabled
	}

	return info, nil
}

// QueryTargets returns the state and space of targets of a rank. All of
// the rank's targets are returned if no indexes are supplied.
func (s *Service) QueryTargets(ctx context.Context, rank ranklist.Rank, idxs ...uint32) ([]*daos.PoolQueryTargetInfo, error) {
	m, err := s.Map(ctx)
	if err != nil {
		return nil, err
	}

	var recs []*TargetRecord
	if len(idxs) == 0 {
		for _, t := range m.Targets {
			if t.Rank == rank {
				recs = append(recs, t)
			}
		}
		if len(recs) == 0 {
			return nil, errors.Wrapf(daos.Nonexistent, "rank %d not in %s", rank, s)
		}
	}
	for _, idx := range idxs {
		t, err := m.Target(placement.TargetRef{Rank: rank, Index: idx})
		if err != nil {
			return nil, err
		}
		recs = append(recs, t)
	}

	infos := make([]*daos.PoolQueryTargetInfo, 0, len(recs))
	for _, t := range recs {
		info := &daos.PoolQueryTargetInfo{
			Rank:  t.Rank,
			Index: t.Index,
			Type:  daos.PoolTargetTypeUnknown,
			State: t.State,
		}
		if sh, err := s.shard(placement.TargetRef{Rank: t.Rank, Index: t.Index}); err == nil {
			si := sh.Space()
			info.Space = []*daos.StorageUsageStats{
				{Total: si.SCMTotal, Free: si.SCMFree, MediaType: daos.StorageMediaTypeScm},
				{Total: si.NVMeTotal, Free: si.NVMeFree, MediaType: daos.StorageMediaTypeNvme},
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// ListAttrs returns the sorted names of the pool attributes.
func (s *Service) ListAttrs(ctx context.Context) (names []string, err error) {
	err = s.read(ctx, func(pd *poolData) error {
		names = daos.AttributeListFromMap(pd.Attrs).Names()
		return nil
	})
	return
}

func getAttrs(attrs map[string][]byte, names []string) (daos.AttributeList, error) {
	if len(names) == 0 {
		return daos.AttributeListFromMap(copyAttrs(attrs)), nil
	}

	out := make(daos.AttributeList, 0, len(names))
	for _, name := range names {
		val, found := attrs[name]
		if !found {
			return nil, errors.Wrapf(daos.Nonexistent, "attribute %q", name)
		}
		out = append(out, &daos.Attribute{Name: name, Value: append([]byte(nil), val...)})
	}
	return out, nil
}

func copyAttrs(in map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(in))
	for k, v := range in {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

// GetAttrs returns the named pool attributes, or all of them if no names
// are supplied.
func (s *Service) GetAttrs(ctx context.Context, names ...string) (attrs daos.AttributeList, err error) {
	err = s.read(ctx, func(pd *poolData) error {
		attrs, err = getAttrs(pd.Attrs, names)
		return err
	})
	return
}

// SetAttrs creates or updates pool attributes through the handle.
func (s *Service) SetAttrs(ctx context.Context, hdl uuid.UUID, attrs daos.AttributeList) error {
	if len(attrs) == 0 {
		return errors.Wrap(daos.InvalidInput, "no attributes to set")
	}
	for _, a := range attrs {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return s.apply(ctx, opSetAttrs, &attrReq{Handle: hdl, Attrs: attrs.AsMap()})
}

// DelAttrs removes pool attributes through the handle.
func (s *Service) DelAttrs(ctx context.Context, hdl uuid.UUID, names ...string) error {
	if len(names) == 0 {
		return errors.Wrap(daos.InvalidInput, "no attributes to delete")
	}
	return s.apply(ctx, opDelAttrs, &attrReq{Handle: hdl, Names: names})
}

// filterProps returns the named properties of the list, or the whole list
// if no names are supplied. Names that are valid but unset are skipped.
func filterProps(pl *daos.PropertyList, names []string, empty func() *daos.PropertyList) (*daos.PropertyList, error) {
	if len(names) == 0 {
		return pl, nil
	}
	out := empty()
	for _, name := range names {
		p, err := pl.Get(name)
		switch {
		case errors.Is(err, daos.Nonexistent):
			continue
		case err != nil:
			return nil, err
		}
		single := empty()
		if n, err := p.Value.GetNumber(); err == nil {
			_ = single.SetNumber(name, n)
		} else if err := single.SetInternal(name, p.Value.String()); err != nil {
			return nil, err
		}
		out.Merge(single)
	}
	return out, nil
}

func (pd *poolData) props() *daos.PropertyList {
	pl := pd.Props.Copy()
	if pd.Label != "" {
		_ = pl.SetInternal("label", pd.Label)
	}
	if pd.Owner != "" {
		_ = pl.SetInternal("owner", pd.Owner)
	}
	if pd.Group != "" {
		_ = pl.SetInternal("group", pd.Group)
	}
	if !pd.ACL.Empty() {
		_ = pl.SetInternal("acl", pd.ACL.String())
	}
	return pl
}

// GetProps returns the named pool properties, or all that are set.
func (s *Service) GetProps(ctx context.Context, names ...string) (props *daos.PropertyList, err error) {
	err = s.read(ctx, func(pd *poolData) error {
		props, err = filterProps(pd.props(), names, daos.NewPoolPropertyList)
		return err
	})
	return
}

// SetProps updates pool properties. Label uniqueness is the caller's
// concern, as labels are unique across the system.
func (s *Service) SetProps(ctx context.Context, props *daos.PropertyList) error {
	if props.Len() == 0 {
		return errors.Wrap(daos.InvalidInput, "no properties to set")
	}
	data, err := json.Marshal(props)
	if err != nil {
		return err
	}
	return s.apply(ctx, opSetProps, &propReq{Props: data})
}

// GetACL returns the pool ACL along with the owner principals.
func (s *Service) GetACL(ctx context.Context) (acl *daos.AccessControlList, owner, group string, err error) {
	err = s.read(ctx, func(pd *poolData) error {
		acl = pd.ACL.Copy()
		owner, group = pd.Owner, pd.Group
		return nil
	})
	return
}

// OverwriteACL replaces the pool ACL.
func (s *Service) OverwriteACL(ctx context.Context, acl *daos.AccessControlList) error {
	return s.apply(ctx, opSetACL, &aclReq{Mode: aclOverwrite, ACL: acl})
}

// UpdateACL adds or replaces entries of the pool ACL.
func (s *Service) UpdateACL(ctx context.Context, acl *daos.AccessControlList) error {
	return s.apply(ctx, opSetACL, &aclReq{Mode: aclUpdate, ACL: acl})
}

// DeleteACL removes the entry of the principal from the pool ACL.
func (s *Service) DeleteACL(ctx context.Context, principal string) error {
	return s.apply(ctx, opSetACL, &aclReq{Mode: aclDelete, Principal: principal})
}

// UpdateTargets changes the state of targets in the pool map.
func (s *Service) UpdateTargets(ctx context.Context, op daos.PoolTargetOp, rank ranklist.Rank, idxs ...uint32) error {
	if err := s.apply(ctx, opUpdateTargets, &targetsReq{Op: op, Rank: rank, Indexes: idxs}); err != nil {
		return err
	}

	m, err := s.Map(ctx)
	if err != nil {
		return err
	}
	s.setMap(m)
	s.log.Noticef("%s: %s rank %d targets %v, map version %d", s, op, rank, idxs, m.Version)
	return nil
}

// ListContainers returns the UUID and label of every container.
func (s *Service) ListContainers(ctx context.Context) (conts []*daos.ContainerInfo, err error) {
	err = s.read(ctx, func(pd *poolData) error {
		for _, cr := range pd.Containers {
			conts = append(conts, &daos.ContainerInfo{
				PoolUUID:       s.UUID,
				ContainerUUID:  cr.UUID,
				ContainerLabel: cr.Label,
			})
		}
		return nil
	})
	sort.Slice(conts, func(i, j int) bool {
		return conts[i].ContainerUUID.String() < conts[j].ContainerUUID.String()
	})
	return
}

// Replicas returns the ranks of the service replicas.
func (s *Service) Replicas() ranklist.RankList {
	return s.group.Replicas()
}

// Leader returns the rank of the service leader.
func (s *Service) Leader() (ranklist.Rank, error) {
	if err := s.checkRunning(); err != nil {
		return ranklist.NilRank, err
	}
	rank, _, err := s.group.Leader()
	return rank, err
}

func (s *Service) checkPoolRank(rank ranklist.Rank) error {
	m := s.currentMap()
	if m == nil || !m.Ranks().Contains(rank) {
		return errors.Wrapf(daos.OutOfGroup, "rank %d not in %s", rank, s)
	}
	return nil
}

// AddReplicas adds service replicas on ranks holding pool targets.
func (s *Service) AddReplicas(ctx context.Context, ranks ...ranklist.Rank) error {
	if err := s.checkRunning(); err != nil {
		return err
	}
	for _, rank := range ranks {
		if err := s.checkPoolRank(rank); err != nil {
			return err
		}
		if err := s.group.AddReplica(ctx, rank); err != nil {
			return err
		}
	}
	return nil
}

// RemoveReplicas removes service replicas.
func (s *Service) RemoveReplicas(ctx context.Context, ranks ...ranklist.Rank) error {
	if err := s.checkRunning(); err != nil {
		return err
	}
	for _, rank := range ranks {
		if err := s.group.RemoveReplica(ctx, rank); err != nil {
			return err
		}
	}
	return nil
}

// EngineStopped stops the service replica on the rank, if there is one.
func (s *Service) EngineStopped(rank ranklist.Rank) error {
	err := s.group.StopReplica(rank)
	if errors.Is(err, daos.NotReplica) || errors.Is(err, daos.Already) {
		return nil
	}
	return err
}

// EngineStarted restarts the service replica on the rank, if there is one.
func (s *Service) EngineStarted(rank ranklist.Rank) error {
	if err := s.checkRunning(); err != nil {
		return nil
	}
	err := s.group.StartReplica(rank)
	if errors.Is(err, daos.NotReplica) || errors.Is(err, daos.Already) {
		return nil
	}
	return err
}

// Shutdown stops the service replicas without releasing any storage.
func (s *Service) Shutdown() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	return s.group.Shutdown()
}
