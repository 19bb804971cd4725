//
// (C) Copyright 2020-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

// Package system runs an in-process storage system: its engines, the
// management service that tracks pools and the pool services themselves.
package system

import (
	"context"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/daos-stack/dsr/engine"
	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/lib/ranklist"
	"github.com/daos-stack/dsr/logging"
	"github.com/daos-stack/dsr/pool"
	"github.com/daos-stack/dsr/rsvc"
	"github.com/daos-stack/dsr/server/config"
)

const mgmtSvcName = "mgmt"

// Info describes the system as seen by a client attaching to it.
type Info struct {
	Name            string            `json:"sys"`
	Ranks           ranklist.RankList `json:"ranks"`
	MgmtSvcReplicas ranklist.RankList `json:"mgmt_svc_replicas"`
	MgmtSvcLeader   ranklist.Rank     `json:"mgmt_svc_leader"`
	Fingerprint     uint64            `json:"fingerprint"`
}

// System is an in-process storage system.
type System struct {
	log         logging.Logger
	cfg         *config.System
	fingerprint uint64
	registry    *prometheus.Registry
	poolCfg     pool.Config

	Name    string
	Engines []*engine.Engine
	MgmtSvc *rsvc.Group

	mu      sync.RWMutex
	pools   map[uuid.UUID]*pool.Service
	started bool
}

// New creates the engines of the configured system. Nothing is started
// until Start is called.
func New(log logging.Logger, cfg *config.System) (*System, error) {
	return NewWithClock(log, cfg, clock.New())
}

// NewWithClock is like New but uses the supplied clock for the epoch
// clocks of containers.
func NewWithClock(log logging.Logger, cfg *config.System, clk clock.Clock) (*System, error) {
	if cfg == nil {
		return nil, errors.New("nil system config")
	}
	if err := cfg.Validate(log); err != nil {
		return nil, err
	}
	fp, err := cfg.Fingerprint()
	if err != nil {
		return nil, errors.Wrap(err, "failed to fingerprint config")
	}

	reg := prometheus.NewRegistry()
	em, err := engine.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	pm, err := pool.NewMetrics(reg)
	if err != nil {
		return nil, err
	}

	sys := &System{
		log:         log,
		cfg:         cfg,
		fingerprint: fp,
		registry:    reg,
		poolCfg: pool.Config{
			Raft:    cfg.RaftConfig(),
			Clock:   clk,
			Metrics: pm,
		},
		Name:    cfg.Name,
		MgmtSvc: rsvc.NewGroup(log, mgmtSvcName, cfg.RaftConfig(), newMgmtState),
		pools:   make(map[uuid.UUID]*pool.Service),
	}

	for _, ec := range cfg.EngineConfigs() {
		e, err := engine.New(log, ec.EngineConfig(), em)
		if err != nil {
			return nil, err
		}
		sys.Engines = append(sys.Engines, e)
	}
	sort.Slice(sys.Engines, func(i, j int) bool {
		return sys.Engines[i].Rank < sys.Engines[j].Rank
	})

	return sys, nil
}

func (sys *System) String() string {
	return "system " + sys.Name
}

// Registry returns the registry of the system's metrics.
func (sys *System) Registry() *prometheus.Registry {
	return sys.registry
}

// Config returns the configuration the system was created from.
func (sys *System) Config() *config.System {
	return sys.cfg
}

// Engine returns the engine of the rank.
func (sys *System) Engine(rank ranklist.Rank) (*engine.Engine, error) {
	for _, e := range sys.Engines {
		if e.Rank == rank {
			return e, nil
		}
	}
	return nil, errors.Wrapf(daos.Nonexistent, "%s has no rank %d", sys, rank)
}

// Ranks returns the ranks of all engines.
func (sys *System) Ranks() ranklist.RankList {
	ranks := make(ranklist.RankList, 0, len(sys.Engines))
	for _, e := range sys.Engines {
		ranks = append(ranks, e.Rank)
	}
	return ranks
}

func (sys *System) checkStarted() error {
	sys.mu.RLock()
	defer sys.mu.RUnlock()

	if !sys.started {
		return errors.Wrapf(daos.NotInit, "%s is not started", sys)
	}
	return nil
}

// Start brings up the engines and the management service. Pool records
// restored from persistent raft stores refer to storage that did not
// survive the restart, and are dropped.
func (sys *System) Start(ctx context.Context) error {
	sys.mu.Lock()
	if sys.started {
		sys.mu.Unlock()
		return errors.Wrapf(daos.Already, "%s already started", sys)
	}
	sys.started = true
	sys.mu.Unlock()

	for _, e := range sys.Engines {
		if err := e.Start(); err != nil && !errors.Is(err, daos.Already) {
			return err
		}
	}

	replicas := sys.Ranks()[:sys.cfg.MgmtSvcReplicas]
	if err := sys.MgmtSvc.Start(ctx, replicas); err != nil {
		sys.mu.Lock()
		sys.started = false
		sys.mu.Unlock()
		return errors.Wrapf(err, "%s: failed to start %s", sys, sys.MgmtSvc)
	}

	if err := sys.dropStalePools(ctx); err != nil {
		return err
	}

	sys.log.Noticef("%s started with %d engines, management service on %s",
		sys, len(sys.Engines), replicas)
	return nil
}

func (sys *System) dropStalePools(ctx context.Context) error {
	records, err := sys.poolRecords(ctx)
	if err != nil {
		return err
	}
	for _, ps := range records {
		sys.log.Noticef("%s: dropping %s, its storage was not retained", sys, ps)
		if err := sys.MgmtSvc.Apply(ctx, opPoolRemove, &poolRemoveReq{UUID: ps.PoolUUID}); err != nil {
			return err
		}
	}
	return nil
}

// Stop shuts down the pool services and the management service, and
// stops the engines.
func (sys *System) Stop() error {
	sys.mu.Lock()
	defer sys.mu.Unlock()

	if !sys.started {
		return nil
	}
	sys.started = false

	var err error
	for _, svc := range sys.pools {
		err = multierr.Append(err, svc.Shutdown())
	}
	sys.pools = make(map[uuid.UUID]*pool.Service)
	err = multierr.Append(err, sys.MgmtSvc.Shutdown())

	for _, e := range sys.Engines {
		if stopErr := e.Stop(); stopErr != nil && !errors.Is(stopErr, daos.Already) {
			err = multierr.Append(err, stopErr)
		}
	}

	sys.log.Noticef("%s stopped", sys)
	return err
}

// SystemQuery returns the members of the system.
func (sys *System) SystemQuery(ctx context.Context) (Members, error) {
	replicas := sys.MgmtSvc.Replicas()

	members := make(Members, 0, len(sys.Engines))
	for _, e := range sys.Engines {
		members = append(members, &Member{
			Rank:        e.Rank,
			State:       memberStateFromEngine(e.State()),
			Targets:     len(e.Targets),
			ScmSize:     e.SCMSize(),
			NvmeSize:    e.NVMeSize(),
			MgmtReplica: replicas.Contains(e.Rank),
		})
	}
	return members, nil
}

func (sys *System) poolServices() []*pool.Service {
	sys.mu.RLock()
	defer sys.mu.RUnlock()

	svcs := make([]*pool.Service, 0, len(sys.pools))
	for _, svc := range sys.pools {
		svcs = append(svcs, svc)
	}
	return svcs
}

// EngineStop stops the engine of the rank, as if it had failed. Service
// replicas hosted by the engine are stopped along with it.
func (sys *System) EngineStop(ctx context.Context, rank ranklist.Rank) (*MemberResult, error) {
	e, err := sys.Engine(rank)
	if err != nil {
		return nil, err
	}
	if err := e.Stop(); err != nil {
		return NewMemberResult(rank, err, memberStateFromEngine(e.State())), nil
	}

	var merr error
	if err := sys.MgmtSvc.StopReplica(rank); err != nil &&
		!errors.Is(err, daos.NotReplica) && !errors.Is(err, daos.Already) {
		merr = multierr.Append(merr, err)
	}
	for _, svc := range sys.poolServices() {
		merr = multierr.Append(merr, svc.EngineStopped(rank))
	}

	sys.log.Noticef("%s: rank %d stopped", sys, rank)
	return NewMemberResult(rank, merr, memberStateFromEngine(e.State())), nil
}

// EngineStart restarts a stopped engine along with its service replicas.
func (sys *System) EngineStart(ctx context.Context, rank ranklist.Rank) (*MemberResult, error) {
	e, err := sys.Engine(rank)
	if err != nil {
		return nil, err
	}
	if err := e.Start(); err != nil {
		return NewMemberResult(rank, err, memberStateFromEngine(e.State())), nil
	}

	var merr error
	if err := sys.MgmtSvc.StartReplica(rank); err != nil &&
		!errors.Is(err, daos.NotReplica) && !errors.Is(err, daos.Already) {
		merr = multierr.Append(merr, err)
	}
	for _, svc := range sys.poolServices() {
		merr = multierr.Append(merr, svc.EngineStarted(rank))
	}

	sys.log.Noticef("%s: rank %d started", sys, rank)
	return NewMemberResult(rank, merr, memberStateFromEngine(e.State())), nil
}

// MgmtSvcLeader returns the rank of the management service leader.
func (sys *System) MgmtSvcLeader() (ranklist.Rank, error) {
	rank, _, err := sys.MgmtSvc.Leader()
	return rank, err
}

// MgmtSvcReplicas returns the ranks of the management service replicas.
func (sys *System) MgmtSvcReplicas() ranklist.RankList {
	return sys.MgmtSvc.Replicas()
}

// MgmtSvcAddReplica adds a management service replica on the rank.
func (sys *System) MgmtSvcAddReplica(ctx context.Context, rank ranklist.Rank) error {
	if err := sys.checkStarted(); err != nil {
		return err
	}
	e, err := sys.Engine(rank)
	if err != nil {
		return err
	}
	if !e.IsRunning() {
		return errors.Wrapf(daos.Unreachable, "rank %d is stopped", rank)
	}
	return sys.MgmtSvc.AddReplica(ctx, rank)
}

// MgmtSvcRemoveReplica removes the management service replica on the rank.
func (sys *System) MgmtSvcRemoveReplica(ctx context.Context, rank ranklist.Rank) error {
	if err := sys.checkStarted(); err != nil {
		return err
	}
	return sys.MgmtSvc.RemoveReplica(ctx, rank)
}

// SystemInfo returns what a client needs to attach to the system.
func (sys *System) SystemInfo(ctx context.Context) (*Info, error) {
	if err := sys.checkStarted(); err != nil {
		return nil, err
	}
	if err := sys.MgmtSvc.WaitLeader(ctx); err != nil {
		return nil, err
	}
	leader, err := sys.MgmtSvcLeader()
	if err != nil {
		return nil, err
	}

	return &Info{
		Name:            sys.Name,
		Ranks:           sys.Ranks(),
		MgmtSvcReplicas: sys.MgmtSvcReplicas(),
		MgmtSvcLeader:   leader,
		Fingerprint:     sys.fingerprint,
	}, nil
}
