//
// (C) Copyright 2020-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

// Package rsvc provides replicated services: named groups of engine ranks
// that keep a service FSM consistent through raft.
package rsvc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	boltdb "github.com/hashicorp/raft-boltdb/v2"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
	"go.uber.org/multierr"

	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/lib/ranklist"
	"github.com/daos-stack/dsr/logging"
)

const (
	raftDBFile     = "raft.db"
	retryInterval  = 10 * time.Millisecond
	snapshotRetain = 2
)

// Config controls the raft behavior of a group.
type Config struct {
	// RaftDir holds the replica stores; in-memory stores are used if empty.
	RaftDir            string        `yaml:"raft_dir,omitempty"`
	NoSync             bool          `yaml:"raft_no_sync,omitempty"`
	HeartbeatTimeout   time.Duration `yaml:"heartbeat,omitempty"`
	ElectionTimeout    time.Duration `yaml:"election,omitempty"`
	LeaderLeaseTimeout time.Duration `yaml:"lease,omitempty"`
	CommitTimeout      time.Duration `yaml:"commit,omitempty"`
	// ApplyTimeout bounds an operation whose context has no deadline.
	ApplyTimeout      time.Duration `yaml:"apply,omitempty"`
	SnapshotThreshold uint64        `yaml:"snapshot_threshold,omitempty"`
}

// DefaultConfig returns the group configuration used for in-process
// replicas.
func DefaultConfig() Config {
	return Config{
		HeartbeatTimeout:   100 * time.Millisecond,
		ElectionTimeout:    100 * time.Millisecond,
		LeaderLeaseTimeout: 50 * time.Millisecond,
		CommitTimeout:      5 * time.Millisecond,
		ApplyTimeout:       10 * time.Second,
		// Service metadata is low volume, the raft default of
		// 8192 entries between snapshots is far too high.
		SnapshotThreshold: 32,
	}
}

func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if cfg.ElectionTimeout == 0 {
		cfg.ElectionTimeout = def.ElectionTimeout
	}
	if cfg.LeaderLeaseTimeout == 0 {
		cfg.LeaderLeaseTimeout = def.LeaderLeaseTimeout
	}
	if cfg.CommitTimeout == 0 {
		cfg.CommitTimeout = def.CommitTimeout
	}
	if cfg.ApplyTimeout == 0 {
		cfg.ApplyTimeout = def.ApplyTimeout
	}
	if cfg.SnapshotThreshold == 0 {
		cfg.SnapshotThreshold = def.SnapshotThreshold
	}
	return cfg
}

// replica is one raft node of a group, hosted on an engine rank.
type replica struct {
	rank    ranklist.Rank
	addr    raft.ServerAddress
	fsm     *fsm
	raft    *raft.Raft
	trans   *raft.InmemTransport
	logs    raft.LogStore
	stable  raft.StableStore
	snaps   raft.SnapshotStore
	bolt    *boltdb.BoltStore
	running bool
}

func (r *replica) term() uint64 {
	term, _ := strconv.ParseUint(r.raft.Stats()["term"], 10, 64)
	return term
}

// Group is a replicated service whose replicas run on engine ranks.
type Group struct {
	log    logging.Logger
	name   string
	cfg    Config
	newFSM FSMFactory

	mu          sync.RWMutex
	replicas    map[ranklist.Rank]*replica
	barrierRank ranklist.Rank
	barrierTerm uint64
}

// NewGroup creates a group with no replicas.
func NewGroup(log logging.Logger, name string, cfg Config, newFSM FSMFactory) *Group {
	return &Group{
		log:      log,
		name:     name,
		cfg:      cfg.withDefaults(),
		newFSM:   newFSM,
		replicas: make(map[ranklist.Rank]*replica),
	}
}

func (g *Group) String() string {
	return g.name
}

// Name returns the name of the group.
func (g *Group) Name() string {
	return g.name
}

func (g *Group) newReplica(rank ranklist.Rank) *replica {
	return &replica{
		rank: rank,
		addr: raft.ServerAddress(fmt.Sprintf("%s/rank-%d", g.name, rank)),
	}
}

func (g *Group) replicaDir(r *replica) string {
	return filepath.Join(g.cfg.RaftDir, g.name, "rank"+r.rank.String())
}

// openStores opens the replica's log, stable and snapshot stores. In-memory
// stores are created once and survive a replica restart.
func (g *Group) openStores(r *replica) error {
	if g.cfg.RaftDir == "" {
		if r.logs == nil {
			mem := raft.NewInmemStore()
			r.logs, r.stable = mem, mem
			r.snaps = raft.NewInmemSnapshotStore()
		}
		return nil
	}

	dir := g.replicaDir(r)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrapf(err, "failed to create raft dir for %s", r.addr)
	}

	snaps, err := raft.NewFileSnapshotStoreWithLogger(dir, snapshotRetain, newHcLogger(g.log, string(r.addr)))
	if err != nil {
		return errors.Wrapf(err, "failed to open snapshot store for %s", r.addr)
	}

	bs, err := boltdb.New(boltdb.Options{
		Path:        filepath.Join(dir, raftDBFile),
		BoltOptions: &bbolt.Options{Timeout: time.Second},
		NoSync:      g.cfg.NoSync,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to open raft db for %s", r.addr)
	}

	r.bolt = bs
	r.logs, r.stable, r.snaps = bs, bs, snaps
	return nil
}

func (g *Group) closeStores(r *replica) error {
	if r.bolt == nil {
		return nil
	}
	err := r.bolt.Close()
	r.bolt = nil
	r.logs, r.stable, r.snaps = nil, nil, nil
	return err
}

// connect creates the replica's transport and links it with every other
// running replica of the group. Caller must hold the lock.
func (g *Group) connect(r *replica) {
	_, r.trans = raft.NewInmemTransport(r.addr)
	for _, other := range g.replicas {
		if other == r || !other.running {
			continue
		}
		r.trans.Connect(other.addr, other.trans)
		other.trans.Connect(r.addr, r.trans)
	}
}

// disconnect unlinks the replica from every other replica of the group.
// Caller must hold the lock.
func (g *Group) disconnect(r *replica) {
	for _, other := range g.replicas {
		if other == r || other.trans == nil {
			continue
		}
		other.trans.Disconnect(r.addr)
	}
	if r.trans != nil {
		r.trans.DisconnectAll()
	}
}

func (g *Group) raftConfig(r *replica, hcl *hcLogger) *raft.Config {
	rc := raft.DefaultConfig()
	rc.Logger = hcl
	rc.LocalID = raft.ServerID(r.addr)
	rc.SnapshotThreshold = g.cfg.SnapshotThreshold
	rc.HeartbeatTimeout = g.cfg.HeartbeatTimeout
	rc.ElectionTimeout = g.cfg.ElectionTimeout
	rc.LeaderLeaseTimeout = g.cfg.LeaderLeaseTimeout
	rc.CommitTimeout = g.cfg.CommitTimeout
	return rc
}

// startReplica opens the replica's stores and starts its raft node with a
// fresh FSM. Committed entries are replayed into the FSM from its stores.
// Caller must hold the lock.
func (g *Group) startReplica(r *replica) error {
	if err := g.openStores(r); err != nil {
		return err
	}

	hcl := newHcLogger(g.log, string(r.addr))
	r.fsm = &fsm{log: g.log, name: string(r.addr), state: g.newFSM()}
	g.connect(r)

	rn, err := raft.NewRaft(g.raftConfig(r, hcl), r.fsm, r.logs, r.stable, r.snaps, r.trans)
	if err != nil {
		g.disconnect(r)
		return multierr.Append(errors.Wrapf(err, "failed to start %s", r.addr), g.closeStores(r))
	}
	r.raft = rn
	r.running = true
	g.log.Debugf("%s: replica started on rank %d", g.name, r.rank)
	return nil
}

// stopReplica shuts down the replica's raft node and releases its
// stores. Caller must hold the lock.
func (g *Group) stopReplica(r *replica) error {
	if !r.running {
		return nil
	}
	g.disconnect(r)
	err := r.raft.Shutdown().Error()
	r.running = false
	g.log.Debugf("%s: replica stopped on rank %d", g.name, r.rank)
	return multierr.Append(err, g.closeStores(r))
}

// Start creates a replica on each rank and bootstraps the group. It
// returns once a leader has been elected.
func (g *Group) Start(ctx context.Context, ranks []ranklist.Rank) error {
	if len(ranks) == 0 {
		return errors.Wrapf(daos.InvalidInput, "%s: no replica ranks", g)
	}
	seen := make(map[ranklist.Rank]struct{}, len(ranks))
	for _, rank := range ranks {
		if _, found := seen[rank]; found {
			return errors.Wrapf(daos.InvalidInput, "%s: duplicate replica rank %d", g, rank)
		}
		seen[rank] = struct{}{}
	}

	if err := func() error {
		g.mu.Lock()
		defer g.mu.Unlock()

		if len(g.replicas) > 0 {
			return errors.Wrapf(daos.Already, "%s already started", g)
		}

		var bsc raft.Configuration
		for _, rank := range ranks {
			r := g.newReplica(rank)
			g.replicas[rank] = r
			bsc.Servers = append(bsc.Servers, raft.Server{
				Suffrage: raft.Voter,
				ID:       raft.ServerID(r.addr),
				Address:  r.addr,
			})
		}

		var err error
		for _, r := range g.replicas {
			if err = g.startReplica(r); err != nil {
				break
			}
			// Replicas restarted from existing stores already carry
			// the configuration.
			if bsErr := r.raft.BootstrapCluster(bsc).Error(); bsErr != nil && bsErr != raft.ErrCantBootstrap {
				err = errors.Wrapf(bsErr, "failed to bootstrap %s", r.addr)
				break
			}
		}
		if err != nil {
			for _, r := range g.replicas {
				err = multierr.Append(err, g.stopReplica(r))
			}
			g.replicas = make(map[ranklist.Rank]*replica)
			return err
		}

		g.log.Debugf("%s: bootstrapped on ranks %s", g, ranklist.RankList(ranks))
		return nil
	}(); err != nil {
		return err
	}

	if err := g.WaitLeader(ctx); err != nil {
		return multierr.Append(err, g.Shutdown())
	}
	return nil
}

// leader returns the running replica that currently holds leadership.
func (g *Group) leader() (*replica, uint64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var cur *replica
	var curTerm uint64
	for _, r := range g.replicas {
		if !r.running || r.raft.State() != raft.Leader {
			continue
		}
		// A deposed leader may not have noticed yet.
		if term := r.term(); cur == nil || term > curTerm {
			cur, curTerm = r, term
		}
	}
	if cur == nil {
		return nil, 0, errors.Wrapf(daos.NotLeader, "%s has no leader", g)
	}
	return cur, curTerm, nil
}

// Leader returns the rank and term of the current leader replica.
func (g *Group) Leader() (ranklist.Rank, uint64, error) {
	r, term, err := g.leader()
	if err != nil {
		return ranklist.NilRank, 0, err
	}
	return r.rank, term, nil
}

// WaitLeader blocks until the group has a leader.
func (g *Group) WaitLeader(ctx context.Context) error {
	return g.withLeader(ctx, func(*replica) error { return nil })
}

// withLeader calls fn with the current leader, retrying on leadership
// errors until the context is done. Contexts without a deadline are
// bounded by the configured apply timeout.
func (g *Group) withLeader(ctx context.Context, fn func(*replica) error) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.ApplyTimeout)
		defer cancel()
	}

	for {
		r, _, err := g.leader()
		if err == nil {
			err = fn(r)
			if IsRaftLeadershipError(err) {
				err = errors.Wrapf(daos.NotLeader, "%s: %s", g, err)
			}
		}
		if !errors.Is(err, daos.NotLeader) {
			return err
		}

		select {
		case <-ctx.Done():
			return errors.Wrapf(ctxErr(ctx.Err()), "%s: %s", g, err)
		case <-time.After(retryInterval):
		}
	}
}

// Apply submits an update to the group's leader and waits for it to be
// applied. The FSM's error for the update, if any, is returned.
func (g *Group) Apply(ctx context.Context, op Op, payload interface{}) error {
	data, err := createUpdate(op, payload)
	if err != nil {
		return errors.Wrapf(err, "%s: failed to encode op %d", g, op)
	}

	return g.withLeader(ctx, func(r *replica) error {
		f := r.raft.Apply(data, g.cfg.ApplyTimeout)
		if err := f.Error(); err != nil {
			return err
		}
		if resp, ok := f.Response().(error); ok {
			return resp
		}
		return nil
	})
}

// Barrier waits until the leader has applied every committed update.
func (g *Group) Barrier(ctx context.Context) error {
	return g.withLeader(ctx, func(r *replica) error {
		if err := r.raft.Barrier(g.cfg.ApplyTimeout).Error(); err != nil {
			return err
		}
		g.mu.Lock()
		g.barrierRank, g.barrierTerm = r.rank, r.term()
		g.mu.Unlock()
		return nil
	})
}

// LeaderFSM returns the state of the current leader for reads. A new
// leader is brought up to date with a barrier before its state is used.
func (g *Group) LeaderFSM(ctx context.Context) (FSM, error) {
	var state FSM
	err := g.withLeader(ctx, func(r *replica) error {
		g.mu.RLock()
		current := g.barrierRank == r.rank && g.barrierTerm == r.term()
		g.mu.RUnlock()

		if !current {
			if err := r.raft.Barrier(g.cfg.ApplyTimeout).Error(); err != nil {
				return err
			}
			g.mu.Lock()
			g.barrierRank, g.barrierTerm = r.rank, r.term()
			g.mu.Unlock()
		}
		state = r.fsm.state
		return nil
	})
	return state, err
}

// Replicas returns the ranks of the group's replicas.
func (g *Group) Replicas() ranklist.RankList {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ranks := make(ranklist.RankList, 0, len(g.replicas))
	for rank := range g.replicas {
		ranks = append(ranks, rank)
	}
	sort.Slice(ranks, func(i, j int) bool { return ranks[i] < ranks[j] })
	return ranks
}

// RunningReplicas returns the ranks of replicas that are not stopped.
func (g *Group) RunningReplicas() ranklist.RankList {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ranks := make(ranklist.RankList, 0, len(g.replicas))
	for rank, r := range g.replicas {
		if r.running {
			ranks = append(ranks, rank)
		}
	}
	sort.Slice(ranks, func(i, j int) bool { return ranks[i] < ranks[j] })
	return ranks
}

// AddReplica starts a replica on the rank and adds it to the group as a
// voter. The new replica catches up from the leader.
func (g *Group) AddReplica(ctx context.Context, rank ranklist.Rank) error {
	g.mu.Lock()
	if _, found := g.replicas[rank]; found {
		g.mu.Unlock()
		return errors.Wrapf(daos.Exists, "%s already has a replica on rank %d", g, rank)
	}
	if len(g.replicas) == 0 {
		g.mu.Unlock()
		return errors.Wrapf(daos.NotInit, "%s is not started", g)
	}
	r := g.newReplica(rank)
	g.replicas[rank] = r
	if err := g.startReplica(r); err != nil {
		delete(g.replicas, rank)
		g.mu.Unlock()
		return err
	}
	g.mu.Unlock()

	err := g.withLeader(ctx, func(l *replica) error {
		return l.raft.AddVoter(raft.ServerID(r.addr), r.addr, 0, g.cfg.ApplyTimeout).Error()
	})
	if err != nil {
		g.mu.Lock()
		err = multierr.Append(err, g.stopReplica(r))
		delete(g.replicas, rank)
		g.mu.Unlock()
		return err
	}

	g.log.Debugf("%s: added replica on rank %d", g, rank)
	return nil
}

// RemoveReplica removes the rank's replica from the group and shuts it
// down.
func (g *Group) RemoveReplica(ctx context.Context, rank ranklist.Rank) error {
	g.mu.RLock()
	r, found := g.replicas[rank]
	count := len(g.replicas)
	g.mu.RUnlock()

	if !found {
		return errors.Wrapf(daos.NotReplica, "%s has no replica on rank %d", g, rank)
	}
	if count == 1 {
		return errors.Wrapf(daos.InvalidInput, "%s: cannot remove the last replica", g)
	}

	if err := g.withLeader(ctx, func(l *replica) error {
		return l.raft.RemoveServer(raft.ServerID(r.addr), 0, g.cfg.ApplyTimeout).Error()
	}); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.replicas, rank)
	g.log.Debugf("%s: removed replica on rank %d", g, rank)
	return g.stopReplica(r)
}

// StopReplica cuts the replica off from its peers and shuts it down, as
// happens when its engine fails. Its stores are kept.
func (g *Group) StopReplica(rank ranklist.Rank) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, found := g.replicas[rank]
	if !found {
		return errors.Wrapf(daos.NotReplica, "%s has no replica on rank %d", g, rank)
	}
	if !r.running {
		return errors.Wrapf(daos.Already, "%s replica on rank %d already stopped", g, rank)
	}
	return g.stopReplica(r)
}

// StartReplica restarts a stopped replica from its stores.
func (g *Group) StartReplica(rank ranklist.Rank) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, found := g.replicas[rank]
	if !found {
		return errors.Wrapf(daos.NotReplica, "%s has no replica on rank %d", g, rank)
	}
	if r.running {
		return errors.Wrapf(daos.Already, "%s replica on rank %d already running", g, rank)
	}
	return g.startReplica(r)
}

// Shutdown stops every replica of the group.
func (g *Group) Shutdown() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var err error
	for _, r := range g.replicas {
		err = multierr.Append(err, g.stopReplica(r))
	}
	g.replicas = make(map[ranklist.Rank]*replica)
	g.log.Debugf("%s: shut down", g)
	return err
}

// Destroy shuts the group down and removes its stores.
func (g *Group) Destroy() error {
	err := g.Shutdown()
	if g.cfg.RaftDir != "" {
		err = multierr.Append(err, os.RemoveAll(filepath.Join(g.cfg.RaftDir, g.name)))
	}
	return err
}

func ctxErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return errors.Wrap(daos.Canceled, "replicated service context canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(daos.TimedOut, "replicated service context deadline exceeded")
	default:
		return errors.Wrap(daos.MiscError, "replicated service context error")
	}
}
