//
// (C) Copyright 2020-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package rsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/common/test"
	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/lib/ranklist"
	"github.com/daos-stack/dsr/logging"
)

const (
	opAdd Op = iota + 1
	opFail
)

type counterFSM struct {
	sync.Mutex
	Value int `json:"value"`
}

func (c *counterFSM) Apply(op Op, data []byte) error {
	c.Lock()
	defer c.Unlock()

	switch op {
	case opAdd:
		var n int
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		c.Value += n
	case opFail:
		return errors.Wrap(daos.Busy, "counter is busy")
	default:
		return errors.Errorf("unknown op %d", op)
	}
	return nil
}

func (c *counterFSM) Snapshot() ([]byte, error) {
	c.Lock()
	defer c.Unlock()
	return json.Marshal(c)
}

func (c *counterFSM) Restore(data []byte) error {
	c.Lock()
	defer c.Unlock()
	return json.Unmarshal(data, c)
}

func (c *counterFSM) value() int {
	c.Lock()
	defer c.Unlock()
	return c.Value
}

func newCounter() FSM {
	return &counterFSM{}
}

func testConfig() Config {
	return Config{
		HeartbeatTimeout:   50 * time.Millisecond,
		ElectionTimeout:    50 * time.Millisecond,
		LeaderLeaseTimeout: 25 * time.Millisecond,
		CommitTimeout:      time.Millisecond,
		ApplyTimeout:       5 * time.Second,
	}
}

func startGroup(t *testing.T, log logging.Logger, cfg Config, ranks ...ranklist.Rank) *Group {
	t.Helper()

	g := NewGroup(log, "test_svc", cfg, newCounter)
	if err := g.Start(test.Context(t), ranks); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := g.Shutdown(); err != nil {
			t.Log(err)
		}
	})
	return g
}

func leaderValue(t *testing.T, g *Group) int {
	t.Helper()

	state, err := g.LeaderFSM(test.Context(t))
	if err != nil {
		t.Fatal(err)
	}
	return state.(*counterFSM).value()
}

func TestRsvc_Group_Apply(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	g := startGroup(t, log, testConfig(), 0, 1, 2)
	ctx := test.Context(t)

	for i := 1; i <= 3; i++ {
		if err := g.Apply(ctx, opAdd, i); err != nil {
			t.Fatal(err)
		}
	}
	test.AssertEqual(t, 6, leaderValue(t, g), "unexpected counter value")

	test.CmpErr(t, daos.Busy, g.Apply(ctx, opFail, nil))
	test.AssertEqual(t, 6, leaderValue(t, g), "failed op changed state")

	leader, term, err := g.Leader()
	if err != nil {
		t.Fatal(err)
	}
	test.AssertTrue(t, g.Replicas().Contains(leader), "leader is not a replica")
	test.AssertTrue(t, term > 0, "expected a term")
	test.CmpAny(t, "replicas", ranklist.RankList{0, 1, 2}, g.Replicas())

	test.CmpErr(t, daos.Already, g.Start(ctx, []ranklist.Rank{3}))
}

func TestRsvc_Group_Errors(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	g := NewGroup(log, "idle_svc", testConfig(), newCounter)
	_, _, err := g.Leader()
	test.CmpErr(t, daos.NotLeader, err)
	test.CmpErr(t, daos.InvalidInput, g.Start(test.Context(t), nil))
	test.CmpErr(t, daos.InvalidInput, g.Start(test.Context(t), []ranklist.Rank{1, 1}))
	test.CmpErr(t, daos.NotInit, g.AddReplica(test.Context(t), 1))
	test.CmpErr(t, daos.NotReplica, g.StopReplica(1))
	test.CmpErr(t, daos.NotReplica, g.StartReplica(1))
	test.CmpErr(t, daos.NotReplica, g.RemoveReplica(test.Context(t), 1))
}

func TestRsvc_Group_StartFailed(t *testing.T) {
	for name, tc := range map[string]struct {
		ranks  []ranklist.Rank
		ctx    func(t *testing.T) context.Context
		expErr error
	}{
		"duplicate rank": {
			ranks:  []ranklist.Rank{1, 1},
			ctx:    test.Context,
			expErr: daos.InvalidInput,
		},
		"duplicate after distinct ranks": {
			ranks:  []ranklist.Rank{0, 1, 2, 1},
			ctx:    test.Context,
			expErr: daos.InvalidInput,
		},
		"no leader before deadline": {
			ranks: []ranklist.Rank{0, 1, 2},
			ctx: func(t *testing.T) context.Context {
				ctx, cancel := context.WithCancel(test.Context(t))
				cancel()
				return ctx
			},
			expErr: daos.Canceled,
		},
	} {
		t.Run(name, func(t *testing.T) {
			log, buf := logging.NewTestLogger(t.Name())
			defer test.ShowBufferOnFailure(t, buf)

			g := NewGroup(log, "test_svc", testConfig(), newCounter)
			defer g.Shutdown()

			test.CmpErr(t, tc.expErr, g.Start(tc.ctx(t), tc.ranks))
			test.AssertEqual(t, 0, len(g.Replicas()), "replicas left after failed start")

			if err := g.Start(test.Context(t), []ranklist.Rank{0, 1, 2}); err != nil {
				t.Fatal(err)
			}
			test.AssertEqual(t, "0-2", ranklist.RankSetFromRanks(g.Replicas()).String(), "unexpected replicas")
		})
	}
}

func TestRsvc_Group_StopLeader(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	g := startGroup(t, log, testConfig(), 0, 1, 2)
	ctx := test.Context(t)

	if err := g.Apply(ctx, opAdd, 5); err != nil {
		t.Fatal(err)
	}

	old, _, err := g.Leader()
	if err != nil {
		t.Fatal(err)
	}
	if err := g.StopReplica(old); err != nil {
		t.Fatal(err)
	}
	test.CmpErr(t, daos.Already, g.StopReplica(old))

	if err := g.Apply(ctx, opAdd, 5); err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, 10, leaderValue(t, g), "unexpected counter value")

	cur, _, err := g.Leader()
	if err != nil {
		t.Fatal(err)
	}
	test.AssertTrue(t, cur != old, "stopped replica is still leader")
	test.AssertEqual(t, len(g.Replicas())-1, len(g.RunningReplicas()), "unexpected running count")

	if err := g.StartReplica(old); err != nil {
		t.Fatal(err)
	}
	test.CmpErr(t, daos.Already, g.StartReplica(old))
	if err := g.Apply(ctx, opAdd, 1); err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, 11, leaderValue(t, g), "unexpected counter value")
}

func TestRsvc_Group_NoQuorum(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	g := startGroup(t, log, testConfig(), 0, 1, 2)

	for _, rank := range []ranklist.Rank{1, 2} {
		if err := g.StopReplica(rank); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithTimeout(test.Context(t), 500*time.Millisecond)
	defer cancel()
	test.CmpErr(t, daos.TimedOut, g.Apply(ctx, opAdd, 1))

	if err := g.StartReplica(1); err != nil {
		t.Fatal(err)
	}
	if err := g.Apply(test.Context(t), opAdd, 1); err != nil {
		t.Fatal(err)
	}
}

func TestRsvc_Group_Membership(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	g := startGroup(t, log, testConfig(), 0, 1, 2)
	ctx := test.Context(t)

	if err := g.Apply(ctx, opAdd, 2); err != nil {
		t.Fatal(err)
	}

	test.CmpErr(t, daos.Exists, g.AddReplica(ctx, 1))
	if err := g.AddReplica(ctx, 3); err != nil {
		t.Fatal(err)
	}
	if err := g.RemoveReplica(ctx, 0); err != nil {
		t.Fatal(err)
	}
	test.CmpErr(t, daos.NotReplica, g.RemoveReplica(ctx, 0))
	test.CmpAny(t, "replicas", ranklist.RankList{1, 2, 3}, g.Replicas())

	// Rank 3 must be a voter for the group to survive losing two of
	// its original replicas.
	if err := g.StopReplica(1); err != nil {
		t.Fatal(err)
	}
	if err := g.Apply(ctx, opAdd, 2); err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, 4, leaderValue(t, g), "unexpected counter value")

	fut := g.replicas[3].raft.GetConfiguration()
	if err := fut.Error(); err != nil {
		t.Fatal(err)
	}
	var voters int
	for _, srv := range fut.Configuration().Servers {
		if srv.Suffrage == raft.Voter {
			voters++
		}
	}
	test.AssertEqual(t, 3, voters, "unexpected voter count")
}

func TestRsvc_Group_BoltStores(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	cfg := testConfig()
	cfg.RaftDir = test.CreateTestDir(t)
	cfg.NoSync = true

	g := NewGroup(log, "bolt_svc", cfg, newCounter)
	ctx := test.Context(t)
	if err := g.Start(ctx, []ranklist.Rank{0, 1, 2}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if err := g.Apply(ctx, opAdd, 10); err != nil {
			t.Fatal(err)
		}
	}
	if err := g.Shutdown(); err != nil {
		t.Fatal(err)
	}

	// Restarting from existing stores skips the bootstrap and replays
	// the committed updates.
	g = NewGroup(log, "bolt_svc", cfg, newCounter)
	if err := g.Start(ctx, []ranklist.Rank{0, 1, 2}); err != nil {
		t.Fatal(err)
	}
	defer func() {
		test.CmpErr(t, nil, g.Destroy())
	}()
	test.AssertEqual(t, 40, leaderValue(t, g), "state not restored from stores")
}

type mockSink struct {
	bytes.Buffer
	closed, canceled bool
}

func (s *mockSink) ID() string { return "mock" }

func (s *mockSink) Close() error {
	s.closed = true
	return nil
}

func (s *mockSink) Cancel() error {
	s.canceled = true
	return nil
}

func TestRsvc_FSMSnapshot(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	src := &fsm{log: log, name: "src", state: &counterFSM{Value: 42}}
	snap, err := src.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	sink := new(mockSink)
	if err := snap.Persist(sink); err != nil {
		t.Fatal(err)
	}
	test.AssertTrue(t, sink.closed, "sink not closed")
	test.AssertFalse(t, sink.canceled, "sink canceled")

	dst := &fsm{log: log, name: "dst", state: &counterFSM{}}
	if err := dst.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))); err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, 42, dst.state.(*counterFSM).value(), "unexpected restored value")

	test.CmpErr(t, errors.New("failed to restore"),
		dst.Restore(io.NopCloser(strings.NewReader("garbage"))))
}

func TestRsvc_FSMApply(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	f := &fsm{log: log, name: "apply", state: &counterFSM{}}

	for name, tc := range map[string]struct {
		data   func() []byte
		expErr error
		expVal int
	}{
		"bad data": {
			data:   func() []byte { return []byte("{") },
			expErr: errors.New("failed to decode"),
		},
		"fsm error": {
			data: func() []byte {
				d, _ := createUpdate(opFail, nil)
				return d
			},
			expErr: daos.Busy,
		},
		"success": {
			data: func() []byte {
				d, _ := createUpdate(opAdd, 3)
				return d
			},
			expVal: 3,
		},
	} {
		t.Run(name, func(t *testing.T) {
			f.state = &counterFSM{}
			resp := f.Apply(&raft.Log{Index: 1, Data: tc.data()})

			var gotErr error
			if resp != nil {
				gotErr = resp.(error)
			}
			test.CmpErr(t, tc.expErr, gotErr)
			test.AssertEqual(t, tc.expVal, f.state.(*counterFSM).value(), "unexpected value")
		})
	}
}

func TestRsvc_IsRaftLeadershipError(t *testing.T) {
	for name, tc := range map[string]struct {
		err    error
		expRes bool
	}{
		"nil":           {},
		"other":         {err: errors.New("other")},
		"not leader":    {err: raft.ErrNotLeader, expRes: true},
		"wrapped lost":  {err: errors.Wrap(raft.ErrLeadershipLost, "wrapped"), expRes: true},
		"shutdown":      {err: raft.ErrRaftShutdown, expRes: true},
		"daos status":   {err: daos.NotLeader},
		"transfer busy": {err: raft.ErrLeadershipTransferInProgress, expRes: true},
	} {
		t.Run(name, func(t *testing.T) {
			test.AssertEqual(t, tc.expRes, IsRaftLeadershipError(tc.err), "")
		})
	}
}

func TestRsvc_HcLogger(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	hcl := newHcLogger(log, "svc/rank-0")
	hcl.Info("entering leader state", "leader", "svc/rank-0", 7)
	hcl.Warn("failed to contact", "server-id", "svc/rank-1")
	hcl.Named("snapshot").Error("failed", "err", "boom")

	out := buf.String()
	test.AssertTrue(t, strings.Contains(out, "svc/rank-0: entering leader state: leader=svc/rank-0"),
		"missing info message")
	test.AssertFalse(t, strings.Contains(out, "failed to contact"), "suppressed message logged")
	test.AssertTrue(t, strings.Contains(out, "svc/rank-0.snapshot: failed: err=boom"),
		"missing named message")
}
