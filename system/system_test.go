//
// (C) Copyright 2020-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package system

import (
	"testing"

	"github.com/google/uuid"

	"github.com/daos-stack/dsr/common/test"
	"github.com/daos-stack/dsr/engine"
	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/lib/ranklist"
	"github.com/daos-stack/dsr/logging"
	"github.com/daos-stack/dsr/security"
)

func TestSystem_New(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	if _, err := New(log, nil); err == nil {
		t.Fatal("expected nil config to be rejected")
	}

	bad := MockConfig(3).WithMgmtSvcReplicas(2)
	if _, err := New(log, bad); err == nil {
		t.Fatal("expected invalid config to be rejected")
	}

	sys, err := New(log, MockConfig(3))
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, "mock", sys.Name, "unexpected name")
	test.AssertEqual(t, "[0-2]", ranklist.RankSetFromRanks(sys.Ranks()).RangedString(), "unexpected ranks")

	_, err = sys.PoolList(test.Context(t))
	test.CmpErr(t, daos.NotInit, err)
	_, err = sys.Engine(7)
	test.CmpErr(t, daos.Nonexistent, err)
}

func TestSystem_StartStop(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	sys := MockSystem(t, log, MockConfig(3))
	ctx := test.Context(t)

	test.CmpErr(t, daos.Already, sys.Start(ctx))

	members, err := sys.SystemQuery(ctx)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, 3, len(members), "unexpected member count")
	for _, m := range members {
		test.AssertEqual(t, MemberStateJoined, m.State, "member not joined")
		test.AssertEqual(t, 2, m.Targets, "unexpected target count")
		test.AssertEqual(t, uint64(64<<20), m.ScmSize, "unexpected SCM size")
		test.AssertTrue(t, m.MgmtReplica, "member should host a management replica")
	}

	info, err := sys.SystemInfo(ctx)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, "mock", info.Name, "unexpected system name")
	test.AssertEqual(t, 3, len(info.MgmtSvcReplicas), "unexpected replica count")
	test.AssertTrue(t, info.MgmtSvcReplicas.Contains(info.MgmtSvcLeader), "leader is not a replica")
	fp, err := sys.Config().Fingerprint()
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, fp, info.Fingerprint, "unexpected fingerprint")

	if err := sys.Stop(); err != nil {
		t.Fatal(err)
	}
	test.CmpErr(t, nil, sys.Stop())
	_, err = sys.SystemInfo(ctx)
	test.CmpErr(t, daos.NotInit, err)
	for _, e := range sys.Engines {
		test.AssertEqual(t, engine.StateStopped, e.State(), "engine not stopped")
	}
}

func TestSystem_EngineStopStart(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	sys := MockSystem(t, log, MockConfig(3))
	ctx := test.Context(t)

	_, err := sys.EngineStop(ctx, 9)
	test.CmpErr(t, daos.Nonexistent, err)

	res, err := sys.EngineStop(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, MemberStateStopped, res.State, "unexpected result state")
	test.AssertTrue(t, !res.Errored, res.Msg)

	res, err = sys.EngineStop(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertTrue(t, res.Errored, "stopping a stopped engine should fail")

	members, err := sys.SystemQuery(ctx)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, "[0-1]", ranklist.RankSetFromRanks(members.Ranks(AvailableMemberFilter)).RangedString(),
		"unexpected available ranks")

	// Two of three management replicas still form a quorum.
	if _, err := sys.SystemInfo(ctx); err != nil {
		t.Fatal(err)
	}
	test.CmpErr(t, daos.Unreachable, sys.MgmtSvcAddReplica(ctx, 2))

	res, err = sys.EngineStart(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, MemberStateJoined, res.State, "unexpected result state")
	test.AssertTrue(t, !res.Errored, res.Msg)
}

func TestSystem_MgmtSvcReplicas(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	sys := MockSystem(t, log, MockConfig(5))
	ctx := test.Context(t)

	test.AssertEqual(t, "[0-2]", ranklist.RankSetFromRanks(sys.MgmtSvcReplicas()).RangedString(),
		"unexpected initial replicas")

	for name, tc := range map[string]struct {
		add    bool
		rank   ranklist.Rank
		expErr error
	}{
		"add existing": {
			add:    true,
			rank:   1,
			expErr: daos.Exists,
		},
		"add unknown rank": {
			add:    true,
			rank:   11,
			expErr: daos.Nonexistent,
		},
		"remove non-replica": {
			rank:   4,
			expErr: daos.NotReplica,
		},
	} {
		t.Run(name, func(t *testing.T) {
			var err error
			if tc.add {
				err = sys.MgmtSvcAddReplica(ctx, tc.rank)
			} else {
				err = sys.MgmtSvcRemoveReplica(ctx, tc.rank)
			}
			test.CmpErr(t, tc.expErr, err)
		})
	}

	if err := sys.MgmtSvcAddReplica(ctx, 3); err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, "[0-3]", ranklist.RankSetFromRanks(sys.MgmtSvcReplicas()).RangedString(),
		"replica not added")

	if err := sys.MgmtSvcRemoveReplica(ctx, 0); err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, "[1-3]", ranklist.RankSetFromRanks(sys.MgmtSvcReplicas()).RangedString(),
		"replica not removed")

	if err := sys.MgmtSvc.WaitLeader(ctx); err != nil {
		t.Fatal(err)
	}
	leader, err := sys.MgmtSvcLeader()
	if err != nil {
		t.Fatal(err)
	}
	test.AssertTrue(t, leader != 0, "removed replica is still leader")
}

func createTestPool(t *testing.T, sys *System, label string) *PoolService {
	t.Helper()

	ps, err := sys.PoolCreate(test.Context(t), &PoolCreateReq{
		Label:     label,
		ScmBytes:  6 << 20,
		NvmeBytes: 6 << 24,
	})
	if err != nil {
		t.Fatal(err)
	}
	return ps
}

func TestSystem_PoolCreate(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	sys := MockSystem(t, log, MockConfig(3))
	createTestPool(t, sys, "existing")

	for name, tc := range map[string]struct {
		req      *PoolCreateReq
		expErr   error
		expRanks string
		expSvc   int
	}{
		"nil request": {
			expErr: daos.InvalidInput,
		},
		"bad label": {
			req:    &PoolCreateReq{Label: "bad label", ScmBytes: 6 << 20},
			expErr: FaultPoolBadLabel("bad label"),
		},
		"uuid label": {
			req:    &PoolCreateReq{Label: test.MockUUID(5), ScmBytes: 6 << 20},
			expErr: FaultPoolBadLabel(test.MockUUID(5)),
		},
		"duplicate label": {
			req:    &PoolCreateReq{Label: "existing", ScmBytes: 6 << 20},
			expErr: FaultPoolDuplicateLabel("existing"),
		},
		"no scm": {
			req:    &PoolCreateReq{Label: "empty"},
			expErr: daos.InvalidInput,
		},
		"too large": {
			req:    &PoolCreateReq{Label: "huge", ScmBytes: 1 << 30},
			expErr: daos.NoSpace,
		},
		"unknown rank": {
			req:    &PoolCreateReq{Label: "lost", ScmBytes: 6 << 20, Ranks: []ranklist.Rank{5}},
			expErr: daos.Nonexistent,
		},
		"too many replicas": {
			req:    &PoolCreateReq{Label: "even", ScmBytes: 6 << 20, NumSvcReplicas: 4},
			expErr: FaultBadReplicaCount(4, 3),
		},
		"all ranks": {
			req:      &PoolCreateReq{Label: "all", ScmBytes: 6 << 20},
			expRanks: "[0-2]",
			expSvc:   3,
		},
		"subset of ranks": {
			req:      &PoolCreateReq{Label: "some", ScmBytes: 4 << 20, Ranks: []ranklist.Rank{1, 2}},
			expRanks: "[1-2]",
			expSvc:   1,
		},
	} {
		t.Run(name, func(t *testing.T) {
			ctx := test.Context(t)

			ps, err := sys.PoolCreate(ctx, tc.req)
			test.CmpErr(t, tc.expErr, err)
			if tc.expErr != nil {
				if tc.req == nil {
					return
				}
				if tc.req.Label != "existing" && daos.LabelIsValid(tc.req.Label) {
					_, err := sys.PoolQuery(ctx, tc.req.Label)
					test.CmpErr(t, daos.Nonexistent, err)
				}
				return
			}

			test.AssertEqual(t, PoolServiceStateReady, ps.State, "pool not ready")
			test.AssertEqual(t, tc.expRanks, ps.Storage.CreationRankStr, "unexpected pool ranks")
			test.AssertEqual(t, tc.expSvc, len(ps.Replicas), "unexpected replica count")
			test.AssertEqual(t, tc.req.ScmBytes, ps.Storage.TotalSCM(), "unexpected SCM total")

			cred, err := security.CurrentCredential()
			if err != nil {
				t.Fatal(err)
			}
			test.AssertEqual(t, security.PrincipalName(cred.User), ps.Owner, "unexpected owner")

			rec, err := sys.PoolQuery(ctx, ps.PoolUUID.String())
			if err != nil {
				t.Fatal(err)
			}
			test.AssertEqual(t, PoolServiceStateReady, rec.State, "record not ready")
		})
	}
}

func TestSystem_PoolCreate_StoppedRank(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	sys := MockSystem(t, log, MockConfig(3))
	ctx := test.Context(t)

	if _, err := sys.EngineStop(ctx, 2); err != nil {
		t.Fatal(err)
	}

	_, err := sys.PoolCreate(ctx, &PoolCreateReq{
		Label:    "stopped",
		ScmBytes: 2 << 20,
		Ranks:    []ranklist.Rank{2},
	})
	test.CmpErr(t, daos.Unreachable, err)

	ps, err := sys.PoolCreate(ctx, &PoolCreateReq{Label: "running", ScmBytes: 4 << 20})
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, "[0-1]", ps.Storage.CreationRankStr, "stopped rank used by pool")
	test.AssertEqual(t, 1, len(ps.Replicas), "unexpected replica count")
}

func TestSystem_PoolDestroy(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	sys := MockSystem(t, log, MockConfig(3))
	ctx := test.Context(t)
	ps := createTestPool(t, sys, "tank")

	svc, err := sys.PoolResolve(ctx, "tank")
	if err != nil {
		t.Fatal(err)
	}
	cred, err := security.CurrentCredential()
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Connect(ctx, uuid.New(), cred, daos.PoolConnectFlagReadWrite); err != nil {
		t.Fatal(err)
	}

	test.CmpErr(t, daos.Busy, sys.PoolDestroy(ctx, "tank", false))
	test.CmpErr(t, daos.Nonexistent, sys.PoolDestroy(ctx, "missing", false))

	if err := sys.PoolDestroy(ctx, ps.PoolUUID.String(), true); err != nil {
		t.Fatal(err)
	}
	_, err = sys.PoolQuery(ctx, "tank")
	test.CmpErr(t, daos.Nonexistent, err)
	_, err = sys.PoolResolve(ctx, ps.PoolUUID.String())
	test.CmpErr(t, daos.Nonexistent, err)

	for _, e := range sys.Engines {
		for _, tgt := range e.Targets {
			test.AssertEqual(t, 0, len(tgt.Pools()), "pool storage not released")
		}
	}

	// The label can be used again.
	createTestPool(t, sys, "tank")
}

func TestSystem_PoolList(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	sys := MockSystem(t, log, MockConfig(3))
	ctx := test.Context(t)

	pools, err := sys.PoolList(ctx)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, 0, len(pools), "unexpected pools")

	for _, label := range []string{"beta", "alpha"} {
		createTestPool(t, sys, label)
	}

	pools, err = sys.PoolList(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var labels []string
	for _, ps := range pools {
		labels = append(labels, ps.PoolLabel)
		test.AssertEqual(t, 3, len(ps.Replicas), "unexpected replicas")

		replicas, err := sys.PoolSvcReplicas(ctx, ps.PoolLabel)
		if err != nil {
			t.Fatal(err)
		}
		test.CmpAny(t, "pool service replicas", ps.Replicas, []ranklist.Rank(replicas))
	}
	test.CmpAny(t, "pool labels", []string{"alpha", "beta"}, labels)
}

func TestSystem_PoolResolve(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	sys := MockSystem(t, log, MockConfig(3))
	ps := createTestPool(t, sys, "tank")

	for name, tc := range map[string]struct {
		id     string
		expErr error
	}{
		"by label": {
			id: "tank",
		},
		"by uuid": {
			id: ps.PoolUUID.String(),
		},
		"unknown label": {
			id:     "pond",
			expErr: daos.Nonexistent,
		},
		"unknown uuid": {
			id:     uuid.New().String(),
			expErr: daos.Nonexistent,
		},
	} {
		t.Run(name, func(t *testing.T) {
			svc, err := sys.PoolResolve(test.Context(t), tc.id)
			test.CmpErr(t, tc.expErr, err)
			if tc.expErr != nil {
				return
			}
			test.AssertEqual(t, ps.PoolUUID, svc.UUID, "resolved wrong pool")
		})
	}
}

func TestSystem_PoolSetProps(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	sys := MockSystem(t, log, MockConfig(3))
	ctx := test.Context(t)
	createTestPool(t, sys, "tank")
	createTestPool(t, sys, "pond")

	labelProps := func(label string) *daos.PropertyList {
		props := daos.NewPoolPropertyList()
		if err := props.Set("label", label); err != nil {
			t.Fatal(err)
		}
		return props
	}

	test.CmpErr(t, FaultPoolDuplicateLabel("pond"), sys.PoolSetProps(ctx, "tank", labelProps("pond")))

	if err := sys.PoolSetProps(ctx, "tank", labelProps("lake")); err != nil {
		t.Fatal(err)
	}
	_, err := sys.PoolQuery(ctx, "tank")
	test.CmpErr(t, daos.Nonexistent, err)

	svc, err := sys.PoolResolve(ctx, "lake")
	if err != nil {
		t.Fatal(err)
	}
	label, err := svc.Label(ctx)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, "lake", label, "pool service label not updated")
}

func TestSystem_PoolBlobstoreStates(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	sys := MockSystem(t, log, MockConfig(3))
	ctx := test.Context(t)
	ps := createTestPool(t, sys, "tank")

	svc, err := sys.PoolResolve(ctx, "tank")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.UpdateTargets(ctx, daos.PoolTargetOpExclude, 1, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := sys.EngineStop(ctx, 2); err != nil {
		t.Fatal(err)
	}

	states, err := sys.PoolBlobstoreStates(ctx, ps.PoolUUID.String())
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, 6, len(states), "unexpected target count")

	got := make(map[ranklist.Rank][]engine.BlobstoreState)
	for _, tbs := range states {
		got[tbs.Rank] = append(got[tbs.Rank], tbs.State)
	}
	test.CmpAny(t, "blobstore states", map[ranklist.Rank][]engine.BlobstoreState{
		0: {engine.BlobstoreNormal, engine.BlobstoreNormal},
		1: {engine.BlobstoreOut, engine.BlobstoreNormal},
		2: {engine.BlobstoreFaulty, engine.BlobstoreFaulty},
	}, got)
}

func TestSystem_StaleRecordsDropped(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	cfg := MockConfig(1).WithRaftDir(test.CreateTestDir(t))

	sys := MockSystem(t, log, cfg)
	createTestPool(t, sys, "tank")
	if err := sys.Stop(); err != nil {
		t.Fatal(err)
	}

	restarted := MockSystem(t, log, cfg)
	pools, err := restarted.PoolList(test.Context(t))
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, 0, len(pools), "stale pool record survived restart")
}
