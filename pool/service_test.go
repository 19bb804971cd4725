//
// (C) Copyright 2020-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package pool

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/daos-stack/dsr/common/test"
	"github.com/daos-stack/dsr/engine"
	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/lib/ranklist"
	"github.com/daos-stack/dsr/logging"
	"github.com/daos-stack/dsr/placement"
	"github.com/daos-stack/dsr/rsvc"
	"github.com/daos-stack/dsr/security"
)

type testEngines map[ranklist.Rank]*engine.Engine

func (te testEngines) Engine(rank ranklist.Rank) (*engine.Engine, error) {
	e, found := te[rank]
	if !found {
		return nil, errors.Wrapf(daos.Nonexistent, "rank %d", rank)
	}
	return e, nil
}

func startEngines(t *testing.T, log logging.Logger, ranks, targets int) testEngines {
	t.Helper()

	te := make(testEngines)
	for r := 0; r < ranks; r++ {
		e, err := engine.New(log, engine.Config{
			Rank:     ranklist.Rank(r),
			Targets:  targets,
			SCMSize:  uint64(targets) << 24,
			NVMeSize: uint64(targets) << 28,
		}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := e.Start(); err != nil {
			t.Fatal(err)
		}
		te[e.Rank] = e
	}
	return te
}

func testConfig(metrics *Metrics) Config {
	return Config{
		Raft: rsvc.Config{
			HeartbeatTimeout:   50 * time.Millisecond,
			ElectionTimeout:    50 * time.Millisecond,
			LeaderLeaseTimeout: 25 * time.Millisecond,
			CommitTimeout:      time.Millisecond,
			ApplyTimeout:       5 * time.Second,
		},
		Metrics: metrics,
	}
}

func createPool(t *testing.T, log logging.Logger, te testEngines, metrics *Metrics, mod func(*CreateReq)) *Service {
	t.Helper()

	req := &CreateReq{
		UUID:      uuid.New(),
		Label:     "tank",
		Owner:     ownerCred.User,
		Group:     ownerCred.Group,
		SvcRanks:  []ranklist.Rank{0, 1, 2},
		ScmBytes:  1 << 20,
		NvmeBytes: 1 << 24,
	}
	for rank := range te {
		req.Ranks = append(req.Ranks, rank)
	}
	if mod != nil {
		mod(req)
	}

	svc, err := Create(test.Context(t), log, te, testConfig(metrics), req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := svc.Shutdown(); err != nil {
			t.Log(err)
		}
	})
	return svc
}

func openCont(t *testing.T, svc *Service, props *daos.PropertyList) uuid.UUID {
	t.Helper()

	ctx := test.Context(t)
	id, err := svc.ContCreate(ctx, ownerCred, &ContCreateReq{Props: props})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ContOpen(ctx, ownerCred, id.String(), uuid.New(), daos.ContainerOpenFlagReadWrite); err != nil {
		t.Fatal(err)
	}
	return id
}

func update(t *testing.T, svc *Service, cont uuid.UUID, oid daos.ObjectID, dkey, val string) daos.Epoch {
	t.Helper()

	epoch, err := svc.Commit(cont, func(e daos.Epoch) error {
		return svc.ObjUpdate(cont, oid, e, daos.Key(dkey),
			[]daos.IOD{{Name: daos.Key("a"), Type: daos.IODTypeSingle, Size: uint64(len(val))}},
			[]daos.SGList{{[]byte(val)}})
	})
	if err != nil {
		t.Fatal(err)
	}
	return epoch
}

func fetch(t *testing.T, svc *Service, cont uuid.UUID, oid daos.ObjectID, epoch daos.Epoch, dkey string) string {
	t.Helper()

	sgls, _, err := svc.ObjFetch(cont, oid, epoch, daos.Key(dkey),
		[]daos.IOD{{Name: daos.Key("a"), Type: daos.IODTypeSingle}})
	if err != nil {
		t.Fatal(err)
	}
	return string(sgls[0].Flatten())
}

func TestPool_Service_Create(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	te := startEngines(t, log, 3, 2)
	ctx := test.Context(t)

	_, err := Create(ctx, log, te, testConfig(nil), &CreateReq{UUID: uuid.New(), Ranks: []ranklist.Rank{0}})
	test.CmpErr(t, daos.InvalidInput, err)
	_, err = Create(ctx, log, te, testConfig(nil), &CreateReq{
		UUID:     uuid.New(),
		Ranks:    []ranklist.Rank{0, 1},
		SvcRanks: []ranklist.Rank{0},
		ScmBytes: 1 << 30,
	})
	test.CmpErr(t, daos.NoSpace, err)
	for _, tgt := range te[0].Targets {
		test.AssertEqual(t, 0, len(tgt.Pools()), "shards leaked after failed create")
	}

	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	if err != nil {
		t.Fatal(err)
	}
	svc := createPool(t, log, te, metrics, nil)

	info, err := svc.Query(ctx, daos.MustNewPoolQueryMask(daos.PoolQueryOptionSpace, daos.PoolQueryOptionEnabledEngines))
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, "tank", info.Label, "unexpected label")
	test.AssertEqual(t, uint32(6), info.TotalTargets, "unexpected target count")
	test.AssertEqual(t, uint32(6), info.ActiveTargets, "unexpected active targets")
	test.AssertEqual(t, uint32(3), info.TotalEngines, "unexpected engine count")
	test.AssertEqual(t, "0-2", info.EnabledRanks.String(), "unexpected enabled ranks")
	test.AssertEqual(t, daos.PoolServiceStateReady, info.State, "unexpected state")
	test.AssertEqual(t, uint64(6<<20), info.TierStats[0].Total, "unexpected scm total")
	test.AssertEqual(t, uint64(1<<20), info.TierStats[0].Min, "unexpected scm min free")
	test.AssertTrue(t, info.Rebuild == nil, "rebuild status not requested")

	hdl := uuid.New()
	if err := svc.Connect(ctx, hdl, ownerCred, daos.PoolConnectFlagReadWrite); err != nil {
		t.Fatal(err)
	}
	test.CmpErr(t, daos.InvalidInput, svc.Connect(ctx, uuid.New(), ownerCred, 0))
	test.CmpErr(t, nil, svc.CheckHandle(ctx, hdl))
	test.CmpErr(t, daos.Busy, svc.Destroy(ctx, false))

	test.AssertEqual(t, 1.0, testutil.ToFloat64(metrics.handles.WithLabelValues(svc.UUID.String())),
		"unexpected handle gauge")
	test.AssertEqual(t, 1.0, testutil.ToFloat64(metrics.svcOps.WithLabelValues(svc.UUID.String(), "connect")),
		"unexpected connect count")

	test.CmpErr(t, nil, svc.Destroy(ctx, true))
	_, err = svc.Query(ctx, 0)
	test.CmpErr(t, daos.NoService, err)
	for _, e := range te {
		for _, tgt := range e.Targets {
			test.AssertEqual(t, 0, len(tgt.Pools()), "shards not released")
		}
	}
	test.AssertEqual(t, 0, testutil.CollectAndCount(metrics.handles), "gauges not removed")
}

func TestPool_Service_AttrsPropsACL(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	svc := createPool(t, log, startEngines(t, log, 3, 1), nil, nil)
	ctx := test.Context(t)

	hdl := uuid.New()
	if err := svc.Connect(ctx, hdl, ownerCred, daos.PoolConnectFlagReadWrite); err != nil {
		t.Fatal(err)
	}
	attrs := daos.AttributeList{{Name: "b", Value: []byte("2")}, {Name: "a", Value: []byte("1")}}
	test.CmpErr(t, nil, svc.SetAttrs(ctx, hdl, attrs))
	test.CmpErr(t, daos.InvalidInput, svc.SetAttrs(ctx, hdl, nil))

	names, err := svc.ListAttrs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	test.CmpAny(t, "attribute names", []string{"a", "b"}, names)
	got, err := svc.GetAttrs(ctx, "b")
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, "2", string(got[0].Value), "unexpected attribute value")
	_, err = svc.GetAttrs(ctx, "missing")
	test.CmpErr(t, daos.Nonexistent, err)
	test.CmpErr(t, nil, svc.DelAttrs(ctx, hdl, "a"))

	props := daos.NewPoolPropertyList()
	if err := props.Set("label", "renamed"); err != nil {
		t.Fatal(err)
	}
	test.CmpErr(t, nil, svc.SetProps(ctx, props))
	label, err := svc.Label(ctx)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, "renamed", label, "label not updated")

	got2, err := svc.GetProps(ctx, "label", "owner", "reclaim")
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, 2, got2.Len(), "unset property returned")
	test.AssertEqual(t, ownerCred.User, got2.Str("owner", ""), "unexpected owner")

	test.CmpErr(t, nil, svc.UpdateACL(ctx, daos.MustParseACL("A:G:readers@:r")))
	acl, owner, _, err := svc.GetACL(ctx)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, ownerCred.User, owner, "unexpected owner")
	test.AssertEqual(t, 3, len(acl.Entries), "ACL entry not added")
	test.CmpErr(t, nil, svc.DeleteACL(ctx, "g:readers@"))
	test.CmpErr(t, daos.Nonexistent, svc.DeleteACL(ctx, "g:readers@"))
}

func TestPool_Service_Containers(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	svc := createPool(t, log, startEngines(t, log, 3, 1), nil, nil)
	ctx := test.Context(t)

	props := daos.NewContainerPropertyList()
	if err := props.Set("label", "scratch"); err != nil {
		t.Fatal(err)
	}
	if err := props.Set("rd_fac", "1"); err != nil {
		t.Fatal(err)
	}
	id, err := svc.ContCreate(ctx, ownerCred, &ContCreateReq{Props: props})
	if err != nil {
		t.Fatal(err)
	}
	_, err = svc.ContCreate(ctx, ownerCred, &ContCreateReq{Label: "scratch"})
	test.CmpErr(t, daos.Exists, err)

	resolved, err := svc.ResolveContainer(ctx, "scratch")
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, id, resolved, "unexpected container")

	hdl := uuid.New()
	info, err := svc.ContOpen(ctx, ownerCred, "scratch", hdl, daos.ContainerOpenFlagReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, daos.ObjectClassRP2GX, info.ObjectClass, "unexpected default class")
	test.AssertEqual(t, uint32(1), info.NumHandles, "unexpected handle count")
	test.AssertEqual(t, uint64(daos.DefaultChunkSize), info.ChunkSize, "unexpected chunk size")

	first, err := svc.ContAllocOIDs(ctx, id, 5)
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.ContAllocOIDs(ctx, id, 1)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, uint64(1), first, "unexpected first OID")
	test.AssertEqual(t, uint64(6), second, "OID range reused")

	got, err := svc.ContGetProps(ctx, id, "alloc_oid", "label")
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, uint64(6), got.Number("alloc_oid", 0), "unexpected alloc_oid")

	test.CmpErr(t, nil, svc.ContSetAttrs(ctx, ownerCred, id, daos.AttributeList{{Name: "k", Value: []byte("v")}}))
	test.CmpErr(t, daos.NoPermission, svc.ContSetAttrs(ctx, security.NewCredential("eve", "guests"), id,
		daos.AttributeList{{Name: "k", Value: []byte("x")}}))
	attrs, err := svc.ContGetAttrs(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, "v", string(attrs[0].Value), "unexpected attribute")

	_, _, _, err = svc.ContGetACL(ctx, security.NewCredential("eve", "guests"), id)
	test.CmpErr(t, daos.NoPermission, err)

	conts, err := svc.ListContainers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, 1, len(conts), "unexpected container count")
	test.AssertEqual(t, "scratch", conts[0].ContainerLabel, "unexpected container label")

	test.CmpErr(t, daos.Busy, svc.ContDestroy(ctx, ownerCred, "scratch", false))
	test.CmpErr(t, nil, svc.ContClose(ctx, id, hdl))
	test.CmpErr(t, nil, svc.ContDestroy(ctx, ownerCred, "scratch", false))
	_, err = svc.ContQuery(ctx, id.String())
	test.CmpErr(t, daos.Nonexistent, err)
	_, err = svc.Commit(id, func(daos.Epoch) error { return nil })
	test.CmpErr(t, daos.NoHandle, err)
}

func TestPool_Service_ObjectIO(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	svc := createPool(t, log, startEngines(t, log, 3, 2), nil, nil)
	ctx := test.Context(t)
	cont := openCont(t, svc, nil)
	oid := daos.GenerateOID(0, 1, daos.ObjectTypeMultiHashed, daos.ObjectClassSX)

	for i := 0; i < 10; i++ {
		update(t, svc, cont, oid, fmt.Sprintf("dkey%02d", i), fmt.Sprintf("v%d", i))
	}
	test.AssertEqual(t, "v3", fetch(t, svc, cont, oid, daos.EpochMax, "dkey03"), "unexpected value")
	test.AssertEqual(t, "", fetch(t, svc, cont, oid, daos.EpochMax, "nokey"), "value for missing dkey")

	var listed []string
	anchor := new(daos.Anchor)
	for !anchor.EOF() {
		keys, err := svc.ObjListDkeys(cont, oid, daos.EpochMax, anchor, 3)
		if err != nil {
			t.Fatal(err)
		}
		test.AssertTrue(t, len(keys) <= 3, "too many keys returned")
		for _, k := range keys {
			listed = append(listed, string(k))
		}
	}
	test.AssertEqual(t, 10, len(listed), "unexpected dkey count")
	for i := 1; i < len(listed); i++ {
		test.AssertTrue(t, listed[i-1] < listed[i], "dkeys not in order")
	}

	res, err := svc.ObjQueryKey(cont, oid, daos.EpochMax, daos.QueryKeyGetDkey|daos.QueryKeyMax, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, "dkey09", string(res.Dkey), "unexpected max dkey")

	epoch, err := svc.Commit(cont, func(e daos.Epoch) error {
		return svc.ObjPunchDkeys(cont, oid, e, daos.Key("dkey09"))
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err = svc.ObjQueryKey(cont, oid, daos.EpochMax, daos.QueryKeyGetDkey|daos.QueryKeyMax, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, "dkey08", string(res.Dkey), "punched dkey returned")
	test.AssertEqual(t, "v9", fetch(t, svc, cont, oid, epoch-1, "dkey09"), "old version not visible")

	last, err := svc.ObjLastModified(cont, oid, daos.Key("dkey09"), nil)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, epoch, last, "unexpected last modified epoch")

	other := daos.GenerateOID(0, 2, daos.ObjectTypeMultiHashed, daos.ObjectClassS1)
	update(t, svc, cont, other, "k", "v")
	oids, err := svc.ListObjects(cont, daos.EpochMax, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, 2, len(oids), "unexpected object count")
	test.AssertTrue(t, oids[0].Less(oids[1]), "objects not in order")

	anchor = new(daos.Anchor)
	page, err := svc.ListObjects(cont, daos.EpochMax, anchor, 1)
	if err != nil {
		t.Fatal(err)
	}
	test.CmpAny(t, "first page", oids[:1], page)
	test.AssertFalse(t, anchor.EOF(), "anchor at EOF after first page")
	page, err = svc.ListObjects(cont, daos.EpochMax, anchor, 1)
	if err != nil {
		t.Fatal(err)
	}
	test.CmpAny(t, "second page", oids[1:], page)
	test.AssertTrue(t, anchor.EOF(), "anchor not at EOF")

	committed, err := svc.ContEpoch(cont)
	if err != nil {
		t.Fatal(err)
	}
	info, err := svc.ContQuery(ctx, cont.String())
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, committed, info.CommittedEpoch, "unexpected committed epoch")
}

func TestPool_Service_Snapshots(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	svc := createPool(t, log, startEngines(t, log, 3, 1), nil, nil)
	ctx := test.Context(t)
	cont := openCont(t, svc, nil)
	oid := daos.GenerateOID(0, 1, daos.ObjectTypeMultiHashed, daos.ObjectClassS1)

	update(t, svc, cont, oid, "d", "one")
	snap, err := svc.ContCreateSnap(ctx, cont, "first")
	if err != nil {
		t.Fatal(err)
	}
	update(t, svc, cont, oid, "d", "two")
	test.AssertTrue(t, snap > 0, "zero snapshot epoch")

	test.AssertEqual(t, "two", fetch(t, svc, cont, oid, daos.EpochMax, "d"), "unexpected current value")
	test.AssertEqual(t, "one", fetch(t, svc, cont, oid, snap, "d"), "unexpected snapshot value")

	_, err = svc.ContCreateSnap(ctx, cont, "first")
	test.CmpErr(t, daos.Exists, err)

	snaps, err := svc.ContListSnaps(ctx, cont)
	if err != nil {
		t.Fatal(err)
	}
	test.CmpAny(t, "snapshots", []*Snapshot{{Epoch: snap, Name: "first"}}, snaps)

	test.CmpErr(t, nil, svc.ContAggregate(ctx, cont, 0))
	test.AssertEqual(t, "one", fetch(t, svc, cont, oid, snap, "d"), "aggregation removed snapshot data")

	test.CmpErr(t, daos.InvalidInput, svc.ContRollback(ctx, cont, snap+1))
	test.CmpErr(t, nil, svc.ContRollback(ctx, cont, snap))
	test.AssertEqual(t, "one", fetch(t, svc, cont, oid, daos.EpochMax, "d"), "rollback did not restore value")

	test.CmpErr(t, nil, svc.ContDestroySnap(ctx, cont, daos.EpochRange{Lo: snap}))
	test.CmpErr(t, daos.Nonexistent, svc.ContDestroySnap(ctx, cont, daos.EpochRange{Lo: snap}))
	test.CmpErr(t, daos.InvalidInput, svc.ContDestroySnap(ctx, cont, daos.EpochRange{Lo: 5, Hi: 2}))
}

func TestPool_Service_Subscribe(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	svc := createPool(t, log, startEngines(t, log, 3, 1), nil, nil)
	cont := openCont(t, svc, nil)
	oid := daos.GenerateOID(0, 1, daos.ObjectTypeMultiHashed, daos.ObjectClassS1)

	start := update(t, svc, cont, oid, "d", "v")

	done := make(chan daos.Epoch, 1)
	go func() {
		e, err := svc.ContSubscribe(test.Context(t), cont, start)
		if err != nil {
			t.Error(err)
		}
		done <- e
	}()

	next := update(t, svc, cont, oid, "d", "w")
	select {
	case e := <-done:
		test.AssertTrue(t, e >= next, "subscription returned stale epoch")
	case <-time.After(5 * time.Second):
		t.Fatal("subscription not notified")
	}

	ctx, cancel := context.WithTimeout(test.Context(t), 10*time.Millisecond)
	defer cancel()
	_, err := svc.ContSubscribe(ctx, cont, next)
	test.CmpErr(t, daos.TimedOut, err)
}

func TestPool_Service_Degraded(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	te := startEngines(t, log, 3, 2)
	svc := createPool(t, log, te, nil, nil)
	ctx := test.Context(t)
	cont := openCont(t, svc, nil)
	oid := daos.GenerateOID(0, 1, daos.ObjectTypeMultiHashed, daos.ObjectClassRP2GX)

	layout, err := svc.ObjLayout(cont, oid)
	if err != nil {
		t.Fatal(err)
	}
	var dkey string
	for i := 0; dkey == ""; i++ {
		k := fmt.Sprintf("key%d", i)
		for _, ref := range layout.Groups[placement.GroupForDkey(layout, daos.Key(k))] {
			if ref.Rank == 1 {
				dkey = k
			}
		}
	}
	update(t, svc, cont, oid, dkey, "before")

	if err := te[1].Stop(); err != nil {
		t.Fatal(err)
	}
	test.CmpErr(t, nil, svc.EngineStopped(1))

	test.AssertEqual(t, "before", fetch(t, svc, cont, oid, daos.EpochMax, dkey), "replica read failed")
	_, err = svc.Commit(cont, func(e daos.Epoch) error {
		return svc.ObjUpdate(cont, oid, e, daos.Key(dkey),
			[]daos.IOD{{Name: daos.Key("a"), Type: daos.IODTypeSingle, Size: 1}},
			[]daos.SGList{{[]byte("x")}})
	})
	test.CmpErr(t, daos.Unreachable, err)

	test.CmpErr(t, nil, svc.UpdateTargets(ctx, daos.PoolTargetOpExclude, 1))
	update(t, svc, cont, oid, dkey, "after")
	test.AssertEqual(t, "after", fetch(t, svc, cont, oid, daos.EpochMax, dkey), "degraded write lost")

	info, err := svc.Query(ctx, daos.MustNewPoolQueryMask(daos.PoolQueryOptionDisabledEngines, daos.PoolQueryOptionRebuild))
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, daos.PoolServiceStateDegraded, info.State, "pool not degraded")
	test.AssertEqual(t, uint32(2), info.DisabledTargets, "unexpected disabled targets")
	test.AssertEqual(t, "1", info.DisabledRanks.String(), "unexpected disabled ranks")
	test.AssertEqual(t, daos.PoolRebuildStateDone, info.Rebuild.State, "unexpected rebuild state")

	test.CmpErr(t, daos.NotImpl, svc.UpdateTargets(ctx, daos.PoolTargetOpExtend, 1))
	test.CmpErr(t, daos.OutOfGroup, svc.AddReplicas(ctx, 7))

	tgts, err := svc.QueryTargets(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	for _, ti := range tgts {
		test.AssertEqual(t, daos.PoolTargetStateDownOut, ti.State, "unexpected target state")
	}
}
