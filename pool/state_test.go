//
// (C) Copyright 2020-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package pool

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/daos-stack/dsr/common/test"
	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/rsvc"
	"github.com/daos-stack/dsr/security"
)

var (
	testPoolUUID = test.MockPoolUUID(1)
	testTime     = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ownerCred    = security.NewCredential("alice", "staff")
	memberCred   = security.NewCredential("bob", "staff")
	otherCred    = security.NewCredential("eve", "guests")
)

func applyOp(t *testing.T, ps *poolState, op rsvc.Op, req interface{}) error {
	t.Helper()

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	return ps.Apply(op, data)
}

func mustApply(t *testing.T, ps *poolState, op rsvc.Op, req interface{}) {
	t.Helper()

	if err := applyOp(t, ps, op, req); err != nil {
		t.Fatalf("%s: %s", opName(op), err)
	}
}

func initState(t *testing.T) *poolState {
	t.Helper()

	ps := newPoolState().(*poolState)
	mustApply(t, ps, opInit, &initReq{
		UUID:  testPoolUUID,
		Label: "tank",
		Owner: ownerCred.User,
		Group: ownerCred.Group,
		Map:   NewMap(testRefs(2, 2)),
		Time:  testTime,
	})
	return ps
}

func createCont(t *testing.T, ps *poolState, label string, props *daos.PropertyList) uuid.UUID {
	t.Helper()

	req := &contCreateReq{UUID: uuid.New(), Label: label, Cred: ownerCred, Time: testTime}
	if props != nil {
		data, err := json.Marshal(props)
		if err != nil {
			t.Fatal(err)
		}
		req.Props = data
	}
	mustApply(t, ps, opContCreate, req)
	return req.UUID
}

func TestPool_State_Init(t *testing.T) {
	ps := newPoolState().(*poolState)

	test.CmpErr(t, daos.NotInit, applyOp(t, ps, opConnect, &connectReq{Handle: uuid.New()}))
	test.CmpErr(t, daos.InvalidInput, applyOp(t, ps, opInit, &initReq{UUID: testPoolUUID, Map: &Map{Version: 1}}))

	ps = initState(t)
	test.CmpErr(t, daos.Exists, applyOp(t, ps, opInit, &initReq{UUID: testPoolUUID, Map: NewMap(testRefs(1, 1))}))
	test.AssertEqual(t, "tank", ps.data.Label, "unexpected label")
	test.AssertFalse(t, ps.data.ACL.Empty(), "default ACL not applied")
	test.CmpErr(t, daos.InvalidInput, applyOp(t, ps, rsvc.Op(99), struct{}{}))
}

func TestPool_State_Connect(t *testing.T) {
	for name, tc := range map[string]struct {
		held   daos.PoolConnectFlag
		cred   *security.Credential
		flags  daos.PoolConnectFlag
		expErr error
	}{
		"owner rw": {
			cred:  ownerCred,
			flags: daos.PoolConnectFlagReadWrite,
		},
		"group member rw": {
			cred:  memberCred,
			flags: daos.PoolConnectFlagReadWrite,
		},
		"stranger": {
			cred:   otherCred,
			flags:  daos.PoolConnectFlagReadOnly,
			expErr: daos.NoPermission,
		},
		"admin": {
			flags: daos.PoolConnectFlagExclusive,
		},
		"exclusive held": {
			held:   daos.PoolConnectFlagExclusive,
			cred:   ownerCred,
			flags:  daos.PoolConnectFlagReadOnly,
			expErr: daos.Busy,
		},
		"exclusive with handles": {
			held:   daos.PoolConnectFlagReadOnly,
			cred:   ownerCred,
			flags:  daos.PoolConnectFlagExclusive,
			expErr: daos.Busy,
		},
	} {
		t.Run(name, func(t *testing.T) {
			ps := initState(t)
			if tc.held != 0 {
				mustApply(t, ps, opConnect, &connectReq{Handle: uuid.New(), Flags: tc.held})
			}

			hdl := uuid.New()
			err := applyOp(t, ps, opConnect, &connectReq{Handle: hdl, Flags: tc.flags, Cred: tc.cred, Time: testTime})
			test.CmpErr(t, tc.expErr, err)
			if tc.expErr != nil {
				return
			}

			test.CmpErr(t, daos.Exists, applyOp(t, ps, opConnect, &connectReq{Handle: hdl, Flags: tc.flags}))
			mustApply(t, ps, opDisconnect, &handleReq{Handle: hdl})
			test.CmpErr(t, daos.NoHandle, applyOp(t, ps, opDisconnect, &handleReq{Handle: hdl}))
		})
	}
}

func TestPool_State_Attrs(t *testing.T) {
	ps := initState(t)

	ro, rw := uuid.New(), uuid.New()
	mustApply(t, ps, opConnect, &connectReq{Handle: ro, Flags: daos.PoolConnectFlagReadOnly})
	mustApply(t, ps, opConnect, &connectReq{Handle: rw, Flags: daos.PoolConnectFlagReadWrite})

	attrs := map[string][]byte{"a": []byte("1"), "b": []byte("2")}
	test.CmpErr(t, daos.NoPermission, applyOp(t, ps, opSetAttrs, &attrReq{Handle: ro, Attrs: attrs}))
	test.CmpErr(t, daos.NoHandle, applyOp(t, ps, opSetAttrs, &attrReq{Handle: uuid.New(), Attrs: attrs}))
	mustApply(t, ps, opSetAttrs, &attrReq{Handle: rw, Attrs: attrs})
	mustApply(t, ps, opDelAttrs, &attrReq{Handle: rw, Names: []string{"a", "missing"}})

	test.CmpAny(t, "attributes", map[string][]byte{"b": []byte("2")}, ps.data.Attrs)

	mustApply(t, ps, opEvict, struct{}{})
	test.AssertEqual(t, 0, len(ps.data.Handles), "handles not evicted")
}

func TestPool_State_Props(t *testing.T) {
	ps := initState(t)

	props := daos.NewPoolPropertyList()
	if err := props.Set("label", "newtank"); err != nil {
		t.Fatal(err)
	}
	if err := props.Set("reclaim", "lazy"); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(props)
	if err != nil {
		t.Fatal(err)
	}
	mustApply(t, ps, opSetProps, &propReq{Props: data})

	test.AssertEqual(t, "newtank", ps.data.Label, "label not updated")
	test.AssertEqual(t, uint64(daos.PoolSpaceReclaimLazy), ps.data.Props.Number("reclaim", 99), "reclaim not set")
	_, err = ps.data.Props.Get("label")
	test.CmpErr(t, daos.Nonexistent, err)

	acl := daos.MustParseACL("A::OWNER@:rw", "A::eve@:r")
	mustApply(t, ps, opSetACL, &aclReq{Mode: aclOverwrite, ACL: acl})
	test.AssertEqual(t, 2, len(ps.data.ACL.Entries), "ACL not replaced")
	mustApply(t, ps, opSetACL, &aclReq{Mode: aclDelete, Principal: "u:eve@"})
	test.AssertEqual(t, 1, len(ps.data.ACL.Entries), "ACL entry not removed")
	test.CmpErr(t, daos.InvalidInput, applyOp(t, ps, opSetACL, &aclReq{Mode: aclUpdate}))
}

func TestPool_State_Containers(t *testing.T) {
	ps := initState(t)

	id := createCont(t, ps, "c1", nil)
	cr := ps.data.Containers[id]
	test.AssertEqual(t, ownerCred.User, cr.Owner, "owner not taken from credential")
	test.AssertEqual(t, uint64(1), cr.NextOID, "unexpected first OID")

	test.CmpErr(t, daos.Exists, applyOp(t, ps, opContCreate, &contCreateReq{UUID: uuid.New(), Label: "c1"}))
	test.CmpErr(t, daos.Exists, applyOp(t, ps, opContCreate, &contCreateReq{UUID: id}))
	test.CmpErr(t, daos.NoPermission, applyOp(t, ps, opContCreate, &contCreateReq{UUID: uuid.New(), Cred: otherCred}))

	found, err := ps.data.resolveContainer("c1")
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, id, found.UUID, "label resolved to wrong container")
	_, err = ps.data.resolveContainer(uuid.New().String())
	test.CmpErr(t, daos.Nonexistent, err)

	hdl := uuid.New()
	test.CmpErr(t, daos.NoPermission, applyOp(t, ps, opContOpen, &contOpenReq{
		UUID: id, Handle: uuid.New(), Flags: daos.ContainerOpenFlagReadOnly, Cred: otherCred,
	}))
	mustApply(t, ps, opContOpen, &contOpenReq{UUID: id, Handle: hdl, Flags: daos.ContainerOpenFlagReadWrite, Cred: ownerCred, Time: testTime})
	test.CmpErr(t, daos.Busy, applyOp(t, ps, opContOpen, &contOpenReq{
		UUID: id, Handle: uuid.New(), Flags: daos.ContainerOpenFlagExclusive,
	}))
	test.CmpErr(t, daos.Busy, applyOp(t, ps, opContDestroy, &contDestroyReq{UUID: id, Cred: ownerCred}))

	closeTime := testTime.Add(time.Minute)
	mustApply(t, ps, opContClose, &contCloseReq{UUID: id, Handle: hdl, Committed: 42, Time: closeTime})
	test.AssertEqual(t, uint64(42), cr.Committed, "committed epoch not recorded")
	test.AssertTrue(t, cr.CloseModifyTime.Equal(closeTime), "close time not updated")
	test.CmpErr(t, daos.NoHandle, applyOp(t, ps, opContClose, &contCloseReq{UUID: id, Handle: hdl}))

	test.CmpErr(t, daos.NoPermission, applyOp(t, ps, opContDestroy, &contDestroyReq{UUID: id, Cred: otherCred}))
	mustApply(t, ps, opContDestroy, &contDestroyReq{UUID: id, Cred: ownerCred})
	test.CmpErr(t, daos.Nonexistent, applyOp(t, ps, opContDestroy, &contDestroyReq{UUID: id}))
}

func TestPool_State_ContSetProps(t *testing.T) {
	ps := initState(t)
	id := createCont(t, ps, "c1", nil)
	other := createCont(t, ps, "c2", nil)

	setProp := func(cred *security.Credential, name, val string) error {
		props := daos.NewContainerPropertyList()
		if err := props.Set(name, val); err != nil {
			t.Fatal(err)
		}
		data, err := json.Marshal(props)
		if err != nil {
			t.Fatal(err)
		}
		return applyOp(t, ps, opContSetProps, &propReq{Cont: id, Cred: cred, Props: data})
	}

	test.CmpErr(t, nil, setProp(ownerCred, "label", "renamed"))
	test.AssertEqual(t, "renamed", ps.data.Containers[id].Label, "label not updated")
	test.CmpErr(t, daos.Exists, setProp(ownerCred, "label", ps.data.Containers[other].Label))
	test.CmpErr(t, nil, setProp(memberCred, "rd_fac", "1"))
	test.CmpErr(t, daos.NoPermission, setProp(memberCred, "owner", "bob@"))
	test.CmpErr(t, daos.NoPermission, setProp(otherCred, "rd_fac", "2"))
	test.AssertEqual(t, uint64(1), ps.data.Containers[id].Props.Number("rd_fac", 0), "rd_fac not set")
}

func TestPool_State_AllocOIDs(t *testing.T) {
	ps := initState(t)
	id := createCont(t, ps, "", nil)

	mustApply(t, ps, opContAllocOIDs, &allocReq{UUID: id, Expect: 1, Count: 10})
	test.AssertEqual(t, uint64(11), ps.data.Containers[id].NextOID, "unexpected next OID")
	test.CmpErr(t, daos.TryAgain, applyOp(t, ps, opContAllocOIDs, &allocReq{UUID: id, Expect: 1, Count: 1}))
	test.CmpErr(t, daos.InvalidInput, applyOp(t, ps, opContAllocOIDs, &allocReq{UUID: id, Expect: 11}))
	test.CmpErr(t, daos.NoSpace, applyOp(t, ps, opContAllocOIDs, &allocReq{UUID: id, Expect: 11, Count: ^uint64(0)}))
}

func TestPool_State_Snapshots(t *testing.T) {
	ps := initState(t)

	props := daos.NewContainerPropertyList()
	if err := props.SetNumber("max_snapshot", 3); err != nil {
		t.Fatal(err)
	}
	id := createCont(t, ps, "snaps", props)
	cr := ps.data.Containers[id]

	test.CmpErr(t, daos.InvalidInput, applyOp(t, ps, opContSnapCreate, &snapReq{UUID: id}))
	for _, e := range []uint64{30, 10, 20} {
		mustApply(t, ps, opContSnapCreate, &snapReq{UUID: id, Epoch: e, Committed: e})
	}
	test.CmpAny(t, "snapshots", []uint64{10, 20, 30}, cr.Snapshots)
	test.AssertEqual(t, uint64(30), cr.Committed, "unexpected committed epoch")
	test.CmpErr(t, daos.NoSpace, applyOp(t, ps, opContSnapCreate, &snapReq{UUID: id, Epoch: 40}))

	mustApply(t, ps, opContSnapDestroy, &snapReq{UUID: id, Epoch: 30})
	test.CmpErr(t, daos.Exists, applyOp(t, ps, opContSnapCreate, &snapReq{UUID: id, Epoch: 20}))
	mustApply(t, ps, opContSnapCreate, &snapReq{UUID: id, Epoch: 40, Name: "nightly"})
	mustApply(t, ps, opContSnapDestroy, &snapReq{UUID: id, Epoch: 20})
	test.CmpErr(t, daos.Exists, applyOp(t, ps, opContSnapCreate, &snapReq{UUID: id, Epoch: 50, Name: "nightly"}))
	test.CmpErr(t, daos.Nonexistent, applyOp(t, ps, opContSnapDestroy, &snapReq{UUID: id, Epoch: 11, Hi: 19}))

	test.CmpErr(t, daos.InvalidInput, applyOp(t, ps, opContRollback, &epochReq{UUID: id, Epoch: 15}))
	mustApply(t, ps, opContRollback, &epochReq{UUID: id, Epoch: 10})
	test.CmpAny(t, "snapshots", []uint64{10}, cr.Snapshots)
	test.AssertEqual(t, uint64(10), cr.Committed, "rollback did not reset committed epoch")
	test.AssertEqual(t, 0, len(cr.SnapNames), "snapshot names not dropped")

	mustApply(t, ps, opContAggregate, &epochReq{UUID: id, Epoch: 9})
	mustApply(t, ps, opContAggregate, &epochReq{UUID: id, Epoch: 5})
	test.AssertEqual(t, uint64(9), cr.AggregatedTo, "aggregation epoch moved backwards")
}

func TestPool_State_SnapshotRestore(t *testing.T) {
	ps := initState(t)
	id := createCont(t, ps, "c1", nil)
	mustApply(t, ps, opContSnapCreate, &snapReq{UUID: id, Epoch: 1<<40 + 3, Name: "s"})

	data, err := ps.Snapshot()
	if err != nil {
		t.Fatal(err)
	}

	restored := newPoolState().(*poolState)
	if err := restored.Restore(data); err != nil {
		t.Fatal(err)
	}

	test.CmpAny(t, "pool map", ps.data.Map, restored.data.Map)
	cr := restored.data.Containers[id]
	test.AssertEqual(t, "c1", cr.Label, "label lost")
	test.CmpAny(t, "snapshots", []uint64{1<<40 + 3}, cr.Snapshots)
	test.AssertEqual(t, "s", cr.SnapNames[1<<40+3], "snapshot name lost")

	// restored lists must still validate property values
	mustApply(t, restored, opContCreate, &contCreateReq{UUID: uuid.New(), Label: "c2", Time: testTime})
}
