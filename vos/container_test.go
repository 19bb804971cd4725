//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package vos

import (
	"bytes"
	"testing"

	"github.com/google/uuid"

	"github.com/daos-stack/dsr/common/test"
	"github.com/daos-stack/dsr/lib/daos"
)

var testOID = daos.GenerateOID(0, 1, daos.ObjectTypeMultiHashed, daos.ObjectClassS1)

func single(akey string, val string) ([]daos.IOD, []daos.SGList) {
	return []daos.IOD{{Name: daos.Key(akey), Type: daos.IODTypeSingle, Size: uint64(len(val))}},
		[]daos.SGList{{[]byte(val)}}
}

func fetchSingle(t *testing.T, c *Container, e daos.Epoch, dkey, akey string) (string, bool) {
	t.Helper()

	sgls, sizes, err := c.Fetch(testOID, e, daos.Key(dkey), []daos.IOD{{Name: daos.Key(akey), Type: daos.IODTypeSingle}})
	if err != nil {
		t.Fatal(err)
	}
	if sizes[0] == 0 {
		return "", false
	}
	return string(sgls[0].Flatten()), true
}

func mustUpdate(t *testing.T, c *Container, e daos.Epoch, dkey, akey, val string) {
	t.Helper()

	iods, sgls := single(akey, val)
	if err := c.Update(testOID, e, daos.Key(dkey), iods, sgls); err != nil {
		t.Fatal(err)
	}
}

func TestVos_SingleValueVersions(t *testing.T) {
	c := NewContainer(uuid.New())

	mustUpdate(t, c, 10, "d", "a", "v10")
	mustUpdate(t, c, 20, "d", "a", "v20")
	mustUpdate(t, c, 30, "d", "a", "v30")

	for name, tc := range map[string]struct {
		epoch    daos.Epoch
		expVal   string
		expFound bool
	}{
		"before first": {epoch: 5},
		"exact":        {epoch: 20, expVal: "v20", expFound: true},
		"between":      {epoch: 25, expVal: "v20", expFound: true},
		"latest":       {epoch: daos.EpochMax, expVal: "v30", expFound: true},
	} {
		t.Run(name, func(t *testing.T) {
			val, found := fetchSingle(t, c, tc.epoch, "d", "a")
			test.AssertEqual(t, tc.expFound, found, "unexpected found")
			test.AssertEqual(t, tc.expVal, val, "unexpected value")
		})
	}
}

func TestVos_Update_Errors(t *testing.T) {
	c := NewContainer(uuid.New())
	iods, sgls := single("a", "val")

	test.CmpErr(t, daos.InvalidInput, c.Update(testOID, 0, daos.Key("d"), iods, sgls))
	test.CmpErr(t, daos.InvalidInput, c.Update(testOID, 1, nil, iods, sgls))
	test.CmpErr(t, daos.IOInvalid, c.Update(testOID, 1, daos.Key("d"), iods, nil))

	arr := []daos.IOD{{Name: daos.Key("a"), Type: daos.IODTypeArray, Size: 1, Recxs: []daos.Recx{{Idx: 0, Nr: 3}}}}
	if err := c.Update(testOID, 1, daos.Key("d"), iods, sgls); err != nil {
		t.Fatal(err)
	}
	test.CmpErr(t, daos.InvalidInput, c.Update(testOID, 2, daos.Key("d"), arr, []daos.SGList{{[]byte("abc")}}))

	arr[0].Name = daos.Key("b")
	if err := c.Update(testOID, 2, daos.Key("d"), arr, []daos.SGList{{[]byte("abc")}}); err != nil {
		t.Fatal(err)
	}
	arr[0].Size = 2
	test.CmpErr(t, daos.InvalidInput, c.Update(testOID, 3, daos.Key("d"), arr, []daos.SGList{{[]byte("abcdef")}}))
	arr[0].Size = 1
	test.CmpErr(t, daos.IOInvalid, c.Update(testOID, 3, daos.Key("d"), arr, []daos.SGList{{[]byte("a")}}))
}

func TestVos_Punch(t *testing.T) {
	c := NewContainer(uuid.New())

	mustUpdate(t, c, 10, "d1", "a", "one")
	mustUpdate(t, c, 10, "d2", "a", "two")
	mustUpdate(t, c, 10, "d2", "b", "three")

	if err := c.PunchAkeys(testOID, 20, daos.Key("d2"), daos.Key("b")); err != nil {
		t.Fatal(err)
	}
	_, found := fetchSingle(t, c, 20, "d2", "b")
	test.AssertFalse(t, found, "punched akey visible")
	_, found = fetchSingle(t, c, 19, "d2", "b")
	test.AssertTrue(t, found, "akey should be visible before punch")

	if err := c.PunchDkeys(testOID, 30, daos.Key("d1")); err != nil {
		t.Fatal(err)
	}
	keys, err := c.ListDkeys(testOID, 30, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	test.CmpAny(t, "dkeys", []daos.Key{daos.Key("d2")}, keys)

	if err := c.PunchObject(testOID, 40); err != nil {
		t.Fatal(err)
	}
	oids, err := c.ListObjects(40, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, 0, len(oids), "punched object listed")

	mustUpdate(t, c, 50, "d1", "a", "back")
	val, found := fetchSingle(t, c, 50, "d1", "a")
	test.AssertTrue(t, found, "key should be resurrected")
	test.AssertEqual(t, "back", val, "unexpected value")
	_, found = fetchSingle(t, c, 50, "d2", "a")
	test.AssertFalse(t, found, "object punch should still hide d2")

	test.AssertEqual(t, daos.Epoch(50), c.LastModified(testOID, daos.Key("d1"), nil), "unexpected last modified")
	test.AssertEqual(t, daos.Epoch(40), c.LastModified(testOID, daos.Key("d2"), daos.Key("a")), "unexpected last modified")
}

func TestVos_PunchAndUpdateSameEpoch(t *testing.T) {
	c := NewContainer(uuid.New())

	mustUpdate(t, c, 10, "d", "a", "old")
	if err := c.PunchDkeys(testOID, 20, daos.Key("d")); err != nil {
		t.Fatal(err)
	}
	mustUpdate(t, c, 20, "d", "a", "new")

	val, found := fetchSingle(t, c, 20, "d", "a")
	test.AssertTrue(t, found, "update after punch in same epoch should be visible")
	test.AssertEqual(t, "new", val, "unexpected value")
}

func arrayIOD(recSize uint64, recxs ...daos.Recx) []daos.IOD {
	return []daos.IOD{{Name: daos.Key("0"), Type: daos.IODTypeArray, Size: recSize, Recxs: recxs}}
}

func TestVos_ArrayExtents(t *testing.T) {
	c := NewContainer(uuid.New())
	dkey := daos.Uint64Key(1)

	write := func(e daos.Epoch, idx uint64, data string) {
		t.Helper()
		iods := arrayIOD(1, daos.Recx{Idx: idx, Nr: uint64(len(data))})
		if err := c.Update(testOID, e, dkey, iods, []daos.SGList{{[]byte(data)}}); err != nil {
			t.Fatal(err)
		}
	}
	read := func(e daos.Epoch, idx, nr uint64) (string, uint64) {
		t.Helper()
		sgls, sizes, err := c.Fetch(testOID, e, dkey, arrayIOD(0, daos.Recx{Idx: idx, Nr: nr}))
		if err != nil {
			t.Fatal(err)
		}
		return string(sgls[0].Flatten()), sizes[0]
	}

	write(10, 0, "aaaaaaaa")
	write(20, 2, "bbb")
	write(15, 4, "cccc")

	got, size := read(daos.EpochMax, 0, 10)
	test.AssertEqual(t, uint64(1), size, "unexpected record size")
	test.AssertEqual(t, "aabbbccc\x00\x00", got, "newest extents should win")

	got, _ = read(12, 0, 8)
	test.AssertEqual(t, "aaaaaaaa", got, "unexpected read at older epoch")

	_, size = read(5, 0, 8)
	test.AssertEqual(t, uint64(0), size, "nothing should be visible")

	// punch [1,3) with a hole
	holes := arrayIOD(1, daos.Recx{Idx: 1, Nr: 2})
	if err := c.Update(testOID, 30, dkey, holes, []daos.SGList{nil}); err != nil {
		t.Fatal(err)
	}
	got, _ = read(daos.EpochMax, 0, 4)
	test.AssertEqual(t, "a\x00\x00b", got, "holes should read as zero")

	recxs, recSize, err := c.ListRecx(testOID, daos.EpochMax, dkey, daos.Key("0"), nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, uint64(1), recSize, "unexpected record size")
	test.CmpAny(t, "recxs", []daos.Recx{
		{Idx: 0, Nr: 1},
		{Idx: 3, Nr: 2},
		{Idx: 5, Nr: 3},
	}, recxs)

	anchor := new(daos.Anchor)
	first, _, err := c.ListRecx(testOID, daos.EpochMax, dkey, daos.Key("0"), anchor, 2)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, 2, len(first), "unexpected page size")
	rest, _, err := c.ListRecx(testOID, daos.EpochMax, dkey, daos.Key("0"), anchor, 2)
	if err != nil {
		t.Fatal(err)
	}
	test.CmpAny(t, "second page", []daos.Recx{{Idx: 5, Nr: 3}}, rest)
	test.AssertTrue(t, anchor.EOF(), "anchor should be at EOF")
}

func TestVos_ListDkeys_Anchor(t *testing.T) {
	c := NewContainer(uuid.New())
	for _, k := range []string{"e", "a", "c", "b", "d"} {
		mustUpdate(t, c, 10, k, "x", k)
	}

	anchor := new(daos.Anchor)
	var all []string
	for !anchor.EOF() {
		keys, err := c.ListDkeys(testOID, daos.EpochMax, anchor, 2)
		if err != nil {
			t.Fatal(err)
		}
		for _, k := range keys {
			all = append(all, k.String())
		}
	}
	test.CmpAny(t, "dkeys", []string{"a", "b", "c", "d", "e"}, all)

	akeys, err := c.ListAkeys(testOID, daos.EpochMax, daos.Key("c"), nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	test.CmpAny(t, "akeys", []daos.Key{daos.Key("x")}, akeys)
}

func TestVos_QueryKey(t *testing.T) {
	c := NewContainer(uuid.New())
	for _, i := range []uint64{3, 255, 256, 7} {
		iods := arrayIOD(1, daos.Recx{Idx: i * 10, Nr: 5})
		if err := c.Update(testOID, 10, daos.Uint64Key(i), iods, []daos.SGList{{[]byte("xxxxx")}}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := c.QueryKey(testOID, daos.EpochMax, daos.QueryKeyGetDkey|daos.QueryKeyGetRecx|daos.QueryKeyMax, nil, daos.Key("0"))
	if err != nil {
		t.Fatal(err)
	}
	dkey, _ := res.Dkey.Uint64()
	test.AssertEqual(t, uint64(256), dkey, "dkeys should compare numerically")
	test.AssertEqual(t, daos.Recx{Idx: 2560, Nr: 5}, res.Recx, "unexpected recx")

	res, err = c.QueryKey(testOID, daos.EpochMax, daos.QueryKeyGetDkey|daos.QueryKeyMin, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	dkey, _ = res.Dkey.Uint64()
	test.AssertEqual(t, uint64(3), dkey, "unexpected min dkey")

	_, err = c.QueryKey(testOID, 5, daos.QueryKeyGetDkey, nil, nil)
	test.CmpErr(t, daos.Nonexistent, err)

	_, err = c.QueryKey(testOID, daos.EpochMax, daos.QueryKeyGetDkey|daos.QueryKeyMax|daos.QueryKeyMin, nil, nil)
	test.CmpErr(t, daos.InvalidInput, err)
}

func TestVos_Aggregate(t *testing.T) {
	c := NewContainer(uuid.New())

	mustUpdate(t, c, 10, "d", "a", "v10")
	mustUpdate(t, c, 20, "d", "a", "v20")
	mustUpdate(t, c, 30, "d", "a", "v30")
	mustUpdate(t, c, 40, "d", "a", "v40")
	mustUpdate(t, c, 10, "gone", "a", "bye")
	if err := c.PunchDkeys(testOID, 15, daos.Key("gone")); err != nil {
		t.Fatal(err)
	}

	before := c.Usage()
	if err := c.Aggregate(35, []daos.Epoch{20}); err != nil {
		t.Fatal(err)
	}

	for e, exp := range map[daos.Epoch]string{
		20:            "v20",
		35:            "v30",
		daos.EpochMax: "v40",
	} {
		val, found := fetchSingle(t, c, e, "d", "a")
		test.AssertTrue(t, found, "value missing after aggregation")
		test.AssertEqual(t, exp, val, "unexpected value after aggregation")
	}
	_, found := fetchSingle(t, c, 10, "d", "a")
	test.AssertFalse(t, found, "unprotected version should be aggregated away")

	keys, err := c.ListDkeys(testOID, 14, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, 0, len(keys), "punched dkey should be aggregated away")
	test.AssertTrue(t, c.Usage().Total() < before.Total(), "usage should shrink")
}

func TestVos_Rollback(t *testing.T) {
	c := NewContainer(uuid.New())

	mustUpdate(t, c, 10, "d", "a", "v10")
	mustUpdate(t, c, 20, "d", "a", "v20")
	mustUpdate(t, c, 20, "new", "a", "n20")
	if err := c.PunchDkeys(testOID, 25, daos.Key("d")); err != nil {
		t.Fatal(err)
	}

	beforeVal, _ := fetchSingle(t, c, 10, "d", "a")
	if err := c.Rollback(10); err != nil {
		t.Fatal(err)
	}

	val, found := fetchSingle(t, c, daos.EpochMax, "d", "a")
	test.AssertTrue(t, found, "value should be visible after rollback")
	test.AssertEqual(t, beforeVal, val, "rollback should match the read at its epoch")

	keys, err := c.ListDkeys(testOID, daos.EpochMax, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	test.CmpAny(t, "dkeys", []daos.Key{daos.Key("d")}, keys)
	test.AssertEqual(t, uint64(3), c.Usage().SCM, "unexpected usage")
}

func TestVos_Pool(t *testing.T) {
	p := NewPool(uuid.New())
	id := uuid.New()

	_, err := p.Container(id, false)
	test.CmpErr(t, daos.Nonexistent, err)

	c, err := p.Container(id, true)
	if err != nil {
		t.Fatal(err)
	}
	mustUpdate(t, c, 1, "d", "a", "abc")

	big := bytes.Repeat([]byte{'x'}, SmallValueThreshold)
	iods := []daos.IOD{{Name: daos.Key("b"), Type: daos.IODTypeSingle, Size: uint64(len(big))}}
	if err := c.Update(testOID, 1, daos.Key("d"), iods, []daos.SGList{{big}}); err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, Usage{SCM: 3, NVMe: SmallValueThreshold}, p.Usage(), "unexpected usage")
	test.AssertEqual(t, Usage{NVMe: SmallValueThreshold}, UpdateCost(iods, []daos.SGList{{big}}), "unexpected cost")

	test.CmpErr(t, nil, p.DestroyContainer(id))
	test.CmpErr(t, daos.Nonexistent, p.DestroyContainer(id))
	test.AssertEqual(t, 0, len(p.Containers()), "containers remain")
}
