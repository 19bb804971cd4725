//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package daos_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/daos-stack/dsr/common/test"
	"github.com/daos-stack/dsr/lib/daos"
)

func TestDaos_Recx(t *testing.T) {
	for name, tc := range map[string]struct {
		a, b         daos.Recx
		expOverlap   bool
		expIntersect daos.Recx
	}{
		"disjoint": {
			a: daos.Recx{Idx: 0, Nr: 4},
			b: daos.Recx{Idx: 4, Nr: 4},
		},
		"contained": {
			a:            daos.Recx{Idx: 0, Nr: 10},
			b:            daos.Recx{Idx: 2, Nr: 3},
			expOverlap:   true,
			expIntersect: daos.Recx{Idx: 2, Nr: 3},
		},
		"partial": {
			a:            daos.Recx{Idx: 5, Nr: 10},
			b:            daos.Recx{Idx: 0, Nr: 8},
			expOverlap:   true,
			expIntersect: daos.Recx{Idx: 5, Nr: 3},
		},
	} {
		t.Run(name, func(t *testing.T) {
			test.AssertEqual(t, tc.expOverlap, tc.a.Overlaps(tc.b), "unexpected overlap")
			test.AssertEqual(t, tc.expOverlap, tc.b.Overlaps(tc.a), "overlap should be symmetric")

			got, ok := tc.a.Intersect(tc.b)
			test.AssertEqual(t, tc.expOverlap, ok, "unexpected intersect result")
			test.AssertEqual(t, tc.expIntersect, got, "unexpected intersection")
		})
	}

	rx := daos.Recx{Idx: 10, Nr: 5}
	test.AssertEqual(t, uint64(15), rx.End(), "unexpected end")
	test.AssertTrue(t, rx.Contains(14), "14 should be contained")
	test.AssertFalse(t, rx.Contains(15), "15 should not be contained")
	test.AssertEqual(t, "[10-15)", rx.String(), "unexpected string")
}

func TestDaos_Key(t *testing.T) {
	k := daos.Uint64Key(258)
	test.AssertTrue(t, bytes.Equal([]byte{0, 0, 0, 0, 0, 0, 1, 2}, k), "unexpected encoding")
	v, err := k.Uint64()
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, uint64(258), v, "unexpected decode")

	_, err = daos.Key("short").Uint64()
	test.CmpErr(t, daos.InvalidInput, err)

	test.AssertTrue(t, bytes.Compare(daos.Uint64Key(255), daos.Uint64Key(256)) < 0,
		"integer keys should sort numerically")

	test.CmpErr(t, daos.InvalidInput, daos.Key(nil).Validate())
	test.CmpErr(t, daos.KeyTooBig, daos.Key(strings.Repeat("k", daos.MaxKeySize+1)).Validate())
}

func TestDaos_IOD_Validate(t *testing.T) {
	for name, tc := range map[string]struct {
		iod    daos.IOD
		expErr error
		expLen uint64
	}{
		"single": {
			iod:    daos.IOD{Name: daos.Key("a"), Type: daos.IODTypeSingle, Size: 10},
			expLen: 10,
		},
		"single with extents": {
			iod:    daos.IOD{Name: daos.Key("a"), Type: daos.IODTypeSingle, Size: 10, Recxs: []daos.Recx{{Idx: 0, Nr: 1}}},
			expErr: daos.InvalidInput,
		},
		"array": {
			iod:    daos.IOD{Name: daos.Key("a"), Type: daos.IODTypeArray, Size: 4, Recxs: []daos.Recx{{Idx: 0, Nr: 2}, {Idx: 10, Nr: 3}}},
			expLen: 20,
		},
		"zero extent": {
			iod:    daos.IOD{Name: daos.Key("a"), Type: daos.IODTypeArray, Size: 4, Recxs: []daos.Recx{{Idx: 0, Nr: 0}}},
			expErr: daos.InvalidInput,
		},
		"no name": {
			iod:    daos.IOD{Type: daos.IODTypeSingle},
			expErr: daos.InvalidInput,
		},
		"bad type": {
			iod:    daos.IOD{Name: daos.Key("a")},
			expErr: daos.InvalidInput,
		},
		"record too big": {
			iod:    daos.IOD{Name: daos.Key("a"), Type: daos.IODTypeSingle, Size: daos.MaxRecordSize + 1},
			expErr: daos.RecordTooBig,
		},
	} {
		t.Run(name, func(t *testing.T) {
			err := tc.iod.Validate()
			test.CmpErr(t, tc.expErr, err)
			if tc.expErr != nil {
				return
			}
			test.AssertEqual(t, tc.expLen, tc.iod.NumBytes(), "unexpected byte count")
		})
	}
}

func TestDaos_Anchor(t *testing.T) {
	var a daos.Anchor
	test.AssertFalse(t, a.EOF(), "new anchor should not be EOF")
	test.AssertEqual(t, "start", a.String(), "unexpected string")

	pos := []byte("key1")
	a.Advance(pos, false)
	pos[0] = 'x'
	test.AssertEqual(t, "key1", string(a.Position()), "anchor should copy position")

	a.Advance(nil, true)
	test.AssertTrue(t, a.EOF(), "anchor should be EOF")
	test.AssertEqual(t, "key1", string(a.Position()), "position should be retained")

	a.Reset()
	test.AssertFalse(t, a.EOF(), "reset anchor should not be EOF")
	test.AssertEqual(t, 0, len(a.Position()), "reset anchor should have no position")
}

func TestDaos_SGList(t *testing.T) {
	sgl := daos.SGList{[]byte("ab"), []byte("cde")}
	test.AssertEqual(t, 5, sgl.Len(), "unexpected length")
	test.AssertEqual(t, "abcde", string(sgl.Flatten()), "unexpected flatten")
}
