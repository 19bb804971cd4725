//
// (C) Copyright 2021-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package daos_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/common/test"
	"github.com/daos-stack/dsr/lib/daos"
)

func TestDaos_LabelIsValid(t *testing.T) {
	for name, tc := range map[string]struct {
		label     string
		expResult bool
	}{
		"zero-length fails": {"", false},
		"overlength fails":  {strings.Repeat("x", daos.MaxLabelLength+1), false},
		"uuid fails":        {"54f26bfd-628f-4762-a28a-1c42bcb6565b", false},
		"max-length ok":     {strings.Repeat("x", daos.MaxLabelLength), true},
		"valid chars ok":    {"this:is_a_valid-label.", true},
		"space fails":       {"not valid", false},
	} {
		t.Run(name, func(t *testing.T) {
			gotResult := daos.LabelIsValid(tc.label)
			test.AssertEqual(t, tc.expResult, gotResult, "unexpected label check result")
		})
	}
}

func TestDaos_PropertyValue(t *testing.T) {
	strPtr := func(in string) *string {
		return &in
	}
	numPtr := func(in uint64) *uint64 {
		return &in
	}

	for name, tc := range map[string]struct {
		val    *daos.PropertyValue
		strVal *string
		numVal *uint64
		expErr error
		expStr string
	}{
		"nil": {
			expErr: errors.New("not set"),
			expStr: "value not set",
		},
		"not set": {
			val:    &daos.PropertyValue{},
			expErr: errors.New("not set"),
			expStr: "value not set",
		},
		"string value": {
			val:    &daos.PropertyValue{},
			strVal: strPtr("hi"),
			expErr: errors.New("not uint64"),
			expStr: "hi",
		},
		"number value": {
			val:    &daos.PropertyValue{},
			numVal: numPtr(42),
			expStr: "42",
		},
	} {
		t.Run(name, func(t *testing.T) {
			v := tc.val
			if tc.strVal != nil {
				v.SetString(*tc.strVal)
			} else if tc.numVal != nil {
				v.SetNumber(*tc.numVal)
			}

			test.AssertEqual(t, tc.expStr, v.String(), "unexpected String()")

			gotNum, err := v.GetNumber()
			test.CmpErr(t, tc.expErr, err)
			if tc.expErr != nil {
				return
			}
			test.AssertEqual(t, *tc.numVal, gotNum, "unexpected GetNumber() result")
		})
	}
}

func TestDaos_PoolProperties(t *testing.T) {
	for name, tc := range map[string]struct {
		name   string
		value  string
		expStr string
		expErr error
	}{
		"label":             {"label", "foo", "label:foo", nil},
		"bad label":         {"label", "no spaces", "", daos.InvalidInput},
		"reclaim lazy":      {"reclaim", "lazy", "reclaim:lazy", nil},
		"reclaim bad":       {"reclaim", "sometimes", "", daos.InvalidInput},
		"self heal":         {"self_heal", "rebuild", "self_heal:rebuild", nil},
		"space rb pct":      {"space_rb", "42%", "space_rb:42%", nil},
		"space rb too big":  {"space_rb", "101", "", daos.InvalidInput},
		"ec cell size":      {"ec_cell_sz", "1MiB", "ec_cell_sz:1.0 MiB", nil},
		"ec cell size odd":  {"ec_cell_sz", "1000", "", daos.InvalidInput},
		"rd_fac":            {"rd_fac", "2", "rd_fac:2", nil},
		"rd_fac too big":    {"rd_fac", "5", "", daos.InvalidInput},
		"svc_rf":            {"svc_rf", "1", "svc_rf:1", nil},
		"owner":             {"owner", "bob@", "owner:bob@", nil},
		"bad owner":         {"owner", "bob", "", daos.InvalidInput},
		"scrub":             {"scrub", "timed", "scrub:timed", nil},
		"read-only acl":     {"acl", "A::OWNER@:rw", "", errors.New("read-only")},
		"read-only upgrade": {"upgrade_status", "completed", "", errors.New("read-only")},
		"unknown":           {"bogus", "1", "", daos.InvalidInput},
	} {
		t.Run(name, func(t *testing.T) {
			pl := daos.NewPoolPropertyList()
			err := pl.Set(tc.name, tc.value)
			test.CmpErr(t, tc.expErr, err)
			if tc.expErr != nil {
				return
			}

			prop, err := pl.Get(tc.name)
			if err != nil {
				t.Fatal(err)
			}
			test.AssertEqual(t, tc.expStr, prop.String(), "unexpected string")
		})
	}
}

func TestDaos_ContainerProperties(t *testing.T) {
	for name, tc := range map[string]struct {
		name   string
		value  string
		expStr string
		expErr error
	}{
		"layout":           {"layout_type", "posix", "layout_type:POSIX", nil},
		"bad layout":       {"layout_type", "fat32", "", daos.InvalidInput},
		"cksum":            {"cksum", "crc32", "cksum:crc32", nil},
		"cksum size":       {"cksum_size", "32KiB", "cksum_size:32 KiB", nil},
		"srv cksum":        {"srv_cksum", "on", "srv_cksum:on", nil},
		"dedup":            {"dedup", "hash", "dedup:hash", nil},
		"compression":      {"compression", "lz4", "compression:lz4", nil},
		"encryption":       {"encryption", "aes-gcm256", "encryption:aes-gcm256", nil},
		"rd_fac":           {"rd_fac", "1", "rd_fac:1", nil},
		"rd_lvl numeric":   {"rd_lvl", "1", "rd_lvl:rank", nil},
		"rd_lvl node":      {"rd_lvl", "node", "rd_lvl:node", nil},
		"max snapshot":     {"max_snapshot", "10", "max_snapshot:10", nil},
		"oclass":           {"oclass", "RP_2G1", "oclass:RP_2G1", nil},
		"bad oclass":       {"oclass", "RP_9", "", daos.InvalidInput},
		"chunk size":       {"chunk_size", "2MiB", "chunk_size:2.0 MiB", nil},
		"read-only status": {"status", "healthy", "", errors.New("read-only")},
		"read-only oid":    {"alloc_oid", "5", "", errors.New("read-only")},
		"layout_version":   {"layout_version", "1", "", errors.New("read-only")},
	} {
		t.Run(name, func(t *testing.T) {
			pl := daos.NewContainerPropertyList()
			err := pl.Set(tc.name, tc.value)
			test.CmpErr(t, tc.expErr, err)
			if tc.expErr != nil {
				return
			}

			prop, err := pl.Get(tc.name)
			if err != nil {
				t.Fatal(err)
			}
			test.AssertEqual(t, tc.expStr, prop.String(), "unexpected string")
		})
	}
}

func TestDaos_PropertyList(t *testing.T) {
	pl := daos.NewContainerPropertyList()
	if err := pl.ParsePropertyString("label:mycont,rd_fac:1,chunk_size:64KiB"); err != nil {
		t.Fatal(err)
	}
	if err := pl.SetInternal("alloc_oid", "12"); err != nil {
		t.Fatal(err)
	}

	test.AssertEqual(t, 4, pl.Len(), "unexpected length")
	test.AssertEqual(t, "label:mycont,rd_fac:1,alloc_oid:12,chunk_size:64 KiB", pl.String(), "unexpected string")
	test.AssertEqual(t, uint64(64<<10), pl.Number("chunk_size", 0), "unexpected chunk size")
	test.AssertEqual(t, uint64(7), pl.Number("max_snapshot", 7), "default not returned")
	test.AssertEqual(t, "mycont", pl.Str("label", ""), "unexpected label")

	_, err := pl.Get("max_snapshot")
	test.CmpErr(t, daos.Nonexistent, err)

	test.CmpErr(t, daos.InvalidInput, pl.ParsePropertyString("label"))

	b, err := json.Marshal(pl)
	if err != nil {
		t.Fatal(err)
	}
	got := daos.NewContainerPropertyList()
	if err := json.Unmarshal(b, got); err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, pl.String(), got.String(), "round-trip mismatch")

	cp := pl.Copy()
	pl.Delete("label")
	test.AssertEqual(t, "mycont", cp.Str("label", ""), "copy should be independent")
}
