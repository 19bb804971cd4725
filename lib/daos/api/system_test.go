//
// (C) Copyright 2025 Google LLC
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package api

import (
	"testing"

	"github.com/daos-stack/dsr/common/test"
	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/lib/ranklist"
	"github.com/daos-stack/dsr/logging"
)

func TestAPI_NewProvider(t *testing.T) {
	ctx, sys := testSystem(t)
	log := logging.FromContext(ctx)

	_, err := NewProvider(log, nil)
	test.CmpErr(t, daos.InvalidInput, err)

	_, err = NewProvider(log, sys)
	test.CmpErr(t, daos.Already, err)
}

func TestAPI_GetSystemInfo(t *testing.T) {
	for name, tc := range map[string]struct {
		sysName string
		expErr  error
	}{
		"not attached": {
			sysName: "other",
			expErr:  daos.NotInit,
		},
		"attached": {
			sysName: testSysName,
		},
	} {
		t.Run(name, func(t *testing.T) {
			ctx, _ := testSystem(t)

			info, err := GetSystemInfo(ctx, tc.sysName)
			test.CmpErr(t, tc.expErr, err)
			if tc.expErr != nil {
				return
			}

			test.AssertEqual(t, testSysName, info.Name, "unexpected system name")
			test.CmpAny(t, "ranks", ranklist.RankList{0, 1, 2}, info.Ranks)
			test.AssertTrue(t, info.MgmtSvcReplicas.Contains(info.MgmtSvcLeader), "leader is not a replica")

			leader, err := MgmtSvcLeader(ctx, tc.sysName)
			if err != nil {
				t.Fatal(err)
			}
			test.AssertEqual(t, info.MgmtSvcLeader, leader, "unexpected leader")
		})
	}
}

func TestAPI_MgmtSvcLeader_NotAttached(t *testing.T) {
	ctx := test.Context(t)

	rank, err := MgmtSvcLeader(ctx, "other")
	test.CmpErr(t, daos.NotInit, err)
	test.AssertEqual(t, ranklist.NilRank, rank, "expected nil rank")
}
