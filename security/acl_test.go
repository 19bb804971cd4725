//
// (C) Copyright 2019-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package security

import (
	"testing"

	"github.com/daos-stack/dsr/common/test"
	"github.com/daos-stack/dsr/lib/daos"
)

func TestSecurity_ACLPerms(t *testing.T) {
	acl := daos.MustParseACL(
		"A::OWNER@:rwdtTaAo",
		"A::alice@:r",
		"A:G:GROUP@:rt",
		"A:G:writers@:w",
		"A:G:admins@:aA",
		"A::EVERYONE@:t",
	)

	for name, tc := range map[string]struct {
		acl      *daos.AccessControlList
		cred     *Credential
		expPerms daos.ACLPerm
	}{
		"owner": {
			cred:     NewCredential("bob", "staff"),
			expPerms: daos.ACLPermRead | daos.ACLPermWrite | daos.ACLPermDelCont | daos.ACLPermGetProp | daos.ACLPermSetProp | daos.ACLPermGetACL | daos.ACLPermSetACL | daos.ACLPermSetOwner,
		},
		"named user wins over groups": {
			cred:     NewCredential("alice", "staff", "writers"),
			expPerms: daos.ACLPermRead,
		},
		"owner group": {
			cred:     NewCredential("carol", "staff"),
			expPerms: daos.ACLPermRead | daos.ACLPermGetProp,
		},
		"groups are combined": {
			cred:     NewCredential("dave", "staff", "writers", "admins"),
			expPerms: daos.ACLPermRead | daos.ACLPermGetProp | daos.ACLPermWrite | daos.ACLPermGetACL | daos.ACLPermSetACL,
		},
		"supplementary group only": {
			cred:     NewCredential("erin", "other", "writers"),
			expPerms: daos.ACLPermWrite,
		},
		"everyone": {
			cred:     NewCredential("frank", "other"),
			expPerms: daos.ACLPermGetProp,
		},
		"no match": {
			acl:      daos.MustParseACL("A::OWNER@:rw"),
			cred:     NewCredential("frank", "other"),
			expPerms: 0,
		},
		"nil credential": {
			expPerms: 0,
		},
	} {
		t.Run(name, func(t *testing.T) {
			a := tc.acl
			if a == nil {
				a = acl
			}
			got := ACLPerms(a, "bob@", "staff@", tc.cred)
			test.AssertEqual(t, tc.expPerms.String(), got.String(), "unexpected perms")
		})
	}
}

func TestSecurity_Capabilities(t *testing.T) {
	r := daos.ACLPermRead
	rw := daos.ACLPermRead | daos.ACLPermWrite

	test.CmpErr(t, nil, PoolCapabilities(r, daos.PoolConnectFlagReadOnly))
	test.CmpErr(t, daos.NoPermission, PoolCapabilities(r, daos.PoolConnectFlagReadWrite))
	test.CmpErr(t, daos.NoPermission, PoolCapabilities(r, daos.PoolConnectFlagExclusive))
	test.CmpErr(t, nil, PoolCapabilities(rw, daos.PoolConnectFlagReadWrite))
	test.CmpErr(t, daos.NoPermission, PoolCapabilities(0, daos.PoolConnectFlagReadOnly))

	test.CmpErr(t, nil, ContainerCapabilities(r, daos.ContainerOpenFlagReadOnly))
	test.CmpErr(t, daos.NoPermission, ContainerCapabilities(r, daos.ContainerOpenFlagReadWrite))
	test.CmpErr(t, nil, ContainerCapabilities(rw, daos.ContainerOpenFlagReadWrite))

	test.CmpErr(t, daos.NoPermission, CheckPerm(rw, daos.ACLPermCreateCont))
	test.CmpErr(t, nil, CheckPerm(rw|daos.ACLPermCreateCont, daos.ACLPermCreateCont))
}
