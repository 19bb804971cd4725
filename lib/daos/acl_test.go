//
// (C) Copyright 2019-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package daos_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/daos-stack/dsr/common/test"
	"github.com/daos-stack/dsr/lib/daos"
)

func TestDaos_ACLPrincipalIsValid(t *testing.T) {
	for name, tc := range map[string]struct {
		principal string
		expValid  bool
	}{
		"user no domain":   {"username@", true},
		"user digits":      {"user123@", true},
		"group domain":     {"group@domain", true},
		"dotted domain":    {"name2@domain.com", true},
		"underscore":       {"user_name@sub.domain2.tld", true},
		"no at":            {"username", false},
		"no name":          {"@domain", false},
		"two ats":          {"name@domain@", false},
		"wrapped ats":      {"@domain@", false},
		"digits":           {"12345", false},
		"bare at":          {"@", false},
		"empty":            {"", false},
		"too long":         {strings.Repeat("x", daos.ACLPrincipalMaxLen) + "@", false},
		"contains a colon": {"us:er@", false},
	} {
		t.Run(name, func(t *testing.T) {
			test.AssertEqual(t, tc.expValid, daos.ACLPrincipalIsValid(tc.principal), "unexpected result")
		})
	}
}

func TestDaos_ParseACE(t *testing.T) {
	for name, tc := range map[string]struct {
		in     string
		expACE *daos.AccessControlEntry
		expStr string
		expErr error
	}{
		"owner": {
			in: "A::OWNER@:rw",
			expACE: &daos.AccessControlEntry{
				AccessTypes:   daos.ACLAccessAllow,
				PrincipalType: daos.ACLPrincipalOwner,
				AllowPerms:    daos.ACLPermRead | daos.ACLPermWrite,
			},
		},
		"owner group": {
			in: "A:G:GROUP@:rw",
			expACE: &daos.AccessControlEntry{
				AccessTypes:   daos.ACLAccessAllow,
				Flags:         daos.ACLFlagGroup,
				PrincipalType: daos.ACLPrincipalOwnerGroup,
				AllowPerms:    daos.ACLPermRead | daos.ACLPermWrite,
			},
		},
		"group needs flag": {
			in:     "A::GROUP@:rw",
			expErr: daos.InvalidInput,
		},
		"owner is not a group": {
			in:     "A:G:OWNER@:rw",
			expErr: daos.InvalidInput,
		},
		"everyone is not a group": {
			in:     "A:G:EVERYONE@:rw",
			expErr: daos.InvalidInput,
		},
		"named user": {
			in: "A::someuser@:rw",
			expACE: &daos.AccessControlEntry{
				AccessTypes:   daos.ACLAccessAllow,
				PrincipalType: daos.ACLPrincipalUser,
				Principal:     "someuser@",
				AllowPerms:    daos.ACLPermRead | daos.ACLPermWrite,
			},
		},
		"named group": {
			in: "A:G:somegrp@:rw",
			expACE: &daos.AccessControlEntry{
				AccessTypes:   daos.ACLAccessAllow,
				Flags:         daos.ACLFlagGroup,
				PrincipalType: daos.ACLPrincipalGroup,
				Principal:     "somegrp@",
				AllowPerms:    daos.ACLPermRead | daos.ACLPermWrite,
			},
		},
		"audit": {
			in: "U:S:someuser@:rw",
			expACE: &daos.AccessControlEntry{
				AccessTypes:   daos.ACLAccessAudit,
				Flags:         daos.ACLFlagAccessSuccess,
				PrincipalType: daos.ACLPrincipalUser,
				Principal:     "someuser@",
				AuditPerms:    daos.ACLPermRead | daos.ACLPermWrite,
			},
		},
		"audit needs success or failure flag": {
			in:     "U::someuser@:rw",
			expErr: daos.InvalidInput,
		},
		"success flag needs audit type": {
			in:     "A:S:someuser@:rw",
			expErr: daos.InvalidInput,
		},
		"multiple access types reordered": {
			in:     "LUA:S:someuser@:rw",
			expStr: "AUL:S:someuser@:rw",
			expACE: &daos.AccessControlEntry{
				AccessTypes:   daos.ACLAccessAllow | daos.ACLAccessAudit | daos.ACLAccessAlarm,
				Flags:         daos.ACLFlagAccessSuccess,
				PrincipalType: daos.ACLPrincipalUser,
				Principal:     "someuser@",
				AllowPerms:    daos.ACLPermRead | daos.ACLPermWrite,
				AuditPerms:    daos.ACLPermRead | daos.ACLPermWrite,
				AlarmPerms:    daos.ACLPermRead | daos.ACLPermWrite,
			},
		},
		"all flags reordered": {
			in:     "U:SFGP:somegrp@:rw",
			expStr: "U:GSFP:somegrp@:rw",
			expACE: &daos.AccessControlEntry{
				AccessTypes:   daos.ACLAccessAudit,
				Flags:         daos.ACLFlagGroup | daos.ACLFlagAccessSuccess | daos.ACLFlagAccessFail | daos.ACLFlagPoolInherit,
				PrincipalType: daos.ACLPrincipalGroup,
				Principal:     "somegrp@",
				AuditPerms:    daos.ACLPermRead | daos.ACLPermWrite,
			},
		},
		"no types": {
			in: ":G:GROUP@:",
			expACE: &daos.AccessControlEntry{
				Flags:         daos.ACLFlagGroup,
				PrincipalType: daos.ACLPrincipalOwnerGroup,
			},
		},
		"all perms": {
			in: "A::EVERYONE@:rwcdtTaAo",
			expACE: &daos.AccessControlEntry{
				AccessTypes:   daos.ACLAccessAllow,
				PrincipalType: daos.ACLPrincipalEveryone,
				AllowPerms:    daos.ACLPermAll,
			},
		},
		"no perms": {
			in: "A::someuser@:",
			expACE: &daos.AccessControlEntry{
				AccessTypes:   daos.ACLAccessAllow,
				PrincipalType: daos.ACLPrincipalUser,
				Principal:     "someuser@",
			},
		},
		"invalid access type": {
			in:     "Ux:S:someuser@:rw",
			expErr: daos.InvalidInput,
		},
		"invalid flag": {
			in:     "U:SFbG:somegrp@:rw",
			expErr: daos.InvalidInput,
		},
		"invalid perm": {
			in:     "A::someuser@:rz",
			expErr: daos.InvalidInput,
		},
		"empty": {
			in:     "",
			expErr: daos.InvalidInput,
		},
		"too few fields": {
			in:     "A::someuser@",
			expErr: daos.InvalidInput,
		},
		"too many fields": {
			in:     "A::someuser@:rw:r",
			expErr: daos.InvalidInput,
		},
		"invalid principal": {
			in:     "A::someuser:rw",
			expErr: daos.InvalidInput,
		},
	} {
		t.Run(name, func(t *testing.T) {
			ace, err := daos.ParseACE(tc.in)
			test.CmpErr(t, tc.expErr, err)
			if tc.expErr != nil {
				return
			}

			test.CmpAny(t, "ACE", tc.expACE, ace)

			expStr := tc.expStr
			if expStr == "" {
				expStr = tc.in
			}
			test.AssertEqual(t, expStr, ace.String(), "unexpected string")

			reparsed, err := daos.ParseACE(ace.String())
			if err != nil {
				t.Fatal(err)
			}
			test.CmpAny(t, "reparsed ACE", ace, reparsed)
		})
	}
}

func TestDaos_ACE_FormatDifferentPerms(t *testing.T) {
	ace := &daos.AccessControlEntry{
		AccessTypes:   daos.ACLAccessAllow | daos.ACLAccessAudit,
		Flags:         daos.ACLFlagAccessSuccess,
		PrincipalType: daos.ACLPrincipalEveryone,
		AllowPerms:    daos.ACLPermRead,
		AuditPerms:    daos.ACLPermRead | daos.ACLPermWrite,
	}

	_, err := ace.Format()
	test.CmpErr(t, daos.InvalidInput, err)
	test.AssertEqual(t, "", ace.String(), "expected empty string")
}

func TestDaos_ACL_Ops(t *testing.T) {
	acl := daos.MustParseACL(
		"A::EVERYONE@:r",
		"A:G:grp2@:rw",
		"A::OWNER@:rwdtTaAo",
		"A::bob@:rw",
		"A:G:GROUP@:rwtT",
		"A::alice@:r",
	)

	expOrder := []string{
		"A::OWNER@:rwdtTaAo",
		"A::bob@:rw",
		"A::alice@:r",
		"A:G:GROUP@:rwtT",
		"A:G:grp2@:rw",
		"A::EVERYONE@:r",
	}
	test.CmpAny(t, "ACL order", expOrder, acl.Strings())
	if err := acl.Validate(); err != nil {
		t.Fatal(err)
	}

	// replace existing entry
	ace, err := daos.ParseACE("A::bob@:r")
	if err != nil {
		t.Fatal(err)
	}
	if err := acl.Add(ace); err != nil {
		t.Fatal(err)
	}
	got, err := acl.Get(daos.ACLPrincipalUser, "bob@")
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, daos.ACLPermRead, got.AllowPerms, "entry not replaced")
	test.AssertEqual(t, len(expOrder), len(acl.Entries), "entry count changed")

	_, err = acl.Get(daos.ACLPrincipalUser, "nobody@")
	test.CmpErr(t, daos.Nonexistent, err)

	if err := acl.Remove(daos.ACLPrincipalGroup, "grp2@"); err != nil {
		t.Fatal(err)
	}
	test.CmpErr(t, daos.Nonexistent, acl.Remove(daos.ACLPrincipalGroup, "grp2@"))

	if err := acl.Remove(daos.ACLPrincipalEveryone, ""); err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, 4, len(acl.Entries), "unexpected entry count")
}

func TestDaos_ParseACL(t *testing.T) {
	for name, tc := range map[string]struct {
		in      string
		expACEs []string
		expErr  error
	}{
		"empty": {
			in: "",
		},
		"comments and blank lines": {
			in: "# a comment\n\nA::OWNER@:rw\n   \n# another\nA:G:GROUP@:r\n",
			expACEs: []string{
				"A::OWNER@:rw",
				"A:G:GROUP@:r",
			},
		},
		"duplicate principal": {
			in:     "A::OWNER@:rw\nA::OWNER@:r\n",
			expErr: daos.InvalidInput,
		},
		"bad entry": {
			in:     "A::OWNER@:rw\nbogus\n",
			expErr: daos.InvalidInput,
		},
	} {
		t.Run(name, func(t *testing.T) {
			acl, err := daos.ParseACL(strings.NewReader(tc.in))
			test.CmpErr(t, tc.expErr, err)
			if tc.expErr != nil {
				return
			}
			test.CmpAny(t, "entries", tc.expACEs, acl.Strings())
		})
	}
}

func TestDaos_ACL_Validate(t *testing.T) {
	owner, _ := daos.ParseACE("A::OWNER@:rw")
	dup := &daos.AccessControlList{Entries: []*daos.AccessControlEntry{owner, owner}}
	test.CmpErr(t, daos.InvalidInput, dup.Validate())

	everyone, _ := daos.ParseACE("A::EVERYONE@:r")
	unordered := &daos.AccessControlList{Entries: []*daos.AccessControlEntry{everyone, owner}}
	test.CmpErr(t, daos.InvalidInput, unordered.Validate())
}

func TestDaos_ACL_JSON(t *testing.T) {
	acl := daos.DefaultPoolACL()

	b, err := json.Marshal(acl)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, `["A::OWNER@:rwdtTaAo","A:G:GROUP@:rwtT"]`, string(b), "unexpected JSON")

	var got daos.AccessControlList
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	test.CmpAny(t, "ACL", acl.Strings(), got.Strings())
}

func TestDaos_ParsePrincipal(t *testing.T) {
	for name, tc := range map[string]struct {
		in      string
		expType daos.ACLPrincipalType
		expName string
		expErr  error
	}{
		"owner":    {in: "OWNER@", expType: daos.ACLPrincipalOwner},
		"group@":   {in: "GROUP@", expType: daos.ACLPrincipalOwnerGroup},
		"everyone": {in: "EVERYONE@", expType: daos.ACLPrincipalEveryone},
		"user":     {in: "u:bob@", expType: daos.ACLPrincipalUser, expName: "bob@"},
		"group":    {in: "g:grp@", expType: daos.ACLPrincipalGroup, expName: "grp@"},
		"bad type": {in: "x:bob@", expErr: daos.InvalidInput},
		"no type":  {in: "bob@", expErr: daos.InvalidInput},
	} {
		t.Run(name, func(t *testing.T) {
			pt, pn, err := daos.ParsePrincipal(tc.in)
			test.CmpErr(t, tc.expErr, err)
			if tc.expErr != nil {
				return
			}
			test.AssertEqual(t, tc.expType, pt, "unexpected type")
			test.AssertEqual(t, tc.expName, pn, "unexpected name")
		})
	}
}
