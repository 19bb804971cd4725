//
// (C) Copyright 2019-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package security

import (
	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/lib/daos"
)

// ACLPerms returns the permissions the ACL grants to the credential.
//
// Entries are evaluated by principal class: the owner entry applies first,
// then a named-user entry. If neither matches, the permissions of every
// matching group entry (owner-group or named group) are combined. The
// everyone entry applies only if no other entry matched.
func ACLPerms(acl *daos.AccessControlList, owner, ownerGroup string, cred *Credential) daos.ACLPerm {
	if acl == nil || cred == nil {
		return 0
	}

	if owner != "" && cred.User == owner {
		if ace, err := acl.Get(daos.ACLPrincipalOwner, ""); err == nil {
			return ace.Perms()
		}
	}

	if ace, err := acl.Get(daos.ACLPrincipalUser, cred.User); err == nil {
		return ace.Perms()
	}

	var groupPerms daos.ACLPerm
	groupMatched := false
	if cred.InGroup(ownerGroup) {
		if ace, err := acl.Get(daos.ACLPrincipalOwnerGroup, ""); err == nil {
			groupPerms |= ace.Perms()
			groupMatched = true
		}
	}
	for _, ace := range acl.Entries {
		if ace.PrincipalType != daos.ACLPrincipalGroup {
			continue
		}
		if cred.InGroup(ace.Principal) {
			groupPerms |= ace.Perms()
			groupMatched = true
		}
	}
	if groupMatched {
		return groupPerms
	}

	if ace, err := acl.Get(daos.ACLPrincipalEveryone, ""); err == nil {
		return ace.Perms()
	}

	return 0
}

// CheckPerm returns NoPermission unless every bit in want is granted.
func CheckPerm(perms, want daos.ACLPerm) error {
	if perms&want != want {
		return errors.Wrapf(daos.NoPermission, "need %q, have %q", want.String(), perms.String())
	}
	return nil
}

// PoolCapabilities checks that the permissions allow a pool connection
// with the requested flags.
func PoolCapabilities(perms daos.ACLPerm, flags daos.PoolConnectFlag) error {
	want := daos.ACLPermRead
	if flags.Writable() {
		want |= daos.ACLPermWrite
	}
	return CheckPerm(perms, want)
}

// ContainerCapabilities checks that the permissions allow opening a
// container with the requested flags.
func ContainerCapabilities(perms daos.ACLPerm, flags daos.ContainerOpenFlag) error {
	want := daos.ACLPermRead
	if flags.Writable() {
		want |= daos.ACLPermWrite
	}
	return CheckPerm(perms, want)
}

// IsOwner returns true if the credential's user is the owner.
func IsOwner(owner string, cred *Credential) bool {
	return cred != nil && owner != "" && cred.User == owner
}
