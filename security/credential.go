//
// (C) Copyright 2018-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package security

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Credential identifies the caller of a pool or container operation.
type Credential struct {
	User        string   `json:"user"`
	Group       string   `json:"group"`
	Groups      []string `json:"groups,omitempty"`
	UID         uint32   `json:"uid"`
	GID         uint32   `json:"gid"`
	MachineName string   `json:"machine_name,omitempty"`
}

func (c *Credential) String() string {
	if c == nil {
		return "nil"
	}
	return fmt.Sprintf("%s(%d):%s(%d)", c.User, c.UID, c.Group, c.GID)
}

// InGroup returns true if the credential's primary or supplementary groups
// include the supplied group principal.
func (c *Credential) InGroup(group string) bool {
	if c == nil || group == "" {
		return false
	}
	if c.Group == group {
		return true
	}
	for _, g := range c.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// User is an interface wrapping a representation of a specific system user
type User interface {
	Username() string
	GroupIDs() ([]uint32, error)
}

// UserExt is an interface that wraps system user-related external functions
type UserExt interface {
	Current() (uid, gid uint32, groups []uint32, err error)
	LookupUserID(uid uint32) (User, error)
	LookupGroupID(gid uint32) (*user.Group, error)
}

type osUser struct {
	*user.User
}

func (u *osUser) Username() string {
	return u.User.Username
}

func (u *osUser) GroupIDs() ([]uint32, error) {
	strIDs, err := u.User.GroupIds()
	if err != nil {
		return nil, err
	}

	ids := make([]uint32, 0, len(strIDs))
	for _, s := range strIDs {
		id, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "bad gid %q", s)
		}
		ids = append(ids, uint32(id))
	}
	return ids, nil
}

type osUserExt struct{}

func (osUserExt) Current() (uint32, uint32, []uint32, error) {
	gids, err := unix.Getgroups()
	if err != nil {
		return 0, 0, nil, errors.Wrap(err, "getgroups")
	}

	groups := make([]uint32, 0, len(gids))
	for _, g := range gids {
		groups = append(groups, uint32(g))
	}
	return uint32(unix.Getuid()), uint32(unix.Getgid()), groups, nil
}

func (osUserExt) LookupUserID(uid uint32) (User, error) {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return nil, errors.Wrap(err, "Failed to lookup user")
	}
	return &osUser{u}, nil
}

func (osUserExt) LookupGroupID(gid uint32) (*user.Group, error) {
	g, err := user.LookupGroupId(strconv.FormatUint(uint64(gid), 10))
	if err != nil {
		return nil, errors.Wrap(err, "Failed to lookup group")
	}
	return g, nil
}

// DefaultUserExt returns the UserExt backed by the operating system.
func DefaultUserExt() UserExt {
	return osUserExt{}
}

// PrincipalName converts a system user or group name into an ACL principal.
func PrincipalName(name string) string {
	if strings.HasSuffix(name, "@") {
		return name
	}
	return name + "@"
}

// CurrentCredential returns the credential of the running process.
func CurrentCredential() (*Credential, error) {
	return CredentialFromExt(DefaultUserExt())
}

// CredentialFromExt builds the credential of the current process using the
// supplied lookup functions. Names that cannot be resolved fall back to the
// numeric ID.
func CredentialFromExt(ext UserExt) (*Credential, error) {
	uid, gid, gids, err := ext.Current()
	if err != nil {
		return nil, err
	}

	cred := &Credential{
		UID: uid,
		GID: gid,
	}

	if u, err := ext.LookupUserID(uid); err == nil {
		cred.User = PrincipalName(u.Username())
		if extra, err := u.GroupIDs(); err == nil {
			gids = append(gids, extra...)
		}
	} else {
		cred.User = PrincipalName(strconv.FormatUint(uint64(uid), 10))
	}

	cred.Group = groupPrincipal(ext, gid)

	seen := map[string]struct{}{cred.Group: {}}
	for _, g := range gids {
		name := groupPrincipal(ext, g)
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		cred.Groups = append(cred.Groups, name)
	}

	if host, err := os.Hostname(); err == nil {
		cred.MachineName = host
	} else {
		cred.MachineName = "unavailable"
	}

	return cred, nil
}

func groupPrincipal(ext UserExt, gid uint32) string {
	if g, err := ext.LookupGroupID(gid); err == nil {
		return PrincipalName(g.Name)
	}
	return PrincipalName(strconv.FormatUint(uint64(gid), 10))
}

// NewCredential returns a credential with the supplied principal names.
func NewCredential(userName, group string, groups ...string) *Credential {
	cred := &Credential{
		User:  PrincipalName(userName),
		Group: PrincipalName(group),
	}
	for _, g := range groups {
		cred.Groups = append(cred.Groups, PrincipalName(g))
	}
	return cred
}
