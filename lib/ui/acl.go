//
// (C) Copyright 2023 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package ui

import (
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/lib/daos"
)

// ACLPrincipalFlag is a flag that represents an ACL principal.
type ACLPrincipalFlag string

func (p ACLPrincipalFlag) String() string {
	return string(p)
}

// UnmarshalFlag implements the go-flags.Unmarshaler interface.
func (p *ACLPrincipalFlag) UnmarshalFlag(fv string) error {
	pv := fv
	// a bare user or group name gets the trailing '@' of a principal
	if !strings.ContainsRune(pv, '@') {
		pv += "@"
	}
	if !daos.ACLPrincipalIsValid(pv) {
		return errors.Errorf("invalid ACL principal %q", fv)
	}

	*p = ACLPrincipalFlag(pv)
	return nil
}

// ACLEntriesFlag collects access control entries, either inline or read
// from a file when the value is prefixed with '@'.
type ACLEntriesFlag struct {
	ACL *daos.AccessControlList
}

// UnmarshalFlag implements the go-flags.Unmarshaler interface. It may be
// supplied more than once.
func (f *ACLEntriesFlag) UnmarshalFlag(fv string) error {
	if f.ACL == nil {
		f.ACL = &daos.AccessControlList{}
	}

	if strings.HasPrefix(fv, "@") {
		file, err := os.Open(fv[1:])
		if err != nil {
			return errors.Wrap(err, "unable to open ACL file")
		}
		defer file.Close()

		acl, err := daos.ParseACL(file)
		if err != nil {
			return err
		}
		return f.ACL.Merge(acl)
	}

	ace, err := daos.ParseACE(fv)
	if err != nil {
		return err
	}
	return f.ACL.Add(ace)
}

// Empty returns true if no entries were supplied.
func (f *ACLEntriesFlag) Empty() bool {
	return f.ACL == nil || f.ACL.Empty()
}
