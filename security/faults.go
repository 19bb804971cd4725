//
// (C) Copyright 2021-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package security

import (
	"fmt"

	"github.com/daos-stack/dsr/fault"
	"github.com/daos-stack/dsr/fault/code"
)

var (
	FaultUnknown = securityFault(
		code.SecurityUnknown,
		"unknown security error",
		"",
	)
)

// FaultBadACL indicates that an ACL supplied by the user could not be used.
func FaultBadACL(err error) *fault.Fault {
	return securityFault(
		code.SecurityBadACL,
		fmt.Sprintf("invalid access control list: %s", err),
		"verify each entry uses the TYPES:FLAGS:PRINCIPAL:PERMS format and that no principal is listed twice",
	)
}

// FaultNoCredential indicates that the caller's identity could not be determined.
func FaultNoCredential(err error) *fault.Fault {
	return securityFault(
		code.SecurityNoCredential,
		fmt.Sprintf("unable to determine caller credentials: %s", err),
		"verify that the current user and group can be resolved on this host",
	)
}

func securityFault(code code.Code, desc, res string) *fault.Fault {
	return &fault.Fault{
		Domain:      "security",
		Code:        code,
		Description: desc,
		Resolution:  fault.Resolution(res),
	}
}
