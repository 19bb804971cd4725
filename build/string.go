//
// (C) Copyright 2022-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package build

import (
	"fmt"
	"strings"
)

func revString(version string) string {
	if ReleaseBuild || Revision == "" {
		return version
	}

	revParts := []string{version, fmt.Sprintf("g%7s", Revision)[0:7]}
	if DirtyBuild {
		revParts = append(revParts, "dirty")
	}
	return strings.Join(revParts, "-")
}

// String returns a string containing the name, version, and for non-release builds,
// the revision of the binary.
func String(name string) string {
	return fmt.Sprintf("%s version %s", name, revString(DaosVersion))
}
