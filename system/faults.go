//
// (C) Copyright 2021-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package system

import (
	"fmt"

	"github.com/daos-stack/dsr/fault"
	"github.com/daos-stack/dsr/fault/code"
	"github.com/daos-stack/dsr/lib/daos"
)

// FaultPoolBadLabel generates a fault indicating that a pool label is not
// usable.
func FaultPoolBadLabel(label string) *fault.Fault {
	return poolFault(code.PoolBadLabel,
		fmt.Sprintf("invalid pool label %q", label),
		fmt.Sprintf("use a label of at most %d characters from [a-zA-Z0-9._:-] which is not a UUID",
			daos.MaxLabelLength))
}

// FaultPoolDuplicateLabel generates a fault indicating that another pool
// already uses the label.
func FaultPoolDuplicateLabel(label string) *fault.Fault {
	return poolFault(code.PoolDuplicateLabel,
		fmt.Sprintf("pool label %q already exists in the system", label),
		"retry the operation with a different label")
}

// FaultBadReplicaCount generates a fault for a service replica count that
// the selected ranks cannot host.
func FaultBadReplicaCount(nr, ranks int) *fault.Fault {
	return &fault.Fault{
		Domain:      "rsvc",
		Code:        code.RsvcReplicaCount,
		Description: fmt.Sprintf("cannot place %d service replicas on %d ranks", nr, ranks),
		Resolution:  "request an odd number of replicas no larger than the number of pool ranks",
	}
}

func poolFault(code code.Code, desc, res string) *fault.Fault {
	return &fault.Fault{
		Domain:      "pool",
		Code:        code,
		Description: desc,
		Resolution:  fault.Resolution(res),
	}
}
