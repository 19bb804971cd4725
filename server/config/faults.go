//
// (C) Copyright 2020-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package config

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/daos-stack/dsr/fault"
	"github.com/daos-stack/dsr/fault/code"
	"github.com/daos-stack/dsr/lib/ranklist"
)

var (
	FaultUnknown = systemConfigFault(
		code.ConfigUnknown,
		"unknown system configuration error",
		"",
	)
	FaultConfigNoPath = systemConfigFault(
		code.ConfigNoPath,
		"configuration file path not set",
		"supply the path to a system configuration file with the '--config' option",
	)
	FaultConfigBadName = systemConfigFault(
		code.ConfigBadName,
		"invalid system name in configuration",
		"specify a system name ('name' parameter) of at most 15 characters without spaces",
	)
	FaultConfigNoEngines = systemConfigFault(
		code.ConfigNoEngines,
		"no engines specified in configuration",
		"specify at least one engine ('engines' list or 'nr_engines' parameter)",
	)
)

// FaultConfigDuplicateRank creates a fault for an engine rank that appears
// more than once.
func FaultConfigDuplicateRank(rank ranklist.Rank) *fault.Fault {
	return systemConfigFault(
		code.ConfigDuplicateRank,
		fmt.Sprintf("engine rank %d is configured more than once", rank),
		"assign a unique 'rank' to every engine in the configuration",
	)
}

// FaultConfigBadTargetCount creates a fault for an engine with an unusable
// target count.
func FaultConfigBadTargetCount(rank ranklist.Rank, nr int) *fault.Fault {
	return systemConfigFault(
		code.ConfigBadTargetCount,
		fmt.Sprintf("engine %d has an invalid target count (%d)", rank, nr),
		fmt.Sprintf("set 'targets' to a value between 1 and %d", MaxTargets),
	)
}

// FaultConfigBadScmSize creates a fault for an engine whose SCM cannot give
// every target the minimum.
func FaultConfigBadScmSize(rank ranklist.Rank, size, min uint64) *fault.Fault {
	return systemConfigFault(
		code.ConfigBadScmSize,
		fmt.Sprintf("engine %d scm_size %s is too small", rank, humanize.IBytes(size)),
		fmt.Sprintf("set 'scm_size' to at least %s per target", humanize.IBytes(min)),
	)
}

// FaultConfigBadNvmeSize creates a fault for NVMe that is configured but
// smaller than the SCM of the engine.
func FaultConfigBadNvmeSize(rank ranklist.Rank, nvme, scm uint64) *fault.Fault {
	return systemConfigFault(
		code.ConfigBadNvmeSize,
		fmt.Sprintf("engine %d nvme_size %s is smaller than scm_size %s", rank,
			humanize.IBytes(nvme), humanize.IBytes(scm)),
		"remove 'nvme_size' or set it to at least 'scm_size'",
	)
}

// FaultConfigBadReplicaCount creates a fault for a service replica count that
// cannot be satisfied.
func FaultConfigBadReplicaCount(param string, nr, engines int) *fault.Fault {
	return systemConfigFault(
		code.ConfigBadReplicaCount,
		fmt.Sprintf("invalid %s %d with %d engines", param, nr, engines),
		fmt.Sprintf("set '%s' to an odd number no larger than the engine count", param),
	)
}

// FaultConfigBadRaftTimeout creates a fault for raft timeouts that cannot
// produce a stable leader.
func FaultConfigBadRaftTimeout(param string, val, min time.Duration) *fault.Fault {
	return systemConfigFault(
		code.ConfigBadRaftTimeout,
		fmt.Sprintf("raft timeout %s (%s) is invalid", param, val),
		fmt.Sprintf("set 'raft_timeouts.%s' to at least %s", param, min),
	)
}

// FaultConfigBadSize creates a fault for a size string which could not be
// parsed.
func FaultConfigBadSize(in string, err error) *fault.Fault {
	return systemConfigFault(
		code.ConfigBadSize,
		fmt.Sprintf("invalid size %q: %s", in, err),
		"specify sizes as a number with an optional unit, e.g. '4GiB' or '512MB'",
	)
}

func systemConfigFault(code code.Code, desc, res string) *fault.Fault {
	return &fault.Fault{
		Domain:      "config",
		Code:        code,
		Description: desc,
		Resolution:  fault.Resolution(res),
	}
}
