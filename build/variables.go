//
// (C) Copyright 2020-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package build

var (
	// ConfigDir should be set via linker flag using the value of CONF_DIR.
	ConfigDir string = "./"
	// DaosVersion should be set via linker flag using the value of DAOS_VERSION.
	DaosVersion string = "unset"
	// Revision should be set via linker flag using the current VCS revision.
	Revision string
	// DirtyBuild is set when the tree had uncommitted changes at build time.
	DirtyBuild bool
	// ReleaseBuild is set for tagged release builds.
	ReleaseBuild bool

	// ControlPlaneName defines a consistent name for the in-process system.
	ControlPlaneName = "DAOS Storage System"
	// ManagementServiceName defines a consistent name for the Management Service.
	ManagementServiceName = "DAOS Management Service"
	// PoolServiceName defines a consistent name prefix for pool services.
	PoolServiceName = "DAOS Pool Service"
	// CLIName is the name of the command line utility.
	CLIName = "dsr"

	// DefaultSystemName defines the default DAOS system name.
	DefaultSystemName = "daos_server"
	// DefaultConfigDir is searched when no config directory was set at link time.
	DefaultConfigDir = "/etc/daos"
	// ConfigFile is the default configuration file name.
	ConfigFile = "dsr.yml"
)
