//
// (C) Copyright 2018-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

// Package code is a central repository for all fault codes.
package code

import (
	"encoding/json"
	"strconv"
)

// Code represents a stable fault code.
//
// NB: New codes should always be added at the bottom of their
// respective blocks so that published codes remain stable.
type Code int

// UnmarshalJSON implements a custom unmarshaler
// to convert an int or string code to a Code.
func (c *Code) UnmarshalJSON(data []byte) (err error) {
	var ic int
	if err = json.Unmarshal(data, &ic); err == nil {
		*c = Code(ic)
		return
	}

	var sc string
	if err = json.Unmarshal(data, &sc); err != nil {
		return
	}

	if ic, err = strconv.Atoi(sc); err == nil {
		*c = Code(ic)
	}
	return
}

const (
	// general fault codes
	Unknown Code = iota
	MissingSoftwareDependency
)

const (
	// storage fault codes
	StorageUnknown Code = iota + 100
	StorageInsufficientCapacity
	StorageEngineStopped
)

const (
	// replicated service fault codes
	RsvcUnknown Code = iota + 200
	RsvcNoLeader
	RsvcReplicaCount
	RsvcStoreFailed
)

const (
	// pool fault codes
	PoolUnknown Code = iota + 300
	PoolBadLabel
	PoolDuplicateLabel
	PoolNotFound
)

const (
	// security fault codes
	SecurityUnknown Code = iota + 400
	SecurityBadACL
	SecurityNoCredential
)

const (
	// system configuration fault codes
	ConfigUnknown Code = iota + 500
	ConfigBadName
	ConfigNoEngines
	ConfigDuplicateRank
	ConfigBadTargetCount
	ConfigBadScmSize
	ConfigBadNvmeSize
	ConfigBadReplicaCount
	ConfigBadRaftTimeout
	ConfigBadLogLevel
	ConfigNoPath
	ConfigBadSize
)
