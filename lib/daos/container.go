//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package daos

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type (
	ContainerLayout   uint16
	ContainerOpenFlag uint

	ContainerInfo struct {
		PoolUUID         uuid.UUID       `json:"pool_uuid"`
		ContainerUUID    uuid.UUID       `json:"container_uuid"`
		ContainerLabel   string          `json:"container_label,omitempty"`
		Type             ContainerLayout `json:"container_type"`
		Owner            string          `json:"owner"`
		Group            string          `json:"group"`
		LatestSnapshot   Epoch           `json:"latest_snapshot"`
		Snapshots        []Epoch         `json:"snapshots,omitempty"`
		NumHandles       uint32          `json:"num_handles"`
		RedundancyFactor uint32          `json:"redundancy_factor"`
		ObjectClass      ObjectClass     `json:"object_class"`
		ChunkSize        uint64          `json:"chunk_size"`
		OpenTime         time.Time       `json:"open_time"`
		CloseModifyTime  time.Time       `json:"close_modify_time"`
		CommittedEpoch   Epoch           `json:"committed_epoch"`
	}
)

const (
	ContainerLayoutUnknown ContainerLayout = iota
	ContainerLayoutPOSIX
	ContainerLayoutHDF5
	ContainerLayoutPython
	ContainerLayoutSpark
	ContainerLayoutDatabase
	ContainerLayoutRoot
	ContainerLayoutSeismic
	ContainerLayoutMeteo
)

const (
	ContainerOpenFlagReadOnly ContainerOpenFlag = 1 << iota
	ContainerOpenFlagReadWrite
	ContainerOpenFlagExclusive
	ContainerOpenFlagForce
)

// DefaultChunkSize is the default chunk size for containers and arrays.
const DefaultChunkSize = 1 << 20

var containerLayoutNames = []string{
	"unknown", "POSIX", "HDF5", "PYTHON", "SPARK", "DATABASE", "ROOT", "SEISMIC", "METEO",
}

func (l *ContainerLayout) FromString(in string) error {
	for i, name := range containerLayoutNames {
		if i != int(ContainerLayoutUnknown) && strings.EqualFold(in, name) {
			*l = ContainerLayout(i)
			return nil
		}
	}
	*l = ContainerLayoutUnknown

	return errors.Errorf("unknown container layout %q", in)
}

func (l ContainerLayout) String() string {
	return strVal(int(l), containerLayoutNames, "unknown")
}

func (f ContainerOpenFlag) String() string {
	var flagStrs []string
	if f&ContainerOpenFlagReadOnly != 0 {
		flagStrs = append(flagStrs, "read-only")
	}
	if f&ContainerOpenFlagReadWrite != 0 {
		flagStrs = append(flagStrs, "read-write")
	}
	if f&ContainerOpenFlagExclusive != 0 {
		flagStrs = append(flagStrs, "exclusive")
	}
	if f&ContainerOpenFlagForce != 0 {
		flagStrs = append(flagStrs, "force")
	}
	sort.Strings(flagStrs)
	return strings.Join(flagStrs, ",")
}

// Writable returns true if the flags allow modification of container data.
func (f ContainerOpenFlag) Writable() bool {
	return f&(ContainerOpenFlagReadWrite|ContainerOpenFlagExclusive) != 0
}

// Name retrieves effective name for container from either label or UUID.
func (ci *ContainerInfo) Name() string {
	if ci.ContainerLabel != "" {
		return ci.ContainerLabel
	}
	return ci.ContainerUUID.String()
}
