//
// (C) Copyright 2022-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package system

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/lib/ranklist"
)

type (
	// PoolServiceStorage holds information about the pool storage.
	PoolServiceStorage struct {
		CreationRankStr string // string rankset set at creation
		TargetCount     uint32 // number of targets holding a shard
		PerTargetScm    uint64
		PerTargetNvme   uint64
	}

	// PoolServiceState is a local type alias for daos.PoolServiceState.
	// NB: We use this to insulate the management DB from any incompatible
	// changes made to the daos.PoolServiceState type.
	PoolServiceState daos.PoolServiceState

	// PoolService is the management service record of a pool.
	PoolService struct {
		PoolUUID   uuid.UUID
		PoolLabel  string
		State      PoolServiceState
		Replicas   []ranklist.Rank
		Storage    *PoolServiceStorage
		Owner      string
		Group      string
		Created    time.Time
		LastUpdate time.Time
	}
)

const (
	PoolServiceStateCreating   = PoolServiceState(daos.PoolServiceStateCreating)
	PoolServiceStateReady      = PoolServiceState(daos.PoolServiceStateReady)
	PoolServiceStateDestroying = PoolServiceState(daos.PoolServiceStateDestroying)
)

func (pss PoolServiceState) String() string {
	return daos.PoolServiceState(pss).String()
}

func (pss PoolServiceState) MarshalJSON() ([]byte, error) {
	return daos.PoolServiceState(pss).MarshalJSON()
}

func (pss *PoolServiceState) UnmarshalJSON(data []byte) error {
	return (*daos.PoolServiceState)(pss).UnmarshalJSON(data)
}

// NewPoolService returns a properly-initialized *PoolService.
func NewPoolService(id uuid.UUID, label string, ranks []ranklist.Rank, targets uint32, scm, nvme uint64) *PoolService {
	return &PoolService{
		PoolUUID:  id,
		PoolLabel: label,
		State:     PoolServiceStateCreating,
		Storage: &PoolServiceStorage{
			CreationRankStr: ranklist.RankSetFromRanks(ranks).RangedString(),
			TargetCount:     targets,
			PerTargetScm:    scm,
			PerTargetNvme:   nvme,
		},
	}
}

// CreationRanks returns the set of target ranks associated
// with the pool's creation.
func (pss *PoolServiceStorage) CreationRanks() []ranklist.Rank {
	rs, err := ranklist.CreateRankSet(pss.CreationRankStr)
	if err != nil {
		return nil
	}
	return rs.Ranks()
}

// TotalSCM returns the total amount of SCM storage allocated to the pool.
func (pss *PoolServiceStorage) TotalSCM() uint64 {
	return uint64(pss.TargetCount) * pss.PerTargetScm
}

// TotalNVMe returns the total amount of NVMe storage allocated to the pool.
func (pss *PoolServiceStorage) TotalNVMe() uint64 {
	return uint64(pss.TargetCount) * pss.PerTargetNvme
}

func (pss *PoolServiceStorage) String() string {
	if pss == nil {
		return "no pool storage info available"
	}
	return fmt.Sprintf("total SCM: %s, total NVMe: %s",
		humanize.IBytes(pss.TotalSCM()),
		humanize.IBytes(pss.TotalNVMe()))
}

// ID returns the label of the pool if it has one, otherwise its UUID.
func (ps *PoolService) ID() string {
	if ps.PoolLabel != "" {
		return ps.PoolLabel
	}
	return ps.PoolUUID.String()
}

func (ps *PoolService) String() string {
	return fmt.Sprintf("pool %s (%s)", ps.ID(), ps.State)
}

func (ps *PoolService) copy() *PoolService {
	c := *ps
	c.Replicas = append([]ranklist.Rank(nil), ps.Replicas...)
	if ps.Storage != nil {
		st := *ps.Storage
		c.Storage = &st
	}
	return &c
}
