//
// (C) Copyright 2019-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package system

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/engine"
	"github.com/daos-stack/dsr/lib/ranklist"
)

// MemberState represents the activity state of system members.
type MemberState int

const (
	// MemberStateUnknown is the default invalid state.
	MemberStateUnknown MemberState = 0x0000
	// MemberStateJoined indicates the member has joined the system.
	MemberStateJoined MemberState = 0x0008
	// MemberStateStopped indicates the engine has been stopped.
	MemberStateStopped MemberState = 0x0020

	// AvailableMemberFilter defines the state(s) to be used when determining
	// whether or not a member is available for the purposes of pool creation, etc.
	AvailableMemberFilter = MemberStateJoined
	// AllMemberFilter will match all valid member states.
	AllMemberFilter = MemberState(0xFFFF)
)

func (ms MemberState) String() string {
	switch ms {
	case MemberStateJoined:
		return "Joined"
	case MemberStateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

func (ms MemberState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + ms.String() + `"`), nil
}

func (ms *MemberState) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "Joined":
		*ms = MemberStateJoined
	case "Stopped":
		*ms = MemberStateStopped
	case "Unknown":
		*ms = MemberStateUnknown
	default:
		return errors.Errorf("invalid member state %s", data)
	}
	return nil
}

func memberStateFromEngine(s engine.State) MemberState {
	switch s {
	case engine.StateReady:
		return MemberStateJoined
	case engine.StateStopped:
		return MemberStateStopped
	default:
		return MemberStateUnknown
	}
}

// Member refers to an engine that is a member of the system.
type Member struct {
	Rank        ranklist.Rank `json:"rank"`
	State       MemberState   `json:"state"`
	Targets     int           `json:"targets"`
	ScmSize     uint64        `json:"scm_size"`
	NvmeSize    uint64        `json:"nvme_size"`
	MgmtReplica bool          `json:"mgmt_replica"`
}

func (sm *Member) String() string {
	return fmt.Sprintf("rank %d (%s) %d targets, scm %s, nvme %s", sm.Rank, sm.State,
		sm.Targets, humanize.IBytes(sm.ScmSize), humanize.IBytes(sm.NvmeSize))
}

// Members is a type alias for a slice of member references
type Members []*Member

// Ranks returns the ranks of the members matching the filter.
func (sms Members) Ranks(filter MemberState) ranklist.RankList {
	var ranks ranklist.RankList
	for _, m := range sms {
		if m.State&filter != 0 {
			ranks = append(ranks, m.Rank)
		}
	}
	return ranks
}

// MemberResult refers to the result of an action on a system member.
type MemberResult struct {
	Rank    ranklist.Rank `json:"rank"`
	Errored bool          `json:"errored"`
	Msg     string        `json:"msg"`
	State   MemberState   `json:"state"`
}

// NewMemberResult returns a reference to a new member result struct.
func NewMemberResult(rank ranklist.Rank, err error, state MemberState) *MemberResult {
	result := MemberResult{Rank: rank, State: state}
	if err != nil {
		result.Errored = true
		result.Msg = err.Error()
	}

	return &result
}
