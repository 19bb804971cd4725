//
// (C) Copyright 2019-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package main

import (
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/cmd/dsr/pretty"
	"github.com/daos-stack/dsr/lib/daos/api"
	"github.com/daos-stack/dsr/lib/ranklist"
	"github.com/daos-stack/dsr/lib/ui"
	"github.com/daos-stack/dsr/system"
)

// systemCmd is the struct representing the top-level system subcommand.
type systemCmd struct {
	Query     systemQueryCmd     `command:"query" description:"query the state of system members"`
	Stop      systemStopCmd      `command:"stop" alias:"stop-rank" description:"stop engines, as if they had failed"`
	Start     systemStartCmd     `command:"start" alias:"start-rank" description:"restart stopped engines"`
	Info      systemInfoCmd      `command:"info" description:"show what a client needs to attach to the system"`
	Leader    systemLeaderCmd    `command:"leader" description:"show the management service leader"`
	AddSvc    systemAddSvcCmd    `command:"add-svc" description:"add management service replicas"`
	RemoveSvc systemRemoveSvcCmd `command:"remove-svc" description:"remove management service replicas"`
}

// systemQueryCmd is the struct representing the command to query system
// members.
type systemQueryCmd struct {
	baseCmd
}

// Execute is run when systemQueryCmd subcommand is activated.
func (cmd *systemQueryCmd) Execute(_ []string) error {
	members, err := cmd.sys.SystemQuery(cmd.MustLogCtx())
	if err != nil {
		return errors.Wrap(err, "system query failed")
	}

	return cmd.printOrJSON(members, func(w io.Writer) error {
		return pretty.PrintSystemQuery(members, w)
	})
}

type systemRanksCmd struct {
	baseCmd
	Ranks ui.RankSetFlag `long:"ranks" short:"r" description:"comma separated ranks or rank ranges (default all)"`
}

func (cmd *systemRanksCmd) ranks() ranklist.RankList {
	if cmd.Ranks.Empty() {
		return cmd.sys.Ranks()
	}
	return cmd.Ranks.Ranks()
}

type memberOp func(*system.System, ranklist.Rank) (*system.MemberResult, error)

func (cmd *systemRanksCmd) apply(title string, op memberOp) error {
	var results []*system.MemberResult
	for _, rank := range cmd.ranks() {
		result, err := op(cmd.sys, rank)
		if err != nil {
			return errors.Wrapf(err, "rank %d", rank)
		}
		results = append(results, result)
	}

	if err := cmd.printOrJSON(results, func(w io.Writer) error {
		return pretty.PrintMemberResults(title, results, w)
	}); err != nil {
		return err
	}

	for _, result := range results {
		if result.Errored {
			return errors.Errorf("%s failed on one or more ranks", title)
		}
	}
	return nil
}

// systemStopCmd is the struct representing the command to stop engines.
type systemStopCmd struct {
	systemRanksCmd
}

// Execute is run when systemStopCmd subcommand is activated.
func (cmd *systemStopCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	return cmd.apply("Stop Result", func(sys *system.System, rank ranklist.Rank) (*system.MemberResult, error) {
		return sys.EngineStop(ctx, rank)
	})
}

// systemStartCmd is the struct representing the command to restart engines.
type systemStartCmd struct {
	systemRanksCmd
}

// Execute is run when systemStartCmd subcommand is activated.
func (cmd *systemStartCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	return cmd.apply("Start Result", func(sys *system.System, rank ranklist.Rank) (*system.MemberResult, error) {
		return sys.EngineStart(ctx, rank)
	})
}

type systemInfoCmd struct {
	baseCmd
}

// Execute is run when systemInfoCmd subcommand is activated.
func (cmd *systemInfoCmd) Execute(_ []string) error {
	info, err := api.GetSystemInfo(cmd.MustLogCtx(), cmd.sysName())
	if err != nil {
		return err
	}

	return cmd.printOrJSON(info, func(w io.Writer) error {
		return pretty.PrintSystemInfo(info, w)
	})
}

type systemLeaderCmd struct {
	baseCmd
}

// Execute is run when systemLeaderCmd subcommand is activated.
func (cmd *systemLeaderCmd) Execute(_ []string) error {
	leader, err := api.MgmtSvcLeader(cmd.MustLogCtx(), cmd.sysName())
	if err != nil {
		return err
	}

	return cmd.printOrJSON(struct {
		Leader   ranklist.Rank     `json:"leader"`
		Replicas ranklist.RankList `json:"replicas"`
	}{leader, cmd.sys.MgmtSvcReplicas()}, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "leader: %s, replicas: %s\n", leader, cmd.sys.MgmtSvcReplicas())
		return err
	})
}

type systemSvcCmd struct {
	baseCmd
	Ranks ui.RankSetFlag `long:"ranks" short:"r" required:"1" description:"engine ranks of the replicas"`
}

func (cmd *systemSvcCmd) update(name string, fn func(ranklist.Rank) error) error {
	for _, rank := range cmd.Ranks.Ranks() {
		if err := fn(rank); err != nil {
			return errors.Wrapf(err, "failed to %s management service replica %d", name, rank)
		}
	}
	cmd.Infof("%s management service replicas %s succeeded", name, cmd.Ranks.RangedString())

	if cmd.JSONOutputEnabled() {
		return cmd.OutputJSON(nil, nil)
	}
	return nil
}

type systemAddSvcCmd struct {
	systemSvcCmd
}

// Execute is run when systemAddSvcCmd subcommand is activated.
func (cmd *systemAddSvcCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	return cmd.update("add", func(rank ranklist.Rank) error {
		return cmd.sys.MgmtSvcAddReplica(ctx, rank)
	})
}

type systemRemoveSvcCmd struct {
	systemSvcCmd
}

// Execute is run when systemRemoveSvcCmd subcommand is activated.
func (cmd *systemRemoveSvcCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	return cmd.update("remove", func(rank ranklist.Rank) error {
		return cmd.sys.MgmtSvcRemoveReplica(ctx, rank)
	})
}
