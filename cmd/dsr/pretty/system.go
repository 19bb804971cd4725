//
// (C) Copyright 2020-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package pretty

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/lib/daos/api"
	"github.com/daos-stack/dsr/lib/ranklist"
	"github.com/daos-stack/dsr/lib/txtfmt"
	"github.com/daos-stack/dsr/system"
)

// PrintSystemQuery prints one row per system member.
func PrintSystemQuery(members system.Members, out io.Writer) error {
	if len(members) == 0 {
		_, err := fmt.Fprintln(out, "no system members")
		return err
	}

	table := txtfmt.NewTable("Rank", "State", "Targets", "SCM", "NVMe", "MS Replica")
	table.AlignRight("Rank", "Targets", "SCM", "NVMe")
	for _, m := range members {
		replica := ""
		if m.MgmtReplica {
			replica = "yes"
		}
		table.AddRow(m.Rank.String(), m.State.String(), fmt.Sprint(m.Targets),
			humanize.IBytes(m.ScmSize), humanize.IBytes(m.NvmeSize), replica)
	}

	_, err := table.WriteTo(out)
	return err
}

// PrintMemberResults prints the outcome of a rank start or stop, grouping
// ranks by result under the given column title.
func PrintMemberResults(title string, results []*system.MemberResult, out io.Writer) error {
	type group struct {
		ranks *ranklist.RankSet
		msg   string
	}
	var groups []*group
	byMsg := make(map[string]*group)

	for _, res := range results {
		msg := "OK"
		if res.Errored {
			msg = res.Msg
		}
		g, found := byMsg[msg]
		if !found {
			g = &group{ranks: ranklist.NewRankSet(), msg: msg}
			byMsg[msg] = g
			groups = append(groups, g)
		}
		g.ranks.Add(res.Rank)
	}

	table := txtfmt.NewTable("Ranks", title)
	for _, g := range groups {
		table.AddRow(g.ranks.RangedString(), g.msg)
	}

	_, err := table.WriteTo(out)
	return err
}

// PrintSystemInfo prints the system name, ranks and management service.
func PrintSystemInfo(si *api.SystemInfo, out io.Writer) error {
	if si == nil {
		return errors.New("nil system info")
	}

	_, err := fmt.Fprintln(out, txtfmt.FormatEntity("System Information",
		txtfmt.Attr{Name: "System Name", Value: si.Name},
		txtfmt.Attr{Name: "Ranks", Value: si.Ranks.String()},
		txtfmt.Attr{Name: "Management Service Replicas", Value: si.MgmtSvcReplicas.String()},
		txtfmt.Attr{Name: "Management Service Leader", Value: si.MgmtSvcLeader.String()},
		txtfmt.Attr{Name: "Configuration Fingerprint", Value: fmt.Sprintf("%#x", si.Fingerprint)},
	))
	return err
}
