//
// (C) Copyright 2020-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package pretty

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/lib/daos/api"
	"github.com/daos-stack/dsr/lib/ranklist"
	"github.com/daos-stack/dsr/lib/txtfmt"
	"github.com/daos-stack/dsr/system"
)

// PrintPoolInfo generates a human-readable representation of the supplied
// PoolInfo struct and writes it to the supplied io.Writer.
func PrintPoolInfo(pi *daos.PoolInfo, out io.Writer) error {
	if pi == nil {
		return errors.New("nil pool info")
	}
	w := txtfmt.NewErrWriter(out)

	w.Printf("Pool %s, ntarget=%d, disabled=%d, leader=%d, version=%d, state=%s\n",
		pi.UUID, pi.TotalTargets, pi.DisabledTargets, pi.ServiceLeader, pi.Version, pi.State)
	if len(pi.ServiceReplicas) > 0 {
		w.Printf("Pool service replicas: %s\n", ranklist.RankList(pi.ServiceReplicas))
	}
	if pi.EnabledRanks != nil && pi.EnabledRanks.Count() > 0 {
		w.Printf("Pool health info:\n- Enabled ranks: %s\n", pi.EnabledRanks.RangedString())
		if pi.DisabledRanks != nil && pi.DisabledRanks.Count() > 0 {
			w.Printf("- Disabled ranks: %s\n", pi.DisabledRanks.RangedString())
		}
	}
	w.Println("Pool space info:")
	w.Printf("- Target count:%d\n", pi.ActiveTargets)
	for tierIdx, tierStats := range pi.TierStats {
		w.Printf("- Storage tier %d (%s):\n", tierIdx, strings.ToUpper(tierStats.MediaType.String()))
		w.Printf("  Total size: %s\n", humanize.Bytes(tierStats.Total))
		w.Printf("  Free: %s, min:%s, max:%s, mean:%s\n",
			humanize.Bytes(tierStats.Free), humanize.Bytes(tierStats.Min),
			humanize.Bytes(tierStats.Max), humanize.Bytes(tierStats.Mean))
	}
	if pi.Rebuild != nil {
		if pi.Rebuild.Status == 0 {
			w.Printf("Rebuild %s, %d objs, %d recs\n",
				pi.Rebuild.State, pi.Rebuild.Objects, pi.Rebuild.Records)
		} else {
			w.Printf("Rebuild failed, status=%d\n", pi.Rebuild.Status)
		}
	}

	return w.Err
}

// PrintPoolCreateResponse prints the result of creating a pool.
func PrintPoolCreateResponse(ps *system.PoolService, out io.Writer) error {
	if ps == nil {
		return errors.New("nil response")
	}
	if ps.Storage == nil || ps.Storage.TargetCount == 0 {
		return errors.New("create response had 0 targets")
	}

	tgts := uint64(ps.Storage.TargetCount)
	scm := ps.Storage.PerTargetScm * tgts
	nvme := ps.Storage.PerTargetNvme * tgts
	total := scm + nvme

	title := "Pool created"
	if total != 0 {
		title = fmt.Sprintf("Pool created with %0.2f%%,%0.2f%% storage tier ratio",
			float64(scm)/float64(total)*100, float64(nvme)/float64(total)*100)
	}

	_, err := fmt.Fprintln(out, txtfmt.FormatEntity(title,
		txtfmt.Attr{Name: "UUID", Value: ps.PoolUUID.String()},
		txtfmt.Attr{Name: "Label", Value: ps.PoolLabel},
		txtfmt.Attr{Name: "Service Ranks", Value: ranklist.RankList(ps.Replicas).String()},
		txtfmt.Attr{Name: "Storage Ranks", Value: ps.Storage.CreationRankStr},
		txtfmt.Attr{Name: "Total Size", Value: humanize.Bytes(total)},
		txtfmt.Attr{Name: "Storage tier 0 (SCM)",
			Value: fmt.Sprintf("%s (%s / target)", humanize.Bytes(scm), humanize.Bytes(ps.Storage.PerTargetScm))},
		txtfmt.Attr{Name: "Storage tier 1 (NVMe)",
			Value: fmt.Sprintf("%s (%s / target)", humanize.Bytes(nvme), humanize.Bytes(ps.Storage.PerTargetNvme))},
	))
	return err
}

func poolListRow(pool *daos.PoolInfo) []string {
	// display size of the largest non-empty tier
	var size uint64
	for ti := len(pool.TierStats) - 1; ti >= 0; ti-- {
		if pool.TierStats[ti].Total != 0 {
			size = pool.TierStats[ti].Total
			break
		}
	}

	// display usage of the most used tier
	var used int
	for _, t := range pool.TierStats {
		if t.Total == 0 {
			continue
		}
		u := float64(t.Total-t.Free) / float64(t.Total)
		if int(u*100) > used {
			used = int(u * 100)
		}
	}

	// display imbalance of the most imbalanced tier
	var imbalance uint32
	for _, tu := range pool.Usage() {
		if tu.Imbalance > imbalance {
			imbalance = tu.Imbalance
		}
	}

	return []string{
		pool.Name(),
		pool.State.String(),
		humanize.Bytes(size),
		fmt.Sprintf("%d%%", used),
		fmt.Sprintf("%d%%", imbalance),
		fmt.Sprintf("%d/%d", pool.DisabledTargets, pool.TotalTargets),
	}
}

// PrintPoolList prints a table of pools sorted by name. Without usage the
// table lists only the pool identity and its service replicas.
func PrintPoolList(pools []*daos.PoolInfo, withUsage bool, out io.Writer) error {
	if len(pools) == 0 {
		_, err := fmt.Fprintln(out, "no pools in system")
		return err
	}

	sorted := append([]*daos.PoolInfo{}, pools...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name() < sorted[j].Name() })

	var table *txtfmt.Table
	if withUsage {
		table = txtfmt.NewTable("Pool", "State", "Size", "Used", "Imbalance", "Disabled")
		table.AlignRight("Size", "Used", "Imbalance", "Disabled")
		for _, pool := range sorted {
			table.AddRow(poolListRow(pool)...)
		}
	} else {
		table = txtfmt.NewTable("Pool", "UUID", "State", "Service Replicas")
		for _, pool := range sorted {
			table.AddRow(pool.Name(), pool.UUID.String(), pool.State.String(),
				ranklist.RankList(pool.ServiceReplicas).String())
		}
	}

	_, err := table.WriteTo(out)
	return err
}

// PrintPoolTargets prints the state and usage of pool targets.
func PrintPoolTargets(infos []*daos.PoolQueryTargetInfo, out io.Writer) error {
	table := txtfmt.NewTable("Rank", "Target", "Type", "State", "Tier", "Total", "Free")
	table.AlignRight("Rank", "Target", "Total", "Free")
	for _, ti := range infos {
		if len(ti.Space) == 0 {
			table.AddRow(ti.Rank.String(), fmt.Sprint(ti.Index), ti.Type.String(), ti.State.String())
			continue
		}
		for _, space := range ti.Space {
			table.AddRow(ti.Rank.String(), fmt.Sprint(ti.Index), ti.Type.String(), ti.State.String(),
				space.MediaType.String(), humanize.Bytes(space.Total), humanize.Bytes(space.Free))
		}
	}

	_, err := table.WriteTo(out)
	return err
}

// PrintBlobstoreStates prints the storage state of each pool target.
func PrintBlobstoreStates(states []*api.TargetBlobstoreState, out io.Writer) error {
	table := txtfmt.NewTable("Rank", "Target", "Blobstore State")
	table.AlignRight("Rank", "Target")
	for _, state := range states {
		table.AddRow(state.Rank.String(), fmt.Sprint(state.Target), state.State)
	}

	_, err := table.WriteTo(out)
	return err
}

// PrintServiceReplicas prints the pool service replicas and the leader.
func PrintServiceReplicas(replicas ranklist.RankList, leader ranklist.Rank, out io.Writer) error {
	w := txtfmt.NewErrWriter(out)
	w.Printf("Service replicas: %s\n", replicas)
	w.Printf("Service leader: %s\n", leader)
	return w.Err
}
