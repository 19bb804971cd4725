//
// (C) Copyright 2021-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package pretty

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/lib/daos/api"
	"github.com/daos-stack/dsr/lib/txtfmt"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC3339)
}

// PrintContainerInfo prints the attributes of a container.
func PrintContainerInfo(ci *daos.ContainerInfo, out io.Writer) error {
	if ci == nil {
		return errors.New("nil container info")
	}

	attrs := []txtfmt.Attr{
		{Name: "Container UUID", Value: ci.ContainerUUID.String()},
	}
	if ci.ContainerLabel != "" {
		attrs = append(attrs, txtfmt.Attr{Name: "Container Label", Value: ci.ContainerLabel})
	}
	attrs = append(attrs,
		txtfmt.Attr{Name: "Container Type", Value: ci.Type.String()},
		txtfmt.Attr{Name: "Pool UUID", Value: ci.PoolUUID.String()},
		txtfmt.Attr{Name: "Owner", Value: ci.Owner},
		txtfmt.Attr{Name: "Group", Value: ci.Group},
		txtfmt.Attr{Name: "Number of open handles", Value: fmt.Sprint(ci.NumHandles)},
		txtfmt.Attr{Name: "Number of snapshots", Value: fmt.Sprint(len(ci.Snapshots))},
		txtfmt.Attr{Name: "Latest Persistent Snapshot", Value: fmt.Sprintf("%#x", ci.LatestSnapshot.Uint64())},
		txtfmt.Attr{Name: "Committed Epoch", Value: fmt.Sprintf("%#x", ci.CommittedEpoch.Uint64())},
		txtfmt.Attr{Name: "Redundancy Factor", Value: fmt.Sprint(ci.RedundancyFactor)},
		txtfmt.Attr{Name: "Object Class", Value: ci.ObjectClass.String()},
		txtfmt.Attr{Name: "Chunk Size", Value: humanize.IBytes(ci.ChunkSize)},
		txtfmt.Attr{Name: "Last Open Time", Value: formatTime(ci.OpenTime)},
		txtfmt.Attr{Name: "Last Modify Time", Value: formatTime(ci.CloseModifyTime)},
	)

	_, err := fmt.Fprintln(out, txtfmt.FormatEntity("", attrs...))
	return err
}

// PrintContainerList prints a table of containers sorted by name.
func PrintContainerList(conts []*daos.ContainerInfo, out io.Writer) error {
	if len(conts) == 0 {
		_, err := fmt.Fprintln(out, "no containers in pool")
		return err
	}

	sorted := append([]*daos.ContainerInfo{}, conts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name() < sorted[j].Name() })

	table := txtfmt.NewTable("UUID", "Label", "Type", "Handles")
	table.AlignRight("Handles")
	for _, ci := range sorted {
		table.AddRow(ci.ContainerUUID.String(), ci.ContainerLabel, ci.Type.String(), fmt.Sprint(ci.NumHandles))
	}

	_, err := table.WriteTo(out)
	return err
}

// PrintSnapshots prints container snapshots in epoch order.
func PrintSnapshots(snaps []*api.Snapshot, out io.Writer) error {
	if len(snaps) == 0 {
		_, err := fmt.Fprintln(out, "no snapshots")
		return err
	}

	table := txtfmt.NewTable("Epoch", "Name", "Timestamp")
	for _, snap := range snaps {
		table.AddRow(fmt.Sprintf("%#x", snap.Epoch.Uint64()), snap.Name, formatTime(snap.Epoch.ToTime()))
	}

	_, err := table.WriteTo(out)
	return err
}

// PrintProperties prints a table of property names, descriptions and
// values.
func PrintProperties(title string, props *daos.PropertyList, out io.Writer) error {
	if props == nil {
		return errors.New("nil property list")
	}

	w := txtfmt.NewErrWriter(out)
	if title != "" {
		w.Println(title)
	}
	table := txtfmt.NewTable("Name", "Description", "Value")
	for _, prop := range props.Properties() {
		table.AddRow(prop.Name, prop.Description, prop.StringValue())
	}
	_, _ = table.WriteTo(w)
	return w.Err
}

// PrintAttributes prints attribute values. Names without a value are
// printed alone.
func PrintAttributes(title string, attrs daos.AttributeList, out io.Writer) error {
	w := txtfmt.NewErrWriter(out)
	if title != "" {
		w.Println(title)
	}
	if len(attrs) == 0 {
		w.Println("  No attributes found.")
		return w.Err
	}

	sorted := append(daos.AttributeList{}, attrs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	withValues := false
	for _, attr := range sorted {
		if attr.Value != nil {
			withValues = true
			break
		}
	}

	var table *txtfmt.Table
	if withValues {
		table = txtfmt.NewTable("Name", "Value")
	} else {
		table = txtfmt.NewTable("Name")
	}
	for _, attr := range sorted {
		table.AddRow(attr.Name, string(attr.Value))
	}
	_, _ = table.WriteTo(w)
	return w.Err
}

// PrintACL prints an ACL in the format accepted by the ACL file parser,
// with the ownership as comments.
func PrintACL(resp *api.ACLResp, verbose bool, out io.Writer) error {
	if resp == nil {
		return errors.New("nil ACL response")
	}

	w := txtfmt.NewErrWriter(out)
	w.Printf("# Owner: %s\n", resp.Owner)
	w.Printf("# Owner Group: %s\n", resp.OwnerGroup)
	w.Println("# Entries:")
	if resp.ACL == nil || resp.ACL.Empty() {
		w.Println("#   None")
		return w.Err
	}
	for _, ace := range resp.ACL.Entries {
		if verbose {
			w.Printf("# %s\n", ace.Perms())
		}
		w.Println(ace.String())
	}
	return w.Err
}
