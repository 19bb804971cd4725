//
// (C) Copyright 2025 Google LLC
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package pretty

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/lib/daos/api"
	"github.com/daos-stack/dsr/lib/txtfmt"
)

// PrintObjectClasses prints the known object classes and their layouts.
func PrintObjectClasses(names []string, out io.Writer) error {
	table := txtfmt.NewTable("Class", "Redundancy", "Replicas", "Parity", "Groups")
	table.AlignRight("Replicas", "Parity", "Groups")
	for _, name := range names {
		class, err := api.ObjectClassFromName(name)
		if err != nil {
			return err
		}
		attr, err := api.QueryObjectClass(class)
		if err != nil {
			return err
		}
		groups := "max"
		if attr.GroupCount != 0 {
			groups = fmt.Sprint(attr.GroupCount)
		}
		table.AddRow(name, attr.Redundancy.String(), fmt.Sprint(attr.ReplicaCount),
			fmt.Sprint(attr.ParityCount), groups)
	}

	_, err := table.WriteTo(out)
	return err
}

// PrintObjectLayout prints the shard placement of an object, one line per
// redundancy group.
func PrintObjectLayout(oid daos.ObjectID, layout *api.ObjectLayout, out io.Writer) error {
	if layout == nil {
		return errors.New("nil object layout")
	}

	w := txtfmt.NewErrWriter(out)
	w.Printf("oid: %s class: %s groups: %d shards: %d\n", oid, layout.Class, len(layout.Groups), layout.Shards())
	for i, grp := range layout.Groups {
		tgts := make([]string, len(grp))
		for j, tgt := range grp {
			tgts[j] = tgt.String()
		}
		w.Printf("grp: %d\n", i)
		w.Printf("  replicas: %s\n", strings.Join(tgts, " "))
	}
	return w.Err
}

// PrintObjectIDs prints one object ID per line.
func PrintObjectIDs(oids []daos.ObjectID, out io.Writer) error {
	w := txtfmt.NewErrWriter(out)
	for _, oid := range oids {
		w.Println(oid.String())
	}
	return w.Err
}

// PrintKeys prints keys one per line, quoted when they are not printable.
func PrintKeys(keys []string, out io.Writer) error {
	w := txtfmt.NewErrWriter(out)
	for _, key := range keys {
		if isPrintable(key) {
			w.Println(key)
			continue
		}
		w.Printf("%q\n", key)
	}
	return w.Err
}

// PrintRecxs prints array extents and the record size.
func PrintRecxs(recxs []daos.Recx, size uint64, out io.Writer) error {
	w := txtfmt.NewErrWriter(out)
	w.Printf("record size: %d\n", size)
	for _, recx := range recxs {
		w.Printf("[%d-%d]\n", recx.Idx, recx.Idx+recx.Nr-1)
	}
	return w.Err
}

func isPrintable(s string) bool {
	for _, r := range s {
		if r < 0x20 || r > 0x7e {
			return false
		}
	}
	return true
}
