//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

// Package placement maps object shards onto pool targets.
package placement

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/lib/daos"
	"github.com/daos-stack/dsr/lib/ranklist"
)

type (
	// TargetRef identifies a target by engine rank and target index.
	TargetRef struct {
		Rank  ranklist.Rank `json:"rank"`
		Index uint32        `json:"index"`
	}

	// ObjectLayout is the placement of an object's shards, one slice of
	// targets per redundancy group.
	ObjectLayout struct {
		Class  daos.ObjectClass `json:"class"`
		Groups [][]TargetRef    `json:"groups"`
	}
)

func (tr TargetRef) String() string {
	return fmt.Sprintf("%d:%d", tr.Rank, tr.Index)
}

// Shards returns the number of shards in the layout.
func (ol *ObjectLayout) Shards() int {
	n := 0
	for _, g := range ol.Groups {
		n += len(g)
	}
	return n
}

// jumpHash is the Lamping-Veach jump consistent hash.
func jumpHash(key uint64, buckets int) int {
	var b, j int64 = -1, 0
	for j < int64(buckets) {
		b = j
		key = key*2862933555777941757 + 1
		j = int64(float64(b+1) * (float64(int64(1)<<31) / float64((key>>33)+1)))
	}
	return int(b)
}

func shardSeed(oid daos.ObjectID, group, shard int) uint64 {
	var buf [32]byte
	binary.BigEndian.PutUint64(buf[0:], oid.Hi)
	binary.BigEndian.PutUint64(buf[8:], oid.Lo)
	binary.BigEndian.PutUint64(buf[16:], uint64(group))
	binary.BigEndian.PutUint64(buf[24:], uint64(shard))
	return xxhash.Sum64(buf[:])
}

func sortTargets(targets []TargetRef) []TargetRef {
	sorted := append([]TargetRef(nil), targets...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Rank != sorted[j].Rank {
			return sorted[i].Rank < sorted[j].Rank
		}
		return sorted[i].Index < sorted[j].Index
	})
	return sorted
}

// Layout places the shards of the object over the supplied pool
// targets. Shards of a group are placed on distinct engines where the
// target set allows it, and on distinct targets otherwise.
func Layout(oid daos.ObjectID, class daos.ObjectClass, targets []TargetRef) (*ObjectLayout, error) {
	if class == daos.ObjectClassUnknown {
		class = oid.Class()
	}
	attr, err := class.Attr()
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, errors.Wrap(daos.Unreachable, "no targets available for placement")
	}

	shards := attr.ShardsPerGroup()
	if shards > len(targets) {
		return nil, errors.Wrapf(daos.InvalidInput, "object class %s needs %d targets, only %d available",
			class, shards, len(targets))
	}

	nGroups := int(attr.GroupCount)
	if nGroups == 0 {
		nGroups = len(targets) / shards
	}
	if nGroups < 1 {
		nGroups = 1
	}

	sorted := sortTargets(targets)
	used := make(map[TargetRef]bool)
	layout := &ObjectLayout{
		Class:  class,
		Groups: make([][]TargetRef, nGroups),
	}

	for g := 0; g < nGroups; g++ {
		inGroup := make(map[TargetRef]bool)
		engines := make(map[ranklist.Rank]bool)

		for s := 0; s < shards; s++ {
			start := jumpHash(shardSeed(oid, g, s), len(sorted))
			tgt, ok := pick(sorted, start, func(t TargetRef) bool {
				return !used[t] && !engines[t.Rank]
			}, func(t TargetRef) bool {
				return !inGroup[t] && !engines[t.Rank]
			}, func(t TargetRef) bool {
				return !inGroup[t]
			})
			if !ok {
				return nil, errors.Wrapf(daos.InvalidInput, "unable to place shard %d of group %d", s, g)
			}

			used[tgt] = true
			inGroup[tgt] = true
			engines[tgt.Rank] = true
			layout.Groups[g] = append(layout.Groups[g], tgt)
		}
	}

	return layout, nil
}

// pick probes from start for the first target accepted by the strictest
// filter that accepts any target.
func pick(targets []TargetRef, start int, filters ...func(TargetRef) bool) (TargetRef, bool) {
	for _, accept := range filters {
		for i := 0; i < len(targets); i++ {
			t := targets[(start+i)%len(targets)]
			if accept(t) {
				return t, true
			}
		}
	}
	return TargetRef{}, false
}

// GroupForDkey returns the index of the redundancy group that stores the
// dkey.
func GroupForDkey(layout *ObjectLayout, dkey daos.Key) int {
	if layout == nil || len(layout.Groups) <= 1 {
		return 0
	}
	return int(xxhash.Sum64(dkey) % uint64(len(layout.Groups)))
}
