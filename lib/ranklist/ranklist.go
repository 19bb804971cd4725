//
// (C) Copyright 2020-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package ranklist

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/RoaringBitmap/roaring"
	"github.com/pkg/errors"
)

func fixBrackets(stringRanks string, remove bool) string {
	if remove {
		return strings.Trim(stringRanks, "[]")
	}

	if !strings.HasPrefix(stringRanks, "[") {
		stringRanks = "[" + stringRanks
	}
	if !strings.HasSuffix(stringRanks, "]") {
		stringRanks += "]"
	}

	return stringRanks
}

// RankList provides convenience methods for working with Rank slices.
type RankList []Rank

func (rl RankList) String() string {
	rs := make([]string, len(rl))
	for i, r := range rl {
		rs[i] = r.String()
	}
	return strings.Join(rs, ",")
}

// Contains returns true if the rank is in the list.
func (rl RankList) Contains(r Rank) bool {
	for _, lr := range rl {
		if lr == r {
			return true
		}
	}
	return false
}

// RankSet implements a set of unique ranks in a condensed format.
type RankSet struct {
	bm *roaring.Bitmap
}

// NewRankSet returns an initialized RankSet.
func NewRankSet() *RankSet {
	return &RankSet{bm: roaring.New()}
}

func (rs *RankSet) bitmap() *roaring.Bitmap {
	if rs.bm == nil {
		rs.bm = roaring.New()
	}
	return rs.bm
}

func (rs *RankSet) String() string {
	if rs == nil || rs.bm == nil {
		return ""
	}

	var parts []string
	vals := rs.bm.ToArray()
	for i := 0; i < len(vals); {
		j := i
		for j+1 < len(vals) && vals[j+1] == vals[j]+1 {
			j++
		}
		if i == j {
			parts = append(parts, strconv.FormatUint(uint64(vals[i]), 10))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", vals[i], vals[j]))
		}
		i = j + 1
	}
	return strings.Join(parts, ",")
}

// RangedString returns a ranged string representation of the RankSet.
func (rs *RankSet) RangedString() string {
	if rs == nil || rs.bm == nil {
		return ""
	}
	return fixBrackets(rs.String(), false)
}

// Count returns the number of ranks in the set.
func (rs *RankSet) Count() int {
	if rs == nil || rs.bm == nil {
		return 0
	}
	return int(rs.bm.GetCardinality())
}

// Merge merge the supplied RankSet into the receiver.
func (rs *RankSet) Merge(other *RankSet) {
	if rs == nil || other == nil || other.bm == nil {
		return
	}
	rs.bitmap().Or(other.bm)
}

// Replace replaces the contents of the receiver with the supplied RankSet.
func (rs *RankSet) Replace(other *RankSet) {
	if rs == nil || other == nil {
		return
	}
	if other.bm == nil {
		rs.bm = roaring.New()
		return
	}
	rs.bm = other.bm.Clone()
}

// Add adds rank to an existing RankSet.
func (rs *RankSet) Add(rank Rank) {
	rs.bitmap().Add(uint32(rank))
}

// Delete removes the specified rank from the RankSet.
func (rs *RankSet) Delete(rank Rank) {
	if rs == nil || rs.bm == nil {
		return
	}
	rs.bm.Remove(uint32(rank))
}

// Ranks returns a slice of Rank from a RankSet.
func (rs *RankSet) Ranks() RankList {
	out := make(RankList, 0, rs.Count())
	if rs == nil || rs.bm == nil {
		return out
	}

	for _, rVal := range rs.bm.ToArray() {
		out = append(out, Rank(rVal))
	}
	return out
}

// Contains returns true if Rank found in RankSet.
func (rs *RankSet) Contains(r Rank) bool {
	if rs == nil || rs.bm == nil {
		return false
	}
	return rs.bm.Contains(uint32(r))
}

// Difference returns the ranks in the receiver that are not in other.
func (rs *RankSet) Difference(other *RankSet) *RankSet {
	out := NewRankSet()
	if rs == nil || rs.bm == nil {
		return out
	}
	out.bm = rs.bm.Clone()
	if other != nil && other.bm != nil {
		out.bm.AndNot(other.bm)
	}
	return out
}

func (rs *RankSet) MarshalJSON() ([]byte, error) {
	if rs == nil {
		return json.Marshal(nil)
	}
	return json.Marshal(rs.Ranks())
}

func (rs *RankSet) UnmarshalJSON(data []byte) error {
	if rs == nil {
		return errors.New("nil RankSet")
	}

	var ranks []Rank
	if err := json.Unmarshal(data, &ranks); err == nil {
		rs.Replace(RankSetFromRanks(ranks))
		return nil
	}

	// If the input doesn't parse as a JSON array, try parsing
	// it as a ranged string.
	newRs, err := CreateRankSet(strings.Trim(string(data), "\""))
	if err != nil {
		return err
	}
	rs.Replace(newRs)

	return nil
}

// MustCreateRankSet is like CreateRankSet but will panic on error.
func MustCreateRankSet(stringRanks string) *RankSet {
	rs, err := CreateRankSet(stringRanks)
	if err != nil {
		panic(err)
	}
	return rs
}

func parseRange(in string) (uint64, uint64, error) {
	lo, hi, isRange := strings.Cut(in, "-")
	loVal, err := strconv.ParseUint(lo, 10, 32)
	if err != nil {
		return 0, 0, errors.Errorf("invalid rank %q", lo)
	}
	if !isRange {
		return loVal, loVal, nil
	}

	hiVal, err := strconv.ParseUint(hi, 10, 32)
	if err != nil {
		return 0, 0, errors.Errorf("invalid rank %q", hi)
	}
	if hiVal < loVal {
		return 0, 0, errors.Errorf("invalid range %q", in)
	}
	return loVal, hiVal, nil
}

// CreateRankSet creates a new RankSet from the supplied string
// representation, e.g. "0-3,5" or "[0-3,5]".
func CreateRankSet(stringRanks string) (*RankSet, error) {
	rs := NewRankSet()

	stringRanks = fixBrackets(stringRanks, true)
	if len(stringRanks) < 1 {
		return rs, nil
	}

	for _, c := range stringRanks {
		switch {
		case unicode.IsSpace(c):
			return nil, errors.New("unexpected whitespace character(s)")
		case unicode.IsLetter(c):
			return nil, errors.New("unexpected alphabetic character(s)")
		}
	}

	for _, item := range strings.Split(stringRanks, ",") {
		lo, hi, err := parseRange(item)
		if err != nil {
			return nil, err
		}
		rs.bm.AddRange(lo, hi+1)
	}

	return rs, nil
}

// RankSetFromRanks returns a RankSet created from the supplied Rank slice.
func RankSetFromRanks(ranks RankList) *RankSet {
	rs := NewRankSet()

	for _, r := range ranks {
		rs.Add(r)
	}

	return rs
}

// ParseRanks takes a string representation of a list of ranks e.g. 1-4,6 and
// returns a slice of Rank type or error.
func ParseRanks(stringRanks string) ([]Rank, error) {
	rs, err := CreateRankSet(stringRanks)
	if err != nil {
		return nil, errors.Wrapf(err, "creating rank set from '%s'", stringRanks)
	}

	return rs.Ranks(), nil
}
