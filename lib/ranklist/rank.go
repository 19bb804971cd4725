//
// (C) Copyright 2020-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package ranklist

import (
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// Rank is used to uniquely identify a server (engine) within a system.
type Rank uint32

// NilRank is an unset rank.
const NilRank Rank = math.MaxUint32

// NewRankPtr is a convenience function for creating a *Rank.
func NewRankPtr(in uint32) *Rank {
	r := Rank(in)
	return &r
}

func (r Rank) String() string {
	if r == NilRank {
		return "NilRank"
	}
	return strconv.FormatUint(uint64(r), 10)
}

// Uint32 returns the uint32 representation of the rank.
func (r Rank) Uint32() uint32 {
	return uint32(r)
}

// Equals compares the rank against another.
func (r Rank) Equals(other Rank) bool {
	return r == other
}

// FromString parses a rank from its decimal representation.
func (r *Rank) FromString(in string) error {
	val, err := strconv.ParseUint(in, 10, 32)
	if err != nil {
		return errors.Wrapf(err, "invalid rank %q", in)
	}
	if Rank(val) == NilRank {
		return errors.Errorf("rank %q is reserved", in)
	}
	*r = Rank(val)
	return nil
}
