//
// (C) Copyright 2022-2023 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package ui

import (
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/lib/ranklist"
)

var (
	_ flags.Unmarshaler = &RankSetFlag{}
)

// RankSetFlag holds engine ranks given as a comma separated list of ranks
// and rank ranges, optionally bracketed, e.g. "[0-2,5]".
type RankSetFlag struct {
	ranklist.RankSet
}

// Empty returns true if no ranks were given.
func (f *RankSetFlag) Empty() bool {
	return f.Count() == 0
}

// UnmarshalFlag implements the go-flags.Unmarshaler interface.
func (f *RankSetFlag) UnmarshalFlag(fv string) error {
	if strings.Trim(fv, "[] ") == "" {
		return errors.New("empty rank list")
	}

	rs, err := ranklist.CreateRankSet(fv)
	if err != nil {
		return errors.Wrapf(err, "invalid rank list %q", fv)
	}
	f.Replace(rs)
	return nil
}
