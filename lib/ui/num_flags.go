//
// (C) Copyright 2022-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package ui

import (
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/lib/daos"
)

var (
	_ flags.Unmarshaler = &ByteSizeFlag{}
	_ flags.Unmarshaler = &EpochFlag{}
	_ flags.Unmarshaler = &EpochRangeFlag{}
	_ flags.Unmarshaler = &NumberListFlag{}
)

// ByteSizeFlag is a go-flags compatible flag type for converting
// string input into a byte size.
type ByteSizeFlag struct {
	set   bool
	Bytes uint64
}

func (sf ByteSizeFlag) IsSet() bool {
	return sf.set
}

func (sf ByteSizeFlag) String() string {
	return humanize.IBytes(sf.Bytes)
}

func (sf *ByteSizeFlag) UnmarshalFlag(fv string) (err error) {
	if fv == "" {
		return errors.New("no size specified")
	}

	sf.Bytes, err = humanize.ParseBytes(fv)
	if err != nil {
		return errors.Errorf("invalid size %q", fv)
	}
	sf.set = true

	return nil
}

// EpochFlag holds an epoch supplied either as a number or as an HLC
// timestamp in RFC3339 form.
type EpochFlag struct {
	Epoch daos.Epoch
}

func (ef EpochFlag) String() string {
	return strconv.FormatUint(uint64(ef.Epoch), 10)
}

func (ef *EpochFlag) UnmarshalFlag(fv string) error {
	if n, err := strconv.ParseUint(fv, 0, 64); err == nil {
		ef.Epoch = daos.Epoch(n)
		return nil
	}
	if err := ef.Epoch.UnmarshalJSON([]byte(strconv.Quote(fv))); err != nil {
		return errors.Errorf("invalid epoch %q", fv)
	}
	return nil
}

// EpochRangeFlag holds an inclusive range of numeric epochs, "lo-hi".
type EpochRangeFlag struct {
	Range daos.EpochRange
}

func (ef EpochRangeFlag) String() string {
	return strconv.FormatUint(uint64(ef.Range.Lo), 10) + "-" + strconv.FormatUint(uint64(ef.Range.Hi), 10)
}

func (ef *EpochRangeFlag) UnmarshalFlag(fv string) error {
	parts := strings.SplitN(fv, "-", 2)
	if len(parts) != 2 {
		return errors.Errorf("invalid epoch range %q (must be lo-hi)", fv)
	}
	lo, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 0, 64)
	if err != nil {
		return errors.Errorf("invalid epoch %q", parts[0])
	}
	hi, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 0, 64)
	if err != nil {
		return errors.Errorf("invalid epoch %q", parts[1])
	}
	if hi < lo {
		return errors.Errorf("invalid epoch range %q (lo > hi)", fv)
	}

	ef.Range = daos.EpochRange{Lo: daos.Epoch(lo), Hi: daos.Epoch(hi)}
	return nil
}

// NumberListFlag holds a comma-separated list of numbers or ranges,
// such as "0,2-4".
type NumberListFlag struct {
	Numbers []uint32
}

func (nf NumberListFlag) String() string {
	strs := make([]string, len(nf.Numbers))
	for i, n := range nf.Numbers {
		strs[i] = strconv.FormatUint(uint64(n), 10)
	}
	return strings.Join(strs, ",")
}

func (nf *NumberListFlag) UnmarshalFlag(fv string) error {
	nf.Numbers = nil
	for _, tok := range strings.Split(fv, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}

		lo, hi := tok, tok
		if i := strings.IndexByte(tok, '-'); i > 0 {
			lo, hi = tok[:i], tok[i+1:]
		}
		loN, err := strconv.ParseUint(lo, 10, 32)
		if err != nil {
			return errors.Errorf("invalid number %q", lo)
		}
		hiN, err := strconv.ParseUint(hi, 10, 32)
		if err != nil {
			return errors.Errorf("invalid number %q", hi)
		}
		if hiN < loN {
			return errors.Errorf("invalid range %q", tok)
		}
		for n := loN; n <= hiN; n++ {
			nf.Numbers = append(nf.Numbers, uint32(n))
		}
	}
	return nil
}
