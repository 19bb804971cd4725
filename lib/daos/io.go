//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package daos

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

const (
	// MaxKeySize is the maximum size of a dkey or akey.
	MaxKeySize = 4096
	// MaxRecordSize is the maximum size of a single value or array record.
	MaxRecordSize = 1 << 30
)

type (
	// Key is a distribution or attribute key.
	Key []byte

	// IODType selects the value type of an akey.
	IODType int

	// Recx is an extent of array records.
	Recx struct {
		Idx uint64 `json:"idx"`
		Nr  uint64 `json:"nr"`
	}

	// IOD describes the values read or written under one akey.
	IOD struct {
		Name  Key     `json:"name"`
		Type  IODType `json:"type"`
		Size  uint64  `json:"size"`
		Recxs []Recx  `json:"recxs,omitempty"`
	}

	// SGList is the scatter/gather buffer list for one IOD.
	SGList [][]byte

	// KeyDescriptor describes an enumerated key.
	KeyDescriptor struct {
		Len uint64 `json:"len"`
	}

	// QueryKeyFlag selects what a key query returns.
	QueryKeyFlag uint
)

const (
	IODTypeNone IODType = iota
	IODTypeSingle
	IODTypeArray
)

const (
	QueryKeyGetDkey QueryKeyFlag = 1 << iota
	QueryKeyGetAkey
	QueryKeyGetRecx
	QueryKeyMax
	QueryKeyMin
)

func (t IODType) String() string {
	return strVal(int(t), []string{"none", "single", "array"}, "unknown")
}

// Uint64Key encodes an integer key so that byte order matches numeric order.
func Uint64Key(v uint64) Key {
	k := make(Key, 8)
	binary.BigEndian.PutUint64(k, v)
	return k
}

// Uint64 decodes an integer key.
func (k Key) Uint64() (uint64, error) {
	if len(k) != 8 {
		return 0, errors.Wrapf(InvalidInput, "key length %d is not an integer key", len(k))
	}
	return binary.BigEndian.Uint64(k), nil
}

// Equals returns true if the keys contain the same bytes.
func (k Key) Equals(other Key) bool {
	return bytes.Equal(k, other)
}

func (k Key) String() string {
	return string(k)
}

// Validate checks that the key is non-empty and within the size limit.
func (k Key) Validate() error {
	if len(k) == 0 {
		return errors.Wrap(InvalidInput, "empty key")
	}
	if len(k) > MaxKeySize {
		return errors.Wrapf(KeyTooBig, "key length %d", len(k))
	}
	return nil
}

// End returns the index after the last record in the extent.
func (r Recx) End() uint64 {
	return r.Idx + r.Nr
}

// Contains returns true if the index falls within the extent.
func (r Recx) Contains(idx uint64) bool {
	return idx >= r.Idx && idx < r.End()
}

// Overlaps returns true if the extents share at least one record.
func (r Recx) Overlaps(other Recx) bool {
	return r.Idx < other.End() && other.Idx < r.End()
}

// Intersect returns the records shared by both extents.
func (r Recx) Intersect(other Recx) (Recx, bool) {
	if !r.Overlaps(other) {
		return Recx{}, false
	}
	lo := r.Idx
	if other.Idx > lo {
		lo = other.Idx
	}
	hi := r.End()
	if other.End() < hi {
		hi = other.End()
	}
	return Recx{Idx: lo, Nr: hi - lo}, true
}

func (r Recx) String() string {
	return fmt.Sprintf("[%d-%d)", r.Idx, r.End())
}

// Validate checks the IOD for internal consistency.
func (iod *IOD) Validate() error {
	if err := iod.Name.Validate(); err != nil {
		return errors.Wrap(err, "invalid akey")
	}
	if iod.Size > MaxRecordSize {
		return errors.Wrapf(RecordTooBig, "record size %d", iod.Size)
	}
	switch iod.Type {
	case IODTypeSingle:
		if len(iod.Recxs) != 0 {
			return errors.Wrap(InvalidInput, "single value IOD may not have extents")
		}
	case IODTypeArray:
		for _, rx := range iod.Recxs {
			if rx.Nr == 0 {
				return errors.Wrap(InvalidInput, "zero-length extent")
			}
		}
	default:
		return errors.Wrapf(InvalidInput, "invalid IOD type %d", iod.Type)
	}
	return nil
}

// NumBytes returns the number of bytes described by the IOD.
func (iod *IOD) NumBytes() uint64 {
	if iod.Type == IODTypeSingle {
		return iod.Size
	}
	var nr uint64
	for _, rx := range iod.Recxs {
		nr += rx.Nr
	}
	return nr * iod.Size
}

// Len returns the total number of bytes in the list.
func (sgl SGList) Len() int {
	n := 0
	for _, b := range sgl {
		n += len(b)
	}
	return n
}

// Flatten returns the list as a single buffer.
func (sgl SGList) Flatten() []byte {
	if len(sgl) == 1 {
		return sgl[0]
	}
	out := make([]byte, 0, sgl.Len())
	for _, b := range sgl {
		out = append(out, b...)
	}
	return out
}

// Anchor is an opaque enumeration cursor. A zero Anchor starts at the
// beginning.
type Anchor struct {
	pos []byte
	eof bool
}

// EOF returns true once enumeration has returned every entry.
func (a *Anchor) EOF() bool {
	return a != nil && a.eof
}

// Reset rewinds the anchor to the beginning.
func (a *Anchor) Reset() {
	a.pos = nil
	a.eof = false
}

// Position returns the last position returned, or nil at the beginning.
func (a *Anchor) Position() []byte {
	if a == nil {
		return nil
	}
	return a.pos
}

// Advance records the last position returned and whether enumeration is
// complete.
func (a *Anchor) Advance(pos []byte, eof bool) {
	if pos != nil {
		a.pos = append([]byte(nil), pos...)
	}
	a.eof = eof
}

func (a *Anchor) String() string {
	if a.EOF() {
		return "eof"
	}
	if a == nil || a.pos == nil {
		return "start"
	}
	return fmt.Sprintf("%x", a.pos)
}

func (f QueryKeyFlag) String() string {
	var parts []string
	for _, fn := range []struct {
		f QueryKeyFlag
		n string
	}{
		{QueryKeyGetDkey, "dkey"},
		{QueryKeyGetAkey, "akey"},
		{QueryKeyGetRecx, "recx"},
		{QueryKeyMax, "max"},
		{QueryKeyMin, "min"},
	} {
		if f&fn.f != 0 {
			parts = append(parts, fn.n)
		}
	}
	return strings.Join(parts, ",")
}
