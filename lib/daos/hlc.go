//
// (C) Copyright 2022-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package daos

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	// ZeroHLCDate is the date of the zero HLC.
	ZeroHLCDate = "2021-01-01 00:00:00 +0000 UTC"

	hlcStartSec = 1609459200
	hlcStartNs  = hlcStartSec * int64(time.Second)
	// The low bits of an HLC are a logical counter.
	hlcLogicalBits = 18
	hlcLogicalMask = uint64(1)<<hlcLogicalBits - 1
)

type (
	// HLC is a hybrid logical clock timestamp. The upper bits hold
	// physical time in nanoseconds since ZeroHLCDate, and the low
	// bits hold a logical counter.
	HLC uint64

	// Epoch is an HLC used to version object updates.
	Epoch = HLC

	// EpochRange is an inclusive range of epochs.
	EpochRange struct {
		Lo Epoch `json:"lo"`
		Hi Epoch `json:"hi"`
	}
)

// EpochMax is the highest possible epoch; reads at EpochMax see all updates.
const EpochMax Epoch = math.MaxUint64

// Contains returns true if the epoch falls within the range.
func (er EpochRange) Contains(e Epoch) bool {
	return e >= er.Lo && e <= er.Hi
}

// NewHLC creates a new HLC from the given number of nanoseconds since the Unix epoch.
func NewHLC(nsec int64) HLC {
	if nsec <= hlcStartNs {
		return 0
	}
	pt := uint64(nsec - hlcStartNs)
	return HLC((pt + hlcLogicalMask) &^ hlcLogicalMask)
}

// Nanoseconds returns the HLC represented as the number of nanoseconds since the Unix epoch.
func (hlc HLC) Nanoseconds() int64 {
	return int64(uint64(hlc)&^hlcLogicalMask) + hlcStartNs
}

// Logical returns the logical counter portion of the HLC.
func (hlc HLC) Logical() uint64 {
	return uint64(hlc) & hlcLogicalMask
}

func (hlc HLC) String() string {
	if hlc == EpochMax {
		return "max"
	}
	return hlc.ToTime().String()
}

// ToTime converts the HLC into a local time.
func (hlc HLC) ToTime() time.Time {
	return time.Unix(0, hlc.Nanoseconds())
}

// Uint64 returns the raw value of the HLC.
func (hlc HLC) Uint64() uint64 {
	return uint64(hlc)
}

func (hlc HLC) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(hlc.ToTime().Format(time.RFC3339Nano))), nil
}

func (hlc *HLC) UnmarshalJSON(b []byte) error {
	s, err := strconv.Unquote(string(b))
	if err != nil {
		s = string(b)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	*hlc = NewHLC(t.UnixNano())
	return nil
}

// HLCClock issues strictly increasing HLC timestamps.
type HLCClock struct {
	mu   sync.Mutex
	clk  clock.Clock
	last HLC
}

// NewHLCClock returns an HLCClock backed by the supplied physical clock,
// or the system clock if nil.
func NewHLCClock(clk clock.Clock) *HLCClock {
	if clk == nil {
		clk = clock.New()
	}
	return &HLCClock{clk: clk}
}

// Now returns a timestamp greater than any previously returned or observed.
func (c *HLCClock) Now() HLC {
	c.mu.Lock()
	defer c.mu.Unlock()

	pt := NewHLC(c.clk.Now().UnixNano())
	if pt > c.last {
		c.last = pt
	} else {
		c.last++
	}
	return c.last
}

// Update advances the clock past a timestamp observed elsewhere.
func (c *HLCClock) Update(remote HLC) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if remote > c.last && remote != EpochMax {
		c.last = remote
	}
}

// Last returns the most recently issued or observed timestamp.
func (c *HLCClock) Last() HLC {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.last
}
