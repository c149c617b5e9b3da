/*
Copyright (c) st2110go contributors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package epoch implements the PTP-TAI-aligned virtual clock (§3
// "Epoch Clock", §4.E "Epoch loop") that every TX pacing profile
// schedules against: for frame rate f, epoch index E(t) = floor(t*f),
// and each epoch reserves the transmission window
// [E/f + tr_offset, (E+1)/f).
package epoch

import (
	"math/bits"
	"time"
)

// Clock is the external PTP time source (§4.H "ptp_tai_ns() -> u64
// callable from any context").
type Clock interface {
	// NowTAI returns the current PTP TAI time in nanoseconds.
	NowTAI() uint64
}

// Rate describes a frame rate as an exact rational (numerator/
// denominator), since several standard rates (29.97, 59.94, 119.88)
// are not exactly representable as a float without accumulating drift
// over long sessions.
type Rate struct {
	Num uint64
	Den uint64
}

// Standard frame rates from §4.D "Format auto-detect"'s table,
// expressed as exact fractions (the /1.001 rates use the
// 30000/1001-style NTSC convention).
var (
	Rate23_98  = Rate{Num: 24000, Den: 1001}
	Rate24     = Rate{Num: 24, Den: 1}
	Rate25     = Rate{Num: 25, Den: 1}
	Rate29_97  = Rate{Num: 30000, Den: 1001}
	Rate30     = Rate{Num: 30, Den: 1}
	Rate50     = Rate{Num: 50, Den: 1}
	Rate59_94  = Rate{Num: 60000, Den: 1001}
	Rate60     = Rate{Num: 60, Den: 1}
	Rate100    = Rate{Num: 100, Den: 1}
	Rate119_88 = Rate{Num: 120000, Den: 1001}
	Rate120    = Rate{Num: 120, Den: 1}
)

// StandardRates is the ordered table §4.D's fps auto-detect matches
// measured inter-frame deltas against.
var StandardRates = []Rate{
	Rate23_98, Rate24, Rate25, Rate29_97, Rate30,
	Rate50, Rate59_94, Rate60, Rate100, Rate119_88, Rate120,
}

const nsPerSec = uint64(time.Second)

// Index returns the epoch index E(t) = floor(t*f) for t in
// nanoseconds and frame rate r.
func Index(tai uint64, r Rate) uint64 {
	// t*f = tai_ns/1e9 * num/den = tai_ns*num / (1e9*den)
	return mulDiv(tai, r.Num, nsPerSec*r.Den)
}

// StartTAI returns E/f in nanoseconds: the nominal start time of
// epoch e at rate r, before tr_offset. When E/f is not a whole number
// of nanoseconds it is rounded up, so the result is the first
// nanosecond for which Index returns e.
func StartTAI(e uint64, r Rate) uint64 {
	if r.Num == 0 {
		return 0
	}
	hi, lo := bits.Mul64(e, nsPerSec*r.Den)
	q, rem := bits.Div64(hi, lo, r.Num)
	if rem != 0 {
		q++
	}
	return q
}

// Window returns the reserved transmission window
// [E/f + tr_offset, (E+1)/f) in nanoseconds for epoch e at rate r.
func Window(e uint64, r Rate, trOffset uint64) (start, end uint64) {
	start = StartTAI(e, r) + trOffset
	end = StartTAI(e+1, r)
	return start, end
}

// RTPTimestamp computes the frame RTP timestamp for epoch e at rate r
// against mediaClockRate (§9's testable property: "the frame RTP
// timestamp equals floor(epoch*fps) * media_clock_rate / fps").
func RTPTimestamp(e uint64, r Rate, mediaClockRate uint64) uint32 {
	// floor(e * r.Num/r.Den) * mediaClockRate / (r.Num/r.Den)
	//   = e * mediaClockRate * r.Den / r.Num, computed without the
	// intermediate floor since e is already an integer epoch index.
	return uint32(mulDiv(e, mediaClockRate*r.Den, r.Num))
}

// mulDiv computes floor(a*b/c) using math/bits' 128-bit mul/div, since
// nanosecond TAI values comfortably exceed 2^32 and a plain uint64
// a*b can overflow.
func mulDiv(a, b, c uint64) uint64 {
	if c == 0 {
		return 0
	}
	hi, lo := bits.Mul64(a, b)
	q, _ := bits.Div64(hi, lo, c)
	return q
}

// SystemClock adapts time.Now to the Clock interface for development
// and testing; a real deployment wires a PTP hardware clock source
// through transport.Clock instead.
type SystemClock struct{}

// NowTAI returns wall-clock time in nanoseconds. It does not apply the
// UTC-TAI leap second offset; callers needing true TAI must supply
// their own Clock implementation.
func (SystemClock) NowTAI() uint64 {
	return uint64(time.Now().UnixNano())
}
