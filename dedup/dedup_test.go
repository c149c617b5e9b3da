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

package dedup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	portP = 0
	portR = 1
)

// TestSinglePortProgressive is seed scenario 1.
func TestSinglePortProgressive(t *testing.T) {
	s := New(TimestampAndSeq, 2, DefaultThreshold)
	for seq := uint16(100); seq <= 104; seq++ {
		r := s.Check(seq, 1000, portP)
		require.True(t, r.Accept)
		require.False(t, r.ThresholdOverride)
	}
	require.EqualValues(t, 104, s.SessionSeq())
}

// TestSameBurstMerge is seed scenario 2.
func TestSameBurstMerge(t *testing.T) {
	s := New(TimestampAndSeq, 2, DefaultThreshold)
	seqs := []struct {
		seq  uint16
		port int
	}{
		{10, portP}, {11, portR}, {12, portP}, {13, portR}, {14, portP}, {15, portR},
	}
	for _, sp := range seqs {
		r := s.Check(sp.seq, 1000, sp.port)
		require.True(t, r.Accept, "seq %d", sp.seq)
	}
	require.EqualValues(t, 15, s.SessionSeq())
}

// TestCrossBurstClassAGapFill is seed scenario 3.
func TestCrossBurstClassAGapFill(t *testing.T) {
	s := New(TimestampAndSeq, 2, DefaultThreshold)
	for _, seq := range []uint16{10, 11, 13, 14} {
		r := s.Check(seq, 1000, portP)
		require.True(t, r.Accept)
	}
	r := s.Check(15, 2000, portP)
	require.True(t, r.Accept)
	require.EqualValues(t, 15, s.SessionSeq())

	results := map[uint16]bool{}
	for _, seq := range []uint16{10, 11, 12, 13, 14} {
		results[seq] = s.Check(seq, 1000, portR).Accept
	}
	require.Equal(t, map[uint16]bool{10: false, 11: false, 12: true, 13: false, 14: false}, results)
	require.EqualValues(t, 15, s.SessionSeq())
}

// TestTimestampOnlyMode is seed scenario 4.
func TestTimestampOnlyMode(t *testing.T) {
	s := New(TimestampOnly, 2, DefaultThreshold)
	cases := []struct {
		seq  uint16
		ts   uint32
		port int
		want bool
	}{
		{0, 1000, portP, true},
		{1, 1000, portR, false},
		{2, 2000, portP, true},
		{3, 2000, portR, false},
	}
	for _, c := range cases {
		got := s.Check(c.seq, c.ts, c.port).Accept
		require.Equal(t, c.want, got, "seq=%d ts=%d port=%d", c.seq, c.ts, c.port)
	}
}

// TestBitmapWindowOverflow is seed scenario 6.
func TestBitmapWindowOverflow(t *testing.T) {
	s := New(TimestampAndSeq, 2, DefaultThreshold)
	require.True(t, s.Check(10, 1000, portP).Accept)
	require.True(t, s.Check(90, 2000, portP).Accept)

	require.False(t, s.Check(10, 1000, portR).Accept, "off-window, must drop")
	require.True(t, s.Check(50, 1000, portR).Accept, "within window, gap-fill")
}

func TestThresholdOverride(t *testing.T) {
	s := New(TimestampAndSeq, 2, 4)
	require.True(t, s.Check(10, 1000, portP).Accept)
	require.True(t, s.Check(90, 2000, portP).Accept)

	// 4 consecutive stale drops on R should arm the override.
	var lastOverride bool
	for _, seq := range []uint16{0, 1, 2, 3} {
		r := s.Check(seq, 1000, portR)
		require.False(t, r.Accept)
		lastOverride = r.ThresholdOverride
	}
	require.False(t, lastOverride)

	r := s.Check(5, 1000, portR)
	require.True(t, r.Accept)
	require.True(t, r.ThresholdOverride)
	require.EqualValues(t, []int{0, 0}, s.PortDrops())
}

func TestInitializationAcceptsFirstPacketUnconditionally(t *testing.T) {
	s := New(TimestampAndSeq, 1, DefaultThreshold)
	r := s.Check(5000, 999, portP)
	require.True(t, r.Accept)
}

func TestDuplicateWithinWindowDropsWithoutSideEffects(t *testing.T) {
	s := New(TimestampAndSeq, 2, DefaultThreshold)
	require.True(t, s.Check(10, 1000, portP).Accept)
	require.True(t, s.Check(11, 1000, portP).Accept)
	// Exact duplicate from R of an already-accepted seq.
	require.False(t, s.Check(10, 1000, portR).Accept)
	require.EqualValues(t, 11, s.SessionSeq())
}
