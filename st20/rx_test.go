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

package st20

import (
	"testing"
	"time"

	"github.com/st2110go/mtl/dedup"
	"github.com/st2110go/mtl/epoch"
	"github.com/st2110go/mtl/pg"
	"github.com/st2110go/mtl/rtp"
	"github.com/st2110go/mtl/slotring"
	"github.com/st2110go/mtl/stats"
	"github.com/stretchr/testify/require"
)

func buildVideoPacket(t *testing.T, seq uint16, tmstamp uint32, marker bool, rowNumber, rowOffset uint16, payload []byte) []byte {
	t.Helper()
	hdr := rtp.Header{Version: 2, Marker: marker, PayloadType: 96, SequenceNumber: seq, Timestamp: tmstamp, SSRC: 1}
	b := make([]byte, rtp.HeaderSize+rtp.ExtSeqSize+rtp.SRDSize+len(payload))
	n, err := hdr.MarshalTo(b)
	require.NoError(t, err)
	b[n], b[n+1] = 0, 0 // ext seq = 0
	n += rtp.ExtSeqSize
	srd := rtp.SRD{Length: uint16(len(payload)), RowNumber: rowNumber, RowOffset: rowOffset}
	m, err := srd.MarshalTo(b[n:])
	require.NoError(t, err)
	n += m
	copy(b[n:], payload)
	return b
}

func testConfig(width, height int) RXConfig {
	return RXConfig{
		Format:    pg.YUV422BE8,
		Width:     width,
		Height:    height,
		PortCount: 2,
		DedupMode: dedup.TimestampAndSeq,
	}
}

func TestRXSessionAssemblesCompleteFrame(t *testing.T) {
	cfg := testConfig(4, 2) // bytesPerLine = (4/2)*4 = 8, frame = 16 bytes
	lineBytes := cfg.Format.BytesPerLine(cfg.Width)
	ring, err := slotring.New(2, lineBytes*cfg.Height, 2)
	require.NoError(t, err)
	st := &stats.Session{}
	s, err := NewRXSession(cfg, ring, st)
	require.NoError(t, err)

	row0 := make([]byte, lineBytes)
	for i := range row0 {
		row0[i] = byte(i + 1)
	}
	row1 := make([]byte, lineBytes)
	for i := range row1 {
		row1[i] = byte(i + 100)
	}

	s.HandlePacket(0, buildVideoPacket(t, 0, 1000, false, 0, 0, row0))
	s.HandlePacket(0, buildVideoPacket(t, 1, 1000, true, 1, 0, row1))

	ev, ok := s.EventPoll()
	require.True(t, ok)
	require.Equal(t, EventFrameReady, ev.Kind)

	slot := s.ring.Slot(ev.SlotIndex)
	require.Equal(t, slotring.Ready, slot.Status)
	require.Equal(t, row0, slot.Buffer[0:lineBytes])
	require.Equal(t, row1, slot.Buffer[lineBytes:2*lineBytes])
}

func TestRXSessionDropsRedundantPacketFromSecondPort(t *testing.T) {
	cfg := testConfig(4, 2)
	lineBytes := cfg.Format.BytesPerLine(cfg.Width)
	ring, err := slotring.New(2, lineBytes*cfg.Height, 2)
	require.NoError(t, err)
	s, err := NewRXSession(cfg, ring, &stats.Session{})
	require.NoError(t, err)

	row0 := make([]byte, lineBytes)
	row1 := make([]byte, lineBytes)

	s.HandlePacket(0, buildVideoPacket(t, 0, 1000, false, 0, 0, row0))
	s.HandlePacket(1, buildVideoPacket(t, 0, 1000, false, 0, 0, row0)) // duplicate seq from R
	s.HandlePacket(0, buildVideoPacket(t, 1, 1000, true, 1, 0, row1))

	ev, ok := s.EventPoll()
	require.True(t, ok)
	require.Equal(t, EventFrameReady, ev.Kind)

	snap := s.stats.Snapshot()
	require.EqualValues(t, 1, snap.RedundantDrops)
}

func TestRXSessionIncompleteFrameDroppedByDefault(t *testing.T) {
	cfg := testConfig(4, 2)
	lineBytes := cfg.Format.BytesPerLine(cfg.Width)
	ring, err := slotring.New(2, lineBytes*cfg.Height, 1)
	require.NoError(t, err)
	s, err := NewRXSession(cfg, ring, &stats.Session{})
	require.NoError(t, err)

	row0 := make([]byte, lineBytes)
	// Marker set but only one of two rows delivered: incomplete.
	s.HandlePacket(0, buildVideoPacket(t, 0, 1000, true, 0, 0, row0))

	_, ok := s.EventPoll()
	require.False(t, ok)
	snap := s.stats.Snapshot()
	require.EqualValues(t, 1, snap.FramesDropped)
}

func TestRXSessionIncompleteFrameDeliveredWhenConfigured(t *testing.T) {
	cfg := testConfig(4, 2)
	cfg.IncompleteDelivery = true
	lineBytes := cfg.Format.BytesPerLine(cfg.Width)
	ring, err := slotring.New(2, lineBytes*cfg.Height, 1)
	require.NoError(t, err)
	s, err := NewRXSession(cfg, ring, &stats.Session{})
	require.NoError(t, err)

	row0 := make([]byte, lineBytes)
	s.HandlePacket(0, buildVideoPacket(t, 0, 1000, true, 0, 0, row0))

	ev, ok := s.EventPoll()
	require.True(t, ok)
	require.Equal(t, EventFrameIncomplete, ev.Kind)
}

func TestRXSessionSliceReadyEmittedOnContiguousLines(t *testing.T) {
	cfg := testConfig(4, 4)
	cfg.SliceLines = 2
	lineBytes := cfg.Format.BytesPerLine(cfg.Width)
	ring, err := slotring.New(2, lineBytes*cfg.Height, 1)
	require.NoError(t, err)
	s, err := NewRXSession(cfg, ring, &stats.Session{})
	require.NoError(t, err)

	row := make([]byte, lineBytes)
	s.HandlePacket(0, buildVideoPacket(t, 0, 1000, false, 0, 0, row))
	s.HandlePacket(0, buildVideoPacket(t, 1, 1000, false, 1, 0, row))

	ev, ok := s.EventPoll()
	require.True(t, ok)
	require.Equal(t, EventSliceReady, ev.Kind)
	require.Equal(t, 2, ev.Lines)
}

func TestRXSessionDropsPacketForStaleTimestamp(t *testing.T) {
	cfg := testConfig(4, 2)
	cfg.RecNumOFO = 1
	lineBytes := cfg.Format.BytesPerLine(cfg.Width)
	ring, err := slotring.New(2, lineBytes*cfg.Height, 1)
	require.NoError(t, err)
	s, err := NewRXSession(cfg, ring, &stats.Session{})
	require.NoError(t, err)

	row := make([]byte, lineBytes)
	s.HandlePacket(0, buildVideoPacket(t, 10, 2000, false, 0, 0, row))
	// Older timestamp with the single in-flight slot already newer: dropped.
	s.HandlePacket(0, buildVideoPacket(t, 11, 1000, false, 0, 0, row))

	require.Len(t, s.inFlight, 1)
}

func TestRXSessionDetectsFormatFromWireGeometryAndTiming(t *testing.T) {
	cfg := testConfig(4, 2)
	cfg.DetectFormat = true
	lineBytes := cfg.Format.BytesPerLine(cfg.Width)
	ring, err := slotring.New(2, lineBytes*cfg.Height, 1)
	require.NoError(t, err)
	s, err := NewRXSession(cfg, ring, &stats.Session{})
	require.NoError(t, err)

	cur := time.Unix(1_700_000_000, 0)
	s.detect.now = func() time.Time { return cur }
	frameInterval := time.Duration(float64(time.Second) / 30)

	row0 := make([]byte, lineBytes)
	row1 := make([]byte, lineBytes)

	var detected DetectedFormat
	var sawDetected bool
	for frame := 0; frame < detectStableRounds+2; frame++ {
		tmstamp := uint32(1000 + frame*3000)
		s.HandlePacket(0, buildVideoPacket(t, uint16(frame*2), tmstamp, false, 0, 0, row0))
		s.HandlePacket(0, buildVideoPacket(t, uint16(frame*2+1), tmstamp, true, 1, 0, row1))
		cur = cur.Add(frameInterval)

		for {
			ev, ok := s.EventPoll()
			if !ok {
				break
			}
			if ev.Kind == EventFormatDetected {
				detected = ev.Detected
				sawDetected = true
			}
			if ev.Kind == EventFrameReady || ev.Kind == EventFrameIncomplete {
				require.NoError(t, s.ring.Release(ev.SlotIndex))
			}
		}
	}

	require.True(t, sawDetected)
	require.Equal(t, 2, detected.Height)
	require.Equal(t, cfg.Width, detected.Width)
	require.InDelta(t, 30, detected.FPS, 0.5)
}

func TestRXSessionObservesTimingAggregatesAndReportsNarrowVerdict(t *testing.T) {
	cfg := testConfig(4, 2)
	clock := &fakeClock{}
	cfg.ParseTiming = true
	cfg.Rate = epoch.Rate25
	cfg.MediaClockRate = 90000
	cfg.Clock = clock
	lineBytes := cfg.Format.BytesPerLine(cfg.Width)
	ring, err := slotring.New(2, lineBytes*cfg.Height, 1)
	require.NoError(t, err)
	st := &stats.Session{}
	s, err := NewRXSession(cfg, ring, st)
	require.NoError(t, err)

	row0 := make([]byte, lineBytes)
	row1 := make([]byte, lineBytes)

	// Epoch 0 (window [0, 40ms)): first frame, purely calibrating —
	// establishes estPktsPerFrame so the second frame gets a real
	// C_inst/VRX reading.
	clock.Set(1_000_000)
	s.HandlePacket(0, buildVideoPacket(t, 0, 1000, false, 0, 0, row0))
	clock.Set(2_000_000)
	s.HandlePacket(0, buildVideoPacket(t, 1, 1000, true, 1, 0, row1))

	var lastEvent Event
	for {
		ev, ok := s.EventPoll()
		if !ok {
			break
		}
		lastEvent = ev
		require.NoError(t, s.ring.Release(ev.SlotIndex))
	}
	require.Equal(t, EventFrameReady, lastEvent.Kind)

	// Epoch 1 (window [40ms, 80ms)): well-paced packets 1ms and 2ms
	// after the window opens, against a 16ms trs derived from frame 0's
	// 2-packet count — comfortably inside the narrow VRX envelope.
	clock.Set(41_000_000)
	s.HandlePacket(0, buildVideoPacket(t, 2, 2000, false, 0, 0, row0))
	clock.Set(42_000_000)
	s.HandlePacket(0, buildVideoPacket(t, 3, 2000, true, 1, 0, row1))

	for {
		ev, ok := s.EventPoll()
		if !ok {
			break
		}
		lastEvent = ev
		require.NoError(t, s.ring.Release(ev.SlotIndex))
	}
	require.Equal(t, EventFrameReady, lastEvent.Kind)
	require.Equal(t, VerdictNarrow, lastEvent.Verdict)

	snap := st.Snapshot()
	require.EqualValues(t, 2, snap.FPT.Count)
	require.EqualValues(t, 3, snap.IPT.Count) // one gap within each frame plus the inter-frame gap
	require.EqualValues(t, 2, snap.Cinst.Count)
	require.EqualValues(t, 2, snap.Cinst.Max)
	require.EqualValues(t, 2, snap.VRX.Count)
}
