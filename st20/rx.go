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

// Package st20 implements the ST 2110-20 uncompressed video RX and TX
// sessions (§4.D, §4.E): RFC 4175 packet dispatch into frame slots on
// the receive side, and epoch-paced RFC 4175 packet generation on the
// transmit side.
package st20

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cespare/xxhash"
	"github.com/st2110go/mtl/dedup"
	"github.com/st2110go/mtl/epoch"
	"github.com/st2110go/mtl/mtlerr"
	"github.com/st2110go/mtl/pg"
	"github.com/st2110go/mtl/rtp"
	"github.com/st2110go/mtl/slotring"
	"github.com/st2110go/mtl/stats"
	"github.com/st2110go/mtl/transport"
)

// DefaultRecNumOFO is ST_VIDEO_RX_REC_NUM_OFO's default value: the
// number of in-flight, out-of-order frame slots the RX session will
// track at once (§4.D "Packet-to-slot mapping").
const DefaultRecNumOFO = 4

// RXConfig is the RX-specific slice of a session's static config.
type RXConfig struct {
	Format pg.Format
	Width  int
	Height int
	// Linesize is the configured row stride in bytes; if 0, the
	// format's minimum (Format.BytesPerLine(Width)) is used.
	Linesize int

	PortCount          int
	DedupMode          dedup.Mode
	DedupThreshold     int
	RecNumOFO          int
	IncompleteDelivery bool
	SliceLines         int

	// DetectFormat enables §4.D's format auto-detect: Width, Height,
	// and the session's eventual frame rate are inferred from the
	// incoming stream's SRD geometry and inter-frame timing instead of
	// trusted from configuration, and reported via an
	// EventFormatDetected event once the estimate has held stable for
	// several frames.
	DetectFormat bool

	// ParseTiming enables §4.D's ST 2110-21 timing parser: C_inst,
	// VRX, inter-packet time, and FPT are observed into the session's
	// stats.Session aggregates, and a narrow/wide/fail verdict is
	// attached to each completed frame's event. Rate, MediaClockRate,
	// and Clock must all be set when this is enabled.
	ParseTiming    bool
	Rate           epoch.Rate
	MediaClockRate uint64
	Clock          transport.Clock
}

// EventKind enumerates the RX-side events of §4.G's event_poll
// ("vsync / detect / slice / timing / error").
type EventKind int

const (
	EventFormatDetected EventKind = iota
	EventSliceReady
	EventFrameReady
	EventFrameIncomplete
	EventFrameLate
	EventError
)

// Event is one item delivered through EventPoll.
type Event struct {
	Kind EventKind

	SlotIndex int
	Lines     int            // for EventSliceReady: running complete line count
	Detected  DetectedFormat // for EventFormatDetected
	Verdict   TimingVerdict  // for EventFrameReady/EventFrameIncomplete, when ParseTiming is set
	Err       error
}

// RXSession assembles RFC 4175 packets into complete frames (§4.D).
type RXSession struct {
	cfg RXConfig

	ring    *slotring.Ring
	dedup   *dedup.State
	stats   *stats.Session
	linesize int
	expectedBytes int

	mu sync.Mutex
	// inFlight maps an xxhash of the RTP timestamp to the slot
	// currently receiving it, bounded to cfg.RecNumOFO entries per
	// §4.D. Hashing the key keeps the hot-path lookup O(1) without a
	// map[uint32] bucket walk; the actual timestamp for newer/older
	// comparisons lives in frameState's frameAssembly.tmstamp.
	inFlight map[uint64]int
	// frameState tracks per-slot assembly progress, keyed by slot
	// index (stable while a slot is Receiving).
	frameState map[int]*frameAssembly

	detect *formatDetector
	timing *timingTracker
	clock  transport.Clock

	events chan Event
}

type frameAssembly struct {
	tmstamp       uint32
	receivedBytes int
	seenOffsets   map[int]bool
	linesSeen     map[int]bool
	sliceReported int
}

// NewRXSession builds an RX session over an already-allocated slot
// ring and dedup state (both owned by the caller so they can be
// shared with §4.F variants' constructors where applicable).
func NewRXSession(cfg RXConfig, ring *slotring.Ring, st *stats.Session) (*RXSession, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("st20: invalid dimensions %dx%d: %w", cfg.Width, cfg.Height, mtlerr.ErrInvalid)
	}
	if err := cfg.Format.ValidateDimensions(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	linesize := cfg.Linesize
	if linesize <= 0 {
		linesize = cfg.Format.BytesPerLine(cfg.Width)
	}
	recNumOFO := cfg.RecNumOFO
	if recNumOFO <= 0 {
		recNumOFO = DefaultRecNumOFO
	}
	portCount := cfg.PortCount
	if portCount < 1 {
		portCount = 1
	}

	s := &RXSession{
		cfg:           cfg,
		ring:          ring,
		dedup:         dedup.New(cfg.DedupMode, portCount, cfg.DedupThreshold),
		stats:         st,
		linesize:      linesize,
		expectedBytes: linesize * cfg.Height,
		inFlight:      make(map[uint64]int),
		frameState:    make(map[int]*frameAssembly),
		events:        make(chan Event, 64),
	}
	if cfg.DetectFormat {
		s.detect = newFormatDetector()
	}
	if cfg.ParseTiming && cfg.Clock != nil && cfg.Rate.Num > 0 {
		s.timing = newTimingTracker(cfg.Rate, cfg.MediaClockRate, st)
		s.clock = cfg.Clock
	}
	return s, nil
}

// HandlePacket processes one inbound UDP payload on port (§4.D). It
// never blocks and never returns an error for packet-level problems;
// those are counted in stats and the packet is dropped, per §4.D
// "Failure semantics".
func (s *RXSession) HandlePacket(port int, payload []byte) {
	vp, err := rtp.UnmarshalVideoPacket(payload)
	if err != nil {
		s.stats.IncPortPacket(port)
		return
	}

	res := s.dedup.Check(vp.Header.SequenceNumber, vp.Header.Timestamp, port)
	if !res.Accept {
		s.stats.IncRedundantDrop()
		return
	}
	s.stats.IncPortPacket(port)

	idx, asm, isNew, ok := s.slotFor(vp.Header.Timestamp)
	if !ok {
		return
	}
	s.ring.IncPortRecv(idx, port, 1<<uint(port), asm.receivedBytes)

	if s.detect != nil && isNew {
		s.detect.onFrameStart()
	}
	if s.timing != nil {
		s.timing.onPacket(idx, isNew, s.clock.PTPTaiNS())
	}

	slot := s.ring.Slot(idx)
	payloadCursor := 0
	for _, srd := range vp.SRDs {
		length := int(srd.Length)
		if payloadCursor+length > len(vp.Payload) {
			break
		}
		chunk := vp.Payload[payloadCursor : payloadCursor+length]
		payloadCursor += length

		if s.detect != nil {
			s.detect.observeSRD(srd)
		}

		offset := int(srd.RowNumber)*s.linesize + (int(srd.RowOffset)/s.cfg.Format.PixelsPerPG)*s.cfg.Format.BytesPerPG
		if offset < 0 || offset+length > len(slot.Buffer) {
			continue
		}
		if asm.seenOffsets[offset] {
			continue // redundant within this frame
		}
		asm.seenOffsets[offset] = true
		copy(slot.Buffer[offset:offset+length], chunk)
		asm.receivedBytes += length
		asm.linesSeen[int(srd.RowNumber)] = true
	}

	if s.detect != nil {
		if df, ok := s.detect.stable(s.widthFromRowLen); ok {
			s.emit(Event{Kind: EventFormatDetected, Detected: df})
		}
	}

	if s.cfg.SliceLines > 0 {
		s.maybeEmitSlice(idx, asm)
	}

	if vp.Header.Marker {
		s.finishFrame(idx, asm)
	}
}

// widthFromRowLen converts a row's byte length back to a pixel count
// under the session's configured packing, for format auto-detect's
// reported DetectedFormat.Width.
func (s *RXSession) widthFromRowLen(rowLen int) int {
	if s.cfg.Format.BytesPerPG <= 0 {
		return 0
	}
	return (rowLen / s.cfg.Format.BytesPerPG) * s.cfg.Format.PixelsPerPG
}

// slotFor returns the in-flight slot for tmstamp, opening a new one
// if unknown and the ring has a Free slot, or dropping the packet (by
// returning ok=false) if all in-flight slots are newer or the cache
// is full (§4.D "Packet-to-slot mapping").
func (s *RXSession) slotFor(tmstamp uint32) (int, *frameAssembly, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tsKey(tmstamp)
	if idx, ok := s.inFlight[key]; ok {
		return idx, s.frameState[idx], false, true
	}

	for _, asm := range s.frameState {
		if rtp.TSNewer(asm.tmstamp, tmstamp) {
			// A newer frame is already in flight; this packet is
			// stale.
			return 0, nil, false, false
		}
	}

	if len(s.inFlight) >= maxRecNumOFO(s.cfg.RecNumOFO) {
		return 0, nil, false, false
	}

	idx, err := s.ring.AcquireReceive()
	if err != nil {
		return 0, nil, false, false
	}
	asm := &frameAssembly{
		tmstamp:     tmstamp,
		seenOffsets: make(map[int]bool),
		linesSeen:   make(map[int]bool),
	}
	s.inFlight[key] = idx
	s.frameState[idx] = asm
	return idx, asm, true, true
}

// tsKey hashes an RTP timestamp into the inFlight lookup key.
func tsKey(tmstamp uint32) uint64 {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], tmstamp)
	return xxhash.Sum64(b[:])
}

func maxRecNumOFO(configured int) int {
	if configured <= 0 {
		return DefaultRecNumOFO
	}
	return configured
}

// maybeEmitSlice emits a SliceReady event each time another multiple
// of cfg.SliceLines contiguous lines from the top of the frame have
// arrived (§4.D "Slice mode").
func (s *RXSession) maybeEmitSlice(idx int, asm *frameAssembly) {
	contiguous := 0
	for contiguous < s.cfg.Height && asm.linesSeen[contiguous] {
		contiguous++
	}
	nextMultiple := (asm.sliceReported + 1) * s.cfg.SliceLines
	if contiguous >= nextMultiple {
		asm.sliceReported = contiguous / s.cfg.SliceLines
		s.emit(Event{Kind: EventSliceReady, SlotIndex: idx, Lines: contiguous})
	}
}

// finishFrame promotes the slot to Ready (complete or, if allowed,
// incomplete) and clears the in-flight bookkeeping (§4.D
// "Completeness bitmap").
func (s *RXSession) finishFrame(idx int, asm *frameAssembly) {
	s.mu.Lock()
	delete(s.inFlight, tsKey(asm.tmstamp))
	delete(s.frameState, idx)
	s.mu.Unlock()

	var verdict TimingVerdict
	if s.timing != nil {
		verdict = s.timing.onFrameDone(idx)
	}

	complete := asm.receivedBytes >= s.expectedBytes
	if !complete && !s.cfg.IncompleteDelivery {
		// The ring only frees a slot from Ready, so pass through it.
		err := s.ring.PromoteReady(idx, asm.receivedBytes, slotring.Timestamps{}, 0)
		if err == nil {
			err = s.ring.Release(idx)
		}
		if err != nil {
			s.emit(Event{Kind: EventError, SlotIndex: idx, Err: err})
		}
		s.stats.IncFramesDropped()
		return
	}

	if err := s.ring.PromoteReady(idx, asm.receivedBytes, slotring.Timestamps{Wire: uint64(asm.tmstamp)}, 0); err != nil {
		s.emit(Event{Kind: EventError, SlotIndex: idx, Err: err})
		return
	}

	if complete {
		s.stats.IncFramesDelivered(int64(asm.receivedBytes))
		s.emit(Event{Kind: EventFrameReady, SlotIndex: idx, Verdict: verdict})
	} else {
		s.stats.IncFramesDelivered(int64(asm.receivedBytes))
		s.emit(Event{Kind: EventFrameIncomplete, SlotIndex: idx, Verdict: verdict})
	}
}

func (s *RXSession) emit(e Event) {
	select {
	case s.events <- e:
	default:
		// Event channel full: the application is not polling; drop
		// the notification rather than block the lcore (§5
		// "Suspension points").
	}
}

// EventPoll returns the next pending event, or ok=false if none is
// available. It never blocks; the polymorphic façade (§4.G) layers
// the timeout/condition-variable wait on top of this.
func (s *RXSession) EventPoll() (Event, bool) {
	select {
	case e := <-s.events:
		return e, true
	default:
		return Event{}, false
	}
}
