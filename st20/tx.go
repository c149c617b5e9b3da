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
	"fmt"
	"sync"

	"github.com/st2110go/mtl/epoch"
	"github.com/st2110go/mtl/mtlcfg"
	"github.com/st2110go/mtl/mtlerr"
	"github.com/st2110go/mtl/pg"
	"github.com/st2110go/mtl/rtp"
	"github.com/st2110go/mtl/slotring"
	"github.com/st2110go/mtl/stats"
	"github.com/st2110go/mtl/transport"
)

// TXState is the per-session state machine of §4.E ("State machine
// (per session)").
type TXState int

const (
	Idle TXState = iota
	Transmitting
	Trailing
)

// TXConfig is the TX-specific slice of a session's static/dynamic
// config.
type TXConfig struct {
	Format pg.Format
	Width  int
	Height int
	Linesize int

	Rate           epoch.Rate
	MediaClockRate uint64
	TrOffsetNS     uint64
	Pacing         mtlcfg.PacingProfile

	PayloadType int
	SSRC        uint32

	UserPacing      bool
	ExactUserPacing bool

	StaticPadding   bool
	PadIntervalPkts int

	RTCPBufferSize int // power of two; 0 disables RTCP retransmit

	MaxPayloadBytes int // per-packet SRD payload budget, excluding headers

	// TXHangDetectMS bounds how long emitDuePackets may go without
	// making packet progress on a Transmitting frame before Tick
	// recovers the queue (§4.E "Failure semantics"). 0 disables the
	// check.
	TXHangDetectMS int
}

// maxRTPBytes is MAX_RTP_BYTES (§4.E "User metadata"): the path-MTU
// budget a user_meta packet's payload must fit within, a standard
// 1500-byte Ethernet MTU less 28 bytes of IPv4 and UDP headers. (The
// hardware-timestamp RX path's receive buffer, hwRecvBufBytes, is
// larger: 9000 bytes.)
const maxRTPBytes = 1472

// FrameMeta accompanies a frame buffer submitted to the TX session
// (§4.E "User pacing", "User metadata").
type FrameMeta struct {
	UserTimestamp uint64 // TAI ns; used when UserPacing is set
	UserMeta      []byte
}

// retransmitEntry is one slot of the RTCP retransmit ring (§4.E
// "RTCP / retransmission").
type retransmitEntry struct {
	seq uint16
	pkt []byte
}

// TXSession converts Ready frame slots into a paced RFC 4175 packet
// stream (§4.E).
type TXSession struct {
	cfg TXConfig

	ring  *slotring.Ring
	clock transport.Clock
	stats *stats.Session

	mu    sync.Mutex
	state TXState

	seq        uint16
	extSeq     uint16
	currentIdx int
	epochIdx   uint64
	firstPktTAI uint64
	trs        uint64
	pktInFrame int
	pktsPerFrame int
	linesize   int

	padIntervalPkts int
	padTrained      bool

	// lateEpoch is the most recent epoch already reported late, so a
	// stalled application only costs one IncEpochLate/EventFrameLate
	// per missed epoch rather than one per Tick.
	lateEpoch uint64

	// userMeta holds a submitted frame's opaque user_meta bytes, keyed
	// by slot index, from SubmitFrame until emitDuePackets appends its
	// trailing packet.
	userMeta map[int][]byte

	// lastProgressTAI is the clock reading at which emitDuePackets
	// last made packet progress on the current frame; Tick compares it
	// against cfg.TXHangDetectMS to detect a stalled transmit queue.
	lastProgressTAI uint64

	rtcpRing []retransmitEntry
	rtcpNext int

	events chan Event

	sendFunc func(pkt []byte) error
}

// NewTXSession builds a TX session over an already-allocated ring.
// sendFunc is the collaborator that actually emits one packet (e.g.
// transport.PacketIO.Send wrapped for a single port); it must not
// block per §5.
func NewTXSession(cfg TXConfig, ring *slotring.Ring, clock transport.Clock, st *stats.Session, sendFunc func([]byte) error) (*TXSession, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("st20: invalid dimensions %dx%d: %w", cfg.Width, cfg.Height, mtlerr.ErrInvalid)
	}
	if err := cfg.Format.ValidateDimensions(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	if cfg.Rate.Num == 0 || cfg.Rate.Den == 0 {
		return nil, fmt.Errorf("st20: invalid rate: %w", mtlerr.ErrInvalid)
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = 1200
	}
	if bpg := cfg.Format.BytesPerPG; bpg > 1 {
		cfg.MaxPayloadBytes -= cfg.MaxPayloadBytes % bpg
		if cfg.MaxPayloadBytes <= 0 {
			cfg.MaxPayloadBytes = bpg
		}
	}
	linesize := cfg.Linesize
	if linesize <= 0 {
		linesize = cfg.Format.BytesPerLine(cfg.Width)
	}
	frameBytes := linesize * cfg.Height
	pktsPerFrame := (frameBytes + cfg.MaxPayloadBytes - 1) / cfg.MaxPayloadBytes
	if pktsPerFrame < 1 {
		pktsPerFrame = 1
	}

	var rtcpRing []retransmitEntry
	if cfg.RTCPBufferSize > 0 {
		if cfg.RTCPBufferSize&(cfg.RTCPBufferSize-1) != 0 {
			return nil, fmt.Errorf("st20: rtcp_buffer_size must be a power of two: %w", mtlerr.ErrInvalid)
		}
		rtcpRing = make([]retransmitEntry, cfg.RTCPBufferSize)
	}

	return &TXSession{
		cfg:          cfg,
		ring:         ring,
		clock:        clock,
		stats:        st,
		currentIdx:   -1,
		linesize:     linesize,
		pktsPerFrame: pktsPerFrame,
		rtcpRing:     rtcpRing,
		lateEpoch:    ^uint64(0),
		userMeta:     make(map[int][]byte),
		events:       make(chan Event, 64),
		sendFunc:     sendFunc,
	}, nil
}

// Tick runs one lcore tasklet iteration (§4.E "Epoch loop"). It must
// be called repeatedly (e.g. from a transport.Scheduler registration)
// and never blocks.
func (s *TXSession) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	tai := s.clock.PTPTaiNS()

	switch s.state {
	case Idle:
		s.tryBeginFrame(tai)
	case Transmitting:
		if s.hung(tai) {
			s.recoverHang()
			return
		}
		s.emitDuePackets(tai)
	case Trailing:
		// Hardware completion is modeled as immediate for the plain
		// UDP transport: there is no separate completion queue to
		// drain, so Trailing resolves on the next tick.
		s.completeFrame()
	}
}

func (s *TXSession) tryBeginFrame(tai uint64) {
	e := epoch.Index(tai, s.cfg.Rate)
	start, _ := epoch.Window(e, s.cfg.Rate, s.cfg.TrOffsetNS)

	readyIdx, status := s.ring.PeekTransmit()
	if status != slotring.Ready {
		if tai >= start && e != s.lateEpoch {
			s.lateEpoch = e
			s.stats.IncEpochLate()
			s.emit(Event{Kind: EventFrameLate, SlotIndex: -1})
		}
		return // application has not submitted the next frame yet
	}

	if s.cfg.UserPacing {
		slot := s.ring.Slot(readyIdx)
		start = slot.Timestamps.Capture
		if !s.cfg.ExactUserPacing {
			e = epoch.Index(start, s.cfg.Rate)
		}
	}
	if tai < start {
		return // not yet time for this epoch's window
	}

	if err := s.ring.BeginTransmit(readyIdx); err != nil {
		return
	}

	s.currentIdx = readyIdx
	s.epochIdx = e
	s.firstPktTAI = start
	s.trs = s.computeTrs()
	s.pktInFrame = 0
	s.lastProgressTAI = tai
	s.seq++
	s.state = Transmitting
}

// hung reports whether the Transmitting frame has made no packet
// progress for cfg.TXHangDetectMS, per §4.E "Failure semantics"'s
// TX-queue-hang recovery.
func (s *TXSession) hung(tai uint64) bool {
	if s.cfg.TXHangDetectMS <= 0 {
		return false
	}
	return tai-s.lastProgressTAI > uint64(s.cfg.TXHangDetectMS)*uint64(1_000_000)
}

// recoverHang resets the stuck Transmitting frame back to Free and
// returns the session to Idle so the next ready frame is unaffected;
// only the stalled frame is dropped, not already-delivered ones.
func (s *TXSession) recoverHang() {
	idx := s.currentIdx
	delete(s.userMeta, idx)
	_ = s.ring.Release(idx)
	s.stats.IncFramesDropped()
	s.currentIdx = -1
	s.state = Idle
	s.emit(Event{Kind: EventError, SlotIndex: idx, Err: fmt.Errorf("st20: tx queue hang recovered: %w", mtlerr.ErrTimedOut)})
}

// SubmitFrame is the application-facing TX buffer_put (§4.G): it
// marks idx Ready so the next Tick can pick it up, attaching meta.
func (s *TXSession) SubmitFrame(idx int, size int, meta FrameMeta) error {
	ts := slotring.Timestamps{AppDeliver: s.clock.PTPTaiNS(), Capture: meta.UserTimestamp}
	if err := s.ring.PromoteReady(idx, size, ts, 0); err != nil {
		return err
	}
	s.mu.Lock()
	if len(meta.UserMeta) > 0 {
		s.userMeta[idx] = meta.UserMeta
	} else {
		delete(s.userMeta, idx)
	}
	s.mu.Unlock()
	return nil
}

// emitDuePackets sends up to BULK packets scheduled at or before tai
// for the frame currently in Transmitting (§4.E "emit up to BULK
// packets per tick according to the pacing profile").
func (s *TXSession) emitDuePackets(tai uint64) {
	const bulk = 8
	slot := s.ring.Slot(s.currentIdx)
	frameBytes := len(slot.Buffer)
	if slot.FrameRecvSize > 0 && slot.FrameRecvSize < frameBytes {
		frameBytes = slot.FrameRecvSize
	}

	for i := 0; i < bulk && s.pktInFrame < s.pktsPerFrame; i++ {
		scheduled := s.scheduledTAI(s.pktInFrame)
		if tai < scheduled {
			return
		}
		if s.padTrained && s.padIntervalPkts > 0 && s.pktInFrame > 0 && s.pktInFrame%s.padIntervalPkts == 0 {
			if err := s.emitPadPacket(); err != nil {
				s.stats.IncUserBusy()
				return
			}
		}
		if err := s.emitOnePacket(slot, frameBytes, s.epochIdx); err != nil {
			s.stats.IncUserBusy()
			return // retry this packet next tick
		}
		s.pktInFrame++
		s.lastProgressTAI = tai
	}

	if s.pktInFrame >= s.pktsPerFrame {
		meta, hasMeta := s.userMeta[s.currentIdx]
		delete(s.userMeta, s.currentIdx)
		if hasMeta {
			if err := s.emitUserMetaPacket(meta); err != nil {
				s.stats.IncUserBusy()
			}
		}
		if s.cfg.StaticPadding && !s.padTrained {
			s.trainPadding()
		}
		s.state = Trailing
	}
}

// scheduledTAI returns the launch time of the k-th packet of the
// current frame. The pacing profile is already baked into s.trs by
// computeTrs; every profile schedules packets at a fixed cadence from
// firstPktTAI, differing only in how that cadence is derived.
func (s *TXSession) scheduledTAI(k int) uint64 {
	return s.firstPktTAI + uint64(k)*s.trs
}

// computeTrs computes the inter-packet spacing for the configured
// pacing profile. Narrow/Wide both space packets across the active
// portion of the frame interval; Linear spreads across the whole
// interval.
func (s *TXSession) computeTrs() uint64 {
	_, end := epoch.Window(s.epochIdx, s.cfg.Rate, 0)
	interval := end - s.firstPktTAI
	if s.pktsPerFrame <= 1 {
		return 0
	}
	switch s.cfg.Pacing {
	case mtlcfg.PacingLinear:
		return interval / uint64(s.pktsPerFrame)
	default:
		// Narrow/Wide/TSN: active packets spread over ~80% of the
		// interval, leaving a trailing gap for VRX compliance.
		active := interval * 8 / 10
		return active / uint64(s.pktsPerFrame)
	}
}

// emitOnePacket builds and sends one RFC 4175 packet carrying a
// single-row SRD worth of payload for the current frame.
func (s *TXSession) emitOnePacket(slot *slotring.Slot, frameBytes int, e uint64) error {
	bytesPerLine := s.linesize
	rowNumber := (s.pktInFrame * s.cfg.MaxPayloadBytes) / bytesPerLine
	rowOffsetBytes := (s.pktInFrame * s.cfg.MaxPayloadBytes) % bytesPerLine
	length := s.cfg.MaxPayloadBytes
	offset := rowNumber*bytesPerLine + rowOffsetBytes
	if offset+length > frameBytes {
		length = frameBytes - offset
	}
	if length <= 0 {
		return nil
	}

	marker := s.pktInFrame == s.pktsPerFrame-1
	rowOffsetPixels := uint16((rowOffsetBytes / s.cfg.Format.BytesPerPG) * s.cfg.Format.PixelsPerPG)

	pkt := make([]byte, rtp.HeaderSize+rtp.ExtSeqSize+rtp.SRDSize+length)
	hdr := rtp.Header{
		Version:        2,
		Marker:         marker,
		PayloadType:    uint8(s.cfg.PayloadType),
		SequenceNumber: s.seq,
		Timestamp:      epoch.RTPTimestamp(e, s.cfg.Rate, s.cfg.MediaClockRate),
		SSRC:           s.cfg.SSRC,
	}
	n, err := hdr.MarshalTo(pkt)
	if err != nil {
		return err
	}
	pkt[n], pkt[n+1] = byte(s.extSeq>>8), byte(s.extSeq)
	n += rtp.ExtSeqSize
	srd := rtp.SRD{Length: uint16(length), RowNumber: uint16(rowNumber), RowOffset: rowOffsetPixels}
	m, err := srd.MarshalTo(pkt[n:])
	if err != nil {
		return err
	}
	n += m
	copy(pkt[n:], slot.Buffer[offset:offset+length])

	if err := s.sendFunc(pkt); err != nil {
		return err
	}

	if s.rtcpRing != nil {
		s.rtcpRing[s.rtcpNext] = retransmitEntry{seq: s.seq, pkt: pkt}
		s.rtcpNext = (s.rtcpNext + 1) % len(s.rtcpRing)
	}

	s.seq++
	if s.seq == 0 {
		s.extSeq++
	}
	return nil
}

// emitUserMetaPacket sends the one additional RTP packet a frame's
// user_meta produces, appended immediately after its last RFC 4175
// payload packet (§4.E "User metadata"). The payload is the opaque
// bytes verbatim, under the session's configured payload type.
func (s *TXSession) emitUserMetaPacket(meta []byte) error {
	if len(meta) > maxRTPBytes {
		return fmt.Errorf("st20: user_meta %d bytes exceeds MAX_RTP_BYTES: %w", len(meta), mtlerr.ErrInvalid)
	}
	pkt := make([]byte, rtp.HeaderSize+len(meta))
	hdr := rtp.Header{
		Version:        2,
		Marker:         true,
		PayloadType:    uint8(s.cfg.PayloadType),
		SequenceNumber: s.seq,
		Timestamp:      epoch.RTPTimestamp(s.epochIdx, s.cfg.Rate, s.cfg.MediaClockRate),
		SSRC:           s.cfg.SSRC,
	}
	n, err := hdr.MarshalTo(pkt)
	if err != nil {
		return err
	}
	copy(pkt[n:], meta)

	if err := s.sendFunc(pkt); err != nil {
		return err
	}
	s.seq++
	if s.seq == 0 {
		s.extSeq++
	}
	return nil
}

// trainPadding runs the static-padding trainer for narrow-gapped
// pacing (§4.E "Static padding training"): it fixes a pad_interval
// from configuration, or a quarter of the frame's packet count when
// none is configured, and emitDuePackets starts interleaving pad
// packets at that cadence from the next frame on. This session only
// owns the interval counter and pad-packet emission; a real deployment
// would close the loop against measured VRX from the timing parser,
// which this module does not feed back into here.
func (s *TXSession) trainPadding() {
	if s.cfg.PadIntervalPkts <= 0 {
		s.padIntervalPkts = s.pktsPerFrame / 4
		if s.padIntervalPkts < 1 {
			s.padIntervalPkts = 1
		}
	} else {
		s.padIntervalPkts = s.cfg.PadIntervalPkts
	}
	s.padTrained = true
}

// emitPadPacket sends a zero-length-SRD RFC 4175 packet: it occupies
// one wire slot without carrying frame payload, holding a narrow-gap
// NIC rate limiter inside the VRX envelope between real packets.
func (s *TXSession) emitPadPacket() error {
	pkt := make([]byte, rtp.HeaderSize+rtp.ExtSeqSize+rtp.SRDSize)
	hdr := rtp.Header{
		Version:        2,
		PayloadType:    uint8(s.cfg.PayloadType),
		SequenceNumber: s.seq,
		Timestamp:      epoch.RTPTimestamp(s.epochIdx, s.cfg.Rate, s.cfg.MediaClockRate),
		SSRC:           s.cfg.SSRC,
	}
	n, err := hdr.MarshalTo(pkt)
	if err != nil {
		return err
	}
	pkt[n], pkt[n+1] = byte(s.extSeq>>8), byte(s.extSeq)
	n += rtp.ExtSeqSize
	if _, err := (rtp.SRD{}).MarshalTo(pkt[n:]); err != nil {
		return err
	}

	if err := s.sendFunc(pkt); err != nil {
		return err
	}
	s.seq++
	if s.seq == 0 {
		s.extSeq++
	}
	return nil
}

// completeFrame returns the in-flight slot to Free and signals
// frame-done (§4.E "Trailing").
func (s *TXSession) completeFrame() {
	idx := s.currentIdx
	if err := s.ring.Release(idx); err != nil {
		s.emit(Event{Kind: EventError, SlotIndex: idx, Err: err})
	} else {
		s.stats.IncFramesDelivered(0)
	}
	s.currentIdx = -1
	s.state = Idle
}

// Retransmit re-emits packets matching an RTCP NACK'd seq range,
// bypassing pacing (§4.E "RTCP / retransmission").
func (s *TXSession) Retransmit(seqs []uint16) {
	if s.rtcpRing == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[uint16]bool, len(seqs))
	for _, sq := range seqs {
		want[sq] = true
	}
	for _, e := range s.rtcpRing {
		if e.pkt == nil || !want[e.seq] {
			continue
		}
		pkt := make([]byte, len(e.pkt))
		copy(pkt, e.pkt)
		setRetransmitBit(pkt)
		if err := s.sendFunc(pkt); err == nil {
			s.stats.IncRetransmitOK()
		}
	}
}

// setRetransmitBit sets the top bit of the first SRD's row_length
// field in pkt, marking it as a retransmit per §4.E.
func setRetransmitBit(pkt []byte) {
	off := rtp.HeaderSize + rtp.ExtSeqSize
	if off+1 >= len(pkt) {
		return
	}
	pkt[off] |= 0x80
}

// Abort drains pending state and returns to Idle (§4.E "Any state may
// accept abort()").
func (s *TXSession) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentIdx >= 0 {
		_ = s.ring.Release(s.currentIdx)
		delete(s.userMeta, s.currentIdx)
		s.currentIdx = -1
	}
	s.state = Idle
}

// State returns the current TX state machine position.
func (s *TXSession) State() TXState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *TXSession) emit(e Event) {
	select {
	case s.events <- e:
	default:
	}
}

// EventPoll returns the next pending TX event (frame-late / vsync /
// error per §4.G), or ok=false if none is pending.
func (s *TXSession) EventPoll() (Event, bool) {
	select {
	case e := <-s.events:
		return e, true
	default:
		return Event{}, false
	}
}
