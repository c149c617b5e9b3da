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

package st30

import (
	"fmt"

	"github.com/st2110go/mtl/epoch"
	"github.com/st2110go/mtl/mtlerr"
	"github.com/st2110go/mtl/rtp"
	"github.com/st2110go/mtl/slotring"
	"github.com/st2110go/mtl/stats"
	"github.com/st2110go/mtl/transport"
)

// PacingMode selects one of §4.F's two audio packet-scheduling modes:
// RL paces strictly by wall-clock interval (PacketTimeUS apart); TSC
// schedules against the epoch clock the same way video pacing does,
// treating the packet rate itself as the epoch frequency.
type PacingMode int

const (
	PacingRL PacingMode = iota
	PacingTSC
)

// TXConfig is the TX-specific slice of a session's static config.
type TXConfig struct {
	Format Format
	Pacing PacingMode

	PayloadType int
	SSRC        uint32
}

// TXSession paces fixed-size audio RTP packets out of Ready frame
// slots (§4.F).
type TXSession struct {
	cfg TXConfig

	ring  *slotring.Ring
	clock transport.Clock
	stats *stats.Session

	pktSize      int
	pktsPerFrame int
	intervalNS   uint64
	rate         epoch.Rate

	currentIdx  int
	pktInFrame  int
	nextSendTAI uint64
	active      bool

	seq      uint16
	sendFunc func([]byte) error
}

// NewTXSession builds a TX session over an already-allocated ring.
func NewTXSession(cfg TXConfig, ring *slotring.Ring, clock transport.Clock, st *stats.Session, sendFunc func([]byte) error) (*TXSession, error) {
	pktSize := cfg.Format.PacketSize()
	if pktSize <= 0 {
		return nil, fmt.Errorf("st30: invalid packet geometry: %w", mtlerr.ErrInvalid)
	}
	intervalNS := uint64(cfg.Format.PacketTimeUS) * 1000
	packetsPerSec := uint64(1_000_000 / cfg.Format.PacketTimeUS)

	return &TXSession{
		cfg:        cfg,
		ring:       ring,
		clock:      clock,
		stats:      st,
		pktSize:    pktSize,
		intervalNS: intervalNS,
		rate:       epoch.Rate{Num: packetsPerSec, Den: 1},
		currentIdx: -1,
		sendFunc:   sendFunc,
	}, nil
}

// Tick runs one lcore tasklet iteration. It never blocks.
func (s *TXSession) Tick() {
	tai := s.clock.PTPTaiNS()

	if !s.active {
		idx, status := s.ring.PeekTransmit()
		if status != slotring.Ready {
			return
		}
		if err := s.ring.BeginTransmit(idx); err != nil {
			return
		}
		s.currentIdx = idx
		s.pktInFrame = 0
		slot := s.ring.Slot(idx)
		s.pktsPerFrame = slotFrameSize(slot) / s.pktSize
		if s.pktsPerFrame < 1 {
			s.pktsPerFrame = 1
		}
		s.nextSendTAI = s.scheduleStart(tai)
		s.active = true
	}

	for s.pktInFrame < s.pktsPerFrame && tai >= s.nextSendTAI {
		slot := s.ring.Slot(s.currentIdx)
		if err := s.emitOnePacket(slot); err != nil {
			s.stats.IncUserBusy()
			return
		}
		s.pktInFrame++
		s.nextSendTAI += s.intervalNS
	}

	if s.pktInFrame >= s.pktsPerFrame {
		if err := s.ring.Release(s.currentIdx); err == nil {
			s.stats.IncFramesDelivered(0)
		}
		s.currentIdx = -1
		s.active = false
	}
}

func slotFrameSize(slot *slotring.Slot) int {
	if slot.FrameRecvSize > 0 {
		return slot.FrameRecvSize
	}
	return len(slot.Buffer)
}

// scheduleStart returns the TAI time the first packet of a newly
// acquired frame should go out at, per the configured pacing mode.
func (s *TXSession) scheduleStart(tai uint64) uint64 {
	if s.cfg.Pacing == PacingRL {
		return tai
	}
	e := epoch.Index(tai, s.rate)
	start, _ := epoch.Window(e, s.rate, 0)
	return start
}

func (s *TXSession) emitOnePacket(slot *slotring.Slot) error {
	offset := s.pktInFrame * s.pktSize
	if offset+s.pktSize > len(slot.Buffer) {
		return nil
	}
	pkt := make([]byte, rtp.HeaderSize+s.pktSize)
	sampleRate := epoch.Rate{Num: uint64(s.cfg.Format.SamplingRate), Den: 1}
	hdr := rtp.Header{
		Marker:         s.pktInFrame == s.pktsPerFrame-1,
		PayloadType:    uint8(s.cfg.PayloadType),
		SequenceNumber: s.seq,
		Timestamp:      uint32(epoch.Index(s.nextSendTAI, sampleRate)),
		SSRC:           s.cfg.SSRC,
	}
	if _, err := hdr.MarshalTo(pkt); err != nil {
		return err
	}
	copy(pkt[rtp.HeaderSize:], slot.Buffer[offset:offset+s.pktSize])

	if err := s.sendFunc(pkt); err != nil {
		return err
	}
	s.seq++
	return nil
}
