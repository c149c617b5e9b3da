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

package st41

import (
	"fmt"

	"github.com/st2110go/mtl/epoch"
	"github.com/st2110go/mtl/mtlerr"
	"github.com/st2110go/mtl/rtp"
	"github.com/st2110go/mtl/slotring"
	"github.com/st2110go/mtl/stats"
	"github.com/st2110go/mtl/transport"
)

// TXConfig is the TX-specific slice of a session's static config.
// Fast metadata has no frame rate of its own; Rate/TrOffsetNS pace it
// against whatever epoch the caller associates it with, or against a
// plain packet-per-second rate when it rides alone.
type TXConfig struct {
	Rate       epoch.Rate
	TrOffsetNS uint64

	PayloadType int
	SSRC        uint32
}

// TXSession emits one RTP packet per submitted metadata slot, timed
// to the transmission window it is paced against.
type TXSession struct {
	cfg   TXConfig
	ring  *slotring.Ring
	clock transport.Clock
	stats *stats.Session

	currentIdx int
	scheduled  bool
	sendAt     uint64
	seq        uint16

	sendFunc func([]byte) error
}

// NewTXSession builds a TX session over an already-allocated ring.
func NewTXSession(cfg TXConfig, ring *slotring.Ring, clock transport.Clock, st *stats.Session, sendFunc func([]byte) error) (*TXSession, error) {
	if cfg.Rate.Num == 0 || cfg.Rate.Den == 0 {
		return nil, fmt.Errorf("st41: invalid rate: %w", mtlerr.ErrInvalid)
	}
	return &TXSession{
		cfg:        cfg,
		ring:       ring,
		clock:      clock,
		stats:      st,
		currentIdx: -1,
		sendFunc:   sendFunc,
	}, nil
}

// Tick runs one lcore tasklet iteration. It never blocks.
func (s *TXSession) Tick() {
	tai := s.clock.PTPTaiNS()

	if s.currentIdx < 0 {
		idx, status := s.ring.PeekTransmit()
		if status != slotring.Ready {
			return
		}
		e := epoch.Index(tai, s.cfg.Rate)
		start, _ := epoch.Window(e, s.cfg.Rate, s.cfg.TrOffsetNS)
		s.currentIdx = idx
		s.sendAt = start
		s.scheduled = false
	}

	if tai < s.sendAt {
		return
	}
	if !s.scheduled {
		if err := s.ring.BeginTransmit(s.currentIdx); err != nil {
			s.currentIdx = -1
			return
		}
		s.scheduled = true
	}

	slot := s.ring.Slot(s.currentIdx)
	if err := s.emitOnePacket(slot); err != nil {
		s.stats.IncUserBusy()
		return
	}
	if err := s.ring.Release(s.currentIdx); err == nil {
		s.stats.IncFramesDelivered(0)
	}
	s.currentIdx = -1
	s.scheduled = false
}

func (s *TXSession) emitOnePacket(slot *slotring.Slot) error {
	size := slot.FrameRecvSize
	if size <= 0 {
		size = len(slot.Buffer)
	}
	pkt := make([]byte, rtp.HeaderSize+size)
	hdr := rtp.Header{
		Marker:         true,
		PayloadType:    uint8(s.cfg.PayloadType),
		SequenceNumber: s.seq,
		Timestamp:      uint32(s.sendAt),
		SSRC:           s.cfg.SSRC,
	}
	if _, err := hdr.MarshalTo(pkt); err != nil {
		return err
	}
	copy(pkt[rtp.HeaderSize:], slot.Buffer[:size])
	if err := s.sendFunc(pkt); err != nil {
		return err
	}
	s.seq++
	return nil
}

// SubmitMetadata copies payload (an already-encoded ST 2110-41 chunk
// header plus its metadata) into a freshly acquired slot and promotes
// it Ready.
func SubmitMetadata(ring *slotring.Ring, payload []byte) error {
	idx, err := ring.AcquireReceive()
	if err != nil {
		return err
	}
	slot := ring.Slot(idx)
	n := copy(slot.Buffer, payload)
	return ring.PromoteReady(idx, n, slotring.Timestamps{}, 0)
}
