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

// Package st40 implements the ST 2110-40 ancillary-data RX and TX
// sessions (§4.F): variable-length RFC 8331 ANC packets carried one
// RTP payload at a time, with no frame-geometry concept of their own.
// RX enqueues each received payload into an application-read ring;
// TX dequeues application-submitted payloads and paces them against
// the epoch of the video stream they accompany.
package st40

import (
	"fmt"

	"github.com/st2110go/mtl/dedup"
	"github.com/st2110go/mtl/mtlerr"
	"github.com/st2110go/mtl/rtp"
	"github.com/st2110go/mtl/slotring"
	"github.com/st2110go/mtl/stats"
)

// RXConfig is the RX-specific slice of a session's static config.
type RXConfig struct {
	// MaxPacketBytes bounds one RTP payload's ANC content; it sizes
	// the ring's per-slot buffer.
	MaxPacketBytes int
	PortCount      int
	DedupThreshold int
}

// RXSession enqueues each accepted ANC RTP payload into its own ring
// slot, one slot per packet rather than one slot per video frame.
type RXSession struct {
	cfg   RXConfig
	ring  *slotring.Ring
	dedup *dedup.State
	stats *stats.Session
}

// NewRXSession builds an RX session over an already-allocated ring
// sized with depth == the application's ANC read-ahead and bufSize ==
// cfg.MaxPacketBytes.
func NewRXSession(cfg RXConfig, ring *slotring.Ring, st *stats.Session) (*RXSession, error) {
	if cfg.MaxPacketBytes <= 0 {
		return nil, fmt.Errorf("st40: invalid max packet size: %w", mtlerr.ErrInvalid)
	}
	portCount := cfg.PortCount
	if portCount < 1 {
		portCount = 1
	}
	return &RXSession{
		cfg:   cfg,
		ring:  ring,
		dedup: dedup.New(dedup.TimestampAndSeq, portCount, cfg.DedupThreshold),
		stats: st,
	}, nil
}

// HandlePacket decodes the RFC 8331 prefix, runs dedup, and on accept
// copies the whole ANC RTP payload (prefix plus ANC_Packet entries)
// into a freshly acquired slot, immediately promoted Ready. A slot
// acquisition failure (ring full; the application is behind) drops
// the packet and counts it as a frame drop.
func (s *RXSession) HandlePacket(port int, payload []byte) {
	var hdr rtp.Header
	if err := hdr.Unmarshal(payload); err != nil {
		s.stats.IncPortPacket(port)
		return
	}
	body := payload[rtp.HeaderSize:]
	if len(body) < rtp.ANCExtHeaderSize {
		s.stats.IncPortPacket(port)
		return
	}
	if _, err := rtp.UnmarshalANCHeader(body); err != nil {
		s.stats.IncPortPacket(port)
		return
	}

	res := s.dedup.Check(hdr.SequenceNumber, hdr.Timestamp, port)
	if !res.Accept {
		s.stats.IncRedundantDrop()
		return
	}
	s.stats.IncPortPacket(port)

	if len(body) > s.cfg.MaxPacketBytes {
		s.stats.IncFramesDropped()
		return
	}

	idx, err := s.ring.AcquireReceive()
	if err != nil {
		s.stats.IncFramesDropped()
		return
	}
	slot := s.ring.Slot(idx)
	n := copy(slot.Buffer, body)
	s.ring.IncPortRecv(idx, port, 1<<uint(port), n)
	if err := s.ring.PromoteReady(idx, n, slotring.Timestamps{Wire: uint64(hdr.Timestamp)}, 0); err != nil {
		return
	}
	s.stats.IncFramesDelivered(int64(n))
}

// DecodePackets parses every ANC_Packet entry out of a ring slot's
// buffer, given the slot's recorded size. It is a convenience for
// applications reading a Ready ANC slot; the session itself never
// calls it.
func DecodePackets(buf []byte, size int) ([]rtp.ANCPacket, error) {
	if size < rtp.ANCExtHeaderSize {
		return nil, fmt.Errorf("st40: short ANC payload: %d bytes", size)
	}
	hdr, err := rtp.UnmarshalANCHeader(buf[:size])
	if err != nil {
		return nil, err
	}
	out := make([]rtp.ANCPacket, 0, hdr.ANCCount)
	off := rtp.ANCExtHeaderSize
	for i := 0; i < int(hdr.ANCCount); i++ {
		if off >= size {
			break
		}
		p, n, err := rtp.UnmarshalANCPacket(buf[off:size])
		if err != nil {
			return out, err
		}
		out = append(out, p)
		off += n
	}
	return out, nil
}
