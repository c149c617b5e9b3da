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

// Package st41 implements the ST 2110-41 fast-metadata RX and TX
// sessions (§4.F): arbitrary metadata chunks carrying a configurable
// 22-bit Data Item Type and K-bit, handled at the RTP level only with
// no frame-geometry concept of their own, the same shape st40 uses
// for ANC.
package st41

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
	MaxPacketBytes int
	PortCount      int
	DedupThreshold int
}

// RXSession enqueues each accepted fast-metadata RTP payload into its
// own ring slot.
type RXSession struct {
	cfg   RXConfig
	ring  *slotring.Ring
	dedup *dedup.State
	stats *stats.Session
}

// NewRXSession builds an RX session over an already-allocated ring.
func NewRXSession(cfg RXConfig, ring *slotring.Ring, st *stats.Session) (*RXSession, error) {
	if cfg.MaxPacketBytes <= 0 {
		return nil, fmt.Errorf("st41: invalid max packet size: %w", mtlerr.ErrInvalid)
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

// HandlePacket decodes the ST 2110-41 chunk header, runs dedup, and on
// accept copies the whole payload (chunk header plus its LengthWords
// of metadata) into a freshly acquired slot, promoted Ready.
func (s *RXSession) HandlePacket(port int, payload []byte) {
	var hdr rtp.Header
	if err := hdr.Unmarshal(payload); err != nil {
		s.stats.IncPortPacket(port)
		return
	}
	body := payload[rtp.HeaderSize:]
	if len(body) < rtp.FastMetadataChunkSize {
		s.stats.IncPortPacket(port)
		return
	}
	if _, err := rtp.UnmarshalFastMetadataChunk(body); err != nil {
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
