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

// Package st30 implements the ST 2110-30/-31 audio RX and TX sessions
// (§4.F): fixed-size-payload packet assembly into a frame buffer, and
// the AM824<->AES3 subframe mapping used by ST 2110-31.
package st30

import (
	"fmt"
	"sync"

	"github.com/st2110go/mtl/dedup"
	"github.com/st2110go/mtl/mtlerr"
	"github.com/st2110go/mtl/rtp"
	"github.com/st2110go/mtl/slotring"
	"github.com/st2110go/mtl/stats"
)

// Format describes the fixed packet geometry derived from (fmt,
// channels, sampling, ptime) that every RX/TX session is configured
// with (§4.F "fixed-size payload per RTP packet").
type Format struct {
	Channels      int
	SampleSize    int // bytes per sample per channel (e.g. 3 for 24-bit PCM, 4 for AM824)
	SamplingRate  int // Hz, e.g. 48000
	PacketTimeUS  int // microseconds per packet, e.g. 1000 for 1ms ptime
}

// SamplesPerPacket returns the number of audio samples (per channel)
// carried in one RTP packet at this format's sampling rate and ptime.
func (f Format) SamplesPerPacket() int {
	return f.SamplingRate * f.PacketTimeUS / 1_000_000
}

// PacketSize returns the fixed RTP payload size in bytes for one
// packet of this format.
func (f Format) PacketSize() int {
	return f.SamplesPerPacket() * f.Channels * f.SampleSize
}

// RXConfig is the RX-specific slice of a session's static config.
type RXConfig struct {
	Format Format
	// FrameBufferSize is the target frame size in bytes; RX assembles
	// FrameBufferSize/PacketSize packets, in order, before promoting
	// the slot Ready (§4.F).
	FrameBufferSize int

	PortCount      int
	DedupThreshold int
}

// RXSession assembles fixed-size ST 2110-30/-31 packets into frame
// buffers in strict packet order (§4.F).
type RXSession struct {
	cfg RXConfig

	ring  *slotring.Ring
	dedup *dedup.State
	stats *stats.Session

	pktSize     int
	pktsPerFrame int

	mu          sync.Mutex
	activeIdx   int
	haveActive  bool
	pktsWritten int
}

// NewRXSession builds an RX session over an already-allocated ring.
func NewRXSession(cfg RXConfig, ring *slotring.Ring, st *stats.Session) (*RXSession, error) {
	pktSize := cfg.Format.PacketSize()
	if pktSize <= 0 {
		return nil, fmt.Errorf("st30: invalid packet geometry: %w", mtlerr.ErrInvalid)
	}
	if cfg.FrameBufferSize <= 0 {
		return nil, fmt.Errorf("st30: invalid frame buffer size: %w", mtlerr.ErrInvalid)
	}
	pktsPerFrame := cfg.FrameBufferSize / pktSize
	if pktsPerFrame < 1 {
		pktsPerFrame = 1
	}
	portCount := cfg.PortCount
	if portCount < 1 {
		portCount = 1
	}

	return &RXSession{
		cfg:          cfg,
		ring:         ring,
		dedup:        dedup.New(dedup.TimestampOnly, portCount, cfg.DedupThreshold),
		stats:        st,
		pktSize:      pktSize,
		pktsPerFrame: pktsPerFrame,
	}, nil
}

// HandlePacket processes one inbound audio RTP payload on port. Audio
// packets carry no SRD/continuation structure: the base RTP header is
// immediately followed by pktSize bytes of AM824 or raw PCM payload.
func (s *RXSession) HandlePacket(port int, payload []byte) {
	var hdr rtp.Header
	if err := hdr.Unmarshal(payload); err != nil {
		s.stats.IncPortPacket(port)
		return
	}
	body := payload[rtp.HeaderSize:]
	if len(body) < s.pktSize {
		s.stats.IncPortPacket(port)
		return
	}

	res := s.dedup.Check(hdr.SequenceNumber, hdr.Timestamp, port)
	if !res.Accept {
		s.stats.IncRedundantDrop()
		return
	}
	s.stats.IncPortPacket(port)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.haveActive {
		idx, err := s.ring.AcquireReceive()
		if err != nil {
			return
		}
		s.activeIdx = idx
		s.haveActive = true
		s.pktsWritten = 0
	}

	slot := s.ring.Slot(s.activeIdx)
	offset := s.pktsWritten * s.pktSize
	if offset+s.pktSize <= len(slot.Buffer) {
		copy(slot.Buffer[offset:offset+s.pktSize], body[:s.pktSize])
	}
	s.pktsWritten++
	s.ring.IncPortRecv(s.activeIdx, port, 1<<uint(port), s.pktsWritten*s.pktSize)

	if s.pktsWritten >= s.pktsPerFrame {
		size := s.pktsWritten * s.pktSize
		if err := s.ring.PromoteReady(s.activeIdx, size, slotring.Timestamps{Wire: uint64(hdr.Timestamp)}, 0); err == nil {
			s.stats.IncFramesDelivered(int64(size))
		}
		s.haveActive = false
	}
}
