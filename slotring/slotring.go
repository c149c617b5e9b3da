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

// Package slotring implements the ownership-tracked frame-slot ring
// (§4.C) shared by every session direction and media type: a
// fixed-count ring of frame buffers with in-order acquire, promote and
// release, and a strict per-slot status machine.
package slotring

import (
	"fmt"
	"sync"

	"github.com/st2110go/mtl/mtlerr"
)

// Status is a frame slot's position in its direction's state machine.
// RX moves Free -> Receiving -> Ready -> Free; TX adds a Transmitting
// stage before returning to Free. Any transition outside that
// sequence is a programming fault, not a runtime error.
type Status int

const (
	Free Status = iota
	Receiving
	Ready
	Transmitting
)

func (s Status) String() string {
	switch s {
	case Free:
		return "free"
	case Receiving:
		return "receiving"
	case Ready:
		return "ready"
	case Transmitting:
		return "transmitting"
	default:
		return "unknown"
	}
}

// Timestamps are the three monotonic timestamps a slot carries (§3):
// capture (e.g. V4L2 or SDI ingest), application delivery, and wire
// (RTP send/receive).
type Timestamps struct {
	Capture    uint64
	AppDeliver uint64
	Wire       uint64
}

// BufferProvider is the external-frame-mode collaborator (§4.C
// "External-frame mode"): slots do not own a buffer, and each newly
// acquired slot queries the application for one.
type BufferProvider interface {
	AcquireBuffer(size int) (buf []byte, dmaAddr uintptr, userCtx interface{}, err error)
	ReleaseBuffer(userCtx interface{}, buf []byte) error
}

// Slot is one entry of the ring. It is immutable to the library
// between the point it is handed to the application and the point the
// application returns it (§3).
type Slot struct {
	Status Status

	Buffer  []byte
	DMAAddr uintptr

	UserMeta []byte

	Timestamps Timestamps

	PortRecvCount   []int
	IntegrityBitmap uint64
	FrameRecvSize   int

	externalCtx interface{}
}

// Ring is a fixed-count ring of frame slots owned by exactly one
// session. Its three ring-advancing operations (AcquireReceive,
// PromoteReady, Release) and its accessors each run under one
// short-held mutex (§4.C, §4.H "Slot ring: short critical section, one
// mutex per session").
type Ring struct {
	mu sync.Mutex

	slots     []Slot
	portCount int

	recvIdx     int
	readyIdx    int
	transmitIdx int

	bufSize  int
	external bool
	provider BufferProvider
}

// New allocates a library-owned ring of depth slots, each sized
// bufSize bytes, for a session with portCount redundant ports.
func New(depth, bufSize, portCount int) (*Ring, error) {
	if depth <= 0 || bufSize < 0 || portCount < 1 {
		return nil, fmt.Errorf("slotring: depth=%d bufSize=%d portCount=%d: %w", depth, bufSize, portCount, mtlerr.ErrInvalid)
	}
	slots := make([]Slot, depth)
	for i := range slots {
		slots[i].Buffer = make([]byte, bufSize)
		slots[i].PortRecvCount = make([]int, portCount)
	}
	return &Ring{slots: slots, portCount: portCount, bufSize: bufSize}, nil
}

// NewExternal allocates a ring in external-frame mode: slots hold no
// buffer of their own and query provider on every acquire (§4.C
// "External-frame mode").
func NewExternal(depth, portCount int, provider BufferProvider) (*Ring, error) {
	if depth <= 0 || portCount < 1 {
		return nil, fmt.Errorf("slotring: depth=%d portCount=%d: %w", depth, portCount, mtlerr.ErrInvalid)
	}
	if provider == nil {
		return nil, fmt.Errorf("slotring: external mode requires a buffer provider: %w", mtlerr.ErrInvalid)
	}
	slots := make([]Slot, depth)
	for i := range slots {
		slots[i].PortRecvCount = make([]int, portCount)
	}
	return &Ring{slots: slots, portCount: portCount, external: true, provider: provider}, nil
}

// Len returns the ring's slot count.
func (r *Ring) Len() int {
	return len(r.slots)
}

// AcquireReceive marks the slot at recv_idx Receiving and returns its
// index, or ErrBusy if that slot is not Free (§4.C). In external-frame
// mode it first queries the provider for a buffer.
func (r *Ring) AcquireReceive() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.recvIdx
	s := &r.slots[idx]
	if s.Status != Free {
		return -1, mtlerr.ErrBusy
	}

	if r.external {
		buf, dma, ctx, err := r.provider.AcquireBuffer(r.bufSize)
		if err != nil {
			return -1, fmt.Errorf("slotring: acquire external buffer: %w", err)
		}
		s.Buffer = buf
		s.DMAAddr = dma
		s.externalCtx = ctx
	}

	s.Status = Receiving
	s.FrameRecvSize = 0
	s.IntegrityBitmap = 0
	for i := range s.PortRecvCount {
		s.PortRecvCount[i] = 0
	}

	r.recvIdx = (r.recvIdx + 1) % len(r.slots)
	return idx, nil
}

// Slot returns a pointer to the slot at idx for the caller to write
// into while it remains Receiving. The caller must not retain the
// pointer past the matching Release.
func (r *Ring) Slot(idx int) *Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &r.slots[idx]
}

// IncPortRecv records one more packet received on port for the slot
// at idx, and ORs bit into its integrity bitmap.
func (r *Ring) IncPortRecv(idx, port int, bit uint64, size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &r.slots[idx]
	if port >= 0 && port < len(s.PortRecvCount) {
		s.PortRecvCount[port]++
	}
	s.IntegrityBitmap |= bit
	if size > s.FrameRecvSize {
		s.FrameRecvSize = size
	}
}

// PromoteReady marks the slot at idx Ready, recording its final size,
// timestamps and completeness bitmap. idx must be Receiving and must
// be the next slot due for promotion in insertion order (§4.C
// "Ordering"); a slot whose predecessor has not yet been promoted
// cannot itself be promoted.
func (r *Ring) PromoteReady(idx, size int, ts Timestamps, bitmap uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx != r.readyIdx {
		return fmt.Errorf("slotring: promote out of order at %d, expected %d: %w", idx, r.readyIdx, mtlerr.ErrInvalid)
	}
	s := &r.slots[idx]
	if s.Status != Receiving {
		return fmt.Errorf("slotring: promote slot %d in state %s, want receiving: %w", idx, s.Status, mtlerr.ErrInvalid)
	}

	s.Status = Ready
	s.FrameRecvSize = size
	s.Timestamps = ts
	s.IntegrityBitmap = bitmap

	r.readyIdx = (r.readyIdx + 1) % len(r.slots)
	return nil
}

// PeekTransmit returns the index the ring next expects to be passed
// to BeginTransmit or Release, and that slot's current status, without
// mutating any state. A TX session polls this to discover when its
// next frame has turned Ready.
func (r *Ring) PeekTransmit() (idx int, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx = r.transmitIdx
	return idx, r.slots[idx].Status
}

// BeginTransmit marks a Ready slot Transmitting. It is the TX-only
// half-step between Ready and Release, mirroring the handoff to the
// application the RX side performs implicitly at buffer_get.
func (r *Ring) BeginTransmit(idx int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &r.slots[idx]
	if s.Status != Ready {
		return fmt.Errorf("slotring: begin transmit slot %d in state %s, want ready: %w", idx, s.Status, mtlerr.ErrInvalid)
	}
	s.Status = Transmitting
	return nil
}

// Release returns the slot at idx to Free. idx must be Ready (RX) or
// Transmitting (TX), and must be the next slot due for release in
// insertion order.
func (r *Ring) Release(idx int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx != r.transmitIdx {
		return fmt.Errorf("slotring: release out of order at %d, expected %d: %w", idx, r.transmitIdx, mtlerr.ErrInvalid)
	}
	s := &r.slots[idx]
	if s.Status != Ready && s.Status != Transmitting {
		return fmt.Errorf("slotring: release slot %d in state %s, want ready or transmitting: %w", idx, s.Status, mtlerr.ErrInvalid)
	}

	if r.external && r.provider != nil {
		if err := r.provider.ReleaseBuffer(s.externalCtx, s.Buffer); err != nil {
			return fmt.Errorf("slotring: release external buffer: %w", err)
		}
		s.Buffer = nil
		s.externalCtx = nil
	}

	s.Status = Free
	r.transmitIdx = (r.transmitIdx + 1) % len(r.slots)
	return nil
}
