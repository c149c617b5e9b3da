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

// Package session implements the polymorphic session façade (§4.G):
// one opaque handle type, tagged by media kind and direction, whose
// buffer_get/buffer_put/event_poll/start/stop operations dispatch the
// same way regardless of which of st20/st30/st40/st41 backs it.
//
// The façade's buffer_get/buffer_put reuse slotring's producer and
// consumer cursors in both directions: for RX, the application is the
// ring's consumer (PeekTransmit/BeginTransmit/Release — the same
// handoff a TX session's lcore performs internally); for TX, the
// application is the ring's producer (AcquireReceive/PromoteReady —
// the same handoff an RX session's lcore performs internally). Only
// which side of the ring the application sits on changes; the ring
// itself has no notion of media kind or direction.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/st2110go/mtl/mtlerr"
	"github.com/st2110go/mtl/slotring"
	"github.com/st2110go/mtl/st20"
	"github.com/st2110go/mtl/st30"
	"github.com/st2110go/mtl/st40"
	"github.com/st2110go/mtl/st41"
	"github.com/st2110go/mtl/transport"
)

// MediaKind is the handle's enumerated media-type tag (§4.G
// "Handle... one enumerated media-type tag").
type MediaKind int

const (
	KindVideo MediaKind = iota
	KindAudio
	KindAncillary
	KindFastMetadata
)

func (k MediaKind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindAncillary:
		return "ancillary"
	case KindFastMetadata:
		return "fastmetadata"
	default:
		return "unknown"
	}
}

// Direction is RX or TX.
type Direction int

const (
	DirRX Direction = iota
	DirTX
)

// Flags is the bit-position flag set §4.G names.
type Flags uint32

const (
	FlagExternalBuffer Flags = 1 << iota
	FlagUserPacing
	FlagUserTimestamp
	FlagEnableVsync
	FlagEnableRTCP
	FlagForceNUMA
	FlagDataPathOnly
	FlagReceiveIncompleteFrame
	FlagDMAOffload
	FlagHeaderSplit
	FlagBlockGet
	FlagUserPacingExact
	FlagRTPTimestampEpoch
	FlagDisableBulk
	FlagStaticPadding
	FlagMultiThreadedRX
)

// Has reports whether all bits in want are set.
func (f Flags) Has(want Flags) bool { return f&want == want }

// BaseConfig is the slice of a session's static config common to
// every media kind: ring geometry, flags and lcore assignment.
type BaseConfig struct {
	Flags     Flags
	RingDepth int
	BufSize   int
	PortCount int
	Lcore     int

	// Provider is consulted instead of allocating a ring-owned buffer
	// pool when Flags has FlagExternalBuffer set (§9 "external-frame
	// mode").
	Provider slotring.BufferProvider
}

func (b BaseConfig) newRing() (*slotring.Ring, error) {
	if b.Flags.Has(FlagExternalBuffer) {
		return slotring.NewExternal(b.RingDepth, b.PortCount, b.Provider)
	}
	return slotring.New(b.RingDepth, b.BufSize, b.PortCount)
}

// EventKind enumerates the façade-level events event_poll can return,
// translated from whichever backend emitted them. Not every media
// kind is capable of every event; audio/ancillary/fast-metadata
// backends are thin (§2 "Thin; reuse B and C") and never emit slice
// or format-detect events.
type EventKind int

const (
	EventFormatDetected EventKind = iota
	EventSliceReady
	EventFrameReady
	EventFrameIncomplete
	EventFrameLate
	EventVsync
	EventError
)

// Event is one item delivered through EventPoll.
type Event struct {
	Kind      EventKind
	SlotIndex int
	Lines     int
	Detected  st20.DetectedFormat
	Verdict   st20.TimingVerdict
	Err       error
}

// tickBackend is the TX-side half of the internal vtable: a TX
// backend's Tick is driven by the scheduler, never by the
// application.
type tickBackend interface {
	Tick()
}

// pollBackend is implemented by backends capable of emitting events
// (currently only st20's RX and TX sessions).
type pollBackend interface {
	EventPoll() (st20.Event, bool)
}

// Handle is the one opaque session type of §4.G: an internal vtable
// pointer (backend) and one enumerated media-type tag (kind).
type Handle struct {
	kind MediaKind
	dir  Direction
	cfg  BaseConfig

	ring *slotring.Ring

	tick tickBackend
	poll pollBackend

	// rxImpl holds the concrete RX backend for HandlePacket's type
	// switch; set by the type-specific constructors below. nil for TX
	// handles.
	rxImpl interface{}

	scheduler transport.Scheduler
	cancel    func()

	mu      sync.Mutex
	cond    *sync.Cond
	stopped bool
}

// newHandle returns a handle already in the running state: buffer_get/
// buffer_put/event_poll work immediately after construction. Start is
// only needed to wire a TX handle's tick into a real Scheduler; an
// explicit Stop is required to pause a handle, matching §4.G's
// "stop() ... start() again" pairing rather than requiring every
// caller to remember an initial Start before first use.
func newHandle(kind MediaKind, dir Direction, cfg BaseConfig, ring *slotring.Ring) *Handle {
	h := &Handle{kind: kind, dir: dir, cfg: cfg, ring: ring, stopped: false}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Kind returns the handle's media-type tag.
func (h *Handle) Kind() MediaKind { return h.kind }

// Direction returns RX or TX.
func (h *Handle) Direction() Direction { return h.dir }

// GetFrameSize returns the ring's configured per-slot buffer size
// (§4.G "get_frame_size").
func (h *Handle) GetFrameSize() int { return h.cfg.BufSize }

// GetQueueMeta returns the ring depth and port count this session was
// created with (§4.G "get_queue_meta").
func (h *Handle) GetQueueMeta() (depth, portCount int) {
	return h.ring.Len(), h.cfg.PortCount
}

// Start registers the session's TX tick with scheduler on its
// configured lcore (RX sessions have no tick of their own: they are
// driven by HandlePacket as packets arrive) and clears the stopped
// state so blocked calls resume normal behaviour. Start is a no-op if
// already started.
func (h *Handle) Start(ctx context.Context, scheduler transport.Scheduler) {
	h.mu.Lock()
	h.stopped = false
	alreadyRegistered := h.cancel != nil
	h.scheduler = scheduler
	h.mu.Unlock()

	if h.tick != nil && scheduler != nil && !alreadyRegistered {
		h.cancel = scheduler.Register(ctx, h.cfg.Lcore, h.tickAndWake)
	}
}

// Stop transitions the session to a stopped state in which every
// blocked or future buffer_get/event_poll call returns ErrAgain
// immediately (§4.G, §5 "Cancellation & timeouts"). It is idempotent
// and safe to call from any goroutine.
func (h *Handle) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	cancel := h.cancel
	h.cancel = nil
	h.cond.Broadcast()
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// IsStopped reports the current stopped state.
func (h *Handle) IsStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

func (h *Handle) tickAndWake() {
	h.tick.Tick()
	h.mu.Lock()
	h.cond.Broadcast()
	h.mu.Unlock()
}

// wake is called after any externally-driven state change (packet
// ingest) that could unblock a buffer_get/event_poll waiter.
func (h *Handle) wake() {
	h.mu.Lock()
	h.cond.Broadcast()
	h.mu.Unlock()
}

// BufferGet returns a buffer for the application to use: for RX, the
// next Ready frame (returns for reading, release with BufferPut); for
// TX, a freshly acquired Free slot (returns for writing, submit with
// BufferPut). It blocks up to timeout and returns ErrTimedOut if none
// became available, or ErrAgain immediately if the session is
// stopped (§4.G, §5).
func (h *Handle) BufferGet(timeout time.Duration) (idx int, buf []byte, err error) {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, h.wake)
	defer timer.Stop()

	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		if h.stopped {
			return 0, nil, mtlerr.ErrAgain
		}
		if idx, buf, ok := h.tryBufferGet(); ok {
			return idx, buf, nil
		}
		if !time.Now().Before(deadline) {
			return 0, nil, mtlerr.ErrTimedOut
		}
		h.cond.Wait()
	}
}

func (h *Handle) tryBufferGet() (idx int, buf []byte, ok bool) {
	if h.dir == DirRX {
		pidx, status := h.ring.PeekTransmit()
		if status != slotring.Ready {
			return 0, nil, false
		}
		if err := h.ring.BeginTransmit(pidx); err != nil {
			return 0, nil, false
		}
		slot := h.ring.Slot(pidx)
		n := slot.FrameRecvSize
		if n <= 0 || n > len(slot.Buffer) {
			n = len(slot.Buffer)
		}
		return pidx, slot.Buffer[:n], true
	}

	pidx, err := h.ring.AcquireReceive()
	if err != nil {
		return 0, nil, false
	}
	return pidx, h.ring.Slot(pidx).Buffer, true
}

// BufferPut completes the handoff BufferGet started: for RX, it
// returns the slot to Free for the session's own RX lcore to reuse;
// for TX, it submits size bytes of filled payload Ready for the TX
// lcore to transmit.
func (h *Handle) BufferPut(idx int, size int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	if h.dir == DirRX {
		err = h.ring.Release(idx)
	} else {
		err = h.ring.PromoteReady(idx, size, slotring.Timestamps{}, 0)
	}
	if err == nil {
		h.cond.Broadcast()
	}
	return err
}

// EventPoll returns the next pending event translated from the
// backend, blocking up to timeout. Media kinds whose backend does not
// emit events (audio/ancillary/fast-metadata, §2) return ErrTimedOut
// once timeout elapses, or ErrAgain as soon as the handle is stopped.
func (h *Handle) EventPoll(timeout time.Duration) (Event, error) {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, h.wake)
	defer timer.Stop()

	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		if h.stopped {
			return Event{}, mtlerr.ErrAgain
		}
		if h.poll != nil {
			if e, ok := h.poll.EventPoll(); ok {
				return translateEvent(e), nil
			}
		}
		if !time.Now().Before(deadline) {
			return Event{}, mtlerr.ErrTimedOut
		}
		h.cond.Wait()
	}
}

func translateEvent(e st20.Event) Event {
	out := Event{SlotIndex: e.SlotIndex, Lines: e.Lines, Detected: e.Detected, Verdict: e.Verdict, Err: e.Err}
	switch e.Kind {
	case st20.EventFormatDetected:
		out.Kind = EventFormatDetected
	case st20.EventSliceReady:
		out.Kind = EventSliceReady
	case st20.EventFrameReady:
		out.Kind = EventFrameReady
	case st20.EventFrameIncomplete:
		out.Kind = EventFrameIncomplete
	case st20.EventFrameLate:
		out.Kind = EventFrameLate
	default:
		out.Kind = EventError
	}
	return out
}

// HandlePacket forwards one inbound RTP payload to the RX backend. It
// is a no-op (after counting nothing) for TX handles or once Stop has
// been called with FlagDataPathOnly unset; callers decide whether to
// keep delivering packets to a stopped session.
func (h *Handle) HandlePacket(port int, payload []byte) {
	if h.IsStopped() && !h.cfg.Flags.Has(FlagDataPathOnly) {
		return
	}
	switch rx := h.rxBackend().(type) {
	case *st20.RXSession:
		rx.HandlePacket(port, payload)
	case *st30.RXSession:
		rx.HandlePacket(port, payload)
	case *st40.RXSession:
		rx.HandlePacket(port, payload)
	case *st41.RXSession:
		rx.HandlePacket(port, payload)
	default:
		return
	}
	h.wake()
}

func (h *Handle) rxBackend() interface{} {
	if h.dir != DirRX {
		return nil
	}
	return h.rxImpl
}

// MemRegister and MemUnregister are the external-frame-mode
// collaborator hooks (§4.G "mem_register/unregister"): they exist so
// the façade's signature matches every polymorphic operation named in
// §4.G, but registration itself is the BufferProvider's job
// (BaseConfig.Provider); the ring never owns the memory in that mode.
func (h *Handle) MemRegister(buf []byte) error {
	if !h.cfg.Flags.Has(FlagExternalBuffer) {
		return mtlerr.ErrInvalid
	}
	return nil
}

// MemUnregister is the symmetric counterpart of MemRegister.
func (h *Handle) MemUnregister(buf []byte) error {
	if !h.cfg.Flags.Has(FlagExternalBuffer) {
		return mtlerr.ErrInvalid
	}
	return nil
}
