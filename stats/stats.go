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

// Package stats implements the per-session statistics surface (§6):
// counters updated lock-free from the owning lcore tasklet and read
// from any thread for diagnostics or export, plus a Prometheus
// registration for the daemon's monitoring endpoint.
package stats

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Aggregate holds a running min/max/avg triple updated incrementally,
// matching §4.D's "C_inst / VRX / inter-packet time ... min, max, avg"
// requirement without retaining the raw sample sequence.
type Aggregate struct {
	count int64
	sum   int64
	min   int64
	max   int64
}

// Observe folds one more sample into the aggregate.
func (a *Aggregate) Observe(v int64) {
	n := atomic.AddInt64(&a.count, 1)
	atomic.AddInt64(&a.sum, v)
	if n == 1 {
		atomic.StoreInt64(&a.min, v)
		atomic.StoreInt64(&a.max, v)
		return
	}
	for {
		old := atomic.LoadInt64(&a.min)
		if v >= old {
			break
		}
		if atomic.CompareAndSwapInt64(&a.min, old, v) {
			break
		}
	}
	for {
		old := atomic.LoadInt64(&a.max)
		if v <= old {
			break
		}
		if atomic.CompareAndSwapInt64(&a.max, old, v) {
			break
		}
	}
}

// Snapshot is the race-free, point-in-time read of an Aggregate.
type Snapshot struct {
	Count int64
	Min   int64
	Max   int64
	Avg   float64
}

// Snapshot reads the current aggregate values atomically.
func (a *Aggregate) Snapshot() Snapshot {
	n := atomic.LoadInt64(&a.count)
	sum := atomic.LoadInt64(&a.sum)
	s := Snapshot{Count: n, Min: atomic.LoadInt64(&a.min), Max: atomic.LoadInt64(&a.max)}
	if n > 0 {
		s.Avg = float64(sum) / float64(n)
	}
	return s
}

// Reset zeroes the aggregate.
func (a *Aggregate) Reset() {
	atomic.StoreInt64(&a.count, 0)
	atomic.StoreInt64(&a.sum, 0)
	atomic.StoreInt64(&a.min, 0)
	atomic.StoreInt64(&a.max, 0)
}

// Session is the statistics record for one session, RX or TX (§6
// "Statistics surface"). All fields are updated with atomic
// operations from the owning lcore and may be read from any thread.
type Session struct {
	FramesDelivered int64
	FramesDropped   int64
	Bytes           int64

	PortPackets    [2]int64
	RedundantDrops int64
	RetransmitOK   int64

	EpochLate  int64
	UserBusy   int64
	DMAFallback int64

	VRX   Aggregate
	Cinst Aggregate
	IPT   Aggregate
	FPT   Aggregate
}

// IncFramesDelivered records one frame handed to the application.
func (s *Session) IncFramesDelivered(bytes int64) {
	atomic.AddInt64(&s.FramesDelivered, 1)
	atomic.AddInt64(&s.Bytes, bytes)
}

// IncFramesDropped records one frame dropped at the frame level.
func (s *Session) IncFramesDropped() { atomic.AddInt64(&s.FramesDropped, 1) }

// IncPortPacket records one packet received or sent on port.
func (s *Session) IncPortPacket(port int) {
	if port < 0 || port >= len(s.PortPackets) {
		return
	}
	atomic.AddInt64(&s.PortPackets[port], 1)
}

// IncRedundantDrop records one packet dropped as a 2022-7 duplicate.
func (s *Session) IncRedundantDrop() { atomic.AddInt64(&s.RedundantDrops, 1) }

// IncRetransmitOK records one successfully re-emitted RTCP retransmit.
func (s *Session) IncRetransmitOK() { atomic.AddInt64(&s.RetransmitOK, 1) }

// IncEpochLate records one missed TX epoch.
func (s *Session) IncEpochLate() { atomic.AddInt64(&s.EpochLate, 1) }

// IncUserBusy records one failed NIC TX ring enqueue.
func (s *Session) IncUserBusy() { atomic.AddInt64(&s.UserBusy, 1) }

// IncDMAFallback records one DMA-staged kernel falling back to scalar.
func (s *Session) IncDMAFallback() { atomic.AddInt64(&s.DMAFallback, 1) }

// SessionSnapshot is the race-free point-in-time read of Session,
// matching §6's "Reset is a separate operation and is race-free with
// read".
type SessionSnapshot struct {
	FramesDelivered int64
	FramesDropped   int64
	Bytes           int64
	PortPackets     [2]int64
	RedundantDrops  int64
	RetransmitOK    int64
	EpochLate       int64
	UserBusy        int64
	DMAFallback     int64
	VRX             Snapshot
	Cinst           Snapshot
	IPT             Snapshot
	FPT             Snapshot
}

// Snapshot reads all counters of s atomically.
func (s *Session) Snapshot() SessionSnapshot {
	return SessionSnapshot{
		FramesDelivered: atomic.LoadInt64(&s.FramesDelivered),
		FramesDropped:   atomic.LoadInt64(&s.FramesDropped),
		Bytes:           atomic.LoadInt64(&s.Bytes),
		PortPackets:     [2]int64{atomic.LoadInt64(&s.PortPackets[0]), atomic.LoadInt64(&s.PortPackets[1])},
		RedundantDrops:  atomic.LoadInt64(&s.RedundantDrops),
		RetransmitOK:    atomic.LoadInt64(&s.RetransmitOK),
		EpochLate:       atomic.LoadInt64(&s.EpochLate),
		UserBusy:        atomic.LoadInt64(&s.UserBusy),
		DMAFallback:     atomic.LoadInt64(&s.DMAFallback),
		VRX:             s.VRX.Snapshot(),
		Cinst:           s.Cinst.Snapshot(),
		IPT:             s.IPT.Snapshot(),
		FPT:             s.FPT.Snapshot(),
	}
}

// Reset zeroes every counter in s. Callers must ensure Reset is not
// interleaved with a Snapshot that needs to observe a fully-consistent
// pre-reset state; individual fields remain race-free.
func (s *Session) Reset() {
	atomic.StoreInt64(&s.FramesDelivered, 0)
	atomic.StoreInt64(&s.FramesDropped, 0)
	atomic.StoreInt64(&s.Bytes, 0)
	for i := range s.PortPackets {
		atomic.StoreInt64(&s.PortPackets[i], 0)
	}
	atomic.StoreInt64(&s.RedundantDrops, 0)
	atomic.StoreInt64(&s.RetransmitOK, 0)
	atomic.StoreInt64(&s.EpochLate, 0)
	atomic.StoreInt64(&s.UserBusy, 0)
	atomic.StoreInt64(&s.DMAFallback, 0)
	s.VRX.Reset()
	s.Cinst.Reset()
	s.IPT.Reset()
	s.FPT.Reset()
}

// Collector exports a named session's counters as Prometheus metrics
// for the daemon's monitoring endpoint.
type Collector struct {
	name    string
	session *Session

	framesDelivered *prometheus.Desc
	framesDropped   *prometheus.Desc
	bytes           *prometheus.Desc
	redundantDrops  *prometheus.Desc
	epochLate       *prometheus.Desc
	userBusy        *prometheus.Desc
}

// NewCollector builds a Collector exporting session's counters under
// name (the session id or stream name).
func NewCollector(name string, session *Session) *Collector {
	return &Collector{
		name:    name,
		session: session,
		framesDelivered: prometheus.NewDesc("st2110_frames_delivered_total", "frames delivered to the application", []string{"session"}, nil),
		framesDropped:   prometheus.NewDesc("st2110_frames_dropped_total", "frames dropped at the frame level", []string{"session"}, nil),
		bytes:           prometheus.NewDesc("st2110_bytes_total", "bytes of delivered frame payload", []string{"session"}, nil),
		redundantDrops:  prometheus.NewDesc("st2110_redundant_drops_total", "2022-7 redundant packets dropped", []string{"session"}, nil),
		epochLate:       prometheus.NewDesc("st2110_epoch_late_total", "TX epochs missed", []string{"session"}, nil),
		userBusy:        prometheus.NewDesc("st2110_user_busy_total", "failed NIC TX ring enqueues", []string{"session"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.framesDelivered
	ch <- c.framesDropped
	ch <- c.bytes
	ch <- c.redundantDrops
	ch <- c.epochLate
	ch <- c.userBusy
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.session.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.framesDelivered, prometheus.CounterValue, float64(snap.FramesDelivered), c.name)
	ch <- prometheus.MustNewConstMetric(c.framesDropped, prometheus.CounterValue, float64(snap.FramesDropped), c.name)
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(snap.Bytes), c.name)
	ch <- prometheus.MustNewConstMetric(c.redundantDrops, prometheus.CounterValue, float64(snap.RedundantDrops), c.name)
	ch <- prometheus.MustNewConstMetric(c.epochLate, prometheus.CounterValue, float64(snap.EpochLate), c.name)
	ch <- prometheus.MustNewConstMetric(c.userBusy, prometheus.CounterValue, float64(snap.UserBusy), c.name)
}
