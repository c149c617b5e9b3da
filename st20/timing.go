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
	"github.com/st2110go/mtl/epoch"
	"github.com/st2110go/mtl/stats"
)

// TimingVerdict is the narrow/wide/fail compliance classification
// §4.D's timing parser attaches to a completed frame.
type TimingVerdict int

const (
	VerdictNarrow TimingVerdict = iota
	VerdictWide
	VerdictFail
)

// narrowVRXPkts bounds the ST 2110-21 narrow VRX envelope in packet
// units: a stream tolerating no more than this many packets of
// burst/jitter from its scheduled arrival qualifies as narrow. Beyond
// that and up to a full frame's packet count it is wide; beyond a full
// frame it fails.
const narrowVRXPkts = 4

// timingTracker accumulates one frame's worth of per-packet arrival
// timing and folds C_inst/VRX/inter-packet-time/FPT samples into a
// stats.Session, plus a per-frame narrow/wide/fail verdict (§4.D
// "Timing parser (ST 2110-21)"). It calibrates its own expected
// packets-per-frame from the previous frame's actual count rather
// than requiring the RX side to know the TX packetization scheme
// up front.
type timingTracker struct {
	rate           epoch.Rate
	mediaClockRate uint64
	stats          *stats.Session

	estPktsPerFrame int64

	lastArrival uint64

	frames map[int]*frameTiming
}

type frameTiming struct {
	epochIdx      uint64
	frameStartTAI uint64
	pktCount      int64
	worst         TimingVerdict
}

func newTimingTracker(rate epoch.Rate, mediaClockRate uint64, st *stats.Session) *timingTracker {
	return &timingTracker{
		rate:           rate,
		mediaClockRate: mediaClockRate,
		stats:          st,
		frames:         make(map[int]*frameTiming),
	}
}

// onPacket folds one packet's arrival into slot idx's in-progress
// frame timing, observing IPT/FPT/C_inst/VRX and returning the frame's
// worst verdict so far.
func (t *timingTracker) onPacket(idx int, isNew bool, arrivalTAI uint64) TimingVerdict {
	ft := t.frames[idx]
	if ft == nil {
		e := epoch.Index(arrivalTAI, t.rate)
		start, _ := epoch.Window(e, t.rate, 0)
		ft = &frameTiming{epochIdx: e, frameStartTAI: start}
		t.frames[idx] = ft
	}

	if isNew {
		fpt := int64(arrivalTAI) - int64(ft.frameStartTAI)
		t.stats.FPT.Observe(fpt)
	}

	if t.lastArrival != 0 {
		ipt := int64(arrivalTAI) - int64(t.lastArrival)
		t.stats.IPT.Observe(ipt)
	}
	t.lastArrival = arrivalTAI

	ft.pktCount++

	if t.estPktsPerFrame > 0 {
		_, end := epoch.Window(ft.epochIdx, t.rate, 0)
		active := (end - ft.frameStartTAI) * 8 / 10
		trs := active / uint64(t.estPktsPerFrame)
		if trs > 0 {
			elapsed := arrivalTAI - ft.frameStartTAI
			scheduled := int64(elapsed / trs)
			cInst := ft.pktCount - scheduled
			t.stats.Cinst.Observe(cInst)
			t.stats.VRX.Observe(cInst)

			verdict := verdictFor(cInst, t.estPktsPerFrame)
			if verdict > ft.worst {
				ft.worst = verdict
			}
		}
	}

	return ft.worst
}

// onFrameDone finalizes slot idx's frame timing, folding its packet
// count into next frame's scheduling estimate, and returns the
// frame's overall verdict.
func (t *timingTracker) onFrameDone(idx int) TimingVerdict {
	ft := t.frames[idx]
	delete(t.frames, idx)
	if ft == nil {
		return VerdictNarrow
	}
	if ft.pktCount > 0 {
		t.estPktsPerFrame = ft.pktCount
	}
	return ft.worst
}

// verdictFor classifies a C_inst sample against the narrow/wide VRX
// envelope for a stream whose frame carries pktsPerFrame packets.
func verdictFor(cInst, pktsPerFrame int64) TimingVerdict {
	abs := cInst
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs <= narrowVRXPkts:
		return VerdictNarrow
	case abs <= pktsPerFrame:
		return VerdictWide
	default:
		return VerdictFail
	}
}
