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
	"math"
	"time"

	"github.com/st2110go/mtl/epoch"
	"github.com/st2110go/mtl/rtp"
)

// detectStableRounds is how many consecutive frames must agree on
// resolution, SRD geometry, and frame rate before format auto-detect
// reports a result.
const detectStableRounds = 8

// DetectedFormat is the resolution, frame rate, and row geometry
// format auto-detect infers from an incoming RTP stream (§4.D "Format
// auto-detect"). Packing stays whatever the session was configured
// with: SDP (or equivalent out-of-band signalling) always names the
// sampling/packing, so only the geometry that signalling can get
// wrong or omit — dimensions and rate — is inferred from the wire.
type DetectedFormat struct {
	Width  int
	Height int
	FPS    float64
}

// formatDetector accumulates per-frame geometry and inter-frame
// timing samples and reports once they agree for detectStableRounds
// frames in a row. Resolution and row length are only meaningful once
// a whole frame's worth of SRDs have been seen, so both are finalized
// at the next frame's first packet rather than compared packet by
// packet.
type formatDetector struct {
	now func() time.Time

	lastFrameStart time.Time
	fpsRun         float64
	fpsRunLen      int

	curMaxRow int
	curRowLen int

	height    int
	heightRun int

	rowLen    int
	rowLenRun int

	done bool
}

func newFormatDetector() *formatDetector {
	return &formatDetector{now: time.Now}
}

// onFrameStart finalizes the previous frame's accumulated geometry,
// records the arrival of a new frame's first packet, and feeds the
// inter-frame-interval fps estimator.
func (d *formatDetector) onFrameStart() {
	if d.done {
		return
	}
	d.finalizeFrame()

	now := d.now()
	if d.lastFrameStart.IsZero() {
		d.lastFrameStart = now
		return
	}
	delta := now.Sub(d.lastFrameStart).Seconds()
	d.lastFrameStart = now
	if delta <= 0 {
		return
	}
	fps := nearestStandardFPS(1 / delta)
	if fps == d.fpsRun {
		d.fpsRunLen++
	} else {
		d.fpsRun = fps
		d.fpsRunLen = 1
	}
}

// finalizeFrame folds the just-completed frame's max row number and
// row length into the stability-run counters, then resets the
// per-frame accumulators for the frame now starting.
func (d *formatDetector) finalizeFrame() {
	if d.curMaxRow > 0 || d.curRowLen > 0 {
		height := d.curMaxRow + 1
		if height == d.height {
			d.heightRun++
		} else {
			d.height = height
			d.heightRun = 1
		}
		if d.curRowLen == d.rowLen {
			d.rowLenRun++
		} else {
			d.rowLen = d.curRowLen
			d.rowLenRun = 1
		}
	}
	d.curMaxRow = 0
	d.curRowLen = 0
}

// observeSRD folds one Sample Row Data header's geometry into the
// current frame's running max row/length, finalized once the next
// frame begins.
func (d *formatDetector) observeSRD(srd rtp.SRD) {
	if d.done {
		return
	}
	if row := int(srd.RowNumber); row > d.curMaxRow {
		d.curMaxRow = row
	}
	d.curRowLen = int(srd.Length)
}

// stable reports the detected format once resolution, row length, and
// fps have each agreed across detectStableRounds consecutive samples.
func (d *formatDetector) stable(f func(rowLen int) int) (DetectedFormat, bool) {
	if d.done {
		return DetectedFormat{}, false
	}
	if d.heightRun < detectStableRounds || d.rowLenRun < detectStableRounds || d.fpsRunLen < detectStableRounds {
		return DetectedFormat{}, false
	}
	d.done = true
	return DetectedFormat{
		Width:  f(d.rowLen),
		Height: d.height,
		FPS:    d.fpsRun,
	}, true
}

// nearestStandardFPS snaps an observed frame rate to the closest entry
// in epoch.StandardRates, the same table the epoch-paced TX side
// schedules against.
func nearestStandardFPS(observed float64) float64 {
	best := rateHz(epoch.StandardRates[0])
	bestDiff := math.Abs(observed - best)
	for _, r := range epoch.StandardRates[1:] {
		hz := rateHz(r)
		if diff := math.Abs(observed - hz); diff < bestDiff {
			best, bestDiff = hz, diff
		}
	}
	return best
}

func rateHz(r epoch.Rate) float64 {
	return float64(r.Num) / float64(r.Den)
}
