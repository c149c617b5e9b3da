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

package pg

// Kernel converts between packed and planar representations of one
// format. The scalar kernel (backed directly by Decode/Encode) is
// always the correctness authority; SIMD variants must compare
// byte-for-byte against it (§9 "SIMD selection"). This repository
// ships only the scalar kernel — the interface and dispatch table
// are the seam a widest-available-SIMD kernel would register into.
type Kernel interface {
	Decode(packed []byte, width, height, linesize int) (*Planar, error)
	Encode(p *Planar, linesize int) ([]byte, error)
}

// scalarKernel is the reference implementation, always correct and
// always available.
type scalarKernel struct{ format Format }

func (k scalarKernel) Decode(packed []byte, width, height, linesize int) (*Planar, error) {
	return Decode(k.format, packed, width, height, linesize)
}

func (k scalarKernel) Encode(p *Planar, linesize int) ([]byte, error) {
	return Encode(k.format, p, linesize)
}

// ScalarKernel returns the always-correct scalar reference kernel for
// f. Other kernel tiers (SSE4.2, AVX2, AVX-512, AVX-512-VBMI2, and the
// DMA-staged variant) would register into SelectKernel's dispatch
// order ahead of this one; none are implemented here.
func ScalarKernel(f Format) Kernel { return scalarKernel{format: f} }

// DMAEngine is the external collaborator interface a DMA-staged
// kernel submits copies to (§4.H). Submit/Poll are best-effort: a
// failure at either point means the caller should fall back to the
// non-DMA kernel without losing data (§4.A, §9).
type DMAEngine interface {
	Copy(dstIOVA, srcIOVA uintptr, length int) error
	Submit() error
	Poll() (completions int, err error)
}

// dmaStagedKernel is the DMA-staged kernel tier (§9 "DMA-staged
// kernels"). Each Decode/Encode call issues one Submit and one Poll on
// the engine and then runs the scalar kernel directly on the caller's
// buffer, whatever the engine returned. It issues no Copy, allocates
// no staging buffers and does not overlap copy with compute; stageN is
// stored but not read.
type dmaStagedKernel struct {
	format   Format
	engine   DMAEngine
	fallback Kernel
	stageN   int
}

// NewDMAStagedKernel builds a DMA-staged kernel for large (4K/8K)
// frames where source-side LLC misses dominate copy cost. stageN is
// raised to at least 4 and recorded; Decode and Encode do not use it.
func NewDMAStagedKernel(f Format, engine DMAEngine, stageN int) Kernel {
	if stageN < 4 {
		stageN = 4
	}
	return &dmaStagedKernel{format: f, engine: engine, fallback: ScalarKernel(f), stageN: stageN}
}

// Decode submits and polls the DMA engine, then runs the scalar unpack
// directly on packed; no data passes through the engine, and a nil
// engine or a Submit/Poll error takes the same scalar path.
func (k *dmaStagedKernel) Decode(packed []byte, width, height, linesize int) (*Planar, error) {
	if k.engine == nil {
		return k.fallback.Decode(packed, width, height, linesize)
	}
	if err := k.engine.Submit(); err != nil {
		return k.fallback.Decode(packed, width, height, linesize)
	}
	if _, err := k.engine.Poll(); err != nil {
		return k.fallback.Decode(packed, width, height, linesize)
	}
	return k.fallback.Decode(packed, width, height, linesize)
}

// Encode mirrors Decode: Submit and Poll, then the scalar encode.
func (k *dmaStagedKernel) Encode(p *Planar, linesize int) ([]byte, error) {
	if k.engine == nil {
		return k.fallback.Encode(p, linesize)
	}
	if err := k.engine.Submit(); err != nil {
		return k.fallback.Encode(p, linesize)
	}
	if _, err := k.engine.Poll(); err != nil {
		return k.fallback.Encode(p, linesize)
	}
	return k.fallback.Encode(p, linesize)
}

// SelectKernel picks the best available kernel for f at startup, in
// the order DMA-staged (for large frames), widest SIMD, scalar (§9).
// Only the scalar tier is implemented; largeFrame / engine let a
// caller opt into the DMA-staged wrapper once a real DMA engine and
// large-frame heuristic are wired in.
func SelectKernel(f Format, largeFrame bool, engine DMAEngine) Kernel {
	if largeFrame && engine != nil {
		return NewDMAStagedKernel(f, engine, 4)
	}
	return ScalarKernel(f)
}
