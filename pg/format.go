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

// Package pg implements the RFC 4175 pixel-group codec kernels (§4.A):
// bit-exact packed⇆planar conversion for every supported format, with
// a scalar reference implementation that is always the correctness
// authority, and a selectable-kernel seam for SIMD/DMA-staged
// variants (§9 "SIMD selection", "DMA-staged kernels").
package pg

import "fmt"

// Sampling is the chroma subsampling of a format.
type Sampling int

// Sampling values.
const (
	Sampling422 Sampling = iota
	Sampling444
)

// Format describes one RFC 4175 pixel group, per the table in §3.
type Format struct {
	Name        string
	Sampling    Sampling
	Depth       int // bits per sample
	BytesPerPG  int
	PixelsPerPG int
}

// SamplesPerPG returns the number of channel samples packed into one
// pixel group (e.g. 4 for 4:2:2 — Cb,Y0,Cr,Y1 — or 3*PixelsPerPG for
// 4:4:4/RGB).
func (f Format) SamplesPerPG() int {
	switch f.Sampling {
	case Sampling422:
		return 2 * f.PixelsPerPG // one Y per pixel plus one chroma pair per PG
	default:
		return 3 * f.PixelsPerPG
	}
}

// Standard pixel-group formats, per spec §3's table.
var (
	YUV422BE10 = Format{Name: "YUV422BE10", Sampling: Sampling422, Depth: 10, BytesPerPG: 5, PixelsPerPG: 2}
	YUV422BE12 = Format{Name: "YUV422BE12", Sampling: Sampling422, Depth: 12, BytesPerPG: 6, PixelsPerPG: 2}
	YUV422BE8  = Format{Name: "YUV422BE8", Sampling: Sampling422, Depth: 8, BytesPerPG: 4, PixelsPerPG: 2}
	YUV444BE10 = Format{Name: "YUV444BE10", Sampling: Sampling444, Depth: 10, BytesPerPG: 15, PixelsPerPG: 4}
	YUV444BE12 = Format{Name: "YUV444BE12", Sampling: Sampling444, Depth: 12, BytesPerPG: 9, PixelsPerPG: 2}
	RGBBE10    = Format{Name: "RGBBE10", Sampling: Sampling444, Depth: 10, BytesPerPG: 15, PixelsPerPG: 4}
	RGBBE12    = Format{Name: "RGBBE12", Sampling: Sampling444, Depth: 12, BytesPerPG: 9, PixelsPerPG: 2}
)

var byName = map[string]Format{
	YUV422BE10.Name: YUV422BE10,
	YUV422BE12.Name: YUV422BE12,
	YUV422BE8.Name:  YUV422BE8,
	YUV444BE10.Name: YUV444BE10,
	YUV444BE12.Name: YUV444BE12,
	RGBBE10.Name:    RGBBE10,
	RGBBE12.Name:    RGBBE12,
}

// ParseFormat looks up one of the standard named formats above by its
// Name field, for config files that name a format as a plain string.
func ParseFormat(name string) (Format, error) {
	f, ok := byName[name]
	if !ok {
		return Format{}, fmt.Errorf("pg: unknown format %q", name)
	}
	return f, nil
}

// ErrInvalidDimensions is returned when width/height cannot be evenly
// divided into whole pixel groups for the given format (§4.A
// "Failure semantics").
type ErrInvalidDimensions struct {
	Format string
	Width  int
	Height int
}

func (e *ErrInvalidDimensions) Error() string {
	return fmt.Sprintf("pg: %dx%d is not a whole number of %s pixel groups", e.Width, e.Height, e.Format)
}

// ValidateDimensions checks that width is a whole number of pixel
// groups for f. Height has no PG constraint for the BE formats (each
// row is packed independently), but packed intermediate formats like
// V210 constrain width*height jointly; see v210.go.
func (f Format) ValidateDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return &ErrInvalidDimensions{f.Name, width, height}
	}
	if width%f.PixelsPerPG != 0 {
		return &ErrInvalidDimensions{f.Name, width, height}
	}
	return nil
}

// BytesPerLine returns the minimum packed-line size for width pixels
// of format f (no padding).
func (f Format) BytesPerLine(width int) int {
	return (width / f.PixelsPerPG) * f.BytesPerPG
}
