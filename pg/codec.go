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

// Planar is a little-endian planar image: three channel planes, each
// one sample (widened to uint16) per pixel. For 4:2:2 sampling Ch1
// and Ch2 (chroma) hold width/2 samples per line; for 4:4:4/RGB all
// three channels hold width samples per line.
type Planar struct {
	Width, Height int
	Ch0, Ch1, Ch2 []uint16 // Y/Cb/Cr, or R/G/B for RGB formats
}

// NewPlanar allocates a Planar image sized for f at width x height.
func NewPlanar(f Format, width, height int) *Planar {
	p := &Planar{Width: width, Height: height}
	p.Ch0 = make([]uint16, width*height)
	chromaW := width
	if f.Sampling == Sampling422 {
		chromaW = width / 2
	}
	p.Ch1 = make([]uint16, chromaW*height)
	p.Ch2 = make([]uint16, chromaW*height)
	return p
}

// Decode converts a packed RFC 4175 image (§4.A) into planar form.
// linesize is the packed-bytes stride per row; 0 means "no padding",
// i.e. linesize = f.BytesPerLine(width).
func Decode(f Format, packed []byte, width, height, linesize int) (*Planar, error) {
	if err := f.ValidateDimensions(width, height); err != nil {
		return nil, err
	}
	lineBytes := f.BytesPerLine(width)
	if linesize <= 0 {
		linesize = lineBytes
	}
	if len(packed) < linesize*(height-1)+lineBytes {
		return nil, &ErrInvalidDimensions{f.Name, width, height}
	}

	out := NewPlanar(f, width, height)
	pgsPerLine := width / f.PixelsPerPG
	samplesPerLine := pgsPerLine * f.SamplesPerPG()

	for y := 0; y < height; y++ {
		row := packed[y*linesize : y*linesize+lineBytes]
		samples := UnpackBE(row, f.Depth, samplesPerLine)
		switch f.Sampling {
		case Sampling422:
			decode422Row(out, samples, y, width)
		default:
			decode444Row(out, samples, y, width)
		}
	}
	return out, nil
}

// decode422Row scatters a flat Cb,Y0,Cr,Y1,... sample row into planar
// Y (full width) and Cb/Cr (half width) planes.
func decode422Row(out *Planar, samples []uint16, y, width int) {
	yBase := y * width
	cBase := y * (width / 2)
	si := 0
	for x := 0; x < width; x += 2 {
		cb := samples[si]
		y0 := samples[si+1]
		cr := samples[si+2]
		y1 := samples[si+3]
		si += 4
		out.Ch0[yBase+x] = y0
		out.Ch0[yBase+x+1] = y1
		out.Ch1[cBase+x/2] = cb
		out.Ch2[cBase+x/2] = cr
	}
}

// decode444Row scatters a flat Ch0,Ch1,Ch2 per-pixel sample row.
func decode444Row(out *Planar, samples []uint16, y, width int) {
	base := y * width
	si := 0
	for x := 0; x < width; x++ {
		out.Ch0[base+x] = samples[si]
		out.Ch1[base+x] = samples[si+1]
		out.Ch2[base+x] = samples[si+2]
		si += 3
	}
}

// Encode converts planar form back into a packed RFC 4175 image
// (inverse of Decode). linesize semantics match Decode.
func Encode(f Format, p *Planar, linesize int) ([]byte, error) {
	if err := f.ValidateDimensions(p.Width, p.Height); err != nil {
		return nil, err
	}
	lineBytes := f.BytesPerLine(p.Width)
	if linesize <= 0 {
		linesize = lineBytes
	}
	out := make([]byte, linesize*(p.Height-1)+lineBytes)
	pgsPerLine := p.Width / f.PixelsPerPG
	samplesPerLine := pgsPerLine * f.SamplesPerPG()
	samples := make([]uint16, samplesPerLine)

	for y := 0; y < p.Height; y++ {
		switch f.Sampling {
		case Sampling422:
			encode422Row(p, samples, y, p.Width)
		default:
			encode444Row(p, samples, y, p.Width)
		}
		PackBE(samples, f.Depth, out[y*linesize:y*linesize+lineBytes])
	}
	return out, nil
}

func encode422Row(p *Planar, samples []uint16, y, width int) {
	yBase := y * width
	cBase := y * (width / 2)
	si := 0
	for x := 0; x < width; x += 2 {
		samples[si] = p.Ch1[cBase+x/2]
		samples[si+1] = p.Ch0[yBase+x]
		samples[si+2] = p.Ch2[cBase+x/2]
		samples[si+3] = p.Ch0[yBase+x+1]
		si += 4
	}
}

func encode444Row(p *Planar, samples []uint16, y, width int) {
	base := y * width
	si := 0
	for x := 0; x < width; x++ {
		samples[si] = p.Ch0[base+x]
		samples[si+1] = p.Ch1[base+x]
		samples[si+2] = p.Ch2[base+x]
		si += 3
	}
}
