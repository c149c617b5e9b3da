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

import "encoding/binary"

// Y210 stores each 4:2:2 10-bit sample in a 16-bit little-endian word
// with the value left-justified into the top 10 bits (the common
// GPU/media-framework convention), sample order Y0,Cb,Y1,Cr per pair.
func EncodeY210(p *Planar) ([]byte, error) {
	if err := YUV422BE10.ValidateDimensions(p.Width, p.Height); err != nil {
		return nil, err
	}
	out := make([]byte, p.Width*p.Height*2*2)
	o := 0
	for y := 0; y < p.Height; y++ {
		yBase := y * p.Width
		cBase := y * (p.Width / 2)
		for x := 0; x < p.Width; x += 2 {
			binary.LittleEndian.PutUint16(out[o:], p.Ch0[yBase+x]<<6)
			binary.LittleEndian.PutUint16(out[o+2:], p.Ch1[cBase+x/2]<<6)
			binary.LittleEndian.PutUint16(out[o+4:], p.Ch0[yBase+x+1]<<6)
			binary.LittleEndian.PutUint16(out[o+6:], p.Ch2[cBase+x/2]<<6)
			o += 8
		}
	}
	return out, nil
}

// DecodeY210 is the inverse of EncodeY210.
func DecodeY210(data []byte, width, height int) (*Planar, error) {
	if err := YUV422BE10.ValidateDimensions(width, height); err != nil {
		return nil, err
	}
	p := NewPlanar(YUV422BE10, width, height)
	o := 0
	for y := 0; y < height; y++ {
		yBase := y * width
		cBase := y * (width / 2)
		for x := 0; x < width; x += 2 {
			p.Ch0[yBase+x] = binary.LittleEndian.Uint16(data[o:]) >> 6
			p.Ch1[cBase+x/2] = binary.LittleEndian.Uint16(data[o+2:]) >> 6
			p.Ch0[yBase+x+1] = binary.LittleEndian.Uint16(data[o+4:]) >> 6
			p.Ch2[cBase+x/2] = binary.LittleEndian.Uint16(data[o+6:]) >> 6
			o += 8
		}
	}
	return p, nil
}
