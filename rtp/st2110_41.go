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

package rtp

import (
	"encoding/binary"
	"fmt"
)

// FastMetadataChunkSize is the size in bytes of the ST 2110-41 chunk
// header that follows the RTP base header.
const FastMetadataChunkSize = 4

// FastMetadataChunk is the ST 2110-41 RTP-level chunk header: a
// configurable 22-bit Data Item Type, a 1-bit K-bit (fragmentation
// marker) and a 9-bit length field counted in 32-bit words (§6).
type FastMetadataChunk struct {
	DataItemType uint32 // 22 bits
	KBit         bool
	LengthWords  uint16 // 9 bits, payload length in 32-bit words
}

// UnmarshalFastMetadataChunk decodes the 4-byte chunk header from b.
func UnmarshalFastMetadataChunk(b []byte) (FastMetadataChunk, error) {
	if len(b) < FastMetadataChunkSize {
		return FastMetadataChunk{}, fmt.Errorf("rtp: short ST2110-41 chunk: %d bytes", len(b))
	}
	word := binary.BigEndian.Uint32(b[0:4])
	c := FastMetadataChunk{}
	c.DataItemType = (word >> 10) & 0x3fffff
	c.KBit = word&0x200 != 0
	c.LengthWords = uint16(word & 0x1ff)
	return c, nil
}

// MarshalTo encodes c into b[0:FastMetadataChunkSize].
func (c FastMetadataChunk) MarshalTo(b []byte) (int, error) {
	if len(b) < FastMetadataChunkSize {
		return 0, fmt.Errorf("rtp: short buffer for ST2110-41 chunk")
	}
	word := (c.DataItemType & 0x3fffff) << 10
	if c.KBit {
		word |= 0x200
	}
	word |= uint32(c.LengthWords) & 0x1ff
	binary.BigEndian.PutUint32(b[0:4], word)
	return FastMetadataChunkSize, nil
}
