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

// ST2110_22HeaderSize is the size in bytes of the RFC 9134 payload
// header that follows the RTP base header for compressed video
// (ST 2110-22, e.g. JPEG-XS via a plug-in codec, §4.H).
const ST2110_22HeaderSize = 4

// ST2110_22Header is the RFC 9134 bit-packed header: fragment counter
// (F), sample extension present/count (SEP), packetization mode (P),
// interlace (I) flag and K-mode, per the wire layout in §6. Field
// widths mirror the RFC exactly: 3 bits F, 3 bits SEP, 1 bit P,
// 1 bit Interlaced, 1 bit FieldID, 1 bit TransmissionMode, 5 bits
// reserved SRD id, 16 bits SRD offset.
type ST2110_22Header struct {
	FragmentCounter uint8 // 3 bits
	SEP             uint8 // 3 bits, sample extension present count
	LastFragment    bool
	Interlaced      bool
	FieldID         bool
	KMode           bool
	SRDID           uint8  // 5 bits
	SRDOffset       uint16 // in 8-octet units
}

// UnmarshalST2110_22Header decodes the 4-byte RFC 9134 header from b.
func UnmarshalST2110_22Header(b []byte) (ST2110_22Header, error) {
	if len(b) < ST2110_22HeaderSize {
		return ST2110_22Header{}, fmt.Errorf("rtp: short ST2110-22 header: %d bytes", len(b))
	}
	h := ST2110_22Header{}
	h.FragmentCounter = (b[0] >> 5) & 0x7
	h.SEP = (b[0] >> 2) & 0x7
	h.LastFragment = b[0]&0x02 != 0
	h.Interlaced = b[0]&0x01 != 0
	h.FieldID = b[1]&0x80 != 0
	h.KMode = b[1]&0x40 != 0
	h.SRDID = b[1] & 0x1f
	h.SRDOffset = binary.BigEndian.Uint16(b[2:4])
	return h, nil
}

// MarshalTo encodes h into b[0:ST2110_22HeaderSize].
func (h ST2110_22Header) MarshalTo(b []byte) (int, error) {
	if len(b) < ST2110_22HeaderSize {
		return 0, fmt.Errorf("rtp: short buffer for ST2110-22 header")
	}
	b[0] = (h.FragmentCounter&0x7)<<5 | (h.SEP&0x7)<<2
	if h.LastFragment {
		b[0] |= 0x02
	}
	if h.Interlaced {
		b[0] |= 0x01
	}
	b[1] = h.SRDID & 0x1f
	if h.FieldID {
		b[1] |= 0x80
	}
	if h.KMode {
		b[1] |= 0x40
	}
	binary.BigEndian.PutUint16(b[2:4], h.SRDOffset)
	return ST2110_22HeaderSize, nil
}
