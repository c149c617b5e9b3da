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

// Package rtp implements the bit-exact wire structures of RFC 3550
// (base RTP header) and its SMPTE ST 2110 extensions: RFC 4175
// (uncompressed video, ST 2110-20), RFC 9134 (ST 2110-22 compressed
// video), RFC 8331 (ST 2110-40 ancillary data) and the ST 2110-41
// fast-metadata chunk header (§6).
//
// All marshal/unmarshal functions operate directly on byte slices at
// fixed offsets, matching the wire-struct idiom used throughout
// facebook-time's ptp/protocol package: no reflection and no
// struct-level binary.Read/Write; each big-endian field is read and
// written at its offset, by hand or with encoding/binary's BigEndian
// helpers.
package rtp

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed RFC 3550 base header length in bytes.
const HeaderSize = 12

// Version is the only RTP version this package understands.
const Version = 2

// Header is the RFC 3550 base RTP header (no CSRC list, no extension
// header — ST 2110 does not use either).
type Header struct {
	Version        uint8
	Padding        bool
	Extension      bool
	Marker         bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
}

// Unmarshal decodes the first HeaderSize bytes of b into h.
func (h *Header) Unmarshal(b []byte) error {
	if len(b) < HeaderSize {
		return fmt.Errorf("rtp: short header: %d bytes", len(b))
	}
	h.Version = b[0] >> 6
	h.Padding = b[0]&0x20 != 0
	h.Extension = b[0]&0x10 != 0
	// CC (low 4 bits of b[0]) is always 0 for ST 2110; not stored.
	h.Marker = b[1]&0x80 != 0
	h.PayloadType = b[1] & 0x7f
	h.SequenceNumber = binary.BigEndian.Uint16(b[2:4])
	h.Timestamp = binary.BigEndian.Uint32(b[4:8])
	h.SSRC = binary.BigEndian.Uint32(b[8:12])
	return nil
}

// MarshalTo encodes h into the first HeaderSize bytes of b, returning
// the number of bytes written.
func (h *Header) MarshalTo(b []byte) (int, error) {
	if len(b) < HeaderSize {
		return 0, fmt.Errorf("rtp: short buffer: %d bytes", len(b))
	}
	b[0] = Version << 6
	if h.Padding {
		b[0] |= 0x20
	}
	if h.Extension {
		b[0] |= 0x10
	}
	b[1] = h.PayloadType & 0x7f
	if h.Marker {
		b[1] |= 0x80
	}
	binary.BigEndian.PutUint16(b[2:4], h.SequenceNumber)
	binary.BigEndian.PutUint32(b[4:8], h.Timestamp)
	binary.BigEndian.PutUint32(b[8:12], h.SSRC)
	return HeaderSize, nil
}

// SeqNewer reports whether a is strictly newer than b under 16-bit
// modular (wraparound) arithmetic, per the "distance < 2^15 means
// newer" convention used throughout §4.B and §4.D.
func SeqNewer(a, b uint16) bool {
	d := a - b
	return d != 0 && d < 0x8000
}

// SeqDistance returns the signed forward distance from b to a under
// 16-bit wraparound, i.e. how many sequence numbers newer a is than
// b (negative if a is older).
func SeqDistance(a, b uint16) int32 {
	d := int32(int16(a - b))
	return d
}

// TSNewer reports whether a is strictly newer than b under 32-bit
// modular arithmetic, the same half-space convention as SeqNewer.
func TSNewer(a, b uint32) bool {
	d := a - b
	return d != 0 && d < 0x80000000
}
