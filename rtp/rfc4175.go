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

// ExtSeqSize is the size in bytes of the RFC 4175 extended sequence
// number field that immediately follows the base RTP header.
const ExtSeqSize = 2

// SRDSize is the size in bytes of one Sample Row Data header.
const SRDSize = 6

// SRD is one Sample Row Data header of an RFC 4175 video packet
// (§6): row_length (top bit reserved for the retransmit marker added
// by ST 2110-21 RTX), row_number (top bit is the interlaced
// second-field flag), row_offset (top bit is the continuation flag
// for a row split across SRDs).
type SRD struct {
	Length       uint16 // payload bytes for this row, retransmit bit excluded
	Retransmit   bool
	RowNumber    uint16 // excludes the field bit
	FieldTwo     bool
	RowOffset    uint16 // excludes the continuation bit, in pixels
	Continuation bool
}

const (
	srdRetransmitBit = 0x8000
	srdFieldBit      = 0x8000
	srdContinueBit   = 0x8000
)

// UnmarshalSRD decodes one SRD header from b[0:SRDSize].
func UnmarshalSRD(b []byte) (SRD, error) {
	if len(b) < SRDSize {
		return SRD{}, fmt.Errorf("rtp: short SRD: %d bytes", len(b))
	}
	lengthField := binary.BigEndian.Uint16(b[0:2])
	rowField := binary.BigEndian.Uint16(b[2:4])
	offField := binary.BigEndian.Uint16(b[4:6])
	return SRD{
		Length:       lengthField &^ srdRetransmitBit,
		Retransmit:   lengthField&srdRetransmitBit != 0,
		RowNumber:    rowField &^ srdFieldBit,
		FieldTwo:     rowField&srdFieldBit != 0,
		RowOffset:    offField &^ srdContinueBit,
		Continuation: offField&srdContinueBit != 0,
	}, nil
}

// MarshalTo encodes s into b[0:SRDSize].
func (s SRD) MarshalTo(b []byte) (int, error) {
	if len(b) < SRDSize {
		return 0, fmt.Errorf("rtp: short buffer for SRD: %d bytes", len(b))
	}
	lengthField := s.Length
	if s.Retransmit {
		lengthField |= srdRetransmitBit
	}
	rowField := s.RowNumber
	if s.FieldTwo {
		rowField |= srdFieldBit
	}
	offField := s.RowOffset
	if s.Continuation {
		offField |= srdContinueBit
	}
	binary.BigEndian.PutUint16(b[0:2], lengthField)
	binary.BigEndian.PutUint16(b[2:4], rowField)
	binary.BigEndian.PutUint16(b[4:6], offField)
	return SRDSize, nil
}

// VideoPacket is a parsed RFC 4175 video RTP packet: base header,
// extended sequence number, one or more SRDs, and the payload bytes
// concatenated in SRD order.
type VideoPacket struct {
	Header    Header
	ExtSeq    uint16
	SRDs      []SRD
	Payload   []byte // concatenated row payloads, in SRD order
}

// FullSequence combines the base 16-bit sequence number with the
// RFC 4175 extended sequence number into the 32-bit monotonically
// increasing packet index used for duplicate/ordering detection
// (§4.D "Offset calculation").
func (p *VideoPacket) FullSequence() uint32 {
	return uint32(p.ExtSeq)<<16 | uint32(p.Header.SequenceNumber)
}

// UnmarshalVideoPacket parses a full RFC 4175 packet out of b. It does
// not copy payload bytes; Payload aliases b.
func UnmarshalVideoPacket(b []byte) (*VideoPacket, error) {
	if len(b) < HeaderSize+ExtSeqSize+SRDSize {
		return nil, fmt.Errorf("rtp: packet too short for RFC4175: %d bytes", len(b))
	}
	p := &VideoPacket{}
	if err := p.Header.Unmarshal(b); err != nil {
		return nil, err
	}
	off := HeaderSize
	p.ExtSeq = binary.BigEndian.Uint16(b[off : off+ExtSeqSize])
	off += ExtSeqSize

	// Continuation-bit chain: keep reading SRD headers while the
	// previous one set the continuation flag, or until the first SRD
	// (there is always at least one).
	var srds []SRD
	for {
		if off+SRDSize > len(b) {
			return nil, fmt.Errorf("rtp: SRD header overrun at offset %d", off)
		}
		s, err := UnmarshalSRD(b[off : off+SRDSize])
		if err != nil {
			return nil, err
		}
		srds = append(srds, s)
		off += SRDSize
		if !s.Continuation {
			break
		}
	}
	p.SRDs = srds

	want := 0
	for _, s := range srds {
		want += int(s.Length)
	}
	if off+want > len(b) {
		return nil, fmt.Errorf("rtp: payload overrun: need %d bytes, have %d", want, len(b)-off)
	}
	p.Payload = b[off : off+want]
	return p, nil
}

// MarshalTo encodes p into b, which must be at least
// HeaderSize+ExtSeqSize+SRDSize*len(p.SRDs)+len(p.Payload) bytes.
func (p *VideoPacket) MarshalTo(b []byte) (int, error) {
	n, err := p.Header.MarshalTo(b)
	if err != nil {
		return 0, err
	}
	if len(b) < n+ExtSeqSize {
		return 0, fmt.Errorf("rtp: short buffer for ext seq")
	}
	binary.BigEndian.PutUint16(b[n:n+ExtSeqSize], p.ExtSeq)
	n += ExtSeqSize
	for _, s := range p.SRDs {
		wn, err := s.MarshalTo(b[n:])
		if err != nil {
			return 0, err
		}
		n += wn
	}
	if len(b) < n+len(p.Payload) {
		return 0, fmt.Errorf("rtp: short buffer for payload")
	}
	n += copy(b[n:], p.Payload)
	return n, nil
}
