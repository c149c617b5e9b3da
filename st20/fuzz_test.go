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
	"testing"

	"github.com/st2110go/mtl/rtp"
	"github.com/st2110go/mtl/slotring"
	"github.com/st2110go/mtl/stats"
)

func seedVideoPacket(seq uint16, tmstamp uint32, marker bool, rowNumber, rowOffset uint16, payload []byte) []byte {
	hdr := rtp.Header{Version: 2, Marker: marker, PayloadType: 96, SequenceNumber: seq, Timestamp: tmstamp, SSRC: 1}
	b := make([]byte, rtp.HeaderSize+rtp.ExtSeqSize+rtp.SRDSize+len(payload))
	n, err := hdr.MarshalTo(b)
	if err != nil {
		panic(err)
	}
	n += rtp.ExtSeqSize
	srd := rtp.SRD{Length: uint16(len(payload)), RowNumber: rowNumber, RowOffset: rowOffset}
	m, err := srd.MarshalTo(b[n:])
	if err != nil {
		panic(err)
	}
	n += m
	copy(b[n:], payload)
	return b
}

// FuzzRXIngest feeds arbitrary bytes to HandlePacket and asserts only
// that it never panics: malformed RTP/SRD headers, truncated payloads,
// and garbage row geometry must all be rejected as ordinary drops.
func FuzzRXIngest(f *testing.F) {
	cfg := testConfig(4, 2)
	lineBytes := cfg.Format.BytesPerLine(cfg.Width)

	f.Add(seedVideoPacket(0, 1000, false, 0, 0, make([]byte, lineBytes)))
	f.Add(seedVideoPacket(1, 1000, true, 1, 0, make([]byte, lineBytes)))
	f.Add([]byte{})
	f.Add([]byte{0x80})
	f.Add(make([]byte, 12)) // bare RTP header, no SRD

	f.Fuzz(func(t *testing.T, data []byte) {
		ring, err := slotring.New(2, lineBytes*cfg.Height, 1)
		if err != nil {
			t.Fatal(err)
		}
		s, err := NewRXSession(cfg, ring, &stats.Session{})
		if err != nil {
			t.Fatal(err)
		}
		s.HandlePacket(0, data)
	})
}
