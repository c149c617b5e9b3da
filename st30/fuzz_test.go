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

package st30

import (
	"testing"

	"github.com/st2110go/mtl/rtp"
	"github.com/st2110go/mtl/slotring"
	"github.com/st2110go/mtl/stats"
)

func seedAudioPacket(seq uint16, tmstamp uint32, body []byte) []byte {
	hdr := rtp.Header{PayloadType: 97, SequenceNumber: seq, Timestamp: tmstamp, SSRC: 1}
	b := make([]byte, rtp.HeaderSize+len(body))
	if _, err := hdr.MarshalTo(b); err != nil {
		panic(err)
	}
	copy(b[rtp.HeaderSize:], body)
	return b
}

// FuzzRXIngest feeds arbitrary bytes to HandlePacket and asserts only
// that it never panics: a truncated header or a body size that does
// not divide evenly into the configured packet size must be an
// ordinary drop, never a crash.
func FuzzRXIngest(f *testing.F) {
	fmtCfg := audioFormat()
	pktSize := fmtCfg.PacketSize()
	cfg := RXConfig{Format: fmtCfg, FrameBufferSize: pktSize * 3, PortCount: 1}

	f.Add(seedAudioPacket(0, 1000, make([]byte, pktSize)))
	f.Add([]byte{})
	f.Add(make([]byte, rtp.HeaderSize))
	f.Add(seedAudioPacket(0, 1000, make([]byte, pktSize/2))) // short body

	f.Fuzz(func(t *testing.T, data []byte) {
		ring, err := slotring.New(2, cfg.FrameBufferSize, 1)
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
