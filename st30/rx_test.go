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
	"github.com/stretchr/testify/require"
)

func audioFormat() Format {
	return Format{Channels: 2, SampleSize: 3, SamplingRate: 48000, PacketTimeUS: 1000}
}

func buildAudioPacket(t *testing.T, seq uint16, tmstamp uint32, body []byte) []byte {
	t.Helper()
	hdr := rtp.Header{PayloadType: 97, SequenceNumber: seq, Timestamp: tmstamp, SSRC: 1}
	b := make([]byte, rtp.HeaderSize+len(body))
	_, err := hdr.MarshalTo(b)
	require.NoError(t, err)
	copy(b[rtp.HeaderSize:], body)
	return b
}

func TestRXSessionAssemblesFrameFromInOrderPackets(t *testing.T) {
	fmtCfg := audioFormat()
	pktSize := fmtCfg.PacketSize() // 48 samples * 2ch * 3 bytes = 288
	cfg := RXConfig{Format: fmtCfg, FrameBufferSize: pktSize * 3, PortCount: 1}

	ring, err := slotring.New(2, cfg.FrameBufferSize, 1)
	require.NoError(t, err)
	st := &stats.Session{}
	s, err := NewRXSession(cfg, ring, st)
	require.NoError(t, err)

	body := make([]byte, pktSize)
	for i := range body {
		body[i] = byte(i + 1)
	}
	s.HandlePacket(0, buildAudioPacket(t, 0, 1000, body))
	s.HandlePacket(0, buildAudioPacket(t, 1, 1048, body))
	s.HandlePacket(0, buildAudioPacket(t, 2, 1096, body))

	snap := st.Snapshot()
	require.EqualValues(t, 1, snap.FramesDelivered)

	slot := ring.Slot(0)
	require.Equal(t, slotring.Ready, slot.Status)
	require.Equal(t, body, slot.Buffer[0:pktSize])
	require.Equal(t, body, slot.Buffer[pktSize:2*pktSize])
}

func TestRXSessionDropsShortPacket(t *testing.T) {
	fmtCfg := audioFormat()
	pktSize := fmtCfg.PacketSize()
	cfg := RXConfig{Format: fmtCfg, FrameBufferSize: pktSize, PortCount: 1}
	ring, err := slotring.New(2, cfg.FrameBufferSize, 1)
	require.NoError(t, err)
	st := &stats.Session{}
	s, err := NewRXSession(cfg, ring, st)
	require.NoError(t, err)

	s.HandlePacket(0, buildAudioPacket(t, 0, 1000, []byte{1, 2, 3}))
	require.False(t, s.haveActive)
}

func TestRXSessionDedupDropsRedundantPort(t *testing.T) {
	fmtCfg := audioFormat()
	pktSize := fmtCfg.PacketSize()
	cfg := RXConfig{Format: fmtCfg, FrameBufferSize: pktSize, PortCount: 2}
	ring, err := slotring.New(2, cfg.FrameBufferSize, 2)
	require.NoError(t, err)
	st := &stats.Session{}
	s, err := NewRXSession(cfg, ring, st)
	require.NoError(t, err)

	body := make([]byte, pktSize)
	s.HandlePacket(0, buildAudioPacket(t, 0, 1000, body))
	s.HandlePacket(1, buildAudioPacket(t, 0, 900, body)) // older timestamp on redundant port

	snap := st.Snapshot()
	require.EqualValues(t, 1, snap.RedundantDrops)
}
