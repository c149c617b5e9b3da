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

package st41

import (
	"testing"

	"github.com/st2110go/mtl/rtp"
	"github.com/st2110go/mtl/slotring"
	"github.com/st2110go/mtl/stats"
	"github.com/stretchr/testify/require"
)

func buildMetadataPacket(t *testing.T, seq uint16, tmstamp uint32, itemType uint32, metadata []byte) []byte {
	t.Helper()
	lengthWords := uint16((len(metadata) + 3) / 4)
	chunk := rtp.FastMetadataChunk{DataItemType: itemType, KBit: false, LengthWords: lengthWords}

	rtpHdr := rtp.Header{Version: 2, Marker: true, PayloadType: 111, SequenceNumber: seq, Timestamp: tmstamp, SSRC: 3}
	body := make([]byte, int(lengthWords)*4)
	copy(body, metadata)

	b := make([]byte, rtp.HeaderSize+rtp.FastMetadataChunkSize+len(body))
	n, err := rtpHdr.MarshalTo(b)
	require.NoError(t, err)
	m, err := chunk.MarshalTo(b[n:])
	require.NoError(t, err)
	copy(b[n+m:], body)
	return b
}

func TestRXSessionPromotesAcceptedMetadataChunk(t *testing.T) {
	ring, err := slotring.New(2, 64, 1)
	require.NoError(t, err)
	st := &stats.Session{}
	s, err := NewRXSession(RXConfig{MaxPacketBytes: 64, PortCount: 1}, ring, st)
	require.NoError(t, err)

	pkt := buildMetadataPacket(t, 0, 500, 0x1234, []byte("hello-metadata"))
	s.HandlePacket(0, pkt)

	snap := st.Snapshot()
	require.EqualValues(t, 1, snap.FramesDelivered)
	require.Equal(t, slotring.Ready, ring.Slot(0).Status)

	got, err := rtp.UnmarshalFastMetadataChunk(ring.Slot(0).Buffer)
	require.NoError(t, err)
	require.EqualValues(t, 0x1234, got.DataItemType)
}

func TestRXSessionDropsOversizeMetadataChunk(t *testing.T) {
	ring, err := slotring.New(2, 8, 1)
	require.NoError(t, err)
	st := &stats.Session{}
	s, err := NewRXSession(RXConfig{MaxPacketBytes: 8, PortCount: 1}, ring, st)
	require.NoError(t, err)

	pkt := buildMetadataPacket(t, 0, 500, 1, make([]byte, 32))
	s.HandlePacket(0, pkt)

	snap := st.Snapshot()
	require.EqualValues(t, 1, snap.FramesDropped)
	require.Equal(t, slotring.Free, ring.Slot(0).Status)
}

func TestRXSessionDedupDropsDuplicateSequence(t *testing.T) {
	ring, err := slotring.New(2, 64, 1)
	require.NoError(t, err)
	st := &stats.Session{}
	s, err := NewRXSession(RXConfig{MaxPacketBytes: 64, PortCount: 1}, ring, st)
	require.NoError(t, err)

	first := buildMetadataPacket(t, 9, 500, 1, []byte("a"))
	dup := buildMetadataPacket(t, 9, 500, 1, []byte("a"))
	s.HandlePacket(0, first)
	s.HandlePacket(0, dup)

	snap := st.Snapshot()
	require.EqualValues(t, 1, snap.RedundantDrops)
}
