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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestANCHeaderRoundTrip(t *testing.T) {
	h := ANCHeader{ExtSeq: 0x1234, ANCCount: 3, Field: 2}
	buf := make([]byte, ANCExtHeaderSize)
	n, err := h.MarshalTo(buf)
	require.NoError(t, err)
	require.Equal(t, ANCExtHeaderSize, n)

	got, err := UnmarshalANCHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestANCPacketRoundTrip(t *testing.T) {
	p := ANCPacket{
		CHannel:       1,
		LineNumber:    9,
		HorizOffset:   1920,
		StreamNum:     0,
		DID:           0x161,
		SDID:          0x101,
		UserDataWords: []uint16{0x100, 0x101, 0x102, 0x1ff},
		Checksum:      0x0ab,
	}
	buf := make([]byte, 32)
	n, err := p.MarshalTo(buf)
	require.NoError(t, err)
	require.True(t, n%4 == 0)

	got, consumed, err := UnmarshalANCPacket(buf)
	require.NoError(t, err)
	require.Equal(t, n, consumed)
	require.Equal(t, p.LineNumber, got.LineNumber)
	require.Equal(t, p.HorizOffset, got.HorizOffset)
	require.Equal(t, p.DID, got.DID)
	require.Equal(t, p.SDID, got.SDID)
	require.Equal(t, p.UserDataWords, got.UserDataWords)
	require.Equal(t, p.Checksum, got.Checksum)
}

func TestFastMetadataChunkRoundTrip(t *testing.T) {
	c := FastMetadataChunk{DataItemType: 0x3fffff, KBit: true, LengthWords: 0x1ff}
	buf := make([]byte, FastMetadataChunkSize)
	_, err := c.MarshalTo(buf)
	require.NoError(t, err)

	got, err := UnmarshalFastMetadataChunk(buf)
	require.NoError(t, err)
	require.Equal(t, c, got)
}
