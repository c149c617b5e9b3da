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

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Padding:        false,
		Extension:      false,
		Marker:         true,
		PayloadType:    98,
		SequenceNumber: 0xbeef,
		Timestamp:      0xdeadbeef,
		SSRC:           0x12345678,
	}
	buf := make([]byte, HeaderSize)
	n, err := h.MarshalTo(buf)
	require.NoError(t, err)
	require.Equal(t, HeaderSize, n)

	var got Header
	require.NoError(t, got.Unmarshal(buf))
	require.Equal(t, h.Marker, got.Marker)
	require.Equal(t, h.PayloadType, got.PayloadType)
	require.Equal(t, h.SequenceNumber, got.SequenceNumber)
	require.Equal(t, h.Timestamp, got.Timestamp)
	require.Equal(t, h.SSRC, got.SSRC)
}

func TestSeqNewer(t *testing.T) {
	tests := []struct {
		a, b uint16
		want bool
	}{
		{1, 0, true},
		{0, 1, false},
		{0, 0xffff, true},
		{0xffff, 0, false},
		{100, 100, false},
		{0x8000, 0, false}, // exactly half the space: not defined as newer
	}
	for _, tt := range tests {
		got := SeqNewer(tt.a, tt.b)
		require.Equal(t, tt.want, got, "SeqNewer(%d,%d)", tt.a, tt.b)
	}
}

func TestTSNewer(t *testing.T) {
	require.True(t, TSNewer(1000, 0))
	require.False(t, TSNewer(0, 1000))
	require.True(t, TSNewer(0, 0xffffffff))
	require.False(t, TSNewer(0xffffffff, 0))
}
