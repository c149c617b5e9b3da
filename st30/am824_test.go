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

	"github.com/stretchr/testify/require"
)

func TestAM824RoundTrip(t *testing.T) {
	sf := Subframe{Preamble: PreambleB, Valid: true, User: false, Channel: true, Parity: true, Sample: 0xABCDEF}
	enc := EncodeAM824(sf)
	dec := DecodeAM824(enc)
	require.Equal(t, sf, dec)
}

func TestAM824PreambleOccupiesHighNibble(t *testing.T) {
	sf := Subframe{Preamble: PreambleW, Sample: 0}
	enc := EncodeAM824(sf)
	require.Equal(t, byte(PreambleW<<4), enc[0])
}

func TestPackUnpackFrameRoundTrip(t *testing.T) {
	frame := [][]Subframe{
		{{Preamble: PreambleB, Sample: 1}, {Preamble: PreambleW, Sample: 2}},
		{{Preamble: PreambleM, Sample: 3}, {Preamble: PreambleW, Sample: 4}},
	}
	payload := PackFrame(frame)
	require.Len(t, payload, 2*2*4)

	got := UnpackFrame(payload, 2, 2)
	require.Equal(t, frame, got)
}

func TestUnpackFrameTruncatesOnShortPayload(t *testing.T) {
	payload := make([]byte, 4) // only one subframe worth of bytes
	got := UnpackFrame(payload, 2, 2)
	require.Len(t, got, 0)
}
