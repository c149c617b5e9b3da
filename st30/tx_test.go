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
	"sync"
	"testing"

	"github.com/st2110go/mtl/slotring"
	"github.com/st2110go/mtl/stats"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	tai uint64
}

func (c *fakeClock) PTPTaiNS() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tai
}

func (c *fakeClock) advance(d uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tai += d
}

func TestTXSessionRLPacingSendsAllPacketsThenFreesSlot(t *testing.T) {
	fmtCfg := audioFormat()
	pktSize := fmtCfg.PacketSize()
	ring, err := slotring.New(2, pktSize*2, 1)
	require.NoError(t, err)

	clock := &fakeClock{}
	var sent [][]byte
	tx, err := NewTXSession(TXConfig{Format: fmtCfg, Pacing: PacingRL, PayloadType: 97, SSRC: 1}, ring, clock, &stats.Session{}, func(pkt []byte) error {
		cp := make([]byte, len(pkt))
		copy(cp, pkt)
		sent = append(sent, cp)
		return nil
	})
	require.NoError(t, err)

	idx, err := ring.AcquireReceive()
	require.NoError(t, err)
	slot := ring.Slot(idx)
	for i := range slot.Buffer {
		slot.Buffer[i] = byte(i)
	}
	require.NoError(t, ring.PromoteReady(idx, len(slot.Buffer), slotring.Timestamps{}, 0))

	for i := 0; i < 10 && len(sent) < 2; i++ {
		tx.Tick()
		clock.advance(uint64(fmtCfg.PacketTimeUS) * 1000)
	}

	require.Len(t, sent, 2)
	require.Equal(t, slotring.Free, ring.Slot(idx).Status)
}

func TestTXSessionDoesNothingWithoutReadyFrame(t *testing.T) {
	fmtCfg := audioFormat()
	ring, err := slotring.New(2, fmtCfg.PacketSize(), 1)
	require.NoError(t, err)
	clock := &fakeClock{}
	var sent [][]byte
	tx, err := NewTXSession(TXConfig{Format: fmtCfg, Pacing: PacingRL}, ring, clock, &stats.Session{}, func(pkt []byte) error {
		sent = append(sent, pkt)
		return nil
	})
	require.NoError(t, err)

	tx.Tick()
	require.Empty(t, sent)
}
