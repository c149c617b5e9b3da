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

package stats

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestAggregateMinMaxAvg(t *testing.T) {
	var a Aggregate
	for _, v := range []int64{5, 1, 9, 3} {
		a.Observe(v)
	}
	snap := a.Snapshot()
	require.EqualValues(t, 4, snap.Count)
	require.EqualValues(t, 1, snap.Min)
	require.EqualValues(t, 9, snap.Max)
	require.InDelta(t, 4.5, snap.Avg, 0.001)
}

func TestAggregateResetClearsAllFields(t *testing.T) {
	var a Aggregate
	a.Observe(10)
	a.Reset()
	snap := a.Snapshot()
	require.Zero(t, snap.Count)
	require.Zero(t, snap.Min)
	require.Zero(t, snap.Max)
	require.Zero(t, snap.Avg)
}

func TestSessionCountersAndSnapshot(t *testing.T) {
	var s Session
	s.IncFramesDelivered(1500)
	s.IncFramesDelivered(1500)
	s.IncFramesDropped()
	s.IncPortPacket(0)
	s.IncPortPacket(1)
	s.IncPortPacket(1)
	s.IncRedundantDrop()
	s.IncEpochLate()
	s.IncUserBusy()
	s.IncDMAFallback()
	s.IncRetransmitOK()

	snap := s.Snapshot()
	require.EqualValues(t, 2, snap.FramesDelivered)
	require.EqualValues(t, 1, snap.FramesDropped)
	require.EqualValues(t, 3000, snap.Bytes)
	require.Equal(t, [2]int64{1, 2}, snap.PortPackets)
	require.EqualValues(t, 1, snap.RedundantDrops)
	require.EqualValues(t, 1, snap.EpochLate)
	require.EqualValues(t, 1, snap.UserBusy)
	require.EqualValues(t, 1, snap.DMAFallback)
	require.EqualValues(t, 1, snap.RetransmitOK)
}

func TestSessionResetZeroesCounters(t *testing.T) {
	var s Session
	s.IncFramesDelivered(100)
	s.VRX.Observe(5)
	s.Reset()
	snap := s.Snapshot()
	require.Zero(t, snap.FramesDelivered)
	require.Zero(t, snap.Bytes)
	require.Zero(t, snap.VRX.Count)
}

func TestIncPortPacketIgnoresOutOfRangePort(t *testing.T) {
	var s Session
	s.IncPortPacket(5)
	snap := s.Snapshot()
	require.Equal(t, [2]int64{0, 0}, snap.PortPackets)
}

func TestCollectorExportsPrometheusMetrics(t *testing.T) {
	var s Session
	s.IncFramesDelivered(42)
	s.IncFramesDropped()

	c := NewCollector("video0", &s)
	count := testutil.CollectAndCount(c)
	require.Equal(t, 6, count)
}
