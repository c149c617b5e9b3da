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

// Package transport defines the external collaborator contracts of
// §4.H (packet I/O, tasklet scheduling, PTP time, DMA submission,
// plug-in codecs) and a plain UDP-socket implementation of PacketIO
// suitable for a user-space deployment without a kernel-bypass NIC
// driver.
package transport

import "context"

// FlowSpec identifies one RX flow to bind a queue to (§4.H
// "rxq_bind").
type FlowSpec struct {
	DstIP   string
	DstPort int
	SSRC    uint32
}

// PacketIO is the packet transmit/receive collaborator (§4.H). It
// owns no session state; a session only calls Send/Recv on a bound
// queue.
type PacketIO interface {
	// Send transmits one or more packets on port, returning the
	// number accepted by the NIC before any failure.
	Send(port int, pkts [][]byte) (int, error)
	// Recv returns whatever packets are immediately available on
	// port's bound queue; it never blocks.
	Recv(port int) ([][]byte, error)
	// RxqBind binds a hardware/software receive queue matching flow
	// and returns an opaque queue id for later Recv calls.
	RxqBind(port int, flow FlowSpec) (queueID int, err error)
}

// Scheduler is the cooperative tasklet registry (§4.H, §5
// "Scheduling model"): each session registers a tick function and a
// desired lcore; the scheduler guarantees single-threaded entry per
// lcore per tick.
type Scheduler interface {
	// Register arranges for tick to be invoked repeatedly on lcore
	// until the returned cancel function is called or ctx is done.
	// tick must not block.
	Register(ctx context.Context, lcore int, tick func()) (cancel func())
}

// Clock is the external PTP time source (§4.H): observed, never set,
// callable from any context.
type Clock interface {
	PTPTaiNS() uint64
}

// DMAEngine is the best-effort copy-offload collaborator (§4.H),
// mirrored here for transport-level callers; pg.DMAEngine is the
// identical shape used by the codec kernels.
type DMAEngine interface {
	Copy(dstIOVA, srcIOVA uintptr, length int) error
	Submit() error
	Poll() (completions int, err error)
}

// DeviceKind selects the plug-in codec's execution device (§4.H
// "Plug-in codec").
type DeviceKind int

const (
	DeviceCPU DeviceKind = iota
	DeviceGPU
	DeviceFPGA
)

// Codec is the plug-in encode/decode collaborator for ST 2110-22
// compressed video and similar codestream formats (§4.H).
type Codec interface {
	Kind() DeviceKind
	Encode(frame []byte) (codestream []byte, err error)
	Decode(codestream []byte) (frame []byte, err error)
}
