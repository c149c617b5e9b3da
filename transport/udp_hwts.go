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

//go:build linux

package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/st2110go/mtl/dscp"
	"golang.org/x/sys/unix"
)

// hwRecvBufBytes bounds one RTP datagram read through the hardware
// timestamping path; ST 2110 payloads run to the path MTU rather than
// a PTP-sized message.
const hwRecvBufBytes = 9000

// rxControlBufBytes sizes the ancillary buffer SO_TIMESTAMPING control
// messages land in; one SCM_TIMESTAMPING message comfortably fits.
const rxControlBufBytes = 128

var cmsgHeaderSize = binary.Size(unix.Cmsghdr{})

var errNoRXTimestamp = errors.New("transport: no rx timestamp in control message")

// HWTimestampPacketIO is a PacketIO backed by a single NIC-timestamped
// UDP socket (§4.H "Packet tx/rx"). Every received packet's kernel- or
// hardware-reported RX timestamp updates lastRXNano, which
// HWTimestampClock reads to serve as this port's PTPTaiNS source
// without running a PTP client of its own: PHC/PTP synchronisation of
// a local clock stays out of scope, this only observes the NIC's own
// timestamp of a frame it already received.
type HWTimestampPacketIO struct {
	conn       *net.UDPConn
	fd         int
	lastRXNano int64
}

// NewHWTimestampPacketIO binds addr, enables RX hardware timestamping
// on iface if non-nil (falling back to software timestamps otherwise),
// and marks outgoing packets with dscp.
func NewHWTimestampPacketIO(addr *net.UDPAddr, iface *net.Interface, dscpValue int) (*HWTimestampPacketIO, error) {
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: binding %s: %w", addr, err)
	}
	fd, err := connFd(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: getting socket fd: %w", err)
	}
	if err := dscp.Enable(fd, addr.IP, dscpValue); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: enabling dscp: %w", err)
	}
	if iface != nil {
		err = enableHWTimestampsRx(fd, iface)
	} else {
		err = enableSWTimestampsRx(fd)
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: enabling rx timestamps: %w", err)
	}
	// unix.Recvmsg below bypasses the Go runtime netpoller's deadline
	// handling, so Recv's non-blocking contract comes from the fd
	// itself rather than from (*net.UDPConn).SetReadDeadline.
	if err := unix.SetNonblock(fd, true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: setting non-blocking: %w", err)
	}
	return &HWTimestampPacketIO{conn: conn, fd: fd}, nil
}

// connFd extracts the raw file descriptor backing conn.
func connFd(conn *net.UDPConn) (int, error) {
	sc, err := conn.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	if err := sc.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return -1, err
	}
	return fd, nil
}

// Close releases the underlying socket.
func (io *HWTimestampPacketIO) Close() error { return io.conn.Close() }

// Send implements PacketIO. HWTimestampPacketIO only ever binds one
// port; port must be 0.
func (io *HWTimestampPacketIO) Send(port int, pkts [][]byte) (int, error) {
	if port != 0 {
		return 0, fmt.Errorf("transport: hw-timestamp io has one port, got %d", port)
	}
	n := 0
	for _, p := range pkts {
		if _, err := io.conn.Write(p); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Recv implements PacketIO, draining whatever is already in the
// socket's receive queue without blocking and recording the most
// recent RX timestamp along the way.
func (io *HWTimestampPacketIO) Recv(port int) ([][]byte, error) {
	if port != 0 {
		return nil, fmt.Errorf("transport: hw-timestamp io has one port, got %d", port)
	}
	var out [][]byte
	for {
		buf := make([]byte, hwRecvBufBytes)
		oob := make([]byte, rxControlBufBytes)
		n, oobn, _, _, err := unix.Recvmsg(io.fd, buf, oob, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				break
			}
			return out, fmt.Errorf("transport: recvmsg: %w", err)
		}
		if t, err := rxTimestampFromControl(oob[:oobn]); err == nil {
			atomic.StoreInt64(&io.lastRXNano, t.UnixNano())
		}
		out = append(out, buf[:n])
	}
	return out, nil
}

// RxqBind is a no-op: there is exactly one queue, port 0.
func (io *HWTimestampPacketIO) RxqBind(port int, flow FlowSpec) (int, error) {
	if port != 0 {
		return 0, fmt.Errorf("transport: hw-timestamp io has one port, got %d", port)
	}
	return 0, nil
}

// HWTimestampClock adapts an HWTimestampPacketIO's most recently
// observed RX timestamp to the Clock collaborator interface. Like
// SystemClock, it does not apply the UTC-TAI leap second offset.
type HWTimestampClock struct {
	io *HWTimestampPacketIO
}

// NewHWTimestampClock returns a Clock reading io's last RX timestamp.
func NewHWTimestampClock(io *HWTimestampPacketIO) HWTimestampClock {
	return HWTimestampClock{io: io}
}

// PTPTaiNS implements Clock.
func (c HWTimestampClock) PTPTaiNS() uint64 {
	return uint64(atomic.LoadInt64(&c.io.lastRXNano))
}

// enableSWTimestampsRx asks the kernel to timestamp every inbound
// packet on fd with its arrival time, delivered as an SO_TIMESTAMPING
// control message alongside the packet.
func enableSWTimestampsRx(fd int) error {
	flags := unix.SOF_TIMESTAMPING_RX_SOFTWARE | unix.SOF_TIMESTAMPING_SOFTWARE
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMPING_NEW, flags)
}

// enableHWTimestampsRx configures iface's PHC to timestamp every
// inbound frame and enables reading that timestamp off fd.
func enableHWTimestampsRx(fd int, iface *net.Interface) error {
	rxFilter, err := hwTimestampRxFilter(fd, iface.Name)
	if err != nil {
		return err
	}
	if err := setHwTstampConfig(fd, iface.Name, rxFilter); err != nil {
		return err
	}
	flags := unix.SOF_TIMESTAMPING_RX_HARDWARE | unix.SOF_TIMESTAMPING_RAW_HARDWARE
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMPING_NEW, flags)
}

// hwTimestampRxFilter picks the narrowest RX hardware-timestamp filter
// iface's driver reports support for.
func hwTimestampRxFilter(fd int, ifname string) (int32, error) {
	caps, err := unix.IoctlGetEthtoolTsInfo(fd, ifname)
	if err != nil {
		return 0, fmt.Errorf("transport: querying timestamp caps on %s: %w", ifname, err)
	}
	switch {
	case caps.Rx_filters&(1<<unix.HWTSTAMP_FILTER_ALL) != 0:
		return unix.HWTSTAMP_FILTER_ALL, nil
	case caps.Rx_filters&(1<<unix.HWTSTAMP_FILTER_PTP_V2_EVENT) != 0:
		return unix.HWTSTAMP_FILTER_PTP_V2_EVENT, nil
	default:
		return 0, fmt.Errorf("transport: %s reports no usable rx timestamp filter", ifname)
	}
}

// setHwTstampConfig applies rxFilter to iface's hardware timestamping
// config, leaving it untouched if already set.
func setHwTstampConfig(fd int, ifname string, rxFilter int32) error {
	cur, err := unix.IoctlGetHwTstamp(fd, ifname)
	if errors.Is(err, unix.ENOTSUP) {
		cur = &unix.HwTstampConfig{}
	} else if err != nil {
		return fmt.Errorf("transport: reading hwtstamp config on %s: %w", ifname, err)
	}
	if cur.Rx_filter == rxFilter {
		return nil
	}
	cur.Rx_filter = rxFilter
	if err := unix.IoctlSetHwTstamp(fd, ifname, cur); err != nil {
		return fmt.Errorf("transport: setting hwtstamp config on %s: %w", ifname, err)
	}
	return nil
}

// rxTimestampFromControl scans a recvmsg control buffer for an
// SO_TIMESTAMPING message and decodes the RX timestamp it carries.
func rxTimestampFromControl(control []byte) (time.Time, error) {
	msgLen := 0
	for i := 0; i < len(control); i += unix.CmsgSpace(msgLen - unix.SizeofCmsghdr) {
		h := (*unix.Cmsghdr)(unsafe.Pointer(&control[i]))
		msgLen = int(h.Len)
		if msgLen == 0 {
			break
		}
		isTimestamping := int(h.Type) == unix.SO_TIMESTAMPING_NEW || int(h.Type) == unix.SO_TIMESTAMPING
		if h.Level == unix.SOL_SOCKET && isTimestamping {
			return scmTimespecsToTime(control[i+cmsgHeaderSize : i+msgLen])
		}
	}
	return time.Time{}, errNoRXTimestamp
}

// scmTimespecsToTime decodes the three-timespec payload an
// SO_TIMESTAMPING control message carries (software, deprecated, then
// hardware), preferring the hardware timestamp when present.
func scmTimespecsToTime(data []byte) (time.Time, error) {
	const timespecBytes = 16
	if len(data) < timespecBytes*3 {
		return time.Time{}, errNoRXTimestamp
	}
	if hw := timespecToTime(data[timespecBytes*2 : timespecBytes*3]); hw.UnixNano() != 0 {
		return hw, nil
	}
	if sw := timespecToTime(data[0:timespecBytes]); sw.UnixNano() != 0 {
		return sw, nil
	}
	return time.Time{}, errNoRXTimestamp
}

// timespecToTime decodes a __kernel_timespec (two native int64s, not
// the possibly-32-bit unix.Timespec) into a time.Time.
func timespecToTime(data []byte) time.Time {
	sec := int64(binary.NativeEndian.Uint64(data[0:8]))
	nsec := int64(binary.NativeEndian.Uint64(data[8:16]))
	return time.Unix(sec, nsec)
}
