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

package transport

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// UDPPacketIO is a plain net.UDPConn-backed PacketIO for up to two
// redundant ports (§3 "port map (1 or 2 redundant ports)"). It has no
// kernel-bypass fast path; it exists so the rest of the module can be
// exercised end-to-end without a DPDK-class NIC driver.
type UDPPacketIO struct {
	conns [2]*net.UDPConn
	dscp  int
}

// NewUDPPacketIO binds one UDP socket per address in addrs (1 or 2
// entries) and marks outgoing packets with the given DSCP value.
func NewUDPPacketIO(addrs []*net.UDPAddr, dscp int) (*UDPPacketIO, error) {
	if len(addrs) < 1 || len(addrs) > 2 {
		return nil, fmt.Errorf("transport: need 1 or 2 ports, got %d", len(addrs))
	}
	io := &UDPPacketIO{dscp: dscp}
	for i, addr := range addrs {
		conn, err := net.ListenUDP("udp", addr)
		if err != nil {
			io.Close()
			return nil, fmt.Errorf("transport: binding port %d: %w", i, err)
		}
		if err := enableDSCP(conn, addr.IP, dscp); err != nil {
			io.Close()
			return nil, fmt.Errorf("transport: enabling dscp on port %d: %w", i, err)
		}
		io.conns[i] = conn
	}
	return io, nil
}

// Close releases both underlying sockets.
func (io *UDPPacketIO) Close() error {
	var first error
	for _, c := range io.conns {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Send implements PacketIO by issuing one WriteToUDP per packet on
// port. dst is reused across calls to avoid a per-packet allocation
// churn path in the caller; UDPPacketIO itself allocates nothing here
// beyond what net.UDPConn requires.
func (io *UDPPacketIO) Send(port int, pkts [][]byte) (int, error) {
	conn, err := io.conn(port)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range pkts {
		if _, err := conn.Write(p); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Recv implements PacketIO by draining whatever is already queued on
// port's socket without blocking.
func (io *UDPPacketIO) Recv(port int) ([][]byte, error) {
	conn, err := io.conn(port)
	if err != nil {
		return nil, err
	}
	var out [][]byte
	buf := make([]byte, 65536)
	for {
		if err := conn.SetReadDeadline(time.Now()); err != nil {
			return out, err
		}
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				break
			}
			return out, err
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		out = append(out, pkt)
	}
	return out, nil
}

// RxqBind is a no-op for the plain-UDP transport: port itself is the
// queue id since there is no hardware queue to bind.
func (io *UDPPacketIO) RxqBind(port int, flow FlowSpec) (int, error) {
	if _, err := io.conn(port); err != nil {
		return 0, err
	}
	return port, nil
}

func (io *UDPPacketIO) conn(port int) (*net.UDPConn, error) {
	if port < 0 || port >= len(io.conns) || io.conns[port] == nil {
		return nil, fmt.Errorf("transport: no socket bound for port %d", port)
	}
	return io.conns[port], nil
}

// enableDSCP sets the outgoing DSCP (IP_TOS / IPV6_TCLASS) value on
// conn, following the pack's convention of driving socket options
// directly through golang.org/x/sys/unix rather than net's limited
// option surface.
func enableDSCP(conn *net.UDPConn, ip net.IP, dscp int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	tos := dscp << 2
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		if ip.To4() != nil {
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, tos)
		} else {
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}
