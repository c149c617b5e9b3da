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

// Package dscp marks outgoing sockets with a DSCP class so ST 2110
// media traffic gets the queueing priority its network requires.
package dscp

import (
	"net"

	"golang.org/x/sys/unix"
)

// Enable sets fd's outgoing DSCP value (IP_TOS for v4, IPV6_TCLASS for
// v6, both expressed as dscp<<2 per RFC 2474's 6-bit field living in
// the top bits of the 8-bit TOS/traffic-class byte).
func Enable(fd int, localAddr net.IP, dscp int) error {
	tos := dscp << 2
	if localAddr.To4() == nil {
		return unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, tos)
}
