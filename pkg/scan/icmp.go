/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package scan

import (
	"encoding/binary"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/prtip/prtip/pkg/ratelimit"
)

// icmpUnreachableCodes are the ICMPv4 destination-unreachable codes
// spec.md §4.F treats as evidence of a filtering device rather than a
// closed port: host/protocol/port unreachable and the three
// administratively-prohibited variants a firewall or ACL typically
// emits in place of silently dropping the probe.
var icmpUnreachableCodes = map[uint8]bool{
	1: true, 2: true, 3: true, 9: true, 10: true, 13: true,
}

// parseICMPUnreachable inspects an already-decoded packet for an ICMPv4
// destination-unreachable message and, if present and of a code
// spec.md §4.F maps to Filtered, recovers the TCP port named in the
// embedded original datagram that provoked it. limiter, when non-nil,
// is notified so the rate limiter's ICMP-backoff state machine (§4.D)
// reacts the same way an operator would: a filtering device answering
// in volume means the effective send rate should drop.
//
// filtered is true whenever pkt carried a matching ICMP message, even
// if the embedded original datagram could not be recovered (port is 0
// in that case and the caller should not emit a result for it).
func parseICMPUnreachable(target netip.Addr, pkt gopacket.Packet, limiter *ratelimit.Limiter) (port uint16, filtered bool) {
	icmpLayer := pkt.Layer(layers.LayerTypeICMPv4)
	if icmpLayer == nil {
		return 0, false
	}
	icmp4, ok := icmpLayer.(*layers.ICMPv4)
	if !ok {
		return 0, false
	}
	if icmp4.TypeCode.Type() != layers.ICMPv4TypeDestinationUnreachable {
		return 0, false
	}
	if !icmpUnreachableCodes[icmp4.TypeCode.Code()] {
		return 0, false
	}
	if limiter != nil {
		limiter.ReportICMPBackoffSignal()
	}
	return embeddedDstPort(target, icmp4.Payload), true
}

// embeddedDstPort recovers the destination port of the original
// datagram an ICMP error quotes. Routers only guarantee the IP header
// plus the first 8 bytes of the transport header, which for TCP and
// UDP both is enough to cover the source and destination port fields,
// so this is decoded by hand rather than via gopacket's TCP/UDP
// layers, which require a full header and would reject the quoted
// fragment as truncated.
func embeddedDstPort(target netip.Addr, payload []byte) uint16 {
	if len(payload) < 20 {
		return 0
	}
	ihl := int(payload[0]&0x0f) * 4
	if ihl < 20 || len(payload) < ihl+4 {
		return 0
	}
	dstIP, ok := netip.AddrFromSlice(net.IP(payload[16:20]).To4())
	if !ok || dstIP != target {
		return 0
	}
	return binary.BigEndian.Uint16(payload[ihl+2 : ihl+4])
}
