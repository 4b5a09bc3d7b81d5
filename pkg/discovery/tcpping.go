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

package discovery

import (
	"context"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/prtip/prtip/pkg/capture"
	"github.com/prtip/prtip/pkg/packet"
	"github.com/prtip/prtip/pkg/scanlog"
)

// TCPPingProber discovers liveness with a bare SYN to a commonly-open
// port (80 and 443 by default), the fallback the teacher's discovery
// path takes when ICMP is filtered upstream — any TCP reply (SYN-ACK or
// RST) proves the host is up regardless of the probed port's own state.
type TCPPingProber struct {
	handle  capture.Handle
	srcAddr netip.Addr
	srcPort uint16
	ports   []uint16
	timeout time.Duration
	log     scanlog.Logger
}

func NewTCPPingProber(handle capture.Handle, srcAddr netip.Addr, srcPort uint16, ports []uint16, timeout time.Duration, log scanlog.Logger) *TCPPingProber {
	if len(ports) == 0 {
		ports = []uint16{80, 443}
	}
	return &TCPPingProber{handle: handle, srcAddr: srcAddr, srcPort: srcPort, ports: ports, timeout: timeout, log: log.WithComponent("discovery.tcpping")}
}

func (p *TCPPingProber) Probe(ctx context.Context, targets []netip.Addr) ([]netip.Addr, error) {
	pending := make(map[string]netip.Addr, len(targets))
	for _, t := range targets {
		pending[t.String()] = t
		for _, port := range p.ports {
			raw, err := packet.BuildTCP(packet.TCPSpec{
				SrcAddr: p.srcAddr, DstAddr: t,
				SrcPort: p.srcPort, DstPort: port,
				Seq:   1,
				Flags: packet.TCPFlags{SYN: true},
			})
			if err != nil {
				continue
			}
			if err := p.handle.SendPacket(raw); err != nil {
				p.log.Debug().Err(err).Str("target", t.String()).Msg("tcp ping send failed")
			}
		}
	}

	deadline := time.Now().Add(p.timeout)
	var alive []netip.Addr
	for time.Now().Before(deadline) && len(pending) > 0 {
		select {
		case <-ctx.Done():
			return alive, nil
		default:
		}
		raw, err := p.handle.ReceivePacket(time.Until(deadline))
		if err != nil {
			break
		}
		addr, ok := parseTCPSource(raw)
		if !ok {
			continue
		}
		if want, found := pending[addr.String()]; found {
			delete(pending, addr.String())
			alive = append(alive, want)
		}
	}
	return alive, nil
}

func parseTCPSource(raw []byte) (netip.Addr, bool) {
	pkt := gopacket.NewPacket(raw, layers.LayerTypeIPv4, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	ipLayer := pkt.Layer(layers.LayerTypeIPv4)
	tcpLayer := pkt.Layer(layers.LayerTypeTCP)
	if ipLayer == nil || tcpLayer == nil {
		return netip.Addr{}, false
	}
	ip4, ok := ipLayer.(*layers.IPv4)
	if !ok {
		return netip.Addr{}, false
	}
	if _, ok := tcpLayer.(*layers.TCP); !ok {
		return netip.Addr{}, false
	}
	return netip.AddrFromSlice(ip4.SrcIP.To4())
}
