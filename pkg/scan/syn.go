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
	"context"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/prtip/prtip/pkg/capture"
	"github.com/prtip/prtip/pkg/models"
	"github.com/prtip/prtip/pkg/packet"
	"github.com/prtip/prtip/pkg/ratelimit"
	"github.com/prtip/prtip/pkg/scanlog"
)

// SYNEngine implements the stateless SYN scan: spec.md 4.B/4.J's
// redesign away from carverauto's stateful portTargetMap correlation.
// Instead of remembering which ports are in flight, the low 32 bits of
// the initial sequence number carry a keyed cookie over the probe's
// (src,dst,proto) tuple, so a SYN-ACK/RST can be matched to its probe by
// recomputing the cookie from the response's own addressing — no
// per-probe table, no risk of the map growing unbounded under a flood
// of unanswered probes.
type SYNEngine struct {
	cfg     models.Config
	handle  capture.Handle
	cookies *CookieJar
	limiter *ratelimit.Limiter
	log     scanlog.Logger

	srcAddr netip.Addr
	srcPort uint16
}

func NewSYNEngine(cfg models.Config, handle capture.Handle, cookies *CookieJar, limiter *ratelimit.Limiter, srcAddr netip.Addr, srcPort uint16, log scanlog.Logger) *SYNEngine {
	return &SYNEngine{
		cfg: cfg, handle: handle, cookies: cookies, limiter: limiter,
		srcAddr: srcAddr, srcPort: srcPort,
		log: log.WithComponent("scan.syn"),
	}
}

func (e *SYNEngine) Scan(ctx context.Context, target netip.Addr, ports []uint16, out chan<- models.ScanResult) error {
	timeout := probeTimeout(e.cfg)
	start := time.Now()

	pending := make(map[uint16]struct{}, len(ports))
	for _, p := range ports {
		pending[p] = struct{}{}
	}

	sent := 0
	for _, port := range ports {
		if e.limiter != nil {
			if err := e.limiter.Acquire(ctx); err != nil {
				return nil
			}
		}
		if err := e.sendSYN(target, port); err != nil {
			e.log.Debug().Err(err).Uint16("port", port).Msg("syn send failed")
			continue
		}
		sent++
	}

	sawICMP := false
	deadline := time.Now().Add(timeout)
	for len(pending) > 0 && time.Now().Before(deadline) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		readTimeout := remaining
		if readTimeout > 200*time.Millisecond {
			readTimeout = 200 * time.Millisecond
		}

		raw, err := e.handle.ReceivePacket(readTimeout)
		if err != nil {
			continue
		}
		pkt := gopacket.NewPacket(raw, layers.LayerTypeIPv4, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

		if icmpPort, filtered := parseICMPUnreachable(target, pkt, e.limiter); filtered {
			sawICMP = true
			if icmpPort == 0 {
				continue
			}
			if _, want := pending[icmpPort]; !want {
				continue
			}
			delete(pending, icmpPort)
			out <- newResult(target, icmpPort, models.StateFiltered, start)
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			continue
		}

		port, state, ok := e.parseTCPResponse(target, pkt)
		if !ok {
			continue
		}
		if _, want := pending[port]; !want {
			continue
		}
		delete(pending, port)
		if state == models.StateOpen {
			// Spec.md 4.F: tear the half-open connection back down
			// instead of leaving the target's backlog entry for a
			// connection this process will never complete.
			e.sendRST(target, port)
		}
		out <- newResult(target, port, state, start)

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	if e.limiter != nil {
		if !sawICMP {
			e.limiter.ReportCleanWindow()
		}
		e.limiter.ReportBatchOutcome(sent, sent-len(pending))
	}

	for port := range pending {
		// No SYN-ACK, RST or ICMP error within the window: the probe or
		// its answer was dropped on the way, so the port is Filtered.
		out <- newResult(target, port, models.StateFiltered, start)
	}
	return nil
}

func (e *SYNEngine) sendSYN(target netip.Addr, port uint16) error {
	cookie := e.cookies.Cookie(e.srcAddr, target, e.srcPort, port, uint8(layers.IPProtocolTCP))
	raw, err := packet.BuildTCP(packet.TCPSpec{
		SrcAddr: e.srcAddr, DstAddr: target,
		SrcPort: e.srcPort, DstPort: port,
		Seq:   cookie,
		Flags: packet.TCPFlags{SYN: true},
		Options: []packet.TCPOption{
			packet.MSSOption(1460),
			packet.SACKPermittedOption(),
			packet.NOPOption(),
			packet.WindowScaleOption(7),
		},
	})
	if err != nil {
		return err
	}
	return e.handle.SendPacket(raw)
}

// sendRST tears down the half-open connection a SYN-ACK response left
// on the target's backlog, per spec.md 4.F's "send RST to tear down"
// step for a discovered-open port.
func (e *SYNEngine) sendRST(target netip.Addr, port uint16) {
	cookie := e.cookies.Cookie(e.srcAddr, target, e.srcPort, port, uint8(layers.IPProtocolTCP))
	raw, err := packet.BuildTCP(packet.TCPSpec{
		SrcAddr: e.srcAddr, DstAddr: target,
		SrcPort: e.srcPort, DstPort: port,
		Seq:   cookie + 1,
		Flags: packet.TCPFlags{RST: true},
	})
	if err != nil {
		return
	}
	if err := e.handle.SendPacket(raw); err != nil {
		e.log.Debug().Err(err).Uint16("port", port).Msg("rst teardown send failed")
	}
}

// parseTCPResponse inspects an already-decoded packet and, if it is a
// TCP segment from target whose acknowledgement number matches a
// cookie we issued, returns the originating port and the resulting
// port state.
func (e *SYNEngine) parseTCPResponse(target netip.Addr, pkt gopacket.Packet) (port uint16, state models.PortState, ok bool) {
	ipLayer := pkt.Layer(layers.LayerTypeIPv4)
	tcpLayer := pkt.Layer(layers.LayerTypeTCP)
	if ipLayer == nil || tcpLayer == nil {
		return 0, models.StateUnknown, false
	}
	ip4, _ := ipLayer.(*layers.IPv4)
	tcp, _ := tcpLayer.(*layers.TCP)
	if ip4 == nil || tcp == nil {
		return 0, models.StateUnknown, false
	}

	srcAddr, ok := netip.AddrFromSlice(ip4.SrcIP.To4())
	if !ok || srcAddr != target {
		return 0, models.StateUnknown, false
	}

	respPort := uint16(tcp.SrcPort)
	expectedCookie := e.cookies.Cookie(e.srcAddr, target, e.srcPort, respPort, uint8(layers.IPProtocolTCP))
	if tcp.Ack != expectedCookie+1 {
		return 0, models.StateUnknown, false
	}

	switch {
	case tcp.SYN && tcp.ACK:
		return respPort, models.StateOpen, true
	case tcp.RST:
		return respPort, models.StateClosed, true
	default:
		return 0, models.StateUnknown, false
	}
}
