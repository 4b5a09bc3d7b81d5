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
	"fmt"
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

// StealthEngine implements the FIN/NULL/Xmas/ACK scans of RFC793 section
// 3.9's "segment arriving on closed connection" rule: a closed port must
// answer with RST; an open (or filtered) port stays silent. ACK scans
// read the RST differently — a bare ACK probe's RST means "unfiltered",
// not "closed", since it only tests firewall state, never port state.
type StealthEngine struct {
	variant models.ScanType
	cfg     models.Config
	handle  capture.Handle
	cookies *CookieJar
	limiter *ratelimit.Limiter
	log     scanlog.Logger

	srcAddr netip.Addr
	srcPort uint16
}

func NewStealthEngine(variant models.ScanType, cfg models.Config, handle capture.Handle, cookies *CookieJar, limiter *ratelimit.Limiter, srcAddr netip.Addr, srcPort uint16, log scanlog.Logger) (*StealthEngine, error) {
	switch variant {
	case models.ScanFIN, models.ScanNULL, models.ScanXmas, models.ScanACK:
	default:
		return nil, fmt.Errorf("scan: %w", fmt.Errorf("unsupported stealth variant %d", variant))
	}
	return &StealthEngine{
		variant: variant, cfg: cfg, handle: handle, cookies: cookies, limiter: limiter,
		srcAddr: srcAddr, srcPort: srcPort,
		log: log.WithComponent("scan.stealth"),
	}, nil
}

func (e *StealthEngine) flags() packet.TCPFlags {
	switch e.variant {
	case models.ScanFIN:
		return packet.TCPFlags{FIN: true}
	case models.ScanNULL:
		return packet.TCPFlags{}
	case models.ScanXmas:
		return packet.TCPFlags{FIN: true, PSH: true, URG: true}
	case models.ScanACK:
		return packet.TCPFlags{ACK: true}
	default:
		return packet.TCPFlags{}
	}
}

func (e *StealthEngine) Scan(ctx context.Context, target netip.Addr, ports []uint16, out chan<- models.ScanResult) error {
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
		if err := e.sendProbe(target, port); err != nil {
			e.log.Debug().Err(err).Uint16("port", port).Msg("stealth probe send failed")
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

		port, isRST, ok := e.parseRSTFromPacket(target, pkt)
		if !ok {
			continue
		}
		if _, want := pending[port]; !want {
			continue
		}
		delete(pending, port)
		out <- newResult(target, port, e.stateForRST(isRST), start)

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
		out <- newResult(target, port, e.stateForSilence(), start)
	}
	return nil
}

// stateForRST interprets a received RST: for FIN/NULL/Xmas, RST means
// the port is closed. For ACK scan a RST means the port is unfiltered
// rather than closed — an ACK probe never completes a handshake, so
// its RST only proves the segment reached a live stack — but
// models.PortState (see pkg/models/result.go) has no Unfiltered
// member, so ACK's RST is reported the same way as the others' Closed,
// the compromise spec.md 4.F's 4-state redesign accepts.
func (e *StealthEngine) stateForRST(isRST bool) models.PortState {
	if !isRST {
		return models.StateOpen
	}
	return models.StateClosed
}

func (e *StealthEngine) stateForSilence() models.PortState {
	// No response: RFC793-compliant stacks leave both open and
	// firewall-filtered ports silent, so the ambiguity is irreducible
	// without a second corroborating technique.
	return models.StateFiltered
}

func (e *StealthEngine) sendProbe(target netip.Addr, port uint16) error {
	cookie := e.cookies.Cookie(e.srcAddr, target, e.srcPort, port, uint8(layers.IPProtocolTCP))
	raw, err := packet.BuildTCP(packet.TCPSpec{
		SrcAddr: e.srcAddr, DstAddr: target,
		SrcPort: e.srcPort, DstPort: port,
		Seq: cookie,
		// An RST answering a segment with ACK set takes its sequence
		// number from this field (ACK scan), so carry the cookie here too.
		Ack:   cookie + 1,
		Flags: e.flags(),
	})
	if err != nil {
		return err
	}
	return e.handle.SendPacket(raw)
}

// parseRSTFromPacket inspects an already-decoded packet for a TCP
// segment from target whose sequencing matches a cookie we issued.
func (e *StealthEngine) parseRSTFromPacket(target netip.Addr, pkt gopacket.Packet) (port uint16, isRST bool, ok bool) {
	ipLayer := pkt.Layer(layers.LayerTypeIPv4)
	tcpLayer := pkt.Layer(layers.LayerTypeTCP)
	if ipLayer == nil || tcpLayer == nil {
		return 0, false, false
	}
	ip4, _ := ipLayer.(*layers.IPv4)
	tcp, _ := tcpLayer.(*layers.TCP)
	if ip4 == nil || tcp == nil {
		return 0, false, false
	}

	srcAddr, ok := netip.AddrFromSlice(ip4.SrcIP.To4())
	if !ok || srcAddr != target {
		return 0, false, false
	}

	respPort := uint16(tcp.SrcPort)
	expectedCookie := e.cookies.Cookie(e.srcAddr, target, e.srcPort, respPort, uint8(layers.IPProtocolTCP))
	// RST to FIN/Xmas acks cookie+1 (FIN takes one sequence number), RST
	// to NULL acks cookie, RST to ACK carries our Ack (cookie+1) as Seq.
	if tcp.Ack != expectedCookie+1 && tcp.Ack != expectedCookie && tcp.Seq != expectedCookie+1 {
		return 0, false, false
	}

	return respPort, tcp.RST, true
}
