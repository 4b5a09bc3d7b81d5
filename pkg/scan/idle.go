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

// IdleEngine implements the idle (zombie) scan's four-phase state
// machine per spec.md 4.J: sample the zombie's IP-ID, spoof a SYN to the
// target with the zombie's source address, re-sample the zombie's
// IP-ID, and read the delta. A delta of 2 means the zombie itself sent a
// packet between samples (it received the target's unsolicited SYN-ACK
// and answered with a RST) — the target port is open. A delta of 1
// means the zombie stayed silent — closed or filtered.
type IdleEngine struct {
	cfg     models.Config
	handle  capture.Handle
	cookies *CookieJar
	limiter *ratelimit.Limiter
	zombie  models.ZombieCandidate
	log     scanlog.Logger

	probeSrcAddr netip.Addr
	probeSrcPort uint16
	idSeq        uint16
}

func NewIdleEngine(cfg models.Config, handle capture.Handle, cookies *CookieJar, limiter *ratelimit.Limiter, zombie models.ZombieCandidate, probeSrcAddr netip.Addr, probeSrcPort uint16, log scanlog.Logger) (*IdleEngine, error) {
	if !zombie.Usable() {
		return nil, fmt.Errorf("scan: zombie candidate %s has unusable IP-ID pattern %s", zombie.Addr, zombie.Pattern)
	}
	return &IdleEngine{
		cfg: cfg, handle: handle, cookies: cookies, limiter: limiter, zombie: zombie,
		probeSrcAddr: probeSrcAddr, probeSrcPort: probeSrcPort,
		log: log.WithComponent("scan.idle"),
	}, nil
}

func (e *IdleEngine) Scan(ctx context.Context, target netip.Addr, ports []uint16, out chan<- models.ScanResult) error {
	timeout := probeTimeout(e.cfg)

	for _, port := range ports {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if e.limiter != nil {
			if err := e.limiter.Acquire(ctx); err != nil {
				return nil
			}
		}
		out <- e.probeOne(ctx, target, port, timeout)
	}
	return nil
}

func (e *IdleEngine) probeOne(ctx context.Context, target netip.Addr, port uint16, timeout time.Duration) models.ScanResult {
	start := time.Now()

	before, err := e.sampleZombieIPID(timeout)
	if err != nil {
		return newResult(target, port, models.StateUnknown, start)
	}

	if err := e.sendSpoofedSYN(target, port); err != nil {
		return newResult(target, port, models.StateUnknown, start)
	}

	// Give the zombie time to receive the target's unsolicited SYN-ACK
	// (or RST) and answer it before the second sample.
	select {
	case <-time.After(timeout / 4):
	case <-ctx.Done():
	}

	after, err := e.sampleZombieIPID(timeout)
	if err != nil {
		return newResult(target, port, models.StateUnknown, start)
	}

	delta := ipidDelta(before, after, e.zombie.Pattern)
	switch delta {
	case 2:
		return newResult(target, port, models.StateOpen, start)
	case 1:
		return newResult(target, port, models.StateClosed, start)
	default:
		return newResult(target, port, models.StateFiltered, start)
	}
}

func ipidDelta(before, after uint16, pattern models.IPIDPattern) int {
	d := int(after) - int(before)
	if d < 0 {
		d += 65536
	}
	if pattern == models.IPIDBroken256 {
		d /= 256
	}
	return d
}

// sampleZombieIPID sends an ICMP echo request to the zombie and reads
// the IP-ID out of the IPv4 header of the first packet received from the
// zombie's address.
func (e *IdleEngine) sampleZombieIPID(timeout time.Duration) (uint16, error) {
	e.idSeq++
	raw, err := packet.BuildICMPEcho(packet.ICMPEchoSpec{
		SrcAddr: e.probeSrcAddr, DstAddr: e.zombie.Addr,
		ID: e.probeSrcPort, Seq: e.idSeq,
	})
	if err != nil {
		return 0, err
	}
	if err := e.handle.SendPacket(raw); err != nil {
		return 0, err
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := e.handle.ReceivePacket(time.Until(deadline))
		if err != nil {
			return 0, err
		}
		id, ok := e.parseIPIDFromZombie(resp)
		if ok {
			return id, nil
		}
	}
	return 0, fmt.Errorf("scan: no IP-ID sample from zombie %s", e.zombie.Addr)
}

func (e *IdleEngine) parseIPIDFromZombie(raw []byte) (uint16, bool) {
	pkt := gopacket.NewPacket(raw, layers.LayerTypeIPv4, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	ipLayer := pkt.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return 0, false
	}
	ip4, ok := ipLayer.(*layers.IPv4)
	if !ok {
		return 0, false
	}
	srcAddr, ok := netip.AddrFromSlice(ip4.SrcIP.To4())
	if !ok || srcAddr != e.zombie.Addr {
		return 0, false
	}
	return ip4.Id, true
}

// sendSpoofedSYN sends a SYN to target with the zombie's address as the
// source, so the target's SYN-ACK (or RST) goes to the zombie, not us.
func (e *IdleEngine) sendSpoofedSYN(target netip.Addr, port uint16) error {
	cookie := e.cookies.Cookie(e.zombie.Addr, target, e.probeSrcPort, port, uint8(layers.IPProtocolTCP))
	raw, err := packet.BuildTCP(packet.TCPSpec{
		SrcAddr: e.zombie.Addr, DstAddr: target,
		SrcPort: e.probeSrcPort, DstPort: port,
		Seq:   cookie,
		Flags: packet.TCPFlags{SYN: true},
	})
	if err != nil {
		return err
	}
	return e.handle.SendPacket(raw)
}
