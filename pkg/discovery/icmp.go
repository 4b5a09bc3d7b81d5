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
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/prtip/prtip/pkg/scanlog"
)

// ICMPProber sends one ICMPv4 echo request per candidate over a shared
// privileged raw-ICMP socket and collects replies for the configured
// timeout. Requests carry the process-unique identifier and a per-probe
// sequence number, but a reply is matched only by its source address
// against the set of still-pending targets.
type ICMPProber struct {
	timeout time.Duration
	log     scanlog.Logger
	id      uint16
}

func NewICMPProber(timeout time.Duration, log scanlog.Logger) *ICMPProber {
	return &ICMPProber{timeout: timeout, log: log.WithComponent("discovery.icmp"), id: uint16(os.Getpid())}
}

func (p *ICMPProber) Probe(ctx context.Context, targets []netip.Addr) ([]netip.Addr, error) {
	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("discovery: open icmp socket: %w", err)
	}
	defer conn.Close()

	pending := make(map[string]netip.Addr, len(targets))
	var mu sync.Mutex

	for seq, addr := range targets {
		if !addr.Is4() {
			continue // ICMPv6 echo uses a distinct wire format; out of scope here
		}
		mu.Lock()
		pending[addr.String()] = addr
		mu.Unlock()

		msg := icmp.Message{
			Type: ipv4.ICMPTypeEcho, Code: 0,
			Body: &icmp.Echo{ID: int(p.id), Seq: seq, Data: []byte("prtip-discovery")},
		}
		raw, err := msg.Marshal(nil)
		if err != nil {
			continue
		}
		if _, err := conn.WriteTo(raw, &net.IPAddr{IP: net.IP(addr.AsSlice())}); err != nil {
			p.log.Debug().Err(err).Str("target", addr.String()).Msg("icmp echo send failed")
		}
	}

	deadline := time.Now().Add(p.timeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("discovery: set read deadline: %w", err)
	}

	var alive []netip.Addr
	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			return alive, nil
		default:
		}
		if time.Now().After(deadline) {
			break
		}

		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			break // deadline exceeded or socket closed
		}
		parsed, err := icmp.ParseMessage(1, buf[:n]) // 1 = ICMPv4 protocol number
		if err != nil || parsed.Type != ipv4.ICMPTypeEchoReply {
			continue
		}

		ipAddr, ok := peer.(*net.IPAddr)
		if !ok {
			continue
		}
		addr, ok := netip.AddrFromSlice(ipAddr.IP.To4())
		if !ok {
			continue
		}

		mu.Lock()
		if want, found := pending[addr.String()]; found {
			delete(pending, addr.String())
			alive = append(alive, want)
		}
		mu.Unlock()
	}

	return alive, nil
}
