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
	"net"
	"net/netip"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prtip/prtip/pkg/models"
	"github.com/prtip/prtip/pkg/ratelimit"
	"github.com/prtip/prtip/pkg/scanerrors"
	"github.com/prtip/prtip/pkg/scanlog"
)

// UDPEngine implements the UDP scan. It relies on the Linux kernel's
// delivery of ICMP port-unreachable messages as ECONNREFUSED on a
// connected UDP socket's next read, rather than a separate raw ICMP
// listener — the standard unprivileged technique. A per-port protocol
// payload (pkg/scan/ports.go's udpPayloads table) is sent instead of an
// empty datagram wherever the target port is a recognized well-known
// service, since many UDP services silently drop empty probes.
type UDPEngine struct {
	cfg     models.Config
	limiter *ratelimit.Limiter
	log     scanlog.Logger
}

func NewUDPEngine(cfg models.Config, limiter *ratelimit.Limiter, log scanlog.Logger) *UDPEngine {
	return &UDPEngine{cfg: cfg, limiter: limiter, log: log.WithComponent("scan.udp")}
}

func (e *UDPEngine) Scan(ctx context.Context, target netip.Addr, ports []uint16, out chan<- models.ScanResult) error {
	timeout := probeTimeout(e.cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrencyLimit(e.cfg, len(ports)))

	var sent, received, icmpUnreachable int32
	for _, port := range ports {
		port := port
		g.Go(func() error {
			if e.limiter != nil {
				if err := e.limiter.Acquire(gctx); err != nil {
					return nil
				}
			}
			atomic.AddInt32(&sent, 1)
			result, gotICMP := e.probeOne(target, port, timeout)
			if gotICMP {
				atomic.AddInt32(&icmpUnreachable, 1)
			}
			if result.State != models.StateUnknown {
				atomic.AddInt32(&received, 1)
			}
			out <- result
			return nil
		})
	}
	err := g.Wait()

	if e.limiter != nil {
		if atomic.LoadInt32(&icmpUnreachable) > 0 {
			e.limiter.ReportICMPBackoffSignal()
		} else {
			e.limiter.ReportCleanWindow()
		}
		e.limiter.ReportBatchOutcome(int(atomic.LoadInt32(&sent)), int(atomic.LoadInt32(&received)))
	}
	return err
}

// probeOne sends one UDP probe and reports its resulting state, plus
// whether the kernel's ECONNREFUSED on this connected socket's read was
// itself evidence of an ICMP port-unreachable message — the unprivileged
// substitute for parsing raw ICMP that pkg/scan/icmp.go uses for the
// SYN/stealth engines' raw sockets.
func (e *UDPEngine) probeOne(target netip.Addr, port uint16, timeout time.Duration) (models.ScanResult, bool) {
	start := time.Now()
	addr := net.JoinHostPort(target.String(), strconv.Itoa(int(port)))

	conn, err := net.Dial("udp", addr)
	if err != nil {
		return newResult(target, port, models.StateFiltered, start), false
	}
	defer conn.Close()

	payload := udpPayloads[port]
	if _, err := conn.Write(payload); err != nil {
		return newResult(target, port, models.StateFiltered, start), false
	}

	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 1500)
	n, err := conn.Read(buf)
	if err == nil && n > 0 {
		r := newResult(target, port, models.StateOpen, start)
		r.RawResponse = append([]byte(nil), buf[:n]...)
		return r, false
	}

	se := scanerrors.FromIOError(addr, err)
	if se != nil && se.Category() == scanerrors.KindConnectionFailed && !se.IsRetriable() {
		return newResult(target, port, models.StateClosed, start), true
	}
	// Timeout with no ICMP unreachable: classic "open|filtered" ambiguity.
	// Spec §4.F reports this as Unknown once retries are exhausted.
	return newResult(target, port, models.StateUnknown, start), false
}
