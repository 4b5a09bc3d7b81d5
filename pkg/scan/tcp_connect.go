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
	"errors"
	"net"
	"net/netip"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prtip/prtip/pkg/models"
	"github.com/prtip/prtip/pkg/ratelimit"
	"github.com/prtip/prtip/pkg/scanlog"
)

// ConnectEngine implements the TCP connect scan: a full three-way
// handshake via the OS socket API, one goroutine per in-flight port
// bounded by an errgroup limit, unprivileged and portable.
type ConnectEngine struct {
	cfg     models.Config
	limiter *ratelimit.Limiter
	log     scanlog.Logger
	dialer  net.Dialer
}

func NewConnectEngine(cfg models.Config, limiter *ratelimit.Limiter, log scanlog.Logger) *ConnectEngine {
	return &ConnectEngine{cfg: cfg, limiter: limiter, log: log.WithComponent("scan.connect")}
}

func (e *ConnectEngine) Scan(ctx context.Context, target netip.Addr, ports []uint16, out chan<- models.ScanResult) error {
	timeout := probeTimeout(e.cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrencyLimit(e.cfg, len(ports)))

	for _, port := range ports {
		port := port
		g.Go(func() error {
			if e.limiter != nil {
				if err := e.limiter.Acquire(gctx); err != nil {
					return nil // context cancelled; stop quietly
				}
			}
			out <- e.probeOne(gctx, target, port, timeout)
			return nil
		})
	}
	return g.Wait()
}

func (e *ConnectEngine) probeOne(ctx context.Context, target netip.Addr, port uint16, timeout time.Duration) models.ScanResult {
	start := time.Now()
	addr := net.JoinHostPort(target.String(), strconv.Itoa(int(port)))

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := e.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		state := models.StateFiltered
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Timeout() {
			state = models.StateFiltered
		} else if isConnRefused(err) {
			state = models.StateClosed
		}
		return newResult(target, port, state, start)
	}
	defer conn.Close()

	return newResult(target, port, models.StateOpen, start)
}

func isConnRefused(err error) bool {
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		return false
	}
	return opErr.Op == "dial" && opErr.Err != nil &&
		opErr.Err.Error() != "" && isECONNREFUSED(opErr.Err)
}

// concurrencyLimit keeps a single target's connect scan from running
// every port's dial concurrently when the port list is large; the
// scheduler's hostgroup/parallelism budget governs cross-target
// concurrency separately.
func concurrencyLimit(cfg models.Config, portCount int) int {
	if cfg.MaxConcurrent > 0 && cfg.MaxConcurrent < portCount {
		return cfg.MaxConcurrent
	}
	if portCount == 0 {
		return 1
	}
	return portCount
}
