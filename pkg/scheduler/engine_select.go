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

package scheduler

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/prtip/prtip/pkg/discovery"
	"github.com/prtip/prtip/pkg/models"
	"github.com/prtip/prtip/pkg/scan"
)

// engineFor builds the scan.Engine the configured scan type needs. The
// idle engine additionally needs a zombie candidate, which this
// scheduler does not yet discover automatically — ScanIdle requires the
// caller to have set one via WithZombie before Run.
func (s *Scheduler) engineFor(_ netip.Addr) (scan.Engine, error) {
	switch s.cfg.ScanType {
	case models.ScanConnect:
		return scan.NewConnectEngine(s.cfg.Config, s.limiter, s.log), nil
	case models.ScanUDP:
		return scan.NewUDPEngine(s.cfg.Config, s.limiter, s.log), nil
	case models.ScanSYN:
		return scan.NewSYNEngine(s.cfg.Config, s.handle, s.cookies, s.limiter, s.srcAddr, s.srcPort, s.log), nil
	case models.ScanFIN, models.ScanNULL, models.ScanXmas, models.ScanACK:
		return scan.NewStealthEngine(s.cfg.ScanType, s.cfg.Config, s.handle, s.cookies, s.limiter, s.srcAddr, s.srcPort, s.log)
	case models.ScanIdle:
		if s.zombie == nil {
			return nil, fmt.Errorf("scheduler: idle scan requires a zombie candidate (call WithZombie)")
		}
		return scan.NewIdleEngine(s.cfg.Config, s.handle, s.cookies, s.limiter, *s.zombie, s.srcAddr, s.srcPort, s.log)
	default:
		return nil, fmt.Errorf("scheduler: unsupported scan type %d", s.cfg.ScanType)
	}
}

// WithZombie sets the zombie candidate used by a subsequent Run when
// Config.ScanType is ScanIdle.
func (s *Scheduler) WithZombie(z models.ZombieCandidate) {
	s.zombie = &z
}

// filterAlive runs host discovery (TCP SYN ping when a raw capture
// handle is already open, ICMP echo otherwise) and returns only the
// addresses that answered.
func (s *Scheduler) filterAlive(ctx context.Context, addrs []netip.Addr) ([]netip.Addr, error) {
	timeout := s.cfg.Timeout()
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	var prober discovery.Prober
	if s.handle != nil {
		prober = discovery.NewTCPPingProber(s.handle, s.srcAddr, s.srcPort, nil, timeout, s.log)
	} else {
		prober = discovery.NewICMPProber(timeout, s.log)
	}

	alive, err := prober.Probe(ctx, addrs)
	if err != nil {
		return nil, err
	}
	s.log.Info().Int("candidates", len(addrs)).Int("alive", len(alive)).Msg("discovery complete")
	return alive, nil
}
