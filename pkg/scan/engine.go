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

	"github.com/prtip/prtip/pkg/models"
)

// Engine is the common shape of every scan-type state machine: given one
// target and its port list, it produces one ScanResult per port on out.
// Engines own their own internal concurrency; Scan blocks until every
// port has a result or ctx is cancelled.
type Engine interface {
	Scan(ctx context.Context, target netip.Addr, ports []uint16, out chan<- models.ScanResult) error
}

// probeTimeout derives the per-probe deadline from a timing template and
// an explicit ceiling from Config.TimeoutMS, matching spec.md 4.J's
// "adaptive RTT timeout bounded by the user ceiling" rule.
func probeTimeout(cfg models.Config) time.Duration {
	tpl, err := models.TimingTemplateByIndex(cfg.Timing)
	if err != nil {
		tpl = models.TimingTemplates[3] // normal
	}
	ceiling := cfg.Timeout()
	if ceiling > 0 && tpl.MaxRTT > ceiling {
		return ceiling
	}
	return tpl.MaxRTT
}

func newResult(target netip.Addr, port uint16, state models.PortState, start time.Time) models.ScanResult {
	return models.ScanResult{
		TargetIP:     target,
		Port:         port,
		State:        state,
		ResponseTime: time.Since(start),
		Timestamp:    time.Now(),
	}
}
