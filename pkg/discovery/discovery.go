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

// Package discovery implements host-liveness pre-checks (ICMP echo and
// TCP SYN ping) that the scheduler runs before the port-scan phase when
// Config.DiscoveryFirst is set, grounded on the teacher's icmp_scanner.go
// / icmp_fast_scanner.go request/reply matching.
package discovery

import (
	"context"
	"net/netip"
)

// Prober reports which of a batch of candidate hosts answered a
// liveness probe. Implementations must treat "no answer within the
// deadline" as down, not as an error.
type Prober interface {
	Probe(ctx context.Context, targets []netip.Addr) (alive []netip.Addr, err error)
}

// Result pairs a probed address with its liveness outcome. It carries no
// round-trip time: the probers measure no latency.
type Result struct {
	Addr  netip.Addr
	Alive bool
}
