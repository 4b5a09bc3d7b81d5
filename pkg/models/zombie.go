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

package models

import (
	"net/netip"
	"time"
)

// IPIDPattern characterizes how a host increments its IP identification
// field, a prerequisite for the idle (zombie) scan.
type IPIDPattern int

const (
	IPIDUnknown IPIDPattern = iota
	IPIDSequential
	IPIDRandom
	IPIDPerHost
	IPIDBroken256
)

func (p IPIDPattern) String() string {
	switch p {
	case IPIDSequential:
		return "sequential"
	case IPIDRandom:
		return "random"
	case IPIDPerHost:
		return "per-host"
	case IPIDBroken256:
		return "broken-256"
	default:
		return "unknown"
	}
}

// ZombieCandidate is produced by zombie discovery and consumed by the idle
// scan engine. It is invalidated (by the caller re-measuring) if the
// observed IPID pattern drifts mid-scan.
type ZombieCandidate struct {
	Addr         netip.Addr
	Pattern      IPIDPattern
	Quality      float64 // in [0,1]
	RTT          time.Duration
	LastProbedAt time.Time
}

// Usable reports whether this candidate's IPID pattern is predictable
// enough to drive an idle scan (Sequential or PerHost only).
func (z ZombieCandidate) Usable() bool {
	return z.Pattern == IPIDSequential || z.Pattern == IPIDPerHost
}
