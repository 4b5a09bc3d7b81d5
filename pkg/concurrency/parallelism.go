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

// Package concurrency implements the scanning engine's bounded-resource
// primitives: adaptive parallelism sizing, the hostgroup limiter, and the
// bounded future pool that keeps a steady-state working set of in-flight
// probes.
package concurrency

import (
	"github.com/prtip/prtip/pkg/models"
	"github.com/prtip/prtip/pkg/scanlog"
)

// MinParallelism and MaxParallelism are the hard clamp bounds, taken from
// the reference implementation's adaptive_parallelism module.
const (
	MinParallelism = 20
	MaxParallelism = 2000
)

// ParallelismForPortCount implements the adaptive table: <=1000 -> 20,
// 1001-5000 -> 100, 5001-20000 -> 500, >20000 -> 1000.
func ParallelismForPortCount(portCount int) int {
	switch {
	case portCount <= 1000:
		return 20
	case portCount <= 5000:
		return 100
	case portCount <= 20000:
		return 500
	default:
		return 1000
	}
}

// ScanTypeMultiplier adjusts the adaptive figure per scan type, per
// spec.md 4.H: SYN/stealth x2, UDP x0.5, idle forced to the minimum.
func ScanTypeMultiplier(st models.ScanType) float64 {
	switch st {
	case models.ScanSYN, models.ScanFIN, models.ScanNULL, models.ScanXmas, models.ScanACK:
		return 2.0
	case models.ScanUDP:
		return 0.5
	case models.ScanIdle:
		return 0 // forced to minimum, handled specially below
	default:
		return 1.0
	}
}

// CalculateParallelism computes the final parallelism figure: adaptive
// table x scan-type multiplier, bounded by a user override (itself
// clamped with a logged warning rather than rejected), a ulimit-derived
// ceiling (50% of the process's file-descriptor soft limit), and the
// absolute [MinParallelism, MaxParallelism] clamp.
func CalculateParallelism(portCount int, st models.ScanType, userOverride int, ulimitSoft int, log scanlog.Logger) int {
	adaptive := ParallelismForPortCount(portCount)

	if st == models.ScanIdle {
		adaptive = MinParallelism
	} else {
		mult := ScanTypeMultiplier(st)
		adaptive = int(float64(adaptive) * mult)
	}

	final := clamp(adaptive, MinParallelism, MaxParallelism)

	if userOverride > 0 {
		clamped := clamp(userOverride, MinParallelism, MaxParallelism)
		if clamped != userOverride && log != nil {
			log.Warn().Int("requested", userOverride).Int("clamped", clamped).
				Msg("concurrency: user parallelism override clamped to valid range")
		}
		final = clamped
	}

	if ulimitSoft > 0 {
		ceiling := ulimitSoft / 2
		if final > ceiling {
			if log != nil {
				log.Warn().Int("parallelism", final).Int("ulimit_ceiling", ceiling).
					Msg("concurrency: parallelism reduced to fit file-descriptor ulimit")
			}
			final = ceiling
		}
	}

	return clamp(final, MinParallelism, MaxParallelism)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
