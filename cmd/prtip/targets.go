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

package main

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/prtip/prtip/pkg/models"
)

// parseOneTarget classifies a single -targets entry as a CIDR block, an
// inclusive "lo-hi" address range, a bare IP address, or a hostname to
// resolve at scan time.
func parseOneTarget(item string) (models.Target, error) {
	if prefix, err := netip.ParsePrefix(item); err == nil {
		return models.Target{Kind: models.TargetCIDR, CIDR: prefix}, nil
	}

	if lo, hi, ok := strings.Cut(item, "-"); ok {
		loAddr, errLo := netip.ParseAddr(strings.TrimSpace(lo))
		hiAddr, errHi := netip.ParseAddr(strings.TrimSpace(hi))
		if errLo == nil && errHi == nil {
			return models.Target{Kind: models.TargetRange, RangeLo: loAddr, RangeHi: hiAddr}, nil
		}
	}

	if addr, err := netip.ParseAddr(item); err == nil {
		return models.Target{Kind: models.TargetAddr, Addr: addr}, nil
	}

	if item == "" {
		return models.Target{}, fmt.Errorf("empty target")
	}
	return models.Target{Kind: models.TargetHostname, Hostname: item}, nil
}
