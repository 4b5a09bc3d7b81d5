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

package concurrency

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/prtip/prtip/pkg/scanlog"
)

// DefaultMaxHostgroup and MinHostgroup mirror Nmap's default concurrent
// target count and the floor below which a warning is issued.
const (
	DefaultMaxHostgroup = 64
	MinHostgroup        = 1
)

// HostgroupLimiter bounds the number of targets being actively probed
// simultaneously with a counting semaphore; permits are RAII-style via
// the returned guard's Release method.
type HostgroupLimiter struct {
	sem    *semaphore.Weighted
	active atomic.Int64
	log    scanlog.Logger
}

func NewHostgroupLimiter(max int, log scanlog.Logger) *HostgroupLimiter {
	if max < MinHostgroup {
		if log != nil {
			log.Warn().Int("requested", max).Int("floor", MinHostgroup).
				Msg("concurrency: hostgroup size below minimum, raising to floor")
		}
		max = MinHostgroup
	}
	return &HostgroupLimiter{sem: semaphore.NewWeighted(int64(max)), log: log}
}

// Guard releases one hostgroup permit when its Release method is called.
type Guard struct {
	release func()
}

func (g *Guard) Release() {
	if g.release != nil {
		g.release()
		g.release = nil
	}
}

// AcquireTarget blocks until a permit is available or ctx is cancelled.
func (h *HostgroupLimiter) AcquireTarget(ctx context.Context) (*Guard, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	h.active.Add(1)
	return &Guard{release: func() {
		h.active.Add(-1)
		h.sem.Release(1)
	}}, nil
}

// Active reports the current number of acquired permits, for
// introspection.
func (h *HostgroupLimiter) Active() int {
	return int(h.active.Load())
}
