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

// Package ratelimit paces packet sends with a token bucket, an
// ICMP-backoff feedback loop, and an adaptive batch sizer.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// burstSize=100 is the empirically-tuned value: burst=1 measured ~40%
// throughput overhead, burst=100 ~15% (optimal), burst=1000 regressed to
// 10-33%.
const burstSize = 100

// backoffFactors maps ICMP-backoff level -> multiplicative rate factor.
var backoffFactors = [5]float64{1.0, 0.5, 0.25, 0.1, 0.05}

// cleanWindowsToRecover is how many consecutive clean windows (no
// backoff-triggering ICMP message) step the backoff level down by one.
// spec.md leaves the exact threshold unspecified ("N consecutive clean
// windows"); this module fixes N=3.
const cleanWindowsToRecover = 3

// Limiter is a thread-safe token-bucket rate limiter with ICMP-backoff
// feedback and an adaptive batch sizer.
type Limiter struct {
	basePPS int

	mu           sync.Mutex
	limiter      *rate.Limiter
	backoffLevel int
	cleanWindows int

	batch BatchSizer
}

// New builds a Limiter for the given base packets-per-second quota. A
// non-positive pps means unlimited (acquire returns immediately).
func New(pps int) *Limiter {
	l := &Limiter{basePPS: pps, batch: NewBatchSizer(BatchSizerConfig{})}
	l.rebuild()
	return l
}

func (l *Limiter) rebuild() {
	if l.basePPS <= 0 {
		l.limiter = nil
		return
	}
	effective := float64(l.basePPS) * backoffFactors[l.backoffLevel]
	if effective < 1 {
		effective = 1
	}
	l.limiter = rate.NewLimiter(rate.Limit(effective), burstSize)
}

// Acquire blocks cooperatively until a token is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	lim := l.limiter
	l.mu.Unlock()
	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}

// TryAcquire is the non-blocking variant.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limiter == nil {
		return true
	}
	return l.limiter.Allow()
}

// ReportICMPBackoffSignal is called whenever the receive path observes an
// ICMP destination-unreachable or admin-prohibited message within the
// current window; it immediately raises the backoff level by one notch
// (clamped) and resets the clean-window counter.
func (l *Limiter) ReportICMPBackoffSignal() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.backoffLevel < len(backoffFactors)-1 {
		l.backoffLevel++
		l.rebuild()
	}
	l.cleanWindows = 0
}

// ReportCleanWindow is called once per rate-limiter window that saw no
// backoff-triggering ICMP message; after cleanWindowsToRecover consecutive
// clean windows the backoff level drops by one notch.
func (l *Limiter) ReportCleanWindow() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.backoffLevel == 0 {
		return
	}
	l.cleanWindows++
	if l.cleanWindows >= cleanWindowsToRecover {
		l.backoffLevel--
		l.cleanWindows = 0
		l.rebuild()
	}
}

// BackoffLevel reports the current ICMP-backoff level (0 = no backoff).
func (l *Limiter) BackoffLevel() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backoffLevel
}

// BatchSize returns the current adaptive batch size.
func (l *Limiter) BatchSize() int { return l.batch.Size() }

// ReportBatchOutcome feeds one window's send/receive counts to the
// adaptive batch sizer.
func (l *Limiter) ReportBatchOutcome(sent, received int) {
	l.batch.Report(sent, received)
}

// BatchSizerConfig configures the adaptive batch sizer's thresholds.
type BatchSizerConfig struct {
	Min, Max                     int
	IncreaseThreshold            float64 // success ratio >= this doubles the batch
	DecreaseThreshold            float64 // success ratio <= this halves the batch
	Window                       time.Duration
	MemoryCeilingBytesPerPacket  int
	MemoryCeilingBytes           int
}

func (c BatchSizerConfig) withDefaults() BatchSizerConfig {
	if c.Min <= 0 {
		c.Min = 10
	}
	if c.Max <= 0 {
		c.Max = 10000
	}
	if c.IncreaseThreshold <= 0 {
		c.IncreaseThreshold = 0.95
	}
	if c.DecreaseThreshold <= 0 {
		c.DecreaseThreshold = 0.5
	}
	if c.Window <= 0 {
		c.Window = 5 * time.Second
	}
	return c
}

// BatchSizer grows or shrinks the batch size from send/receive ratios.
// Each Report call is treated as one window whose bounds the caller
// chooses; the sizer keeps no rolling window of its own and does not
// consult BatchSizerConfig.Window.
type BatchSizer struct {
	cfg  BatchSizerConfig
	size atomic.Int64
}

func NewBatchSizer(cfg BatchSizerConfig) BatchSizer {
	cfg = cfg.withDefaults()
	bs := BatchSizer{cfg: cfg}
	bs.size.Store(int64(cfg.Min))
	return bs
}

func (b *BatchSizer) Size() int { return int(b.size.Load()) }

// Report updates the batch size given one window's sent/received counts.
// A memory ceiling (if configured) further caps the result.
func (b *BatchSizer) Report(sent, received int) {
	if sent == 0 {
		return
	}
	ratio := float64(received) / float64(sent)
	cur := b.size.Load()

	var next int64
	switch {
	case ratio >= b.cfg.IncreaseThreshold:
		next = cur * 2
	case ratio <= b.cfg.DecreaseThreshold:
		next = cur / 2
	default:
		next = cur
	}

	if next < int64(b.cfg.Min) {
		next = int64(b.cfg.Min)
	}
	if next > int64(b.cfg.Max) {
		next = int64(b.cfg.Max)
	}
	if b.cfg.MemoryCeilingBytes > 0 && b.cfg.MemoryCeilingBytesPerPacket > 0 {
		ceiling := int64(b.cfg.MemoryCeilingBytes / b.cfg.MemoryCeilingBytesPerPacket)
		if next > ceiling {
			next = ceiling
		}
	}

	b.size.Store(next)
}
