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

	"golang.org/x/sync/errgroup"
)

// BoundedPool keeps a working set of exactly N in-flight tasks: as one
// completes, the next is dispatched. Engines use this instead of
// spawning unbounded goroutines, per spec.md 4.H.
type BoundedPool struct {
	n int
}

func NewBoundedPool(n int) *BoundedPool {
	if n < 1 {
		n = 1
	}
	return &BoundedPool{n: n}
}

// Run executes fn(item) for every item in items, at most Pool.n
// concurrently, stopping at the first error (errgroup semantics). The
// caller's fn must itself check ctx for cancellation on long-running
// work.
func (p *BoundedPool) Run(ctx context.Context, items []int, fn func(ctx context.Context, item int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.n)

	for _, item := range items {
		item := item
		g.Go(func() error {
			return fn(ctx, item)
		})
	}
	return g.Wait()
}
