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

// Package sink implements the engine's result-persistence layer behind
// one interface, with three backends: an in-memory sink for small
// ad-hoc scans, an async-flushed SQLite sink for queryable archives, and
// a memory-mapped sink for very large scans that must not hold their
// full result set in process memory.
package sink

import (
	"context"

	"github.com/prtip/prtip/pkg/models"
)

// Sink receives one ScanResult at a time, in arbitrary order, and
// commits them durably (or to memory) before Close returns.
type Sink interface {
	Write(ctx context.Context, result models.ScanResult) error
	// Flush forces any buffered results to be committed without closing
	// the sink, so a long scan's partial results survive a crash.
	// AsyncSQLiteSink's Flush returns without waiting for results still
	// queued for its writer goroutine; only its Close waits for them.
	Flush(ctx context.Context) error
	Close() error
	// Collect reads back every result written so far, sorted by
	// (target, port). Backends that hold results off-heap (sqlite,
	// mmap) read them back from their backing store rather than from
	// any in-process cache.
	Collect(ctx context.Context) ([]models.ScanResult, error)
	// Len reports how many results have been committed so far, without
	// paying the cost of a full Collect.
	Len(ctx context.Context) (int, error)
}
