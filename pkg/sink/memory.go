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

package sink

import (
	"context"
	"sort"
	"sync"

	"github.com/prtip/prtip/pkg/models"
)

// MemorySink accumulates results in a slice under a mutex; Results()
// returns them sorted by (target, port) to match spec.md 6's final
// output-ordering requirement.
type MemorySink struct {
	mu      sync.Mutex
	results []models.ScanResult
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Write(_ context.Context, result models.ScanResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return nil
}

func (s *MemorySink) Flush(_ context.Context) error { return nil }

func (s *MemorySink) Close() error { return nil }

// Results returns a sorted copy of every result written so far.
func (s *MemorySink) Results() []models.ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ScanResult, len(s.results))
	copy(out, s.results)
	sort.Slice(out, func(i, j int) bool {
		if out[i].TargetIP != out[j].TargetIP {
			return out[i].TargetIP.Less(out[j].TargetIP)
		}
		return out[i].Port < out[j].Port
	})
	return out
}

// Collect implements Sink; it is Results with the common ctx signature
// every backend's read-back path shares.
func (s *MemorySink) Collect(_ context.Context) ([]models.ScanResult, error) {
	return s.Results(), nil
}

func (s *MemorySink) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results), nil
}
