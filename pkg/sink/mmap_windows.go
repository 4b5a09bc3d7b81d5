//go:build windows

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
	"errors"

	"github.com/prtip/prtip/pkg/models"
)

var errMmapUnsupported = errors.New("sink: mmap backend requires a Unix-like platform; use the sqlite or memory backend on Windows")

// MmapSink is unavailable on Windows; golang.org/x/sys/windows exposes a
// different mapping API (CreateFileMapping/MapViewOfFile) that this
// engine does not wire up, since none of the retrieval pack's examples
// exercise it.
type MmapSink struct{}

func NewMmapSink(string) (*MmapSink, error) { return nil, errMmapUnsupported }

func (s *MmapSink) Write(context.Context, models.ScanResult) error { return errMmapUnsupported }
func (s *MmapSink) Flush(context.Context) error                   { return errMmapUnsupported }
func (s *MmapSink) Close() error                                   { return nil }

func (s *MmapSink) Collect(context.Context) ([]models.ScanResult, error) {
	return nil, errMmapUnsupported
}
func (s *MmapSink) Len(context.Context) (int, error) { return 0, errMmapUnsupported }
