//go:build !windows

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
	"fmt"
	"os"
	"sort"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/prtip/prtip/pkg/models"
)

// MmapSink appends fixed-size result records directly into a
// memory-mapped file, so a scan with tens of millions of results never
// needs its full result set resident as Go heap objects. The mapping is
// grown (2x capacity doubling, matching the original implementation) by
// unmapping, truncating the backing file, and remapping.
type MmapSink struct {
	mu       sync.Mutex
	file     *os.File
	data     []byte
	capacity uint64 // entries
	count    uint64
}

func NewMmapSink(path string) (*MmapSink, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: open mmap file: %w", err)
	}

	s := &MmapSink{file: f}
	if err := s.mapCapacity(nextCapacity(0)); err != nil {
		f.Close()
		return nil, err
	}
	encodeHeader(s.data[:headerSize], 0)
	return s, nil
}

func (s *MmapSink) mapCapacity(cap uint64) error {
	size := fileSizeForCapacity(cap)
	if err := s.file.Truncate(size); err != nil {
		return fmt.Errorf("sink: truncate mmap file: %w", err)
	}
	data, err := unix.Mmap(int(s.file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("sink: mmap: %w", err)
	}
	s.data = data
	s.capacity = cap
	return nil
}

func (s *MmapSink) grow() error {
	if err := unix.Munmap(s.data); err != nil {
		return fmt.Errorf("sink: munmap during grow: %w", err)
	}
	return s.mapCapacity(nextCapacity(s.capacity))
}

func (s *MmapSink) Write(_ context.Context, result models.ScanResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count >= s.capacity {
		if err := s.grow(); err != nil {
			return err
		}
	}

	entry := encodeEntry(result)
	off := headerSize + int(s.count)*entrySize
	copy(s.data[off:off+entrySize], entry[:])
	s.count++
	encodeHeader(s.data[:headerSize], s.count)
	return nil
}

func (s *MmapSink) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return unix.Msync(s.data, unix.MS_SYNC)
}

func (s *MmapSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := unix.Msync(s.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("sink: final msync: %w", err)
	}
	if err := unix.Munmap(s.data); err != nil {
		return fmt.Errorf("sink: munmap: %w", err)
	}
	return s.file.Close()
}

// Count returns the number of entries written so far.
func (s *MmapSink) Count() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Collect decodes every entry out of the live mapping, without
// reopening the backing file the way ReadAllMmap does for external
// tooling.
func (s *MmapSink) Collect(_ context.Context) ([]models.ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.ScanResult, 0, s.count)
	for i := uint64(0); i < s.count; i++ {
		off := headerSize + int(i)*entrySize
		out = append(out, decodeEntry(s.data[off:off+entrySize]))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TargetIP != out[j].TargetIP {
			return out[i].TargetIP.Less(out[j].TargetIP)
		}
		return out[i].Port < out[j].Port
	})
	return out, nil
}

func (s *MmapSink) Len(_ context.Context) (int, error) {
	return int(s.Count()), nil
}

// ReadAllMmap re-opens path read-only and decodes every entry the header
// claims exists, for verification/export tooling.
func ReadAllMmap(path string) ([]models.ScanResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sink: open mmap file for read: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("sink: stat mmap file: %w", err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("sink: mmap for read: %w", err)
	}
	defer unix.Munmap(data)

	if len(data) < headerSize {
		return nil, fmt.Errorf("sink: mmap file too small for header")
	}
	_, count, entrySz := decodeHeader(data[:headerSize])
	if entrySz != entrySize {
		return nil, fmt.Errorf("sink: unexpected entry size %d", entrySz)
	}

	results := make([]models.ScanResult, 0, count)
	for i := uint64(0); i < count; i++ {
		off := headerSize + int(i)*entrySize
		if off+entrySize > len(data) {
			break
		}
		results = append(results, decodeEntry(data[off:off+entrySize]))
	}
	return results, nil
}
