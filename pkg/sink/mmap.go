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
	"encoding/binary"
	"net/netip"
	"time"

	"github.com/prtip/prtip/pkg/models"
)

// Wire format, byte-for-byte as original_source/output/mmap_writer.rs:
//
//	header (64 bytes):
//	  offset 0:  u64 LE  format version
//	  offset 8:  u64 LE  entry count
//	  offset 16: u64 LE  entry size (always entrySize)
//	  offset 24: u64 LE  reserved, checksum slot (unused, always 0)
//	  offset 32: 32 bytes reserved, zeroed
//	entries: fixed-size 512-byte records starting at offset 64.
const (
	headerSize       = 64
	entrySize        = 512
	formatVersion    = 1
	initialCapacity  = 1024 // entries; file grows by doubling past this
	growthFactor     = 2
	entryIPOffset    = 0  // 16 bytes, v4-mapped v6 or zero-padded v4
	entryPortOffset  = 16 // u16 LE
	entryStateOffset = 18 // u8
	entryRTTOffset   = 24 // u64 LE nanoseconds
	entryTSOffset    = 32 // u64 LE unix nanoseconds
	entryServiceOff  = 40 // remaining bytes: length-prefixed service/product/version/banner
)

func encodeHeader(buf []byte, entryCount uint64) {
	binary.LittleEndian.PutUint64(buf[0:8], formatVersion)
	binary.LittleEndian.PutUint64(buf[8:16], entryCount)
	binary.LittleEndian.PutUint64(buf[16:24], entrySize)
	binary.LittleEndian.PutUint64(buf[24:32], 0)
	for i := 32; i < 64; i++ {
		buf[i] = 0
	}
}

func decodeHeader(buf []byte) (version, entryCount, entrySz uint64) {
	version = binary.LittleEndian.Uint64(buf[0:8])
	entryCount = binary.LittleEndian.Uint64(buf[8:16])
	entrySz = binary.LittleEndian.Uint64(buf[16:24])
	return
}

// encodeEntry packs one ScanResult into a 512-byte fixed record. The
// variable-length string fields are length-prefixed (1-byte length + up
// to 117 bytes each) starting at entryServiceOff, truncated if they
// don't fit — this sink trades unbounded banner capture for a bounded,
// seekable record size.
func encodeEntry(r models.ScanResult) [entrySize]byte {
	var e [entrySize]byte

	ip16 := r.TargetIP.As16()
	copy(e[entryIPOffset:entryIPOffset+16], ip16[:])
	binary.LittleEndian.PutUint16(e[entryPortOffset:entryPortOffset+2], r.Port)
	e[entryStateOffset] = byte(r.State)
	binary.LittleEndian.PutUint64(e[entryRTTOffset:entryRTTOffset+8], uint64(r.ResponseTime.Nanoseconds()))
	binary.LittleEndian.PutUint64(e[entryTSOffset:entryTSOffset+8], uint64(r.Timestamp.UnixNano()))

	fields := []string{r.Service, r.Product, r.Version, r.Banner}
	off := entryServiceOff
	const perField = (entrySize - entryServiceOff) / 4
	for _, f := range fields {
		if off+perField > entrySize {
			break
		}
		n := len(f)
		if n > perField-1 {
			n = perField - 1
		}
		e[off] = byte(n)
		copy(e[off+1:off+1+n], f[:n])
		off += perField
	}
	return e
}

func decodeEntry(e []byte) models.ScanResult {
	var ipBytes [16]byte
	copy(ipBytes[:], e[entryIPOffset:entryIPOffset+16])
	ip := netip.AddrFrom16(ipBytes).Unmap()

	r := models.ScanResult{
		TargetIP:     ip,
		Port:         binary.LittleEndian.Uint16(e[entryPortOffset : entryPortOffset+2]),
		State:        models.PortState(e[entryStateOffset]),
		ResponseTime: time.Duration(binary.LittleEndian.Uint64(e[entryRTTOffset : entryRTTOffset+8])),
		Timestamp:    time.Unix(0, int64(binary.LittleEndian.Uint64(e[entryTSOffset:entryTSOffset+8]))),
	}

	const perField = (entrySize - entryServiceOff) / 4
	fieldPtrs := []*string{&r.Service, &r.Product, &r.Version, &r.Banner}
	off := entryServiceOff
	for _, fp := range fieldPtrs {
		if off+perField > len(e) {
			break
		}
		n := int(e[off])
		if n > perField-1 {
			n = perField - 1
		}
		*fp = string(e[off+1 : off+1+n])
		off += perField
	}
	return r
}

func nextCapacity(cur uint64) uint64 {
	if cur == 0 {
		return initialCapacity
	}
	return cur * growthFactor
}

func fileSizeForCapacity(cap uint64) int64 {
	return int64(headerSize) + int64(cap)*entrySize
}
