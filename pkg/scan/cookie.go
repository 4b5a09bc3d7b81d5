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

// Package scan implements the per-technique scan-type state machines:
// TCP connect, stateless SYN, UDP, stealth FIN/NULL/Xmas/ACK, and idle.
package scan

import (
	"crypto/rand"
	"encoding/binary"
	"net/netip"
	"sync"

	"github.com/minio/highwayhash"
)

// CookieJar derives a probe's identity cookie from its (src-ip, src-port,
// dst-ip, dst-port, protocol) tuple plus a per-process secret, so
// stateless engines can validate a response without per-probe memory.
// Uses HighwayHash, a keyed hash function, matching spec.md's
// "SipHash-style keyed hash" requirement.
type CookieJar struct {
	mu     sync.Mutex
	secret [32]byte
}

// NewCookieJar generates a fresh random per-process secret.
func NewCookieJar() (*CookieJar, error) {
	var secret [32]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return nil, err
	}
	return &CookieJar{secret: secret}, nil
}

// NewCookieJarWithSecret builds a jar from a caller-supplied 32-byte key,
// primarily for deterministic tests.
func NewCookieJarWithSecret(secret [32]byte) *CookieJar {
	return &CookieJar{secret: secret}
}

// Cookie computes the 32-bit cookie for a probe tuple. Packed into 8
// bytes of the hash output, truncated to fit a TCP sequence number's
// low bits / an ephemeral port, per the engine's choice.
func (c *CookieJar) Cookie(srcIP, dstIP netip.Addr, srcPort, dstPort uint16, proto uint8) uint32 {
	buf := make([]byte, 0, 32+2+2+1)
	buf = append(buf, srcIP.AsSlice()...)
	buf = append(buf, dstIP.AsSlice()...)
	buf = binary.BigEndian.AppendUint16(buf, srcPort)
	buf = binary.BigEndian.AppendUint16(buf, dstPort)
	buf = append(buf, proto)

	c.mu.Lock()
	key := c.secret
	c.mu.Unlock()

	sum := highwayhash.Sum64(buf, key[:])
	return uint32(sum)
}

// Verify recomputes the cookie for the tuple implied by a response and
// checks it against the cookie embedded in that response (e.g. the
// low 32 bits of an acknowledgement number for SYN, or the ICMP
// identifier field). The tuple passed here is from the probe's point of
// view: srcIP/srcPort is *our* address, dstIP/dstPort is the target's.
func (c *CookieJar) Verify(srcIP, dstIP netip.Addr, srcPort, dstPort uint16, proto uint8, got uint32) bool {
	return c.Cookie(srcIP, dstIP, srcPort, dstPort, proto) == got
}
