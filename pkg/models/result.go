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

// Package models provides the data types shared across the scanning engine.
package models

import (
	"net/netip"
	"strconv"
	"time"
)

// PortState is the outcome of probing a single port.
type PortState int

const (
	StateUnknown PortState = iota
	StateOpen
	StateClosed
	StateFiltered
)

func (s PortState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFiltered:
		return "filtered"
	default:
		return "unknown"
	}
}

// ScanResult is created exactly once per (target, port) and never mutated
// after it is handed to a Sink.
type ScanResult struct {
	TargetIP     netip.Addr
	Port         uint16
	State        PortState
	Service      string
	Product      string
	Version      string
	Banner       string
	RawResponse  []byte
	ResponseTime time.Duration
	Timestamp    time.Time

	// Certificate is populated when the service detector performed a TLS
	// handshake against this port.
	Certificate *CertificateChain
}

// Key identifies a ScanResult by its (target, port) pair, used for sink
// dedup and SQLite upsert keys.
func (r ScanResult) Key() string {
	return r.TargetIP.String() + "|" + strconv.Itoa(int(r.Port))
}
