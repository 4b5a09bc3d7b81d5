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

// Package capture abstracts raw send/receive of IP frames across
// platforms, with a Linux sendmmsg batch-send fast path.
package capture

import (
	"errors"
	"time"
)

// ErrNotOpen, ErrTooLarge, ErrSendFailed and ErrTimeout are the typed
// failures the capture layer returns; callers discriminate with errors.Is.
var (
	ErrNotOpen    = errors.New("capture: handle not open")
	ErrTooLarge   = errors.New("capture: packet exceeds 65535 bytes")
	ErrSendFailed = errors.New("capture: send failed")
	ErrTimeout    = errors.New("capture: receive timed out")
)

const maxPacketSize = 65535

// Capability records what the current platform/process can do, detected
// once at startup.
type Capability struct {
	HasSendmmsg  bool
	HasRecvmmsg  bool
	HasAFPacket  bool
	HasRawSocket bool
}

// DetectCapability probes the current process for raw-socket privilege
// and the platform's batch-syscall support.
func DetectCapability() Capability {
	cap := Capability{
		HasSendmmsg: sendmmsgSupported,
	}
	cap.HasRawSocket = probeRawSocket()
	return cap
}

// Handle is an open raw-I/O endpoint bound to one interface/address
// family.
type Handle interface {
	// SendPacket sends one fully-formed packet (including IP header).
	SendPacket(b []byte) error
	// SendBatch sends as many packets as the platform can batch in one
	// syscall; on non-Linux or without sendmmsg support it loops over
	// single sends. Returns the count actually sent.
	SendBatch(pkts [][]byte) (int, error)
	// ReceivePacket blocks up to timeout for one inbound packet.
	ReceivePacket(timeout time.Duration) ([]byte, error)
	Close() error
}
