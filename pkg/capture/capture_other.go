//go:build !linux

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

package capture

import (
	"fmt"
	"net"
	"time"
)

const sendmmsgSupported = false

func probeRawSocket() bool {
	conn, err := net.ListenIP("ip4:tcp", nil)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// genericHandle wraps a raw IP socket via the net package. Every platform
// without a sendmmsg-equivalent batches by looping single sends, per
// spec.md 4.C: "on other platforms the batch API loops over single
// sends."
type genericHandle struct {
	conn *net.IPConn
}

func Open(interfaceHint string) (Handle, error) {
	conn, err := net.ListenIP("ip4:tcp", nil)
	if err != nil {
		return nil, fmt.Errorf("capture: open raw socket: %w", err)
	}
	return &genericHandle{conn: conn}, nil
}

func (h *genericHandle) SendPacket(b []byte) error {
	if h.conn == nil {
		return ErrNotOpen
	}
	if len(b) == 0 || len(b) > maxPacketSize {
		return ErrTooLarge
	}
	dst, err := destIPFromHeader(b)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	if _, err := h.conn.WriteToIP(b, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

func (h *genericHandle) SendBatch(pkts [][]byte) (int, error) {
	sent := 0
	for _, pkt := range pkts {
		if err := h.SendPacket(pkt); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func (h *genericHandle) ReceivePacket(timeout time.Duration) ([]byte, error) {
	if h.conn == nil {
		return nil, ErrNotOpen
	}
	if err := h.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("capture: set read deadline: %w", err)
	}
	buf := make([]byte, maxPacketSize)
	n, _, err := h.conn.ReadFromIP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("capture: read: %w", err)
	}
	return buf[:n], nil
}

func (h *genericHandle) Close() error {
	if h.conn == nil {
		return nil
	}
	err := h.conn.Close()
	h.conn = nil
	return err
}

func destIPFromHeader(b []byte) (*net.IPAddr, error) {
	if len(b) < 20 {
		return nil, fmt.Errorf("short IPv4 header")
	}
	return &net.IPAddr{IP: net.IP(b[16:20])}, nil
}
