//go:build linux

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
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

var sockaddrInet4Size = unsafe.Sizeof(unix.RawSockaddrInet4{})

const sendmmsgSupported = true

func probeRawSocket() bool {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_RAW)
	if err != nil {
		return false
	}
	_ = unix.Close(fd)
	return true
}

// rawHandle is a raw IPv4 socket with IP_HDRINCL set, following
// carverauto's syn_scanner.go send-socket setup.
type rawHandle struct {
	fd int
}

// Open creates a raw IPv4 socket bound for sending pre-built packets
// (IP_HDRINCL). interfaceHint is presently unused beyond documentation;
// routing is left to the kernel based on destination address.
func Open(interfaceHint string) (Handle, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_RAW)
	if err != nil {
		return nil, fmt.Errorf("capture: open raw socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_HDRINCL, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("capture: set IP_HDRINCL: %w", err)
	}
	return &rawHandle{fd: fd}, nil
}

func (h *rawHandle) SendPacket(b []byte) error {
	if h.fd < 0 {
		return ErrNotOpen
	}
	if len(b) == 0 || len(b) > maxPacketSize {
		return ErrTooLarge
	}

	dst, err := destFromIPHeader(b)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	if err := unix.Sendto(h.fd, b, 0, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// SendBatch uses sendmmsg on Linux; see mmsghdr_linux_*.go for the
// per-architecture struct layout.
func (h *rawHandle) SendBatch(pkts [][]byte) (int, error) {
	if h.fd < 0 {
		return 0, ErrNotOpen
	}
	if len(pkts) == 0 {
		return 0, nil
	}

	msgs := make([]Mmsghdr, 0, len(pkts))
	iovecs := make([]unix.Iovec, len(pkts))
	sas := make([]unix.RawSockaddrInet4, len(pkts))

	for i, pkt := range pkts {
		if len(pkt) == 0 || len(pkt) > maxPacketSize {
			return i, ErrTooLarge
		}
		dst, err := destFromIPHeader(pkt)
		if err != nil {
			return i, fmt.Errorf("%w: %v", ErrSendFailed, err)
		}
		dst4, ok := dst.(*unix.SockaddrInet4)
		if !ok {
			return i, fmt.Errorf("%w: non-IPv4 destination in batch", ErrSendFailed)
		}
		sas[i].Family = unix.AF_INET
		sas[i].Addr = dst4.Addr
		iovecs[i].SetLen(len(pkt))
		iovecs[i].Base = &pkt[0]

		var hdr Mmsghdr
		hdr.Hdr.Name = (*byte)(unsafe.Pointer(&sas[i]))
		hdr.Hdr.Namelen = uint32(sockaddrInet4Size)
		hdr.Hdr.Iov = &iovecs[i]
		hdr.Hdr.Iovlen = 1
		msgs = append(msgs, hdr)
	}

	n, err := sendmmsg(h.fd, msgs, 0)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return n, nil
}

func (h *rawHandle) ReceivePacket(timeout time.Duration) ([]byte, error) {
	if h.fd < 0 {
		return nil, ErrNotOpen
	}

	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(h.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return nil, fmt.Errorf("capture: set recv timeout: %w", err)
	}

	buf := make([]byte, maxPacketSize)
	n, _, err := unix.Recvfrom(h.fd, buf, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("capture: recvfrom: %w", err)
	}
	return buf[:n], nil
}

func (h *rawHandle) Close() error {
	if h.fd < 0 {
		return nil
	}
	err := unix.Close(h.fd)
	h.fd = -1
	return err
}

func destFromIPHeader(b []byte) (unix.Sockaddr, error) {
	if len(b) < 20 {
		return nil, fmt.Errorf("short IPv4 header")
	}
	var addr [4]byte
	copy(addr[:], b[16:20])
	return &unix.SockaddrInet4{Addr: addr}, nil
}
