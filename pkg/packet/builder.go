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

// Package packet builds wire-format IPv4/IPv6 + TCP/UDP/ICMP frames with
// correct checksums, on top of gopacket's layer model.
package packet

import (
	"fmt"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/prtip/prtip/pkg/bufpool"
)

const defaultTTL = 64

// TCPFlags is a small value type so callers don't juggle six booleans.
type TCPFlags struct {
	SYN, ACK, FIN, RST, PSH, URG bool
}

// TCPOption mirrors the option kinds spec.md section 4.B names.
type TCPOption struct {
	Kind layers.TCPOptionKind
	Data []byte
}

func MSSOption(mss uint16) TCPOption {
	return TCPOption{Kind: layers.TCPOptionKindMSS, Data: []byte{byte(mss >> 8), byte(mss)}}
}

func WindowScaleOption(shift uint8) TCPOption {
	return TCPOption{Kind: layers.TCPOptionKindWindowScale, Data: []byte{shift}}
}

func SACKPermittedOption() TCPOption {
	return TCPOption{Kind: layers.TCPOptionKindSACKPermitted}
}

func TimestampOption(ts, echo uint32) TCPOption {
	data := make([]byte, 8)
	data[0], data[1], data[2], data[3] = byte(ts>>24), byte(ts>>16), byte(ts>>8), byte(ts)
	data[4], data[5], data[6], data[7] = byte(echo>>24), byte(echo>>16), byte(echo>>8), byte(echo)
	return TCPOption{Kind: layers.TCPOptionKindTimestamps, Data: data}
}

func NOPOption() TCPOption { return TCPOption{Kind: layers.TCPOptionKindNop} }
func EOLOption() TCPOption { return TCPOption{Kind: layers.TCPOptionKindEndList} }

// TCPSpec describes one TCP-over-IP segment to build.
type TCPSpec struct {
	SrcAddr, DstAddr netip.Addr
	SrcPort, DstPort uint16
	Seq, Ack         uint32
	Flags            TCPFlags
	TTL              uint8
	Window           uint16
	Options          []TCPOption
	Payload          []byte
}

func (s TCPSpec) validate() error {
	if s.Flags.SYN && s.SrcPort == 0 {
		return fmt.Errorf("packet: SYN with source port 0 is malformed")
	}
	if !s.SrcAddr.IsValid() || !s.DstAddr.IsValid() {
		return fmt.Errorf("packet: source/destination address required")
	}
	if s.SrcAddr.Is4() != s.DstAddr.Is4() {
		return fmt.Errorf("packet: source/destination address family mismatch")
	}
	return nil
}

func (s TCPSpec) layers() (gopacket.NetworkLayer, *layers.TCP) {
	ttl := s.TTL
	if ttl == 0 {
		ttl = defaultTTL
	}
	window := s.Window
	if window == 0 {
		window = 65535
	}

	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(s.SrcPort),
		DstPort: layers.TCPPort(s.DstPort),
		Seq:     s.Seq,
		Ack:     s.Ack,
		SYN:     s.Flags.SYN,
		ACK:     s.Flags.ACK,
		FIN:     s.Flags.FIN,
		RST:     s.Flags.RST,
		PSH:     s.Flags.PSH,
		URG:     s.Flags.URG,
		Window:  window,
	}
	for _, o := range s.Options {
		tcp.Options = append(tcp.Options, layers.TCPOption{OptionType: o.Kind, OptionLength: uint8(len(o.Data) + 2), OptionData: o.Data})
	}

	if s.SrcAddr.Is4() {
		ip := &layers.IPv4{
			Version:  4,
			TTL:      ttl,
			Protocol: layers.IPProtocolTCP,
			SrcIP:    s.SrcAddr.AsSlice(),
			DstIP:    s.DstAddr.AsSlice(),
		}
		_ = tcp.SetNetworkLayerForChecksum(ip)
		return ip, tcp
	}

	ip6 := &layers.IPv6{
		Version:    6,
		HopLimit:   ttl,
		NextHeader: layers.IPProtocolTCP,
		SrcIP:      s.SrcAddr.AsSlice(),
		DstIP:      s.DstAddr.AsSlice(),
	}
	_ = tcp.SetNetworkLayerForChecksum(ip6)
	return ip6, tcp
}

// BuildTCP allocates and returns an owned byte slice (the "legacy/convenience"
// build mode).
func BuildTCP(spec TCPSpec) ([]byte, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	ipLayer, tcp := spec.layers()

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	var payload gopacket.SerializableLayer
	if len(spec.Payload) > 0 {
		payload = gopacket.Payload(spec.Payload)
	}

	if err := serializeLayers(buf, opts, ipLayer, tcp, payload); err != nil {
		return nil, fmt.Errorf("packet: serialize tcp: %w", err)
	}
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out, nil
}

// BuildTCPWithBuffer writes into pool's current slice and returns a
// reference valid until the pool's next Reset.
func BuildTCPWithBuffer(spec TCPSpec, pool *bufpool.Pool) ([]byte, error) {
	raw, err := BuildTCP(spec)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = pool.With(len(raw), func(buf []byte) error {
		copy(buf, raw)
		out = buf
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("packet: %w", err)
	}
	return out, nil
}

func serializeLayers(buf gopacket.SerializeBuffer, opts gopacket.SerializeOptions, ip gopacket.NetworkLayer, tcp *layers.TCP, payload gopacket.SerializableLayer) error {
	ipSL, ok := ip.(gopacket.SerializableLayer)
	if !ok {
		return fmt.Errorf("network layer is not serializable")
	}
	if payload != nil {
		return gopacket.SerializeLayers(buf, opts, ipSL, tcp, payload)
	}
	return gopacket.SerializeLayers(buf, opts, ipSL, tcp)
}

// UDPSpec describes one UDP-over-IP datagram to build.
type UDPSpec struct {
	SrcAddr, DstAddr netip.Addr
	SrcPort, DstPort uint16
	TTL              uint8
	Payload          []byte
}

func BuildUDP(spec UDPSpec) ([]byte, error) {
	if !spec.SrcAddr.IsValid() || !spec.DstAddr.IsValid() {
		return nil, fmt.Errorf("packet: source/destination address required")
	}
	if spec.SrcAddr.Is4() != spec.DstAddr.Is4() {
		return nil, fmt.Errorf("packet: source/destination address family mismatch")
	}

	ttl := spec.TTL
	if ttl == 0 {
		ttl = defaultTTL
	}

	udp := &layers.UDP{SrcPort: layers.UDPPort(spec.SrcPort), DstPort: layers.UDPPort(spec.DstPort)}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	var ipSL gopacket.SerializableLayer
	if spec.SrcAddr.Is4() {
		ip := &layers.IPv4{Version: 4, TTL: ttl, Protocol: layers.IPProtocolUDP, SrcIP: spec.SrcAddr.AsSlice(), DstIP: spec.DstAddr.AsSlice()}
		_ = udp.SetNetworkLayerForChecksum(ip)
		ipSL = ip
	} else {
		ip6 := &layers.IPv6{Version: 6, HopLimit: ttl, NextHeader: layers.IPProtocolUDP, SrcIP: spec.SrcAddr.AsSlice(), DstIP: spec.DstAddr.AsSlice()}
		_ = udp.SetNetworkLayerForChecksum(ip6)
		ipSL = ip6
	}

	var err error
	if len(spec.Payload) > 0 {
		err = gopacket.SerializeLayers(buf, opts, ipSL, udp, gopacket.Payload(spec.Payload))
	} else {
		err = gopacket.SerializeLayers(buf, opts, ipSL, udp)
	}
	if err != nil {
		return nil, fmt.Errorf("packet: serialize udp: %w", err)
	}
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out, nil
}

// ICMPEchoSpec describes an ICMPv4 echo request/reply.
type ICMPEchoSpec struct {
	SrcAddr, DstAddr netip.Addr
	TTL              uint8
	ID, Seq          uint16
	IsReply          bool
	Payload          []byte
}

func BuildICMPEcho(spec ICMPEchoSpec) ([]byte, error) {
	if !spec.SrcAddr.Is4() || !spec.DstAddr.Is4() {
		return nil, fmt.Errorf("packet: ICMPv4 requires IPv4 addresses")
	}
	ttl := spec.TTL
	if ttl == 0 {
		ttl = defaultTTL
	}

	typ := layers.ICMPv4TypeEchoRequest
	if spec.IsReply {
		typ = layers.ICMPv4TypeEchoReply
	}

	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(typ, 0),
		Id:       spec.ID,
		Seq:      spec.Seq,
	}
	ip := &layers.IPv4{Version: 4, TTL: ttl, Protocol: layers.IPProtocolICMPv4, SrcIP: spec.SrcAddr.AsSlice(), DstIP: spec.DstAddr.AsSlice()}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	var err error
	if len(spec.Payload) > 0 {
		err = gopacket.SerializeLayers(buf, opts, ip, icmp, gopacket.Payload(spec.Payload))
	} else {
		err = gopacket.SerializeLayers(buf, opts, ip, icmp)
	}
	if err != nil {
		return nil, fmt.Errorf("packet: serialize icmp echo: %w", err)
	}
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out, nil
}
