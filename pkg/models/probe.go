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

package models

import "net/netip"

// Protocol identifies the transport a probe was sent over.
type Protocol uint8

const (
	ProtoTCP Protocol = iota
	ProtoUDP
	ProtoICMP
)

// ProbeIdentity is the tuple stateless engines use to recover a probe's
// identity from a response without per-probe memory: (source IP, source
// port, target IP, target port, protocol, cookie). The cookie is computed
// by the caller (see pkg/scan's cookie component) as a keyed hash of the
// other fields plus a per-process secret.
type ProbeIdentity struct {
	SrcIP    netip.Addr
	SrcPort  uint16
	DstIP    netip.Addr
	DstPort  uint16
	Protocol Protocol
	Cookie   uint32
}
