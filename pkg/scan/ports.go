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

package scan

// Top100Ports is a fixed list of 100 commonly open TCP ports, in
// ascending numeric order, modeled on Nmap's nmap-services top-ports
// convention. No code path in the engine selects it automatically.
var Top100Ports = []uint16{
	7, 9, 13, 21, 22, 23, 25, 26, 37, 53,
	79, 80, 81, 88, 106, 110, 111, 113, 119, 135,
	139, 143, 144, 179, 199, 389, 427, 443, 444, 445,
	465, 513, 514, 515, 543, 544, 548, 554, 587, 631,
	646, 873, 990, 993, 995, 1025, 1026, 1027, 1028, 1029,
	1110, 1433, 1720, 1723, 1755, 1900, 2000, 2001, 2049, 2121,
	2717, 3000, 3128, 3306, 3389, 3986, 4899, 5000, 5009, 5051,
	5060, 5101, 5190, 5357, 5432, 5631, 5666, 5800, 5900, 6000,
	6001, 6646, 7070, 8000, 8008, 8009, 8080, 8081, 8443, 8888,
	9100, 9999, 10000, 32768, 49152, 49153, 49154, 49155, 49156, 49157,
}

// udpPayloads maps well-known UDP service ports to a minimal protocol
// probe payload, per spec.md 4.C's requirement that a UDP scan send
// protocol-specific payloads rather than an empty datagram.
var udpPayloads = map[uint16][]byte{
	53:   dnsQueryPayload(),
	69:   {0x00, 0x01}, // TFTP RRQ opcode fragment, enough to elicit an error
	111:  rpcNullCallPayload(),
	123:  ntpClientPayload(),
	137:  netbiosNameQueryPayload(),
	161:  snmpGetRequestPayload(),
	500:  ikeHeaderPayload(),
	1900: ssdpSearchPayload(),
	5353: dnsQueryPayload(), // mDNS shares the DNS wire format
}

func dnsQueryPayload() []byte {
	return []byte{
		0x00, 0x00, 0x01, 0x00, 0x00, 0x01, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00,       // root label
		0x00, 0x01, // type A
		0x00, 0x01, // class IN
	}
}

func ntpClientPayload() []byte {
	p := make([]byte, 48)
	p[0] = 0x1B // LI=0, VN=3, Mode=3 (client)
	return p
}

func snmpGetRequestPayload() []byte {
	// Minimal SNMPv1 GetRequest for sysDescr.0 with community "public".
	return []byte{
		0x30, 0x26, 0x02, 0x01, 0x00, 0x04, 0x06, 'p', 'u', 'b', 'l', 'i', 'c',
		0xa0, 0x19, 0x02, 0x01, 0x01, 0x02, 0x01, 0x00, 0x02, 0x01, 0x00,
		0x30, 0x0e, 0x30, 0x0c, 0x06, 0x08, 0x2b, 0x06, 0x01, 0x02, 0x01, 0x01, 0x01, 0x00, 0x05, 0x00,
	}
}

func netbiosNameQueryPayload() []byte {
	return []byte{
		0x00, 0x00, 0x00, 0x10, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x20, 'C', 'K', 'A', 'A', 'A', 'A', 'A', 'A', 'A', 'A', 'A', 'A', 'A', 'A',
		'A', 'A', 'A', 'A', 'A', 'A', 'A', 'A', 'A', 'A', 'A', 'A', 'A', 'A', 'A',
		'A', 'A', 0x00, 0x00, 0x21, 0x00, 0x01,
	}
}

func rpcNullCallPayload() []byte {
	// Portmapper NULL procedure call, RPC version 2, program 100000.
	return []byte{
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x02, 0x00, 0x01, 0x86, 0xa0,
		0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
}

func ikeHeaderPayload() []byte {
	return make([]byte, 28) // zeroed ISAKMP header, enough to elicit a response
}

func ssdpSearchPayload() []byte {
	return []byte("M-SEARCH * HTTP/1.1\r\nHOST:239.255.255.250:1900\r\nMAN:\"ssdp:discover\"\r\nMX:1\r\nST:ssdp:all\r\n\r\n")
}
