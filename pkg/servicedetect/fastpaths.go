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

package servicedetect

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

// fastPath is a port-specific detector that skips the generic banner
// grab entirely; it reports ok=false to fall through to it.
type fastPath func(ctx context.Context, addr string, timeout time.Duration) (Detection, bool)

var fastPaths = map[uint16]fastPath{
	22:   sshFastPath,
	80:   httpFastPath,
	443:  tlsFastPath,
	3306: mysqlFastPath,
	5432: postgresFastPath,
	8080: httpFastPath,
	8443: tlsFastPath,
	161:  snmpFastPath,
	445:  smbFastPath,
}

func sshFastPath(_ context.Context, addr string, timeout time.Duration) (Detection, bool) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return Detection{}, false
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil || !strings.HasPrefix(line, "SSH-") {
		return Detection{}, false
	}
	line = strings.TrimRight(line, "\r\n")

	product, version := "", ""
	if parts := strings.SplitN(line, "-", 3); len(parts) == 3 {
		product, version = splitProductVersion(parts[2])
	}
	return Detection{Service: "ssh", Product: product, Version: version, Banner: line}, true
}

func httpFastPath(_ context.Context, addr string, timeout time.Duration) (Detection, bool) {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Head(fmt.Sprintf("http://%s/", addr))
	if err != nil {
		return Detection{}, false
	}
	defer resp.Body.Close()

	server := resp.Header.Get("Server")
	product, version := splitProductVersion(server)
	return Detection{Service: "http", Product: product, Version: version, Banner: server}, true
}

func tlsFastPath(ctx context.Context, addr string, timeout time.Duration) (Detection, bool) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return Detection{}, false
	}
	chain, err := ExtractCertificateChain(addr, host, timeout)
	if err != nil {
		return Detection{}, false
	}

	det := Detection{Service: "https", Certificate: chain}
	if len(chain.Certificates) > 0 {
		det.Banner = chain.Certificates[0].Subject
	}

	// A TLS handshake succeeded; try an HTTP request over it too so the
	// Product/Version fields aren't left empty for a plain HTTPS server.
	if h, ok := httpsFastPath(ctx, addr, timeout); ok {
		det.Product, det.Version = h.Product, h.Version
	}
	return det, true
}

func httpsFastPath(_ context.Context, addr string, timeout time.Duration) (Detection, bool) {
	client := &http.Client{Timeout: timeout, Transport: &http.Transport{}}
	resp, err := client.Head(fmt.Sprintf("https://%s/", addr))
	if err != nil {
		return Detection{}, false
	}
	defer resp.Body.Close()
	server := resp.Header.Get("Server")
	product, version := splitProductVersion(server)
	return Detection{Product: product, Version: version}, server != ""
}

// mysqlFastPath reads MySQL's initial handshake packet, which carries
// the server version as a NUL-terminated string starting at byte 5.
func mysqlFastPath(_ context.Context, addr string, timeout time.Duration) (Detection, bool) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return Detection{}, false
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))

	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil || n < 6 {
		return Detection{}, false
	}
	payload := buf[4:n] // skip the 4-byte packet header
	end := 0
	for end < len(payload) && payload[end] != 0 {
		end++
	}
	if end == 0 || end >= len(payload) {
		return Detection{}, false
	}
	version := string(payload[1:end])
	return Detection{Service: "mysql", Product: "MySQL", Version: version, RawResponse: append([]byte(nil), buf[:n]...)}, true
}

// postgresFastPath sends an SSLRequest packet; a plain 'S' byte back
// confirms Postgres and that TLS is available, an 'N' confirms Postgres
// without TLS. Anything else isn't Postgres.
func postgresFastPath(_ context.Context, addr string, timeout time.Duration) (Detection, bool) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return Detection{}, false
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	req := make([]byte, 8)
	binary.BigEndian.PutUint32(req[0:4], 8)
	binary.BigEndian.PutUint32(req[4:8], 80877103) // SSLRequest magic code
	if _, err := conn.Write(req); err != nil {
		return Detection{}, false
	}

	reply := make([]byte, 1)
	if _, err := conn.Read(reply); err != nil {
		return Detection{}, false
	}
	if reply[0] != 'S' && reply[0] != 'N' {
		return Detection{}, false
	}
	return Detection{Service: "postgresql", Product: "PostgreSQL"}, true
}

// smbFastPath sends an SMB1 Negotiate Protocol request; any well-formed
// SMB response (magic \xFFSMB or \xFESMB for SMB2+) confirms the
// service without needing full dialect negotiation.
func smbFastPath(_ context.Context, addr string, timeout time.Duration) (Detection, bool) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return Detection{}, false
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	negotiate := smbNegotiateRequest()
	if _, err := conn.Write(negotiate); err != nil {
		return Detection{}, false
	}

	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil || n < 8 {
		return Detection{}, false
	}
	switch {
	case buf[4] == 0xFF && string(buf[5:8]) == "SMB":
		return Detection{Service: "smb", Product: "SMB1"}, true
	case buf[4] == 0xFE && string(buf[5:8]) == "SMB":
		return Detection{Service: "smb", Product: "SMB2+"}, true
	default:
		return Detection{}, false
	}
}

func smbNegotiateRequest() []byte {
	dialect := "NT LM 0.12"
	body := make([]byte, 0, 32+len(dialect))
	body = append(body, 0xFF, 'S', 'M', 'B', 0x72) // \xFFSMB + NEGOTIATE command
	body = append(body, make([]byte, 32)...)       // header status/flags/pid/etc, zeroed
	body = append(body, 0x00)                      // word count
	dialects := append([]byte{0x02}, []byte(dialect)...)
	dialects = append(dialects, 0x00)
	bcc := len(dialects)
	body = append(body, byte(bcc), byte(bcc>>8))
	body = append(body, dialects...)

	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(body)))
	copy(out[4:], body)
	return out
}

// snmpFastPath issues an SNMPv1 GetRequest for sysDescr.0 over UDP,
// grounded on gosnmp's connection-oriented client rather than the raw
// payload pkg/scan/ports.go uses for an unauthenticated liveness probe.
func snmpFastPath(_ context.Context, addr string, timeout time.Duration) (Detection, bool) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return Detection{}, false
	}

	client := &gosnmp.GoSNMP{
		Target:    host,
		Port:      161,
		Community: "public",
		Version:   gosnmp.Version1,
		Timeout:   timeout,
		Retries:   1,
	}
	if err := client.Connect(); err != nil {
		return Detection{}, false
	}
	defer client.Conn.Close()

	result, err := client.Get([]string{"1.3.6.1.2.1.1.1.0"}) // sysDescr.0
	if err != nil || len(result.Variables) == 0 {
		return Detection{}, false
	}

	desc := fmt.Sprintf("%v", result.Variables[0].Value)
	return Detection{Service: "snmp", Product: "SNMP", Banner: desc}, true
}

// splitProductVersion splits a "Product/Version extra" style header
// value (as Server: nginx/1.18.0 or SSH-2.0-OpenSSH_8.9p1 do) into its
// product and version components.
func splitProductVersion(s string) (product, version string) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "", ""
	}
	s = fields[0]
	if i := strings.IndexAny(s, "/_"); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}
