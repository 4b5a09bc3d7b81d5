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
	"context"
	"net"
	"time"
)

// defaultProbeDBText is a small, self-contained service-probes database
// in the Nmap-compatible grammar spec.md §4.G/§6 names. It is not a
// transcription of Nmap's own (much larger, differently-licensed)
// nmap-service-probes file — these are original probe/match entries
// covering the protocols SPEC_FULL.md calls out, sufficient to exercise
// the parser and matcher end to end. Operators can load a fuller
// third-party file at runtime via LoadProbeDB.
const defaultProbeDBText = `
# NULL probe: many services announce themselves without being asked.
Probe TCP NULL q||
rarity 1
match ftp m/^220[ -].*FTP/i p/$0/
match smtp m/^220[ -].*(SMTP|ESMTP)/i v/$1/
match smtp m/^220.*ESMTP\s+(\S+)/ p/$1/
match pop3 m/^\+OK.*POP3/i
match imap m/^\* OK.*IMAP/i
match ssh m/^SSH-(\S+)-(\S+)/ p/$2/ v/$1/
match telnet m/^\xff[\xfb-\xfe]/
match vnc m/^RFB 0(\d\d)\.(\d\d\d)/ v/$1.$2/
match redis m/^-ERR|^\+PONG|redis_version/i p/Redis/
match mysql-db m/^.\x00\x00\x00\x0a([0-9.]+)/ p/MySQL/ v/$1/
match memcached m/^(VERSION|STORED|ERROR)/ p/memcached/

Probe TCP GetRequest q|GET / HTTP/1.0\r\n\r\n|
ports 80,8000,8080,8008,8888
rarity 1
match http m|^HTTP/1\.[01] \d\d\d| p/$0/
match http m|^HTTP/1\.[01]\s+\d+\s+\S+\r\nServer:\s*([^\r\n/]+)/?([^\r\n ]*)| p/$1/ v/$2/

Probe TCP TLSSessionReq q||
sslports 443,8443,993,995,465,636
rarity 2
match ssl/http m/./ p/SSL-TLS/

Probe TCP SMBProgNeg q|\x00\x00\x00\x2f\xffSMB\x72|
ports 445,139
rarity 3
match smb m/\xffSMB/ p/SMB/

Probe UDP DNSStatusRequest q|\x00\x00\x10\x00\x00\x00\x00\x00\x00\x00\x00\x00|
ports 53
rarity 3
match domain m/./ p/DNS/

Probe UDP NTPRequest q|\xe3\x00\x04\xfa\x00\x01\x00\x00\x00\x01\x00\x00|
ports 123
rarity 3
match ntp m/./ p/NTP/

Probe UDP SNMPv1public q|\x30\x26\x02\x01\x00\x04\x06public\xa0\x19\x02\x01\x01\x02\x01\x00\x02\x01\x00\x30\x0e\x30\x0c\x06\x08\x2b\x06\x01\x02\x01\x01\x01\x00\x05\x00|
ports 161
rarity 4
match snmp m/./ p/SNMP/
`

// DefaultProbeDB is the embedded probe database parsed at package init.
var DefaultProbeDB *ProbeDB

func init() {
	db, err := ParseProbeDB(defaultProbeDBText)
	if err != nil {
		// The embedded grammar is a build-time constant; a parse failure
		// here is a programming error, not a runtime condition.
		panic("servicedetect: embedded probe database failed to parse: " + err.Error())
	}
	DefaultProbeDB = db
}

// LoadProbeDB parses an externally supplied service-probes file (e.g. a
// real nmap-service-probes) into a new ProbeDB, for callers that want a
// richer signature set than the embedded default (see
// Detector.WithProbeDB). DefaultProbeDB itself is left unchanged.
func LoadProbeDB(data string) (*ProbeDB, error) {
	return ParseProbeDB(data)
}

// probeResult is what running a single probe against a connection and
// matching the response produced.
type probeResult struct {
	service, product, version, info, hostname, os, device string
	cpe                                                    []string
	response                                                []byte
	method                                                  string
}

// Detect implements the 4.G algorithm against target: NULL probe first,
// then every other probe hinted at port (or carrying no port hint) whose
// rarity is within intensity, hard matches tested before soft matches,
// first hit wins.
func (db *ProbeDB) Detect(ctx context.Context, network, addr string, proto Proto, port uint16, tls bool, intensity int, timeout time.Duration) (Detection, bool) {
	probes := db.ProbesForPort(port, proto, tls)

	var null *Probe
	var rest []*Probe
	for _, p := range probes {
		if p.Name == "NULL" && len(p.ProbeString) == 0 {
			null = p
			continue
		}
		if p.Rarity > intensity {
			continue
		}
		rest = append(rest, p)
	}

	if null != nil {
		if r, ok := tryProbe(ctx, network, addr, null, timeout); ok {
			return toDetection(r), true
		}
	}
	for _, p := range rest {
		if r, ok := tryProbe(ctx, network, addr, p, timeout); ok {
			return toDetection(r), true
		}
	}
	return Detection{}, false
}

func tryProbe(ctx context.Context, network, addr string, p *Probe, timeout time.Duration) (probeResult, bool) {
	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := d.DialContext(dialCtx, network, addr)
	if err != nil {
		return probeResult{}, false
	}
	defer conn.Close()

	if len(p.ProbeString) > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(timeout))
		if _, err := conn.Write(p.ProbeString); err != nil {
			return probeResult{}, false
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return probeResult{}, false
	}
	response := append([]byte(nil), buf[:n]...)

	if r, ok := matchResponse(p.Matches, response); ok {
		return r, true
	}
	if r, ok := matchResponse(p.SoftMatches, response); ok {
		return r, true
	}
	return probeResult{}, false
}

// matchResponse tests response against matches in order and, on the
// first hit, substitutes its capture groups into the match's templates.
func matchResponse(matches []Match, response []byte) (probeResult, bool) {
	s := string(response)
	for _, m := range matches {
		groups := m.Pattern.FindStringSubmatch(s)
		if groups == nil {
			continue
		}
		r := probeResult{
			service:  m.Service,
			product:  substituteCaptures(m.ProductTpl, groups),
			version:  substituteCaptures(m.VersionTpl, groups),
			info:     substituteCaptures(m.InfoTpl, groups),
			hostname: substituteCaptures(m.HostnameTpl, groups),
			os:       substituteCaptures(m.OSTpl, groups),
			device:   substituteCaptures(m.DeviceTpl, groups),
			response: response,
			method:   "pattern match",
		}
		for _, cpeTpl := range m.CPETpl {
			r.cpe = append(r.cpe, substituteCaptures(cpeTpl, groups))
		}
		return r, true
	}
	return probeResult{}, false
}

func toDetection(r probeResult) Detection {
	return Detection{
		Service:     r.service,
		Product:     r.product,
		Version:     r.version,
		OSHint:      r.os,
		Banner:      string(r.response),
		RawResponse: r.response,
		PatternHit:  true,
	}
}

// Confidence scores a detection per spec.md §4.G: base 0.5, +0.15 if a
// version number was extracted, +0.10 if an OS/distribution hint is
// present, +0.20 if the hit came from a banner pattern match (as
// opposed to a protocol-specific fast path), capped at 1.0.
func Confidence(det Detection) float64 {
	score := 0.5
	if det.Version != "" {
		score += 0.15
	}
	if det.OSHint != "" {
		score += 0.10
	}
	if det.PatternHit {
		score += 0.20
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
