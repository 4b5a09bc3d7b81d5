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
	"net/netip"
	"strconv"
	"time"

	"github.com/prtip/prtip/pkg/models"
	"github.com/prtip/prtip/pkg/scanlog"
)

// Detector fills in the Service/Product/Version/Banner/Certificate
// fields of an already-open ScanResult. It tries, in order: a
// port-indexed fast path (HTTP, TLS, SSH, MySQL, PostgreSQL, SMB, SNMP),
// then the probe-database matcher (4.G): NULL probe, then every other
// probe hinted at the port whose rarity is within the configured
// intensity, hard matches before soft matches.
type Detector struct {
	timeout   time.Duration
	intensity int
	udp       bool
	db        *ProbeDB
	log       scanlog.Logger
}

// NewDetector builds a Detector. udp selects UDP probes from db over
// TCP ones (a UDP scan's open ports are UDP services); intensity caps
// which probes' rarity is tried (0-9, see spec.md §4.G / §6 --version-intensity).
func NewDetector(timeout time.Duration, intensity int, udp bool, log scanlog.Logger) *Detector {
	return &Detector{
		timeout:   timeout,
		intensity: intensity,
		udp:       udp,
		db:        DefaultProbeDB,
		log:       log.WithComponent("servicedetect"),
	}
}

// WithProbeDB overrides the embedded default probe database, e.g. with
// one loaded from disk via LoadProbeDB.
func (d *Detector) WithProbeDB(db *ProbeDB) *Detector {
	d.db = db
	return d
}

// Detection is the information a fast path or the generic matcher was
// able to recover. OSHint and PatternHit feed Confidence's scoring but
// are not copied onto a ScanResult (spec.md §3's ScanResult carries no
// OS field).
type Detection struct {
	Service     string
	Product     string
	Version     string
	OSHint      string
	PatternHit  bool
	Banner      string
	RawResponse []byte
	Certificate *models.CertificateChain
}

// ApplyTo copies a Detection's fields onto an existing ScanResult,
// leaving fields the detector left blank untouched.
func (d Detection) ApplyTo(r *models.ScanResult) {
	if d.Service != "" {
		r.Service = d.Service
	}
	if d.Product != "" {
		r.Product = d.Product
	}
	if d.Version != "" {
		r.Version = d.Version
	}
	if d.Banner != "" {
		r.Banner = d.Banner
	}
	if d.RawResponse != nil {
		r.RawResponse = d.RawResponse
	}
	if d.Certificate != nil {
		r.Certificate = d.Certificate
	}
}

// Detect runs the protocol-specific fast path registered for port (recognizable
// response shapes run first, per spec.md §4.G), falling back to the
// probe-database matcher over the same connection family the Detector
// was constructed for.
func (d *Detector) Detect(ctx context.Context, target netip.Addr, port uint16) Detection {
	addr := net.JoinHostPort(target.String(), strconv.Itoa(int(port)))

	if !d.udp {
		if fp, ok := fastPaths[port]; ok {
			if det, ok := fp(ctx, addr, d.timeout); ok {
				return det
			}
		}
	}

	network, proto := "tcp", ProtoTCP
	if d.udp {
		network, proto = "udp", ProtoUDP
	}
	tls := isTLSPort(port)

	db := d.db
	if db == nil {
		db = DefaultProbeDB
	}
	det, ok := db.Detect(ctx, network, addr, proto, port, tls, d.intensity, d.timeout)
	if !ok {
		return Detection{Service: "unknown"}
	}
	return det
}

// isTLSPort reports whether port is one of the well-known TLS-wrapped
// ports spec.md §4.G names (443 plus the common "S"-suffixed services),
// selecting sslports-hinted probes and the TLS certificate-extraction
// path over the plaintext one.
func isTLSPort(port uint16) bool {
	switch port {
	case 443, 8443, 993, 995, 465, 636, 990, 989, 5986:
		return true
	default:
		return false
	}
}
