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

// Package servicedetect identifies the application protocol and, where
// possible, the product/version running behind an open port: a
// probe-database matcher for the general case, and fast paths for
// protocols cheap to recognize directly (HTTP, SSH, TLS, MySQL,
// PostgreSQL, SMB, SNMP).
package servicedetect

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"time"

	"github.com/prtip/prtip/pkg/models"
)

// ExtractCertificateChain performs a TLS handshake against addr (with
// certificate verification disabled, since the goal is reconnaissance,
// not establishing trust) and converts the negotiated chain into the
// engine's own CertificateChain representation.
func ExtractCertificateChain(addr string, serverName string, timeout time.Duration) (*models.CertificateChain, error) {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // reconnaissance, not trust establishment
		ServerName:         serverName,
	})
	if err != nil {
		return nil, fmt.Errorf("servicedetect: tls handshake with %s: %w", addr, err)
	}
	defer conn.Close()

	state := conn.ConnectionState()
	chain := &models.CertificateChain{}

	verifyOpts := x509.VerifyOptions{DNSName: serverName}
	for i, cert := range state.PeerCertificates {
		info := models.CertificateInfo{
			Subject:            cert.Subject.String(),
			Issuer:             cert.Issuer.String(),
			NotBefore:          cert.NotBefore,
			NotAfter:           cert.NotAfter,
			SerialNumber:       cert.SerialNumber.String(),
			SignatureAlgorithm: cert.SignatureAlgorithm.String(),
			PublicKeyAlgorithm: cert.PublicKeyAlgorithm.String(),
			KeyUsage:           cert.KeyUsage,
			ExtKeyUsage:        cert.ExtKeyUsage,
			IsSelfSigned:       i == len(state.PeerCertificates)-1 && cert.Issuer.String() == cert.Subject.String(),
			IsExpired:          time.Now().After(cert.NotAfter),
			Raw:                cert,
		}
		for _, name := range cert.DNSNames {
			info.SANs = append(info.SANs, models.SAN{Kind: models.SANDNSName, Value: name})
		}
		for _, ip := range cert.IPAddresses {
			info.SANs = append(info.SANs, models.SAN{Kind: models.SANIPAddress, Value: ip.String()})
		}
		for _, email := range cert.EmailAddresses {
			info.SANs = append(info.SANs, models.SAN{Kind: models.SANEmail, Value: email})
		}
		for _, uri := range cert.URIs {
			info.SANs = append(info.SANs, models.SAN{Kind: models.SANUri, Value: uri.String()})
		}
		if bits, ok := publicKeyBits(cert); ok {
			info.PublicKeyBits = bits
		}
		chain.Certificates = append(chain.Certificates, info)
	}

	if serverName != "" && len(state.PeerCertificates) > 0 {
		if err := state.PeerCertificates[0].VerifyHostname(serverName); err == nil {
			chain.HostnameMatch = true
		}
	}

	if len(state.PeerCertificates) > 0 {
		if _, err := state.PeerCertificates[0].Verify(verifyOpts); err != nil {
			chain.ValidationErr = err.Error()
		} else {
			chain.Valid = true
		}
	}

	return chain, nil
}

func publicKeyBits(cert *x509.Certificate) (int, bool) {
	type sizer interface{ Size() int }
	if s, ok := cert.PublicKey.(sizer); ok {
		return s.Size() * 8, true
	}
	return 0, false
}
