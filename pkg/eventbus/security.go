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

package eventbus

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/workloadapi"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// SecurityMode selects how the external event-bus surface authenticates
// its peers.
type SecurityMode string

const (
	SecurityModeNone   SecurityMode = "none"
	SecurityModeMTLS   SecurityMode = "mtls"
	SecurityModeSpiffe SecurityMode = "spiffe"
)

// SecurityConfig configures whichever SecurityProvider NewSecurityProvider
// builds.
type SecurityConfig struct {
	Mode           SecurityMode
	CertDir        string // mTLS: directory containing server.pem/server-key.pem/root.pem
	WorkloadSocket string // SPIFFE: workload API socket, e.g. "unix:/run/spire/sockets/agent.sock"
	TrustDomain    string // SPIFFE: restrict accepted peers to this trust domain
}

// SecurityProvider produces the grpc.ServerOption the gRPC listener
// needs to enforce this mode's authentication.
type SecurityProvider interface {
	GetServerCredentials(ctx context.Context) (grpc.ServerOption, error)
	Close() error
}

// NoSecurityProvider accepts any client in cleartext, the default for
// local/dev use.
type NoSecurityProvider struct{}

func (*NoSecurityProvider) GetServerCredentials(context.Context) (grpc.ServerOption, error) {
	return grpc.Creds(insecure.NewCredentials()), nil
}

func (*NoSecurityProvider) Close() error { return nil }

// MTLSProvider authenticates peers with a static certificate/key pair
// and a CA bundle read from disk.
type MTLSProvider struct {
	creds credentials.TransportCredentials
}

func NewMTLSProvider(cfg SecurityConfig) (*MTLSProvider, error) {
	cert, err := tls.LoadX509KeyPair(
		filepath.Join(cfg.CertDir, "server.pem"),
		filepath.Join(cfg.CertDir, "server-key.pem"),
	)
	if err != nil {
		return nil, fmt.Errorf("eventbus: load server certificate: %w", err)
	}

	caCert, err := os.ReadFile(filepath.Join(cfg.CertDir, "root.pem"))
	if err != nil {
		return nil, fmt.Errorf("eventbus: read CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("eventbus: no usable certificates in root.pem")
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}
	return &MTLSProvider{creds: credentials.NewTLS(tlsConfig)}, nil
}

func (p *MTLSProvider) GetServerCredentials(context.Context) (grpc.ServerOption, error) {
	return grpc.Creds(p.creds), nil
}

func (p *MTLSProvider) Close() error { return nil }

// SpiffeProvider authenticates peers against a SPIFFE Workload API
// (typically a local SPIRE agent), rotating its own server identity
// transparently as the X509Source refreshes.
type SpiffeProvider struct {
	client    *workloadapi.Client
	source    *workloadapi.X509Source
	trustDom  string
	closeOnce sync.Once
}

func NewSpiffeProvider(ctx context.Context, cfg SecurityConfig) (*SpiffeProvider, error) {
	socket := cfg.WorkloadSocket
	if socket == "" {
		socket = "unix:/run/spire/sockets/agent.sock"
	}

	client, err := workloadapi.New(ctx, workloadapi.WithAddr(socket))
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect workload API: %w", err)
	}

	source, err := workloadapi.NewX509Source(ctx, workloadapi.WithClient(client))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("eventbus: create X.509 source: %w", err)
	}

	return &SpiffeProvider{client: client, source: source, trustDom: cfg.TrustDomain}, nil
}

func (p *SpiffeProvider) GetServerCredentials(context.Context) (grpc.ServerOption, error) {
	authorizer := tlsconfig.AuthorizeAny()
	if p.trustDom != "" {
		td, err := spiffeid.TrustDomainFromString(p.trustDom)
		if err != nil {
			return nil, fmt.Errorf("eventbus: invalid trust domain %q: %w", p.trustDom, err)
		}
		authorizer = tlsconfig.AuthorizeMemberOf(td)
	}
	tlsConfig := tlsconfig.MTLSServerConfig(p.source, p.source, authorizer)
	return grpc.Creds(credentials.NewTLS(tlsConfig)), nil
}

func (p *SpiffeProvider) Close() error {
	p.closeOnce.Do(func() {
		if p.source != nil {
			_ = p.source.Close()
		}
		if p.client != nil {
			_ = p.client.Close()
		}
	})
	return nil
}

// NewSecurityProvider dispatches on cfg.Mode, defaulting to no security
// when cfg is the zero value.
func NewSecurityProvider(ctx context.Context, cfg SecurityConfig) (SecurityProvider, error) {
	switch SecurityMode(strings.ToLower(string(cfg.Mode))) {
	case "", SecurityModeNone:
		return &NoSecurityProvider{}, nil
	case SecurityModeMTLS:
		return NewMTLSProvider(cfg)
	case SecurityModeSpiffe:
		return NewSpiffeProvider(ctx, cfg)
	default:
		return nil, fmt.Errorf("eventbus: unknown security mode %q", cfg.Mode)
	}
}
