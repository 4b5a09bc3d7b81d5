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
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServerOptions configures RunServer. HTTPAddr and GRPCAddr are left
// empty to skip that listener entirely, so a caller that only wants the
// WebSocket feed can omit the gRPC server.
type ServerOptions struct {
	HTTPAddr string // e.g. ":8080"; serves /healthz and /events (WebSocket)
	GRPCAddr string // e.g. ":8443"; serves the standard gRPC health service
	Security SecurityConfig
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// This is a local operator tool, not a public-facing site: any
	// origin may open the live-results feed.
	CheckOrigin: func(*http.Request) bool { return true },
}

// RunServer exposes bus over HTTP (health check + WebSocket event feed)
// and gRPC (the stock health-checking service) until ctx is cancelled.
// Grounded on the teacher's pkg/lifecycle/server.go pattern of composing
// several listeners behind one entry point and tearing them all down
// together on shutdown.
func RunServer(ctx context.Context, bus *Bus, opts ServerOptions) error {
	provider, err := NewSecurityProvider(ctx, opts.Security)
	if err != nil {
		return fmt.Errorf("eventbus: build security provider: %w", err)
	}
	defer provider.Close()

	errCh := make(chan error, 2)
	active := 0

	if opts.HTTPAddr != "" {
		active++
		httpSrv := newHTTPServer(opts.HTTPAddr, bus)
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("eventbus: http server: %w", err)
				return
			}
			errCh <- nil
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
	}

	if opts.GRPCAddr != "" {
		active++
		grpcSrv, lis, err := newGRPCServer(ctx, opts.GRPCAddr, provider)
		if err != nil {
			return err
		}
		go func() {
			errCh <- grpcSrv.Serve(lis)
		}()
		defer grpcSrv.GracefulStop()
	}

	if active == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func newHTTPServer(addr string, bus *Bus) *http.Server {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	router.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		serveEvents(w, r, bus)
	})

	router.Handle("/metrics", promhttp.HandlerFor(bus.metrics.registry, promhttp.HandlerOpts{}))

	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// serveEvents upgrades to a WebSocket and relays every Bus publication to
// the client as JSON until the connection closes or the subscriber falls
// permanently behind.
func serveEvents(w http.ResponseWriter, r *http.Request, bus *Bus) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	bus.metrics.wsConnections.Inc()
	defer bus.metrics.wsDisconnects.Inc()

	events, unsubscribe := bus.Subscribe(AllEvents(), true)
	defer unsubscribe()

	for event := range events {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}

// newGRPCServer builds a gRPC server exposing the standard health
// service (google.golang.org/grpc/health), reporting SERVING for the
// "" (overall) and "eventbus" services. This lets any standard gRPC
// health-checking client or load balancer probe this process without
// the repo needing to hand-author and compile its own protobuf service.
func newGRPCServer(ctx context.Context, addr string, provider SecurityProvider) (*grpc.Server, net.Listener, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("eventbus: listen %s: %w", addr, err)
	}

	credsOpt, err := provider.GetServerCredentials(ctx)
	if err != nil {
		lis.Close()
		return nil, nil, fmt.Errorf("eventbus: server credentials: %w", err)
	}

	srv := grpc.NewServer(credsOpt)
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthSrv.SetServingStatus("eventbus", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, healthSrv)

	return srv, lis, nil
}
