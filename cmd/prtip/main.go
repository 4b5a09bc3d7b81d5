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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prtip/prtip/pkg/config"
	"github.com/prtip/prtip/pkg/eventbus"
	"github.com/prtip/prtip/pkg/models"
	"github.com/prtip/prtip/pkg/scanlog"
	"github.com/prtip/prtip/pkg/scheduler"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("prtip: %v", err)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to a JSON scan config file (overrides the flags below)")
		scanType   = flag.String("scan-type", "connect", "connect|syn|udp|fin|null|xmas|ack|idle")
		targetsArg = flag.String("targets", "", "comma-separated hosts, CIDRs, or IP ranges (lo-hi)")
		portsArg   = flag.String("ports", "1-1000", "port spec, e.g. 22,80,443,8000-8100")
		timing     = flag.Int("timing", 3, "timing template T0-T5")
		timeoutMS  = flag.Int("timeout-ms", 3000, "per-probe timeout in milliseconds")
		iface      = flag.String("interface", "", "network interface for raw-socket scan types")
		serviceDet = flag.Bool("service-detect", false, "run service/version detection against open ports")
		discFirst  = flag.Bool("discovery", false, "skip hosts that do not answer a liveness probe first")
		sinkKind   = flag.String("sink", "memory", "memory|sqlite|mmap")
		sinkPath   = flag.String("sink-path", "", "file path for the sqlite/mmap sink backends")
		eventsAddr = flag.String("events-http-addr", "", "if set, serve live scan events over HTTP/WebSocket at this address")
		grpcAddr   = flag.String("events-grpc-addr", "", "if set, serve the gRPC health service at this address")
	)
	flag.Parse()

	logger := scanlog.New(scanlog.DefaultConfig())

	var cfg config.FileConfig
	if *configPath != "" {
		if err := config.LoadAndValidate(*configPath, &cfg); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		st, err := models.ParseScanType(*scanType)
		if err != nil {
			return err
		}
		cfg = config.FileConfig{
			Config: models.Config{
				ScanType:       st,
				Timing:         *timing,
				TimeoutMS:      *timeoutMS,
				Interface:      *iface,
				ServiceDetect:  *serviceDet,
				DiscoveryFirst: *discFirst,
			},
			Sink: config.SinkConfig{Backend: *sinkKind, Path: *sinkPath},
		}
	}

	if *targetsArg == "" {
		return errors.New("at least one -targets value is required")
	}
	targets, err := parseTargets(*targetsArg)
	if err != nil {
		return fmt.Errorf("parse targets: %w", err)
	}

	ports, err := models.ParsePortSpec(*portsArg)
	if err != nil {
		return fmt.Errorf("parse ports: %w", err)
	}

	sched, err := scheduler.New(cfg, logger)
	if err != nil {
		return err
	}
	defer sched.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *eventsAddr != "" || *grpcAddr != "" {
		bus := eventbus.NewBus()
		sched.WithEventBus(bus)
		go func() {
			if err := eventbus.RunServer(ctx, bus, eventbus.ServerOptions{
				HTTPAddr: *eventsAddr,
				GRPCAddr: *grpcAddr,
			}); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn().Err(err).Msg("event server stopped")
			}
		}()
	}

	if err := sched.Run(ctx, targets, ports); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("scan: %w", err)
	}
	return nil
}

// parseTargets splits a comma-separated target list into models.Target
// values, recognizing CIDR notation, "lo-hi" ranges, and otherwise
// falling back to a bare address or hostname.
func parseTargets(spec string) ([]models.Target, error) {
	var out []models.Target
	for _, raw := range strings.Split(spec, ",") {
		item := strings.TrimSpace(raw)
		if item == "" {
			continue
		}
		target, err := parseOneTarget(item)
		if err != nil {
			return nil, fmt.Errorf("target %q: %w", item, err)
		}
		out = append(out, target)
	}
	if len(out) == 0 {
		return nil, errors.New("no targets parsed")
	}
	return out, nil
}
