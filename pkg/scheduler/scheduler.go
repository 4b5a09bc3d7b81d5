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

// Package scheduler is the top-level orchestrator: it validates
// configuration, opens the result sink, expands targets, computes and
// logs the adaptive parallelism figure (the figure is not passed to the
// engines, which take their concurrency from Config.MaxConcurrent, and
// the sink is not pre-sized), optionally runs host discovery, dispatches each
// target to the chosen scan engine, runs service detection against
// every open port, and finalizes the sink. Grounded on the teacher's
// sweeper.go orchestration loop.
package scheduler

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/prtip/prtip/pkg/capture"
	"github.com/prtip/prtip/pkg/concurrency"
	"github.com/prtip/prtip/pkg/config"
	"github.com/prtip/prtip/pkg/eventbus"
	"github.com/prtip/prtip/pkg/models"
	"github.com/prtip/prtip/pkg/ratelimit"
	"github.com/prtip/prtip/pkg/scan"
	"github.com/prtip/prtip/pkg/scanlog"
	"github.com/prtip/prtip/pkg/servicedetect"
	"github.com/prtip/prtip/pkg/sink"
)

// Scheduler runs one complete scan from validated configuration to a
// finalized sink.
type Scheduler struct {
	cfg       config.FileConfig
	log       scanlog.Logger
	sink      sink.Sink
	hostgroup *concurrency.HostgroupLimiter
	limiter   *ratelimit.Limiter
	cookies   *scan.CookieJar
	detector  *servicedetect.Detector

	handle  capture.Handle
	srcAddr netip.Addr
	srcPort uint16
	zombie  *models.ZombieCandidate
	bus     *eventbus.Bus
}

// WithEventBus makes Run publish every scan result to bus as it is
// produced, in addition to writing it to the sink. A nil bus (the
// default) disables this; there is no requirement that anyone be
// subscribed for Run to proceed.
func (s *Scheduler) WithEventBus(bus *eventbus.Bus) {
	s.bus = bus
}

// New validates cfg, opens the configured sink, and — if the scan type
// needs raw sockets — opens a capture.Handle and derives this process's
// cookie secret. Callers must call Close when the scan is finished.
func New(cfg config.FileConfig, log scanlog.Logger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	s := &Scheduler{cfg: cfg, log: log.WithComponent("scheduler")}

	sk, err := openSink(cfg.Sink)
	if err != nil {
		return nil, err
	}
	s.sink = sk

	s.hostgroup = concurrency.NewHostgroupLimiter(concurrency.DefaultMaxHostgroup, s.log)
	s.limiter = ratelimit.New(cfg.MaxRatePPS)

	if cfg.ServiceDetect {
		s.detector = servicedetect.NewDetector(cfg.Timeout(), cfg.Intensity, cfg.ScanType == models.ScanUDP, s.log)
	}

	if cfg.ScanType.RequiresRawSocket() {
		handle, err := capture.Open(cfg.Interface)
		if err != nil {
			sk.Close()
			return nil, fmt.Errorf("scheduler: open raw capture: %w", err)
		}
		s.handle = handle

		cookies, err := scan.NewCookieJar()
		if err != nil {
			handle.Close()
			sk.Close()
			return nil, fmt.Errorf("scheduler: build cookie jar: %w", err)
		}
		s.cookies = cookies

		srcAddr, err := localSourceAddr()
		if err != nil {
			handle.Close()
			sk.Close()
			return nil, fmt.Errorf("scheduler: determine local source address: %w", err)
		}
		s.srcAddr = srcAddr
		s.srcPort = 40000 + uint16(time.Now().UnixNano()%20000)
	}

	return s, nil
}

func openSink(cfg config.SinkConfig) (sink.Sink, error) {
	switch cfg.Backend {
	case "", "memory":
		return sink.NewMemorySink(), nil
	case "sqlite":
		return sink.NewAsyncSQLiteSink(cfg.Path, 1024)
	case "mmap":
		return sink.NewMmapSink(cfg.Path)
	default:
		return nil, fmt.Errorf("scheduler: unknown sink backend %q", cfg.Backend)
	}
}

// localSourceAddr discovers the local interface address the kernel
// would pick to reach the public internet, without sending any traffic
// (UDP "connect" only sets up routing state locally).
func localSourceAddr() (netip.Addr, error) {
	conn, err := net.Dial("udp", "203.0.113.1:80")
	if err != nil {
		return netip.Addr{}, err
	}
	defer conn.Close()
	addrPort, err := netip.ParseAddrPort(conn.LocalAddr().String())
	if err != nil {
		return netip.Addr{}, err
	}
	return addrPort.Addr(), nil
}

// Run scans every target for every port in ports, writes each result to
// the sink, and flushes+closes the sink before returning.
func (s *Scheduler) Run(ctx context.Context, targets []models.Target, ports models.PortSpec) error {
	defer s.sink.Close()
	start := time.Now()

	addrs, err := s.expandTargets(targets)
	if err != nil {
		return err
	}

	portList := ports.SortedPorts()
	parallelism := concurrency.CalculateParallelism(len(portList), s.cfg.ScanType, s.cfg.MaxConcurrent, s.cfg.Ulimit, s.log)
	s.log.Info().Int("targets", len(addrs)).Int("ports", len(portList)).Int("parallelism", parallelism).Msg("scan starting")

	s.publish(eventbus.EventScanStarted, eventbus.ScanStartedData{
		Targets: len(addrs), Ports: len(portList), ScanType: s.cfg.ScanType.String(),
	})

	if s.cfg.DiscoveryFirst {
		s.publish(eventbus.EventStageChanged, eventbus.StageChangedData{Stage: "discovery"})
		addrs, err = s.filterAlive(ctx, addrs)
		if err != nil {
			s.publish(eventbus.EventScanError, eventbus.ScanErrorData{Err: err.Error()})
			return fmt.Errorf("scheduler: discovery: %w", err)
		}
		for _, addr := range addrs {
			s.publish(eventbus.EventHostDiscovered, eventbus.HostDiscoveredData{Target: addr})
		}
	}

	s.publish(eventbus.EventStageChanged, eventbus.StageChangedData{Stage: "scanning"})

	results := 0
	for i, addr := range addrs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := s.scanOneTarget(ctx, addr, portList); err != nil {
			s.publish(eventbus.EventScanError, eventbus.ScanErrorData{Target: addr.String(), Err: err.Error()})
			return err
		}
		results += len(portList)
		s.publish(eventbus.EventProgressUpdate, eventbus.ProgressUpdateData{Completed: i + 1, Total: len(addrs)})
	}

	s.publish(eventbus.EventStageChanged, eventbus.StageChangedData{Stage: "flush"})
	if err := s.sink.Flush(ctx); err != nil {
		return err
	}
	s.publish(eventbus.EventScanCompleted, eventbus.ScanCompletedData{Results: results, Elapsed: time.Since(start)})
	return nil
}

func (s *Scheduler) scanOneTarget(ctx context.Context, target netip.Addr, ports []uint16) error {
	guard, err := s.hostgroup.AcquireTarget(ctx)
	if err != nil {
		return err
	}
	defer guard.Release()

	engine, err := s.engineFor(target)
	if err != nil {
		return err
	}

	out := make(chan models.ScanResult, len(ports))
	errCh := make(chan error, 1)
	go func() {
		errCh <- engine.Scan(ctx, target, ports, out)
		close(out)
	}()

	for result := range out {
		if result.State == models.StateOpen && s.detector != nil {
			det := s.detector.Detect(ctx, result.TargetIP, result.Port)
			det.ApplyTo(&result)
			if det.Service != "" {
				s.publish(eventbus.EventServiceDetected, eventbus.ServiceDetectedData{
					Target: result.TargetIP, Port: result.Port,
					Service: det.Service, Product: det.Product, Version: det.Version,
					Confidence: servicedetect.Confidence(det),
				})
			}
		}
		if err := s.sink.Write(ctx, result); err != nil {
			s.log.Warn().Err(err).Msg("sink write failed")
			s.publish(eventbus.EventWarningIssued, eventbus.WarningIssuedData{Message: "sink write failed: " + err.Error()})
		}
		s.publish(eventbus.EventPortFound, eventbus.PortFoundData{Result: result})
	}

	return <-errCh
}

// publish is a nil-safe wrapper around Bus.Publish so every call site
// above does not need to guard on s.bus itself.
func (s *Scheduler) publish(typ eventbus.EventType, data any) {
	if s.bus != nil {
		s.bus.Publish(typ, data)
	}
}

func (s *Scheduler) expandTargets(targets []models.Target) ([]netip.Addr, error) {
	var out []netip.Addr
	for _, t := range targets {
		expanded, err := t.Expand()
		if err != nil {
			return nil, fmt.Errorf("scheduler: expand target: %w", err)
		}
		out = append(out, expanded...)
	}
	return out, nil
}

// Close releases the raw capture handle, if one was opened. The sink is
// closed by Run; callers that construct a Scheduler but never call Run
// must still call Close to release the capture handle.
func (s *Scheduler) Close() error {
	if s.handle != nil {
		return s.handle.Close()
	}
	return nil
}
