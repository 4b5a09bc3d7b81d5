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
	"net/netip"
	"time"

	"github.com/prtip/prtip/pkg/models"
)

// EventType names one of the ten lifecycle/progress events spec.md 4.K
// defines. Subscribers filter on this field rather than on Go type, so
// the wire encoding (JSON over the /events WebSocket) carries it as a
// plain string.
type EventType string

const (
	EventScanStarted     EventType = "scan_started"
	EventStageChanged    EventType = "stage_changed"
	EventProgressUpdate  EventType = "progress_update"
	EventHostDiscovered  EventType = "host_discovered"
	EventPortFound       EventType = "port_found"
	EventServiceDetected EventType = "service_detected"
	EventMetricRecorded  EventType = "metric_recorded"
	EventWarningIssued   EventType = "warning_issued"
	EventScanError       EventType = "scan_error"
	EventScanCompleted   EventType = "scan_completed"
)

// Event is the envelope every Bus publication carries: a type tag for
// filtering, a monotonically increasing sequence number (so a history
// query or a reconnecting subscriber can detect gaps), a wall-clock
// timestamp, and the event-specific payload in Data.
type Event struct {
	Type EventType
	Seq  uint64
	Time time.Time
	Data any
}

// ScanStartedData is Event.Data for EventScanStarted.
type ScanStartedData struct {
	Targets  int
	Ports    int
	ScanType string
}

// StageChangedData is Event.Data for EventStageChanged, marking the
// scheduler's transition between the pipeline stages spec.md 4.J names
// (e.g. "discovery", "scanning", "service_detection", "flush").
type StageChangedData struct {
	Stage string
}

// ProgressUpdateData is Event.Data for EventProgressUpdate.
type ProgressUpdateData struct {
	Completed int
	Total     int
}

// HostDiscoveredData is Event.Data for EventHostDiscovered, one per
// target the discovery module (4.E) found alive.
type HostDiscoveredData struct {
	Target netip.Addr
}

// PortFoundData is Event.Data for EventPortFound, one per ScanResult a
// scan engine produces, regardless of its State.
type PortFoundData struct {
	Result models.ScanResult
}

// ServiceDetectedData is Event.Data for EventServiceDetected, published
// when the service detector (4.G) attaches a non-empty Service to an
// open port.
type ServiceDetectedData struct {
	Target     netip.Addr
	Port       uint16
	Service    string
	Product    string
	Version    string
	Confidence float64
}

// MetricRecordedData is Event.Data for EventMetricRecorded — an
// observer-facing counterpart to the Prometheus gauges pkg/eventbus's
// own /metrics endpoint exposes, for consumers that only have the
// event stream (e.g. a TUI with no HTTP client).
type MetricRecordedData struct {
	Name  string
	Value float64
}

// WarningIssuedData is Event.Data for EventWarningIssued — a
// non-fatal condition worth surfacing (a sink write failure, a dropped
// probe) that does not abort the scan.
type WarningIssuedData struct {
	Message string
}

// ScanErrorData is Event.Data for EventScanError.
type ScanErrorData struct {
	Target string
	Err    string
}

// ScanCompletedData is Event.Data for EventScanCompleted.
type ScanCompletedData struct {
	Results int
	Elapsed time.Duration
}
