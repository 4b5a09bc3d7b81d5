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
	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the counters RunServer's HTTP listener exposes at
// /metrics, scoped to their own registry so embedding this package never
// collides with a host process's default Prometheus registry.
type metrics struct {
	registry      *prometheus.Registry
	published     prometheus.Counter
	subscribers   prometheus.Gauge
	wsConnections prometheus.Counter
	wsDisconnects prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prtip_eventbus_events_published_total",
			Help: "Total events handed to Bus.Publish.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prtip_eventbus_subscribers",
			Help: "Current number of live Bus subscriptions.",
		}),
		wsConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prtip_eventbus_ws_connections_total",
			Help: "Total WebSocket connections accepted on /events.",
		}),
		wsDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prtip_eventbus_ws_disconnects_total",
			Help: "Total WebSocket connections closed on /events.",
		}),
	}
	m.registry.MustRegister(m.published, m.subscribers, m.wsConnections, m.wsDisconnects)
	return m
}
