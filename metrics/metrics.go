// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics instruments h1conn.Connection via Prometheus,
// without the core package depending on client_golang directly:
// Collector.Hooks() returns an h1conn.Hooks that feeds these series.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/packetd/h1conn"
	"github.com/packetd/h1conn/common"
)

var (
	uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "uptime",
			Help:      "Uptime in seconds",
		},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "git_hash", "build_time"},
	)

	connectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "connections_open",
			Help:      "Connections currently open",
		},
	)

	streamsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "streams_total",
			Help:      "Streams completed, by outcome",
		},
		[]string{"outcome"},
	)

	bytesWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "bytes_written_total",
			Help:      "Bytes written to the wire across all connections",
		},
	)

	bytesReadTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "bytes_read_total",
			Help:      "Bytes read from the wire across all connections",
		},
	)

	shutdownsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "shutdowns_total",
			Help:      "Connection shutdowns, by reason",
		},
		[]string{"reason"},
	)
)

// RecordBuildInfo publishes the module's build metadata as a
// constant gauge, following the teacher's build_info convention.
func RecordBuildInfo() {
	info := common.GetBuildInfo()
	buildInfo.WithLabelValues(info.Version, info.GitHash, info.Time).Set(1)
}

// RecordUptime sets the uptime gauge to the number of seconds since
// the process started. Callers typically do this from a periodic
// collector tick rather than per-request.
func RecordUptime(seconds float64) {
	uptime.Set(seconds)
}

// Collector wires one Connection's Hooks into the package-level
// series above. Each Connection gets its own Collector; the
// underlying Prometheus series are process-global and aggregate
// across every connection a process drives.
type Collector struct{}

// NewCollector returns a Collector ready to be attached to a
// Connection via Hooks().
func NewCollector() *Collector {
	connectionsOpen.Inc()
	return &Collector{}
}

// Hooks returns the h1conn.Hooks that feed this Collector's series.
// Pass it as Options.Hooks when constructing the Connection.
func (c *Collector) Hooks() h1conn.Hooks {
	return h1conn.Hooks{
		OnStreamComplete: func(code h1conn.ErrorCode) {
			streamsTotal.WithLabelValues(code.String()).Inc()
		},
		OnBytesWritten: func(n int) {
			bytesWrittenTotal.Add(float64(n))
		},
		OnBytesRead: func(n int) {
			bytesReadTotal.Add(float64(n))
		},
		OnShutdown: func(code h1conn.ErrorCode) {
			connectionsOpen.Dec()
			shutdownsTotal.WithLabelValues(code.String()).Inc()
		},
	}
}
