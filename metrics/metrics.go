/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package metrics exposes the observability surface the spec's
// non-goals never exclude (spec §4.7 DOMAIN STACK): counters and
// gauges for reconnect attempts, active sessions, upload/download
// cursor lag, and async-commit queue depth. Built directly on
// prometheus/client_golang's CounterVec/GaugeVec/HistogramVec, the
// same NewCounterVec/NewGaugeVec/Register shape the pack's own
// prometheus/metrics wrapper uses internally (only that package's
// tests were retrieved, not its source, so there is nothing to adapt
// beyond the pattern its examples demonstrate).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "realm_sync"

// Metrics is the set of collectors one Engine registers once, at
// construction, against a caller-supplied prometheus.Registerer
// (typically a dedicated Registry so a host application controls what
// else shares its /metrics endpoint).
type Metrics struct {
	ReconnectAttempts *prometheus.CounterVec
	ActiveSessions    prometheus.Gauge
	ActiveConnections prometheus.Gauge
	UploadCursorLag   *prometheus.GaugeVec
	DownloadCursorLag *prometheus.GaugeVec
	AsyncQueueDepth   prometheus.Gauge
	AsyncCommitGroup  prometheus.Histogram
	PingRTT           prometheus.Histogram
	BootstrapBytes    *prometheus.CounterVec
}

// New constructs the collector set without registering it; callers
// that want every collector live against the default registry can
// pass prometheus.DefaultRegisterer to Register.
func New() *Metrics {
	return &Metrics{
		ReconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Count of reconnect attempts, labeled by termination reason (spec §4.1).",
		}, []string{"reason"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions currently in the Active application state.",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of Connections currently in the connected state.",
		}),
		UploadCursorLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upload_cursor_lag",
			Help:      "latest_local_version - upload.client_version, per session path.",
		}, []string{"path"}),
		DownloadCursorLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "download_cursor_lag",
			Help:      "latest_server_version.version - download.server_version, per session path.",
		}, []string{"path"}),
		AsyncQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "async_write_queue_depth",
			Help:      "Number of AsyncWriteRequests currently queued across all Coordinators.",
		}),
		AsyncCommitGroup: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "async_commit_group_size",
			Help:      "Number of writers chained into one grouped commit (spec §4.4, cap ~20).",
			Buckets:   []float64{1, 2, 5, 10, 15, 20},
		}),
		PingRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ping_rtt_seconds",
			Help:      "PING/PONG round-trip time (spec §4.2 previous_ping_rtt).",
			Buckets:   prometheus.DefBuckets,
		}),
		BootstrapBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bootstrap_bytes_total",
			Help:      "Bytes buffered into the pending-bootstrap store, per query version state.",
		}, []string{"query_version"}),
	}
}

// collectors lists every registerable member, so Register/Unregister
// never drift out of sync with New as fields are added.
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ReconnectAttempts,
		m.ActiveSessions,
		m.ActiveConnections,
		m.UploadCursorLag,
		m.DownloadCursorLag,
		m.AsyncQueueDepth,
		m.AsyncCommitGroup,
		m.PingRTT,
		m.BootstrapBytes,
	}
}

// Register adds every collector to reg. A collector that reg reports as
// already registered is skipped, so a second call against the same
// registry returns nil; any other registration error is returned.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// Unregister removes every collector from reg, e.g. during engine
// shutdown in a test harness that re-registers a fresh Metrics set per
// test.
func (m *Metrics) Unregister(reg prometheus.Registerer) {
	for _, c := range m.collectors() {
		reg.Unregister(c)
	}
}
