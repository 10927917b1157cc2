// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package metrics provides Prometheus instrumentation for ceremony
// processing: ceremony counters and latency histograms, storage error
// counters, HTTP request metrics, and resource gauges.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/authforge/go-passkey/pkg/ceremony"
)

const (
	// Namespace is the Prometheus namespace for all passkey metrics
	Namespace = "passkey"

	// Label names
	LabelKind       = "kind"
	LabelOutcome    = "outcome"
	LabelOperation  = "operation"
	LabelErrorType  = "error_type"
	LabelBackend    = "backend"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"
)

var (
	// CeremoniesStartedTotal counts issued ceremony options by kind.
	CeremoniesStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ceremonies_started_total",
			Help:      "Total number of ceremony options issued by kind",
		},
		[]string{LabelKind},
	)

	// CeremoniesTotal counts completed verify steps by kind and outcome.
	CeremoniesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ceremonies_total",
			Help:      "Total number of completed ceremonies by kind and outcome",
		},
		[]string{LabelKind, LabelOutcome},
	)

	// CeremonyDuration tracks time from options issuance to verification.
	CeremonyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "ceremony_duration_seconds",
			Help:      "Time from ceremony options issuance to verification",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{LabelKind},
	)

	// StorageErrorsTotal counts storage faults by operation and error type.
	StorageErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "storage_errors_total",
			Help:      "Total number of storage errors by operation and error type",
		},
		[]string{LabelOperation, LabelErrorType},
	)

	// PendingSessions tracks the current number of pending ceremony sessions
	// per session backend.
	PendingSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "pending_sessions",
			Help:      "Current number of pending ceremony sessions by backend",
		},
		[]string{LabelBackend},
	)

	// CredentialsTotal tracks the number of stored credentials per backend.
	CredentialsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "credentials_total",
			Help:      "Total number of stored credentials by backend",
		},
		[]string{LabelBackend},
	)

	// HTTPRequestsTotal counts HTTP requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	// Goroutines tracks the current number of goroutines.
	// Updated periodically by the resource collector.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks the current bytes of allocated heap objects.
	// Updated periodically by the resource collector.
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// ServerUptime tracks the server uptime in seconds since startup.
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Server uptime in seconds since startup",
		},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// RecordCeremonyStarted records issued ceremony options.
func RecordCeremonyStarted(kind string) {
	if !enabled.Load() {
		return
	}
	CeremoniesStartedTotal.WithLabelValues(kind).Inc()
}

// RecordCeremonyCompleted records a completed verify step with its outcome
// and the time elapsed since the options were issued.
func RecordCeremonyCompleted(kind, outcome string, duration float64) {
	if !enabled.Load() {
		return
	}
	CeremoniesTotal.WithLabelValues(kind, outcome).Inc()
	if duration > 0 {
		CeremonyDuration.WithLabelValues(kind).Observe(duration)
	}
}

// RecordStorageError records a storage fault.
func RecordStorageError(operation, errorType string) {
	if !enabled.Load() {
		return
	}
	StorageErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordHTTPRequest records an HTTP request with its duration and status.
func RecordHTTPRequest(method, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration)
}

// SetPendingSessions sets the pending session gauge for a backend.
func SetPendingSessions(backend string, count float64) {
	if !enabled.Load() {
		return
	}
	PendingSessions.WithLabelValues(backend).Set(count)
}

// SetCredentialsTotal sets the stored credential gauge for a backend.
func SetCredentialsTotal(backend string, count float64) {
	if !enabled.Load() {
		return
	}
	CredentialsTotal.WithLabelValues(backend).Set(count)
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}

// CeremonyRecorder adapts the package-level ceremony metrics to the engine's
// Recorder interface.
type CeremonyRecorder struct{}

// CeremonyStarted implements ceremony.Recorder.
func (CeremonyRecorder) CeremonyStarted(kind ceremony.Kind) {
	RecordCeremonyStarted(string(kind))
}

// CeremonyCompleted implements ceremony.Recorder.
func (CeremonyRecorder) CeremonyCompleted(kind ceremony.Kind, outcome string, elapsed time.Duration) {
	RecordCeremonyCompleted(string(kind), outcome, elapsed.Seconds())
}
