// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-tpmsecret.
//
// go-tpmsecret is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for secured value
// transitions, TPM commands and gate contention.
package metrics

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all metrics
	Namespace = "tpmsecret"

	// Label names
	LabelTransition = "transition"
	LabelOperation  = "operation"
	LabelStatus     = "status"
	LabelGate       = "gate"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Secured value transitions
	TransitionEncrypt = "encrypt"
	TransitionDecrypt = "decrypt"
	TransitionRecrypt = "recrypt"

	// TPM operations
	OpConnect    = "connect"
	OpCapability = "capability"
	OpHMAC       = "hmac"
	OpRandom     = "random"
)

var (
	// TransitionsTotal counts secured value state transitions by kind and status.
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "secured_value",
			Name:      "transitions_total",
			Help:      "Total number of secured value transitions by kind and status",
		},
		[]string{LabelTransition, LabelStatus},
	)

	// TransitionDuration tracks how long each transition held the value gate.
	TransitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "secured_value",
			Name:      "transition_duration_seconds",
			Help:      "Duration of secured value transitions in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{LabelTransition},
	)

	// ReadsTotal counts plaintext reads across all secured values.
	ReadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "secured_value",
			Name:      "reads_total",
			Help:      "Total number of secured value reads",
		},
	)

	// SecuredValues is the number of live secured values in the process.
	SecuredValues = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "secured_value",
			Name:      "live",
			Help:      "Number of live secured values",
		},
	)

	// HardwareOperationsTotal counts TPM commands by operation and status.
	HardwareOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "tpm",
			Name:      "operations_total",
			Help:      "Total number of TPM operations by type and status",
		},
		[]string{LabelOperation, LabelStatus},
	)

	// HardwareOperationDuration tracks TPM command latency.
	HardwareOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "tpm",
			Name:      "operation_duration_seconds",
			Help:      "Duration of TPM operations in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{LabelOperation},
	)

	// MaxDigestSize is the largest digest the connected TPM supports.
	MaxDigestSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "tpm",
			Name:      "max_digest_bytes",
			Help:      "Maximum digest size reported by the TPM",
		},
	)

	// GateWaitDuration tracks time spent waiting for exclusive access.
	GateWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "gate_wait_seconds",
			Help:      "Time spent waiting to enter a gate in seconds",
			Buckets:   []float64{.00001, .0001, .001, .01, .05, .1, .5, 1, 5},
		},
		[]string{LabelGate},
	)

	// HTTPRequestsTotal tracks the total number of status server requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks the duration of status server requests.
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
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// Uptime tracks seconds since the resource collector started.
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
	)

	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

func statusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// RecordTransition records a secured value transition and its duration.
func RecordTransition(transition string, duration time.Duration, err error) {
	if !enabled.Load() {
		return
	}
	TransitionsTotal.WithLabelValues(transition, statusOf(err)).Inc()
	TransitionDuration.WithLabelValues(transition).Observe(duration.Seconds())
}

// RecordRead counts a secured value read.
func RecordRead() {
	if !enabled.Load() {
		return
	}
	ReadsTotal.Inc()
}

// SetSecuredValues sets the live secured value gauge.
func SetSecuredValues(count int) {
	if !enabled.Load() {
		return
	}
	SecuredValues.Set(float64(count))
}

// RecordHardwareOperation records a TPM command and its latency.
//
// Example:
//
//	start := time.Now()
//	digest, err := handle.HMAC(ctx, data, alg, key)
//	metrics.RecordHardwareOperation(metrics.OpHMAC, time.Since(start), err)
func RecordHardwareOperation(operation string, duration time.Duration, err error) {
	if !enabled.Load() {
		return
	}
	HardwareOperationsTotal.WithLabelValues(operation, statusOf(err)).Inc()
	HardwareOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetMaxDigestSize publishes the TPM's maximum digest size.
func SetMaxDigestSize(size int) {
	if !enabled.Load() {
		return
	}
	MaxDigestSize.Set(float64(size))
}

// RecordGateWait records the time a caller waited to enter a gate.
func RecordGateWait(gate string, wait time.Duration) {
	if !enabled.Load() {
		return
	}
	GateWaitDuration.WithLabelValues(gate).Observe(wait.Seconds())
}

// RecordHTTPRequest records a status server request.
func RecordHTTPRequest(method string, code int, duration time.Duration) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
