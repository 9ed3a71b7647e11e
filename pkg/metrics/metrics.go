// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-docsign.
//
// go-docsign is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for signing
// engine operations: operation counters by provider and status,
// latency histograms, verification outcomes and residual hardware
// copy tracking.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all docsign metrics
	Namespace = "docsign"

	// Label names
	LabelOperation  = "operation"
	LabelProvider   = "provider"
	LabelStatus     = "status"
	LabelResult     = "result"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Operation names
	OpCreate = "create"
	OpDelete = "delete"
	OpSign   = "sign"
	OpVerify = "verify"
	OpWrap   = "wrap"
	OpUnwrap = "unwrap"
	OpReseal = "reseal"
	OpCSR    = "csr"
)

var (
	// OperationsTotal tracks engine operations by type, provider kind and status.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of signing engine operations by type, provider, and status",
		},
		[]string{LabelOperation, LabelProvider, LabelStatus},
	)

	// OperationDuration tracks the duration of engine operations in seconds.
	// Buckets are optimized for typical cryptographic operation latencies.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of signing engine operations in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{LabelOperation, LabelProvider},
	)

	// VerificationsTotal tracks signature verification outcomes.
	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "verifications_total",
			Help:      "Total number of signature verifications by result",
		},
		[]string{LabelResult},
	)

	// ResidualCopiesTotal counts wraps that left a residual hardware copy
	// behind because the post-export deletion failed.
	ResidualCopiesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "residual_hardware_copies_total",
			Help:      "Total number of wraps that left a residual hardware copy after export",
		},
	)

	// ResidualCleanupsTotal counts residual hardware copies removed by a
	// later reseal retry.
	ResidualCleanupsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "residual_hardware_cleanups_total",
			Help:      "Total number of residual hardware copies removed by reseal retries",
		},
	)

	// HTTPRequestsTotal tracks setup daemon requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "setupd",
			Name:      "requests_total",
			Help:      "Total number of setup daemon requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	// Metrics are enabled by default
	enabled.Store(true)
}

// SetEnabled toggles metrics collection at runtime.
func SetEnabled(on bool) {
	enabled.Store(on)
}

// RecordOperation records an engine operation with its duration and status.
//
// Parameters:
//   - operation: The operation name (use Op* constants)
//   - provider: The provider kind ("hardware" or "software")
//   - status: The operation status (use Status* constants)
//   - duration: The operation duration in seconds
func RecordOperation(operation, provider, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	OperationsTotal.WithLabelValues(operation, provider, status).Inc()
	OperationDuration.WithLabelValues(operation, provider).Observe(duration)
}

// RecordVerification records a signature verification outcome.
func RecordVerification(result string) {
	if !enabled.Load() {
		return
	}
	VerificationsTotal.WithLabelValues(result).Inc()
}

// RecordResidualCopy records a wrap whose post-export deletion failed.
func RecordResidualCopy() {
	if !enabled.Load() {
		return
	}
	ResidualCopiesTotal.Inc()
}

// RecordResidualCleanup records a residual copy removed by a reseal retry.
func RecordResidualCleanup() {
	if !enabled.Load() {
		return
	}
	ResidualCleanupsTotal.Inc()
}

// RecordHTTPRequest records a setup daemon request.
func RecordHTTPRequest(method, statusCode string) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
}
