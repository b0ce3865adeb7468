// Package metrics implements types.Metrics with the Prometheus client.
package metrics

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"netfetch/observability/types"
)

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// SanitizeName turns a component name such as "fetch.unit" into a valid
// Prometheus metric prefix ("fetch_unit").
func SanitizeName(name string) string {
	name = invalidNameChars.ReplaceAllString(strings.TrimSpace(name), "_")
	if name == "" {
		return "netfetch"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}
	return name
}

// PrometheusMetrics records the five standard series of a component:
//
//	{prefix}_processed_total{status,type}
//	{prefix}_errors_total{error_type,operation}
//	{prefix}_duration_seconds{operation}
//	{prefix}_file_size_bytes{file_type}
//	{prefix}_in_progress{operation}
type PrometheusMetrics struct {
	prefix string

	processedTotal  *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	durationSeconds *prometheus.HistogramVec
	fileSizeBytes   *prometheus.HistogramVec
	inProgress      *prometheus.GaugeVec
}

var _ types.Metrics = (*PrometheusMetrics)(nil)

// New creates the collectors for component and registers them on reg
// (prometheus.DefaultRegisterer when nil). It panics on duplicate
// registration, like prometheus.MustRegister.
func New(component string, reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	prefix := SanitizeName(component)

	m := &PrometheusMetrics{prefix: prefix}

	m.processedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_processed_total", prefix),
			Help: fmt.Sprintf("Total operations processed by %s", component),
		},
		[]string{"status", "type"},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_errors_total", prefix),
			Help: fmt.Sprintf("Total errors in %s", component),
		},
		[]string{"error_type", "operation"},
	)

	m.durationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    fmt.Sprintf("%s_duration_seconds", prefix),
			Help:    fmt.Sprintf("Operation duration in %s", component),
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// 1KB .. 1GB
	m.fileSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    fmt.Sprintf("%s_file_size_bytes", prefix),
			Help:    fmt.Sprintf("Payload sizes handled by %s", component),
			Buckets: prometheus.ExponentialBuckets(1024, 10, 7),
		},
		[]string{"file_type"},
	)

	m.inProgress = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_in_progress", prefix),
			Help: fmt.Sprintf("Operations in progress in %s", component),
		},
		[]string{"operation"},
	)

	reg.MustRegister(
		m.processedTotal,
		m.errorsTotal,
		m.durationSeconds,
		m.fileSizeBytes,
		m.inProgress,
	)

	return m
}

// Prefix returns the sanitized metric name prefix.
func (m *PrometheusMetrics) Prefix() string {
	return m.prefix
}

func (m *PrometheusMetrics) RecordSuccess(operationType string) {
	m.processedTotal.WithLabelValues("success", operationType).Inc()
}

// RecordError bumps both the processed counter (status="error") and the
// per-category error counter.
func (m *PrometheusMetrics) RecordError(operationType string, errorType string) {
	m.processedTotal.WithLabelValues("error", operationType).Inc()
	m.errorsTotal.WithLabelValues(errorType, operationType).Inc()
}

func (m *PrometheusMetrics) RecordDuration(operation string, duration float64) {
	m.durationSeconds.WithLabelValues(operation).Observe(duration)
}

func (m *PrometheusMetrics) RecordFileSize(fileType string, bytes int64) {
	m.fileSizeBytes.WithLabelValues(fileType).Observe(float64(bytes))
}

func (m *PrometheusMetrics) StartOperation(operation string) {
	m.inProgress.WithLabelValues(operation).Inc()
}

func (m *PrometheusMetrics) EndOperation(operation string) {
	m.inProgress.WithLabelValues(operation).Dec()
}

// Nop discards every observation.
type Nop struct{}

var _ types.Metrics = Nop{}

func (Nop) RecordSuccess(string)           {}
func (Nop) RecordError(string, string)     {}
func (Nop) RecordDuration(string, float64) {}
func (Nop) RecordFileSize(string, int64)   {}
func (Nop) StartOperation(string)          {}
func (Nop) EndOperation(string)            {}
