// Package types holds the observability contracts shared by every netfetch
// component: a context-aware structured Logger, a Prometheus-shaped Metrics
// recorder and the Provider that hands out per-component instances.
package types

import (
	"context"
	"io"

	"github.com/prometheus/client_golang/prometheus"
)

// Logger is the structured logging contract.
// All methods take a context so request and trace identifiers stored on it
// end up on the log line.
type Logger interface {
	// Info logs normal operational events.
	Info(ctx context.Context, msg string, fields Fields)

	// Error logs a failure together with the error that caused it.
	Error(ctx context.Context, msg string, err error, fields Fields)

	// Warn logs a recoverable or caller-visible problem.
	Warn(ctx context.Context, msg string, fields Fields)

	// Debug logs detail that is filtered out outside development.
	Debug(ctx context.Context, msg string, fields Fields)

	// WithFields returns a child logger that adds fields to every entry.
	WithFields(fields Fields) Logger
}

// Metrics is the metrics recording contract. Implementations follow
// Prometheus naming conventions.
type Metrics interface {
	// RecordSuccess counts a successful operation.
	RecordSuccess(operationType string)

	// RecordError counts a failed operation and its error category.
	RecordError(operationType string, errorType string)

	// RecordDuration observes an operation duration in seconds.
	RecordDuration(operation string, duration float64)

	// RecordFileSize observes a payload size in bytes.
	RecordFileSize(fileType string, bytes int64)

	// StartOperation increments the in-progress gauge for operation.
	// Must be paired with EndOperation.
	StartOperation(operation string)

	// EndOperation decrements the in-progress gauge for operation.
	EndOperation(operation string)
}

// Fields are structured key/value pairs attached to a log entry.
type Fields map[string]interface{}

// Config configures a Provider.
type Config struct {
	// ServiceName identifies the service in logs and prefixes metric names.
	ServiceName string

	// Environment is the deployment environment ("local", "staging", "production").
	Environment string

	// LogLevel is the minimum level: "debug", "info", "warn" or "error".
	LogLevel string

	// LogFormat is "json" (default) or "console".
	LogFormat string

	// LogOutput receives log entries. Defaults to os.Stdout.
	LogOutput io.Writer

	// Registerer receives every metric collector. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer

	// AdditionalFields are added to every log entry.
	AdditionalFields Fields
}

// Provider hands out Logger and Metrics instances per component.
// Repeated calls with the same component return the same instance.
type Provider interface {
	Logger(component string) Logger
	Metrics(component string) Metrics
	Close() error
}
