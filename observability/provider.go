// Package observability hands out per-component loggers and metrics
// recorders to the rest of netfetch.
package observability

import (
	"fmt"
	"io"
	"os"
	"sync"

	"netfetch/observability/logger"
	"netfetch/observability/metrics"
	"netfetch/observability/types"
)

type (
	Logger   = types.Logger
	Metrics  = types.Metrics
	Fields   = types.Fields
	Config   = types.Config
	Provider = types.Provider
)

// DefaultProvider creates loggers and metrics lazily and caches them per
// component.
type DefaultProvider struct {
	config  *Config
	loggers map[string]Logger
	metrics map[string]Metrics
	mu      sync.RWMutex
}

var _ Provider = (*DefaultProvider)(nil)

// NewProvider returns a DefaultProvider. LogOutput defaults to os.Stdout.
//
//	p := observability.NewProvider(&observability.Config{
//		ServiceName: "netfetch",
//		Environment: "production",
//		LogLevel:    "info",
//	})
//	log := p.Logger("fetch")
func NewProvider(config *Config) *DefaultProvider {
	if config.LogOutput == nil {
		config.LogOutput = os.Stdout
	}

	return &DefaultProvider{
		config:  config,
		loggers: make(map[string]Logger),
		metrics: make(map[string]Metrics),
	}
}

// Logger returns the logger for component. Entries carry a "component"
// field and the service name "{ServiceName}.{component}".
func (p *DefaultProvider) Logger(component string) Logger {
	p.mu.RLock()
	if l, exists := p.loggers[component]; exists {
		p.mu.RUnlock()
		return l
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if l, exists := p.loggers[component]; exists {
		return l
	}

	fields := make(Fields, len(p.config.AdditionalFields)+1)
	for k, v := range p.config.AdditionalFields {
		fields[k] = v
	}
	fields["component"] = component

	l := logger.New(logger.Options{
		ServiceName: fmt.Sprintf("%s.%s", p.config.ServiceName, component),
		Environment: p.config.Environment,
		Level:       p.config.LogLevel,
		Format:      p.config.LogFormat,
		Output:      p.config.LogOutput,
		Fields:      fields,
	})
	p.loggers[component] = l

	return l
}

// Metrics returns the metrics recorder for component, registering its
// collectors on config.Registerer the first time.
func (p *DefaultProvider) Metrics(component string) Metrics {
	p.mu.RLock()
	if m, exists := p.metrics[component]; exists {
		p.mu.RUnlock()
		return m
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if m, exists := p.metrics[component]; exists {
		return m
	}

	m := metrics.New(fmt.Sprintf("%s_%s", p.config.ServiceName, component), p.config.Registerer)
	p.metrics[component] = m

	return m
}

// Close closes LogOutput when it is an io.Closer other than stdout/stderr.
func (p *DefaultProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if closer, ok := p.config.LogOutput.(io.Closer); ok {
		if closer != os.Stdout && closer != os.Stderr {
			return closer.Close()
		}
	}

	return nil
}

// NopProvider discards logs and metrics. Useful as a default.
type NopProvider struct{}

var _ Provider = NopProvider{}

func (NopProvider) Logger(string) Logger   { return logger.Nop() }
func (NopProvider) Metrics(string) Metrics { return metrics.Nop{} }
func (NopProvider) Close() error           { return nil }
