package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"netfetch/config"
	"netfetch/handler"
	"netfetch/internal/fetch"
	"netfetch/internal/queue"
	"netfetch/internal/transport"
	"netfetch/internal/trust"
	"netfetch/internal/usecase"
	"netfetch/observability"
	"netfetch/storage"
	storagetypes "netfetch/storage/types"
)

// Application holds the assembled stack.
type Application struct {
	cfg       *config.Config
	obs       *observability.DefaultProvider
	registry  *prometheus.Registry
	logger    observability.Logger
	transport *transport.HTTP
	queue     *queue.Queue
	worker    *usecase.FetchWorker
}

// buildApplication wires observability, trust, transport, queue, storage
// and the fetch worker from cfg. Logs go to logOutput.
func buildApplication(ctx context.Context, cfg *config.Config, logOutput io.Writer) (*Application, error) {
	registry := initializeMetrics()
	obs := observability.NewProvider(&observability.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		LogLevel:    cfg.LogLevel,
		LogFormat:   cfg.LogFormat,
		LogOutput:   logOutput,
		Registerer:  registry,
	})
	logger := obs.Logger("main")

	session, err := sessionConfig(cfg)
	if err != nil {
		return nil, err
	}

	qos, err := queue.ParseQoS(cfg.Queue.DefaultQoS)
	if err != nil {
		return nil, err
	}

	store, err := initializeStorage(ctx, cfg, obs)
	if err != nil {
		return nil, err
	}

	tr := transport.NewHTTP(obs.Logger("transport"))
	q := queue.New(cfg.Queue.MaxConcurrent,
		queue.WithLogger(obs.Logger("queue")),
		queue.WithMetrics(obs.Metrics("queue")),
	)

	worker := usecase.NewFetchWorker(tr, q, obs,
		usecase.WithSessionConfig(session),
		usecase.WithDefaultQoS(qos),
		usecase.WithStorage(store),
		usecase.WithHostRateLimit(cfg.Queue.HostRPS, cfg.Queue.HostBurst),
	)

	logger.Info(ctx, "Application initialized", observability.Fields{
		"service":        cfg.ServiceName,
		"version":        cfg.Version,
		"environment":    cfg.Environment,
		"max_concurrent": cfg.Queue.MaxConcurrent,
		"storage":        cfg.Storage.Provider,
	})

	return &Application{
		cfg:       cfg,
		obs:       obs,
		registry:  registry,
		logger:    logger,
		transport: tr,
		queue:     q,
		worker:    worker,
	}, nil
}

func initializeMetrics() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// initializeStorage returns nil when archiving is disabled.
func initializeStorage(ctx context.Context, cfg *config.Config, obs observability.Provider) (storagetypes.ObjectStorage, error) {
	p := storage.GetProvider()
	if err := p.Initialize(ctx, cfg.Storage, obs, storage.New); err != nil {
		return nil, err
	}

	store, err := p.GetStorage()
	if errors.Is(err, storagetypes.ErrDisabled) {
		return nil, nil
	}
	return store, err
}

// sessionConfig builds the session every unit shares.
func sessionConfig(cfg *config.Config) (*fetch.SessionConfig, error) {
	policy, roots, err := trust.FromConfig(cfg.TLS, cfg.IsProduction())
	if err != nil {
		return nil, err
	}

	session := fetch.DefaultSessionConfig()
	session.Timeout = cfg.HTTP.Timeout
	session.ResponseHeaderTimeout = cfg.HTTP.ResponseHeaderTimeout
	session.TLSHandshakeTimeout = cfg.HTTP.TLSHandshakeTimeout
	session.IdleConnTimeout = cfg.HTTP.IdleConnTimeout
	session.MaxIdleConnsPerHost = cfg.HTTP.MaxIdleConnsPerHost
	session.MaxResponseBytes = cfg.HTTP.MaxResponseBytes
	if cfg.HTTP.UserAgent != "" {
		session.UserAgent = cfg.HTTP.UserAgent
	}
	session.TLSMinVersion = tlsVersion(cfg.TLS.MinVersion)
	session.RootCAs = roots
	session.TrustPolicy = policy

	if cfg.TLS.ClientCertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.ClientCertFile, cfg.TLS.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		session.ClientCertificates = []tls.Certificate{cert}
	}

	return session, nil
}

func tlsVersion(v string) uint16 {
	if v == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}

// newFactory returns a handler factory for the application's worker.
func (a *Application) newFactory() *handler.Factory {
	return handler.NewFactory(a.worker, a.obs).
		WithHandlerConfig(a.cfg.Handler).
		WithRetryConfig(a.cfg.Retry)
}

// Shutdown drains queued fetches, cancelling whatever is left when ctx
// ends, and releases the transport.
func (a *Application) Shutdown(ctx context.Context) error {
	err := a.queue.Drain(ctx)
	a.transport.CloseIdleConnections()
	if cerr := a.obs.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		a.logger.Warn(ctx, "Shutdown incomplete", observability.Fields{"error": err.Error()})
		return err
	}
	a.logger.Info(ctx, "Shutdown complete", nil)
	return nil
}
