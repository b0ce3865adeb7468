package handler

import (
	"os"

	"netfetch/config"
	"netfetch/observability"
)

// Factory builds a Handler with the standard middleware stack.
type Factory struct {
	worker     Worker
	provider   observability.Provider
	handlerCfg config.HandlerConfig
	retryCfg   config.RetryConfig
}

// NewFactory creates a factory using the default handler and retry config.
func NewFactory(worker Worker, provider observability.Provider) *Factory {
	return &Factory{
		worker:     worker,
		provider:   provider,
		handlerCfg: config.DefaultHandlerConfig(),
		retryCfg:   config.DefaultRetryConfig(),
	}
}

func (f *Factory) WithHandlerConfig(cfg config.HandlerConfig) *Factory {
	f.handlerCfg = cfg
	return f
}

func (f *Factory) WithRetryConfig(cfg config.RetryConfig) *Factory {
	f.retryCfg = cfg
	return f
}

// Create builds a handler for the configured platform, detecting it when
// unset or "auto".
func (f *Factory) Create() *Handler {
	if f.handlerCfg.Platform == "" || f.handlerCfg.Platform == "auto" {
		f.handlerCfg.Platform = DetectPlatform()
	}

	cfg := f.handlerCfg
	h := NewHandler(f.worker, f.provider, &cfg)
	f.applyDefaultMiddleware(h)
	return h
}

func (f *Factory) CreateHTTP() *Handler {
	f.handlerCfg.Platform = PlatformHTTP
	return f.Create()
}

func (f *Factory) CreateLambda() *Handler {
	f.handlerCfg.Platform = PlatformLambda
	return f.Create()
}

func (f *Factory) CreateCLI() *Handler {
	f.handlerCfg.Platform = PlatformCLI
	return f.Create()
}

// applyDefaultMiddleware installs, outermost first: recovery, timeout,
// tracing, metrics, logging, validation, retry.
func (f *Factory) applyDefaultMiddleware(h *Handler) {
	h.Use(RecoveryMiddleware(f.provider))

	if f.handlerCfg.Timeout > 0 {
		h.Use(TimeoutMiddleware(f.handlerCfg.Timeout))
	}
	if f.handlerCfg.EnableTracing {
		h.Use(TracingMiddleware())
	}
	if f.handlerCfg.EnableMetrics {
		h.Use(MetricsMiddleware(f.provider))
	}

	h.Use(LoggingMiddleware(f.provider))
	h.Use(ValidationMiddleware())

	if f.handlerCfg.EnableRetry && f.retryCfg.MaxAttempts > 0 {
		retryCfg := f.retryCfg
		h.Use(RetryMiddleware(&retryCfg))
	}
}

// DetectPlatform returns PlatformLambda inside the Lambda runtime and
// PlatformHTTP otherwise.
func DetectPlatform() string {
	if _, ok := os.LookupEnv("AWS_LAMBDA_FUNCTION_NAME"); ok {
		return PlatformLambda
	}
	if _, ok := os.LookupEnv("AWS_LAMBDA_RUNTIME_API"); ok {
		return PlatformLambda
	}
	return PlatformHTTP
}
