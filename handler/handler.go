// Package handler runs a Worker behind a middleware chain and exposes it to
// platform adapters (HTTP, Lambda/SQS, CLI).
package handler

import (
	"context"

	"netfetch/config"
	"netfetch/observability"
	"netfetch/observability/types"
)

// Platform identifiers.
const (
	PlatformHTTP   = "http"
	PlatformLambda = "lambda"
	PlatformCLI    = "cli"
)

// Handler wraps a Worker with middleware.
type Handler struct {
	worker      Worker
	obs         observability.Provider
	middlewares []Middleware
	config      *config.HandlerConfig
}

// Middleware wraps a HandlerFunc to add a cross-cutting concern.
type Middleware func(next HandlerFunc) HandlerFunc

// HandlerFunc is the signature middlewares wrap.
type HandlerFunc func(ctx context.Context, req Request) (Response, error)

// NewHandler creates a handler with no middleware. Most callers use Factory.
func NewHandler(worker Worker, provider observability.Provider, cfg *config.HandlerConfig) *Handler {
	if cfg == nil {
		def := config.DefaultHandlerConfig()
		cfg = &def
	}
	return &Handler{
		worker:      worker,
		obs:         provider,
		config:      cfg,
		middlewares: []Middleware{},
	}
}

// Use appends middleware. The first middleware added is the outermost.
func (h *Handler) Use(middleware Middleware) {
	h.middlewares = append(h.middlewares, middleware)
}

// Handle runs req through the middleware chain and the worker.
func (h *Handler) Handle(ctx context.Context, req Request) (Response, error) {
	next := h.buildHandlerChain()

	ctx = context.WithValue(ctx, types.RequestIDKey, req.ID)
	ctx = context.WithValue(ctx, types.WorkerKey, h.worker.Name())
	ctx = context.WithValue(ctx, types.PlatformKey, h.config.Platform)

	return next(ctx, req)
}

func (h *Handler) buildHandlerChain() HandlerFunc {
	next := h.workerHandler
	for i := len(h.middlewares) - 1; i >= 0; i-- {
		next = h.middlewares[i](next)
	}
	return next
}

func (h *Handler) workerHandler(ctx context.Context, req Request) (Response, error) {
	return h.worker.Process(ctx, req)
}

// Health reports the worker's health.
func (h *Handler) Health(ctx context.Context) error {
	return h.worker.Health(ctx)
}

func (h *Handler) Config() *config.HandlerConfig {
	return h.config
}

func (h *Handler) Worker() Worker {
	return h.worker
}
