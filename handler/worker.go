package handler

import (
	"context"
)

// Worker is the platform-agnostic unit of business logic behind a Handler.
// Workers never see the transport the request arrived on.
type Worker interface {
	// Name identifies the worker in logs, metrics and health output.
	Name() string

	// Process handles one request. Business failures are reported through
	// Response.Error; the returned error is reserved for failures of the
	// processing machinery itself.
	Process(ctx context.Context, request Request) (Response, error)

	// Health reports whether the worker's dependencies are reachable.
	Health(ctx context.Context) error
}
