package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"netfetch/config"
	"netfetch/observability"
	"netfetch/observability/types"
)

const component = "handler"

// LoggingMiddleware logs the start and outcome of every request.
func LoggingMiddleware(provider observability.Provider) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req Request) (Response, error) {
			requestLogger := provider.Logger(component).WithFields(types.Fields{
				"request_id": req.ID,
				"type":       req.Type,
				"source":     req.Source,
				"worker":     types.StringFromContext(ctx, types.WorkerKey),
				"platform":   types.StringFromContext(ctx, types.PlatformKey),
			})

			requestLogger.Info(ctx, "Processing request", types.Fields{
				"payload_size": len(req.Payload),
			})

			start := time.Now()
			resp, err := next(ctx, req)
			duration := time.Since(start)

			switch {
			case err != nil:
				requestLogger.Error(ctx, "Request failed with error", err, types.Fields{
					"duration_ms": duration.Milliseconds(),
				})
			case !resp.Success && resp.Error != nil:
				requestLogger.Warn(ctx, "Request completed with failure", types.Fields{
					"error_code":  resp.Error.Code,
					"error_msg":   resp.Error.Message,
					"duration_ms": duration.Milliseconds(),
				})
			default:
				requestLogger.Info(ctx, "Request completed successfully", types.Fields{
					"duration_ms": duration.Milliseconds(),
				})
			}

			resp.Duration = duration
			return resp, err
		}
	}
}

// MetricsMiddleware records in-flight, duration and outcome per worker.
func MetricsMiddleware(provider observability.Provider) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req Request) (Response, error) {
			metrics := provider.Metrics(component)

			workerName := types.StringFromContext(ctx, types.WorkerKey)
			if workerName == "" {
				workerName = "unknown"
			}

			metrics.StartOperation(workerName)
			defer metrics.EndOperation(workerName)

			start := time.Now()
			resp, err := next(ctx, req)
			metrics.RecordDuration(workerName, time.Since(start).Seconds())

			switch {
			case err != nil:
				metrics.RecordError(workerName, "processing_error")
			case !resp.Success:
				errorType := "unknown_error"
				if resp.Error != nil {
					errorType = resp.Error.Code
				}
				metrics.RecordError(workerName, errorType)
			default:
				metrics.RecordSuccess(workerName)
			}

			return resp, err
		}
	}
}

// RecoveryMiddleware turns a panic into an INTERNAL_ERROR response. It must
// be the outermost middleware.
func RecoveryMiddleware(provider observability.Provider) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req Request) (resp Response, err error) {
			defer func() {
				if r := recover(); r != nil {
					provider.Logger(component).Error(ctx, "Panic recovered", fmt.Errorf("%v", r), types.Fields{
						"request_id": req.ID,
						"worker":     types.StringFromContext(ctx, types.WorkerKey),
						"stack":      string(debug.Stack()),
					})
					provider.Metrics(component).RecordError("panic", "panic_recovered")

					// Panic details stay in the log.
					resp = NewErrorResponse(req.ID, CodeInternal, "An internal error occurred", "")
					err = fmt.Errorf("panic recovered: %v", r)
				}
			}()

			return next(ctx, req)
		}
	}
}

// TracingMiddleware propagates or creates a trace ID and creates a span ID
// for every request.
func TracingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req Request) (Response, error) {
			traceID := extractTraceID(req)
			if traceID == "" {
				traceID = uuid.New().String()
			}
			spanID := uuid.New().String()

			ctx = context.WithValue(ctx, types.TraceIDKey, traceID)
			ctx = context.WithValue(ctx, types.SpanIDKey, spanID)

			req.SetMetadata("trace_id", traceID)
			req.SetMetadata("span_id", spanID)

			resp, err := next(ctx, req)

			if resp.Metadata == nil {
				resp.Metadata = make(map[string]string)
			}
			resp.Metadata["trace_id"] = traceID
			resp.Metadata["span_id"] = spanID

			return resp, err
		}
	}
}

// TimeoutMiddleware bounds processing time. On expiry it returns a TIMEOUT
// response without waiting for the worker, which sees its context cancelled.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req Request) (Response, error) {
			timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type result struct {
				resp Response
				err  error
			}
			resultChan := make(chan result, 1)

			go func() {
				resp, err := next(timeoutCtx, req)
				resultChan <- result{resp, err}
			}()

			select {
			case res := <-resultChan:
				return res.resp, res.err
			case <-timeoutCtx.Done():
				if errors.Is(ctx.Err(), context.Canceled) {
					return NewErrorResponse(req.ID, CodeCancelled, "Request cancelled", ""), ctx.Err()
				}
				return NewErrorResponse(
					req.ID,
					CodeTimeout,
					"Request processing timed out",
					fmt.Sprintf("Exceeded timeout of %v", timeout),
				), nil
			}
		}
	}
}

// RetryMiddleware re-runs retryable failures with exponential backoff.
func RetryMiddleware(cfg *config.RetryConfig) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req Request) (Response, error) {
			var lastResp Response
			var lastErr error

			for attempt := 0; attempt <= cfg.MaxAttempts; attempt++ {
				attemptCtx := context.WithValue(ctx, types.AttemptKey, attempt)

				resp, err := next(attemptCtx, req)
				if err == nil && resp.Success {
					return resp, nil
				}
				if !isRetryable(resp, err) || ctx.Err() != nil {
					return resp, err
				}

				lastResp = resp
				lastErr = err

				if attempt < cfg.MaxAttempts {
					select {
					case <-ctx.Done():
						return NewErrorResponse(req.ID, CodeCancelled, "Request cancelled during retry", ""), ctx.Err()
					case <-time.After(calculateBackoff(attempt, cfg)):
					}
				}
			}

			if lastErr != nil {
				return lastResp, fmt.Errorf("max retries (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
			}
			if lastResp.Error != nil {
				lastResp.Error.Details = fmt.Sprintf("Failed after %d retries", cfg.MaxAttempts)
			}
			return lastResp, nil
		}
	}
}

// ValidationMiddleware rejects requests without a type or a JSON payload and
// fills in a missing ID and timestamp.
func ValidationMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req Request) (Response, error) {
			if req.ID == "" {
				req.ID = uuid.New().String()
			}
			if req.Timestamp.IsZero() {
				req.Timestamp = time.Now().UTC()
			}

			if req.Type == "" {
				return NewErrorResponse(req.ID, CodeValidation, "Request type is required", "Missing 'type' field in request"), nil
			}
			if len(req.Payload) == 0 {
				return NewErrorResponse(req.ID, CodeValidation, "Request payload is required", "Empty payload"), nil
			}
			if !json.Valid(req.Payload) {
				return NewErrorResponse(req.ID, CodeValidation, "Invalid JSON payload", "Payload must be valid JSON"), nil
			}

			req.SetMetadata("validated_at", time.Now().UTC().Format(time.RFC3339))
			return next(ctx, req)
		}
	}
}

func isRetryable(resp Response, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if resp.Error != nil {
		return resp.Error.Retryable || IsRetryableCode(resp.Error.Code)
	}
	return err != nil
}

func calculateBackoff(attempt int, cfg *config.RetryConfig) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffMultiplier, float64(attempt))
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}
	return time.Duration(backoff)
}

var traceKeys = []string{
	"trace_id",
	"x-trace-id",
	"x-b3-traceid",
	"x-request-id",
	"correlation-id",
}

func extractTraceID(req Request) string {
	for _, key := range traceKeys {
		if val, ok := req.Metadata[key]; ok && val != "" {
			return val
		}
	}
	return ""
}
