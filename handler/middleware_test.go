package handler

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"netfetch/config"
	"netfetch/observability/mocks"
	"netfetch/observability/types"
)

func okHandler(ctx context.Context, req Request) (Response, error) {
	return NewSuccessResponse(req.ID, nil)
}

func TestTimeoutMiddleware(t *testing.T) {
	middleware := TimeoutMiddleware(50 * time.Millisecond)

	t.Run("success within timeout", func(t *testing.T) {
		resp, err := middleware(okHandler)(context.Background(), Request{ID: "req-1"})

		assert.NoError(t, err)
		assert.True(t, resp.Success)
	})

	t.Run("timeout exceeded", func(t *testing.T) {
		block := make(chan struct{})
		defer close(block)
		sawCancel := make(chan struct{})
		h := middleware(func(ctx context.Context, req Request) (Response, error) {
			<-ctx.Done()
			close(sawCancel)
			<-block
			return Response{}, ctx.Err()
		})

		resp, err := h(context.Background(), Request{ID: "req-1"})

		assert.NoError(t, err)
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeTimeout, resp.Error.Code)
		assert.True(t, resp.Error.Retryable)

		select {
		case <-sawCancel:
		case <-time.After(time.Second):
			t.Fatal("worker context was not cancelled")
		}
	})

	t.Run("parent cancellation", func(t *testing.T) {
		block := make(chan struct{})
		defer close(block)
		h := middleware(func(ctx context.Context, req Request) (Response, error) {
			<-block
			return Response{}, ctx.Err()
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		resp, err := h(ctx, Request{ID: "req-1"})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, CodeCancelled, resp.Error.Code)
	})
}

func testRetryConfig() *config.RetryConfig {
	return &config.RetryConfig{
		MaxAttempts:       2,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func TestRetryMiddleware(t *testing.T) {
	t.Run("succeeds after a retryable failure", func(t *testing.T) {
		var calls int32
		h := RetryMiddleware(testRetryConfig())(func(ctx context.Context, req Request) (Response, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return NewErrorResponse(req.ID, CodeNetwork, "connection reset", ""), nil
			}
			return NewSuccessResponse(req.ID, nil)
		})

		resp, err := h(context.Background(), Request{ID: "req-1"})

		assert.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("does not retry non-retryable failures", func(t *testing.T) {
		var calls int32
		h := RetryMiddleware(testRetryConfig())(func(ctx context.Context, req Request) (Response, error) {
			atomic.AddInt32(&calls, 1)
			return NewErrorResponse(req.ID, CodeTrustValidationFailed, "pin mismatch", ""), nil
		})

		resp, err := h(context.Background(), Request{ID: "req-1"})

		assert.NoError(t, err)
		assert.Equal(t, CodeTrustValidationFailed, resp.Error.Code)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		var calls int32
		h := RetryMiddleware(testRetryConfig())(func(ctx context.Context, req Request) (Response, error) {
			atomic.AddInt32(&calls, 1)
			return NewErrorResponse(req.ID, CodeNetwork, "connection reset", ""), nil
		})

		resp, err := h(context.Background(), Request{ID: "req-1"})

		assert.NoError(t, err)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
		assert.Equal(t, "Failed after 2 retries", resp.Error.Details)
	})

	t.Run("wraps the last error", func(t *testing.T) {
		boom := errors.New("boom")
		h := RetryMiddleware(testRetryConfig())(func(ctx context.Context, req Request) (Response, error) {
			return Response{}, boom
		})

		_, err := h(context.Background(), Request{ID: "req-1"})

		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "max retries (2) exceeded")
	})

	t.Run("records the attempt on the context", func(t *testing.T) {
		var attempts []int
		h := RetryMiddleware(testRetryConfig())(func(ctx context.Context, req Request) (Response, error) {
			attempts = append(attempts, ctx.Value(types.AttemptKey).(int))
			return NewErrorResponse(req.ID, CodeTimeout, "slow", ""), nil
		})

		_, _ = h(context.Background(), Request{ID: "req-1"})

		assert.Equal(t, []int{0, 1, 2}, attempts)
	})

	t.Run("stops when the context is cancelled", func(t *testing.T) {
		cfg := testRetryConfig()
		cfg.InitialBackoff = time.Hour
		cfg.MaxBackoff = time.Hour

		ctx, cancel := context.WithCancel(context.Background())
		h := RetryMiddleware(cfg)(func(ctx context.Context, req Request) (Response, error) {
			time.AfterFunc(10*time.Millisecond, cancel)
			return NewErrorResponse(req.ID, CodeNetwork, "connection reset", ""), nil
		})

		resp, err := h(ctx, Request{ID: "req-1"})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, CodeCancelled, resp.Error.Code)
	})
}

func TestCalculateBackoff(t *testing.T) {
	cfg := &config.RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, BackoffMultiplier: 2}

	assert.Equal(t, 100*time.Millisecond, calculateBackoff(0, cfg))
	assert.Equal(t, 200*time.Millisecond, calculateBackoff(1, cfg))
	assert.Equal(t, 800*time.Millisecond, calculateBackoff(3, cfg))
	assert.Equal(t, time.Second, calculateBackoff(10, cfg))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, isRetryable(Response{}, context.Canceled))
	assert.False(t, isRetryable(Response{}, context.DeadlineExceeded))
	assert.True(t, isRetryable(Response{}, errors.New("boom")))
	assert.True(t, isRetryable(Response{Error: &ErrorResponse{Code: CodeRateLimited}}, nil))
	assert.True(t, isRetryable(Response{Error: &ErrorResponse{Code: "CUSTOM", Retryable: true}}, nil))
	assert.False(t, isRetryable(Response{Error: &ErrorResponse{Code: CodeNoData}}, nil))
	assert.False(t, isRetryable(Response{Success: true}, nil))
}

func TestValidationMiddleware(t *testing.T) {
	var seen Request
	h := ValidationMiddleware()(func(ctx context.Context, req Request) (Response, error) {
		seen = req
		return NewSuccessResponse(req.ID, nil)
	})

	tests := []struct {
		name    string
		req     Request
		wantMsg string
	}{
		{"missing type", Request{Payload: json.RawMessage(`{}`)}, "Request type is required"},
		{"missing payload", Request{Type: "fetch"}, "Request payload is required"},
		{"invalid json", Request{Type: "fetch", Payload: json.RawMessage(`{"url":`)}, "Invalid JSON payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := h(context.Background(), tt.req)

			assert.NoError(t, err)
			assert.False(t, resp.Success)
			assert.Equal(t, CodeValidation, resp.Error.Code)
			assert.Equal(t, tt.wantMsg, resp.Error.Message)
			assert.NotEmpty(t, resp.ID)
		})
	}

	t.Run("valid request is enriched", func(t *testing.T) {
		resp, err := h(context.Background(), Request{Type: "fetch", Payload: json.RawMessage(`{"url":"https://api.example.com"}`)})

		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.NotEmpty(t, seen.ID)
		assert.False(t, seen.Timestamp.IsZero())
		assert.Contains(t, seen.Metadata, "validated_at")
	})
}

func TestTracingMiddleware(t *testing.T) {
	var traceID, spanID string
	h := TracingMiddleware()(func(ctx context.Context, req Request) (Response, error) {
		traceID = types.StringFromContext(ctx, types.TraceIDKey)
		spanID = types.StringFromContext(ctx, types.SpanIDKey)
		return NewSuccessResponse(req.ID, nil)
	})

	t.Run("propagates an incoming trace", func(t *testing.T) {
		resp, err := h(context.Background(), Request{ID: "req-1", Metadata: map[string]string{"x-request-id": "trace-abc"}})

		require.NoError(t, err)
		assert.Equal(t, "trace-abc", traceID)
		assert.NotEmpty(t, spanID)
		assert.Equal(t, "trace-abc", resp.Metadata["trace_id"])
		assert.Equal(t, spanID, resp.Metadata["span_id"])
	})

	t.Run("creates a trace without metadata", func(t *testing.T) {
		resp, err := h(context.Background(), Request{ID: "req-2"})

		require.NoError(t, err)
		assert.NotEmpty(t, traceID)
		assert.Equal(t, traceID, resp.Metadata["trace_id"])
	})
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := &mocks.MockLogger{}
	logger.On("Error", mock.Anything, "Panic recovered", mock.Anything, mock.MatchedBy(func(f types.Fields) bool {
		return f["request_id"] == "req-1" && f["stack"] != ""
	})).Once()
	metrics := &mocks.MockMetrics{}
	metrics.On("RecordError", "panic", "panic_recovered").Once()

	provider := &mocks.MockProvider{}
	provider.On("Logger", component).Return(logger)
	provider.On("Metrics", component).Return(metrics)

	h := RecoveryMiddleware(provider)(func(ctx context.Context, req Request) (Response, error) {
		panic("nil map write")
	})

	resp, err := h(context.Background(), Request{ID: "req-1"})

	assert.EqualError(t, err, "panic recovered: nil map write")
	assert.Equal(t, CodeInternal, resp.Error.Code)
	assert.Empty(t, resp.Error.Details)
	logger.AssertExpectations(t)
	metrics.AssertExpectations(t)
}

func TestMetricsMiddleware(t *testing.T) {
	ctx := context.WithValue(context.Background(), types.WorkerKey, "fetch-worker")

	tests := []struct {
		name   string
		next   HandlerFunc
		expect func(m *mocks.MockMetrics)
	}{
		{
			name: "success",
			next: okHandler,
			expect: func(m *mocks.MockMetrics) {
				m.On("RecordSuccess", "fetch-worker").Once()
			},
		},
		{
			name: "failure response",
			next: func(ctx context.Context, req Request) (Response, error) {
				return NewErrorResponse(req.ID, CodeNoData, "empty body", ""), nil
			},
			expect: func(m *mocks.MockMetrics) {
				m.On("RecordError", "fetch-worker", CodeNoData).Once()
			},
		},
		{
			name: "processing error",
			next: func(ctx context.Context, req Request) (Response, error) {
				return Response{}, errors.New("boom")
			},
			expect: func(m *mocks.MockMetrics) {
				m.On("RecordError", "fetch-worker", "processing_error").Once()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := &mocks.MockMetrics{}
			metrics.On("StartOperation", "fetch-worker").Once()
			metrics.On("EndOperation", "fetch-worker").Once()
			metrics.On("RecordDuration", "fetch-worker", mock.AnythingOfType("float64")).Once()
			tt.expect(metrics)

			provider := &mocks.MockProvider{}
			provider.On("Metrics", component).Return(metrics)

			_, _ = MetricsMiddleware(provider)(tt.next)(ctx, Request{ID: "req-1"})

			metrics.AssertExpectations(t)
		})
	}
}

func TestLoggingMiddleware(t *testing.T) {
	logger := mocks.NewPermissiveLogger()
	provider := &mocks.MockProvider{}
	provider.On("Logger", component).Return(logger)

	h := LoggingMiddleware(provider)(func(ctx context.Context, req Request) (Response, error) {
		time.Sleep(2 * time.Millisecond)
		return NewErrorResponse(req.ID, CodeNoData, "empty body", ""), nil
	})

	resp, err := h(context.Background(), Request{ID: "req-1", Type: "fetch"})

	require.NoError(t, err)
	assert.Greater(t, resp.Duration, time.Duration(0))
	logger.AssertCalled(t, "Info", mock.Anything, "Processing request", mock.Anything)
	logger.AssertCalled(t, "Warn", mock.Anything, "Request completed with failure", mock.MatchedBy(func(f types.Fields) bool {
		return f["error_code"] == CodeNoData
	}))
}
