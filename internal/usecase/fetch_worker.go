// Package usecase serves "fetch" handler requests by running fetch units on
// the work queue and optionally archiving what they download.
package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"netfetch/handler"
	"netfetch/internal/fetch"
	"netfetch/internal/queue"
	"netfetch/internal/usecase/dto"
	"netfetch/observability"
	"netfetch/observability/types"
	"netfetch/storage"
	storagetypes "netfetch/storage/types"
)

const (
	workerName = "fetch"
	component  = "usecase.fetch"
)

// FetchWorker implements handler.Worker for "fetch" requests.
type FetchWorker struct {
	transport  fetch.Transport
	queue      *queue.Queue
	session    *fetch.SessionConfig
	store      storagetypes.ObjectStorage
	defaultQoS queue.QoS
	logger     types.Logger
	metrics    types.Metrics
	unitLogger types.Logger
	unitStats  types.Metrics
	limits     *hostLimiters
	now        func() time.Time
}

var _ handler.Worker = (*FetchWorker)(nil)

// Option configures a FetchWorker.
type Option func(*FetchWorker)

// WithStorage enables archiving. A nil store leaves it disabled.
func WithStorage(store storagetypes.ObjectStorage) Option {
	return func(w *FetchWorker) { w.store = store }
}

func WithSessionConfig(cfg *fetch.SessionConfig) Option {
	return func(w *FetchWorker) { w.session = cfg }
}

// WithDefaultQoS sets the priority of requests that do not name one.
func WithDefaultQoS(qos queue.QoS) Option {
	return func(w *FetchWorker) { w.defaultQoS = qos }
}

// WithHostRateLimit caps fetch starts per host at rps with the given
// burst. rps of zero or less leaves fetches unlimited.
func WithHostRateLimit(rps float64, burst int) Option {
	return func(w *FetchWorker) {
		if rps > 0 {
			w.limits = newHostLimiters(rps, burst)
		} else {
			w.limits = nil
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *FetchWorker) {
		if now != nil {
			w.now = now
		}
	}
}

// NewFetchWorker creates a worker that runs units on q through t.
func NewFetchWorker(t fetch.Transport, q *queue.Queue, obs observability.Provider, opts ...Option) *FetchWorker {
	if obs == nil {
		obs = observability.NopProvider{}
	}

	w := &FetchWorker{
		transport:  t,
		queue:      q,
		defaultQoS: queue.Default,
		logger:     obs.Logger(component),
		metrics:    obs.Metrics(component),
		unitLogger: obs.Logger("fetch"),
		unitStats:  obs.Metrics("fetch"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *FetchWorker) Name() string {
	return workerName
}

// Health reports the archive backend's reachability when archiving is
// enabled.
func (w *FetchWorker) Health(ctx context.Context) error {
	if w.store == nil {
		return nil
	}
	return storage.CheckHealth(ctx, w.store)
}

// Process runs one fetch. Fetch failures come back as error responses with
// a nil error; only failures of the worker itself return an error.
func (w *FetchWorker) Process(ctx context.Context, req handler.Request) (handler.Response, error) {
	if req.Type != dto.RequestTypeFetch {
		return handler.NewErrorResponse(req.ID, handler.CodeUnsupportedType,
			"unsupported request type", req.Type), nil
	}

	var payload dto.FetchRequest
	if err := req.Unmarshal(&payload); err != nil {
		w.metrics.RecordError("process", "unmarshal")
		return handler.NewErrorResponse(req.ID, handler.CodeValidation,
			"invalid fetch payload", err.Error()), nil
	}

	target, qos, err := w.validate(&payload)
	if err != nil {
		w.metrics.RecordError("process", "validation")
		return handler.NewErrorResponse(req.ID, handler.CodeValidation,
			"invalid fetch request", err.Error()), nil
	}

	log := w.logger.WithFields(types.Fields{
		"url":      target.Redacted(),
		"method":   payload.Method,
		"priority": qos.String(),
	})

	if w.limits != nil {
		if err := w.limits.get(target.Hostname()).Wait(ctx); err != nil {
			w.metrics.RecordError("process", "rate_limited")
			log.Warn(ctx, "fetch rate limited", types.Fields{"reason": err.Error()})
			return handler.NewErrorResponse(req.ID, handler.CodeRateLimited,
				"host rate limit exceeded", err.Error()), nil
		}
	}

	httpReq, err := buildRequest(ctx, &payload, target)
	if err != nil {
		return handler.Response{}, fmt.Errorf("build request: %w", err)
	}

	results := make(chan *fetch.Result, 1)
	unit, err := fetch.New(httpReq, w.transport, func(r *fetch.Result) { results <- r },
		fetch.WithID(req.ID),
		fetch.WithSessionConfig(w.session),
		fetch.WithAllowEmptyBody(payload.AllowEmptyBody),
		fetch.WithLogger(w.unitLogger),
		fetch.WithMetrics(w.unitStats),
	)
	if err != nil {
		return handler.Response{}, fmt.Errorf("create fetch unit: %w", err)
	}

	if err := w.queue.Add(unit, qos); err != nil {
		if errors.Is(err, queue.ErrClosed) {
			return handler.NewErrorResponse(req.ID, handler.CodeServiceUnavailable,
				"fetch queue is shutting down", ""), nil
		}
		return handler.Response{}, fmt.Errorf("enqueue fetch: %w", err)
	}

	var result *fetch.Result
	select {
	case result = <-results:
	case <-ctx.Done():
		unit.Cancel()
		result = <-results
		if result.Kind() == fetch.KindCancelled {
			log.Warn(ctx, "fetch abandoned", types.Fields{"reason": ctx.Err().Error()})
			return w.abandoned(req.ID, ctx.Err()), nil
		}
	}

	if !result.Succeeded() {
		return w.failure(ctx, log, req.ID, result), nil
	}

	return w.success(ctx, log, req.ID, &payload, target, result)
}

func (w *FetchWorker) validate(payload *dto.FetchRequest) (*url.URL, queue.QoS, error) {
	target, err := payload.Validate()
	if err != nil {
		return nil, 0, err
	}

	qos := w.defaultQoS
	if payload.Priority != "" {
		if qos, err = queue.ParseQoS(payload.Priority); err != nil {
			return nil, 0, err
		}
	}

	if (payload.Archive || payload.ArchiveKey != "") && w.store == nil {
		return nil, 0, errors.New("archiving is not configured")
	}

	return target, qos, nil
}

// buildRequest keeps ctx's values for logging but not its cancellation;
// the worker cancels through the unit so the result says why.
func buildRequest(ctx context.Context, payload *dto.FetchRequest, target *url.URL) (*http.Request, error) {
	var body io.Reader
	if len(payload.Body) > 0 {
		body = bytes.NewReader(payload.Body)
	}

	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), payload.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	for name, value := range payload.Headers {
		req.Header.Set(name, value)
	}
	return req, nil
}

func (w *FetchWorker) abandoned(id string, cause error) handler.Response {
	if errors.Is(cause, context.DeadlineExceeded) {
		w.metrics.RecordError("process", "timeout")
		return handler.NewErrorResponse(id, handler.CodeTimeout, "fetch timed out", cause.Error())
	}
	w.metrics.RecordError("process", "cancelled")
	return handler.NewErrorResponse(id, handler.CodeCancelled, "fetch cancelled", cause.Error())
}

func (w *FetchWorker) failure(ctx context.Context, log types.Logger, id string, result *fetch.Result) handler.Response {
	kind := result.Kind()
	code := codeFor(kind)
	w.metrics.RecordError("process", kind.String())

	fields := types.Fields{"kind": kind.String(), "status_code": result.StatusCode()}
	if kind.Retryable() {
		log.Warn(ctx, "fetch failed, retryable", fields)
	} else {
		log.Info(ctx, "fetch failed", fields)
	}

	return handler.NewErrorResponse(id, code, kind.String(), result.Err.Error())
}

func codeFor(kind fetch.Kind) string {
	switch kind {
	case fetch.KindCancelled:
		return handler.CodeCancelled
	case fetch.KindInvalidResponse:
		return handler.CodeInvalidResponse
	case fetch.KindNoData:
		return handler.CodeNoData
	case fetch.KindTrustValidationFailed:
		return handler.CodeTrustValidationFailed
	default:
		return handler.CodeNetwork
	}
}

func (w *FetchWorker) success(ctx context.Context, log types.Logger, id string, payload *dto.FetchRequest, target *url.URL, result *fetch.Result) (handler.Response, error) {
	sha := contentHash(result.Body)

	data := dto.FetchResponse{
		RequestID:  id,
		URL:        target.String(),
		StatusCode: result.Response.StatusCode,
		Status:     result.Response.Status,
		Proto:      result.Response.Proto,
		Headers:    result.Response.Header,
		Body:       result.Body,
		Size:       len(result.Body),
		SHA256:     sha,
		DurationMS: result.Duration().Milliseconds(),
	}

	if payload.Archive || payload.ArchiveKey != "" {
		key := payload.ArchiveKey
		if key == "" {
			key = archiveKey(target, id, sha, result.Response.ContentType(), w.now())
		}
		if err := w.archive(ctx, key, result); err != nil {
			w.metrics.RecordError("archive", "put")
			log.Error(ctx, "failed to archive response", err, types.Fields{"key": key})
			return handler.NewErrorResponse(id, handler.CodeStorage, "failed to archive response", err.Error()), nil
		}
		data.ArchiveKey = key
		w.metrics.RecordFileSize("archive", int64(len(result.Body)))
	}

	w.metrics.RecordSuccess("process")
	log.Info(ctx, "fetch completed", types.Fields{
		"status_code": data.StatusCode,
		"size":        data.Size,
		"duration_ms": data.DurationMS,
	})

	return handler.NewSuccessResponse(id, data)
}

func (w *FetchWorker) archive(ctx context.Context, key string, result *fetch.Result) error {
	meta := storagetypes.ObjectMetadata{
		ContentType:   result.Response.ContentType(),
		ContentLength: int64(len(result.Body)),
		UserMetadata: map[string]string{
			"source-url":  result.Request.URL.Redacted(),
			"status-code": fmt.Sprint(result.Response.StatusCode),
		},
	}
	if meta.ContentType == "" {
		meta.ContentType = "application/octet-stream"
	}
	return w.store.Put(ctx, "", key, bytes.NewReader(result.Body), meta)
}
