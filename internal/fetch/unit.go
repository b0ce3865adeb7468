// Package fetch implements the fetch unit: one cancellable, asynchronous
// HTTP exchange that delivers exactly one Result to its continuation.
//
// A Unit is driven from three directions: the owner calls Start and Cancel,
// the transport delivers events through the EventSink methods, and the unit
// finishes itself once. All three meet under one mutex per unit. The
// continuation is taken out of the unit under that mutex and called outside
// it, so it runs exactly once and may call back into the unit.
package fetch

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"netfetch/observability/logger"
	"netfetch/observability/metrics"
	"netfetch/observability/types"
)

// State is the lifecycle position of a Unit.
type State int

const (
	StatePending State = iota
	StateRunning
	StateFinished
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

const operation = "fetch"

// Unit performs a single request.
type Unit struct {
	id             string
	req            *http.Request
	host           string
	transport      Transport
	session        *SessionConfig
	allowEmptyBody bool
	logger         types.Logger
	metrics        types.Metrics

	mu         sync.Mutex
	state      State
	cancelled  bool
	onComplete func(*Result)
	task       TransportTask
	buf        bytes.Buffer
	result     *Result
	done       chan struct{}
}

// Option configures a Unit.
type Option func(*Unit)

// WithSessionConfig sets the transport session configuration.
func WithSessionConfig(cfg *SessionConfig) Option {
	return func(u *Unit) {
		if cfg != nil {
			u.session = cfg
		}
	}
}

// WithAllowEmptyBody makes an empty successful body a success instead of
// a no-data failure.
func WithAllowEmptyBody(allow bool) Option {
	return func(u *Unit) { u.allowEmptyBody = allow }
}

func WithLogger(l types.Logger) Option {
	return func(u *Unit) {
		if l != nil {
			u.logger = l
		}
	}
}

func WithMetrics(m types.Metrics) Option {
	return func(u *Unit) {
		if m != nil {
			u.metrics = m
		}
	}
}

// WithID overrides the generated unit ID.
func WithID(id string) Option {
	return func(u *Unit) {
		if id != "" {
			u.id = id
		}
	}
}

// New creates a unit that is not yet started. The request is cloned and
// never modified afterwards.
func New(req *http.Request, transport Transport, onComplete func(*Result), opts ...Option) (*Unit, error) {
	if req == nil {
		return nil, errors.New("fetch: nil request")
	}
	if req.URL == nil {
		return nil, errors.New("fetch: request without URL")
	}
	if transport == nil {
		return nil, errors.New("fetch: nil transport")
	}
	if onComplete == nil {
		return nil, errors.New("fetch: nil completion handler")
	}

	clone := req.Clone(req.Context())

	u := &Unit{
		id:         uuid.NewString(),
		req:        clone,
		host:       clone.URL.Hostname(),
		transport:  transport,
		session:    defaultSession,
		logger:     logger.Nop(),
		metrics:    metrics.Nop{},
		onComplete: onComplete,
		result:     &Result{Request: clone},
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(u)
	}
	u.logger = u.logger.WithFields(types.Fields{
		"unit_id": u.id,
		"method":  clone.Method,
		"host":    u.host,
	})

	return u, nil
}

func (u *Unit) ID() string {
	return u.id
}

// Request returns the unit's copy of the request.
func (u *Unit) Request() *http.Request {
	return u.req
}

// Start launches the transport task. It returns immediately; the exchange
// runs on the transport's goroutines. Start on a cancelled, finished or
// already started unit does nothing.
func (u *Unit) Start() {
	u.mu.Lock()
	if u.state != StatePending {
		u.mu.Unlock()
		return
	}
	u.state = StateRunning
	u.result.StartedAt = time.Now()
	u.metrics.StartOperation(operation)

	// The lock is held until Resume returns, so no event is handled
	// before the launch completes.
	task, err := u.transport.NewTask(u.req, u.session, u)
	if err != nil {
		u.result.Err = newError(KindTransport, u.host, err)
		complete := u.finishLocked()
		u.mu.Unlock()
		complete()
		return
	}
	u.task = task
	task.Resume()
	u.mu.Unlock()

	u.logger.Debug(u.req.Context(), "fetch started", types.Fields{"url": u.req.URL.Redacted()})
}

// Cancel finishes the unit with a cancelled error and asks the transport
// to abort. It is valid before Start; after finish it does nothing.
func (u *Unit) Cancel() {
	u.mu.Lock()
	if u.state == StateFinished {
		u.mu.Unlock()
		return
	}
	u.cancelled = true
	task := u.task
	u.result.Err = newError(KindCancelled, u.host, nil)
	complete := u.finishLocked()
	u.mu.Unlock()

	if task != nil {
		task.Cancel()
	}
	complete()
}

func (u *Unit) IsCancelled() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cancelled
}

func (u *Unit) IsFinished() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state == StateFinished
}

func (u *Unit) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Done is closed when the unit finishes, before the continuation runs.
func (u *Unit) Done() <-chan struct{} {
	return u.done
}

// DidReceiveChallenge evaluates server-trust challenges with the session's
// TrustPolicy and leaves every other kind to default handling. A
// server-trust challenge without trust material is rejected.
func (u *Unit) DidReceiveChallenge(task TransportTask, ch Challenge, respond func(ChallengeDisposition, *Credential)) {
	u.mu.Lock()
	if !u.acceptsLocked(task) {
		u.mu.Unlock()
		return
	}
	policy := u.session.TrustPolicy
	u.mu.Unlock()

	if ch.Kind != ChallengeServerTrust {
		respond(PerformDefaultHandling, nil)
		return
	}

	host := ch.Host
	if host == "" {
		host = u.host
	}

	var err error
	switch {
	case ch.Trust == nil:
		err = ErrMissingTrust
	case policy == nil:
		respond(PerformDefaultHandling, nil)
		return
	default:
		// evaluated unlocked; chain verification can be slow
		err = policy.Evaluate(*ch.Trust, host)
	}

	u.mu.Lock()
	if !u.acceptsLocked(task) {
		u.mu.Unlock()
		return
	}
	if err == nil {
		u.mu.Unlock()
		respond(UseCredential, CredentialForTrust(ch.Trust))
		return
	}

	u.result.Err = newError(KindTrustValidationFailed, host, err)
	complete := u.finishLocked()
	u.mu.Unlock()

	respond(RejectProtectionSpace, nil)
	complete()
}

// DidReceiveResponse records the response metadata and lets the body
// through whatever the status. Anything that is not an HTTP response ends
// the unit with invalid-response.
func (u *Unit) DidReceiveResponse(task TransportTask, resp *http.Response, respond func(ResponseDisposition)) {
	u.mu.Lock()
	if !u.acceptsLocked(task) {
		u.mu.Unlock()
		return
	}

	if !wellFormed(resp) {
		u.result.Err = newError(KindInvalidResponse, u.host, nil)
		complete := u.finishLocked()
		u.mu.Unlock()

		respond(ResponseCancel)
		complete()
		return
	}

	u.result.Response = newResponseInfo(resp)
	u.mu.Unlock()

	respond(ResponseAllow)
}

// DidReceiveData appends chunk to the body buffer. Chunks that arrive
// before a response are dropped.
func (u *Unit) DidReceiveData(task TransportTask, chunk []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.acceptsLocked(task) || u.result.Response == nil {
		return
	}
	u.buf.Write(chunk)
}

// DidComplete classifies the outcome and finishes the unit.
func (u *Unit) DidComplete(task TransportTask, err error) {
	u.mu.Lock()
	if !u.acceptsLocked(task) {
		u.mu.Unlock()
		return
	}

	switch {
	case err != nil:
		u.result.Err = newError(KindTransport, u.host, err)
	case u.result.Response == nil:
		u.result.Err = newError(KindInvalidResponse, u.host, nil)
	case u.buf.Len() == 0 && !u.allowEmptyBody:
		u.result.Err = newError(KindNoData, u.host, nil)
	default:
		body := make([]byte, u.buf.Len())
		copy(body, u.buf.Bytes())
		u.result.Body = body
	}

	complete := u.finishLocked()
	u.mu.Unlock()
	complete()
}

// acceptsLocked reports whether an event from task may still act on the
// unit.
func (u *Unit) acceptsLocked(task TransportTask) bool {
	return u.state == StateRunning && !u.cancelled && task == u.task
}

// finishLocked moves the unit to finished, closes Done and returns the
// function that reports and delivers the result. It must be called with
// u.mu held, at most once; the returned function must be called without it.
func (u *Unit) finishLocked() func() {
	started := u.state == StateRunning
	u.state = StateFinished
	u.result.EndedAt = time.Now()
	u.buf = bytes.Buffer{}
	close(u.done)

	onComplete := u.onComplete
	u.onComplete = nil
	result := u.result

	return func() {
		u.report(result, started)
		if onComplete != nil {
			onComplete(result)
		}
	}
}

func (u *Unit) report(result *Result, started bool) {
	ctx := u.req.Context()

	if started {
		u.metrics.EndOperation(operation)
		u.metrics.RecordDuration(operation, result.Duration().Seconds())
	}

	fields := types.Fields{
		"duration_ms": result.Duration().Milliseconds(),
		"status_code": result.StatusCode(),
	}

	if result.Err == nil {
		u.metrics.RecordSuccess(operation)
		u.metrics.RecordFileSize(contentType(result.Response), int64(len(result.Body)))
		fields["size"] = len(result.Body)
		u.logger.Debug(ctx, "fetch finished", fields)
		return
	}

	kind := result.Kind()
	u.metrics.RecordError(operation, kind.String())
	fields["kind"] = kind.String()
	switch kind {
	case KindCancelled:
		u.logger.Debug(ctx, "fetch cancelled", fields)
	case KindTransport, KindTrustValidationFailed:
		u.logger.Error(ctx, "fetch failed", result.Err, fields)
	default:
		u.logger.Warn(ctx, "fetch failed", fields)
	}
}

func contentType(r *ResponseInfo) string {
	ct, _, _ := strings.Cut(r.ContentType(), ";")
	if ct = strings.TrimSpace(ct); ct == "" {
		return "unknown"
	}
	return ct
}
