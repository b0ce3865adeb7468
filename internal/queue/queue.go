// Package queue schedules operations by quality of service with a bound on
// how many run at once.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"netfetch/observability/logger"
	"netfetch/observability/metrics"
	"netfetch/observability/types"
)

// QoS orders pending operations; higher values dispatch first.
type QoS int

const (
	Background QoS = iota
	Utility
	Default
	UserInitiated
	UserInteractive

	levels = int(UserInteractive) + 1
)

var qosNames = [levels]string{"background", "utility", "default", "user-initiated", "user-interactive"}

func (q QoS) String() string {
	if q < 0 || int(q) >= levels {
		return fmt.Sprintf("qos(%d)", int(q))
	}
	return qosNames[q]
}

// ParseQoS accepts the names returned by String, case-insensitively. The
// empty string is Default.
func ParseQoS(s string) (QoS, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Default, nil
	}
	for i, name := range qosNames {
		if s == name {
			return QoS(i), nil
		}
	}
	return Default, fmt.Errorf("queue: unknown qos %q", s)
}

// Operation is what the queue runs. Done must close once the operation has
// finished, whether it completed or was cancelled.
type Operation interface {
	Start()
	Cancel()
	IsFinished() bool
	Done() <-chan struct{}
}

var (
	ErrClosed = errors.New("queue: closed")
	ErrNilOp  = errors.New("queue: nil operation")
)

const (
	gaugeQueued  = "queued"
	gaugeRunning = "running"
)

// Queue runs at most MaxConcurrent operations at a time.
type Queue struct {
	maxConcurrent int
	logger        types.Logger
	metrics       types.Metrics

	mu      sync.Mutex
	pending [levels][]Operation
	running map[Operation]struct{}
	closed  bool
	changed chan struct{}
}

// Option configures a Queue.
type Option func(*Queue)

func WithLogger(l types.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

func WithMetrics(m types.Metrics) Option {
	return func(q *Queue) {
		if m != nil {
			q.metrics = m
		}
	}
}

// New creates a queue. maxConcurrent below 1 is treated as 1.
func New(maxConcurrent int, opts ...Option) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	q := &Queue{
		maxConcurrent: maxConcurrent,
		logger:        logger.Nop(),
		metrics:       metrics.Nop{},
		running:       make(map[Operation]struct{}),
		changed:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Add enqueues op at the given QoS. Out-of-range values are clamped.
func (q *Queue) Add(op Operation, qos QoS) error {
	if op == nil {
		return ErrNilOp
	}
	if qos < Background {
		qos = Background
	}
	if qos > UserInteractive {
		qos = UserInteractive
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.metrics.RecordError("add", "closed")
		return ErrClosed
	}

	q.pending[qos] = append(q.pending[qos], op)
	q.metrics.StartOperation(gaugeQueued)
	q.dispatchLocked()
	q.notifyLocked()
	return nil
}

// Len is the number of pending operations that have not been cancelled.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, level := range q.pending {
		for _, op := range level {
			if !op.IsFinished() {
				n++
			}
		}
	}
	return n
}

// Running is the number of started operations that have not finished.
func (q *Queue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.running)
}

// CancelAll cancels every pending and running operation.
func (q *Queue) CancelAll() {
	q.mu.Lock()
	var ops []Operation
	for i := range q.pending {
		for _, op := range q.pending[i] {
			q.metrics.EndOperation(gaugeQueued)
			ops = append(ops, op)
		}
		q.pending[i] = nil
	}
	for op := range q.running {
		ops = append(ops, op)
	}
	q.notifyLocked()
	q.mu.Unlock()

	for _, op := range ops {
		op.Cancel()
	}
}

// Close rejects further Adds and cancels everything queued or running.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.CancelAll()
}

// Drain rejects further Adds and waits until nothing is pending or running.
// If ctx ends first, the remaining operations are cancelled and ctx's error
// is returned.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	for {
		q.mu.Lock()
		idle := len(q.running) == 0 && q.pendingLocked() == 0
		changed := q.changed
		q.mu.Unlock()

		if idle {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			q.CancelAll()
			return ctx.Err()
		}
	}
}

func (q *Queue) pendingLocked() int {
	n := 0
	for _, level := range q.pending {
		n += len(level)
	}
	return n
}

// dispatchLocked starts pending operations, highest QoS first, while slots
// are free. Operations already finished (cancelled while pending) are
// dropped without being started.
func (q *Queue) dispatchLocked() {
	for len(q.running) < q.maxConcurrent {
		op := q.popLocked()
		if op == nil {
			return
		}
		q.metrics.EndOperation(gaugeQueued)
		if op.IsFinished() {
			q.logger.Debug(context.Background(), "dropping operation cancelled while pending", nil)
			continue
		}
		q.running[op] = struct{}{}
		q.metrics.StartOperation(gaugeRunning)
		go q.run(op)
	}
}

func (q *Queue) popLocked() Operation {
	for level := levels - 1; level >= 0; level-- {
		if len(q.pending[level]) == 0 {
			continue
		}
		op := q.pending[level][0]
		q.pending[level][0] = nil
		q.pending[level] = q.pending[level][1:]
		return op
	}
	return nil
}

// run starts op and frees its slot once op signals it has finished.
func (q *Queue) run(op Operation) {
	op.Start()
	<-op.Done()

	q.mu.Lock()
	delete(q.running, op)
	q.metrics.EndOperation(gaugeRunning)
	q.dispatchLocked()
	q.notifyLocked()
	q.mu.Unlock()
}

func (q *Queue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
