package mocks

import (
	"context"
	"net/http"
	"sync"

	"netfetch/internal/fetch"
	"netfetch/internal/transport"
)

// Script is the exchange a MockTask plays on Resume.
type Script struct {
	Challenges []fetch.Challenge
	// Response is delivered after the challenges. Nil skips the response
	// event entirely.
	Response *http.Response
	Chunks   [][]byte
	// Err is the completion error.
	Err error
}

// MockTransport is a scripted fetch.Transport. With a Script set, each
// task plays it on its own goroutine once resumed; without one, the test
// drives the task by hand through the MockTask methods.
type MockTransport struct {
	Script     *Script
	NewTaskErr error

	mu      sync.Mutex
	tasks   []*MockTask
	created chan *MockTask
}

var _ fetch.Transport = (*MockTransport)(nil)

// NewMockTransport returns a MockTransport playing script (which may be nil).
func NewMockTransport(script *Script) *MockTransport {
	return &MockTransport{Script: script, created: make(chan *MockTask, 64)}
}

func (m *MockTransport) NewTask(req *http.Request, cfg *fetch.SessionConfig, sink fetch.EventSink) (fetch.TransportTask, error) {
	if m.NewTaskErr != nil {
		return nil, m.NewTaskErr
	}

	t := &MockTask{
		Request: req,
		Config:  cfg,
		sink:    sink,
		script:  m.Script,
		resumed: make(chan struct{}),
		played:  make(chan struct{}),
	}

	m.mu.Lock()
	m.tasks = append(m.tasks, t)
	created := m.created
	m.mu.Unlock()

	if created != nil {
		select {
		case created <- t:
		default:
		}
	}
	return t, nil
}

// Tasks returns every task created so far.
func (m *MockTransport) Tasks() []*MockTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockTask(nil), m.tasks...)
}

// Created delivers tasks as they are created. Only set up by NewMockTransport.
func (m *MockTransport) Created() <-chan *MockTask {
	return m.created
}

// MockTask is a task of MockTransport.
type MockTask struct {
	Request *http.Request
	Config  *fetch.SessionConfig

	sink   fetch.EventSink
	script *Script

	mu         sync.Mutex
	isResumed  bool
	isCanceled bool
	resumed    chan struct{}
	played     chan struct{}

	// events serializes delivery so manual and scripted calls never overlap
	events sync.Mutex
}

var _ fetch.TransportTask = (*MockTask)(nil)

func (t *MockTask) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isResumed || t.isCanceled {
		return
	}
	t.isResumed = true
	close(t.resumed)
	if t.script != nil {
		go t.play(t.script)
	}
}

func (t *MockTask) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.isCanceled = true
}

func (t *MockTask) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isCanceled
}

// Resumed is closed by the first effective Resume.
func (t *MockTask) Resumed() <-chan struct{} {
	return t.resumed
}

// Played is closed once a scripted exchange has delivered its last event.
func (t *MockTask) Played() <-chan struct{} {
	return t.played
}

// Challenge delivers a challenge. ok is false when the sink did not answer.
func (t *MockTask) Challenge(ch fetch.Challenge) (disposition fetch.ChallengeDisposition, cred *fetch.Credential, ok bool) {
	t.events.Lock()
	defer t.events.Unlock()
	t.sink.DidReceiveChallenge(t, ch, func(d fetch.ChallengeDisposition, c *fetch.Credential) {
		disposition, cred, ok = d, c, true
	})
	return disposition, cred, ok
}

// Respond delivers a response. ok is false when the sink did not answer.
func (t *MockTask) Respond(resp *http.Response) (disposition fetch.ResponseDisposition, ok bool) {
	t.events.Lock()
	defer t.events.Unlock()
	t.sink.DidReceiveResponse(t, resp, func(d fetch.ResponseDisposition) {
		disposition, ok = d, true
	})
	return disposition, ok
}

func (t *MockTask) Data(chunk []byte) {
	t.events.Lock()
	defer t.events.Unlock()
	t.sink.DidReceiveData(t, chunk)
}

func (t *MockTask) Complete(err error) {
	t.events.Lock()
	defer t.events.Unlock()
	t.sink.DidComplete(t, err)
}

func (t *MockTask) play(s *Script) {
	defer close(t.played)

	for _, ch := range s.Challenges {
		d, _, ok := t.Challenge(ch)
		if !ok || t.IsCancelled() {
			t.Complete(context.Canceled)
			return
		}
		if d == fetch.RejectProtectionSpace {
			t.Complete(transport.ErrTrustRejected)
			return
		}
	}

	if s.Response != nil {
		d, ok := t.Respond(s.Response)
		if !ok || d == fetch.ResponseCancel || t.IsCancelled() {
			t.Complete(context.Canceled)
			return
		}
	}

	for _, chunk := range s.Chunks {
		if t.IsCancelled() {
			t.Complete(context.Canceled)
			return
		}
		t.Data(chunk)
	}

	t.Complete(s.Err)
}

// NewResponse builds a well-formed HTTP/1.1 response for scripts.
func NewResponse(status int, header http.Header) *http.Response {
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     header,
	}
}
