// Package transport provides the net/http fetch.Transport. A scripted
// transport for tests lives in transport/mocks.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"netfetch/internal/fetch"
	"netfetch/internal/trust"
	"netfetch/observability/logger"
	"netfetch/observability/types"
)

const chunkSize = 32 * 1024

var (
	// ErrTrustRejected fails a TLS handshake whose server trust was rejected.
	ErrTrustRejected = errors.New("transport: server trust rejected")

	// ErrResponseTooLarge ends a body that exceeds MaxResponseBytes.
	ErrResponseTooLarge = errors.New("transport: response exceeds size limit")
)

type taskKey struct{}

// HTTP runs tasks on net/http. Each distinct *fetch.SessionConfig gets its
// own client and connection pool, kept until Forget. Units should share one
// session config; building one per unit grows the cache by a client each.
// Requests are never sent through a proxy, so every TLS handshake is
// surfaced as a server-trust challenge.
type HTTP struct {
	logger types.Logger

	mu      sync.Mutex
	clients map[*fetch.SessionConfig]*http.Client
}

var _ fetch.Transport = (*HTTP)(nil)

// NewHTTP creates an HTTP transport. A nil logger discards output.
func NewHTTP(log types.Logger) *HTTP {
	if log == nil {
		log = logger.Nop()
	}
	return &HTTP{
		logger:  log,
		clients: make(map[*fetch.SessionConfig]*http.Client),
	}
}

// NewTask prepares a task; nothing is sent until Resume.
func (h *HTTP) NewTask(req *http.Request, cfg *fetch.SessionConfig, sink fetch.EventSink) (fetch.TransportTask, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("transport: request without URL")
	}
	if sink == nil {
		return nil, errors.New("transport: nil event sink")
	}
	if cfg == nil {
		cfg = fetch.DefaultSessionConfig()
	}

	ctx, cancel := context.WithCancel(req.Context())
	t := &httpTask{
		req:    req,
		cfg:    cfg,
		client: h.client(cfg),
		sink:   sink,
		logger: h.logger,
		ctx:    ctx,
		cancel: cancel,
	}
	return t, nil
}

// CloseIdleConnections closes idle connections of every session.
func (h *HTTP) CloseIdleConnections() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		c.CloseIdleConnections()
	}
}

// Forget drops the client of cfg and closes its idle connections. Tasks
// already created keep working; the next task for cfg gets a new client.
func (h *HTTP) Forget(cfg *fetch.SessionConfig) {
	h.mu.Lock()
	c, ok := h.clients[cfg]
	delete(h.clients, cfg)
	h.mu.Unlock()

	if ok {
		c.CloseIdleConnections()
	}
}

func (h *HTTP) client(cfg *fetch.SessionConfig) *http.Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.clients[cfg]; ok {
		return c
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	rt := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		DialTLSContext:        dialTLS(dialer, cfg),
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
	}
	c := &http.Client{
		Transport: rt,
		Timeout:   cfg.Timeout,
	}
	h.clients[cfg] = c
	return c
}

// dialTLS performs the handshake itself so the task that caused the dial
// can answer the trust challenges.
func dialTLS(dialer *net.Dialer, cfg *fetch.SessionConfig) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		raw, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		task, _ := ctx.Value(taskKey{}).(*httpTask)

		tc := &tls.Config{
			ServerName:         host,
			MinVersion:         cfg.TLSMinVersion,
			NextProtos:         []string{"http/1.1"},
			InsecureSkipVerify: true, // verification happens in VerifyConnection
			VerifyConnection: func(cs tls.ConnectionState) error {
				return task.verifyServer(cfg, host, cs)
			},
			GetClientCertificate: func(cri *tls.CertificateRequestInfo) (*tls.Certificate, error) {
				return task.clientCertificate(host, cri)
			},
		}

		hctx := ctx
		if cfg.TLSHandshakeTimeout > 0 {
			var cancel context.CancelFunc
			hctx, cancel = context.WithTimeout(ctx, cfg.TLSHandshakeTimeout)
			defer cancel()
		}

		conn := tls.Client(raw, tc)
		if err := conn.HandshakeContext(hctx); err != nil {
			raw.Close()
			return nil, err
		}
		return conn, nil
	}
}

type challengeAnswer struct {
	disposition fetch.ChallengeDisposition
	credential  *fetch.Credential
}

type httpTask struct {
	req    *http.Request
	cfg    *fetch.SessionConfig
	client *http.Client
	sink   fetch.EventSink
	logger types.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	resumed   bool
	cancelled bool
	responded bool

	// events keeps deliveries to the sink sequential
	events   sync.Mutex
	complete sync.Once
}

func (t *httpTask) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.resumed || t.cancelled {
		return
	}
	t.resumed = true
	go t.run()
}

// Cancel aborts the exchange. A task cancelled before Resume never runs and
// never reports.
func (t *httpTask) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
	t.cancel()
}

func (t *httpTask) run() {
	defer t.cancel()

	req := t.req.Clone(context.WithValue(t.ctx, taskKey{}, t))
	if t.cfg.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.cfg.UserAgent)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		t.finish(err)
		return
	}
	defer resp.Body.Close()

	if t.deliverResponse(resp) != fetch.ResponseAllow {
		t.finish(context.Canceled)
		return
	}

	t.finish(t.readBody(resp.Body))
}

func (t *httpTask) deliverResponse(resp *http.Response) fetch.ResponseDisposition {
	answer := make(chan fetch.ResponseDisposition, 1)

	t.mu.Lock()
	t.responded = true
	t.mu.Unlock()

	t.events.Lock()
	t.sink.DidReceiveResponse(t, resp, func(d fetch.ResponseDisposition) {
		select {
		case answer <- d:
		default:
		}
	})
	t.events.Unlock()

	select {
	case d := <-answer:
		return d
	case <-t.ctx.Done():
		return fetch.ResponseCancel
	}
}

// readBody streams the body to the sink in chunks. It returns nil at EOF.
func (t *httpTask) readBody(body io.Reader) error {
	buf := make([]byte, chunkSize)
	limit := t.cfg.MaxResponseBytes
	var total int64

	for {
		n, err := body.Read(buf)
		if n > 0 {
			total += int64(n)
			if limit > 0 && total > limit {
				return ErrResponseTooLarge
			}
			t.events.Lock()
			t.sink.DidReceiveData(t, buf[:n])
			t.events.Unlock()
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (t *httpTask) finish(err error) {
	t.complete.Do(func() {
		t.events.Lock()
		defer t.events.Unlock()
		t.sink.DidComplete(t, err)
	})
}

// challenge delivers ch and waits for the answer. A task that is cancelled
// or finished before answering rejects.
func (t *httpTask) challenge(ch fetch.Challenge) challengeAnswer {
	answer := make(chan challengeAnswer, 1)

	t.events.Lock()
	t.sink.DidReceiveChallenge(t, ch, func(d fetch.ChallengeDisposition, c *fetch.Credential) {
		select {
		case answer <- challengeAnswer{disposition: d, credential: c}:
		default:
		}
	})
	t.events.Unlock()

	select {
	case a := <-answer:
		return a
	case <-t.ctx.Done():
		return challengeAnswer{disposition: fetch.RejectProtectionSpace}
	}
}

// late reports whether the response was already delivered; handshakes after
// that point belong to connections this task does not use.
func (t *httpTask) late() bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.responded
}

// verifyServer answers the server-trust check of a handshake. Handshakes no
// task waits on may still be pooled, so they go through the session policy.
func (t *httpTask) verifyServer(cfg *fetch.SessionConfig, host string, cs tls.ConnectionState) error {
	st := fetch.ServerTrust{
		ServerName:                  host,
		PeerCertificates:            cs.PeerCertificates,
		OCSPResponse:                cs.OCSPResponse,
		SignedCertificateTimestamps: cs.SignedCertificateTimestamps,
		Version:                     cs.Version,
		CipherSuite:                 cs.CipherSuite,
	}

	if t.late() {
		return sessionTrust(cfg, st, host)
	}

	a := t.challenge(fetch.Challenge{Kind: fetch.ChallengeServerTrust, Host: host, Trust: &st})
	switch a.disposition {
	case fetch.UseCredential:
		return nil
	case fetch.PerformDefaultHandling:
		return trust.VerifyChain(st, host, cfg.RootCAs)
	default:
		t.logger.Debug(t.ctx, "server trust rejected", types.Fields{"host": host})
		return ErrTrustRejected
	}
}

// sessionTrust evaluates st with the session's policy, or standard chain
// verification when it has none.
func sessionTrust(cfg *fetch.SessionConfig, st fetch.ServerTrust, host string) error {
	if cfg.TrustPolicy == nil {
		return trust.VerifyChain(st, host, cfg.RootCAs)
	}
	if err := cfg.TrustPolicy.Evaluate(st, host); err != nil {
		return fmt.Errorf("%w: %v", ErrTrustRejected, err)
	}
	return nil
}

func (t *httpTask) clientCertificate(host string, cri *tls.CertificateRequestInfo) (*tls.Certificate, error) {
	if t.late() {
		return defaultClientCertificate(t.certificates(), cri), nil
	}

	a := t.challenge(fetch.Challenge{Kind: fetch.ChallengeClientCertificate, Host: host, CertificateRequest: cri})
	switch a.disposition {
	case fetch.UseCredential:
		if a.credential != nil && a.credential.Certificate != nil {
			return a.credential.Certificate, nil
		}
		return &tls.Certificate{}, nil
	case fetch.PerformDefaultHandling:
		return defaultClientCertificate(t.certificates(), cri), nil
	default:
		return nil, ErrTrustRejected
	}
}

func (t *httpTask) certificates() []tls.Certificate {
	if t == nil {
		return nil
	}
	return t.cfg.ClientCertificates
}

// defaultClientCertificate picks the first certificate the server accepts,
// or an empty one, which sends no certificate.
func defaultClientCertificate(certs []tls.Certificate, cri *tls.CertificateRequestInfo) *tls.Certificate {
	for i := range certs {
		if cri.SupportsCertificate(&certs[i]) == nil {
			return &certs[i]
		}
	}
	return &tls.Certificate{}
}
