// Package platforms adapts a handler.Handler to the runtimes netfetch is
// deployed on.
package platforms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"netfetch/handler"
	"netfetch/observability/logger"
	"netfetch/observability/types"
)

const defaultMaxRequestSize = 10 * 1024 * 1024

var healthPaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/ready":   true,
	"/readyz":  true,
	"/live":    true,
	"/livez":   true,
}

// HTTPAdapter serves a handler over plain HTTP. The request type is taken
// from the X-Request-Type header or the first path segment, so POST /fetch
// runs a "fetch" request.
type HTTPAdapter struct {
	handler *handler.Handler
	logger  types.Logger
}

// NewHTTPAdapter creates an adapter. A nil logger discards output.
func NewHTTPAdapter(h *handler.Handler, log types.Logger) *HTTPAdapter {
	if log == nil {
		log = logger.Nop()
	}
	return &HTTPAdapter{handler: h, logger: log}
}

// ServeHTTP implements http.Handler.
func (a *HTTPAdapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if healthPaths[r.URL.Path] {
		a.handleHealth(w, r)
		return
	}

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		a.writeJSON(w, http.StatusMethodNotAllowed, handler.NewErrorResponse(
			uuid.New().String(), handler.CodeInvalidRequest, "Method not allowed", r.Method,
		))
		return
	}

	body, err := a.readBody(w, r)
	if err != nil {
		a.writeResponse(w, handler.NewErrorResponse(
			uuid.New().String(), handler.CodeInvalidRequest, "Failed to read request body", err.Error(),
		), nil)
		return
	}

	req := a.buildRequest(r, body)
	resp, err := a.handler.Handle(r.Context(), req)
	if resp.ID == "" {
		resp.ID = req.ID
	}
	a.writeResponse(w, resp, err)
}

func (a *HTTPAdapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.handler.Health(r.Context()); err != nil {
		a.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"worker": a.handler.Worker().Name(),
		"time":   time.Now().UTC(),
	})
}

func (a *HTTPAdapter) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	maxSize := a.handler.Config().MaxRequestSize
	if maxSize <= 0 {
		maxSize = defaultMaxRequestSize
	}

	defer r.Body.Close()
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxSize))
}

func (a *HTTPAdapter) buildRequest(r *http.Request, body []byte) handler.Request {
	requestID := extractRequestID(r)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	return handler.Request{
		ID:        requestID,
		Source:    handler.PlatformHTTP,
		Type:      extractRequestType(r),
		Payload:   json.RawMessage(body),
		Metadata:  extractMetadata(r),
		Timestamp: time.Now().UTC(),
	}
}

var requestIDHeaders = []string{"X-Request-ID", "X-Correlation-ID", "Request-ID"}

func extractRequestID(r *http.Request) string {
	for _, h := range requestIDHeaders {
		if id := r.Header.Get(h); id != "" {
			return id
		}
	}
	return ""
}

func extractRequestType(r *http.Request) string {
	if reqType := r.Header.Get("X-Request-Type"); reqType != "" {
		return reqType
	}

	path := strings.Trim(r.URL.Path, "/")
	if path == "" {
		return ""
	}
	first, _, _ := strings.Cut(path, "/")
	return first
}

var relevantHeaders = []string{
	"Content-Type",
	"Accept",
	"User-Agent",
	"X-Forwarded-For",
	"X-Real-IP",
	"Authorization",
}

func extractMetadata(r *http.Request) map[string]string {
	metadata := map[string]string{
		"http_method": r.Method,
		"http_path":   r.URL.Path,
		"http_host":   r.Host,
	}

	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			metadata["query_"+key] = values[0]
		}
	}

	for _, header := range relevantHeaders {
		value := r.Header.Get(header)
		if value == "" {
			continue
		}
		if header == "Authorization" {
			if strings.HasPrefix(value, "Bearer ") {
				value = "Bearer [REDACTED]"
			} else {
				value = "[REDACTED]"
			}
		}
		metadata["header_"+strings.ToLower(strings.ReplaceAll(header, "-", "_"))] = value
	}

	if traceID := r.Header.Get("X-Trace-ID"); traceID != "" {
		metadata["trace_id"] = traceID
	}

	return metadata
}

func (a *HTTPAdapter) writeResponse(w http.ResponseWriter, resp handler.Response, err error) {
	w.Header().Set("X-Request-ID", resp.ID)
	for key, value := range resp.Metadata {
		w.Header().Set("X-"+key, value)
	}

	if err != nil {
		a.writeJSON(w, http.StatusInternalServerError, handler.NewErrorResponse(
			resp.ID, handler.CodeInternal, "Request processing failed", err.Error(),
		))
		return
	}

	a.writeJSON(w, statusCode(resp), resp)
}

func (a *HTTPAdapter) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn(context.Background(), "Failed to write response", types.Fields{
			"status": status,
			"error":  err.Error(),
		})
	}
}

// statusCode maps a worker response onto an HTTP status. Upstream failures
// of the fetched server are gateway errors.
func statusCode(resp handler.Response) int {
	if resp.Success {
		return http.StatusOK
	}
	if resp.Error == nil {
		return http.StatusInternalServerError
	}

	switch resp.Error.Code {
	case handler.CodeValidation, handler.CodeInvalidRequest:
		return http.StatusBadRequest
	case handler.CodeUnsupportedType:
		return http.StatusNotFound
	case handler.CodeRateLimited:
		return http.StatusTooManyRequests
	case handler.CodeTimeout:
		return http.StatusGatewayTimeout
	case handler.CodeCancelled, handler.CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case handler.CodeNetwork, handler.CodeInvalidResponse, handler.CodeNoData, handler.CodeTrustValidationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Server runs an http.Handler until its context is cancelled.
type Server struct {
	server          *http.Server
	logger          types.Logger
	shutdownTimeout time.Duration
}

// NewServer creates a server listening on addr. timeout bounds reading a
// request and writing its response; zero leaves them unbounded.
func NewServer(addr string, h http.Handler, timeout time.Duration, log types.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	writeTimeout := time.Duration(0)
	if timeout > 0 {
		// Leave room to write the TIMEOUT response.
		writeTimeout = timeout + 5*time.Second
	}
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       timeout,
			WriteTimeout:      writeTimeout,
		},
		logger:          log,
		shutdownTimeout: 30 * time.Second,
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "HTTP server listening", types.Fields{"addr": ln.Addr().String()})
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.logger.Info(shutdownCtx, "Shutting down HTTP server", nil)
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
