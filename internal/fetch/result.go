package fetch

import (
	"net/http"
	"time"
)

// ResponseInfo is the response metadata recorded when headers arrive.
type ResponseInfo struct {
	StatusCode    int
	Status        string
	Proto         string
	ProtoMajor    int
	ProtoMinor    int
	Header        http.Header
	ContentLength int64
}

// IsSuccess reports a 2xx status.
func (r *ResponseInfo) IsSuccess() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// ContentType returns the Content-Type header, or "".
func (r *ResponseInfo) ContentType() string {
	if r == nil {
		return ""
	}
	return r.Header.Get("Content-Type")
}

func newResponseInfo(resp *http.Response) *ResponseInfo {
	return &ResponseInfo{
		StatusCode:    resp.StatusCode,
		Status:        resp.Status,
		Proto:         resp.Proto,
		ProtoMajor:    resp.ProtoMajor,
		ProtoMinor:    resp.ProtoMinor,
		Header:        resp.Header.Clone(),
		ContentLength: resp.ContentLength,
	}
}

// wellFormed reports whether resp looks like an HTTP response at all:
// a status code in 100..599, a protocol version and a header map.
func wellFormed(resp *http.Response) bool {
	return resp != nil &&
		resp.StatusCode >= 100 && resp.StatusCode <= 599 &&
		resp.ProtoMajor > 0 &&
		resp.Header != nil
}

// Result is what a Unit hands to its continuation. It is never modified
// after the continuation is called.
//
// At completion exactly one of Body and Err is set, except when an empty
// body was allowed: then Body is empty but non-nil and Err is nil.
type Result struct {
	Request   *http.Request
	StartedAt time.Time
	EndedAt   time.Time
	Response  *ResponseInfo
	Body      []byte
	Err       error
}

// Duration is EndedAt-StartedAt, or zero for a unit that never started.
func (r *Result) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

func (r *Result) Succeeded() bool {
	return r.Err == nil
}

func (r *Result) Kind() Kind {
	return KindOf(r.Err)
}

// StatusCode returns the response status, or 0 when no response arrived.
func (r *Result) StatusCode() int {
	if r.Response == nil {
		return 0
	}
	return r.Response.StatusCode
}
