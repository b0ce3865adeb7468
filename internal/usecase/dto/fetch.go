// Package dto defines the JSON payloads of the fetch worker.
package dto

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// RequestTypeFetch is the handler request type served by the fetch worker.
const RequestTypeFetch = "fetch"

// FetchRequest is the payload of a "fetch" request. Body travels as base64
// in JSON.
type FetchRequest struct {
	URL            string            `json:"url"`
	Method         string            `json:"method,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           []byte            `json:"body,omitempty"`
	AllowEmptyBody bool              `json:"allow_empty_body,omitempty"`
	Priority       string            `json:"priority,omitempty"`
	Archive        bool              `json:"archive,omitempty"`
	ArchiveKey     string            `json:"archive_key,omitempty"`
}

// FetchResponse is the data of a successful fetch. A non-2xx status is
// still a successful fetch.
type FetchResponse struct {
	RequestID  string              `json:"request_id"`
	URL        string              `json:"url"`
	StatusCode int                 `json:"status_code"`
	Status     string              `json:"status,omitempty"`
	Proto      string              `json:"proto,omitempty"`
	Headers    map[string][]string `json:"headers,omitempty"`
	Body       []byte              `json:"body"`
	Size       int                 `json:"size"`
	SHA256     string              `json:"sha256"`
	DurationMS int64               `json:"duration_ms"`
	ArchiveKey string              `json:"archive_key,omitempty"`
}

var (
	ErrMissingURL    = errors.New("url is required")
	ErrInvalidURL    = errors.New("url must be an absolute http or https URL")
	ErrInvalidMethod = errors.New("method is not a valid HTTP token")
	ErrInvalidHeader = errors.New("header name or value is not valid")
)

// Validate checks the request and fills in the default method. It returns
// the parsed URL.
func (r *FetchRequest) Validate() (*url.URL, error) {
	if strings.TrimSpace(r.URL) == "" {
		return nil, ErrMissingURL
	}

	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return nil, ErrInvalidURL
	}

	if r.Method == "" {
		r.Method = http.MethodGet
	}
	r.Method = strings.ToUpper(r.Method)
	if !httpguts.ValidHeaderFieldName(r.Method) {
		return nil, ErrInvalidMethod
	}

	for name, value := range r.Headers {
		if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
			return nil, ErrInvalidHeader
		}
	}

	return u, nil
}
