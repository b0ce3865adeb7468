package handler

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Error codes shared by workers and platform adapters.
const (
	CodeValidation            = "VALIDATION_ERROR"
	CodeInvalidRequest        = "INVALID_REQUEST"
	CodeUnsupportedType       = "UNSUPPORTED_TYPE"
	CodeInternal              = "INTERNAL_ERROR"
	CodeTimeout               = "TIMEOUT"
	CodeCancelled             = "CANCELLED"
	CodeNetwork               = "NETWORK_ERROR"
	CodeInvalidResponse       = "INVALID_RESPONSE"
	CodeNoData                = "NO_DATA"
	CodeTrustValidationFailed = "TRUST_VALIDATION_FAILED"
	CodeStorage               = "STORAGE_ERROR"
	CodeRateLimited           = "RATE_LIMITED"
	CodeServiceUnavailable    = "SERVICE_UNAVAILABLE"
)

var retryableCodes = map[string]bool{
	CodeTimeout:            true,
	CodeNetwork:            true,
	CodeRateLimited:        true,
	CodeServiceUnavailable: true,
}

// IsRetryableCode reports whether a failure with code may succeed if the
// request is sent again.
func IsRetryableCode(code string) bool {
	return retryableCodes[code]
}

// Request is a platform-agnostic incoming request.
type Request struct {
	// ID is a unique identifier for the request, used for tracing.
	ID string `json:"id"`

	// Source is the adapter the request came through ("http", "sqs", "cli").
	Source string `json:"source"`

	// Type selects the operation, e.g. "fetch".
	Type string `json:"type"`

	// Payload is the raw JSON body.
	Payload json.RawMessage `json:"payload"`

	Metadata map[string]string `json:"metadata,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Response is a platform-agnostic worker result.
type Response struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`

	// Data holds the marshalled result when Success is true.
	Data json.RawMessage `json:"data,omitempty"`

	// Error describes the failure when Success is false.
	Error *ErrorResponse `json:"error,omitempty"`

	Metadata    map[string]string `json:"metadata,omitempty"`
	ProcessedAt time.Time         `json:"processed_at"`
	Duration    time.Duration     `json:"duration,omitempty"`
}

// ErrorResponse is the structured failure returned to callers.
type ErrorResponse struct {
	// Code is machine-readable, one of the Code constants.
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`

	// Retryable tells queue-driven platforms to redeliver the request.
	Retryable bool `json:"retryable,omitempty"`
}

// NewRequest creates a request with a generated ID and timestamp.
func NewRequest(requestType string, payload interface{}) (Request, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return Request{}, err
	}

	return Request{
		ID:        uuid.New().String(),
		Type:      requestType,
		Payload:   payloadBytes,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UTC(),
	}, nil
}

// Unmarshal decodes the request payload into v.
func (r *Request) Unmarshal(v interface{}) error {
	return json.Unmarshal(r.Payload, v)
}

// Marshal encodes v as the response data.
func (r *Response) Marshal(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.Data = data
	return nil
}

// NewErrorResponse creates a failed response. Retryable is derived from code.
func NewErrorResponse(id string, code string, message string, details string) Response {
	return Response{
		ID:      id,
		Success: false,
		Error: &ErrorResponse{
			Code:      code,
			Message:   message,
			Details:   details,
			Retryable: IsRetryableCode(code),
		},
		ProcessedAt: time.Now().UTC(),
	}
}

// NewSuccessResponse creates a successful response carrying data.
func NewSuccessResponse(id string, data interface{}) (Response, error) {
	resp := Response{
		ID:          id,
		Success:     true,
		ProcessedAt: time.Now().UTC(),
		Metadata:    make(map[string]string),
	}

	if data != nil {
		if err := resp.Marshal(data); err != nil {
			return Response{}, err
		}
	}

	return resp, nil
}

func (r *Request) SetMetadata(key, value string) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]string)
	}
	r.Metadata[key] = value
}

func (r *Request) GetMetadata(key string) (string, bool) {
	if r.Metadata == nil {
		return "", false
	}
	val, ok := r.Metadata[key]
	return val, ok
}
