package types

import "context"

// ContextKey is the type of context keys the handler chain sets and the
// logger reads back.
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	TraceIDKey   ContextKey = "trace_id"
	SpanIDKey    ContextKey = "span_id"
	WorkerKey    ContextKey = "worker"
	PlatformKey  ContextKey = "platform"
	AttemptKey   ContextKey = "retry_attempt"
)

// LoggedContextKeys are copied from the context onto every log entry.
var LoggedContextKeys = []ContextKey{RequestIDKey, TraceIDKey, SpanIDKey}

// StringFromContext returns the string stored under key, or "".
func StringFromContext(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
