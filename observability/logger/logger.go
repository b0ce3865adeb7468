// Package logger implements types.Logger on top of zerolog.
// Entries are JSON by default, one object per line, with service, env and
// hostname on every entry; request and trace identifiers are lifted from
// the context.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"netfetch/observability/types"
)

// ParseLevel converts "debug", "info", "warn" or "error" to a zerolog level.
// Anything else maps to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// ZeroLogger implements types.Logger with a zerolog.Logger.
type ZeroLogger struct {
	zl zerolog.Logger
}

var _ types.Logger = (*ZeroLogger)(nil)

// Options configure New.
type Options struct {
	ServiceName string
	Environment string
	Level       string
	// Format is "json" or "console".
	Format string
	Output io.Writer
	Fields types.Fields
}

// New builds a ZeroLogger. A nil Output writes to os.Stdout.
func New(opts Options) *ZeroLogger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(opts.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	zctx := zerolog.New(out).
		Level(ParseLevel(opts.Level)).
		With().
		Timestamp().
		Str("service", opts.ServiceName).
		Str("env", opts.Environment).
		Str("hostname", hostname)
	if len(opts.Fields) > 0 {
		zctx = zctx.Fields(map[string]interface{}(opts.Fields))
	}

	return &ZeroLogger{zl: zctx.Logger()}
}

// Nop returns a logger that discards everything.
func Nop() *ZeroLogger {
	return &ZeroLogger{zl: zerolog.Nop()}
}

func (l *ZeroLogger) Info(ctx context.Context, msg string, fields types.Fields) {
	l.write(ctx, l.zl.Info(), msg, nil, fields)
}

func (l *ZeroLogger) Error(ctx context.Context, msg string, err error, fields types.Fields) {
	l.write(ctx, l.zl.Error(), msg, err, fields)
}

func (l *ZeroLogger) Warn(ctx context.Context, msg string, fields types.Fields) {
	l.write(ctx, l.zl.Warn(), msg, nil, fields)
}

func (l *ZeroLogger) Debug(ctx context.Context, msg string, fields types.Fields) {
	l.write(ctx, l.zl.Debug(), msg, nil, fields)
}

// WithFields returns a child logger carrying fields on every entry.
func (l *ZeroLogger) WithFields(fields types.Fields) types.Logger {
	if len(fields) == 0 {
		return l
	}
	return &ZeroLogger{zl: l.zl.With().Fields(map[string]interface{}(fields)).Logger()}
}

// write finishes a zerolog event. A nil event means the level is disabled.
func (l *ZeroLogger) write(ctx context.Context, e *zerolog.Event, msg string, err error, fields types.Fields) {
	if e == nil {
		return
	}
	if ctx != nil {
		for _, key := range types.LoggedContextKeys {
			if v, ok := ctx.Value(key).(string); ok && v != "" {
				e = e.Str(string(key), v)
			}
		}
	}
	if err != nil {
		e = e.Err(err).Str("error_type", fmt.Sprintf("%T", err))
	}
	if len(fields) > 0 {
		e = e.Fields(map[string]interface{}(fields))
	}
	e.Msg(msg)
}
