// Package logger builds the process zerolog logger and bridges it to slog.
package logger

import (
	"context"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Config struct {
	Level     string
	Console   bool
	SampleN   int
	Stream    string
	Component string
}

type ctxKey string

const (
	ctxSessionKey ctxKey = "session_id"
	ctxStreamKey  ctxKey = "stream"
	ctxComponent  ctxKey = "component"
)

// WithSession tags ctx with a control session id, generating one if empty.
func WithSession(ctx context.Context, id string) context.Context {
	if id == "" {
		id = NewID()
	}
	return context.WithValue(ctx, ctxSessionKey, id)
}

func WithStream(ctx context.Context, stream string) context.Context {
	if stream == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxStreamKey, stream)
}

func WithComponent(ctx context.Context, component string) context.Context {
	if component == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxComponent, component)
}

// SessionFrom returns the session id stored by WithSession.
func SessionFrom(ctx context.Context) string {
	s, _ := ctx.Value(ctxSessionKey).(string)
	return s
}

func NewID() string { return uuid.NewString() }

func safeUint32(n int) uint32 {
	if n <= 0 {
		return 0
	}
	if n > int(math.MaxUint32) {
		return math.MaxUint32
	}
	return uint32(n)
}

// ParseLevel maps a textual level onto zerolog, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func Build(cfg Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "timestamp"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "msg"

	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	base := zerolog.New(out).Level(ParseLevel(cfg.Level))

	// warnings and errors are never sampled away
	if n := safeUint32(cfg.SampleN); n > 1 {
		base = base.Sample(zerolog.LevelSampler{
			DebugSampler: &zerolog.BasicSampler{N: n},
			InfoSampler:  &zerolog.BasicSampler{N: n},
		})
	}

	ctx := base.With().Timestamp()
	if cfg.Stream != "" {
		ctx = ctx.Str("stream", cfg.Stream)
	}
	if cfg.Component != "" {
		ctx = ctx.Str("component", cfg.Component)
	}
	return ctx.Logger()
}

// FromContext returns a child logger carrying the fields stored in ctx.
func FromContext(ctx context.Context, parent *zerolog.Logger) *zerolog.Logger {
	var base zerolog.Logger
	if parent == nil {
		base = zerolog.New(io.Discard)
	} else {
		base = *parent
	}
	if ctx == nil {
		return &base
	}
	w := base.With()
	for _, k := range []ctxKey{ctxSessionKey, ctxStreamKey, ctxComponent} {
		if s, ok := ctx.Value(k).(string); ok && s != "" {
			w = w.Str(string(k), s)
		}
	}
	l := w.Logger()
	return &l
}
