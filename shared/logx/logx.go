package logx

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// messageKey carries the human-readable text; the record message holds the
// event name and is written as "event".
const messageKey = "message"

type Logger struct {
	slog *slog.Logger
	env  string
}

type Options struct {
	Service string
	Env     string
	Version string
	Level   string
	// File enables a rotated JSON log file next to stdout.
	File string
	// Writer replaces stdout, mostly for tests.
	Writer io.Writer
}

func New(service string, env string, version string, level string) Logger {
	return NewWithOptions(Options{Service: service, Env: env, Version: version, Level: level})
}

func NewWithOptions(o Options) Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(o.Level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				a.Key = "ts"
			case slog.LevelKey:
				a.Key = "level"
			case slog.MessageKey:
				a.Key = "event"
			case messageKey:
				if len(groups) == 0 {
					a.Key = "msg"
				}
			}
			return a
		},
	}

	var out io.Writer = os.Stdout
	if o.Writer != nil {
		out = o.Writer
	}
	if path := strings.TrimSpace(o.File); path != "" {
		out = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		})
	}

	handler := slog.NewJSONHandler(out, opts)
	base := slog.New(handler).With(
		slog.String("service", o.Service),
		slog.String("env", o.Env),
	)
	if strings.TrimSpace(o.Version) != "" {
		base = base.With(slog.String("version", strings.TrimSpace(o.Version)))
	}

	return Logger{slog: base, env: o.Env}
}

var discard = slog.New(slog.NewJSONHandler(io.Discard, nil))

// Nop discards everything. The zero Logger behaves the same way.
func Nop() Logger {
	return Logger{slog: discard}
}

func (l Logger) base() *slog.Logger {
	if l.slog == nil {
		return discard
	}
	return l.slog
}

func (l Logger) With(attrs ...slog.Attr) Logger {
	args := make([]any, 0, len(attrs))
	for _, a := range attrs {
		args = append(args, a)
	}
	return Logger{slog: l.base().With(args...), env: l.env}
}

func (l Logger) Info(ctx context.Context, event string, msg string, attrs ...slog.Attr) {
	attrs = append(attrs, slog.String(messageKey, msg))
	l.base().LogAttrs(ctx, slog.LevelInfo, event, attrs...)
}

func (l Logger) Warn(ctx context.Context, event string, msg string, attrs ...slog.Attr) {
	attrs = append(attrs, slog.String(messageKey, msg))
	l.base().LogAttrs(ctx, slog.LevelWarn, event, attrs...)
}

func (l Logger) Error(ctx context.Context, event string, msg string, attrs ...slog.Attr) {
	attrs = append(attrs, slog.String(messageKey, msg))
	l.base().LogAttrs(ctx, slog.LevelError, event, attrs...)
}

func (l Logger) Debug(ctx context.Context, event string, msg string, attrs ...slog.Attr) {
	attrs = append(attrs, slog.String(messageKey, msg))
	l.base().LogAttrs(ctx, slog.LevelDebug, event, attrs...)
}

func (l Logger) Env() string { return l.env }

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
