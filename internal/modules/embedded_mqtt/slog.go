package embeddedmqtt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapHandler routes the broker's slog output into zap, honouring the zap
// level. Hangups are demoted to debug.
type zapHandler struct {
	log *zap.Logger
}

func newSlogLogger(log *zap.Logger) *slog.Logger {
	return slog.New(zapHandler{log: log})
}

func zapLevel(level slog.Level) zapcore.Level {
	switch {
	case level >= slog.LevelError:
		return zapcore.ErrorLevel
	case level >= slog.LevelWarn:
		return zapcore.WarnLevel
	case level >= slog.LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

func (h zapHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.log.Core().Enabled(zapLevel(level))
}

func (h zapHandler) Handle(_ context.Context, record slog.Record) error {
	level := zapLevel(record.Level)
	fields := make([]zap.Field, 0, record.NumAttrs())
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == "error" && isHangup(attr.Value) {
			level = zapcore.DebugLevel
		}
		fields = append(fields, attrField(attr))
		return true
	})
	if ce := h.log.Check(level, record.Message); ce != nil {
		ce.Write(fields...)
	}
	return nil
}

func (h zapHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	fields := make([]zap.Field, 0, len(attrs))
	for _, attr := range attrs {
		fields = append(fields, attrField(attr))
	}
	return zapHandler{log: h.log.With(fields...)}
}

func (h zapHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return zapHandler{log: h.log.With(zap.Namespace(name))}
}

// isHangup reports a peer closing its connection, which mochi logs as an
// error on every client exit.
func isHangup(v slog.Value) bool {
	switch v.Kind() {
	case slog.KindString:
		return v.String() == "EOF" || strings.HasSuffix(v.String(), ": EOF")
	case slog.KindAny:
		err, ok := v.Any().(error)
		return ok && errors.Is(err, io.EOF)
	}
	return false
}

func attrField(attr slog.Attr) zap.Field {
	v := attr.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return zap.String(attr.Key, v.String())
	case slog.KindInt64:
		return zap.Int64(attr.Key, v.Int64())
	case slog.KindUint64:
		return zap.Uint64(attr.Key, v.Uint64())
	case slog.KindFloat64:
		return zap.Float64(attr.Key, v.Float64())
	case slog.KindBool:
		return zap.Bool(attr.Key, v.Bool())
	case slog.KindDuration:
		return zap.Duration(attr.Key, v.Duration())
	case slog.KindTime:
		return zap.Time(attr.Key, v.Time())
	default:
		return zap.Any(attr.Key, v.Any())
	}
}
