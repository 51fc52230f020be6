package logger

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// NewSlog exposes a zerolog logger through the standard slog interface so
// packages only depend on log/slog while output stays zerolog-formatted.
func NewSlog(zl *zerolog.Logger) *slog.Logger {
	return slog.New(bridge{zl: zl})
}

// bridge is a value handler; WithAttrs copies it, so derived loggers never
// share attribute slices.
type bridge struct {
	zl    *zerolog.Logger
	bound []slog.Attr
}

func (bridge) Enabled(context.Context, slog.Level) bool { return true }

func (b bridge) Handle(ctx context.Context, rec slog.Record) error {
	ev := levelEvent(FromContext(ctx, b.zl), rec.Level)
	for _, a := range b.bound {
		writeAttr(ev, a)
	}
	rec.Attrs(func(a slog.Attr) bool {
		writeAttr(ev, a)
		return true
	})
	ev.Msg(rec.Message)
	return nil
}

func (b bridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(b.bound)+len(attrs))
	merged = append(merged, b.bound...)
	merged = append(merged, attrs...)
	b.bound = merged
	return b
}

// Groups are flattened; keys stay as written.
func (b bridge) WithGroup(string) slog.Handler { return b }

func levelEvent(zl *zerolog.Logger, lvl slog.Level) *zerolog.Event {
	switch {
	case lvl >= slog.LevelError:
		return zl.Error()
	case lvl >= slog.LevelWarn:
		return zl.Warn()
	case lvl >= slog.LevelInfo:
		return zl.Info()
	default:
		return zl.Debug()
	}
}

func writeAttr(ev *zerolog.Event, a slog.Attr) {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		ev.Str(a.Key, v.String())
	case slog.KindInt64:
		ev.Int64(a.Key, v.Int64())
	case slog.KindUint64:
		ev.Uint64(a.Key, v.Uint64())
	case slog.KindFloat64:
		ev.Float64(a.Key, v.Float64())
	case slog.KindBool:
		ev.Bool(a.Key, v.Bool())
	case slog.KindDuration:
		ev.Dur(a.Key, v.Duration())
	case slog.KindTime:
		ev.Time(a.Key, v.Time())
	default:
		ev.Interface(a.Key, v.Any())
	}
}
