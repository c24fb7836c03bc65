package telemetry

import (
	"context"
	"log/slog"
	"sort"

	"github.com/rs/zerolog"

	"github.com/modelrelay/authsession"
)

// Zerolog returns an OnLogEntry hook writing to logger.
func Zerolog(logger zerolog.Logger) func(context.Context, authsession.LogEntry) {
	return func(_ context.Context, entry authsession.LogEntry) {
		var ev *zerolog.Event
		switch entry.Level {
		case authsession.LogLevelDebug:
			ev = logger.Debug()
		case authsession.LogLevelWarn:
			ev = logger.Warn()
		case authsession.LogLevelError:
			ev = logger.Error()
		default:
			ev = logger.Info()
		}
		ev.Fields(entry.Fields).Msg(entry.Message)
	}
}

// Slog returns an OnLogEntry hook writing to logger. Fields are emitted in
// key order.
func Slog(logger *slog.Logger) func(context.Context, authsession.LogEntry) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, entry authsession.LogEntry) {
		keys := make([]string, 0, len(entry.Fields))
		for k := range entry.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		attrs := make([]slog.Attr, 0, len(keys))
		for _, k := range keys {
			attrs = append(attrs, slog.Any(k, entry.Fields[k]))
		}
		logger.LogAttrs(ctx, slogLevel(entry.Level), entry.Message, attrs...)
	}
}

func slogLevel(level authsession.LogLevel) slog.Level {
	switch level {
	case authsession.LogLevelDebug:
		return slog.LevelDebug
	case authsession.LogLevelWarn:
		return slog.LevelWarn
	case authsession.LogLevelError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Hooks bundles a log hook and a Prometheus adapter into TelemetryHooks.
// Either may be nil.
func Hooks(logHook func(context.Context, authsession.LogEntry), metrics *Prometheus) authsession.TelemetryHooks {
	hooks := authsession.TelemetryHooks{OnLogEntry: logHook}
	if metrics != nil {
		hooks.OnMetric = metrics.Record
	}
	return hooks
}
