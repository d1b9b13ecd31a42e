package observability

import (
	"context"
	"io"
	"log/slog"
	"unicode/utf8"

	"github.com/duckmesh/dbchat/internal/config"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// maxStatementLogBytes bounds the sql and reply attributes. Model replies and
// generated statements can be arbitrarily long.
const maxStatementLogBytes = 2048

// NewLogger builds the service logger. Every line carries the service,
// profile, database driver and engine provider.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{Level: cfg.Observability.LogLevel, ReplaceAttr: truncateStatements}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
		slog.String("db_driver", cfg.Database.Driver),
		slog.String("engine", cfg.Engine.Provider),
	)
}

func truncateStatements(_ []string, attr slog.Attr) slog.Attr {
	switch attr.Key {
	case "sql", "reply":
	default:
		return attr
	}
	if attr.Value.Kind() != slog.KindString {
		return attr
	}
	value := attr.Value.String()
	if len(value) <= maxStatementLogBytes {
		return attr
	}
	cut := maxStatementLogBytes
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return slog.String(attr.Key, value[:cut]+"...(truncated)")
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(traceIDKey).(string)
	if !ok {
		return ""
	}
	return value
}
