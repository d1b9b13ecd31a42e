package audit

import (
	"context"
	"log/slog"
	"time"
)

// Record describes one processed chat request. SQL is kept for operators
// only and is never shown to the requesting user.
type Record struct {
	RequestID    string
	SessionID    string
	UserID       string
	Intent       string
	Table        string
	Kind         string
	Success      bool
	DenialReason string
	SQL          string
	ParamCount   int
	RowsReturned int
	RowsAffected int64
	Elapsed      time.Duration
	OccurredAt   time.Time
}

// Sink receives audit records. Record must not block the request path.
type Sink interface {
	Record(ctx context.Context, record Record)
}

type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Record(ctx context.Context, record Record) {
	if s.Logger == nil {
		return
	}
	s.Logger.InfoContext(ctx, "chat_audit",
		slog.String("request_id", record.RequestID),
		slog.String("session_id", record.SessionID),
		slog.String("user_id", record.UserID),
		slog.String("intent", record.Intent),
		slog.String("table", record.Table),
		slog.String("kind", record.Kind),
		slog.Bool("success", record.Success),
		slog.String("denial_reason", record.DenialReason),
		slog.String("sql", record.SQL),
		slog.Int("params", record.ParamCount),
		slog.Int("rows_returned", record.RowsReturned),
		slog.Int64("rows_affected", record.RowsAffected),
		slog.Int64("elapsed_ms", record.Elapsed.Milliseconds()),
	)
}

// Fanout delivers every record to each sink in order.
type Fanout []Sink

func (f Fanout) Record(ctx context.Context, record Record) {
	for _, sink := range f {
		if sink != nil {
			sink.Record(ctx, record)
		}
	}
}

// Discard drops every record.
type Discard struct{}

func (Discard) Record(context.Context, Record) {}
