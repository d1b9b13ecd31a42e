package sqlexec

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/duckmesh/dbchat/internal/observability"
	"github.com/duckmesh/dbchat/internal/query"
)

// DB is the subset of *sql.DB the executor needs.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Executor struct {
	DB      DB
	Dialect query.Dialect
	Logger  *slog.Logger
}

func New(db DB, dialect query.Dialect, logger *slog.Logger) *Executor {
	return &Executor{DB: db, Dialect: dialect, Logger: logger}
}

func (e *Executor) ExecuteRead(ctx context.Context, sqlText string, params []any) (query.ReadResult, error) {
	statement, args, err := e.prepare(sqlText, params)
	if err != nil {
		return query.ReadResult{}, err
	}

	start := time.Now()
	rows, err := e.DB.QueryContext(ctx, statement, args...)
	if err != nil {
		return query.ReadResult{}, e.fail(ctx, "query", statement, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.ReadResult{}, e.fail(ctx, "columns", statement, err)
	}

	records := make([]query.Record, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.ReadResult{}, e.fail(ctx, "scan", statement, err)
		}
		record := make(query.Record, len(columns))
		for i, column := range columns {
			record[column] = normalizeValue(values[i])
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return query.ReadResult{}, e.fail(ctx, "iterate", statement, err)
	}

	observability.ObserveRowsReturned(len(records))
	e.debug(ctx, "read executed", statement, len(args), slog.Int("rows", len(records)), slog.String("duration", time.Since(start).String()))
	return query.ReadResult{Columns: columns, Records: records}, nil
}

func (e *Executor) ExecuteWrite(ctx context.Context, sqlText string, params []any) (int64, error) {
	statement, args, err := e.prepare(sqlText, params)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	result, err := e.DB.ExecContext(ctx, statement, args...)
	if err != nil {
		return 0, e.fail(ctx, "exec", statement, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, e.fail(ctx, "rows affected", statement, err)
	}

	e.debug(ctx, "write executed", statement, len(args), slog.Int64("affected", affected), slog.String("duration", time.Since(start).String()))
	return affected, nil
}

func (e *Executor) prepare(sqlText string, params []any) (string, []any, error) {
	if e.DB == nil {
		return "", nil, fmt.Errorf("%w: database is not configured", query.ErrExecution)
	}
	statement := stripTrailingSemicolons(sqlText)
	if statement == "" {
		return "", nil, fmt.Errorf("%w: sql is required", query.ErrExecution)
	}

	args := make([]any, len(params))
	for i, param := range params {
		value, err := bindValue(param)
		if err != nil {
			return "", nil, fmt.Errorf("parameter %d: %w", i+1, err)
		}
		args[i] = value
	}

	statement, placeholders := bindPlaceholders(statement, e.Dialect == query.DialectPostgres)
	if placeholders != len(args) {
		return "", nil, fmt.Errorf("%w: statement has %d placeholders for %d parameters", query.ErrExecution, placeholders, len(args))
	}
	return statement, args, nil
}

func (e *Executor) fail(ctx context.Context, stage, statement string, err error) error {
	if e.Logger != nil {
		e.Logger.WarnContext(ctx, "statement failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("stage", stage),
			slog.String("sql", statement),
			slog.Any("error", err),
		)
	}
	return fmt.Errorf("%w: %s: %v", query.ErrExecution, stage, err)
}

func (e *Executor) debug(ctx context.Context, msg, statement string, params int, attrs ...slog.Attr) {
	if e.Logger == nil {
		return
	}
	attrs = append([]slog.Attr{
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("sql", statement),
		slog.Int("params", params),
	}, attrs...)
	e.Logger.LogAttrs(ctx, slog.LevelDebug, msg, attrs...)
}

// bindValue accepts the string, integer and float values an interpreted
// operation carries. Anything else never reaches the driver.
func bindValue(value any) (any, error) {
	switch typed := value.(type) {
	case string, int64, float64:
		return typed, nil
	case int:
		return int64(typed), nil
	case int32:
		return int64(typed), nil
	case float32:
		return float64(typed), nil
	default:
		return nil, fmt.Errorf("%w: %T", query.ErrUnsupportedParam, value)
	}
}

func normalizeValue(value any) any {
	if typed, ok := value.([]byte); ok {
		return string(typed)
	}
	return value
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

// bindPlaceholders counts the ? placeholders outside quoted text and
// comments. With dollar set each one is rewritten to $1, $2 and so on.
func bindPlaceholders(sqlText string, dollar bool) (string, int) {
	var out strings.Builder
	out.Grow(len(sqlText) + 8)
	count := 0
	for i := 0; i < len(sqlText); {
		if end := skipLiteral(sqlText, i); end > i {
			out.WriteString(sqlText[i:end])
			i = end
			continue
		}
		if sqlText[i] == '?' {
			count++
			if dollar {
				out.WriteString("$" + strconv.Itoa(count))
			} else {
				out.WriteByte('?')
			}
		} else {
			out.WriteByte(sqlText[i])
		}
		i++
	}
	return out.String(), count
}

// skipLiteral returns the end of the quoted string, quoted identifier or
// comment starting at i, or i when none starts there. Unterminated ones run
// to the end of the text.
func skipLiteral(sqlText string, i int) int {
	switch {
	case sqlText[i] == '\'' || sqlText[i] == '"':
		quote := sqlText[i]
		for j := i + 1; j < len(sqlText); j++ {
			if sqlText[j] != quote {
				continue
			}
			// A doubled quote is an escaped quote.
			if j+1 < len(sqlText) && sqlText[j+1] == quote {
				j++
				continue
			}
			return j + 1
		}
		return len(sqlText)
	case strings.HasPrefix(sqlText[i:], "--"):
		if end := strings.IndexByte(sqlText[i:], '\n'); end >= 0 {
			return i + end + 1
		}
		return len(sqlText)
	case strings.HasPrefix(sqlText[i:], "/*"):
		if end := strings.Index(sqlText[i+2:], "*/"); end >= 0 {
			return i + 2 + end + 2
		}
		return len(sqlText)
	}
	return i
}
