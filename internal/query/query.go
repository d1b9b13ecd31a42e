package query

import (
	"context"
	"errors"

	sq "github.com/Masterminds/squirrel"
)

var (
	ErrExecution        = errors.New("query: execution failed")
	ErrUnsupportedParam = errors.New("query: unsupported parameter type")
)

// Record is one result row keyed by column name.
type Record map[string]any

// ReadResult carries the rows of a read statement together with the column
// order reported by the driver, which a Record map does not preserve.
type ReadResult struct {
	Columns []string
	Records []Record
}

func (r ReadResult) Len() int {
	return len(r.Records)
}

// Executor runs a single parameterized statement. Implementations never
// interpolate parameter values into the statement text.
type Executor interface {
	ExecuteRead(ctx context.Context, sqlText string, params []any) (ReadResult, error)
	ExecuteWrite(ctx context.Context, sqlText string, params []any) (int64, error)
}

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectDuckDB   Dialect = "duckdb"
)

// PlaceholderFormat returns the bind-parameter style the dialect's driver
// expects.
func (d Dialect) PlaceholderFormat() sq.PlaceholderFormat {
	if d == DialectPostgres {
		return sq.Dollar
	}
	return sq.Question
}
