package introspect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/duckmesh/dbchat/internal/query"
	"github.com/duckmesh/dbchat/internal/schema"
)

type Options struct {
	Dialect    query.Dialect
	SchemaName string
}

// Introspector builds snapshots from the information_schema views, which
// both supported dialects expose.
type Introspector struct {
	db      *sql.DB
	builder sq.StatementBuilderType
	schema  string
	clock   func() time.Time
}

func New(db *sql.DB, opts Options) *Introspector {
	schemaName := strings.TrimSpace(opts.SchemaName)
	if schemaName == "" {
		schemaName = "public"
		if opts.Dialect == query.DialectDuckDB {
			schemaName = "main"
		}
	}
	return &Introspector{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(opts.Dialect.PlaceholderFormat()),
		schema:  schemaName,
		clock:   time.Now,
	}
}

func (i *Introspector) Introspect(ctx context.Context) (*schema.Snapshot, error) {
	if i.db == nil {
		return nil, fmt.Errorf("introspect: database is required")
	}

	snapshot := &schema.Snapshot{Tables: map[string]schema.Table{}, BuiltAt: i.clock().UTC()}
	if err := i.loadTables(ctx, snapshot); err != nil {
		return nil, err
	}
	if len(snapshot.Tables) == 0 {
		return snapshot, nil
	}
	if err := i.loadColumns(ctx, snapshot); err != nil {
		return nil, err
	}
	if err := i.loadPrimaryKeys(ctx, snapshot); err != nil {
		return nil, err
	}
	if err := i.loadForeignKeys(ctx, snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (i *Introspector) loadTables(ctx context.Context, snapshot *schema.Snapshot) error {
	statement, args, err := i.builder.
		Select("table_name").
		From("information_schema.tables").
		Where(sq.Eq{"table_schema": i.schema, "table_type": "BASE TABLE"}).
		OrderBy("table_name").
		ToSql()
	if err != nil {
		return fmt.Errorf("build tables query: %w", err)
	}
	rows, err := i.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("scan table: %w", err)
		}
		if schema.IsSystemTable(name) {
			continue
		}
		snapshot.Tables[name] = schema.Table{
			Name:        name,
			Columns:     map[string]schema.Column{},
			PrimaryKey:  []string{},
			ForeignKeys: map[string]schema.ForeignKey{},
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate tables: %w", err)
	}
	return nil
}

func (i *Introspector) loadColumns(ctx context.Context, snapshot *schema.Snapshot) error {
	statement, args, err := i.builder.
		Select(
			"table_name",
			"column_name",
			"data_type",
			"is_nullable",
			"column_default",
			"character_maximum_length",
			"ordinal_position",
		).
		From("information_schema.columns").
		Where(sq.Eq{"table_schema": i.schema}).
		OrderBy("table_name", "ordinal_position").
		ToSql()
	if err != nil {
		return fmt.Errorf("build columns query: %w", err)
	}
	rows, err := i.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return fmt.Errorf("list columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			tableName  string
			column     schema.Column
			isNullable string
			defaultVal sql.NullString
			maxLength  sql.NullInt64
		)
		if err := rows.Scan(&tableName, &column.Name, &column.DataType, &isNullable, &defaultVal, &maxLength, &column.Position); err != nil {
			return fmt.Errorf("scan column: %w", err)
		}
		table, ok := snapshot.Tables[tableName]
		if !ok {
			continue
		}
		column.Nullable = strings.EqualFold(isNullable, "YES")
		if defaultVal.Valid {
			value := defaultVal.String
			column.Default = &value
			column.AutoGenerated = isSequenceDefault(value)
		}
		if maxLength.Valid {
			value := int(maxLength.Int64)
			column.MaxLength = &value
		}
		table.Columns[column.Name] = column
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate columns: %w", err)
	}
	return nil
}

func (i *Introspector) loadPrimaryKeys(ctx context.Context, snapshot *schema.Snapshot) error {
	statement, args, err := i.builder.
		Select("tc.table_name", "kcu.column_name").
		From("information_schema.table_constraints tc").
		Join("information_schema.key_column_usage kcu ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema AND kcu.table_name = tc.table_name").
		Where(sq.Eq{"tc.constraint_type": "PRIMARY KEY", "tc.table_schema": i.schema}).
		OrderBy("tc.table_name", "kcu.ordinal_position").
		ToSql()
	if err != nil {
		return fmt.Errorf("build primary keys query: %w", err)
	}
	rows, err := i.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return fmt.Errorf("list primary keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var tableName, columnName string
		if err := rows.Scan(&tableName, &columnName); err != nil {
			return fmt.Errorf("scan primary key: %w", err)
		}
		table, ok := snapshot.Tables[tableName]
		if !ok {
			continue
		}
		table.PrimaryKey = append(table.PrimaryKey, columnName)
		snapshot.Tables[tableName] = table
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate primary keys: %w", err)
	}
	return nil
}

func (i *Introspector) loadForeignKeys(ctx context.Context, snapshot *schema.Snapshot) error {
	statement, args, err := i.builder.
		Select("kcu.table_name", "kcu.column_name", "ref.table_name", "ref.column_name").
		From("information_schema.referential_constraints rc").
		Join("information_schema.key_column_usage kcu ON kcu.constraint_name = rc.constraint_name AND kcu.constraint_schema = rc.constraint_schema").
		Join("information_schema.key_column_usage ref ON ref.constraint_name = rc.unique_constraint_name AND ref.constraint_schema = rc.unique_constraint_schema AND ref.ordinal_position = kcu.position_in_unique_constraint").
		Where(sq.Eq{"kcu.table_schema": i.schema}).
		OrderBy("kcu.table_name", "kcu.column_name").
		ToSql()
	if err != nil {
		return fmt.Errorf("build foreign keys query: %w", err)
	}
	rows, err := i.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return fmt.Errorf("list foreign keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var tableName, columnName, refTable, refColumn string
		if err := rows.Scan(&tableName, &columnName, &refTable, &refColumn); err != nil {
			return fmt.Errorf("scan foreign key: %w", err)
		}
		table, ok := snapshot.Tables[tableName]
		if !ok {
			continue
		}
		table.ForeignKeys[columnName] = schema.ForeignKey{Table: refTable, Column: refColumn}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate foreign keys: %w", err)
	}
	return nil
}

func isSequenceDefault(value string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(value)), "nextval(")
}
