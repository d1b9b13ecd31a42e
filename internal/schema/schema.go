package schema

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

var ErrUnavailable = errors.New("schema: unavailable")

// Snapshot is a point-in-time description of the database structure. It is
// built once and never mutated after it has been published by a Cache.
type Snapshot struct {
	Tables  map[string]Table `json:"tables"`
	BuiltAt time.Time        `json:"built_at"`
}

type Table struct {
	Name        string                `json:"table_name"`
	Columns     map[string]Column     `json:"columns"`
	PrimaryKey  []string              `json:"primary_key"`
	ForeignKeys map[string]ForeignKey `json:"foreign_keys"`
}

type Column struct {
	Name          string  `json:"column_name"`
	DataType      string  `json:"data_type"`
	Nullable      bool    `json:"nullable"`
	AutoGenerated bool    `json:"auto_generated"`
	Default       *string `json:"default,omitempty"`
	MaxLength     *int    `json:"max_length,omitempty"`
	Position      int     `json:"position"`
}

type ForeignKey struct {
	Table  string `json:"referenced_table"`
	Column string `json:"referenced_column"`
}

// Introspector reads table, column and key metadata from a live database.
type Introspector interface {
	Introspect(ctx context.Context) (*Snapshot, error)
}

func (s *Snapshot) TableNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OrderedColumns returns the table's columns by ordinal position, falling
// back to name order for columns without a position.
func (t Table) OrderedColumns() []Column {
	columns := make([]Column, 0, len(t.Columns))
	for _, column := range t.Columns {
		columns = append(columns, column)
	}
	sort.Slice(columns, func(i, j int) bool {
		if columns[i].Position != columns[j].Position {
			return columns[i].Position < columns[j].Position
		}
		return columns[i].Name < columns[j].Name
	})
	return columns
}

// IsSystemTable reports whether a table belongs to the database catalog or
// to dbchat's own bookkeeping and must stay out of snapshots.
func IsSystemTable(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range []string{"sys", "information_schema", "mysql", "performance_schema", "dbchat_"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return lower == "dual"
}
