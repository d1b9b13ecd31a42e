package demodb

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/duckmesh/dbchat/internal/query"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const versionTable = "dbchat_demo_versions"

var scriptNamePattern = regexp.MustCompile(`^([0-9]+)_.+\.(up|down)\.sql$`)

// Runner applies the embedded demo dataset scripts in version order and
// records each applied version in dbchat_demo_versions.
type Runner struct {
	fsys    fs.FS
	builder sq.StatementBuilderType
}

func NewRunner(dialect query.Dialect) *Runner {
	return newRunner(embeddedFS, dialect)
}

func newRunner(fsys fs.FS, dialect query.Dialect) *Runner {
	return &Runner{
		fsys:    fsys,
		builder: sq.StatementBuilder.PlaceholderFormat(dialect.PlaceholderFormat()),
	}
}

type script struct {
	Version int64
	UpSQL   string
	DownSQL string
}

type Status struct {
	Applied []int64
	Pending []int64
}

func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	scripts, err := loadScripts(r.fsys)
	if err != nil {
		return 0, err
	}
	if err := ensureVersionTable(ctx, db); err != nil {
		return 0, err
	}
	applied, err := r.listApplied(ctx, db, false)
	if err != nil {
		return 0, err
	}

	appliedSet := make(map[int64]struct{}, len(applied))
	for _, version := range applied {
		appliedSet[version] = struct{}{}
	}

	runCount := 0
	for _, item := range scripts {
		if _, ok := appliedSet[item.Version]; ok {
			continue
		}
		if steps > 0 && runCount >= steps {
			break
		}
		if err := r.apply(ctx, db, item.Version, item.UpSQL); err != nil {
			return runCount, err
		}
		runCount++
	}
	return runCount, nil
}

func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}

	scripts, err := loadScripts(r.fsys)
	if err != nil {
		return 0, err
	}
	if err := ensureVersionTable(ctx, db); err != nil {
		return 0, err
	}
	applied, err := r.listApplied(ctx, db, true)
	if err != nil {
		return 0, err
	}

	lookup := make(map[int64]script, len(scripts))
	for _, item := range scripts {
		lookup[item.Version] = item
	}

	runCount := 0
	for _, version := range applied {
		if runCount >= steps {
			break
		}
		item, ok := lookup[version]
		if !ok {
			return runCount, fmt.Errorf("applied demo version %d is missing from source", version)
		}
		if err := r.rollback(ctx, db, item.Version, item.DownSQL); err != nil {
			return runCount, err
		}
		runCount++
	}
	return runCount, nil
}

func (r *Runner) Status(ctx context.Context, db *sql.DB) (Status, error) {
	scripts, err := loadScripts(r.fsys)
	if err != nil {
		return Status{}, err
	}
	if err := ensureVersionTable(ctx, db); err != nil {
		return Status{}, err
	}
	applied, err := r.listApplied(ctx, db, false)
	if err != nil {
		return Status{}, err
	}

	appliedSet := make(map[int64]struct{}, len(applied))
	for _, version := range applied {
		appliedSet[version] = struct{}{}
	}
	status := Status{Applied: applied, Pending: []int64{}}
	for _, item := range scripts {
		if _, ok := appliedSet[item.Version]; !ok {
			status.Pending = append(status.Pending, item.Version)
		}
	}
	return status, nil
}

func ensureVersionTable(ctx context.Context, db *sql.DB) error {
	stmt := `
CREATE TABLE IF NOT EXISTS ` + versionTable + ` (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("ensure demo version table: %w", err)
	}
	return nil
}

func (r *Runner) apply(ctx context.Context, db *sql.DB, version int64, body string) error {
	mark, args, err := r.builder.Insert(versionTable).Columns("version").Values(version).ToSql()
	if err != nil {
		return fmt.Errorf("build version insert: %w", err)
	}
	return inTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, body); err != nil {
			return fmt.Errorf("apply demo version %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, mark, args...); err != nil {
			return fmt.Errorf("mark demo version %d: %w", version, err)
		}
		return nil
	})
}

func (r *Runner) rollback(ctx context.Context, db *sql.DB, version int64, body string) error {
	unmark, args, err := r.builder.Delete(versionTable).Where(sq.Eq{"version": version}).ToSql()
	if err != nil {
		return fmt.Errorf("build version delete: %w", err)
	}
	return inTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, body); err != nil {
			return fmt.Errorf("rollback demo version %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, unmark, args...); err != nil {
			return fmt.Errorf("unmark demo version %d: %w", version, err)
		}
		return nil
	})
}

func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *Runner) listApplied(ctx context.Context, db *sql.DB, descending bool) ([]int64, error) {
	order := "version ASC"
	if descending {
		order = "version DESC"
	}
	stmt, args, err := r.builder.Select("version").From(versionTable).OrderBy(order).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build version query: %w", err)
	}

	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	versions := []int64{}
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return versions, nil
}

func loadScripts(fsys fs.FS) ([]script, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read demo script dir: %w", err)
	}

	items := map[int64]script{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		base := path.Base(entry.Name())
		matches := scriptNamePattern.FindStringSubmatch(base)
		if len(matches) != 3 {
			continue
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse demo version for %q: %w", base, err)
		}

		body, err := fs.ReadFile(fsys, path.Join("sql", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read demo script %q: %w", entry.Name(), err)
		}

		item := items[version]
		item.Version = version
		if matches[2] == "up" {
			item.UpSQL = string(body)
		} else {
			item.DownSQL = string(body)
		}
		items[version] = item
	}

	versions := make([]int64, 0, len(items))
	for version := range items {
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

	scripts := make([]script, 0, len(versions))
	for _, version := range versions {
		item := items[version]
		if strings.TrimSpace(item.UpSQL) == "" {
			return nil, fmt.Errorf("demo version %d missing up SQL", version)
		}
		if strings.TrimSpace(item.DownSQL) == "" {
			return nil, fmt.Errorf("demo version %d missing down SQL", version)
		}
		scripts = append(scripts, item)
	}
	return scripts, nil
}
