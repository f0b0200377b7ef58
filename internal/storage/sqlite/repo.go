package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sheetload/internal/storage"
)

// Repo implements storage.Repository for SQLite.
//
// Notes:
//   - cfg.Server is the database path (":memory:" and "file:" URIs work).
//   - The schema is the attached database name; a plain file has only "main".
//   - SQLite has no native timestamp type. time.Time values are stored as
//     RFC3339Nano text so they sort and round-trip.
//   - The pool is capped at one connection: SQLite has a single writer, and
//     an in-memory database exists per connection.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

// New opens the SQLite database at cfg.Server. cfg.Params are appended as DSN
// query parameters (for example {"_pragma": "foreign_keys(1)"}).
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	r, err := Open(ctx, DSN(cfg))
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Open opens a SQLite database from a raw DSN.
func Open(ctx context.Context, dsn string) (*Repo, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite: empty database path")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: connect: %w", err)
	}
	return &Repo{db: db}, nil
}

// DSN builds the modernc.org/sqlite DSN for cfg.
func DSN(cfg storage.Config) string {
	if len(cfg.Params) == 0 {
		return cfg.Server
	}
	q := url.Values{}
	for _, k := range cfg.SortedParams() {
		q.Add(k, cfg.Params[k])
	}
	sep := "?"
	if strings.Contains(cfg.Server, "?") {
		sep = "&"
	}
	return cfg.Server + sep + q.Encode()
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("sqlite: exec: %w", err)
	}
	return nil
}

func (r *Repo) Ping(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("sqlite: probe: %w", err)
	}
	return nil
}

func (r *Repo) SchemaNames(ctx context.Context) ([]string, error) {
	out, err := r.queryStrings(ctx, `SELECT name FROM pragma_database_list WHERE name <> 'temp' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list schemas: %w", err)
	}
	return out, nil
}

func (r *Repo) TableNames(ctx context.Context, schema string) ([]string, error) {
	q := `SELECT name FROM ` + sqlIdent(schemaOrMain(schema)) + `.sqlite_master
WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
ORDER BY name`
	out, err := r.queryStrings(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tables in %s: %w", schema, err)
	}
	return out, nil
}

// Columns reads pragma table_info, ordered by column id.
func (r *Repo) Columns(ctx context.Context, schema, table string) ([]string, error) {
	out, err := r.queryStrings(ctx, `SELECT name FROM pragma_table_info(?, ?) ORDER BY cid`, table, schemaOrMain(schema))
	if err != nil {
		return nil, fmt.Errorf("sqlite: columns of %s.%s: %w", schema, table, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("sqlite: %s.%s: %w", schema, table, storage.ErrTableNotFound)
	}
	return out, nil
}

func (r *Repo) queryStrings(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// InsertRows prepares one INSERT inside a transaction and runs it per row.
// The first failing row rolls back every row of the call.
func (r *Repo) InsertRows(ctx context.Context, schema, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("sqlite: insert into %s.%s: no columns", schema, table)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, buildInsertSQL(schemaOrMain(schema), table, columns))
	if err != nil {
		return 0, fmt.Errorf("sqlite: prepare insert into %s.%s: %w", schema, table, err)
	}
	defer func() { _ = stmt.Close() }()

	args := make([]any, len(columns))
	var total int64
	for i, row := range rows {
		if len(row) != len(columns) {
			return 0, fmt.Errorf("sqlite: row %d has %d values, want %d", i+1, len(row), len(columns))
		}
		for j, v := range row {
			args[j] = bindValue(v)
		}
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return 0, fmt.Errorf("sqlite: insert row %d: %w", i+1, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit: %w", err)
	}
	return total, nil
}

func bindValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func buildInsertSQL(schema, table string, columns []string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(schema))
	b.WriteByte('.')
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(") VALUES (")
	b.WriteString(strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", "))
	b.WriteString(")")
	return b.String()
}

func schemaOrMain(schema string) string {
	if schema == "" {
		return "main"
	}
	return schema
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

var _ storage.Repository = (*Repo)(nil)
