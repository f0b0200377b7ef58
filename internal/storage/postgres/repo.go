package postgres

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sheetload/internal/storage"
)

const defaultPort = 5432

/*
Repo implements storage.Repository for PostgreSQL.

Rows of one InsertRows call are queued as a single pgx.Batch and sent inside
one transaction, so the file is committed or rolled back as a unit.

Queries run in pgx.QueryExecModeExec: parameters are sent as text without a
declared type, so the server infers each one from its destination column and
applies the usual assignment casts. A numeric cell bound for a text column
(zip codes, account codes) loads like it would from a literal.
*/
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New creates a pool for cfg. Connectivity is checked by storage.Open's probe.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pc, err := poolConfig(DSN(cfg))
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	return &Repo{pool: pool}, nil
}

func poolConfig(dsn string) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	pc.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec
	return pc, nil
}

// DSN renders cfg as a postgres:// URL. Port defaults to 5432.
func DSN(cfg storage.Config) string {
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cfg.Server, strconv.Itoa(port)),
		Path:   "/" + cfg.Database,
	}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	if len(cfg.Params) > 0 {
		q := url.Values{}
		for k, v := range cfg.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Close closes the connection pool.
func (r *Repo) Close() error {
	r.pool.Close()
	return nil
}

func (r *Repo) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: exec: %w", err)
	}
	return nil
}

func (r *Repo) Ping(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("postgres: probe: %w", err)
	}
	return nil
}

func (r *Repo) SchemaNames(ctx context.Context) ([]string, error) {
	out, err := r.queryStrings(ctx, `SELECT schema_name FROM information_schema.schemata
WHERE schema_name NOT IN ('information_schema', 'pg_catalog', 'pg_toast') AND schema_name NOT LIKE 'pg\_%'
ORDER BY schema_name`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list schemas: %w", err)
	}
	return out, nil
}

func (r *Repo) TableNames(ctx context.Context, schema string) ([]string, error) {
	out, err := r.queryStrings(ctx, `SELECT table_name FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE'
ORDER BY table_name`, schema)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tables in %s: %w", schema, err)
	}
	return out, nil
}

func (r *Repo) Columns(ctx context.Context, schema, table string) ([]string, error) {
	out, err := r.queryStrings(ctx, `SELECT column_name FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("postgres: columns of %s.%s: %w", schema, table, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("postgres: %s.%s: %w", schema, table, storage.ErrTableNotFound)
	}
	return out, nil
}

func (r *Repo) queryStrings(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// InsertRows queues one INSERT per row in a pgx.Batch inside a transaction.
func (r *Repo) InsertRows(ctx context.Context, schema, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("postgres: insert into %s.%s: no columns", schema, table)
	}

	q := buildInsertSQL(schema, table, columns)
	batch := &pgx.Batch{}
	for i, row := range rows {
		if len(row) != len(columns) {
			return 0, fmt.Errorf("postgres: row %d has %d values, want %d", i+1, len(row), len(columns))
		}
		batch.Queue(q, row...)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	total, err := execBatch(tx.SendBatch(ctx, batch), len(rows))
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit: %w", err)
	}
	return total, nil
}

func execBatch(br pgx.BatchResults, n int) (total int64, err error) {
	defer func() {
		if cerr := br.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("postgres: close batch: %w", cerr)
		}
	}()
	for i := 0; i < n; i++ {
		tag, err := br.Exec()
		if err != nil {
			return 0, fmt.Errorf("postgres: insert row %d: %w", i+1, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// buildInsertSQL builds a single-row INSERT with $n placeholders.
func buildInsertSQL(schema, table string, columns []string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	if schema != "" {
		b.WriteString(pgIdent(schema))
		b.WriteByte('.')
	}
	b.WriteString(pgIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES (")
	for i := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("$" + strconv.Itoa(i+1))
	}
	b.WriteString(")")
	return b.String()
}

func pgIdent(id string) string {
	return pgx.Identifier{id}.Sanitize()
}

var _ storage.Repository = (*Repo)(nil)
