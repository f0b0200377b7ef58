package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mssqldb "github.com/microsoft/go-mssqldb"

	"sheetload/internal/storage"
)

// Repo implements storage.Repository for Microsoft SQL Server.
//
// Two connection strategies are registered:
//   - "mssql-odbc": ODBC-style connection string. Meant for hosts on the same
//     network as the server (named instances, HOST\INST).
//   - "mssql-tds":  sqlserver:// URL with an explicit TCP port. Meant for
//     servers reached over a public address.
//
// Both strategies insert with one parameterized INSERT executed per row, so
// SQL Server converts each cell to the column type and blank cells are stored
// as NULL rather than the column default. Every file runs inside one
// transaction.
type Repo struct {
	db dbConn
}

// NewODBC opens SQL Server with an ODBC-style connection string.
func NewODBC(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	r, err := open(ctx, ODBCConnString(cfg))
	if err != nil {
		return nil, err
	}
	return r, nil
}

// NewTDS opens SQL Server with a sqlserver:// URL.
func NewTDS(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	r, err := open(ctx, URLConnString(cfg))
	if err != nil {
		return nil, err
	}
	return r, nil
}

// openDB is a test seam.
var openDB = func(dsn string) (*sql.DB, error) {
	connector, err := mssqldb.NewConnector(dsn)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(connector), nil
}

func open(ctx context.Context, dsn string) (*Repo, error) {
	raw, err := openDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}
	// A session runs one load at a time; the second connection serves
	// catalog browsing while a load is in flight.
	raw.SetMaxOpenConns(2)
	raw.SetMaxIdleConns(2)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("mssql: connect: %w", err)
	}
	return &Repo{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Exec runs a statement that returns no rows.
func (r *Repo) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mssql: exec: %w", err)
	}
	return nil
}

// Ping runs the liveness probe.
func (r *Repo) Ping(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("mssql: probe: %w", err)
	}
	return nil
}

const (
	schemaNamesSQL = `SELECT SCHEMA_NAME FROM INFORMATION_SCHEMA.SCHEMATA
WHERE SCHEMA_NAME NOT IN ('INFORMATION_SCHEMA', 'sys', 'guest') AND SCHEMA_NAME NOT LIKE 'db[_]%'
ORDER BY SCHEMA_NAME`

	tableNamesSQL = `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
WHERE TABLE_SCHEMA = @p1 AND TABLE_TYPE = 'BASE TABLE'
ORDER BY TABLE_NAME`

	columnsSQL = `SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
ORDER BY ORDINAL_POSITION`
)

// SchemaNames lists user schemas. Fixed database roles (db_owner, ...) and
// system schemas are hidden.
func (r *Repo) SchemaNames(ctx context.Context) ([]string, error) {
	out, err := r.queryStrings(ctx, schemaNamesSQL)
	if err != nil {
		return nil, fmt.Errorf("mssql: list schemas: %w", err)
	}
	return out, nil
}

// TableNames lists base tables (no views) in schema.
func (r *Repo) TableNames(ctx context.Context, schema string) ([]string, error) {
	out, err := r.queryStrings(ctx, tableNamesSQL, schema)
	if err != nil {
		return nil, fmt.Errorf("mssql: list tables in %s: %w", schema, err)
	}
	return out, nil
}

// Columns returns the columns of schema.table ordered by ORDINAL_POSITION.
func (r *Repo) Columns(ctx context.Context, schema, table string) ([]string, error) {
	out, err := r.queryStrings(ctx, columnsSQL, schema, table)
	if err != nil {
		return nil, fmt.Errorf("mssql: columns of %s.%s: %w", schema, table, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("mssql: %s.%s: %w", schema, table, storage.ErrTableNotFound)
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

// InsertRows inserts rows into [schema].[table] inside one transaction.
//
// Rules:
//   - Zero rows: no transaction is opened; returns 0.
//   - Every row must have len(columns) values.
//   - On the first failing row the transaction is rolled back and the driver
//     error is returned wrapped with the row number (1-based).
func (r *Repo) InsertRows(ctx context.Context, schema, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("mssql: insert into %s.%s: no columns", schema, table)
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return 0, fmt.Errorf("mssql: insert into %s.%s: row %d has %d values, want %d", schema, table, i+1, len(row), len(columns))
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mssql: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	n, err := preparedInsertTx(ctx, tx, schema, table, columns, rows)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mssql: commit: %w", err)
	}
	return n, nil
}

func preparedInsertTx(ctx context.Context, tx txConn, schema, table string, columns []string, rows [][]any) (int64, error) {
	stmt, err := tx.PrepareContext(ctx, buildInsertSQL(schema, table, columns))
	if err != nil {
		return 0, fmt.Errorf("mssql: prepare insert into %s.%s: %w", schema, table, err)
	}
	defer func() { _ = stmt.Close() }()

	var total int64
	for i, row := range rows {
		res, err := stmt.ExecContext(ctx, row...)
		if err != nil {
			return 0, fmt.Errorf("mssql: insert row %d: %w", i+1, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// buildInsertSQL builds a single-row parameterized INSERT.
//
// Example:
//
//	INSERT INTO [dbo].[Sales] ([ID], [Customer Name]) VALUES (@p1, @p2)
func buildInsertSQL(schema, table string, columns []string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(schema, table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") VALUES (")
	for i := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "@p%d", i+1)
	}
	b.WriteString(")")
	return b.String()
}

// mssqlIdent bracket-quotes a single identifier, doubling any "]".
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns [schema].[table], or [table] when schema is empty.
func mssqlTableIdent(schema, table string) string {
	if schema == "" {
		return mssqlIdent(table)
	}
	return mssqlIdent(schema) + "." + mssqlIdent(table)
}

var _ storage.Repository = (*Repo)(nil)
