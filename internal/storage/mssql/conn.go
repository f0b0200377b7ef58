package mssql

import (
	"context"
	"database/sql"
)

// dbConn is a small interface over *sql.DB used to make this package testable.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is the subset of *sql.Tx used by InsertRows.
type txConn interface {
	PrepareContext(ctx context.Context, query string) (stmtConn, error)
	Commit() error
	Rollback() error
}

// stmtConn is the subset of *sql.Stmt used by InsertRows.
type stmtConn interface {
	ExecContext(ctx context.Context, args ...any) (sql.Result, error)
	Close() error
}

type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// BeginTx begins a transaction and returns a txConn wrapper.
func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx}, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

type sqlTx struct {
	tx *sql.Tx
}

// PrepareContext prepares a statement bound to this transaction.
func (s *sqlTx) PrepareContext(ctx context.Context, query string) (stmtConn, error) {
	stmt, err := s.tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt, nil
}

func (s *sqlTx) Commit() error { return s.tx.Commit() }

func (s *sqlTx) Rollback() error { return s.tx.Rollback() }

var (
	_ dbConn   = (*sqlDB)(nil)
	_ txConn   = (*sqlTx)(nil)
	_ stmtConn = (*sql.Stmt)(nil)
)
