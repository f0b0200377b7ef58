package mssql

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"sheetload/internal/storage"
)

func newMockRepo(t *testing.T) (*Repo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &Repo{db: &sqlDB{db: db}}, mock
}

func TestBuildInsertSQL(t *testing.T) {
	t.Parallel()

	got := buildInsertSQL("dbo", "Sales", []string{"ID", "Customer Name", "Odd]Col"})
	want := "INSERT INTO [dbo].[Sales] ([ID], [Customer Name], [Odd]]Col]) VALUES (@p1, @p2, @p3)"
	if got != want {
		t.Fatalf("got=%q want=%q", got, want)
	}
}

func TestMssqlTableIdent(t *testing.T) {
	t.Parallel()

	if got := mssqlTableIdent("", "t"); got != "[t]" {
		t.Fatalf("got=%q want=[t]", got)
	}
	if got := mssqlTableIdent("sales data", "2024"); got != "[sales data].[2024]" {
		t.Fatalf("got=%q", got)
	}
}

func TestInsertRows_PreparedCommitsAll(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	q := regexp.QuoteMeta("INSERT INTO [dbo].[Sales] ([ID], [Name]) VALUES (@p1, @p2)")

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(q)
	prep.ExpectExec().WithArgs(int64(1), "Ann").WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs(int64(2), nil).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := repo.InsertRows(context.Background(), "dbo", "Sales", []string{"ID", "Name"}, [][]any{
		{int64(1), "Ann"},
		{int64(2), nil},
	})
	if err != nil {
		t.Fatalf("InsertRows: %v", err)
	}
	if n != 2 {
		t.Fatalf("rows got=%d want=2", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertRows_PreparedRollsBackOnRowError(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	dbErr := errors.New("Cannot insert the value NULL into column 'Name'")

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO [dbo].[Sales]"))
	prep.ExpectExec().WithArgs(int64(1), "Ann").WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs(int64(2), nil).WillReturnError(dbErr)
	mock.ExpectRollback()

	_, err := repo.InsertRows(context.Background(), "dbo", "Sales", []string{"ID", "Name"}, [][]any{
		{int64(1), "Ann"},
		{int64(2), nil},
		{int64(3), "Cid"},
	})
	if !errors.Is(err, dbErr) {
		t.Fatalf("expected driver error wrapped, got %v", err)
	}
	if !strings.Contains(err.Error(), "row 2") || !strings.Contains(err.Error(), dbErr.Error()) {
		t.Fatalf("expected row number and verbatim message, got %q", err.Error())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

// Both strategies must send cells as parameters of a plain INSERT so the
// server converts them; numbers bound for text columns and blank cells
// included.
func TestStrategies_PrepareParameterizedInsert(t *testing.T) {
	tests := []struct {
		driver    string
		open      func(context.Context, storage.Config) (storage.Repository, error)
		dsnPrefix string
	}{
		{driver: "mssql-odbc", open: NewODBC, dsnPrefix: "odbc:"},
		{driver: "mssql-tds", open: NewTDS, dsnPrefix: "sqlserver://"},
	}
	for _, tc := range tests {
		t.Run(tc.driver, func(t *testing.T) {
			db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
			if err != nil {
				t.Fatalf("sqlmock.New: %v", err)
			}
			var gotDSN string
			prev := openDB
			openDB = func(dsn string) (*sql.DB, error) {
				gotDSN = dsn
				return db, nil
			}
			t.Cleanup(func() { openDB = prev })

			mock.ExpectPing()
			mock.ExpectBegin()
			prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO [dbo].[Sales] ([Zip], [Amount], [Note]) VALUES (@p1, @p2, @p3)"))
			prep.ExpectExec().WithArgs(int64(90210), 12.5, nil).WillReturnResult(sqlmock.NewResult(0, 1))
			prep.ExpectExec().WithArgs("02134", "7", true).WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()
			mock.ExpectClose()

			repo, err := tc.open(context.Background(), storage.Config{Driver: tc.driver, Server: "db01", Database: "sales", Username: "u", Password: "p"})
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			if !strings.HasPrefix(gotDSN, tc.dsnPrefix) {
				t.Fatalf("dsn=%q want prefix %q", gotDSN, tc.dsnPrefix)
			}

			n, err := repo.InsertRows(context.Background(), "dbo", "Sales", []string{"Zip", "Amount", "Note"}, [][]any{
				{int64(90210), 12.5, nil},
				{"02134", "7", true},
			})
			if err != nil || n != 2 {
				t.Fatalf("InsertRows n=%d err=%v", n, err)
			}
			if err := repo.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("expectations: %v", err)
			}
		})
	}
}

func TestInsertRows_ZeroRowsIsNoop(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	n, err := repo.InsertRows(context.Background(), "dbo", "Sales", []string{"ID"}, nil)
	if err != nil || n != 0 {
		t.Fatalf("got n=%d err=%v want 0,nil", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expected no statements, got %v", err)
	}
}

func TestInsertRows_RejectsRaggedRows(t *testing.T) {
	t.Parallel()

	repo, _ := newMockRepo(t)
	_, err := repo.InsertRows(context.Background(), "dbo", "Sales", []string{"ID", "Name"}, [][]any{{int64(1)}})
	if err == nil {
		t.Fatalf("expected error for short row")
	}
}

func TestColumns_OrdinalOrderAndNotFound(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)

	mock.ExpectQuery("FROM INFORMATION_SCHEMA.COLUMNS").
		WithArgs("dbo", "Sales").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}).AddRow("ID").AddRow("Name").AddRow("Amount"))
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.COLUMNS").
		WithArgs("dbo", "Nope").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}))

	cols, err := repo.Columns(context.Background(), "dbo", "Sales")
	if err != nil {
		t.Fatalf("Columns: %v", err)
	}
	if strings.Join(cols, ",") != "ID,Name,Amount" {
		t.Fatalf("columns got=%v", cols)
	}

	_, err = repo.Columns(context.Background(), "dbo", "Nope")
	if !errors.Is(err, storage.ErrTableNotFound) {
		t.Fatalf("expected ErrTableNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSchemaAndTableNames(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.SCHEMATA").
		WillReturnRows(sqlmock.NewRows([]string{"SCHEMA_NAME"}).AddRow("dbo").AddRow("staging"))
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.TABLES").
		WithArgs("staging").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME"}).AddRow("Imports"))

	schemas, err := repo.SchemaNames(context.Background())
	if err != nil || strings.Join(schemas, ",") != "dbo,staging" {
		t.Fatalf("schemas got=%v err=%v", schemas, err)
	}
	tables, err := repo.TableNames(context.Background(), "staging")
	if err != nil || strings.Join(tables, ",") != "Imports" {
		t.Fatalf("tables got=%v err=%v", tables, err)
	}
}

func TestPing_RunsSelectOne(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("SELECT 1")).WillReturnResult(sqlmock.NewResult(0, 0))
	if err := repo.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	mock.ExpectExec(regexp.QuoteMeta("SELECT 1")).WillReturnError(errors.New("i/o timeout"))
	if err := repo.Ping(context.Background()); err == nil {
		t.Fatalf("expected probe failure")
	}
}
