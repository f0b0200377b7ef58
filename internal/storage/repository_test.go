package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeRepo struct {
	pingErr    error
	closeCalls int
}

func (f *fakeRepo) Exec(ctx context.Context, query string, args ...any) error { return nil }
func (f *fakeRepo) Ping(ctx context.Context) error                            { return f.pingErr }
func (f *fakeRepo) SchemaNames(ctx context.Context) ([]string, error)          { return nil, nil }
func (f *fakeRepo) TableNames(ctx context.Context, schema string) ([]string, error) {
	return nil, nil
}
func (f *fakeRepo) Columns(ctx context.Context, schema, table string) ([]string, error) {
	return nil, nil
}
func (f *fakeRepo) InsertRows(ctx context.Context, schema, table string, columns []string, rows [][]any) (int64, error) {
	return int64(len(rows)), nil
}
func (f *fakeRepo) Close() error { f.closeCalls++; return nil }

func TestOpen_UsesRegisteredFactory(t *testing.T) {
	repo := &fakeRepo{}
	var gotCfg Config
	Register("test-open-ok", func(ctx context.Context, cfg Config) (Repository, error) {
		gotCfg = cfg
		return repo, nil
	})

	cfg := Config{Driver: "test-open-ok", Server: "db1", Database: "sales"}
	got, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got != repo {
		t.Fatalf("Open returned a different repository")
	}
	if gotCfg.Server != "db1" || gotCfg.Database != "sales" {
		t.Fatalf("factory got cfg=%+v", gotCfg)
	}
}

func TestOpen_ProbeFailureIsConnectionErrorAndCloses(t *testing.T) {
	probeErr := errors.New("login failed for user 'sa'")
	repo := &fakeRepo{pingErr: probeErr}
	Register("test-open-probe", func(ctx context.Context, cfg Config) (Repository, error) {
		return repo, nil
	})

	_, err := Open(context.Background(), Config{Driver: "test-open-probe", Server: "db1"})
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if !errors.Is(err, probeErr) {
		t.Fatalf("expected probe error to be wrapped, got %v", err)
	}
	if repo.closeCalls != 1 {
		t.Fatalf("expected repo closed once, got %d", repo.closeCalls)
	}
}

func TestOpen_FactoryFailureIsConnectionError(t *testing.T) {
	Register("test-open-fail", func(ctx context.Context, cfg Config) (Repository, error) {
		return nil, errors.New("dial tcp: connection refused")
	})

	_, err := Open(context.Background(), Config{Driver: "test-open-fail"})
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected driver message preserved, got %q", err.Error())
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "nope"})
	if !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("expected ErrUnknownDriver, got %v", err)
	}
}

func TestRegister_PanicsOnDuplicate(t *testing.T) {
	f := func(ctx context.Context, cfg Config) (Repository, error) { return &fakeRepo{}, nil }
	Register("test-dup", f)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate Register")
		}
	}()
	Register("test-dup", f)
}

func TestDrivers_Sorted(t *testing.T) {
	f := func(ctx context.Context, cfg Config) (Repository, error) { return &fakeRepo{}, nil }
	Register("test-zz", f)
	Register("test-aa", f)

	got := Drivers()
	ia, iz := -1, -1
	for i, d := range got {
		switch d {
		case "test-aa":
			ia = i
		case "test-zz":
			iz = i
		}
	}
	if ia < 0 || iz < 0 || ia > iz {
		t.Fatalf("drivers not sorted or missing: %v", got)
	}
}

func TestConfigString_MasksPassword(t *testing.T) {
	t.Parallel()

	s := Config{Driver: "mssql-tds", Server: "h", Port: 1433, Username: "sa", Password: "hunter2"}.String()
	if strings.Contains(s, "hunter2") {
		t.Fatalf("password leaked: %s", s)
	}
	if !strings.Contains(s, "server=h:1433") {
		t.Fatalf("unexpected rendering: %s", s)
	}
}

func TestOpen_TrimsConnectionFields(t *testing.T) {
	var gotCfg Config
	Register("test-open-trim", func(ctx context.Context, cfg Config) (Repository, error) {
		gotCfg = cfg
		return &fakeRepo{}, nil
	})

	cfg := Config{Driver: " test-open-trim ", Server: " db1\n", Database: "\tsales ", Username: " etl ", Password: " secret "}
	if _, err := Open(context.Background(), cfg); err != nil {
		t.Fatalf("Open: %v", err)
	}
	want := Config{Driver: "test-open-trim", Server: "db1", Database: "sales", Username: "etl", Password: " secret "}
	if gotCfg.Driver != want.Driver || gotCfg.Server != want.Server || gotCfg.Database != want.Database ||
		gotCfg.Username != want.Username || gotCfg.Password != want.Password {
		t.Fatalf("factory got cfg=%+v want %+v", gotCfg, want)
	}
}
