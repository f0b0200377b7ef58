package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Config holds the credentials needed to reach a destination database.
//
// When to use:
//   - Build a Config from user input (form, job file) and pass it to Open.
//
// Edge cases:
//   - Port 0 means "backend default" (1433 for SQL Server over TCP, 5432 for
//     PostgreSQL). SQLite ignores Port, Username and Password.
//   - Params are appended to the backend DSN as driver options
//     (for example {"encrypt": "disable"} for SQL Server).
type Config struct {
	Driver   string
	Server   string
	Port     int
	Database string
	Username string
	Password string
	Params   map[string]string
}

// String renders the config for logs with the password masked.
func (c Config) String() string {
	pw := ""
	if c.Password != "" {
		pw = "****"
	}
	host := c.Server
	if c.Port > 0 {
		host += ":" + strconv.Itoa(c.Port)
	}
	return fmt.Sprintf("driver=%s server=%s database=%s user=%s password=%s", c.Driver, host, c.Database, c.Username, pw)
}

// Trimmed returns c with surrounding whitespace removed from the driver,
// server, database and username. Passwords are kept as typed.
func (c Config) Trimmed() Config {
	c.Driver = strings.TrimSpace(c.Driver)
	c.Server = strings.TrimSpace(c.Server)
	c.Database = strings.TrimSpace(c.Database)
	c.Username = strings.TrimSpace(c.Username)
	return c
}

// SortedParams returns Params keys in sorted order so DSNs are deterministic.
func (c Config) SortedParams() []string {
	keys := make([]string, 0, len(c.Params))
	for k := range c.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Repository is the backend-agnostic surface of a destination database.
//
// Each backend implements it in its own idiom (parameterized inserts on SQL Server,
// pgx batches on PostgreSQL, prepared statements on SQLite). A Repository
// is owned by one session and is not shared between sessions.
type Repository interface {
	// Exec runs a statement that returns no rows.
	Exec(ctx context.Context, query string, args ...any) error

	// Ping runs the liveness probe ("SELECT 1").
	Ping(ctx context.Context) error

	// SchemaNames lists user-visible schemas, sorted.
	SchemaNames(ctx context.Context) ([]string, error)

	// TableNames lists base tables in schema, sorted.
	TableNames(ctx context.Context, schema string) ([]string, error)

	// Columns returns the column names of schema.table in ordinal order.
	//
	// Errors:
	//   - wraps ErrTableNotFound when the table has no columns or does not exist.
	Columns(ctx context.Context, schema, table string) ([]string, error)

	// InsertRows inserts rows into schema.table inside a single transaction.
	//
	// Semantics:
	//   - One insert statement is built for the column list and executed for
	//     every row.
	//   - Either every row is committed or none is: any row error rolls back
	//     the whole transaction and is returned with the driver's message intact.
	//   - Zero rows is a successful no-op returning 0.
	//   - nil values are written as NULL.
	InsertRows(ctx context.Context, schema, table string, columns []string, rows [][]any) (int64, error)

	// Close releases the connection pool. Call once.
	Close() error
}

// Factory constructs a Repository for cfg. Factories open the connection but
// do not need to probe it; Open runs the liveness probe.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under driver (e.g. "mssql-odbc", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If driver is empty, f is nil, or driver is already registered. Duplicate
//     registration is a wiring bug and fails fast.
func Register(driver string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if driver == "" {
		panic("storage: Register called with empty driver")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[driver]; exists {
		panic(fmt.Sprintf("storage: factory already registered for driver=%q", driver))
	}
	factories[driver] = f
}

// Drivers lists registered driver names, sorted.
func Drivers() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open connects to the database described by cfg and runs the liveness probe.
//
// Errors:
//   - Every failure (unknown driver, bad credentials, unreachable host, failed
//     probe) is returned as *ConnectionError. Nothing is loaded when Open fails.
//
// Concurrency:
//   - Safe for concurrent use with Register.
func Open(ctx context.Context, cfg Config) (Repository, error) {
	cfg = cfg.Trimmed()
	mu.RLock()
	f := factories[cfg.Driver]
	mu.RUnlock()

	if f == nil {
		return nil, &ConnectionError{Driver: cfg.Driver, Server: cfg.Server, Err: fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)}
	}

	repo, err := f(ctx, cfg)
	if err != nil {
		return nil, &ConnectionError{Driver: cfg.Driver, Server: cfg.Server, Err: err}
	}
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, &ConnectionError{Driver: cfg.Driver, Server: cfg.Server, Err: err}
	}
	return repo, nil
}
