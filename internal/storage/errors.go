package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownDriver means no backend is registered under the requested driver.
	ErrUnknownDriver = errors.New("unknown driver")
	// ErrTableNotFound means introspection found no columns for the table.
	ErrTableNotFound = errors.New("table not found")
)

// ConnectionError is returned by Open when the destination cannot be reached
// or the liveness probe fails. It is fatal for a session.
type ConnectionError struct {
	Driver string
	Server string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("storage: connect %s %s: %v", e.Driver, e.Server, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
