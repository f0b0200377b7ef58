package pipeline

import (
	"fmt"

	"sheetload/internal/reconcile"
)

// SchemaMismatchError rejects a file whose header does not fit the
// destination. The file is skipped; nothing is written.
type SchemaMismatchError struct {
	Outcome reconcile.Outcome
}

func (e *SchemaMismatchError) Error() string { return e.Outcome.String() }

// LoadError reports a failed insert. The file's transaction was rolled back,
// so none of its rows are in the destination. Err carries the store's
// diagnostic unchanged.
type LoadError struct {
	Table string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load into %s failed: %v", e.Table, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
