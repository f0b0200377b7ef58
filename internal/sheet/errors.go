package sheet

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSheetSelected is returned when Read is called without a sheet name.
	ErrNoSheetSelected = errors.New("no sheet selected")
	// ErrSheetNotFound is returned when the workbook has no sheet with the requested name.
	ErrSheetNotFound = errors.New("sheet not found")
)

// ParseError reports a workbook that could not be opened or a sheet that
// could not be read. Sheet is empty when the workbook itself is unreadable.
type ParseError struct {
	Sheet string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Sheet == "" {
		return fmt.Sprintf("sheet: %v", e.Err)
	}
	return fmt.Sprintf("sheet %q: %v", e.Sheet, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
