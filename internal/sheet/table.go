// Package sheet reads one sheet of a workbook (xlsx family or legacy .xls)
// into a Table.
package sheet

// Table is a parsed sheet: a header row plus data rows.
//
// Cells hold string, int64, float64, bool or time.Time values; nil marks an
// empty cell. Every row has exactly len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}
