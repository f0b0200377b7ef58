package sheet

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// SheetNames lists the sheets of a workbook in workbook order. Legacy .xls
// files are recognised by their OLE2 signature; everything else is opened as
// an xlsx-family workbook.
//
// Errors:
//   - *ParseError when data is not a readable workbook.
func SheetNames(data []byte) ([]string, error) {
	if isLegacyXLS(data) {
		names, err := xlsSheetNames(data)
		if err != nil {
			return nil, &ParseError{Err: fmt.Errorf("open xls workbook: %w", err)}
		}
		return names, nil
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{Err: fmt.Errorf("open workbook: %w", err)}
	}
	defer func() { _ = f.Close() }()
	return f.GetSheetList(), nil
}

// Read parses the named sheet. The first non-empty row is the header; every
// following non-empty row is a data row.
//
// Header edge cases:
//   - A blank header cell is named "Unnamed: N" (N is the zero-based column).
//   - Repeated header names get a ".1", ".2", ... suffix, so a second "ID"
//     becomes "ID.1".
//   - Data rows wider than the header extend it with "Unnamed: N" columns.
//
// Cell values:
//   - numbers become int64 when integral, float64 otherwise
//   - numbers with a date/time number format become time.Time
//   - booleans become bool
//   - text stays string; empty cells are nil
//
// In legacy .xls files only the built-in date formats are recognised; a
// custom date format reads as a number.
//
// A sheet with no rows yields a Table with no columns and no rows.
//
// Errors:
//   - *ParseError wrapping ErrNoSheetSelected, ErrSheetNotFound, or the reader error.
func Read(data []byte, sheet string) (*Table, error) {
	if isLegacyXLS(data) {
		return readXLS(data, sheet)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{Sheet: sheet, Err: fmt.Errorf("open workbook: %w", err)}
	}
	defer func() { _ = f.Close() }()

	if sheet == "" {
		return nil, &ParseError{Err: ErrNoSheetSelected}
	}
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, &ParseError{Sheet: sheet, Err: ErrSheetNotFound}
	}

	t, err := readTable(f, sheet)
	if err != nil {
		return nil, &ParseError{Sheet: sheet, Err: err}
	}
	return t, nil
}

func readTable(f *excelize.File, sheet string) (*Table, error) {
	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("open rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cr, err := newCellReader(f, sheet)
	if err != nil {
		return nil, err
	}

	var header []string
	var data [][]any
	haveHeader := false
	rowNum := 0

	for rows.Next() {
		rowNum++
		raw, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", rowNum, err)
		}
		if isBlankRow(raw) {
			continue
		}

		if !haveHeader {
			header = append(header, raw...)
			haveHeader = true
			continue
		}

		row := make([]any, len(raw))
		for i, v := range raw {
			if v == "" {
				continue
			}
			val, err := cr.value(i+1, rowNum, v)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", rowNum, err)
			}
			row[i] = val
		}
		data = append(data, row)
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return buildTable(header, data), nil
}

// buildTable names the header and pads every row to its width. Rows wider
// than the header extend it with unnamed columns.
func buildTable(header []string, rows [][]any) *Table {
	width := len(header)
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	for len(header) < width {
		header = append(header, "")
	}
	t := &Table{Columns: headerNames(header), Rows: rows}
	for i, row := range t.Rows {
		if len(row) < width {
			padded := make([]any, width)
			copy(padded, row)
			t.Rows[i] = padded
		}
	}
	return t
}

func isBlankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func headerNames(raw []string) []string {
	out := make([]string, len(raw))
	used := make(map[string]bool, len(raw))
	suffix := make(map[string]int)
	for i, name := range raw {
		if strings.TrimSpace(name) == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		candidate := name
		for used[candidate] {
			suffix[name]++
			candidate = name + "." + strconv.Itoa(suffix[name])
		}
		used[candidate] = true
		out[i] = candidate
	}
	return out
}
