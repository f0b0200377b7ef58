package sheet

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/shakinm/xlsReader/xls"
	"github.com/shakinm/xlsReader/xls/structure"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

// oleSignature starts every OLE2 compound file, which is the container of
// BIFF8 (.xls) workbooks.
var oleSignature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

func isLegacyXLS(data []byte) bool {
	return bytes.HasPrefix(data, oleSignature)
}

// openXLS opens a BIFF8 workbook. The decoder panics on some truncated
// compound files; that is reported as an error.
func openXLS(data []byte) (wb xls.Workbook, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed xls file: %v", r)
		}
	}()
	wb, err = xls.OpenReader(bytes.NewReader(data))
	if err != nil {
		return wb, err
	}
	if wb.GetNumberSheets() == 0 {
		return wb, errors.New("workbook has no sheets")
	}
	return wb, nil
}

func xlsSheetNames(data []byte) ([]string, error) {
	wb, err := openXLS(data)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, wb.GetNumberSheets())
	for i := 0; i < wb.GetNumberSheets(); i++ {
		s, err := wb.GetSheet(i)
		if err != nil {
			return nil, fmt.Errorf("sheet %d: %w", i, err)
		}
		names = append(names, toUTF8(s.GetName()))
	}
	return names, nil
}

func readXLS(data []byte, name string) (t *Table, err error) {
	defer func() {
		if r := recover(); r != nil {
			t, err = nil, &ParseError{Sheet: name, Err: fmt.Errorf("malformed xls file: %v", r)}
		}
	}()
	wb, err := openXLS(data)
	if err != nil {
		return nil, &ParseError{Sheet: name, Err: fmt.Errorf("open xls workbook: %w", err)}
	}
	if name == "" {
		return nil, &ParseError{Err: ErrNoSheetSelected}
	}

	for i := 0; i < wb.GetNumberSheets(); i++ {
		s, err := wb.GetSheet(i)
		if err != nil {
			return nil, &ParseError{Sheet: name, Err: fmt.Errorf("sheet %d: %w", i, err)}
		}
		if toUTF8(s.GetName()) != name {
			continue
		}
		return readXLSSheet(&wb, s), nil
	}
	return nil, &ParseError{Sheet: name, Err: ErrSheetNotFound}
}

func readXLSSheet(wb *xls.Workbook, s *xls.Sheet) *Table {
	var header []string
	var data [][]any
	haveHeader := false

	// GetNumberRows is the index of the last row.
	for r := 0; r <= s.GetNumberRows(); r++ {
		row, err := s.GetRow(r)
		if err != nil {
			continue
		}
		cols := row.GetCols()
		values := make([]any, len(cols))
		blank := true
		for c, cell := range cols {
			values[c] = xlsValue(wb, cell)
			switch v := values[c].(type) {
			case nil:
			case string:
				if strings.TrimSpace(v) != "" {
					blank = false
				}
			default:
				blank = false
			}
		}
		if blank {
			continue
		}

		if !haveHeader {
			for _, v := range values {
				if v == nil {
					header = append(header, "")
					continue
				}
				header = append(header, fmt.Sprint(v))
			}
			haveHeader = true
			continue
		}
		data = append(data, values)
	}
	return buildTable(header, data)
}

// xlsValue types a BIFF cell the way the xlsx reader does: integral numbers
// become int64, numbers with a built-in date format become time.Time.
func xlsValue(wb *xls.Workbook, cell structure.CellData) any {
	switch cell.GetType() {
	case "*record.Number", "*record.Rk":
		num := cell.GetFloat64()
		xf := wb.GetXFbyIndex(cell.GetXFIndex())
		if isDateFormat(int(xf.GetFormatIndex()), nil) {
			if ts, err := excelize.ExcelDateToTime(num, false); err == nil {
				return ts
			}
		}
		if num == math.Trunc(num) && math.Abs(num) < 1<<53 {
			return int64(num)
		}
		return num
	case "*record.BoolErr":
		switch strings.ToUpper(cell.GetString()) {
		case "1", "TRUE":
			return true
		case "0", "FALSE":
			return false
		}
	}
	s := toUTF8(cell.GetString())
	if s == "" {
		return nil
	}
	return s
}

// toUTF8 decodes strings stored in the workbook's ANSI code page.
func toUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	decoded, err := charmap.Windows1252.NewDecoder().String(s)
	if err != nil {
		return strings.ToValidUTF8(s, "�")
	}
	return decoded
}
