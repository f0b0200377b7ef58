package sheet

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// cellReader converts raw cell text into typed values. Date detection needs
// the cell's number format, which is cached per style id.
type cellReader struct {
	f        *excelize.File
	sheet    string
	date1904 bool
	isDate   map[int]bool
}

func newCellReader(f *excelize.File, sheet string) (*cellReader, error) {
	cr := &cellReader{f: f, sheet: sheet, isDate: map[int]bool{}}
	props, err := f.GetWorkbookProps()
	if err != nil {
		return nil, fmt.Errorf("workbook props: %w", err)
	}
	if props.Date1904 != nil {
		cr.date1904 = *props.Date1904
	}
	return cr, nil
}

func (cr *cellReader) value(col, row int, raw string) (any, error) {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return nil, err
	}
	typ, err := cr.f.GetCellType(cr.sheet, cell)
	if err != nil {
		return nil, fmt.Errorf("cell %s: %w", cell, err)
	}

	switch typ {
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeFormula, excelize.CellTypeError:
		return raw, nil
	case excelize.CellTypeBool:
		switch strings.ToUpper(raw) {
		case "1", "TRUE":
			return true, nil
		case "0", "FALSE":
			return false, nil
		}
		return raw, nil
	case excelize.CellTypeDate:
		if ts, ok := parseISOTime(raw); ok {
			return ts, nil
		}
		return raw, nil
	}

	// Unset or number: numeric storage, possibly date formatted.
	num, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw, nil
	}
	dated, err := cr.dateFormatted(cell)
	if err != nil {
		return nil, err
	}
	if dated {
		ts, err := excelize.ExcelDateToTime(num, cr.date1904)
		if err == nil {
			return ts, nil
		}
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i, nil
	}
	if num == float64(int64(num)) && !strings.ContainsAny(raw, "eE") {
		return int64(num), nil
	}
	return num, nil
}

func (cr *cellReader) dateFormatted(cell string) (bool, error) {
	styleID, err := cr.f.GetCellStyle(cr.sheet, cell)
	if err != nil {
		return false, fmt.Errorf("cell %s style: %w", cell, err)
	}
	if d, ok := cr.isDate[styleID]; ok {
		return d, nil
	}
	d := false
	if styleID > 0 {
		style, err := cr.f.GetStyle(styleID)
		if err != nil {
			return false, fmt.Errorf("style %d: %w", styleID, err)
		}
		d = isDateFormat(style.NumFmt, style.CustomNumFmt)
	}
	cr.isDate[styleID] = d
	return d, nil
}

// isDateFormat reports whether a number format renders dates or times.
// Built-in ids follow ECMA-376 18.8.30 plus the common CJK date ids.
func isDateFormat(id int, custom *string) bool {
	if custom != nil && *custom != "" {
		return customIsDate(*custom)
	}
	switch {
	case id >= 14 && id <= 22:
		return true
	case id >= 27 && id <= 36:
		return true
	case id >= 45 && id <= 47:
		return true
	case id >= 50 && id <= 58:
		return true
	}
	return false
}

func customIsDate(format string) bool {
	var b strings.Builder
	inQuote, inBracket := false, false
	for _, r := range strings.ToLower(format) {
		switch {
		case r == '"':
			inQuote = !inQuote
		case inQuote:
		case r == '[':
			inBracket = true
		case r == ']':
			inBracket = false
		case inBracket:
		default:
			b.WriteRune(r)
		}
	}
	s := b.String()
	return strings.ContainsAny(s, "yd") || strings.Contains(s, "h:") || strings.Contains(s, "mm:ss") || strings.Contains(s, "m/")
}

func parseISOTime(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
