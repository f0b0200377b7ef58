package reconcile

import "sheetload/internal/sheet"

// Project reshapes t into the destination layout.
//
// Output columns are the names in order that some source column maps to, in
// the order given. Source columns absent from mapping are dropped. When two
// source columns map to the same destination column the first one in source
// order wins.
//
// Row count and row order are preserved. Empty cells (nil or "") come out as
// nil so the loader writes NULL. Short rows are padded with nil.
func Project(t *sheet.Table, mapping Mapping, order []string) *sheet.Table {
	srcIndex := make(map[string]int, len(mapping))
	for i, name := range t.Columns {
		dest, ok := mapping[name]
		if !ok {
			continue
		}
		if _, taken := srcIndex[dest]; taken {
			continue
		}
		srcIndex[dest] = i
	}

	out := &sheet.Table{}
	picks := make([]int, 0, len(order))
	for _, dest := range order {
		i, ok := srcIndex[dest]
		if !ok {
			continue
		}
		out.Columns = append(out.Columns, dest)
		picks = append(picks, i)
	}

	out.Rows = make([][]any, len(t.Rows))
	for r, row := range t.Rows {
		projected := make([]any, len(picks))
		for c, i := range picks {
			if i < len(row) {
				projected[c] = nullable(row[i])
			}
		}
		out.Rows[r] = projected
	}
	return out
}

func nullable(v any) any {
	if s, ok := v.(string); ok && s == "" {
		return nil
	}
	return v
}
