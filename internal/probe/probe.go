// Package probe inspects a workbook before it is loaded.
//
// It samples one sheet, reports each column's header, normalized key,
// coarse type and uniqueness, and, given destination columns, the verdict
// the pipeline would reach. It can also emit a starter job file for
// cmd/sheetload.
package probe

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"sheetload/internal/config"
	"sheetload/internal/reconcile"
	"sheetload/internal/sheet"
)

// Options controls a probe run.
type Options struct {
	// Sheet to inspect; empty selects the first sheet.
	Sheet string

	// SampleRows bounds type inference and uniqueness counting.
	// If <= 0, defaults to 1000. Rows counts every data row regardless.
	SampleRows int

	// Destination, when set, is matched against the sheet header.
	Destination []string

	// AllowExtraColumns is used for the verdict when Destination is set.
	AllowExtraColumns bool
}

// Column describes one sheet column.
type Column struct {
	Header   string
	Key      reconcile.ColumnKey
	Type     string // integer | float | boolean | date | text | empty
	NonEmpty int
	Distinct int
	// Capped is true when Distinct stopped counting at maxDistinct.
	Capped bool
	// Extra is true when a destination was given and has no column for Key.
	Extra bool
}

// Report is the probe result for one sheet.
type Report struct {
	Sheets  []string
	Sheet   string
	Rows    int
	Sampled int
	Columns []Column

	// Match and Outcome are set when Options.Destination is non-empty.
	Match   *reconcile.MatchResult
	Outcome *reconcile.Outcome
}

const maxDistinct = 10000

// Workbook probes data.
//
// Errors:
//   - *sheet.ParseError when the workbook or sheet cannot be read.
//   - *reconcile.KeyCollisionError when Destination has clashing keys.
func Workbook(data []byte, opt Options) (Report, error) {
	sheets, err := sheet.SheetNames(data)
	if err != nil {
		return Report{}, err
	}
	name := opt.Sheet
	if name == "" && len(sheets) > 0 {
		name = sheets[0]
	}
	t, err := sheet.Read(data, name)
	if err != nil {
		return Report{}, err
	}

	limit := opt.SampleRows
	if limit <= 0 {
		limit = 1000
	}
	sample := t.Rows
	if len(sample) > limit {
		sample = sample[:limit]
	}

	rep := Report{Sheets: sheets, Sheet: name, Rows: t.Len(), Sampled: len(sample)}
	for i, h := range t.Columns {
		rep.Columns = append(rep.Columns, describeColumn(h, i, sample))
	}

	if len(opt.Destination) > 0 {
		m, err := reconcile.Match(opt.Destination, t.Columns)
		if err != nil {
			return Report{}, err
		}
		o := reconcile.Validate(m.Missing, m.Extra, opt.AllowExtraColumns)
		rep.Match = &m
		rep.Outcome = &o
		for i := range rep.Columns {
			rep.Columns[i].Extra = m.Extra.Contains(rep.Columns[i].Key)
		}
	}
	return rep, nil
}

func describeColumn(header string, col int, rows [][]any) Column {
	c := Column{Header: header, Key: reconcile.Normalize(header)}
	values := make([]any, 0, len(rows))
	seen := map[string]struct{}{}
	for _, r := range rows {
		v := r[col]
		if v == nil || v == "" {
			continue
		}
		values = append(values, v)
		if len(seen) < maxDistinct {
			seen[fmt.Sprint(v)] = struct{}{}
		} else if _, ok := seen[fmt.Sprint(v)]; !ok {
			c.Capped = true
		}
	}
	c.NonEmpty = len(values)
	c.Distinct = len(seen)
	c.Type = inferType(values)
	return c
}

// inferType picks the narrowest label that fits every value. Integers mixed
// with floats are float; anything else mixed is text.
func inferType(values []any) string {
	if len(values) == 0 {
		return "empty"
	}
	kinds := map[string]bool{}
	for _, v := range values {
		switch v.(type) {
		case int64:
			kinds["integer"] = true
		case float64:
			kinds["float"] = true
		case bool:
			kinds["boolean"] = true
		case time.Time:
			kinds["date"] = true
		default:
			kinds["text"] = true
		}
	}
	switch {
	case len(kinds) == 1:
		for k := range kinds {
			return k
		}
	case len(kinds) == 2 && kinds["integer"] && kinds["float"]:
		return "float"
	}
	return "text"
}

// Format renders the report as tab-separated text.
func (r Report) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sheets:\t%s\n", strings.Join(r.Sheets, ", "))
	fmt.Fprintf(&b, "sheet:\t%s\trows=%d\tsampled=%d\n", r.Sheet, r.Rows, r.Sampled)
	fmt.Fprintf(&b, "%-20s\t%-20s\t%-8s\t%s\t%s\n", "header", "key", "type", "non_empty", "unique")
	for _, c := range r.Columns {
		uniq := fmt.Sprintf("%d", c.Distinct)
		if c.Capped {
			uniq += "+"
		}
		if c.Extra {
			uniq += "\textra"
		}
		fmt.Fprintf(&b, "%-20s\t%-20s\t%-8s\t%d\t%s\n", c.Header, c.Key, c.Type, c.NonEmpty, uniq)
	}
	if r.Match != nil {
		mapped := make([]string, 0, len(r.Match.Mapping))
		for src, dst := range r.Match.Mapping {
			mapped = append(mapped, src+" -> "+dst)
		}
		sort.Strings(mapped)
		fmt.Fprintf(&b, "mapped:\t%s\n", strings.Join(mapped, ", "))
		fmt.Fprintf(&b, "missing:\t%s\n", r.Match.Missing)
		fmt.Fprintf(&b, "extra:\t%s\n", r.Match.Extra)
		fmt.Fprintf(&b, "verdict:\t%s\n", r.Outcome)
	}
	return strings.TrimRight(b.String(), "\n")
}

// StarterJob builds a job file that loads path into a table named after the
// sheet. Credentials are left as environment references.
func StarterJob(jobName, path, driver string, r Report) config.Job {
	if jobName == "" {
		jobName = string(reconcile.Normalize(r.Sheet))
	}
	return config.Job{
		Job: jobName,
		Connection: config.Connection{
			Driver:   driver,
			Server:   "${SHEETLOAD_SERVER}",
			Database: "${SHEETLOAD_DATABASE}",
			Username: "${SHEETLOAD_USER}",
			Password: "${SHEETLOAD_PASSWORD}",
		},
		Destination: config.Destination{
			Schema: defaultSchema(driver),
			Table:  strings.ReplaceAll(string(reconcile.Normalize(r.Sheet)), ".", "_"),
		},
		Files:   []config.FileSpec{{Path: path, Sheet: r.Sheet}},
		Metrics: config.Metrics{Backend: "none"},
	}
}

// defaultSchema is the usual default schema per backend.
func defaultSchema(driver string) string {
	switch {
	case strings.HasPrefix(driver, "mssql"):
		return "dbo"
	case driver == "postgres":
		return "public"
	default:
		return "main"
	}
}
