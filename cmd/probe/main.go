// Command probe inspects a workbook without loading it.
//
// It prints each column's header, normalized key, inferred type and
// uniqueness for one sheet. With -dest-columns it also prints the mapping
// and the verdict a load would reach. With -emit-job it prints a starter
// job file for cmd/sheetload instead.
//
//	probe -file sales.xlsx [-sheet Data] [-rows 1000]
//	      [-dest-columns ID,Name,Amount] [-disallow-extra]
//	      [-emit-job -driver mssql-tds -job monthly]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"sheetload/internal/probe"
)

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr, os.ReadFile))
}

func runMain(_ context.Context, args []string, stdout, stderr io.Writer, readFile func(string) ([]byte, error)) int {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		file          = fs.String("file", "", "workbook path (.xlsx, .xlsm, .xltx, .xltm, .xls)")
		sheetName     = fs.String("sheet", "", "sheet to inspect; defaults to the first sheet")
		rows          = fs.Int("rows", 1000, "rows sampled for type and uniqueness inference")
		destColumns   = fs.String("dest-columns", "", "comma-separated destination columns to match against")
		disallowExtra = fs.Bool("disallow-extra", false, "treat extra source columns as a rejection")
		emitJob       = fs.Bool("emit-job", false, "print a starter job JSON instead of the report")
		driver        = fs.String("driver", "mssql-tds", "driver for -emit-job")
		jobName       = fs.String("job", "", "job name for -emit-job; defaults to the sheet name")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*file) == "" {
		fmt.Fprintln(stderr, "usage: probe -file path/to/workbook.xlsx [-sheet name] [-dest-columns a,b,c] [-emit-job]")
		return 2
	}

	data, err := readFile(*file)
	if err != nil {
		fmt.Fprintf(stderr, "read workbook: %v\n", err)
		return 1
	}

	rep, err := probe.Workbook(data, probe.Options{
		Sheet:             *sheetName,
		SampleRows:        *rows,
		Destination:       splitCSV(*destColumns),
		AllowExtraColumns: !*disallowExtra,
	})
	if err != nil {
		fmt.Fprintf(stderr, "probe: %v\n", err)
		return 1
	}

	if *emitJob {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(probe.StarterJob(*jobName, *file, *driver, rep)); err != nil {
			fmt.Fprintf(stderr, "encode job: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Fprintln(stdout, rep.Format())
	if rep.Outcome != nil && !rep.Outcome.Accepted() {
		return 1
	}
	return 0
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
