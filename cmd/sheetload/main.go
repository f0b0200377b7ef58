// Command sheetload loads the workbooks listed in a JSON job file into one
// destination table.
//
//	sheetload -config job.json [-validate] [-v] [-metrics-backend none|datadog]
//
// Exit codes: 0 when every file loaded, 1 on a fatal error or any failed
// file, 2 on usage errors.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sheetload/internal/config"
	"sheetload/internal/metrics"
	"sheetload/internal/metrics/datadog"
	"sheetload/internal/pipeline"
	"sheetload/internal/sheet"
	"sheetload/internal/storage"

	// register every backend; the job picks one by driver name.
	_ "sheetload/internal/storage/all"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Printf("config: loaded .env")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, appDeps{
		readFile:    os.ReadFile,
		openRepo:    storage.Open,
		initMetrics: initMetrics,
	}))
}

// appDeps are the side-effecting seams of runMain.
type appDeps struct {
	readFile    func(path string) ([]byte, error)
	openRepo    func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	initMetrics func(ctx context.Context, jobName, backendName string, tags []string) (func(), error)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("sheetload", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "job config JSON path")
	validate := fs.Bool("validate", false, "validate the configuration and exit")
	verbose := fs.Bool("v", false, "enable verbose logs")
	metricsBackend := fs.String("metrics-backend", "", "metrics backend (none, datadog); overrides the job file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*cfgPath) == "" {
		fmt.Fprintln(stderr, "usage: sheetload -config path/to/job.json [-validate] [-v] [-metrics-backend none|datadog]")
		return 2
	}

	raw, err := deps.readFile(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "read config: %v\n", err)
		return 1
	}
	job, err := config.Decode(bytes.NewReader(raw))
	if err != nil {
		fmt.Fprintf(stderr, "parse config: %v\n", err)
		return 1
	}

	issues := config.ValidateJob(job)
	for _, iss := range issues {
		fmt.Fprintln(stderr, iss)
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(stderr, "configuration is invalid: %s\n", *cfgPath)
		return 1
	}
	if *validate {
		fmt.Fprintf(stdout, "configuration is valid: %s\n", *cfgPath)
		return 0
	}

	var logger pipeline.Logger
	if *verbose {
		logger = log.New(stderr, "", log.LstdFlags)
	}

	// Read every workbook before connecting so a typo fails fast.
	session, err := buildSession(job.Files, deps.readFile)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	backendName := *metricsBackend
	if backendName == "" {
		backendName = job.Metrics.Backend
	}
	cleanup, err := deps.initMetrics(ctx, job.Job, backendName, datadog.ParseTagsCSV(job.Metrics.Tags))
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	start := time.Now()
	cfg := job.Connection.StorageConfig()
	repo, err := deps.openRepo(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "connect: %v\n", err)
		return 1
	}
	defer func() { _ = repo.Close() }()
	if logger != nil {
		logger.Printf("stage=connect %s", cfg)
	}

	dest, err := pipeline.ResolveDestination(ctx, repo, job.Destination.Schema, job.Destination.Table)
	if err != nil {
		fmt.Fprintf(stderr, "destination: %v\n", err)
		return 1
	}

	loader := pipeline.NewLoader(repo, logger)
	sum := loader.Run(ctx, session, dest, job.Options.PipelineOptions(), &textReporter{w: stdout})

	if logger != nil {
		logger.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
	if !sum.OK() {
		return 1
	}
	return 0
}

// buildSession reads every workbook and picks the first sheet where the job
// names none. A workbook whose sheets cannot be listed is still added; the
// run reports it as a parse failure.
func buildSession(files []config.FileSpec, readFile func(string) ([]byte, error)) (*pipeline.Session, error) {
	s := pipeline.NewSession()
	for _, spec := range files {
		data, err := readFile(spec.Path)
		if err != nil {
			return nil, fmt.Errorf("read workbook: %w", err)
		}
		f, added := s.Add(spec.Path, data)
		if !added {
			continue
		}
		f.Sheet = spec.Sheet
		if f.Sheet == "" {
			if names, err := sheet.SheetNames(data); err == nil && len(names) > 0 {
				f.Sheet = names[0]
			}
		}
	}
	return s, nil
}

// textReporter prints one line per file and a summary.
type textReporter struct {
	w io.Writer
}

func (r *textReporter) FileDone(index, total int, res pipeline.FileResult) {
	tag := "OK  "
	switch res.Status {
	case pipeline.StatusFailed:
		tag = "FAIL"
	case pipeline.StatusSkipped:
		tag = "SKIP"
	}
	fmt.Fprintf(r.w, "[%d/%d] %s %s (%s): %s\n", index, total, tag, res.Name, sheetLabel(res.Sheet), res.Message)
}

func (r *textReporter) Finished(s pipeline.Summary) {
	line := fmt.Sprintf("done: %d succeeded, %d failed, %d skipped, %d rows", s.Succeeded, s.Failed, s.Skipped, s.Rows)
	if s.Cancelled {
		line += " (cancelled)"
	}
	fmt.Fprintln(r.w, line)
}

func sheetLabel(s string) string {
	if s == "" {
		return "no sheet"
	}
	return s
}

// metricsBackend is what initMetrics needs from a constructed backend.
type metricsBackend interface {
	metrics.Backend
	Close() error
}

// Seams for initMetrics tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		b, err := datadog.NewBackend(ctx, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	setMetricsBackend = metrics.SetBackend
	logPrintf         = log.Printf
)

// initMetrics installs the named backend and returns its cleanup. cleanup is
// never nil. Unknown names disable metrics rather than failing the run.
func initMetrics(ctx context.Context, jobName, backendName string, tags []string) (func(), error) {
	if jobName == "" {
		jobName = "sheetload"
	}
	switch strings.ToLower(backendName) {
	case "", "none", "noop":
		return func() {}, nil
	case "datadog", "dd":
		b, err := newDatadogBackend(ctx, datadog.Options{JobName: jobName, Tags: tags, FlushEvery: 60 * time.Second})
		if err != nil {
			return func() {}, fmt.Errorf("datadog: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
			setMetricsBackend(nil)
		}, nil
	default:
		logPrintf("metrics: unknown backend %q; metrics disabled", backendName)
		return func() {}, nil
	}
}
