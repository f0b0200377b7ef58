// Package pipeline runs uploaded workbooks through parse, match, validate,
// project and insert, one file at a time.
package pipeline

import (
	"context"
	"errors"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"sheetload/internal/metrics"
	"sheetload/internal/reconcile"
	"sheetload/internal/sheet"
	"sheetload/internal/storage"
)

// Logger is the minimal logging interface used by the loader.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Options tunes validation.
type Options struct {
	// AllowExtraColumns lets files carry columns the destination lacks.
	// Extra columns are dropped by the projector.
	AllowExtraColumns bool
}

// DefaultOptions returns the options used when the caller sets none.
func DefaultOptions() Options {
	return Options{AllowExtraColumns: true}
}

// Loader processes files against one repository.
type Loader struct {
	Repo storage.Repository

	// Logger receives one line per file; nil discards.
	Logger Logger

	// Printer formats row counts in messages; nil uses English.
	Printer *message.Printer

	// now is a test seam.
	now func() time.Time
}

// NewLoader returns a Loader bound to repo.
func NewLoader(repo storage.Repository, logger Logger) *Loader {
	return &Loader{Repo: repo, Logger: logger}
}

// LoadFile runs one file through the pipeline and reports its outcome.
//
// When to use:
//   - Run calls it for each file; callers may use it directly for a single file.
//
// Edge cases:
//   - Zero data rows is a success with 0 rows.
//   - Once the insert starts it runs to commit or rollback even if ctx is
//     cancelled; cancellation is honored between files.
//
// Errors:
//   - Never returns an error; failures are carried in FileResult.Err.
func (l *Loader) LoadFile(ctx context.Context, dest Destination, f *File, opts Options) FileResult {
	start := l.clock()
	res := FileResult{Name: f.Name, Sheet: f.Sheet}

	finish := func(status Status, reason string, err error) FileResult {
		res.Status = status
		res.Err = err
		res.Duration = l.clock().Sub(start)
		if err != nil {
			res.Message = err.Error()
		}
		l.record(dest, res, reason)
		return res
	}

	t, err := sheet.Read(f.Data, f.Sheet)
	if err != nil {
		return finish(StatusFailed, "parse", err)
	}

	m := dest.Columns.Match(t.Columns)
	res.Outcome = reconcile.Validate(m.Missing, m.Extra, opts.AllowExtraColumns)
	if !res.Outcome.Accepted() {
		return finish(StatusFailed, res.Outcome.Kind.String(), &SchemaMismatchError{Outcome: res.Outcome})
	}
	res.Ignored = m.Extra

	projected := reconcile.Project(t, m.Mapping, dest.Columns.Names())

	n, err := l.Repo.InsertRows(context.WithoutCancel(ctx), dest.Schema, dest.Table, projected.Columns, projected.Rows)
	if err != nil {
		return finish(StatusFailed, "load", &LoadError{Table: dest.QualifiedName(), Err: err})
	}
	res.Rows = n

	out := finish(StatusSucceeded, "", nil)
	out.Message = l.successMessage(dest, out)
	return out
}

// Run loads every file of s in upload order.
//
// A cancelled ctx stops the run before the next file; the file in flight
// completes and every remaining file is reported as StatusSkipped.
func (l *Loader) Run(ctx context.Context, s *Session, dest Destination, opts Options, rep Reporter) Summary {
	if rep == nil {
		rep = nopReporter{}
	}
	files := s.Files()
	total := len(files)
	sum := Summary{Results: make([]FileResult, 0, total)}

	for i, f := range files {
		var r FileResult
		if err := ctx.Err(); err != nil {
			sum.Cancelled = true
			r = FileResult{Name: f.Name, Sheet: f.Sheet, Status: StatusSkipped, Err: err, Message: "skipped: " + err.Error()}
			metrics.IncCounter(metrics.FilesTotal, 1, metrics.Labels{"status": StatusSkipped.String()})
		} else {
			r = l.LoadFile(ctx, dest, f, opts)
		}
		sum.add(r)
		rep.FileDone(i+1, total, r)
	}

	l.logf("stage=run table=%s files=%d succeeded=%d failed=%d skipped=%d rows=%d",
		dest.QualifiedName(), total, sum.Succeeded, sum.Failed, sum.Skipped, sum.Rows)
	if err := metrics.Flush(); err != nil {
		l.logf("stage=run metrics flush failed err=%q", err.Error())
	}
	rep.Finished(sum)
	return sum
}

func (l *Loader) successMessage(dest Destination, r FileResult) string {
	p := l.Printer
	if p == nil {
		p = message.NewPrinter(language.English)
	}
	unit := "rows"
	if r.Rows == 1 {
		unit = "row"
	}
	msg := p.Sprintf("loaded %d %s into %s", r.Rows, unit, dest.QualifiedName())
	if len(r.Ignored) > 0 {
		msg += "; ignored extra columns: " + r.Ignored.String()
	}
	return msg
}

func (l *Loader) record(dest Destination, r FileResult, reason string) {
	status := r.Status.String()
	metrics.IncCounter(metrics.FilesTotal, 1, metrics.Labels{"status": status})
	metrics.ObserveHistogram(metrics.FileDurationSeconds, r.Duration.Seconds(), metrics.Labels{"status": status})
	if r.Status == StatusSucceeded {
		metrics.IncCounter(metrics.RowsTotal, float64(r.Rows), metrics.Labels{"table": dest.QualifiedName()})
		l.logf("stage=load file=%s sheet=%s ok rows=%d duration=%s", r.Name, r.Sheet, r.Rows, r.Duration.Truncate(time.Millisecond))
		return
	}
	metrics.IncCounter(metrics.FileFailuresTotal, 1, metrics.Labels{"reason": reason})
	l.logf("stage=load file=%s sheet=%s failed reason=%s err=%q duration=%s", r.Name, r.Sheet, reason, r.Message, r.Duration.Truncate(time.Millisecond))
}

func (l *Loader) logf(format string, v ...any) {
	if l.Logger == nil {
		return
	}
	l.Logger.Printf(format, v...)
}

func (l *Loader) clock() time.Time {
	if l.now != nil {
		return l.now()
	}
	return time.Now()
}

// IsSchemaMismatch reports whether err rejected a file at validation.
func IsSchemaMismatch(err error) bool {
	var sm *SchemaMismatchError
	return errors.As(err, &sm)
}

