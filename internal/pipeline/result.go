package pipeline

import (
	"fmt"
	"time"

	"sheetload/internal/reconcile"
)

// Status is the terminal state of one file in a run.
type Status int

const (
	StatusSucceeded Status = iota + 1
	StatusFailed
	// StatusSkipped marks files not attempted because the run was cancelled.
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// FileResult is the per-file report.
//
// Err is one of *sheet.ParseError, *SchemaMismatchError, *LoadError, or the
// context error for skipped files. Message is the user-facing text and keeps
// any store diagnostic verbatim.
type FileResult struct {
	Name     string
	Sheet    string
	Status   Status
	Outcome  reconcile.Outcome
	Ignored  reconcile.KeySet
	Rows     int64
	Err      error
	Message  string
	Duration time.Duration
}

// Summary aggregates one run.
type Summary struct {
	Results   []FileResult
	Succeeded int
	Failed    int
	Skipped   int
	Rows      int64
	Cancelled bool
}

// Total is the number of files in the run.
func (s Summary) Total() int { return len(s.Results) }

// OK reports whether every file was loaded.
func (s Summary) OK() bool { return s.Failed == 0 && s.Skipped == 0 }

func (s *Summary) add(r FileResult) {
	s.Results = append(s.Results, r)
	switch r.Status {
	case StatusSucceeded:
		s.Succeeded++
		s.Rows += r.Rows
	case StatusFailed:
		s.Failed++
	case StatusSkipped:
		s.Skipped++
	}
}

// Reporter receives progress while a run is in flight.
type Reporter interface {
	// FileDone is called once per file, in order; index is 1-based.
	FileDone(index, total int, r FileResult)
	// Finished is called once after the last file.
	Finished(s Summary)
}

type nopReporter struct{}

func (nopReporter) FileDone(int, int, FileResult) {}
func (nopReporter) Finished(Summary)              {}
