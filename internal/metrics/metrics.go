// Package metrics is the backend-neutral metrics surface used by the load
// pipeline. The process-global backend defaults to a no-op; commands install
// a real one (Datadog) at startup with SetBackend.
package metrics

import "sync"

// Metric names emitted by the pipeline.
const (
	// FilesTotal counts processed files. Labels: status (succeeded|failed|skipped).
	FilesTotal = "sheetload_files_total"
	// FileFailuresTotal counts failed files. Labels: reason
	// (parse|missing_columns|extra_columns|load).
	FileFailuresTotal = "sheetload_file_failures_total"
	// RowsTotal counts committed rows. Labels: table (schema.table).
	RowsTotal = "sheetload_rows_total"
	// FileDurationSeconds observes per-file processing time. Labels: status.
	FileDurationSeconds = "sheetload_file_duration_seconds"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric events. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer.
type Flusher interface {
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-global backend. nil restores the no-op.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to a counter on the current backend.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records value on the current backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush flushes the current backend if it buffers. It returns nil otherwise.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}
