package config

import (
	"fmt"
	"slices"
	"strings"

	"sheetload/internal/storage"
)

// Severity grades a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding against a job. Path is a JSON-ish location such as
// "files[1].path".
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidateJob checks a decoded job without touching the network or the
// filesystem. The driver must be registered in this binary.
func ValidateJob(j Job) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, a ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	c := j.Connection
	drivers := storage.Drivers()
	switch {
	case c.Driver == "":
		add(SeverityError, "connection.driver", "required (one of %s)", strings.Join(drivers, ", "))
	case !slices.Contains(drivers, c.Driver):
		add(SeverityError, "connection.driver", "unknown driver %q (one of %s)", c.Driver, strings.Join(drivers, ", "))
	}
	if strings.TrimSpace(c.Server) == "" {
		add(SeverityError, "connection.server", "required")
	}
	if c.Port < 0 || c.Port > 65535 {
		add(SeverityError, "connection.port", "out of range: %d", c.Port)
	}
	if c.Driver != "sqlite" {
		if c.Database == "" {
			add(SeverityWarning, "connection.database", "empty; the server default database is used")
		}
		if c.Username == "" {
			add(SeverityWarning, "connection.username", "empty")
		}
	}

	if strings.TrimSpace(j.Destination.Table) == "" {
		add(SeverityError, "destination.table", "required")
	}
	if strings.TrimSpace(j.Destination.Schema) == "" {
		add(SeverityError, "destination.schema", "required")
	}

	if len(j.Files) == 0 {
		add(SeverityError, "files", "at least one file is required")
	}
	seen := map[string]int{}
	for i, f := range j.Files {
		path := fmt.Sprintf("files[%d].path", i)
		if strings.TrimSpace(f.Path) == "" {
			add(SeverityError, path, "required")
			continue
		}
		if prev, ok := seen[f.Path]; ok {
			add(SeverityWarning, path, "duplicate of files[%d]; only the first is loaded", prev)
			continue
		}
		seen[f.Path] = i
	}

	switch j.Metrics.Backend {
	case "", "none", "datadog", "dd":
	default:
		add(SeverityWarning, "metrics.backend", "unknown backend %q; metrics disabled", j.Metrics.Backend)
	}
	return out
}
