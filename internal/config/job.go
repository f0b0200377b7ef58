// Package config defines the JSON job file consumed by cmd/sheetload and the
// environment settings of cmd/sheetload-web.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"sheetload/internal/pipeline"
	"sheetload/internal/storage"
)

// Job is one load run: where to connect, which table to fill and which
// workbooks to read.
type Job struct {
	Job         string      `json:"job"`
	Connection  Connection  `json:"connection"`
	Destination Destination `json:"destination"`
	Options     Options     `json:"options"`
	Files       []FileSpec  `json:"files"`
	Metrics     Metrics     `json:"metrics"`
}

// Connection holds credentials. String fields may reference environment
// variables as ${NAME}; they are expanded by StorageConfig.
type Connection struct {
	Driver   string            `json:"driver"`
	Server   string            `json:"server"`
	Port     int               `json:"port,omitempty"`
	Database string            `json:"database"`
	Username string            `json:"username"`
	Password string            `json:"password"`
	Params   map[string]string `json:"params,omitempty"`
}

// StorageConfig expands environment references and returns the backend
// config with surrounding whitespace trimmed from the connection fields.
func (c Connection) StorageConfig() storage.Config {
	var params map[string]string
	if len(c.Params) > 0 {
		params = make(map[string]string, len(c.Params))
		for k, v := range c.Params {
			params[k] = os.ExpandEnv(v)
		}
	}
	return storage.Config{
		Driver:   c.Driver,
		Server:   os.ExpandEnv(c.Server),
		Port:     c.Port,
		Database: os.ExpandEnv(c.Database),
		Username: os.ExpandEnv(c.Username),
		Password: os.ExpandEnv(c.Password),
		Params:   params,
	}.Trimmed()
}

type Destination struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

// Options mirrors pipeline.Options. Pointer fields keep the pipeline default
// when absent.
type Options struct {
	AllowExtraColumns *bool `json:"allow_extra_columns,omitempty"`
}

// PipelineOptions applies o over pipeline.DefaultOptions.
func (o Options) PipelineOptions() pipeline.Options {
	opts := pipeline.DefaultOptions()
	if o.AllowExtraColumns != nil {
		opts.AllowExtraColumns = *o.AllowExtraColumns
	}
	return opts
}

// FileSpec names one workbook. An empty Sheet selects the first sheet.
type FileSpec struct {
	Path  string `json:"path"`
	Sheet string `json:"sheet,omitempty"`
}

type Metrics struct {
	// Backend is "none" or "datadog"; the -metrics-backend flag overrides it.
	Backend string `json:"backend,omitempty"`
	// Tags is a comma-separated Datadog tag list.
	Tags string `json:"tags,omitempty"`
}

// Decode reads a Job from r. Unknown fields are rejected so typos surface
// before anything connects.
func Decode(r io.Reader) (Job, error) {
	var j Job
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&j); err != nil {
		return Job{}, fmt.Errorf("config: decode job: %w", err)
	}
	return j, nil
}
