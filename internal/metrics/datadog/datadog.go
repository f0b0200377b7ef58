// Package datadog implements a Datadog backend for the internal/metrics package.
//
// Metrics are buffered in memory and submitted on a ticker (default once per
// minute) plus one final flush on Close. A long web session therefore produces
// a time series, and a one-shot CLI run still delivers its tail.
//
// Concurrency model:
//   - pipeline code calls IncCounter/ObserveHistogram at any time
//   - Flush snapshots and resets buffers under a mutex, then submits out of lock
//   - Close stops the loop and flushes once more
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"sheetload/internal/metrics"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "sheetload".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"team:finance"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// Unexported test seams: clock, ticker and submission.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the part of *datadogV2.MetricsApi the backend uses.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu sync.Mutex

	fileCounts    map[string]float64   // status -> files
	failureCounts map[string]float64   // reason -> files
	rowCounts     map[string]float64   // schema.table -> rows
	durations     map[string][]float64 // status -> seconds
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client.
//
// Edge cases:
//   - Credentials and site come from the client's usual environment
//     (DD_API_KEY, DD_SITE) via dd.NewDefaultContext.
//   - The environment tag uses ENV, then DD_ENV, otherwise env:unknown.
//
// Errors:
//   - Construction does not touch the network; submission errors surface
//     from Flush and Close.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	if parent == nil {
		return nil, wrapInitErr(fmt.Errorf("nil context"))
	}
	job := opts.JobName
	if job == "" {
		job = "sheetload"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}
	submitter := opts.submitter
	if submitter == nil {
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
	}
	b.resetLocked()

	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and performs one final Flush. Repeated calls
// only flush.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh
	})
	return b.Flush()
}

func labelOr(labels metrics.Labels, key, def string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return def
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.FilesTotal:
		b.fileCounts[labelOr(labels, "status", "unknown")] += delta
	case metrics.FileFailuresTotal:
		b.failureCounts[labelOr(labels, "reason", "unknown")] += delta
	case metrics.RowsTotal:
		table := labels["table"]
		if table == "" {
			return
		}
		b.rowCounts[table] += delta
	}
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != metrics.FileDurationSeconds {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	status := labelOr(labels, "status", "unknown")
	b.durations[status] = append(b.durations[status], value)
}

// snapshot is the detached buffer state for one flush window.
type snapshot struct {
	fileCounts    map[string]float64
	failureCounts map[string]float64
	rowCounts     map[string]float64
	durations     map[string][]float64
}

func (s snapshot) isEmpty() bool {
	return len(s.fileCounts) == 0 && len(s.failureCounts) == 0 && len(s.rowCounts) == 0 && len(s.durations) == 0
}

// resetLocked swaps in fresh buffers. Caller holds b.mu or owns b exclusively.
func (b *Backend) resetLocked() {
	b.fileCounts = make(map[string]float64)
	b.failureCounts = make(map[string]float64)
	b.rowCounts = make(map[string]float64)
	b.durations = make(map[string][]float64)
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		fileCounts:    b.fileCounts,
		failureCounts: b.failureCounts,
		rowCounts:     b.rowCounts,
		durations:     b.durations,
	}
	b.resetLocked()
	return s
}

// Flush submits buffered metrics and resets local buffers.
//
// Buffers are reset even when submission fails; delivery is at most once.
// Returns nil when there is nothing to submit.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	if err != nil {
		return fmt.Errorf("datadog: submit metrics: %w", err)
	}
	return nil
}

// buildSeries converts a snapshot into Datadog series at a fixed timestamp.
// Output order is deterministic (sorted by label value within each metric).
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.fileCounts)+len(s.failureCounts)+len(s.rowCounts)+6*len(s.durations))

	for _, status := range sortedKeys(s.fileCounts) {
		series = append(series, countSeries("sheetload.files.total", s.fileCounts[status], withTags(b.baseTags, "status:"+status), nowUnix))
	}
	for _, reason := range sortedKeys(s.failureCounts) {
		series = append(series, countSeries("sheetload.file_failures.total", s.failureCounts[reason], withTags(b.baseTags, "reason:"+reason), nowUnix))
	}
	for _, table := range sortedKeys(s.rowCounts) {
		series = append(series, countSeries("sheetload.rows.total", s.rowCounts[table], withTags(b.baseTags, "table:"+table), nowUnix))
	}

	statuses := make([]string, 0, len(s.durations))
	for k := range s.durations {
		statuses = append(statuses, k)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		addPercentiles(&series, "sheetload.file.duration_seconds", s.durations[status], withTags(b.baseTags, "status:"+status), nowUnix)
	}
	return series
}

// addPercentiles appends p50/p90/p95/p99/max/samples gauges for samples.
// It sorts a copy; the input is not mutated.
func addPercentiles(series *[]datadogV2.MetricSeries, prefix string, samples []float64, tags []string, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	*series = append(*series,
		gaugeSeries(prefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix),
		gaugeSeries(prefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix),
		gaugeSeries(prefix+".p95", percentileNearestRank(cp, 0.95), tags, nowUnix),
		gaugeSeries(prefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix),
		gaugeSeries(prefix+".max", cp[len(cp)-1], tags, nowUnix),
		gaugeSeries(prefix+".samples", float64(len(cp)), tags, nowUnix),
	)
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func sortedKeys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		if v != 0 {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

// ParseTagsCSV parses comma-separated tags like "env:prod,team:finance".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func wrapInitErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("datadog metrics init: %w", err)
}

var (
	_ metrics.Backend = (*Backend)(nil)
	_ metrics.Flusher = (*Backend)(nil)
)
