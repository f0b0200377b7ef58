package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"sheetload/internal/metrics"
	"sheetload/internal/reconcile"
	"sheetload/internal/sheet"
	"sheetload/internal/storage"
	"sheetload/internal/storage/sqlite"
)

func workbook(t *testing.T, sheetName string, rows ...[]any) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		t.Fatalf("SetSheetName: %v", err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("CoordinatesToCellName: %v", err)
		}
		row := row
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}
	return buf.Bytes()
}

type salesTable struct {
	*sqlite.Repo
	path string
}

func salesDB(t *testing.T) (*salesTable, Destination) {
	t.Helper()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "sales.db")
	r, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	repo := &salesTable{Repo: r, path: path}

	if err := repo.Exec(ctx, `CREATE TABLE Sales (ID INTEGER NOT NULL, Name TEXT, Amount REAL NOT NULL)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	dest, err := ResolveDestination(ctx, repo, "main", "Sales")
	if err != nil {
		t.Fatalf("ResolveDestination: %v", err)
	}
	return repo, dest
}

// countSales reads the table through a separate connection so only
// committed rows are visible.
func countSales(t *testing.T, repo *salesTable) int {
	t.Helper()
	db, err := sql.Open("sqlite", repo.path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer func() { _ = db.Close() }()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM Sales`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

type recordingReporter struct {
	done     []string
	finished *Summary
}

func (r *recordingReporter) FileDone(index, total int, res FileResult) {
	r.done = append(r.done, fmt.Sprintf("%d/%d %s %s", index, total, res.Name, res.Status))
}

func (r *recordingReporter) Finished(s Summary) { r.finished = &s }

type logRecorder struct{ lines []string }

func (l *logRecorder) Printf(format string, v ...any) {
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
}

func TestRun_TwoFilesOneMissingColumn(t *testing.T) {
	t.Parallel()

	repo, dest := salesDB(t)

	s := NewSession()
	a, _ := s.Add("a.xlsx", workbook(t, "Data",
		[]any{"id", "name", "amount"},
		[]any{1, "alpha", 10.5},
		[]any{2, "beta", 20},
	))
	a.Sheet = "Data"
	b, _ := s.Add("b.xlsx", workbook(t, "Data",
		[]any{"id", "name"},
		[]any{3, "gamma"},
	))
	b.Sheet = "Data"

	rep := &recordingReporter{}
	logs := &logRecorder{}
	sum := NewLoader(repo, logs).Run(context.Background(), s, dest, DefaultOptions(), rep)

	if sum.Succeeded != 1 || sum.Failed != 1 || sum.Rows != 2 {
		t.Fatalf("summary=%+v", sum)
	}
	if sum.OK() {
		t.Fatalf("OK()=true, want false")
	}

	ra := sum.Results[0]
	if ra.Status != StatusSucceeded || ra.Rows != 2 {
		t.Fatalf("a: status=%v rows=%d err=%v", ra.Status, ra.Rows, ra.Err)
	}
	if ra.Message != "loaded 2 rows into main.Sales" {
		t.Fatalf("a message=%q", ra.Message)
	}

	rb := sum.Results[1]
	if rb.Status != StatusFailed {
		t.Fatalf("b status=%v want failed", rb.Status)
	}
	if rb.Outcome.Kind != reconcile.RejectedMissingColumns || rb.Outcome.Keys.String() != "amount" {
		t.Fatalf("b outcome=%+v", rb.Outcome)
	}
	if !IsSchemaMismatch(rb.Err) {
		t.Fatalf("b err=%T want *SchemaMismatchError", rb.Err)
	}

	if got := countSales(t, repo); got != 2 {
		t.Fatalf("rows in table=%d want 2", got)
	}

	wantDone := []string{"1/2 a.xlsx succeeded", "2/2 b.xlsx failed"}
	if strings.Join(rep.done, "|") != strings.Join(wantDone, "|") {
		t.Fatalf("progress=%v want %v", rep.done, wantDone)
	}
	if rep.finished == nil || rep.finished.Total() != 2 {
		t.Fatalf("Finished not called with the summary: %+v", rep.finished)
	}
	if len(logs.lines) != 3 || !strings.HasPrefix(logs.lines[0], "stage=load file=a.xlsx sheet=Data ok rows=2") {
		t.Fatalf("logs=%q", logs.lines)
	}
}

func TestRun_FailedRowRollsBackOnlyItsFile(t *testing.T) {
	t.Parallel()

	repo, dest := salesDB(t)

	bad := [][]any{{"ID", "Name", "Amount"}}
	for i := 1; i <= 10; i++ {
		amount := any(float64(i))
		if i == 5 {
			amount = ""
		}
		bad = append(bad, []any{i, fmt.Sprintf("row-%d", i), amount})
	}

	s := NewSession()
	add := func(name string, data []byte) {
		f, _ := s.Add(name, data)
		f.Sheet = "Data"
	}
	add("before.xlsx", workbook(t, "Data", []any{"ID", "Name", "Amount"}, []any{100, "x", 1}))
	add("bad.xlsx", workbook(t, "Data", bad...))
	add("after.xlsx", workbook(t, "Data", []any{"ID", "Name", "Amount"}, []any{200, "y", 2}, []any{201, "z", 3}))

	sum := NewLoader(repo, nil).Run(context.Background(), s, dest, DefaultOptions(), nil)

	statuses := []Status{sum.Results[0].Status, sum.Results[1].Status, sum.Results[2].Status}
	want := []Status{StatusSucceeded, StatusFailed, StatusSucceeded}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("statuses=%v want %v", statuses, want)
		}
	}

	var le *LoadError
	if !errors.As(sum.Results[1].Err, &le) {
		t.Fatalf("bad err=%T want *LoadError", sum.Results[1].Err)
	}
	if le.Table != "main.Sales" {
		t.Fatalf("LoadError.Table=%q", le.Table)
	}
	msg := sum.Results[1].Message
	if !strings.Contains(msg, "row 5") || !strings.Contains(msg, "NOT NULL") {
		t.Fatalf("message should carry the store diagnostic, got %q", msg)
	}

	if got := countSales(t, repo); got != 3 {
		t.Fatalf("rows in table=%d want 3 (before + after only)", got)
	}
}

func TestLoadFile_ExtraColumns(t *testing.T) {
	t.Parallel()

	data := workbook(t, "Data",
		[]any{"ID", "Name", "Amount", "Comment"},
		[]any{1, "a", 1, "ignored"},
	)

	tests := []struct {
		name       string
		allowExtra bool
		wantStatus Status
		wantMsg    string
	}{
		{"allowed", true, StatusSucceeded, "loaded 1 row into main.Sales; ignored extra columns: comment"},
		{"rejected", false, StatusFailed, "unexpected extra columns: comment"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			repo, dest := salesDB(t)
			l := NewLoader(repo, nil)
			res := l.LoadFile(context.Background(), dest, &File{Name: "x.xlsx", Data: data, Sheet: "Data"}, Options{AllowExtraColumns: tc.allowExtra})

			if res.Status != tc.wantStatus {
				t.Fatalf("status=%v want %v (err=%v)", res.Status, tc.wantStatus, res.Err)
			}
			if res.Message != tc.wantMsg {
				t.Fatalf("message=%q want %q", res.Message, tc.wantMsg)
			}
		})
	}
}

func TestLoadFile_ParseErrors(t *testing.T) {
	t.Parallel()

	repo, dest := salesDB(t)
	l := NewLoader(repo, nil)
	data := workbook(t, "Data", []any{"ID", "Name", "Amount"})

	tests := []struct {
		name    string
		file    *File
		wantErr error
	}{
		{"no sheet selected", &File{Name: "a.xlsx", Data: data}, sheet.ErrNoSheetSelected},
		{"unknown sheet", &File{Name: "a.xlsx", Data: data, Sheet: "Nope"}, sheet.ErrSheetNotFound},
	}
	for _, tc := range tests {
		res := l.LoadFile(context.Background(), dest, tc.file, DefaultOptions())
		if res.Status != StatusFailed {
			t.Fatalf("%s: status=%v want failed", tc.name, res.Status)
		}
		var pe *sheet.ParseError
		if !errors.As(res.Err, &pe) || !errors.Is(res.Err, tc.wantErr) {
			t.Fatalf("%s: err=%v want ParseError wrapping %v", tc.name, res.Err, tc.wantErr)
		}
	}

	res := l.LoadFile(context.Background(), dest, &File{Name: "junk.xlsx", Data: []byte("not a workbook"), Sheet: "Data"}, DefaultOptions())
	var pe *sheet.ParseError
	if res.Status != StatusFailed || !errors.As(res.Err, &pe) {
		t.Fatalf("corrupt workbook: status=%v err=%v", res.Status, res.Err)
	}
}

func TestLoadFile_HeaderOnlySucceedsWithZeroRows(t *testing.T) {
	t.Parallel()

	repo, dest := salesDB(t)
	res := NewLoader(repo, nil).LoadFile(context.Background(), dest,
		&File{Name: "empty.xlsx", Data: workbook(t, "Data", []any{"id", "name", "amount"}), Sheet: "Data"},
		DefaultOptions())

	if res.Status != StatusSucceeded || res.Rows != 0 {
		t.Fatalf("status=%v rows=%d err=%v", res.Status, res.Rows, res.Err)
	}
	if res.Message != "loaded 0 rows into main.Sales" {
		t.Fatalf("message=%q", res.Message)
	}
}

// cancelRepo cancels the run while the first insert is in flight.
type cancelRepo struct {
	storage.Repository
	cancel  context.CancelFunc
	inserts int
	ctxErr  error
}

func (r *cancelRepo) InsertRows(ctx context.Context, schema, table string, columns []string, rows [][]any) (int64, error) {
	r.inserts++
	r.cancel()
	r.ctxErr = ctx.Err()
	return int64(len(rows)), nil
}

func TestRun_CancelSkipsRemainingFiles(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := &cancelRepo{cancel: cancel}
	dest := Destination{Schema: "dbo", Table: "Sales", Columns: mustSchema(t, "ID", "Name", "Amount")}

	s := NewSession()
	for _, name := range []string{"a.xlsx", "b.xlsx", "c.xlsx"} {
		f, _ := s.Add(name, workbook(t, "Data", []any{"ID", "Name", "Amount"}, []any{1, "n", 2}))
		f.Sheet = "Data"
	}

	sum := NewLoader(repo, nil).Run(ctx, s, dest, DefaultOptions(), nil)

	if repo.inserts != 1 {
		t.Fatalf("inserts=%d want 1", repo.inserts)
	}
	if repo.ctxErr != nil {
		t.Fatalf("in-flight insert saw ctx error %v", repo.ctxErr)
	}
	if !sum.Cancelled || sum.Succeeded != 1 || sum.Skipped != 2 {
		t.Fatalf("summary=%+v", sum)
	}
	for _, r := range sum.Results[1:] {
		if r.Status != StatusSkipped || !errors.Is(r.Err, context.Canceled) {
			t.Fatalf("%s: status=%v err=%v", r.Name, r.Status, r.Err)
		}
	}
}

func TestLoadFile_DurationFromClock(t *testing.T) {
	t.Parallel()

	repo, dest := salesDB(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	l := &Loader{Repo: repo, now: func() time.Time {
		calls++
		return base.Add(time.Duration(calls-1) * 250 * time.Millisecond)
	}}

	res := l.LoadFile(context.Background(), dest,
		&File{Name: "a.xlsx", Data: workbook(t, "Data", []any{"ID", "Name", "Amount"}, []any{1, "a", 1}), Sheet: "Data"},
		DefaultOptions())
	if res.Duration != 250*time.Millisecond {
		t.Fatalf("duration=%v want 250ms", res.Duration)
	}
}

func mustSchema(t *testing.T, names ...string) reconcile.DestinationSchema {
	t.Helper()
	s, err := reconcile.NewDestinationSchema(names)
	if err != nil {
		t.Fatalf("NewDestinationSchema: %v", err)
	}
	return s
}

func TestResolveDestination_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo, _ := salesDB(t)

	if _, err := ResolveDestination(ctx, repo, "main", "Missing"); !errors.Is(err, storage.ErrTableNotFound) {
		t.Fatalf("err=%v want ErrTableNotFound", err)
	}

	if err := repo.Exec(ctx, `CREATE TABLE Clash ("Order #" TEXT, "order_." TEXT)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	var kc *reconcile.KeyCollisionError
	if _, err := ResolveDestination(ctx, repo, "main", "Clash"); !errors.As(err, &kc) {
		t.Fatalf("err=%v want *KeyCollisionError", err)
	}
}

type flushingBackend struct {
	flushes int
	err     error
}

func (b *flushingBackend) IncCounter(string, float64, metrics.Labels)       {}
func (b *flushingBackend) ObserveHistogram(string, float64, metrics.Labels) {}
func (b *flushingBackend) Flush() error {
	b.flushes++
	return b.err
}

// Swaps the process-global metrics backend; must not run in parallel.
func TestRun_FlushesMetricsOnce(t *testing.T) {
	b := &flushingBackend{err: errors.New("intake unavailable")}
	metrics.SetBackend(b)
	defer metrics.SetBackend(nil)

	repo, dest := salesDB(t)
	s := NewSession()
	f, _ := s.Add("a.xlsx", workbook(t, "Data", []any{"id", "name", "amount"}, []any{1, "a", 1.5}))
	f.Sheet = "Data"

	logs := &logRecorder{}
	sum := NewLoader(repo, logs).Run(context.Background(), s, dest, DefaultOptions(), nil)
	if !sum.OK() {
		t.Fatalf("summary=%+v", sum)
	}
	if b.flushes != 1 {
		t.Fatalf("flushes=%d want 1", b.flushes)
	}
	last := logs.lines[len(logs.lines)-1]
	if !strings.Contains(last, "metrics flush failed") || !strings.Contains(last, "intake unavailable") {
		t.Fatalf("last log=%q", last)
	}
}

func TestSuccessMessage_Locale(t *testing.T) {
	t.Parallel()

	dest := Destination{Schema: "main", Table: "Sales"}
	r := FileResult{Rows: 1234, Ignored: reconcile.KeySet{"notes"}}

	if got := (&Loader{}).successMessage(dest, r); got != "loaded 1,234 rows into main.Sales; ignored extra columns: notes" {
		t.Fatalf("default got=%q", got)
	}
	de := &Loader{Printer: message.NewPrinter(language.German)}
	if got := de.successMessage(dest, FileResult{Rows: 1234}); got != "loaded 1.234 rows into main.Sales" {
		t.Fatalf("german got=%q", got)
	}
}
