package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"sheetload/internal/pipeline"
	"sheetload/internal/reconcile"
	"sheetload/internal/sheet"
	"sheetload/internal/storage"
)

var workbookExts = []string{".xlsx", ".xlsm", ".xltx", ".xltm", ".xls"}

type createSessionRequest struct {
	Driver   string            `json:"driver"`
	Server   string            `json:"server"`
	Port     int               `json:"port,omitempty"`
	Database string            `json:"database"`
	Username string            `json:"username"`
	Password string            `json:"password"`
	Params   map[string]string `json:"params,omitempty"`
}

type createSessionResponse struct {
	ID      string `json:"id"`
	Driver  string `json:"driver"`
	Server  string `json:"server"`
	Message string `json:"message"`
}

// handleCreateSession connects and probes the destination. Connection
// failures are the only fatal error class, so they map to 502 here.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Driver == "" || strings.TrimSpace(req.Server) == "" {
		s.writeError(w, r, http.StatusBadRequest, "driver and server are required")
		return
	}

	cfg := storage.Config{
		Driver:   req.Driver,
		Server:   req.Server,
		Port:     req.Port,
		Database: req.Database,
		Username: req.Username,
		Password: req.Password,
		Params:   req.Params,
	}.Trimmed()
	repo, err := s.open(r.Context(), cfg)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, storage.ErrUnknownDriver) {
			status = http.StatusBadRequest
		}
		s.writeError(w, r, status, err.Error())
		return
	}

	sess := s.sessions.add(repo)
	s.logger.Printf("stage=session id=%s opened %s", sess.id, cfg)
	writeJSON(w, http.StatusCreated, createSessionResponse{
		ID:      sess.id,
		Driver:  cfg.Driver,
		Server:  cfg.Server,
		Message: "connected to " + cfg.Server,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.remove(chi.URLParam(r, "sessionID"))
	if !ok {
		s.writeError(w, r, http.StatusNotFound, "unknown session")
		return
	}
	s.closeSession(sess, "deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	names, err := sess.repo.SchemaNames(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"schemas": nonNil(names)})
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	names, err := sess.repo.TableNames(r.Context(), chi.URLParam(r, "schema"))
	if err != nil {
		s.writeError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"tables": nonNil(names)})
}

func (s *Server) handleListColumns(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	cols, err := sess.repo.Columns(r.Context(), chi.URLParam(r, "schema"), chi.URLParam(r, "table"))
	if err != nil {
		s.writeError(w, r, destinationStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"columns": cols})
}

type uploadedFile struct {
	Name   string   `json:"name"`
	Sheets []string `json:"sheets,omitempty"`
	Sheet  string   `json:"sheet,omitempty"`
	// Added is false when the name was already uploaded; the stored copy is kept.
	Added bool   `json:"added"`
	Error string `json:"error,omitempty"`
}

// handleUploadFiles accepts any number of multipart "file" parts. Each part
// gets its own entry; a bad part does not fail the request.
func (s *Server) handleUploadFiles(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "file too large or invalid form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	parts := r.MultipartForm.File["file"]
	if len(parts) == 0 {
		s.writeError(w, r, http.StatusBadRequest, "no file provided")
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	out := make([]uploadedFile, 0, len(parts))
	for _, fh := range parts {
		name := filepath.Base(fh.Filename)
		entry := uploadedFile{Name: name}

		if !slices.Contains(workbookExts, strings.ToLower(filepath.Ext(name))) {
			entry.Error = fmt.Sprintf("unsupported file type; want one of %s", strings.Join(workbookExts, ", "))
			out = append(out, entry)
			continue
		}

		data, err := readPart(fh)
		if err != nil {
			entry.Error = err.Error()
			out = append(out, entry)
			continue
		}

		f, added := sess.files.Add(name, data)
		sheets, err := sheet.SheetNames(f.Data)
		if err != nil {
			entry.Error = err.Error()
		}
		if added && len(sheets) > 0 {
			f.Sheet = sheets[0]
		}
		entry.Added = added
		entry.Sheets = sheets
		entry.Sheet = f.Sheet
		out = append(out, entry)
	}

	s.logger.Printf("stage=upload session=%s parts=%d files=%d", sess.id, len(parts), sess.files.Len())
	writeJSON(w, http.StatusOK, map[string][]uploadedFile{"files": out})
}

type selectSheetRequest struct {
	Sheet string `json:"sheet"`
}

func (s *Server) handleSelectSheet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req selectSheetRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	name := chi.URLParam(r, "name")

	sess.mu.Lock()
	defer sess.mu.Unlock()

	f, found := sess.files.File(name)
	if !found {
		s.writeError(w, r, http.StatusNotFound, fmt.Sprintf("unknown file %q", name))
		return
	}
	sheets, err := sheet.SheetNames(f.Data)
	if err != nil {
		s.writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if !slices.Contains(sheets, req.Sheet) {
		s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("file %q has no sheet %q", name, req.Sheet))
		return
	}
	if err := sess.files.SelectSheet(name, req.Sheet); err != nil {
		s.writeError(w, r, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, uploadedFile{Name: name, Sheets: sheets, Sheet: req.Sheet})
}

type loadRequest struct {
	Schema            string `json:"schema"`
	Table             string `json:"table"`
	AllowExtraColumns *bool  `json:"allow_extra_columns,omitempty"`
}

type fileResultJSON struct {
	Name       string   `json:"name"`
	Sheet      string   `json:"sheet,omitempty"`
	Status     string   `json:"status"`
	Outcome    string   `json:"outcome,omitempty"`
	Keys       []string `json:"keys,omitempty"`
	Ignored    []string `json:"ignored,omitempty"`
	Rows       int64    `json:"rows"`
	Message    string   `json:"message"`
	DurationMS int64    `json:"duration_ms"`
}

type loadResponse struct {
	Table     string           `json:"table"`
	Files     []fileResultJSON `json:"files"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Skipped   int              `json:"skipped"`
	Rows      int64            `json:"rows"`
}

// handleLoad runs every uploaded file against the chosen table. The request
// context bounds the run: a disconnect stops it between files.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req loadRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Schema == "" || req.Table == "" {
		s.writeError(w, r, http.StatusBadRequest, "schema and table are required")
		return
	}
	opts := pipeline.DefaultOptions()
	if req.AllowExtraColumns != nil {
		opts.AllowExtraColumns = *req.AllowExtraColumns
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.files.Len() == 0 {
		s.writeError(w, r, http.StatusBadRequest, "no files uploaded")
		return
	}

	dest, err := pipeline.ResolveDestination(r.Context(), sess.repo, req.Schema, req.Table)
	if err != nil {
		s.writeError(w, r, destinationStatus(err), err.Error())
		return
	}

	loader := pipeline.NewLoader(sess.repo, s.logger)
	loader.Printer = printerFor(r.Header.Get("Accept-Language"))
	sum := loader.Run(r.Context(), sess.files, dest, opts, nil)

	resp := loadResponse{
		Table:     dest.QualifiedName(),
		Files:     make([]fileResultJSON, 0, len(sum.Results)),
		Succeeded: sum.Succeeded,
		Failed:    sum.Failed,
		Skipped:   sum.Skipped,
		Rows:      sum.Rows,
	}
	for _, fr := range sum.Results {
		resp.Files = append(resp.Files, toFileResultJSON(fr))
	}
	writeJSON(w, http.StatusOK, resp)
}

// messageLanguages are the locales row counts are formatted in; the first is
// the fallback.
var messageLanguages = []language.Tag{language.English, language.Spanish, language.Portuguese, language.German, language.French}

var languageMatcher = language.NewMatcher(messageLanguages)

// printerFor picks a number-formatting locale from an Accept-Language header.
func printerFor(acceptLanguage string) *message.Printer {
	_, i := language.MatchStrings(languageMatcher, acceptLanguage)
	return message.NewPrinter(messageLanguages[i])
}

func toFileResultJSON(fr pipeline.FileResult) fileResultJSON {
	out := fileResultJSON{
		Name:       fr.Name,
		Sheet:      fr.Sheet,
		Status:     fr.Status.String(),
		Rows:       fr.Rows,
		Message:    fr.Message,
		DurationMS: fr.Duration.Milliseconds(),
	}
	if fr.Status == pipeline.StatusSkipped {
		return out
	}
	var pe *sheet.ParseError
	var le *pipeline.LoadError
	switch {
	case errors.As(fr.Err, &pe):
		out.Outcome = "parse_error"
		return out
	case errors.As(fr.Err, &le):
		out.Outcome = "load_error"
	default:
		out.Outcome = fr.Outcome.Kind.String()
	}
	if pipeline.IsSchemaMismatch(fr.Err) {
		for _, k := range fr.Outcome.Keys {
			out.Keys = append(out.Keys, string(k))
		}
	}
	for _, k := range fr.Ignored {
		out.Ignored = append(out.Ignored, string(k))
	}
	return out
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session, bool) {
	sess, ok := s.sessions.get(chi.URLParam(r, "sessionID"))
	if !ok {
		s.writeError(w, r, http.StatusNotFound, "unknown session")
	}
	return sess, ok
}

func destinationStatus(err error) int {
	var kc *reconcile.KeyCollisionError
	switch {
	case errors.Is(err, storage.ErrTableNotFound):
		return http.StatusNotFound
	case errors.As(err, &kc):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return data, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
