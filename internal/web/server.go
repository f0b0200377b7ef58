// Package web serves the upload-and-load workflow as a JSON API.
//
// A client opens a session with database credentials, browses schemas and
// tables, uploads workbooks, picks a sheet per workbook and starts a load.
// Each session owns its repository; deleting the session or letting it idle
// past the TTL closes it.
package web

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"sheetload/internal/storage"
)

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

// OpenFunc connects to a destination. storage.Open in production.
type OpenFunc func(ctx context.Context, cfg storage.Config) (storage.Repository, error)

// Options configures a Server.
type Options struct {
	// MaxUploadBytes caps one upload request. Defaults to 100 MiB.
	MaxUploadBytes int64
	// Open defaults to storage.Open.
	Open OpenFunc
	// Logger defaults to the standard logger.
	Logger Logger

	now func() time.Time
}

type Server struct {
	router    *chi.Mux
	server    *http.Server
	sessions  *sessionStore
	open      OpenFunc
	maxUpload int64
	logger    Logger
}

// NewServer builds the router.
func NewServer(opts Options) *Server {
	if opts.Open == nil {
		opts.Open = storage.Open
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 100 << 20
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	s := &Server{
		router:    chi.NewRouter(),
		sessions:  newSessionStore(opts.now),
		open:      opts.Open,
		maxUpload: opts.MaxUploadBytes,
		logger:    opts.Logger,
	}
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.router.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Delete("/", s.handleDeleteSession)

			r.Get("/schemas", s.handleListSchemas)
			r.Get("/schemas/{schema}/tables", s.handleListTables)
			r.Get("/schemas/{schema}/tables/{table}/columns", s.handleListColumns)

			r.Post("/files", s.handleUploadFiles)
			r.Put("/files/{name}/sheet", s.handleSelectSheet)

			r.Post("/load", s.handleLoad)
		})
	})
}

// Router returns the handler, for tests and embedding.
func (s *Server) Router() http.Handler { return s.router }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.Printf("stage=serve addr=%s", addr)
	return s.server.ListenAndServe()
}

// Shutdown stops the listener and closes every open session.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	for _, sess := range s.sessions.drain() {
		s.closeSession(sess, "shutdown")
	}
	return err
}

// RunJanitor closes sessions idle for longer than ttl until ctx is done.
func (s *Server) RunJanitor(ctx context.Context, ttl time.Duration) {
	every := ttl / 4
	if every < time.Second {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep(ttl)
		}
	}
}

// Sweep closes sessions idle for longer than ttl and reports how many.
func (s *Server) Sweep(ttl time.Duration) int {
	expired := s.sessions.sweep(ttl)
	for _, sess := range expired {
		s.closeSession(sess, "idle")
	}
	return len(expired)
}

func (s *Server) closeSession(sess *session, reason string) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := sess.repo.Close(); err != nil {
		s.logger.Printf("stage=session id=%s close reason=%s err=%v", sess.id, reason, err)
		return
	}
	s.logger.Printf("stage=session id=%s closed reason=%s", sess.id, reason)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.logger.Printf("stage=http method=%s path=%s status=%d request_id=%s err=%q",
		r.Method, r.URL.Path, status, middleware.GetReqID(r.Context()), msg)
	writeJSON(w, status, errorResponse{Error: msg})
}
