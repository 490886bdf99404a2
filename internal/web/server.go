// Package web serves the remote console: a JSON API over the script
// repository and the active run, plus a WebSocket feed of run events.
package web

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"winmaint/internal/events"
	"winmaint/internal/repository"
	"winmaint/internal/runner"
	"winmaint/internal/store"
)

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithUserScripts enables import and delete against the writable layer.
func WithUserScripts(r *repository.FileRepository) ServerOption {
	return func(s *Server) {
		s.user = r
	}
}

// History is the read side of the run store.
type History interface {
	GetRun(id string) (*store.Run, error)
	ListRuns(limit int) ([]*store.Run, error)
}

// WithHistory exposes finished runs under /api/runs.
func WithHistory(h History) ServerOption {
	return func(s *Server) {
		s.history = h
	}
}

// WithEstimator sets where script duration estimates come from.
func WithEstimator(e runner.Estimator) ServerOption {
	return func(s *Server) {
		s.estimator = e
	}
}

// WithBaseContext sets the context runs started over the API derive from.
func WithBaseContext(ctx context.Context) ServerOption {
	return func(s *Server) {
		s.baseCtx = ctx
	}
}

// WithVersion sets the application version string.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Server is the HTTP server for the remote console.
type Server struct {
	scripts        repository.Repository
	user           *repository.FileRepository
	sup            *runner.Supervisor
	bus            *events.Bus
	history        History
	estimator      runner.Estimator
	baseCtx        context.Context
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	version        string
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates a new web server. scripts is what the console lists and
// runs; it usually stacks the user directory over the built-in scripts.
func NewServer(scripts repository.Repository, sup *runner.Supervisor, bus *events.Bus, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		scripts: scripts,
		sup:     sup,
		bus:     bus,
		baseCtx: context.Background(),
		logger:  logger.With("component", "web"),
		mux:     http.NewServeMux(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	if bus != nil {
		s.unsubEvents = bus.OnAll(func(event events.Event) {
			s.wsHub.Broadcast(event)
		})
	}

	s.routes()
	return s
}

// Stop gracefully shuts down the WebSocket hub and waits for goroutines.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/scripts", s.handleAPIListScripts)
	s.mux.HandleFunc("GET /api/scripts/{name}", s.handleAPIGetScript)
	s.mux.HandleFunc("POST /api/scripts/import", s.handleAPIImportScript)
	s.mux.HandleFunc("DELETE /api/scripts/{name}", s.handleAPIDeleteScript)
	s.mux.HandleFunc("POST /api/scripts/reload", s.handleAPIReloadScripts)

	s.mux.HandleFunc("POST /api/runs", s.handleAPIStartRun)
	s.mux.HandleFunc("GET /api/runs", s.handleAPIListRuns)
	s.mux.HandleFunc("GET /api/runs/current", s.handleAPICurrentRun)
	s.mux.HandleFunc("POST /api/runs/current/pause", s.handleAPIPauseRun)
	s.mux.HandleFunc("POST /api/runs/current/resume", s.handleAPIResumeRun)
	s.mux.HandleFunc("POST /api/runs/current/abort", s.handleAPIAbortRun)
	s.mux.HandleFunc("POST /api/runs/current/hang", s.handleAPIAnswerHang)
	s.mux.HandleFunc("GET /api/runs/{id}", s.handleAPIGetRun)

	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	// The WebSocket upgrade cannot carry custom headers from a browser, so
	// only /api/ is key-protected.
	if s.apiKey != "" && strings.HasPrefix(r.URL.Path, "/api/") {
		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

// isOriginAllowed checks if the origin matches any allowed origin pattern.
func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}
