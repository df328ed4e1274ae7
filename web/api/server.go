// Package api serves the HTTP interface of heal-orch: starting runs,
// polling their status, run history, a websocket stream of session
// snapshots and prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
	"github.com/hochfrequenz/heal-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/heal-orchestrator/internal/runstore"
)

// RunService is the orchestrator surface the API needs
type RunService interface {
	StartRun(ctx context.Context, req orchestrator.RunRequest) (string, error)
	Status() (domain.Session, bool)
	Session(id string) (domain.Session, bool)
}

// History reads finished runs
type History interface {
	GetRun(ctx context.Context, id string) (domain.RunResult, error)
	ListRuns(ctx context.Context, opts runstore.ListOptions) ([]domain.RunResult, error)
}

// Options configures a Server. History and Metrics are optional.
type Options struct {
	Addr    string
	Service RunService
	History History
	Metrics http.Handler
	Logger  *zap.Logger
}

// Server is the HTTP API server
type Server struct {
	svc     RunService
	history History
	metrics http.Handler
	logger  *zap.Logger
	mux     *http.ServeMux
	hub     *Hub
	http    *http.Server
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		svc:     opts.Service,
		history: opts.History,
		metrics: opts.Metrics,
		logger:  logger.Named("api"),
		mux:     http.NewServeMux(),
	}
	s.hub = NewHub(s.logger)
	s.setupRoutes()
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /api/runs", s.startRunHandler())
	s.mux.HandleFunc("GET /api/runs", s.listRunsHandler())
	s.mux.HandleFunc("GET /api/runs/{id}", s.getRunHandler())
	s.mux.HandleFunc("GET /api/status", s.statusHandler())
	s.mux.HandleFunc("GET /api/ws", s.wsHandler())
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

// Handler returns the routed handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start runs the websocket hub and serves until Shutdown is called.
// It returns nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)
	s.logger.Info("listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for active requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.CloseAll()
	return s.http.Shutdown(ctx)
}

// Broadcast sends a session snapshot to all websocket clients
func (s *Server) Broadcast(sess domain.Session) {
	s.hub.Broadcast(Event{Type: EventSession, Data: sess})
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
