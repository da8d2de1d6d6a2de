// Package api provides HTTP handlers and the main API server logic for StoryLoom.
//
// It exposes RESTful endpoints for running chapter-based interview sessions:
// creating sessions, submitting answers, reading progress, listing collected
// answers, abandoning sessions, reseeding the question catalog, and
// proofreading text. The API integrates the flow orchestrator, the session
// store, and the GenAI client.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/storyloom/storyloom/internal/flow"
	"github.com/storyloom/storyloom/internal/genai"
)

// DefaultAddr is the default listen address for the API server.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	// Addr is the listen address (e.g. ":8080").
	Addr string
}

// Option defines a functional option for server configuration.
type Option func(*Opts)

// WithAddr overrides the default listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server wires the interview orchestrator and the GenAI client into HTTP
// endpoints.
type Server struct {
	orch *flow.Orchestrator
	ai   genai.ClientInterface
	srv  *http.Server
}

// NewServer creates an API server. The AI client may be nil; the proofread
// endpoint then reports itself unavailable while the interview endpoints
// keep working with scripted follow-ups.
func NewServer(orch *flow.Orchestrator, ai genai.ClientInterface, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{orch: orch, ai: ai}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", s.createSessionHandler)
	mux.HandleFunc("POST /sessions/{id}/answers", s.submitAnswerHandler)
	mux.HandleFunc("GET /sessions/{id}/progress", s.progressHandler)
	mux.HandleFunc("GET /sessions/{id}/answers", s.listAnswersHandler)
	mux.HandleFunc("POST /sessions/{id}/abandon", s.abandonHandler)
	mux.HandleFunc("POST /admin/catalog/reseed", s.reseedCatalogHandler)
	mux.HandleFunc("POST /proofread", s.proofreadHandler)
	mux.HandleFunc("GET /health", s.healthHandler)

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the server's HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run starts the HTTP server and blocks until it stops. http.ErrServerClosed
// after a graceful Shutdown is not reported as an error.
func (s *Server) Run() error {
	slog.Info("Server.Run: API server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Server.Shutdown: stopping API server")
	return s.srv.Shutdown(ctx)
}
