// Package api is the HTTP surface: an SSE chat stream, thread inspection,
// and health probes over the conversation pipeline.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rupjae/jules/internal/pipeline"
	"github.com/rupjae/jules/internal/thread"
)

// Runner is the conversation pipeline boundary.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (<-chan pipeline.Event, error)
}

// ThreadDirectory is the read/create surface of the conversation store the
// API needs.
type ThreadDirectory interface {
	Create(ctx context.Context, title string) (*thread.Thread, error)
	Get(ctx context.Context, threadID uuid.UUID) (*thread.Thread, error)
	List(ctx context.Context, limit, offset int32) ([]*thread.Thread, error)
	History(ctx context.Context, threadID uuid.UUID) ([]*thread.Message, error)
}

// ServerConfig wires the HTTP server.
type ServerConfig struct {
	Logger   *slog.Logger
	Pipeline Runner          // Required
	Threads  ThreadDirectory // Required
	Pool     *pgxpool.Pool   // Optional: nil degrades /ready to liveness

	// AuthToken guards all /api routes as a bearer token; empty disables
	// authentication.
	AuthToken string

	// TrustProxy honors X-Real-IP/X-Forwarded-For for rate limiting.
	TrustProxy bool

	// RateBurst is the per-IP burst; zero means the default of 60.
	RateBurst int
}

// Server is the HTTP API server.
type Server struct {
	mux *http.ServeMux
}

// NewServer builds the route table and middleware stack. Health probes sit
// outside the stack so orchestrators are never rate limited or asked for
// credentials.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if cfg.Threads == nil {
		return nil, errors.New("thread directory is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ch := &chatHandler{pipeline: cfg.Pipeline, threads: cfg.Threads, logger: logger}
	th := &threadHandler{threads: cfg.Threads, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat/stream", ch.stream)
	mux.HandleFunc("GET /api/chat/stream", ch.stream)
	mux.HandleFunc("GET /api/threads", th.list)
	mux.HandleFunc("GET /api/threads/{id}", th.get)
	mux.HandleFunc("GET /api/threads/{id}/messages", th.messages)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	limiter := newIPLimiter(1.0, burst)

	// Outermost first: recovery → request id → logging → rate limit → auth.
	var handler http.Handler = mux
	handler = authMiddleware(cfg.AuthToken, logger)(handler)
	handler = rateLimitMiddleware(limiter, cfg.TrustProxy, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	top := http.NewServeMux()
	top.HandleFunc("GET /health", health(logger))
	top.HandleFunc("GET /ready", readiness(cfg.Pool, logger))
	top.Handle("/", handler)

	return &Server{mux: top}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
