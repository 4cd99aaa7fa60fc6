// Package server exposes the ingest pipeline over HTTP.
//
// All routes live under /v1 and speak JSON. Failures share one envelope:
//
//	{"ok": false, "error": {"type": ..., "message": ..., "details": ...}}
//
// Every response echoes X-Request-ID, minting one when the caller did not
// send it.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/time/rate"

	"github.com/ljramones/lore-ingestor/internal/ingest"
	"github.com/ljramones/lore-ingestor/internal/logging"
	"github.com/ljramones/lore-ingestor/internal/metrics"
	"github.com/ljramones/lore-ingestor/internal/parser"
	"github.com/ljramones/lore-ingestor/internal/store"
)

// Config holds server configuration.
type Config struct {
	// RateRPS enables per-IP throttling of mutating routes when positive.
	// RateBurst defaults to twice the rate.
	RateRPS   float64
	RateBurst int

	Logger *slog.Logger
}

// Deps are the server collaborators. Store, Parsers and Ingestor are
// required; Metrics may be nil, which disables /metrics and request
// instrumentation.
type Deps struct {
	Store    *store.Store
	Parsers  *parser.Registry
	Ingestor *ingest.Service
	Metrics  *metrics.Metrics
}

// Server is the HTTP front of the ingest service.
type Server struct {
	store    *store.Store
	parsers  *parser.Registry
	ingestor *ingest.Service
	metrics  *metrics.Metrics
	logger   *slog.Logger
	limiter  *rateLimiter

	mu         sync.Mutex
	httpServer *http.Server
}

// New builds a server from its collaborators.
func New(cfg Config, d Deps) (*Server, error) {
	if d.Store == nil || d.Parsers == nil || d.Ingestor == nil {
		return nil, fmt.Errorf("server: store, parser registry and ingest service are required")
	}

	s := &Server{
		store:    d.Store,
		parsers:  d.Parsers,
		ingestor: d.Ingestor,
		metrics:  d.Metrics,
		logger:   logging.Default(cfg.Logger).With("component", "server"),
	}
	if cfg.RateRPS > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = max(int(2*cfg.RateRPS), 1)
		}
		s.limiter = newRateLimiter(rate.Limit(cfg.RateRPS), burst)
	}
	return s, nil
}

// Handler returns the fully wired handler: routes plus middleware. Useful
// for tests and for embedding in another server.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.buildMux()
	h = decompressMiddleware(h)
	if s.limiter != nil {
		h = rateLimitMiddleware(s.limiter)(h)
	}
	h = compressMiddleware(h)
	if s.metrics != nil {
		h = s.metrics.InstrumentHandler(h)
	}
	h = requestLogMiddleware(s.logger)(h)
	return requestIDMiddleware(h)
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/healthz", s.handleHealthz)
	mux.HandleFunc("GET /v1/readyz", s.handleReadyz)
	mux.HandleFunc("GET /v1/parsers", s.handleParsers)
	mux.HandleFunc("GET /v1/profiles", s.handleProfiles)
	mux.HandleFunc("GET /v1/works", s.handleListWorks)
	mux.HandleFunc("GET /v1/works/{id}", s.handleGetWork)
	mux.HandleFunc("GET /v1/works/{id}/scenes", s.handleScenes)
	mux.HandleFunc("GET /v1/works/{id}/chunks", s.handleChunks)
	mux.HandleFunc("GET /v1/works/{id}/slice", s.handleSlice)
	mux.HandleFunc("GET /v1/search", s.handleSearch)
	mux.HandleFunc("POST /v1/ingest", s.handleIngest)
	mux.HandleFunc("POST /v1/works/{id}/resegment", s.handleResegment)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

// Serve accepts connections on the listener until Stop is called. h2c lets
// HTTP/2 clients connect without TLS.
func (s *Server) Serve(ln net.Listener) error {
	cleanupCtx, cancelCleanup := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	if s.limiter != nil {
		s.limiter.startCleanup(cleanupCtx, &cleanupWG, time.Minute, 10*time.Minute)
	}
	defer func() {
		cancelCleanup()
		cleanupWG.Wait()
	}()

	srv := &http.Server{
		Handler:           h2c.NewHandler(s.Handler(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.logger.Info("server.start", "addr", ln.Addr().String())
	err := srv.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// ServeTCP listens on addr and serves until Stop.
func (s *Server) ServeTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Stop gracefully shuts the server down, waiting for in-flight requests
// until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.logger.Info("server.stop")
	return srv.Shutdown(ctx)
}
