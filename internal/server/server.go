// Package server wires the request pipeline: auth, rate limiting, cache
// lookup, inference on miss, cache fill, and usage recording.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/HanTheDev/embedding-service/internal/auth"
	"github.com/HanTheDev/embedding-service/internal/cache"
	"github.com/HanTheDev/embedding-service/internal/config"
	"github.com/HanTheDev/embedding-service/internal/embed"
	"github.com/HanTheDev/embedding-service/internal/ratelimit"
	"github.com/HanTheDev/embedding-service/internal/usage"
)

const version = "1.0.0"

// Server owns the HTTP surface and the per-request orchestration.
type Server struct {
	cfg      *config.Config
	cache    *cache.Cache
	limiter  *ratelimit.RateLimiter
	recorder *usage.Recorder
	embedder embed.Embedder
	authMW   *auth.Middleware
	logger   *zap.Logger

	// Collapses concurrent misses for the same fingerprint into one
	// inference call.
	inflight singleflight.Group

	httpServer *http.Server
}

// New assembles the server from its injected components.
func New(
	cfg *config.Config,
	tieredCache *cache.Cache,
	limiter *ratelimit.RateLimiter,
	recorder *usage.Recorder,
	embedder embed.Embedder,
	validator *auth.Validator,
	logger *zap.Logger,
) *Server {
	return &Server{
		cfg:      cfg,
		cache:    tieredCache,
		limiter:  limiter,
		recorder: recorder,
		embedder: embedder,
		authMW:   auth.NewMiddleware(validator),
		logger:   logger,
	}
}

// Router builds the route table. Admin routes are registered onto the
// returned router by the caller.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.Handle("/v1/embed",
		s.authMW.Authenticate(http.HandlerFunc(s.handleEmbed)),
	).Methods("POST")

	return router
}

// Start serves the given router and blocks until the listener stops.
func (s *Server) Start(router *mux.Router) error {
	s.httpServer = &http.Server{
		Addr:         ":" + s.cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  90 * time.Second,
	}
	s.logger.Info("server starting", zap.String("port", s.cfg.ServerPort))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
