// Package server provides the HTTP API for tansaku.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/tansaku/internal/catalog"
	"github.com/hyperjump/tansaku/internal/config"
	"github.com/hyperjump/tansaku/internal/ingest"
	"github.com/hyperjump/tansaku/internal/vector"
	"go.uber.org/zap"
)

// Answerer is the retrieval pipeline as seen by the HTTP layer.
type Answerer interface {
	Answer(ctx context.Context, query string, k int) ([]vector.Hit, error)
	Reload(ctx context.Context) error
	Backend() string
}

// Ingester runs ingestion of a directory on the server host.
type Ingester interface {
	Run(ctx context.Context, source string) (ingest.Result, error)
}

// Server is the HTTP server for the tansaku API.
type Server struct {
	pipeline Answerer
	ingester Ingester        // nil disables POST /api/v1/ingest
	catalog  catalog.Catalog // nil omits catalogue stats from status
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server. ingester and cat may be nil.
func NewServer(pipeline Answerer, ingester Ingester, cat catalog.Catalog, cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		pipeline: pipeline,
		ingester: ingester,
		catalog:  cat,
		config:   cfg,
		logger:   logger,
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Post("/rag", s.handleRAG)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/rag", s.handleRAG)
		r.Post("/reload", s.handleReload)
		r.Post("/ingest", s.handleIngest)
		r.Get("/status", s.handleStatus)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr), zap.String("backend", s.pipeline.Backend()))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
