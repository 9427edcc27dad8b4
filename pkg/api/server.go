package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/chainindexor/core/internal/decoder"
	"github.com/chainindexor/core/internal/logger"
	"github.com/chainindexor/core/pkg/config"
	pkgstorage "github.com/chainindexor/core/pkg/storage"
)

const shutdownCtxTimeout = 10 * time.Second

// Server is the debug HTTP API server: read-only introspection over
// durable storage and the decoder registry, for operators poking at a
// running indexer rather than for downstream consumers.
type Server struct {
	config  *config.APIConfig
	handler *Handler
	server  *http.Server
	log     *logger.Logger
}

// NewServer creates a new API server. chainIDs is the set of
// configured chains whose checkpoints /checkpoints and /stats report.
func NewServer(cfg *config.APIConfig, storage pkgstorage.Storage, registry *decoder.Registry, chainIDs []uint64, log *logger.Logger) *Server {
	handler := NewHandler(storage, registry, chainIDs, log)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handler.Health)
	mux.HandleFunc("GET /checkpoints", handler.Checkpoints)
	mux.HandleFunc("GET /entities/{type}/{id}", handler.GetEntity)
	mux.HandleFunc("GET /stats", handler.Stats)

	mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
	))

	var h http.Handler = mux
	h = RecoveryMiddleware(log)(h)
	h = LoggingMiddleware(log)(h)

	if cfg.CORS.Enabled {
		h = CORSMiddleware(cfg.CORS.AllowedOrigins)(h)
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout.Duration,
		WriteTimeout: cfg.WriteTimeout.Duration,
		IdleTimeout:  cfg.IdleTimeout.Duration,
	}

	return &Server{
		config:  cfg,
		handler: handler,
		server:  httpServer,
		log:     log,
	}
}

// Start starts the API server. It blocks until ctx is cancelled, then
// shuts the server down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.log.Info("API server is disabled")
		return nil
	}

	s.log.Infof("starting API server on %s", s.config.ListenAddress)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("API server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownCtxTimeout)
	defer cancel()

	s.log.Info("shutting down API server...")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server shutdown error: %w", err)
	}

	s.log.Info("API server stopped")
	return nil
}
