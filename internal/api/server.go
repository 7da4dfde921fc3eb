package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/ridopark/keylevels/internal/config"
	"github.com/ridopark/keylevels/internal/data"
)

// Server wraps the HTTP server, router and handler wiring
type Server struct {
	cfg        config.Config
	logger     zerolog.Logger
	httpServer *http.Server
}

// NewServer builds the router and wires the API handlers
func NewServer(cfg config.Config, provider data.Provider, logger zerolog.Logger) *Server {
	handler := NewHandler(cfg, provider, NewResponseCache(cfg.CacheTTL), logger)

	router := mux.NewRouter()
	router.Use(requestLogger(logger))

	router.HandleFunc("/api/data", handler.GetData).Methods(http.MethodGet)
	router.HandleFunc("/api/keylevels", handler.GetKeyLevels).Methods(http.MethodGet)
	router.HandleFunc("/api/institutional", handler.GetInstitutional).Methods(http.MethodGet)
	router.HandleFunc("/api/alerts", handler.CreateAlert).Methods(http.MethodPost)
	router.HandleFunc("/health", handler.Health).Methods(http.MethodGet)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{cfg.CORSOrigin}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)

	return &Server{
		cfg:    cfg,
		logger: logger,
		httpServer: &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      cors(router),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Start begins serving; it blocks until the server stops
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("API server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// requestLogger logs each request with method, path and duration
func requestLogger(logger zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("query", r.URL.RawQuery).
				Dur("duration", time.Since(start)).
				Msg("Request handled")
		})
	}
}
