package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/neozhu/pdfxtract/internal/config"
	"github.com/neozhu/pdfxtract/internal/observability"
)

// Server is the HTTP API server.
type Server struct {
	logger   *observability.Logger
	http     *http.Server
	shutdown time.Duration
}

// New builds a server for runner from cfg.
func New(cfg *config.Config, runner Runner, logger *observability.Logger) *Server {
	if logger == nil {
		logger = observability.NopLogger()
	}

	router := NewRouter(logger, runner, RouterConfig{
		RequestTimeout:  cfg.Server.ReadTimeout,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		DefaultMaxPages: cfg.OCR.MaxPages,
		DefaultModel:    cfg.LLM.Model,
		PageDir:         cfg.Server.PageDir,
	})

	return &Server{
		logger: logger,
		http: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
		shutdown: cfg.Server.ShutdownPeriod,
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.http.Addr
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.http.Addr).Msg("HTTP server listening")
		serverErrors <- s.http.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info().Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := s.http.Close(); err != nil {
			s.logger.Error().Err(err).Msg("Forced shutdown failed")
		}
		return err
	}

	s.logger.Info().Msg("Server stopped")
	return nil
}
