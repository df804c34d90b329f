// Package server exposes the OCR orchestrator over HTTP.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/neozhu/pdfxtract/internal/domain"
	"github.com/neozhu/pdfxtract/internal/observability"
)

// Runner is the orchestrator surface the API drives.
type Runner interface {
	Start(cfg domain.RunConfig) (string, error)
	Cancel() error
	State() domain.RunState
	Progress() domain.Progress
	Snapshot() string
	RunID() string
}

// RouterConfig holds router settings.
type RouterConfig struct {
	RequestTimeout  time.Duration
	AllowedOrigins  []string
	DefaultMaxPages int
	DefaultModel    string
	PageDir         string // local page paths must resolve inside it; empty rejects them
}

// NewRouter creates the API router with all routes configured.
func NewRouter(logger *observability.Logger, runner Runner, cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
	}))
	r.Use(chimiddleware.Timeout(cfg.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"pdfxtract"}`))
	})

	runs := NewRunHandler(logger, runner, cfg.DefaultMaxPages, cfg.DefaultModel)
	runs.pageDir = cfg.PageDir

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/models", runs.ListModels)

		r.Route("/runs", func(r chi.Router) {
			r.Post("/", runs.Start)

			r.Route("/current", func(r chi.Router) {
				r.Get("/", runs.Current)
				r.Post("/cancel", runs.Cancel)
				r.Get("/progress", runs.Progress)
				r.Get("/document", runs.Document)
				r.Get("/export", runs.Export)
			})
		})
	})

	return r
}
