// Package api exposes the schematic extractor over HTTP: upload with
// hash-based dedup, the SSE extraction stream, component search, circuit
// tracing, overlay rendering, and data export.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/tracewire/schematic-extractor/internal/cache"
	"github.com/tracewire/schematic-extractor/internal/config"
	"github.com/tracewire/schematic-extractor/internal/extraction"
	"github.com/tracewire/schematic-extractor/internal/observability"
	"github.com/tracewire/schematic-extractor/internal/recognition"
	"github.com/tracewire/schematic-extractor/internal/storage"
	"github.com/tracewire/schematic-extractor/internal/validate"
)

// Server wires the extraction services behind a chi router.
type Server struct {
	cfg    *config.Config
	logger *observability.Logger
	store  *storage.Store

	orchestrator *extraction.Orchestrator
	resolver     *extraction.Resolver
	validator    *validate.Engine
	handles      *recognition.HandleCache
	cache        cache.Client

	http *http.Server
}

// NewServer assembles a server from already-constructed dependencies. The
// recognizer is taken as an interface so tests can substitute a stub backend.
// handles is the recognizer's upload-handle cache; the server evicts entries
// from it when a document's file is replaced. It may be nil.
func NewServer(cfg *config.Config, logger *observability.Logger, store *storage.Store, recognizer recognition.Service, handles *recognition.HandleCache, cacheClient cache.Client) *Server {
	s := &Server{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		orchestrator: extraction.NewOrchestrator(store, recognizer, logger),
		resolver:     extraction.NewResolver(store, logger),
		validator:    validate.NewEngine(store, logger),
		handles:      handles,
		cache:        cacheClient,
	}
	s.http = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      s.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"schematic-extractor"}`))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ready"}`))
	})

	documents := &DocumentHandler{logger: s.logger, store: s.store, handles: s.handles, cache: s.cache, uploads: s.cfg.Uploads}
	extractions := &ExtractionHandler{
		logger:       s.logger,
		store:        s.store,
		orchestrator: s.orchestrator,
		resolver:     s.resolver,
		validator:    s.validator,
		extraction:   s.cfg.Extraction,
	}
	components := &ComponentHandler{logger: s.logger, store: s.store}
	overlays := &OverlayHandler{
		logger: s.logger,
		store:  s.store,
		cache:  s.cache,
		ttl:    s.cfg.Cache.TTL,
		scale:  float64(s.cfg.Uploads.RenderScale),
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", documents.Upload)
		r.Post("/upload/{documentID}/replace", documents.Replace)

		r.Post("/extract", extractions.Start)
		r.Get("/extract/{documentID}/stream", extractions.Stream)
		r.Post("/extract/{documentID}/cancel", extractions.Cancel)
		r.Get("/extraction-status/{documentID}", extractions.Status)
		r.Post("/validate/{documentID}", extractions.Validate)

		r.Get("/search", components.Search)
		r.Get("/components", components.List)
		r.Get("/trace/{componentID}", components.Trace)
		r.Get("/trace/mark/{mark}", components.TraceByMark)
		r.Get("/pdf/trace/{componentID}", overlays.TracePage)
		r.Get("/export/{documentID}", components.Export)
	})

	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully within the
// configured window.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.http.Addr).Msg("HTTP server listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.GracefulShutdown)
		defer cancel()
		s.logger.Info().Msg("Shutting down HTTP server")
		return s.http.Shutdown(shutdownCtx)
	}
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: message, Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
