package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tracewire/schematic-extractor/internal/config"
	"github.com/tracewire/schematic-extractor/internal/extraction"
	"github.com/tracewire/schematic-extractor/internal/observability"
	"github.com/tracewire/schematic-extractor/internal/pdf"
	"github.com/tracewire/schematic-extractor/internal/storage"
	"github.com/tracewire/schematic-extractor/internal/validate"
)

// ExtractionHandler handles the extraction lifecycle: start, SSE stream,
// cancel, and status.
type ExtractionHandler struct {
	logger       *observability.Logger
	store        *storage.Store
	orchestrator *extraction.Orchestrator
	resolver     *extraction.Resolver
	validator    *validate.Engine
	extraction   config.ExtractionConfig
}

// StartRequestDTO is the request body for POST /api/extract.
type StartRequestDTO struct {
	DocumentID   string `json:"schematic_file_id"`
	PDFPages     []int  `json:"pdf_pages,omitempty"`
	ContextPages []int  `json:"context_pages,omitempty"`
}

// Start handles POST /api/extract. It records the context pages and returns
// the stream URL; extraction runs when the client opens the stream.
func (h *ExtractionHandler) Start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req StartRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.DocumentID == "" {
		writeError(w, http.StatusBadRequest, "schematic_file_id is required", "")
		return
	}
	docID, err := uuid.Parse(req.DocumentID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schematic_file_id", err.Error())
		return
	}

	doc, err := h.store.Documents.GetByID(ctx, docID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "schematic file not found", "")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}
	if doc.Status == storage.StatusInProgress {
		writeError(w, http.StatusConflict, "extraction already in progress", "")
		return
	}

	contextPages := req.ContextPages
	if len(contextPages) == 0 {
		contextPages = h.extraction.DefaultContextPages[:]
	}
	if err := h.store.Documents.SetContextPages(ctx, docID, contextPages); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record context pages", err.Error())
		return
	}

	streamURL := fmt.Sprintf("/api/extract/%s/stream", docID)
	if len(req.PDFPages) > 0 {
		streamURL += "?pages=" + joinInts(req.PDFPages)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"schematic_file_id": docID.String(),
		"status":            "ready",
		"stream_url":        streamURL,
	})
}

// Stream handles GET /api/extract/{documentID}/stream. Extraction events are
// written as they happen, one SSE data frame per event; after the run the
// handler resolves references, validates, and appends validation frames.
func (h *ExtractionHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	docID, err := uuid.Parse(chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id", err.Error())
		return
	}
	doc, err := h.store.Documents.GetByID(ctx, docID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "schematic file not found", "")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}
	if doc.Status == storage.StatusInProgress {
		writeError(w, http.StatusConflict, "extraction already in progress", "")
		return
	}

	pages := h.extraction.DefaultPages
	if raw := r.URL.Query().Get("pages"); raw != "" {
		pages, err = parseIntList(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid pages parameter", err.Error())
			return
		}
	}
	contextPages := doc.ContextPages
	if len(contextPages) == 0 {
		contextPages = h.extraction.DefaultContextPages[:]
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", "")
		return
	}

	processor, err := pdf.Open(doc.Filepath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to open PDF", err.Error())
		return
	}
	defer processor.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := make(chan extraction.Event, 64)
	runErr := make(chan error, 1)
	go func() {
		runErr <- h.orchestrator.Run(ctx, extraction.Request{
			Document:     doc,
			PDF:          processor,
			Pages:        pages,
			ContextPages: contextPages,
		}, events)
	}()

	var lastSeq int64
	for event := range events {
		lastSeq = event.Seq
		if err := writeSSE(w, flusher, event); err != nil {
			// Client went away. Drain so the run can finish writing rows.
			h.orchestrator.Cancel(docID)
			for range events {
			}
			break
		}
	}

	if err := <-runErr; err != nil {
		h.logger.Error().Err(err).Str("document_id", docID.String()).Msg("extraction run failed")
		return
	}
	if ctx.Err() != nil {
		return
	}

	h.finishRun(w, flusher, docID, pages, lastSeq)
}

// finishRun resolves component references, validates each requested page and
// the document, and streams the results as validation events.
func (h *ExtractionHandler) finishRun(w http.ResponseWriter, flusher http.Flusher, docID uuid.UUID, pages []int, lastSeq int64) {
	// The run is done; validation must not die with the client connection.
	ctx := context.Background()

	if err := h.resolver.Resolve(ctx, docID); err != nil {
		h.logger.Error().Err(err).Str("document_id", docID.String()).Msg("reference resolution failed")
		return
	}

	doc, err := h.store.Documents.GetByID(ctx, docID)
	if err != nil {
		h.logger.Error().Err(err).Str("document_id", docID.String()).Msg("document reload failed")
		return
	}

	seq := lastSeq
	emit := func(result *storage.ValidationResult) {
		seq++
		event := extraction.Event{
			Seq:        seq,
			Type:       extraction.EventValidation,
			DocumentID: docID,
			Timestamp:  time.Now().UTC(),
			Data:       result,
		}
		if err := writeSSE(w, flusher, event); err != nil {
			h.logger.Warn().Err(err).Msg("client disconnected during validation")
		}
	}

	for _, pageIndex := range pages {
		result, err := h.validator.ValidatePage(ctx, docID, pageIndex, nil)
		if err != nil {
			h.logger.Error().Err(err).Int("page", pageIndex).Msg("page validation failed")
			continue
		}
		emit(result)
	}

	result, err := h.validator.ValidateDocument(ctx, doc)
	if err != nil {
		h.logger.Error().Err(err).Str("document_id", docID.String()).Msg("document validation failed")
		return
	}
	emit(result)
}

// Validate handles POST /api/validate/{documentID}: re-run validation over
// every processed page plus the document, and return the rolled-up summary.
func (h *ExtractionHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	docID, err := uuid.Parse(chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id", err.Error())
		return
	}
	doc, err := h.store.Documents.GetByID(ctx, docID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "schematic file not found", "")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}

	pages, err := h.store.Pages.ListByDocument(ctx, docID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing pages failed", err.Error())
		return
	}
	for _, page := range pages {
		if !page.Processed {
			continue
		}
		if _, err := h.validator.ValidatePage(ctx, docID, page.PageIndex, nil); err != nil {
			writeError(w, http.StatusInternalServerError, "page validation failed", err.Error())
			return
		}
	}

	result, err := h.validator.ValidateDocument(ctx, doc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "document validation failed", err.Error())
		return
	}
	summary, err := h.validator.Summarize(ctx, docID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "summary failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"schematic_file_id": docID.String(),
		"result":            result,
		"summary":           summary,
	})
}

// Cancel handles POST /api/extract/{documentID}/cancel. A running extraction
// stops at the next page boundary; a pending one is marked cancelled.
func (h *ExtractionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	docID, err := uuid.Parse(chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id", err.Error())
		return
	}
	doc, err := h.store.Documents.GetByID(ctx, docID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "schematic file not found", "")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}

	if doc.Status == storage.StatusInProgress {
		h.orchestrator.Cancel(docID)
	} else {
		doc.Status = storage.StatusCancelled
		if err := h.store.Documents.UpdateStatus(ctx, doc); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to update status", err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "cancellation requested"})
}

// StatusResponseDTO is the response for GET /api/extraction-status/{id}.
type StatusResponseDTO struct {
	DocumentID     string         `json:"schematic_file_id"`
	Status         string         `json:"status"`
	PagesProcessed int            `json:"pages_processed"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	Counts         map[string]int `json:"counts"`
}

// Status handles GET /api/extraction-status/{documentID}.
func (h *ExtractionHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	docID, err := uuid.Parse(chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id", err.Error())
		return
	}
	doc, err := h.store.Documents.GetByID(ctx, docID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "schematic file not found", "")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}

	componentCount, err := h.store.Components.CountByDocument(ctx, docID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "count failed", err.Error())
		return
	}
	connectionCount, err := h.store.Connections.CountByDocument(ctx, docID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "count failed", err.Error())
		return
	}
	wireLabelCount, err := h.store.WireLabels.CountByDocument(ctx, docID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "count failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, StatusResponseDTO{
		DocumentID:     docID.String(),
		Status:         string(doc.Status),
		PagesProcessed: doc.PagesProcessed,
		StartedAt:      doc.StartedAt,
		CompletedAt:    doc.CompletedAt,
		Counts: map[string]int{
			"components":  componentCount,
			"connections": connectionCount,
			"wire_labels": wireLabelCount,
		},
	})
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event extraction.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func parseIntList(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
