package api

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tracewire/schematic-extractor/internal/observability"
	"github.com/tracewire/schematic-extractor/internal/storage"
)

// ComponentHandler serves component search, listing, circuit tracing, and
// data export.
type ComponentHandler struct {
	logger *observability.Logger
	store  *storage.Store
}

// Search handles GET /api/search?q=...&schematic_file_id=...&limit=...
func (h *ComponentHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "search query is required", "")
		return
	}

	var docID *uuid.UUID
	if raw := r.URL.Query().Get("schematic_file_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid schematic_file_id", err.Error())
			return
		}
		docID = &id
	}
	limit := queryInt(r, "limit", 50)

	results, err := h.store.Components.Search(ctx, docID, query, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"count":   len(results),
		"results": results,
	})
}

// List handles GET /api/components?schematic_file_id=...&page=...&per_page=...
func (h *ComponentHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw := r.URL.Query().Get("schematic_file_id")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "schematic_file_id is required", "")
		return
	}
	docID, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schematic_file_id", err.Error())
		return
	}

	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	perPage := queryInt(r, "per_page", 50)
	if perPage < 1 {
		perPage = 50
	}

	total, err := h.store.Components.CountByDocument(ctx, docID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "count failed", err.Error())
		return
	}
	components, err := h.store.Components.ListPaged(ctx, docID, perPage, (page-1)*perPage)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing failed", err.Error())
		return
	}
	if components == nil {
		components = []*storage.Component{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":      total,
		"page":       page,
		"per_page":   perPage,
		"pages":      (total + perPage - 1) / perPage,
		"components": components,
	})
}

// TraceResponseDTO is the circuit trace for one component.
type TraceResponseDTO struct {
	Component           *storage.Component    `json:"component"`
	Connections         []*storage.Connection `json:"connections"`
	ConnectedComponents []*storage.Component  `json:"connected_components"`
}

// Trace handles GET /api/trace/{componentID}: every connection touching the
// component by id or by mark, plus the components on the far ends.
func (h *ComponentHandler) Trace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	componentID, err := uuid.Parse(chi.URLParam(r, "componentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid component id", err.Error())
		return
	}
	component, err := h.store.Components.GetByID(ctx, componentID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "component not found", "")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}

	trace, err := h.trace(ctx, component)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "trace failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

// TraceByMark handles GET /api/trace/mark/{mark}?schematic_file_id=...
func (h *ComponentHandler) TraceByMark(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	mark := chi.URLParam(r, "mark")
	raw := r.URL.Query().Get("schematic_file_id")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "schematic_file_id is required", "")
		return
	}
	docID, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schematic_file_id", err.Error())
		return
	}

	component, err := h.store.Components.FirstByMark(ctx, docID, mark)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("component with mark %q not found", mark), "")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}

	trace, err := h.trace(ctx, component)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "trace failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

func (h *ComponentHandler) trace(ctx context.Context, component *storage.Component) (*TraceResponseDTO, error) {
	connections, err := h.store.Connections.ListTouching(ctx, component.DocumentID, component.ID, component.Mark)
	if err != nil {
		return nil, err
	}

	connectedIDs := map[uuid.UUID]struct{}{}
	for _, conn := range connections {
		if conn.FromComponentID != nil {
			connectedIDs[*conn.FromComponentID] = struct{}{}
		}
		if conn.ToComponentID != nil {
			connectedIDs[*conn.ToComponentID] = struct{}{}
		}
	}
	delete(connectedIDs, component.ID)

	connected := make([]*storage.Component, 0, len(connectedIDs))
	for id := range connectedIDs {
		c, err := h.store.Components.GetByID(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		} else if err != nil {
			return nil, err
		}
		connected = append(connected, c)
	}

	if connections == nil {
		connections = []*storage.Connection{}
	}
	return &TraceResponseDTO{
		Component:           component,
		Connections:         connections,
		ConnectedComponents: connected,
	}, nil
}

// Export handles GET /api/export/{documentID}?format=json|csv.
func (h *ComponentHandler) Export(w http.ResponseWriter, r *http.Request) {
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

	components, err := h.store.Components.ListByDocument(ctx, docID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed", err.Error())
		return
	}
	connections, err := h.store.Connections.ListByDocument(ctx, docID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed", err.Error())
		return
	}
	wireLabels, err := h.store.WireLabels.ListByDocument(ctx, docID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed", err.Error())
		return
	}

	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "json"
	}

	switch format {
	case "json":
		continuations, err := h.store.Continuations.ListByDocument(ctx, docID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "export failed", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"schematic_file": map[string]any{
				"id":                doc.ID.String(),
				"filename":          doc.Filename,
				"extraction_status": doc.Status,
				"pages_processed":   doc.PagesProcessed,
			},
			"components":    components,
			"connections":   connections,
			"wire_labels":   wireLabels,
			"continuations": continuations,
		})
	case "csv":
		h.exportCSV(w, doc, components, connections, wireLabels)
	default:
		writeError(w, http.StatusBadRequest, "unsupported format", format)
	}
}

func (h *ComponentHandler) exportCSV(w http.ResponseWriter, doc *storage.Document, components []*storage.Component, connections []*storage.Connection, wireLabels []*storage.WireLabel) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFilename(doc.Filename)))

	cw := csv.NewWriter(w)
	defer cw.Flush()

	cw.Write([]string{"--- COMPONENTS ---"})
	cw.Write([]string{"id", "mark", "name", "symbol", "type", "pdf_page", "schematic_page", "x", "y"})
	for _, c := range components {
		cw.Write([]string{
			c.ID.String(), c.Mark, strDeref(c.Name), strDeref(c.Symbol), strDeref(c.Type),
			strconv.Itoa(c.PageIndex), intDeref(c.SheetNumber),
			floatDeref(c.X), floatDeref(c.Y),
		})
	}

	cw.Write([]string{"--- CONNECTIONS ---"})
	cw.Write([]string{"id", "from_mark", "to_mark", "wire_label", "terminal_from", "terminal_to", "pdf_page", "is_external"})
	for _, c := range connections {
		cw.Write([]string{
			c.ID.String(), strDeref(c.FromMark), strDeref(c.ToMark), strDeref(c.WireLabel),
			strDeref(c.TerminalFrom), strDeref(c.TerminalTo),
			strconv.Itoa(c.PageIndex), strconv.FormatBool(c.External),
		})
	}

	cw.Write([]string{"--- WIRE LABELS ---"})
	cw.Write([]string{"id", "label", "pdf_page", "x", "y"})
	for _, l := range wireLabels {
		cw.Write([]string{
			l.ID.String(), l.Label, strconv.Itoa(l.PageIndex), floatDeref(l.X), floatDeref(l.Y),
		})
	}
}

func exportFilename(source string) string {
	base := strings.TrimSuffix(source, ".pdf")
	if base == "" {
		base = "export"
	}
	return base + ".csv"
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func strDeref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func intDeref(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func floatDeref(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
