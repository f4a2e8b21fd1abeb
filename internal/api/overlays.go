package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tracewire/schematic-extractor/internal/cache"
	"github.com/tracewire/schematic-extractor/internal/observability"
	"github.com/tracewire/schematic-extractor/internal/overlay"
	"github.com/tracewire/schematic-extractor/internal/pdf"
	"github.com/tracewire/schematic-extractor/internal/storage"
)

// OverlayHandler renders schematic pages with a component's circuit
// highlighted. Rendered PNGs are cached; replacing a document's file drops
// its cached renders.
type OverlayHandler struct {
	logger *observability.Logger
	store  *storage.Store
	cache  cache.Client
	ttl    time.Duration
	scale  float64
}

// TracePage handles GET /api/pdf/trace/{componentID}: the component's page
// rendered as PNG with the component, its connections, and the page's wire
// labels drawn on top.
func (h *OverlayHandler) TracePage(w http.ResponseWriter, r *http.Request) {
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

	key := fmt.Sprintf("overlay:%s:%s", component.DocumentID, component.ID)
	if png, err := h.cache.Get(ctx, key); err == nil {
		h.servePNG(w, component.Mark, png)
		return
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		h.logger.Warn().Err(err).Str("key", key).Msg("overlay cache read failed")
	}

	png, err := h.render(ctx, component)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "overlay render failed", err.Error())
		return
	}

	if err := h.cache.Set(ctx, key, png, h.ttl); err != nil {
		h.logger.Warn().Err(err).Str("key", key).Msg("overlay cache write failed")
	}
	h.servePNG(w, component.Mark, png)
}

func (h *OverlayHandler) render(ctx context.Context, component *storage.Component) ([]byte, error) {
	doc, err := h.store.Documents.GetByID(ctx, component.DocumentID)
	if err != nil {
		return nil, err
	}

	connections, err := h.store.Connections.ListTouching(ctx, doc.ID, component.ID, component.Mark)
	if err != nil {
		return nil, err
	}

	var connected []*storage.Component
	seen := map[uuid.UUID]struct{}{component.ID: {}}
	for _, conn := range connections {
		for _, endpoint := range []*uuid.UUID{conn.FromComponentID, conn.ToComponentID} {
			if endpoint == nil {
				continue
			}
			if _, ok := seen[*endpoint]; ok {
				continue
			}
			seen[*endpoint] = struct{}{}
			c, err := h.store.Components.GetByID(ctx, *endpoint)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			} else if err != nil {
				return nil, err
			}
			// Off-page components have no place on this render.
			if c.PageIndex == component.PageIndex {
				connected = append(connected, c)
			}
		}
	}

	wireLabels, err := h.store.WireLabels.ListByPage(ctx, doc.ID, component.PageIndex)
	if err != nil {
		return nil, err
	}

	processor, err := pdf.Open(doc.Filepath)
	if err != nil {
		return nil, err
	}
	defer processor.Close()

	scale := h.scale
	if scale <= 0 {
		scale = 2.0
	}
	pageImage, err := processor.RenderImage(component.PageIndex, scale)
	if err != nil {
		return nil, err
	}

	return overlay.Render(pageImage, scale, overlay.Highlight{
		Selected:    []*storage.Component{component},
		Connected:   connected,
		Connections: pageConnections(connections, component.PageIndex),
		WireLabels:  wireLabels,
	})
}

func (h *OverlayHandler) servePNG(w http.ResponseWriter, mark string, png []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", "overlay_"+mark+".png"))
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func pageConnections(connections []*storage.Connection, pageIndex int) []*storage.Connection {
	var out []*storage.Connection
	for _, c := range connections {
		if c.PageIndex == pageIndex {
			out = append(out, c)
		}
	}
	return out
}
