package extraction

import (
	"context"

	"github.com/google/uuid"

	"github.com/tracewire/schematic-extractor/internal/observability"
	"github.com/tracewire/schematic-extractor/internal/storage"
)

// Resolver rewrites the textual component-mark references on a document's
// connections into stored component identifiers. The raw marks stay in
// place untouched; they are the ground truth from extraction, and the
// resolver is a pure recomputation over them. Running it again on an
// unchanged document writes the same identifiers, so repeated invocation
// is always safe.
type Resolver struct {
	store *storage.Store
	log   *observability.Logger
}

// NewResolver creates a Resolver over the given store.
func NewResolver(store *storage.Store, log *observability.Logger) *Resolver {
	if log == nil {
		log = observability.Nop()
	}
	return &Resolver{store: store, log: log.WithComponent("resolver")}
}

type markKey struct {
	mark      string
	pageIndex int
}

// Resolve fills in connection endpoints for one document. Lookup is
// two-tier: the (mark, page) of the connection first, then the first
// component bearing the mark anywhere in the document's stable iteration
// order. Marks matching neither stay null; dangling endpoints are expected
// for genuinely external references.
func (r *Resolver) Resolve(ctx context.Context, documentID uuid.UUID) error {
	components, err := r.store.Components.ListByDocument(ctx, documentID)
	if err != nil {
		return err
	}

	byPage := make(map[markKey]uuid.UUID, len(components))
	byMark := make(map[string]uuid.UUID)
	for _, c := range components {
		byPage[markKey{c.Mark, c.PageIndex}] = c.ID
		if _, seen := byMark[c.Mark]; !seen {
			byMark[c.Mark] = c.ID
		}
	}

	connections, err := r.store.Connections.ListByDocument(ctx, documentID)
	if err != nil {
		return err
	}

	resolved := 0
	for _, conn := range connections {
		fromID := lookup(byPage, byMark, conn.FromMark, conn.PageIndex)
		toID := lookup(byPage, byMark, conn.ToMark, conn.PageIndex)

		if err := r.store.Connections.UpdateEndpoints(ctx, conn.ID, fromID, toID); err != nil {
			return err
		}
		if fromID != nil || toID != nil {
			resolved++
		}
	}

	r.log.Info().
		Str("document_id", documentID.String()).
		Int("connections", len(connections)).
		Int("resolved", resolved).
		Msg("reference resolution finished")

	return nil
}

func lookup(byPage map[markKey]uuid.UUID, byMark map[string]uuid.UUID, mark *string, pageIndex int) *uuid.UUID {
	if mark == nil || *mark == "" {
		return nil
	}
	if id, ok := byPage[markKey{*mark, pageIndex}]; ok {
		return &id
	}
	if id, ok := byMark[*mark]; ok {
		return &id
	}
	return nil
}
