package extraction

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracewire/schematic-extractor/internal/observability"
	"github.com/tracewire/schematic-extractor/internal/storage"
)

func createComponent(t *testing.T, store *storage.Store, docID uuid.UUID, mark string, pageIndex int) *storage.Component {
	t.Helper()
	c := &storage.Component{DocumentID: docID, Mark: mark, PageIndex: pageIndex}
	require.NoError(t, store.Components.Create(context.Background(), c))
	return c
}

func createConnection(t *testing.T, store *storage.Store, docID uuid.UUID, from, to string, pageIndex int) *storage.Connection {
	t.Helper()
	c := &storage.Connection{DocumentID: docID, PageIndex: pageIndex}
	if from != "" {
		c.FromMark = &from
	}
	if to != "" {
		c.ToMark = &to
	}
	require.NoError(t, store.Connections.Create(context.Background(), c))
	return c
}

func TestResolvePageScopedFirst(t *testing.T) {
	store := newTestStore(t)
	doc := newTestDocument(t, store)
	ctx := context.Background()

	onPage2 := createComponent(t, store, doc.ID, "MC1", 2)
	createComponent(t, store, doc.ID, "MC1", 0)
	target := createComponent(t, store, doc.ID, "SOL-1", 2)
	conn := createConnection(t, store, doc.ID, "MC1", "SOL-1", 2)

	r := NewResolver(store, observability.Nop())
	require.NoError(t, r.Resolve(ctx, doc.ID))

	resolved, err := store.Connections.ListByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	require.Equal(t, conn.ID, resolved[0].ID)

	// the same-page MC1 wins over the page-0 one
	require.NotNil(t, resolved[0].FromComponentID)
	assert.Equal(t, onPage2.ID, *resolved[0].FromComponentID)
	require.NotNil(t, resolved[0].ToComponentID)
	assert.Equal(t, target.ID, *resolved[0].ToComponentID)
}

func TestResolveFallsBackToFirstSeen(t *testing.T) {
	store := newTestStore(t)
	doc := newTestDocument(t, store)
	ctx := context.Background()

	first := createComponent(t, store, doc.ID, "X", 0)
	createComponent(t, store, doc.ID, "X", 2)

	// a dangling connection tagged with page 5: no page-scoped match exists
	createConnection(t, store, doc.ID, "X", "", 5)

	r := NewResolver(store, observability.Nop())
	require.NoError(t, r.Resolve(ctx, doc.ID))

	resolved, err := store.Connections.ListByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	require.NotNil(t, resolved[0].FromComponentID)
	assert.Equal(t, first.ID, *resolved[0].FromComponentID,
		"fallback picks the first component in stable iteration order, page 0")
	assert.Nil(t, resolved[0].ToComponentID)
}

func TestResolveLeavesUnknownMarksDangling(t *testing.T) {
	store := newTestStore(t)
	doc := newTestDocument(t, store)
	ctx := context.Background()

	createComponent(t, store, doc.ID, "MC1", 0)
	createConnection(t, store, doc.ID, "MC1", "TB-99", 0)

	r := NewResolver(store, observability.Nop())
	require.NoError(t, r.Resolve(ctx, doc.ID))

	resolved, err := store.Connections.ListByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.NotNil(t, resolved[0].FromComponentID)
	assert.Nil(t, resolved[0].ToComponentID)

	// raw marks are never touched
	require.NotNil(t, resolved[0].ToMark)
	assert.Equal(t, "TB-99", *resolved[0].ToMark)
}

func TestResolveIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	doc := newTestDocument(t, store)
	ctx := context.Background()

	createComponent(t, store, doc.ID, "X", 0)
	createComponent(t, store, doc.ID, "X", 2)
	createComponent(t, store, doc.ID, "Y", 1)
	createConnection(t, store, doc.ID, "X", "Y", 5)
	createConnection(t, store, doc.ID, "Y", "X", 1)

	r := NewResolver(store, observability.Nop())
	require.NoError(t, r.Resolve(ctx, doc.ID))

	firstPass, err := store.Connections.ListByDocument(ctx, doc.ID)
	require.NoError(t, err)

	require.NoError(t, r.Resolve(ctx, doc.ID))

	secondPass, err := store.Connections.ListByDocument(ctx, doc.ID)
	require.NoError(t, err)

	require.Equal(t, len(firstPass), len(secondPass))
	for i := range firstPass {
		assert.Equal(t, firstPass[i].FromComponentID, secondPass[i].FromComponentID)
		assert.Equal(t, firstPass[i].ToComponentID, secondPass[i].ToComponentID)
	}
}
