package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(context.Background(), Options{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(context.Background(), db))
	return NewStore(db)
}

func newTestDocument(t *testing.T, store *Store) *Document {
	t.Helper()
	machine, err := store.Machines.GetOrCreate(context.Background(), "press-line-a")
	require.NoError(t, err)
	doc := &Document{
		MachineID: machine.ID,
		Filename:  "schematic.pdf",
		Filepath:  "/data/uploads/schematic.pdf",
		FileHash:  uuid.NewString(),
	}
	require.NoError(t, store.Documents.Create(context.Background(), doc))
	return doc
}

func strptr(s string) *string { return &s }

func TestMachineGetOrCreateIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Machines.GetOrCreate(ctx, "line-7")
	require.NoError(t, err)
	second, err := store.Machines.GetOrCreate(ctx, "line-7")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestDocumentRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	doc := newTestDocument(t, store)

	loaded, err := store.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.Filename, loaded.Filename)
	assert.Equal(t, StatusPending, loaded.Status)

	byHash, err := store.Documents.GetByHash(ctx, doc.FileHash)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, byHash.ID)

	_, err = store.Documents.GetByHash(ctx, "no-such-hash")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentContextPagesSurviveReload(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	doc := newTestDocument(t, store)

	require.NoError(t, store.Documents.SetContextPages(ctx, doc.ID, []int{1, 2}))
	loaded, err := store.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, loaded.ContextPages)
}

func TestReplaceContentCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	doc := newTestDocument(t, store)

	require.NoError(t, store.Pages.Create(ctx, &Page{DocumentID: doc.ID, PageIndex: 6, Width: 841, Height: 594}))
	comp := &Component{DocumentID: doc.ID, Mark: "K1", PageIndex: 6}
	require.NoError(t, store.Components.Create(ctx, comp))
	require.NoError(t, store.Connections.Create(ctx, &Connection{DocumentID: doc.ID, PageIndex: 6, FromMark: strptr("K1")}))
	require.NoError(t, store.WireLabels.Create(ctx, &WireLabel{DocumentID: doc.ID, Label: "L201", PageIndex: 6}))
	require.NoError(t, store.Continuations.Create(ctx, &Continuation{DocumentID: doc.ID, PageIndex: 6, External: true}))
	require.NoError(t, store.Errors.Create(ctx, &ExtractionError{DocumentID: doc.ID, Category: "extraction_error", Message: "boom"}))
	require.NoError(t, store.Validations.Create(ctx, &ValidationResult{DocumentID: doc.ID, Scope: ValidationScopeDocument, Status: ValidationPass, Confidence: 1}))

	doc.Status = StatusCompleted
	doc.PagesProcessed = 1
	require.NoError(t, store.Documents.UpdateStatus(ctx, doc))

	require.NoError(t, store.Documents.ReplaceContent(ctx, doc.ID, "rev2.pdf", "/data/uploads/rev2.pdf", "newhash"))

	reloaded, err := store.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "rev2.pdf", reloaded.Filename)
	assert.Equal(t, "newhash", reloaded.FileHash)
	assert.Equal(t, StatusPending, reloaded.Status)
	assert.Zero(t, reloaded.PagesProcessed)
	assert.Nil(t, reloaded.StartedAt)

	compCount, err := store.Components.CountByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Zero(t, compCount)
	connCount, err := store.Connections.CountByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Zero(t, connCount)
	pages, err := store.Pages.ListByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, pages)
	validations, err := store.Validations.ListByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, validations)
}

func TestPageGetByIndex(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	doc := newTestDocument(t, store)

	require.NoError(t, store.Pages.Create(ctx, &Page{DocumentID: doc.ID, PageIndex: 6, Width: 841, Height: 594}))

	page, err := store.Pages.GetByIndex(ctx, doc.ID, 6)
	require.NoError(t, err)
	assert.False(t, page.Processed)

	_, err = store.Pages.GetByIndex(ctx, doc.ID, 99)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Pages.MarkProcessed(ctx, doc.ID, 6))
	page, err = store.Pages.GetByIndex(ctx, doc.ID, 6)
	require.NoError(t, err)
	assert.True(t, page.Processed)
}

func TestComponentDuplicateMarkOnPageConflicts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	doc := newTestDocument(t, store)

	require.NoError(t, store.Components.Create(ctx, &Component{DocumentID: doc.ID, Mark: "K1", PageIndex: 6}))
	err := store.Components.Create(ctx, &Component{DocumentID: doc.ID, Mark: "K1", PageIndex: 6})
	assert.ErrorIs(t, err, ErrConflict)

	// Same mark on another page is a different physical location.
	assert.NoError(t, store.Components.Create(ctx, &Component{DocumentID: doc.ID, Mark: "K1", PageIndex: 7}))
}

func TestComponentSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	doc := newTestDocument(t, store)

	require.NoError(t, store.Components.Create(ctx, &Component{
		DocumentID: doc.ID, Mark: "K1", PageIndex: 6, Name: strptr("main contactor"),
	}))
	require.NoError(t, store.Components.Create(ctx, &Component{
		DocumentID: doc.ID, Mark: "X10", PageIndex: 6, Description: strptr("terminal block"),
	}))

	byMark, err := store.Components.Search(ctx, &doc.ID, "K1", 0)
	require.NoError(t, err)
	require.Len(t, byMark, 1)

	byName, err := store.Components.Search(ctx, &doc.ID, "contactor", 0)
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "K1", byName[0].Mark)

	byDescription, err := store.Components.Search(ctx, nil, "terminal", 0)
	require.NoError(t, err)
	require.Len(t, byDescription, 1)
	assert.Equal(t, "X10", byDescription[0].Mark)
}

func TestComponentListPaged(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	doc := newTestDocument(t, store)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Components.Create(ctx, &Component{
			DocumentID: doc.ID, Mark: string(rune('A' + i)), PageIndex: 6,
		}))
	}

	page, err := store.Components.ListPaged(ctx, doc.ID, 2, 4)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestComponentDuplicateMarks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	doc := newTestDocument(t, store)

	require.NoError(t, store.Components.Create(ctx, &Component{DocumentID: doc.ID, Mark: "K1", PageIndex: 6}))
	require.NoError(t, store.Components.Create(ctx, &Component{DocumentID: doc.ID, Mark: "K1", PageIndex: 7}))
	require.NoError(t, store.Components.Create(ctx, &Component{DocumentID: doc.ID, Mark: "X10", PageIndex: 6}))

	marks, err := store.Components.DuplicateMarks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"K1"}, marks)
}

func TestConnectionPathRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	doc := newTestDocument(t, store)

	conn := &Connection{
		DocumentID: doc.ID,
		FromMark:   strptr("K1"),
		ToMark:     strptr("X10"),
		PageIndex:  6,
		Path:       [][]float64{{10, 20}, {10, 80}, {120, 80}},
	}
	require.NoError(t, store.Connections.Create(ctx, conn))

	loaded, err := store.Connections.ListByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, conn.Path, loaded[0].Path)
}

func TestConnectionListTouching(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	doc := newTestDocument(t, store)

	k1 := &Component{DocumentID: doc.ID, Mark: "K1", PageIndex: 6}
	require.NoError(t, store.Components.Create(ctx, k1))

	// Touches by endpoint id.
	require.NoError(t, store.Connections.Create(ctx, &Connection{
		DocumentID: doc.ID, FromComponentID: &k1.ID, ToMark: strptr("X10"), PageIndex: 6,
	}))
	// Touches by raw mark only; endpoint never resolved.
	require.NoError(t, store.Connections.Create(ctx, &Connection{
		DocumentID: doc.ID, FromMark: strptr("M3"), ToMark: strptr("K1"), PageIndex: 7,
	}))
	// Unrelated.
	require.NoError(t, store.Connections.Create(ctx, &Connection{
		DocumentID: doc.ID, FromMark: strptr("M3"), ToMark: strptr("X10"), PageIndex: 7,
	}))

	touching, err := store.Connections.ListTouching(ctx, doc.ID, k1.ID, "K1")
	require.NoError(t, err)
	assert.Len(t, touching, 2)
}

func TestConnectionUpdateEndpoints(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	doc := newTestDocument(t, store)

	k1 := &Component{DocumentID: doc.ID, Mark: "K1", PageIndex: 6}
	require.NoError(t, store.Components.Create(ctx, k1))
	conn := &Connection{DocumentID: doc.ID, FromMark: strptr("K1"), PageIndex: 6}
	require.NoError(t, store.Connections.Create(ctx, conn))

	require.NoError(t, store.Connections.UpdateEndpoints(ctx, conn.ID, &k1.ID, nil))

	loaded, err := store.Connections.ListByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.NotNil(t, loaded[0].FromComponentID)
	assert.Equal(t, k1.ID, *loaded[0].FromComponentID)
	assert.Nil(t, loaded[0].ToComponentID)
	// Raw marks stay untouched.
	assert.Equal(t, "K1", *loaded[0].FromMark)
}

func TestExtractionErrorDetailsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	doc := newTestDocument(t, store)

	pageIndex := 7
	require.NoError(t, store.Errors.Create(ctx, &ExtractionError{
		DocumentID: doc.ID,
		PageIndex:  &pageIndex,
		Category:   "extraction_error",
		Message:    "model returned malformed payload",
		Details:    map[string]any{"page": float64(7)},
		RetryCount: 3,
	}))

	loaded, err := store.Errors.ListByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "extraction_error", loaded[0].Category)
	assert.Equal(t, map[string]any{"page": float64(7)}, loaded[0].Details)
}

func TestValidationResultDiscrepanciesRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	doc := newTestDocument(t, store)

	pageIndex := 6
	require.NoError(t, store.Validations.Create(ctx, &ValidationResult{
		DocumentID: doc.ID,
		PageIndex:  &pageIndex,
		Scope:      ValidationScopePage,
		Status:     ValidationWarning,
		Confidence: 0.75,
		Discrepancies: []Discrepancy{
			{Type: "missing_marks", Message: "2 components without readable marks", Severity: SeverityWarning, Count: 2},
		},
	}))

	loaded, err := store.Validations.ListByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Len(t, loaded[0].Discrepancies, 1)
	assert.Equal(t, "missing_marks", loaded[0].Discrepancies[0].Type)
}

func TestInTxRollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	doc := newTestDocument(t, store)

	sentinel := errors.New("abort")
	err := store.InTx(ctx, func(tx *Store) error {
		if err := tx.Components.Create(ctx, &Component{DocumentID: doc.ID, Mark: "K1", PageIndex: 6}); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	count, err := store.Components.CountByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestInTxCommits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	doc := newTestDocument(t, store)

	err := store.InTx(ctx, func(tx *Store) error {
		if err := tx.Components.Create(ctx, &Component{DocumentID: doc.ID, Mark: "K1", PageIndex: 6}); err != nil {
			return err
		}
		return tx.WireLabels.Create(ctx, &WireLabel{DocumentID: doc.ID, Label: "L201", PageIndex: 6})
	})
	require.NoError(t, err)

	count, err := store.Components.CountByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	labels, err := store.WireLabels.CountByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, labels)
}
