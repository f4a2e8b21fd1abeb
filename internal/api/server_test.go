package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracewire/schematic-extractor/internal/cache"
	"github.com/tracewire/schematic-extractor/internal/config"
	"github.com/tracewire/schematic-extractor/internal/observability"
	"github.com/tracewire/schematic-extractor/internal/recognition"
	"github.com/tracewire/schematic-extractor/internal/storage"
)

// stubRecognizer satisfies recognition.Service without a backend.
type stubRecognizer struct{}

func (stubRecognizer) Register(ctx context.Context, path, displayName string) (string, error) {
	return "https://files.test/handle", nil
}

func (stubRecognizer) DetectPageMetadata(ctx context.Context, handle string, pageIndexes []int) []recognition.PageMetadata {
	out := make([]recognition.PageMetadata, 0, len(pageIndexes))
	for _, idx := range pageIndexes {
		out = append(out, recognition.PageMetadata{PageIndex: idx})
	}
	return out
}

func (stubRecognizer) ExtractPage(ctx context.Context, req recognition.ExtractRequest) (*recognition.PagePayload, error) {
	return &recognition.PagePayload{}, nil
}

func newTestServer(t *testing.T) (*Server, *storage.Store) {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.Options{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.Migrate(context.Background(), db))
	store := storage.NewStore(db)

	cfg := config.Default()
	cfg.Uploads.Dir = t.TempDir()
	cfg.Cache.TTL = time.Minute

	server := NewServer(cfg, observability.Nop(), store, stubRecognizer{}, recognition.NewHandleCache(), cache.NewMemoryClient())
	return server, store
}

func createDocument(t *testing.T, store *storage.Store) *storage.Document {
	t.Helper()
	machine, err := store.Machines.GetOrCreate(context.Background(), "press-line-a")
	require.NoError(t, err)
	doc := &storage.Document{
		MachineID: machine.ID,
		Filename:  "schematic.pdf",
		Filepath:  "/data/uploads/schematic.pdf",
		FileHash:  uuid.NewString(),
	}
	require.NoError(t, store.Documents.Create(context.Background(), doc))
	return doc
}

func createComponent(t *testing.T, store *storage.Store, docID uuid.UUID, mark string, pageIndex int) *storage.Component {
	t.Helper()
	c := &storage.Component{DocumentID: docID, Mark: mark, PageIndex: pageIndex}
	require.NoError(t, store.Components.Create(context.Background(), c))
	return c
}

func multipartPDF(t *testing.T, machineName, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	if machineName != "" {
		require.NoError(t, mw.WriteField("machine_name", machineName))
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func doRequest(t *testing.T, server *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(t, server, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestUploadCreatesDocument(t *testing.T) {
	server, store := newTestServer(t)

	body, contentType := multipartPDF(t, "press-line-a", "panel.pdf", []byte("%PDF-1.7 fake"))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(t, server, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp UploadResponseDTO
	decodeBody(t, rec, &resp)
	assert.False(t, resp.IsDuplicate)
	assert.Equal(t, "panel.pdf", resp.Filename)

	doc, err := store.Documents.GetByID(context.Background(), uuid.MustParse(resp.DocumentID))
	require.NoError(t, err)
	assert.Equal(t, storage.StatusPending, doc.Status)
	assert.FileExists(t, doc.Filepath)
}

func TestUploadDetectsDuplicateContent(t *testing.T) {
	server, _ := newTestServer(t)
	content := []byte("%PDF-1.7 same bytes")

	body, contentType := multipartPDF(t, "press-line-a", "panel.pdf", content)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	first := doRequest(t, server, req)
	require.Equal(t, http.StatusCreated, first.Code)

	var created UploadResponseDTO
	decodeBody(t, first, &created)

	// Same bytes under a different name still collide on hash.
	body, contentType = multipartPDF(t, "press-line-a", "renamed.pdf", content)
	req = httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	second := doRequest(t, server, req)
	require.Equal(t, http.StatusOK, second.Code)

	var dup UploadResponseDTO
	decodeBody(t, second, &dup)
	assert.True(t, dup.IsDuplicate)
	assert.Equal(t, created.DocumentID, dup.DocumentID)
}

func TestUploadRejectsNonPDF(t *testing.T) {
	server, _ := newTestServer(t)

	body, contentType := multipartPDF(t, "press-line-a", "panel.docx", []byte("not a pdf"))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(t, server, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadRequiresMachineName(t *testing.T) {
	server, _ := newTestServer(t)

	body, contentType := multipartPDF(t, "", "panel.pdf", []byte("%PDF-1.7"))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(t, server, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReplaceClearsDerivedRows(t *testing.T) {
	server, store := newTestServer(t)
	ctx := context.Background()

	// Upload for real so the file exists on disk.
	body, contentType := multipartPDF(t, "press-line-a", "panel.pdf", []byte("%PDF-1.7 v1"))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := doRequest(t, server, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created UploadResponseDTO
	decodeBody(t, rec, &created)
	docID := uuid.MustParse(created.DocumentID)

	createComponent(t, store, docID, "K1", 6)
	doc, err := store.Documents.GetByID(ctx, docID)
	require.NoError(t, err)
	doc.Status = storage.StatusCompleted
	doc.PagesProcessed = 3
	require.NoError(t, store.Documents.UpdateStatus(ctx, doc))

	body, contentType = multipartPDF(t, "press-line-a", "panel.pdf", []byte("%PDF-1.7 v2"))
	req = httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/upload/%s/replace", docID), body)
	req.Header.Set("Content-Type", contentType)
	rec = doRequest(t, server, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	doc, err = store.Documents.GetByID(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusPending, doc.Status)
	assert.Zero(t, doc.PagesProcessed)

	count, err := store.Components.CountByDocument(ctx, docID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStartExtractionRecordsContextPages(t *testing.T) {
	server, store := newTestServer(t)
	doc := createDocument(t, store)

	payload, _ := json.Marshal(StartRequestDTO{
		DocumentID:   doc.ID.String(),
		ContextPages: []int{3, 4},
		PDFPages:     []int{6, 7},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/extract", bytes.NewReader(payload))
	rec := doRequest(t, server, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	decodeBody(t, rec, &resp)
	assert.Equal(t, "ready", resp["status"])
	assert.Equal(t, fmt.Sprintf("/api/extract/%s/stream?pages=6,7", doc.ID), resp["stream_url"])

	reloaded, err := store.Documents.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, reloaded.ContextPages)
}

func TestStartExtractionRejectsRunningDocument(t *testing.T) {
	server, store := newTestServer(t)
	doc := createDocument(t, store)
	doc.Status = storage.StatusInProgress
	require.NoError(t, store.Documents.UpdateStatus(context.Background(), doc))

	payload, _ := json.Marshal(StartRequestDTO{DocumentID: doc.ID.String()})
	req := httptest.NewRequest(http.MethodPost, "/api/extract", bytes.NewReader(payload))
	rec := doRequest(t, server, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelMarksPendingDocument(t *testing.T) {
	server, store := newTestServer(t)
	doc := createDocument(t, store)

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/extract/%s/cancel", doc.ID), nil)
	rec := doRequest(t, server, req)
	require.Equal(t, http.StatusOK, rec.Code)

	reloaded, err := store.Documents.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCancelled, reloaded.Status)
}

func TestExtractionStatusReportsCounts(t *testing.T) {
	server, store := newTestServer(t)
	doc := createDocument(t, store)
	createComponent(t, store, doc.ID, "K1", 6)
	createComponent(t, store, doc.ID, "X10", 6)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/extraction-status/%s", doc.ID), nil)
	rec := doRequest(t, server, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponseDTO
	decodeBody(t, rec, &resp)
	assert.Equal(t, string(storage.StatusPending), resp.Status)
	assert.Equal(t, 2, resp.Counts["components"])
	assert.Zero(t, resp.Counts["connections"])
}

func TestValidateEndpointReportsEmptyExtraction(t *testing.T) {
	server, store := newTestServer(t)
	doc := createDocument(t, store)
	doc.Status = storage.StatusCompleted
	require.NoError(t, store.Documents.UpdateStatus(context.Background(), doc))

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/validate/%s", doc.ID), nil)
	rec := doRequest(t, server, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Result struct {
			Status string `json:"status"`
		} `json:"result"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, "fail", resp.Result.Status)
}

func TestExtractionStatusNotFound(t *testing.T) {
	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/extraction-status/"+uuid.NewString(), nil)
	rec := doRequest(t, server, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchComponents(t *testing.T) {
	server, store := newTestServer(t)
	doc := createDocument(t, store)
	createComponent(t, store, doc.ID, "K1", 6)
	createComponent(t, store, doc.ID, "K2", 6)
	createComponent(t, store, doc.ID, "X10", 7)

	req := httptest.NewRequest(http.MethodGet, "/api/search?q=K&schematic_file_id="+doc.ID.String(), nil)
	rec := doRequest(t, server, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count   int                  `json:"count"`
		Results []*storage.Component `json:"results"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, 2, resp.Count)
}

func TestSearchRequiresQuery(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(t, server, httptest.NewRequest(http.MethodGet, "/api/search", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListComponentsPaginates(t *testing.T) {
	server, store := newTestServer(t)
	doc := createDocument(t, store)
	for i := 0; i < 5; i++ {
		createComponent(t, store, doc.ID, fmt.Sprintf("K%d", i), 6)
	}

	url := fmt.Sprintf("/api/components?schematic_file_id=%s&page=2&per_page=2", doc.ID)
	rec := doRequest(t, server, httptest.NewRequest(http.MethodGet, url, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Total      int                  `json:"total"`
		Pages      int                  `json:"pages"`
		Components []*storage.Component `json:"components"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, 5, resp.Total)
	assert.Equal(t, 3, resp.Pages)
	assert.Len(t, resp.Components, 2)
}

func TestTraceComponent(t *testing.T) {
	server, store := newTestServer(t)
	ctx := context.Background()
	doc := createDocument(t, store)

	k1 := createComponent(t, store, doc.ID, "K1", 6)
	x10 := createComponent(t, store, doc.ID, "X10", 6)
	createComponent(t, store, doc.ID, "M3", 7) // unrelated

	from, to := "K1", "X10"
	conn := &storage.Connection{
		DocumentID:      doc.ID,
		FromComponentID: &k1.ID,
		ToComponentID:   &x10.ID,
		FromMark:        &from,
		ToMark:          &to,
		PageIndex:       6,
	}
	require.NoError(t, store.Connections.Create(ctx, conn))

	rec := doRequest(t, server, httptest.NewRequest(http.MethodGet, "/api/trace/"+k1.ID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TraceResponseDTO
	decodeBody(t, rec, &resp)
	assert.Equal(t, "K1", resp.Component.Mark)
	require.Len(t, resp.Connections, 1)
	require.Len(t, resp.ConnectedComponents, 1)
	assert.Equal(t, "X10", resp.ConnectedComponents[0].Mark)
}

func TestTraceByMark(t *testing.T) {
	server, store := newTestServer(t)
	doc := createDocument(t, store)
	createComponent(t, store, doc.ID, "K1", 6)

	url := fmt.Sprintf("/api/trace/mark/K1?schematic_file_id=%s", doc.ID)
	rec := doRequest(t, server, httptest.NewRequest(http.MethodGet, url, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TraceResponseDTO
	decodeBody(t, rec, &resp)
	assert.Equal(t, "K1", resp.Component.Mark)
	assert.Empty(t, resp.Connections)
}

func TestTraceByMarkNotFound(t *testing.T) {
	server, store := newTestServer(t)
	doc := createDocument(t, store)

	url := fmt.Sprintf("/api/trace/mark/ZZ99?schematic_file_id=%s", doc.ID)
	rec := doRequest(t, server, httptest.NewRequest(http.MethodGet, url, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportJSON(t *testing.T) {
	server, store := newTestServer(t)
	doc := createDocument(t, store)
	createComponent(t, store, doc.ID, "K1", 6)

	rec := doRequest(t, server, httptest.NewRequest(http.MethodGet, "/api/export/"+doc.ID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		SchematicFile map[string]any       `json:"schematic_file"`
		Components    []*storage.Component `json:"components"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, "schematic.pdf", resp.SchematicFile["filename"])
	require.Len(t, resp.Components, 1)
	assert.Equal(t, "K1", resp.Components[0].Mark)
}

func TestExportCSV(t *testing.T) {
	server, store := newTestServer(t)
	doc := createDocument(t, store)
	createComponent(t, store, doc.ID, "K1", 6)

	url := fmt.Sprintf("/api/export/%s?format=csv", doc.ID)
	rec := doRequest(t, server, httptest.NewRequest(http.MethodGet, url, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "--- COMPONENTS ---")
	assert.Contains(t, rec.Body.String(), "K1")
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	server, store := newTestServer(t)
	doc := createDocument(t, store)

	url := fmt.Sprintf("/api/export/%s?format=xml", doc.ID)
	rec := doRequest(t, server, httptest.NewRequest(http.MethodGet, url, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
