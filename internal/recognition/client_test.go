package recognition

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracewire/schematic-extractor/internal/config"
	"github.com/tracewire/schematic-extractor/internal/observability"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c := NewClient(config.RecognitionConfig{
		APIKey:      "test-key",
		BaseURL:     baseURL,
		Model:       "test-pro",
		FlashModel:  "test-flash",
		Temperature: 0.1,
		Timeout:     5 * time.Second,
		MaxRetries:  3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}, NewHandleCache(), observability.Nop())
	c.pollInterval = time.Millisecond
	return c
}

func writeTempPDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schematic.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 fake"), 0o644))
	return path
}

func candidateResponse(t *testing.T, payload any) []byte {
	t.Helper()
	text, err := json.Marshal(payload)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]any{{"text": string(text)}}}},
		},
	})
	require.NoError(t, err)
	return body
}

func TestRegisterPollsUntilActive(t *testing.T) {
	var polls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/upload/v1beta/files":
			assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
			assert.Equal(t, "raw", r.Header.Get("X-Goog-Upload-Protocol"))
			json.NewEncoder(w).Encode(map[string]any{
				"file": map[string]any{
					"name":  "files/abc123",
					"uri":   "https://files.test/abc123",
					"state": "PROCESSING",
				},
			})
		case r.Method == http.MethodGet && r.URL.Path == "/v1beta/files/abc123":
			state := "PROCESSING"
			if atomic.AddInt32(&polls, 1) >= 2 {
				state = "ACTIVE"
			}
			json.NewEncoder(w).Encode(map[string]any{
				"name":  "files/abc123",
				"uri":   "https://files.test/abc123",
				"state": state,
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	path := writeTempPDF(t)

	handle, err := c.Register(context.Background(), path, "schematic.pdf")
	require.NoError(t, err)
	assert.Equal(t, "https://files.test/abc123", handle)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&polls), int32(2))
}

func TestRegisterReusesHandle(t *testing.T) {
	var uploads int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&uploads, 1)
		json.NewEncoder(w).Encode(map[string]any{
			"file": map[string]any{
				"name":  "files/abc123",
				"uri":   "https://files.test/abc123",
				"state": "ACTIVE",
			},
		})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	path := writeTempPDF(t)

	first, err := c.Register(context.Background(), path, "")
	require.NoError(t, err)
	second, err := c.Register(context.Background(), path, "")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&uploads))
}

func TestRegisterAfterForgetUploadsAgain(t *testing.T) {
	var uploads int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&uploads, 1)
		json.NewEncoder(w).Encode(map[string]any{
			"file": map[string]any{
				"name":  fmt.Sprintf("files/gen%d", n),
				"uri":   fmt.Sprintf("https://files.test/gen%d", n),
				"state": "ACTIVE",
			},
		})
	}))
	defer srv.Close()

	handles := NewHandleCache()
	c := testClient(t, srv.URL)
	c.handles = handles
	path := writeTempPDF(t)

	first, err := c.Register(context.Background(), path, "")
	require.NoError(t, err)

	// Replacing the file on disk invalidates its handle.
	handles.Forget(path)

	second, err := c.Register(context.Background(), path, "")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, int32(2), atomic.LoadInt32(&uploads))
}

func TestRegisterFailedProcessing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"file": map[string]any{
				"name":  "files/bad",
				"uri":   "https://files.test/bad",
				"state": "FAILED",
			},
		})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Register(context.Background(), writeTempPDF(t), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote processing failed")
}

func TestExtractPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1beta/models/test-pro:generateContent", r.URL.Path)

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents, 1)
		require.Len(t, req.Contents[0].Parts, 2)
		assert.Equal(t, "https://files.test/abc123", req.Contents[0].Parts[0].FileData.FileURI)
		assert.Contains(t, req.Contents[0].Parts[1].Text, "PDF page 7")
		assert.Contains(t, req.Contents[0].Parts[1].Text, "SYMBOL LEGEND TEXT")
		assert.Equal(t, "application/json", req.GenerationConfig.ResponseMIMEType)

		w.Write(candidateResponse(t, map[string]any{
			"components": []map[string]any{
				{"mark": "MC1", "name": "Magnetic Contactor", "x": 120.5, "y": 340.0},
				{"mark": "SOL-1"},
			},
			"connections": []map[string]any{
				{"from_component_mark": "MC1", "to_component_mark": "SOL-1", "wire_label": "W101"},
			},
			"wire_labels": []map[string]any{
				{"label": "W101", "x": 200.0, "y": 350.0},
			},
			"continuations": []map[string]any{
				{"from_component_mark": "MC1", "to_page_hint": "P.12", "direction": "to"},
			},
		}))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	payload, err := c.ExtractPage(context.Background(), ExtractRequest{
		Handle:      "https://files.test/abc123",
		PageIndex:   6,
		ContextText: "SYMBOL LEGEND TEXT",
		PageMapping: map[int]int{6: 25},
	})
	require.NoError(t, err)

	require.Len(t, payload.Components, 2)
	assert.Equal(t, "MC1", payload.Components[0].Mark)
	require.NotNil(t, payload.Components[0].X)
	assert.InDelta(t, 120.5, *payload.Components[0].X, 1e-9)
	assert.Nil(t, payload.Components[1].X)

	require.Len(t, payload.Connections, 1)
	require.NotNil(t, payload.Connections[0].WireLabel)
	assert.Equal(t, "W101", *payload.Connections[0].WireLabel)

	require.Len(t, payload.WireLabels, 1)
	require.Len(t, payload.Continuations, 1)

	// page_info was absent from the answer, so the client fills it in
	require.NotNil(t, payload.PageInfo)
	assert.Equal(t, 6, payload.PageInfo.PDFPageIndex)
}

func TestExtractPageRetriesThenFails(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.ExtractPage(context.Background(), ExtractRequest{Handle: "h", PageIndex: 3})
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.True(t, strings.Contains(err.Error(), "page 3"))
}

func TestExtractPageDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.ExtractPage(context.Background(), ExtractRequest{Handle: "h", PageIndex: 0})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDetectPageMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1beta/models/test-flash:generateContent", r.URL.Path)
		w.Write(candidateResponse(t, map[string]any{
			"pages": []map[string]any{
				{"pdf_page_index": 6, "schematic_page_number": 25, "total_pages": 207, "confidence": 0.95},
				{"pdf_page_index": 7, "drawing_no": "E-102"},
			},
		}))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	metas := c.DetectPageMetadata(context.Background(), "h", []int{6, 7, 8})
	require.Len(t, metas, 3)

	require.NotNil(t, metas[0].SheetNumber)
	assert.Equal(t, 25, *metas[0].SheetNumber)
	assert.InDelta(t, 0.95, metas[0].Confidence, 1e-9)

	// confidence omitted
	assert.Nil(t, metas[1].SheetNumber)
	require.NotNil(t, metas[1].DrawingNo)
	assert.Equal(t, "E-102", *metas[1].DrawingNo)
	assert.Zero(t, metas[1].Confidence)

	// page 8 missing from the answer -> null entry
	assert.Equal(t, 8, metas[2].PageIndex)
	assert.Nil(t, metas[2].SheetNumber)
	assert.Zero(t, metas[2].Confidence)
}

func TestDetectPageMetadataDegradesOnOutage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	metas := c.DetectPageMetadata(context.Background(), "h", []int{1, 2})
	require.Len(t, metas, 2)
	for i, meta := range metas {
		assert.Equal(t, []int{1, 2}[i], meta.PageIndex)
		assert.Nil(t, meta.SheetNumber)
		assert.Nil(t, meta.DrawingNo)
		assert.Zero(t, meta.Confidence)
	}
}
