package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tracewire/schematic-extractor/internal/config"
	"github.com/tracewire/schematic-extractor/internal/domain"
	"github.com/tracewire/schematic-extractor/internal/observability"
)

// Service is what the extraction pipeline needs from the recognition
// backend. *Client implements it against the Gemini REST API.
type Service interface {
	// Register uploads a document and returns an opaque handle for later
	// calls. Handles are reusable across extraction runs.
	Register(ctx context.Context, path, displayName string) (string, error)
	// DetectPageMetadata reads title-block data for a batch of pages. It
	// degrades instead of failing: unreadable pages come back with nil
	// fields, and a backend outage yields one such entry per requested page.
	DetectPageMetadata(ctx context.Context, handle string, pageIndexes []int) []PageMetadata
	// ExtractPage pulls the structured circuit data of one page. Errors
	// surface after retries are exhausted.
	ExtractPage(ctx context.Context, req ExtractRequest) (*PagePayload, error)
}

// PageMetadata is one page's title-block reading.
type PageMetadata struct {
	PageIndex    int
	SheetNumber  *int
	SheetTotal   *int
	DrawingNo    *string
	DrawingTitle *string
	Confidence   float64
}

// ExtractRequest names one page extraction.
type ExtractRequest struct {
	Handle      string
	PageIndex   int
	ContextText string
	PageMapping map[int]int // pdf page index -> schematic page number
}

// Client talks to the Gemini REST API.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	flashModel  string
	temperature float64
	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration

	pollInterval time.Duration
	httpClient   *http.Client
	log          *observability.Logger

	handles *HandleCache
}

// NewClient creates a recognition client from configuration. The handle
// cache is supplied by the caller, who decides how long registrations stay
// valid; a nil cache gets a private one.
func NewClient(cfg config.RecognitionConfig, handles *HandleCache, log *observability.Logger) *Client {
	if log == nil {
		log = observability.Nop()
	}
	if handles == nil {
		handles = NewHandleCache()
	}
	return &Client{
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		model:        cfg.Model,
		flashModel:   cfg.FlashModel,
		temperature:  cfg.Temperature,
		maxRetries:   cfg.MaxRetries,
		baseDelay:    cfg.BaseDelay,
		maxDelay:     cfg.MaxDelay,
		pollInterval: time.Second,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		log:          log.WithComponent("recognition"),
		handles:      handles,
	}
}

type remoteFile struct {
	Name  string `json:"name"`
	URI   string `json:"uri"`
	State string `json:"state"`
}

// Register uploads the PDF to the Files API and waits until the backend
// marks it ACTIVE. Repeated calls for the same path reuse the cached handle.
func (c *Client) Register(ctx context.Context, path, displayName string) (string, error) {
	if handle, ok := c.handles.Get(path); ok {
		return handle, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", domain.UploadError(fmt.Sprintf("read %s", path), err)
	}
	if displayName == "" {
		displayName = filepath.Base(path)
	}

	resp, err := c.retryWithBackoff(ctx, "upload", func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/upload/v1beta/files", bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/pdf")
		req.Header.Set("X-Goog-Upload-Protocol", "raw")
		req.Header.Set("X-Goog-File-Name", displayName)
		req.Header.Set("x-goog-api-key", c.apiKey)
		return c.httpClient.Do(req)
	})
	if err != nil {
		return "", domain.UploadError("file upload failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", domain.UploadError(fmt.Sprintf("file upload returned HTTP %d: %s", resp.StatusCode, body), nil)
	}

	var uploaded struct {
		File remoteFile `json:"file"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return "", domain.UploadError("decode upload response", err)
	}

	file := uploaded.File
	for file.State == "PROCESSING" {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}
		file, err = c.getFile(ctx, file.Name)
		if err != nil {
			return "", err
		}
	}
	if file.State == "FAILED" {
		return "", domain.UploadError(fmt.Sprintf("remote processing failed for %s", displayName), nil)
	}

	c.log.Info().Str("file", displayName).Str("handle", file.URI).Msg("document registered")

	c.handles.Put(path, file.URI)

	return file.URI, nil
}

func (c *Client) getFile(ctx context.Context, name string) (remoteFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1beta/"+name, nil)
	if err != nil {
		return remoteFile{}, err
	}
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return remoteFile{}, domain.UploadError("poll file state", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return remoteFile{}, domain.UploadError(fmt.Sprintf("poll file state returned HTTP %d", resp.StatusCode), nil)
	}

	var file remoteFile
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return remoteFile{}, domain.UploadError("decode file state", err)
	}
	return file, nil
}

// DetectPageMetadata asks the flash model for title-block data across a
// batch of pages in one call. Any failure degrades to null entries so the
// caller's pipeline keeps moving.
func (c *Client) DetectPageMetadata(ctx context.Context, handle string, pageIndexes []int) []PageMetadata {
	prompt := buildMetadataPrompt(pageIndexes)

	text, err := c.generate(ctx, c.flashModel, handle, prompt, metadataSchema)
	if err != nil {
		c.log.Warn().Err(err).Ints("pages", pageIndexes).Msg("page metadata detection failed, degrading to null entries")
		return nullMetadata(pageIndexes)
	}

	var parsed struct {
		Pages []struct {
			PDFPageIndex        int      `json:"pdf_page_index"`
			SchematicPageNumber *int     `json:"schematic_page_number"`
			TotalPages          *int     `json:"total_pages"`
			DrawingNo           *string  `json:"drawing_no"`
			DrawingTitle        *string  `json:"drawing_title"`
			Confidence          *float64 `json:"confidence"`
		} `json:"pages"`
	}
	if err := json.Unmarshal(text, &parsed); err != nil {
		c.log.Warn().Err(err).Msg("page metadata response unparseable, degrading to null entries")
		return nullMetadata(pageIndexes)
	}

	byIndex := make(map[int]PageMetadata, len(parsed.Pages))
	for _, p := range parsed.Pages {
		meta := PageMetadata{
			PageIndex:    p.PDFPageIndex,
			SheetNumber:  p.SchematicPageNumber,
			SheetTotal:   p.TotalPages,
			DrawingNo:    p.DrawingNo,
			DrawingTitle: p.DrawingTitle,
		}
		if p.Confidence != nil {
			meta.Confidence = *p.Confidence
		}
		byIndex[p.PDFPageIndex] = meta
	}

	// Absent entries come back with all-null fields and zero confidence.
	out := make([]PageMetadata, 0, len(pageIndexes))
	for _, idx := range pageIndexes {
		if meta, ok := byIndex[idx]; ok {
			out = append(out, meta)
			continue
		}
		out = append(out, PageMetadata{PageIndex: idx})
	}
	return out
}

func nullMetadata(pageIndexes []int) []PageMetadata {
	out := make([]PageMetadata, len(pageIndexes))
	for i, idx := range pageIndexes {
		out[i] = PageMetadata{PageIndex: idx}
	}
	return out
}

// ExtractPage runs the structured extraction call for one page.
func (c *Client) ExtractPage(ctx context.Context, req ExtractRequest) (*PagePayload, error) {
	prompt := buildExtractionPrompt(req.PageIndex, req.ContextText, req.PageMapping)

	text, err := c.generate(ctx, c.model, req.Handle, prompt, extractionSchema)
	if err != nil {
		return nil, domain.ExtractionError(fmt.Sprintf("page %d extraction failed", req.PageIndex), err)
	}

	payload := &PagePayload{}
	if err := json.Unmarshal(text, payload); err != nil {
		return nil, domain.ExtractionError(fmt.Sprintf("page %d returned malformed JSON", req.PageIndex), err)
	}
	if payload.PageInfo == nil {
		payload.PageInfo = &PageInfo{PDFPageIndex: req.PageIndex}
	}
	return payload, nil
}

// Gemini generateContent request/response shapes. Only the fields this
// client reads are declared.
type generateRequest struct {
	Contents         []genContent     `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type genContent struct {
	Role  string    `json:"role"`
	Parts []genPart `json:"parts"`
}

type genPart struct {
	Text     string    `json:"text,omitempty"`
	FileData *fileData `json:"fileData,omitempty"`
}

type fileData struct {
	MIMEType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type generationConfig struct {
	Temperature      float64        `json:"temperature"`
	ResponseMIMEType string         `json:"responseMimeType"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []genPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// generate posts one generateContent call and returns the model's text.
func (c *Client) generate(ctx context.Context, model, handle, prompt string, schema map[string]any) ([]byte, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []genContent{{
			Role: "user",
			Parts: []genPart{
				{FileData: &fileData{MIMEType: "application/pdf", FileURI: handle}},
				{Text: prompt},
			},
		}},
		GenerationConfig: generationConfig{
			Temperature:      c.temperature,
			ResponseMIMEType: "application/json",
			ResponseSchema:   schema,
		},
	})
	if err != nil {
		return nil, domain.APIError("marshal generate request", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, model)
	resp, err := c.retryWithBackoff(ctx, "generate", func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", c.apiKey)
		return c.httpClient.Do(req)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, domain.APIError(fmt.Sprintf("generate returned HTTP %d: %s", resp.StatusCode, respBody), nil)
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, domain.APIError("decode generate response", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, domain.APIError("generate response carried no candidates", nil)
	}
	return []byte(parsed.Candidates[0].Content.Parts[0].Text), nil
}
