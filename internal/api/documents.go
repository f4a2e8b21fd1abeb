package api

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tracewire/schematic-extractor/internal/cache"
	"github.com/tracewire/schematic-extractor/internal/config"
	"github.com/tracewire/schematic-extractor/internal/observability"
	"github.com/tracewire/schematic-extractor/internal/recognition"
	"github.com/tracewire/schematic-extractor/internal/storage"
)

// DocumentHandler handles schematic uploads and replacement.
type DocumentHandler struct {
	logger  *observability.Logger
	store   *storage.Store
	handles *recognition.HandleCache
	cache   cache.Client
	uploads config.UploadsConfig
}

// UploadResponseDTO is the response for an upload.
type UploadResponseDTO struct {
	DocumentID      string `json:"schematic_file_id"`
	IsDuplicate     bool   `json:"is_duplicate"`
	Filename        string `json:"filename,omitempty"`
	ExistingMachine string `json:"existing_machine,omitempty"`
	Message         string `json:"message"`
}

// Upload handles POST /api/upload. Duplicate content, detected by SHA-256,
// returns the existing document instead of creating a second one.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	maxBytes := int64(h.uploads.MaxSizeMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided", "")
		return
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	if filename == "" {
		writeError(w, http.StatusBadRequest, "no file selected", "")
		return
	}
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		writeError(w, http.StatusBadRequest, "file type not allowed, only PDF files are accepted", "")
		return
	}

	machineName := strings.TrimSpace(r.FormValue("machine_name"))
	if machineName == "" {
		writeError(w, http.StatusBadRequest, "machine_name is required", "")
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file", err.Error())
		return
	}
	sum := sha256.Sum256(content)
	fileHash := hex.EncodeToString(sum[:])

	machine, err := h.store.Machines.GetOrCreate(ctx, machineName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve machine", err.Error())
		return
	}

	if existing, err := h.store.Documents.GetByHash(ctx, fileHash); err == nil {
		resp := UploadResponseDTO{
			DocumentID:  existing.ID.String(),
			IsDuplicate: true,
			Message:     "this PDF was already uploaded",
		}
		if existing.MachineID == machine.ID {
			resp.ExistingMachine = machineName
		}
		writeJSON(w, http.StatusOK, resp)
		return
	} else if !errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "duplicate check failed", err.Error())
		return
	}

	path, err := h.saveFile(machineName, filename, content)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store file", err.Error())
		return
	}

	doc := &storage.Document{
		MachineID: machine.ID,
		Filename:  filename,
		Filepath:  path,
		FileHash:  fileHash,
		Status:    storage.StatusPending,
	}
	if err := h.store.Documents.Create(ctx, doc); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record upload", err.Error())
		return
	}

	h.logger.Info().
		Str("document_id", doc.ID.String()).
		Str("machine", machineName).
		Str("filename", filename).
		Msg("PDF uploaded")

	writeJSON(w, http.StatusCreated, UploadResponseDTO{
		DocumentID:  doc.ID.String(),
		IsDuplicate: false,
		Filename:    filename,
		Message:     "file uploaded successfully",
	})
}

// Replace handles POST /api/upload/{documentID}/replace. New content wipes
// every derived row (pages, components, connections, labels, continuations,
// errors, validation results) and resets extraction state.
func (h *DocumentHandler) Replace(w http.ResponseWriter, r *http.Request) {
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
		writeError(w, http.StatusConflict, "extraction in progress", "cancel the extraction before replacing the file")
		return
	}

	maxBytes := int64(h.uploads.MaxSizeMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}

	filename := doc.Filename
	path := doc.Filepath
	fileHash := doc.FileHash

	// The file part is optional: replace without one simply clears the
	// extraction data for a re-run against the same PDF.
	if file, header, err := r.FormFile("file"); err == nil {
		defer file.Close()
		content, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read file", err.Error())
			return
		}
		sum := sha256.Sum256(content)
		fileHash = hex.EncodeToString(sum[:])
		filename = sanitizeFilename(header.Filename)
		if err := os.WriteFile(path, content, 0o644); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to store file", err.Error())
			return
		}
	}

	if err := h.store.Documents.ReplaceContent(ctx, docID, filename, path, fileHash); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset document", err.Error())
		return
	}

	// The recognizer's upload handle points at the old bytes now.
	if h.handles != nil {
		h.handles.Forget(path)
	}

	// Drop cached renders for the old content.
	if err := h.cache.DeleteByPrefix(ctx, "overlay:"+docID.String()); err != nil {
		h.logger.Warn().Err(err).Str("document_id", docID.String()).Msg("cache invalidation failed")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"schematic_file_id": docID.String(),
		"message":           "ready for re-extraction",
	})
}

// saveFile writes the upload under <dir>/<machine>/, resolving filename
// collisions with a numeric suffix.
func (h *DocumentHandler) saveFile(machineName, filename string, content []byte) (string, error) {
	dir := filepath.Join(h.uploads.Dir, sanitizeFilename(machineName))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, filename)
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, counter, ext))
	}

	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// sanitizeFilename strips path components and characters that are unsafe in
// a filesystem name.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	cleaned := strings.Trim(b.String(), "._")
	if cleaned == "." || cleaned == ".." {
		return ""
	}
	return cleaned
}
