// Package storage provides database models and repositories for the
// schematic extractor.
package storage

import (
	"time"

	"github.com/google/uuid"
)

// ExtractionStatus is the lifecycle state of a document's extraction.
type ExtractionStatus string

const (
	StatusPending    ExtractionStatus = "pending"
	StatusInProgress ExtractionStatus = "in_progress"
	StatusCompleted  ExtractionStatus = "completed"
	StatusFailed     ExtractionStatus = "failed"
	StatusPartial    ExtractionStatus = "partial"
	StatusCancelled  ExtractionStatus = "cancelled"
)

// ValidationStatus is the outcome of one validation pass.
type ValidationStatus string

const (
	ValidationPass    ValidationStatus = "pass"
	ValidationWarning ValidationStatus = "warning"
	ValidationFail    ValidationStatus = "fail"
)

// Validation scopes.
const (
	ValidationScopePage     = "page"
	ValidationScopeDocument = "full_file"
)

// Severity levels for validation discrepancies.
const (
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// UnknownMark is the sentinel the recognition model emits when it cannot
// read a component's mark.
const UnknownMark = "UNKNOWN"

// Machine groups documents by the machine or line they describe.
type Machine struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Document is one uploaded schematic PDF.
type Document struct {
	ID             uuid.UUID        `json:"id"`
	MachineID      uuid.UUID        `json:"machine_id"`
	Filename       string           `json:"filename"`
	Filepath       string           `json:"filepath"`
	FileHash       string           `json:"file_hash"` // SHA-256, used for dedup
	ContextPages   []int            `json:"context_pages,omitempty"`
	RemoteHandle   *string          `json:"remote_handle,omitempty"` // set once registered with the recognition service
	Status         ExtractionStatus `json:"extraction_status"`
	StartedAt      *time.Time       `json:"extraction_started_at,omitempty"`
	CompletedAt    *time.Time       `json:"extraction_completed_at,omitempty"`
	PagesProcessed int              `json:"pages_processed"`
	UploadedAt     time.Time        `json:"uploaded_at"`
}

// Page is one page within a document. SheetNumber is the logical page
// number read from the title block, distinct from the 0-based PageIndex.
type Page struct {
	ID                  uuid.UUID  `json:"id"`
	DocumentID          uuid.UUID  `json:"document_id"`
	PageIndex           int        `json:"page_index"`
	SheetNumber         *int       `json:"sheet_number,omitempty"`
	SheetTotal          *int       `json:"sheet_total,omitempty"`
	DrawingNo           *string    `json:"drawing_no,omitempty"`
	DrawingTitle        *string    `json:"drawing_title,omitempty"`
	Width               float64    `json:"width"`
	Height              float64    `json:"height"`
	DetectionConfidence float64    `json:"detection_confidence"`
	Processed           bool       `json:"processed"`
	DetectedAt          time.Time  `json:"detected_at"`
}

// Component is one recognized circuit element. Marks repeat across pages
// (cross-page continuations) but are unique within one page.
type Component struct {
	ID          uuid.UUID `json:"id"`
	DocumentID  uuid.UUID `json:"document_id"`
	Symbol      *string   `json:"symbol,omitempty"`
	Name        *string   `json:"name,omitempty"`
	Mark        string    `json:"mark"`
	Type        *string   `json:"type,omitempty"`
	PageIndex   int       `json:"page_index"`
	SheetNumber *int      `json:"sheet_number,omitempty"`
	X           *float64  `json:"x,omitempty"`
	Y           *float64  `json:"y,omitempty"`
	Width       *float64  `json:"width,omitempty"`
	Height      *float64  `json:"height,omitempty"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Connection is a wire between two components, or a dangling reference.
// The raw marks are the immutable ground truth from extraction; the
// component ids are filled in later by the reference resolver.
type Connection struct {
	ID              uuid.UUID   `json:"id"`
	DocumentID      uuid.UUID   `json:"document_id"`
	FromComponentID *uuid.UUID  `json:"from_component_id,omitempty"`
	ToComponentID   *uuid.UUID  `json:"to_component_id,omitempty"`
	FromMark        *string     `json:"from_component_mark,omitempty"`
	ToMark          *string     `json:"to_component_mark,omitempty"`
	WireLabel       *string     `json:"wire_label,omitempty"`
	TerminalFrom    *string     `json:"terminal_from,omitempty"`
	TerminalTo      *string     `json:"terminal_to,omitempty"`
	PageIndex       int         `json:"page_index"`
	SheetNumber     *int        `json:"sheet_number,omitempty"`
	Path            [][]float64 `json:"path,omitempty"`
	External        bool        `json:"is_external"`
	CreatedAt       time.Time   `json:"created_at"`
}

// WireLabel is a wire number glyph with a position.
type WireLabel struct {
	ID          uuid.UUID `json:"id"`
	DocumentID  uuid.UUID `json:"document_id"`
	Label       string    `json:"label"`
	PageIndex   int       `json:"page_index"`
	SheetNumber *int      `json:"sheet_number,omitempty"`
	X           *float64  `json:"x,omitempty"`
	Y           *float64  `json:"y,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Continuation marks a wire that logically continues on another page.
type Continuation struct {
	ID          uuid.UUID `json:"id"`
	DocumentID  uuid.UUID `json:"document_id"`
	FromMark    *string   `json:"from_component_mark,omitempty"`
	PageIndex   int       `json:"page_index"`
	SheetNumber *int      `json:"sheet_number,omitempty"`
	ToPageHint  *string   `json:"to_page_hint,omitempty"`
	Direction   *string   `json:"direction,omitempty"`
	External    bool      `json:"is_external"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExtractionError is an append-only record of one failed page attempt.
type ExtractionError struct {
	ID         uuid.UUID      `json:"id"`
	DocumentID uuid.UUID      `json:"document_id"`
	PageIndex  *int           `json:"page_index,omitempty"`
	Category   string         `json:"error_type"`
	Message    string         `json:"error_message"`
	Details    map[string]any `json:"error_details,omitempty"`
	RetryCount int            `json:"retry_count"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Discrepancy is one structured finding inside a validation result.
type Discrepancy struct {
	Type        string     `json:"type"`
	Message     string     `json:"message"`
	Severity    string     `json:"severity"`
	Count       int        `json:"count,omitempty"`
	Marks       []string   `json:"marks,omitempty"`
	ComponentID *uuid.UUID `json:"component_id,omitempty"`
}

// ValidationResult is one QC finding set, scoped to a page or to the
// whole document (PageIndex nil).
type ValidationResult struct {
	ID            uuid.UUID        `json:"id"`
	DocumentID    uuid.UUID        `json:"document_id"`
	PageIndex     *int             `json:"page_index,omitempty"`
	Scope         string           `json:"validation_type"`
	Status        ValidationStatus `json:"status"`
	Confidence    float64          `json:"confidence_score"`
	Discrepancies []Discrepancy    `json:"discrepancies"`
	ValidatedAt   time.Time        `json:"validated_at"`
}
