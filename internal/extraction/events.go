// Package extraction drives the end-to-end schematic extraction workflow:
// sequential page processing over the recognition backend, incremental
// persistence, an ordered event stream, and the post-pass that resolves
// textual component references into stored identifiers.
package extraction

import (
	"time"

	"github.com/google/uuid"

	"github.com/tracewire/schematic-extractor/internal/storage"
)

// EventType tags one entry of the extraction event stream.
type EventType string

const (
	EventProgress     EventType = "progress"
	EventPageMapping  EventType = "page_mapping"
	EventComponent    EventType = "component"
	EventConnection   EventType = "connection"
	EventWireLabel    EventType = "wire_label"
	EventContinuation EventType = "continuation"
	EventValidation   EventType = "validation"
	EventError        EventType = "error"
	EventComplete     EventType = "complete"
)

// Event is one entry of the stream. Seq numbers are strictly sequential
// starting at 1 per invocation, so a consumer can detect gaps a transport
// layer introduced.
type Event struct {
	Seq        int64     `json:"seq"`
	Type       EventType `json:"type"`
	DocumentID uuid.UUID `json:"schematic_file_id"`
	Timestamp  time.Time `json:"timestamp"`
	Data       any       `json:"data"`
}

// ProgressData reports pipeline phase changes and page counters.
type ProgressData struct {
	Status         string `json:"status"`
	Message        string `json:"message,omitempty"`
	CurrentPage    *int   `json:"current_page,omitempty"`
	SheetNumber    *int   `json:"schematic_page,omitempty"`
	PagesTotal     int    `json:"pages_total,omitempty"`
	PagesProcessed int    `json:"pages_processed"`
	Percent        int    `json:"percent,omitempty"`
}

// PageMappingData carries the full detected metadata batch.
type PageMappingData struct {
	Pages []*storage.Page `json:"pages"`
}

// ErrorData reports one failure, page-scoped or pipeline-level.
type ErrorData struct {
	Page    *int   `json:"page,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"error"`
}

// CompleteData carries the final aggregate counts.
type CompleteData struct {
	Status           string `json:"status"`
	PagesProcessed   int    `json:"pages_processed"`
	TotalComponents  int    `json:"total_components"`
	TotalConnections int    `json:"total_connections"`
	TotalWireLabels  int    `json:"total_wire_labels"`
}
