// Package validate inspects persisted extraction results for completeness,
// bounds-safety, and referential integrity. Findings are advisory by
// design: recognition is imperfect, so everything except a completely
// empty extraction is warning severity.
package validate

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tracewire/schematic-extractor/internal/observability"
	"github.com/tracewire/schematic-extractor/internal/storage"
)

// defaultPageConfidence stands in when no expected counts were supplied.
const defaultPageConfidence = 0.9

// expectedComponentsPerPage feeds the document confidence heuristic.
const expectedComponentsPerPage = 5.0

// Engine runs QC passes over a document's stored records.
type Engine struct {
	store *storage.Store
	log   *observability.Logger
}

// NewEngine creates a validation engine over the given store.
func NewEngine(store *storage.Store, log *observability.Logger) *Engine {
	if log == nil {
		log = observability.Nop()
	}
	return &Engine{store: store, log: log.WithComponent("validate")}
}

// ExpectedCounts are caller-supplied ground-truth counts for a page. Zero
// values mean "no expectation for this collection".
type ExpectedCounts struct {
	Components  int
	Connections int
	WireLabels  int
}

// ValidatePage checks one page's records and persists the result.
func (e *Engine) ValidatePage(ctx context.Context, documentID uuid.UUID, pageIndex int, expected *ExpectedCounts) (*storage.ValidationResult, error) {
	var discrepancies []storage.Discrepancy

	components, err := e.store.Components.ListByPage(ctx, documentID, pageIndex)
	if err != nil {
		return nil, err
	}

	if len(components) == 0 {
		discrepancies = append(discrepancies, storage.Discrepancy{
			Type:     "no_components",
			Message:  fmt.Sprintf("No components extracted from page %d", pageIndex+1),
			Severity: storage.SeverityWarning,
		})
	}

	coordIssues, err := e.checkCoordinates(ctx, documentID, pageIndex, components)
	if err != nil {
		return nil, err
	}
	discrepancies = append(discrepancies, coordIssues...)

	missingMarks := 0
	for _, c := range components {
		if c.Mark == "" || c.Mark == storage.UnknownMark {
			missingMarks++
		}
	}
	if missingMarks > 0 {
		discrepancies = append(discrepancies, storage.Discrepancy{
			Type:     "missing_marks",
			Message:  fmt.Sprintf("%d components have missing or unknown marks", missingMarks),
			Severity: storage.SeverityWarning,
			Count:    missingMarks,
		})
	}

	labels, err := e.store.WireLabels.ListByPage(ctx, documentID, pageIndex)
	if err != nil {
		return nil, err
	}
	missingLabels := 0
	for _, w := range labels {
		if w.Label == "" || w.Label == "?" {
			missingLabels++
		}
	}
	if missingLabels > 0 {
		discrepancies = append(discrepancies, storage.Discrepancy{
			Type:     "missing_wire_labels",
			Message:  fmt.Sprintf("%d wire labels have no label text", missingLabels),
			Severity: storage.SeverityWarning,
			Count:    missingLabels,
		})
	}

	confidence := defaultPageConfidence
	if expected != nil {
		var ratios []float64
		if expected.Components > 0 {
			ratios = append(ratios, cappedRatio(len(components), expected.Components))
		}
		if expected.Connections > 0 {
			n, err := e.store.Connections.ListByPage(ctx, documentID, pageIndex)
			if err != nil {
				return nil, err
			}
			ratios = append(ratios, cappedRatio(len(n), expected.Connections))
		}
		if expected.WireLabels > 0 {
			ratios = append(ratios, cappedRatio(len(labels), expected.WireLabels))
		}
		if len(ratios) > 0 {
			sum := 0.0
			for _, r := range ratios {
				sum += r
			}
			confidence = sum / float64(len(ratios))
		}
	}

	idx := pageIndex
	result := &storage.ValidationResult{
		DocumentID:    documentID,
		PageIndex:     &idx,
		Scope:         storage.ValidationScopePage,
		Status:        deriveStatus(discrepancies),
		Confidence:    confidence,
		Discrepancies: discrepancies,
	}
	if err := e.store.Validations.Create(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ValidateDocument checks the whole document and persists the result. An
// extraction that produced nothing at all is the one hard failure.
func (e *Engine) ValidateDocument(ctx context.Context, doc *storage.Document) (*storage.ValidationResult, error) {
	var discrepancies []storage.Discrepancy

	totalComponents, err := e.store.Components.CountByDocument(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if totalComponents == 0 {
		discrepancies = append(discrepancies, storage.Discrepancy{
			Type:     "empty_extraction",
			Message:  "No components were extracted",
			Severity: storage.SeverityError,
		})
	}

	orphans, err := e.countOrphanedConnections(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if orphans > 0 {
		discrepancies = append(discrepancies, storage.Discrepancy{
			Type:     "orphaned_connections",
			Message:  fmt.Sprintf("%d connections reference unknown components", orphans),
			Severity: storage.SeverityWarning,
			Count:    orphans,
		})
	}

	duplicates, err := e.store.Components.DuplicateMarks(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if len(duplicates) > 0 {
		shown := duplicates
		if len(shown) > 5 {
			shown = shown[:5]
		}
		discrepancies = append(discrepancies, storage.Discrepancy{
			Type:     "duplicate_marks",
			Message:  fmt.Sprintf("Found duplicate component marks: %s", strings.Join(shown, ", ")),
			Severity: storage.SeverityWarning,
			Marks:    duplicates,
		})
	}

	confidence := 0.0
	if doc.PagesProcessed > 0 {
		avg := float64(totalComponents) / float64(doc.PagesProcessed)
		confidence = avg / expectedComponentsPerPage
		if confidence > 1.0 {
			confidence = 1.0
		}
	}

	result := &storage.ValidationResult{
		DocumentID:    doc.ID,
		Scope:         storage.ValidationScopeDocument,
		Status:        deriveStatus(discrepancies),
		Confidence:    confidence,
		Discrepancies: discrepancies,
	}
	if err := e.store.Validations.Create(ctx, result); err != nil {
		return nil, err
	}

	e.log.Info().
		Str("document_id", doc.ID.String()).
		Str("status", string(result.Status)).
		Int("discrepancies", len(discrepancies)).
		Msg("document validation finished")

	return result, nil
}

// Summary aggregates every validation result stored for a document.
type Summary struct {
	TotalValidations int                   `json:"total_validations"`
	Passed           int                   `json:"passed"`
	Warnings         int                   `json:"warnings"`
	Failed           int                   `json:"failed"`
	AvgConfidence    float64               `json:"avg_confidence"`
	Discrepancies    []storage.Discrepancy `json:"all_discrepancies"`
}

// Summarize rolls up all stored validation results for a document.
func (e *Engine) Summarize(ctx context.Context, documentID uuid.UUID) (*Summary, error) {
	results, err := e.store.Validations.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	s := &Summary{TotalValidations: len(results)}
	confidenceSum := 0.0
	for _, r := range results {
		switch r.Status {
		case storage.ValidationPass:
			s.Passed++
		case storage.ValidationWarning:
			s.Warnings++
		case storage.ValidationFail:
			s.Failed++
		}
		confidenceSum += r.Confidence
		s.Discrepancies = append(s.Discrepancies, r.Discrepancies...)
	}
	if len(results) > 0 {
		s.AvgConfidence = confidenceSum / float64(len(results))
	}
	return s, nil
}

func (e *Engine) checkCoordinates(ctx context.Context, documentID uuid.UUID, pageIndex int, components []*storage.Component) ([]storage.Discrepancy, error) {
	page, err := e.store.Pages.GetByIndex(ctx, documentID, pageIndex)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	if page.Width == 0 || page.Height == 0 {
		return nil, nil
	}

	var issues []storage.Discrepancy
	for _, c := range components {
		if c.X != nil && (*c.X < 0 || *c.X > page.Width) {
			id := c.ID
			issues = append(issues, storage.Discrepancy{
				Type:        "coord_out_of_bounds",
				Message:     fmt.Sprintf("Component %s has x=%g outside page width %g", c.Mark, *c.X, page.Width),
				Severity:    storage.SeverityWarning,
				ComponentID: &id,
			})
		}
		if c.Y != nil && (*c.Y < 0 || *c.Y > page.Height) {
			id := c.ID
			issues = append(issues, storage.Discrepancy{
				Type:        "coord_out_of_bounds",
				Message:     fmt.Sprintf("Component %s has y=%g outside page height %g", c.Mark, *c.Y, page.Height),
				Severity:    storage.SeverityWarning,
				ComponentID: &id,
			})
		}
	}
	return issues, nil
}

// countOrphanedConnections counts endpoint marks that match no component
// and are not flagged external. Each dangling endpoint counts separately.
func (e *Engine) countOrphanedConnections(ctx context.Context, documentID uuid.UUID) (int, error) {
	components, err := e.store.Components.ListByDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}
	marks := make(map[string]bool, len(components))
	for _, c := range components {
		marks[c.Mark] = true
	}

	connections, err := e.store.Connections.ListByDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}

	orphans := 0
	for _, conn := range connections {
		if conn.External {
			continue
		}
		if conn.FromMark != nil && *conn.FromMark != "" && !marks[*conn.FromMark] {
			orphans++
		}
		if conn.ToMark != nil && *conn.ToMark != "" && !marks[*conn.ToMark] {
			orphans++
		}
	}
	return orphans, nil
}

func deriveStatus(discrepancies []storage.Discrepancy) storage.ValidationStatus {
	for _, d := range discrepancies {
		if d.Severity == storage.SeverityError {
			return storage.ValidationFail
		}
	}
	if len(discrepancies) > 0 {
		return storage.ValidationWarning
	}
	return storage.ValidationPass
}

func cappedRatio(actual, expected int) float64 {
	r := float64(actual) / float64(expected)
	if r > 1.0 {
		r = 1.0
	}
	return r
}
