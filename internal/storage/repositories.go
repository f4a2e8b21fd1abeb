package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// MachineRepository handles machine/line records.
type MachineRepository struct {
	db DB
}

// GetOrCreate returns the machine with the given name, creating it if needed.
func (r *MachineRepository) GetOrCreate(ctx context.Context, name string) (*Machine, error) {
	m := &Machine{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM machines WHERE name = $1`, name,
	).Scan(&m.ID, &m.Name, &m.CreatedAt)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	m = &Machine{ID: uuid.New(), Name: name, CreatedAt: time.Now().UTC()}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO machines (id, name, created_at) VALUES ($1, $2, $3)`,
		m.ID, m.Name, m.CreatedAt,
	)
	if err != nil {
		return nil, wrapWrite(err)
	}
	return m, nil
}

// DocumentRepository handles uploaded schematic documents.
type DocumentRepository struct {
	db DB
}

const documentColumns = `id, machine_id, filename, filepath, file_hash, context_pages,
	remote_handle, extraction_status, extraction_started_at, extraction_completed_at,
	pages_processed, uploaded_at`

func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	d := &Document{}
	var contextPages sql.NullString
	err := row.Scan(&d.ID, &d.MachineID, &d.Filename, &d.Filepath, &d.FileHash,
		&contextPages, &d.RemoteHandle, &d.Status, &d.StartedAt, &d.CompletedAt,
		&d.PagesProcessed, &d.UploadedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(contextPages, &d.ContextPages); err != nil {
		return nil, err
	}
	return d, nil
}

// Create inserts a new document.
func (r *DocumentRepository) Create(ctx context.Context, d *Document) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = StatusPending
	}
	if d.UploadedAt.IsZero() {
		d.UploadedAt = time.Now().UTC()
	}
	contextPages, err := marshalJSON(d.ContextPages, d.ContextPages == nil)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO documents (id, machine_id, filename, filepath, file_hash, context_pages,
			remote_handle, extraction_status, extraction_started_at, extraction_completed_at,
			pages_processed, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID, d.MachineID, d.Filename, d.Filepath, d.FileHash, contextPages,
		d.RemoteHandle, d.Status, d.StartedAt, d.CompletedAt, d.PagesProcessed, d.UploadedAt,
	)
	return wrapWrite(err)
}

// GetByID retrieves a document by id.
func (r *DocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	d, err := scanDocument(r.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

// GetByHash retrieves a document by its content fingerprint.
func (r *DocumentRepository) GetByHash(ctx context.Context, hash string) (*Document, error) {
	d, err := scanDocument(r.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE file_hash = $1`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

// UpdateStatus persists the lifecycle state and its timestamps.
func (r *DocumentRepository) UpdateStatus(ctx context.Context, d *Document) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE documents
		SET extraction_status = $1, extraction_started_at = $2,
			extraction_completed_at = $3, pages_processed = $4
		WHERE id = $5`,
		d.Status, d.StartedAt, d.CompletedAt, d.PagesProcessed, d.ID,
	)
	return err
}

// SetRemoteHandle records the recognition service's handle for the document.
func (r *DocumentRepository) SetRemoteHandle(ctx context.Context, id uuid.UUID, handle string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE documents SET remote_handle = $1 WHERE id = $2`, handle, id)
	return err
}

// SetContextPages records the per-document context-page selection.
func (r *DocumentRepository) SetContextPages(ctx context.Context, id uuid.UUID, pages []int) error {
	v, err := marshalJSON(pages, pages == nil)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE documents SET context_pages = $1 WHERE id = $2`, v, id)
	return err
}

// ReplaceContent swaps the stored file for a document and deletes every
// derived row, resetting extraction state. Used by the replace operation.
func (r *DocumentRepository) ReplaceContent(ctx context.Context, id uuid.UUID, filename, filepath, hash string) error {
	for _, table := range []string{
		"validation_results", "extraction_errors", "continuations",
		"wire_labels", "connections", "components", "pages",
	} {
		if _, err := r.db.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE document_id = $1`, id); err != nil {
			return err
		}
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE documents
		SET filename = $1, filepath = $2, file_hash = $3, remote_handle = NULL,
			extraction_status = $4, extraction_started_at = NULL,
			extraction_completed_at = NULL, pages_processed = 0
		WHERE id = $5`,
		filename, filepath, hash, StatusPending, id,
	)
	return err
}

// PageRepository handles per-page rows.
type PageRepository struct {
	db DB
}

const pageColumns = `id, document_id, page_index, sheet_number, sheet_total, drawing_no,
	drawing_title, width, height, detection_confidence, processed, detected_at`

// Create inserts a page row.
func (r *PageRepository) Create(ctx context.Context, p *Page) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.DetectedAt.IsZero() {
		p.DetectedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pages (`+pageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.DocumentID, p.PageIndex, p.SheetNumber, p.SheetTotal, p.DrawingNo,
		p.DrawingTitle, p.Width, p.Height, p.DetectionConfidence, p.Processed, p.DetectedAt,
	)
	return wrapWrite(err)
}

func scanPages(rows *sql.Rows) ([]*Page, error) {
	defer rows.Close()
	var pages []*Page
	for rows.Next() {
		p := &Page{}
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.PageIndex, &p.SheetNumber,
			&p.SheetTotal, &p.DrawingNo, &p.DrawingTitle, &p.Width, &p.Height,
			&p.DetectionConfidence, &p.Processed, &p.DetectedAt); err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// ListByDocument lists pages ordered by position in the source PDF.
func (r *PageRepository) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*Page, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE document_id = $1 ORDER BY page_index`,
		documentID)
	if err != nil {
		return nil, err
	}
	return scanPages(rows)
}

// GetByIndex retrieves the page at a given source position.
func (r *PageRepository) GetByIndex(ctx context.Context, documentID uuid.UUID, pageIndex int) (*Page, error) {
	p := &Page{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE document_id = $1 AND page_index = $2`,
		documentID, pageIndex,
	).Scan(&p.ID, &p.DocumentID, &p.PageIndex, &p.SheetNumber, &p.SheetTotal,
		&p.DrawingNo, &p.DrawingTitle, &p.Width, &p.Height, &p.DetectionConfidence,
		&p.Processed, &p.DetectedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// MarkProcessed flips the processed flag after a page's extraction commits.
func (r *PageRepository) MarkProcessed(ctx context.Context, documentID uuid.UUID, pageIndex int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE pages SET processed = TRUE WHERE document_id = $1 AND page_index = $2`,
		documentID, pageIndex)
	return err
}

// ComponentRepository handles recognized components.
type ComponentRepository struct {
	db DB
}

const componentColumns = `id, document_id, symbol, name, mark, type, page_index,
	sheet_number, x, y, width, height, description, created_at`

// Create inserts a component. Violating the (document, mark, page) uniqueness
// constraint surfaces as ErrConflict.
func (r *ComponentRepository) Create(ctx context.Context, c *Component) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO components (`+componentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		c.ID, c.DocumentID, c.Symbol, c.Name, c.Mark, c.Type, c.PageIndex,
		c.SheetNumber, c.X, c.Y, c.Width, c.Height, c.Description, c.CreatedAt,
	)
	return wrapWrite(err)
}

func scanComponents(rows *sql.Rows) ([]*Component, error) {
	defer rows.Close()
	var comps []*Component
	for rows.Next() {
		c := &Component{}
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Symbol, &c.Name, &c.Mark, &c.Type,
			&c.PageIndex, &c.SheetNumber, &c.X, &c.Y, &c.Width, &c.Height,
			&c.Description, &c.CreatedAt); err != nil {
			return nil, err
		}
		comps = append(comps, c)
	}
	return comps, rows.Err()
}

// GetByID retrieves one component.
func (r *ComponentRepository) GetByID(ctx context.Context, id uuid.UUID) (*Component, error) {
	c := &Component{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+componentColumns+` FROM components WHERE id = $1`, id,
	).Scan(&c.ID, &c.DocumentID, &c.Symbol, &c.Name, &c.Mark, &c.Type, &c.PageIndex,
		&c.SheetNumber, &c.X, &c.Y, &c.Width, &c.Height, &c.Description, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// ListByDocument lists every component of a document in a stable order:
// ascending page, then insertion time. The reference resolver's first-seen
// fallback depends on this ordering staying put.
func (r *ComponentRepository) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*Component, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+componentColumns+` FROM components
		WHERE document_id = $1 ORDER BY page_index, created_at, id`, documentID)
	if err != nil {
		return nil, err
	}
	return scanComponents(rows)
}

// ListByPage lists components on one page.
func (r *ComponentRepository) ListByPage(ctx context.Context, documentID uuid.UUID, pageIndex int) ([]*Component, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+componentColumns+` FROM components
		WHERE document_id = $1 AND page_index = $2 ORDER BY created_at, id`,
		documentID, pageIndex)
	if err != nil {
		return nil, err
	}
	return scanComponents(rows)
}

// ListPaged lists one page of a document's components in the same stable
// order as ListByDocument.
func (r *ComponentRepository) ListPaged(ctx context.Context, documentID uuid.UUID, limit, offset int) ([]*Component, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+componentColumns+` FROM components
		WHERE document_id = $1 ORDER BY page_index, created_at, id
		LIMIT $2 OFFSET $3`, documentID, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanComponents(rows)
}

// CountByDocument counts a document's components.
func (r *ComponentRepository) CountByDocument(ctx context.Context, documentID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM components WHERE document_id = $1`, documentID).Scan(&n)
	return n, err
}

// CountByPage counts components on one page.
func (r *ComponentRepository) CountByPage(ctx context.Context, documentID uuid.UUID, pageIndex int) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM components WHERE document_id = $1 AND page_index = $2`,
		documentID, pageIndex).Scan(&n)
	return n, err
}

// Search finds components whose mark, name, or description contains the
// query, optionally scoped to one document.
func (r *ComponentRepository) Search(ctx context.Context, documentID *uuid.UUID, query string, limit int) ([]*Component, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + query + "%"
	var (
		rows *sql.Rows
		err  error
	)
	if documentID != nil {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+componentColumns+` FROM components
			WHERE document_id = $1 AND (mark LIKE $2 OR name LIKE $2 OR description LIKE $2)
			ORDER BY page_index, mark LIMIT $3`,
			*documentID, pattern, limit)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+componentColumns+` FROM components
			WHERE mark LIKE $1 OR name LIKE $1 OR description LIKE $1
			ORDER BY page_index, mark LIMIT $2`,
			pattern, limit)
	}
	if err != nil {
		return nil, err
	}
	return scanComponents(rows)
}

// FirstByMark returns the first component bearing the mark in the stable
// document order, or ErrNotFound.
func (r *ComponentRepository) FirstByMark(ctx context.Context, documentID uuid.UUID, mark string) (*Component, error) {
	c := &Component{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+componentColumns+` FROM components
		WHERE document_id = $1 AND mark = $2 ORDER BY page_index, created_at, id LIMIT 1`,
		documentID, mark,
	).Scan(&c.ID, &c.DocumentID, &c.Symbol, &c.Name, &c.Mark, &c.Type, &c.PageIndex,
		&c.SheetNumber, &c.X, &c.Y, &c.Width, &c.Height, &c.Description, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// DuplicateMarks returns marks that appear more than once on a single page,
// in the order the store yields them.
func (r *ComponentRepository) DuplicateMarks(ctx context.Context, documentID uuid.UUID) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT mark FROM components
		WHERE document_id = $1
		GROUP BY mark, page_index
		HAVING COUNT(*) > 1`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var marks []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		marks = append(marks, m)
	}
	return marks, rows.Err()
}

// ConnectionRepository handles wire connections.
type ConnectionRepository struct {
	db DB
}

const connectionColumns = `id, document_id, from_component_id, to_component_id,
	from_mark, to_mark, wire_label, terminal_from, terminal_to, page_index,
	sheet_number, path, is_external, created_at`

// Create inserts a connection.
func (r *ConnectionRepository) Create(ctx context.Context, c *Connection) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	path, err := marshalJSON(c.Path, c.Path == nil)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO connections (`+connectionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		c.ID, c.DocumentID, c.FromComponentID, c.ToComponentID, c.FromMark, c.ToMark,
		c.WireLabel, c.TerminalFrom, c.TerminalTo, c.PageIndex, c.SheetNumber,
		path, c.External, c.CreatedAt,
	)
	return wrapWrite(err)
}

func scanConnections(rows *sql.Rows) ([]*Connection, error) {
	defer rows.Close()
	var conns []*Connection
	for rows.Next() {
		c := &Connection{}
		var path sql.NullString
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.FromComponentID, &c.ToComponentID,
			&c.FromMark, &c.ToMark, &c.WireLabel, &c.TerminalFrom, &c.TerminalTo,
			&c.PageIndex, &c.SheetNumber, &path, &c.External, &c.CreatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(path, &c.Path); err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// ListByDocument lists a document's connections in a stable order.
func (r *ConnectionRepository) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*Connection, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+connectionColumns+` FROM connections
		WHERE document_id = $1 ORDER BY page_index, created_at, id`, documentID)
	if err != nil {
		return nil, err
	}
	return scanConnections(rows)
}

// ListByPage lists connections recorded on one page.
func (r *ConnectionRepository) ListByPage(ctx context.Context, documentID uuid.UUID, pageIndex int) ([]*Connection, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+connectionColumns+` FROM connections
		WHERE document_id = $1 AND page_index = $2 ORDER BY created_at, id`,
		documentID, pageIndex)
	if err != nil {
		return nil, err
	}
	return scanConnections(rows)
}

// ListTouching returns connections with the component as a resolved endpoint
// or whose raw marks match its mark. Used for circuit tracing.
func (r *ConnectionRepository) ListTouching(ctx context.Context, documentID uuid.UUID, componentID uuid.UUID, mark string) ([]*Connection, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+connectionColumns+` FROM connections
		WHERE document_id = $1
		AND (from_component_id = $2 OR to_component_id = $2 OR from_mark = $3 OR to_mark = $3)
		ORDER BY page_index, created_at, id`,
		documentID, componentID, mark)
	if err != nil {
		return nil, err
	}
	return scanConnections(rows)
}

// UpdateEndpoints overwrites the resolved endpoint identifiers.
func (r *ConnectionRepository) UpdateEndpoints(ctx context.Context, id uuid.UUID, fromID, toID *uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE connections SET from_component_id = $1, to_component_id = $2 WHERE id = $3`,
		fromID, toID, id)
	return err
}

// CountByDocument counts a document's connections.
func (r *ConnectionRepository) CountByDocument(ctx context.Context, documentID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM connections WHERE document_id = $1`, documentID).Scan(&n)
	return n, err
}

// WireLabelRepository handles wire label glyphs.
type WireLabelRepository struct {
	db DB
}

const wireLabelColumns = `id, document_id, label, page_index, sheet_number, x, y, created_at`

// Create inserts a wire label.
func (r *WireLabelRepository) Create(ctx context.Context, w *WireLabel) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO wire_labels (`+wireLabelColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		w.ID, w.DocumentID, w.Label, w.PageIndex, w.SheetNumber, w.X, w.Y, w.CreatedAt,
	)
	return wrapWrite(err)
}

func scanWireLabels(rows *sql.Rows) ([]*WireLabel, error) {
	defer rows.Close()
	var labels []*WireLabel
	for rows.Next() {
		w := &WireLabel{}
		if err := rows.Scan(&w.ID, &w.DocumentID, &w.Label, &w.PageIndex,
			&w.SheetNumber, &w.X, &w.Y, &w.CreatedAt); err != nil {
			return nil, err
		}
		labels = append(labels, w)
	}
	return labels, rows.Err()
}

// ListByPage lists labels on one page.
func (r *WireLabelRepository) ListByPage(ctx context.Context, documentID uuid.UUID, pageIndex int) ([]*WireLabel, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+wireLabelColumns+` FROM wire_labels
		WHERE document_id = $1 AND page_index = $2 ORDER BY created_at, id`,
		documentID, pageIndex)
	if err != nil {
		return nil, err
	}
	return scanWireLabels(rows)
}

// ListByDocument lists every wire label of a document.
func (r *WireLabelRepository) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*WireLabel, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+wireLabelColumns+` FROM wire_labels
		WHERE document_id = $1 ORDER BY page_index, created_at, id`, documentID)
	if err != nil {
		return nil, err
	}
	return scanWireLabels(rows)
}

// CountByDocument counts a document's wire labels.
func (r *WireLabelRepository) CountByDocument(ctx context.Context, documentID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM wire_labels WHERE document_id = $1`, documentID).Scan(&n)
	return n, err
}

// ContinuationRepository handles cross-page continuation markers.
type ContinuationRepository struct {
	db DB
}

// Create inserts a continuation.
func (r *ContinuationRepository) Create(ctx context.Context, c *Continuation) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO continuations (id, document_id, from_mark, page_index, sheet_number,
			to_page_hint, direction, is_external, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.DocumentID, c.FromMark, c.PageIndex, c.SheetNumber,
		c.ToPageHint, c.Direction, c.External, c.CreatedAt,
	)
	return wrapWrite(err)
}

// ListByDocument lists a document's continuations.
func (r *ContinuationRepository) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*Continuation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, document_id, from_mark, page_index, sheet_number, to_page_hint,
			direction, is_external, created_at
		FROM continuations WHERE document_id = $1 ORDER BY page_index, created_at, id`,
		documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var conts []*Continuation
	for rows.Next() {
		c := &Continuation{}
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.FromMark, &c.PageIndex,
			&c.SheetNumber, &c.ToPageHint, &c.Direction, &c.External, &c.CreatedAt); err != nil {
			return nil, err
		}
		conts = append(conts, c)
	}
	return conts, rows.Err()
}

// ExtractionErrorRepository is the append-only log of failed page attempts.
type ExtractionErrorRepository struct {
	db DB
}

// Create appends an extraction error row.
func (r *ExtractionErrorRepository) Create(ctx context.Context, e *ExtractionError) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	details, err := marshalJSON(e.Details, e.Details == nil)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO extraction_errors (id, document_id, page_index, category, message,
			details, retry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.DocumentID, e.PageIndex, e.Category, e.Message, details, e.RetryCount, e.CreatedAt,
	)
	return wrapWrite(err)
}

// ListByDocument lists a document's extraction errors oldest-first.
func (r *ExtractionErrorRepository) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*ExtractionError, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, document_id, page_index, category, message, details, retry_count, created_at
		FROM extraction_errors WHERE document_id = $1 ORDER BY created_at, id`,
		documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var errsOut []*ExtractionError
	for rows.Next() {
		e := &ExtractionError{}
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.PageIndex, &e.Category,
			&e.Message, &details, &e.RetryCount, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(details, &e.Details); err != nil {
			return nil, err
		}
		errsOut = append(errsOut, e)
	}
	return errsOut, rows.Err()
}

// ValidationResultRepository stores QC findings.
type ValidationResultRepository struct {
	db DB
}

// Create inserts a validation result.
func (r *ValidationResultRepository) Create(ctx context.Context, v *ValidationResult) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.ValidatedAt.IsZero() {
		v.ValidatedAt = time.Now().UTC()
	}
	discrepancies, err := marshalJSON(v.Discrepancies, v.Discrepancies == nil)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO validation_results (id, document_id, page_index, scope, status,
			confidence, discrepancies, validated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.ID, v.DocumentID, v.PageIndex, v.Scope, v.Status, v.Confidence,
		discrepancies, v.ValidatedAt,
	)
	return wrapWrite(err)
}

// ListByDocument lists a document's validation results oldest-first.
func (r *ValidationResultRepository) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*ValidationResult, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, document_id, page_index, scope, status, confidence, discrepancies, validated_at
		FROM validation_results WHERE document_id = $1 ORDER BY validated_at, id`,
		documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []*ValidationResult
	for rows.Next() {
		v := &ValidationResult{}
		var discrepancies sql.NullString
		if err := rows.Scan(&v.ID, &v.DocumentID, &v.PageIndex, &v.Scope, &v.Status,
			&v.Confidence, &discrepancies, &v.ValidatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(discrepancies, &v.Discrepancies); err != nil {
			return nil, err
		}
		results = append(results, v)
	}
	return results, rows.Err()
}
