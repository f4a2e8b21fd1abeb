package extraction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tracewire/schematic-extractor/internal/domain"
	"github.com/tracewire/schematic-extractor/internal/observability"
	"github.com/tracewire/schematic-extractor/internal/pdf"
	"github.com/tracewire/schematic-extractor/internal/recognition"
	"github.com/tracewire/schematic-extractor/internal/storage"
)

// PageReader is the slice of the PDF layer the orchestrator needs.
// *pdf.Processor implements it.
type PageReader interface {
	PageCount() int
	PageDimensions(pageIndex int) (width, height float64, err error)
	ContextText(contextPages []int) string
	SheetNumber(pageIndex int) (*pdf.SheetRef, error)
}

// Request names one extraction invocation. Pages are processed in the
// order given; the caller's order is authoritative.
type Request struct {
	Document     *storage.Document
	PDF          PageReader
	Pages        []int
	ContextPages []int
}

// Orchestrator runs extraction pipelines. One Orchestrator serves many
// documents, but at most one active run per document; callers enforce that
// by rejecting a start while the document is in_progress.
type Orchestrator struct {
	store      *storage.Store
	recognizer recognition.Service
	log        *observability.Logger

	mu        sync.Mutex
	cancelled map[uuid.UUID]bool
}

// NewOrchestrator creates an Orchestrator over the given store and
// recognition backend.
func NewOrchestrator(store *storage.Store, recognizer recognition.Service, log *observability.Logger) *Orchestrator {
	if log == nil {
		log = observability.Nop()
	}
	return &Orchestrator{
		store:      store,
		recognizer: recognizer,
		log:        log.WithComponent("extraction"),
		cancelled:  make(map[uuid.UUID]bool),
	}
}

// Cancel flags the document's active run for cooperative cancellation. The
// flag is checked at page boundaries only; an in-flight recognition call
// finishes first.
func (o *Orchestrator) Cancel(documentID uuid.UUID) {
	o.mu.Lock()
	o.cancelled[documentID] = true
	o.mu.Unlock()
}

func (o *Orchestrator) isCancelled(documentID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled[documentID]
}

func (o *Orchestrator) clearCancel(documentID uuid.UUID) {
	o.mu.Lock()
	delete(o.cancelled, documentID)
	o.mu.Unlock()
}

// Run executes the extraction pipeline, sending ordered events to the
// given channel. Sends block, so a consumer reading the channel paces the
// pipeline. The channel is closed when Run returns. Per-page failures are
// recorded and reported without aborting; failures outside the page loop
// mark the document failed and return the error.
func (o *Orchestrator) Run(ctx context.Context, req Request, events chan<- Event) error {
	defer close(events)
	defer o.clearCancel(req.Document.ID)

	r := &run{
		o:       o,
		ctx:     ctx,
		persist: context.WithoutCancel(ctx),
		doc:     req.Document,
		events:  events,
		log:     o.log.WithDocument(req.Document.ID.String()),
	}
	return r.execute(req)
}

// run is the per-invocation state: the sequence counter and the document
// being worked on. persist carries the caller's values but not its
// cancellation: terminal statuses and error rows must land even when the
// caller's context died mid-run, otherwise the document stays in_progress
// with no active run behind it.
type run struct {
	o       *Orchestrator
	ctx     context.Context
	persist context.Context
	doc     *storage.Document
	events  chan<- Event
	log     *observability.Logger
	seq     int64
}

// emit blocks until the consumer takes the event, so seq numbers reach the
// stream without gaps. Consumers drain the channel to completion.
func (r *run) emit(t EventType, data any) {
	r.seq++
	r.events <- Event{
		Seq:        r.seq,
		Type:       t,
		DocumentID: r.doc.ID,
		Timestamp:  time.Now().UTC(),
		Data:       data,
	}
}

func (r *run) execute(req Request) error {
	ctx := r.ctx
	store := r.o.store
	doc := r.doc

	now := time.Now().UTC()
	doc.Status = storage.StatusInProgress
	doc.StartedAt = &now
	doc.PagesProcessed = 0
	if err := store.Documents.UpdateStatus(ctx, doc); err != nil {
		return domain.PipelineError("persist in_progress status", err)
	}

	r.emit(EventProgress, &ProgressData{
		Status:     "starting",
		Message:    "Starting extraction...",
		PagesTotal: len(req.Pages),
	})

	pages, contextText, err := r.prepare(req)
	if err != nil {
		return r.fail(err)
	}

	pageMapping := make(map[int]int)
	pageByIndex := make(map[int]*storage.Page, len(pages))
	for _, p := range pages {
		pageByIndex[p.PageIndex] = p
		if p.SheetNumber != nil {
			pageMapping[p.PageIndex] = *p.SheetNumber
		}
	}

	handle := ""
	if doc.RemoteHandle != nil {
		handle = *doc.RemoteHandle
	}

	processed := 0
	for _, pageIndex := range req.Pages {
		if r.o.isCancelled(doc.ID) || ctx.Err() != nil {
			r.emit(EventProgress, &ProgressData{
				Status:         "cancelled",
				Message:        "Extraction cancelled by user",
				PagesTotal:     len(req.Pages),
				PagesProcessed: processed,
			})
			doc.Status = storage.StatusCancelled
			if err := store.Documents.UpdateStatus(r.persist, doc); err != nil {
				r.log.Error().Err(err).Msg("persist cancelled status")
			}
			return nil
		}

		page := pageByIndex[pageIndex]
		var sheetNumber *int
		if page != nil {
			sheetNumber = page.SheetNumber
		}

		r.emit(EventProgress, &ProgressData{
			Status:         "extracting",
			Message:        fmt.Sprintf("Extracting page %d...", pageIndex+1),
			CurrentPage:    &pageIndex,
			SheetNumber:    sheetNumber,
			PagesTotal:     len(req.Pages),
			PagesProcessed: processed,
			Percent:        processed * 100 / len(req.Pages),
		})

		if err := r.processPage(handle, pageIndex, sheetNumber, contextText, pageMapping); err != nil {
			r.recordPageFailure(pageIndex, err)
			continue
		}

		processed++
		doc.PagesProcessed = processed
	}

	doc.Status = storage.StatusCompleted
	completedAt := time.Now().UTC()
	doc.CompletedAt = &completedAt
	if err := store.Documents.UpdateStatus(r.persist, doc); err != nil {
		return r.fail(domain.PipelineError("persist completed status", err))
	}

	totalComponents, err := store.Components.CountByDocument(r.persist, doc.ID)
	if err != nil {
		return r.fail(domain.PipelineError("count components", err))
	}
	totalConnections, err := store.Connections.CountByDocument(r.persist, doc.ID)
	if err != nil {
		return r.fail(domain.PipelineError("count connections", err))
	}
	totalWireLabels, err := store.WireLabels.CountByDocument(r.persist, doc.ID)
	if err != nil {
		return r.fail(domain.PipelineError("count wire labels", err))
	}

	r.emit(EventComplete, &CompleteData{
		Status:           "completed",
		PagesProcessed:   processed,
		TotalComponents:  totalComponents,
		TotalConnections: totalConnections,
		TotalWireLabels:  totalWireLabels,
	})

	r.log.Info().
		Int("pages_processed", processed).
		Int("components", totalComponents).
		Int("connections", totalConnections).
		Msg("extraction completed")

	return nil
}

// prepare covers the pipeline setup ahead of the page loop: remote
// registration, context text assembly, metadata detection, and Page row
// persistence. Errors here are fatal to the run.
func (r *run) prepare(req Request) ([]*storage.Page, string, error) {
	ctx := r.ctx
	store := r.o.store
	doc := r.doc

	r.emit(EventProgress, &ProgressData{
		Status:  "uploading",
		Message: "Registering document with the recognition service...",
	})

	handle, err := r.o.recognizer.Register(ctx, doc.Filepath, doc.Filename)
	if err != nil {
		return nil, "", err
	}
	doc.RemoteHandle = &handle
	if err := store.Documents.SetRemoteHandle(ctx, doc.ID, handle); err != nil {
		return nil, "", domain.PipelineError("persist remote handle", err)
	}

	contextText := req.PDF.ContextText(req.ContextPages)

	r.emit(EventProgress, &ProgressData{
		Status:  "detecting_pages",
		Message: fmt.Sprintf("Identifying schematic page numbers for %d pages...", len(req.Pages)),
	})

	// The adapter owns retries and degrades to null entries; this call
	// never aborts the pipeline.
	metas := r.o.recognizer.DetectPageMetadata(ctx, handle, req.Pages)

	pages := make([]*storage.Page, 0, len(metas))
	for _, meta := range metas {
		page, err := r.persistPage(meta, req.PDF)
		if err != nil {
			return nil, "", err
		}
		pages = append(pages, page)
	}

	r.emit(EventPageMapping, &PageMappingData{Pages: pages})

	return pages, contextText, nil
}

// persistPage stores one Page row from detected metadata, reusing an
// existing row on re-invocation. When the model read no page number, the
// title-block text regex gets a try before giving up.
func (r *run) persistPage(meta recognition.PageMetadata, reader PageReader) (*storage.Page, error) {
	ctx := r.ctx
	store := r.o.store

	existing, err := store.Pages.GetByIndex(ctx, r.doc.ID, meta.PageIndex)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, domain.PipelineError(fmt.Sprintf("load page %d", meta.PageIndex), err)
	}

	width, height, err := reader.PageDimensions(meta.PageIndex)
	if err != nil {
		return nil, err
	}

	sheetNumber, sheetTotal := meta.SheetNumber, meta.SheetTotal
	if sheetNumber == nil {
		if ref, err := reader.SheetNumber(meta.PageIndex); err == nil && ref != nil {
			sheetNumber = &ref.Number
			sheetTotal = &ref.Total
		}
	}

	confidence := meta.Confidence
	if confidence == 0 {
		if sheetNumber != nil {
			confidence = 1.0
		} else {
			confidence = 0.5
		}
	}

	page := &storage.Page{
		DocumentID:          r.doc.ID,
		PageIndex:           meta.PageIndex,
		SheetNumber:         sheetNumber,
		SheetTotal:          sheetTotal,
		DrawingNo:           meta.DrawingNo,
		DrawingTitle:        meta.DrawingTitle,
		Width:               width,
		Height:              height,
		DetectionConfidence: confidence,
	}
	if err := store.Pages.Create(ctx, page); err != nil {
		return nil, domain.PipelineError(fmt.Sprintf("persist page %d", meta.PageIndex), err)
	}
	return page, nil
}

// processPage extracts one page and persists its records in one
// transaction; the page's rows are all-or-nothing. Events for created
// records go out only after the commit.
func (r *run) processPage(handle string, pageIndex int, sheetNumber *int, contextText string, pageMapping map[int]int) error {
	payload, err := r.o.recognizer.ExtractPage(r.ctx, recognition.ExtractRequest{
		Handle:      handle,
		PageIndex:   pageIndex,
		ContextText: contextText,
		PageMapping: pageMapping,
	})
	if err != nil {
		return err
	}

	var (
		components    []*storage.Component
		connections   []*storage.Connection
		wireLabels    []*storage.WireLabel
		continuations []*storage.Continuation
	)

	err = r.o.store.InTx(r.ctx, func(tx *storage.Store) error {
		seenMarks := make(map[string]bool)
		for _, cd := range payload.Components {
			mark := cd.Mark
			if mark == "" {
				mark = storage.UnknownMark
			}
			if seenMarks[mark] {
				r.log.Warn().Str("mark", mark).Int("page", pageIndex).
					Msg("model repeated a mark on one page, keeping the first")
				continue
			}
			seenMarks[mark] = true

			c := &storage.Component{
				DocumentID:  r.doc.ID,
				Symbol:      cd.Symbol,
				Name:        cd.Name,
				Mark:        mark,
				Type:        cd.Type,
				PageIndex:   pageIndex,
				SheetNumber: sheetNumber,
				X:           cd.X,
				Y:           cd.Y,
				Width:       cd.Width,
				Height:      cd.Height,
				Description: cd.Description,
			}
			if err := tx.Components.Create(r.ctx, c); err != nil {
				return err
			}
			components = append(components, c)
		}

		for _, cd := range payload.Connections {
			c := &storage.Connection{
				DocumentID:   r.doc.ID,
				FromMark:     cd.FromMark,
				ToMark:       cd.ToMark,
				WireLabel:    cd.WireLabel,
				TerminalFrom: cd.TerminalFrom,
				TerminalTo:   cd.TerminalTo,
				PageIndex:    pageIndex,
				SheetNumber:  sheetNumber,
				Path:         cd.Path,
				External:     cd.External,
			}
			if err := tx.Connections.Create(r.ctx, c); err != nil {
				return err
			}
			connections = append(connections, c)
		}

		for _, wd := range payload.WireLabels {
			label := wd.Label
			if label == "" {
				label = "?"
			}
			w := &storage.WireLabel{
				DocumentID:  r.doc.ID,
				Label:       label,
				PageIndex:   pageIndex,
				SheetNumber: sheetNumber,
				X:           wd.X,
				Y:           wd.Y,
			}
			if err := tx.WireLabels.Create(r.ctx, w); err != nil {
				return err
			}
			wireLabels = append(wireLabels, w)
		}

		for _, cd := range payload.Continuations {
			c := &storage.Continuation{
				DocumentID:  r.doc.ID,
				FromMark:    cd.FromMark,
				PageIndex:   pageIndex,
				SheetNumber: sheetNumber,
				ToPageHint:  cd.ToPageHint,
				Direction:   cd.Direction,
				External:    true,
			}
			if err := tx.Continuations.Create(r.ctx, c); err != nil {
				return err
			}
			continuations = append(continuations, c)
		}

		if err := tx.Pages.MarkProcessed(r.ctx, r.doc.ID, pageIndex); err != nil {
			return err
		}
		doc := *r.doc
		doc.PagesProcessed++
		return tx.Documents.UpdateStatus(r.ctx, &doc)
	})
	if err != nil {
		return err
	}

	for _, c := range components {
		r.emit(EventComponent, c)
	}
	for _, c := range connections {
		r.emit(EventConnection, c)
	}
	for _, w := range wireLabels {
		r.emit(EventWireLabel, w)
	}
	for _, c := range continuations {
		r.emit(EventContinuation, c)
	}

	return nil
}

// recordPageFailure logs a failed page durably and as a stream event. The
// run keeps going.
func (r *run) recordPageFailure(pageIndex int, cause error) {
	r.log.Warn().Err(cause).Int("page", pageIndex).Msg("page extraction failed")

	idx := pageIndex
	row := &storage.ExtractionError{
		DocumentID: r.doc.ID,
		PageIndex:  &idx,
		Category:   "extraction_error",
		Message:    cause.Error(),
		Details:    map[string]any{"page": pageIndex},
	}
	if err := r.o.store.Errors.Create(r.persist, row); err != nil {
		r.log.Error().Err(err).Int("page", pageIndex).Msg("persist extraction error")
	}

	r.emit(EventError, &ErrorData{Page: &idx, Message: cause.Error()})
}

// fail marks the document failed, reports the cause as a final error
// event, and hands the error back to the caller.
func (r *run) fail(cause error) error {
	r.doc.Status = storage.StatusFailed
	if err := r.o.store.Documents.UpdateStatus(r.persist, r.doc); err != nil {
		r.log.Error().Err(err).Msg("persist failed status")
	}
	r.emit(EventError, &ErrorData{Status: "failed", Message: cause.Error()})
	r.log.Error().Err(cause).Msg("extraction failed")
	return cause
}
