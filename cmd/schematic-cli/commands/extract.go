package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tracewire/schematic-extractor/cmd/schematic-cli/ui"
	"github.com/tracewire/schematic-extractor/internal/extraction"
	"github.com/tracewire/schematic-extractor/internal/pdf"
	"github.com/tracewire/schematic-extractor/internal/recognition"
	"github.com/tracewire/schematic-extractor/internal/storage"
	"github.com/tracewire/schematic-extractor/internal/validate"
)

var (
	extractDocID        string
	extractPages        []int
	extractContextPages []int
	extractSkipValidate bool
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run extraction on an uploaded schematic",
	Long: `Run the multimodal extraction pipeline on an uploaded schematic and
follow its progress live. After the run, component references are resolved
and the results validated.`,
	RunE: runExtractCmd,
}

func init() {
	extractCmd.Flags().StringVarP(&extractDocID, "id", "i", "", "document id (required)")
	extractCmd.Flags().IntSliceVarP(&extractPages, "pages", "p", nil, "0-based PDF page indices to process")
	extractCmd.Flags().IntSliceVar(&extractContextPages, "context-pages", nil, "reading-instructions and legend page indices")
	extractCmd.Flags().BoolVar(&extractSkipValidate, "skip-validate", false, "skip the validation pass")
	extractCmd.MarkFlagRequired("id")
	rootCmd.AddCommand(extractCmd)
}

func runExtractCmd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Recognition.APIKey == "" {
		return fmt.Errorf("recognition API key is not set (GEMINI_API_KEY)")
	}
	logger := newLogger(cfg)

	store, db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	docID, err := uuid.Parse(extractDocID)
	if err != nil {
		return fmt.Errorf("invalid document id: %w", err)
	}
	doc, err := store.Documents.GetByID(ctx, docID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	processor, err := pdf.Open(doc.Filepath)
	if err != nil {
		return fmt.Errorf("open PDF: %w", err)
	}
	defer processor.Close()

	pages := extractPages
	if len(pages) == 0 {
		pages = cfg.Extraction.DefaultPages
	}
	contextPages := extractContextPages
	if len(contextPages) == 0 {
		contextPages = cfg.Extraction.DefaultContextPages[:]
	}

	ui.Section("Extraction")
	ui.Info("document: %s (%s)", doc.Filename, doc.ID)
	ui.Info("pages: %v, context: %v", pages, contextPages)
	ui.Newline()

	// A fresh handle cache per run: CLI invocations are one-shot, so a
	// handle never outlives the process that registered it.
	recognizer := recognition.NewClient(cfg.Recognition, recognition.NewHandleCache(), logger)
	orchestrator := extraction.NewOrchestrator(store, recognizer, logger)

	events := make(chan extraction.Event, 64)
	runErr := make(chan error, 1)
	go func() {
		runErr <- orchestrator.Run(ctx, extraction.Request{
			Document:     doc,
			PDF:          processor,
			Pages:        pages,
			ContextPages: contextPages,
		}, events)
	}()

	complete := followEvents(events, len(pages))
	if err := <-runErr; err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	if complete != nil {
		ui.Newline()
		ui.Table([]string{"Metric", "Value"}, [][]string{
			{"Status", complete.Status},
			{"Pages processed", strconv.Itoa(complete.PagesProcessed)},
			{"Components", strconv.Itoa(complete.TotalComponents)},
			{"Connections", strconv.Itoa(complete.TotalConnections)},
			{"Wire labels", strconv.Itoa(complete.TotalWireLabels)},
		})
	}

	spin := ui.NewSpinner("Resolving component references...")
	spin.Start()
	err = extraction.NewResolver(store, logger).Resolve(ctx, docID)
	spin.Stop()
	if err != nil {
		return fmt.Errorf("resolve references: %w", err)
	}
	ui.Success("references resolved")

	if extractSkipValidate {
		return nil
	}

	doc, err = store.Documents.GetByID(ctx, docID)
	if err != nil {
		return fmt.Errorf("reload document: %w", err)
	}
	engine := validate.NewEngine(store, logger)
	for _, pageIndex := range pages {
		if _, err := engine.ValidatePage(ctx, docID, pageIndex, nil); err != nil {
			return fmt.Errorf("validate page %d: %w", pageIndex, err)
		}
	}
	result, err := engine.ValidateDocument(ctx, doc)
	if err != nil {
		return fmt.Errorf("validate document: %w", err)
	}
	printValidation(result)
	return nil
}

// followEvents renders the event stream: a progress bar over pages, streamed
// entity counts, and warnings for page failures. Returns the complete event
// payload if one arrived.
func followEvents(events <-chan extraction.Event, totalPages int) *extraction.CompleteData {
	bar := ui.NewProgressBar(int64(totalPages), "extracting")
	var complete *extraction.CompleteData
	counts := map[extraction.EventType]int{}

	for event := range events {
		switch event.Type {
		case extraction.EventProgress:
			if data, ok := event.Data.(*extraction.ProgressData); ok {
				bar.Set(int64(data.PagesProcessed))
				if data.CurrentPage != nil {
					bar.Describe(fmt.Sprintf("page %d", *data.CurrentPage))
				} else if data.Message != "" {
					bar.Describe(data.Message)
				}
			}
		case extraction.EventComponent, extraction.EventConnection,
			extraction.EventWireLabel, extraction.EventContinuation:
			counts[event.Type]++
		case extraction.EventError:
			if data, ok := event.Data.(*extraction.ErrorData); ok {
				if data.Page != nil {
					ui.Warning("page %d failed: %s", *data.Page, data.Message)
				} else {
					ui.Error("%s", data.Message)
				}
			}
		case extraction.EventComplete:
			if data, ok := event.Data.(*extraction.CompleteData); ok {
				complete = data
			}
		}
	}
	bar.Finish()

	if verbose {
		ui.Info("streamed %d components, %d connections, %d wire labels, %d continuations",
			counts[extraction.EventComponent], counts[extraction.EventConnection],
			counts[extraction.EventWireLabel], counts[extraction.EventContinuation])
	}
	return complete
}

func printValidation(result *storage.ValidationResult) {
	ui.Newline()
	switch result.Status {
	case storage.ValidationPass:
		ui.Success("validation passed (confidence %.2f)", result.Confidence)
	case storage.ValidationWarning:
		ui.Warning("validation passed with warnings (confidence %.2f)", result.Confidence)
	default:
		ui.Error("validation failed (confidence %.2f)", result.Confidence)
	}
	for _, d := range result.Discrepancies {
		ui.Warning("[%s] %s", d.Type, d.Message)
	}
}
