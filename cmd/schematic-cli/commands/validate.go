package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tracewire/schematic-extractor/cmd/schematic-cli/ui"
	"github.com/tracewire/schematic-extractor/internal/validate"
)

var validateDocID string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate extracted data and print a summary",
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&validateDocID, "id", "i", "", "document id (required)")
	validateCmd.MarkFlagRequired("id")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	store, db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	docID, err := uuid.Parse(validateDocID)
	if err != nil {
		return fmt.Errorf("invalid document id: %w", err)
	}
	doc, err := store.Documents.GetByID(ctx, docID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	engine := validate.NewEngine(store, logger)

	pages, err := store.Pages.ListByDocument(ctx, docID)
	if err != nil {
		return fmt.Errorf("list pages: %w", err)
	}
	for _, page := range pages {
		if !page.Processed {
			continue
		}
		if _, err := engine.ValidatePage(ctx, docID, page.PageIndex, nil); err != nil {
			return fmt.Errorf("validate page %d: %w", page.PageIndex, err)
		}
	}

	result, err := engine.ValidateDocument(ctx, doc)
	if err != nil {
		return fmt.Errorf("validate document: %w", err)
	}
	printValidation(result)

	summary, err := engine.Summarize(ctx, docID)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}

	ui.Section("Validation Summary")
	ui.Table([]string{"Metric", "Value"}, [][]string{
		{"Total validations", strconv.Itoa(summary.TotalValidations)},
		{"Passed", strconv.Itoa(summary.Passed)},
		{"Warnings", strconv.Itoa(summary.Warnings)},
		{"Failed", strconv.Itoa(summary.Failed)},
		{"Avg confidence", fmt.Sprintf("%.2f", summary.AvgConfidence)},
		{"Discrepancies", strconv.Itoa(len(summary.Discrepancies))},
	})
	return nil
}
