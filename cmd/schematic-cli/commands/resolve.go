package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tracewire/schematic-extractor/cmd/schematic-cli/ui"
	"github.com/tracewire/schematic-extractor/internal/extraction"
)

var resolveDocID string

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve connection endpoint marks to stored components",
	Long: `Re-run the reference resolution pass: each connection endpoint mark is
matched against the document's components, page-scoped first with a
document-wide first-seen fallback. Safe to run repeatedly.`,
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringVarP(&resolveDocID, "id", "i", "", "document id (required)")
	resolveCmd.MarkFlagRequired("id")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
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

	docID, err := uuid.Parse(resolveDocID)
	if err != nil {
		return fmt.Errorf("invalid document id: %w", err)
	}

	spin := ui.NewSpinner("Resolving component references...")
	spin.Start()
	err = extraction.NewResolver(store, logger).Resolve(ctx, docID)
	spin.Stop()
	if err != nil {
		return fmt.Errorf("resolve references: %w", err)
	}
	ui.Success("references resolved")
	return nil
}
