// Package commands implements the schematic CLI command tree.
package commands

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tracewire/schematic-extractor/cmd/schematic-cli/ui"
	"github.com/tracewire/schematic-extractor/internal/config"
	"github.com/tracewire/schematic-extractor/internal/observability"
	"github.com/tracewire/schematic-extractor/internal/storage"
)

var (
	cfgFile string
	noColor bool
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "schematic-cli",
	Short: "Extract structured circuit data from electrical schematic PDFs",
	Long: `schematic-cli drives the schematic extractor: upload PDFs, run the
multimodal extraction pipeline with live progress, resolve component
references, validate results, and trace circuits from the terminal.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.Init(noColor)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *observability.Logger {
	level := cfg.Observability.LogLevel
	if verbose {
		level = "debug"
	}
	return observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      cfg.Observability.LogFormat,
		ServiceName: "schematic-cli",
	})
}

func openStore(ctx context.Context, cfg *config.Config) (*storage.Store, *sql.DB, error) {
	opts := storage.Options{Driver: cfg.Database.Driver}
	switch cfg.Database.Driver {
	case "sqlite":
		opts.DSN = cfg.Database.SQLite.Path
	case "postgres":
		opts.DSN = cfg.Database.Postgres.DSN
		opts.MaxOpenConns = cfg.Database.Postgres.MaxOpenConns
		opts.MaxIdleConns = cfg.Database.Postgres.MaxIdleConns
		opts.ConnMaxLifetime = cfg.Database.Postgres.ConnMaxLifetime
	}

	db, err := storage.Open(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	return storage.NewStore(db), db, nil
}
