package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tracewire/schematic-extractor/cmd/schematic-cli/ui"
	"github.com/tracewire/schematic-extractor/internal/api"
	"github.com/tracewire/schematic-extractor/internal/cache"
	"github.com/tracewire/schematic-extractor/internal/recognition"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	cacheClient, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}
	defer cacheClient.Close()

	handles := recognition.NewHandleCache()
	recognizer := recognition.NewClient(cfg.Recognition, handles, logger)
	server := api.NewServer(cfg, logger, store, recognizer, handles, cacheClient)

	ui.Info("listening on %s", cfg.Server.Addr())
	return server.Start(ctx)
}
