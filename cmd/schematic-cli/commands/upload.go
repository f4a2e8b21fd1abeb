package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tracewire/schematic-extractor/cmd/schematic-cli/ui"
	"github.com/tracewire/schematic-extractor/internal/pdf"
	"github.com/tracewire/schematic-extractor/internal/storage"
)

var (
	uploadFile    string
	uploadMachine string
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload a schematic PDF",
	Long:  "Register a schematic PDF for extraction. Duplicate content, detected by SHA-256, reuses the existing record.",
	RunE:  runUpload,
}

func init() {
	uploadCmd.Flags().StringVarP(&uploadFile, "file", "f", "", "path to the PDF file (required)")
	uploadCmd.Flags().StringVarP(&uploadMachine, "machine", "m", "", "machine/line identifier (required)")
	uploadCmd.MarkFlagRequired("file")
	uploadCmd.MarkFlagRequired("machine")
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	hash, err := pdf.FileHash(uploadFile)
	if err != nil {
		return fmt.Errorf("hash file: %w", err)
	}

	if existing, err := store.Documents.GetByHash(ctx, hash); err == nil {
		ui.Warning("this PDF was already uploaded (document %s)", existing.ID)
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("duplicate check: %w", err)
	}

	machine, err := store.Machines.GetOrCreate(ctx, uploadMachine)
	if err != nil {
		return fmt.Errorf("resolve machine: %w", err)
	}

	filename := filepath.Base(uploadFile)
	destDir := filepath.Join(cfg.Uploads.Dir, uploadMachine)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}
	destPath := filepath.Join(destDir, filename)
	if err := copyFile(uploadFile, destPath); err != nil {
		return fmt.Errorf("copy file: %w", err)
	}

	doc := &storage.Document{
		MachineID: machine.ID,
		Filename:  filename,
		Filepath:  destPath,
		FileHash:  hash,
		Status:    storage.StatusPending,
	}
	if err := store.Documents.Create(ctx, doc); err != nil {
		return fmt.Errorf("record upload: %w", err)
	}

	ui.Success("uploaded %s", filename)
	ui.Info("document id: %s", doc.ID)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
