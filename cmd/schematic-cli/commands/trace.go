package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tracewire/schematic-extractor/cmd/schematic-cli/ui"
)

var traceDocID string

var traceCmd = &cobra.Command{
	Use:   "trace <mark>",
	Short: "Trace the circuit around a component",
	Long:  "List every connection touching the component with the given mark, with wire labels and terminals.",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrace,
}

func init() {
	traceCmd.Flags().StringVarP(&traceDocID, "id", "i", "", "document id (required)")
	traceCmd.MarkFlagRequired("id")
	rootCmd.AddCommand(traceCmd)
}

func runTrace(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	mark := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	docID, err := uuid.Parse(traceDocID)
	if err != nil {
		return fmt.Errorf("invalid document id: %w", err)
	}

	component, err := store.Components.FirstByMark(ctx, docID, mark)
	if err != nil {
		return fmt.Errorf("component %q: %w", mark, err)
	}

	connections, err := store.Connections.ListTouching(ctx, docID, component.ID, component.Mark)
	if err != nil {
		return fmt.Errorf("list connections: %w", err)
	}

	ui.Section(fmt.Sprintf("Circuit trace: %s", component.Mark))
	ui.Info("page %d, id %s", component.PageIndex, component.ID)
	if component.Name != nil {
		ui.Info("name: %s", *component.Name)
	}
	ui.Newline()

	if len(connections) == 0 {
		ui.Warning("no connections recorded")
		return nil
	}

	rows := make([][]string, 0, len(connections))
	for _, conn := range connections {
		rows = append(rows, []string{
			deref(conn.FromMark), deref(conn.TerminalFrom),
			deref(conn.ToMark), deref(conn.TerminalTo),
			deref(conn.WireLabel),
			strconv.Itoa(conn.PageIndex),
			strconv.FormatBool(conn.External),
		})
	}
	ui.Table([]string{"From", "Term", "To", "Term", "Wire", "Page", "External"}, rows)
	return nil
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
