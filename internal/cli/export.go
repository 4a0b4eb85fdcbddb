package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/headline-goat/popup-goat/internal/app"
	"github.com/headline-goat/popup-goat/internal/store"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export <campaign>",
	Short: "Export raw event data",
	Long: `Export a campaign's raw event data in CSV or JSON format.

Examples:
  popgoat export spring-sale --format csv > spring-sale.csv
  popgoat export spring-sale --format json > spring-sale.json`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "output format (csv or json)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	if exportFormat != "csv" && exportFormat != "json" {
		return fmt.Errorf("invalid format: must be 'csv' or 'json'")
	}

	return withApp(func(ctx context.Context, a *app.App) error {
		c, err := findCampaign(ctx, a.Store, args[0])
		if err != nil {
			return err
		}

		events, err := a.Service.Events(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("failed to get events: %w", err)
		}

		if exportFormat == "csv" {
			return exportCSV(cmd.OutOrStdout(), events)
		}
		return exportJSON(cmd.OutOrStdout(), events)
	})
}

func exportCSV(out io.Writer, events []*store.Event) error {
	w := csv.NewWriter(out)

	if err := w.Write([]string{"timestamp", "event_type", "visitor_id", "experiment_id", "impression_id"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, e := range events {
		experiment := ""
		if e.ExperimentID != nil {
			experiment = strconv.FormatInt(*e.ExperimentID, 10)
		}
		row := []string{
			strconv.FormatInt(e.CreatedAt.Unix(), 10),
			string(e.Type),
			e.VisitorID,
			experiment,
			e.ImpressionID,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

type jsonExport struct {
	Events []*store.Event `json:"events"`
}

func exportJSON(out io.Writer, events []*store.Event) error {
	if events == nil {
		events = []*store.Event{}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(jsonExport{Events: events})
}
