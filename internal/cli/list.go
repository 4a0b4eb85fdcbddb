package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/headline-goat/popup-goat/internal/app"
	"github.com/headline-goat/popup-goat/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns and experiments",
	Long:  `List all campaigns and experiments with their status and event totals.`,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		out := cmd.OutOrStdout()

		campaigns, err := a.Store.ListCampaigns(ctx)
		if err != nil {
			return fmt.Errorf("failed to list campaigns: %w", err)
		}

		if len(campaigns) == 0 {
			fmt.Fprintln(out, "No campaigns yet.")
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Create one with:")
			fmt.Fprintln(out, "  popgoat create campaign spring-sale --type popup --status active")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCAMPAIGN\tTYPE\tSTATUS\tEXPERIMENT\tDISPLAYS\tCONVERSIONS\tCREATED")
		for _, c := range campaigns {
			events, err := a.Store.ListEvents(ctx, c.ID)
			if err != nil {
				return fmt.Errorf("failed to get events for campaign %s: %w", c.Name, err)
			}
			displays, conversions := countEvents(events)

			experiment := "-"
			if c.ExperimentID != nil {
				experiment = fmt.Sprintf("%d", *c.ExperimentID)
			}

			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				c.ID,
				c.Name,
				c.Type,
				strings.ToUpper(string(c.Status)),
				experiment,
				formatNumber(displays),
				formatNumber(conversions),
				c.CreatedAt.Format(store.DateLayout),
			)
		}
		w.Flush()

		experiments, err := a.Store.ListExperiments(ctx)
		if err != nil {
			return fmt.Errorf("failed to list experiments: %w", err)
		}
		if len(experiments) == 0 {
			return nil
		}

		fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tEXPERIMENT\tSTATUS\tVARIANTS\tSPLIT\tWINNER\tCREATED")
		for _, e := range experiments {
			winner := "-"
			if e.WinnerID != nil {
				winner = fmt.Sprintf("%d", *e.WinnerID)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\t%s\n",
				e.ID,
				e.Name,
				strings.ToUpper(string(e.Status)),
				len(e.VariantIDs),
				formatSplit(e.TrafficSplit),
				winner,
				e.CreatedAt.Format(store.DateLayout),
			)
		}
		return w.Flush()
	})
}

func countEvents(events []*store.Event) (displays, conversions int) {
	for _, e := range events {
		switch e.Type {
		case store.EventDisplayed:
			displays++
		case store.EventConverted:
			conversions++
		}
	}
	return displays, conversions
}

func formatSplit(split []int) string {
	parts := make([]string, len(split))
	for i, w := range split {
		parts[i] = fmt.Sprintf("%d", w)
	}
	return strings.Join(parts, "/")
}
