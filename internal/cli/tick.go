package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/headline-goat/popup-goat/internal/app"
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Evaluate every active experiment once",
	Long: `Evaluate every active experiment once: complete experiments past their
end date and declare winners where the auto-declare rule is met.

Run it from cron when the server runs without --tick.`,
	RunE: runTick,
}

func init() {
	rootCmd.AddCommand(tickCmd)
}

func runTick(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		report, err := a.Controller.Run(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Evaluated %d active experiment(s)\n", report.Evaluated)
		for _, r := range report.Completed {
			if r.WinnerID != nil {
				fmt.Fprintf(out, "  %s: %s (winner campaign %d)\n", r.Name, r.Outcome, *r.WinnerID)
			} else {
				fmt.Fprintf(out, "  %s: %s\n", r.Name, r.Outcome)
			}
		}
		if report.Failed > 0 {
			return fmt.Errorf("%d experiment(s) failed to evaluate", report.Failed)
		}
		return nil
	})
}
