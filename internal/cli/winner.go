package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/headline-goat/popup-goat/internal/app"
)

func init() {
	rootCmd.AddCommand(newWinnerCmd())
}

func newWinnerCmd() *cobra.Command {
	var (
		variant   string
		assumeYes bool
	)

	cmd := &cobra.Command{
		Use:   "winner <experiment>",
		Short: "Declare a winner for an experiment",
		Long: `Declare a winning variant for an active experiment and complete it.

The other variants are paused. Visitors keep seeing the winner through
either the experiment or the winning campaign.

Example:
  popgoat winner hero --variant hero-b`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				exp, err := findExperiment(ctx, a.Store, args[0])
				if err != nil {
					return err
				}

				winner, err := findCampaign(ctx, a.Store, variant)
				if err != nil {
					return err
				}
				if exp.VariantIndex(winner.ID) < 0 {
					return fmt.Errorf("campaign '%s' is not a variant of experiment '%s'", winner.Name, exp.Name)
				}

				if err := confirm(fmt.Sprintf("Declare '%s' the winner of '%s'", winner.Name, exp.Name), assumeYes); err != nil {
					return err
				}

				if err := a.Service.DeclareWinner(ctx, exp.ID, winner.ID); err != nil {
					return fmt.Errorf("failed to set winner: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Declared winner for experiment '%s': '%s'\n", exp.Name, winner.Name)
				fmt.Fprintln(out, "Experiment has been marked as completed and the other variants paused.")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variant, "variant", "v", "", "winning variant campaign, name or id (required)")
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "skip the confirmation prompt")
	cmd.MarkFlagRequired("variant")

	return cmd
}
