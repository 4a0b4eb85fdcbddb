package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/headline-goat/popup-goat/internal/app"
)

func init() {
	rootCmd.AddCommand(newStartCmd())
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <experiment>",
		Short: "Start a draft experiment",
		Long: `Start a draft experiment. Visitors are assigned to variants from now on.

Example:
  popgoat start hero`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				exp, err := findExperiment(ctx, a.Store, args[0])
				if err != nil {
					return err
				}
				if err := a.Service.StartExperiment(ctx, exp.ID); err != nil {
					return fmt.Errorf("failed to start experiment: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Started experiment '%s'\n", exp.Name)
				return nil
			})
		},
	}
}
