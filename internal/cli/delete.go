package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/headline-goat/popup-goat/internal/app"
)

func init() {
	rootCmd.AddCommand(newDeleteCmd())
}

func newDeleteCmd() *cobra.Command {
	var assumeYes bool

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a campaign or an experiment",
	}
	cmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "skip the confirmation prompt")

	cmd.AddCommand(&cobra.Command{
		Use:   "campaign <campaign>",
		Short: "Delete a campaign with its frequency records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				c, err := findCampaign(ctx, a.Store, args[0])
				if err != nil {
					return err
				}
				if err := confirm(fmt.Sprintf("Delete campaign '%s'", c.Name), assumeYes); err != nil {
					return err
				}
				if err := a.Service.DeleteCampaign(ctx, c.ID); err != nil {
					return fmt.Errorf("failed to delete campaign: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted campaign '%s'\n", c.Name)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "experiment <experiment>",
		Short: "Delete an experiment with its assignments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				exp, err := findExperiment(ctx, a.Store, args[0])
				if err != nil {
					return err
				}
				if err := confirm(fmt.Sprintf("Delete experiment '%s'", exp.Name), assumeYes); err != nil {
					return err
				}
				if err := a.Service.DeleteExperiment(ctx, exp.ID); err != nil {
					return fmt.Errorf("failed to delete experiment: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted experiment '%s'\n", exp.Name)
				return nil
			})
		},
	})

	return cmd
}
