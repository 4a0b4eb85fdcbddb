package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/headline-goat/popup-goat/internal/app"
	"github.com/headline-goat/popup-goat/internal/stats"
	"github.com/headline-goat/popup-goat/internal/store"
)

var resultsCmd = &cobra.Command{
	Use:   "results <experiment>",
	Short: "Show detailed results for an experiment",
	Long:  `Show conversion rates, confidence intervals and significance of the leader against every other variant.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		exp, err := findExperiment(ctx, a.Store, args[0])
		if err != nil {
			return err
		}

		res, err := a.Service.Results(ctx, exp.ID)
		if err != nil {
			return fmt.Errorf("failed to get results: %w", err)
		}
		printResults(cmd, res.Experiment, res.Summary)
		return nil
	})
}

func printResults(cmd *cobra.Command, exp *store.Experiment, summary *stats.Summary) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "EXPERIMENT: %s\n", exp.Name)
	fmt.Fprintf(out, "STATUS: %s\n", exp.Status)
	fmt.Fprintf(out, "RULE: min %d displays per variant, %.0f%% confidence, auto-declare %t\n",
		exp.MinimumSampleSize, exp.ConfidenceLevel, exp.AutoDeclareWinner)
	if exp.EndDate != nil {
		fmt.Fprintf(out, "ENDS: %s\n", exp.EndDate.Format(store.DateLayout))
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "VARIANT           SPLIT  DISPLAYS  CONVERSIONS  RATE     95% CI")
	fmt.Fprintln(out, strings.Repeat("─", 70))

	for _, v := range summary.Variants {
		indicator := ""
		switch {
		case exp.WinnerID != nil && *exp.WinnerID == v.CampaignID:
			indicator = " ← WINNER"
		case exp.WinnerID == nil && v.Index == summary.Leader:
			indicator = " ← LEADING"
		}

		ciStr := fmt.Sprintf("[%.1f%%, %.1f%%]", v.CILower*100, v.CIUpper*100)
		if v.Sample.Displays == 0 {
			ciStr = "N/A"
		}

		name := v.Name
		if name == "" {
			name = fmt.Sprintf("campaign %d", v.CampaignID)
		}
		if len(name) > 16 {
			name = name[:13] + "..."
		}

		fmt.Fprintf(out, "%-16s  %4d%%  %-8s  %-11s  %-7s  %s%s\n",
			name,
			v.Weight,
			formatNumber(v.Sample.Displays),
			formatNumber(v.Sample.Conversions),
			formatPercent(v.Rate),
			ciStr,
			indicator,
		)
	}
	fmt.Fprintln(out)

	leader := summary.Variants[summary.Leader]
	for _, c := range summary.Comparisons {
		r := c.Result
		other := "campaign " + fmt.Sprint(c.CampaignID)
		for _, v := range summary.Variants {
			if v.CampaignID == c.CampaignID && v.Name != "" {
				other = v.Name
			}
		}
		switch {
		case r.Significant:
			fmt.Fprintf(out, "vs %s: %.1f%% confident, %+.1f%% improvement (p=%.4f)\n", other, r.ConfidencePct, r.ImprovementPct, r.PValue)
		case r.Reason == stats.ReasonNotSignificant:
			fmt.Fprintf(out, "vs %s: %.1f%% confident (not yet significant)\n", other, r.ConfidencePct)
		default:
			fmt.Fprintf(out, "vs %s: %s\n", other, strings.ReplaceAll(string(r.Reason), "_", " "))
		}
	}

	switch {
	case exp.Status == store.ExperimentCompleted:
		fmt.Fprintln(out, "\nExperiment is completed.")
	case summary.Confident:
		fmt.Fprintf(out, "\n\"%s\" beats every other variant at the required confidence.\n", leader.Name)
	case !summary.Ready:
		fmt.Fprintln(out, "\nNot enough data to determine a winner.")
	}
}
