package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/headline-goat/popup-goat/internal/app"
	"github.com/headline-goat/popup-goat/internal/store"
)

func init() {
	rootCmd.AddCommand(newCreateCmd())
}

func newCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a campaign or an experiment",
	}
	cmd.AddCommand(newCreateCampaignCmd(), newCreateExperimentCmd())
	return cmd
}

func newCreateCampaignCmd() *cobra.Command {
	var (
		file        string
		typ         string
		status      string
		contentRef  string
		maxDisplays int
	)

	cmd := &cobra.Command{
		Use:   "campaign [name]",
		Short: "Create a new campaign",
		Long: `Create a new campaign from flags or from a YAML definition file.

Examples:
  popgoat create campaign spring-sale --type popup --max-displays 3
  popgoat create campaign -f spring-sale.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := &store.Campaign{
				Type:       store.CampaignType(typ),
				Status:     store.CampaignStatus(status),
				ContentRef: contentRef,
				Trigger:    store.Trigger{MaxDisplays: maxDisplays},
			}
			if file != "" {
				loaded, err := loadCampaignFile(file)
				if err != nil {
					return err
				}
				c = loaded
			}
			if len(args) == 1 {
				c.Name = args[0]
			}

			return withApp(func(ctx context.Context, a *app.App) error {
				created, err := a.Service.CreateCampaign(ctx, c)
				if err != nil {
					return fmt.Errorf("failed to create campaign: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created campaign '%s' (id %d, %s, %s)\n", created.Name, created.ID, created.Type, created.Status)
				if created.Trigger.MaxDisplays > 0 {
					fmt.Fprintf(out, "  Max displays: %d\n", created.Trigger.MaxDisplays)
				}
				if created.ContentRef != "" {
					fmt.Fprintf(out, "  Content: %s\n", created.ContentRef)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML campaign definition")
	cmd.Flags().StringVar(&typ, "type", string(store.TypePopup), "popup, slide_in, floating_bar, fullscreen or inline")
	cmd.Flags().StringVar(&status, "status", string(store.CampaignDraft), "initial status")
	cmd.Flags().StringVar(&contentRef, "content", "", "opaque content reference handed to the renderer")
	cmd.Flags().IntVar(&maxDisplays, "max-displays", 0, "displays per visitor (0 = unlimited)")

	return cmd
}

// experimentFile is the YAML form of an experiment; variants are campaign
// names or ids.
type experimentFile struct {
	Name              string   `yaml:"name"`
	Variants          []string `yaml:"variants"`
	TrafficSplit      []int    `yaml:"traffic_split"`
	EndDate           string   `yaml:"end_date"`
	MinimumSampleSize int      `yaml:"minimum_sample_size"`
	ConfidenceLevel   float64  `yaml:"confidence_level"`
	AutoDeclareWinner bool     `yaml:"auto_declare_winner"`
}

func newCreateExperimentCmd() *cobra.Command {
	var (
		file     string
		def      experimentFile
		variants string
		split    string
	)

	cmd := &cobra.Command{
		Use:   "experiment [name]",
		Short: "Create a new experiment over existing campaigns",
		Long: `Create an experiment. Traffic-split weights must sum to exactly 100.

Examples:
  popgoat create experiment hero --variants "hero-a,hero-b" --split "50,50" --auto
  popgoat create experiment -f hero.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				loaded, err := loadExperimentFile(file)
				if err != nil {
					return err
				}
				def = *loaded
			} else {
				for _, v := range strings.Split(variants, ",") {
					if v = strings.TrimSpace(v); v != "" {
						def.Variants = append(def.Variants, v)
					}
				}
				parsed, err := parseSplit(split)
				if err != nil {
					return err
				}
				def.TrafficSplit = parsed
			}
			if len(args) == 1 {
				def.Name = args[0]
			}

			return withApp(func(ctx context.Context, a *app.App) error {
				exp, err := def.toExperiment(ctx, a.Store)
				if err != nil {
					return err
				}

				created, err := a.Service.CreateExperiment(ctx, exp)
				if err != nil {
					return fmt.Errorf("failed to create experiment: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created experiment '%s' (id %d) with %d variants:\n", created.Name, created.ID, len(created.VariantIDs))
				for i := range created.VariantIDs {
					fmt.Fprintf(out, "  %s: %d%%\n", def.Variants[i], created.TrafficSplit[i])
				}
				fmt.Fprintf(out, "Start it with: popgoat start %s\n", created.Name)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML experiment definition")
	cmd.Flags().StringVar(&variants, "variants", "", "comma-separated variant campaigns (names or ids)")
	cmd.Flags().StringVar(&split, "split", "", "comma-separated traffic weights summing to 100")
	cmd.Flags().StringVar(&def.EndDate, "end-date", "", "complete the experiment after this date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&def.MinimumSampleSize, "min-sample", store.DefaultMinimumSampleSize, "displays each variant needs before a winner can be declared")
	cmd.Flags().Float64Var(&def.ConfidenceLevel, "confidence", store.DefaultConfidenceLevel, "confidence level in percent required to declare a winner")
	cmd.Flags().BoolVar(&def.AutoDeclareWinner, "auto", false, "declare a winner automatically")

	return cmd
}

func (f *experimentFile) toExperiment(ctx context.Context, s store.CampaignStore) (*store.Experiment, error) {
	exp := &store.Experiment{
		Name:              f.Name,
		TrafficSplit:      f.TrafficSplit,
		MinimumSampleSize: f.MinimumSampleSize,
		ConfidenceLevel:   f.ConfidenceLevel,
		AutoDeclareWinner: f.AutoDeclareWinner,
	}

	for _, ref := range f.Variants {
		c, err := findCampaign(ctx, s, ref)
		if err != nil {
			return nil, err
		}
		exp.VariantIDs = append(exp.VariantIDs, c.ID)
	}

	if f.EndDate != "" {
		end, err := time.Parse(store.DateLayout, f.EndDate)
		if err != nil {
			return nil, fmt.Errorf("invalid end date %q: must be YYYY-MM-DD", f.EndDate)
		}
		exp.EndDate = &end
	}

	return exp, nil
}

func loadCampaignFile(path string) (*store.Campaign, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var c store.Campaign
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if c.Type == "" {
		c.Type = store.TypePopup
	}
	return &c, nil
}

func loadExperimentFile(path string) (*experimentFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var f experimentFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &f, nil
}
