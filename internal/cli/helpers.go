package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"

	"github.com/headline-goat/popup-goat/internal/app"
	"github.com/headline-goat/popup-goat/internal/logger"
	"github.com/headline-goat/popup-goat/internal/store"
)

// withApp builds the registry, executes the function, and handles cleanup.
func withApp(fn func(context.Context, *app.App) error) error {
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	ctx := context.Background()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

// findCampaign looks a campaign up by numeric id or by name.
func findCampaign(ctx context.Context, s store.CampaignStore, ref string) (*store.Campaign, error) {
	var c *store.Campaign
	var err error
	if id, convErr := strconv.ParseInt(ref, 10, 64); convErr == nil {
		c, err = s.GetCampaign(ctx, id)
	} else {
		c, err = s.GetCampaignByName(ctx, ref)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("campaign '%s' not found", ref)
	}
	return c, err
}

// findExperiment looks an experiment up by numeric id or by name.
func findExperiment(ctx context.Context, s store.ExperimentStore, ref string) (*store.Experiment, error) {
	var e *store.Experiment
	var err error
	if id, convErr := strconv.ParseInt(ref, 10, 64); convErr == nil {
		e, err = s.GetExperiment(ctx, id)
	} else {
		e, err = s.GetExperimentByName(ctx, ref)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("experiment '%s' not found", ref)
	}
	return e, err
}

// confirm asks a yes/no question unless assumeYes is set.
func confirm(label string, assumeYes bool) error {
	if assumeYes {
		return nil
	}

	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}
	if _, err := prompt.Run(); err != nil {
		if errors.Is(err, promptui.ErrAbort) || errors.Is(err, promptui.ErrInterrupt) {
			return fmt.Errorf("aborted")
		}
		return err
	}
	return nil
}

func parseSplit(s string) ([]int, error) {
	var split []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid weight %q in split", part)
		}
		split = append(split, n)
	}
	return split, nil
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}

func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n/1000)%1000, n%1000)
}
