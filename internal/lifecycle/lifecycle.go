// Package lifecycle advances active experiments to completion when their end
// date passes or a variant wins.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/headline-goat/popup-goat/internal/logger"
	"github.com/headline-goat/popup-goat/internal/metrics"
	"github.com/headline-goat/popup-goat/internal/stats"
	"github.com/headline-goat/popup-goat/internal/store"
)

type Outcome string

const (
	Unchanged      Outcome = "unchanged"
	Expired        Outcome = "expired"
	WinnerDeclared Outcome = "winner_declared"
	// AlreadyCompleted means another caller completed the experiment first.
	AlreadyCompleted Outcome = "already_completed"
)

// Store is the persistence the controller needs.
type Store interface {
	ListExperimentsByStatus(ctx context.Context, status store.ExperimentStatus) ([]*store.Experiment, error)
	GetExperiment(ctx context.Context, id int64) (*store.Experiment, error)
	CompleteExperiment(ctx context.Context, id int64, winnerID *int64, at time.Time) (bool, error)
	MarkVariantsPaused(ctx context.Context, id int64, at time.Time) error
	VariantCounters(ctx context.Context, experimentID int64, since time.Time) ([]store.VariantCounters, error)
}

// CampaignPauser is told to pause the losing variants once a winner is set.
type CampaignPauser interface {
	PauseCampaigns(ctx context.Context, ids []int64) error
}

// StatusPauser pauses campaigns by flipping their stored status.
type StatusPauser struct {
	Campaigns store.CampaignStore
}

func (p StatusPauser) PauseCampaigns(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if err := p.Campaigns.UpdateCampaignStatus(ctx, id, store.CampaignPaused); err != nil {
			return fmt.Errorf("pause campaign %d: %w", id, err)
		}
	}
	return nil
}

type Options struct {
	// Lookback bounds the event window for counters; zero means all events.
	Lookback    time.Duration
	Concurrency int
}

type Controller struct {
	store   Store
	pauser  CampaignPauser
	opts    Options
	metrics *metrics.Metrics
	log     *logger.Logger
	now     func() time.Time
}

func New(s Store, p CampaignPauser, opts Options, m *metrics.Metrics, log *logger.Logger) *Controller {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Controller{store: s, pauser: p, opts: opts, metrics: m, log: log, now: time.Now}
}

// Result is the outcome of evaluating one experiment.
type Result struct {
	ExperimentID int64          `json:"experiment_id"`
	Name         string         `json:"name"`
	Outcome      Outcome        `json:"outcome"`
	WinnerID     *int64         `json:"winner_id,omitempty"`
	Summary      *stats.Summary `json:"-"`
}

// Report summarizes one Run.
type Report struct {
	Evaluated int      `json:"evaluated"`
	Completed []Result `json:"completed"`
	Failed    int      `json:"failed"`
}

// Run evaluates every active experiment once. A failure on one experiment is
// logged and counted without stopping the others.
func (c *Controller) Run(ctx context.Context) (*Report, error) {
	c.metrics.LifecycleRuns.Inc()

	active, err := c.store.ListExperimentsByStatus(ctx, store.ExperimentActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active experiments: %w", err)
	}

	now := c.now()
	report := &Report{Evaluated: len(active), Completed: []Result{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for _, exp := range active {
		g.Go(func() error {
			res, err := c.Evaluate(gctx, exp, now)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				c.metrics.LifecycleErrors.Inc()
				c.log.Error("Failed to evaluate experiment", "experiment_id", exp.ID, "error", err)
				return nil
			}
			if res.Outcome == Expired || res.Outcome == WinnerDeclared {
				report.Completed = append(report.Completed, res)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Failed += c.retryPauses(ctx, now)

	if len(report.Completed) > 0 || report.Failed > 0 {
		c.log.Info("Lifecycle run finished", "evaluated", report.Evaluated, "completed", len(report.Completed), "failed", report.Failed)
	}
	return report, nil
}

// Evaluate decides whether a single experiment should complete at now. It is
// safe to call repeatedly: a completed experiment is left untouched.
func (c *Controller) Evaluate(ctx context.Context, exp *store.Experiment, now time.Time) (Result, error) {
	res := Result{ExperimentID: exp.ID, Name: exp.Name, Outcome: Unchanged, WinnerID: exp.WinnerID}
	if exp.Status != store.ExperimentActive {
		return res, nil
	}

	if exp.EndDate != nil && !now.Before(*exp.EndDate) {
		changed, err := c.store.CompleteExperiment(ctx, exp.ID, nil, now)
		if err != nil {
			return res, fmt.Errorf("failed to complete experiment: %w", err)
		}
		if !changed {
			res.Outcome = AlreadyCompleted
			return res, nil
		}
		c.metrics.LifecycleTransitions.WithLabelValues("end_date").Inc()
		c.log.Info("Experiment reached end date", "experiment_id", exp.ID, "name", exp.Name)
		res.Outcome = Expired
		return res, nil
	}

	if !exp.AutoDeclareWinner {
		return res, nil
	}

	summary, err := c.summarize(ctx, exp, now)
	if err != nil {
		return res, err
	}
	res.Summary = summary
	if !summary.Confident {
		return res, nil
	}

	winnerID := summary.LeaderID()
	completed, err := c.complete(ctx, exp, winnerID, now, "auto_winner")
	if err != nil {
		return res, err
	}
	if !completed {
		res.Outcome = AlreadyCompleted
		return res, nil
	}

	res.Outcome = WinnerDeclared
	res.WinnerID = &winnerID
	return res, nil
}

// DeclareWinner completes an active experiment with a manually chosen winner.
// It reports false when the experiment was not active.
func (c *Controller) DeclareWinner(ctx context.Context, exp *store.Experiment, winnerID int64) (bool, error) {
	if exp.VariantIndex(winnerID) < 0 {
		return false, &store.ValidationError{Field: "winner_id", Message: fmt.Sprintf("campaign %d is not a variant of this experiment", winnerID)}
	}
	return c.complete(ctx, exp, winnerID, c.now(), "manual")
}

// Summarize computes the statistical summary for an experiment at now.
func (c *Controller) Summarize(ctx context.Context, exp *store.Experiment) (*stats.Summary, error) {
	return c.summarize(ctx, exp, c.now())
}

func (c *Controller) summarize(ctx context.Context, exp *store.Experiment, now time.Time) (*stats.Summary, error) {
	since := time.Unix(0, 0)
	if c.opts.Lookback > 0 {
		since = now.Add(-c.opts.Lookback)
	}

	counters, err := c.store.VariantCounters(ctx, exp.ID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load variant counters: %w", err)
	}
	return stats.Summarize(exp, counters, nil), nil
}

// complete transitions the experiment and pauses the losers. Losers are only
// paused by the caller whose update actually completed the experiment; a
// failed pause is retried by later runs.
func (c *Controller) complete(ctx context.Context, exp *store.Experiment, winnerID int64, now time.Time, cause string) (bool, error) {
	changed, err := c.store.CompleteExperiment(ctx, exp.ID, &winnerID, now)
	if err != nil {
		return false, fmt.Errorf("failed to complete experiment: %w", err)
	}
	if !changed {
		return false, nil
	}

	c.metrics.LifecycleTransitions.WithLabelValues(cause).Inc()
	c.log.Info("Winner declared", "experiment_id", exp.ID, "name", exp.Name, "winner_id", winnerID, "cause", cause)

	if err := c.pauseLosers(ctx, exp, winnerID, now); err != nil {
		return true, fmt.Errorf("experiment %d completed but pausing variants failed: %w", exp.ID, err)
	}
	return true, nil
}

func (c *Controller) pauseLosers(ctx context.Context, exp *store.Experiment, winnerID int64, now time.Time) error {
	var losers []int64
	for _, id := range exp.VariantIDs {
		if id != winnerID {
			losers = append(losers, id)
		}
	}
	if err := c.pauser.PauseCampaigns(ctx, losers); err != nil {
		return err
	}
	return c.store.MarkVariantsPaused(ctx, exp.ID, now)
}

// retryPauses pauses the losers of decided experiments whose earlier pause
// failed. It returns the number of experiments that still failed.
func (c *Controller) retryPauses(ctx context.Context, now time.Time) int {
	completed, err := c.store.ListExperimentsByStatus(ctx, store.ExperimentCompleted)
	if err != nil {
		c.log.Error("Failed to list completed experiments", "error", err)
		return 1
	}

	failed := 0
	for _, exp := range completed {
		if exp.WinnerID == nil || exp.VariantsPausedAt != nil {
			continue
		}
		if err := c.pauseLosers(ctx, exp, *exp.WinnerID, now); err != nil {
			failed++
			c.metrics.LifecycleErrors.Inc()
			c.log.Error("Failed to pause losing variants", "experiment_id", exp.ID, "error", err)
			continue
		}
		c.log.Info("Paused losing variants", "experiment_id", exp.ID, "name", exp.Name)
	}
	return failed
}
