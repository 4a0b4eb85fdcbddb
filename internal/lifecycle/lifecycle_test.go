package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headline-goat/popup-goat/internal/logger"
	"github.com/headline-goat/popup-goat/internal/metrics"
	"github.com/headline-goat/popup-goat/internal/store"
	"github.com/headline-goat/popup-goat/internal/store/storetest"
)

var now = time.Date(2026, 3, 11, 14, 30, 0, 0, time.UTC)

// fixedCounters serves canned counters on top of a real store so the
// conditional status transitions are exercised for real.
type fixedCounters struct {
	*store.SQLiteStore
	mu       sync.Mutex
	counters map[int64][]store.VariantCounters
	fail     map[int64]error
}

func (f *fixedCounters) VariantCounters(_ context.Context, experimentID int64, _ time.Time) ([]store.VariantCounters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[experimentID]; err != nil {
		return nil, err
	}
	return f.counters[experimentID], nil
}

func (f *fixedCounters) set(exp *store.Experiment, samples ...[2]int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var cs []store.VariantCounters
	for i, s := range samples {
		cs = append(cs, store.VariantCounters{CampaignID: exp.VariantIDs[i], Displayed: s[0], Converted: s[1]})
	}
	f.counters[exp.ID] = cs
}

type countingPauser struct {
	StatusPauser
	mu    sync.Mutex
	calls int
	// failures is the number of upcoming calls that fail before pausing anything.
	failures int
}

func (p *countingPauser) PauseCampaigns(ctx context.Context, ids []int64) error {
	p.mu.Lock()
	p.calls++
	fail := p.failures > 0
	if fail {
		p.failures--
	}
	p.mu.Unlock()
	if fail {
		return store.ErrUnavailable
	}
	return p.StatusPauser.PauseCampaigns(ctx, ids)
}

type harness struct {
	ctrl    *Controller
	store   *fixedCounters
	pauser  *countingPauser
	metrics *metrics.Metrics
}

func setup(t *testing.T) *harness {
	t.Helper()
	s := &fixedCounters{
		SQLiteStore: storetest.SetupTestStore(t),
		counters:    make(map[int64][]store.VariantCounters),
		fail:        make(map[int64]error),
	}
	p := &countingPauser{StatusPauser: StatusPauser{Campaigns: s}}
	m := metrics.New()
	c := New(s, p, Options{Lookback: 720 * time.Hour, Concurrency: 2}, m, logger.Nop())
	c.now = func() time.Time { return now }
	return &harness{ctrl: c, store: s, pauser: p, metrics: m}
}

func (h *harness) reload(t *testing.T, id int64) *store.Experiment {
	t.Helper()
	exp, err := h.store.GetExperiment(context.Background(), id)
	require.NoError(t, err)
	return exp
}

func (h *harness) campaignStatus(t *testing.T, id int64) store.CampaignStatus {
	t.Helper()
	c, err := h.store.GetCampaign(context.Background(), id)
	require.NoError(t, err)
	return c.Status
}

func TestEvaluate_DeclaresSignificantWinner(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	exp := storetest.CreateActiveExperiment(t, h.store, "hero", []int{50, 50})
	h.store.set(exp, [2]int{1000, 50}, [2]int{1000, 80})

	res, err := h.ctrl.Evaluate(ctx, exp, now)
	require.NoError(t, err)

	assert.Equal(t, WinnerDeclared, res.Outcome)
	require.NotNil(t, res.WinnerID)
	assert.Equal(t, exp.VariantIDs[1], *res.WinnerID)

	stored := h.reload(t, exp.ID)
	assert.Equal(t, store.ExperimentCompleted, stored.Status)
	require.NotNil(t, stored.WinnerID)
	assert.Equal(t, exp.VariantIDs[1], *stored.WinnerID)
	require.NotNil(t, stored.CompletedAt)
	require.NotNil(t, stored.VariantsPausedAt)

	assert.Equal(t, store.CampaignPaused, h.campaignStatus(t, exp.VariantIDs[0]))
	assert.Equal(t, store.CampaignActive, h.campaignStatus(t, exp.VariantIDs[1]))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.LifecycleTransitions.WithLabelValues("auto_winner")))
}

func TestEvaluate_IdempotentOnCompleted(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	exp := storetest.CreateActiveExperiment(t, h.store, "hero", []int{50, 50})
	h.store.set(exp, [2]int{1000, 80}, [2]int{1000, 50})

	_, err := h.ctrl.Evaluate(ctx, exp, now)
	require.NoError(t, err)
	completed := h.reload(t, exp.ID)

	// Flip the data so a naive re-run would pick the other variant.
	h.store.set(exp, [2]int{1000, 50}, [2]int{1000, 80})
	for i := 0; i < 2; i++ {
		res, err := h.ctrl.Evaluate(ctx, h.reload(t, exp.ID), now.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, Unchanged, res.Outcome)
	}

	// A stale in-memory copy still marked active loses the conditional update.
	res, err := h.ctrl.Evaluate(ctx, exp, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, AlreadyCompleted, res.Outcome)

	after := h.reload(t, exp.ID)
	assert.Equal(t, store.ExperimentCompleted, after.Status)
	assert.Equal(t, *completed.WinnerID, *after.WinnerID)
	assert.Equal(t, exp.VariantIDs[0], *after.WinnerID)
	assert.True(t, completed.CompletedAt.Equal(*after.CompletedAt))
	assert.Equal(t, 1, h.pauser.calls)
}

func TestEvaluate_RemainsActive(t *testing.T) {
	tests := []struct {
		name       string
		samples    [][2]int
		minSample  int
		confidence float64
		auto       bool
	}{
		{"not significant", [][2]int{{1000, 10}, {1000, 12}}, 100, 95, true},
		{"below minimum sample", [][2]int{{1000, 50}, {1000, 80}}, 2000, 95, true},
		{"confidence threshold not met", [][2]int{{1000, 50}, {1000, 80}}, 100, 99.9, true},
		{"missing variant data", [][2]int{{1000, 80}}, 100, 95, true},
		{"auto declare disabled", [][2]int{{1000, 50}, {1000, 80}}, 100, 95, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setup(t)
			exp := storetest.CreateActiveExperiment(t, h.store, "hero", []int{50, 50})
			exp.MinimumSampleSize = tt.minSample
			exp.ConfidenceLevel = tt.confidence
			exp.AutoDeclareWinner = tt.auto
			h.store.set(exp, tt.samples...)

			res, err := h.ctrl.Evaluate(context.Background(), exp, now)
			require.NoError(t, err)
			assert.Equal(t, Unchanged, res.Outcome)
			assert.Nil(t, res.WinnerID)
			assert.Equal(t, store.ExperimentActive, h.reload(t, exp.ID).Status)
			assert.Zero(t, h.pauser.calls)
		})
	}
}

func TestEvaluate_LeaderMustBeatEveryVariant(t *testing.T) {
	h := setup(t)
	exp := storetest.CreateActiveExperiment(t, h.store, "hero", []int{34, 33, 33})

	// 130 beats 100 (p≈0.035) but not 120.
	h.store.set(exp, [2]int{1000, 130}, [2]int{1000, 100}, [2]int{1000, 120})
	res, err := h.ctrl.Evaluate(context.Background(), exp, now)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, res.Outcome)

	h.store.set(exp, [2]int{1000, 100}, [2]int{1000, 100}, [2]int{1000, 150})
	res, err = h.ctrl.Evaluate(context.Background(), exp, now)
	require.NoError(t, err)
	assert.Equal(t, WinnerDeclared, res.Outcome)
	assert.Equal(t, exp.VariantIDs[2], *res.WinnerID)

	assert.Equal(t, store.CampaignPaused, h.campaignStatus(t, exp.VariantIDs[0]))
	assert.Equal(t, store.CampaignPaused, h.campaignStatus(t, exp.VariantIDs[1]))
	assert.Equal(t, store.CampaignActive, h.campaignStatus(t, exp.VariantIDs[2]))
}

func TestEvaluate_EndDatePassed(t *testing.T) {
	h := setup(t)
	exp := storetest.CreateActiveExperiment(t, h.store, "hero", []int{50, 50})
	end := now.Add(-time.Minute)
	exp.EndDate = &end
	// A significant result does not matter once the end date has passed.
	h.store.set(exp, [2]int{1000, 50}, [2]int{1000, 80})

	res, err := h.ctrl.Evaluate(context.Background(), exp, now)
	require.NoError(t, err)
	assert.Equal(t, Expired, res.Outcome)
	assert.Nil(t, res.WinnerID)

	stored := h.reload(t, exp.ID)
	assert.Equal(t, store.ExperimentCompleted, stored.Status)
	assert.Nil(t, stored.WinnerID)
	assert.Zero(t, h.pauser.calls)
	assert.Equal(t, store.CampaignActive, h.campaignStatus(t, exp.VariantIDs[0]))
}

func TestEvaluate_EndDateInFuture(t *testing.T) {
	h := setup(t)
	exp := storetest.CreateActiveExperiment(t, h.store, "hero", []int{50, 50})
	end := now.Add(time.Hour)
	exp.EndDate = &end
	h.store.set(exp, [2]int{1000, 10}, [2]int{1000, 12})

	res, err := h.ctrl.Evaluate(context.Background(), exp, now)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, res.Outcome)
}

func TestRun_EvaluatesAllActive(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	winner := storetest.CreateActiveExperiment(t, h.store, "winner", []int{50, 50})
	h.store.set(winner, [2]int{1000, 80}, [2]int{1000, 50})

	pending := storetest.CreateActiveExperiment(t, h.store, "pending", []int{50, 50})
	h.store.set(pending, [2]int{1000, 10}, [2]int{1000, 12})

	broken := storetest.CreateActiveExperiment(t, h.store, "broken", []int{50, 50})
	h.store.fail[broken.ID] = errors.New("disk I/O error")

	report, err := h.ctrl.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Evaluated)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Completed, 1)
	assert.Equal(t, winner.ID, report.Completed[0].ExperimentID)
	assert.Equal(t, WinnerDeclared, report.Completed[0].Outcome)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.LifecycleErrors))

	// Second run sees only the two still-active experiments and changes nothing.
	report, err = h.ctrl.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Evaluated)
	assert.Empty(t, report.Completed)
	assert.Equal(t, 1, h.pauser.calls)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.LifecycleRuns))
}

func TestRun_RetriesFailedPause(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	exp := storetest.CreateActiveExperiment(t, h.store, "hero", []int{50, 50})
	h.store.set(exp, [2]int{1000, 50}, [2]int{1000, 80})
	h.pauser.failures = 1

	report, err := h.ctrl.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Empty(t, report.Completed)

	stored := h.reload(t, exp.ID)
	assert.Equal(t, store.ExperimentCompleted, stored.Status)
	assert.Equal(t, exp.VariantIDs[1], *stored.WinnerID)
	assert.Nil(t, stored.VariantsPausedAt)
	assert.Equal(t, store.CampaignActive, h.campaignStatus(t, exp.VariantIDs[0]))

	// The next run pauses the loser of the already completed experiment.
	report, err = h.ctrl.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Evaluated)
	assert.Zero(t, report.Failed)
	assert.Equal(t, store.CampaignPaused, h.campaignStatus(t, exp.VariantIDs[0]))
	assert.Equal(t, store.CampaignActive, h.campaignStatus(t, exp.VariantIDs[1]))
	assert.NotNil(t, h.reload(t, exp.ID).VariantsPausedAt)
	assert.Equal(t, 2, h.pauser.calls)

	// Once recorded, later runs never pause again.
	_, err = h.ctrl.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, h.pauser.calls)
}

func TestRun_ExpiredExperimentNeedsNoPause(t *testing.T) {
	h := setup(t)
	exp := storetest.CreateActiveExperiment(t, h.store, "hero", []int{50, 50})
	_, err := h.store.CompleteExperiment(context.Background(), exp.ID, nil, now)
	require.NoError(t, err)

	report, err := h.ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Failed)
	assert.Zero(t, h.pauser.calls)
}

func TestDeclareWinner(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	exp := storetest.CreateActiveExperiment(t, h.store, "hero", []int{50, 50})

	_, err := h.ctrl.DeclareWinner(ctx, exp, 9999)
	assert.ErrorIs(t, err, store.ErrValidation)

	ok, err := h.ctrl.DeclareWinner(ctx, exp, exp.VariantIDs[0])
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, store.CampaignPaused, h.campaignStatus(t, exp.VariantIDs[1]))

	ok, err = h.ctrl.DeclareWinner(ctx, exp, exp.VariantIDs[1])
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, exp.VariantIDs[0], *h.reload(t, exp.ID).WinnerID)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.LifecycleTransitions.WithLabelValues("manual")))
}
