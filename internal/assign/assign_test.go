package assign

import (
	"context"
	"fmt"
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

func setupEngine(t *testing.T) (*Engine, *metrics.Metrics, store.Store) {
	t.Helper()
	s := storetest.SetupTestStore(t)
	m := metrics.New()
	return New(s, m, logger.Nop()), m, s
}

func TestBucket_Stable(t *testing.T) {
	// Pinned so a hash change cannot silently reshuffle running experiments.
	assert.Equal(t, 74, Bucket(1, "visitor-1"))
	assert.Equal(t, 63, Bucket(1, "visitor-2"))
	assert.Equal(t, 44, Bucket(7, "alice"))
	assert.Equal(t, 55, Bucket(7, "bob"))
}

func TestPick(t *testing.T) {
	exp := &store.Experiment{VariantIDs: []int64{10, 20, 30}, TrafficSplit: []int{20, 30, 50}}

	tests := []struct {
		bucket int
		want   int64
	}{
		{0, 10},
		{19, 10},
		{20, 20},
		{49, 20},
		{50, 30},
		{99, 30},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("bucket %d", tt.bucket), func(t *testing.T) {
			assert.Equal(t, tt.want, Pick(exp, tt.bucket))
		})
	}
}

func TestPick_ZeroWeightNeverPicked(t *testing.T) {
	exp := &store.Experiment{VariantIDs: []int64{10, 20, 30}, TrafficSplit: []int{0, 100, 0}}

	for _, bucket := range []int{0, 50, 99} {
		assert.Equal(t, int64(20), Pick(exp, bucket))
	}
}

func TestPick_MalformedWeightsFallBackToFirst(t *testing.T) {
	exp := &store.Experiment{VariantIDs: []int64{10, 20}, TrafficSplit: []int{30, 30}}
	assert.Equal(t, int64(10), Pick(exp, 75))

	exp = &store.Experiment{VariantIDs: []int64{10, 20}}
	assert.Equal(t, int64(10), Pick(exp, 5))
}

func TestAssignVariant_Deterministic(t *testing.T) {
	e, m, s := setupEngine(t)
	ctx := context.Background()
	exp := storetest.CreateActiveExperiment(t, s, "hero", []int{50, 50})

	first, err := e.AssignVariant(ctx, exp, "visitor-1")
	require.NoError(t, err)
	second, err := e.AssignVariant(ctx, exp, "visitor-1")
	require.NoError(t, err)

	assert.Equal(t, first.VariantID, second.VariantID)
	assert.True(t, first.AssignedAt.Equal(second.AssignedAt))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Assignments.WithLabelValues("new")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Assignments.WithLabelValues("existing")))
}

func TestAssignVariant_StableAfterSplitChange(t *testing.T) {
	e, _, s := setupEngine(t)
	ctx := context.Background()
	exp := storetest.CreateActiveExperiment(t, s, "hero", []int{50, 50})

	first, err := e.AssignVariant(ctx, exp, "visitor-1")
	require.NoError(t, err)

	// Route all new traffic to the other variant; the stored assignment wins.
	other := exp.VariantIDs[0]
	if other == first.VariantID {
		other = exp.VariantIDs[1]
	}
	shifted := *exp
	shifted.TrafficSplit = []int{100, 0}
	if other == exp.VariantIDs[1] {
		shifted.TrafficSplit = []int{0, 100}
	}

	again, err := e.AssignVariant(ctx, &shifted, "visitor-1")
	require.NoError(t, err)
	assert.Equal(t, first.VariantID, again.VariantID)
}

func TestAssignVariant_Distribution(t *testing.T) {
	e, _, s := setupEngine(t)
	ctx := context.Background()
	exp := storetest.CreateActiveExperiment(t, s, "hero", []int{50, 50})
	e.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	counts := make(map[int64]int)
	const visitors = 10000
	for i := 0; i < visitors; i++ {
		a, err := e.AssignVariant(ctx, exp, fmt.Sprintf("visitor-%d", i))
		require.NoError(t, err)
		counts[a.VariantID]++
	}

	for _, id := range exp.VariantIDs {
		share := float64(counts[id]) / visitors
		assert.InDelta(t, 0.5, share, 0.05, "variant %d got %.3f", id, share)
	}
}

func TestAssignVariant_UnevenSplit(t *testing.T) {
	exp := &store.Experiment{ID: 3, VariantIDs: []int64{1, 2}, TrafficSplit: []int{20, 80}}

	first := 0
	const visitors = 10000
	for i := 0; i < visitors; i++ {
		if Pick(exp, Bucket(exp.ID, fmt.Sprintf("visitor-%d", i))) == 1 {
			first++
		}
	}
	assert.InDelta(t, 0.2, float64(first)/visitors, 0.03)
}

func TestAssignVariant_ConcurrentFirstViews(t *testing.T) {
	e, m, s := setupEngine(t)
	ctx := context.Background()
	exp := storetest.CreateActiveExperiment(t, s, "hero", []int{50, 50})

	const workers = 20
	results := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := e.AssignVariant(ctx, exp, "visitor-race")
			if err == nil {
				results[i] = a.VariantID
			}
		}(i)
	}
	wg.Wait()

	require.NotZero(t, results[0])
	for i := 1; i < workers; i++ {
		assert.Equal(t, results[0], results[i])
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Assignments.WithLabelValues("new")))
}
