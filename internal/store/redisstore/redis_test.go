package redisstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headline-goat/popup-goat/internal/store"
)

func setupTestRedis(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return New(client), mr
}

func TestAssignment_InsertIfAbsent(t *testing.T) {
	s, _ := setupTestRedis(t)
	ctx := context.Background()

	_, err := s.GetAssignment(ctx, 1, "v")
	assert.ErrorIs(t, err, store.ErrNotFound)

	at := time.Unix(1700000000, 0)
	a, created, err := s.InsertAssignmentIfAbsent(ctx, store.VisitorAssignment{ExperimentID: 1, VisitorID: "v", VariantID: 10, AssignedAt: at})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(10), a.VariantID)

	a, created, err = s.InsertAssignmentIfAbsent(ctx, store.VisitorAssignment{ExperimentID: 1, VisitorID: "v", VariantID: 20, AssignedAt: time.Now()})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(10), a.VariantID)
	assert.Equal(t, at, a.AssignedAt)
}

func TestAssignment_ConcurrentWriters(t *testing.T) {
	s, _ := setupTestRedis(t)
	ctx := context.Background()

	const writers = 10
	got := make([]int64, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, _, err := s.InsertAssignmentIfAbsent(ctx, store.VisitorAssignment{ExperimentID: 2, VisitorID: "racer", VariantID: int64(i + 1), AssignedAt: time.Now()})
			if err != nil {
				t.Errorf("writer %d: %v", i, err)
				return
			}
			got[i] = a.VariantID
		}(i)
	}
	wg.Wait()

	for i := range got {
		assert.Equal(t, got[0], got[i])
	}
}

func TestFrequency_ApplyEvents(t *testing.T) {
	s, _ := setupTestRedis(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	_, err := s.GetFrequencyRecord(ctx, 1, "v")
	assert.ErrorIs(t, err, store.ErrNotFound)

	rec, err := s.ApplyFrequencyEvent(ctx, store.FrequencyUpdate{CampaignID: 1, VisitorID: "v", Event: store.EventDisplayed, At: now})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.DisplayCount)
	require.NotNil(t, rec.LastDisplayedAt)
	assert.Equal(t, now, *rec.LastDisplayedAt)

	long := now.Add(2 * time.Hour)
	_, err = s.ApplyFrequencyEvent(ctx, store.FrequencyUpdate{CampaignID: 1, VisitorID: "v", Event: store.EventDismissed, At: now, CooldownUntil: &long})
	require.NoError(t, err)

	short := now.Add(time.Minute)
	rec, err = s.ApplyFrequencyEvent(ctx, store.FrequencyUpdate{CampaignID: 1, VisitorID: "v", Event: store.EventDisplayed, At: now, CooldownUntil: &short})
	require.NoError(t, err)
	assert.Equal(t, 2, rec.DisplayCount)
	require.NotNil(t, rec.CooldownUntil)
	assert.Equal(t, long, *rec.CooldownUntil)
	require.NotNil(t, rec.LastDismissedAt)

	first := now.Add(time.Hour)
	_, err = s.ApplyFrequencyEvent(ctx, store.FrequencyUpdate{CampaignID: 1, VisitorID: "v", Event: store.EventConverted, At: first})
	require.NoError(t, err)
	rec, err = s.ApplyFrequencyEvent(ctx, store.FrequencyUpdate{CampaignID: 1, VisitorID: "v", Event: store.EventConverted, At: first.Add(time.Hour)})
	require.NoError(t, err)
	require.NotNil(t, rec.LastConvertedAt)
	assert.Equal(t, first, *rec.LastConvertedAt, "first conversion is kept")

	_, err = s.ApplyFrequencyEvent(ctx, store.FrequencyUpdate{CampaignID: 1, VisitorID: "v", Event: store.EventInteracted, At: now})
	assert.Error(t, err)
}

func TestFrequency_ImpressionAppliedOnce(t *testing.T) {
	s, _ := setupTestRedis(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	display := store.FrequencyUpdate{CampaignID: 2, VisitorID: "v", Event: store.EventDisplayed, ImpressionID: "imp-1", At: now}
	for i := 0; i < 3; i++ {
		rec, err := s.ApplyFrequencyEvent(ctx, display)
		require.NoError(t, err)
		assert.Equal(t, 1, rec.DisplayCount, "attempt %d", i)
	}

	display.ImpressionID = "imp-2"
	rec, err := s.ApplyFrequencyEvent(ctx, display)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.DisplayCount)

	rec, err = s.ApplyFrequencyEvent(ctx, store.FrequencyUpdate{CampaignID: 2, VisitorID: "v", Event: store.EventDismissed, ImpressionID: "imp-1", At: now})
	require.NoError(t, err)
	assert.Equal(t, 2, rec.DisplayCount)
	assert.NotNil(t, rec.LastDismissedAt, "a different event type on the same impression applies")
}

func TestFrequency_ConcurrentDisplays(t *testing.T) {
	s, _ := setupTestRedis(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ApplyFrequencyEvent(ctx, store.FrequencyUpdate{CampaignID: 4, VisitorID: "v", Event: store.EventDisplayed, At: time.Now()})
			if err != nil {
				t.Errorf("apply: %v", err)
			}
		}()
	}
	wg.Wait()

	rec, err := s.GetFrequencyRecord(ctx, 4, "v")
	require.NoError(t, err)
	assert.Equal(t, 25, rec.DisplayCount)
}

func TestFrequency_DeleteRecords(t *testing.T) {
	s, mr := setupTestRedis(t)
	ctx := context.Background()

	for _, v := range []string{"a", "b"} {
		_, err := s.ApplyFrequencyEvent(ctx, store.FrequencyUpdate{CampaignID: 9, VisitorID: v, Event: store.EventDisplayed, ImpressionID: "imp-" + v, At: time.Now()})
		require.NoError(t, err)
	}
	_, err := s.ApplyFrequencyEvent(ctx, store.FrequencyUpdate{CampaignID: 10, VisitorID: "a", Event: store.EventDisplayed, At: time.Now()})
	require.NoError(t, err)

	require.NoError(t, s.DeleteFrequencyRecords(ctx, 9))

	assert.False(t, mr.Exists("popgoat:freq:9:a"))
	assert.False(t, mr.Exists("popgoat:freq:9:a:seen"))
	assert.False(t, mr.Exists("popgoat:freq:9:visitors"))
	assert.True(t, mr.Exists("popgoat:freq:10:a"))
}

func TestUnavailableWhenRedisDown(t *testing.T) {
	s, mr := setupTestRedis(t)
	mr.Close()

	_, err := s.GetFrequencyRecord(context.Background(), 1, "v")
	assert.ErrorIs(t, err, store.ErrUnavailable)

	_, _, err = s.InsertAssignmentIfAbsent(context.Background(), store.VisitorAssignment{ExperimentID: 1, VisitorID: "v", VariantID: 1, AssignedAt: time.Now()})
	assert.ErrorIs(t, err, store.ErrUnavailable)
}
