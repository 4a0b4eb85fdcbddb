package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headline-goat/popup-goat/internal/store"
	"github.com/headline-goat/popup-goat/internal/store/storetest"
)

func TestCreateCampaign(t *testing.T) {
	s := storetest.SetupTestStore(t)
	ctx := context.Background()

	hour := 9
	c, err := s.CreateCampaign(ctx, &store.Campaign{
		Name:   "newsletter",
		Type:   store.TypeSlideIn,
		Status: store.CampaignActive,
		Rules: store.TargetingRules{
			Page:     &store.PageRules{Include: []store.PagePredicate{{URL: "/blog/*"}}},
			Schedule: &store.ScheduleRules{HourFrom: &hour},
		},
		Trigger:    store.Trigger{MaxDisplays: 3, DelaySeconds: 5},
		ContentRef: "tpl:newsletter",
	})
	require.NoError(t, err)
	assert.NotZero(t, c.ID)

	got, err := s.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "newsletter", got.Name)
	assert.Equal(t, store.TypeSlideIn, got.Type)
	assert.Equal(t, 3, got.Trigger.MaxDisplays)
	require.NotNil(t, got.Rules.Page)
	assert.Equal(t, "/blog/*", got.Rules.Page.Include[0].URL)
	require.NotNil(t, got.Rules.Schedule.HourFrom)
	assert.Equal(t, 9, *got.Rules.Schedule.HourFrom)
	assert.Nil(t, got.Rules.User)
	assert.Nil(t, got.ExperimentID)

	byName, err := s.GetCampaignByName(ctx, "newsletter")
	require.NoError(t, err)
	assert.Equal(t, c.ID, byName.ID)
}

func TestCreateCampaign_DuplicateName(t *testing.T) {
	s := storetest.SetupTestStore(t)
	storetest.CreateCampaign(t, s, "hero", store.Trigger{})

	_, err := s.CreateCampaign(context.Background(), &store.Campaign{Name: "hero", Type: store.TypePopup, Status: store.CampaignDraft})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestGetCampaign_NotFound(t *testing.T) {
	s := storetest.SetupTestStore(t)

	_, err := s.GetCampaign(context.Background(), 42)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, errors.Is(err, store.ErrUnavailable))
}

func TestUpdateCampaignStatus(t *testing.T) {
	s := storetest.SetupTestStore(t)
	ctx := context.Background()
	c := storetest.CreateCampaign(t, s, "hero", store.Trigger{})

	require.NoError(t, s.UpdateCampaignStatus(ctx, c.ID, store.CampaignPaused))

	got, err := s.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, store.CampaignPaused, got.Status)

	assert.ErrorIs(t, s.UpdateCampaignStatus(ctx, 999, store.CampaignPaused), store.ErrNotFound)
}

func TestDeleteCampaign_RemovesFrequencyRecords(t *testing.T) {
	s := storetest.SetupTestStore(t)
	ctx := context.Background()
	c := storetest.CreateCampaign(t, s, "hero", store.Trigger{})

	_, err := s.ApplyFrequencyEvent(ctx, store.FrequencyUpdate{CampaignID: c.ID, VisitorID: "v1", Event: store.EventDisplayed, At: time.Now()})
	require.NoError(t, err)

	require.NoError(t, s.DeleteCampaign(ctx, c.ID))

	_, err = s.GetFrequencyRecord(ctx, c.ID, "v1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetCampaign(ctx, c.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteCampaign_VariantRejected(t *testing.T) {
	s := storetest.SetupTestStore(t)
	exp := storetest.CreateActiveExperiment(t, s, "hero", []int{50, 50})

	err := s.DeleteCampaign(context.Background(), exp.VariantIDs[0])
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestCreateExperiment_LinksVariants(t *testing.T) {
	s := storetest.SetupTestStore(t)
	ctx := context.Background()
	a := storetest.CreateCampaign(t, s, "a", store.Trigger{})
	b := storetest.CreateCampaign(t, s, "b", store.Trigger{})

	end := time.Now().Add(48 * time.Hour)
	exp, err := s.CreateExperiment(ctx, &store.Experiment{
		Name:              "hero-test",
		VariantIDs:        []int64{a.ID, b.ID},
		TrafficSplit:      []int{70, 30},
		EndDate:           &end,
		MinimumSampleSize: 200,
		ConfidenceLevel:   99,
		AutoDeclareWinner: true,
	})
	require.NoError(t, err)
	assert.Equal(t, store.ExperimentDraft, exp.Status)

	got, err := s.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID, b.ID}, got.VariantIDs)
	assert.Equal(t, []int{70, 30}, got.TrafficSplit)
	assert.Equal(t, 200, got.MinimumSampleSize)
	assert.Equal(t, 99.0, got.ConfidenceLevel)
	assert.True(t, got.AutoDeclareWinner)
	require.NotNil(t, got.EndDate)
	assert.Equal(t, end.Unix(), got.EndDate.Unix())

	linked, err := s.GetCampaign(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, linked.ExperimentID)
	assert.Equal(t, exp.ID, *linked.ExperimentID)
}

func TestCreateExperiment_UnknownVariantRollsBack(t *testing.T) {
	s := storetest.SetupTestStore(t)
	ctx := context.Background()
	a := storetest.CreateCampaign(t, s, "a", store.Trigger{})

	_, err := s.CreateExperiment(ctx, &store.Experiment{
		Name:         "broken",
		VariantIDs:   []int64{a.ID, 404},
		TrafficSplit: []int{50, 50},
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetExperimentByName(ctx, "broken")
	assert.ErrorIs(t, err, store.ErrNotFound)

	c, err := s.GetCampaign(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, c.ExperimentID, "link must be rolled back")
}

func TestCreateExperiment_VariantAlreadyLinked(t *testing.T) {
	s := storetest.SetupTestStore(t)
	exp := storetest.CreateActiveExperiment(t, s, "first", []int{50, 50})
	other := storetest.CreateCampaign(t, s, "other", store.Trigger{})

	_, err := s.CreateExperiment(context.Background(), &store.Experiment{
		Name:         "second",
		VariantIDs:   []int64{exp.VariantIDs[0], other.ID},
		TrafficSplit: []int{50, 50},
	})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestStartAndCompleteExperiment(t *testing.T) {
	s := storetest.SetupTestStore(t)
	ctx := context.Background()
	exp := storetest.CreateActiveExperiment(t, s, "hero", []int{50, 50})

	assert.Equal(t, store.ExperimentActive, exp.Status)
	require.NotNil(t, exp.StartedAt)

	started, err := s.StartExperiment(ctx, exp.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, started, "already active")

	assert.ErrorIs(t, s.MarkVariantsPaused(ctx, exp.ID, time.Now()), store.ErrNotFound, "still active")

	winner := exp.VariantIDs[1]
	done, err := s.CompleteExperiment(ctx, exp.ID, &winner, time.Now())
	require.NoError(t, err)
	assert.True(t, done)

	other := exp.VariantIDs[0]
	done, err = s.CompleteExperiment(ctx, exp.ID, &other, time.Now())
	require.NoError(t, err)
	assert.False(t, done)

	got, err := s.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ExperimentCompleted, got.Status)
	require.NotNil(t, got.WinnerID)
	assert.Equal(t, winner, *got.WinnerID)
	assert.Nil(t, got.VariantsPausedAt)

	pausedAt := time.Unix(1700000000, 0)
	require.NoError(t, s.MarkVariantsPaused(ctx, exp.ID, pausedAt))
	got, err = s.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	require.NotNil(t, got.VariantsPausedAt)
	assert.True(t, pausedAt.Equal(*got.VariantsPausedAt))

	active, err := s.ListExperimentsByStatus(ctx, store.ExperimentActive)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = s.CompleteExperiment(ctx, 999, nil, time.Now())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStartExperiment_ActivatesDraftVariants(t *testing.T) {
	s := storetest.SetupTestStore(t)
	ctx := context.Background()

	var ids []int64
	for _, name := range []string{"a", "b"} {
		c, err := s.CreateCampaign(ctx, &store.Campaign{Name: name, Type: store.TypePopup, Status: store.CampaignDraft})
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}
	exp, err := s.CreateExperiment(ctx, &store.Experiment{Name: "x", VariantIDs: ids, TrafficSplit: []int{50, 50}})
	require.NoError(t, err)

	ok, err := s.StartExperiment(ctx, exp.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	for _, id := range ids {
		c, err := s.GetCampaign(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, store.CampaignActive, c.Status)
	}
}

func TestDeleteExperiment_ReleasesVariants(t *testing.T) {
	s := storetest.SetupTestStore(t)
	ctx := context.Background()
	exp := storetest.CreateActiveExperiment(t, s, "hero", []int{50, 50})

	_, _, err := s.InsertAssignmentIfAbsent(ctx, store.VisitorAssignment{ExperimentID: exp.ID, VisitorID: "v", VariantID: exp.VariantIDs[0], AssignedAt: time.Now()})
	require.NoError(t, err)

	require.NoError(t, s.DeleteExperiment(ctx, exp.ID))

	c, err := s.GetCampaign(ctx, exp.VariantIDs[0])
	require.NoError(t, err)
	assert.Nil(t, c.ExperimentID)

	_, err = s.GetAssignment(ctx, exp.ID, "v")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInsertAssignmentIfAbsent_KeepsFirst(t *testing.T) {
	s := storetest.SetupTestStore(t)
	ctx := context.Background()

	first, created, err := s.InsertAssignmentIfAbsent(ctx, store.VisitorAssignment{ExperimentID: 1, VisitorID: "v", VariantID: 10, AssignedAt: time.Now()})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := s.InsertAssignmentIfAbsent(ctx, store.VisitorAssignment{ExperimentID: 1, VisitorID: "v", VariantID: 20, AssignedAt: time.Now()})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.VariantID, second.VariantID)
	assert.Equal(t, int64(10), second.VariantID)
}

func TestInsertAssignmentIfAbsent_ConcurrentWriters(t *testing.T) {
	s := storetest.SetupTestStore(t)
	ctx := context.Background()

	const writers = 8
	results := make([]int64, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, _, err := s.InsertAssignmentIfAbsent(ctx, store.VisitorAssignment{
				ExperimentID: 7, VisitorID: "racer", VariantID: int64(100 + i), AssignedAt: time.Now(),
			})
			if err != nil {
				t.Errorf("writer %d: %v", i, err)
				return
			}
			results[i] = a.VariantID
		}(i)
	}
	wg.Wait()

	for i := 1; i < writers; i++ {
		assert.Equal(t, results[0], results[i], "every writer must observe the same assignment")
	}
}

func TestApplyFrequencyEvent(t *testing.T) {
	s := storetest.SetupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, err := s.GetFrequencyRecord(ctx, 1, "v")
	assert.ErrorIs(t, err, store.ErrNotFound)

	rec, err := s.ApplyFrequencyEvent(ctx, store.FrequencyUpdate{CampaignID: 1, VisitorID: "v", Event: store.EventDisplayed, At: now})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.DisplayCount)
	require.NotNil(t, rec.LastDisplayedAt)
	assert.Nil(t, rec.LastConvertedAt)

	cooldown := now.Add(time.Hour)
	rec, err = s.ApplyFrequencyEvent(ctx, store.FrequencyUpdate{CampaignID: 1, VisitorID: "v", Event: store.EventDismissed, At: now, CooldownUntil: &cooldown})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.DisplayCount, "dismiss must not count as a display")
	require.NotNil(t, rec.LastDismissedAt)
	require.NotNil(t, rec.CooldownUntil)
	assert.Equal(t, cooldown.Unix(), rec.CooldownUntil.Unix())

	shorter := now.Add(time.Minute)
	rec, err = s.ApplyFrequencyEvent(ctx, store.FrequencyUpdate{CampaignID: 1, VisitorID: "v", Event: store.EventDisplayed, At: now, CooldownUntil: &shorter})
	require.NoError(t, err)
	assert.Equal(t, 2, rec.DisplayCount)
	assert.Equal(t, cooldown.Unix(), rec.CooldownUntil.Unix(), "cooldown only extends")

	rec, err = s.ApplyFrequencyEvent(ctx, store.FrequencyUpdate{CampaignID: 1, VisitorID: "v", Event: store.EventConverted, At: now})
	require.NoError(t, err)
	require.NotNil(t, rec.LastConvertedAt)

	_, err = s.ApplyFrequencyEvent(ctx, store.FrequencyUpdate{CampaignID: 1, VisitorID: "v", Event: store.EventInteracted, At: now})
	assert.Error(t, err)
}

func TestApplyFrequencyEvent_ImpressionAppliedOnce(t *testing.T) {
	s := storetest.SetupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	display := store.FrequencyUpdate{CampaignID: 5, VisitorID: "v", Event: store.EventDisplayed, ImpressionID: "imp-1", At: now}
	for i := 0; i < 3; i++ {
		rec, err := s.ApplyFrequencyEvent(ctx, display)
		require.NoError(t, err)
		assert.Equal(t, 1, rec.DisplayCount, "attempt %d", i)
	}

	display.ImpressionID = "imp-2"
	rec, err := s.ApplyFrequencyEvent(ctx, display)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.DisplayCount)

	rec, err = s.ApplyFrequencyEvent(ctx, store.FrequencyUpdate{CampaignID: 5, VisitorID: "v", Event: store.EventDismissed, ImpressionID: "imp-1", At: now})
	require.NoError(t, err)
	assert.Equal(t, 2, rec.DisplayCount)
	assert.NotNil(t, rec.LastDismissedAt, "a different event type on the same impression applies")

	// Deleting the records forgets the impressions too.
	require.NoError(t, s.DeleteFrequencyRecords(ctx, 5))
	display.ImpressionID = "imp-1"
	rec, err = s.ApplyFrequencyEvent(ctx, display)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.DisplayCount)
}

func TestApplyFrequencyEvent_ConcurrentDisplaysAllCounted(t *testing.T) {
	s := storetest.SetupTestStore(t)
	ctx := context.Background()

	const displays = 20
	var wg sync.WaitGroup
	for i := 0; i < displays; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ApplyFrequencyEvent(ctx, store.FrequencyUpdate{CampaignID: 3, VisitorID: "v", Event: store.EventDisplayed, At: time.Now()}); err != nil {
				t.Errorf("apply: %v", err)
			}
		}()
	}
	wg.Wait()

	rec, err := s.GetFrequencyRecord(ctx, 3, "v")
	require.NoError(t, err)
	assert.Equal(t, displays, rec.DisplayCount)
}

func TestAppendEvent_DeduplicatesImpression(t *testing.T) {
	s := storetest.SetupTestStore(t)
	ctx := context.Background()

	inserted, err := s.AppendEvent(ctx, &store.Event{EventID: "e1", ImpressionID: "imp-1", CampaignID: 1, VisitorID: "v", Type: store.EventDisplayed})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.AppendEvent(ctx, &store.Event{EventID: "e2", ImpressionID: "imp-1", CampaignID: 1, VisitorID: "v", Type: store.EventDisplayed})
	require.NoError(t, err)
	assert.False(t, inserted, "same impression displayed twice")

	inserted, err = s.AppendEvent(ctx, &store.Event{EventID: "e3", ImpressionID: "imp-1", CampaignID: 1, VisitorID: "v", Type: store.EventConverted,
		Metadata: map[string]string{"form": "signup"}})
	require.NoError(t, err)
	assert.True(t, inserted, "a conversion on the same impression is a distinct event")

	inserted, err = s.AppendEvent(ctx, &store.Event{EventID: "e1", CampaignID: 1, VisitorID: "v", Type: store.EventInteracted})
	require.NoError(t, err)
	assert.False(t, inserted, "repeated event id")

	events, err := s.ListEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, store.EventConverted, events[0].Type)
	assert.Equal(t, "signup", events[0].Metadata["form"])
}

func TestVariantCounters(t *testing.T) {
	s := storetest.SetupTestStore(t)
	ctx := context.Background()
	now := time.Now()
	expID := int64(5)

	add := func(campaignID int64, typ store.EventType, n int, at time.Time) {
		for i := 0; i < n; i++ {
			_, err := s.AppendEvent(ctx, &store.Event{
				EventID:      fmt.Sprintf("%d-%s-%d-%d", campaignID, typ, at.Unix(), i),
				CampaignID:   campaignID,
				ExperimentID: &expID,
				VisitorID:    fmt.Sprintf("v%d", i),
				Type:         typ,
				CreatedAt:    at,
			})
			require.NoError(t, err)
		}
	}

	add(10, store.EventDisplayed, 4, now)
	add(10, store.EventConverted, 1, now)
	add(11, store.EventDisplayed, 3, now)
	add(11, store.EventInteracted, 2, now)
	add(11, store.EventDisplayed, 5, now.Add(-60*24*time.Hour))

	counters, err := s.VariantCounters(ctx, expID, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, counters, 2)
	assert.Equal(t, store.VariantCounters{CampaignID: 10, Displayed: 4, Converted: 1}, counters[0])
	assert.Equal(t, store.VariantCounters{CampaignID: 11, Displayed: 3, Interacted: 2}, counters[1])
}
