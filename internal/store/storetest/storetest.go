// Package storetest opens throwaway SQLite stores for tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/headline-goat/popup-goat/internal/store"
)

// SetupTestStore creates a test database and returns the store.
// Uses t.TempDir() for automatic cleanup on test completion.
func SetupTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s
}

// CreateCampaign inserts an active popup campaign with the given name and trigger.
func CreateCampaign(t *testing.T, s store.CampaignStore, name string, trigger store.Trigger) *store.Campaign {
	t.Helper()

	c, err := s.CreateCampaign(context.Background(), &store.Campaign{
		Name:    name,
		Type:    store.TypePopup,
		Status:  store.CampaignActive,
		Trigger: trigger,
	})
	if err != nil {
		t.Fatalf("failed to create campaign %s: %v", name, err)
	}
	return c
}

// CreateActiveExperiment creates one campaign per weight, groups them into an
// experiment and starts it.
func CreateActiveExperiment(t *testing.T, s store.Store, name string, split []int) *store.Experiment {
	t.Helper()
	ctx := context.Background()

	exp := &store.Experiment{
		Name:              name,
		TrafficSplit:      split,
		MinimumSampleSize: 100,
		ConfidenceLevel:   95,
		AutoDeclareWinner: true,
	}
	for i := range split {
		c := CreateCampaign(t, s, name+"-variant-"+string(rune('a'+i)), store.Trigger{})
		exp.VariantIDs = append(exp.VariantIDs, c.ID)
	}

	created, err := s.CreateExperiment(ctx, exp)
	if err != nil {
		t.Fatalf("failed to create experiment %s: %v", name, err)
	}

	if _, err := s.StartExperiment(ctx, created.ID, created.CreatedAt); err != nil {
		t.Fatalf("failed to start experiment %s: %v", name, err)
	}

	started, err := s.GetExperiment(ctx, created.ID)
	if err != nil {
		t.Fatalf("failed to reload experiment %s: %v", name, err)
	}
	return started
}
