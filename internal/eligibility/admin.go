package eligibility

import (
	"context"
	"errors"
	"fmt"

	"github.com/headline-goat/popup-goat/internal/stats"
	"github.com/headline-goat/popup-goat/internal/store"
)

// CreateCampaign validates and stores a campaign. An empty status means draft.
func (s *Service) CreateCampaign(ctx context.Context, c *store.Campaign) (*store.Campaign, error) {
	if c.Status == "" {
		c.Status = store.CampaignDraft
	}
	if err := store.ValidateCampaign(c); err != nil {
		return nil, err
	}

	created, err := s.store.CreateCampaign(ctx, c)
	if err != nil {
		return nil, err
	}
	s.log.Info("Campaign created", "campaign_id", created.ID, "name", created.Name)
	return created, nil
}

func (s *Service) UpdateCampaign(ctx context.Context, c *store.Campaign) error {
	if err := store.ValidateCampaign(c); err != nil {
		return err
	}
	return s.store.UpdateCampaign(ctx, c)
}

// DeleteCampaign removes a campaign and its frequency records. Campaigns that
// are variants of an experiment cannot be deleted.
func (s *Service) DeleteCampaign(ctx context.Context, id int64) error {
	if err := s.store.DeleteCampaign(ctx, id); err != nil {
		return err
	}
	s.log.Info("Campaign deleted", "campaign_id", id)
	return nil
}

// CreateExperiment validates the traffic split and links the variant campaigns.
// The experiment starts in draft.
func (s *Service) CreateExperiment(ctx context.Context, e *store.Experiment) (*store.Experiment, error) {
	if err := store.ValidateExperiment(e); err != nil {
		return nil, err
	}
	e.Status = store.ExperimentDraft
	e.WinnerID = nil

	created, err := s.store.CreateExperiment(ctx, e)
	if err != nil {
		return nil, err
	}
	s.log.Info("Experiment created", "experiment_id", created.ID, "name", created.Name, "variants", created.VariantIDs)
	return created, nil
}

func (s *Service) StartExperiment(ctx context.Context, id int64) error {
	started, err := s.store.StartExperiment(ctx, id, s.now())
	if err != nil {
		return err
	}
	if !started {
		return fmt.Errorf("experiment %d is not a draft: %w", id, store.ErrConflict)
	}
	s.log.Info("Experiment started", "experiment_id", id)
	return nil
}

// DeclareWinner completes an active experiment with the given winner and
// pauses the other variants.
func (s *Service) DeclareWinner(ctx context.Context, experimentID, winnerID int64) error {
	exp, err := s.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return err
	}

	completed, err := s.controller.DeclareWinner(ctx, exp, winnerID)
	if err != nil {
		return err
	}
	if !completed {
		return fmt.Errorf("experiment %d is not active: %w", experimentID, store.ErrConflict)
	}
	return nil
}

func (s *Service) DeleteExperiment(ctx context.Context, id int64) error {
	if err := s.store.DeleteExperiment(ctx, id); err != nil {
		return err
	}
	s.log.Info("Experiment deleted", "experiment_id", id)
	return nil
}

// Results is an experiment with its statistical summary.
type Results struct {
	Experiment *store.Experiment
	Summary    *stats.Summary
}

func (s *Service) Results(ctx context.Context, experimentID int64) (*Results, error) {
	exp, err := s.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	summary, err := s.controller.Summarize(ctx, exp)
	if err != nil {
		return nil, err
	}

	for i := range summary.Variants {
		c, err := s.store.GetCampaign(ctx, summary.Variants[i].CampaignID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		summary.Variants[i].Name = c.Name
	}

	return &Results{Experiment: exp, Summary: summary}, nil
}
