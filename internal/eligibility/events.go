package eligibility

import (
	"context"
	"fmt"

	"github.com/headline-goat/popup-goat/internal/store"
)

type EventRequest struct {
	CampaignID   int64             `json:"campaign_id"`
	VisitorID    string            `json:"visitor_id"`
	Type         store.EventType   `json:"event_type"`
	ImpressionID string            `json:"impression_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// RecordEvent applies the event to the frequency ledger and appends it to the
// log. The ledger write is idempotent per impression and runs first, so a
// caller retrying after a failure never loses or doubles a view.
func (s *Service) RecordEvent(ctx context.Context, req EventRequest) error {
	if !req.Type.Valid() {
		return &store.ValidationError{Field: "event_type", Message: fmt.Sprintf("unknown event type %q", req.Type)}
	}
	if req.VisitorID == "" {
		return &store.ValidationError{Field: "visitor_id", Message: "is required"}
	}

	c, err := s.store.GetCampaign(ctx, req.CampaignID)
	if err != nil {
		return fmt.Errorf("failed to load campaign %d: %w", req.CampaignID, err)
	}

	now := s.now()
	if _, err := s.ledger.Record(ctx, c, req.VisitorID, req.Type, req.ImpressionID, now); err != nil {
		return err
	}

	e := &store.Event{
		EventID:      s.newID(),
		ImpressionID: req.ImpressionID,
		CampaignID:   c.ID,
		ExperimentID: c.ExperimentID,
		VisitorID:    req.VisitorID,
		Type:         req.Type,
		Metadata:     req.Metadata,
		CreatedAt:    now,
	}

	inserted, err := s.store.AppendEvent(ctx, e)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	if !inserted {
		s.metrics.DuplicateImpressions.Inc()
		s.log.Debug("Duplicate impression event dropped", "campaign_id", c.ID, "impression_id", req.ImpressionID, "type", req.Type)
		return nil
	}
	s.metrics.Events.WithLabelValues(string(req.Type)).Inc()
	return nil
}

// Events lists the recorded events for a campaign, newest first.
func (s *Service) Events(ctx context.Context, campaignID int64) ([]*store.Event, error) {
	if _, err := s.store.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, campaignID)
}
