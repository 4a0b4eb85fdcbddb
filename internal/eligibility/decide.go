package eligibility

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/headline-goat/popup-goat/internal/ledger"
	"github.com/headline-goat/popup-goat/internal/store"
	"github.com/headline-goat/popup-goat/internal/targeting"
)

type Reason string

const (
	ReasonEligible  Reason = ""
	ReasonNotFound  Reason = "not_found"
	ReasonInactive  Reason = "inactive"
	ReasonRules     Reason = "rules"
	ReasonFrequency Reason = "frequency"
	ReasonError     Reason = "error"
)

// DecisionRequest asks whether a campaign, or the visitor's variant of an
// experiment, may be shown. ExperimentID takes precedence over CampaignID.
type DecisionRequest struct {
	CampaignID   int64
	ExperimentID int64
	VisitorID    string
	Context      targeting.RequestContext
}

type Decision struct {
	Eligible     bool           `json:"eligible"`
	Reason       Reason         `json:"reason,omitempty"`
	Detail       string         `json:"detail,omitempty"`
	CampaignID   int64          `json:"campaign_id,omitempty"`
	VariantID    int64          `json:"variant_id,omitempty"`
	ExperimentID int64          `json:"experiment_id,omitempty"`
	ImpressionID string         `json:"impression_id,omitempty"`
	ContentRef   string         `json:"content_ref,omitempty"`
	Trigger      *store.Trigger `json:"trigger,omitempty"`
}

// Decide never reports an eligible decision alongside an error. Unknown
// campaigns and experiments are ineligible, not errors; persistence failures
// return a ReasonError decision and the error.
func (s *Service) Decide(ctx context.Context, req DecisionRequest) (Decision, error) {
	start := time.Now()
	d, err := s.decide(ctx, req)
	if err != nil {
		d = Decision{Reason: ReasonError, CampaignID: req.CampaignID, ExperimentID: req.ExperimentID}
		s.log.Error("Decision failed", "campaign_id", req.CampaignID, "experiment_id", req.ExperimentID, "error", err)
	}

	reason := string(d.Reason)
	if d.Eligible {
		reason = "eligible"
	}
	s.metrics.Decisions.WithLabelValues(reason).Inc()
	s.metrics.DecisionDuration.Observe(time.Since(start).Seconds())
	return d, err
}

func (s *Service) decide(ctx context.Context, req DecisionRequest) (Decision, error) {
	if req.VisitorID == "" {
		return Decision{}, &store.ValidationError{Field: "visitor_id", Message: "is required"}
	}

	rc := req.Context
	if rc.Now.IsZero() {
		rc.Now = s.now()
	}

	campaign, exp, err := s.resolve(ctx, req)
	if errors.Is(err, store.ErrNotFound) {
		return Decision{Reason: ReasonNotFound, CampaignID: req.CampaignID, ExperimentID: req.ExperimentID}, nil
	}
	if err != nil {
		return Decision{}, err
	}

	d := Decision{CampaignID: campaign.ID}
	if exp != nil {
		if exp.Status != store.ExperimentActive {
			return Decision{Reason: ReasonInactive, ExperimentID: exp.ID}, nil
		}
		a, err := s.engine.AssignVariant(ctx, exp, req.VisitorID)
		if err != nil {
			return Decision{}, err
		}
		if a.VariantID != campaign.ID {
			if campaign, err = s.store.GetCampaign(ctx, a.VariantID); err != nil {
				return Decision{}, fmt.Errorf("failed to load variant %d: %w", a.VariantID, err)
			}
		}
		d = Decision{CampaignID: req.CampaignID, ExperimentID: exp.ID, VariantID: campaign.ID}
		if d.CampaignID == 0 {
			d.CampaignID = campaign.ID
		}
	}

	if campaign.Status != store.CampaignActive {
		d.Reason = ReasonInactive
		return d, nil
	}

	if ok, axis := targeting.Explain(campaign.Rules, rc); !ok {
		d.Reason = ReasonRules
		d.Detail = string(axis)
		return d, nil
	}

	verdict, err := s.ledger.Check(ctx, campaign, req.VisitorID, rc.Now)
	if err != nil {
		return Decision{}, err
	}
	if verdict != ledger.Eligible {
		d.Reason = ReasonFrequency
		d.Detail = string(verdict)
		return d, nil
	}

	trigger := campaign.Trigger
	d.Eligible = true
	d.ImpressionID = s.newID()
	d.ContentRef = campaign.ContentRef
	d.Trigger = &trigger
	s.log.Debug("Campaign eligible", "campaign_id", campaign.ID, "visitor_id", req.VisitorID, "impression_id", d.ImpressionID)
	return d, nil
}

// resolve loads the campaign to decide on and, when it takes part in an
// active experiment, the experiment. A completed experiment with a winner
// resolves to the winning campaign.
func (s *Service) resolve(ctx context.Context, req DecisionRequest) (*store.Campaign, *store.Experiment, error) {
	if req.ExperimentID != 0 {
		exp, err := s.store.GetExperiment(ctx, req.ExperimentID)
		if err != nil {
			return nil, nil, err
		}
		if exp.Status == store.ExperimentCompleted && exp.WinnerID != nil {
			c, err := s.store.GetCampaign(ctx, *exp.WinnerID)
			return c, nil, err
		}
		// The variant campaign is loaded after assignment.
		return &store.Campaign{}, exp, nil
	}

	c, err := s.store.GetCampaign(ctx, req.CampaignID)
	if err != nil {
		return nil, nil, err
	}
	if c.ExperimentID == nil {
		return c, nil, nil
	}

	exp, err := s.store.GetExperiment(ctx, *c.ExperimentID)
	if errors.Is(err, store.ErrNotFound) {
		return c, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	switch {
	case exp.Status == store.ExperimentActive:
		return c, exp, nil
	case exp.Status == store.ExperimentCompleted && exp.WinnerID != nil && *exp.WinnerID != c.ID:
		winner, err := s.store.GetCampaign(ctx, *exp.WinnerID)
		return winner, nil, err
	default:
		return c, nil, nil
	}
}

func newUUID() string {
	return uuid.NewString()
}
