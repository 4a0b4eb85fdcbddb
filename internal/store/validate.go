package store

import (
	"strings"
	"time"
)

var knownDeviceTypes = map[string]bool{"desktop": true, "mobile": true, "tablet": true}

// ValidateCampaign checks a campaign before it is created or updated.
// Invalid input is rejected, never corrected.
func ValidateCampaign(c *Campaign) error {
	if strings.TrimSpace(c.Name) == "" {
		return invalid("name", "is required")
	}

	switch c.Type {
	case TypePopup, TypeSlideIn, TypeFloatingBar, TypeFullscreen, TypeInline:
	default:
		return invalid("type", "unknown campaign type %q", c.Type)
	}

	switch c.Status {
	case CampaignDraft, CampaignActive, CampaignPaused, CampaignCompleted:
	default:
		return invalid("status", "unknown campaign status %q", c.Status)
	}

	t := c.Trigger
	if t.DelaySeconds < 0 {
		return invalid("trigger.delay_seconds", "must not be negative")
	}
	if t.ScrollPercent < 0 || t.ScrollPercent > 100 {
		return invalid("trigger.scroll_percent", "must be between 0 and 100")
	}
	if t.MaxDisplays < 0 {
		return invalid("trigger.max_displays", "must not be negative")
	}
	if t.DisplayCooldownSeconds < 0 || t.DismissCooldownSeconds < 0 {
		return invalid("trigger", "cooldowns must not be negative")
	}

	return ValidateRules(c.Rules)
}

// ValidateRules checks the structure of a targeting rule set.
func ValidateRules(r TargetingRules) error {
	if r.Page != nil {
		for _, list := range [][]PagePredicate{r.Page.Include, r.Page.Exclude} {
			for _, p := range list {
				if p.URL == "" && p.ContentID == 0 && p.ContentType == "" {
					return invalid("rules.page", "predicate must set url, content_id or content_type")
				}
			}
		}
	}

	if r.User != nil {
		switch r.User.LoginState {
		case LoginAny, LoginLoggedIn, LoginLoggedOut:
		default:
			return invalid("rules.user.login_state", "unknown login state %q", r.User.LoginState)
		}
		switch r.User.VisitorType {
		case VisitorAny, VisitorNew, VisitorReturning:
		default:
			return invalid("rules.user.visitor_type", "unknown visitor type %q", r.User.VisitorType)
		}
	}

	if r.Device != nil {
		for _, t := range r.Device.Types {
			if !knownDeviceTypes[strings.ToLower(t)] {
				return invalid("rules.device.types", "unknown device type %q", t)
			}
		}
	}

	if s := r.Schedule; s != nil {
		loc := time.UTC
		if s.Timezone != "" {
			l, err := time.LoadLocation(s.Timezone)
			if err != nil {
				return invalid("rules.schedule.timezone", "unknown timezone %q", s.Timezone)
			}
			loc = l
		}

		var start, end time.Time
		var err error
		if s.StartDate != "" {
			if start, err = time.ParseInLocation(DateLayout, s.StartDate, loc); err != nil {
				return invalid("rules.schedule.start_date", "must be YYYY-MM-DD")
			}
		}
		if s.EndDate != "" {
			if end, err = time.ParseInLocation(DateLayout, s.EndDate, loc); err != nil {
				return invalid("rules.schedule.end_date", "must be YYYY-MM-DD")
			}
		}
		if !start.IsZero() && !end.IsZero() && end.Before(start) {
			return invalid("rules.schedule", "end_date is before start_date")
		}

		for _, d := range s.Weekdays {
			if d < 0 || d > 6 {
				return invalid("rules.schedule.weekdays", "weekday %d out of range 0-6", d)
			}
		}
		for _, h := range []*int{s.HourFrom, s.HourTo} {
			if h != nil && (*h < 0 || *h > 23) {
				return invalid("rules.schedule", "hour %d out of range 0-23", *h)
			}
		}
	}

	return nil
}

// ValidateExperiment checks an experiment before creation: at least two
// variants, one positive integer weight per variant, weights summing to exactly
// 100. Zero sample size and confidence fall back to defaults.
func ValidateExperiment(e *Experiment) error {
	if strings.TrimSpace(e.Name) == "" {
		return invalid("name", "is required")
	}

	if len(e.VariantIDs) < 2 {
		return invalid("variant_ids", "need at least 2 variants")
	}

	seen := make(map[int64]bool, len(e.VariantIDs))
	for _, id := range e.VariantIDs {
		if id <= 0 {
			return invalid("variant_ids", "invalid campaign id %d", id)
		}
		if seen[id] {
			return invalid("variant_ids", "campaign %d listed twice", id)
		}
		seen[id] = true
	}

	if len(e.TrafficSplit) != len(e.VariantIDs) {
		return invalid("traffic_split", "got %d weights for %d variants", len(e.TrafficSplit), len(e.VariantIDs))
	}

	sum := 0
	for _, w := range e.TrafficSplit {
		if w <= 0 {
			return invalid("traffic_split", "weights must be positive")
		}
		sum += w
	}
	if sum != 100 {
		return invalid("traffic_split", "weights must sum to 100, got %d", sum)
	}

	if e.MinimumSampleSize < 0 {
		return invalid("minimum_sample_size", "must not be negative")
	}
	if e.MinimumSampleSize == 0 {
		e.MinimumSampleSize = DefaultMinimumSampleSize
	}

	if e.ConfidenceLevel == 0 {
		e.ConfidenceLevel = DefaultConfidenceLevel
	}
	if e.ConfidenceLevel < 50 || e.ConfidenceLevel >= 100 {
		return invalid("confidence_level", "must be in [50, 100)")
	}

	return nil
}
