// Package ledger gates campaigns by a visitor's display history.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/headline-goat/popup-goat/internal/store"
)

// Verdict explains a ShouldDisplay outcome.
type Verdict string

const (
	Eligible    Verdict = ""
	Cooldown    Verdict = "cooldown"
	Converted   Verdict = "converted"
	MaxDisplays Verdict = "max_displays"
)

type Ledger struct {
	store store.FrequencyStore
}

func New(s store.FrequencyStore) *Ledger {
	return &Ledger{store: s}
}

// ShouldDisplay reports whether the visitor may see the campaign again.
// Storage failures are returned as errors; callers must treat them as ineligible.
func (l *Ledger) ShouldDisplay(ctx context.Context, c *store.Campaign, visitorID string, now time.Time) (bool, error) {
	v, err := l.Check(ctx, c, visitorID, now)
	if err != nil {
		return false, err
	}
	return v == Eligible, nil
}

// Check is ShouldDisplay with the reason for a refusal.
func (l *Ledger) Check(ctx context.Context, c *store.Campaign, visitorID string, now time.Time) (Verdict, error) {
	rec, err := l.store.GetFrequencyRecord(ctx, c.ID, visitorID)
	if errors.Is(err, store.ErrNotFound) {
		return Eligible, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load frequency record: %w", err)
	}

	if rec.CooldownUntil != nil && rec.CooldownUntil.After(now) {
		return Cooldown, nil
	}
	if rec.LastConvertedAt != nil {
		return Converted, nil
	}
	if max := c.Trigger.MaxDisplays; max > 0 && rec.DisplayCount >= max {
		return MaxDisplays, nil
	}
	return Eligible, nil
}

// Record applies an event to the visitor's record. Interactions do not touch
// the ledger and return a nil record. With an impression id the event is
// applied at most once, so a retried event never counts a view twice.
func (l *Ledger) Record(ctx context.Context, c *store.Campaign, visitorID string, event store.EventType, impressionID string, now time.Time) (*store.FrequencyRecord, error) {
	u := store.FrequencyUpdate{
		CampaignID:   c.ID,
		VisitorID:    visitorID,
		Event:        event,
		ImpressionID: impressionID,
		At:           now,
	}

	switch event {
	case store.EventDisplayed:
		u.CooldownUntil = cooldownFrom(now, c.Trigger.DisplayCooldown())
	case store.EventDismissed:
		u.CooldownUntil = cooldownFrom(now, c.Trigger.DismissCooldown())
	case store.EventConverted:
	case store.EventInteracted:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", event)
	}

	rec, err := l.store.ApplyFrequencyEvent(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("failed to record %s: %w", event, err)
	}
	return rec, nil
}

func cooldownFrom(now time.Time, d time.Duration) *time.Time {
	if d <= 0 {
		return nil
	}
	until := now.Add(d)
	return &until
}
