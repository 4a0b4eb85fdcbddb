package redisstore

import (
	"context"
	"errors"

	"github.com/headline-goat/popup-goat/internal/store"
)

// Layered serves assignments and frequency records from Redis and everything
// else from the base store. Deletes are applied to both.
type Layered struct {
	store.Store
	redis *Store
}

var _ store.Store = (*Layered)(nil)

func NewLayered(base store.Store, r *Store) *Layered {
	return &Layered{Store: base, redis: r}
}

func (l *Layered) GetAssignment(ctx context.Context, experimentID int64, visitorID string) (*store.VisitorAssignment, error) {
	return l.redis.GetAssignment(ctx, experimentID, visitorID)
}

func (l *Layered) InsertAssignmentIfAbsent(ctx context.Context, a store.VisitorAssignment) (*store.VisitorAssignment, bool, error) {
	return l.redis.InsertAssignmentIfAbsent(ctx, a)
}

func (l *Layered) GetFrequencyRecord(ctx context.Context, campaignID int64, visitorID string) (*store.FrequencyRecord, error) {
	return l.redis.GetFrequencyRecord(ctx, campaignID, visitorID)
}

func (l *Layered) ApplyFrequencyEvent(ctx context.Context, u store.FrequencyUpdate) (*store.FrequencyRecord, error) {
	return l.redis.ApplyFrequencyEvent(ctx, u)
}

func (l *Layered) DeleteFrequencyRecords(ctx context.Context, campaignID int64) error {
	return l.redis.DeleteFrequencyRecords(ctx, campaignID)
}

func (l *Layered) DeleteCampaign(ctx context.Context, id int64) error {
	if err := l.Store.DeleteCampaign(ctx, id); err != nil {
		return err
	}
	return l.redis.DeleteFrequencyRecords(ctx, id)
}

func (l *Layered) DeleteExperiment(ctx context.Context, id int64) error {
	if err := l.Store.DeleteExperiment(ctx, id); err != nil {
		return err
	}
	return l.redis.DeleteAssignments(ctx, id)
}

func (l *Layered) Close() error {
	return errors.Join(l.redis.Close(), l.Store.Close())
}
