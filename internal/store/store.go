package store

import (
	"context"
	"time"
)

// CampaignStore defines campaign storage operations
type CampaignStore interface {
	CreateCampaign(ctx context.Context, c *Campaign) (*Campaign, error)
	GetCampaign(ctx context.Context, id int64) (*Campaign, error)
	GetCampaignByName(ctx context.Context, name string) (*Campaign, error)
	ListCampaigns(ctx context.Context) ([]*Campaign, error)
	UpdateCampaign(ctx context.Context, c *Campaign) error
	UpdateCampaignStatus(ctx context.Context, id int64, status CampaignStatus) error
	DeleteCampaign(ctx context.Context, id int64) error
}

// ExperimentStore defines experiment storage operations. Status transitions are
// conditional on the current status so redundant callers cannot apply them twice.
type ExperimentStore interface {
	CreateExperiment(ctx context.Context, e *Experiment) (*Experiment, error)
	GetExperiment(ctx context.Context, id int64) (*Experiment, error)
	GetExperimentByName(ctx context.Context, name string) (*Experiment, error)
	ListExperiments(ctx context.Context) ([]*Experiment, error)
	ListExperimentsByStatus(ctx context.Context, status ExperimentStatus) ([]*Experiment, error)
	StartExperiment(ctx context.Context, id int64, at time.Time) (bool, error)
	CompleteExperiment(ctx context.Context, id int64, winnerID *int64, at time.Time) (bool, error)
	MarkVariantsPaused(ctx context.Context, id int64, at time.Time) error
	DeleteExperiment(ctx context.Context, id int64) error
}

// AssignmentStore persists visitor assignments. InsertAssignmentIfAbsent is
// atomic: it returns the stored assignment and whether this call created it.
type AssignmentStore interface {
	GetAssignment(ctx context.Context, experimentID int64, visitorID string) (*VisitorAssignment, error)
	InsertAssignmentIfAbsent(ctx context.Context, a VisitorAssignment) (*VisitorAssignment, bool, error)
}

// FrequencyStore persists per-visitor display history. ApplyFrequencyEvent is
// an atomic upsert.
type FrequencyStore interface {
	GetFrequencyRecord(ctx context.Context, campaignID int64, visitorID string) (*FrequencyRecord, error)
	ApplyFrequencyEvent(ctx context.Context, u FrequencyUpdate) (*FrequencyRecord, error)
	DeleteFrequencyRecords(ctx context.Context, campaignID int64) error
}

// EventLog is the append-only event log. AppendEvent reports false when the
// event was a duplicate of an already recorded impression.
type EventLog interface {
	AppendEvent(ctx context.Context, e *Event) (bool, error)
	VariantCounters(ctx context.Context, experimentID int64, since time.Time) ([]VariantCounters, error)
	ListEvents(ctx context.Context, campaignID int64) ([]*Event, error)
}

// Store defines the full persistence layer
type Store interface {
	CampaignStore
	ExperimentStore
	AssignmentStore
	FrequencyStore
	EventLog

	Close() error
}
