package store

import "time"

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

type CampaignType string

const (
	TypePopup       CampaignType = "popup"
	TypeSlideIn     CampaignType = "slide_in"
	TypeFloatingBar CampaignType = "floating_bar"
	TypeFullscreen  CampaignType = "fullscreen"
	TypeInline      CampaignType = "inline"
)

type ExperimentStatus string

const (
	ExperimentDraft     ExperimentStatus = "draft"
	ExperimentActive    ExperimentStatus = "active"
	ExperimentCompleted ExperimentStatus = "completed"
)

type EventType string

const (
	EventDisplayed  EventType = "displayed"
	EventInteracted EventType = "interacted"
	EventDismissed  EventType = "dismissed"
	EventConverted  EventType = "converted"
)

// Valid reports whether e is one of the recognised event types.
func (e EventType) Valid() bool {
	switch e {
	case EventDisplayed, EventInteracted, EventDismissed, EventConverted:
		return true
	}
	return false
}

// Campaign is a single overlay configuration that may be shown to visitors.
type Campaign struct {
	ID           int64          `json:"id" yaml:"-"`
	Name         string         `json:"name" yaml:"name"`
	Type         CampaignType   `json:"type" yaml:"type"`
	Status       CampaignStatus `json:"status" yaml:"status"`
	Rules        TargetingRules `json:"rules" yaml:"rules"`
	Trigger      Trigger        `json:"trigger" yaml:"trigger"`
	ContentRef   string         `json:"content_ref,omitempty" yaml:"content_ref"`
	ExperimentID *int64         `json:"experiment_id,omitempty" yaml:"-"`
	CreatedAt    time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time      `json:"updated_at" yaml:"-"`
}

// Trigger describes when and how often a campaign may appear.
// MaxDisplays of zero means no display cap.
type Trigger struct {
	DelaySeconds           int   `json:"delay_seconds,omitempty" yaml:"delay_seconds"`
	ScrollPercent          int   `json:"scroll_percent,omitempty" yaml:"scroll_percent"`
	MaxDisplays            int   `json:"max_displays,omitempty" yaml:"max_displays"`
	DisplayCooldownSeconds int64 `json:"display_cooldown_seconds,omitempty" yaml:"display_cooldown_seconds"`
	DismissCooldownSeconds int64 `json:"dismiss_cooldown_seconds,omitempty" yaml:"dismiss_cooldown_seconds"`
}

func (t Trigger) DisplayCooldown() time.Duration {
	return time.Duration(t.DisplayCooldownSeconds) * time.Second
}

func (t Trigger) DismissCooldown() time.Duration {
	return time.Duration(t.DismissCooldownSeconds) * time.Second
}

// TargetingRules groups predicates by axis. A nil group leaves that axis unrestricted.
type TargetingRules struct {
	Page     *PageRules     `json:"page,omitempty" yaml:"page,omitempty"`
	User     *UserRules     `json:"user,omitempty" yaml:"user,omitempty"`
	Device   *DeviceRules   `json:"device,omitempty" yaml:"device,omitempty"`
	Schedule *ScheduleRules `json:"schedule,omitempty" yaml:"schedule,omitempty"`
}

type PageRules struct {
	Include []PagePredicate `json:"include,omitempty" yaml:"include,omitempty"`
	Exclude []PagePredicate `json:"exclude,omitempty" yaml:"exclude,omitempty"`
}

// PagePredicate matches a page by URL pattern, content id, or content type.
// Exactly one field is expected to be set.
type PagePredicate struct {
	URL         string `json:"url,omitempty" yaml:"url,omitempty"`
	ContentID   int64  `json:"content_id,omitempty" yaml:"content_id,omitempty"`
	ContentType string `json:"content_type,omitempty" yaml:"content_type,omitempty"`
}

type LoginState string

const (
	LoginAny       LoginState = ""
	LoginLoggedIn  LoginState = "logged_in"
	LoginLoggedOut LoginState = "logged_out"
)

type VisitorType string

const (
	VisitorAny       VisitorType = ""
	VisitorNew       VisitorType = "new"
	VisitorReturning VisitorType = "returning"
)

type UserRules struct {
	LoginState  LoginState  `json:"login_state,omitempty" yaml:"login_state,omitempty"`
	Roles       []string    `json:"roles,omitempty" yaml:"roles,omitempty"`
	VisitorType VisitorType `json:"visitor_type,omitempty" yaml:"visitor_type,omitempty"`
}

type DeviceRules struct {
	Types    []string `json:"types,omitempty" yaml:"types,omitempty"`
	Browsers []string `json:"browsers,omitempty" yaml:"browsers,omitempty"`
}

// ScheduleRules limits display to a window. Dates are inclusive and formatted
// YYYY-MM-DD; weekdays use 0 for Sunday; hours are inclusive and wrap midnight
// when HourFrom > HourTo.
type ScheduleRules struct {
	StartDate string `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	Weekdays  []int  `json:"weekdays,omitempty" yaml:"weekdays,omitempty"`
	HourFrom  *int   `json:"hour_from,omitempty" yaml:"hour_from,omitempty"`
	HourTo    *int   `json:"hour_to,omitempty" yaml:"hour_to,omitempty"`
	Timezone  string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

const DateLayout = "2006-01-02"

// Experiment groups variant campaigns under integer traffic-split weights.
type Experiment struct {
	ID                int64            `json:"id" yaml:"-"`
	Name              string           `json:"name" yaml:"name"`
	VariantIDs        []int64          `json:"variant_ids" yaml:"variant_ids"`
	TrafficSplit      []int            `json:"traffic_split" yaml:"traffic_split"`
	Status            ExperimentStatus `json:"status" yaml:"-"`
	EndDate           *time.Time       `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	WinnerID          *int64           `json:"winner_id,omitempty" yaml:"-"`
	MinimumSampleSize int              `json:"minimum_sample_size" yaml:"minimum_sample_size"`
	ConfidenceLevel   float64          `json:"confidence_level" yaml:"confidence_level"`
	AutoDeclareWinner bool             `json:"auto_declare_winner" yaml:"auto_declare_winner"`
	StartedAt         *time.Time       `json:"started_at,omitempty" yaml:"-"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty" yaml:"-"`
	// VariantsPausedAt is set once the losing variants of a decided experiment are paused.
	VariantsPausedAt  *time.Time       `json:"variants_paused_at,omitempty" yaml:"-"`
	CreatedAt         time.Time        `json:"created_at" yaml:"-"`
	UpdatedAt         time.Time        `json:"updated_at" yaml:"-"`
}

const (
	DefaultMinimumSampleSize = 100
	DefaultConfidenceLevel   = 95.0
)

// VariantIndex returns the position of campaignID in the variant list, or -1.
func (e *Experiment) VariantIndex(campaignID int64) int {
	for i, id := range e.VariantIDs {
		if id == campaignID {
			return i
		}
	}
	return -1
}

// VisitorAssignment is immutable once written.
type VisitorAssignment struct {
	ExperimentID int64     `json:"experiment_id"`
	VisitorID    string    `json:"visitor_id"`
	VariantID    int64     `json:"variant_id"`
	AssignedAt   time.Time `json:"assigned_at"`
}

type FrequencyRecord struct {
	CampaignID      int64      `json:"campaign_id"`
	VisitorID       string     `json:"visitor_id"`
	DisplayCount    int        `json:"display_count"`
	LastDisplayedAt *time.Time `json:"last_displayed_at,omitempty"`
	LastDismissedAt *time.Time `json:"last_dismissed_at,omitempty"`
	LastConvertedAt *time.Time `json:"last_converted_at,omitempty"`
	CooldownUntil   *time.Time `json:"cooldown_until,omitempty"`
}

// FrequencyUpdate is one event applied to a frequency record. CooldownUntil,
// when set, only ever extends an existing cooldown. A non-empty ImpressionID
// makes the update apply at most once per impression and event type.
type FrequencyUpdate struct {
	CampaignID    int64
	VisitorID     string
	Event         EventType
	ImpressionID  string
	At            time.Time
	CooldownUntil *time.Time
}

type Event struct {
	ID           int64             `json:"id"`
	EventID      string            `json:"event_id"`
	ImpressionID string            `json:"impression_id,omitempty"`
	CampaignID   int64             `json:"campaign_id"`
	ExperimentID *int64            `json:"experiment_id,omitempty"`
	VisitorID    string            `json:"visitor_id"`
	Type         EventType         `json:"event_type"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// VariantCounters are event counts for one variant campaign within a window.
type VariantCounters struct {
	CampaignID int64
	Displayed  int
	Interacted int
	Converted  int
}
