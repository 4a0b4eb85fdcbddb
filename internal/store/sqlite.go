package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS campaigns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT UNIQUE NOT NULL,
    type TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft',
    rules TEXT NOT NULL DEFAULT '{}',
    trigger_config TEXT NOT NULL DEFAULT '{}',
    content_ref TEXT NOT NULL DEFAULT '',
    experiment_id INTEGER,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_campaigns_experiment ON campaigns(experiment_id);

CREATE TABLE IF NOT EXISTS experiments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT UNIQUE NOT NULL,
    variants TEXT NOT NULL,
    traffic_split TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft',
    end_date INTEGER,
    winner_id INTEGER,
    minimum_sample_size INTEGER NOT NULL,
    confidence_level REAL NOT NULL,
    auto_declare INTEGER NOT NULL DEFAULT 0,
    started_at INTEGER,
    completed_at INTEGER,
    variants_paused_at INTEGER,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_experiments_status ON experiments(status);

CREATE TABLE IF NOT EXISTS visitor_assignments (
    experiment_id INTEGER NOT NULL,
    visitor_id TEXT NOT NULL,
    variant_id INTEGER NOT NULL,
    assigned_at INTEGER NOT NULL,
    PRIMARY KEY (experiment_id, visitor_id)
);

CREATE TABLE IF NOT EXISTS frequency_records (
    campaign_id INTEGER NOT NULL,
    visitor_id TEXT NOT NULL,
    display_count INTEGER NOT NULL DEFAULT 0,
    last_displayed_at INTEGER,
    last_dismissed_at INTEGER,
    last_converted_at INTEGER,
    cooldown_until INTEGER,
    PRIMARY KEY (campaign_id, visitor_id)
);

CREATE TABLE IF NOT EXISTS frequency_impressions (
    campaign_id INTEGER NOT NULL,
    visitor_id TEXT NOT NULL,
    impression_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    PRIMARY KEY (campaign_id, visitor_id, impression_id, event_type)
);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id TEXT UNIQUE NOT NULL,
    impression_id TEXT,
    campaign_id INTEGER NOT NULL,
    experiment_id INTEGER,
    visitor_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    metadata TEXT,
    created_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_events_campaign ON events(campaign_id);
CREATE INDEX IF NOT EXISTS idx_events_experiment ON events(experiment_id, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_events_impression ON events(impression_id, event_type) WHERE impression_id IS NOT NULL;
`

// Open opens (or creates) the database at dbPath and applies the schema.
func Open(dbPath string) (*SQLiteStore, error) {
	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewWithDB wraps an existing connection without applying the schema.
func NewWithDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for health checks
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Ping reports whether the database answers.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Campaigns

const campaignColumns = `id, name, type, status, rules, trigger_config, content_ref, experiment_id, created_at, updated_at`

func (s *SQLiteStore) CreateCampaign(ctx context.Context, c *Campaign) (*Campaign, error) {
	rulesJSON, triggerJSON, err := marshalCampaignConfig(c)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO campaigns (name, type, status, rules, trigger_config, content_ref, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Name, string(c.Type), string(c.Status), rulesJSON, triggerJSON, c.ContentRef, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("campaign %q: %w", c.Name, ErrConflict)
		}
		return nil, unavailable("insert campaign", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, unavailable("campaign last insert id", err)
	}

	created := *c
	created.ID = id
	created.ExperimentID = nil
	created.CreatedAt = time.Unix(now, 0)
	created.UpdatedAt = time.Unix(now, 0)
	return &created, nil
}

func (s *SQLiteStore) GetCampaign(ctx context.Context, id int64) (*Campaign, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	return scanCampaign(row)
}

func (s *SQLiteStore) GetCampaignByName(ctx context.Context, name string) (*Campaign, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE name = ?`, name)
	return scanCampaign(row)
}

func (s *SQLiteStore) ListCampaigns(ctx context.Context) ([]*Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY id`)
	if err != nil {
		return nil, unavailable("list campaigns", err)
	}
	defer rows.Close()

	var campaigns []*Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list campaigns", err)
	}

	return campaigns, nil
}

func (s *SQLiteStore) UpdateCampaign(ctx context.Context, c *Campaign) error {
	rulesJSON, triggerJSON, err := marshalCampaignConfig(c)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET name = ?, type = ?, status = ?, rules = ?, trigger_config = ?, content_ref = ?, updated_at = ?
		 WHERE id = ?`,
		c.Name, string(c.Type), string(c.Status), rulesJSON, triggerJSON, c.ContentRef, time.Now().Unix(), c.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("campaign %q: %w", c.Name, ErrConflict)
		}
		return unavailable("update campaign", err)
	}

	return requireRow(result, "update campaign")
}

func (s *SQLiteStore) UpdateCampaignStatus(ctx context.Context, id int64, status CampaignStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().Unix(), id,
	)
	if err != nil {
		return unavailable("update campaign status", err)
	}

	return requireRow(result, "update campaign status")
}

// DeleteCampaign removes a campaign and its frequency records. Campaigns that
// are variants of an experiment must be released by deleting the experiment first.
func (s *SQLiteStore) DeleteCampaign(ctx context.Context, id int64) error {
	c, err := s.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if c.ExperimentID != nil {
		return fmt.Errorf("campaign %d belongs to experiment %d: %w", id, *c.ExperimentID, ErrConflict)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin delete campaign", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"frequency_records", "frequency_impressions"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE campaign_id = ?`, id); err != nil {
			return unavailable("delete "+table, err)
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM campaigns WHERE id = ? AND experiment_id IS NULL`, id)
	if err != nil {
		return unavailable("delete campaign", err)
	}
	if err := requireRow(result, "delete campaign"); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit delete campaign", err)
	}
	return nil
}

// Experiments

const experimentColumns = `id, name, variants, traffic_split, status, end_date, winner_id, minimum_sample_size,
	confidence_level, auto_declare, started_at, completed_at, variants_paused_at, created_at, updated_at`

// CreateExperiment inserts the experiment and links every variant campaign to
// it in one transaction. A variant that does not exist yields ErrNotFound; one
// already linked to another experiment yields ErrConflict.
func (s *SQLiteStore) CreateExperiment(ctx context.Context, e *Experiment) (*Experiment, error) {
	variantsJSON, err := json.Marshal(e.VariantIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal variants: %w", err)
	}
	splitJSON, err := json.Marshal(e.TrafficSplit)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal traffic split: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin create experiment", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	result, err := tx.ExecContext(ctx,
		`INSERT INTO experiments (name, variants, traffic_split, status, end_date, minimum_sample_size,
		 confidence_level, auto_declare, created_at, updated_at)
		 VALUES (?, ?, ?, 'draft', ?, ?, ?, ?, ?, ?)`,
		e.Name, string(variantsJSON), string(splitJSON), nullTime(e.EndDate), e.MinimumSampleSize,
		e.ConfidenceLevel, e.AutoDeclareWinner, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("experiment %q: %w", e.Name, ErrConflict)
		}
		return nil, unavailable("insert experiment", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, unavailable("experiment last insert id", err)
	}

	for _, variantID := range e.VariantIDs {
		res, err := tx.ExecContext(ctx,
			`UPDATE campaigns SET experiment_id = ?, updated_at = ? WHERE id = ? AND experiment_id IS NULL`,
			id, now, variantID,
		)
		if err != nil {
			return nil, unavailable("link variant", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, unavailable("link variant rows affected", err)
		}
		if n == 1 {
			continue
		}

		var exists int
		err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns WHERE id = ?`, variantID).Scan(&exists)
		if err != nil {
			return nil, unavailable("check variant", err)
		}
		if exists == 0 {
			return nil, fmt.Errorf("variant campaign %d: %w", variantID, ErrNotFound)
		}
		return nil, fmt.Errorf("variant campaign %d already belongs to an experiment: %w", variantID, ErrConflict)
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit create experiment", err)
	}

	created := *e
	created.ID = id
	created.Status = ExperimentDraft
	created.WinnerID = nil
	created.StartedAt = nil
	created.CompletedAt = nil
	created.CreatedAt = time.Unix(now, 0)
	created.UpdatedAt = time.Unix(now, 0)
	return &created, nil
}

func (s *SQLiteStore) GetExperiment(ctx context.Context, id int64) (*Experiment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE id = ?`, id)
	return scanExperiment(row)
}

func (s *SQLiteStore) GetExperimentByName(ctx context.Context, name string) (*Experiment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE name = ?`, name)
	return scanExperiment(row)
}

func (s *SQLiteStore) ListExperiments(ctx context.Context) ([]*Experiment, error) {
	return s.queryExperiments(ctx, `SELECT `+experimentColumns+` FROM experiments ORDER BY id`)
}

func (s *SQLiteStore) ListExperimentsByStatus(ctx context.Context, status ExperimentStatus) ([]*Experiment, error) {
	return s.queryExperiments(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE status = ? ORDER BY id`, string(status))
}

func (s *SQLiteStore) queryExperiments(ctx context.Context, query string, args ...any) ([]*Experiment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("list experiments", err)
	}
	defer rows.Close()

	var experiments []*Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		experiments = append(experiments, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list experiments", err)
	}

	return experiments, nil
}

// StartExperiment moves a draft experiment to active and activates its draft
// variant campaigns. It reports false when the experiment was not in draft.
func (s *SQLiteStore) StartExperiment(ctx context.Context, id int64, at time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, unavailable("begin start experiment", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE experiments SET status = 'active', started_at = ?, updated_at = ? WHERE id = ? AND status = 'draft'`,
		at.Unix(), at.Unix(), id,
	)
	if err != nil {
		return false, unavailable("start experiment", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, unavailable("start experiment rows affected", err)
	}
	if n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM experiments WHERE id = ?`, id).Scan(&exists); err != nil {
			return false, unavailable("check experiment", err)
		}
		if exists == 0 {
			return false, ErrNotFound
		}
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE campaigns SET status = 'active', updated_at = ? WHERE experiment_id = ? AND status = 'draft'`,
		at.Unix(), id,
	); err != nil {
		return false, unavailable("activate variants", err)
	}

	if err := tx.Commit(); err != nil {
		return false, unavailable("commit start experiment", err)
	}
	return true, nil
}

// CompleteExperiment moves an active experiment to completed. An existing
// winner is never overwritten. It reports false when the experiment was not
// active, which makes repeated calls harmless.
func (s *SQLiteStore) CompleteExperiment(ctx context.Context, id int64, winnerID *int64, at time.Time) (bool, error) {
	var winner sql.NullInt64
	if winnerID != nil {
		winner = sql.NullInt64{Int64: *winnerID, Valid: true}
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE experiments SET status = 'completed', winner_id = COALESCE(winner_id, ?), completed_at = ?, updated_at = ?
		 WHERE id = ? AND status = 'active'`,
		winner, at.Unix(), at.Unix(), id,
	)
	if err != nil {
		return false, unavailable("complete experiment", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, unavailable("complete experiment rows affected", err)
	}
	if n == 0 {
		if _, err := s.GetExperiment(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// MarkVariantsPaused records that the losing variants of a completed
// experiment have been paused.
func (s *SQLiteStore) MarkVariantsPaused(ctx context.Context, id int64, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE experiments SET variants_paused_at = ?, updated_at = ? WHERE id = ? AND status = 'completed'`,
		at.Unix(), at.Unix(), id,
	)
	if err != nil {
		return unavailable("mark variants paused", err)
	}
	return requireRow(result, "mark variants paused")
}

// DeleteExperiment releases the variant campaigns and removes the assignments.
// Events stay in the log.
func (s *SQLiteStore) DeleteExperiment(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin delete experiment", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE campaigns SET experiment_id = NULL WHERE experiment_id = ?`, id); err != nil {
		return unavailable("unlink variants", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM visitor_assignments WHERE experiment_id = ?`, id); err != nil {
		return unavailable("delete assignments", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM experiments WHERE id = ?`, id)
	if err != nil {
		return unavailable("delete experiment", err)
	}
	if err := requireRow(result, "delete experiment"); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit delete experiment", err)
	}
	return nil
}

// Assignments

func (s *SQLiteStore) GetAssignment(ctx context.Context, experimentID int64, visitorID string) (*VisitorAssignment, error) {
	var a VisitorAssignment
	var assignedAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT experiment_id, visitor_id, variant_id, assigned_at FROM visitor_assignments
		 WHERE experiment_id = ? AND visitor_id = ?`, experimentID, visitorID,
	).Scan(&a.ExperimentID, &a.VisitorID, &a.VariantID, &assignedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get assignment", err)
	}

	a.AssignedAt = time.Unix(assignedAt, 0)
	return &a, nil
}

// InsertAssignmentIfAbsent relies on the (experiment_id, visitor_id) primary
// key: the losing writer of a race reads back the winner's row.
func (s *SQLiteStore) InsertAssignmentIfAbsent(ctx context.Context, a VisitorAssignment) (*VisitorAssignment, bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO visitor_assignments (experiment_id, visitor_id, variant_id, assigned_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(experiment_id, visitor_id) DO NOTHING`,
		a.ExperimentID, a.VisitorID, a.VariantID, a.AssignedAt.Unix(),
	)
	if err != nil {
		return nil, false, unavailable("insert assignment", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return nil, false, unavailable("insert assignment rows affected", err)
	}
	if n == 1 {
		a.AssignedAt = time.Unix(a.AssignedAt.Unix(), 0)
		return &a, true, nil
	}

	existing, err := s.GetAssignment(ctx, a.ExperimentID, a.VisitorID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Frequency records

func (s *SQLiteStore) GetFrequencyRecord(ctx context.Context, campaignID int64, visitorID string) (*FrequencyRecord, error) {
	var r FrequencyRecord
	var displayed, dismissed, converted, cooldown sql.NullInt64

	err := s.db.QueryRowContext(ctx,
		`SELECT campaign_id, visitor_id, display_count, last_displayed_at, last_dismissed_at, last_converted_at, cooldown_until
		 FROM frequency_records WHERE campaign_id = ? AND visitor_id = ?`, campaignID, visitorID,
	).Scan(&r.CampaignID, &r.VisitorID, &r.DisplayCount, &displayed, &dismissed, &converted, &cooldown)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get frequency record", err)
	}

	r.LastDisplayedAt = timePtr(displayed)
	r.LastDismissedAt = timePtr(dismissed)
	r.LastConvertedAt = timePtr(converted)
	r.CooldownUntil = timePtr(cooldown)
	return &r, nil
}

// ApplyFrequencyEvent upserts the record in a single statement so concurrent
// displays are all counted. An update carrying an impression id is applied at
// most once per (impression, event type); a repeat returns the record unchanged.
func (s *SQLiteStore) ApplyFrequencyEvent(ctx context.Context, u FrequencyUpdate) (*FrequencyRecord, error) {
	var increment int
	var displayed, dismissed, converted sql.NullInt64
	at := sql.NullInt64{Int64: u.At.Unix(), Valid: true}

	switch u.Event {
	case EventDisplayed:
		increment = 1
		displayed = at
	case EventDismissed:
		dismissed = at
	case EventConverted:
		converted = at
	default:
		return nil, fmt.Errorf("event %q does not affect frequency records", u.Event)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin apply frequency event", err)
	}
	defer tx.Rollback()

	if u.ImpressionID != "" {
		result, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO frequency_impressions (campaign_id, visitor_id, impression_id, event_type) VALUES (?, ?, ?, ?)`,
			u.CampaignID, u.VisitorID, u.ImpressionID, string(u.Event),
		)
		if err != nil {
			return nil, unavailable("record frequency impression", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return nil, unavailable("record frequency impression rows affected", err)
		}
		if n == 0 {
			tx.Rollback()
			return s.GetFrequencyRecord(ctx, u.CampaignID, u.VisitorID)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO frequency_records (campaign_id, visitor_id, display_count, last_displayed_at, last_dismissed_at, last_converted_at, cooldown_until)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(campaign_id, visitor_id) DO UPDATE SET
		     display_count = display_count + excluded.display_count,
		     last_displayed_at = COALESCE(excluded.last_displayed_at, last_displayed_at),
		     last_dismissed_at = COALESCE(excluded.last_dismissed_at, last_dismissed_at),
		     last_converted_at = COALESCE(last_converted_at, excluded.last_converted_at),
		     cooldown_until = CASE
		         WHEN excluded.cooldown_until IS NULL THEN cooldown_until
		         WHEN cooldown_until IS NULL THEN excluded.cooldown_until
		         ELSE MAX(cooldown_until, excluded.cooldown_until)
		     END`,
		u.CampaignID, u.VisitorID, increment, displayed, dismissed, converted, nullTime(u.CooldownUntil),
	)
	if err != nil {
		return nil, unavailable("apply frequency event", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit frequency event", err)
	}
	return s.GetFrequencyRecord(ctx, u.CampaignID, u.VisitorID)
}

func (s *SQLiteStore) DeleteFrequencyRecords(ctx context.Context, campaignID int64) error {
	for _, table := range []string{"frequency_records", "frequency_impressions"} {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE campaign_id = ?`, campaignID); err != nil {
			return unavailable("delete "+table, err)
		}
	}
	return nil
}

// Events

// AppendEvent uses INSERT OR IGNORE so a repeated event id, or a repeated
// (impression, type) pair, is dropped.
func (s *SQLiteStore) AppendEvent(ctx context.Context, e *Event) (bool, error) {
	if e.EventID == "" {
		return false, fmt.Errorf("event id is required")
	}

	var metadata sql.NullString
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return false, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}

	var impression sql.NullString
	if e.ImpressionID != "" {
		impression = sql.NullString{String: e.ImpressionID, Valid: true}
	}

	var experimentID sql.NullInt64
	if e.ExperimentID != nil {
		experimentID = sql.NullInt64{Int64: *e.ExperimentID, Valid: true}
	}

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO events (event_id, impression_id, campaign_id, experiment_id, visitor_id, event_type, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EventID, impression, e.CampaignID, experimentID, e.VisitorID, string(e.Type), metadata, createdAt.Unix(),
	)
	if err != nil {
		return false, unavailable("append event", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, unavailable("append event rows affected", err)
	}
	if n == 0 {
		return false, nil
	}

	if id, err := result.LastInsertId(); err == nil {
		e.ID = id
	}
	e.CreatedAt = time.Unix(createdAt.Unix(), 0)
	return true, nil
}

// VariantCounters aggregates the event log per variant campaign for events at
// or after since.
func (s *SQLiteStore) VariantCounters(ctx context.Context, experimentID int64, since time.Time) ([]VariantCounters, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			campaign_id,
			SUM(CASE WHEN event_type = 'displayed' THEN 1 ELSE 0 END) as displayed,
			SUM(CASE WHEN event_type = 'interacted' THEN 1 ELSE 0 END) as interacted,
			SUM(CASE WHEN event_type = 'converted' THEN 1 ELSE 0 END) as converted
		FROM events
		WHERE experiment_id = ? AND created_at >= ?
		GROUP BY campaign_id
		ORDER BY campaign_id
	`, experimentID, since.Unix())
	if err != nil {
		return nil, unavailable("variant counters", err)
	}
	defer rows.Close()

	var counters []VariantCounters
	for rows.Next() {
		var c VariantCounters
		if err := rows.Scan(&c.CampaignID, &c.Displayed, &c.Interacted, &c.Converted); err != nil {
			return nil, unavailable("scan variant counters", err)
		}
		counters = append(counters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("variant counters", err)
	}

	return counters, nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, campaignID int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, impression_id, campaign_id, experiment_id, visitor_id, event_type, metadata, created_at
		 FROM events WHERE campaign_id = ? ORDER BY created_at DESC, id DESC`,
		campaignID,
	)
	if err != nil {
		return nil, unavailable("list events", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var impression, metadata sql.NullString
		var experimentID sql.NullInt64
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.EventID, &impression, &e.CampaignID, &experimentID, &e.VisitorID, &e.Type, &metadata, &createdAt); err != nil {
			return nil, unavailable("scan event", err)
		}
		e.ImpressionID = impression.String
		if experimentID.Valid {
			id := experimentID.Int64
			e.ExperimentID = &id
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list events", err)
	}

	return events, nil
}

// helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*Campaign, error) {
	var c Campaign
	var rulesJSON, triggerJSON string
	var experimentID sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&c.ID, &c.Name, &c.Type, &c.Status, &rulesJSON, &triggerJSON, &c.ContentRef, &experimentID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("scan campaign", err)
	}

	if err := json.Unmarshal([]byte(rulesJSON), &c.Rules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
	}
	if err := json.Unmarshal([]byte(triggerJSON), &c.Trigger); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger: %w", err)
	}

	if experimentID.Valid {
		id := experimentID.Int64
		c.ExperimentID = &id
	}
	c.CreatedAt = time.Unix(createdAt, 0)
	c.UpdatedAt = time.Unix(updatedAt, 0)
	return &c, nil
}

func scanExperiment(row rowScanner) (*Experiment, error) {
	var e Experiment
	var variantsJSON, splitJSON string
	var endDate, winnerID, startedAt, completedAt, pausedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&e.ID, &e.Name, &variantsJSON, &splitJSON, &e.Status, &endDate, &winnerID, &e.MinimumSampleSize,
		&e.ConfidenceLevel, &e.AutoDeclareWinner, &startedAt, &completedAt, &pausedAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("scan experiment", err)
	}

	if err := json.Unmarshal([]byte(variantsJSON), &e.VariantIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal variants: %w", err)
	}
	if err := json.Unmarshal([]byte(splitJSON), &e.TrafficSplit); err != nil {
		return nil, fmt.Errorf("failed to unmarshal traffic split: %w", err)
	}

	if winnerID.Valid {
		w := winnerID.Int64
		e.WinnerID = &w
	}
	e.EndDate = timePtr(endDate)
	e.StartedAt = timePtr(startedAt)
	e.CompletedAt = timePtr(completedAt)
	e.VariantsPausedAt = timePtr(pausedAt)
	e.CreatedAt = time.Unix(createdAt, 0)
	e.UpdatedAt = time.Unix(updatedAt, 0)
	return &e, nil
}

func marshalCampaignConfig(c *Campaign) (string, string, error) {
	rulesJSON, err := json.Marshal(c.Rules)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal rules: %w", err)
	}
	triggerJSON, err := json.Marshal(c.Trigger)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal trigger: %w", err)
	}
	return string(rulesJSON), string(triggerJSON), nil
}

func requireRow(result sql.Result, op string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return unavailable(op+" rows affected", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0)
	return &t
}
