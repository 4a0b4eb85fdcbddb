// Package redisstore keeps visitor assignments and frequency records in Redis
// for deployments where the decision path must not touch SQLite.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/headline-goat/popup-goat/internal/store"
)

const (
	keyAssignment       = "popgoat:assign:%d:%s"
	keyFrequency        = "popgoat:freq:%d:%s"
	keyFrequencySeen    = "popgoat:freq:%d:%s:seen"
	keyFrequencyVisitor = "popgoat:freq:%d:visitors"
)

// applyFrequencyScript upserts one frequency event atomically.
// KEYS: record, visitor index, seen impressions. ARGV: increment, timestamp
// field, timestamp, cooldown_until ("" for none), visitor id, impression
// member ("" for none). A member already in the seen set leaves the record as is.
var applyFrequencyScript = redis.NewScript(`
local key = KEYS[1]
if ARGV[6] ~= "" and redis.call("SADD", KEYS[3], ARGV[6]) == 0 then
	return redis.call("HGETALL", key)
end
redis.call("HSETNX", key, "display_count", 0)
redis.call("HINCRBY", key, "display_count", tonumber(ARGV[1]))
if ARGV[2] == "last_converted_at" then
	redis.call("HSETNX", key, ARGV[2], ARGV[3])
elseif ARGV[2] ~= "" then
	redis.call("HSET", key, ARGV[2], ARGV[3])
end
if ARGV[4] ~= "" then
	local current = redis.call("HGET", key, "cooldown_until")
	if not current or tonumber(current) < tonumber(ARGV[4]) then
		redis.call("HSET", key, "cooldown_until", ARGV[4])
	end
end
redis.call("SADD", KEYS[2], ARGV[5])
return redis.call("HGETALL", key)
`)

type Store struct {
	client *redis.Client
}

var (
	_ store.AssignmentStore = (*Store)(nil)
	_ store.FrequencyStore  = (*Store)(nil)
)

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w: %w", addr, store.ErrUnavailable, err)
	}
	return New(client), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

type assignmentValue struct {
	VariantID  int64 `json:"variant_id"`
	AssignedAt int64 `json:"assigned_at"`
}

func (s *Store) GetAssignment(ctx context.Context, experimentID int64, visitorID string) (*store.VisitorAssignment, error) {
	raw, err := s.client.Get(ctx, fmt.Sprintf(keyAssignment, experimentID, visitorID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get assignment", err)
	}

	var v assignmentValue
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("failed to decode assignment: %w", err)
	}

	return &store.VisitorAssignment{
		ExperimentID: experimentID,
		VisitorID:    visitorID,
		VariantID:    v.VariantID,
		AssignedAt:   time.Unix(v.AssignedAt, 0),
	}, nil
}

// InsertAssignmentIfAbsent uses SET NX; the loser of a race reads the winner's value.
func (s *Store) InsertAssignmentIfAbsent(ctx context.Context, a store.VisitorAssignment) (*store.VisitorAssignment, bool, error) {
	payload, err := json.Marshal(assignmentValue{VariantID: a.VariantID, AssignedAt: a.AssignedAt.Unix()})
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode assignment: %w", err)
	}

	ok, err := s.client.SetNX(ctx, fmt.Sprintf(keyAssignment, a.ExperimentID, a.VisitorID), payload, 0).Result()
	if err != nil {
		return nil, false, unavailable("insert assignment", err)
	}
	if ok {
		a.AssignedAt = time.Unix(a.AssignedAt.Unix(), 0)
		return &a, true, nil
	}

	existing, err := s.GetAssignment(ctx, a.ExperimentID, a.VisitorID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *Store) GetFrequencyRecord(ctx context.Context, campaignID int64, visitorID string) (*store.FrequencyRecord, error) {
	fields, err := s.client.HGetAll(ctx, fmt.Sprintf(keyFrequency, campaignID, visitorID)).Result()
	if err != nil {
		return nil, unavailable("get frequency record", err)
	}
	if len(fields) == 0 {
		return nil, store.ErrNotFound
	}
	return decodeRecord(campaignID, visitorID, fields)
}

func (s *Store) ApplyFrequencyEvent(ctx context.Context, u store.FrequencyUpdate) (*store.FrequencyRecord, error) {
	increment := 0
	var field string
	switch u.Event {
	case store.EventDisplayed:
		increment = 1
		field = "last_displayed_at"
	case store.EventDismissed:
		field = "last_dismissed_at"
	case store.EventConverted:
		field = "last_converted_at"
	default:
		return nil, fmt.Errorf("event %q does not affect frequency records", u.Event)
	}

	cooldown := ""
	if u.CooldownUntil != nil {
		cooldown = strconv.FormatInt(u.CooldownUntil.Unix(), 10)
	}

	seen := ""
	if u.ImpressionID != "" {
		seen = string(u.Event) + ":" + u.ImpressionID
	}

	keys := []string{
		fmt.Sprintf(keyFrequency, u.CampaignID, u.VisitorID),
		fmt.Sprintf(keyFrequencyVisitor, u.CampaignID),
		fmt.Sprintf(keyFrequencySeen, u.CampaignID, u.VisitorID),
	}
	res, err := applyFrequencyScript.Run(ctx, s.client, keys,
		increment, field, u.At.Unix(), cooldown, u.VisitorID, seen,
	).StringSlice()
	if err != nil {
		return nil, unavailable("apply frequency event", err)
	}

	fields := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		fields[res[i]] = res[i+1]
	}
	return decodeRecord(u.CampaignID, u.VisitorID, fields)
}

func (s *Store) DeleteFrequencyRecords(ctx context.Context, campaignID int64) error {
	indexKey := fmt.Sprintf(keyFrequencyVisitor, campaignID)
	visitors, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return unavailable("list frequency visitors", err)
	}

	pipe := s.client.Pipeline()
	for _, v := range visitors {
		pipe.Del(ctx, fmt.Sprintf(keyFrequency, campaignID, v), fmt.Sprintf(keyFrequencySeen, campaignID, v))
	}
	pipe.Del(ctx, indexKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("delete frequency records", err)
	}
	return nil
}

// DeleteAssignments removes every assignment of an experiment.
func (s *Store) DeleteAssignments(ctx context.Context, experimentID int64) error {
	iter := s.client.Scan(ctx, 0, fmt.Sprintf(keyAssignment, experimentID, "*"), 500).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return unavailable("scan assignments", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return unavailable("delete assignments", err)
	}
	return nil
}

func decodeRecord(campaignID int64, visitorID string, fields map[string]string) (*store.FrequencyRecord, error) {
	r := &store.FrequencyRecord{CampaignID: campaignID, VisitorID: visitorID}

	if v, ok := fields["display_count"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("bad display_count %q: %w", v, err)
		}
		r.DisplayCount = n
	}

	for name, dst := range map[string]**time.Time{
		"last_displayed_at": &r.LastDisplayedAt,
		"last_dismissed_at": &r.LastDismissedAt,
		"last_converted_at": &r.LastConvertedAt,
		"cooldown_until":    &r.CooldownUntil,
	} {
		v, ok := fields[name]
		if !ok || v == "" {
			continue
		}
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad %s %q: %w", name, v, err)
		}
		t := time.Unix(sec, 0)
		*dst = &t
	}

	return r, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("redis %s: %w: %w", op, store.ErrUnavailable, err)
}
