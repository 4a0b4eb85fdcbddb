// Package assign buckets visitors into experiment variants.
package assign

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/headline-goat/popup-goat/internal/logger"
	"github.com/headline-goat/popup-goat/internal/metrics"
	"github.com/headline-goat/popup-goat/internal/store"
)

type Engine struct {
	store   store.AssignmentStore
	metrics *metrics.Metrics
	log     *logger.Logger
	now     func() time.Time
}

func New(s store.AssignmentStore, m *metrics.Metrics, log *logger.Logger) *Engine {
	return &Engine{store: s, metrics: m, log: log, now: time.Now}
}

// AssignVariant returns the visitor's variant, creating the assignment on the
// first call. Later calls return the stored assignment unchanged, even if the
// traffic split would now bucket the visitor elsewhere.
func (e *Engine) AssignVariant(ctx context.Context, exp *store.Experiment, visitorID string) (*store.VisitorAssignment, error) {
	existing, err := e.store.GetAssignment(ctx, exp.ID, visitorID)
	if err == nil {
		e.metrics.Assignments.WithLabelValues("existing").Inc()
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load assignment: %w", err)
	}

	a, created, err := e.store.InsertAssignmentIfAbsent(ctx, store.VisitorAssignment{
		ExperimentID: exp.ID,
		VisitorID:    visitorID,
		VariantID:    Pick(exp, Bucket(exp.ID, visitorID)),
		AssignedAt:   e.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save assignment: %w", err)
	}

	if created {
		e.metrics.Assignments.WithLabelValues("new").Inc()
		e.log.Debug("Assigned variant", "experiment_id", exp.ID, "visitor_id", visitorID, "variant_id", a.VariantID)
	} else {
		e.metrics.Assignments.WithLabelValues("existing").Inc()
	}
	return a, nil
}

// Bucket maps (experiment, visitor) to a stable value in [0, 100).
func Bucket(experimentID int64, visitorID string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strconv.FormatInt(experimentID, 10)))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(visitorID))
	return int(h.Sum64() % 100)
}

// Pick walks the cumulative traffic split and returns the first variant with
// bucket < cumulative weight, so with a 20/30/50 split buckets 0-19 pick the
// first variant and 20-49 the second. Zero-weight variants are never picked.
// Malformed weights fall back to the first variant.
func Pick(exp *store.Experiment, bucket int) int64 {
	cumulative := 0
	for i, id := range exp.VariantIDs {
		if i >= len(exp.TrafficSplit) {
			break
		}
		cumulative += exp.TrafficSplit[i]
		if bucket < cumulative {
			return id
		}
	}
	return exp.VariantIDs[0]
}
