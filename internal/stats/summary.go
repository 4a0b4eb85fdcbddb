package stats

import "github.com/headline-goat/popup-goat/internal/store"

// VariantResult contains statistics for a single variant
type VariantResult struct {
	Index      int
	CampaignID int64
	Name       string
	Weight     int
	Sample     Sample
	Interacted int
	Rate       float64
	CILower    float64
	CIUpper    float64
}

// Comparison is the leader tested against one other variant.
type Comparison struct {
	CampaignID int64
	Result     Significance
}

// Summary is the statistical picture of an experiment.
type Summary struct {
	Variants    []VariantResult
	Leader      int
	Comparisons []Comparison
	// Ready is true when every variant reached the minimum sample size.
	Ready bool
	// Confident is true when the leader is significant against every other
	// variant at the experiment's confidence level.
	Confident bool
}

// LeaderID returns the leading variant's campaign id.
func (s *Summary) LeaderID() int64 {
	return s.Variants[s.Leader].CampaignID
}

// Summarize builds per-variant rates from the event-log counters, picks the
// variant with the highest conversion rate (earliest wins ties) and tests it
// against every other variant. names is optional.
func Summarize(exp *store.Experiment, counters []store.VariantCounters, names map[int64]string) *Summary {
	byCampaign := make(map[int64]store.VariantCounters, len(counters))
	for _, c := range counters {
		byCampaign[c.CampaignID] = c
	}

	summary := &Summary{
		Variants: make([]VariantResult, len(exp.VariantIDs)),
		Ready:    len(exp.VariantIDs) > 0,
	}

	maxRate := 0.0
	for i, id := range exp.VariantIDs {
		c := byCampaign[id] // Will be zero-valued if not present
		sample := Sample{Displays: c.Displayed, Conversions: c.Converted}
		lower, upper := WilsonInterval(sample, 95)

		weight := 0
		if i < len(exp.TrafficSplit) {
			weight = exp.TrafficSplit[i]
		}

		summary.Variants[i] = VariantResult{
			Index:      i,
			CampaignID: id,
			Name:       names[id],
			Weight:     weight,
			Sample:     sample,
			Interacted: c.Interacted,
			Rate:       sample.Rate(),
			CILower:    lower,
			CIUpper:    upper,
		}

		if sample.Rate() > maxRate {
			maxRate = sample.Rate()
			summary.Leader = i
		}
		if sample.Displays < exp.MinimumSampleSize {
			summary.Ready = false
		}
	}

	if len(summary.Variants) < 2 {
		return summary
	}

	leader := summary.Variants[summary.Leader]
	allSignificant := true
	for i, v := range summary.Variants {
		if i == summary.Leader {
			continue
		}
		result := Evaluate(leader.Sample, v.Sample, exp.MinimumSampleSize)
		summary.Comparisons = append(summary.Comparisons, Comparison{CampaignID: v.CampaignID, Result: result})
		if !result.Significant || result.ConfidencePct < exp.ConfidenceLevel {
			allSignificant = false
		}
	}
	summary.Confident = summary.Ready && allSignificant

	return summary
}
