package stats

import "math"

// Alpha is the two-tailed significance level.
const Alpha = 0.05

// Sample is one variant's display and conversion counts.
type Sample struct {
	Displays    int
	Conversions int
}

// Rate returns the conversion rate, or 0 with no displays.
func (s Sample) Rate() float64 {
	if s.Displays == 0 {
		return 0
	}
	return float64(s.Conversions) / float64(s.Displays)
}

// Reason explains a non-significant result.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonInsufficientData   Reason = "insufficient_data"
	ReasonNoVariance         Reason = "no_variance"
	ReasonBelowMinimumSample Reason = "below_minimum_sample"
	ReasonNotSignificant     Reason = "not_significant"
)

// Significance is the outcome of a two-proportion z-test. It is never stored.
type Significance struct {
	Significant    bool
	ConfidencePct  float64
	PValue         float64
	ZScore         float64
	ImprovementPct float64
	Reason         Reason
}

// Evaluate performs a two-tailed two-proportion z-test of a against b.
// A positive ZScore means a converts better than b. The result is significant
// only when the p-value is below Alpha and both samples have at least
// minSample displays. Missing data is reported through Reason, never as an error.
func Evaluate(a, b Sample, minSample int) Significance {
	if a.Displays == 0 || b.Displays == 0 {
		return Significance{PValue: 1, Reason: ReasonInsufficientData}
	}

	pA := a.Rate()
	pB := b.Rate()

	// Pooled proportion under null hypothesis (pA = pB)
	pooled := float64(a.Conversions+b.Conversions) / float64(a.Displays+b.Displays)

	// Standard error of the difference
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(a.Displays) + 1/float64(b.Displays)))
	if se == 0 {
		return Significance{PValue: 1, Reason: ReasonNoVariance}
	}

	z := (pA - pB) / se
	pValue := 2 * (1 - normalCDF(math.Abs(z)))

	result := Significance{
		ConfidencePct: (1 - pValue) * 100,
		PValue:        pValue,
		ZScore:        z,
	}
	if pB > 0 {
		result.ImprovementPct = (pA - pB) / pB * 100
	}

	switch {
	case pValue >= Alpha:
		result.Reason = ReasonNotSignificant
	case a.Displays < minSample || b.Displays < minSample:
		result.Reason = ReasonBelowMinimumSample
	default:
		result.Significant = true
	}

	return result
}

// normalCDF approximates the cumulative distribution function
// of the standard normal distribution
func normalCDF(x float64) float64 {
	// Abramowitz and Stegun, Handbook of Mathematical Functions, formula 7.1.26
	a1 := 0.254829592
	a2 := -0.284496736
	a3 := 1.421413741
	a4 := -1.453152027
	a5 := 1.061405429
	p := 0.3275911

	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	x = math.Abs(x) / math.Sqrt(2)

	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)

	return 0.5 * (1.0 + sign*y)
}
