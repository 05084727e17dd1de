package scoring

import (
	"math"
	"sort"

	"affordmap/server/internal/models"
)

// Weights of the derived v2 blend when no precomputed composite exists.
const (
	derivedHousingWeight    = 0.6
	derivedEssentialsWeight = 0.4
)

// Inputs carries everything Resolve needs. All store lookups are the
// caller's responsibility; Resolve itself is a pure function.
type Inputs struct {
	Snapshot  *models.MetricSnapshot
	Composite *models.CompositeScore

	// RatioPercentile is the externally computed percentile of the
	// entity's ratio among its peers (higher = more affordable), when
	// the metric store could supply one.
	RatioPercentile *float64

	// BasketTotal is the annual cost-of-living basket for the entity's
	// county, when basket data exists.
	BasketTotal *float64

	// DisposableSample holds disposable incomes (income - basket) for
	// all entities with basket data, used to rank this entity's own.
	DisposableSample []float64
}

// Resolve computes an affordability score through a strict fallback
// chain: precomputed composite, then a derived cost-basket blend, then
// housing-only. Returns nil when the entity has no usable metric data.
func Resolve(in Inputs) *models.AffordabilityScore {
	// Tier 1: precomputed multi-factor composite.
	if in.Composite != nil {
		return &models.AffordabilityScore{
			Version:         models.ScoreV2Full,
			Overall:         Clamp(int(math.Round(in.Composite.Composite))),
			Grade:           Grade(Clamp(int(math.Round(in.Composite.Composite)))),
			HousingScore:    in.Composite.HousingScore,
			EssentialsScore: in.Composite.EssentialsScore,
			TaxScore:        in.Composite.TaxScore,
			QualityScore:    in.Composite.QualityScore,
		}
	}

	housing := housingScore(in)
	if housing == nil {
		return nil
	}

	// Tier 2: derived blend from county basket data.
	if in.BasketTotal != nil && in.Snapshot != nil && in.Snapshot.MedianIncome != nil && len(in.DisposableSample) > 0 {
		disposable := *in.Snapshot.MedianIncome - *in.BasketTotal
		essentials := PercentileRank(in.DisposableSample, disposable)
		overall := Clamp(int(math.Round(derivedHousingWeight**housing + derivedEssentialsWeight*essentials)))
		return &models.AffordabilityScore{
			Version:         models.ScoreV2Full,
			Overall:         overall,
			Grade:           Grade(overall),
			HousingScore:    housing,
			EssentialsScore: &essentials,
		}
	}

	// Tier 3: housing only.
	overall := Clamp(int(math.Round(*housing)))
	rounded := float64(overall)
	return &models.AffordabilityScore{
		Version:      models.ScoreV1Housing,
		Overall:      overall,
		Grade:        Grade(overall),
		HousingScore: &rounded,
	}
}

// housingScore returns the housing component, preferring a real ratio
// percentile and falling back to the linear 100-ratio estimate. The
// clamp does real work here: extreme ratios produce out-of-range
// estimates.
func housingScore(in Inputs) *float64 {
	if in.RatioPercentile != nil {
		v := clampFloat(*in.RatioPercentile)
		return &v
	}
	if in.Snapshot == nil || in.Snapshot.Ratio == nil {
		return nil
	}
	v := clampFloat(100 - *in.Snapshot.Ratio)
	return &v
}

// Clamp bounds a score to [0, 99]. Idempotent.
func Clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 99 {
		return 99
	}
	return score
}

func clampFloat(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 99 {
		return 99
	}
	return score
}

// PercentileRank returns the share of the sample the value exceeds,
// in [0, 100].
func PercentileRank(sample []float64, value float64) float64 {
	if len(sample) == 0 {
		return 0
	}
	sorted := make([]float64, len(sample))
	copy(sorted, sample)
	sort.Float64s(sorted)

	below := sort.SearchFloat64s(sorted, value)
	return 100 * float64(below) / float64(len(sorted))
}

// gradeBand maps a minimum score to a letter grade.
type gradeBand struct {
	min   int
	grade string
}

// Thirteen bands with +/- modifiers; scores below the last band are F.
var gradeBands = []gradeBand{
	{95, "A+"},
	{90, "A"},
	{85, "A-"},
	{80, "B+"},
	{75, "B"},
	{70, "B-"},
	{65, "C+"},
	{60, "C"},
	{55, "C-"},
	{45, "D+"},
	{35, "D"},
	{20, "D-"},
}

// Grade maps an overall score to its letter grade.
func Grade(score int) string {
	for _, band := range gradeBands {
		if score >= band.min {
			return band.grade
		}
	}
	return "F"
}
