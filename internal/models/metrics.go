package models

import "time"

// MetricSnapshot is one imported metric row for a geography at a point
// in time. The core only ever consumes the most recent row per entity.
type MetricSnapshot struct {
	GeoType      GeoType   `json:"geo_type"`
	GeoID        string    `json:"geo_id"`
	HomeValue    *float64  `json:"home_value"`
	MedianIncome *float64  `json:"median_income"`
	Ratio        *float64  `json:"ratio"`
	AsOfDate     time.Time `json:"as_of_date"`
}

// EarningPower returns income/homeValue, the display-facing inverse of
// the affordability ratio. Absent when the home value is missing or zero.
func (s *MetricSnapshot) EarningPower() *float64 {
	if s.HomeValue == nil || s.MedianIncome == nil || *s.HomeValue == 0 {
		return nil
	}
	ep := *s.MedianIncome / *s.HomeValue
	return &ep
}

// CompositeScore is a precomputed multi-factor affordability score.
// Component weights are owned by the upstream producer; the core only
// copies values through. Not every entity has one.
type CompositeScore struct {
	GeoType         GeoType  `json:"geo_type"`
	GeoID           string   `json:"geo_id"`
	HousingScore    *float64 `json:"housing_score"`
	EssentialsScore *float64 `json:"essentials_score"`
	TaxScore        *float64 `json:"tax_score"`
	QualityScore    *float64 `json:"quality_score"`
	Composite       float64  `json:"composite"`
}

// ScoreVersion tags which generation of the scoring model produced an
// affordability score.
type ScoreVersion string

const (
	ScoreV1Housing ScoreVersion = "v1_housing"
	ScoreV2Full    ScoreVersion = "v2_full"
)

// AffordabilityScore is the resolved, display-ready score for one
// entity. Derived in memory per request, never persisted.
type AffordabilityScore struct {
	Version         ScoreVersion `json:"version"`
	Overall         int          `json:"overall"`
	Grade           string       `json:"grade"`
	HousingScore    *float64     `json:"housing_score"`
	EssentialsScore *float64     `json:"essentials_score"`
	TaxScore        *float64     `json:"tax_score"`
	QualityScore    *float64     `json:"quality_score"`
}

// RefreshBatch is one unit of ingest work: a set of snapshot rows and
// any composite scores that arrived with them.
type RefreshBatch struct {
	Snapshots  []*MetricSnapshot `json:"snapshots"`
	Composites []*CompositeScore `json:"composites"`
}

// Size returns the number of rows the batch carries.
func (b *RefreshBatch) Size() int {
	return len(b.Snapshots) + len(b.Composites)
}

// RankResult positions one entity inside a peer population. Rank is
// dense: ties share a rank and the next distinct score continues at
// rank+1. Percentile follows the "higher = more affordable" convention.
type RankResult struct {
	Rank       int     `json:"rank"`
	Total      int     `json:"total"`
	Percentile float64 `json:"percentile"`
}
