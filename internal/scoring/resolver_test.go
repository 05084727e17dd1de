package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"affordmap/server/internal/models"
)

func f(v float64) *float64 {
	return &v
}

func snapshotWithRatio(homeValue, income float64) *models.MetricSnapshot {
	ratio := homeValue / income
	return &models.MetricSnapshot{
		GeoType:      models.GeoTypeCity,
		GeoID:        "c1",
		HomeValue:    f(homeValue),
		MedianIncome: f(income),
		Ratio:        &ratio,
		AsOfDate:     time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestResolve_CompositePreferred(t *testing.T) {
	score := Resolve(Inputs{
		Snapshot: snapshotWithRatio(300000, 100000),
		Composite: &models.CompositeScore{
			GeoType:      models.GeoTypeCity,
			GeoID:        "c1",
			HousingScore: f(82.1),
			TaxScore:     f(60.5),
			Composite:    79.47,
		},
	})

	require.NotNil(t, score)
	assert.Equal(t, models.ScoreV2Full, score.Version)
	assert.Equal(t, 79, score.Overall, "composite rounds to nearest integer")
	assert.Equal(t, "B", score.Grade)
	require.NotNil(t, score.HousingScore)
	assert.InDelta(t, 82.1, *score.HousingScore, 0.0001)
	require.NotNil(t, score.TaxScore)
	assert.InDelta(t, 60.5, *score.TaxScore, 0.0001)
	assert.Nil(t, score.QualityScore)
}

func TestResolve_DerivedBlend(t *testing.T) {
	// Income 100k, basket 60k -> disposable 40k sits above 3 of the 4
	// sample values -> essentials percentile 75.
	score := Resolve(Inputs{
		Snapshot:         snapshotWithRatio(300000, 100000),
		RatioPercentile:  f(90),
		BasketTotal:      f(60000),
		DisposableSample: []float64{10000, 20000, 30000, 50000},
	})

	require.NotNil(t, score)
	assert.Equal(t, models.ScoreV2Full, score.Version)
	// 0.6*90 + 0.4*75 = 84
	assert.Equal(t, 84, score.Overall)
	assert.Equal(t, "B+", score.Grade)
	require.NotNil(t, score.EssentialsScore)
	assert.InDelta(t, 75, *score.EssentialsScore, 0.0001)
	assert.Nil(t, score.TaxScore)
}

func TestResolve_HousingOnlyFallback(t *testing.T) {
	// ratio = 3.0 -> 100 - 3.0 = 97
	score := Resolve(Inputs{
		Snapshot: snapshotWithRatio(300000, 100000),
	})

	require.NotNil(t, score)
	assert.Equal(t, models.ScoreV1Housing, score.Version)
	assert.Equal(t, 97, score.Overall)
	assert.Equal(t, "A+", score.Grade)
	assert.Nil(t, score.EssentialsScore)
	assert.Nil(t, score.TaxScore)
	assert.Nil(t, score.QualityScore)
}

func TestResolve_ExtremeRatioClamped(t *testing.T) {
	// A ratio of 120 would estimate -20 pre-clamp.
	score := Resolve(Inputs{
		Snapshot: snapshotWithRatio(12000000, 100000),
	})

	require.NotNil(t, score)
	assert.Equal(t, 0, score.Overall)
	assert.Equal(t, "F", score.Grade)
}

func TestResolve_PrefersSuppliedPercentile(t *testing.T) {
	score := Resolve(Inputs{
		Snapshot:        snapshotWithRatio(300000, 100000),
		RatioPercentile: f(42.6),
	})

	require.NotNil(t, score)
	assert.Equal(t, 43, score.Overall, "supplied percentile wins over the linear estimate")
}

func TestResolve_NoData(t *testing.T) {
	assert.Nil(t, Resolve(Inputs{}))
	assert.Nil(t, Resolve(Inputs{
		Snapshot: &models.MetricSnapshot{GeoType: models.GeoTypeCity, GeoID: "c1"},
	}), "a snapshot without a ratio cannot be scored")
}

func TestClamp(t *testing.T) {
	tests := []struct {
		name     string
		input    int
		expected int
	}{
		{"Negative", -5, 0},
		{"Zero", 0, 0},
		{"In range", 50, 50},
		{"Upper bound", 99, 99},
		{"Above range", 150, 99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Clamp(tt.input)
			assert.Equal(t, tt.expected, result)
			assert.Equal(t, result, Clamp(result), "clamp must be idempotent")
		})
	}
}

func TestPercentileRank(t *testing.T) {
	sample := []float64{10, 20, 30, 40}

	assert.InDelta(t, 0, PercentileRank(sample, 5), 0.0001)
	assert.InDelta(t, 50, PercentileRank(sample, 25), 0.0001)
	assert.InDelta(t, 100, PercentileRank(sample, 99), 0.0001)
	assert.InDelta(t, 0, PercentileRank(nil, 25), 0.0001)
}

func TestGrade(t *testing.T) {
	tests := []struct {
		score    int
		expected string
	}{
		{99, "A+"},
		{95, "A+"},
		{94, "A"},
		{85, "A-"},
		{80, "B+"},
		{79, "B"},
		{70, "B-"},
		{65, "C+"},
		{60, "C"},
		{55, "C-"},
		{50, "D+"},
		{40, "D"},
		{25, "D-"},
		{19, "F"},
		{0, "F"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, Grade(tt.score), "score %d", tt.score)
	}
}

func TestEarningPower(t *testing.T) {
	snapshot := snapshotWithRatio(300000, 100000)
	ep := snapshot.EarningPower()
	require.NotNil(t, ep)
	assert.InDelta(t, 0.3333, *ep, 0.0001)
	assert.InDelta(t, 1 / *snapshot.Ratio, *ep, 1e-9, "earning power is the inverse ratio")

	zeroHome := &models.MetricSnapshot{HomeValue: f(0), MedianIncome: f(50000)}
	assert.Nil(t, zeroHome.EarningPower())
}
