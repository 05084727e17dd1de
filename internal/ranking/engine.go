package ranking

import (
	"fmt"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/sirupsen/logrus"

	"affordmap/server/internal/cache"
	"affordmap/server/internal/loader"
	"affordmap/server/internal/models"
	"affordmap/server/internal/scoring"
)

const (
	// Maximum alternatives returned by the nearby queries.
	nearbyLimit = 10

	// ZIP-level alternatives beyond this great-circle distance are
	// dropped. Entities with unknown coordinates pass the filter.
	nearbyMaxMiles = 50.0

	metersPerMile = 1609.344
)

// Direction selects the sort order of a ranked list.
type Direction string

const (
	MostAffordableFirst  Direction = "most_affordable"
	LeastAffordableFirst Direction = "least_affordable"
)

// ParseDirection validates a raw direction string.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case MostAffordableFirst, LeastAffordableFirst:
		return Direction(s), nil
	}
	return "", fmt.Errorf("unsupported direction: %q", s)
}

// GeoSource is the narrow read interface into the geography table.
type GeoSource interface {
	GetEntity(geoType models.GeoType, id string) (*models.GeoEntity, error)
	GetEntitiesByState(geoType models.GeoType, stateAbbr string) ([]models.GeoEntity, error)
	GetEntitiesByType(geoType models.GeoType) ([]models.GeoEntity, error)
}

// BasketSource supplies cost-of-living basket data for the derived
// scoring fallback.
type BasketSource interface {
	BasketTotal(countyFIPS string) (*float64, error)
	DisposableIncomeSample(geoType models.GeoType) ([]float64, error)
}

// PeerScope bounds a peer-rank lookup.
type PeerScope string

const (
	ScopeNational PeerScope = "national"
	ScopeState    PeerScope = "state"
)

// ScoredEntity pairs an entity with its resolved score.
type ScoredEntity struct {
	Entity models.GeoEntity           `json:"entity"`
	Score  *models.AffordabilityScore `json:"score"`
}

// RankedEntity is one row of a ranked list.
type RankedEntity struct {
	ScoredEntity
	Rank       int     `json:"rank"`
	Percentile float64 `json:"percentile"`
}

// Alternative is one nearby better/worse suggestion.
type Alternative struct {
	ScoredEntity
	DistanceMiles *float64 `json:"distance_miles"`
}

// Engine positions resolved scores against peer populations. All peer
// materialization goes through the batch loader, so a full population
// costs two store round trips, never one per candidate.
type Engine struct {
	loader    *loader.BatchLoader
	geo       GeoSource
	baskets   BasketSource
	cache     *cache.Store
	rankedTTL time.Duration
	logger    *logrus.Logger
}

func NewEngine(batchLoader *loader.BatchLoader, geoSource GeoSource, baskets BasketSource, cacheStore *cache.Store, rankedTTL time.Duration, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		loader:    batchLoader,
		geo:       geoSource,
		baskets:   baskets,
		cache:     cacheStore,
		rankedTTL: rankedTTL,
		logger:    logger,
	}
}

// Candidate is one (id, score) pair for population ranking.
type Candidate struct {
	ID    string
	Score int
}

// RankedCandidate is a candidate with its dense rank and percentile.
type RankedCandidate struct {
	ID         string
	Score      int
	Rank       int
	Percentile float64
}

// RankPopulation orders candidates by score and assigns dense ranks:
// ties share a rank, and the next distinct score continues at rank+1.
// Percentile is the share of the population the candidate is more
// affordable than, so the best score approaches 100 regardless of sort
// direction.
func RankPopulation(candidates []Candidate, direction Direction) []RankedCandidate {
	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		if direction == LeastAffordableFirst {
			return ordered[i].Score < ordered[j].Score
		}
		return ordered[i].Score > ordered[j].Score
	})

	// Count how many candidates score strictly below each score value.
	worseThan := make(map[int]int, len(ordered))
	for _, c := range candidates {
		if _, ok := worseThan[c.Score]; ok {
			continue
		}
		count := 0
		for _, peer := range candidates {
			if peer.Score < c.Score {
				count++
			}
		}
		worseThan[c.Score] = count
	}

	total := len(ordered)
	results := make([]RankedCandidate, 0, total)
	rank := 0
	prevScore := 0
	for i, c := range ordered {
		if i == 0 || c.Score != prevScore {
			rank++
			prevScore = c.Score
		}
		percentile := 0.0
		if total > 0 {
			percentile = 100 * float64(worseThan[c.Score]) / float64(total)
		}
		results = append(results, RankedCandidate{
			ID:         c.ID,
			Score:      c.Score,
			Rank:       rank,
			Percentile: percentile,
		})
	}
	return results
}

// ScorePopulation resolves scores for a set of entities in bulk. Ratio
// percentiles for the housing fallback are computed across this same
// population, mirroring a windowed cumulative distribution. Entities
// with no metric data are omitted.
func (e *Engine) ScorePopulation(geoType models.GeoType, entities []models.GeoEntity) ([]ScoredEntity, error) {
	ids := make([]string, len(entities))
	for i, entity := range entities {
		ids[i] = entity.ID
	}

	results, err := e.loader.LoadMany(geoType, ids)
	if err != nil {
		return nil, err
	}

	// In-memory cumulative distribution over the population's ratios.
	var ratios []float64
	for _, r := range results {
		if r.Found() && r.Snapshot.Ratio != nil {
			ratios = append(ratios, *r.Snapshot.Ratio)
		}
	}

	// The disposable-income sample is shared by every derived-blend
	// resolution; fetch it at most once, and degrade on failure.
	var disposableSample []float64
	sampleLoaded := false
	loadSample := func() []float64 {
		if sampleLoaded {
			return disposableSample
		}
		sampleLoaded = true
		sample, err := e.baskets.DisposableIncomeSample(geoType)
		if err != nil {
			e.logger.WithError(err).Warn("Failed to load disposable income sample, skipping derived scores")
			return nil
		}
		disposableSample = sample
		return disposableSample
	}

	scored := make([]ScoredEntity, 0, len(entities))
	for _, entity := range entities {
		result := results[entity.ID]
		if !result.Found() {
			continue
		}

		in := scoring.Inputs{
			Snapshot:  result.Snapshot,
			Composite: result.Composite,
		}
		if result.Snapshot.Ratio != nil {
			// Share of peers with a strictly worse (higher) ratio.
			percentile := ratioPercentile(ratios, *result.Snapshot.Ratio)
			in.RatioPercentile = &percentile
		}
		if result.Composite == nil && entity.CountyFIPS != nil {
			basket, err := e.baskets.BasketTotal(*entity.CountyFIPS)
			if err != nil {
				e.logger.WithError(err).WithField("county_fips", *entity.CountyFIPS).
					Warn("Failed to load cost basket, treating as missing")
			} else if basket != nil {
				in.BasketTotal = basket
				in.DisposableSample = loadSample()
			}
		}

		score := scoring.Resolve(in)
		if score == nil {
			continue
		}
		scored = append(scored, ScoredEntity{Entity: entity, Score: score})
	}
	return scored, nil
}

// ratioPercentile is the share of peer ratios strictly greater than r,
// in [0, 100]. Lower ratios are more affordable, so a low ratio earns a
// high percentile.
func ratioPercentile(ratios []float64, r float64) float64 {
	if len(ratios) == 0 {
		return 0
	}
	greater := 0
	for _, peer := range ratios {
		if peer > r {
			greater++
		}
	}
	return 100 * float64(greater) / float64(len(ratios))
}

// TopEntities returns a ranked list for a scope (state abbreviation, or
// empty for national), optionally filtered to a population bucket.
// Full lists are cached; the limit is applied after the cache.
func (e *Engine) TopEntities(geoType models.GeoType, stateAbbr string, bucket *models.PopulationBucket, direction Direction, limit int) ([]RankedEntity, error) {
	scope := stateAbbr
	if scope == "" {
		scope = "US"
	}
	bucketName := "all"
	if bucket != nil {
		bucketName = string(*bucket)
	}
	key := fmt.Sprintf("rank:%s:%s:%s:%s", geoType, scope, bucketName, direction)

	value, err := e.cache.GetOrCompute(key, e.rankedTTL, func() (interface{}, error) {
		return e.rankScope(geoType, stateAbbr, bucket, direction)
	})
	if err != nil {
		return nil, err
	}

	ranked := value.([]RankedEntity)
	if limit > 0 && limit < len(ranked) {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

func (e *Engine) rankScope(geoType models.GeoType, stateAbbr string, bucket *models.PopulationBucket, direction Direction) ([]RankedEntity, error) {
	var entities []models.GeoEntity
	var err error
	if stateAbbr == "" {
		entities, err = e.geo.GetEntitiesByType(geoType)
	} else {
		entities, err = e.geo.GetEntitiesByState(geoType, stateAbbr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ranking population: %w", err)
	}

	if bucket != nil {
		filtered := entities[:0]
		for _, entity := range entities {
			if bucket.Contains(entity.Population) {
				filtered = append(filtered, entity)
			}
		}
		entities = filtered
	}

	scored, err := e.ScorePopulation(geoType, entities)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, len(scored))
	byID := make(map[string]ScoredEntity, len(scored))
	for i, s := range scored {
		candidates[i] = Candidate{ID: s.Entity.ID, Score: s.Score.Overall}
		byID[s.Entity.ID] = s
	}

	ranked := make([]RankedEntity, 0, len(scored))
	for _, rc := range RankPopulation(candidates, direction) {
		ranked = append(ranked, RankedEntity{
			ScoredEntity: byID[rc.ID],
			Rank:         rc.Rank,
			Percentile:   rc.Percentile,
		})
	}
	return ranked, nil
}

// RankWithinPeers locates one entity inside its peer population, either
// all entities of its type nationally or those in its own state.
// Returns nil when the entity is unknown or has no metric data.
func (e *Engine) RankWithinPeers(geoType models.GeoType, id string, scope PeerScope) (*models.RankResult, error) {
	entity, err := e.geo.GetEntity(geoType, id)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, nil
	}

	stateAbbr := ""
	if scope == ScopeState {
		stateAbbr = entity.StateAbbr
	}

	ranked, err := e.TopEntities(geoType, stateAbbr, nil, MostAffordableFirst, 0)
	if err != nil {
		return nil, err
	}

	for _, r := range ranked {
		if r.Entity.ID == id {
			return &models.RankResult{
				Rank:       r.Rank,
				Total:      len(ranked),
				Percentile: r.Percentile,
			}, nil
		}
	}
	return nil, nil
}

// NearbyBetter returns up to ten same-state peers with strictly better
// scores, closest scores first.
func (e *Engine) NearbyBetter(geoType models.GeoType, id string) ([]Alternative, error) {
	return e.nearby(geoType, id, true)
}

// NearbyWorse returns up to ten same-state peers with strictly worse
// scores, closest scores first.
func (e *Engine) NearbyWorse(geoType models.GeoType, id string) ([]Alternative, error) {
	return e.nearby(geoType, id, false)
}

func (e *Engine) nearby(geoType models.GeoType, id string, better bool) ([]Alternative, error) {
	entity, err := e.geo.GetEntity(geoType, id)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, nil
	}

	peers, err := e.geo.GetEntitiesByState(geoType, entity.StateAbbr)
	if err != nil {
		return nil, fmt.Errorf("failed to load peer entities: %w", err)
	}

	scored, err := e.ScorePopulation(geoType, peers)
	if err != nil {
		return nil, err
	}

	var target *ScoredEntity
	for i := range scored {
		if scored[i].Entity.ID == id {
			target = &scored[i]
			break
		}
	}
	if target == nil {
		return nil, nil
	}

	var alternatives []Alternative
	for _, peer := range scored {
		if peer.Entity.ID == id {
			continue
		}
		if better && peer.Score.Overall <= target.Score.Overall {
			continue
		}
		if !better && peer.Score.Overall >= target.Score.Overall {
			continue
		}

		distance := distanceMiles(target.Entity, peer.Entity)
		// ZIP-level comparisons stay local; unknown coordinates are
		// kept rather than dropped.
		if geoType == models.GeoTypeZCTA && distance != nil && *distance > nearbyMaxMiles {
			continue
		}
		alternatives = append(alternatives, Alternative{
			ScoredEntity:  peer,
			DistanceMiles: distance,
		})
	}

	targetScore := target.Score.Overall
	sort.SliceStable(alternatives, func(i, j int) bool {
		di := alternatives[i].Score.Overall - targetScore
		dj := alternatives[j].Score.Overall - targetScore
		if di < 0 {
			di = -di
		}
		if dj < 0 {
			dj = -dj
		}
		return di < dj
	})

	if len(alternatives) > nearbyLimit {
		alternatives = alternatives[:nearbyLimit]
	}
	return alternatives, nil
}

// distanceMiles is the great-circle distance between two entities, or
// nil when either is missing coordinates.
func distanceMiles(a, b models.GeoEntity) *float64 {
	if !a.HasCoordinates() || !b.HasCoordinates() {
		return nil
	}
	from := orb.Point{*a.Longitude, *a.Latitude}
	to := orb.Point{*b.Longitude, *b.Latitude}
	miles := geo.DistanceHaversine(from, to) / metersPerMile
	return &miles
}
