package loader

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"affordmap/server/internal/cache"
	"affordmap/server/internal/models"
)

// MetricSource is the narrow read interface into the metric store.
type MetricSource interface {
	LatestSnapshots(geoType models.GeoType, ids []string) ([]models.MetricSnapshot, error)
}

// CompositeSource is the narrow read interface into the precomputed
// composite score store.
type CompositeSource interface {
	CompositeScores(geoType models.GeoType, ids []string) ([]models.CompositeScore, error)
}

// SnapshotResult is the loader's per-entity answer. A result with a nil
// Snapshot is an explicit "no data" marker, distinct from an ID that
// was never requested.
type SnapshotResult struct {
	Snapshot     *models.MetricSnapshot
	Composite    *models.CompositeScore
	EarningPower *float64
}

// Found reports whether the entity has any metric data.
func (r SnapshotResult) Found() bool {
	return r.Snapshot != nil
}

// BatchLoader resolves the latest metric snapshot per entity, cache
// first, collapsing all cache misses into two bulk queries (snapshots
// plus composite scores) instead of one round trip per entity.
type BatchLoader struct {
	cache      *cache.Store
	metrics    MetricSource
	composites CompositeSource
	ttl        time.Duration
	logger     *logrus.Logger
}

func NewBatchLoader(cacheStore *cache.Store, metrics MetricSource, composites CompositeSource, ttl time.Duration, logger *logrus.Logger) *BatchLoader {
	if logger == nil {
		logger = logrus.New()
	}
	return &BatchLoader{
		cache:      cacheStore,
		metrics:    metrics,
		composites: composites,
		ttl:        ttl,
		logger:     logger,
	}
}

// SnapshotKey is the cache key for one entity's latest snapshot.
func SnapshotKey(geoType models.GeoType, id string) string {
	return fmt.Sprintf("snapshot:latest:%s:%s", geoType, id)
}

// LoadMany returns a result for every requested ID. Cache hits are
// served directly; the remaining IDs go to the metric store in one bulk
// query and to the composite store in one more. A composite fetch
// failure degrades to "no composite" rather than failing the load.
func (l *BatchLoader) LoadMany(geoType models.GeoType, ids []string) (map[string]SnapshotResult, error) {
	results := make(map[string]SnapshotResult, len(ids))

	var uncached []string
	for _, id := range ids {
		if _, seen := results[id]; seen {
			continue
		}
		if value, ok := l.cache.Get(SnapshotKey(geoType, id)); ok {
			if cached, ok := value.(SnapshotResult); ok {
				results[id] = cached
				continue
			}
		}
		results[id] = SnapshotResult{}
		uncached = append(uncached, id)
	}

	if len(uncached) == 0 {
		return results, nil
	}

	snapshots, err := l.metrics.LatestSnapshots(geoType, uncached)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}

	composites := make(map[string]*models.CompositeScore)
	compositeRows, err := l.composites.CompositeScores(geoType, uncached)
	if err != nil {
		// Composite scores are optional enrichment; the fallback chain
		// handles their absence.
		l.logger.WithError(err).Warn("Failed to load composite scores, continuing without them")
	} else {
		for i := range compositeRows {
			composites[compositeRows[i].GeoID] = &compositeRows[i]
		}
	}

	for i := range snapshots {
		snapshot := snapshots[i]
		result := SnapshotResult{
			Snapshot:     &snapshot,
			Composite:    composites[snapshot.GeoID],
			EarningPower: snapshot.EarningPower(),
		}
		results[snapshot.GeoID] = result
		// Individual write-back so later single-ID lookups hit.
		l.cache.Set(SnapshotKey(geoType, snapshot.GeoID), result, l.ttl)
	}

	return results, nil
}

// LoadOne resolves a single entity through the same batch path.
func (l *BatchLoader) LoadOne(geoType models.GeoType, id string) (SnapshotResult, error) {
	results, err := l.LoadMany(geoType, []string{id})
	if err != nil {
		return SnapshotResult{}, err
	}
	return results[id], nil
}
