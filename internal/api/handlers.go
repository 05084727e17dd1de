package api

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"affordmap/server/config"
	"affordmap/server/internal/cache"
	"affordmap/server/internal/database"
	"affordmap/server/internal/models"
	"affordmap/server/internal/queue"
	"affordmap/server/internal/ranking"
	"affordmap/server/internal/scoring"
)

type Handler struct {
	db       *database.Database
	engine   *ranking.Engine
	cache    *cache.Store
	queue    *queue.RefreshQueue
	backfill func() (int, error)
	cfg      *config.Config
	logger   *logrus.Logger
}

func NewHandler(db *database.Database, engine *ranking.Engine, cacheStore *cache.Store, refreshQueue *queue.RefreshQueue, backfill func() (int, error), cfg *config.Config, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	return &Handler{
		db:       db,
		engine:   engine,
		cache:    cacheStore,
		queue:    refreshQueue,
		backfill: backfill,
		cfg:      cfg,
		logger:   logger,
	}
}

// parseGeoType rejects unknown geography kinds before any store access.
func (h *Handler) parseGeoType(c *gin.Context) (models.GeoType, bool) {
	geoType, err := models.ParseGeoType(c.Param("geo_type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return geoType, true
}

// GetEntityScore returns one entity's resolved score together with its
// peer benchmarks and nearby alternatives. The independent sub-queries
// run concurrently and are awaited jointly.
func (h *Handler) GetEntityScore(c *gin.Context) {
	geoType, ok := h.parseGeoType(c)
	if !ok {
		return
	}
	id := c.Param("id")

	entity, err := h.db.GetEntity(geoType, id)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get entity")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get entity"})
		return
	}
	if entity == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown entity"})
		return
	}

	score, snapshot, err := h.resolveScore(entity)
	if err != nil {
		h.logger.WithError(err).Error("Failed to resolve score")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve score"})
		return
	}
	if score == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No affordability data for entity"})
		return
	}

	var (
		stateRank    *models.RankResult
		nationalRank *models.RankResult
		better       []ranking.Alternative
		worse        []ranking.Alternative
	)

	var g errgroup.Group
	g.Go(func() error {
		var err error
		stateRank, err = h.engine.RankWithinPeers(geoType, id, ranking.ScopeState)
		return err
	})
	g.Go(func() error {
		var err error
		nationalRank, err = h.engine.RankWithinPeers(geoType, id, ranking.ScopeNational)
		return err
	})
	g.Go(func() error {
		var err error
		better, err = h.engine.NearbyBetter(geoType, id)
		return err
	})
	g.Go(func() error {
		var err error
		worse, err = h.engine.NearbyWorse(geoType, id)
		return err
	})
	if err := g.Wait(); err != nil {
		h.logger.WithError(err).Error("Failed to load score page benchmarks")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load benchmarks"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entity":        entity,
		"score":         score,
		"earning_power": snapshot.EarningPower(),
		"as_of_date":    snapshot.AsOfDate,
		"rank": gin.H{
			"state":    stateRank,
			"national": nationalRank,
		},
		"nearby_better": better,
		"nearby_worse":  worse,
	})
}

// resolveScore runs the fallback chain for a single entity using the
// single-row store queries. Enrichment failures degrade to absence.
func (h *Handler) resolveScore(entity *models.GeoEntity) (*models.AffordabilityScore, *models.MetricSnapshot, error) {
	snapshot, err := h.db.LatestSnapshot(entity.GeoType, entity.ID)
	if err != nil {
		return nil, nil, err
	}
	if snapshot == nil {
		return nil, nil, nil
	}

	in := scoring.Inputs{Snapshot: snapshot}

	composite, err := h.db.CompositeScore(entity.GeoType, entity.ID)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to load composite score, continuing without it")
	} else {
		in.Composite = composite
	}

	percentile, err := h.db.RatioPercentile(entity.GeoType, entity.StateAbbr, entity.ID)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to load ratio percentile, continuing without it")
	} else {
		in.RatioPercentile = percentile
	}

	if in.Composite == nil && entity.CountyFIPS != nil {
		basket, err := h.db.BasketTotal(*entity.CountyFIPS)
		if err != nil {
			h.logger.WithError(err).Warn("Failed to load cost basket, continuing without it")
		} else if basket != nil {
			sample, err := h.db.DisposableIncomeSample(entity.GeoType)
			if err != nil {
				h.logger.WithError(err).Warn("Failed to load disposable income sample, continuing without it")
			} else {
				in.BasketTotal = basket
				in.DisposableSample = sample
			}
		}
	}

	return scoring.Resolve(in), snapshot, nil
}

// GetRankings returns a ranked list for a geography type, optionally
// scoped to a state and a population bucket.
func (h *Handler) GetRankings(c *gin.Context) {
	geoType, err := models.ParseGeoType(c.Query("geo_type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stateAbbr := c.Query("state")
	if stateAbbr != "" && !config.IsValidState(stateAbbr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown state: " + stateAbbr})
		return
	}

	var bucket *models.PopulationBucket
	if raw := c.Query("bucket"); raw != "" {
		parsed, err := models.ParsePopulationBucket(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		bucket = &parsed
	}

	direction := ranking.MostAffordableFirst
	if raw := c.Query("direction"); raw != "" {
		direction, err = ranking.ParseDirection(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	limitStr := c.DefaultQuery("limit", "25")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		limit = 25
	}

	ranked, err := h.engine.TopEntities(geoType, stateAbbr, bucket, direction, limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get rankings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get rankings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"geo_type":  geoType,
		"state":     stateAbbr,
		"direction": direction,
		"results":   ranked,
	})
}

// GetEntityRank positions one entity inside its peer population.
func (h *Handler) GetEntityRank(c *gin.Context) {
	geoType, ok := h.parseGeoType(c)
	if !ok {
		return
	}
	id := c.Param("id")

	scope := ranking.ScopeState
	if raw := c.DefaultQuery("scope", "state"); raw == "national" {
		scope = ranking.ScopeNational
	} else if raw != "state" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope must be state or national"})
		return
	}

	rank, err := h.engine.RankWithinPeers(geoType, id, scope)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get peer rank")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get peer rank"})
		return
	}
	if rank == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown entity or no affordability data"})
		return
	}

	c.JSON(http.StatusOK, rank)
}

// GetAlternatives returns nearby better or worse scoring peers.
func (h *Handler) GetAlternatives(c *gin.Context) {
	geoType, ok := h.parseGeoType(c)
	if !ok {
		return
	}
	id := c.Param("id")

	var (
		alternatives []ranking.Alternative
		err          error
	)
	switch c.DefaultQuery("direction", "better") {
	case "better":
		alternatives, err = h.engine.NearbyBetter(geoType, id)
	case "worse":
		alternatives, err = h.engine.NearbyWorse(geoType, id)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be better or worse"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to get alternatives")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get alternatives"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": alternatives})
}

// SearchEntities matches places by name or slug prefix. Hits are cached
// briefly since the entity table only changes on ingest.
func (h *Handler) SearchEntities(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if len(query) < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q must be at least 2 characters"})
		return
	}

	limitStr := c.DefaultQuery("limit", "10")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 || limit > 50 {
		limit = 10
	}

	key := fmt.Sprintf("search:%s:%d", strings.ToLower(query), limit)
	ttl := time.Duration(h.cfg.Cache.SearchTTL) * time.Second
	results, err := h.cache.GetOrCompute(key, ttl, func() (interface{}, error) {
		return h.db.SearchEntities(query, limit)
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to search entities")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to search entities"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

// IngestRefreshBatch validates a refresh batch and queues it for the
// batch processors.
func (h *Handler) IngestRefreshBatch(c *gin.Context) {
	var batch models.RefreshBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		h.logger.WithError(err).Error("Failed to parse refresh batch")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid batch payload"})
		return
	}

	if batch.Size() == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Batch is empty"})
		return
	}
	if batch.Size() > h.cfg.Refresh.MaxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Batch exceeds maximum size",
			"max":   h.cfg.Refresh.MaxBatchSize,
		})
		return
	}

	for _, s := range batch.Snapshots {
		if _, err := models.ParseGeoType(string(s.GeoType)); err != nil || s.GeoID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid snapshot row"})
			return
		}
	}
	for _, s := range batch.Composites {
		if _, err := models.ParseGeoType(string(s.GeoType)); err != nil || s.GeoID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid composite row"})
			return
		}
	}

	if err := h.queue.Push(&batch); err != nil {
		h.logger.WithError(err).Error("Failed to queue refresh batch")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":     "queued",
		"batch_size": batch.Size(),
	})
}

// GetCacheStats exposes cache counters and queue depth for monitoring.
func (h *Handler) GetCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"cache":       h.cache.GetStats(),
		"queue_depth": h.queue.Len(),
	})
}

// RunCoordinateBackfill triggers a coordinate backfill run.
func (h *Handler) RunCoordinateBackfill(c *gin.Context) {
	updated, err := h.backfill()
	if err != nil {
		h.logger.WithError(err).Error("Failed to run coordinate backfill")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to run coordinate backfill"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": updated})
}
