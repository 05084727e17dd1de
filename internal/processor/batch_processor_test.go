package processor

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"affordmap/server/config"
	"affordmap/server/internal/cache"
	"affordmap/server/internal/database"
	"affordmap/server/internal/loader"
	"affordmap/server/internal/models"
	"affordmap/server/internal/queue"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := database.NewTestDB()
	require.NoError(t, err)

	err = database.MigrateSchema(db)
	require.NoError(t, err)

	return db
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Refresh.ProcessorCount = 2
	cfg.Refresh.MaxRetries = 1
	cfg.Refresh.RetryDelay = 0
	cfg.Refresh.QueueSize = 10
	return cfg
}

func f(v float64) *float64 {
	return &v
}

func TestNewBatchProcessor(t *testing.T) {
	db := setupTestDB(t)
	store := cache.NewStore(time.Hour)
	refreshQueue := queue.NewRefreshQueue(10, logrus.New())
	cfg := testConfig()
	logger := logrus.New()

	processor := NewBatchProcessor(db, store, refreshQueue, cfg, logger)

	assert.NotNil(t, processor)
	assert.Equal(t, db, processor.db)
	assert.Equal(t, refreshQueue, processor.queue)
	assert.Equal(t, cfg, processor.config)
	assert.Equal(t, logger, processor.logger)
}

func TestBatchProcessor_ProcessBatch(t *testing.T) {
	db := setupTestDB(t)
	store := cache.NewStore(time.Hour)
	logger := logrus.New()
	refreshQueue := queue.NewRefreshQueue(10, logger)
	processor := NewBatchProcessor(db, store, refreshQueue, testConfig(), logger)

	// Seed cache entries the batch must invalidate
	store.Set(loader.SnapshotKey(models.GeoTypeZCTA, "30301"), "stale", time.Hour)
	store.Set("rank:ZCTA:GA:all:most_affordable", "stale", time.Hour)
	store.Set("rank:CITY:GA:all:most_affordable", "untouched", time.Hour)

	batch := &models.RefreshBatch{
		Snapshots: []*models.MetricSnapshot{
			{
				GeoType:      models.GeoTypeZCTA,
				GeoID:        "30301",
				HomeValue:    f(350000),
				MedianIncome: f(70000),
				Ratio:        f(5.0),
				AsOfDate:     time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
			},
		},
		Composites: []*models.CompositeScore{
			{GeoType: models.GeoTypeZCTA, GeoID: "30301", Composite: 72.4},
		},
	}

	err := processor.ProcessBatch(batch)
	require.NoError(t, err)

	// Verify rows were stored
	var snapshotCount, compositeCount int64
	db.Table("metric_snapshot").Where("geo_id = ?", "30301").Count(&snapshotCount)
	db.Table("composite_score").Where("geo_id = ?", "30301").Count(&compositeCount)
	assert.Equal(t, int64(1), snapshotCount)
	assert.Equal(t, int64(1), compositeCount)

	// Verify cache invalidation
	_, ok := store.Get(loader.SnapshotKey(models.GeoTypeZCTA, "30301"))
	assert.False(t, ok, "stale snapshot entry must be dropped")
	_, ok = store.Get("rank:ZCTA:GA:all:most_affordable")
	assert.False(t, ok, "ranked lists for the batch's geo type must be dropped")
	_, ok = store.Get("rank:CITY:GA:all:most_affordable")
	assert.True(t, ok, "other geo types keep their ranked lists")

	batches, rows, failed := processor.Stats()
	assert.Equal(t, 1, batches)
	assert.Equal(t, 2, rows)
	assert.Equal(t, 0, failed)
}

func TestBatchProcessor_ProcessBatch_Upsert(t *testing.T) {
	db := setupTestDB(t)
	store := cache.NewStore(time.Hour)
	logger := logrus.New()
	refreshQueue := queue.NewRefreshQueue(10, logger)
	processor := NewBatchProcessor(db, store, refreshQueue, testConfig(), logger)

	build := func(ratio float64) *models.RefreshBatch {
		return &models.RefreshBatch{
			Snapshots: []*models.MetricSnapshot{
				{
					GeoType:  models.GeoTypeCity,
					GeoID:    "portland-or",
					Ratio:    f(ratio),
					AsOfDate: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
				},
			},
		}
	}

	require.NoError(t, processor.ProcessBatch(build(4.0)))
	require.NoError(t, processor.ProcessBatch(build(4.5)))

	// Same key twice stays one row with the newer value
	var count int64
	db.Table("metric_snapshot").Where("geo_id = ?", "portland-or").Count(&count)
	assert.Equal(t, int64(1), count)

	var ratio float64
	db.Table("metric_snapshot").Where("geo_id = ?", "portland-or").Select("ratio").Scan(&ratio)
	assert.InDelta(t, 4.5, ratio, 0.0001)
}

func TestBatchProcessor_ProcessBatch_RetryFailure(t *testing.T) {
	db := setupTestDB(t)
	store := cache.NewStore(time.Hour)
	logger := logrus.New()
	refreshQueue := queue.NewRefreshQueue(10, logger)
	processor := NewBatchProcessor(db, store, refreshQueue, testConfig(), logger)

	// Force every transaction to fail
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	batch := &models.RefreshBatch{
		Snapshots: []*models.MetricSnapshot{
			{GeoType: models.GeoTypeCity, GeoID: "x", AsOfDate: time.Now()},
		},
	}

	err = processor.ProcessBatch(batch)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to process batch after 1 attempts")

	_, _, failed := processor.Stats()
	assert.Equal(t, 1, failed)
}

func TestBatchProcessor_QueueIntegration(t *testing.T) {
	db := setupTestDB(t)
	store := cache.NewStore(time.Hour)
	logger := logrus.New()
	refreshQueue := queue.NewRefreshQueue(10, logger)
	processor := NewBatchProcessor(db, store, refreshQueue, testConfig(), logger)

	processor.Start()
	refreshQueue.Start()

	batch := &models.RefreshBatch{
		Snapshots: []*models.MetricSnapshot{
			{
				GeoType:  models.GeoTypePlace,
				GeoID:    "4805000",
				Ratio:    f(3.2),
				AsOfDate: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
			},
		},
	}
	require.NoError(t, refreshQueue.Push(batch))

	// Allow time for processing
	time.Sleep(500 * time.Millisecond)
	require.NoError(t, refreshQueue.Close())

	var count int64
	db.Table("metric_snapshot").Where("geo_id = ?", "4805000").Count(&count)
	assert.Equal(t, int64(1), count)

	// Two workers share the queue but the batch is written once
	batches, rows, failed := processor.Stats()
	assert.Equal(t, 1, batches)
	assert.Equal(t, 1, rows)
	assert.Equal(t, 0, failed)
}

func TestBatchProcessor_PushBeforeStartIsProcessed(t *testing.T) {
	db := setupTestDB(t)
	store := cache.NewStore(time.Hour)
	logger := logrus.New()
	refreshQueue := queue.NewRefreshQueue(10, logger)
	processor := NewBatchProcessor(db, store, refreshQueue, testConfig(), logger)

	batch := &models.RefreshBatch{
		Snapshots: []*models.MetricSnapshot{
			{
				GeoType:  models.GeoTypeCity,
				GeoID:    "ann-arbor-mi",
				Ratio:    f(2.8),
				AsOfDate: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
			},
		},
	}
	require.NoError(t, refreshQueue.Push(batch))

	processor.Start()
	refreshQueue.Start()

	time.Sleep(500 * time.Millisecond)
	require.NoError(t, refreshQueue.Close())

	batches, _, _ := processor.Stats()
	assert.Equal(t, 1, batches)

	var count int64
	db.Table("metric_snapshot").Where("geo_id = ?", "ann-arbor-mi").Count(&count)
	assert.Equal(t, int64(1), count)
}
