package processor

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"affordmap/server/config"
	"affordmap/server/internal/cache"
	"affordmap/server/internal/database"
	"affordmap/server/internal/loader"
	"affordmap/server/internal/models"
	"affordmap/server/internal/queue"
)

// BatchProcessor drains the refresh queue into the database and keeps
// the cache consistent with what it wrote.
type BatchProcessor struct {
	db     *gorm.DB
	cache  *cache.Store
	logger *logrus.Logger
	config *config.Config
	queue  *queue.RefreshQueue

	batchesProcessed atomic.Int64
	rowsWritten      atomic.Int64
	batchesFailed    atomic.Int64
}

// NewBatchProcessor creates a new batch processor instance
func NewBatchProcessor(db *gorm.DB, cacheStore *cache.Store, refreshQueue *queue.RefreshQueue, cfg *config.Config, logger *logrus.Logger) *BatchProcessor {
	return &BatchProcessor{
		db:     db,
		cache:  cacheStore,
		queue:  refreshQueue,
		config: cfg,
		logger: logger,
	}
}

// Start registers one queue worker per configured processor. Each
// pushed batch reaches exactly one of them. Must run before the queue
// starts; the queue's Close drains the workers on shutdown.
func (p *BatchProcessor) Start() {
	for i := 0; i < p.config.Refresh.ProcessorCount; i++ {
		p.queue.Subscribe(func(batch *models.RefreshBatch) error {
			return p.ProcessBatch(batch)
		})
	}
}

// ProcessBatch writes one refresh batch inside a transaction with retry
// logic, then drops every cache entry the new rows make stale.
func (p *BatchProcessor) ProcessBatch(batch *models.RefreshBatch) error {
	var err error
	for attempt := 0; attempt <= p.config.Refresh.MaxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Infof("Retrying batch processing, attempt %d of %d", attempt, p.config.Refresh.MaxRetries)
			time.Sleep(time.Duration(p.config.Refresh.RetryDelay) * time.Second)
		}

		err = p.db.Transaction(func(tx *gorm.DB) error {
			if err := database.UpsertSnapshots(tx, batch.Snapshots); err != nil {
				return fmt.Errorf("failed to upsert snapshot batch: %w", err)
			}
			if err := database.UpsertComposites(tx, batch.Composites); err != nil {
				return fmt.Errorf("failed to upsert composite batch: %w", err)
			}
			return nil
		})

		if err == nil {
			p.invalidate(batch)
			p.batchesProcessed.Add(1)
			p.rowsWritten.Add(int64(batch.Size()))
			p.logger.Infof("Successfully processed batch of %d rows", batch.Size())
			return nil
		}

		p.logger.Errorf("Batch processing failed: %v", err)
	}

	p.batchesFailed.Add(1)
	return fmt.Errorf("failed to process batch after %d attempts: %w", p.config.Refresh.MaxRetries, err)
}

// Stats returns the counters accumulated since the last reset.
func (p *BatchProcessor) Stats() (batches, rows, failed int) {
	return int(p.batchesProcessed.Load()), int(p.rowsWritten.Load()), int(p.batchesFailed.Load())
}

// ResetStats zeroes the counters, typically after a summary was sent.
func (p *BatchProcessor) ResetStats() {
	p.batchesProcessed.Store(0)
	p.rowsWritten.Store(0)
	p.batchesFailed.Store(0)
}

// invalidate drops the per-entity snapshot entries the batch replaced
// and every ranked list for the affected geo types.
func (p *BatchProcessor) invalidate(batch *models.RefreshBatch) {
	geoTypes := make(map[models.GeoType]struct{})

	for _, s := range batch.Snapshots {
		geoTypes[s.GeoType] = struct{}{}
		p.cache.Delete(loader.SnapshotKey(s.GeoType, s.GeoID))
	}
	for _, c := range batch.Composites {
		geoTypes[c.GeoType] = struct{}{}
		p.cache.Delete(loader.SnapshotKey(c.GeoType, c.GeoID))
	}

	removed := 0
	for geoType := range geoTypes {
		removed += p.cache.InvalidatePattern(fmt.Sprintf("rank:%s:*", geoType))
	}

	p.logger.WithFields(logrus.Fields{
		"batch_size":   batch.Size(),
		"ranked_lists": removed,
	}).Debug("Invalidated cache entries for batch")
}
