package scheduler

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"affordmap/server/internal/cache"
)

// JobType represents the different maintenance jobs
type JobType int

const (
	JobTypeBackfill JobType = iota
	JobTypeNightly
	JobTypeSweep
)

// String returns the string representation of a JobType
func (j JobType) String() string {
	switch j {
	case JobTypeBackfill:
		return "backfill"
	case JobTypeNightly:
		return "nightly"
	case JobTypeSweep:
		return "sweep"
	default:
		return "unknown"
	}
}

// StatsSource reports the refresh work done since the last reset.
type StatsSource interface {
	Stats() (batches, rows, failed int)
	ResetStats()
}

// Notifier pushes the nightly refresh summary somewhere visible.
type Notifier interface {
	NotifyRefreshComplete(batches, rows, failures int, elapsed time.Duration) error
}

// Scheduler drives the periodic maintenance jobs: a coordinate backfill
// on startup and each night, a nightly ranked-list invalidation, and an
// hourly sweep of expired cache entries
type Scheduler struct {
	cache        *cache.Store
	backfill     func() (int, error)
	stats        StatsSource
	notifier     Notifier
	nightlyHour  int
	logger       *logrus.Logger
	stopChan     chan struct{}
	wg           sync.WaitGroup
	jobMutex     sync.Mutex  // Ensures sequential job execution
	isStartupRun atomic.Bool // Tracks whether we're in startup run
	lastNightly  time.Time
}

// NewScheduler creates a new scheduler
func NewScheduler(cacheStore *cache.Store, backfill func() (int, error), stats StatsSource, notifier Notifier, nightlyHour int, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
		logger.SetLevel(logrus.InfoLevel)
	}

	s := &Scheduler{
		cache:       cacheStore,
		backfill:    backfill,
		stats:       stats,
		notifier:    notifier,
		nightlyHour: nightlyHour,
		logger:      logger,
		stopChan:    make(chan struct{}),
		lastNightly: time.Now(),
	}
	s.isStartupRun.Store(true) // Initialize as true for startup
	return s
}

// Start begins the scheduled tasks
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.runScheduler()
}

// runScheduler handles all scheduled tasks
func (s *Scheduler) runScheduler() {
	defer s.wg.Done()

	// Run the startup backfill in a separate goroutine
	go func() {
		s.jobMutex.Lock()
		defer s.jobMutex.Unlock()
		s.logger.Info("Running startup coordinate backfill")
		s.runBackfill()
		s.isStartupRun.Store(false) // Mark startup as complete
		s.logger.Info("Startup coordinate backfill completed")
	}()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case t := <-ticker.C:
			s.executeScheduledJobs(t)
		}
	}
}

// executeScheduledJobs runs all jobs that are scheduled for the given time
func (s *Scheduler) executeScheduledJobs(t time.Time) {
	// Skip if we're still running startup jobs
	if s.isStartupRun.Load() {
		s.logger.Debug("Skipping scheduled jobs while startup is in progress")
		return
	}

	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()

	s.logger.WithFields(logrus.Fields{
		"hour":   t.Hour(),
		"minute": t.Minute(),
	}).Debug("Checking scheduled jobs")

	// Check if it's time for the nightly refresh
	if t.Hour() == s.nightlyHour && t.Minute() == 0 {
		s.logger.WithField("job_type", JobTypeNightly.String()).Info("Starting nightly refresh job")
		s.runNightly(t)
		s.logger.WithField("job_type", JobTypeNightly.String()).Info("Completed nightly refresh job")
	}

	// Check if it's time for the cache sweep (every hour)
	if t.Minute() == 0 {
		s.logger.WithField("job_type", JobTypeSweep.String()).Info("Starting cache sweep job")
		s.runSweep()
		s.logger.WithField("job_type", JobTypeSweep.String()).Info("Completed cache sweep job")
	}
}

// runBackfill fills missing coordinates through the configured backfill
func (s *Scheduler) runBackfill() {
	if s.backfill == nil {
		return
	}

	updated, err := s.backfill()
	if err != nil {
		s.logger.WithError(err).WithField("job_type", JobTypeBackfill.String()).Error("Backfill job failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"job_type": JobTypeBackfill.String(),
		"updated":  updated,
	}).Info("Backfill job completed successfully")
}

// runNightly drops every ranked list so the next read recomputes from
// fresh data, reruns the coordinate backfill, and reports the refresh
// work accumulated since the previous night.
func (s *Scheduler) runNightly(t time.Time) {
	removed := s.cache.InvalidatePattern("rank:*")
	s.logger.WithFields(logrus.Fields{
		"job_type": JobTypeNightly.String(),
		"removed":  removed,
	}).Info("Invalidated ranked lists")

	s.runBackfill()

	if s.stats != nil && s.notifier != nil {
		batches, rows, failed := s.stats.Stats()
		elapsed := t.Sub(s.lastNightly)
		if err := s.notifier.NotifyRefreshComplete(batches, rows, failed, elapsed); err != nil {
			s.logger.WithError(err).Error("Failed to send nightly refresh summary")
		}
		s.stats.ResetStats()
	}
	s.lastNightly = t
}

// runSweep evicts expired cache entries and logs the store's counters
func (s *Scheduler) runSweep() {
	removed := s.cache.SweepExpired()
	stats := s.cache.GetStats()
	s.logger.WithFields(logrus.Fields{
		"job_type": JobTypeSweep.String(),
		"removed":  removed,
		"entries":  stats.Entries,
		"hit_rate": stats.HitRate,
	}).Info("Swept expired cache entries")
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}
