package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"affordmap/server/config"
	"affordmap/server/internal/api"
	"affordmap/server/internal/cache"
	"affordmap/server/internal/database"
	"affordmap/server/internal/geocoding"
	"affordmap/server/internal/loader"
	"affordmap/server/internal/notify"
	"affordmap/server/internal/processor"
	"affordmap/server/internal/queue"
	"affordmap/server/internal/ranking"
	"affordmap/server/internal/scheduler"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	logger.Infof("Using database at: %s", cfg.DatabasePath)

	// Initialize the read-path database
	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	// Run database migrations
	logger.Info("Running database migrations...")
	if err := db.RunMigrations(); err != nil {
		logger.WithError(err).Fatal("Failed to run database migrations")
	}

	// Open the transactional write path for the refresh pipeline
	gormDB, err := database.OpenGorm(cfg.DatabasePath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open write-path database")
	}

	// Cache and batch loading
	store := cache.NewStore(time.Duration(cfg.Cache.RankedListTTL) * time.Second)
	geographyTTL := time.Duration(cfg.Cache.GeographyTTL) * time.Second
	batchLoader := loader.NewBatchLoader(store, db, db, geographyTTL, logger)

	rankedTTL := time.Duration(cfg.Cache.RankedListTTL) * time.Second
	engine := ranking.NewEngine(batchLoader, db, db, store, rankedTTL, logger)

	// Refresh pipeline
	refreshQueue := queue.NewRefreshQueue(cfg.Refresh.QueueSize, logger)
	batchProcessor := processor.NewBatchProcessor(gormDB, store, refreshQueue, cfg, logger)
	batchProcessor.Start()
	refreshQueue.Start()

	// Coordinate backfill
	cacheDir := filepath.Join(os.TempDir(), "affordmap", "centroid_cache")
	geocoder := geocoding.NewGeocoder(logger, cacheDir, time.Duration(cfg.Geocoding.LookupDelay)*time.Second)
	backfill := func() (int, error) {
		return geocoder.BackfillMissing(db, cfg.Geocoding.MaxPerRun)
	}

	// Nightly refresh notifications
	notifier := notify.NewService(logger, cfg.Notify.BotToken, cfg.Notify.ChatID)
	if !notifier.Enabled() {
		logger.Info("Refresh notifications disabled, no bot token configured")
	}

	// Scheduler for startup backfill, nightly refresh and cache sweeps
	jobScheduler := scheduler.NewScheduler(store, backfill, batchProcessor, notifier, cfg.Refresh.NightlyHour, logger)
	jobScheduler.Start()

	// HTTP surface
	handler := api.NewHandler(db, engine, store, refreshQueue, backfill, cfg, logger)

	router := gin.Default()
	router.Use(cors.Default())
	api.SetupRoutes(router, handler)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		logger.Infof("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	// Wait for an interrupt, then drain everything in order
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}

	jobScheduler.Stop()
	refreshQueue.Close()
	logger.Info("Shutdown complete")
}
