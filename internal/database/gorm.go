package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenGorm opens the transactional write-path handle on the same SQLite
// file the read path uses. Reads stay on database/sql; only the refresh
// pipeline's upserts go through here.
func OpenGorm(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open write-path database: %w", err)
	}
	return db, nil
}

// MigrateSchema creates the tables the refresh pipeline writes.
func MigrateSchema(db *gorm.DB) error {
	return db.AutoMigrate(&snapshotRow{}, &compositeRow{})
}

// NewTestDB opens a shared in-memory database for tests.
func NewTestDB() (*gorm.DB, error) {
	return gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
}
