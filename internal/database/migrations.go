package database

import "fmt"

func (d *Database) RunMigrations() error {
	// Geography reference table
	_, err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS geo_entity (
			geo_type TEXT NOT NULL,
			geo_id TEXT NOT NULL,
			name TEXT NOT NULL,
			slug TEXT NOT NULL,
			state_abbr TEXT NOT NULL,
			county_fips TEXT,
			population INTEGER,
			latitude REAL,
			longitude REAL,
			PRIMARY KEY (geo_type, geo_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create geo_entity table: %v", err)
	}

	// Metric snapshots; one row per (geo_type, geo_id, as_of_date)
	_, err = d.db.Exec(`
		CREATE TABLE IF NOT EXISTS metric_snapshot (
			geo_type TEXT NOT NULL,
			geo_id TEXT NOT NULL,
			as_of_date TEXT NOT NULL,
			home_value REAL,
			median_income REAL,
			ratio REAL,
			PRIMARY KEY (geo_type, geo_id, as_of_date)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create metric_snapshot table: %v", err)
	}

	// Precomputed multi-factor composite scores
	_, err = d.db.Exec(`
		CREATE TABLE IF NOT EXISTS composite_score (
			geo_type TEXT NOT NULL,
			geo_id TEXT NOT NULL,
			housing_score REAL,
			essentials_score REAL,
			tax_score REAL,
			quality_score REAL,
			composite REAL NOT NULL,
			PRIMARY KEY (geo_type, geo_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create composite_score table: %v", err)
	}

	// County cost-of-living baskets
	_, err = d.db.Exec(`
		CREATE TABLE IF NOT EXISTS cost_basket (
			county_fips TEXT PRIMARY KEY,
			basket_total REAL NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create cost_basket table: %v", err)
	}

	// Index for the latest-snapshot-per-entity lookup
	_, err = d.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_metric_snapshot_latest
		ON metric_snapshot(geo_type, geo_id, as_of_date DESC);
	`)
	if err != nil {
		return err
	}

	// Index for state-scoped peer queries
	_, err = d.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_geo_entity_state
		ON geo_entity(geo_type, state_abbr);
	`)
	if err != nil {
		return err
	}

	return nil
}
