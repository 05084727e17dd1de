package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"affordmap/server/internal/models"
)

type Database struct {
	db *sql.DB
}

func NewDatabase(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys
	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) GetDB() *sql.DB {
	return d.db
}

// placeholders builds a "?, ?, ?" list for a dynamic IN clause.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// LatestSnapshots returns the most recent metric snapshot for each of
// the given IDs in a single query. IDs with no snapshot are simply
// absent from the result.
func (d *Database) LatestSnapshots(geoType models.GeoType, ids []string) ([]models.MetricSnapshot, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
        SELECT ms.geo_type, ms.geo_id, ms.home_value, ms.median_income, ms.ratio, ms.as_of_date
        FROM metric_snapshot ms
        WHERE ms.geo_type = ?
        AND ms.geo_id IN (%s)
        AND ms.as_of_date = (
            SELECT MAX(as_of_date)
            FROM metric_snapshot
            WHERE geo_type = ms.geo_type AND geo_id = ms.geo_id
        )
    `, placeholders(len(ids)))

	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, string(geoType))
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []models.MetricSnapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, rows.Err()
}

// LatestSnapshot returns the most recent snapshot for one entity, or
// nil when the entity has no metric data.
func (d *Database) LatestSnapshot(geoType models.GeoType, id string) (*models.MetricSnapshot, error) {
	snapshots, err := d.LatestSnapshots(geoType, []string{id})
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, nil
	}
	return &snapshots[0], nil
}

func scanSnapshot(rows *sql.Rows) (models.MetricSnapshot, error) {
	var s models.MetricSnapshot
	var geoType string
	var homeValue, income, ratio sql.NullFloat64
	var asOfDate string

	err := rows.Scan(&geoType, &s.GeoID, &homeValue, &income, &ratio, &asOfDate)
	if err != nil {
		return s, err
	}

	s.GeoType = models.GeoType(geoType)
	if homeValue.Valid {
		v := homeValue.Float64
		s.HomeValue = &v
	}
	if income.Valid {
		v := income.Float64
		s.MedianIncome = &v
	}
	if ratio.Valid {
		v := ratio.Float64
		s.Ratio = &v
	}
	if asOfDate != "" {
		if t, err := time.Parse("2006-01-02", asOfDate); err == nil {
			s.AsOfDate = t
		}
	}
	return s, nil
}

// CompositeScores returns the precomputed composite rows for the given
// IDs in a single query. Entities without a composite are absent.
func (d *Database) CompositeScores(geoType models.GeoType, ids []string) ([]models.CompositeScore, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
        SELECT geo_type, geo_id, housing_score, essentials_score, tax_score, quality_score, composite
        FROM composite_score
        WHERE geo_type = ?
        AND geo_id IN (%s)
    `, placeholders(len(ids)))

	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, string(geoType))
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []models.CompositeScore
	for rows.Next() {
		var c models.CompositeScore
		var geoTypeStr string
		var housing, essentials, tax, quality sql.NullFloat64

		err := rows.Scan(&geoTypeStr, &c.GeoID, &housing, &essentials, &tax, &quality, &c.Composite)
		if err != nil {
			return nil, err
		}

		c.GeoType = models.GeoType(geoTypeStr)
		if housing.Valid {
			v := housing.Float64
			c.HousingScore = &v
		}
		if essentials.Valid {
			v := essentials.Float64
			c.EssentialsScore = &v
		}
		if tax.Valid {
			v := tax.Float64
			c.TaxScore = &v
		}
		if quality.Valid {
			v := quality.Float64
			c.QualityScore = &v
		}
		scores = append(scores, c)
	}
	return scores, rows.Err()
}

// CompositeScore returns one composite row, or nil when none exists.
func (d *Database) CompositeScore(geoType models.GeoType, id string) (*models.CompositeScore, error) {
	scores, err := d.CompositeScores(geoType, []string{id})
	if err != nil {
		return nil, err
	}
	if len(scores) == 0 {
		return nil, nil
	}
	return &scores[0], nil
}

// RatioPercentile returns the affordability percentile of an entity's
// latest ratio among its peers, where a higher percentile means more
// affordable (lower ratio). Scope is a state abbreviation, or empty for
// the national population. Returns nil when the entity has no ratio.
func (d *Database) RatioPercentile(geoType models.GeoType, stateAbbr string, id string) (*float64, error) {
	query := `
        WITH latest AS (
            SELECT ms.geo_id, ms.ratio
            FROM metric_snapshot ms
            JOIN geo_entity ge ON ge.geo_type = ms.geo_type AND ge.geo_id = ms.geo_id
            WHERE ms.geo_type = ?
            AND ms.ratio IS NOT NULL
            AND (? = '' OR ge.state_abbr = ?)
            AND ms.as_of_date = (
                SELECT MAX(as_of_date)
                FROM metric_snapshot
                WHERE geo_type = ms.geo_type AND geo_id = ms.geo_id
            )
        )
        SELECT
            100.0 * SUM(CASE WHEN peer.ratio > target.ratio THEN 1 ELSE 0 END) / COUNT(*)
        FROM latest peer, (SELECT ratio FROM latest WHERE geo_id = ?) target
    `

	var percentile sql.NullFloat64
	err := d.db.QueryRow(query, string(geoType), stateAbbr, stateAbbr, id).Scan(&percentile)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !percentile.Valid {
		return nil, nil
	}
	return &percentile.Float64, nil
}

// BasketTotal returns the annual cost-of-living basket total for a
// county, or nil when no basket data exists.
func (d *Database) BasketTotal(countyFIPS string) (*float64, error) {
	var total sql.NullFloat64
	err := d.db.QueryRow(`
        SELECT basket_total FROM cost_basket WHERE county_fips = ?
    `, countyFIPS).Scan(&total)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !total.Valid {
		return nil, nil
	}
	return &total.Float64, nil
}

// DisposableIncomeSample returns income minus basket total for every
// entity of the given type that has both a latest income and county
// basket data. Used to rank one entity's disposable income.
func (d *Database) DisposableIncomeSample(geoType models.GeoType) ([]float64, error) {
	rows, err := d.db.Query(`
        SELECT ms.median_income - cb.basket_total
        FROM metric_snapshot ms
        JOIN geo_entity ge ON ge.geo_type = ms.geo_type AND ge.geo_id = ms.geo_id
        JOIN cost_basket cb ON cb.county_fips = ge.county_fips
        WHERE ms.geo_type = ?
        AND ms.median_income IS NOT NULL
        AND ms.as_of_date = (
            SELECT MAX(as_of_date)
            FROM metric_snapshot
            WHERE geo_type = ms.geo_type AND geo_id = ms.geo_id
        )
    `, string(geoType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sample []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		sample = append(sample, v)
	}
	return sample, rows.Err()
}

// GetEntity returns one geography entity, or nil when unknown.
func (d *Database) GetEntity(geoType models.GeoType, id string) (*models.GeoEntity, error) {
	rows, err := d.db.Query(entitySelect+`
        WHERE geo_type = ? AND geo_id = ?
    `, string(geoType), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	entity, err := scanEntity(rows)
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// GetEntitiesByState returns all entities of a type within one state.
func (d *Database) GetEntitiesByState(geoType models.GeoType, stateAbbr string) ([]models.GeoEntity, error) {
	rows, err := d.db.Query(entitySelect+`
        WHERE geo_type = ? AND state_abbr = ?
    `, string(geoType), stateAbbr)
	if err != nil {
		return nil, err
	}
	return collectEntities(rows)
}

// GetEntitiesByType returns the national population of one geo type.
func (d *Database) GetEntitiesByType(geoType models.GeoType) ([]models.GeoEntity, error) {
	rows, err := d.db.Query(entitySelect+`
        WHERE geo_type = ?
    `, string(geoType))
	if err != nil {
		return nil, err
	}
	return collectEntities(rows)
}

// SearchEntities matches entities whose name or slug starts with the
// query, most populous first.
func (d *Database) SearchEntities(query string, limit int) ([]models.GeoEntity, error) {
	pattern := query + "%"
	rows, err := d.db.Query(entitySelect+`
        WHERE name LIKE ? OR slug LIKE ?
        ORDER BY population DESC
        LIMIT ?
    `, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	return collectEntities(rows)
}

// EntitiesMissingCoordinates returns ZCTA entities with no centroid,
// feeding the coordinate backfill.
func (d *Database) EntitiesMissingCoordinates(limit int) ([]models.GeoEntity, error) {
	rows, err := d.db.Query(entitySelect+`
        WHERE geo_type = 'ZCTA'
        AND (latitude IS NULL OR longitude IS NULL)
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, err
	}
	return collectEntities(rows)
}

// UpdateEntityCoordinates writes a backfilled centroid.
func (d *Database) UpdateEntityCoordinates(geoType models.GeoType, id string, lat, lon float64) error {
	_, err := d.db.Exec(`
        UPDATE geo_entity SET latitude = ?, longitude = ?
        WHERE geo_type = ? AND geo_id = ?
    `, lat, lon, string(geoType), id)
	return err
}

const entitySelect = `
        SELECT geo_type, geo_id, name, slug, state_abbr, county_fips, population, latitude, longitude
        FROM geo_entity
`

func collectEntities(rows *sql.Rows) ([]models.GeoEntity, error) {
	defer rows.Close()

	var entities []models.GeoEntity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

func scanEntity(rows *sql.Rows) (models.GeoEntity, error) {
	var e models.GeoEntity
	var geoType string
	var countyFIPS sql.NullString
	var population sql.NullInt64
	var latitude, longitude sql.NullFloat64

	err := rows.Scan(&geoType, &e.ID, &e.Name, &e.Slug, &e.StateAbbr,
		&countyFIPS, &population, &latitude, &longitude)
	if err != nil {
		return e, err
	}

	e.GeoType = models.GeoType(geoType)
	if countyFIPS.Valid {
		v := countyFIPS.String
		e.CountyFIPS = &v
	}
	if population.Valid {
		v := population.Int64
		e.Population = &v
	}
	if latitude.Valid {
		v := latitude.Float64
		e.Latitude = &v
	}
	if longitude.Valid {
		v := longitude.Float64
		e.Longitude = &v
	}
	return e, nil
}
