package database

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"affordmap/server/internal/models"
)

// snapshotRow mirrors the metric_snapshot table for the GORM write path.
type snapshotRow struct {
	GeoType      string   `gorm:"column:geo_type;primaryKey"`
	GeoID        string   `gorm:"column:geo_id;primaryKey"`
	AsOfDate     string   `gorm:"column:as_of_date;primaryKey"`
	HomeValue    *float64 `gorm:"column:home_value"`
	MedianIncome *float64 `gorm:"column:median_income"`
	Ratio        *float64 `gorm:"column:ratio"`
}

func (snapshotRow) TableName() string {
	return "metric_snapshot"
}

type compositeRow struct {
	GeoType         string   `gorm:"column:geo_type;primaryKey"`
	GeoID           string   `gorm:"column:geo_id;primaryKey"`
	HousingScore    *float64 `gorm:"column:housing_score"`
	EssentialsScore *float64 `gorm:"column:essentials_score"`
	TaxScore        *float64 `gorm:"column:tax_score"`
	QualityScore    *float64 `gorm:"column:quality_score"`
	Composite       float64  `gorm:"column:composite"`
}

func (compositeRow) TableName() string {
	return "composite_score"
}

// UpsertSnapshots writes a batch of metric snapshots, replacing any
// existing row for the same (geo_type, geo_id, as_of_date).
func UpsertSnapshots(tx *gorm.DB, snapshots []*models.MetricSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	rows := make([]snapshotRow, 0, len(snapshots))
	for _, s := range snapshots {
		rows = append(rows, snapshotRow{
			GeoType:      string(s.GeoType),
			GeoID:        s.GeoID,
			AsOfDate:     s.AsOfDate.Format("2006-01-02"),
			HomeValue:    s.HomeValue,
			MedianIncome: s.MedianIncome,
			Ratio:        s.Ratio,
		})
	}

	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "geo_type"}, {Name: "geo_id"}, {Name: "as_of_date"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"home_value", "median_income", "ratio"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to upsert snapshots: %w", err)
	}
	return nil
}

// UpsertComposites writes a batch of composite score rows, one per
// entity, replacing existing rows.
func UpsertComposites(tx *gorm.DB, scores []*models.CompositeScore) error {
	if len(scores) == 0 {
		return nil
	}

	rows := make([]compositeRow, 0, len(scores))
	for _, c := range scores {
		rows = append(rows, compositeRow{
			GeoType:         string(c.GeoType),
			GeoID:           c.GeoID,
			HousingScore:    c.HousingScore,
			EssentialsScore: c.EssentialsScore,
			TaxScore:        c.TaxScore,
			QualityScore:    c.QualityScore,
			Composite:       c.Composite,
		})
	}

	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "geo_type"}, {Name: "geo_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"housing_score", "essentials_score", "tax_score", "quality_score", "composite",
		}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to upsert composite scores: %w", err)
	}
	return nil
}
