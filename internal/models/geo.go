package models

import "fmt"

// GeoType identifies the kind of geography an entity describes.
type GeoType string

const (
	GeoTypeCity  GeoType = "CITY"
	GeoTypeZCTA  GeoType = "ZCTA"
	GeoTypePlace GeoType = "PLACE"
)

// ParseGeoType validates a raw geo type string.
func ParseGeoType(s string) (GeoType, error) {
	switch GeoType(s) {
	case GeoTypeCity, GeoTypeZCTA, GeoTypePlace:
		return GeoType(s), nil
	}
	return "", fmt.Errorf("unsupported geo type: %q", s)
}

// GeoEntity is immutable reference data for one geography. The core
// reads it from the geography table and never mutates it.
type GeoEntity struct {
	ID         string   `json:"id"`
	GeoType    GeoType  `json:"geo_type"`
	Name       string   `json:"name"`
	Slug       string   `json:"slug"`
	StateAbbr  string   `json:"state_abbr"`
	CountyFIPS *string  `json:"county_fips"`
	Population *int64   `json:"population"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
}

// HasCoordinates reports whether both coordinates are present.
func (e *GeoEntity) HasCoordinates() bool {
	return e.Latitude != nil && e.Longitude != nil
}

// PopulationBucket segments rankings by population size. Buckets are
// non-overlapping; entities with unknown population fall in no bucket.
type PopulationBucket string

const (
	BucketLargeCity PopulationBucket = "large_city" // >= 100k
	BucketMidSize   PopulationBucket = "mid_size"   // 50k - 99,999
	BucketSmallCity PopulationBucket = "small_city" // 10k - 49,999
	BucketTown      PopulationBucket = "town"       // 1,000 - 9,999
)

// ParsePopulationBucket validates a raw bucket name.
func ParsePopulationBucket(s string) (PopulationBucket, error) {
	switch PopulationBucket(s) {
	case BucketLargeCity, BucketMidSize, BucketSmallCity, BucketTown:
		return PopulationBucket(s), nil
	}
	return "", fmt.Errorf("unsupported population bucket: %q", s)
}

// Contains reports whether a (possibly unknown) population falls in
// the bucket. Unknown populations are always excluded.
func (b PopulationBucket) Contains(population *int64) bool {
	if population == nil {
		return false
	}
	p := *population
	switch b {
	case BucketLargeCity:
		return p >= 100000
	case BucketMidSize:
		return p >= 50000 && p < 100000
	case BucketSmallCity:
		return p >= 10000 && p < 50000
	case BucketTown:
		return p >= 1000 && p < 10000
	}
	return false
}
