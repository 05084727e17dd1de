package geocoding

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"affordmap/server/internal/models"
)

// GeoStore is the slice of the geography store the backfill needs.
type GeoStore interface {
	EntitiesMissingCoordinates(limit int) ([]models.GeoEntity, error)
	UpdateEntityCoordinates(geoType models.GeoType, id string, lat, lon float64) error
}

type Geocoder struct {
	logger      *logrus.Logger
	cacheDir    string
	cache       map[string][]float64
	cacheLock   sync.RWMutex
	client      *http.Client
	lookupDelay time.Duration
}

func NewGeocoder(logger *logrus.Logger, cacheDir string, lookupDelay time.Duration) *Geocoder {
	// Create cache directory if it doesn't exist
	os.MkdirAll(cacheDir, 0755)

	g := &Geocoder{
		logger:      logger,
		cacheDir:    cacheDir,
		cache:       make(map[string][]float64),
		client:      &http.Client{Timeout: 10 * time.Second},
		lookupDelay: lookupDelay,
	}

	// Load cache from file
	g.loadCache()

	return g
}

func (g *Geocoder) loadCache() {
	cacheFile := filepath.Join(g.cacheDir, "centroid_cache.json")
	data, err := os.ReadFile(cacheFile)
	if err != nil {
		g.logger.Warnf("Could not load centroid cache: %v", err)
		return
	}

	err = json.Unmarshal(data, &g.cache)
	if err != nil {
		g.logger.Errorf("Failed to parse centroid cache: %v", err)
		return
	}

	g.logger.Infof("Loaded %d cached centroids", len(g.cache))
}

func (g *Geocoder) saveCache() {
	g.cacheLock.RLock()
	defer g.cacheLock.RUnlock()

	cacheFile := filepath.Join(g.cacheDir, "centroid_cache.json")
	data, err := json.Marshal(g.cache)
	if err != nil {
		g.logger.Errorf("Failed to marshal centroid cache: %v", err)
		return
	}

	err = os.WriteFile(cacheFile, data, 0644)
	if err != nil {
		g.logger.Errorf("Failed to save centroid cache: %v", err)
		return
	}

	g.logger.Info("Saved centroid cache to disk")
}

type postalResponse struct {
	Places []struct {
		Latitude  string `json:"latitude"`
		Longitude string `json:"longitude"`
	} `json:"places"`
}

// LookupCentroid resolves the centroid of a US ZIP code. Results are
// cached on disk so restarts do not repeat lookups.
func (g *Geocoder) LookupCentroid(zip string) (float64, float64, error) {
	// Check cache first
	g.cacheLock.RLock()
	if coords, ok := g.cache[zip]; ok {
		g.cacheLock.RUnlock()
		if len(coords) == 2 {
			g.logger.WithFields(logrus.Fields{
				"zip":       zip,
				"latitude":  coords[0],
				"longitude": coords[1],
				"source":    "cache",
			}).Debug("Found centroid in cache")
			return coords[0], coords[1], nil
		}
		return 0, 0, fmt.Errorf("invalid cached centroid for %s", zip)
	}
	g.cacheLock.RUnlock()

	// Respect the lookup service's usage policy
	time.Sleep(g.lookupDelay)

	req, err := http.NewRequest("GET", "https://api.zippopotam.us/us/"+zip, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("User-Agent", "AffordMap Coordinate Backfill/1.0")

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.WithError(err).WithField("zip", zip).Error("Centroid lookup failed")
		return 0, 0, fmt.Errorf("centroid lookup failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, 0, fmt.Errorf("no centroid found for ZIP: %s", zip)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("centroid lookup returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read response: %v", err)
	}

	var result postalResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, 0, fmt.Errorf("failed to parse response: %v", err)
	}

	if len(result.Places) == 0 {
		g.logger.WithField("zip", zip).Warn("No places in lookup response")
		return 0, 0, fmt.Errorf("no centroid found for ZIP: %s", zip)
	}

	lat, err := strconv.ParseFloat(result.Places[0].Latitude, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid latitude in response: %v", err)
	}
	lon, err := strconv.ParseFloat(result.Places[0].Longitude, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid longitude in response: %v", err)
	}

	g.logger.WithFields(logrus.Fields{
		"zip":       zip,
		"latitude":  lat,
		"longitude": lon,
		"source":    "lookup",
	}).Info("Resolved ZIP centroid")

	// Cache the result
	g.cacheLock.Lock()
	g.cache[zip] = []float64{lat, lon}
	g.cacheLock.Unlock()

	// Save cache periodically
	go g.saveCache()

	return lat, lon, nil
}

// BackfillMissing fills coordinates for ZCTA entities that have none,
// up to maxPerRun lookups. Individual lookup failures are logged and
// skipped; the run keeps going.
func (g *Geocoder) BackfillMissing(store GeoStore, maxPerRun int) (int, error) {
	entities, err := store.EntitiesMissingCoordinates(maxPerRun)
	if err != nil {
		return 0, fmt.Errorf("failed to list entities missing coordinates: %w", err)
	}

	updated := 0
	for _, entity := range entities {
		lat, lon, err := g.LookupCentroid(entity.ID)
		if err != nil {
			g.logger.WithError(err).WithField("geo_id", entity.ID).Warn("Skipping centroid backfill")
			continue
		}

		if err := store.UpdateEntityCoordinates(entity.GeoType, entity.ID, lat, lon); err != nil {
			g.logger.WithError(err).WithField("geo_id", entity.ID).Error("Failed to store centroid")
			continue
		}
		updated++
	}

	if len(entities) > 0 {
		g.logger.WithFields(logrus.Fields{
			"candidates": len(entities),
			"updated":    updated,
		}).Info("Coordinate backfill run complete")
	}
	return updated, nil
}
