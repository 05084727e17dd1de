package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"affordmap/server/config"
	"affordmap/server/internal/cache"
	"affordmap/server/internal/database"
	"affordmap/server/internal/loader"
	"affordmap/server/internal/queue"
	"affordmap/server/internal/ranking"
)

func setupRouter(t *testing.T) (*gin.Engine, *database.Database, *queue.RefreshQueue) {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()

	db, err := database.NewDatabase(":memory:")
	require.NoError(t, err)
	// A second connection would see its own empty in-memory database
	db.GetDB().SetMaxOpenConns(1)
	require.NoError(t, db.RunMigrations())
	t.Cleanup(func() { db.Close() })

	store := cache.NewStore(time.Hour)
	batchLoader := loader.NewBatchLoader(store, db, db, time.Hour, logger)
	engine := ranking.NewEngine(batchLoader, db, db, store, time.Hour, logger)
	refreshQueue := queue.NewRefreshQueue(10, logger)

	cfg := &config.Config{}
	cfg.Refresh.MaxBatchSize = 5
	cfg.Cache.SearchTTL = 300

	backfill := func() (int, error) { return 0, nil }
	handler := NewHandler(db, engine, store, refreshQueue, backfill, cfg, logger)

	router := gin.New()
	SetupRoutes(router, handler)
	return router, db, refreshQueue
}

func seedCity(t *testing.T, db *database.Database, id, state string, population int64, ratio float64) {
	_, err := db.GetDB().Exec(`
		INSERT INTO geo_entity (geo_type, geo_id, name, slug, state_abbr, population)
		VALUES ('CITY', ?, ?, ?, ?, ?)`,
		id, id, id, state, population)
	require.NoError(t, err)

	_, err = db.GetDB().Exec(`
		INSERT INTO metric_snapshot (geo_type, geo_id, as_of_date, home_value, median_income, ratio)
		VALUES ('CITY', ?, '2025-05-01', ?, 100000, ?)`,
		id, ratio*100000, ratio)
	require.NoError(t, err)
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestGetRankings(t *testing.T) {
	router, db, _ := setupRouter(t)
	seedCity(t, db, "cheapville", "MI", 120000, 2.5)
	seedCity(t, db, "priceytown", "MI", 120000, 6.0)

	w := get(router, "/api/rankings?geo_type=CITY&state=MI")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Results []struct {
			Entity struct {
				ID string `json:"id"`
			} `json:"entity"`
			Rank int `json:"rank"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Results, 2)
	assert.Equal(t, "cheapville", body.Results[0].Entity.ID)
	assert.Equal(t, 1, body.Results[0].Rank)
}

func TestGetRankings_InvalidInput(t *testing.T) {
	router, _, _ := setupRouter(t)

	assert.Equal(t, http.StatusBadRequest, get(router, "/api/rankings?geo_type=COUNTY").Code)
	assert.Equal(t, http.StatusBadRequest, get(router, "/api/rankings?geo_type=CITY&state=XX").Code)
	assert.Equal(t, http.StatusBadRequest, get(router, "/api/rankings?geo_type=CITY&bucket=megacity").Code)
	assert.Equal(t, http.StatusBadRequest, get(router, "/api/rankings?geo_type=CITY&direction=sideways").Code)
}

func TestGetRankings_BucketFilter(t *testing.T) {
	router, db, _ := setupRouter(t)
	seedCity(t, db, "metro", "OH", 250000, 4.0)
	seedCity(t, db, "village", "OH", 5000, 2.0)

	w := get(router, "/api/rankings?geo_type=CITY&state=OH&bucket=large_city")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Results []struct {
			Entity struct {
				ID string `json:"id"`
			} `json:"entity"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, "metro", body.Results[0].Entity.ID)
}

func TestGetEntityScore(t *testing.T) {
	router, db, _ := setupRouter(t)
	seedCity(t, db, "hometown", "WI", 40000, 3.0)
	seedCity(t, db, "peerburg", "WI", 40000, 5.0)

	w := get(router, "/api/entities/CITY/hometown")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Score struct {
			Version string `json:"version"`
			Overall int    `json:"overall"`
			Grade   string `json:"grade"`
		} `json:"score"`
		EarningPower float64 `json:"earning_power"`
		Rank         struct {
			State *struct {
				Rank  int `json:"rank"`
				Total int `json:"total"`
			} `json:"state"`
		} `json:"rank"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "v1_housing", body.Score.Version)
	assert.NotEmpty(t, body.Score.Grade)
	assert.InDelta(t, 1.0/3.0, body.EarningPower, 0.0001)
	require.NotNil(t, body.Rank.State)
	assert.Equal(t, 1, body.Rank.State.Rank)
	assert.Equal(t, 2, body.Rank.State.Total)
}

func TestGetEntityScore_NotFound(t *testing.T) {
	router, db, _ := setupRouter(t)

	assert.Equal(t, http.StatusNotFound, get(router, "/api/entities/CITY/nowhere").Code)
	assert.Equal(t, http.StatusBadRequest, get(router, "/api/entities/COUNTY/nowhere").Code)

	// Known entity without metric data
	_, err := db.GetDB().Exec(`
		INSERT INTO geo_entity (geo_type, geo_id, name, slug, state_abbr)
		VALUES ('CITY', 'ghosttown', 'ghosttown', 'ghosttown', 'NV')`)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, get(router, "/api/entities/CITY/ghosttown").Code)
}

func TestGetEntityRank_NationalScope(t *testing.T) {
	router, db, _ := setupRouter(t)
	seedCity(t, db, "a", "MI", 40000, 3.0)
	seedCity(t, db, "b", "OH", 40000, 5.0)

	w := get(router, "/api/entities/CITY/b/rank?scope=national")
	require.Equal(t, http.StatusOK, w.Code)

	var rank struct {
		Rank  int `json:"rank"`
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rank))
	assert.Equal(t, 2, rank.Rank)
	assert.Equal(t, 2, rank.Total)
}

func TestGetAlternatives(t *testing.T) {
	router, db, _ := setupRouter(t)
	seedCity(t, db, "target", "IA", 40000, 5.0)
	seedCity(t, db, "cheaper", "IA", 40000, 3.0)

	w := get(router, "/api/entities/CITY/target/alternatives?direction=better")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Results []struct {
			Entity struct {
				ID string `json:"id"`
			} `json:"entity"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, "cheaper", body.Results[0].Entity.ID)

	assert.Equal(t, http.StatusBadRequest,
		get(router, "/api/entities/CITY/target/alternatives?direction=sideways").Code)
}

func TestSearchEntities(t *testing.T) {
	router, db, _ := setupRouter(t)
	seedCity(t, db, "portland", "OR", 650000, 5.5)
	seedCity(t, db, "portsmouth", "NH", 22000, 4.0)
	seedCity(t, db, "austin", "TX", 960000, 4.5)

	w := get(router, "/api/search?q=port")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Results []struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Results, 2)
	assert.Equal(t, "portland", body.Results[0].ID)

	assert.Equal(t, http.StatusBadRequest, get(router, "/api/search?q=p").Code)
}

func TestSearchEntities_CachedAfterFirstHit(t *testing.T) {
	router, db, _ := setupRouter(t)
	seedCity(t, db, "boulder", "CO", 110000, 7.0)

	require.Equal(t, http.StatusOK, get(router, "/api/search?q=bou").Code)

	_, err := db.GetDB().Exec(`DELETE FROM geo_entity WHERE geo_id = 'boulder'`)
	require.NoError(t, err)

	w := get(router, "/api/search?q=bou")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Results []struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, "boulder", body.Results[0].ID)
}

func TestIngestRefreshBatch(t *testing.T) {
	router, _, refreshQueue := setupRouter(t)

	post := func(payload string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/refresh", bytes.NewBufferString(payload))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		return w
	}

	valid := `{"snapshots":[{"geo_type":"ZCTA","geo_id":"48201","ratio":4.2,"as_of_date":"2025-05-01T00:00:00Z"}]}`
	w := post(valid)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, refreshQueue.Len())

	// Empty batch
	assert.Equal(t, http.StatusBadRequest, post(`{}`).Code)

	// Unknown geo type in a row
	assert.Equal(t, http.StatusBadRequest,
		post(`{"snapshots":[{"geo_type":"COUNTY","geo_id":"1"}]}`).Code)

	// Missing geo id
	assert.Equal(t, http.StatusBadRequest,
		post(`{"composites":[{"geo_type":"CITY","geo_id":"","composite":50}]}`).Code)

	// Oversize batch (max 5 in test config)
	oversize := `{"snapshots":[` +
		`{"geo_type":"ZCTA","geo_id":"1"},{"geo_type":"ZCTA","geo_id":"2"},` +
		`{"geo_type":"ZCTA","geo_id":"3"},{"geo_type":"ZCTA","geo_id":"4"},` +
		`{"geo_type":"ZCTA","geo_id":"5"},{"geo_type":"ZCTA","geo_id":"6"}]}`
	assert.Equal(t, http.StatusBadRequest, post(oversize).Code)

	// Full queue
	for i := 0; i < 10; i++ {
		post(valid)
	}
	assert.Equal(t, http.StatusServiceUnavailable, post(valid).Code)
}

func TestGetCacheStats(t *testing.T) {
	router, _, _ := setupRouter(t)

	w := get(router, "/api/cache/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Cache struct {
			Entries int `json:"entries"`
		} `json:"cache"`
		QueueDepth int `json:"queue_depth"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 0, body.QueueDepth)
}
