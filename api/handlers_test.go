package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"interp-crawler/api"
	"interp-crawler/database"
	"interp-crawler/index"
	"interp-crawler/logger"
	"interp-crawler/metrics"
	"interp-crawler/models"
	"interp-crawler/utils"
)

const base = "https://www.osha.gov/laws-regs/standardinterpretations/"

func seedStore(t *testing.T) (*database.MemoryStore, []models.Publication) {
	t.Helper()
	pubs := []models.Publication{
		{Title: "Hazcom labels", URL: base + "2019-04-01", PublicationDate: "2019-04-01", StandardNumber: []string{"1910.1200"}, Content: "letter one"},
		{Title: "Fall protection", URL: base + "2021-07-15", PublicationDate: "2021-07-15", StandardNumber: []string{"1926.501", "1926.502"}, Content: "letter two"},
		{Title: "Recordkeeping", URL: base + "2023-01-09", PublicationDate: "2023-01-09", StandardNumber: []string{"1904.7"}, Content: "letter three"},
		{Title: "Undated", URL: base + "memo", StandardNumber: []string{}, Content: "letter four"},
	}
	items := make([]any, 0, len(pubs))
	for i := range pubs {
		pubs[i].ID = utils.DocumentID(models.PublicationsCollection, pubs[i].URL)
		items = append(items, pubs[i])
	}

	store := database.NewMemoryStore()
	ctx := context.Background()
	_, err := store.BulkUpsert(ctx, models.PublicationsCollection, items, models.PublicationKey)
	require.NoError(t, err)
	_, err = store.BulkUpsert(ctx, models.StandardsCollection, []any{
		models.StandardNode{StandardNumber: "1910", StandardTitle: "General Industry", Children: []models.StandardChild{
			{StandardNumber: "1910.1200", StandardTitle: "Hazard Communication"},
		}},
	}, models.StandardKey)
	require.NoError(t, err)
	return store, pubs
}

func newRouter(store database.Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return api.NewRouter(store, logger.NewNop(), prometheus.NewRegistry())
}

func get(t *testing.T, r http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestGetPublication(t *testing.T) {
	store, pubs := seedStore(t)
	r := newRouter(store)

	w := get(t, r, "/publications/"+pubs[1].ID)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, map[string]any{
		"title":           "Fall protection",
		"publicationDate": "2021-07-15",
		"standards":       []any{"1926.501", "1926.502"},
		"content":         "letter two",
		"url":             base + "2021-07-15",
	}, body, "only public fields are returned")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestGetPublicationErrors(t *testing.T) {
	store, _ := seedStore(t)
	r := newRouter(store)

	w := get(t, r, "/publications/00000000-0000-0000-0000-000000000000")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"message":"Not Found"}`, w.Body.String())

	w = get(t, r, "/publications/%20")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"message":"Bad Request"}`, w.Body.String())
}

func TestListPublications(t *testing.T) {
	store, _ := seedStore(t)
	r := newRouter(store)

	tests := []struct {
		name   string
		query  string
		titles []string
	}{
		{"all", "", []string{"Hazcom labels", "Fall protection", "Recordkeeping", "Undated"}},
		{"from year", "?from=2021", []string{"Fall protection", "Recordkeeping"}},
		{"to year is inclusive", "?to=2021", []string{"Hazcom labels", "Fall protection"}},
		{"to month is inclusive", "?from=2021-07&to=2021-07", []string{"Fall protection"}},
		{"standard prefix", "?standard=1926", []string{"Fall protection"}},
		{"range and standard", "?from=2019&to=2023-12-31&standard=19", []string{"Hazcom labels", "Fall protection", "Recordkeeping"}},
		{"no match", "?standard=1915", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, r, "/publications"+tt.query)
			require.Equal(t, http.StatusOK, w.Code)

			var body []map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			titles := []string{}
			for _, p := range body {
				titles = append(titles, p["title"].(string))
				assert.NotContains(t, p, "content")
				assert.NotEmpty(t, p["id"])
			}
			assert.Equal(t, tt.titles, titles)
		})
	}
}

func TestListPublicationsRejectsBadDates(t *testing.T) {
	store, _ := seedStore(t)
	r := newRouter(store)

	for _, q := range []string{"?from=last-year", "?to=2021-7", "?from=20210101"} {
		w := get(t, r, "/publications"+q)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestListStandards(t *testing.T) {
	store, _ := seedStore(t)
	r := newRouter(store)

	w := get(t, r, "/standards")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[
		{"label":"1904.7","id":"1904.7"},
		{"label":"1910.1200","id":"1910.1200"},
		{"label":"1926.501","id":"1926.501"},
		{"label":"1926.502","id":"1926.502"}
	]`, w.Body.String())
}

func TestStandardsTree(t *testing.T) {
	store, _ := seedStore(t)
	r := newRouter(store)

	w := get(t, r, "/standards/tree")
	require.Equal(t, http.StatusOK, w.Code)

	var body []models.StandardNode
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "1910", body[0].StandardNumber)
	assert.Len(t, body[0].Children, 1)

	w = get(t, newRouter(database.NewMemoryStore()), "/standards/tree")
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestOrganizedIndex(t *testing.T) {
	store, pubs := seedStore(t)
	r := newRouter(store)

	w := get(t, r, "/indexes/organized")
	assert.Equal(t, http.StatusNotFound, w.Code)

	acc := index.NewAccumulator()
	for _, p := range pubs {
		acc.Add(p)
	}
	require.NoError(t, index.Save(context.Background(), store, acc.Snapshot(time.Now())))

	w = get(t, r, "/indexes/organized")
	require.Equal(t, http.StatusOK, w.Code)
	var idx models.OrganizedIndex
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &idx))
	assert.Equal(t, index.SnapshotName, idx.Name)
	assert.Len(t, idx.ByDate["2021-07-15"], 1)
	assert.Len(t, idx.ByDate[""], 1)
	assert.Len(t, idx.ByStandardNumber["1926.502"], 1)
}

type failingStore struct {
	*database.MemoryStore
}

func (failingStore) Query(context.Context, string, database.Filter) ([]database.Document, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) Distinct(context.Context, string, string) ([]string, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) GetByID(context.Context, string, string) (database.Document, error) {
	return nil, errors.New("connection refused")
}

func TestStoreFailuresReturn500(t *testing.T) {
	r := newRouter(failingStore{database.NewMemoryStore()})

	for _, path := range []string{"/publications", "/publications/abc", "/standards", "/standards/tree", "/indexes/organized"} {
		w := get(t, r, path)
		assert.Equal(t, http.StatusInternalServerError, w.Code, path)
		assert.JSONEq(t, `{"message":"Internal Server Error"}`, w.Body.String())
	}
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.ObserveRecord(models.PublicationsCollection)
	gin.SetMode(gin.TestMode)
	r := api.NewRouter(database.NewMemoryStore(), logger.NewNop(), reg)

	w := get(t, r, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = get(t, r, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `interp_crawler_records_extracted_total{collection="publications"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	r := newRouter(database.NewMemoryStore())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/publications", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "GET", w.Header().Get("Access-Control-Allow-Methods"))
}
