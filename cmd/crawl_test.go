package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"interp-crawler/config"
	"interp-crawler/crawler"
	"interp-crawler/database"
	"interp-crawler/logger"
	"interp-crawler/metrics"
	"interp-crawler/models"
)

func newTestSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/publicationdate", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<div class="view-content"><ul><li><a href="/letters/2024-02-20">A</a></li></ul></div>`)
	})
	mux.HandleFunc("/letters/2024-02-20", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<div id="breadcrumbs-container"><ul><li class="active">Eye protection</li></ul></div>
<div class="field--name-field-fr-standard-number"><a>1910.133</a></div>
<article><div class="field--name-body">Letter body</div></article>`)
	})
	mux.HandleFunc("/standardnumber", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<div class="view-content"><ul><li><a href="/standardnumber/1910">Part 1910 - General Industry</a></li></ul></div>`)
	})
	mux.HandleFunc("/standardnumber/1910", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<div class="view-content"><ul><li><a href="/s/1910.133">1910.133 - Eye and face protection</a></li></ul></div>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testApp(t *testing.T, siteURL string) *app {
	t.Helper()
	reg := prometheus.NewRegistry()
	return &app{
		cfg: &config.Config{
			UserAgent:       "InterpCrawler/test",
			RequestTimeout:  5,
			RateLimit:       6_000_000,
			Workers:         2,
			MaxRetries:      1,
			BatchSize:       10,
			PublicationsURL: siteURL + "/publicationdate",
			StandardsURL:    siteURL + "/standardnumber",
		},
		log:      logger.NewNop(),
		registry: reg,
		metrics:  metrics.New(reg),
		rules:    crawler.DefaultRules,
	}
}

func TestRunCrawlAllWithBackup(t *testing.T) {
	site := newTestSite(t)
	a := testApp(t, site.URL)
	store := database.NewMemoryStore()
	backup := filepath.Join(t.TempDir(), "run.ndjson")
	var out bytes.Buffer

	err := a.runCrawl(context.Background(), &out, store, targetAll, backup)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Crawl summary: publications")
	assert.Contains(t, out.String(), "Crawl summary: standards")
	assert.Equal(t, 1, store.Len(models.PublicationsCollection))
	assert.Equal(t, 1, store.Len(models.StandardsCollection))
	assert.Equal(t, 1, store.Len(models.IndexesCollection))

	data, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
	assert.Contains(t, string(data), `"title":"Eye protection"`)

	index, err := os.ReadFile(filepath.Join(filepath.Dir(backup), "run.index.json"))
	require.NoError(t, err)
	assert.Contains(t, string(index), "1910.133")
}

func TestRunCrawlStandardsSkipsBackup(t *testing.T) {
	site := newTestSite(t)
	a := testApp(t, site.URL)
	backup := filepath.Join(t.TempDir(), "run.ndjson")

	err := a.runCrawl(context.Background(), &bytes.Buffer{}, database.NewMemoryStore(), targetStandards, backup)
	require.NoError(t, err)

	_, err = os.Stat(backup)
	assert.True(t, os.IsNotExist(err))
}

func TestRunCrawlCancelledIsNotAnError(t *testing.T) {
	site := newTestSite(t)
	a := testApp(t, site.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.runCrawl(ctx, &bytes.Buffer{}, database.NewMemoryStore(), targetPublications, "")
	assert.NoError(t, err)
}

func TestCrawlCommandValidatesTarget(t *testing.T) {
	root := NewRootCommand()
	root.SetArgs([]string{"crawl", "everything"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	assert.Error(t, root.Execute())

	root = NewRootCommand()
	root.SetArgs([]string{"crawl"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	assert.Error(t, root.Execute())
}

func TestNewAppAppliesFlagOverrides(t *testing.T) {
	t.Setenv("WORKERS", "2")
	t.Setenv("RATE_LIMIT", "30")

	root := NewRootCommand()
	crawl, _, err := root.Find([]string{"crawl"})
	require.NoError(t, err)
	require.NoError(t, crawl.ParseFlags([]string{"--workers", "8", "--log-format", "json"}))

	a, err := newApp(crawl, &globalFlags{workers: 8, logFormat: "json"})
	require.NoError(t, err)
	assert.Equal(t, 8, a.cfg.Workers)
	assert.Equal(t, "json", a.cfg.LogFormat)
	assert.Equal(t, 30, a.cfg.RateLimit)
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	t.Setenv("BATCH_SIZE", "-1")

	root := NewRootCommand()
	crawl, _, err := root.Find([]string{"crawl"})
	require.NoError(t, err)

	_, err = newApp(crawl, &globalFlags{})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestNewAppLoadsRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: local-1\ndetail:\n  title: h1\n"), 0o644))

	root := NewRootCommand()
	crawl, _, err := root.Find([]string{"crawl"})
	require.NoError(t, err)
	require.NoError(t, crawl.ParseFlags([]string{"--rules", path}))

	a, err := newApp(crawl, &globalFlags{rules: path})
	require.NoError(t, err)
	assert.Equal(t, "local-1", a.rules.Version)
	assert.Equal(t, "h1", a.crawlOptions(database.NewMemoryStore()).Rules.Detail.Title)

}

func TestNewAppRejectsMissingRulesFile(t *testing.T) {
	t.Setenv("RULES_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	root := NewRootCommand()
	crawl, _, err := root.Find([]string{"crawl"})
	require.NoError(t, err)

	_, err = newApp(crawl, &globalFlags{})
	assert.Error(t, err)
}

func TestCrawlOptionsShareOneLimiter(t *testing.T) {
	a := testApp(t, "http://127.0.0.1:1")
	a.cfg.RateLimit = 30

	opts := a.crawlOptions(database.NewMemoryStore())
	require.NotNil(t, opts.Scheduler.Limiter)
	assert.Equal(t, rate.Every(2*time.Second), opts.Scheduler.Limiter.Limit())
	assert.Equal(t, 1, opts.Scheduler.Limiter.Burst())
}
