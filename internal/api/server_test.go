package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/kellanvoss/linkgraph/internal/api"
	"github.com/kellanvoss/linkgraph/internal/config"
	"github.com/kellanvoss/linkgraph/internal/graph"
	"github.com/kellanvoss/linkgraph/internal/jobstore"
	"github.com/kellanvoss/linkgraph/internal/metadata"
	"github.com/kellanvoss/linkgraph/internal/robots"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*api.Server, *jobstore.Store) {
	t.Helper()
	store, err := jobstore.Open(filepath.Join(t.TempDir(), "linkgraph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg, err := config.WithDefault().WithRespectRobots(false).Build()
	require.NoError(t, err)

	recorder := metadata.NewRecorder(nil)
	robot := robots.NewCachedRobot(&recorder)
	robot.Init(cfg.UserAgent())

	return api.NewServer(cfg, store, &robot, &recorder), store
}

func TestHandleHealth(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleCrawl_RejectsMissingTargetDomain(t *testing.T) {
	server, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"seed_urls": []string{"https://example.com/"}})
	req := httptest.NewRequest(http.MethodPost, "/crawl", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCrawl_RejectsEmptySeedsWithoutOptIn(t *testing.T) {
	server, store := newTestServer(t)

	_, err := store.IngestReferrers("example.com", []string{"https://referrer.test/page"})
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]any{"seed_urls": []string{}, "target_domain": "example.com"})
	req := httptest.NewRequest(http.MethodPost, "/crawl", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCrawl_EmptySeedsFallBackToReferrerSeedsWithOptIn(t *testing.T) {
	server, store := newTestServer(t)

	_, err := store.IngestReferrers("example.com", []string{"https://referrer.test/page"})
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]any{
		"seed_urls":          []string{},
		"target_domain":      "example.com",
		"use_referrer_seeds": true,
	})
	req := httptest.NewRequest(http.MethodPost, "/crawl", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp["status"])
}

func TestHandleCrawl_NormalizesURLTargetDomain(t *testing.T) {
	server, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"seed_urls":     []string{"https://example.com/"},
		"target_domain": "https://www.example.com/some/path",
	})
	req := httptest.NewRequest(http.MethodPost, "/crawl", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "example.com", resp["target_domain"])
}

func TestHandleCrawl_QueuesJob(t *testing.T) {
	server, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"seed_urls":     []string{"https://example.com/"},
		"target_domain": "example.com",
	})
	req := httptest.NewRequest(http.MethodPost, "/crawl", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp["status"])
	assert.Equal(t, "example.com", resp["target_domain"])
	assert.NotZero(t, resp["job_id"])
}

func TestHandleReport_NotFoundWhenNoCompletedJob(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/report/never-crawled.test", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleReport_ReturnsLatestMetrics(t *testing.T) {
	server, store := newTestServer(t)

	jobID, err := store.CreateJob("example.com", []string{"https://example.com/"})
	require.NoError(t, err)
	metrics := graph.Metrics{PagesCrawled: 3, ReferringDomains: 1, TotalBacklinks: 2, FollowCount: 1, NofollowCount: 1, FollowPct: 50, EstimatedDA: 4.2}
	require.NoError(t, store.StoreCrawl(jobID, "example.com", nil, metrics))

	req := httptest.NewRequest(http.MethodGet, "/report/example.com", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(3), resp["pages_crawled"])
	assert.Equal(t, float64(50), resp["follow_pct"])
}

func TestHandleReportHTML_RendersMarkdownAsHTML(t *testing.T) {
	server, store := newTestServer(t)

	jobID, err := store.CreateJob("example.com", []string{"https://example.com/"})
	require.NoError(t, err)
	require.NoError(t, store.StoreCrawl(jobID, "example.com", nil, graph.Metrics{PagesCrawled: 1}))

	req := httptest.NewRequest(http.MethodGet, "/report/example.com.html", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "<h1>")
}

func TestHandleIngestReferrers(t *testing.T) {
	server, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"domain": "example.com",
		"urls":   []string{"https://a.test/", "https://b.test/"},
	})
	req := httptest.NewRequest(http.MethodPost, "/ingest-referrers", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, float64(2), resp["urls_count"])
}

func TestHandleOffPageAnalyze_RejectsMissingURL(t *testing.T) {
	server, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{})
	req := httptest.NewRequest(http.MethodPost, "/off-page-analyze", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
