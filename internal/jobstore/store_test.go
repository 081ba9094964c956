package jobstore_test

import (
	"path/filepath"
	"testing"

	"github.com/kellanvoss/linkgraph/internal/extractor"
	"github.com/kellanvoss/linkgraph/internal/graph"
	"github.com/kellanvoss/linkgraph/internal/jobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *jobstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "linkgraph.db")
	store, err := jobstore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateJob_StartsPending(t *testing.T) {
	store := openTestStore(t)

	jobID, err := store.CreateJob("example.com", []string{"https://example.com/"})
	require.NoError(t, err)
	assert.NotZero(t, jobID)
}

func TestStoreCrawl_PersistsPagesAndMetricsAtomically(t *testing.T) {
	store := openTestStore(t)

	jobID, err := store.CreateJob("example.com", []string{"https://example.com/"})
	require.NoError(t, err)
	require.NoError(t, store.MarkRunning(jobID))

	pages := []extractor.Page{
		{URL: "https://example.com/", Domain: "example.com", Title: "Home"},
	}
	metrics := graph.BuildMetrics(pages, "example.com")

	require.NoError(t, store.StoreCrawl(jobID, "example.com", pages, metrics))

	stored, err := store.PagesForJob(jobID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "Home", stored[0].Title)

	report, err := store.LatestReport("example.com")
	require.NoError(t, err)
	assert.Equal(t, jobID, report.JobID)
	assert.Equal(t, 1, report.PagesCrawled)
}

func TestLatestReport_NoCompletedJobReturnsError(t *testing.T) {
	store := openTestStore(t)

	_, err := store.LatestReport("never-crawled.test")
	assert.ErrorIs(t, err, jobstore.ErrNoCompletedJob)
}

func TestLatestReport_ReturnsMostRecentCompletedJob(t *testing.T) {
	store := openTestStore(t)

	first, err := store.CreateJob("example.com", nil)
	require.NoError(t, err)
	require.NoError(t, store.StoreCrawl(first, "example.com", []extractor.Page{{URL: "https://example.com/a"}}, graph.Metrics{PagesCrawled: 1}))

	second, err := store.CreateJob("example.com", nil)
	require.NoError(t, err)
	require.NoError(t, store.StoreCrawl(second, "example.com", []extractor.Page{{URL: "https://example.com/b"}, {URL: "https://example.com/c"}}, graph.Metrics{PagesCrawled: 2}))

	report, err := store.LatestReport("example.com")
	require.NoError(t, err)
	assert.Equal(t, second, report.JobID)
	assert.Equal(t, 2, report.PagesCrawled)
}

func TestIngestReferrers_MergesAcrossCalls(t *testing.T) {
	store := openTestStore(t)

	count, err := store.IngestReferrers("example.com", []string{"https://a.test/", "https://b.test/"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = store.IngestReferrers("example.com", []string{"https://b.test/", "https://c.test/"})
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	urls, err := store.ReferrerSeeds("example.com")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"https://a.test/", "https://b.test/", "https://c.test/"}, urls)
}

func TestMarkFailed_RecordsMessage(t *testing.T) {
	store := openTestStore(t)

	jobID, err := store.CreateJob("example.com", nil)
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(jobID, "disk full"))
}
