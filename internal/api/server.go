package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kellanvoss/linkgraph/internal/config"
	"github.com/kellanvoss/linkgraph/internal/crawler"
	"github.com/kellanvoss/linkgraph/internal/extractor"
	"github.com/kellanvoss/linkgraph/internal/fetcher"
	"github.com/kellanvoss/linkgraph/internal/graph"
	"github.com/kellanvoss/linkgraph/internal/jobstore"
	"github.com/kellanvoss/linkgraph/internal/metadata"
	"github.com/kellanvoss/linkgraph/internal/robots"
	"github.com/kellanvoss/linkgraph/pkg/limiter"
	"github.com/kellanvoss/linkgraph/pkg/urlutil"
)

/*
Responsibilities

- Accept job submissions and return them queued
- Serve the latest report for a target domain, as JSON or rendered Markdown
- Run small synchronous analyses for the off-page-analyze fast path
- Record referrer seed URLs for later crawls

The API never touches the frontier, robots cache, or job store schema
directly; it only wires the crawler, graph builder, and job store
together behind the routes spec.md §6 defines.
*/

// offPageAnalyzeMaxPages bounds the synchronous analysis path so a single
// HTTP request cannot block indefinitely on a large site.
const offPageAnalyzeMaxPages = 500

// Server is the HTTP boundary wiring config, the job store, and the
// crawl pipeline together.
type Server struct {
	cfg          config.Config
	store        *jobstore.Store
	robot        *robots.Robot
	metadataSink metadata.MetadataSink
	mux          *http.ServeMux
}

func NewServer(cfg config.Config, store *jobstore.Store, robot *robots.Robot, metadataSink metadata.MetadataSink) *Server {
	s := &Server{
		cfg:          cfg,
		store:        store,
		robot:        robot,
		metadataSink: metadataSink,
		mux:          http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /crawl", s.handleCrawl)
	s.mux.HandleFunc("GET /report/{domain}", s.handleReport)
	s.mux.HandleFunc("POST /off-page-analyze", s.handleOffPageAnalyze)
	s.mux.HandleFunc("POST /ingest-referrers", s.handleIngestReferrers)
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// newCrawler builds one crawl pipeline instance, fresh per invocation;
// the crawler is cheap to construct and holds no state across jobs.
func (s *Server) newCrawler(cfg config.Config) crawler.Crawler {
	htmlFetcher := fetcher.NewHtmlFetcher(s.metadataSink)
	domExtractor := extractor.NewDomExtractor(s.metadataSink)
	rateLimiter := limiter.NewConcurrentRateLimiter()
	return crawler.NewCrawler(cfg, s.robot, &htmlFetcher, &domExtractor, rateLimiter, s.metadataSink)
}

func (s *Server) handleCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.TargetDomain) == "" {
		writeError(w, http.StatusBadRequest, "target_domain is required")
		return
	}
	req.TargetDomain = urlutil.NormalizeDomain(req.TargetDomain)

	seedRaw := req.SeedURLs
	if len(seedRaw) == 0 {
		if !req.UseReferrerSeeds {
			writeError(w, http.StatusBadRequest, "seed_urls is required")
			return
		}
		stored, err := s.store.ReferrerSeeds(req.TargetDomain)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not load referrer seeds")
			return
		}
		seedRaw = append([]string{"https://" + req.TargetDomain + "/"}, stored...)
	}

	seeds, err := parseSeeds(seedRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := s.cfg
	if req.MaxPages > 0 {
		built, buildErr := config.WithDefault().
			WithMaxPages(req.MaxPages).
			WithMaxConcurrent(s.cfg.MaxConcurrent()).
			WithRequestDelay(s.cfg.RequestDelay()).
			WithJitter(s.cfg.Jitter()).
			WithRandomSeed(s.cfg.RandomSeed()).
			WithRespectRobots(s.cfg.RespectRobots()).
			WithUserAgent(s.cfg.UserAgent()).
			WithPerRequestTimeout(s.cfg.PerRequestTimeout()).
			Build()
		if buildErr != nil {
			writeError(w, http.StatusBadRequest, buildErr.Error())
			return
		}
		cfg = built
	}

	jobID, err := s.store.CreateJob(req.TargetDomain, seedRaw)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not create job")
		return
	}

	go s.runJob(context.Background(), jobID, seeds, req.TargetDomain, cfg)

	writeJSON(w, http.StatusAccepted, crawlResponse{JobID: jobID, Status: "queued", TargetDomain: req.TargetDomain})
}

// runJob executes one crawl to completion in the background, following
// the state machine of spec.md §4.5: pending (already persisted) ->
// running -> completed|failed.
func (s *Server) runJob(ctx context.Context, jobID uint64, seeds []url.URL, targetDomain string, cfg config.Config) {
	if err := s.store.MarkRunning(jobID); err != nil {
		return
	}

	c := s.newCrawler(cfg)
	result, err := c.Run(ctx, seeds, targetDomain)
	if err != nil {
		s.store.MarkFailed(jobID, err.Error())
		return
	}

	metrics := graph.BuildMetrics(result.Pages, targetDomain)
	if err := s.store.StoreCrawl(jobID, targetDomain, result.Pages, metrics); err != nil {
		s.store.MarkFailed(jobID, err.Error())
	}
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	domain := r.PathValue("domain")
	if strings.HasSuffix(domain, ".html") {
		s.handleReportHTML(w, strings.TrimSuffix(domain, ".html"))
		return
	}

	record, err := s.store.LatestReport(domain)
	if err != nil {
		writeError(w, http.StatusNotFound, "no completed job for domain")
		return
	}
	writeJSON(w, http.StatusOK, reportResponseFrom(record))
}

func (s *Server) handleReportHTML(w http.ResponseWriter, domain string) {
	record, err := s.store.LatestReport(domain)
	if err != nil {
		http.Error(w, "no completed job for domain", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(renderReportHTML(domain, record))
}

func (s *Server) handleOffPageAnalyze(w http.ResponseWriter, r *http.Request) {
	var req offPageAnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	parsed, err := url.Parse(req.URL)
	if err != nil || parsed.Host == "" {
		writeError(w, http.StatusBadRequest, "invalid url")
		return
	}

	domain := req.Domain
	if strings.TrimSpace(domain) == "" {
		domain = urlutil.DomainOf(*parsed)
	} else {
		domain = urlutil.NormalizeDomain(domain)
	}

	maxPages := offPageAnalyzeMaxPages
	if s.cfg.MaxPages() < maxPages {
		maxPages = s.cfg.MaxPages()
	}
	cfg, err := config.WithDefault().
		WithMaxPages(maxPages).
		WithMaxConcurrent(s.cfg.MaxConcurrent()).
		WithRequestDelay(s.cfg.RequestDelay()).
		WithJitter(s.cfg.Jitter()).
		WithRandomSeed(s.cfg.RandomSeed()).
		WithRespectRobots(s.cfg.RespectRobots()).
		WithUserAgent(s.cfg.UserAgent()).
		WithPerRequestTimeout(s.cfg.PerRequestTimeout()).
		Build()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "invalid synchronous crawl configuration")
		return
	}

	c := s.newCrawler(cfg)
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	result, err := c.Run(ctx, []url.URL{*parsed}, domain)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	metrics := graph.BuildMetrics(result.Pages, domain)
	record := jobstore.MetricsRecord{
		TargetDomain:     domain,
		ReferringDomains: metrics.ReferringDomains,
		TotalBacklinks:   metrics.TotalBacklinks,
		FollowCount:      metrics.FollowCount,
		NofollowCount:    metrics.NofollowCount,
		FollowPct:        metrics.FollowPct,
		EstimatedDA:      metrics.EstimatedDA,
		PagesCrawled:     metrics.PagesCrawled,
		Backlinks:        metrics.Backlinks,
		UpdatedAt:        time.Now(),
	}

	writeJSON(w, http.StatusOK, offPageAnalyzeResponse{
		reportResponse: reportResponseFrom(record),
		DemoData:       false,
	})
}

func (s *Server) handleIngestReferrers(w http.ResponseWriter, r *http.Request) {
	var req ingestReferrersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Domain) == "" {
		writeError(w, http.StatusBadRequest, "domain is required")
		return
	}
	req.Domain = urlutil.NormalizeDomain(req.Domain)

	count, err := s.store.IngestReferrers(req.Domain, req.URLs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not persist referrer urls")
		return
	}

	writeJSON(w, http.StatusOK, ingestReferrersResponse{OK: true, URLsCount: count})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func parseSeeds(raw []string) ([]url.URL, error) {
	seeds := make([]url.URL, 0, len(raw))
	for _, s := range raw {
		canon, err := urlutil.CanonicalizeRaw(s, nil)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, canon)
	}
	return seeds, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
