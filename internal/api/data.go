package api

import (
	"time"

	"github.com/kellanvoss/linkgraph/internal/jobstore"
)

// crawlRequest is the JSON body for POST /crawl.
type crawlRequest struct {
	SeedURLs     []string `json:"seed_urls"`
	TargetDomain string   `json:"target_domain"`
	MaxPages     int      `json:"max_pages,omitempty"`
	// UseReferrerSeeds opts into seeding the crawl from previously
	// ingested referrer URLs (see POST /ingest-referrers) plus the
	// domain root when seed_urls is empty. Without this flag, an empty
	// seed_urls is a client error.
	UseReferrerSeeds bool `json:"use_referrer_seeds,omitempty"`
}

type crawlResponse struct {
	JobID        uint64 `json:"job_id"`
	Status       string `json:"status"`
	TargetDomain string `json:"target_domain"`
}

// backlinkDTO is the wire form of graph.Backlink, per spec.md §3's
// Backlink tuple (source_url, target_url, anchor, nofollow).
type backlinkDTO struct {
	SourceURL string `json:"source_url"`
	TargetURL string `json:"target_url"`
	Anchor    string `json:"anchor"`
	Nofollow  bool   `json:"nofollow"`
}

type reportResponse struct {
	TargetDomain     string        `json:"target_domain"`
	ReferringDomains int           `json:"referring_domains"`
	TotalBacklinks   int           `json:"total_backlinks"`
	FollowCount      int           `json:"follow_count"`
	NofollowCount    int           `json:"nofollow_count"`
	FollowPct        float64       `json:"follow_pct"`
	EstimatedDA      float64       `json:"estimated_da"`
	PagesCrawled     int           `json:"pages_crawled"`
	Backlinks        []backlinkDTO `json:"backlinks"`
	UpdatedAt        string        `json:"updated_at"`
}

func reportResponseFrom(record jobstore.MetricsRecord) reportResponse {
	backlinks := make([]backlinkDTO, 0, len(record.Backlinks))
	for _, bl := range record.Backlinks {
		backlinks = append(backlinks, backlinkDTO{
			SourceURL: bl.SourceURL,
			TargetURL: bl.TargetURL,
			Anchor:    bl.Anchor,
			Nofollow:  bl.Nofollow,
		})
	}
	return reportResponse{
		TargetDomain:     record.TargetDomain,
		ReferringDomains: record.ReferringDomains,
		TotalBacklinks:   record.TotalBacklinks,
		FollowCount:      record.FollowCount,
		NofollowCount:    record.NofollowCount,
		FollowPct:        record.FollowPct,
		EstimatedDA:      record.EstimatedDA,
		PagesCrawled:     record.PagesCrawled,
		Backlinks:        backlinks,
		UpdatedAt:        record.UpdatedAt.Format(time.RFC3339),
	}
}

type offPageAnalyzeRequest struct {
	URL    string `json:"url"`
	Domain string `json:"domain,omitempty"`
}

type offPageAnalyzeResponse struct {
	reportResponse
	DemoData bool `json:"demoData"`
}

type ingestReferrersRequest struct {
	Domain string   `json:"domain"`
	URLs   []string `json:"urls"`
}

type ingestReferrersResponse struct {
	OK        bool `json:"ok"`
	URLsCount int  `json:"urls_count"`
}

type healthResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}
