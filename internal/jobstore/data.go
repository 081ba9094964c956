package jobstore

import (
	"time"

	"github.com/kellanvoss/linkgraph/internal/extractor"
	"github.com/kellanvoss/linkgraph/internal/graph"
)

// JobStatus is the lifecycle of one crawl attempt: pending -> running ->
// (completed | failed). Jobs are never mutated after completion; a
// re-crawl is a new job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Job is one crawl attempt row.
type Job struct {
	ID             uint64    `json:"id"`
	TargetDomain   string    `json:"target_domain"`
	SeedURLs       []string  `json:"seed_urls"`
	Status         JobStatus `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	FailureMessage string    `json:"failure_message,omitempty"`
}

// PageRecord is one crawled page, persisted from the extractor's Page plus
// the owning job id. Page.ContentHash is not persisted.
type PageRecord struct {
	ID              uint64           `json:"id"`
	JobID           uint64           `json:"job_id"`
	URL             string           `json:"url"`
	Domain          string           `json:"domain"`
	Title           string           `json:"title"`
	MetaDescription string           `json:"meta_description"`
	Canonical       string           `json:"canonical"`
	InternalCount   int              `json:"internal_count"`
	ExternalCount   int              `json:"external_count"`
	FollowCount     int              `json:"follow_count"`
	NofollowCount   int              `json:"nofollow_count"`
	Links           []extractor.Link `json:"links"`
}

func pageRecordFrom(jobID uint64, id uint64, p extractor.Page) PageRecord {
	return PageRecord{
		ID:              id,
		JobID:           jobID,
		URL:             p.URL,
		Domain:          p.Domain,
		Title:           p.Title,
		MetaDescription: p.MetaDescription,
		Canonical:       p.Canonical,
		InternalCount:   p.InternalCount,
		ExternalCount:   p.ExternalCount,
		FollowCount:     p.FollowCount,
		NofollowCount:   p.NofollowCount,
		Links:           p.Links,
	}
}

// MetricsRecord is the persisted form of graph.Metrics, keyed uniquely by
// job id, with the target domain denormalized for the latest-report query.
type MetricsRecord struct {
	JobID            uint64           `json:"job_id"`
	TargetDomain     string           `json:"target_domain"`
	ReferringDomains int              `json:"referring_domains"`
	TotalBacklinks   int              `json:"total_backlinks"`
	FollowCount      int              `json:"follow_count"`
	NofollowCount    int              `json:"nofollow_count"`
	FollowPct        float64          `json:"follow_pct"`
	EstimatedDA      float64          `json:"estimated_da"`
	PagesCrawled     int              `json:"pages_crawled"`
	Backlinks        []graph.Backlink `json:"backlinks"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

func metricsRecordFrom(jobID uint64, targetDomain string, m graph.Metrics, updatedAt time.Time) MetricsRecord {
	return MetricsRecord{
		JobID:            jobID,
		TargetDomain:     targetDomain,
		ReferringDomains: m.ReferringDomains,
		TotalBacklinks:   m.TotalBacklinks,
		FollowCount:      m.FollowCount,
		NofollowCount:    m.NofollowCount,
		FollowPct:        m.FollowPct,
		EstimatedDA:      m.EstimatedDA,
		PagesCrawled:     m.PagesCrawled,
		Backlinks:        m.Backlinks,
		UpdatedAt:        updatedAt,
	}
}
