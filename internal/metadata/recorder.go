package metadata

import (
	"log/slog"
	"time"
)

/*
Metadata Collected
- Fetch timestamps
- HTTP status codes
- Content hashes
- Crawl depth

Logging Goals
- Debuggable crawl behavior
- Post-run auditability
- Failure diagnostics

Structured logging is preferred.

Allowed:
- Primitive values
- Timestamps
- URLs (as values, not objects with behavior)
- Hashes
- Status codes
- Durations
- Identifiers (page ID, crawl ID)
*/

// MetadataSink is the observability boundary every pipeline stage writes
// through. It never returns an error and never blocks crawl progress:
// a metadata write failing is a logging problem, not a crawl problem.
type MetadataSink interface {
	RecordFetch(fetchUrl string, httpStatus int, duration time.Duration, contentType string, retryCount int, crawlDepth int)
	RecordError(observedAt time.Time, packageName string, action string, cause ErrorCause, errMsg string, attrs []Attribute)
	RecordCrawlStats(jobID string, stats crawlStats)
}

// Recorder is the default MetadataSink, backed by structured logging.
type Recorder struct {
	logger *slog.Logger
}

func NewRecorder(logger *slog.Logger) Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return Recorder{logger: logger}
}

func (r *Recorder) RecordFetch(fetchUrl string, httpStatus int, duration time.Duration, contentType string, retryCount int, crawlDepth int) {
	r.logger.Info("fetch",
		slog.String("url", fetchUrl),
		slog.Int("http_status", httpStatus),
		slog.Duration("duration", duration),
		slog.String("content_type", contentType),
		slog.Int("retry_count", retryCount),
		slog.Int("crawl_depth", crawlDepth),
	)
}

func (r *Recorder) RecordError(observedAt time.Time, packageName string, action string, cause ErrorCause, errMsg string, attrs []Attribute) {
	args := []any{
		slog.Time("observed_at", observedAt),
		slog.String("package", packageName),
		slog.String("action", action),
		slog.Int("cause", int(cause)),
		slog.String("error", errMsg),
	}
	for _, a := range attrs {
		args = append(args, slog.String(string(a.Key), a.Value))
	}
	r.logger.Error("pipeline error", args...)
}

// RecordCrawlStats logs the terminal summary of a completed crawl and never
// feeds back into scheduling decisions. No package in this module calls it.
func (r *Recorder) RecordCrawlStats(jobID string, stats crawlStats) {
	r.logger.Info("crawl finished",
		slog.String("job_id", jobID),
		slog.Int("total_pages", stats.totalPages),
		slog.Int("total_errors", stats.totalErrors),
		slog.Int64("duration_ms", stats.durationMs),
	)
}

// NewCrawlStats constructs the terminal crawl summary. It must be computed
// without reading metadata, from the crawler's own counters.
func NewCrawlStats(totalPages, totalErrors int, duration time.Duration) crawlStats {
	return crawlStats{
		totalPages:  totalPages,
		totalErrors: totalErrors,
		durationMs:  duration.Milliseconds(),
	}
}
