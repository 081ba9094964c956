package crawler

import (
	"errors"

	"github.com/kellanvoss/linkgraph/pkg/failure"
)

// ErrEmptySeeds is returned when Run is invoked with no seed URLs; per
// spec.md §4.5 this is a job-level failure, not a per-URL one.
var ErrEmptySeeds = errors.New("crawler: no seed urls provided")

// CrawlError wraps a job-level (not per-URL) failure.
type CrawlError struct {
	Message   string
	Retryable bool
}

func (e *CrawlError) Error() string {
	return e.Message
}

func (e *CrawlError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *CrawlError) IsRetryable() bool {
	return e.Retryable
}
