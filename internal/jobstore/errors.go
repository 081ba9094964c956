package jobstore

import (
	"errors"
	"fmt"

	"github.com/kellanvoss/linkgraph/pkg/failure"
)

// ErrJobNotFound is returned when a job id has no corresponding row.
var ErrJobNotFound = errors.New("jobstore: job not found")

// ErrNoCompletedJob is returned by LatestReport when a target domain has
// never had a job reach completed.
var ErrNoCompletedJob = errors.New("jobstore: no completed job for domain")

// StoreErrorCause classifies failures writing to the underlying database.
// Per spec.md §7, any StorageError is fatal to the job whose write failed.
type StoreErrorCause string

const (
	ErrCauseOpenFailed   StoreErrorCause = "open failed"
	ErrCauseTxFailed     StoreErrorCause = "transaction failed"
	ErrCauseEncodeFailed StoreErrorCause = "encode failed"
	ErrCauseDecodeFailed StoreErrorCause = "decode failed"
)

type StoreError struct {
	Message string
	Cause   StoreErrorCause
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("jobstore error: %s: %s", e.Cause, e.Message)
}

// Severity is always fatal: a storage failure fails the whole job, never
// merely the current URL (spec.md §7's StorageError policy).
func (e *StoreError) Severity() failure.Severity {
	return failure.SeverityFatal
}

func (e *StoreError) IsRetryable() bool {
	return false
}
