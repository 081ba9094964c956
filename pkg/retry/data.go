package retry

import (
	"time"

	"github.com/kellanvoss/linkgraph/pkg/failure"
	"github.com/kellanvoss/linkgraph/pkg/timeutil"
)

// RetryParam holds the parameters for retry logic.
// These parameters are passed from outside (e.g., config) and should not
// be known by the retry handler internally.
type RetryParam struct {
	BaseDelay    time.Duration
	Jitter       time.Duration
	RandomSeed   int64
	MaxAttempts  int
	BackoffParam timeutil.BackoffParam
}

// NewRetryParam creates a new RetryParam with the given settings.
func NewRetryParam(
	baseDelay time.Duration,
	jitter time.Duration,
	randomSeed int64,
	maxAttempts int,
	backoffParam timeutil.BackoffParam,
) RetryParam {
	return RetryParam{
		BaseDelay:    baseDelay,
		Jitter:       jitter,
		RandomSeed:   randomSeed,
		MaxAttempts:  maxAttempts,
		BackoffParam: backoffParam,
	}
}

// Result holds the outcome of a Retry call: the produced value (zero on
// failure), the classified error (nil on success), and the number of
// attempts actually made.
type Result[T any] struct {
	value    T
	err      error
	attempts int
}

// NewSuccessResult builds a successful Result after the given number of attempts.
func NewSuccessResult[T any](value T, attempts int) Result[T] {
	return Result[T]{value: value, attempts: attempts}
}

func (r Result[T]) Value() T {
	return r.value
}

// Err returns the failure as a failure.ClassifiedError, or nil on success.
func (r Result[T]) Err() failure.ClassifiedError {
	if r.err == nil {
		return nil
	}
	if ce, ok := r.err.(failure.ClassifiedError); ok {
		return ce
	}
	return nil
}

func (r Result[T]) IsSuccess() bool {
	return r.err == nil
}

func (r Result[T]) IsFailure() bool {
	return r.err != nil
}

func (r Result[T]) Attempts() int {
	return r.attempts
}
