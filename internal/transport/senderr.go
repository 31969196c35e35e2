package transport

import (
	"errors"
	"fmt"
	"time"
)

// Send failures are classified once, at the adapter boundary, into three
// buckets the send queue can act on without parsing error text:
//
//   - rate-limited: the platform explicitly asked to wait (carries a hint)
//   - transient:    timeouts and connectivity-level failures, worth retrying
//   - anything else: permanent (bad chat, malformed payload, revoked token)
//
// An unclassified error is treated as permanent by callers.

// RateLimited wraps err with an explicit retry-after hint.
func RateLimited(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return rateLimitedError{err: err, after: after}
}

// RateLimitedError is implemented by errors that carry a platform-signaled
// retry delay.
type RateLimitedError interface {
	error
	RetryAfter() time.Duration
}

type rateLimitedError struct {
	err   error
	after time.Duration
}

func (e rateLimitedError) Error() string             { return fmt.Sprintf("rate limited (retry after %s): %v", e.after, e.err) }
func (e rateLimitedError) Unwrap() error             { return e.err }
func (e rateLimitedError) RetryAfter() time.Duration { return e.after }

// Transient wraps err as a retryable network-level failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether err was classified as transient.
func IsTransient(err error) bool {
	var e transientError
	return errors.As(err, &e)
}

type transientError struct{ err error }

func (e transientError) Error() string { return fmt.Sprintf("transient: %v", e.err) }
func (e transientError) Unwrap() error { return e.err }
