// Package driven defines secondary port interfaces for external adapters.
package driven

import (
	"context"
	"fmt"
	"time"

	"github.com/ericfisherdev/commitcast/internal/domain/model"
)

// CommitPageSize is the number of commits requested per fetch. Only the
// first page is ever read.
const CommitPageSize = 10

// CommitSource defines the driven port for listing recent commits on a branch.
//
// Implementations must return at most CommitPageSize commits ordered
// newest-first. Every failure is returned as a *FetchError.
type CommitSource interface {
	FetchRecentCommits(ctx context.Context, owner, name, branch string) ([]model.CommitRecord, error)
}

// FetchFailureKind classifies why a commit fetch failed.
type FetchFailureKind string

const (
	// FailureTransport is a network-level failure (DNS, connect, timeout).
	FailureTransport FetchFailureKind = "transport"
	// FailureRateLimited means the API quota is exhausted. Never retried.
	FailureRateLimited FetchFailureKind = "rate_limited"
	// FailureRetriesExhausted means every attempt hit a transient failure.
	FailureRetriesExhausted FetchFailureKind = "retries_exhausted"
	// FailureHTTPStatus is a non-retryable, non-200 response.
	FailureHTTPStatus FetchFailureKind = "http_status"
)

// FetchError is the typed failure returned by CommitSource implementations.
type FetchError struct {
	Kind       FetchFailureKind
	Slug       string
	StatusCode int
	Body       string
	// ResetIn is the time until the rate limit window resets. Zero when the
	// reset time is unknown or already past.
	ResetIn  time.Duration
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case FailureRateLimited:
		if e.ResetIn > 0 {
			return fmt.Sprintf("fetch commits for %s: rate limited, resets in %s", e.Slug, e.ResetIn)
		}
		return fmt.Sprintf("fetch commits for %s: rate limited, reset time unknown", e.Slug)
	case FailureHTTPStatus:
		return fmt.Sprintf("fetch commits for %s: HTTP %d: %s", e.Slug, e.StatusCode, e.Body)
	case FailureRetriesExhausted:
		return fmt.Sprintf("fetch commits for %s: gave up after %d attempts: %v", e.Slug, e.Attempts, e.Err)
	default:
		return fmt.Sprintf("fetch commits for %s: %s: %v", e.Slug, e.Kind, e.Err)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
