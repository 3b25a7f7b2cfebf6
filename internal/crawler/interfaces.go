package crawler

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// RetryPolicy decides whether and when a failed fetch is attempted again.
// attempt counts the attempts already made, starting at 1.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Limiter throttles fetches per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}
