package crawler

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// FetchRequest describes one page fetch.
type FetchRequest struct {
	URL         string
	Depth       int
	UseHeadless bool
	Headers     http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// CrawlResult is one node of the crawl tree. A node that was skipped because
// it was already visited or too deep is the zero value.
type CrawlResult struct {
	URL             string                  `json:"url,omitempty"`
	MailtoLinks     []string                `json:"mailto_links,omitempty"`
	ContentExcerpts []string                `json:"content,omitempty"`
	SubPages        map[string]*CrawlResult `json:"sub_pages,omitempty"`
	Error           string                  `json:"error,omitempty"`
}

// Empty reports whether the node carries no data.
func (r CrawlResult) Empty() bool {
	return r.URL == "" && r.Error == "" && len(r.MailtoLinks) == 0 &&
		len(r.ContentExcerpts) == 0 && len(r.SubPages) == 0
}

// ErrChallengeTimeout is returned when an anti-bot interstitial never clears.
var ErrChallengeTimeout = errors.New("challenge page did not clear")

// FetchError reports a fetch that produced no usable page.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 && e.Err == nil {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether the status suggests a later attempt may succeed.
func (e *FetchError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	case e.StatusCode >= 400:
		return false
	}
	return true
}
