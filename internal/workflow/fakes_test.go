package workflow

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/JakeFAU/erasure/internal/crawler"
	"github.com/JakeFAU/erasure/internal/poller"
	"github.com/JakeFAU/erasure/internal/records"
)

type sliceSource struct {
	recs []records.Record
	next int
}

func source(recs ...records.Record) *sliceSource {
	return &sliceSource{recs: recs}
}

func (s *sliceSource) Next() (records.Record, error) {
	if s.next >= len(s.recs) {
		return records.Record{}, io.EOF
	}
	rec := s.recs[s.next]
	s.next++
	return rec, nil
}

type fakeCrawler struct {
	mu      sync.Mutex
	results map[string]crawler.CrawlResult
	calls   []string
}

func (f *fakeCrawler) Crawl(_ context.Context, seed string) crawler.CrawlResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, seed)
	if res, ok := f.results[seed]; ok {
		return res
	}
	return crawler.CrawlResult{URL: "https://" + seed}
}

func (f *fakeCrawler) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakePoller returns a scripted status per website. With block set it waits
// for ctx to end and reports an interrupted poll.
type fakePoller struct {
	mu      sync.Mutex
	status  map[string]poller.Status
	block   bool
	started chan string
	calls   []poller.Target
}

func (f *fakePoller) Poll(ctx context.Context, target poller.Target) poller.Result {
	f.mu.Lock()
	f.calls = append(f.calls, target)
	status, ok := f.status[target.Website]
	block := f.block
	f.mu.Unlock()
	if f.started != nil {
		f.started <- target.Website
	}
	if block {
		<-ctx.Done()
		return poller.Result{Status: poller.StatusError, Website: target.Website, Interrupted: true, Error: poller.ErrInterrupted.Error()}
	}
	if !ok {
		status = poller.StatusComplete
	}
	res := poller.Result{Status: status, Website: target.Website, Ticks: 1}
	if status == poller.StatusComplete {
		done := fixedNow
		res.ConfirmationReceived = true
		res.CompletionDate = &done
	}
	return res
}

func (f *fakePoller) Calls() []poller.Target {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]poller.Target(nil), f.calls...)
}

var fixedNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

type fakeClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return fixedNow }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("00000000-0000-7000-8000-%012d", s.n), nil
}
