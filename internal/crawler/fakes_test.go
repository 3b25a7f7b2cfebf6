package crawler

import (
	"context"
	"sync"
)

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string][]error
	calls map[string]int
	order []string
}

func newFakeFetcher(pages map[string]string) *fakeFetcher {
	return &fakeFetcher{pages: pages, errs: map[string][]error{}, calls: map[string]int{}}
}

func (f *fakeFetcher) failWith(url string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = append(f.errs[url], errs...)
}

func (f *fakeFetcher) Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.URL]++
	f.order = append(f.order, req.URL)
	if err := ctx.Err(); err != nil {
		return FetchResponse{}, err
	}
	if queued := f.errs[req.URL]; len(queued) > 0 {
		err := queued[0]
		f.errs[req.URL] = queued[1:]
		return FetchResponse{}, err
	}
	body, ok := f.pages[req.URL]
	if !ok {
		return FetchResponse{URL: req.URL, StatusCode: 404}, &FetchError{URL: req.URL, StatusCode: 404}
	}
	return FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(body)}, nil
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

type fakeDetector struct{ promote bool }

func (d fakeDetector) ShouldPromote(FetchResponse) bool { return d.promote }
