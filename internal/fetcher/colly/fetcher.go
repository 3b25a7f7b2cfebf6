// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/erasure/internal/crawler"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodySize   int
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg  Config
	base *colly.Collector
}

var _ crawler.Fetcher = (*Fetcher)(nil)

// New builds a Fetcher sharing one pooled transport across requests.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	base := colly.NewCollector(colly.Async(false))
	base.WithTransport(pooledTransport())
	return &Fetcher{cfg: cfg, base: base}
}

// Fetch executes a single HTTP GET. Error statuses are returned as responses
// so callers can inspect challenge pages; transport failures are errors.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	v := &visit{request: request, started: time.Now()}
	collector := f.collector()
	collector.OnRequest(v.onRequest)
	collector.OnResponse(v.onResponse)
	collector.OnError(v.onError)

	done := make(chan error, 1)
	go func() { done <- collector.Visit(request.URL) }()

	var err error
	select {
	case <-ctx.Done():
		err = fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case visitErr := <-done:
		err = v.outcome(visitErr)
	}
	if err != nil {
		return crawler.FetchResponse{}, &crawler.FetchError{URL: request.URL, Err: err}
	}
	return v.response, nil
}

// collector clones the base collector so per-request callbacks never leak
// between fetches.
func (f *Fetcher) collector() *colly.Collector {
	c := f.base.Clone()
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}
	c.IgnoreRobotsTxt = !f.cfg.RespectRobots
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	if f.cfg.MaxBodySize > 0 {
		c.MaxBodySize = f.cfg.MaxBodySize
	}
	c.SetRequestTimeout(f.cfg.Timeout)
	return c
}

// visit collects what the colly callbacks observe for one request.
type visit struct {
	request  crawler.FetchRequest
	started  time.Time
	response crawler.FetchResponse
	failure  error
}

func (v *visit) onRequest(r *colly.Request) {
	for key, values := range v.request.Headers {
		for _, value := range values {
			r.Headers.Add(key, value)
		}
	}
}

func (v *visit) onResponse(r *colly.Response) {
	v.response = crawler.FetchResponse{
		URL:        r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Body:       append([]byte(nil), r.Body...),
		Duration:   time.Since(v.started),
	}
	if r.Headers != nil {
		v.response.Headers = r.Headers.Clone()
	}
}

func (v *visit) onError(_ *colly.Response, err error) {
	v.failure = err
}

func (v *visit) outcome(visitErr error) error {
	switch {
	case visitErr != nil:
		return fmt.Errorf("colly visit failed: %w", visitErr)
	case v.failure != nil:
		return fmt.Errorf("colly response failed: %w", v.failure)
	}
	return nil
}

func pooledTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
