package crawler

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/erasure/internal/clock/system"
	"github.com/JakeFAU/erasure/internal/metrics"
)

// Config tunes the contact crawler.
type Config struct {
	// MaxDepth bounds recursion; the seed is depth 0.
	MaxDepth int
	// Keywords gate link expansion: the raw href must contain one.
	Keywords []string
	// SectionKeywords select div/section/article elements by class.
	SectionKeywords []string
}

// DefaultConfig mirrors the crawler's stock behavior.
func DefaultConfig() Config {
	return Config{
		MaxDepth:        2,
		Keywords:        []string{"contact", "support", "about", "help"},
		SectionKeywords: []string{"contact", "support", "help"},
	}
}

// ContactCrawler walks a site looking for privacy contact details.
type ContactCrawler struct {
	fetcher Fetcher
	retry   RetryPolicy
	limiter Limiter
	cfg     Config
	logger  *zap.Logger
	sleep   func(context.Context, time.Duration) error
}

// New constructs a ContactCrawler. retry and limiter may be nil.
func New(fetcher Fetcher, retry RetryPolicy, limiter Limiter, cfg Config, logger *zap.Logger) *ContactCrawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Keywords) == 0 {
		cfg.Keywords = DefaultConfig().Keywords
	}
	if len(cfg.SectionKeywords) == 0 {
		cfg.SectionKeywords = DefaultConfig().SectionKeywords
	}
	if cfg.MaxDepth < 0 {
		cfg.MaxDepth = 0
	}
	return &ContactCrawler{
		fetcher: fetcher,
		retry:   retry,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger,
		sleep:   system.New().Sleep,
	}
}

// crawlState is shared by every recursive call of one Crawl.
type crawlState struct {
	base    string
	baseURL *url.URL
	visited map[string]struct{}
}

// Crawl walks the site rooted at seedURL. Per-page failures are recorded on
// the failing node; an unusable seed is reported on the root.
func (c *ContactCrawler) Crawl(ctx context.Context, seedURL string) CrawlResult {
	seed, err := NormalizeSeed(seedURL)
	if err != nil {
		return CrawlResult{URL: seedURL, Error: err.Error()}
	}
	base, err := BaseDomain(seed)
	if err != nil {
		return CrawlResult{URL: seedURL, Error: err.Error()}
	}
	baseURL, _ := url.Parse(base)
	st := &crawlState{base: base, baseURL: baseURL, visited: make(map[string]struct{})}

	c.logger.Info("crawl started", zap.String("seed", seed), zap.Int("max_depth", c.cfg.MaxDepth))
	result := c.scrape(ctx, st, seed, 0)
	c.logger.Info("crawl finished",
		zap.String("seed", seed),
		zap.Int("pages", len(st.visited)),
		zap.Int("mailto", len(CollectMailto(result))),
	)
	return result
}

func (c *ContactCrawler) scrape(ctx context.Context, st *crawlState, pageURL string, depth int) CrawlResult {
	if depth > c.cfg.MaxDepth {
		return CrawlResult{}
	}
	if _, seen := st.visited[pageURL]; seen {
		return CrawlResult{}
	}
	st.visited[pageURL] = struct{}{}

	logger := c.logger.With(zap.String("url", pageURL), zap.Int("depth", depth))
	resp, err := c.fetch(ctx, pageURL, depth)
	if err != nil {
		logger.Warn("page fetch failed", zap.Error(err))
		metrics.ObservePage(pageURL, "error", 0)
		return CrawlResult{URL: pageURL, Error: err.Error()}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		logger.Warn("page parse failed", zap.Error(err))
		metrics.ObservePage(pageURL, "error", len(resp.Body))
		return CrawlResult{URL: pageURL, Error: fmt.Sprintf("parse %s: %v", pageURL, err)}
	}
	metrics.ObservePage(pageURL, "ok", len(resp.Body))

	result := CrawlResult{
		URL:             pageURL,
		MailtoLinks:     extractMailto(doc),
		ContentExcerpts: extractExcerpts(doc, c.cfg.SectionKeywords),
	}
	if depth >= c.cfg.MaxDepth {
		return result
	}

	for _, href := range extractLinks(doc) {
		if ctx.Err() != nil {
			break
		}
		full, ok := resolveAgainst(st.baseURL, href)
		if !ok || !withinBase(full, st.base) {
			continue
		}
		if !containsAny(strings.ToLower(href), c.cfg.Keywords) {
			continue
		}
		if _, seen := st.visited[full]; seen {
			continue
		}
		child := c.scrape(ctx, st, full, depth+1)
		if result.SubPages == nil {
			result.SubPages = make(map[string]*CrawlResult)
		}
		result.SubPages[full] = &child
	}
	return result
}

// fetch runs the limiter, the fetcher and the retry policy for one page.
func (c *ContactCrawler) fetch(ctx context.Context, pageURL string, depth int) (FetchResponse, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, pageURL); err != nil {
				return FetchResponse{}, err
			}
		}
		resp, err := c.fetcher.Fetch(ctx, FetchRequest{URL: pageURL, Depth: depth})
		if err == nil && isRetryableStatus(resp.StatusCode) {
			err = &FetchError{URL: pageURL, StatusCode: resp.StatusCode}
		}
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if c.retry == nil || !c.retry.ShouldRetry(err, attempt) {
			return FetchResponse{}, lastErr
		}
		wait := c.retry.Backoff(attempt)
		c.logger.Debug("retrying fetch",
			zap.String("url", pageURL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := c.sleep(ctx, wait); err != nil {
			return FetchResponse{}, fmt.Errorf("%w (retry aborted: %v)", lastErr, err)
		}
	}
}

func isRetryableStatus(code int) bool {
	return code == 429 || code >= 500
}

// withinBase reports whether full lies under base. It is a prefix test that
// must end at a host boundary: a bare string prefix would also admit hosts
// that merely share the prefix, so https://a.com rejects both
// https://a.com.evil.net and https://a.company.com.
func withinBase(full, base string) bool {
	if !strings.HasPrefix(full, base) {
		return false
	}
	rest := full[len(base):]
	return rest == "" || rest[0] == '/' || rest[0] == '?'
}
