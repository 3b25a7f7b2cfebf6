// Package headless contains fetchers that execute JavaScript via browsers.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/erasure/internal/crawler"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	// MaxParallel caps concurrent browser tabs. Zero means unlimited.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// ChallengeTimeout bounds the wait for an anti-bot interstitial to clear.
	ChallengeTimeout time.Duration
	// CookieLabels are consent-button captions tried in order.
	CookieLabels []string
	// Settle is the pause after load before the DOM is captured.
	Settle time.Duration
}

func (c *Config) applyDefaults() {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 45 * time.Second
	}
	if c.ChallengeTimeout <= 0 {
		c.ChallengeTimeout = 20 * time.Second
	}
	if c.Settle <= 0 {
		c.Settle = 500 * time.Millisecond
	}
}

// Fetcher implements crawler.Fetcher using chromedp and headless Chrome.
type Fetcher struct {
	cfg     Config
	tabs    *semaphore.Weighted
	browser context.Context
	stop    context.CancelFunc
	logger  *zap.Logger
}

var _ crawler.Fetcher = (*Fetcher)(nil)

var browserFlags = []chromedp.ExecAllocatorOption{
	chromedp.Flag("headless", "new"),
	chromedp.Flag("disable-gpu", true),
	chromedp.Flag("hide-scrollbars", true),
	chromedp.Flag("enable-automation", false),
	chromedp.Flag("disable-blink-features", "AutomationControlled"),
}

// NewChromedp creates a headless fetcher backed by chromedp. The browser is
// launched lazily on the first fetch.
func NewChromedp(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0, got %d", cfg.MaxParallel)
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	f := &Fetcher{cfg: cfg, logger: logger}
	if cfg.MaxParallel > 0 {
		f.tabs = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	opts := append(append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...), browserFlags...)
	f.browser, f.stop = chromedp.NewExecAllocator(context.Background(), opts...)
	return f, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.stop()
}

// Fetch navigates with a headless browser, dismisses any cookie banner,
// waits out challenge pages and returns the rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if err := f.acquire(ctx); err != nil {
		return crawler.FetchResponse{}, &crawler.FetchError{URL: request.URL, Err: err}
	}
	defer f.release()

	tab, closeTab := chromedp.NewContext(f.browser)
	defer closeTab()
	defer context.AfterFunc(ctx, closeTab)()

	tab, cancel := context.WithTimeout(tab, f.cfg.NavigationTimeout+f.cfg.ChallengeTimeout)
	defer cancel()

	doc := &documentCapture{}
	chromedp.ListenTarget(tab, doc.observe)

	start := time.Now()
	var page renderedPage
	if err := chromedp.Run(tab, f.actions(request, &page)...); err != nil {
		if !errors.Is(err, crawler.ErrChallengeTimeout) {
			err = fmt.Errorf("chromedp run: %w", err)
		}
		return crawler.FetchResponse{}, &crawler.FetchError{URL: request.URL, Err: err}
	}

	resp := doc.response(request.URL, page.location)
	resp.Body = []byte(page.html)
	resp.Duration = time.Since(start)
	resp.UsedHeadless = true
	return resp, nil
}

type renderedPage struct {
	html     string
	location string
}

func (f *Fetcher) actions(request crawler.FetchRequest, page *renderedPage) []chromedp.Action {
	return []chromedp.Action{
		f.prepareTab(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			f.dismissCookies(ctx, request.URL)
			return nil
		}),
		chromedp.ActionFunc(f.awaitChallenge),
		chromedp.Sleep(f.cfg.Settle),
		chromedp.Location(&page.location),
		chromedp.OuterHTML("html", &page.html, chromedp.ByQuery),
	}
}

func (f *Fetcher) prepareTab(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if extra := toNetworkHeaders(headers); len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) awaitChallenge(ctx context.Context) error {
	readText := func(ctx context.Context) (string, error) {
		var text string
		if err := chromedp.Evaluate(pageTextScript, &text).Do(ctx); err != nil {
			return "", fmt.Errorf("read page text: %w", err)
		}
		return text, nil
	}
	return waitUntilClear(ctx, readText, f.cfg.ChallengeTimeout, challengePollInterval)
}

// dismissCookies clicks the first matching consent button. Failures are
// logged and ignored.
func (f *Fetcher) dismissCookies(ctx context.Context, pageURL string) {
	if len(f.cfg.CookieLabels) == 0 {
		return
	}
	script, err := cookieScript(f.cfg.CookieLabels)
	if err != nil {
		return
	}
	var clicked string
	if err := chromedp.Evaluate(script, &clicked).Do(ctx); err != nil {
		f.logger.Debug("cookie banner probe failed", zap.String("url", pageURL), zap.Error(err))
		return
	}
	if clicked != "" {
		f.logger.Debug("cookie banner dismissed", zap.String("url", pageURL), zap.String("label", clicked))
	}
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.tabs == nil {
		return nil
	}
	if err := f.tabs.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("headless slot wait canceled: %w", err)
	}
	return nil
}

func (f *Fetcher) release() {
	if f.tabs != nil {
		f.tabs.Release(1)
	}
}

// documentCapture keeps the last top-level document response seen by the
// tab, which after redirects is the page that was rendered.
type documentCapture struct {
	mu      sync.Mutex
	seen    bool
	status  int
	url     string
	headers http.Header
}

func (d *documentCapture) observe(ev any) {
	received, ok := ev.(*network.EventResponseReceived)
	if !ok || received.Type != network.ResourceTypeDocument || received.Response == nil {
		return
	}
	headers := fromNetworkHeaders(received.Response.Headers)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = true
	d.status = int(received.Response.Status)
	d.url = received.Response.URL
	d.headers = headers
}

// response builds the fetch metadata. Without a captured document the URL
// falls back to the browser location, then to the requested URL, and the
// status reads as 200.
func (d *documentCapture) response(requested, location string) crawler.FetchResponse {
	d.mu.Lock()
	defer d.mu.Unlock()

	resp := crawler.FetchResponse{URL: requested, StatusCode: http.StatusOK, Headers: http.Header{}}
	if location != "" {
		resp.URL = location
	}
	if !d.seen {
		return resp
	}
	if d.url != "" {
		resp.URL = d.url
	}
	if d.status != 0 {
		resp.StatusCode = d.status
	}
	if d.headers != nil {
		resp.Headers = d.headers.Clone()
	}
	return resp
}

func fromNetworkHeaders(raw network.Headers) http.Header {
	headers := make(http.Header, len(raw))
	for key, value := range raw {
		if list, ok := value.([]any); ok {
			for _, entry := range list {
				headers.Add(key, fmt.Sprint(entry))
			}
			continue
		}
		headers.Add(key, fmt.Sprint(value))
	}
	return headers
}

func toNetworkHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		if len(values) == 1 {
			out[key] = values[0]
		} else if len(values) > 1 {
			out[key] = append([]string(nil), values...)
		}
	}
	return out
}
