// Package metrics exposes Prometheus collectors for the erasure service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlPagesTotal            *prometheus.CounterVec
	crawlBytesTotal            *prometheus.CounterVec
	fetchPromotionsTotal       prometheus.Counter
	rateLimitDelaySeconds      *prometheus.HistogramVec
	requestsSentTotal          *prometheus.CounterVec
	tasksTotal                 *prometheus.CounterVec
	pollTicksTotal             prometheus.Counter
	confirmationsInFlight      prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to call
// repeatedly; every Observe helper calls it first.
func Init() {
	once.Do(func() {
		crawlPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "erasure_crawl_pages_total",
				Help: "Pages visited by the contact crawler, labeled by site and status.",
			},
			[]string{"site", "status"},
		)
		crawlBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "erasure_crawl_bytes_total",
				Help: "Bytes fetched by the contact crawler, labeled by site.",
			},
			[]string{"site"},
		)
		fetchPromotionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "erasure_fetch_promotions_total",
				Help: "Static fetches promoted to a headless render.",
			},
		)
		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "erasure_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the per-host fetch limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
		requestsSentTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "erasure_requests_sent_total",
				Help: "Deletion request emails, labeled by send result.",
			},
			[]string{"result"},
		)
		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "erasure_tasks_total",
				Help: "Tasks reaching a recorded status, labeled by status.",
			},
			[]string{"status"},
		)
		pollTicksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "erasure_poll_ticks_total",
				Help: "Inbox polls performed by confirmation pollers.",
			},
		)
		confirmationsInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "erasure_confirmations_in_flight",
				Help: "Confirmations currently being monitored.",
			},
		)
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite reduces a URL to a lowercase hostname, or "unknown".
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObservePage counts one crawled page.
func ObservePage(site, status string, bytesFetched int) {
	Init()
	sanitized := SanitizeSite(site)
	crawlPagesTotal.WithLabelValues(sanitized, status).Inc()
	if bytesFetched > 0 {
		crawlBytesTotal.WithLabelValues(sanitized).Add(float64(bytesFetched))
	}
}

// ObservePromotion counts a headless promotion.
func ObservePromotion() {
	Init()
	fetchPromotionsTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRequestSent counts a send attempt; result is "sent" or "failed".
func ObserveRequestSent(result string) {
	Init()
	requestsSentTotal.WithLabelValues(result).Inc()
}

// ObserveTask counts a status written to the ledger.
func ObserveTask(status string) {
	Init()
	tasksTotal.WithLabelValues(status).Inc()
}

// ObservePollTick counts one inbox poll.
func ObservePollTick() {
	Init()
	pollTicksTotal.Inc()
}

// IncConfirmations increments the in-flight confirmation gauge.
func IncConfirmations() {
	Init()
	confirmationsInFlight.Inc()
}

// DecConfirmations decrements the in-flight confirmation gauge.
func DecConfirmations() {
	Init()
	confirmationsInFlight.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
