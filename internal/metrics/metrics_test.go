package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(crawlPagesTotal.WithLabelValues("observe.test", "ok"))
	ObservePage("https://observe.test/contact", "ok", 512)
	if got := testutil.ToFloat64(crawlPagesTotal.WithLabelValues("observe.test", "ok")); got != before+1 {
		t.Fatalf("expected page counter to increase by 1, got %f -> %f", before, got)
	}
	if got := testutil.ToFloat64(crawlBytesTotal.WithLabelValues("observe.test")); got < 512 {
		t.Fatalf("expected bytes to be recorded, got %f", got)
	}

	sentBefore := testutil.ToFloat64(requestsSentTotal.WithLabelValues("sent"))
	ObserveRequestSent("sent")
	if got := testutil.ToFloat64(requestsSentTotal.WithLabelValues("sent")); got != sentBefore+1 {
		t.Fatalf("expected sent counter to increase")
	}

	taskBefore := testutil.ToFloat64(tasksTotal.WithLabelValues("timeout"))
	ObserveTask("timeout")
	if got := testutil.ToFloat64(tasksTotal.WithLabelValues("timeout")); got != taskBefore+1 {
		t.Fatalf("expected task counter to increase")
	}

	gauge := testutil.ToFloat64(confirmationsInFlight)
	IncConfirmations()
	DecConfirmations()
	if got := testutil.ToFloat64(confirmationsInFlight); got != gauge {
		t.Fatalf("expected gauge to return to %f, got %f", gauge, got)
	}

	ObservePromotion()
	ObservePollTick()
	ObserveRateLimitDelay("observe.test", 20*time.Millisecond)
	if n := testutil.CollectAndCount(rateLimitDelaySeconds); n == 0 {
		t.Fatalf("expected rate limit histogram to be observed")
	}
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
