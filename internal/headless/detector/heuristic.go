// Package detector decides when a static fetch should be re-done in a
// headless browser: JavaScript shells with no server-rendered content, and
// anti-bot interstitials that only clear after scripts run.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/erasure/internal/crawler"
)

// Heuristic implements rule-based promotion.
type Heuristic struct {
	// BodyLengthThreshold caps the body size considered for script density.
	BodyLengthThreshold int
	// ScriptPercent is the share of markup inside <script> that marks a shell.
	ScriptPercent int
}

// NewHeuristic creates a detector. Zero values pick 2048 bytes and 25%.
func NewHeuristic(bodyThreshold, scriptPercent int) *Heuristic {
	if bodyThreshold <= 0 {
		bodyThreshold = 2048
	}
	if scriptPercent <= 0 || scriptPercent > 100 {
		scriptPercent = 25
	}
	return &Heuristic{BodyLengthThreshold: bodyThreshold, ScriptPercent: scriptPercent}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

var challengeStatuses = map[int]bool{
	http.StatusOK:                 true,
	http.StatusForbidden:          true,
	http.StatusTooManyRequests:    true,
	http.StatusServiceUnavailable: true,
}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if challengeStatuses[resp.StatusCode] && crawler.LooksLikeChallenge(string(resp.Body)) {
		return true
	}
	if resp.StatusCode != http.StatusOK {
		return false
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptShare(body) >= h.ScriptPercent {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptShare returns the percentage of body bytes that sit inside script
// elements, tags included. An unterminated script runs to the end.
func scriptShare(body []byte) int {
	lower := strings.ToLower(string(body))
	if lower == "" {
		return 0
	}
	covered := 0
	rest := lower
	for {
		start := strings.Index(rest, "<script")
		if start < 0 {
			break
		}
		rest = rest[start:]
		end := strings.Index(rest, "</script>")
		if end < 0 {
			covered += len(rest)
			break
		}
		end += len("</script>")
		covered += end
		rest = rest[end:]
	}
	return covered * 100 / len(lower)
}
