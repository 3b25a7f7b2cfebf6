package headless

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/erasure/internal/crawler"
)

const challengePollInterval = 500 * time.Millisecond

// pageTextScript wraps the title in <title> tags so title-only challenge
// markers match rendered text the same way they match markup.
const pageTextScript = `"<title>" + document.title + "</title>\n" + (document.body ? document.body.innerText : "")`

// waitUntilClear polls the page text until no challenge marker remains or
// timeout passes, in which case crawler.ErrChallengeTimeout is returned.
func waitUntilClear(
	ctx context.Context,
	probe func(context.Context) (string, error),
	timeout, interval time.Duration,
) error {
	deadline := time.Now().Add(timeout)
	for {
		text, err := probe(ctx)
		if err != nil {
			return err
		}
		if !crawler.LooksLikeChallenge(text) {
			return nil
		}
		if !time.Now().Before(deadline) {
			return crawler.ErrChallengeTimeout
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("challenge wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// cookieScript builds a snippet that clicks the first visible control whose
// caption equals one of labels (case-insensitive) and returns that label.
func cookieScript(labels []string) (string, error) {
	encoded, err := json.Marshal(labels)
	if err != nil {
		return "", fmt.Errorf("encode cookie labels: %w", err)
	}
	return fmt.Sprintf(`(function(labels) {
  const nodes = Array.from(document.querySelectorAll(
    'button, [role="button"], a, input[type="button"], input[type="submit"]'));
  for (const label of labels) {
    const want = label.trim().toLowerCase();
    for (const el of nodes) {
      const caption = String(el.innerText || el.value || el.getAttribute("aria-label") || "").trim().toLowerCase();
      if (caption === want && el.offsetParent !== null) {
        el.click();
        return label;
      }
    }
  }
  return "";
})(%s)`, encoded), nil
}
