package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{ timeout bool }

func (e timeoutErr) Error() string   { return "net" }
func (e timeoutErr) Timeout() bool   { return e.timeout }
func (e timeoutErr) Temporary() bool { return false }

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy()
	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{"nil", nil, 1, false},
		{"generic", errors.New("reset"), 1, true},
		{"exhausted", errors.New("reset"), 3, false},
		{"canceled", fmt.Errorf("wrap: %w", context.Canceled), 1, false},
		{"deadline", context.DeadlineExceeded, 1, false},
		{"404", &FetchError{StatusCode: 404}, 1, false},
		{"429", &FetchError{StatusCode: 429}, 1, true},
		{"503", &FetchError{StatusCode: 503}, 2, true},
		{"net timeout", timeoutErr{timeout: true}, 1, true},
		{"net refused", timeoutErr{timeout: false}, 1, true},
		{"dropped connection", &FetchError{URL: "https://a.com", Err: &url.Error{Op: "Get", URL: "https://a.com", Err: io.EOF}}, 1, true},
		{"reset", &url.Error{Op: "Get", URL: "https://a.com", Err: syscall.ECONNRESET}, 2, true},
		{"challenge", &FetchError{Err: ErrChallengeTimeout}, 1, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, p.ShouldRetry(tc.err, tc.attempt))
		})
	}
}

func TestBackoffBounds(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(5, 100*time.Millisecond, 400*time.Millisecond)
	for attempt := 0; attempt < 6; attempt++ {
		d := p.Backoff(attempt)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 400*time.Millisecond)
	}
}

func TestNewRetryPolicyDefaults(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(0, 0, 0)
	assert.Equal(t, 3, p.maxAttempts)
	assert.Equal(t, 250*time.Millisecond, p.baseDelay)
}
