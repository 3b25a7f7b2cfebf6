// Package poller watches a mailbox for the reply confirming a deletion
// request. A poll ends in exactly one terminal state: complete, timeout or
// error.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/erasure/internal/clock/system"
	"github.com/JakeFAU/erasure/internal/mail"
	"github.com/JakeFAU/erasure/internal/metrics"
)

// ErrInterrupted marks a poll that stopped because its context ended.
var ErrInterrupted = errors.New("confirmation polling interrupted")

// Status is a terminal poll state.
type Status string

// Terminal states.
const (
	StatusComplete Status = "complete"
	StatusTimeout  Status = "timeout"
	StatusError    Status = "error"
)

// Mark-read policies.
const (
	MarkReadAll     = "all"
	MarkReadMatched = "matched"
	MarkReadNone    = "none"
)

// Target is the request whose confirmation is awaited.
type Target struct {
	Website   string `json:"website"`
	UserEmail string `json:"user_email"`
}

// Result is the outcome of one Poll call.
type Result struct {
	Status               Status     `json:"status"`
	Website              string     `json:"website"`
	ConfirmationReceived bool       `json:"confirmation_received"`
	CompletionDate       *time.Time `json:"completion_date,omitempty"`
	Error                string     `json:"error,omitempty"`
	Ticks                int        `json:"ticks"`
	MatchedMessageID     string     `json:"matched_message_id,omitempty"`
	// Interrupted is set when the context ended before a terminal state was
	// reached. Such results must not be persisted as final.
	Interrupted bool `json:"-"`
}

// Err returns ErrInterrupted for interrupted results and nil otherwise.
func (r Result) Err() error {
	if r.Interrupted {
		return ErrInterrupted
	}
	return nil
}

// Config bounds a poll session.
type Config struct {
	Interval    time.Duration
	MaxDuration time.Duration
	// MaxTicks stops polling after this many ticks when positive.
	MaxTicks   int
	MaxResults int
	MarkRead   string
}

// Poller runs poll sessions against one mailbox.
type Poller struct {
	reader  mail.Reader
	matcher Matcher
	cfg     Config
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
	logger  *zap.Logger
}

// Option customizes a Poller.
type Option func(*Poller)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// WithSleeper overrides the interval wait.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(p *Poller) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// New constructs a Poller.
func New(reader mail.Reader, matcher Matcher, cfg Config, logger *zap.Logger, opts ...Option) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if matcher == nil {
		matcher = PhraseMatcher{Phrase: "deletion confirmed"}
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 20
	}
	if cfg.MarkRead == "" {
		cfg.MarkRead = MarkReadAll
	}
	clock := system.New()
	p := &Poller{
		reader:  reader,
		matcher: matcher,
		cfg:     cfg,
		now:     clock.Now,
		sleep:   clock.Sleep,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll ticks until a message matches, the session budget runs out, the
// mailbox fails, or ctx ends.
func (p *Poller) Poll(ctx context.Context, target Target) Result {
	return p.session(ctx, target, func(ctx context.Context, logger *zap.Logger) (string, error) {
		return p.tick(ctx, target, logger)
	})
}

// tickFunc inspects the mailbox once and returns the id of the message that
// confirms the session's target, or "".
type tickFunc func(ctx context.Context, logger *zap.Logger) (string, error)

// session drives tick until a terminal state, sleeping the interval between
// ticks and enforcing the session budget.
func (p *Poller) session(ctx context.Context, target Target, tick tickFunc) Result {
	logger := p.logger.With(zap.String("website", target.Website), zap.String("email", target.UserEmail))
	res := Result{Website: target.Website}
	start := p.now()

	for n := 1; ; n++ {
		if ctx.Err() != nil {
			return interrupted(res)
		}
		metrics.ObservePollTick()
		res.Ticks = n

		id, err := tick(ctx, logger)
		if err != nil {
			if ctx.Err() != nil {
				return interrupted(res)
			}
			logger.Warn("confirmation poll failed", zap.Int("tick", n), zap.Error(err))
			res.Status = StatusError
			res.Error = err.Error()
			return res
		}
		if id != "" {
			done := p.now()
			res.Status = StatusComplete
			res.ConfirmationReceived = true
			res.CompletionDate = &done
			res.MatchedMessageID = id
			logger.Info("deletion confirmed", zap.Int("tick", n), zap.String("message_id", id))
			return res
		}
		if p.cfg.MaxTicks > 0 && n >= p.cfg.MaxTicks {
			return timedOut(res, logger)
		}
		if p.cfg.MaxDuration > 0 && p.now().Sub(start) >= p.cfg.MaxDuration {
			return timedOut(res, logger)
		}
		if err := p.sleep(ctx, p.cfg.Interval); err != nil {
			return interrupted(res)
		}
	}
}

// tick inspects one page of unread mail and returns the id of the first
// matching message, or "".
func (p *Poller) tick(ctx context.Context, target Target, logger *zap.Logger) (string, error) {
	refs, err := p.reader.ListUnread(ctx, p.cfg.MaxResults)
	if err != nil {
		return "", fmt.Errorf("list unread: %w", err)
	}
	for i, ref := range refs {
		msg, err := p.reader.GetMessage(ctx, ref.ID)
		if err != nil {
			return "", fmt.Errorf("get message %s: %w", ref.ID, err)
		}
		cand := Candidate{Message: msg, Text: mail.DigestEntry(i+1, msg)}
		logger.Debug("inspecting message", zap.String("message_id", ref.ID), zap.String("subject", msg.Subject()))
		matched := p.matcher.Match(target, cand)
		if p.cfg.MarkRead == MarkReadAll || (matched && p.cfg.MarkRead == MarkReadMatched) {
			if err := p.reader.MarkRead(ctx, ref.ID); err != nil {
				return "", fmt.Errorf("mark read %s: %w", ref.ID, err)
			}
		}
		if matched {
			return ref.ID, nil
		}
	}
	return "", nil
}

func timedOut(res Result, logger *zap.Logger) Result {
	res.Status = StatusTimeout
	logger.Info("confirmation poll timed out", zap.Int("ticks", res.Ticks))
	return res
}

func interrupted(res Result) Result {
	res.Status = StatusError
	res.Interrupted = true
	res.Error = ErrInterrupted.Error()
	return res
}
