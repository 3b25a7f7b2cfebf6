package poller

import (
	"context"
	"fmt"
	netmail "net/mail"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/erasure/internal/domaincache"
	"github.com/JakeFAU/erasure/internal/mail"
)

// Router serves concurrent polls from one mailbox. Every tick of every poll
// runs the same serialized scan, which hands each unread message to the
// waiting target it confirms. A poll only ever completes with a message
// routed to its own target.
//
// The matcher is always domain scoped. Messages that confirm no waiting
// target stay unread regardless of the mark-read policy, so a target whose
// poll has not started yet can still claim them. A routed message is marked
// read (unless the policy is none) when its owner collects it.
type Router struct {
	poller *Poller

	mu      sync.Mutex
	waiters []*waiter
	routed  map[string]*waiter
}

type waiter struct {
	target  Target
	domain  string
	claimed string
}

// NewRouter builds a Router. Options apply as for New.
func NewRouter(reader mail.Reader, matcher Matcher, cfg Config, logger *zap.Logger, opts ...Option) *Router {
	p := New(reader, matcher, cfg, logger, opts...)
	if _, scoped := p.matcher.(DomainScoped); !scoped {
		p.matcher = DomainScoped{Inner: p.matcher}
	}
	return &Router{poller: p, routed: make(map[string]*waiter)}
}

// Poll waits for target's confirmation with the same terminal states as
// Poller.Poll.
func (r *Router) Poll(ctx context.Context, target Target) Result {
	w := r.register(target)
	defer r.unregister(w)
	return r.poller.session(ctx, target, func(ctx context.Context, logger *zap.Logger) (string, error) {
		return r.scan(ctx, w, logger)
	})
}

// Waiting reports how many polls are registered.
func (r *Router) Waiting() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

func (r *Router) register(target Target) *waiter {
	w := &waiter{target: target, domain: domaincache.Normalize(target.Website)}
	r.mu.Lock()
	r.waiters = append(r.waiters, w)
	r.mu.Unlock()
	return w
}

// unregister drops w. A claim it never collected is released so the message
// can be routed again.
func (r *Router) unregister(w *waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, other := range r.waiters {
		if other == w {
			r.waiters = append(r.waiters[:i], r.waiters[i+1:]...)
			break
		}
	}
	if w.claimed != "" {
		delete(r.routed, w.claimed)
		r.poller.logger.Warn("releasing uncollected confirmation",
			zap.String("website", w.target.Website), zap.String("message_id", w.claimed))
	}
}

func (r *Router) scan(ctx context.Context, self *waiter, logger *zap.Logger) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if self.claimed == "" {
		if err := r.route(ctx, logger); err != nil {
			return "", err
		}
	}
	if self.claimed == "" {
		return "", nil
	}
	id := self.claimed
	if r.poller.cfg.MarkRead != MarkReadNone {
		if err := r.poller.reader.MarkRead(ctx, id); err != nil {
			return "", fmt.Errorf("mark read %s: %w", id, err)
		}
	}
	self.claimed = ""
	return id, nil
}

// route inspects one page of unread mail and assigns every message that
// confirms a waiting target. Callers hold r.mu.
func (r *Router) route(ctx context.Context, logger *zap.Logger) error {
	p := r.poller
	refs, err := p.reader.ListUnread(ctx, p.cfg.MaxResults)
	if err != nil {
		return fmt.Errorf("list unread: %w", err)
	}
	for i, ref := range refs {
		if _, taken := r.routed[ref.ID]; taken {
			continue
		}
		msg, err := p.reader.GetMessage(ctx, ref.ID)
		if err != nil {
			return fmt.Errorf("get message %s: %w", ref.ID, err)
		}
		cand := Candidate{Message: msg, Text: mail.DigestEntry(i+1, msg)}
		owner := r.owner(cand)
		if owner == nil {
			continue
		}
		owner.claimed = ref.ID
		r.routed[ref.ID] = owner
		logger.Debug("confirmation routed",
			zap.String("message_id", ref.ID), zap.String("owner", owner.target.Website))
	}
	return nil
}

// owner picks the waiting target a candidate confirms. Among matching
// targets, one whose domain sent the message wins over one merely mentioned
// in the text, and a target whose user email appears in the text wins ties.
// Remaining ties go to the longest-waiting target.
func (r *Router) owner(c Candidate) *waiter {
	sender := senderDomain(c.Message.From())
	text := strings.ToLower(c.Text)

	var best *waiter
	bestScore := -1
	for _, w := range r.waiters {
		if w.claimed != "" || !r.poller.matcher.Match(w.target, c) {
			continue
		}
		score := 0
		if sender != "" && (sender == w.domain || strings.HasSuffix(sender, "."+w.domain)) {
			score += 2
		}
		if email := strings.ToLower(w.target.UserEmail); email != "" && strings.Contains(text, email) {
			score++
		}
		if score > bestScore {
			best, bestScore = w, score
		}
	}
	return best
}

func senderDomain(from string) string {
	addr := from
	if parsed, err := netmail.ParseAddress(from); err == nil {
		addr = parsed.Address
	}
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.Trim(addr[at+1:], "> "))
}
