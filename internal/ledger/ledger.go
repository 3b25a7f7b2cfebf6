// Package ledger persists the outcome of every deletion task, keyed by
// website and user email, so completed work is never repeated across runs.
//
// The ledger owns one JSON document. It is loaded fully on Open and written
// fully after every mutation.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/erasure/internal/storage"
)

// Status is the outcome recorded for a task.
type Status string

// Known task statuses.
const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
	StatusTimeout  Status = "timeout"
	StatusError    Status = "error"
)

// TrackedTask is the value stored for one website/email pair.
type TrackedTask struct {
	Status         Status          `json:"status"`
	CompletionDate time.Time       `json:"completion_date"`
	Details        json.RawMessage `json:"details,omitempty"`
}

// IOError reports a ledger document that could not be read or written.
type IOError struct {
	Op       string
	Document string
	Err      error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("ledger %s %s: %v", e.Op, e.Document, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Key builds the ledger key for a website/email pair.
func Key(website, email string) string {
	return website + ":" + email
}

// Ledger is a mutex-guarded view of the ledger document.
type Ledger struct {
	mu     sync.RWMutex
	store  storage.DocumentStore
	name   string
	tasks  map[string]TrackedTask
	now    func() time.Time
	logger *zap.Logger
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// Open loads the named document from store. A missing document is created
// empty and persisted immediately. Any read or parse failure is an *IOError.
func Open(ctx context.Context, store storage.DocumentStore, name string, logger *zap.Logger, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("ledger document name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		store:  store,
		name:   name,
		tasks:  make(map[string]TrackedTask),
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}

	data, err := store.Get(ctx, name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if err := l.flush(ctx, l.tasks); err != nil {
			return nil, err
		}
		logger.Info("ledger created", zap.String("document", name))
		return l, nil
	case err != nil:
		return nil, &IOError{Op: "read", Document: name, Err: err}
	}

	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &l.tasks); err != nil {
			return nil, &IOError{Op: "parse", Document: name, Err: err}
		}
	}
	if l.tasks == nil {
		l.tasks = make(map[string]TrackedTask)
	}
	for key, task := range l.tasks {
		task.Details = compact(task.Details)
		l.tasks[key] = task
	}
	logger.Info("ledger loaded", zap.String("document", name), zap.Int("tasks", len(l.tasks)))
	return l, nil
}

// IsCompleted reports whether the pair has a complete status.
func (l *Ledger) IsCompleted(website, email string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	task, ok := l.tasks[Key(website, email)]
	return ok && task.Status == StatusComplete
}

// MarkCompleted records status and details for the pair with a fresh
// timestamp, overwriting any earlier entry, and flushes the document. When the
// flush fails the in-memory state is rolled back and an *IOError is returned.
func (l *Ledger) MarkCompleted(ctx context.Context, website, email string, status Status, details any) error {
	raw, err := encodeDetails(details)
	if err != nil {
		return fmt.Errorf("encode details: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := Key(website, email)
	prev, existed := l.tasks[key]
	l.tasks[key] = TrackedTask{Status: status, CompletionDate: l.now(), Details: raw}

	if err := l.flush(ctx, l.tasks); err != nil {
		if existed {
			l.tasks[key] = prev
		} else {
			delete(l.tasks, key)
		}
		return err
	}
	l.logger.Debug("ledger updated", zap.String("key", key), zap.String("status", string(status)))
	return nil
}

// Status returns the tracked entry for the pair.
func (l *Ledger) Status(website, email string) (TrackedTask, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	task, ok := l.tasks[Key(website, email)]
	return task, ok
}

// Pending lists the keys whose last recorded status is pending, sorted.
func (l *Ledger) Pending() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var keys []string
	for key, task := range l.tasks {
		if task.Status == StatusPending {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Entries returns a copy of every tracked task.
func (l *Ledger) Entries() map[string]TrackedTask {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]TrackedTask, len(l.tasks))
	for key, task := range l.tasks {
		out[key] = task
	}
	return out
}

func (l *Ledger) flush(ctx context.Context, tasks map[string]TrackedTask) error {
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return &IOError{Op: "encode", Document: l.name, Err: err}
	}
	if _, err := l.store.Put(ctx, l.name, data); err != nil {
		return &IOError{Op: "write", Document: l.name, Err: err}
	}
	return nil
}

func encodeDetails(details any) (json.RawMessage, error) {
	switch d := details.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return compact(d), nil
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func compact(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
