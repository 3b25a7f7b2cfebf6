package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/JakeFAU/erasure/internal/id/uuid"
	"github.com/JakeFAU/erasure/internal/storage"
)

// Step names recorded in a Status.
const (
	StepSiteData    = "site_data"
	StepRequestSent = "request_sent"
	StepMonitoring  = "monitoring"
)

// Step outcomes other than the poller's terminal states.
const (
	StepSuccess     = "success"
	StepFailed      = "failed"
	StepPending     = "pending"
	StepInterrupted = "interrupted"
)

// StepRecord is one entry in the audit trail of a run.
type StepRecord struct {
	Step      string    `json:"step"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Details   any       `json:"details"`
}

// Status is the audit record of one attempt at one website/user pair. It is
// written to its own document after every mutation and never merged with
// other runs.
type Status struct {
	mu        sync.Mutex
	store     storage.DocumentStore
	name      string
	now       func() time.Time
	RunID     string       `json:"run_id"`
	Website   string       `json:"website"`
	UserEmail string       `json:"user_email"`
	StartTime time.Time    `json:"start_time"`
	Steps     []StepRecord `json:"steps"`
	Completed bool         `json:"completed"`
	EndTime   *time.Time   `json:"end_time,omitempty"`
}

// StatusName builds the artifact name for a run started at start.
func StatusName(prefix string, start time.Time, runID string) string {
	file := fmt.Sprintf("status_%s_%s.json", start.UTC().Format("20060102_150405"), uuid.Short(runID))
	if prefix == "" {
		return file
	}
	return path.Join(prefix, file)
}

// NewStatus starts a run record. Nothing is written until the first update.
func NewStatus(store storage.DocumentStore, prefix, runID, website, email string, now func() time.Time) *Status {
	start := now()
	return &Status{
		store:     store,
		name:      StatusName(prefix, start, runID),
		now:       now,
		RunID:     runID,
		Website:   website,
		UserEmail: email,
		StartTime: start,
		Steps:     []StepRecord{},
	}
}

// Name returns the artifact name.
func (s *Status) Name() string { return s.name }

// Update appends a step and saves the artifact.
func (s *Status) Update(ctx context.Context, step, status string, details any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if details == nil {
		details = map[string]any{}
	}
	s.Steps = append(s.Steps, StepRecord{Step: step, Status: status, Timestamp: s.now(), Details: details})
	return s.save(ctx)
}

// Complete closes the run and saves the artifact.
func (s *Status) Complete(ctx context.Context, success bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := s.now()
	s.Completed = success
	s.EndTime = &end
	return s.save(ctx)
}

// Snapshot returns a copy of the step list.
func (s *Status) Snapshot() []StepRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StepRecord(nil), s.Steps...)
}

func (s *Status) save(ctx context.Context) (string, error) {
	if s.store == nil {
		return "", nil
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode status: %w", err)
	}
	uri, err := s.store.Put(ctx, s.name, data)
	if err != nil {
		return "", fmt.Errorf("save status %s: %w", s.name, err)
	}
	return uri, nil
}
