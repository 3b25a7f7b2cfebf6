// Package workflow drives one deletion request per input record: gather site
// data, send the request, wait for the confirmation and persist the outcome.
//
// Confirmation waits either run inline, one record at a time, or on a pool of
// background workers so new requests go out while earlier ones are still
// awaiting replies. The ledger is the checkpoint in both modes: a record is
// marked pending before its wait starts, so a restart resumes the wait
// without sending a second email.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/erasure/internal/compose"
	"github.com/JakeFAU/erasure/internal/crawler"
	"github.com/JakeFAU/erasure/internal/domaincache"
	"github.com/JakeFAU/erasure/internal/ledger"
	"github.com/JakeFAU/erasure/internal/logging"
	"github.com/JakeFAU/erasure/internal/mail"
	"github.com/JakeFAU/erasure/internal/metrics"
	"github.com/JakeFAU/erasure/internal/poller"
	"github.com/JakeFAU/erasure/internal/records"
	"github.com/JakeFAU/erasure/internal/storage"
	"github.com/JakeFAU/erasure/internal/telemetry"
)

// DefaultOutcomeTopic is the event name used for outcome notifications.
const DefaultOutcomeTopic = "task.outcome"

// Crawler discovers contact data for a site.
type Crawler interface {
	Crawl(ctx context.Context, seedURL string) crawler.CrawlResult
}

// Poller waits for a confirmation reply.
type Poller interface {
	Poll(ctx context.Context, target poller.Target) poller.Result
}

// Publisher announces terminal outcomes.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock supplies time and interruptible sleeps.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator creates run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// RecordSource yields input records until io.EOF.
type RecordSource interface {
	Next() (records.Record, error)
}

// Config tunes the runner.
type Config struct {
	RecordDelay time.Duration
	// ConfirmWorkers > 0 moves confirmation waits onto that many background
	// workers fed by a queue of QueueDepth.
	ConfirmWorkers int
	QueueDepth     int
	PrivacyLaw     string
	ResponseDays   int
	StatusPrefix   string
	Sender         string
	OutcomeTopic   string
}

// Deps are the collaborators of a Runner. Cache, Publisher, Store and
// OnOutcome are optional.
type Deps struct {
	Ledger    *ledger.Ledger
	Cache     *domaincache.Cache
	Crawler   Crawler
	Mail      mail.Sender
	Poller    Poller
	Store     storage.DocumentStore
	Publisher Publisher
	Clock     Clock
	IDs       IDGenerator
	Logger    *zap.Logger
	// OnOutcome is told the final status of every record that reached one.
	OnOutcome func(rec records.Record, status ledger.Status)
}

// Outcome is what happened to one record in this run.
type Outcome string

// Record outcomes.
const (
	OutcomeSkipped     Outcome = "skipped"
	OutcomeQueued      Outcome = "queued"
	OutcomeComplete    Outcome = "complete"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeError       Outcome = "error"
	OutcomeFailed      Outcome = "failed"
	OutcomeInterrupted Outcome = "interrupted"
)

// Summary counts outcomes across a run. Queued records are counted again
// when their confirmation finishes.
type Summary struct {
	Records     int `json:"records"`
	Skipped     int `json:"skipped"`
	Resumed     int `json:"resumed"`
	Sent        int `json:"sent"`
	Complete    int `json:"complete"`
	Timeout     int `json:"timeout"`
	Error       int `json:"error"`
	Failed      int `json:"failed"`
	Interrupted int `json:"interrupted"`
}

func (s *Summary) add(o Outcome) {
	switch o {
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeComplete:
		s.Complete++
	case OutcomeTimeout:
		s.Timeout++
	case OutcomeError:
		s.Error++
	case OutcomeFailed:
		s.Failed++
	case OutcomeInterrupted:
		s.Interrupted++
	}
}

// Event is the payload published for every terminal outcome.
type Event struct {
	RunID       string    `json:"run_id"`
	Website     string    `json:"website"`
	UserEmail   string    `json:"user_email"`
	Status      string    `json:"status"`
	Recipient   string    `json:"recipient,omitempty"`
	MessageID   string    `json:"message_id,omitempty"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Job is a record waiting for its confirmation.
type Job struct {
	Record    records.Record
	RunID     string
	Status    *Status
	Recipient string
	MessageID string
}

// Runner processes input records.
type Runner struct {
	cfg  Config
	deps Deps

	mu      sync.Mutex
	summary Summary
}

// New validates deps and fills config defaults.
func New(cfg Config, deps Deps) (*Runner, error) {
	switch {
	case deps.Ledger == nil:
		return nil, errors.New("workflow: ledger is required")
	case deps.Crawler == nil:
		return nil, errors.New("workflow: crawler is required")
	case deps.Mail == nil:
		return nil, errors.New("workflow: mail sender is required")
	case deps.Poller == nil:
		return nil, errors.New("workflow: poller is required")
	case deps.Clock == nil:
		return nil, errors.New("workflow: clock is required")
	case deps.IDs == nil:
		return nil, errors.New("workflow: id generator is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.OutcomeTopic == "" {
		cfg.OutcomeTopic = DefaultOutcomeTopic
	}
	if cfg.ConfirmWorkers > 0 && cfg.QueueDepth <= 0 {
		cfg.QueueDepth = cfg.ConfirmWorkers
	}
	return &Runner{cfg: cfg, deps: deps}, nil
}

// Run processes every record from src. It returns early only on a ledger
// failure, a source read error, or when ctx ends; in background mode it
// waits for queued confirmations before returning.
func (r *Runner) Run(ctx context.Context, src RecordSource) (Summary, error) {
	if pending := r.deps.Ledger.Pending(); len(pending) > 0 {
		r.deps.Logger.Info("ledger has pending confirmations; matching records will resume",
			zap.Int("pending", len(pending)))
	}
	runCtx := ctx
	var sched *Scheduler
	if r.cfg.ConfirmWorkers > 0 {
		sched = NewScheduler(r.cfg.ConfirmWorkers, r.cfg.QueueDepth, r.confirm, r.deps.Logger)
		runCtx = sched.Start(ctx)
	}

	err := r.loop(runCtx, src, sched)
	if sched != nil {
		if werr := sched.Wait(); werr != nil && err == nil {
			err = werr
		}
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return r.Summary(), err
}

// Summary returns the counts so far.
func (r *Runner) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary
}

func (r *Runner) count(fn func(*Summary)) {
	r.mu.Lock()
	fn(&r.summary)
	r.mu.Unlock()
}

func (r *Runner) loop(ctx context.Context, src RecordSource, sched *Scheduler) error {
	delay := false
	for {
		if ctx.Err() != nil {
			return nil
		}
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read record: %w", err)
		}
		r.count(func(s *Summary) { s.Records++ })

		if r.deps.Ledger.IsCompleted(rec.Website, rec.UserEmail) {
			r.deps.Logger.Debug("skipping completed record",
				zap.String("website", rec.Website), zap.String("email", rec.UserEmail))
			r.count(func(s *Summary) { s.add(OutcomeSkipped) })
			continue
		}
		if delay {
			if err := r.deps.Clock.Sleep(ctx, r.cfg.RecordDelay); err != nil {
				return nil
			}
		}
		delay = true

		outcome, err := r.process(ctx, rec, sched)
		if err != nil {
			return err
		}
		if outcome != OutcomeQueued {
			r.count(func(s *Summary) { s.add(outcome) })
		}
	}
}

// process runs one record to its terminal outcome, or to OutcomeQueued when
// sched is non-nil. Only ledger failures are returned as errors.
func (r *Runner) process(ctx context.Context, rec records.Record, sched *Scheduler) (Outcome, error) {
	logger := logging.Task(r.deps.Logger, rec.Website, rec.UserEmail)
	ctx, span := telemetry.Tracer().Start(ctx, "workflow.record", trace.WithAttributes(
		attribute.String("website", rec.Website),
	))
	defer span.End()

	runID, err := r.deps.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("run id: %w", err)
	}
	status := NewStatus(r.deps.Store, r.cfg.StatusPrefix, runID, rec.Website, rec.UserEmail, r.deps.Clock.Now)
	job := Job{Record: rec, RunID: runID, Status: status}

	if task, ok := r.deps.Ledger.Status(rec.Website, rec.UserEmail); ok && task.Status == ledger.StatusPending {
		logger.Info("resuming confirmation wait")
		r.count(func(s *Summary) { s.Resumed++ })
		r.saveStep(ctx, logger, status, StepMonitoring, StepPending, map[string]any{"resumed": true})
		return r.handOff(ctx, job, sched)
	}

	if strings.TrimSpace(rec.Website) == "" || strings.TrimSpace(rec.UserEmail) == "" {
		return r.fail(ctx, logger, job, "input", errors.New("record needs website and user_email"))
	}

	site, err := r.siteData(ctx, logger, rec)
	if err != nil {
		return r.fail(ctx, logger, job, StepSiteData, err)
	}
	r.saveStep(ctx, logger, status, StepSiteData, StepSuccess, map[string]any{
		"source":   site.source,
		"contacts": append(append([]string(nil), site.curated...), site.discovered...),
		"pages":    site.pages,
	})

	recipient, messageID, err := r.sendRequest(ctx, rec, site)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		metrics.ObserveRequestSent("failed")
		return r.fail(ctx, logger, job, StepRequestSent, err)
	}
	metrics.ObserveRequestSent("sent")
	r.count(func(s *Summary) { s.Sent++ })
	job.Recipient, job.MessageID = recipient, messageID
	logger.Info("deletion request sent", zap.String("recipient", recipient), zap.String("message_id", messageID))
	r.saveStep(ctx, logger, status, StepRequestSent, StepSuccess, map[string]any{
		"recipient":  recipient,
		"message_id": messageID,
	})

	// The email is out; record the checkpoint even if ctx has just ended.
	if err := r.deps.Ledger.MarkCompleted(context.WithoutCancel(ctx), rec.Website, rec.UserEmail, ledger.StatusPending, map[string]any{
		"run_id":     runID,
		"recipient":  recipient,
		"message_id": messageID,
	}); err != nil {
		return "", err
	}
	return r.handOff(ctx, job, sched)
}

func (r *Runner) handOff(ctx context.Context, job Job, sched *Scheduler) (Outcome, error) {
	if sched == nil {
		return r.finalize(ctx, job, r.deps.Poller.Poll(ctx, r.target(job)))
	}
	if err := sched.Enqueue(ctx, job); err != nil {
		if ctx.Err() != nil {
			return OutcomeInterrupted, nil
		}
		return "", fmt.Errorf("enqueue confirmation: %w", err)
	}
	return OutcomeQueued, nil
}

// confirm is the scheduler's job handler.
func (r *Runner) confirm(ctx context.Context, job Job) error {
	outcome, err := r.finalize(ctx, job, r.deps.Poller.Poll(ctx, r.target(job)))
	if err != nil {
		return err
	}
	r.count(func(s *Summary) { s.add(outcome) })
	return nil
}

func (r *Runner) target(job Job) poller.Target {
	return poller.Target{Website: job.Record.Website, UserEmail: job.Record.UserEmail}
}

// finalize persists a poll result. Interrupted polls leave the ledger entry
// pending.
func (r *Runner) finalize(ctx context.Context, job Job, res poller.Result) (Outcome, error) {
	rec := job.Record
	logger := logging.Task(r.deps.Logger, rec.Website, rec.UserEmail)
	if res.Interrupted {
		logger.Info("confirmation wait interrupted; will resume on next run")
		r.saveStep(context.WithoutCancel(ctx), logger, job.Status, StepMonitoring, StepInterrupted, res)
		return OutcomeInterrupted, nil
	}

	ctx = context.WithoutCancel(ctx)
	r.saveStep(ctx, logger, job.Status, StepMonitoring, string(res.Status), res)
	status := ledger.Status(res.Status)
	if err := r.deps.Ledger.MarkCompleted(ctx, rec.Website, rec.UserEmail, status, res); err != nil {
		return "", err
	}
	r.complete(ctx, logger, job, status, res.Error)
	return Outcome(res.Status), nil
}

// fail records a step failure as the record's final state. Failures caused
// by ctx ending are not final.
func (r *Runner) fail(ctx context.Context, logger *zap.Logger, job Job, step string, cause error) (Outcome, error) {
	if ctx.Err() != nil {
		r.saveStep(context.WithoutCancel(ctx), logger, job.Status, step, StepInterrupted, map[string]any{"error": cause.Error()})
		return OutcomeInterrupted, nil
	}
	logger.Warn("workflow step failed", zap.String("step", step), zap.Error(cause))
	rec := job.Record
	r.saveStep(ctx, logger, job.Status, step, StepFailed, map[string]any{"error": cause.Error()})
	if err := r.deps.Ledger.MarkCompleted(ctx, rec.Website, rec.UserEmail, ledger.StatusFailed, map[string]any{
		"error": cause.Error(),
		"step":  step,
	}); err != nil {
		return "", err
	}
	r.complete(ctx, logger, job, ledger.StatusFailed, cause.Error())
	return OutcomeFailed, nil
}

func (r *Runner) complete(ctx context.Context, logger *zap.Logger, job Job, status ledger.Status, errMsg string) {
	if _, err := job.Status.Complete(ctx, status == ledger.StatusComplete); err != nil {
		logger.Warn("status artifact not saved", zap.Error(err))
	}
	metrics.ObserveTask(string(status))
	if r.deps.OnOutcome != nil {
		r.deps.OnOutcome(job.Record, status)
	}
	if r.deps.Publisher == nil {
		return
	}
	event := Event{
		RunID:       job.RunID,
		Website:     job.Record.Website,
		UserEmail:   job.Record.UserEmail,
		Status:      string(status),
		Recipient:   job.Recipient,
		MessageID:   job.MessageID,
		Error:       errMsg,
		CompletedAt: r.deps.Clock.Now(),
	}
	if _, err := r.deps.Publisher.Publish(ctx, r.cfg.OutcomeTopic, event); err != nil {
		logger.Warn("outcome not published", zap.Error(err))
	}
}

func (r *Runner) saveStep(ctx context.Context, logger *zap.Logger, st *Status, step, status string, details any) {
	if _, err := st.Update(ctx, step, status, details); err != nil {
		logger.Warn("status artifact not saved", zap.String("step", step), zap.Error(err))
	}
}

type siteData struct {
	source string
	// curated addresses win over discovered ones.
	curated    []string
	discovered []string
	pages      int
}

func (r *Runner) siteData(ctx context.Context, logger *zap.Logger, rec records.Record) (siteData, error) {
	if r.deps.Cache != nil {
		if entry, ok := r.deps.Cache.Get(rec.Website); ok {
			site := siteData{source: "cache", curated: entry.ContactEmails}
			if entry.Crawl != nil {
				site.discovered = crawler.CollectMailto(*entry.Crawl)
				site.pages = len(crawler.VisitedURLs(*entry.Crawl))
			}
			return site, nil
		}
	}

	result := r.deps.Crawler.Crawl(ctx, rec.Website)
	if err := ctx.Err(); err != nil {
		return siteData{}, err
	}
	discovered := crawler.CollectMailto(result)
	if result.Error != "" && len(discovered) == 0 {
		return siteData{}, fmt.Errorf("crawl %s: %s", rec.Website, result.Error)
	}
	site := siteData{source: "crawl", discovered: discovered, pages: len(crawler.VisitedURLs(result))}
	if r.deps.Cache != nil {
		entry := domaincache.Entry{
			Domain:        rec.Website,
			Crawl:         &result,
			ContactEmails: compose.RankRecipients(discovered),
			UpdatedAt:     r.deps.Clock.Now(),
		}
		if err := r.deps.Cache.Put(ctx, entry); err != nil {
			logger.Warn("domain cache not updated", zap.Error(err))
		}
	}
	return site, nil
}

func (r *Runner) sendRequest(ctx context.Context, rec records.Record, site siteData) (string, string, error) {
	recipient, err := compose.SelectRecipient(site.curated, site.discovered)
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", rec.Website, err)
	}
	instructions := ""
	if r.deps.Cache != nil {
		instructions = r.deps.Cache.Instructions(rec.Website)
	}
	req, err := compose.Render(compose.Context{
		UserName:     rec.UserName,
		UserEmail:    rec.UserEmail,
		UserLocation: rec.UserLocation,
		Website:      rec.Website,
		PrivacyLaw:   r.cfg.PrivacyLaw,
		ResponseDays: r.cfg.ResponseDays,
		Instructions: instructions,
		Date:         r.deps.Clock.Now(),
	})
	if err != nil {
		return "", "", fmt.Errorf("compose: %w", err)
	}
	id, err := r.deps.Mail.Send(ctx, mail.Outgoing{
		From:    r.cfg.Sender,
		To:      []string{recipient},
		Subject: req.Subject,
		Text:    req.Text,
		HTML:    req.HTML,
	})
	if err != nil {
		return "", "", err
	}
	return recipient, id, nil
}
