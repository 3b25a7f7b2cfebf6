package workflow

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/erasure/internal/metrics"
	"github.com/JakeFAU/erasure/internal/queue/memory"
)

// Handler processes one confirmation job. A returned error is fatal: it
// cancels every other worker.
type Handler func(ctx context.Context, job Job) error

// Scheduler fans confirmation jobs out to a fixed pool of workers over a
// bounded queue.
type Scheduler struct {
	queue   *memory.Queue[Job]
	workers int
	handle  Handler
	logger  *zap.Logger

	startOnce sync.Once
	group     *errgroup.Group
	ctx       context.Context
}

// NewScheduler builds a scheduler; call Start before Enqueue.
func NewScheduler(workers, depth int, handle Handler, logger *zap.Logger) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		queue:   memory.NewQueue[Job](depth),
		workers: workers,
		handle:  handle,
		logger:  logger,
	}
}

// Start launches the workers. The returned context is cancelled when ctx
// ends or a handler fails.
func (s *Scheduler) Start(ctx context.Context) context.Context {
	s.startOnce.Do(func() {
		s.group, s.ctx = errgroup.WithContext(ctx)
		for i := range s.workers {
			s.group.Go(func() error { return s.work(s.ctx, i) })
		}
	})
	return s.ctx
}

// Enqueue blocks until the job is queued or ctx ends.
func (s *Scheduler) Enqueue(ctx context.Context, job Job) error {
	return s.queue.Enqueue(ctx, job)
}

// Pending reports queued jobs not yet picked up by a worker.
func (s *Scheduler) Pending() int {
	return s.queue.Len()
}

// Wait stops intake, lets the workers drain the queue and returns the first
// handler error.
func (s *Scheduler) Wait() error {
	s.queue.Close()
	if s.group == nil {
		return nil
	}
	return s.group.Wait()
}

func (s *Scheduler) work(ctx context.Context, worker int) error {
	logger := s.logger.With(zap.Int("worker", worker))
	for {
		job, err := s.queue.Dequeue(ctx)
		if errors.Is(err, memory.ErrClosed) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		logger.Debug("confirmation started",
			zap.String("website", job.Record.Website), zap.String("email", job.Record.UserEmail))
		metrics.IncConfirmations()
		err = s.handle(ctx, job)
		metrics.DecConfirmations()
		if err != nil {
			logger.Error("confirmation failed", zap.Error(err))
			return err
		}
	}
}
