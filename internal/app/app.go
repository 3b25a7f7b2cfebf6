// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/erasure/internal/api"
	"github.com/JakeFAU/erasure/internal/clock/system"
	"github.com/JakeFAU/erasure/internal/config"
	"github.com/JakeFAU/erasure/internal/crawler"
	"github.com/JakeFAU/erasure/internal/domaincache"
	collyfetcher "github.com/JakeFAU/erasure/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/erasure/internal/fetcher/headless"
	"github.com/JakeFAU/erasure/internal/headless/detector"
	"github.com/JakeFAU/erasure/internal/id/uuid"
	"github.com/JakeFAU/erasure/internal/ledger"
	"github.com/JakeFAU/erasure/internal/mail"
	"github.com/JakeFAU/erasure/internal/mail/gmail"
	mailmemory "github.com/JakeFAU/erasure/internal/mail/memory"
	"github.com/JakeFAU/erasure/internal/policy/ratelimit"
	"github.com/JakeFAU/erasure/internal/poller"
	pubmemory "github.com/JakeFAU/erasure/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/erasure/internal/publisher/pubsub"
	"github.com/JakeFAU/erasure/internal/records"
	"github.com/JakeFAU/erasure/internal/storage"
	gcsstore "github.com/JakeFAU/erasure/internal/storage/gcs"
	"github.com/JakeFAU/erasure/internal/storage/local"
	storememory "github.com/JakeFAU/erasure/internal/storage/memory"
	"github.com/JakeFAU/erasure/internal/storage/postgres"
	"github.com/JakeFAU/erasure/internal/workflow"
)

// App holds the shared services built from one Config.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     storage.DocumentStore
	ledger    *ledger.Ledger
	cache     *domaincache.Cache
	mail      mail.Service
	crawler   *crawler.ContactCrawler
	poller    workflow.Poller
	publisher workflow.Publisher
	clock     *system.Clock
	ids       *uuid.Generator
	closers   []func() error
}

// Option overrides a backend, mostly for tests.
type Option func(*App)

// WithStore uses store instead of the configured storage backend.
func WithStore(store storage.DocumentStore) Option {
	return func(a *App) { a.store = store }
}

// WithMail uses svc instead of the configured mail provider.
func WithMail(svc mail.Service) Option {
	return func(a *App) { a.mail = svc }
}

// WithPublisher uses pub instead of the configured outcome publisher.
func WithPublisher(pub workflow.Publisher) Option {
	return func(a *App) { a.publisher = pub }
}

// New builds every service. It fails fast on storage, ledger and cache
// errors; a mailbox that cannot be authorised degrades to mail.Disabled.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.NewUUIDGenerator(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.store == nil {
		store, err := a.openStore(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.store = store
	}

	var err error
	a.ledger, err = ledger.Open(ctx, a.store, cfg.Ledger.Document, logger.Named("ledger"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if cfg.Cache.Enabled {
		a.cache, err = domaincache.Open(ctx, a.store, cfg.Cache.Document, logger.Named("cache"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open domain cache: %w", err)
		}
	}

	if a.mail == nil {
		a.mail = a.openMail(ctx)
	}
	a.crawler = a.buildCrawler()

	matcher, err := poller.NewMatcher(cfg.Poller.MatchStrategy, cfg.Poller.Phrase, cfg.Poller.JSONField, cfg.Poller.ScopeToDomain)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build matcher: %w", err)
	}
	pollCfg := poller.Config{
		Interval:    cfg.PollInterval(),
		MaxDuration: cfg.PollMaxDuration(),
		MaxTicks:    cfg.Poller.MaxTicks,
		MaxResults:  cfg.Mail.MaxResults,
		MarkRead:    cfg.Poller.MarkRead,
	}
	pollOpts := []poller.Option{poller.WithClock(a.clock.Now), poller.WithSleeper(a.clock.Sleep)}
	if cfg.Workflow.ConfirmWorkers > 0 {
		// Background workers share the inbox through one router.
		a.poller = poller.NewRouter(a.mail, matcher, pollCfg, logger.Named("poller"), pollOpts...)
	} else {
		a.poller = poller.New(a.mail, matcher, pollCfg, logger.Named("poller"), pollOpts...)
	}

	if a.publisher == nil {
		if err := a.openPublisher(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("open publisher: %w", err)
		}
	}

	logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("mail", cfg.Mail.Provider),
		zap.Bool("cache", a.cache != nil),
		zap.Bool("headless", cfg.Headless.Enabled),
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context) (storage.DocumentStore, error) {
	cfg := a.cfg.Storage
	switch cfg.Backend {
	case "memory":
		return storememory.NewDocumentStore(), nil
	case "local":
		return local.New(local.Config{BaseDir: cfg.BaseDir})
	case "gcs":
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return gcsstore.New(client, gcsstore.Config{Bucket: cfg.GCSBucket, Prefix: cfg.Prefix})
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{DSN: cfg.DSN, Table: cfg.Table})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func (a *App) openMail(ctx context.Context) mail.Service {
	switch a.cfg.Mail.Provider {
	case "memory":
		return mailmemory.New()
	default:
		return gmail.New(ctx, gmail.Config{
			CredentialsFile: a.cfg.Mail.CredentialsFile,
			TokenFile:       a.cfg.Mail.TokenFile,
			Sender:          a.cfg.Mail.Sender,
		}, a.logger.Named("gmail"))
	}
}

func (a *App) buildCrawler() *crawler.ContactCrawler {
	cfg := a.cfg
	var fetcher crawler.Fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: !cfg.Crawler.IgnoreRobots,
		Timeout:       cfg.FetchTimeout(),
	})
	if cfg.Headless.Enabled {
		hl, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			ChallengeTimeout:  time.Duration(cfg.Headless.ChallengeTimeoutSec) * time.Second,
			CookieLabels:      cfg.Headless.CookieLabels,
		}, a.logger.Named("headless"))
		if err != nil {
			a.logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			a.closers = append(a.closers, func() error { hl.Close(); return nil })
			fetcher = crawler.NewFetchChain(fetcher, hl, detector.NewHeuristic(0, cfg.Headless.PromotionThresh), a.logger.Named("fetch"))
		}
	}
	retry := crawler.NewRetryPolicy(
		cfg.HTTP.MaxAttempts,
		time.Duration(cfg.HTTP.BackoffInitialMs)*time.Millisecond,
		time.Duration(cfg.HTTP.BackoffMaxMs)*time.Millisecond,
	)
	limiter := ratelimit.New(ratelimit.Config{RPS: cfg.Crawler.RatePerSecond, Burst: cfg.Crawler.RateBurst})
	return crawler.New(fetcher, retry, limiter, crawler.Config{
		MaxDepth:        cfg.Crawler.MaxDepth,
		Keywords:        cfg.Crawler.Keywords,
		SectionKeywords: cfg.Crawler.SectionKeywords,
	}, a.logger.Named("crawler"))
}

func (a *App) openPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" {
		a.publisher = pubmemory.New()
		return nil
	}
	pub, closeFn, err := pubsubpublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, closeFn)
	a.publisher = pub
	return nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Ledger returns the task ledger.
func (a *App) Ledger() *ledger.Ledger { return a.ledger }

// Crawler returns the contact crawler.
func (a *App) Crawler() *crawler.ContactCrawler { return a.crawler }

// Mail returns the mailbox service.
func (a *App) Mail() mail.Service { return a.mail }

// Runner builds a workflow runner over the shared services. onOutcome may be
// nil.
func (a *App) Runner(onOutcome func(records.Record, ledger.Status)) (*workflow.Runner, error) {
	cfg := a.cfg
	return workflow.New(workflow.Config{
		RecordDelay:    cfg.RecordDelay(),
		ConfirmWorkers: cfg.Workflow.ConfirmWorkers,
		QueueDepth:     cfg.Workflow.QueueDepth,
		PrivacyLaw:     cfg.Workflow.PrivacyLaw,
		ResponseDays:   cfg.Workflow.ResponseDays,
		StatusPrefix:   cfg.Workflow.StatusPrefix,
		Sender:         cfg.Mail.Sender,
	}, workflow.Deps{
		Ledger:    a.ledger,
		Cache:     a.cache,
		Crawler:   a.crawler,
		Mail:      a.mail,
		Poller:    a.poller,
		Store:     a.store,
		Publisher: a.publisher,
		Clock:     a.clock,
		IDs:       a.ids,
		Logger:    a.logger.Named("workflow"),
		OnOutcome: onOutcome,
	})
}

// Server builds the HTTP API over the shared services.
func (a *App) Server() *api.Server {
	return api.NewServer(api.Deps{
		Tasks:   a.ledger,
		Crawler: a.crawler,
		Cache:   a.cache,
		Mail:    a.mail,
		Ready:   a.Ready,
		Now:     a.clock.Now,
		Logger:  a.logger.Named("api"),
	}, a.cfg)
}

// Ready reports whether the document store answers.
func (a *App) Ready(ctx context.Context) error {
	if _, err := a.store.Get(ctx, a.cfg.Ledger.Document); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("storage not ready: %w", err)
	}
	return nil
}

// Close shuts down every service that holds a connection or process, in
// reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}
