package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/erasure/internal/crawler"
	"github.com/JakeFAU/erasure/internal/domaincache"
	"github.com/JakeFAU/erasure/internal/ledger"
	"github.com/JakeFAU/erasure/internal/mail/memory"
	"github.com/JakeFAU/erasure/internal/poller"
	pubmemory "github.com/JakeFAU/erasure/internal/publisher/memory"
	"github.com/JakeFAU/erasure/internal/records"
	storememory "github.com/JakeFAU/erasure/internal/storage/memory"
)

type harness struct {
	ledgerStore *storememory.DocumentStore
	statusStore *storememory.DocumentStore
	ledger      *ledger.Ledger
	cache       *domaincache.Cache
	crawler     *fakeCrawler
	mailbox     *memory.Mailbox
	poller      *fakePoller
	publisher   *pubmemory.Publisher
	clock       *fakeClock

	mu       sync.Mutex
	outcomes map[string]ledger.Status
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		ledgerStore: storememory.NewDocumentStore(),
		statusStore: storememory.NewDocumentStore(),
		crawler:     &fakeCrawler{results: map[string]crawler.CrawlResult{}},
		mailbox:     memory.New(),
		poller:      &fakePoller{status: map[string]poller.Status{}},
		publisher:   pubmemory.New(),
		clock:       &fakeClock{},
		outcomes:    map[string]ledger.Status{},
	}
	var err error
	h.ledger, err = ledger.Open(ctx, h.ledgerStore, "completed_tasks.json", zap.NewNop())
	require.NoError(t, err)
	h.cache, err = domaincache.Open(ctx, storememory.NewDocumentStore(), "domain_data.json", zap.NewNop())
	require.NoError(t, err)
	return h
}

func (h *harness) runner(t *testing.T, cfg Config) *Runner {
	t.Helper()
	if cfg.StatusPrefix == "" {
		cfg.StatusPrefix = "status"
	}
	if cfg.Sender == "" {
		cfg.Sender = "me@example.org"
	}
	r, err := New(cfg, Deps{
		Ledger:    h.ledger,
		Cache:     h.cache,
		Crawler:   h.crawler,
		Mail:      h.mailbox,
		Poller:    h.poller,
		Store:     h.statusStore,
		Publisher: h.publisher,
		Clock:     h.clock,
		IDs:       &seqIDs{},
		Logger:    zap.NewNop(),
		OnOutcome: func(rec records.Record, status ledger.Status) {
			h.mu.Lock()
			h.outcomes[rec.Website] = status
			h.mu.Unlock()
		},
	})
	require.NoError(t, err)
	return r
}

func (h *harness) site(website string, mailto ...string) {
	h.crawler.results[website] = crawler.CrawlResult{
		URL: "https://" + website,
		SubPages: map[string]*crawler.CrawlResult{
			"https://" + website + "/contact": {URL: "https://" + website + "/contact", MailtoLinks: mailto},
		},
	}
}

func (h *harness) statusDoc(t *testing.T) *Status {
	t.Helper()
	names := h.statusStore.Names()
	require.Len(t, names, 1)
	data, err := h.statusStore.Get(context.Background(), names[0])
	require.NoError(t, err)
	var st Status
	require.NoError(t, json.Unmarshal(data, &st))
	return &st
}

func record(website, email string) records.Record {
	return records.Record{Website: website, UserName: "Ada", UserEmail: email}
}

func TestRunSequentialHappyPath(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.site("shop.example.com", "sales@shop.example.com", "privacy@shop.example.com")

	sum, err := h.runner(t, Config{}).Run(context.Background(), source(record("shop.example.com", "ada@x.com")))
	require.NoError(t, err)
	assert.Equal(t, Summary{Records: 1, Sent: 1, Complete: 1}, sum)

	sent := h.mailbox.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"privacy@shop.example.com"}, sent[0].To)
	assert.Equal(t, "me@example.org", sent[0].From)
	assert.Equal(t, "Personal Data Deletion Request - shop.example.com", sent[0].Subject)
	assert.NotEmpty(t, sent[0].HTML)

	assert.True(t, h.ledger.IsCompleted("shop.example.com", "ada@x.com"))
	task, _ := h.ledger.Status("shop.example.com", "ada@x.com")
	assert.Contains(t, string(task.Details), `"confirmation_received":true`)

	st := h.statusDoc(t)
	assert.True(t, st.Completed)
	require.NotNil(t, st.EndTime)
	var steps []string
	for _, s := range st.Steps {
		steps = append(steps, s.Step+"="+s.Status)
	}
	assert.Equal(t, []string{"site_data=success", "request_sent=success", "monitoring=complete"}, steps)
	assert.True(t, strings.HasPrefix(h.statusStore.Names()[0], "status/status_20260302_093000_"))

	entry, ok := h.cache.Get("https://www.shop.example.com")
	require.True(t, ok)
	assert.Equal(t, []string{"privacy@shop.example.com", "sales@shop.example.com"}, entry.ContactEmails)

	events := h.publisher.Topic(DefaultOutcomeTopic)
	require.Len(t, events, 1)
	ev := events[0].(Event)
	assert.Equal(t, "complete", ev.Status)
	assert.Equal(t, "privacy@shop.example.com", ev.Recipient)
	assert.Equal(t, ledger.StatusComplete, h.outcomes["shop.example.com"])
}

func TestRunSkipsCompletedRecords(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.ledger.MarkCompleted(context.Background(), "done.com", "a@x.com", ledger.StatusComplete, nil))

	sum, err := h.runner(t, Config{RecordDelay: time.Second}).Run(context.Background(),
		source(record("done.com", "a@x.com"), record("done.com", "a@x.com")))
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Skipped)
	assert.Empty(t, h.crawler.Calls())
	assert.Empty(t, h.mailbox.Sent())
	assert.Empty(t, h.clock.Sleeps())
}

func TestRunResumesPendingWithoutResending(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.ledger.MarkCompleted(context.Background(), "slow.com", "a@x.com", ledger.StatusPending, nil))
	h.poller.status["slow.com"] = poller.StatusTimeout

	sum, err := h.runner(t, Config{}).Run(context.Background(), source(record("slow.com", "a@x.com")))
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Resumed)
	assert.Equal(t, 1, sum.Timeout)
	assert.Empty(t, h.mailbox.Sent())
	assert.Empty(t, h.crawler.Calls())
	task, ok := h.ledger.Status("slow.com", "a@x.com")
	require.True(t, ok)
	assert.Equal(t, ledger.StatusTimeout, task.Status)
	assert.False(t, h.ledger.IsCompleted("slow.com", "a@x.com"))
}

func TestRunUsesCacheHit(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.cache.Put(context.Background(), domaincache.Entry{
		Domain:        "cached.com",
		ContactEmails: []string{"legal@cached.com"},
		Instructions:  "Reference ticket 42.",
	}))

	_, err := h.runner(t, Config{}).Run(context.Background(), source(record("https://www.cached.com", "a@x.com")))
	require.NoError(t, err)

	assert.Empty(t, h.crawler.Calls())
	sent := h.mailbox.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"legal@cached.com"}, sent[0].To)
	assert.Contains(t, sent[0].Text, "Reference ticket 42.")
}

func TestRunRecordsFailureAndContinues(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.site("nomail.com")
	h.site("good.com", "privacy@good.com")

	sum, err := h.runner(t, Config{RecordDelay: 5 * time.Second}).Run(context.Background(),
		source(record("nomail.com", "a@x.com"), record("good.com", "a@x.com")))
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Complete)
	task, ok := h.ledger.Status("nomail.com", "a@x.com")
	require.True(t, ok)
	assert.Equal(t, ledger.StatusFailed, task.Status)
	assert.JSONEq(t, `{"error":"nomail.com: no contact address found","step":"request_sent"}`, string(task.Details))
	assert.Equal(t, []time.Duration{5 * time.Second}, h.clock.Sleeps())
	assert.Equal(t, ledger.StatusFailed, h.outcomes["nomail.com"])
}

func TestRunCrawlFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.crawler.results["down.com"] = crawler.CrawlResult{URL: "https://down.com", Error: "status 503"}

	sum, err := h.runner(t, Config{}).Run(context.Background(), source(record("down.com", "a@x.com")))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	task, _ := h.ledger.Status("down.com", "a@x.com")
	assert.Contains(t, string(task.Details), `"step":"site_data"`)
	_, cached := h.cache.Get("down.com")
	assert.False(t, cached)
}

func TestRunSendFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.site("shop.com", "privacy@shop.com")
	h.mailbox.FailSend(errors.New("quota exceeded"))

	sum, err := h.runner(t, Config{}).Run(context.Background(), source(record("shop.com", "a@x.com")))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Zero(t, sum.Sent)
	assert.Empty(t, h.poller.Calls())
	task, _ := h.ledger.Status("shop.com", "a@x.com")
	assert.Contains(t, string(task.Details), "quota exceeded")
}

func TestRunInvalidRecord(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sum, err := h.runner(t, Config{}).Run(context.Background(), source(record("shop.com", "")))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Empty(t, h.crawler.Calls())
}

func TestRunLedgerFailureIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.site("a.com", "privacy@a.com")
	h.site("b.com", "privacy@b.com")
	h.ledgerStore.FailPuts(errors.New("disk full"))

	_, err := h.runner(t, Config{}).Run(context.Background(),
		source(record("a.com", "a@x.com"), record("b.com", "a@x.com")))

	var ioErr *ledger.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, []string{"a.com"}, h.crawler.Calls())
}

func TestRunBackgroundConfirmations(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	for _, site := range []string{"a.com", "b.com", "c.com"} {
		h.site(site, "privacy@"+site)
	}
	h.poller.status["b.com"] = poller.StatusTimeout

	sum, err := h.runner(t, Config{ConfirmWorkers: 2, QueueDepth: 1}).Run(context.Background(),
		source(record("a.com", "u@x.com"), record("b.com", "u@x.com"), record("c.com", "u@x.com")))
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Sent)
	assert.Equal(t, 2, sum.Complete)
	assert.Equal(t, 1, sum.Timeout)
	assert.Len(t, h.poller.Calls(), 3)
	assert.True(t, h.ledger.IsCompleted("a.com", "u@x.com"))
	assert.True(t, h.ledger.IsCompleted("c.com", "u@x.com"))
	task, _ := h.ledger.Status("b.com", "u@x.com")
	assert.Equal(t, ledger.StatusTimeout, task.Status)
	assert.Empty(t, h.ledger.Pending())
}

func TestRunBackgroundInterruptedLeavesPending(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.site("a.com", "privacy@a.com")
	h.poller.block = true
	h.poller.started = make(chan string, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-h.poller.started
		cancel()
	}()

	sum, err := h.runner(t, Config{ConfirmWorkers: 1, QueueDepth: 1}).Run(ctx, source(record("a.com", "u@x.com")))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sum.Interrupted)
	assert.Equal(t, []string{ledger.Key("a.com", "u@x.com")}, h.ledger.Pending())
	assert.Len(t, h.mailbox.Sent(), 1)
}

func TestRunBackgroundLedgerFailureStopsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.site("a.com", "privacy@a.com")
	r := h.runner(t, Config{ConfirmWorkers: 1, QueueDepth: 1})
	// Fail only the final write: the pending checkpoint has already landed by
	// the time the worker picks the job up.
	r.deps.Poller = pollerFunc(func(ctx context.Context, target poller.Target) poller.Result {
		h.ledgerStore.FailPuts(errors.New("disk full"))
		return h.poller.Poll(ctx, target)
	})

	_, err := r.Run(context.Background(), source(record("a.com", "u@x.com")))
	var ioErr *ledger.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, []string{ledger.Key("a.com", "u@x.com")}, h.ledger.Pending())
}

type pollerFunc func(context.Context, poller.Target) poller.Result

func (f pollerFunc) Poll(ctx context.Context, t poller.Target) poller.Result { return f(ctx, t) }

func TestNewRequiresDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{})
	require.Error(t, err)
}
