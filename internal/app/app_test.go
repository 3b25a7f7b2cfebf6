package app_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/erasure/internal/app"
	"github.com/JakeFAU/erasure/internal/config"
	"github.com/JakeFAU/erasure/internal/ledger"
	"github.com/JakeFAU/erasure/internal/mail/memory"
	pubmemory "github.com/JakeFAU/erasure/internal/publisher/memory"
	"github.com/JakeFAU/erasure/internal/records"
	storememory "github.com/JakeFAU/erasure/internal/storage/memory"
)

func memoryConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("ERASURE_STORAGE_BACKEND", "memory")
	t.Setenv("ERASURE_MAIL_PROVIDER", "memory")
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestNew_MemoryBackends(t *testing.T) {
	cfg := memoryConfig(t)
	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.NotNil(t, a.Logger())
	assert.NotNil(t, a.Ledger())
	assert.NotNil(t, a.Crawler())
	assert.IsType(t, &memory.Mailbox{}, a.Mail())
	require.NoError(t, a.Ready(context.Background()))
}

func TestNew_StorageErrors(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "unknown backend",
			mutate:  func(c *config.Config) { c.Storage.Backend = "tape" },
			wantErr: `unknown storage backend "tape"`,
		},
		{
			name:    "local without base dir",
			mutate:  func(c *config.Config) { c.Storage.Backend = "local"; c.Storage.BaseDir = "" },
			wantErr: "base directory is required",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *config.Config) { c.Storage.Backend = "postgres"; c.Storage.DSN = "" },
			wantErr: "storage.dsn is required",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := memoryConfig(t)
			tc.mutate(&cfg)
			_, err := app.New(context.Background(), cfg, zap.NewNop())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestNew_CorruptLedgerFailsFast(t *testing.T) {
	cfg := memoryConfig(t)
	store := storememory.NewDocumentStore()
	_, err := store.Put(context.Background(), cfg.Ledger.Document, []byte("{not json"))
	require.NoError(t, err)

	_, err = app.New(context.Background(), cfg, zap.NewNop(), app.WithStore(store))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open ledger")
}

func TestNew_BadMatcher(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Poller.MatchStrategy = "regex"
	_, err := app.New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build matcher")
}

func TestRunner_UsesSharedServices(t *testing.T) {
	cfg := memoryConfig(t)
	mailbox := memory.New()
	pub := pubmemory.New()
	a, err := app.New(context.Background(), cfg, zap.NewNop(), app.WithMail(mailbox), app.WithPublisher(pub))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NoError(t, a.Ledger().MarkCompleted(context.Background(), "example.com", "a@b.com", ledger.StatusComplete, nil))

	var outcomes []ledger.Status
	runner, err := a.Runner(func(_ records.Record, s ledger.Status) { outcomes = append(outcomes, s) })
	require.NoError(t, err)

	src := &sliceSource{recs: []records.Record{{Website: "example.com", UserName: "A", UserEmail: "a@b.com"}}}
	summary, err := runner.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, outcomes)
	assert.Empty(t, mailbox.Sent())
}

func TestServer_ServesLedger(t *testing.T) {
	cfg := memoryConfig(t)
	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.NoError(t, a.Ledger().MarkCompleted(context.Background(), "example.com", "a@b.com", ledger.StatusTimeout, nil))

	rec := httptest.NewRecorder()
	a.Server().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tasks/example.com/a@b.com", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"timeout"`)

	rec = httptest.NewRecorder()
	a.Server().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReady_ReportsStoreFailure(t *testing.T) {
	cfg := memoryConfig(t)
	store := &flakyStore{DocumentStore: storememory.NewDocumentStore()}
	a, err := app.New(context.Background(), cfg, zap.NewNop(), app.WithStore(store))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	store.getErr = errors.New("bucket unreachable")
	err = a.Ready(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unreachable")
}

type flakyStore struct {
	*storememory.DocumentStore
	getErr error
}

func (s *flakyStore) Get(ctx context.Context, name string) ([]byte, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.DocumentStore.Get(ctx, name)
}

type sliceSource struct {
	recs []records.Record
	i    int
}

func (s *sliceSource) Next() (records.Record, error) {
	if s.i >= len(s.recs) {
		return records.Record{}, io.EOF
	}
	r := s.recs[s.i]
	s.i++
	return r, nil
}
