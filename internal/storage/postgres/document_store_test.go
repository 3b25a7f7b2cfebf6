package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/erasure/internal/storage"
)

func TestPutUpsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "documents")
	require.NoError(t, err)

	body := []byte(`{"example.com:a@b.c":{"status":"complete"}}`)
	mock.ExpectExec("INSERT INTO documents").
		WithArgs("completed_tasks.json", body).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	uri, err := store.Put(context.Background(), "completed_tasks.json", body)
	require.NoError(t, err)
	require.Equal(t, "postgres://documents/completed_tasks.json", uri)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutPropagatesError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO documents").
		WithArgs("doc", []byte("{}")).
		WillReturnError(errors.New("conn reset"))

	_, err = store.Put(context.Background(), "doc", []byte("{}"))
	require.ErrorContains(t, err, "conn reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReturnsBody(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "documents")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT body FROM documents").
		WithArgs("domain_data.json").
		WillReturnRows(pgxmock.NewRows([]string{"body"}).AddRow([]byte(`{"x":1}`)))

	got, err := store.Get(context.Background(), "domain_data.json")
	require.NoError(t, err)
	require.JSONEq(t, `{"x":1}`, string(got))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingMapsToNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "documents")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT body FROM documents").
		WithArgs("missing.json").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.Get(context.Background(), "missing.json")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "erasure_docs")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS erasure_docs").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "documents")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "bad-name;")
	require.Error(t, err)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}
