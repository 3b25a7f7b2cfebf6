package gcs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewValidatesInputs(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
}

func TestObjectKey(t *testing.T) {
	t.Parallel()

	key, err := objectKey("", "ledger.json")
	require.NoError(t, err)
	require.Equal(t, "ledger.json", key)

	key, err = objectKey("erasure", "/status/run.json")
	require.NoError(t, err)
	require.Equal(t, "erasure/status/run.json", key)

	_, err = objectKey("erasure", "  ")
	require.Error(t, err)
}
