package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStoreKeepsPayloadCopy(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte(`{"observations":[]}`)
	uri, err := store.PutObject(context.Background(), "raw/fred/GDP/attempt-1.json", "application/json", payload)
	require.NoError(t, err)
	require.Equal(t, "memory://raw/fred/GDP/attempt-1.json", uri)

	payload[0] = '['
	stored, ok := store.Object("raw/fred/GDP/attempt-1.json")
	require.True(t, ok)
	require.Equal(t, `{"observations":[]}`, string(stored))

	_, ok = store.Object("raw/missing.json")
	require.False(t, ok)
}
