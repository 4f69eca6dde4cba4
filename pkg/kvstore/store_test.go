package kvstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAll(t *testing.T) map[string]Store {
	t.Helper()

	dir := t.TempDir()
	stores := make(map[string]Store)

	for _, backend := range Backends() {
		store, err := Open(backend, DefaultLocation(backend, filepath.Join(dir, backend)), "test")
		require.NoError(t, err, backend)

		t.Cleanup(func() { _ = store.Close() })

		stores[backend] = store
	}

	return stores
}

func TestStore_PutGetDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	for backend, store := range openAll(t) {
		t.Run(backend, func(t *testing.T) {
			_, err := store.Get(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Put(ctx, "STATE-OFFSET", []byte("12")))
			require.NoError(t, store.Put(ctx, "STATE-OFFSET", []byte("13")))

			got, err := store.Get(ctx, "STATE-OFFSET")
			require.NoError(t, err)
			assert.Equal(t, []byte("13"), got)

			require.NoError(t, store.Delete(ctx, "STATE-OFFSET"))
			require.NoError(t, store.Delete(ctx, "STATE-OFFSET"))

			_, err = store.Get(ctx, "STATE-OFFSET")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_KeysSorted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	for backend, store := range openAll(t) {
		t.Run(backend, func(t *testing.T) {
			require.NoError(t, store.Put(ctx, "b/key", []byte("2")))
			require.NoError(t, store.Put(ctx, "a key", []byte("1")))
			require.NoError(t, store.Put(ctx, "c", []byte{}))

			keys, err := store.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"a key", "b/key", "c"}, keys)
		})
	}
}

func TestStore_EmptyKeyRejected(t *testing.T) {
	t.Parallel()

	for backend, store := range openAll(t) {
		t.Run(backend, func(t *testing.T) {
			require.ErrorIs(t, store.Put(context.Background(), "", []byte("x")), ErrEmptyKey)
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	t.Parallel()

	_, err := Open("redis", t.TempDir(), "")
	require.ErrorIs(t, err, ErrUnknownBackend)
}

func TestBolt_NamespacesIsolated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cp.bolt")

	first, err := OpenBolt(path, "one")
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, "k", []byte("v1")))
	require.NoError(t, first.Close())

	second, err := OpenBolt(path, "two")
	require.NoError(t, err)

	defer second.Close()

	_, err = second.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Closed(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	require.NoError(t, store.Close())

	_, err := store.Get(context.Background(), "k")
	require.ErrorIs(t, err, ErrClosed)
}
