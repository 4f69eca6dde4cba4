package persist

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/fieldagg/pkg/kvstore"
)

// persisterState is a struct for persister round-trip testing.
type persisterState struct {
	Label string `json:"label"`
	Value int    `json:"value"`
}

var errStoreDown = errors.New("store down")

// failingStore rejects every operation.
type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, errStoreDown
}

func (failingStore) Put(context.Context, string, []byte) error {
	return errStoreDown
}

func (failingStore) Delete(context.Context, string) error {
	return errStoreDown
}

func (failingStore) Keys(context.Context) ([]string, error) {
	return nil, errStoreDown
}

func (failingStore) Close() error {
	return nil
}

func TestPersister_SaveLoad(t *testing.T) {
	t.Parallel()

	for _, codec := range []Codec{NewJSONCodec(), NewGobCodec(), NewLZ4Codec(NewGobCodec())} {
		ctx := context.Background()
		store := kvstore.NewMemoryStore()
		p := NewPersister[persisterState]("STATE", codec)

		original := persisterState{Label: "hello", Value: 42}

		require.NoError(t, p.Save(ctx, store, func() *persisterState { return &original }))

		var restored persisterState

		found, err := p.Load(ctx, store, func(s *persisterState) { restored = *s })
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, original, restored)
	}
}

func TestPersister_LoadMissingKey(t *testing.T) {
	t.Parallel()

	p := NewPersister[persisterState]("missing", NewJSONCodec())

	called := false

	found, err := p.Load(context.Background(), kvstore.NewMemoryStore(), func(_ *persisterState) { called = true })
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, called)
}

func TestPersister_LoadCorrupt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "STATE", []byte("{broken")))

	p := NewPersister[persisterState]("STATE", NewJSONCodec())

	_, err := p.Load(ctx, store, func(_ *persisterState) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode STATE")
}

func TestPersister_StoreErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := NewPersister[persisterState]("STATE", NewJSONCodec())

	err := p.Save(ctx, failingStore{}, func() *persisterState { return &persisterState{} })
	require.ErrorIs(t, err, errStoreDown)

	_, err = p.Load(ctx, failingStore{}, func(_ *persisterState) {})
	require.ErrorIs(t, err, errStoreDown)
}

func TestPersister_Clear(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	p := NewPersister[persisterState]("STATE", NewJSONCodec())

	require.NoError(t, p.Save(ctx, store, func() *persisterState { return &persisterState{Value: 1} }))
	require.NoError(t, p.Clear(ctx, store))

	found, err := p.Load(ctx, store, func(_ *persisterState) {})
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, "STATE", p.Key())
}
