package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/fieldagg/pkg/kvstore"
)

// Persister handles I/O for a specific state type stored under one key.
type Persister[T any] struct {
	key   string
	codec Codec
}

// NewPersister creates a persister with the given key and codec.
func NewPersister[T any](key string, codec Codec) *Persister[T] {
	return &Persister[T]{
		key:   key,
		codec: codec,
	}
}

// Key returns the store key this persister writes.
func (p *Persister[T]) Key() string {
	return p.key
}

// Save writes the state produced by buildState into store.
func (p *Persister[T]) Save(ctx context.Context, store kvstore.Store, buildState func() *T) error {
	data, err := EncodeBytes(p.codec, buildState())
	if err != nil {
		return fmt.Errorf("encode %s: %w", p.key, err)
	}

	err = store.Put(ctx, p.key, data)
	if err != nil {
		return fmt.Errorf("store %s: %w", p.key, err)
	}

	return nil
}

// Load restores state from store using restoreState. It reports false
// without error when the key is absent.
func (p *Persister[T]) Load(ctx context.Context, store kvstore.Store, restoreState func(*T)) (bool, error) {
	data, err := store.Get(ctx, p.key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("load %s: %w", p.key, err)
	}

	var state T

	err = DecodeBytes(p.codec, data, &state)
	if err != nil {
		return false, fmt.Errorf("decode %s: %w", p.key, err)
	}

	restoreState(&state)

	return true, nil
}

// Clear removes the key from store.
func (p *Persister[T]) Clear(ctx context.Context, store kvstore.Store) error {
	return store.Delete(ctx, p.key)
}
