package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/Sumatoshi-tech/fieldagg/pkg/kvstore"
	"github.com/Sumatoshi-tech/fieldagg/pkg/persist"
)

// MetadataVersion is the current checkpoint metadata format version.
const MetadataVersion = 1

// Sentinel errors for checkpoint validation.
var (
	ErrSourceMismatch  = errors.New("source mismatch")
	ErrFieldsMismatch  = errors.New("fields mismatch")
	ErrVersionMismatch = errors.New("checkpoint version mismatch")
)

// DefaultDir returns the default checkpoint directory (~/.fieldagg/checkpoints).
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return filepath.Join(home, ".fieldagg", "checkpoints")
}

// SourceHash returns a short stable hash of a dataset id, used as the default
// store namespace so each dataset keeps its own checkpoint.
func SourceHash(sourceID string) string {
	h := sha256.Sum256([]byte(sourceID))

	return hex.EncodeToString(h[:8])
}

// Checkpointer reads and writes checkpoints in a key-value store.
type Checkpointer struct {
	store  kvstore.Store
	offset *persist.Persister[int]
	values *persist.Persister[SavedValues]
	meta   *persist.Persister[Metadata]
}

// NewCheckpointer creates a checkpointer over store using codec for every key.
func NewCheckpointer(store kvstore.Store, codec persist.Codec) *Checkpointer {
	return &Checkpointer{
		store:  store,
		offset: persist.NewPersister[int](KeyOffset, codec),
		values: persist.NewPersister[SavedValues](KeyValues, codec),
		meta:   persist.NewPersister[Metadata](KeyMeta, codec),
	}
}

// Store returns the underlying store.
func (c *Checkpointer) Store() kvstore.Store {
	return c.store
}

// Save writes the snapshot. Values are written before the offset so that an
// interrupted save can only cause records to be replayed, never skipped.
func (c *Checkpointer) Save(ctx context.Context, state State) error {
	meta := state.Meta
	meta.Version = MetadataVersion

	if meta.CreatedAt == "" {
		meta.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	err := c.meta.Save(ctx, c.store, func() *Metadata { return &meta })
	if err != nil {
		return err
	}

	values := state.Values
	if values == nil {
		values = SavedValues{}
	}

	err = c.values.Save(ctx, c.store, func() *SavedValues { return &values })
	if err != nil {
		return err
	}

	offset := state.Offset

	return c.offset.Save(ctx, c.store, func() *int { return &offset })
}

// Load reads the last checkpoint. It reports false when neither the offset nor
// the values key is present. A missing half defaults to zero or empty.
func (c *Checkpointer) Load(ctx context.Context) (*State, bool, error) {
	state := &State{Values: SavedValues{}}

	offsetFound, err := c.offset.Load(ctx, c.store, func(o *int) { state.Offset = *o })
	if err != nil {
		return nil, false, err
	}

	valuesFound, err := c.values.Load(ctx, c.store, func(v *SavedValues) {
		if *v != nil {
			state.Values = *v
		}
	})
	if err != nil {
		return nil, false, err
	}

	if !offsetFound && !valuesFound {
		return nil, false, nil
	}

	_, err = c.meta.Load(ctx, c.store, func(m *Metadata) { state.Meta = *m })
	if err != nil {
		return nil, false, err
	}

	return state, true, nil
}

// LoadMetadata reads the checkpoint metadata.
func (c *Checkpointer) LoadMetadata(ctx context.Context) (*Metadata, bool, error) {
	var meta Metadata

	found, err := c.meta.Load(ctx, c.store, func(m *Metadata) { meta = *m })
	if err != nil || !found {
		return nil, found, err
	}

	return &meta, true, nil
}

// Exists reports whether a checkpoint is present.
func (c *Checkpointer) Exists(ctx context.Context) bool {
	_, err := c.store.Get(ctx, KeyOffset)

	return err == nil
}

// Validate checks that the stored checkpoint was produced for the same input
// as want. Checkpoints without metadata are accepted.
func (c *Checkpointer) Validate(ctx context.Context, want Metadata) error {
	meta, found, err := c.LoadMetadata(ctx)
	if err != nil {
		return err
	}

	if !found {
		return nil
	}

	if meta.Version != MetadataVersion {
		return fmt.Errorf("%w: checkpoint has %d, want %d", ErrVersionMismatch, meta.Version, MetadataVersion)
	}

	if meta.SourceID != want.SourceID {
		return fmt.Errorf("%w: checkpoint has %q, got %q", ErrSourceMismatch, meta.SourceID, want.SourceID)
	}

	if meta.Mode != want.Mode || !slices.Equal(meta.Fields, want.Fields) {
		return fmt.Errorf("%w: checkpoint has %v (%s), got %v (%s)",
			ErrFieldsMismatch, meta.Fields, meta.Mode, want.Fields, want.Mode)
	}

	return nil
}

// Clear removes every checkpoint key.
func (c *Checkpointer) Clear(ctx context.Context) error {
	return errors.Join(
		c.offset.Clear(ctx, c.store),
		c.values.Clear(ctx, c.store),
		c.meta.Clear(ctx, c.store),
	)
}
