package commands

import (
	"fmt"

	"github.com/Sumatoshi-tech/fieldagg/pkg/checkpoint"
	"github.com/Sumatoshi-tech/fieldagg/pkg/config"
	"github.com/Sumatoshi-tech/fieldagg/pkg/kvstore"
	"github.com/Sumatoshi-tech/fieldagg/pkg/persist"
)

// openCheckpointer opens the configured checkpoint store for datasetID.
// The caller closes the returned store.
func openCheckpointer(cfg config.CheckpointConfig, datasetID string) (*checkpoint.Checkpointer, error) {
	codec, err := persist.CodecByName(cfg.Codec, cfg.Compress)
	if err != nil {
		return nil, err
	}

	location := cfg.Location
	if location == "" {
		location = kvstore.DefaultLocation(cfg.Backend, checkpoint.DefaultDir())
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = checkpoint.SourceHash(datasetID)
	}

	store, err := kvstore.Open(cfg.Backend, location, namespace)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}

	return checkpoint.NewCheckpointer(store, codec), nil
}
