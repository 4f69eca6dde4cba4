package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/fieldagg/pkg/aggregate"
	"github.com/Sumatoshi-tech/fieldagg/pkg/checkpoint"
	"github.com/Sumatoshi-tech/fieldagg/pkg/config"
	"github.com/Sumatoshi-tech/fieldagg/pkg/kvstore"
)

// ErrNoCheckpoint is returned by show when nothing is stored for the dataset.
var ErrNoCheckpoint = errors.New("no checkpoint found")

// checkpointFlags selects the store a checkpoint subcommand works on.
type checkpointFlags struct {
	configPath string
	location   string
	backend    string
	namespace  string
}

func (cf *checkpointFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&cf.configPath, "config", "", "Config file path (default: .fieldagg.yaml in CWD or $HOME)")
	cmd.Flags().StringVar(&cf.location, "checkpoint-dir", "", "Checkpoint location (default: ~/.fieldagg/checkpoints)")
	cmd.Flags().StringVar(&cf.backend, "checkpoint-backend", config.DefaultCheckpointBackend,
		"Checkpoint store: memory, dir, bolt, sqlite")
	cmd.Flags().StringVar(&cf.namespace, "checkpoint-namespace", "",
		"Checkpoint namespace (default: derived from the dataset id)")
}

// open resolves the configured store and opens the checkpointer for datasetID.
func (cf *checkpointFlags) open(cmd *cobra.Command, datasetID string) (*checkpoint.Checkpointer, error) {
	cfg, err := config.LoadConfig(cf.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()

	if flags.Changed("checkpoint-dir") {
		cfg.Checkpoint.Location = cf.location
	}

	if flags.Changed("checkpoint-backend") {
		cfg.Checkpoint.Backend = cf.backend
	}

	if flags.Changed("checkpoint-namespace") {
		cfg.Checkpoint.Namespace = cf.namespace
	}

	return openCheckpointer(cfg.Checkpoint, datasetID)
}

// NewCheckpointCommand creates the checkpoint command group.
func NewCheckpointCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or clear stored checkpoints",
		Long: `Inspect or clear the checkpoint stored for a dataset.

The store is selected the same way the run command selects it: from the
config file, environment and the --checkpoint-* flags.`,
	}

	cmd.AddCommand(newCheckpointShowCommand())
	cmd.AddCommand(newCheckpointClearCommand())

	return cmd
}

// checkpointSummary is the JSON form of show.
type checkpointSummary struct {
	Dataset   string               `json:"dataset"`
	Meta      *checkpoint.Metadata `json:"meta,omitempty"`
	Offset    int                  `json:"offset"`
	Distinct  map[string]int       `json:"distinct"`
	HasOutput bool                 `json:"has_output"`
}

func newCheckpointShowCommand() *cobra.Command {
	var (
		cf     checkpointFlags
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "show <dataset>",
		Short: "Show the checkpoint stored for a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cp, err := cf.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer cp.Store().Close()

			summary, err := loadSummary(cmd.Context(), cp, args[0])
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")

				return enc.Encode(summary)
			}

			return writeSummary(cmd.OutOrStdout(), summary)
		},
	}

	cf.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")

	return cmd
}

func newCheckpointClearCommand() *cobra.Command {
	var cf checkpointFlags

	cmd := &cobra.Command{
		Use:   "clear <dataset>",
		Short: "Remove the checkpoint and stored result for a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cp, err := cf.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer cp.Store().Close()

			ctx := cmd.Context()

			err = errors.Join(cp.Clear(ctx), cp.Store().Delete(ctx, aggregate.OutputKey))
			if err != nil {
				return fmt.Errorf("clear checkpoint: %w", err)
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "checkpoint cleared for %s\n", args[0])

			return err
		},
	}

	cf.register(cmd)

	return cmd
}

func loadSummary(ctx context.Context, cp *checkpoint.Checkpointer, datasetID string) (checkpointSummary, error) {
	state, found, err := cp.Load(ctx)
	if err != nil {
		return checkpointSummary{}, fmt.Errorf("load checkpoint: %w", err)
	}

	if !found {
		return checkpointSummary{}, fmt.Errorf("%w for %s", ErrNoCheckpoint, datasetID)
	}

	summary := checkpointSummary{
		Dataset:  datasetID,
		Offset:   state.Offset,
		Distinct: make(map[string]int, len(state.Values)),
	}

	if state.Meta.RunID != "" || state.Meta.SourceID != "" {
		meta := state.Meta
		summary.Meta = &meta
	}

	for field, values := range state.Values {
		summary.Distinct[field] = len(values)
	}

	_, outErr := cp.Store().Get(ctx, aggregate.OutputKey)
	switch {
	case outErr == nil:
		summary.HasOutput = true
	case !errors.Is(outErr, kvstore.ErrNotFound):
		return checkpointSummary{}, fmt.Errorf("read output: %w", outErr)
	}

	return summary, nil
}

func writeSummary(w io.Writer, summary checkpointSummary) error {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.DrawBorder = false

	tbl.AppendRow(table.Row{"Dataset", summary.Dataset})
	tbl.AppendRow(table.Row{"Offset", humanize.Comma(int64(summary.Offset))})
	tbl.AppendRow(table.Row{"Finished", summary.HasOutput})

	if summary.Meta != nil {
		tbl.AppendRow(table.Row{"Mode", summary.Meta.Mode})
		tbl.AppendRow(table.Row{"Run", summary.Meta.RunID})
		tbl.AppendRow(table.Row{"Saved", summary.Meta.CreatedAt})
	}

	fields := make([]string, 0, len(summary.Distinct))
	for field := range summary.Distinct {
		fields = append(fields, field)
	}

	slices.Sort(fields)

	for _, field := range fields {
		label := field
		if label == aggregate.DefaultFieldID {
			label = "(field names)"
		}

		tbl.AppendRow(table.Row{"Distinct " + label, humanize.Comma(int64(summary.Distinct[field]))})
	}

	tbl.Render()

	return nil
}
