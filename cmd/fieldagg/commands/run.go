// Package commands implements the fieldagg CLI commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/fieldagg/pkg/aggregate"
	"github.com/Sumatoshi-tech/fieldagg/pkg/config"
	"github.com/Sumatoshi-tech/fieldagg/pkg/dataset"
	"github.com/Sumatoshi-tech/fieldagg/pkg/input"
	"github.com/Sumatoshi-tech/fieldagg/pkg/observability"
	"github.com/Sumatoshi-tech/fieldagg/pkg/report"
	"github.com/Sumatoshi-tech/fieldagg/pkg/version"
)

// Sentinel errors for the run command.
var (
	// ErrInvalidSplit indicates a --split value without "=".
	ErrInvalidSplit = errors.New("split must be field=delimiter")
	// ErrNotReady is reported by /readyz until records are being consumed.
	ErrNotReady = errors.New("aggregation not running")
)

const opRun = "run"

// RunCommand holds configuration for the run command.
type RunCommand struct {
	configPath string

	datasetID  string
	fields     []string
	fieldNames bool
	splits     []string
	extraction string

	format     string
	outputPath string
	silent     bool
	pageSize   int

	checkpointDir     string
	checkpointBackend string
	namespace         string
	clearCheckpoint   bool
	persistInterval   time.Duration
	metricsAddr       string
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	rc := &RunCommand{}

	cmd := &cobra.Command{
		Use:   "run [input.json]",
		Short: "Aggregate distinct field values of a dataset",
		Long: `Aggregate the distinct values of selected fields across a dataset.

The optional input file is a JSON document with datasetId, fields, fieldNames,
split and extraction; "-" reads it from stdin. Flags override its values.
Progress is checkpointed and a later run over the same input resumes from
the last saved offset.`,
		Args: cobra.MaximumNArgs(1),
		RunE: rc.run,
	}

	cmd.Flags().StringVar(&rc.configPath, "config", "", "Config file path (default: .fieldagg.yaml in CWD or $HOME)")

	cmd.Flags().StringVarP(&rc.datasetID, "dataset", "d", "",
		"Dataset id: a .json, .jsonl or .csv path, or sqlite:<path>[#table]")
	cmd.Flags().StringSliceVarP(&rc.fields, "fields", "f", nil, "Fields to aggregate (plain keys or dotted paths)")
	cmd.Flags().BoolVar(&rc.fieldNames, "field-names", false, "Aggregate the key names of every record")
	cmd.Flags().StringArrayVar(&rc.splits, "split", nil, "Split a field's string values: field=delimiter (repeatable)")
	cmd.Flags().StringVar(&rc.extraction, "extraction", "", "Extraction mode: auto, key, path")

	cmd.Flags().StringVar(&rc.format, "format", config.DefaultOutputFormat, "Output format: json, yaml, text, plot")
	cmd.Flags().StringVarP(&rc.outputPath, "output", "o", "", "Write the result to a file instead of stdout")
	cmd.Flags().BoolVar(&rc.silent, "silent", false, "Disable progress output")
	cmd.Flags().IntVar(&rc.pageSize, "page-size", config.DefaultSourcePageSize, "Rows per page for sqlite datasets")

	cmd.Flags().Bool("checkpoint", true, "Enable checkpointing for crash recovery")
	cmd.Flags().StringVar(&rc.checkpointDir, "checkpoint-dir", "",
		"Checkpoint location (default: ~/.fieldagg/checkpoints)")
	cmd.Flags().StringVar(&rc.checkpointBackend, "checkpoint-backend", config.DefaultCheckpointBackend,
		"Checkpoint store: memory, dir, bolt, sqlite")
	cmd.Flags().StringVar(&rc.namespace, "checkpoint-namespace", "",
		"Checkpoint namespace (default: derived from the dataset id)")
	cmd.Flags().Bool("resume", true, "Resume from checkpoint if available")
	cmd.Flags().BoolVar(&rc.clearCheckpoint, "clear-checkpoint", false, "Clear existing checkpoint before run")
	cmd.Flags().DurationVar(&rc.persistInterval, "persist-interval", config.DefaultCheckpointInterval,
		"Interval between periodic checkpoint saves")
	cmd.Flags().StringVar(&rc.metricsAddr, "metrics-addr", "",
		"Serve /healthz, /readyz and /metrics on this address during the run")

	return cmd
}

func (rc *RunCommand) run(cmd *cobra.Command, args []string) error {
	silent := rc.isSilent(cmd)
	progressWriter := cmd.ErrOrStderr()

	cfg, err := config.LoadConfig(rc.configPath)
	if err != nil {
		return err
	}

	err = rc.applyOverrides(cmd, cfg)
	if err != nil {
		return err
	}

	engineCfg, err := rc.resolveInput(cmd, args)
	if err != nil {
		return err
	}

	_, err = engineCfg.Validate()
	if err != nil {
		return err
	}

	providers, err := initRunObservability(cmd, cfg, silent)
	if err != nil {
		return err
	}

	defer func() {
		shutdownErr := providers.Shutdown(context.Background())
		if shutdownErr != nil {
			providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}()

	red, err := observability.NewREDMetrics(providers.Meter)
	if err != nil {
		return err
	}

	aggMetrics, err := observability.NewAggregationMetrics(providers.Meter)
	if err != nil {
		return err
	}

	rc.progressf(silent, progressWriter, "starting run dataset=%s fields=%s",
		engineCfg.SourceID, strings.Join(engineCfg.FieldIDs(), ","))

	var rep report.Report

	err = red.Observe(cmd.Context(), opRun, func(ctx context.Context) error {
		var runErr error

		rep, runErr = rc.aggregate(ctx, cfg, engineCfg, providers, aggMetrics, silent, progressWriter)

		return runErr
	})
	if err != nil {
		return err
	}

	err = rc.render(cmd.OutOrStdout(), cfg.Output.Format, rep)
	if err != nil {
		return err
	}

	rc.progressf(silent, progressWriter, "run completed records=%s processed=%s checkpoints=%d in %s",
		humanize.Comma(int64(rep.Stats.Offset)), humanize.Comma(int64(rep.Stats.Processed)),
		rep.Stats.Checkpoints, rep.Stats.Duration.Round(time.Millisecond))

	return nil
}

func (rc *RunCommand) aggregate(
	ctx context.Context,
	cfg *config.Config,
	engineCfg aggregate.Config,
	providers observability.Providers,
	aggMetrics *observability.AggregationMetrics,
	silent bool,
	progressWriter io.Writer,
) (report.Report, error) {
	source, err := dataset.Open(ctx, engineCfg.SourceID, dataset.Options{PageSize: cfg.Source.PageSize})
	if err != nil {
		return report.Report{}, err
	}
	defer source.Close()

	opts := aggregate.Options{
		Logger:           providers.Logger,
		Metrics:          aggMetrics,
		Tracer:           providers.Tracer,
		IgnoreCheckpoint: !cfg.Checkpoint.Resume,
	}

	if cfg.Checkpoint.Enabled {
		cp, cpErr := openCheckpointer(cfg.Checkpoint, engineCfg.SourceID)
		if cpErr != nil {
			return report.Report{}, cpErr
		}
		defer cp.Store().Close()

		if cfg.Checkpoint.ClearPrev {
			clearErr := cp.Clear(ctx)
			if clearErr != nil {
				return report.Report{}, fmt.Errorf("clear checkpoint: %w", clearErr)
			}

			rc.progressf(silent, progressWriter, "checkpoint cleared")
		}

		trigger := aggregate.MultiTrigger{
			aggregate.NewTickerTrigger(cfg.Checkpoint.Interval),
			aggregate.NewSignalTrigger(),
		}
		defer trigger.Close()

		opts.Checkpointer = cp
		opts.Trigger = trigger
	}

	engine, err := aggregate.New(engineCfg, source, opts)
	if err != nil {
		return report.Report{}, err
	}

	if cfg.Telemetry.MetricsAddr != "" {
		diag, diagErr := observability.NewDiagnosticsServer(ctx, cfg.Telemetry.MetricsAddr,
			providers.Tracer, providers.MetricsHandler, providers.Logger, engineReady(engine))
		if diagErr != nil {
			return report.Report{}, diagErr
		}

		rc.progressf(silent, progressWriter, "diagnostics listening on %s", diag.Addr())

		defer func() {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Telemetry.ShutdownDelay)
			defer cancel()

			closeErr := diag.Close(closeCtx)
			if closeErr != nil {
				providers.Logger.Warn("diagnostics shutdown failed", "error", closeErr)
			}
		}()
	}

	result, stats, err := engine.Run(ctx)
	if err != nil {
		if stats.Offset > 0 && opts.Checkpointer != nil {
			rc.progressf(silent, progressWriter, "run stopped at record %s; rerun to resume",
				humanize.Comma(int64(stats.Offset)))
		}

		return report.Report{}, err
	}

	if stats.Resumed {
		rc.progressf(silent, progressWriter, "resumed from record %s", humanize.Comma(int64(stats.StartOffset)))
	}

	return report.Report{Dataset: engineCfg.SourceID, Result: result, Stats: stats}, nil
}

// engineReady reports ready once the engine is consuming records.
func engineReady(engine *aggregate.Engine) observability.ReadyCheck {
	return func(_ context.Context) error {
		state := engine.State()
		if state < aggregate.StateRunning {
			return fmt.Errorf("%w: %s", ErrNotReady, state)
		}

		return nil
	}
}

func (rc *RunCommand) render(stdout io.Writer, format string, rep report.Report) error {
	if rc.outputPath == "" {
		return report.Render(stdout, format, rep)
	}

	file, err := os.Create(rc.outputPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}

	err = report.Render(file, format, rep)
	if err != nil {
		_ = file.Close()

		return err
	}

	return file.Close()
}

// applyOverrides copies explicitly set flags over the loaded configuration.
func (rc *RunCommand) applyOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()

	if flags.Changed("checkpoint") {
		enabled, err := flags.GetBool("checkpoint")
		if err == nil {
			cfg.Checkpoint.Enabled = enabled
		}
	}

	if flags.Changed("resume") {
		resume, err := flags.GetBool("resume")
		if err == nil {
			cfg.Checkpoint.Resume = resume
		}
	}

	if flags.Changed("checkpoint-dir") {
		cfg.Checkpoint.Location = rc.checkpointDir
	}

	if flags.Changed("checkpoint-backend") {
		cfg.Checkpoint.Backend = rc.checkpointBackend
	}

	if flags.Changed("checkpoint-namespace") {
		cfg.Checkpoint.Namespace = rc.namespace
	}

	if flags.Changed("clear-checkpoint") {
		cfg.Checkpoint.ClearPrev = rc.clearCheckpoint
	}

	if flags.Changed("persist-interval") {
		cfg.Checkpoint.Interval = rc.persistInterval
	}

	if flags.Changed("metrics-addr") {
		cfg.Telemetry.MetricsAddr = rc.metricsAddr
	}

	if flags.Changed("format") {
		cfg.Output.Format = rc.format
	}

	if flags.Changed("page-size") {
		cfg.Source.PageSize = rc.pageSize
	}

	err := cfg.Validate()
	if err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	return nil
}

// resolveInput loads the input document, if any, and applies flag values on top.
func (rc *RunCommand) resolveInput(cmd *cobra.Command, args []string) (aggregate.Config, error) {
	in := &input.Input{}

	if len(args) == 1 {
		loaded, err := input.LoadFile(args[0])
		if err != nil {
			return aggregate.Config{}, err
		}

		in = loaded
	}

	flags := cmd.Flags()

	if flags.Changed("dataset") {
		in.DatasetID = rc.datasetID
	}

	if flags.Changed("fields") {
		in.Fields = rc.fields
	}

	if flags.Changed("field-names") {
		in.FieldNames = rc.fieldNames
	}

	if flags.Changed("extraction") {
		in.Extraction = rc.extraction
	}

	if flags.Changed("split") {
		splits, err := parseSplits(rc.splits)
		if err != nil {
			return aggregate.Config{}, err
		}

		if in.Split == nil {
			in.Split = make(map[string]string, len(splits))
		}

		for field, delim := range splits {
			in.Split[field] = delim
		}
	}

	return in.ToEngineConfig(), nil
}

// parseSplits parses field=delimiter pairs. The delimiter is everything after
// the first "=" and may itself contain "=" or ",".
func parseSplits(raw []string) (map[string]string, error) {
	splits := make(map[string]string, len(raw))

	for _, pair := range raw {
		field, delim, ok := strings.Cut(pair, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSplit, pair)
		}

		splits[field] = delim
	}

	return splits, nil
}

func initRunObservability(cmd *cobra.Command, cfg *config.Config, silent bool) (observability.Providers, error) {
	level, err := observability.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return observability.Providers{}, err
	}

	if verbose, flagErr := cmd.Flags().GetBool("verbose"); flagErr == nil && verbose {
		level = slog.LevelDebug
	}

	if silent && level < slog.LevelWarn {
		level = slog.LevelWarn
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.Environment = cfg.Telemetry.Environment
	obsCfg.Mode = observability.ModeCLI
	obsCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	obsCfg.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(cfg.Telemetry.OTLPHeaders)
	obsCfg.Prometheus = cfg.Telemetry.MetricsAddr != ""
	obsCfg.DebugTrace = cfg.Telemetry.DebugTrace
	obsCfg.SampleRatio = cfg.Telemetry.SampleRatio
	obsCfg.LogLevel = level
	obsCfg.LogJSON = cfg.Logging.JSON
	obsCfg.ShutdownTimeoutSec = int(cfg.Telemetry.ShutdownDelay / time.Second)

	return observability.Init(obsCfg)
}

func (rc *RunCommand) isSilent(cmd *cobra.Command) bool {
	if rc.silent {
		return true
	}

	quiet, err := cmd.Flags().GetBool("quiet")
	if err != nil {
		return false
	}

	return quiet
}

func (rc *RunCommand) progressf(silent bool, writer io.Writer, format string, args ...any) {
	if silent {
		return
	}

	_, _ = fmt.Fprintf(writer, "progress: "+format+"\n", args...)
}
