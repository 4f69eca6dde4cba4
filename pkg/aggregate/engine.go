// Package aggregate implements resumable distinct-value aggregation over an
// ordered record source.
package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/fieldagg/pkg/checkpoint"
	"github.com/Sumatoshi-tech/fieldagg/pkg/dataset"
	"github.com/Sumatoshi-tech/fieldagg/pkg/fieldspec"
	"github.com/Sumatoshi-tech/fieldagg/pkg/observability"
)

const tracerName = "fieldagg"

// OutputKey is the store key the final result is written under.
const OutputKey = "OUTPUT"

// ErrAlreadyRun is returned when Run is called on a used engine.
var ErrAlreadyRun = errors.New("engine already run")

// State is the engine lifecycle stage.
type State int32

// Engine states in lifecycle order.
const (
	StateInitializing State = iota
	StateRestoring
	StateRunning
	StateFinalizing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRestoring:
		return "restoring"
	case StateRunning:
		return "running"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config describes what a run aggregates.
type Config struct {
	SourceID   string
	Fields     []string
	FieldNames bool
	Split      SplitRule
	// Extraction overrides mode detection: "auto" (default), "key" or "path".
	Extraction string
}

// Validate checks the configuration and resolves the extraction mode.
// Every problem is reported in one *ConfigurationError.
func (c Config) Validate() (fieldspec.Mode, error) {
	var problems []error

	if !c.FieldNames && len(c.Fields) == 0 {
		problems = append(problems, ErrMissingFields)
	}

	if c.SourceID == "" {
		problems = append(problems, ErrMissingSource)
	}

	mode, err := fieldspec.ResolveMode(c.Fields, c.FieldNames, c.Extraction)
	if err != nil {
		problems = append(problems, err)
	}

	if len(problems) > 0 {
		return "", NewConfigurationError(problems...)
	}

	return mode, nil
}

// FieldIDs returns the accumulator ids in output order.
func (c Config) FieldIDs() []string {
	if c.FieldNames {
		return []string{DefaultFieldID}
	}

	return append([]string(nil), c.Fields...)
}

// Options wires the engine to its collaborators. Every field is optional.
type Options struct {
	// Checkpointer persists progress. Nil disables checkpointing and OUTPUT.
	Checkpointer *checkpoint.Checkpointer
	// Trigger requests intermediate persists.
	Trigger Trigger
	// IgnoreCheckpoint starts from offset 0 even when a checkpoint exists.
	IgnoreCheckpoint bool
	// Logger receives progress logs. Nil discards.
	Logger *slog.Logger
	// Metrics records aggregation instruments. Nil-safe.
	Metrics *observability.AggregationMetrics
	// Tracer creates the run span. Nil uses the global tracer.
	Tracer trace.Tracer
}

// RunStats summarizes one run.
type RunStats struct {
	RunID              string        `json:"run_id"`
	Resumed            bool          `json:"resumed"`
	StartOffset        int           `json:"start_offset"`
	Processed          int           `json:"processed"`
	Offset             int           `json:"offset"`
	Total              int           `json:"total"`
	Checkpoints        int64         `json:"checkpoints"`
	CheckpointFailures int64         `json:"checkpoint_failures"`
	Duration           time.Duration `json:"duration"`
}

// Engine aggregates one source. It is single-use.
type Engine struct {
	cfg    Config
	mode   fieldspec.Mode
	source dataset.Source
	opts   Options
	logger *slog.Logger
	runID  string

	state atomic.Int32

	// mu guards offset and accs so snapshots see a consistent pair.
	mu     sync.Mutex
	offset int
	accs   []*FieldAccumulator

	// persistMu serializes saves so a newer snapshot is never overwritten by an older one.
	persistMu sync.Mutex
	requests  chan struct{}
	// stale is set when the store may hold another run's checkpoint; guarded by persistMu.
	stale bool

	checkpoints atomic.Int64
	failures    atomic.Int64
}

// New validates cfg and builds an engine over source.
func New(cfg Config, source dataset.Source, opts Options) (*Engine, error) {
	mode, err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	if source == nil {
		return nil, NewConfigurationError(errors.New("record source is required"))
	}

	return &Engine{
		cfg:      cfg,
		mode:     mode,
		source:   source,
		opts:     opts,
		logger:   observability.LoggerOrDiscard(opts.Logger),
		runID:    uuid.NewString(),
		requests: make(chan struct{}, 1),
	}, nil
}

// Mode returns the resolved extraction mode.
func (e *Engine) Mode() fieldspec.Mode {
	return e.mode
}

// RunID returns the unique id of this run.
func (e *Engine) RunID() string {
	return e.runID
}

// State returns the current lifecycle stage.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// Offset returns the number of records consumed so far.
func (e *Engine) Offset() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.offset
}

// RequestPersist asks for an intermediate checkpoint without blocking.
// Requests arriving while one is pending collapse into it.
func (e *Engine) RequestPersist() {
	select {
	case e.requests <- struct{}{}:
	default:
	}
}

// Run restores, consumes the source and finalizes. On failure while running,
// the current state is checkpointed before the error is returned.
func (e *Engine) Run(ctx context.Context) (*Result, RunStats, error) {
	if !e.state.CompareAndSwap(int32(StateInitializing), int32(StateRestoring)) {
		return nil, RunStats{}, ErrAlreadyRun
	}

	start := time.Now()
	stats := RunStats{RunID: e.runID, Total: -1}

	tracer := e.opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	ctx = observability.ContextWithRunID(ctx, e.runID)

	ctx, span := tracer.Start(ctx, "fieldagg.aggregate",
		trace.WithAttributes(
			attribute.String("run.id", e.runID),
			attribute.String("aggregate.mode", string(e.mode)),
			attribute.StringSlice("aggregate.fields", e.cfg.FieldIDs()),
		))
	defer span.End()

	stats.StartOffset, stats.Resumed = e.restore(ctx)
	stats.Total = e.sourceTotal(ctx)

	e.setState(StateRunning)

	processed, runErr := e.consume(ctx, stats.StartOffset)
	stats.Processed = processed
	e.opts.Metrics.RecordRecords(ctx, int64(processed))

	// Saves outlive cancellation so an interrupted run still leaves a checkpoint.
	saveCtx := context.WithoutCancel(ctx)

	if runErr != nil {
		e.persistQuietly(saveCtx)
		e.fillStats(&stats, start)

		span.RecordError(runErr)
		span.SetStatus(codes.Error, "aggregation aborted")

		return nil, stats, runErr
	}

	e.setState(StateFinalizing)

	result := e.finalize(saveCtx)

	e.persistQuietly(saveCtx)
	e.setState(StateDone)
	e.fillStats(&stats, start)

	span.SetAttributes(
		attribute.Int("aggregate.records", stats.Processed),
		attribute.Int64("checkpoint.saves", stats.Checkpoints),
	)

	e.opts.Metrics.RecordRun(ctx, stats.Duration, e.distinctCounts())

	e.logger.InfoContext(ctx, "aggregate: done",
		"records", humanize.Comma(int64(stats.Offset)),
		"processed", humanize.Comma(int64(stats.Processed)),
		"checkpoints", stats.Checkpoints,
		"duration", stats.Duration.Round(time.Millisecond))

	return result, stats, nil
}

func (e *Engine) fillStats(stats *RunStats, start time.Time) {
	stats.Offset = e.Offset()
	stats.Checkpoints = e.checkpoints.Load()
	stats.CheckpointFailures = e.failures.Load()
	stats.Duration = time.Since(start)
}

func (e *Engine) meta() checkpoint.Metadata {
	return checkpoint.Metadata{
		SourceID: e.cfg.SourceID,
		Fields:   e.cfg.FieldIDs(),
		Mode:     string(e.mode),
		RunID:    e.runID,
	}
}

// restore builds the accumulators, seeding them from a valid checkpoint.
// Any checkpoint problem falls back to a fresh start.
func (e *Engine) restore(ctx context.Context) (int, bool) {
	ids := e.cfg.FieldIDs()
	e.accs = make([]*FieldAccumulator, len(ids))

	for i, id := range ids {
		spec := fieldspec.Parse(id, e.mode)
		e.accs[i] = NewFieldAccumulator(id, spec, e.cfg.Split)
	}

	cp := e.opts.Checkpointer
	if cp == nil {
		return 0, false
	}

	if e.opts.IgnoreCheckpoint {
		e.markStale()

		return 0, false
	}

	state, err := e.loadCheckpoint(ctx, cp)
	if err != nil {
		e.logger.WarnContext(ctx, "checkpoint: resume failed, starting fresh", "error", err)
		e.markStale()

		return 0, false
	}

	if state == nil {
		e.markStale()

		return 0, false
	}

	for _, acc := range e.accs {
		acc.Restore(state.Values[acc.ID()])
	}

	e.offset = state.Offset

	e.logger.InfoContext(ctx, "checkpoint: resuming", "offset", state.Offset, "previous_run", state.Meta.RunID)
	trace.SpanFromContext(ctx).AddEvent("checkpoint.resumed", trace.WithAttributes(
		attribute.Int("checkpoint.offset", state.Offset),
	))

	return state.Offset, true
}

func (e *Engine) markStale() {
	e.persistMu.Lock()
	e.stale = true
	e.persistMu.Unlock()
}

func (e *Engine) loadCheckpoint(ctx context.Context, cp *checkpoint.Checkpointer) (*checkpoint.State, error) {
	err := cp.Validate(ctx, e.meta())
	if err != nil {
		return nil, err
	}

	state, found, err := cp.Load(ctx)
	if err != nil || !found {
		return nil, err
	}

	return state, nil
}

func (e *Engine) sourceTotal(ctx context.Context) int {
	meta, err := e.source.Metadata(ctx)
	if err != nil {
		e.logger.WarnContext(ctx, "aggregate: source metadata unavailable", "error", err)

		return -1
	}

	e.logger.InfoContext(ctx, "aggregate: aggregating",
		"source", meta.ID, "items", humanize.Comma(int64(meta.TotalCount)), "mode", string(e.mode))

	return meta.TotalCount
}

// consume streams records from offset, running the persist worker alongside.
func (e *Engine) consume(ctx context.Context, offset int) (int, error) {
	stopWorker := e.startPersistWorker(ctx)
	defer stopWorker()

	processed := 0

	err := e.source.ForEach(ctx, offset, func(rec dataset.Record) error {
		e.mu.Lock()
		e.offset++

		for _, acc := range e.accs {
			acc.Ingest(rec)
		}
		e.mu.Unlock()

		processed++

		return nil
	})
	if err != nil {
		return processed, fmt.Errorf("aggregate %s: %w", e.cfg.SourceID, err)
	}

	return processed, nil
}

// startPersistWorker runs a single goroutine serving persist requests and
// returns a function that stops it and waits for it to exit.
func (e *Engine) startPersistWorker(ctx context.Context) func() {
	if e.opts.Checkpointer == nil {
		return func() {}
	}

	unregister := func() {}
	if e.opts.Trigger != nil {
		unregister = e.opts.Trigger.Register(e.RequestPersist)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	saveCtx := context.WithoutCancel(ctx)

	go func() {
		defer close(done)

		for {
			select {
			case <-e.requests:
				e.persistQuietly(saveCtx)
			case <-stop:
				return
			}
		}
	}()

	return func() {
		unregister()
		close(stop)
		<-done
	}
}

// Persist snapshots the current state and saves it synchronously. Failures
// are returned as *PersistenceFailure.
func (e *Engine) Persist(ctx context.Context) error {
	cp := e.opts.Checkpointer
	if cp == nil {
		return nil
	}

	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	state := e.snapshot()

	// Keys left by an earlier run must go before the first save: a partial
	// save would otherwise pair this run's values with the old offset.
	if e.stale {
		err := cp.Clear(ctx)
		if err != nil {
			e.opts.Metrics.RecordCheckpoint(ctx, err)
			e.failures.Add(1)

			return &PersistenceFailure{Offset: state.Offset, Err: fmt.Errorf("clear previous checkpoint: %w", err)}
		}

		e.stale = false
	}

	err := cp.Save(ctx, state)
	e.opts.Metrics.RecordCheckpoint(ctx, err)

	if err != nil {
		e.failures.Add(1)

		return &PersistenceFailure{Offset: state.Offset, Err: err}
	}

	e.checkpoints.Add(1)

	return nil
}

func (e *Engine) persistQuietly(ctx context.Context) {
	err := e.Persist(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "checkpoint: save failed", "error", err)

		return
	}

	if e.opts.Checkpointer != nil {
		e.logger.DebugContext(ctx, "checkpoint: saved", "offset", e.Offset())
	}
}

func (e *Engine) snapshot() checkpoint.State {
	e.mu.Lock()
	defer e.mu.Unlock()

	values := make(checkpoint.SavedValues, len(e.accs))
	for _, acc := range e.accs {
		values[acc.ID()] = acc.Snapshot()
	}

	return checkpoint.State{Offset: e.offset, Values: values, Meta: e.meta()}
}

// finalize reduces every accumulator and writes the result under OutputKey.
func (e *Engine) finalize(ctx context.Context) *Result {
	e.mu.Lock()

	result := &Result{}

	for _, acc := range e.accs {
		sum := Reduce(acc.ID(), acc.Snapshot())

		if e.cfg.FieldNames {
			sum.Field = ""
			result.Default = &sum

			continue
		}

		result.Fields = append(result.Fields, sum)
	}
	e.mu.Unlock()

	cp := e.opts.Checkpointer
	if cp == nil {
		return result
	}

	data, err := json.Marshal(result)
	if err == nil {
		err = cp.Store().Put(ctx, OutputKey, data)
	}

	if err != nil {
		e.logger.ErrorContext(ctx, "aggregate: writing output failed", "error", err)
	}

	return result
}

func (e *Engine) distinctCounts() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()

	counts := make(map[string]int, len(e.accs))
	for _, acc := range e.accs {
		counts[acc.ID()] = acc.Len()
	}

	return counts
}
