package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/fieldagg/pkg/checkpoint"
	"github.com/Sumatoshi-tech/fieldagg/pkg/dataset"
	"github.com/Sumatoshi-tech/fieldagg/pkg/kvstore"
	"github.com/Sumatoshi-tech/fieldagg/pkg/persist"
	"github.com/Sumatoshi-tech/fieldagg/pkg/value"
)

const testSourceID = "books"

var (
	errSourceDown = errors.New("source down")
	errStoreDown  = errors.New("store down")
)

// hookSource delegates to a MemorySource and calls hook after the n-th
// visited record, optionally failing right after it.
type hookSource struct {
	*dataset.MemorySource

	n    int
	hook func()
	fail bool
}

func (h *hookSource) ForEach(ctx context.Context, offset int, visit func(dataset.Record) error) error {
	seen := 0

	return h.MemorySource.ForEach(ctx, offset, func(rec dataset.Record) error {
		err := visit(rec)
		if err != nil {
			return err
		}

		seen++
		if seen != h.n {
			return nil
		}

		if h.hook != nil {
			h.hook()
		}

		if h.fail {
			return errSourceDown
		}

		return nil
	})
}

// flakyStore fails every Put while down is set.
type flakyStore struct {
	*kvstore.MemoryStore

	down atomic.Bool
}

func (f *flakyStore) Put(ctx context.Context, key string, data []byte) error {
	if f.down.Load() {
		return errStoreDown
	}

	return f.MemoryStore.Put(ctx, key, data)
}

// keyedFaultStore fails Puts of one key and, optionally, every Delete.
type keyedFaultStore struct {
	*kvstore.MemoryStore

	failPut    string
	failDelete bool
}

func (k *keyedFaultStore) Put(ctx context.Context, key string, data []byte) error {
	if key == k.failPut {
		return errStoreDown
	}

	return k.MemoryStore.Put(ctx, key, data)
}

func (k *keyedFaultStore) Delete(ctx context.Context, key string) error {
	if k.failDelete {
		return errStoreDown
	}

	return k.MemoryStore.Delete(ctx, key)
}

func bookRecords(n int) []dataset.Record {
	records := make([]dataset.Record, n)
	for i := range n {
		records[i] = dataset.Record{
			"title": fmt.Sprintf("book-%d", i%7),
			"tags":  fmt.Sprintf("t%d,t%d", i%3, i%5),
			"pages": float64(100 + i%4),
		}
	}

	return records
}

func bookConfig() Config {
	return Config{
		SourceID: testSourceID,
		Fields:   []string{"title", "tags", "pages"},
		Split:    SplitRule{"tags": ","},
	}
}

func newCheckpointer(store kvstore.Store) *checkpoint.Checkpointer {
	return checkpoint.NewCheckpointer(store, persist.NewCompactJSONCodec())
}

func runEngine(t *testing.T, cfg Config, src dataset.Source, opts Options) (*Result, RunStats) {
	t.Helper()

	engine, err := New(cfg, src, opts)
	require.NoError(t, err)

	result, stats, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, engine.State())

	return result, stats
}

func resultJSON(t *testing.T, result *Result) string {
	t.Helper()

	data, err := json.Marshal(result)
	require.NoError(t, err)

	return string(data)
}

// distinctSets renders each field's values as a set for order-insensitive comparison.
func distinctSets(result *Result) map[string]map[string]bool {
	out := map[string]map[string]bool{}

	for _, s := range result.Summaries() {
		set := map[string]bool{}
		for _, v := range s.Values {
			set[v.Key()] = true
		}

		out[s.Field] = set
	}

	return out
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	_, err := Config{}.Validate()
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.Len(t, cfgErr.Problems, 2)
	require.ErrorIs(t, cfgErr.Problems[0], ErrMissingFields)
	require.ErrorIs(t, err, ErrMissingSource)

	_, err = Config{Fields: []string{"a"}}.Validate()
	require.ErrorIs(t, err, ErrMissingSource)
	require.NotErrorIs(t, err, ErrMissingFields)

	mode, err := Config{SourceID: "s", FieldNames: true}.Validate()
	require.NoError(t, err)
	assert.Equal(t, "field-names", string(mode))

	_, err = Config{SourceID: "s", Fields: []string{"a"}, Extraction: "regex"}.Validate()
	require.ErrorAs(t, err, &cfgErr)
}

func TestNew_RejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := New(Config{SourceID: "s"}, dataset.NewMemorySource("s", nil), Options{})
	require.ErrorIs(t, err, ErrMissingFields)

	_, err = New(Config{SourceID: "s", Fields: []string{"a"}}, nil, Options{})

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestEngine_RunWritesOutput(t *testing.T) {
	t.Parallel()

	store := kvstore.NewMemoryStore()
	src := dataset.NewMemorySource(testSourceID, bookRecords(20))

	result, stats := runEngine(t, bookConfig(), src, Options{Checkpointer: newCheckpointer(store)})

	assert.False(t, stats.Resumed)
	assert.Equal(t, 20, stats.Processed)
	assert.Equal(t, 20, stats.Offset)
	assert.Equal(t, 20, stats.Total)
	assert.GreaterOrEqual(t, stats.Checkpoints, int64(1))
	assert.NotEmpty(t, stats.RunID)

	titles, ok := result.Lookup("title")
	require.True(t, ok)
	assert.Equal(t, 7, titles.Count)
	assert.Equal(t, "book-0", titles.Values[0].String())

	tags, ok := result.Lookup("tags")
	require.True(t, ok)
	assert.Equal(t, 5, tags.Count)

	pages, ok := result.Lookup("pages")
	require.True(t, ok)
	assert.Equal(t, Bound(100), pages.Min)
	assert.Equal(t, Bound(103), pages.Max)
	assert.Equal(t, int64(102), pages.Average)

	output, err := store.Get(context.Background(), OutputKey)
	require.NoError(t, err)
	assert.JSONEq(t, resultJSON(t, result), string(output))

	state, found, err := newCheckpointer(store).Load(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 20, state.Offset)
	assert.Len(t, state.Values["title"], 7)
}

func TestEngine_RunWithoutCheckpointer(t *testing.T) {
	t.Parallel()

	result, stats := runEngine(t, bookConfig(), dataset.NewMemorySource(testSourceID, bookRecords(3)), Options{})

	assert.Zero(t, stats.Checkpoints)
	assert.Len(t, result.Summaries(), 3)
}

func TestEngine_FieldNamesMode(t *testing.T) {
	t.Parallel()

	src := dataset.NewMemorySource(testSourceID, []dataset.Record{
		{"x": 1.0, "y": 2.0},
		{"y": 3.0, "z": 4.0},
	})

	result, _ := runEngine(t, Config{SourceID: testSourceID, FieldNames: true}, src, Options{})

	require.NotNil(t, result.Default)
	assert.Empty(t, result.Default.Field)
	assert.Equal(t, []string{"x", "y", "z"}, rendered(result.Default.Values))
	assert.Equal(t, int64(1), result.Default.Average)
}

func TestEngine_PathAndKeyAsymmetry(t *testing.T) {
	t.Parallel()

	pathSrc := dataset.NewMemorySource(testSourceID, []dataset.Record{{"a": map[string]any{"b": 0.0}}})
	pathResult, _ := runEngine(t, Config{SourceID: testSourceID, Fields: []string{"a.b"}}, pathSrc, Options{})

	got, ok := pathResult.Lookup("a.b")
	require.True(t, ok)
	assert.Zero(t, got.Count)

	keySrc := dataset.NewMemorySource(testSourceID, []dataset.Record{{"b": 0.0}})
	keyResult, _ := runEngine(t, Config{SourceID: testSourceID, Fields: []string{"b"}}, keySrc, Options{})

	got, ok = keyResult.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, []value.Value{value.NumberValue(0)}, got.Values)
}

func TestEngine_ResumeMatchesUninterruptedRun(t *testing.T) {
	t.Parallel()

	records := bookRecords(40)
	want, _ := runEngine(t, bookConfig(), dataset.NewMemorySource(testSourceID, records), Options{})

	for _, k := range []int{1, 13, 39} {
		t.Run(fmt.Sprintf("after_%d", k), func(t *testing.T) {
			t.Parallel()

			store := kvstore.NewMemoryStore()
			crashing := &hookSource{MemorySource: dataset.NewMemorySource(testSourceID, records), n: k, fail: true}

			engine, err := New(bookConfig(), crashing, Options{Checkpointer: newCheckpointer(store)})
			require.NoError(t, err)

			_, stats, err := engine.Run(context.Background())
			require.ErrorIs(t, err, errSourceDown)
			assert.Equal(t, k, stats.Offset)

			got, stats := runEngine(t, bookConfig(), dataset.NewMemorySource(testSourceID, records),
				Options{Checkpointer: newCheckpointer(store)})

			assert.True(t, stats.Resumed)
			assert.Equal(t, k, stats.StartOffset)
			assert.Equal(t, len(records)-k, stats.Processed)
			assert.Equal(t, distinctSets(want), distinctSets(got))
		})
	}
}

func TestEngine_ReplayAfterLaggingOffset(t *testing.T) {
	t.Parallel()

	records := bookRecords(30)
	want, _ := runEngine(t, bookConfig(), dataset.NewMemorySource(testSourceID, records), Options{})

	// Values cover twenty records while the offset claims only five.
	partial, _ := runEngine(t, bookConfig(), dataset.NewMemorySource(testSourceID, records[:20]), Options{})

	values := checkpoint.SavedValues{}
	for _, s := range partial.Summaries() {
		values[s.Field] = s.Values
	}

	store := kvstore.NewMemoryStore()
	cp := newCheckpointer(store)
	require.NoError(t, cp.Save(context.Background(), checkpoint.State{
		Offset: 5,
		Values: values,
		Meta:   checkpoint.Metadata{SourceID: testSourceID, Fields: bookConfig().FieldIDs(), Mode: "key"},
	}))

	got, stats := runEngine(t, bookConfig(), dataset.NewMemorySource(testSourceID, records), Options{Checkpointer: cp})

	assert.Equal(t, 5, stats.StartOffset)
	assert.Equal(t, resultJSON(t, want), resultJSON(t, got))
}

func TestEngine_MismatchedCheckpointStartsFresh(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	cp := newCheckpointer(store)

	require.NoError(t, cp.Save(ctx, checkpoint.State{
		Offset: 3,
		Values: checkpoint.SavedValues{"title": {value.StringValue("stale")}},
		Meta:   checkpoint.Metadata{SourceID: "other", Fields: bookConfig().FieldIDs(), Mode: "key"},
	}))

	result, stats := runEngine(t, bookConfig(), dataset.NewMemorySource(testSourceID, bookRecords(5)),
		Options{Checkpointer: cp})

	assert.False(t, stats.Resumed)
	assert.Zero(t, stats.StartOffset)
	assert.Equal(t, 5, stats.Processed)

	titles, _ := result.Lookup("title")
	assert.NotContains(t, rendered(titles.Values), "stale")
}

func TestEngine_IgnoreCheckpoint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	cp := newCheckpointer(store)

	require.NoError(t, cp.Save(ctx, checkpoint.State{
		Offset: 4,
		Values: checkpoint.SavedValues{"title": {value.StringValue("stale")}},
		Meta:   checkpoint.Metadata{SourceID: testSourceID, Fields: bookConfig().FieldIDs(), Mode: "key"},
	}))

	result, stats := runEngine(t, bookConfig(), dataset.NewMemorySource(testSourceID, bookRecords(5)),
		Options{Checkpointer: cp, IgnoreCheckpoint: true})

	assert.False(t, stats.Resumed)
	assert.Equal(t, 5, stats.Processed)

	titles, _ := result.Lookup("title")
	assert.NotContains(t, rendered(titles.Values), "stale")
}

// interruptedRun runs the engine over records and fails the source after n records.
func interruptedRun(t *testing.T, store kvstore.Store, records []dataset.Record, n int, ignore bool) {
	t.Helper()

	src := &hookSource{MemorySource: dataset.NewMemorySource(testSourceID, records), n: n, fail: true}

	engine, err := New(bookConfig(), src, Options{Checkpointer: newCheckpointer(store), IgnoreCheckpoint: ignore})
	require.NoError(t, err)

	_, _, err = engine.Run(context.Background())
	require.ErrorIs(t, err, errSourceDown)
}

func TestEngine_FreshRunNeverInheritsOldOffset(t *testing.T) {
	t.Parallel()

	records := bookRecords(10)
	want, _ := runEngine(t, bookConfig(), dataset.NewMemorySource(testSourceID, records), Options{})

	mem := kvstore.NewMemoryStore()

	interruptedRun(t, mem, records, 8, false)

	state, found, err := newCheckpointer(mem).Load(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 8, state.Offset)

	// The fresh run saves meta and values but every offset write fails.
	interruptedRun(t, &keyedFaultStore{MemoryStore: mem, failPut: checkpoint.KeyOffset}, records, 3, true)

	got, stats := runEngine(t, bookConfig(), dataset.NewMemorySource(testSourceID, records),
		Options{Checkpointer: newCheckpointer(mem)})

	assert.Zero(t, stats.StartOffset)
	assert.Equal(t, 10, stats.Processed)
	assert.Equal(t, resultJSON(t, want), resultJSON(t, got))
}

func TestEngine_FreshRunKeepsOldCheckpointWhenClearFails(t *testing.T) {
	t.Parallel()

	records := bookRecords(10)
	mem := kvstore.NewMemoryStore()

	interruptedRun(t, mem, records, 8, false)

	before, _, err := newCheckpointer(mem).Load(context.Background())
	require.NoError(t, err)

	store := &keyedFaultStore{MemoryStore: mem, failDelete: true}

	_, stats := runEngine(t, bookConfig(), dataset.NewMemorySource(testSourceID, records[:3]),
		Options{Checkpointer: newCheckpointer(store), IgnoreCheckpoint: true})

	assert.Zero(t, stats.Checkpoints)
	assert.GreaterOrEqual(t, stats.CheckpointFailures, int64(1))

	after, found, err := newCheckpointer(mem).Load(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, before.Offset, after.Offset)
	assert.Equal(t, before.Meta, after.Meta)
	assert.Equal(t, distinctCount(before.Values), distinctCount(after.Values))
}

func distinctCount(values checkpoint.SavedValues) int {
	n := 0
	for _, vs := range values {
		n += len(vs)
	}

	return n
}

func TestEngine_TriggerPersistsMidRun(t *testing.T) {
	t.Parallel()

	store := kvstore.NewMemoryStore()
	cp := newCheckpointer(store)
	trig := NewManualTrigger()

	src := &hookSource{MemorySource: dataset.NewMemorySource(testSourceID, bookRecords(10)), n: 4}
	src.hook = func() {
		trig.Fire()

		// The source stalls until the intermediate checkpoint lands.
		require.Eventually(t, func() bool {
			state, found, err := cp.Load(context.Background())

			return err == nil && found && state.Offset == 4
		}, time.Second, time.Millisecond)
	}

	_, stats := runEngine(t, bookConfig(), src, Options{Checkpointer: cp, Trigger: trig})

	assert.GreaterOrEqual(t, stats.Checkpoints, int64(2))
	assert.Equal(t, 10, stats.Offset)
}

func TestEngine_RequestPersistCoalesces(t *testing.T) {
	t.Parallel()

	engine, err := New(bookConfig(), dataset.NewMemorySource(testSourceID, nil), Options{})
	require.NoError(t, err)

	for range 5 {
		engine.RequestPersist()
	}

	assert.Len(t, engine.requests, 1)
}

func TestEngine_PersistenceFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	store := &flakyStore{MemoryStore: kvstore.NewMemoryStore()}
	store.down.Store(true)

	engine, err := New(bookConfig(), dataset.NewMemorySource(testSourceID, bookRecords(6)),
		Options{Checkpointer: newCheckpointer(store)})
	require.NoError(t, err)

	result, stats, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Zero(t, stats.Checkpoints)
	assert.GreaterOrEqual(t, stats.CheckpointFailures, int64(1))

	err = engine.Persist(context.Background())

	var failure *PersistenceFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 6, failure.Offset)
	require.ErrorIs(t, err, errStoreDown)

	store.down.Store(false)
	require.NoError(t, engine.Persist(context.Background()))
}

func TestEngine_CancelledRunLeavesCheckpoint(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := kvstore.NewMemoryStore()
	src := &hookSource{MemorySource: dataset.NewMemorySource(testSourceID, bookRecords(10)), n: 6, hook: cancel}

	engine, err := New(bookConfig(), src, Options{Checkpointer: newCheckpointer(store)})
	require.NoError(t, err)

	result, stats, err := engine.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)
	assert.Equal(t, 6, stats.Offset)
	assert.Equal(t, StateRunning, engine.State())

	state, found, err := newCheckpointer(store).Load(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 6, state.Offset)

	_, err = store.Get(context.Background(), OutputKey)
	require.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestEngine_SingleUse(t *testing.T) {
	t.Parallel()

	engine, err := New(bookConfig(), dataset.NewMemorySource(testSourceID, bookRecords(2)), Options{})
	require.NoError(t, err)
	assert.Equal(t, StateInitializing, engine.State())

	_, _, err = engine.Run(context.Background())
	require.NoError(t, err)

	_, _, err = engine.Run(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRun)
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "restoring", StateRestoring.String())
	assert.Equal(t, "done", StateDone.String())
	assert.Equal(t, "state(9)", State(9).String())
}
