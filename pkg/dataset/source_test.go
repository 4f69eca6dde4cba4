package dataset

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, src Source, offset int) []Record {
	t.Helper()

	var out []Record

	require.NoError(t, src.ForEach(context.Background(), offset, func(rec Record) error {
		out = append(out, rec)

		return nil
	}))

	return out
}

func titles(recs []Record) []string {
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		out = append(out, fmt.Sprint(rec["title"]))
	}

	return out
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func writeSQLite(t *testing.T, table string, count int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ds.sqlite")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)

	defer db.Close()

	_, err = db.Exec("CREATE TABLE " + table + " (id INTEGER PRIMARY KEY, data TEXT NOT NULL)")
	require.NoError(t, err)

	for i := range count {
		data, marshalErr := json.Marshal(map[string]any{"title": fmt.Sprintf("t%d", i)})
		require.NoError(t, marshalErr)

		// Sparse ids exercise keyset paging.
		_, err = db.Exec("INSERT INTO "+table+" (id, data) VALUES (?, ?)", (i+1)*10, string(data))
		require.NoError(t, err)
	}

	return path
}

func TestMemorySource_Resume(t *testing.T) {
	t.Parallel()

	src := NewMemorySource("mem", []Record{{"title": "a"}, {"title": "b"}, {"title": "c"}})

	meta, err := src.Metadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Metadata{ID: "mem", TotalCount: 3}, meta)

	assert.Equal(t, []string{"a", "b", "c"}, titles(collect(t, src, 0)))
	assert.Equal(t, []string{"c"}, titles(collect(t, src, 2)))
	assert.Empty(t, collect(t, src, 5))

	require.ErrorIs(t, src.ForEach(context.Background(), -1, nil), ErrNegativeStart)
}

func TestMemorySource_VisitErrorStops(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	src := NewMemorySource("mem", []Record{{"title": "a"}, {"title": "b"}})

	seen := 0
	err := src.ForEach(context.Background(), 0, func(Record) error {
		seen++

		return errBoom
	})

	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, seen)
}

func TestMemorySource_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := NewMemorySource("mem", []Record{{"title": "a"}})
	require.ErrorIs(t, src.ForEach(ctx, 0, func(Record) error { return nil }), context.Canceled)
}

func TestFileSource_JSONArray(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "ds.json", `[{"title":"a","n":1.50},{"title":"b"},{"title":"c"}]`)
	src := NewFileSource(path, FormatJSONArray)

	meta, err := src.Metadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, meta.TotalCount)

	all := collect(t, src, 0)
	assert.Equal(t, []string{"a", "b", "c"}, titles(all))
	assert.Equal(t, json.Number("1.50"), all[0]["n"])

	assert.Equal(t, []string{"b", "c"}, titles(collect(t, src, 1)))
}

func TestFileSource_JSONLines(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "ds.jsonl", "{\"title\":\"a\"}\n\n{\"title\":\"b\"}\n{\"title\":\"c\"}\n")
	src := NewFileSource(path, FormatJSONLines)

	assert.Equal(t, []string{"a", "b", "c"}, titles(collect(t, src, 0)))
	assert.Equal(t, []string{"c"}, titles(collect(t, src, 2)))
}

func TestFileSource_CSV(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "ds.csv", "title,author\na,x\nb,y\nc\n")
	src := NewFileSource(path, FormatCSV)

	recs := collect(t, src, 1)
	require.Len(t, recs, 2)
	assert.Equal(t, Record{"title": "b", "author": "y"}, recs[0])
	assert.Equal(t, Record{"title": "c"}, recs[1])
}

func TestFileSource_Errors(t *testing.T) {
	t.Parallel()

	noop := func(Record) error { return nil }

	notArray := NewFileSource(writeFile(t, "obj.json", `{"title":"a"}`), FormatJSONArray)
	require.Error(t, notArray.ForEach(context.Background(), 0, noop))

	scalar := NewFileSource(writeFile(t, "scalar.json", `[1]`), FormatJSONArray)
	require.ErrorIs(t, scalar.ForEach(context.Background(), 0, noop), ErrInvalidRecord)

	missing := NewFileSource(filepath.Join(t.TempDir(), "none.json"), FormatJSONArray)
	require.ErrorIs(t, missing.ForEach(context.Background(), 0, noop), os.ErrNotExist)
}

func TestSQLiteSource_Paging(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := writeSQLite(t, "items", 7)

	src, err := OpenSQLiteSource(ctx, path, "", 3)
	require.NoError(t, err)

	defer src.Close()

	meta, err := src.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, meta.TotalCount)
	assert.Equal(t, "sqlite:"+path+"#items", meta.ID)

	assert.Equal(t, []string{"t0", "t1", "t2", "t3", "t4", "t5", "t6"}, titles(collect(t, src, 0)))
	assert.Equal(t, []string{"t4", "t5", "t6"}, titles(collect(t, src, 4)))
	assert.Empty(t, collect(t, src, 7))
}

func TestSQLiteSource_InvalidTable(t *testing.T) {
	t.Parallel()

	_, err := OpenSQLiteSource(context.Background(), "x.db", "items; DROP TABLE x", 0)
	require.ErrorIs(t, err, ErrInvalidTable)
}

func TestOpen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	_, err := Open(ctx, " ", Options{})
	require.ErrorIs(t, err, ErrEmptyID)

	src, err := Open(ctx, "data.ndjson", Options{})
	require.NoError(t, err)
	assert.Equal(t, FormatJSONLines, src.(*FileSource).format)

	path := writeSQLite(t, "books", 2)

	src, err = Open(ctx, "sqlite:"+path+"#books", Options{PageSize: 1})
	require.NoError(t, err)

	defer src.Close()

	assert.Equal(t, []string{"t0", "t1"}, titles(collect(t, src, 0)))
}

func TestFormatForPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, FormatJSONLines, FormatForPath("a.JSONL"))
	assert.Equal(t, FormatCSV, FormatForPath("a.csv"))
	assert.Equal(t, FormatJSONArray, FormatForPath("a.json"))
	assert.Equal(t, FormatJSONArray, FormatForPath("dataset-id"))
}
