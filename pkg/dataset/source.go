// Package dataset provides ordered, offset-addressable record sources.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Record is one decoded dataset item.
type Record = map[string]any

// Metadata describes a source.
type Metadata struct {
	ID         string `json:"id"`
	TotalCount int    `json:"total_count"`
}

// Sentinel errors.
var (
	ErrEmptyID       = errors.New("dataset id is empty")
	ErrInvalidRecord = errors.New("record is not an object")
	ErrInvalidTable  = errors.New("invalid table name")
	ErrNegativeStart = errors.New("offset must not be negative")
)

// Source delivers records in a deterministic order. ForEach starting at offset N
// visits records N, N+1, ... with no gaps or duplicates. A non-nil error from
// visit stops iteration and is returned unchanged.
type Source interface {
	Metadata(ctx context.Context) (Metadata, error)
	ForEach(ctx context.Context, offset int, visit func(Record) error) error
	Close() error
}

// SQLitePrefix marks dataset ids that name a SQLite table.
const SQLitePrefix = "sqlite:"

// DefaultPageSize is the number of rows fetched per SQLite page.
const DefaultPageSize = 1000

// Options tune how a source is opened.
type Options struct {
	// PageSize bounds rows per SQLite query. Zero means DefaultPageSize.
	PageSize int
}

// Open resolves id to a source. "sqlite:<path>[#table]" opens a SQLite table
// (default table "items"); anything else is a file path whose extension picks
// the format: .jsonl/.ndjson for JSON Lines, .csv for CSV, otherwise a JSON array.
func Open(ctx context.Context, id string, opts Options) (Source, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrEmptyID
	}

	if rest, ok := strings.CutPrefix(id, SQLitePrefix); ok {
		path, table, _ := strings.Cut(rest, "#")

		return OpenSQLiteSource(ctx, path, table, opts.PageSize)
	}

	return NewFileSource(id, FormatForPath(id)), nil
}

// FormatForPath picks a file format from the path extension.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		return FormatJSONLines
	case ".csv":
		return FormatCSV
	default:
		return FormatJSONArray
	}
}

func checkOffset(offset int) error {
	if offset < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeStart, offset)
	}

	return nil
}
