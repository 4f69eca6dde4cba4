package dataset

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// Format is the on-disk layout of a FileSource.
type Format int

// Supported file formats.
const (
	FormatJSONArray Format = iota
	FormatJSONLines
	FormatCSV
)

// maxLineSize bounds a single JSON Lines record.
const maxLineSize = 16 << 20

// FileSource streams records from a local file without loading it whole.
type FileSource struct {
	path   string
	format Format
}

// NewFileSource creates a source reading path in the given format.
func NewFileSource(path string, format Format) *FileSource {
	return &FileSource{path: path, format: format}
}

// Metadata implements Source. The total is obtained by a counting pass.
func (f *FileSource) Metadata(ctx context.Context) (Metadata, error) {
	count := 0

	err := f.scan(ctx, 0, func(_ Record) error {
		count++

		return nil
	}, true)
	if err != nil {
		return Metadata{}, err
	}

	return Metadata{ID: f.path, TotalCount: count}, nil
}

// ForEach implements Source.
func (f *FileSource) ForEach(ctx context.Context, offset int, visit func(Record) error) error {
	err := checkOffset(offset)
	if err != nil {
		return err
	}

	return f.scan(ctx, offset, visit, false)
}

// Close implements Source.
func (f *FileSource) Close() error {
	return nil
}

// scan walks the file, skipping the first offset records. In countOnly mode
// records are not decoded.
func (f *FileSource) scan(ctx context.Context, offset int, fn func(Record) error, countOnly bool) error {
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("open dataset: %w", err)
	}
	defer file.Close()

	switch f.format {
	case FormatJSONLines:
		return scanLines(ctx, file, offset, fn, countOnly)
	case FormatCSV:
		return scanCSV(ctx, file, offset, fn)
	default:
		return scanArray(ctx, file, offset, fn, countOnly)
	}
}

func scanArray(ctx context.Context, r io.Reader, offset int, fn func(Record) error, countOnly bool) error {
	dec := json.NewDecoder(bufio.NewReader(r))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read dataset: %w", err)
	}

	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return fmt.Errorf("read dataset: expected JSON array, got %v", tok)
	}

	for index := 0; dec.More(); index++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var raw json.RawMessage

		decodeErr := dec.Decode(&raw)
		if decodeErr != nil {
			return fmt.Errorf("decode record %d: %w", index, decodeErr)
		}

		if index < offset {
			continue
		}

		err = emit(raw, index, fn, countOnly)
		if err != nil {
			return err
		}
	}

	return nil
}

func scanLines(ctx context.Context, r io.Reader, offset int, fn func(Record) error, countOnly bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxLineSize)

	index := 0

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		if index >= offset {
			err := emit(line, index, fn, countOnly)
			if err != nil {
				return err
			}
		}

		index++
	}

	err := scanner.Err()
	if err != nil {
		return fmt.Errorf("read dataset: %w", err)
	}

	return nil
}

// scanCSV treats the first row as the header; every later row becomes a
// record of string values keyed by header name.
func scanCSV(ctx context.Context, r io.Reader, offset int, fn func(Record) error) error {
	reader := csv.NewReader(bufio.NewReader(r))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("read csv header: %w", err)
	}

	for index := 0; ; index++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		row, readErr := reader.Read()
		if errors.Is(readErr, io.EOF) {
			return nil
		}

		if readErr != nil {
			return fmt.Errorf("read csv row %d: %w", index, readErr)
		}

		if index < offset {
			continue
		}

		rec := make(Record, len(header))

		for i, name := range header {
			if i < len(row) {
				rec[name] = row[i]
			}
		}

		err = fn(rec)
		if err != nil {
			return err
		}
	}
}

func emit(raw []byte, index int, fn func(Record) error, countOnly bool) error {
	if countOnly {
		return fn(nil)
	}

	rec, err := decodeRecord(raw)
	if err != nil {
		return fmt.Errorf("record %d: %w", index, err)
	}

	return fn(rec)
}

func decodeRecord(raw []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var item any

	err := dec.Decode(&item)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	rec, ok := item.(map[string]any)
	if !ok {
		return nil, ErrInvalidRecord
	}

	return rec, nil
}
