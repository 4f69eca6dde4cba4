package dataset

import (
	"context"
)

// MemorySource serves records from a slice.
type MemorySource struct {
	id      string
	records []Record
}

// NewMemorySource creates a source over records. The slice is not copied.
func NewMemorySource(id string, records []Record) *MemorySource {
	return &MemorySource{id: id, records: records}
}

// Metadata implements Source.
func (m *MemorySource) Metadata(_ context.Context) (Metadata, error) {
	return Metadata{ID: m.id, TotalCount: len(m.records)}, nil
}

// ForEach implements Source.
func (m *MemorySource) ForEach(ctx context.Context, offset int, visit func(Record) error) error {
	err := checkOffset(offset)
	if err != nil {
		return err
	}

	for i := offset; i < len(m.records); i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		visitErr := visit(m.records[i])
		if visitErr != nil {
			return visitErr
		}
	}

	return nil
}

// Close implements Source.
func (m *MemorySource) Close() error {
	return nil
}
