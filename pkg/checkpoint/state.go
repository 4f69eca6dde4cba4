// Package checkpoint persists aggregation progress so an interrupted run can resume.
package checkpoint

import (
	"github.com/Sumatoshi-tech/fieldagg/pkg/value"
)

// Store keys. The offset and values keys are the recovery pair; the meta key
// identifies the input the pair belongs to.
const (
	KeyOffset = "STATE-OFFSET"
	KeyValues = "STATE-VALUES"
	KeyMeta   = "STATE-META"
)

// SavedValues maps a field id to its distinct values in first-seen order.
type SavedValues map[string][]value.Value

// State is a consistent snapshot of a run.
type State struct {
	// Offset is the number of records fully consumed.
	Offset int
	// Values reconstructs every accumulator.
	Values SavedValues
	// Meta describes the input that produced the snapshot.
	Meta Metadata
}

// Metadata holds checkpoint metadata for validation and resume.
type Metadata struct {
	Version   int      `json:"version"`
	SourceID  string   `json:"source_id"`
	Fields    []string `json:"fields"`
	Mode      string   `json:"mode"`
	RunID     string   `json:"run_id"`
	CreatedAt string   `json:"created_at"`
}

// Clone returns a deep copy of the saved values.
func (s SavedValues) Clone() SavedValues {
	out := make(SavedValues, len(s))

	for field, values := range s {
		out[field] = append([]value.Value(nil), values...)
	}

	return out
}
