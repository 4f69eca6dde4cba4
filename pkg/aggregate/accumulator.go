package aggregate

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/Sumatoshi-tech/fieldagg/pkg/fieldspec"
	"github.com/Sumatoshi-tech/fieldagg/pkg/value"
)

// DefaultFieldID is the accumulator id used in AllFieldNames mode.
const DefaultFieldID = "__DEFAULT"

// FieldAccumulator collects the distinct values of one field in first-seen
// order. It is not safe for concurrent use; the engine serializes access.
type FieldAccumulator struct {
	id    string
	spec  fieldspec.Spec
	split SplitRule
	seen  mapset.Set[string]
	order []value.Value
}

// NewFieldAccumulator creates an empty accumulator for spec under id.
func NewFieldAccumulator(id string, spec fieldspec.Spec, split SplitRule) *FieldAccumulator {
	return &FieldAccumulator{
		id:    id,
		spec:  spec,
		split: split,
		seen:  mapset.NewThreadUnsafeSet[string](),
	}
}

// ID returns the field id.
func (a *FieldAccumulator) ID() string {
	return a.id
}

// Ingest extracts, splits and adds every value rec yields for the field.
func (a *FieldAccumulator) Ingest(rec fieldspec.Record) {
	for _, raw := range fieldspec.Extract(rec, a.spec) {
		for _, v := range Split(raw, a.id, a.split) {
			a.Add(v)
		}
	}
}

// Add inserts v unless an equal value is already present.
func (a *FieldAccumulator) Add(v value.Value) bool {
	if !a.seen.Add(v.Key()) {
		return false
	}

	a.order = append(a.order, v)

	return true
}

// Snapshot returns a copy of the values in insertion order.
func (a *FieldAccumulator) Snapshot() []value.Value {
	return append([]value.Value(nil), a.order...)
}

// Restore seeds the accumulator with previously saved values.
func (a *FieldAccumulator) Restore(values []value.Value) {
	for _, v := range values {
		a.Add(v)
	}
}

// Len returns the number of distinct values.
func (a *FieldAccumulator) Len() int {
	return len(a.order)
}
