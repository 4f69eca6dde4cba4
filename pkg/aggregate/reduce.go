package aggregate

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"github.com/Sumatoshi-tech/fieldagg/pkg/value"
)

// Bound is a min or max length. The empty-input sentinels are +Inf (min) and
// -Inf (max); both render as null ("no data").
type Bound float64

// Empty-input sentinels.
var (
	EmptyMin = Bound(math.Inf(1))
	EmptyMax = Bound(math.Inf(-1))
)

// IsEmpty reports whether b is an empty-input sentinel.
func (b Bound) IsEmpty() bool {
	return math.IsInf(float64(b), 0)
}

// MarshalJSON renders the bound as a number, or null for the sentinels.
func (b Bound) MarshalJSON() ([]byte, error) {
	if b.IsEmpty() {
		return []byte("null"), nil
	}

	return []byte(strconv.FormatFloat(float64(b), 'f', -1, 64)), nil
}

// MarshalYAML renders the bound as a number, or null for the sentinels.
func (b Bound) MarshalYAML() (any, error) {
	if b.IsEmpty() {
		return nil, nil
	}

	return float64(b), nil
}

func (b Bound) String() string {
	if b.IsEmpty() {
		return "-"
	}

	return strconv.FormatFloat(float64(b), 'f', -1, 64)
}

// Summary is the final statistics of one field.
type Summary struct {
	Field   string        `json:"field,omitempty" yaml:"field,omitempty"`
	Values  []value.Value `json:"values" yaml:"values"`
	Count   int           `json:"count" yaml:"count"`
	Min     Bound         `json:"min" yaml:"min"`
	Max     Bound         `json:"max" yaml:"max"`
	Average int64         `json:"average" yaml:"average"`
}

// Reduce turns the distinct values of a field into its Summary. The average
// of lengths is rounded half up and is 0 for an empty input.
func Reduce(field string, values []value.Value) Summary {
	sum := Summary{
		Field:  field,
		Values: append([]value.Value{}, values...),
		Count:  len(values),
		Min:    EmptyMin,
		Max:    EmptyMax,
	}

	if len(values) == 0 {
		return sum
	}

	total := 0.0

	for _, v := range values {
		length := v.Length()
		total += length

		if Bound(length) < sum.Min {
			sum.Min = Bound(length)
		}

		if Bound(length) > sum.Max {
			sum.Max = Bound(length)
		}
	}

	sum.Average = int64(math.Floor(total/float64(len(values)) + 0.5))

	return sum
}

// Result is the outcome of a run: a sole Summary in field-names mode, or one
// Summary per configured field in configuration order.
type Result struct {
	Default *Summary
	Fields  []Summary
}

// Summaries returns every summary in output order.
func (r *Result) Summaries() []Summary {
	if r.Default != nil {
		return []Summary{*r.Default}
	}

	return r.Fields
}

// Lookup returns the summary for field.
func (r *Result) Lookup(field string) (Summary, bool) {
	for _, s := range r.Fields {
		if s.Field == field {
			return s, true
		}
	}

	return Summary{}, false
}

// MarshalJSON writes the sole Summary, or an object keyed by field id that
// keeps configuration order.
func (r *Result) MarshalJSON() ([]byte, error) {
	if r.Default != nil {
		return json.Marshal(r.Default)
	}

	var buf bytes.Buffer

	buf.WriteByte('{')

	for i, s := range r.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}

		key, err := json.Marshal(s.Field)
		if err != nil {
			return nil, err
		}

		data, err := json.Marshal(s)
		if err != nil {
			return nil, err
		}

		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(data)
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}
