package aggregate

import (
	"strings"

	"github.com/Sumatoshi-tech/fieldagg/pkg/value"
)

// SplitRule maps a field id to the literal delimiter its string values are split on.
type SplitRule map[string]string

// Split expands v into the values to accumulate for fieldID. Strings of a
// field with a configured delimiter are cut on that literal separator; every
// other value passes through unchanged.
func Split(v value.Value, fieldID string, rule SplitRule) []value.Value {
	delim, ok := rule[fieldID]
	if !ok {
		return []value.Value{v}
	}

	s, isString := v.AsString()
	if !isString {
		return []value.Value{v}
	}

	parts := strings.Split(s, delim)
	out := make([]value.Value, len(parts))

	for i, part := range parts {
		out[i] = value.StringValue(part)
	}

	return out
}
