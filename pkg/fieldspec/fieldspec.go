// Package fieldspec resolves field specifiers against records and yields the
// raw values found there.
package fieldspec

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Sumatoshi-tech/fieldagg/pkg/value"
)

// Mode selects how field specifiers are interpreted. Exactly one mode is active per run.
type Mode string

// Extraction modes.
const (
	// PlainKey reads a top-level key; presence, not truthiness, decides whether a value is produced.
	PlainKey Mode = "key"
	// DottedPath walks a nested path; resolved scalars are produced only when truthy.
	DottedPath Mode = "path"
	// AllFieldNames aggregates the record's own key names.
	AllFieldNames Mode = "field-names"
)

// Override values accepted by ResolveMode.
const (
	OverrideAuto = "auto"
	OverrideKey  = "key"
	OverridePath = "path"
)

// PathSeparator separates segments of a dotted path.
const PathSeparator = "."

// ErrUnknownOverride is returned for an unrecognized extraction override.
var ErrUnknownOverride = errors.New("unknown extraction mode")

// Record is a decoded dataset item.
type Record = map[string]any

// ResolveMode picks the run-wide extraction mode.
func ResolveMode(fields []string, fieldNames bool, override string) (Mode, error) {
	if fieldNames {
		return AllFieldNames, nil
	}

	switch override {
	case OverrideKey:
		return PlainKey, nil
	case OverridePath:
		return DottedPath, nil
	case "", OverrideAuto:
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOverride, override)
	}

	for _, f := range fields {
		if strings.Contains(f, PathSeparator) {
			return DottedPath, nil
		}
	}

	return PlainKey, nil
}

// Spec identifies one field to aggregate.
type Spec struct {
	Mode  Mode
	Field string
	path  []string
}

// Parse builds a Spec for the given field under mode.
func Parse(field string, mode Mode) Spec {
	spec := Spec{Mode: mode, Field: field}

	if mode == DottedPath {
		spec.path = strings.Split(field, PathSeparator)
	}

	return spec
}

// Segments returns the dotted path segments (nil unless Mode is DottedPath).
func (s Spec) Segments() []string {
	return s.path
}

// Extract yields zero, one or many raw values for spec in rec.
// Missing or malformed fields produce nothing.
func Extract(rec Record, spec Spec) []value.Value {
	switch spec.Mode {
	case AllFieldNames:
		return keyNames(rec)
	case DottedPath:
		return extractPath(rec, spec.path)
	default:
		return extractKey(rec, spec.Field)
	}
}

func extractKey(rec Record, name string) []value.Value {
	raw, ok := rec[name]
	if !ok {
		return nil
	}

	v := value.FromAny(raw)
	if v.Kind() == value.Sequence {
		return copyItems(v.Items())
	}

	return []value.Value{v}
}

func extractPath(rec Record, path []string) []value.Value {
	if len(path) == 0 {
		return nil
	}

	raw, ok := rec[path[0]]
	if !ok {
		return nil
	}

	current := value.FromAny(raw)

	for _, segment := range path[1:] {
		next, found := step(current, segment)
		if !found {
			return nil
		}

		current = next
	}

	if current.Kind() == value.Sequence {
		return copyItems(current.Items())
	}

	if !current.Truthy() {
		return nil
	}

	return []value.Value{current}
}

func step(current value.Value, segment string) (value.Value, bool) {
	switch current.Kind() {
	case value.Structured:
		return current.Field(segment)
	case value.Sequence:
		idx, err := strconv.Atoi(segment)
		items := current.Items()

		if err != nil || idx < 0 || idx >= len(items) {
			return value.Value{}, false
		}

		return items[idx], true
	default:
		return value.Value{}, false
	}
}

func keyNames(rec Record) []value.Value {
	names := make([]string, 0, len(rec))
	for k := range rec {
		names = append(names, k)
	}

	sort.Strings(names)

	out := make([]value.Value, len(names))
	for i, name := range names {
		out[i] = value.StringValue(name)
	}

	return out
}

func copyItems(items []value.Value) []value.Value {
	out := make([]value.Value, len(items))
	copy(out, items)

	return out
}
