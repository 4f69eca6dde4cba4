// Package value provides the closed set of value kinds that flow through field
// aggregation, together with their equality key, truthiness and length measure.
package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"unicode/utf8"
)

// Kind identifies the variant held by a Value.
type Kind uint8

// Value kinds.
const (
	Null Kind = iota
	Bool
	Number
	String
	Sequence
	Structured
)

var kindNames = [...]string{
	Null:       "null",
	Bool:       "bool",
	Number:     "number",
	String:     "string",
	Sequence:   "sequence",
	Structured: "structured",
}

// String returns the lowercase kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}

	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is an immutable tagged variant. The zero Value is Null.
type Value struct {
	kind   Kind
	b      bool
	num    float64
	str    string
	seq    []Value
	fields map[string]Value
}

// NullValue returns the null value.
func NullValue() Value { return Value{} }

// BoolValue wraps a boolean.
func BoolValue(b bool) Value { return Value{kind: Bool, b: b} }

// NumberValue wraps a number. Negative zero is normalized to zero.
func NumberValue(f float64) Value {
	if f == 0 {
		f = 0
	}

	return Value{kind: Number, num: f}
}

// StringValue wraps a string.
func StringValue(s string) Value { return Value{kind: String, str: s} }

// SequenceValue wraps an ordered list of values.
func SequenceValue(items ...Value) Value {
	seq := make([]Value, len(items))
	copy(seq, items)

	return Value{kind: Sequence, seq: seq}
}

// StructuredValue wraps a keyed collection of values.
func StructuredValue(fields map[string]Value) Value {
	cp := make(map[string]Value, len(fields))
	for k, v := range fields {
		cp[k] = v
	}

	return Value{kind: Structured, fields: cp}
}

// FromAny converts a decoded JSON document (or plain Go scalars) into a Value.
// Unknown types fall back to their reflected shape and, failing that, to a string.
func FromAny(raw any) Value {
	switch typed := raw.(type) {
	case nil:
		return NullValue()
	case Value:
		return typed
	case bool:
		return BoolValue(typed)
	case string:
		return StringValue(typed)
	case float64:
		return NumberValue(typed)
	case float32:
		return NumberValue(float64(typed))
	case int:
		return NumberValue(float64(typed))
	case int32:
		return NumberValue(float64(typed))
	case int64:
		return NumberValue(float64(typed))
	case uint:
		return NumberValue(float64(typed))
	case uint32:
		return NumberValue(float64(typed))
	case uint64:
		return NumberValue(float64(typed))
	case json.Number:
		f, err := typed.Float64()
		if err != nil {
			return StringValue(typed.String())
		}

		return NumberValue(f)
	case []any:
		seq := make([]Value, len(typed))
		for i, item := range typed {
			seq[i] = FromAny(item)
		}

		return Value{kind: Sequence, seq: seq}
	case map[string]any:
		fields := make(map[string]Value, len(typed))
		for k, item := range typed {
			fields[k] = FromAny(item)
		}

		return Value{kind: Structured, fields: fields}
	default:
		return fromReflect(reflect.ValueOf(raw))
	}
}

func fromReflect(rv reflect.Value) Value {
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		seq := make([]Value, rv.Len())
		for i := range seq {
			seq[i] = FromAny(rv.Index(i).Interface())
		}

		return Value{kind: Sequence, seq: seq}
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}

		fields := make(map[string]Value, rv.Len())

		iter := rv.MapRange()
		for iter.Next() {
			fields[iter.Key().String()] = FromAny(iter.Value().Interface())
		}

		return Value{kind: Structured, fields: fields}
	case reflect.Int8, reflect.Int16:
		return NumberValue(float64(rv.Int()))
	case reflect.Uint8, reflect.Uint16:
		return NumberValue(float64(rv.Uint()))
	default:
	}

	return StringValue(fmt.Sprint(rv.Interface()))
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == Null }

// AsBool returns the boolean payload and whether v is a Bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == Bool }

// AsNumber returns the numeric payload and whether v is a Number.
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == Number }

// AsString returns the string payload and whether v is a String.
func (v Value) AsString() (string, bool) { return v.str, v.kind == String }

// Items returns the elements of a Sequence, or nil for other kinds.
// The returned slice must not be modified.
func (v Value) Items() []Value {
	if v.kind != Sequence {
		return nil
	}

	return v.seq
}

// Field looks up a key of a Structured value.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != Structured {
		return Value{}, false
	}

	item, ok := v.fields[name]

	return item, ok
}

// FieldNames returns the sorted keys of a Structured value.
func (v Value) FieldNames() []string {
	if v.kind != Structured {
		return nil
	}

	names := make([]string, 0, len(v.fields))
	for k := range v.fields {
		names = append(names, k)
	}

	sort.Strings(names)

	return names
}

// Truthy reports whether the value counts as present for truthiness-based
// extraction: empty strings, zero, false and null are falsy.
func (v Value) Truthy() bool {
	switch v.kind {
	case Null:
		return false
	case Bool:
		return v.b
	case Number:
		return v.num != 0 && !math.IsNaN(v.num)
	case String:
		return v.str != ""
	default:
		return true
	}
}

// structuredRendering is the text an object is measured as: every object
// renders the same, so all of them share one length.
const structuredRendering = "[object Object]"

// Length is the measure used for min/max/average statistics.
// Strings count characters, sequences count elements, numbers measure as
// themselves, objects measure as structuredRendering and null and booleans
// count the characters of their rendering.
func (v Value) Length() float64 {
	switch v.kind {
	case String:
		return float64(utf8.RuneCountInString(v.str))
	case Sequence:
		return float64(len(v.seq))
	case Number:
		return v.num
	case Structured:
		return float64(len(structuredRendering))
	default:
		return float64(utf8.RuneCountInString(v.String()))
	}
}

// String renders the value in its default textual form.
func (v Value) String() string {
	switch v.kind {
	case Null:
		return "null"
	case Bool:
		return strconv.FormatBool(v.b)
	case Number:
		return formatNumber(v.num)
	case String:
		return v.str
	default:
		var buf bytes.Buffer

		v.writeCanonical(&buf, renderText)

		return buf.String()
	}
}

// Key returns the canonical equality key. Two values are equal exactly when
// their keys are equal; composites compare structurally. Strings are quoted
// byte for byte, so invalid UTF-8 never collapses into one key.
func (v Value) Key() string {
	var buf bytes.Buffer

	buf.WriteByte(byte('0' + v.kind))
	v.writeCanonical(&buf, renderKey)

	return buf.String()
}

// Equal reports structural equality.
func (v Value) Equal(other Value) bool {
	return v.Key() == other.Key()
}

// Interface converts the value back into plain Go data (the inverse of FromAny).
func (v Value) Interface() any {
	switch v.kind {
	case Null:
		return nil
	case Bool:
		return v.b
	case Number:
		return v.num
	case String:
		return v.str
	case Sequence:
		out := make([]any, len(v.seq))
		for i, item := range v.seq {
			out[i] = item.Interface()
		}

		return out
	default:
		out := make(map[string]any, len(v.fields))
		for k, item := range v.fields {
			out[k] = item.Interface()
		}

		return out
	}
}

// render selects how strings are written by writeCanonical.
type render uint8

const (
	// renderText is plain JSON text for display.
	renderText render = iota
	// renderKey quotes strings byte for byte.
	renderKey
	// renderJSON is decodable JSON that keeps invalid UTF-8 (see codec.go).
	renderJSON
)

func (v Value) writeCanonical(buf *bytes.Buffer, mode render) {
	switch v.kind {
	case Null:
		buf.WriteString("null")
	case Bool:
		buf.WriteString(strconv.FormatBool(v.b))
	case Number:
		buf.WriteString(formatNumber(v.num))
	case String:
		switch {
		case mode == renderKey:
			writeKeyString(buf, v.str)
		case mode == renderJSON && !utf8.ValidString(v.str):
			writeTaggedBytes(buf, v.str)
		default:
			writeJSONString(buf, v.str)
		}
	case Sequence:
		buf.WriteByte('[')

		for i, item := range v.seq {
			if i > 0 {
				buf.WriteByte(',')
			}

			item.writeCanonical(buf, mode)
		}

		buf.WriteByte(']')
	case Structured:
		if mode == renderJSON && v.needsObjectTag() {
			buf.WriteString(`{"` + tagObject + `":`)
			v.writeObject(buf, mode)
			buf.WriteByte('}')

			return
		}

		v.writeObject(buf, mode)
	}
}

func (v Value) writeObject(buf *bytes.Buffer, mode render) {
	buf.WriteByte('{')

	for i, name := range v.FieldNames() {
		if i > 0 {
			buf.WriteByte(',')
		}

		if mode == renderKey {
			writeKeyString(buf, name)
		} else {
			writeJSONString(buf, name)
		}

		buf.WriteByte(':')
		v.fields[name].writeCanonical(buf, mode)
	}

	buf.WriteByte('}')
}

func writeKeyString(buf *bytes.Buffer, s string) {
	buf.WriteString(strconv.Quote(s))
}

func writeJSONString(buf *bytes.Buffer, s string) {
	enc, err := json.Marshal(s)
	if err != nil {
		buf.WriteString(strconv.Quote(s))

		return
	}

	buf.Write(enc)
}

func formatNumber(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case math.IsNaN(f):
		return "NaN"
	}

	return strconv.FormatFloat(f, 'f', -1, 64)
}
