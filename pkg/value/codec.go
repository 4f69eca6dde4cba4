package value

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// JSON text cannot hold invalid UTF-8, so such strings are written as a
// single-key object carrying the raw bytes. Objects whose only key is one of
// the tags are wrapped under tagObject so decoding stays unambiguous.
const (
	tagBytes  = "$fieldagg:bytes"
	tagObject = "$fieldagg:object"
)

// MarshalJSON encodes the value as plain JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	v.writeCanonical(&buf, renderJSON)

	return buf.Bytes(), nil
}

// UnmarshalJSON decodes any JSON document into the value.
func (v *Value) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}

	*v = decoded

	return nil
}

// GobEncode implements gob.GobEncoder via the JSON form.
func (v Value) GobEncode() ([]byte, error) {
	return v.MarshalJSON()
}

// GobDecode implements gob.GobDecoder via the JSON form.
func (v *Value) GobDecode(data []byte) error {
	return v.UnmarshalJSON(data)
}

// MarshalYAML renders the value through its plain Go form.
func (v Value) MarshalYAML() (any, error) {
	return v.Interface(), nil
}

// Decode parses a single JSON document, keeping full number precision
// until the final conversion.
func Decode(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any

	err := dec.Decode(&raw)
	if err != nil {
		return Value{}, fmt.Errorf("decode value: %w", err)
	}

	return fromJSON(raw), nil
}

// fromJSON is FromAny with the tagged forms written by MarshalJSON undone.
func fromJSON(raw any) Value {
	switch typed := raw.(type) {
	case []any:
		seq := make([]Value, len(typed))
		for i, item := range typed {
			seq[i] = fromJSON(item)
		}

		return Value{kind: Sequence, seq: seq}
	case map[string]any:
		if len(typed) == 1 {
			if encoded, ok := typed[tagBytes].(string); ok {
				data, err := base64.StdEncoding.DecodeString(encoded)
				if err == nil {
					return StringValue(string(data))
				}
			}

			if inner, ok := typed[tagObject].(map[string]any); ok {
				return objectFromJSON(inner)
			}
		}

		return objectFromJSON(typed)
	default:
		return FromAny(raw)
	}
}

func objectFromJSON(raw map[string]any) Value {
	fields := make(map[string]Value, len(raw))
	for k, item := range raw {
		fields[k] = fromJSON(item)
	}

	return Value{kind: Structured, fields: fields}
}

// needsObjectTag reports whether the object would read back as a tagged form.
func (v Value) needsObjectTag() bool {
	if len(v.fields) != 1 {
		return false
	}

	_, isBytes := v.fields[tagBytes]
	_, isObject := v.fields[tagObject]

	return isBytes || isObject
}

func writeTaggedBytes(buf *bytes.Buffer, s string) {
	buf.WriteString(`{"` + tagBytes + `":"`)
	buf.WriteString(base64.StdEncoding.EncodeToString([]byte(s)))
	buf.WriteString(`"}`)
}
