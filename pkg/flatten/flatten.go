// Package flatten turns nested JSON objects into flat records keyed by dotted
// field paths, e.g. {"hotspot_infos":{"iot":{"lat":1.5}}} becomes
// {"hotspot_infos.iot.lat":"1.5"}.
package flatten

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Separator joins nested field names into a path.
const Separator = "."

// ErrNotObject is returned when the JSON document is not an object.
var ErrNotObject = errors.New("json document is not an object")

// Record maps dotted field paths to scalar values rendered as strings.
// Absent and null fields have no entry.
type Record map[string]string

// Fields returns the record's field paths in sorted order.
func (r Record) Fields() []string {
	fields := make([]string, 0, len(r))
	for f := range r {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Normalize decodes a JSON object and flattens it into a Record.
//
// Nested objects are walked recursively. Arrays and empty objects are kept as
// compact JSON text under their own path. Numbers keep their original
// textual form.
func Normalize(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode json: trailing data after object")
	}

	obj, ok := doc.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w (got %s)", ErrNotObject, kindOf(doc))
	}

	rec := make(Record, len(obj))
	if err := flattenInto(rec, "", obj); err != nil {
		return nil, err
	}
	return rec, nil
}

// NormalizeAll flattens every element of a JSON array of objects.
func NormalizeAll(items []json.RawMessage) ([]Record, error) {
	out := make([]Record, 0, len(items))
	for i, item := range items {
		rec, err := Normalize(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Columns returns the sorted union of field paths across records.
func Columns(records []Record) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		for f := range r {
			seen[f] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for f := range seen {
		cols = append(cols, f)
	}
	sort.Strings(cols)
	return cols
}

func flattenInto(rec Record, prefix string, obj map[string]interface{}) error {
	for name, value := range obj {
		path := name
		if prefix != "" {
			path = prefix + Separator + name
		}

		if nested, ok := value.(map[string]interface{}); ok && len(nested) > 0 {
			if err := flattenInto(rec, path, nested); err != nil {
				return err
			}
			continue
		}

		s, ok, err := scalar(value)
		if err != nil {
			return fmt.Errorf("field %s: %w", path, err)
		}
		if ok {
			rec[path] = s
		}
	}
	return nil
}

// scalar renders a leaf value. ok is false for null.
func scalar(value interface{}) (string, bool, error) {
	switch v := value.(type) {
	case nil:
		return "", false, nil
	case string:
		return v, true, nil
	case json.Number:
		return v.String(), true, nil
	case bool:
		if v {
			return "true", true, nil
		}
		return "false", true, nil
	default:
		var buf strings.Builder
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(v); err != nil {
			return "", false, fmt.Errorf("encode value: %w", err)
		}
		return strings.TrimRight(buf.String(), "\n"), true, nil
	}
}

func kindOf(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case []interface{}:
		return "array"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "bool"
	default:
		return fmt.Sprintf("%T", v)
	}
}
