// Package extract flattens raw GtR records into ordered key/value entries.
// It is pure and never fails: missing fields become empty values instead
// of errors.
package extract

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Field is one extracted name/value pair.
type Field struct {
	Name  string
	Value any
}

// Entry is one flattened record. Field order follows the configured field
// list for the endpoint, not the source record, so serialization is
// byte-deterministic for identical input.
type Entry []Field

// MarshalJSON emits a JSON object whose keys appear in Entry order.
func (e Entry) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range e {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		value, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Value returns the value for a field name and whether the name is present.
func (e Entry) Value(name string) (any, bool) {
	for _, f := range e {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Records produces one Entry per record found under recordKey in the page
// body. Records that are not JSON objects are skipped. A missing or
// malformed record collection yields no entries: an empty page is not an
// error at this layer. The result is never nil, so a serialized page is
// always a JSON array.
func Records(body map[string]any, recordKey string, fields []string) []Entry {
	raw, ok := body[recordKey].([]any)
	if !ok {
		return []Entry{}
	}

	entries := make([]Entry, 0, len(raw))
	for _, r := range raw {
		record, ok := r.(map[string]any)
		if !ok {
			continue
		}

		entry := make(Entry, 0, len(fields))
		for _, name := range fields {
			value, found := resolve(record, name)
			if !found || value == nil {
				// The absent marker collapses to the empty value only
				// here, when the entry is built.
				value = ""
			}
			entry = append(entry, Field{Name: name, Value: value})
		}
		entries = append(entries, entry)
	}
	return entries
}

// resolve walks a dotted path through nested objects and lists. Numeric
// segments index into lists. The boolean distinguishes "absent" from a
// legitimately empty value.
func resolve(root any, path string) (any, bool) {
	current := root
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}
