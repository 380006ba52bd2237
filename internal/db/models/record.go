// Package models - record.go defines Record, the column-keyed row shape shared by every
// registered resource, plus the accessors the engines use to read ids, states and references.
package models

import (
	"encoding/json"
	"strconv"
)

// Record is one row of a registered resource keyed by column name.
type Record map[string]any

// ID returns the primary key, or 0 when absent.
func (r Record) ID() int64 {
	id, _ := r.Int64("id")
	return id
}

// Int64 reads an integer column. Values decoded from JSON arrive as float64 or
// json.Number and are accepted too.
func (r Record) Int64(col string) (int64, bool) {
	switch v := r[col].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// String reads a text column; nil and non-string values yield "".
func (r Record) String(col string) string {
	if s, ok := r[col].(string); ok {
		return s
	}
	return ""
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Snapshot serializes the record for audit before/after columns. A nil record
// yields nil.
func (r Record) Snapshot() json.RawMessage {
	if r == nil {
		return nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return b
}
