// Package record defines the crawled record type and the dedupe/merge rules
// applied between the list phase and the detail phase.
package record

import (
	"sort"
)

// Common field names shared by the generic sources and sinks.
const (
	FieldURL       = "url"
	FieldCrawledAt = "crawled_at"
)

// Record is a single crawled item.
type Record struct {
	// Key is the site-specific primary key (numeric id, URL slug, ...).
	Key string `json:"key"`

	// Fields maps field names to their string values. Numeric upstream
	// values are stored in their decimal string form.
	Fields map[string]string `json:"fields"`
}

// New creates a record with the given key and a copy of fields.
func New(key string, fields map[string]string) Record {
	r := Record{Key: key, Fields: make(map[string]string, len(fields))}
	for k, v := range fields {
		r.Fields[k] = v
	}
	return r
}

// Get returns the value of a field, or "" if absent.
func (r Record) Get(field string) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[field]
}

// Set assigns a field value, allocating the field map if needed.
func (r *Record) Set(field, value string) {
	if r.Fields == nil {
		r.Fields = make(map[string]string)
	}
	r.Fields[field] = value
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	return New(r.Key, r.Fields)
}

// FieldNames returns the record's field names in sorted order.
func (r Record) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Dedupe keeps the first occurrence of every primary key, preserving the
// relative input order of first occurrences. Records with an empty key are
// dropped.
func Dedupe(records []Record) []Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Key == "" {
			continue
		}
		if _, ok := seen[r.Key]; ok {
			continue
		}
		seen[r.Key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Index maps primary keys to their position in records. Later duplicates
// do not replace earlier ones.
func Index(records []Record) map[string]int {
	idx := make(map[string]int, len(records))
	for i, r := range records {
		if _, ok := idx[r.Key]; !ok {
			idx[r.Key] = i
		}
	}
	return idx
}
