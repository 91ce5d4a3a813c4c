package source

import (
	"regexp"
	"time"

	"github.com/Sternrassler/crawlkit/pkg/daterange"
	"github.com/Sternrassler/crawlkit/pkg/pagination"
	"github.com/Sternrassler/crawlkit/pkg/record"
)

// Extractor turns listing items into records. Items are decoded JSON
// objects or the field maps produced by HTMLListing.
type Extractor struct {
	// KeyField is the item path holding the primary key.
	KeyField string

	// KeyPattern optionally narrows the key value to its first capture
	// group, e.g. `document_srl=(\d+)` on a link.
	KeyPattern *regexp.Regexp

	// Fields maps record fields to item paths.
	Fields map[string]string

	// URLTemplate builds the record url from the record ("{key}").
	URLTemplate string

	// Now stamps crawled_at.
	Now func() time.Time
}

// Extract implements pagination.Extractor.
func (x *Extractor) Extract(item any) (record.Record, bool) {
	obj, ok := item.(map[string]any)
	if !ok {
		return record.Record{}, false
	}

	raw, _ := Lookup(obj, x.KeyField)
	key := String(raw)
	if x.KeyPattern != nil {
		m := x.KeyPattern.FindStringSubmatch(key)
		if len(m) < 2 {
			return record.Record{}, false
		}
		key = m[1]
	}
	if key == "" {
		return record.Record{}, false
	}

	rec := record.New(key, nil)
	for field, path := range x.Fields {
		v, _ := Lookup(obj, path)
		rec.Set(field, String(v))
	}
	if x.URLTemplate != "" && rec.Get(record.FieldURL) == "" {
		rec.Set(record.FieldURL, RecordURL(x.URLTemplate, rec))
	}

	now := time.Now
	if x.Now != nil {
		now = x.Now
	}
	rec.Set(record.FieldCrawledAt, now().Format(time.RFC3339))
	return rec, true
}

// Func returns Extract as a pagination.Extractor.
func (x *Extractor) Func() pagination.Extractor {
	return x.Extract
}

// DateFilter returns a predicate keeping items whose dateField lies in r.
// Items without a parseable date are dropped.
func DateFilter(r daterange.Range, dateField string, now func() time.Time) pagination.Predicate {
	if now == nil {
		now = time.Now
	}
	return func(item any) bool {
		v, _ := Lookup(item, dateField)
		return r.ContainsString(String(v), now())
	}
}
