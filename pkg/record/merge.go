package record

// DefaultOverwriteFields are detail fields that replace list-phase values
// whenever the detail payload carries them.
var DefaultOverwriteFields = []string{"content_text", "content_html", "tags"}

// Merger combines list-phase records with detail-phase field maps.
//
// Merging is additive: a detail field only fills a field that is empty on
// the base record, except for the overwrite fields which win whenever the
// detail value is non-empty. Empty detail values never change the base.
type Merger struct {
	overwrite map[string]struct{}
}

// NewMerger creates a merger with the given always-overwrite fields.
func NewMerger(overwrite ...string) *Merger {
	m := &Merger{overwrite: make(map[string]struct{}, len(overwrite))}
	for _, f := range overwrite {
		m.overwrite[f] = struct{}{}
	}
	return m
}

// DefaultMerger returns a merger that overwrites DefaultOverwriteFields.
func DefaultMerger() *Merger {
	return NewMerger(DefaultOverwriteFields...)
}

// Merge returns a new record with detail applied to base. base is not
// modified. Merge is idempotent: Merge(Merge(b, d), d) equals Merge(b, d).
func (m *Merger) Merge(base Record, detail map[string]string) Record {
	out := base.Clone()
	m.MergeInto(&out, detail)
	return out
}

// MergeInto applies detail to r in place and reports whether any field
// changed.
func (m *Merger) MergeInto(r *Record, detail map[string]string) bool {
	changed := false
	for k, v := range detail {
		if v == "" {
			continue
		}
		cur := r.Get(k)
		if _, ok := m.overwrite[k]; ok {
			if cur != v {
				r.Set(k, v)
				changed = true
			}
			continue
		}
		if cur == "" {
			r.Set(k, v)
			changed = true
		}
	}
	return changed
}
