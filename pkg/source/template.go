package source

import (
	"net/url"
	"regexp"
	"strconv"

	"github.com/Sternrassler/crawlkit/pkg/record"
)

var placeholder = regexp.MustCompile(`\{(\w+)\}`)

// PageURL fills "{page}" in template with the upstream page number. base
// maps the walker's 1-based index onto zero- or one-based upstream pages.
func PageURL(template string, page, base int) string {
	upstream := strconv.Itoa(page - 1 + base)
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		if m == "{page}" {
			return upstream
		}
		return m
	})
}

// RecordURL fills "{key}" and "{field}" placeholders from rec. Values are
// path-escaped except for the url field, which is inserted verbatim.
// Unknown placeholders are left in place.
func RecordURL(template string, rec record.Record) string {
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		name := m[1 : len(m)-1]
		switch name {
		case "key":
			return url.PathEscape(rec.Key)
		case record.FieldURL:
			if v := rec.Get(name); v != "" {
				return v
			}
			return m
		}
		if v := rec.Get(name); v != "" {
			return url.PathEscape(v)
		}
		return m
	})
}

// ResolveURL makes href absolute against base.
func ResolveURL(base, href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	b, err := url.Parse(base)
	if err != nil || base == "" {
		return href
	}
	return b.ResolveReference(ref).String()
}
