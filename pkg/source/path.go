package source

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Lookup walks a dot-notation path ("data.items.0.title") into a decoded
// JSON value. Numeric segments index arrays. An empty path returns v.
func Lookup(v any, path string) (any, bool) {
	if path == "" {
		return v, v != nil
	}
	current := v
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			current = node[i]
		default:
			return nil, false
		}
	}
	return current, current != nil
}

// LookupFirst returns the first non-empty value among paths.
func LookupFirst(v any, paths ...string) (any, bool) {
	for _, p := range paths {
		if got, ok := Lookup(v, p); ok && String(got) != "" {
			return got, true
		}
	}
	return nil, false
}

// Items returns the array found at path.
func Items(v any, path string) ([]any, error) {
	got, ok := Lookup(v, path)
	if !ok {
		if path == "" {
			return nil, fmt.Errorf("empty document")
		}
		return nil, fmt.Errorf("path %q not found", path)
	}
	arr, ok := got.([]any)
	if !ok {
		return nil, fmt.Errorf("path %q is %T, not an array", path, got)
	}
	return arr, nil
}

// String renders a JSON scalar as a field value. Integral numbers have no
// decimal part, objects and arrays are re-encoded.
func String(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	case map[string]any, []any:
		data, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(data)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", x))
	}
}

// Int renders a JSON number (or numeric string) as an int.
func Int(v any) int {
	switch x := v.(type) {
	case float64:
		return int(x)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(x))
		return n
	case json.Number:
		n, _ := x.Int64()
		return int(n)
	default:
		return 0
	}
}

// Content picks rich text from a value the way CMS payloads nest it: a
// plain string, an object carrying value/html/text/body/content, or a list
// of those joined by newlines. The result is cleaned to plain text.
func Content(v any) string {
	switch x := v.(type) {
	case string:
		return CleanHTML(x)
	case map[string]any:
		for _, k := range contentKeys {
			if s, ok := x[k].(string); ok && strings.TrimSpace(s) != "" {
				return CleanHTML(s)
			}
		}
	case []any:
		var parts []string
		for _, it := range x {
			switch e := it.(type) {
			case string:
				if s := strings.TrimSpace(e); s != "" {
					parts = append(parts, s)
				}
			case map[string]any:
				for _, k := range contentKeys {
					if s, ok := e[k].(string); ok && strings.TrimSpace(s) != "" {
						parts = append(parts, strings.TrimSpace(s))
						break
					}
				}
			}
		}
		if len(parts) > 0 {
			return CleanHTML(strings.Join(parts, "\n"))
		}
	}
	return ""
}

var contentKeys = []string{"value", "html", "text", "body", "content"}
