package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// CacheKey identifies a cached payload.
type CacheKey struct {
	// Boundary is the logical remote boundary (e.g. "list", "detail")
	Boundary string

	// URL is the requested URL
	URL string
}

// String generates a deterministic cache key string. Query parameters are
// sorted and the fragment is dropped so equivalent URLs share an entry.
//
// Format: crawl:cache:boundary:scheme://host/path?a=1&b=2
func (k CacheKey) String() string {
	boundary := k.Boundary
	if boundary == "" {
		boundary = "default"
	}
	return fmt.Sprintf("crawl:cache:%s:%s", boundary, normalizeURL(k.URL))
}

func normalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)

	query := u.Query()
	if len(query) == 0 {
		u.RawQuery = ""
		return u.String()
	}

	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		values := query[key]
		sort.Strings(values)
		for _, v := range values {
			parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(v))
		}
	}
	u.RawQuery = strings.Join(parts, "&")
	return u.String()
}
