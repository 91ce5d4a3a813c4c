package cache

import (
	"time"
)

// CacheEntry is a stored response payload plus the validators needed to
// revalidate it.
type CacheEntry struct {
	Data        []byte `json:"data"`
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`

	// ETag and LastModified are sent back as If-None-Match and
	// If-Modified-Since once the entry is stale.
	ETag         string    `json:"etag"`
	LastModified time.Time `json:"last_modified"`

	Expires  time.Time `json:"expires"`
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired reports whether the entry is stale now.
func (e *CacheEntry) IsExpired() bool {
	return e.ExpiredAt(time.Now())
}

// ExpiredAt reports whether the entry is stale at t.
func (e *CacheEntry) ExpiredAt(t time.Time) bool {
	return t.After(e.Expires)
}

// TTL returns the time until the entry goes stale, never negative.
func (e *CacheEntry) TTL() time.Duration {
	return max(time.Until(e.Expires), 0)
}

// Age returns how long ago the entry was stored.
func (e *CacheEntry) Age() time.Duration {
	if e.CachedAt.IsZero() {
		return 0
	}
	return time.Since(e.CachedAt)
}
