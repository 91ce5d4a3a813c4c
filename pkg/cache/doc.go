// Package cache provides an optional Redis-backed payload cache for fetches.
//
// A crawl that is interrupted and resumed re-requests detail pages it has
// already seen. With a cache attached, the fetcher serves fresh entries
// without touching the remote boundary and revalidates stale entries with a
// conditional request:
//
//   - Entries expire per the Expires / Cache-Control max-age headers, or a
//     configured default TTL when the upstream sends neither.
//   - Stale entries are retained for a grace period so they can be
//     revalidated with If-None-Match / If-Modified-Since.
//   - A 304 Not Modified refreshes the entry's expiry and reuses its body.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient, cache.DefaultConfig())
//
//	key := cache.CacheKey{Boundary: "detail", URL: "https://example.com/articles/1"}
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the boundary
//	}
//
// # Metrics
//
//   - crawl_cache_hits_total{state="fresh|stale"} - Cache hits
//   - crawl_cache_misses_total - Cache misses
//   - crawl_cache_not_modified_total - Successful revalidations
//   - crawl_cache_errors_total{operation} - Cache operation errors
package cache
