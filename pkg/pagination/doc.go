// Package pagination walks paginated listings, filters every page through a
// relevance predicate and decides when to stop.
//
// The page count comes from configuration, from the first page (total pages
// or total items divided by the page size), or from an optional PageCounter
// probe. Implausible counts at or above the sanity ceiling fall back to a
// default. When no exact count is known, a successful page without raw items
// ends the listing.
//
// Early termination: the walker counts consecutive pages that yield zero
// in-range items and stops once the count reaches ZeroStreakStop. This
// assumes the listing is ordered newest first. It trades completeness for
// crawl duration: an out-of-order server or a gap of irrelevant items longer
// than the threshold stops the walk early. Set ZeroStreakStop to 0 to walk
// every page.
//
// With Workers > 1 pages are fetched by a bounded worker pool and the streak
// is counted in completion order, so it is approximate. Pages already handed
// to a worker when the threshold is reached still complete and contribute
// their records; pages after the triggering page are skipped.
//
// A failed page is logged, counted as zero items and does not abort the walk.
// Only an expired session (fetch.ErrAuthExpired) or context cancellation
// ends a walk with an error, after saving a checkpoint.
//
// Example usage:
//
//	walker, _ := pagination.NewWalker(pagination.DefaultConfig("news"), store)
//	result, err := walker.Walk(ctx, source, inRange, extract)
package pagination
