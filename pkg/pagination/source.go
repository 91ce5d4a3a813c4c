package pagination

import (
	"context"

	"github.com/Sternrassler/crawlkit/pkg/record"
)

// PageResult is one fetched listing page.
type PageResult struct {
	// Index is the 1-based page index.
	Index int

	// Items are the raw items in upstream order.
	Items []any

	// TotalItems is the upstream item count hint, 0 if unknown.
	TotalItems int

	// TotalPages is the upstream page count hint, 0 if unknown.
	TotalPages int
}

// PageSource fetches a single page by 1-based index. A page that does not
// exist returns an empty PageResult and a nil error.
type PageSource interface {
	FetchPage(ctx context.Context, page int) (PageResult, error)
}

// PageSourceFunc adapts a function to the PageSource interface.
type PageSourceFunc func(ctx context.Context, page int) (PageResult, error)

// FetchPage calls f(ctx, page).
func (f PageSourceFunc) FetchPage(ctx context.Context, page int) (PageResult, error) {
	return f(ctx, page)
}

// PageCounter is implemented by sources that can probe the page count
// themselves, e.g. by scanning pagination links.
type PageCounter interface {
	CountPages(ctx context.Context) (int, error)
}

// Predicate decides whether a raw item is relevant. It must be pure.
type Predicate func(item any) bool

// Extractor turns a raw item into a record. ok=false drops the item.
type Extractor func(item any) (rec record.Record, ok bool)
