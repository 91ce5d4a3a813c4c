// Package source provides configurable page and detail sources for JSON APIs
// and HTML sites, built on the retrying fetcher.
package source

import (
	"context"
	"fmt"

	"github.com/Sternrassler/crawlkit/pkg/fetch"
	"github.com/Sternrassler/crawlkit/pkg/pagination"
)

// JSONListing reads listing pages from a JSON API.
type JSONListing struct {
	Fetcher *fetch.Fetcher

	// URLTemplate contains "{page}".
	URLTemplate string

	// PageBase is the upstream number of the first page (0 or 1).
	PageBase int

	// ItemsPath locates the item array ("" for a top-level array).
	ItemsPath string

	// TotalPagesPath and TotalItemsPath locate optional count hints.
	TotalPagesPath string
	TotalItemsPath string
}

// FetchPage implements pagination.PageSource.
func (s *JSONListing) FetchPage(ctx context.Context, page int) (pagination.PageResult, error) {
	res := pagination.PageResult{Index: page}
	pageURL := PageURL(s.URLTemplate, page, s.PageBase)

	var doc any
	found, err := s.Fetcher.GetJSON(ctx, pageURL, &doc)
	if err != nil {
		return res, fmt.Errorf("listing page %d: %w", page, err)
	}
	if !found {
		return res, nil
	}

	items, err := Items(doc, s.ItemsPath)
	if err != nil {
		return res, fmt.Errorf("listing page %d: %w", page, err)
	}
	res.Items = items

	if s.TotalPagesPath != "" {
		if v, ok := Lookup(doc, s.TotalPagesPath); ok {
			res.TotalPages = Int(v)
		}
	}
	if s.TotalItemsPath != "" {
		if v, ok := Lookup(doc, s.TotalItemsPath); ok {
			res.TotalItems = Int(v)
		}
	}
	return res, nil
}
