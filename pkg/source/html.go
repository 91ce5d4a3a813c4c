package source

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/Sternrassler/crawlkit/pkg/fetch"
	"github.com/Sternrassler/crawlkit/pkg/pagination"
)

var pageParam = regexp.MustCompile(`[?&]page=(\d+)`)

// HTMLListing reads listing pages from server-rendered HTML. Every row
// becomes a map from field name to extracted string.
type HTMLListing struct {
	Fetcher *fetch.Fetcher

	// URLTemplate contains "{page}".
	URLTemplate string

	// PageBase is the upstream number of the first page (0 or 1).
	PageBase int

	// RowSelector matches one element per item.
	RowSelector string

	// Fields maps field names to selector specs evaluated inside a row.
	// See Select for the spec syntax.
	Fields map[string]string

	// PagerSelector matches pagination links for CountPages.
	PagerSelector string

	mu        sync.Mutex
	pager     int
	pagerSeen bool
}

// FetchPage implements pagination.PageSource.
func (s *HTMLListing) FetchPage(ctx context.Context, page int) (pagination.PageResult, error) {
	res := pagination.PageResult{Index: page}
	pageURL := PageURL(s.URLTemplate, page, s.PageBase)

	doc, found, err := s.document(ctx, pageURL)
	if err != nil {
		return res, fmt.Errorf("listing page %d: %w", page, err)
	}
	if !found {
		return res, nil
	}
	if page == 1 {
		s.mu.Lock()
		s.pager, s.pagerSeen = s.highestPage(doc), true
		s.mu.Unlock()
	}

	doc.Find(s.RowSelector).Each(func(_ int, row *goquery.Selection) {
		item := make(map[string]any, len(s.Fields))
		for name, spec := range s.Fields {
			item[name] = Select(row, spec, pageURL)
		}
		res.Items = append(res.Items, item)
	})
	return res, nil
}

// CountPages implements pagination.PageCounter by scanning the pager
// links of the first page for the highest page number. The pager of a
// first page already fetched by FetchPage is reused.
func (s *HTMLListing) CountPages(ctx context.Context) (int, error) {
	s.mu.Lock()
	highest, seen := s.pager, s.pagerSeen
	s.mu.Unlock()

	if !seen {
		pageURL := PageURL(s.URLTemplate, 1, s.PageBase)
		doc, found, err := s.document(ctx, pageURL)
		if err != nil || !found {
			return 0, err
		}
		highest = s.highestPage(doc)
	}
	if highest == 0 {
		return 0, nil
	}
	// Upstream numbers are converted back to a page count.
	return highest + 1 - s.PageBase, nil
}

func (s *HTMLListing) highestPage(doc *goquery.Document) int {
	selector := s.PagerSelector
	if selector == "" {
		selector = "a[href*='page=']"
	}

	highest := 0
	doc.Find(selector).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if m := pageParam.FindStringSubmatch(href); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
				highest = n
			}
		}
	})
	return highest
}

func (s *HTMLListing) document(ctx context.Context, pageURL string) (*goquery.Document, bool, error) {
	body, found, err := s.Fetcher.GetText(ctx, pageURL)
	if err != nil || !found {
		return nil, found, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("parse html: %w", err)
	}
	return doc, true, nil
}

// Select evaluates a selector spec against sel:
//
//	"td.title a"        trimmed text of the first match
//	"td.title a@href"   attribute, resolved against pageURL for href/src
//	"div.content@html"  inner HTML cleaned to plain text
//	"ul.tags a@list"    texts of all matches joined by ", "
func Select(sel *goquery.Selection, spec, pageURL string) string {
	css, mode := spec, ""
	if i := strings.LastIndex(spec, "@"); i >= 0 {
		css, mode = spec[:i], spec[i+1:]
	}
	css = strings.TrimSpace(css)

	target := sel
	if css != "" {
		target = sel.Find(css)
	}
	if target.Length() == 0 {
		return ""
	}

	switch mode {
	case "":
		return strings.TrimSpace(target.First().Text())
	case "html":
		html, err := target.First().Html()
		if err != nil {
			return ""
		}
		return CleanHTML(html)
	case "list":
		var parts []string
		target.Each(func(_ int, s *goquery.Selection) {
			if t := strings.TrimPrefix(strings.TrimSpace(s.Text()), "#"); t != "" {
				parts = append(parts, t)
			}
		})
		return strings.Join(parts, ", ")
	default:
		v, _ := target.First().Attr(mode)
		v = strings.TrimSpace(v)
		if mode == "href" || mode == "src" {
			return ResolveURL(pageURL, v)
		}
		return v
	}
}
