package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/Sternrassler/crawlkit/pkg/fetch"
	"github.com/Sternrassler/crawlkit/pkg/record"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Detail payload kinds.
const (
	KindJSON = "json"
	KindHTML = "html"
)

// DetailRoute is one way to fetch the detail of a record.
type DetailRoute struct {
	// Kind is KindJSON or KindHTML.
	Kind string

	// URLTemplate is filled from the record ("{key}", "{url}", "{field}").
	URLTemplate string

	// Fields maps record fields to JSON paths or HTML selector specs.
	Fields map[string]string

	// ContentField receives the cleaned content found at ContentPaths.
	ContentField string

	// ContentPaths are JSON paths tried in order for rich content.
	ContentPaths []string
}

// Detail fetches per-record detail, trying routes in order. The first route
// that yields any non-empty field wins.
type Detail struct {
	Fetcher *fetch.Fetcher
	Routes  []DetailRoute

	logger zerolog.Logger
}

// NewDetail creates a detail source.
func NewDetail(fetcher *fetch.Fetcher, routes ...DetailRoute) *Detail {
	return &Detail{
		Fetcher: fetcher,
		Routes:  routes,
		logger:  log.With().Str("component", "detail").Logger(),
	}
}

// FetchDetail implements enrich.DetailSource. Route failures fall through
// to the next route; an expired session aborts immediately.
func (d *Detail) FetchDetail(ctx context.Context, rec record.Record) (map[string]string, bool, error) {
	var lastErr error
	for i, route := range d.Routes {
		fields, err := d.fetchRoute(ctx, route, rec)
		if err != nil {
			if fetch.IsFatal(err) || ctx.Err() != nil {
				return nil, false, err
			}
			d.logger.Debug().Err(err).Str("key", rec.Key).Int("route", i).Msg("Detail route failed")
			lastErr = err
			continue
		}
		if len(fields) > 0 {
			return fields, true, nil
		}
	}
	if lastErr != nil {
		return nil, false, lastErr
	}
	return nil, false, nil
}

func (d *Detail) fetchRoute(ctx context.Context, route DetailRoute, rec record.Record) (map[string]string, error) {
	detailURL := RecordURL(route.URLTemplate, rec)

	switch route.Kind {
	case KindJSON, "":
		var doc any
		found, err := d.Fetcher.GetJSON(ctx, detailURL, &doc)
		if err != nil || !found {
			return nil, err
		}
		return jsonFields(doc, route), nil

	case KindHTML:
		body, found, err := d.Fetcher.GetText(ctx, detailURL)
		if err != nil || !found {
			return nil, err
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("parse detail html: %w", err)
		}
		return htmlFields(doc, route, detailURL), nil

	default:
		return nil, fmt.Errorf("unknown detail kind %q", route.Kind)
	}
}

func jsonFields(doc any, route DetailRoute) map[string]string {
	out := make(map[string]string)
	for field, path := range route.Fields {
		if v, ok := Lookup(doc, path); ok {
			if s := String(v); s != "" {
				out[field] = s
			}
		}
	}
	if route.ContentField != "" {
		for _, path := range route.ContentPaths {
			v, ok := Lookup(doc, path)
			if !ok {
				continue
			}
			if content := Content(v); content != "" {
				out[route.ContentField] = content
				break
			}
		}
	}
	return out
}

func htmlFields(doc *goquery.Document, route DetailRoute, pageURL string) map[string]string {
	out := make(map[string]string)
	for field, spec := range route.Fields {
		if s := Select(doc.Selection, spec, pageURL); s != "" {
			out[field] = s
		}
	}
	return out
}
