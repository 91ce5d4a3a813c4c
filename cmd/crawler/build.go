package main

import (
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/Sternrassler/crawlkit/pkg/cache"
	"github.com/Sternrassler/crawlkit/pkg/config"
	"github.com/Sternrassler/crawlkit/pkg/daterange"
	"github.com/Sternrassler/crawlkit/pkg/enrich"
	"github.com/Sternrassler/crawlkit/pkg/fetch"
	"github.com/Sternrassler/crawlkit/pkg/logging"
	"github.com/Sternrassler/crawlkit/pkg/pagination"
	"github.com/Sternrassler/crawlkit/pkg/pipeline"
	"github.com/Sternrassler/crawlkit/pkg/ratelimit"
	"github.com/Sternrassler/crawlkit/pkg/record"
	"github.com/Sternrassler/crawlkit/pkg/sink"
	"github.com/Sternrassler/crawlkit/pkg/source"
)

// builder turns crawl file targets into pipeline targets. It owns the
// fetchers it creates.
type builder struct {
	env      config.Env
	rng      daterange.Range
	cache    *cache.Manager
	session  fetch.Session
	fetchers []*fetch.Fetcher
}

func newBuilder(env config.Env, rng daterange.Range, payloadCache *cache.Manager) *builder {
	b := &builder{env: env, rng: rng, cache: payloadCache}
	if cookies := fetch.ParseCookieHeader(env.SessionCookie); len(cookies) > 0 {
		b.session = &fetch.StaticSession{Cookies: cookies}
	}
	return b
}

// Close releases the connection pools of all fetchers.
func (b *builder) Close() {
	for _, f := range b.fetchers {
		f.Close()
	}
	b.fetchers = nil
}

// fetcher creates a fetcher with its own token bucket. Only detail
// fetchers use the payload cache.
func (b *builder) fetcher(name string, qps int, cached bool) (*fetch.Fetcher, error) {
	lcfg := ratelimit.DefaultConfig(name)
	lcfg.Capacity = qps
	limiter, err := ratelimit.New(lcfg, logging.NewLogger("ratelimit"))
	if err != nil {
		return nil, err
	}
	cfg := fetch.DefaultConfig(name, limiter)
	cfg.Timeout = b.env.Timeout
	cfg.Session = b.session
	cfg.Retry.MaxAttempts = b.env.Retries
	if b.env.UserAgent != "" {
		cfg.UserAgent = b.env.UserAgent
	}
	if cached {
		cfg.Cache = b.cache
	}

	f, err := fetch.New(cfg)
	if err != nil {
		return nil, err
	}
	b.fetchers = append(b.fetchers, f)
	return f, nil
}

// Target builds a pipeline target from its crawl file definition.
func (b *builder) Target(tc config.Target) (pipeline.Target, error) {
	listFetcher, err := b.fetcher(tc.Name+".list", b.env.ListQPS, false)
	if err != nil {
		return pipeline.Target{}, err
	}

	t := pipeline.Target{
		Name: tc.Name,
		Walk: b.walkConfig(tc),
		Sink: sink.NewCSV(filepath.Join(b.env.OutputDir, tc.Output), tc.Columns...),
	}

	extractor := &source.Extractor{
		KeyField:    tc.Key,
		Fields:      tc.Fields,
		URLTemplate: tc.RecordURL,
	}
	if tc.KeyPattern != "" {
		extractor.KeyPattern, err = regexp.Compile(tc.KeyPattern)
		if err != nil {
			return pipeline.Target{}, fmt.Errorf("key_pattern: %w", err)
		}
	}

	// HTML rows are already keyed by field name.
	dateItemPath := tc.DateField
	if tc.Kind == config.KindHTML {
		extractor.Fields = make(map[string]string, len(tc.Fields))
		for name := range tc.Fields {
			extractor.Fields[name] = name
		}
	} else if path, ok := tc.Fields[tc.DateField]; ok {
		dateItemPath = path
	}
	t.Extract = extractor.Func()

	if tc.DateField != "" && (!b.rng.Start.IsZero() || !b.rng.End.IsZero()) {
		t.Keep = source.DateFilter(b.rng, dateItemPath, nil)
	}

	for _, l := range tc.Listings {
		t.Listings = append(t.Listings, pipeline.Listing{
			Name:   l.Name,
			Source: listingSource(tc, l, listFetcher),
		})
	}

	if tc.Detail != nil {
		detailFetcher, err := b.fetcher(tc.Name+".detail", b.env.DetailQPS, true)
		if err != nil {
			return pipeline.Target{}, err
		}
		routes := make([]source.DetailRoute, 0, len(tc.Detail.Routes))
		for _, r := range tc.Detail.Routes {
			routes = append(routes, source.DetailRoute{
				Kind:         r.Kind,
				URLTemplate:  r.URL,
				Fields:       r.Fields,
				ContentField: r.ContentField,
				ContentPaths: r.Content,
			})
		}
		t.Detail = source.NewDetail(detailFetcher, routes...)

		t.Enrich = enrich.DefaultConfig("")
		t.Enrich.Workers = b.env.DetailWorkers
		if len(tc.Detail.Overwrite) > 0 {
			overwrite := append(append([]string(nil), record.DefaultOverwriteFields...), tc.Detail.Overwrite...)
			t.Enrich.Merger = record.NewMerger(overwrite...)
		}
	}

	return t, nil
}

func (b *builder) walkConfig(tc config.Target) pagination.Config {
	cfg := pagination.DefaultConfig("")
	cfg.Workers = b.env.PageWorkers
	cfg.MaxPages = tc.MaxPages
	cfg.PageSize = tc.PageSize
	if tc.ZeroStreak > 0 {
		cfg.ZeroStreakStop = tc.ZeroStreak
	}
	return cfg
}

func listingSource(tc config.Target, l config.Listing, f *fetch.Fetcher) pagination.PageSource {
	if tc.Kind == config.KindHTML {
		return &source.HTMLListing{
			Fetcher:       f,
			URLTemplate:   l.URL,
			PageBase:      tc.PageBase,
			RowSelector:   tc.Rows,
			Fields:        tc.Fields,
			PagerSelector: tc.Pager,
		}
	}
	return &source.JSONListing{
		Fetcher:        f,
		URLTemplate:    l.URL,
		PageBase:       tc.PageBase,
		ItemsPath:      tc.Items,
		TotalPagesPath: tc.TotalPages,
		TotalItemsPath: tc.TotalItems,
	}
}
