// Package pipeline composes the crawl phases for a target: walk every
// listing, combine and deduplicate, enrich with detail, deduplicate again
// and emit to a sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/crawlkit/pkg/checkpoint"
	"github.com/Sternrassler/crawlkit/pkg/enrich"
	"github.com/Sternrassler/crawlkit/pkg/logging"
	"github.com/Sternrassler/crawlkit/pkg/pagination"
	"github.com/Sternrassler/crawlkit/pkg/record"
	"github.com/Sternrassler/crawlkit/pkg/sink"
	"golang.org/x/sync/errgroup"
)

// ErrNoListings is returned for a target without listings.
var ErrNoListings = errors.New("target has no listings")

// Listing is one paginated listing of a target, e.g. a board category.
type Listing struct {
	Name   string
	Source pagination.PageSource

	// Keep overrides the target predicate for this listing.
	Keep pagination.Predicate
}

// Target describes one crawl: its listings, the relevance predicate, the
// item extractor and the optional detail phase.
type Target struct {
	Name     string
	Listings []Listing

	// Keep selects relevant items. nil keeps everything.
	Keep pagination.Predicate

	// Extract turns kept items into records.
	Extract pagination.Extractor

	// Walk is the walker configuration applied to every listing. Its Name
	// is replaced per listing.
	Walk pagination.Config

	// Detail enables the detail phase when set.
	Detail enrich.DetailSource

	// Enrich configures the detail phase. Its Name is replaced.
	Enrich enrich.Config

	// Sink receives the final records. nil skips emission.
	Sink sink.Sink
}

// ListingName returns the checkpoint and metrics name of a listing.
func (t Target) ListingName(l Listing) string {
	if l.Name == "" {
		return t.Name
	}
	return t.Name + "." + l.Name
}

// DetailName returns the checkpoint name of the detail phase.
func (t Target) DetailName() string {
	return t.Name + ".detail"
}

// Config holds pipeline configuration.
type Config struct {
	// ListWorkers bounds how many listings are walked at once.
	ListWorkers int
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{ListWorkers: 4}
}

// ListingResult summarizes the walk of one listing.
type ListingResult struct {
	Name       string
	Records    int
	Stats      pagination.Stats
	StopReason pagination.StopReason
	TotalPages int
	Resumed    bool
}

// Result is the outcome of one target run.
type Result struct {
	Target   string
	Records  []record.Record
	Listings []ListingResult
	Detail   enrich.Stats
	Enriched bool
	Duration time.Duration
}

// Pipeline runs crawl targets.
type Pipeline struct {
	config Config
	store  checkpoint.Store
}

// New creates a pipeline. store may be nil to disable checkpoints.
func New(cfg Config, store checkpoint.Store) (*Pipeline, error) {
	if cfg.ListWorkers <= 0 {
		return nil, fmt.Errorf("list workers must be > 0 (got %d)", cfg.ListWorkers)
	}
	return &Pipeline{config: cfg, store: store}, nil
}

// Run executes every phase for t. Partial failures (pages, detail jobs)
// are reflected in the result stats; only fatal errors, cancellation and
// sink failures are returned.
func (p *Pipeline) Run(ctx context.Context, t Target) (*Result, error) {
	if t.Name == "" {
		return nil, fmt.Errorf("target name is required")
	}
	if len(t.Listings) == 0 {
		return nil, fmt.Errorf("target %s: %w", t.Name, ErrNoListings)
	}
	if t.Extract == nil {
		return nil, fmt.Errorf("target %s: extractor is required", t.Name)
	}

	logger := logging.ForTarget("pipeline", t.Name)
	start := time.Now()

	walked, err := p.walkListings(ctx, t)
	if err != nil {
		return nil, err
	}

	res := &Result{Target: t.Name, Listings: make([]ListingResult, len(walked))}
	var combined []record.Record
	for i, w := range walked {
		combined = append(combined, w.Records...)
		res.Listings[i] = ListingResult{
			Name:       t.ListingName(t.Listings[i]),
			Records:    len(w.Records),
			Stats:      w.Stats,
			StopReason: w.StopReason,
			TotalPages: w.TotalPages,
			Resumed:    w.Resumed,
		}
	}
	records := record.Dedupe(combined)
	logger.Info().
		Int("listings", len(walked)).
		Int("records", len(records)).
		Int("duplicates", len(combined)-len(records)).
		Msg("List phase complete")

	if t.Detail != nil && len(records) > 0 {
		cfg := t.Enrich
		if cfg.Workers == 0 {
			cfg = enrich.DefaultConfig("")
			cfg.Merger = t.Enrich.Merger
		}
		cfg.Name = t.DetailName()

		enricher, err := enrich.New(cfg, p.store)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", t.Name, err)
		}
		records, res.Detail, err = enricher.Enrich(ctx, records, t.Detail)
		if err != nil {
			return nil, fmt.Errorf("target %s detail phase: %w", t.Name, err)
		}
		res.Enriched = true
	}

	res.Records = record.Dedupe(records)

	if t.Sink != nil {
		if err := t.Sink.Write(ctx, res.Records); err != nil {
			return nil, fmt.Errorf("target %s emit: %w", t.Name, err)
		}
	}

	res.Duration = time.Since(start)
	logger.Info().
		Int("records", len(res.Records)).
		Int("detail_succeeded", res.Detail.Succeeded).
		Int("detail_failed", res.Detail.Failed).
		Dur("duration", res.Duration).
		Msg("Target complete")
	return res, nil
}

// walkListings walks all listings with a bounded pool and returns their
// results in listing order. The first fatal error cancels the others.
func (p *Pipeline) walkListings(ctx context.Context, t Target) ([]*pagination.Result, error) {
	results := make([]*pagination.Result, len(t.Listings))
	walkers := make([]*pagination.Walker, len(t.Listings))

	for i, l := range t.Listings {
		if l.Source == nil {
			return nil, fmt.Errorf("target %s listing %q: page source is required", t.Name, l.Name)
		}
		cfg := t.Walk
		if cfg == (pagination.Config{}) {
			cfg = pagination.DefaultConfig("")
		}
		cfg.Name = t.ListingName(l)

		walker, err := pagination.NewWalker(cfg, p.store)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", t.Name, err)
		}
		walkers[i] = walker
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.ListWorkers)

	for i, l := range t.Listings {
		keep := t.Keep
		if l.Keep != nil {
			keep = l.Keep
		}
		g.Go(func() error {
			res, err := walkers[i].Walk(gctx, l.Source, keep, t.Extract)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("target %s list phase: %w", t.Name, err)
	}
	return results, nil
}

// RunAll runs targets in order and stops at the first error.
func (p *Pipeline) RunAll(ctx context.Context, targets []Target) ([]*Result, error) {
	results := make([]*Result, 0, len(targets))
	for _, t := range targets {
		res, err := p.Run(ctx, t)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}
