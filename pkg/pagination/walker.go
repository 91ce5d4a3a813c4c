package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/crawlkit/pkg/checkpoint"
	"github.com/Sternrassler/crawlkit/pkg/fetch"
	"github.com/Sternrassler/crawlkit/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "crawl_pages_total",
	Help: "Total listing pages by listing and result (ok, failed, skipped)",
}, []string{"listing", "result"})

// StopReason tells why a walk ended.
type StopReason string

const (
	// StopExhausted means the last known page was reached.
	StopExhausted StopReason = "exhausted"

	// StopZeroStreak means the consecutive-empty-page threshold was reached.
	StopZeroStreak StopReason = "zero_streak"

	// StopEndOfData means a page without raw items ended a listing of unknown length.
	StopEndOfData StopReason = "end_of_data"
)

// Config holds walker configuration.
type Config struct {
	// Name identifies the listing in logs, metrics and the checkpoint.
	Name string

	// StartPage is the first page index (1-based).
	StartPage int

	// MaxPages fixes the page count. 0 discovers it.
	MaxPages int

	// PageSize converts an upstream item count into a page count.
	PageSize int

	// ZeroStreakStop is the number of consecutive pages without in-range
	// items that ends the walk. 0 disables early termination.
	ZeroStreakStop int

	// Workers is the number of concurrent page fetches. 1 walks sequentially.
	Workers int

	// CheckpointEvery saves progress every N completed pages. 0 saves only
	// when a walk is interrupted.
	CheckpointEvery int

	// SanityCeiling rejects discovered page counts at or above it.
	SanityCeiling int

	// FallbackPages bounds a walk whose page count is unknown or implausible.
	FallbackPages int

	// ProgressEvery logs progress every N completed pages.
	ProgressEvery int
}

// DefaultConfig returns the default walker configuration for a listing.
func DefaultConfig(name string) Config {
	return Config{
		Name:            name,
		StartPage:       1,
		ZeroStreakStop:  3,
		Workers:         1,
		CheckpointEvery: 10,
		SanityCeiling:   5000,
		FallbackPages:   1100,
		ProgressEvery:   50,
	}
}

// Stats counts what happened during a walk.
type Stats struct {
	PagesAttempted int
	PagesSucceeded int
	PagesFailed    int
	PagesSkipped   int
	ItemsSeen      int
	ItemsMatched   int
	ItemsFiltered  int
}

// Result is the outcome of a completed walk.
type Result struct {
	Records    []record.Record
	State      checkpoint.State
	Stats      Stats
	StopReason StopReason
	TotalPages int
	Resumed    bool
}

// Walker traverses one paginated listing.
type Walker struct {
	config Config
	store  checkpoint.Store
	logger zerolog.Logger
}

// NewWalker creates a walker. store may be nil to disable checkpoints.
func NewWalker(cfg Config, store checkpoint.Store) (*Walker, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("walker name is required")
	}
	if cfg.ZeroStreakStop < 0 {
		return nil, fmt.Errorf("zero_streak_stop must be >= 0 (got %d)", cfg.ZeroStreakStop)
	}
	if cfg.StartPage <= 0 {
		cfg.StartPage = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.SanityCeiling <= 0 {
		cfg.SanityCeiling = 5000
	}
	if cfg.FallbackPages <= 0 {
		cfg.FallbackPages = 1100
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = 50
	}

	return &Walker{
		config: cfg,
		store:  store,
		logger: log.With().Str("component", "walker").Str("listing", cfg.Name).Logger(),
	}, nil
}

// pageOutcome is the processed result of one page.
type pageOutcome struct {
	page     int
	result   PageResult
	records  []record.Record
	filtered int
	err      error // isolated page failure
	fatal    error // ends the walk
	skipped  bool
}

// run is the mutable state of one walk. It is only touched by the
// goroutine that calls Walk.
type run struct {
	state     checkpoint.State
	done      map[int]bool
	stats     Stats
	sinceSave int
}

// Walk traverses src, keeping items accepted by keep (nil keeps all) and
// converted by extract.
func (w *Walker) Walk(ctx context.Context, src PageSource, keep Predicate, extract Extractor) (*Result, error) {
	if src == nil || extract == nil {
		return nil, fmt.Errorf("page source and extractor are required")
	}
	start := time.Now()

	r := &run{done: make(map[int]bool)}
	resumed := false
	if w.store != nil {
		state, err := w.store.Load(ctx, w.config.Name)
		if err != nil {
			w.logger.Warn().Err(err).Msg("Failed to load checkpoint, starting fresh")
		} else if !state.IsEmpty() {
			r.state = state
			resumed = true
			w.logger.Info().
				Int("last_page", state.LastPage).
				Int("records", state.Count).
				Int("zero_streak", state.ZeroStreak).
				Msg("Resuming from checkpoint")
		}
	}
	if r.state.LastPage < w.config.StartPage-1 {
		r.state.LastPage = w.config.StartPage - 1
	}

	limit := w.config.MaxPages
	exact := limit > 0
	if !exact {
		limit = w.config.FallbackPages
	}

	first := r.state.LastPage + 1
	w.logger.Info().Int("from_page", first).Int("workers", w.config.Workers).Msg("Starting listing walk")

	var reason StopReason
	var err error
	if w.config.Workers <= 1 {
		reason, limit, err = w.walkSequential(ctx, r, src, keep, extract, first, limit, exact)
	} else {
		reason, limit, err = w.walkConcurrent(ctx, r, src, keep, extract, first, limit, exact)
	}

	if err != nil {
		w.save(ctx, r)
		return nil, err
	}

	if w.store != nil {
		if cerr := w.store.Clear(ctx, w.config.Name); cerr != nil {
			w.logger.Warn().Err(cerr).Msg("Failed to clear checkpoint")
		}
	}

	w.logger.Info().
		Str("stop_reason", string(reason)).
		Int("pages", r.stats.PagesAttempted).
		Int("failed", r.stats.PagesFailed).
		Int("skipped", r.stats.PagesSkipped).
		Int("records", len(r.state.Records)).
		Dur("duration", time.Since(start)).
		Msg("Listing walk complete")

	return &Result{
		Records:    append([]record.Record(nil), r.state.Records...),
		State:      r.state,
		Stats:      r.stats,
		StopReason: reason,
		TotalPages: limit,
		Resumed:    resumed,
	}, nil
}

func (w *Walker) walkSequential(ctx context.Context, r *run, src PageSource, keep Predicate, extract Extractor, page, limit int, exact bool) (StopReason, int, error) {
	resolved := exact
	for ; page <= limit; page++ {
		if err := ctx.Err(); err != nil {
			return "", limit, fmt.Errorf("walk %s cancelled at page %d: %w", w.config.Name, page, err)
		}

		out := w.fetchPage(ctx, src, page, keep, extract)
		if out.fatal != nil {
			return "", limit, fmt.Errorf("walk %s page %d: %w", w.config.Name, page, out.fatal)
		}
		if !resolved && out.err == nil {
			limit, exact = w.resolveTotal(ctx, src, out.result)
			resolved = true
		}

		w.apply(ctx, r, out)

		if stop, reason := w.shouldStop(r, out, exact); stop {
			return reason, limit, nil
		}
	}
	return StopExhausted, limit, nil
}

func (w *Walker) walkConcurrent(ctx context.Context, r *run, src PageSource, keep Predicate, extract Extractor, first, limit int, exact bool) (StopReason, int, error) {
	if first > limit {
		return StopExhausted, limit, nil
	}

	// The first page is fetched alone so the page count is known before the
	// pool starts.
	out := w.fetchPage(ctx, src, first, keep, extract)
	if out.fatal != nil {
		return "", limit, fmt.Errorf("walk %s page %d: %w", w.config.Name, first, out.fatal)
	}
	if !exact && out.err == nil {
		limit, exact = w.resolveTotal(ctx, src, out.result)
	}
	w.apply(ctx, r, out)
	if stop, reason := w.shouldStop(r, out, exact); stop {
		return reason, limit, nil
	}

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pageQueue := make(chan int)
	results := make(chan pageOutcome)
	stop := make(chan struct{})
	var stopAt atomic.Int64
	var stopOnce sync.Once
	halt := func(at int) {
		stopOnce.Do(func() {
			stopAt.Store(int64(at))
			close(stop)
		})
	}

	go func() {
		defer close(pageQueue)
		for p := first + 1; p <= limit; p++ {
			select {
			case pageQueue <- p:
			case <-stop:
				return
			case <-workCtx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < w.config.Workers; i++ {
		wg.Add(1)
		go w.worker(workCtx, i, src, keep, extract, pageQueue, results, &stopAt, &wg)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	reason := StopExhausted
	var fatal error
	for out := range results {
		if out.skipped {
			r.stats.PagesSkipped++
			pagesTotal.WithLabelValues(w.config.Name, "skipped").Inc()
			continue
		}
		if out.fatal != nil {
			if fatal == nil {
				fatal = fmt.Errorf("walk %s page %d: %w", w.config.Name, out.page, out.fatal)
				halt(out.page)
				cancel()
			}
			continue
		}

		// Pages completing after the stop still contribute their records.
		w.apply(ctx, r, out)

		if stopAt.Load() == 0 {
			if stop, why := w.shouldStop(r, out, exact); stop {
				reason = why
				halt(out.page)
			}
		}
	}

	if fatal != nil {
		return "", limit, fatal
	}
	if err := ctx.Err(); err != nil {
		return "", limit, fmt.Errorf("walk %s cancelled: %w", w.config.Name, err)
	}
	return reason, limit, nil
}

// worker fetches pages from the queue. Pages after the stop page are
// reported as skipped without a fetch.
func (w *Walker) worker(ctx context.Context, workerID int, src PageSource, keep Predicate, extract Extractor, pageQueue <-chan int, results chan<- pageOutcome, stopAt *atomic.Int64, wg *sync.WaitGroup) {
	defer wg.Done()
	pagesProcessed := 0

	for page := range pageQueue {
		if at := stopAt.Load(); at > 0 && int64(page) > at {
			results <- pageOutcome{page: page, skipped: true}
			continue
		}
		results <- w.fetchPage(ctx, src, page, keep, extract)
		pagesProcessed++
	}

	if pagesProcessed > 0 {
		w.logger.Debug().
			Int("worker_id", workerID).
			Int("pages_processed", pagesProcessed).
			Msg("Worker completed")
	}
}

// fetchPage fetches and filters one page. Non-fatal errors are isolated.
func (w *Walker) fetchPage(ctx context.Context, src PageSource, page int, keep Predicate, extract Extractor) pageOutcome {
	out := pageOutcome{page: page}

	res, err := src.FetchPage(ctx, page)
	if err != nil {
		if fetch.IsFatal(err) || errors.Is(err, fetch.ErrContextCancelled) || ctx.Err() != nil {
			out.fatal = err
			return out
		}
		out.err = err
		pagesTotal.WithLabelValues(w.config.Name, "failed").Inc()
		w.logger.Warn().Err(err).Int("page", page).Msg("Page fetch failed, counting as empty")
		return out
	}

	out.result = res
	for _, item := range res.Items {
		if keep != nil && !keep(item) {
			out.filtered++
			continue
		}
		rec, ok := extract(item)
		if !ok || rec.Key == "" {
			out.filtered++
			continue
		}
		out.records = append(out.records, rec)
	}

	pagesTotal.WithLabelValues(w.config.Name, "ok").Inc()
	w.logger.Debug().
		Int("page", page).
		Int("items", len(res.Items)).
		Int("matched", len(out.records)).
		Msg("Page processed")
	return out
}

// apply folds a page outcome into the run state.
func (w *Walker) apply(ctx context.Context, r *run, out pageOutcome) {
	r.stats.PagesAttempted++
	if out.err != nil {
		r.stats.PagesFailed++
	} else {
		r.stats.PagesSucceeded++
	}
	r.stats.ItemsSeen += len(out.result.Items)
	r.stats.ItemsMatched += len(out.records)
	r.stats.ItemsFiltered += out.filtered

	r.state.Records = append(r.state.Records, out.records...)
	r.state.Count = len(r.state.Records)
	if len(out.records) == 0 {
		r.state.ZeroStreak++
	} else {
		r.state.ZeroStreak = 0
	}

	// LastPage only advances over a contiguous run of completed pages so a
	// resume never skips a page that was still in flight.
	r.done[out.page] = true
	for r.done[r.state.LastPage+1] {
		r.state.LastPage++
		delete(r.done, r.state.LastPage)
	}
	if r.stats.PagesAttempted%w.config.ProgressEvery == 0 {
		w.logger.Info().
			Int("attempted", r.stats.PagesAttempted).
			Int("succeeded", r.stats.PagesSucceeded).
			Int("failed", r.stats.PagesFailed).
			Int("records", r.state.Count).
			Int("zero_streak", r.state.ZeroStreak).
			Msg("Listing progress")
	}

	r.sinceSave++
	if w.config.CheckpointEvery > 0 && r.sinceSave >= w.config.CheckpointEvery {
		w.save(ctx, r)
	}
}

func (w *Walker) shouldStop(r *run, out pageOutcome, exact bool) (bool, StopReason) {
	if w.config.ZeroStreakStop > 0 && r.state.ZeroStreak >= w.config.ZeroStreakStop {
		w.logger.Info().
			Int("page", out.page).
			Int("zero_streak", r.state.ZeroStreak).
			Msg("Stopping after consecutive pages without in-range items")
		return true, StopZeroStreak
	}
	if !exact && out.err == nil && len(out.result.Items) == 0 {
		w.logger.Info().Int("page", out.page).Msg("Empty page, end of listing")
		return true, StopEndOfData
	}
	return false, ""
}

func (w *Walker) save(ctx context.Context, r *run) {
	r.sinceSave = 0
	if w.store == nil {
		return
	}
	snapshot := r.state
	snapshot.Records = append([]record.Record(nil), r.state.Records...)
	// Saving must survive a cancelled walk context.
	if err := w.store.Save(context.WithoutCancel(ctx), w.config.Name, snapshot); err != nil {
		w.logger.Warn().Err(err).Msg("Failed to save checkpoint")
	}
}

// resolveTotal derives the page count from the first page or a probe.
// exact=false means the returned count is only an upper bound.
func (w *Walker) resolveTotal(ctx context.Context, src PageSource, first PageResult) (int, bool) {
	if first.TotalPages > 0 {
		return w.sanity(first.TotalPages, "total_pages")
	}
	if first.TotalItems > 0 && w.config.PageSize > 0 {
		pages := (first.TotalItems + w.config.PageSize - 1) / w.config.PageSize
		return w.sanity(pages, "total_items")
	}
	if counter, ok := src.(PageCounter); ok {
		pages, err := counter.CountPages(ctx)
		if err != nil {
			w.logger.Warn().Err(err).Msg("Page count probe failed")
		} else if pages > 0 {
			return w.sanity(pages, "probe")
		}
	}
	w.logger.Debug().Int("fallback_pages", w.config.FallbackPages).Msg("Page count unknown")
	return w.config.FallbackPages, false
}

func (w *Walker) sanity(pages int, origin string) (int, bool) {
	if pages >= w.config.SanityCeiling {
		w.logger.Warn().
			Int("pages", pages).
			Str("origin", origin).
			Int("fallback_pages", w.config.FallbackPages).
			Msg("Implausible page count, using fallback")
		return w.config.FallbackPages, false
	}
	w.logger.Info().Int("total_pages", pages).Str("origin", origin).Msg("Page count resolved")
	return pages, true
}
