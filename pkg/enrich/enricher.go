// Package enrich fetches per-record detail with a bounded worker pool and
// merges it into the list-phase records.
package enrich

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/crawlkit/pkg/checkpoint"
	"github.com/Sternrassler/crawlkit/pkg/fetch"
	"github.com/Sternrassler/crawlkit/pkg/logging"
	"github.com/Sternrassler/crawlkit/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var detailsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "crawl_details_total",
	Help: "Total detail jobs by result (ok, negative, failed, resumed)",
}, []string{"result"})

// DetailSource fetches the detail fields of one record. found=false with a
// nil error means no detail is available.
type DetailSource interface {
	FetchDetail(ctx context.Context, rec record.Record) (fields map[string]string, found bool, err error)
}

// DetailSourceFunc adapts a function to the DetailSource interface.
type DetailSourceFunc func(ctx context.Context, rec record.Record) (map[string]string, bool, error)

// FetchDetail calls f(ctx, rec).
func (f DetailSourceFunc) FetchDetail(ctx context.Context, rec record.Record) (map[string]string, bool, error) {
	return f(ctx, rec)
}

// Config holds enricher configuration.
type Config struct {
	// Name identifies the detail phase checkpoint.
	Name string

	// Workers bounds the number of in-flight detail fetches.
	Workers int

	// CheckpointEvery saves progress every N completed jobs.
	CheckpointEvery int

	// ProgressEvery logs progress every N completed jobs.
	ProgressEvery int

	// Merger combines detail fields into records. nil uses record.DefaultMerger.
	Merger *record.Merger
}

// DefaultConfig returns the default enricher configuration.
func DefaultConfig(name string) Config {
	return Config{
		Name:            name,
		Workers:         8,
		CheckpointEvery: 200,
		ProgressEvery:   50,
	}
}

// Stats counts detail jobs.
type Stats struct {
	Attempted int
	Succeeded int
	Skipped   int // negative results
	Failed    int
	Resumed   int // already completed in a previous run
}

// Enricher runs the detail phase.
type Enricher struct {
	config Config
	store  checkpoint.Store
	merger *record.Merger
	logger zerolog.Logger
}

// New creates an enricher. store may be nil to disable checkpoints.
func New(cfg Config, store checkpoint.Store) (*Enricher, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("enricher name is required")
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("workers must be > 0 (got %d)", cfg.Workers)
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = 200
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = 50
	}
	merger := cfg.Merger
	if merger == nil {
		merger = record.DefaultMerger()
	}

	return &Enricher{
		config: cfg,
		store:  store,
		merger: merger,
		logger: logging.ForTarget("enricher", cfg.Name),
	}, nil
}

// job is the in-flight state of one detail phase.
type job struct {
	mu        sync.Mutex
	records   []record.Record
	positions map[string][]int
	completed map[string]bool
	done      []string
	stats     Stats
	sinceSave int
}

// Enrich fetches detail for every distinct key in records and returns the
// merged records in input order. Per-record failures are logged and
// counted; only an expired session or cancellation returns an error.
func (e *Enricher) Enrich(ctx context.Context, records []record.Record, src DetailSource) ([]record.Record, Stats, error) {
	if src == nil {
		return nil, Stats{}, fmt.Errorf("detail source is required")
	}
	start := time.Now()

	j := &job{
		records:   make([]record.Record, len(records)),
		positions: make(map[string][]int, len(records)),
		completed: make(map[string]bool),
	}
	var keys []string
	for i, r := range records {
		j.records[i] = r.Clone()
		if r.Key == "" {
			continue
		}
		if _, ok := j.positions[r.Key]; !ok {
			keys = append(keys, r.Key)
		}
		j.positions[r.Key] = append(j.positions[r.Key], i)
	}

	e.restore(ctx, j)

	e.logger.Info().
		Int("records", len(keys)).
		Int("resumed", len(j.done)).
		Int("workers", e.config.Workers).
		Msg("Starting detail phase")

	// Pending jobs are fixed before any worker starts; workers own
	// j.completed from here on.
	var pending []record.Record
	for _, key := range keys {
		if j.completed[key] {
			j.stats.Resumed++
			detailsTotal.WithLabelValues("resumed").Inc()
			continue
		}
		pending = append(pending, j.records[j.positions[key][0]].Clone())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Workers)

	for _, base := range pending {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// Not-yet-started jobs are dropped once the phase is cancelled.
			if err := gctx.Err(); err != nil {
				return err
			}
			return e.runJob(gctx, j, src, base)
		})
	}

	if err := g.Wait(); err != nil {
		e.save(ctx, j)
		if ctxErr := ctx.Err(); ctxErr != nil && !fetch.IsFatal(err) {
			return j.records, j.stats, fmt.Errorf("detail phase %s cancelled: %w", e.config.Name, ctxErr)
		}
		return j.records, j.stats, fmt.Errorf("detail phase %s: %w", e.config.Name, err)
	}

	if e.store != nil {
		if err := e.store.Clear(ctx, e.config.Name); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to clear checkpoint")
		}
	}

	e.logger.Info().
		Int("attempted", j.stats.Attempted).
		Int("succeeded", j.stats.Succeeded).
		Int("skipped", j.stats.Skipped).
		Int("failed", j.stats.Failed).
		Int("resumed", j.stats.Resumed).
		Dur("duration", time.Since(start)).
		Msg("Detail phase complete")

	return j.records, j.stats, nil
}

func (e *Enricher) runJob(ctx context.Context, j *job, src DetailSource, base record.Record) error {
	fields, found, err := src.FetchDetail(ctx, base)
	if err != nil {
		if fetch.IsFatal(err) {
			e.logger.Error().Err(err).Str("key", base.Key).Msg("Session expired, aborting detail phase")
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.stats.Attempted++
	switch {
	case err != nil:
		// Not marked completed so a resumed run retries it.
		j.stats.Failed++
		detailsTotal.WithLabelValues("failed").Inc()
		e.logger.Warn().Err(err).Str("key", base.Key).Msg("Detail fetch failed, skipping record")
	case !found:
		j.stats.Skipped++
		detailsTotal.WithLabelValues("negative").Inc()
		e.logger.Debug().Str("key", base.Key).Msg("No detail available")
		j.markDone(base.Key)
	default:
		for _, pos := range j.positions[base.Key] {
			e.merger.MergeInto(&j.records[pos], fields)
		}
		j.stats.Succeeded++
		detailsTotal.WithLabelValues("ok").Inc()
		j.markDone(base.Key)
	}

	if j.stats.Attempted%e.config.ProgressEvery == 0 {
		e.logger.Info().
			Int("attempted", j.stats.Attempted).
			Int("succeeded", j.stats.Succeeded).
			Int("skipped", j.stats.Skipped).
			Int("failed", j.stats.Failed).
			Msg("Detail progress")
	}

	j.sinceSave++
	if j.sinceSave >= e.config.CheckpointEvery {
		e.saveLocked(ctx, j)
	}
	return nil
}

func (j *job) markDone(key string) {
	j.completed[key] = true
	j.done = append(j.done, key)
}

// restore applies a previous run's checkpoint: completed keys are skipped
// and their merged records reused.
func (e *Enricher) restore(ctx context.Context, j *job) {
	if e.store == nil {
		return
	}
	state, err := e.store.Load(ctx, e.config.Name)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Failed to load checkpoint, starting fresh")
		return
	}
	if state.IsEmpty() {
		return
	}

	saved := make(map[string]record.Record, len(state.Records))
	for _, r := range state.Records {
		if _, ok := saved[r.Key]; !ok {
			saved[r.Key] = r
		}
	}
	for _, key := range state.Completed {
		positions, ok := j.positions[key]
		if !ok || j.completed[key] {
			continue
		}
		if r, ok := saved[key]; ok {
			for _, pos := range positions {
				e.merger.MergeInto(&j.records[pos], r.Fields)
			}
		}
		j.markDone(key)
	}
	e.logger.Info().Int("completed", len(j.done)).Msg("Resuming detail phase from checkpoint")
}

func (e *Enricher) save(ctx context.Context, j *job) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e.saveLocked(ctx, j)
}

func (e *Enricher) saveLocked(ctx context.Context, j *job) {
	j.sinceSave = 0
	if e.store == nil {
		return
	}

	state := checkpoint.State{
		Count:     len(j.done),
		Records:   make([]record.Record, 0, len(j.done)),
		Completed: append([]string(nil), j.done...),
	}
	for _, key := range j.done {
		state.Records = append(state.Records, j.records[j.positions[key][0]].Clone())
	}

	if err := e.store.Save(context.WithoutCancel(ctx), e.config.Name, state); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to save checkpoint")
	}
}
