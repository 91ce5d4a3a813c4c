package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/Sternrassler/crawlkit/pkg/cache"
	"github.com/Sternrassler/crawlkit/pkg/checkpoint"
	"github.com/Sternrassler/crawlkit/pkg/config"
	"github.com/Sternrassler/crawlkit/pkg/logging"
	"github.com/Sternrassler/crawlkit/pkg/metrics"
	"github.com/Sternrassler/crawlkit/pkg/pipeline"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// options are the command line flags. Non-empty values override the crawl
// file and the environment.
type options struct {
	ConfigPath string
	From       string
	To         string
	OutputDir  string
	Targets    []string
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var opts options
	var targets string
	fs.StringVar(&opts.ConfigPath, "config", "crawl.yaml", "crawl file")
	fs.StringVar(&opts.From, "from", "", "first day to keep (YYYY-MM-DD)")
	fs.StringVar(&opts.To, "to", "", "last day to keep (YYYY-MM-DD)")
	fs.StringVar(&opts.OutputDir, "out", "", "output directory (overrides OUTPUT_DIR)")
	fs.StringVar(&targets, "targets", "", "comma-separated target names to run (default all)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	for _, name := range strings.Split(targets, ",") {
		if name = strings.TrimSpace(name); name != "" {
			opts.Targets = append(opts.Targets, name)
		}
	}
	return opts, nil
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	logging.Setup(logging.Config{Level: cfg.Env.LogLevel, Pretty: cfg.Env.LogPretty})
	return crawl(ctx, cfg, opts)
}

// crawl runs the configured targets. It is split from run so tests can
// pass a prepared configuration.
func crawl(ctx context.Context, cfg *config.Config, opts options) error {
	applyOverrides(cfg, opts)
	if err := cfg.File.Validate(); err != nil {
		return err
	}
	rng, err := cfg.File.Range()
	if err != nil {
		return err
	}

	targets, err := selectTargets(cfg.File.Targets, opts.Targets)
	if err != nil {
		return err
	}

	if cfg.Env.MetricsAddr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.Env.MetricsAddr); err != nil {
				log.Warn().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	var rdb *redis.Client
	if cfg.Env.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Env.RedisAddr,
			Password: cfg.Env.RedisPassword,
			DB:       cfg.Env.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.Env.RedisAddr, err)
		}
		log.Info().Str("addr", cfg.Env.RedisAddr).Msg("Connected to Redis")
	}

	store, err := newStore(cfg.Env, rdb)
	if err != nil {
		return err
	}

	var payloadCache *cache.Manager
	if rdb != nil {
		payloadCache = cache.NewManager(rdb, cache.Config{
			DefaultTTL:     cfg.Env.CacheTTL,
			StaleRetention: cache.DefaultConfig().StaleRetention,
		})
	}

	b := newBuilder(cfg.Env, rng, payloadCache)
	defer b.Close()

	built := make([]pipeline.Target, 0, len(targets))
	for _, tc := range targets {
		t, err := b.Target(tc)
		if err != nil {
			return fmt.Errorf("target %s: %w", tc.Name, err)
		}
		built = append(built, t)
	}

	p, err := pipeline.New(pipeline.Config{ListWorkers: cfg.Env.ListWorkers}, store)
	if err != nil {
		return err
	}

	log.Info().
		Int("targets", len(built)).
		Str("range", rng.String()).
		Msg("Starting crawl")

	results, err := p.RunAll(ctx, built)
	for _, res := range results {
		log.Info().
			Str("target", res.Target).
			Int("records", len(res.Records)).
			Int("detail_attempted", res.Detail.Attempted).
			Int("detail_succeeded", res.Detail.Succeeded).
			Int("detail_skipped", res.Detail.Skipped).
			Int("detail_failed", res.Detail.Failed).
			Dur("duration", res.Duration).
			Msg("Target summary")
	}
	return err
}

func applyOverrides(cfg *config.Config, opts options) {
	if opts.From != "" {
		cfg.File.From = opts.From
	}
	if opts.To != "" {
		cfg.File.To = opts.To
	}
	if opts.OutputDir != "" {
		cfg.Env.OutputDir = opts.OutputDir
	}
}

func selectTargets(all []config.Target, names []string) ([]config.Target, error) {
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]config.Target, len(all))
	for _, t := range all {
		byName[t.Name] = t
	}
	out := make([]config.Target, 0, len(names))
	for _, name := range names {
		t, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown target %q", name)
		}
		out = append(out, t)
	}
	return out, nil
}

func newStore(env config.Env, rdb *redis.Client) (checkpoint.Store, error) {
	switch env.CheckpointBackend {
	case config.BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis checkpoint backend needs REDIS_ADDR")
		}
		return checkpoint.NewRedisStore(rdb, env.CheckpointTTL), nil
	default:
		return checkpoint.NewFileStore(env.CheckpointDir)
	}
}
