// Package ratelimit implements token-bucket admission control for a remote
// boundary. Every caller of the boundary shares one Limiter; separate
// boundaries (list endpoint, detail endpoint) use separate Limiters.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for rate limiting.
var (
	tokensAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crawl_ratelimit_tokens",
		Help: "Tokens available in the bucket after the last acquire",
	}, []string{"boundary"})

	acquireWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crawl_ratelimit_wait_seconds",
		Help:    "Time callers spent waiting for a token",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"boundary"})
)

// DefaultPollInterval is how long a waiting caller sleeps between attempts.
const DefaultPollInterval = 10 * time.Millisecond

// Config holds limiter configuration.
type Config struct {
	// Name labels the boundary in logs and metrics (e.g. "list", "detail").
	Name string

	// Capacity is both the bucket size and the refill rate per second.
	Capacity int

	// PollInterval is the sleep between token checks while waiting.
	PollInterval time.Duration
}

// DefaultConfig returns a limiter configuration of 8 requests per second.
func DefaultConfig(name string) Config {
	return Config{
		Name:         name,
		Capacity:     8,
		PollInterval: DefaultPollInterval,
	}
}

// RateBudget is a snapshot of a bucket.
type RateBudget struct {
	Capacity int
	Tokens   float64
	// At is when the snapshot was taken. Tokens includes the refill up to it.
	At time.Time
}

// Limiter is a continuously refilling token bucket. The refill-and-consume
// step is serialized by the bucket's mutex; waiting callers poll with a
// short sleep instead of queueing, so no caller blocks another's wait.
type Limiter struct {
	name   string
	cap    int
	bucket *rate.Limiter
	poll   time.Duration
	logger zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a limiter. The bucket starts full.
func New(cfg Config, logger zerolog.Logger) (*Limiter, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("capacity must be > 0 (got %d)", cfg.Capacity)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}

	return &Limiter{
		name:   cfg.Name,
		cap:    cfg.Capacity,
		bucket: rate.NewLimiter(rate.Limit(cfg.Capacity), cfg.Capacity),
		poll:   cfg.PollInterval,
		logger: logger.With().Str("boundary", cfg.Name).Logger(),
		now:    time.Now,
		sleep:  sleepContext,
	}, nil
}

// Name returns the boundary name.
func (l *Limiter) Name() string {
	return l.name
}

// Acquire blocks until a token is available and consumes it. It never
// rejects; it only returns an error when ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := l.now()
	for {
		if l.TryAcquire() {
			waited := l.now().Sub(start)
			acquireWaitSeconds.WithLabelValues(l.name).Observe(waited.Seconds())
			if waited > time.Second {
				l.logger.Debug().Dur("waited", waited).Msg("Token acquired after wait")
			}
			return nil
		}
		if err := l.sleep(ctx, l.poll); err != nil {
			return fmt.Errorf("acquire token: %w", err)
		}
	}
}

// TryAcquire consumes a token if one is available.
func (l *Limiter) TryAcquire() bool {
	now := l.now()
	if !l.bucket.AllowN(now, 1) {
		return false
	}
	tokensAvailable.WithLabelValues(l.name).Set(l.bucket.TokensAt(now))
	return true
}

// Budget returns the current state of the bucket.
func (l *Limiter) Budget() RateBudget {
	now := l.now()
	return RateBudget{
		Capacity: l.cap,
		Tokens:   l.bucket.TokensAt(now),
		At:       now,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
