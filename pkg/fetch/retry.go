package fetch

import (
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawl_retries_total",
		Help: "Total number of retry attempts by boundary and error class",
	}, []string{"boundary", "error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crawl_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawl_retry_exhausted_total",
		Help: "Total number of fetches that exhausted their attempts",
	}, []string{"boundary"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of network attempts (including the first).
	MaxAttempts int

	// InitialBackoff is the first backoff duration.
	InitialBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// RateLimitMaxBackoff caps the backoff after a 429.
	RateLimitMaxBackoff time.Duration

	// ServerMaxBackoff caps the backoff after a 5xx.
	ServerMaxBackoff time.Duration

	// NetworkMaxBackoff caps the backoff after a transport or decode failure.
	NetworkMaxBackoff time.Duration

	// MaxJitter is the upper bound of the random delay added to every sleep.
	MaxJitter time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:         4,
		InitialBackoff:      500 * time.Millisecond,
		BackoffMultiplier:   2.0,
		RateLimitMaxBackoff: 30 * time.Second,
		ServerMaxBackoff:    20 * time.Second,
		NetworkMaxBackoff:   15 * time.Second,
		MaxJitter:           1 * time.Second,
	}
}

// MaxBackoffFor returns the backoff ceiling for an error class.
func (c RetryConfig) MaxBackoffFor(errorClass ErrorClass) time.Duration {
	switch errorClass {
	case ErrorClassRateLimit:
		return c.RateLimitMaxBackoff
	case ErrorClassServer:
		return c.ServerMaxBackoff
	default:
		return c.NetworkMaxBackoff
	}
}

// backoff tracks the delay between attempts of one fetch. The delay is
// shared across classes and doubled after every retry, capped by the ceiling
// of the class that caused the retry.
type backoff struct {
	config  RetryConfig
	current time.Duration
	jitter  func(max time.Duration) time.Duration
}

func newBackoff(config RetryConfig, jitter func(time.Duration) time.Duration) *backoff {
	if jitter == nil {
		jitter = randomJitter
	}
	return &backoff{config: config, current: config.InitialBackoff, jitter: jitter}
}

// next returns the sleep before the next attempt and advances the backoff.
func (b *backoff) next(o Outcome) time.Duration {
	class := o.Class()
	delay := b.current
	if class == ErrorClassRateLimit && o.RetryAfter > delay {
		delay = o.RetryAfter
	}
	delay += b.jitter(b.config.MaxJitter)

	grown := time.Duration(float64(b.current) * b.config.BackoffMultiplier)
	if ceiling := b.config.MaxBackoffFor(class); grown > ceiling {
		grown = ceiling
	}
	b.current = grown

	retryBackoffSeconds.WithLabelValues(string(class)).Observe(delay.Seconds())
	return delay
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}
