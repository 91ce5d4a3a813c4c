// Package fetch provides the retrying fetcher that every remote call of a
// crawl goes through: rate limiting, response classification, retry with
// backoff and jitter, and an optional payload cache.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/crawlkit/pkg/cache"
	"github.com/Sternrassler/crawlkit/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for fetch operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawl_requests_total",
		Help: "Total remote requests by boundary and status",
	}, []string{"boundary", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crawl_request_duration_seconds",
		Help:    "Fetch duration in seconds by boundary, including retries",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"boundary"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawl_errors_total",
		Help: "Total failed attempts by boundary and error class",
	}, []string{"boundary", "class"})
)

const (
	// DefaultTimeout bounds a single attempt.
	DefaultTimeout = 20 * time.Second

	// DefaultMaxBodyBytes bounds a response body.
	DefaultMaxBodyBytes = 10 * 1024 * 1024

	// DefaultUserAgent is sent when no user agent is configured.
	DefaultUserAgent = "Mozilla/5.0 (compatible; crawlkit/0.1)"
)

// DecodeFunc parses a response body. A decode error is treated as a
// transient failure and retried.
type DecodeFunc func(body []byte) error

// Config holds the fetcher configuration.
type Config struct {
	// Name labels the boundary in logs, metrics and cache keys.
	Name string

	// Limiter gates every network attempt (REQUIRED).
	Limiter *ratelimit.Limiter

	// UserAgent header sent with every request.
	UserAgent string

	// Headers are extra headers sent with every request.
	Headers map[string]string

	// Session decorates requests with credentials (optional).
	Session Session

	// Cache stores successful payloads for reuse across runs (optional).
	Cache *cache.Manager

	// Timeout bounds a single attempt.
	Timeout time.Duration

	// MaxBodyBytes bounds a response body.
	MaxBodyBytes int64

	// MaxIdleConnsPerHost sizes the connection pool shared by the workers.
	MaxIdleConnsPerHost int

	// Retry controls attempts and backoff.
	Retry RetryConfig

	// Classifier maps statuses to outcomes.
	Classifier Classifier
}

// DefaultConfig returns a safe default configuration for a boundary.
func DefaultConfig(name string, limiter *ratelimit.Limiter) Config {
	return Config{
		Name:                name,
		Limiter:             limiter,
		UserAgent:           DefaultUserAgent,
		Timeout:             DefaultTimeout,
		MaxBodyBytes:        DefaultMaxBodyBytes,
		MaxIdleConnsPerHost: 20,
		Retry:               DefaultRetryConfig(),
		Classifier:          DefaultClassifier(),
	}
}

// Fetcher performs remote calls for one boundary.
type Fetcher struct {
	name       string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	cache      *cache.Manager
	session    Session
	config     Config
	logger     zerolog.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

// New creates a new fetcher.
func New(cfg Config) (*Fetcher, error) {
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("max_attempts must be >= 1 (got %d)", cfg.Retry.MaxAttempts)
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Limiter.Name()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 20
	}
	if cfg.Classifier.AuthStatuses == nil && cfg.Classifier.NegativeStatuses == nil {
		cfg.Classifier = DefaultClassifier()
	}

	logger := log.With().Str("component", "fetcher").Str("boundary", cfg.Name).Logger()

	return &Fetcher{
		name: cfg.Name,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        cfg.MaxIdleConnsPerHost * 2,
				MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: cfg.Limiter,
		cache:   cfg.Cache,
		session: cfg.Session,
		config:  cfg,
		logger:  logger,
		sleep:   sleepContext,
		jitter:  randomJitter,
	}, nil
}

// Name returns the boundary name.
func (f *Fetcher) Name() string {
	return f.name
}

// Do fetches rawURL and passes the body to decode (which may be nil).
//
// It returns found=true on success, found=false with a nil error for a
// negative result (403/404-equivalent), and an error for auth expiry
// (wrapping ErrAuthExpired), non-retryable client errors, cancellation and
// exhausted retries (wrapping ErrRetryExhausted).
func (f *Fetcher) Do(ctx context.Context, rawURL string, decode DecodeFunc) (bool, error) {
	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(f.name).Observe(time.Since(startTime).Seconds())
	}()

	key := cache.CacheKey{Boundary: f.name, URL: rawURL}
	var cached *cache.CacheEntry
	if f.cache != nil {
		entry, err := f.cache.Get(ctx, key)
		switch {
		case err == nil && !entry.IsExpired():
			if decode == nil || decode(entry.Data) == nil {
				f.logger.Debug().Str("url", rawURL).Msg("Serving fresh cache entry")
				return true, nil
			}
			_ = f.cache.Delete(ctx, key)
		case err == nil:
			cached = entry
		case !errors.Is(err, cache.ErrCacheMiss):
			f.logger.Warn().Err(err).Str("url", rawURL).Msg("Cache get error")
		}
	}

	bo := newBackoff(f.config.Retry, f.jitter)
	maxAttempts := f.config.Retry.MaxAttempts
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := f.limiter.Acquire(ctx); err != nil {
			return false, fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}

		out := f.attempt(ctx, rawURL, key, cached, decode)

		switch out.Kind {
		case OutcomeSuccess:
			if attempt > 1 {
				f.logger.Info().Str("url", rawURL).Int("attempt", attempt).Msg("Request succeeded after retry")
			}
			return true, nil

		case OutcomeAuthExpired:
			errorsTotal.WithLabelValues(f.name, string(ErrorClassAuth)).Inc()
			f.logger.Error().Str("url", rawURL).Int("status", out.Status).Msg("Session expired")
			return false, &FetchError{
				URL:        rawURL,
				StatusCode: out.Status,
				ErrorClass: ErrorClassAuth,
				Message:    "session expired",
				Err:        ErrAuthExpired,
			}

		case OutcomeClientError:
			if f.config.Classifier.IsNegative(out.Status) {
				f.logger.Debug().Str("url", rawURL).Int("status", out.Status).Msg("No data available")
				return false, nil
			}
			errorsTotal.WithLabelValues(f.name, string(ErrorClassClient)).Inc()
			return false, &FetchError{
				URL:        rawURL,
				StatusCode: out.Status,
				ErrorClass: ErrorClassClient,
				Message:    http.StatusText(out.Status),
				Err:        out.Err,
			}
		}

		class := out.Class()
		errorsTotal.WithLabelValues(f.name, string(class)).Inc()
		lastErr = &FetchError{
			URL:        rawURL,
			StatusCode: out.Status,
			ErrorClass: class,
			Message:    out.Kind.String(),
			Err:        out.Err,
		}

		if attempt >= maxAttempts || !shouldRetry(class) {
			break
		}

		retriesTotal.WithLabelValues(f.name, string(class)).Inc()
		delay := bo.next(out)

		f.logger.Warn().
			Str("url", rawURL).
			Str("error_class", string(class)).
			Int("status", out.Status).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Retrying request after backoff")

		if err := f.sleep(ctx, delay); err != nil {
			f.logger.Warn().Str("url", rawURL).Int("attempt", attempt).Msg("Context cancelled during retry backoff")
			return false, fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
	}

	retryExhaustedTotal.WithLabelValues(f.name).Inc()
	f.logger.Warn().
		Err(lastErr).
		Str("url", rawURL).
		Int("max_attempts", maxAttempts).
		Msg("Retry attempts exhausted")

	return false, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, maxAttempts, lastErr)
}

// attempt performs one network call and classifies its result.
func (f *Fetcher) attempt(ctx context.Context, rawURL string, key cache.CacheKey, cached *cache.CacheEntry, decode DecodeFunc) Outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Outcome{Kind: OutcomeClientError, Err: fmt.Errorf("create request: %w", err)}
	}

	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "application/json, text/html, */*")
	for k, v := range f.config.Headers {
		req.Header.Set(k, v)
	}
	if f.session != nil {
		if err := f.session.Apply(req); err != nil {
			return Outcome{Kind: OutcomeAuthExpired, Err: fmt.Errorf("apply session: %w", err)}
		}
	}
	if cached != nil && cache.ShouldMakeConditionalRequest(cached) {
		cache.AddConditionalHeaders(req, cached)
	}

	f.logger.Debug().Str("url", rawURL).Msg("Executing request")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(f.name, "network_error").Inc()
		return Outcome{Kind: OutcomeTransient, Err: err}
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(f.name, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusNotModified && cached != nil {
		if decode != nil {
			if err := decode(cached.Data); err != nil {
				_ = f.cache.Delete(ctx, key)
				return Outcome{Kind: OutcomeTransient, Status: resp.StatusCode, Err: fmt.Errorf("decode cached payload: %w", err)}
			}
		}
		newExpires := cache.ExpiresFromHeaders(resp.Header, f.cache.DefaultTTL())
		if err := f.cache.UpdateTTL(ctx, key, newExpires); err != nil {
			f.logger.Warn().Err(err).Msg("Failed to update cache TTL")
		}
		f.logger.Debug().Str("url", rawURL).Msg("304 Not Modified - using cache")
		return Outcome{Kind: OutcomeSuccess, Status: resp.StatusCode, Payload: cached.Data}
	}

	kind := f.config.Classifier.Classify(resp.StatusCode)
	if kind != OutcomeSuccess {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		out := Outcome{Kind: kind, Status: resp.StatusCode}
		if kind == OutcomeRateLimited {
			out.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		}
		return out
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodyBytes))
	if err != nil {
		return Outcome{Kind: OutcomeTransient, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if decode != nil {
		if err := decode(body); err != nil {
			return Outcome{Kind: OutcomeTransient, Status: resp.StatusCode, Err: fmt.Errorf("decode: %w", err)}
		}
	}

	if f.cache != nil && resp.StatusCode == http.StatusOK {
		entry, err := cache.ResponseToEntry(resp, body, f.cache.DefaultTTL())
		if err != nil {
			f.logger.Warn().Err(err).Msg("Failed to create cache entry")
		} else if err := f.cache.Set(ctx, key, entry); err != nil {
			f.logger.Warn().Err(err).Msg("Failed to cache response")
		}
	}

	return Outcome{Kind: OutcomeSuccess, Status: resp.StatusCode, Payload: body}
}

// Fetch returns the raw body of rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, bool, error) {
	var payload []byte
	found, err := f.Do(ctx, rawURL, func(body []byte) error {
		payload = body
		return nil
	})
	return payload, found, err
}

// GetJSON fetches rawURL and decodes the JSON body into v.
func (f *Fetcher) GetJSON(ctx context.Context, rawURL string, v any) (bool, error) {
	return f.Do(ctx, rawURL, func(body []byte) error {
		return json.Unmarshal(body, v)
	})
}

// GetText fetches rawURL and returns the body as a string.
func (f *Fetcher) GetText(ctx context.Context, rawURL string) (string, bool, error) {
	body, found, err := f.Fetch(ctx, rawURL)
	return string(body), found, err
}

// Close releases pooled connections.
func (f *Fetcher) Close() error {
	f.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (f *Fetcher) SetHTTPClient(client *http.Client) {
	f.httpClient = client
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
