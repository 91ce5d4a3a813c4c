// Package metrics exposes the Prometheus metrics of the crawl engine.
// The collectors themselves are registered with promauto in the packages
// that update them (fetch, ratelimit, cache, checkpoint, pagination, enrich).
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Gatherer is the gatherer served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Names lists every crawl metric family.
var Names = []string{
	// pkg/fetch
	"crawl_requests_total",
	"crawl_request_duration_seconds",
	"crawl_errors_total",
	"crawl_retries_total",
	"crawl_retry_backoff_seconds",
	"crawl_retry_exhausted_total",
	// pkg/ratelimit
	"crawl_ratelimit_tokens",
	"crawl_ratelimit_wait_seconds",
	// pkg/cache
	"crawl_cache_hits_total",
	"crawl_cache_misses_total",
	"crawl_cache_not_modified_total",
	"crawl_cache_errors_total",
	// pkg/checkpoint
	"crawl_checkpoint_saves_total",
	"crawl_checkpoint_errors_total",
	// pkg/pagination
	"crawl_pages_total",
	// pkg/enrich
	"crawl_details_total",
}

// Handler returns the /metrics handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Example queries:
//
//   # Page yield per listing
//   sum by (listing, result) (rate(crawl_pages_total[5m]))
//
//   # Throttling pressure
//   rate(crawl_retries_total{error_class="rate_limit"}[5m])
//
//   # Detail failure ratio
//   rate(crawl_details_total{result="failed"}[5m]) / rate(crawl_details_total[5m])
//
//   # P95 request latency per boundary
//   histogram_quantile(0.95, sum by (le, boundary) (rate(crawl_request_duration_seconds_bucket[5m])))
