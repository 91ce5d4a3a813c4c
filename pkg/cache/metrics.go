package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawl_cache_hits_total",
		Help: "Payload cache hits by state (fresh, stale)",
	}, []string{"state"})

	missesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawl_cache_misses_total",
		Help: "Payload cache misses",
	})

	notModifiedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawl_cache_not_modified_total",
		Help: "Stale entries revalidated by a 304 Not Modified",
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawl_cache_errors_total",
		Help: "Payload cache operation errors by operation",
	}, []string{"operation"})
)
