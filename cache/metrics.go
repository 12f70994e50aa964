package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fetchcache_hits_total",
	Help: "Total number of cache hits",
}, []string{"component"})

var cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fetchcache_misses_total",
	Help: "Total number of cache misses",
}, []string{"component"})

var sourceLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fetchcache_source_loads_total",
	Help: "Total number of source-of-truth loads, by result",
}, []string{"component", "result"})

var writeFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fetchcache_write_failures_total",
	Help: "Total number of cache writes that failed after a successful load",
}, []string{"component"})

var decodeFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fetchcache_decode_failures_total",
	Help: "Total number of cached entries that could not be decoded and were treated as misses",
}, []string{"component"})

var lockAcquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fetchcache_lock_acquire_total",
	Help: "Total number of lock acquisitions, by result",
}, []string{"component", "result"})

var backendStateChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fetchcache_backend_breaker_transitions_total",
	Help: "Total number of circuit breaker transitions on guarded backends",
}, []string{"backend", "to"})
