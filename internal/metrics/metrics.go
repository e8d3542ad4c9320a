// Package metrics exposes Prometheus counters and histograms for the
// cache and worker pool. Wiring it in is optional: a nil *Registry
// (the zero value's pointer) makes every recording method a no-op, so
// callers never need to branch on whether metrics are enabled.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the collectors this project records against. It is
// safe to use as a nil receiver: every method degrades to a no-op so
// callers don't need to check whether metrics are enabled.
type Registry struct {
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	cacheEvictions  prometheus.Counter
	cacheBytesTotal prometheus.Gauge
	conversions     prometheus.Counter
	conversionFails prometheus.Counter
	conversionTime  prometheus.Histogram
}

// New creates a Registry and registers its collectors against reg.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fuse_img2heic",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache lookups that returned a valid entry.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fuse_img2heic",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache lookups that found nothing usable.",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fuse_img2heic",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Cache files removed by the LRU evictor.",
		}),
		cacheBytesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fuse_img2heic",
			Subsystem: "cache",
			Name:      "bytes",
			Help:      "Total bytes on disk across all cache entries, as of the last eviction sweep.",
		}),
		conversions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fuse_img2heic",
			Subsystem: "worker",
			Name:      "conversions_total",
			Help:      "Codec invocations that completed successfully.",
		}),
		conversionFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fuse_img2heic",
			Subsystem: "worker",
			Name:      "conversion_failures_total",
			Help:      "Codec invocations that returned an error.",
		}),
		conversionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fuse_img2heic",
			Subsystem: "worker",
			Name:      "conversion_seconds",
			Help:      "Wall-clock duration of codec invocations.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(r.cacheHits, r.cacheMisses, r.cacheEvictions, r.cacheBytesTotal,
		r.conversions, r.conversionFails, r.conversionTime)
	return r
}

func (r *Registry) CacheHit() {
	if r == nil {
		return
	}
	r.cacheHits.Inc()
}

func (r *Registry) CacheMiss() {
	if r == nil {
		return
	}
	r.cacheMisses.Inc()
}

func (r *Registry) CacheEvicted(n int) {
	if r == nil {
		return
	}
	r.cacheEvictions.Add(float64(n))
}

func (r *Registry) CacheBytes(total int64) {
	if r == nil {
		return
	}
	r.cacheBytesTotal.Set(float64(total))
}

func (r *Registry) ConversionDone(seconds float64, err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.conversionFails.Inc()
		return
	}
	r.conversions.Inc()
	r.conversionTime.Observe(seconds)
}

// Handler returns an http.Handler serving the collectors registered
// against reg in the Prometheus text exposition format.
func Handler(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ListenAndServe blocks serving metrics at addr until ctx is cancelled or
// the listener fails outright. Callers run it in its own goroutine.
func ListenAndServe(ctx context.Context, addr string, reg prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		return err
	}
}
