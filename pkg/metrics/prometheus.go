package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	fetches     *prometheus.CounterVec
	evictions   *prometheus.CounterVec
	loads       *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	cachedTiles prometheus.Gauge
}

// New creates a Prometheus recorder registered on reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		cacheHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartfeed_cache_hits_total",
				Help: "Tile cache hits by layer",
			},
			[]string{"layer"},
		),
		cacheMisses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartfeed_cache_misses_total",
				Help: "Tile cache misses by layer",
			},
			[]string{"layer"},
		),
		fetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartfeed_remote_fetches_total",
				Help: "Remote store fetches by kind and result",
			},
			[]string{"kind", "result"},
		),
		evictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartfeed_evictions_total",
				Help: "Evicted tiles or window candles",
			},
			[]string{"kind"},
		),
		loads: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartfeed_window_loads_total",
				Help: "Streaming window page loads by direction and result",
			},
			[]string{"direction", "result"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chartfeed_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		cachedTiles: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "chartfeed_cached_tiles",
				Help: "Decoded tiles currently held in memory",
			},
		),
	}
}

func (r *Recorder) RecordCacheHit(layer string) {
	r.cacheHits.WithLabelValues(layer).Inc()
}

func (r *Recorder) RecordCacheMiss(layer string) {
	r.cacheMisses.WithLabelValues(layer).Inc()
}

func (r *Recorder) RecordFetch(kind, result string) {
	r.fetches.WithLabelValues(kind, result).Inc()
}

func (r *Recorder) RecordEviction(kind string, n int) {
	r.evictions.WithLabelValues(kind).Add(float64(n))
}

func (r *Recorder) RecordLoad(direction, result string) {
	r.loads.WithLabelValues(direction, result).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) SetCachedTiles(n int) {
	r.cachedTiles.Set(float64(n))
}
