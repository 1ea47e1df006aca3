package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chartfeed",
			Subsystem: "api",
			Name:      "latency_seconds",
			Help:      "Latency of chart feed endpoints",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	APIErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chartfeed",
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Errors by chart feed endpoint",
		},
		[]string{"endpoint", "code"},
	)

	CandlesServed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chartfeed",
			Subsystem: "api",
			Name:      "candles_served_total",
			Help:      "Candles returned to clients",
		},
		[]string{"endpoint"},
	)

	RateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chartfeed",
			Subsystem: "api",
			Name:      "rate_limited_total",
			Help:      "Near-edge requests rejected by the per-session limiter",
		},
	)
)

// Register adds the API collectors to reg once; nil uses the default registerer.
func Register(reg prometheus.Registerer) {
	once.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(APILatency, APIErrors, CandlesServed, RateLimited)
	})
}
