package greendonut

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricFetches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "greendonut",
		Name:      "fetches_total",
		Help:      "Total number of fetch calls issued to the backend.",
	})

	metricFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "greendonut",
		Name:      "fetch_failures_total",
		Help:      "Total number of fetch calls that returned an error or panicked.",
	})

	metricShapeMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "greendonut",
		Name:      "batch_shape_mismatches_total",
		Help:      "Total number of fetch calls whose result count did not match the requested keys.",
	})

	metricBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "greendonut",
		Name:      "batch_size",
		Help:      "Number of keys per fetch call.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})

	metricPendingKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "greendonut",
		Name:      "pending_keys",
		Help:      "Keys currently buffered awaiting the next dispatch.",
	})
)
