package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	reasonExpired = "expired"
	reasonFull    = "full"
)

var (
	metricHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "greendonut",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total number of cache hits.",
	})

	metricMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "greendonut",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total number of cache misses.",
	})

	metricEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "greendonut",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Total number of entries evicted, by reason.",
	}, []string{"reason"})
)
