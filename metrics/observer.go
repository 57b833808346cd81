// Package metrics exports cache operations as Prometheus metrics.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/goforj/forumcache/cachecore"
)

// Observer records cache operations. It satisfies forumcache.Observer.
type Observer struct {
	ops      *prometheus.CounterVec
	hits     *prometheus.CounterVec
	misses   *prometheus.CounterVec
	errors   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewObserver registers the cache metrics under namespace with reg. A nil
// reg uses prometheus.DefaultRegisterer.
func NewObserver(reg prometheus.Registerer, namespace string) *Observer {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	labels := []string{"op", "driver"}
	return &Observer{
		ops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "operations_total",
			Help:      "Cache operations by operation and driver",
		}, labels),
		hits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache reads answered from the cache",
		}, []string{"driver"}),
		misses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache reads that found nothing",
		}, []string{"driver"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Cache operations that degraded because of a backend error",
		}, labels),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "operation_duration_seconds",
			Help:      "Cache operation latency",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, labels),
	}
}

// OnCacheOp implements forumcache.Observer.
func (o *Observer) OnCacheOp(_ context.Context, op string, _ string, hit bool, err error, dur time.Duration, driver cachecore.DriverID) {
	d := string(driver)
	o.ops.WithLabelValues(op, d).Inc()
	o.duration.WithLabelValues(op, d).Observe(dur.Seconds())
	if err != nil {
		o.errors.WithLabelValues(op, d).Inc()
	}
	if op == "get" {
		if hit {
			o.hits.WithLabelValues(d).Inc()
		} else {
			o.misses.WithLabelValues(d).Inc()
		}
	}
}
