// Package metrics exposes Prometheus collectors for the cache, lock and
// seckill components. A nil *Collector is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Lookup outcomes recorded by the cache client.
const (
	LookupHit         = "hit"
	LookupMiss        = "miss"
	LookupNegativeHit = "negative_hit"
	LookupStale       = "stale"
	LookupLocalHit    = "local_hit"
)

// Collector groups the collectors shared by all components.
type Collector struct {
	cacheLookups *prometheus.CounterVec
	rebuilds     *prometheus.CounterVec
	locks        *prometheus.CounterVec
	reservations *prometheus.CounterVec
	orders       *prometheus.CounterVec
	queueDepth   prometheus.Gauge
}

// NewCollector creates the collectors and registers them on reg.
// A nil reg leaves them unregistered.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "rebuilds_total",
			Help:      "Logical-expiry rebuilds by result.",
		}, []string{"result"}),
		locks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "acquisitions_total",
			Help:      "Distributed lock acquisition attempts by result.",
		}, []string{"result"}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "seckill",
			Name:      "reservations_total",
			Help:      "Seckill reservation attempts by script result.",
		}, []string{"code"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "seckill",
			Name:      "orders_total",
			Help:      "Order materializations by outcome.",
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "seckill",
			Name:      "order_queue_depth",
			Help:      "Order tasks waiting for the materialization worker.",
		}),
	}

	if reg != nil {
		reg.MustRegister(c.cacheLookups, c.rebuilds, c.locks, c.reservations, c.orders, c.queueDepth)
	}
	return c
}

// CacheLookup counts one cache lookup.
func (c *Collector) CacheLookup(strategy, outcome string) {
	if c == nil {
		return
	}
	c.cacheLookups.WithLabelValues(strategy, outcome).Inc()
}

// Rebuild counts one rebuild result ("scheduled", "ok", "failed", "rejected").
func (c *Collector) Rebuild(result string) {
	if c == nil {
		return
	}
	c.rebuilds.WithLabelValues(result).Inc()
}

// LockAttempt counts a lock acquisition attempt.
func (c *Collector) LockAttempt(acquired bool) {
	if c == nil {
		return
	}
	result := "contended"
	if acquired {
		result = "acquired"
	}
	c.locks.WithLabelValues(result).Inc()
}

// Reservation counts a reservation script result.
func (c *Collector) Reservation(code string) {
	if c == nil {
		return
	}
	c.reservations.WithLabelValues(code).Inc()
}

// Order counts a materialization outcome.
func (c *Collector) Order(outcome string) {
	if c == nil {
		return
	}
	c.orders.WithLabelValues(outcome).Inc()
}

// QueueDepth sets the current order queue depth.
func (c *Collector) QueueDepth(n int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(n))
}
