// Package metrics exports purge scheduler events as Prometheus metrics.
package metrics

import (
	"context"

	"github.com/lucasew/blobpurge/internal/purge"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector turns scheduler events into counters.
// All methods are nil-safe: calls on a nil *Collector are no-ops.
type Collector struct {
	deletedTotal prometheus.Counter
	resumedTotal prometheus.Counter
	pausedTotal  prometheus.Counter

	// running is 1 between a resumed and the following paused event.
	running prometheus.Gauge
}

// New creates the metrics and registers them with reg. If reg is nil the
// metrics are created but not registered.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		deletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blobpurge",
			Name:      "deleted_total",
			Help:      "Total number of blobs deleted by the purge task",
		}),
		resumedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blobpurge",
			Name:      "resumed_total",
			Help:      "Total number of purge cycles started",
		}),
		pausedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blobpurge",
			Name:      "paused_total",
			Help:      "Total number of purge cycles that ended in a pause",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "blobpurge",
			Name:      "running",
			Help:      "Whether a purge cycle is in progress",
		}),
	}

	if reg != nil {
		c.deletedTotal = registerOrReuse(reg, c.deletedTotal).(prometheus.Counter)
		c.resumedTotal = registerOrReuse(reg, c.resumedTotal).(prometheus.Counter)
		c.pausedTotal = registerOrReuse(reg, c.pausedTotal).(prometheus.Counter)
		c.running = registerOrReuse(reg, c.running).(prometheus.Gauge)
	}
	return c
}

func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

// Observe records one event.
func (c *Collector) Observe(ev purge.Event) {
	if c == nil {
		return
	}
	switch ev.Kind {
	case purge.Deleted:
		c.deletedTotal.Inc()
	case purge.Resumed:
		c.resumedTotal.Inc()
		c.running.Set(1)
	case purge.Paused:
		c.pausedTotal.Inc()
		c.running.Set(0)
	}
}

// Run observes events until ctx is done or the channel is closed.
func (c *Collector) Run(ctx context.Context, events <-chan purge.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.Observe(ev)
		}
	}
}
