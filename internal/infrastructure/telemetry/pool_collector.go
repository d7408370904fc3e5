package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PoolSnapshot is the pool state exported on /metrics.
type PoolSnapshot struct {
	Size         int
	InUse        int
	Idle         int
	Dialing      int
	MaxSize      int
	Dials        int64
	DialFailures int64
	Evictions    int64
	Hits         int64
	Misses       int64
}

// PoolCollector exposes pool statistics to Prometheus. Values are read at
// scrape time so the pool pays nothing between scrapes.
type PoolCollector struct {
	snapshot func() PoolSnapshot

	size         *prometheus.Desc
	inUse        *prometheus.Desc
	idle         *prometheus.Desc
	dialing      *prometheus.Desc
	maxSize      *prometheus.Desc
	dials        *prometheus.Desc
	dialFailures *prometheus.Desc
	evictions    *prometheus.Desc
	lookups      *prometheus.Desc
}

var _ prometheus.Collector = (*PoolCollector)(nil)

// NewPoolCollector creates a collector reading from snapshot.
func NewPoolCollector(namespace string, snapshot func() PoolSnapshot) *PoolCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "tenant_pool", name), help, labels, nil)
	}
	return &PoolCollector{
		snapshot:     snapshot,
		size:         desc("handles", "Tenant handles currently pooled"),
		inUse:        desc("handles_in_use", "Pooled handles with at least one borrower"),
		idle:         desc("handles_idle", "Pooled handles with no borrowers"),
		dialing:      desc("dials_in_flight", "Tenant dials currently in progress"),
		maxSize:      desc("max_handles", "Configured pool capacity"),
		dials:        desc("dials_total", "Tenant dials attempted"),
		dialFailures: desc("dial_failures_total", "Tenant dials that failed"),
		evictions:    desc("evictions_total", "Handles removed from the pool"),
		lookups:      desc("lookups_total", "Acquire lookups by result", "result"),
	}
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.size
	ch <- c.inUse
	ch <- c.idle
	ch <- c.dialing
	ch <- c.maxSize
	ch <- c.dials
	ch <- c.dialFailures
	ch <- c.evictions
	ch <- c.lookups
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.snapshot()

	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(s.Size))
	ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(s.InUse))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.Idle))
	ch <- prometheus.MustNewConstMetric(c.dialing, prometheus.GaugeValue, float64(s.Dialing))
	ch <- prometheus.MustNewConstMetric(c.maxSize, prometheus.GaugeValue, float64(s.MaxSize))
	ch <- prometheus.MustNewConstMetric(c.dials, prometheus.CounterValue, float64(s.Dials))
	ch <- prometheus.MustNewConstMetric(c.dialFailures, prometheus.CounterValue, float64(s.DialFailures))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(s.Evictions))
	ch <- prometheus.MustNewConstMetric(c.lookups, prometheus.CounterValue, float64(s.Hits), "hit")
	ch <- prometheus.MustNewConstMetric(c.lookups, prometheus.CounterValue, float64(s.Misses), "miss")
}
