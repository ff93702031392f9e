package pool

import "github.com/prometheus/client_golang/prometheus"

// Collector exports pool Stats as Prometheus metrics.
type Collector struct {
	pool      *Pool
	hits      *prometheus.Desc
	misses    *prometheus.Desc
	evictions *prometheus.Desc
	pooled    *prometheus.Desc
}

// NewCollector creates a collector for p. constLabels may be nil.
func NewCollector(p *Pool, namespace string, constLabels prometheus.Labels) *Collector {
	name := func(n string) string { return prometheus.BuildFQName(namespace, "pool", n) }
	return &Collector{
		pool:      p,
		hits:      prometheus.NewDesc(name("hits_total"), "Acquires served from the free set.", nil, constLabels),
		misses:    prometheus.NewDesc(name("misses_total"), "Acquires that required a new connection.", nil, constLabels),
		evictions: prometheus.NewDesc(name("evictions_total"), "Connections dropped from the pool.", nil, constLabels),
		pooled:    prometheus.NewDesc(name("connections"), "Connections currently owned by the pool.", nil, constLabels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.evictions
	ch <- c.pooled
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Stats()
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(s.Evictions))
	ch <- prometheus.MustNewConstMetric(c.pooled, prometheus.GaugeValue, float64(s.PooledConnections))
}
