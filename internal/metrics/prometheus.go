package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector adapts a Metrics set to a prometheus.Collector so a host
// process can register the engine alongside its own metrics.
type Collector struct {
	metrics *Metrics
	descs   map[string]*prometheus.Desc
}

// NewCollector wraps m as a prometheus.Collector. Counters are exported as
// lsmkv_<name>_total.
func NewCollector(m *Metrics) *Collector {
	names := []string{
		"puts", "gets", "deletes", "get_hits", "get_misses",
		"bytes_written", "bytes_read", "flushes", "compactions", "wal_fsyncs",
	}
	descs := make(map[string]*prometheus.Desc, len(names))
	for _, name := range names {
		descs[name] = prometheus.NewDesc(
			"lsmkv_"+name+"_total",
			"Total number of "+name+" observed by the storage engine.",
			nil, nil,
		)
	}
	return &Collector{metrics: m, descs: descs}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range c.descs {
		ch <- desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.metrics.Snapshot()
	values := map[string]uint64{
		"puts":          snap.Puts,
		"gets":          snap.Gets,
		"deletes":       snap.Deletes,
		"get_hits":      snap.GetHits,
		"get_misses":    snap.GetMisses,
		"bytes_written": snap.BytesWritten,
		"bytes_read":    snap.BytesRead,
		"flushes":       snap.Flushes,
		"compactions":   snap.Compactions,
		"wal_fsyncs":    snap.WALFsyncs,
	}
	for name, value := range values {
		ch <- prometheus.MustNewConstMetric(c.descs[name], prometheus.CounterValue, float64(value))
	}
}
