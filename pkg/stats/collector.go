package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports the counters of a Stats as Prometheus metrics. Values
// are read from a snapshot on every scrape.
type Collector struct {
	stats   *Stats
	balance *prometheus.Desc
	total   *prometheus.Desc
	err     *prometheus.Desc
	dropped *prometheus.Desc
}

// NewCollector creates a collector for s under the given metric namespace
func NewCollector(s *Stats, namespace string) *Collector {
	labels := []string{"slice", "key"}
	return &Collector{
		stats: s,
		balance: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "calls", "in_flight"),
			"Calls routed and not yet answered.",
			labels, nil),
		total: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "calls", "total"),
			"Calls routed.",
			labels, nil),
		err: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "calls", "errors_total"),
			"Replies carrying an error.",
			labels, nil),
		dropped: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "broker", "dropped_total"),
			"Lines discarded by the broker.",
			[]string{"reason"}, nil),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.balance
	ch <- c.total
	ch <- c.err
	ch <- c.dropped
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.stats.Snapshot()
	for _, slice := range Slices {
		for key, v := range snap.Balance.slice(slice) {
			ch <- prometheus.MustNewConstMetric(c.balance, prometheus.GaugeValue, float64(v), string(slice), key)
		}
		for key, v := range snap.Total.slice(slice) {
			ch <- prometheus.MustNewConstMetric(c.total, prometheus.CounterValue, float64(v), string(slice), key)
		}
		for key, v := range snap.Err.slice(slice) {
			ch <- prometheus.MustNewConstMetric(c.err, prometheus.CounterValue, float64(v), string(slice), key)
		}
	}
	for reason, v := range snap.Dropped {
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(v), reason)
	}
}
