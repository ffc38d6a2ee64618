package metrics

import (
	"github.com/cockroachdb/pebble"
	"github.com/prometheus/client_golang/prometheus"
)

// PebbleMetricsSource is implemented by index writers backed by pebble.
type PebbleMetricsSource interface {
	Metrics() *pebble.Metrics
}

// IndexCollector exports storage metrics of the local document index.
type IndexCollector struct {
	src PebbleMetricsSource

	compactions  *prometheus.Desc
	compactDebt  *prometheus.Desc
	memtableSize *prometheus.Desc
	walSize      *prometheus.Desc
	diskUsage    *prometheus.Desc
}

func NewIndexCollector(src PebbleMetricsSource) *IndexCollector {
	return &IndexCollector{
		src: src,
		compactions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "index", "compactions_total"),
			"Compactions performed by the index store.",
			nil, nil,
		),
		compactDebt: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "index", "compaction_debt_bytes"),
			"Estimated bytes pending compaction.",
			nil, nil,
		),
		memtableSize: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "index", "memtable_bytes"),
			"Memtable size.",
			nil, nil,
		),
		walSize: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "index", "wal_bytes"),
			"Live WAL size.",
			nil, nil,
		),
		diskUsage: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "index", "disk_usage_bytes"),
			"Disk space used by the index store.",
			nil, nil,
		),
	}
}

func (c *IndexCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.compactions
	ch <- c.compactDebt
	ch <- c.memtableSize
	ch <- c.walSize
	ch <- c.diskUsage
}

func (c *IndexCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.src.Metrics()
	ch <- prometheus.MustNewConstMetric(c.compactions, prometheus.CounterValue, float64(m.Compact.Count))
	ch <- prometheus.MustNewConstMetric(c.compactDebt, prometheus.GaugeValue, float64(m.Compact.EstimatedDebt))
	ch <- prometheus.MustNewConstMetric(c.memtableSize, prometheus.GaugeValue, float64(m.MemTable.Size))
	ch <- prometheus.MustNewConstMetric(c.walSize, prometheus.GaugeValue, float64(m.WAL.Size))
	ch <- prometheus.MustNewConstMetric(c.diskUsage, prometheus.GaugeValue, float64(m.DiskSpaceUsage()))
}
