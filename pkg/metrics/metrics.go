// Package metrics exports ring statistics to Prometheus. Values are read from
// the ring at scrape time, so nothing is added to the push or pop path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/i5heu/GoMPSCRing/pkg/epochring"
)

// StatsSource is anything that can report ring statistics, such as a
// Producer, a Consumer or a Queue.
type StatsSource interface {
	Stats() epochring.Stats
}

type metric struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	value     func(epochring.Stats) float64
}

// Collector is a prometheus.Collector for one ring.
type Collector struct {
	src     StatsSource
	metrics []metric
}

// NewCollector returns a collector whose metrics are named
// <namespace>_ring_<metric> and carry a constant queue=name label.
func NewCollector(namespace, name string, src StatsSource) *Collector {
	labels := prometheus.Labels{"queue": name}
	desc := func(metricName, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "ring", metricName), help, nil, labels)
	}

	return &Collector{
		src: src,
		metrics: []metric{
			{desc("capacity", "Number of slots in the ring."), prometheus.GaugeValue,
				func(s epochring.Stats) float64 { return float64(s.Capacity) }},
			{desc("used_slots", "Published values waiting for the consumer."), prometheus.GaugeValue,
				func(s epochring.Stats) float64 { return float64(s.Used()) }},
			{desc("epoch", "Current shared epoch."), prometheus.GaugeValue,
				func(s epochring.Stats) float64 { return float64(s.Epoch) }},
			{desc("published_total", "Values published by producers."), prometheus.CounterValue,
				func(s epochring.Stats) float64 { return float64(s.Tail) }},
			{desc("consumed_total", "Values popped by the consumer."), prometheus.CounterValue,
				func(s epochring.Stats) float64 { return float64(s.Head) }},
			{desc("push_full_total", "Push calls rejected because the ring was full."), prometheus.CounterValue,
				func(s epochring.Stats) float64 { return float64(s.PushFull) }},
			{desc("claim_failures_total", "Slots skipped while claiming."), prometheus.CounterValue,
				func(s epochring.Stats) float64 { return float64(s.ClaimFailures) }},
			{desc("claim_waits_total", "Claim retries on a slot still settling from the previous lap."), prometheus.CounterValue,
				func(s epochring.Stats) float64 { return float64(s.ClaimWaits) }},
			{desc("epoch_advances_total", "Times a producer advanced the shared epoch."), prometheus.CounterValue,
				func(s epochring.Stats) float64 { return float64(s.EpochAdvances) }},
			{desc("pop_empty_total", "Pop calls that found the ring empty."), prometheus.CounterValue,
				func(s epochring.Stats) float64 { return float64(s.PopEmpty) }},
		},
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.valueType, m.value(s))
	}
}
