package stats

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

var liveQuantiles = []float64{0.5, 0.9, 0.95, 0.99}

// Collector exposes a Registry to Prometheus. It is an unchecked collector:
// metric names appear as sessions create them, so nothing is described up
// front.
type Collector struct {
	reg       *Registry
	namespace string
}

func NewCollector(reg *Registry, namespace string) *Collector {
	return &Collector{reg: reg, namespace: namespace}
}

func (c *Collector) Describe(chan<- *prometheus.Desc) {}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.reg.mu.RLock()
	counters := make([]*Counter, 0, len(c.reg.counters))
	for _, v := range c.reg.counters {
		counters = append(counters, v)
	}
	rates := make([]*Rate, 0, len(c.reg.rates))
	for _, v := range c.reg.rates {
		rates = append(rates, v)
	}
	dists := make([]*Distribution, 0, len(c.reg.dists))
	for _, v := range c.reg.dists {
		dists = append(dists, v)
	}
	c.reg.mu.RUnlock()

	// counters double as gauges, so they are exported as such
	for _, m := range counters {
		desc := prometheus.NewDesc(c.fqName(m.name), "syncq counter "+m.name, nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(m.Value()))
	}

	for _, m := range rates {
		v := m.Value()
		desc := prometheus.NewDesc(c.fqName(m.name), "syncq rate "+m.name, nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v.Rate)
	}

	for _, m := range dists {
		count, sum, _, _ := m.Totals()
		quantiles := make(map[float64]float64, len(liveQuantiles))
		for _, q := range liveQuantiles {
			quantiles[q] = m.LiveQuantile(q * 100)
		}
		desc := prometheus.NewDesc(c.fqName(m.name), "syncq distribution "+m.name+" (ms)", nil, nil)
		ch <- prometheus.MustNewConstSummary(desc, count, sum, quantiles)
	}
}

func (c *Collector) fqName(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, name)
	return prometheus.BuildFQName(c.namespace, "", clean)
}
