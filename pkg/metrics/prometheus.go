package metrics

import (
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus implements Collector on top of a prometheus registry.
// Metrics are created lazily on first observation; labels are attached
// as constant labels, so the same name with different label values
// yields distinct series.
type Prometheus struct {
	reg prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]prometheus.Counter
	gauges     map[string]prometheus.Gauge
	histograms map[string]prometheus.Histogram
}

func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Prometheus{
		reg:        reg,
		counters:   make(map[string]prometheus.Counter),
		gauges:     make(map[string]prometheus.Gauge),
		histograms: make(map[string]prometheus.Histogram),
	}
}

func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}

func (p *Prometheus) IncCounter(name string, labels map[string]string, delta float64) {
	key := seriesKey(name, labels)

	p.mu.Lock()
	c, ok := p.counters[key]
	if !ok {
		c = prometheus.NewCounter(prometheus.CounterOpts{
			Name:        name,
			ConstLabels: prometheus.Labels(labels),
		})
		p.reg.MustRegister(c)
		p.counters[key] = c
	}
	p.mu.Unlock()

	c.Add(delta)
}

func (p *Prometheus) SetGauge(name string, labels map[string]string, value float64) {
	key := seriesKey(name, labels)

	p.mu.Lock()
	g, ok := p.gauges[key]
	if !ok {
		g = prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        name,
			ConstLabels: prometheus.Labels(labels),
		})
		p.reg.MustRegister(g)
		p.gauges[key] = g
	}
	p.mu.Unlock()

	g.Set(value)
}

func (p *Prometheus) ObserveHistogram(name string, labels map[string]string, value float64) {
	key := seriesKey(name, labels)

	p.mu.Lock()
	h, ok := p.histograms[key]
	if !ok {
		h = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        name,
			ConstLabels: prometheus.Labels(labels),
		})
		p.reg.MustRegister(h)
		p.histograms[key] = h
	}
	p.mu.Unlock()

	h.Observe(value)
}
