package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exports the counter set and live gauges in Prometheus form. It
// reads the same atomics the JSON snapshot reads, so the two surfaces never
// disagree.
type Collector struct {
	m    *Metrics
	deps func() Deps

	pathDesc        *prometheus.Desc
	counterDesc     *prometheus.Desc
	semInFlightDesc *prometheus.Desc
	semMaxDesc      *prometheus.Desc
	idemSizeDesc    *prometheus.Desc
	uptimeDesc      *prometheus.Desc
}

// NewCollector wires a collector over m. deps is called at scrape time so
// gauges reflect the moment of the scrape.
func NewCollector(m *Metrics, deps func() Deps) *Collector {
	return &Collector{
		m:    m,
		deps: deps,
		pathDesc: prometheus.NewDesc("reviewgate_decisions_total",
			"Decisions emitted by decision path.", []string{"path"}, nil),
		counterDesc: prometheus.NewDesc("reviewgate_events_total",
			"Pipeline events by kind.", []string{"kind"}, nil),
		semInFlightDesc: prometheus.NewDesc("reviewgate_permits_in_flight",
			"Permits currently held.", []string{"semaphore"}, nil),
		semMaxDesc: prometheus.NewDesc("reviewgate_permits_max",
			"Permit capacity.", []string{"semaphore"}, nil),
		idemSizeDesc: prometheus.NewDesc("reviewgate_idempotency_entries",
			"Entries currently tracked by the idempotency guard.", nil, nil),
		uptimeDesc: prometheus.NewDesc("reviewgate_uptime_seconds",
			"Seconds since process start.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pathDesc
	ch <- c.counterDesc
	ch <- c.semInFlightDesc
	ch <- c.semMaxDesc
	ch <- c.idemSizeDesc
	ch <- c.uptimeDesc
	c.m.processing.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	deps := c.deps()
	view := c.m.Snapshot(deps)

	for path, count := range view.Paths {
		ch <- prometheus.MustNewConstMetric(c.pathDesc, prometheus.CounterValue, float64(count), path)
	}
	for kind, count := range view.Counters {
		ch <- prometheus.MustNewConstMetric(c.counterDesc, prometheus.CounterValue, float64(count), kind)
	}
	for name, sem := range map[string]SemaphoreView{
		"pipeline": view.Concurrency.Pipeline,
		"llm":      view.Concurrency.LLM,
	} {
		ch <- prometheus.MustNewConstMetric(c.semInFlightDesc, prometheus.GaugeValue, float64(sem.InFlight), name)
		ch <- prometheus.MustNewConstMetric(c.semMaxDesc, prometheus.GaugeValue, float64(sem.Max), name)
	}
	if view.Idempotency.Size >= 0 {
		ch <- prometheus.MustNewConstMetric(c.idemSizeDesc, prometheus.GaugeValue, float64(view.Idempotency.Size))
	}
	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue, view.UptimeSeconds)
	c.m.processing.Collect(ch)
}

// Handler registers the collector on a private registry and returns the
// scrape handler for /metrics/prom.
func Handler(m *Metrics, deps func() Deps) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(m, deps))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
