package metrics

import (
	"net/http"

	"beatrelay/internal/microservices/tcp"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a registry preloaded with the Go runtime and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus text format
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Collector exports dispatcher activity to Prometheus
type Collector struct {
	messages          *prometheus.CounterVec
	dispatchDuration  *prometheus.HistogramVec
	connectionsTotal  prometheus.CounterFunc
	connectionsActive prometheus.GaugeFunc
}

// NewCollector builds the collectors and registers them on reg
func NewCollector(reg prometheus.Registerer, manager *tcp.ConnectionManager) (*Collector, error) {
	c := &Collector{
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "beatrelay",
				Name:      "messages_total",
				Help:      "BEAT messages dispatched, by outcome.",
			},
			[]string{"outcome"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "beatrelay",
				Name:      "dispatch_duration_seconds",
				Help:      "Time spent parsing and applying one message.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
			[]string{"outcome"},
		),
		connectionsTotal: prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: "beatrelay",
				Name:      "connections_total",
				Help:      "Peers admitted since start.",
			},
			func() float64 { return float64(manager.Accepted()) },
		),
		connectionsActive: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "beatrelay",
				Name:      "connections_active",
				Help:      "Peers whose reader is running.",
			},
			func() float64 { return float64(manager.Count()) },
		),
	}

	for _, col := range []prometheus.Collector{c.messages, c.dispatchDuration, c.connectionsTotal, c.connectionsActive} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Observe implements tcp.Observer
func (c *Collector) Observe(rec tcp.Record) {
	outcome := string(rec.Outcome)
	c.messages.WithLabelValues(outcome).Inc()
	c.dispatchDuration.WithLabelValues(outcome).Observe(rec.Duration.Seconds())
}
