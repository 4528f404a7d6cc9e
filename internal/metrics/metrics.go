// Package metrics exposes Prometheus collectors for readings, publishes and
// action triggers.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/pinbus/internal/bus"
	"github.com/sweeney/pinbus/internal/control"
)

const namespace = "pinbus"

// Metrics owns a private registry so tests and multiple instances never
// collide on the global one.
type Metrics struct {
	registry  *prometheus.Registry
	readings  *prometheus.CounterVec
	updates   *prometheus.CounterVec
	value     *prometheus.GaugeVec
	publishes *prometheus.CounterVec
	triggers  *prometheus.CounterVec
}

// New registers all collectors, plus Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_readings_total",
			Help:      "Control reads by resulting value.",
		}, []string{"control", "value"}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_updates_total",
			Help:      "ControlUpdate events published per control.",
		}, []string{"control"}),
		value: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "control_value",
			Help:      "Last reading per control: 1 true, 0 false, -1 unknown.",
		}, []string{"control"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_publishes_total",
			Help:      "Bus publishes by topic and result.",
		}, []string{"topic", "result"}),
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_triggers_total",
			Help:      "Action triggers by action and result.",
		}, []string{"action", "result"}),
	}
	m.registry.MustRegister(
		m.readings, m.updates, m.value, m.publishes, m.triggers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveReading implements control.Observer.
func (m *Metrics) ObserveReading(key string, v control.Value, published bool) {
	m.readings.WithLabelValues(key, v.String()).Inc()
	if published {
		m.updates.WithLabelValues(key).Inc()
	}
	switch v {
	case control.True:
		m.value.WithLabelValues(key).Set(1)
	case control.False:
		m.value.WithLabelValues(key).Set(0)
	default:
		m.value.WithLabelValues(key).Set(-1)
	}
}

// ObserveTrigger implements action.Observer.
func (m *Metrics) ObserveTrigger(key string, err error) {
	m.triggers.WithLabelValues(key, result(err)).Inc()
}

// Instrument wraps t so every publish is counted.
func (m *Metrics) Instrument(t bus.Transport) bus.Transport {
	return &instrumented{Transport: t, m: m}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

type instrumented struct {
	bus.Transport
	m *Metrics
}

func (i *instrumented) Publish(topic string, payload []byte) error {
	err := i.Transport.Publish(topic, payload)
	i.m.publishes.WithLabelValues(topic, result(err)).Inc()
	return err
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
