// Package metrics exposes execution counters and step latencies in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stepflow"

// Metrics holds the engine collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry     *prom.Registry
	executions   *prom.CounterVec
	stepDuration *prom.HistogramVec
	retries      *prom.CounterVec
	dispatched   *prom.CounterVec
}

func New() *Metrics {
	registry := prom.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		executions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Executions finished, by final status.",
		}, []string{"status"}),
		stepDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step duration including retries, by step type and outcome.",
			Buckets:   prom.ExponentialBuckets(0.005, 4, 10),
		}, []string{"type", "outcome"}),
		retries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "step_retries_total",
			Help:      "Step attempts beyond the first, by step type.",
		}, []string{"type"}),
		dispatched: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Dispatch jobs handled, by result.",
		}, []string{"result"}),
	}

	registry.MustRegister(m.executions, m.stepDuration, m.retries, m.dispatched)

	return m
}

func (m *Metrics) Registry() *prom.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ExecutionFinished(status string) {
	if m == nil {
		return
	}

	m.executions.WithLabelValues(status).Inc()
}

func (m *Metrics) StepFinished(stepType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}

	m.stepDuration.WithLabelValues(stepType, outcome).Observe(duration.Seconds())
}

func (m *Metrics) StepRetried(stepType string) {
	if m == nil {
		return
	}

	m.retries.WithLabelValues(stepType).Inc()
}

func (m *Metrics) Dispatched(result string) {
	if m == nil {
		return
	}

	m.dispatched.WithLabelValues(result).Inc()
}
