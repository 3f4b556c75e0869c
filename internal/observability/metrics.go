package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the counters exported by the report service.
type Metrics struct {
	pipelines *prometheus.CounterVec
	attempts  *prometheus.CounterVec
	admission *prometheus.CounterVec
	failures  *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers the counters on registerer. When registerer is also a
// Gatherer (a *prometheus.Registry) the metrics handler serves it; otherwise
// the default gatherer is served.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := registerer.(prometheus.Gatherer); ok {
		gatherer = g
	}

	pipelines := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reportd_pipelines_total",
		Help: "Total pipeline runs by terminal state.",
	}, []string{"state"})
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reportd_engine_attempts_total",
		Help: "Total engine session attempts by outcome.",
	}, []string{"outcome"})
	admission := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reportd_admission_total",
		Help: "Total admission decisions by channel and result.",
	}, []string{"channel", "result"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reportd_failures_total",
		Help: "Total failed pipeline runs by cause.",
	}, []string{"cause"})

	pipelines = registerCounterVec(registerer, pipelines)
	attempts = registerCounterVec(registerer, attempts)
	admission = registerCounterVec(registerer, admission)
	failures = registerCounterVec(registerer, failures)

	return &Metrics{
		pipelines: pipelines,
		attempts:  attempts,
		admission: admission,
		failures:  failures,
		gatherer:  gatherer,
	}
}

// Handler serves the registry the counters were registered on.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) IncPipeline(state string) {
	if m == nil || m.pipelines == nil {
		return
	}
	m.pipelines.WithLabelValues(state).Inc()
}

func (m *Metrics) IncAttempt(outcome string) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncAdmission(channel, result string) {
	if m == nil || m.admission == nil {
		return
	}
	m.admission.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) IncFailure(cause string) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.WithLabelValues(cause).Inc()
}

func registerCounterVec(registerer prometheus.Registerer, counter *prometheus.CounterVec) *prometheus.CounterVec {
	if err := registerer.Register(counter); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return counter
}
