// Package metrics exposes Prometheus instruments for demo turns and actions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes used as label values.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Metrics holds the server's collectors on a private registry. A nil
// *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	TurnsTotal       *prometheus.CounterVec
	ActionsTotal     *prometheus.CounterVec
	ActionAttempts   prometheus.Histogram
	DecisionDuration prometheus.Histogram
	SessionActive    prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "demoagent_turns_total",
				Help: "Demo operations handled, by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		ActionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "demoagent_actions_total",
				Help: "Browser actions executed, by action kind and outcome",
			},
			[]string{"action", "outcome"},
		),
		ActionAttempts: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "demoagent_action_attempts",
				Help:    "Attempts needed per click or type action",
				Buckets: []float64{1, 2, 3},
			},
		),
		DecisionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "demoagent_decision_duration_seconds",
				Help:    "Latency of decision service calls",
				Buckets: []float64{.25, .5, 1, 2, 4, 8, 16, 32, 64},
			},
		),
		SessionActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "demoagent_session_active",
				Help: "1 while a browser session is open",
			},
		),
	}
}

// Turn counts one StartDemo, Interact or StopDemo call.
func (m *Metrics) Turn(op string, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.TurnsTotal.WithLabelValues(op, outcome).Inc()
}

// Action counts one executed descriptor.
func (m *Metrics) Action(kind, outcome string, attempts int) {
	if m == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(kind, outcome).Inc()
	if (kind == "click" || kind == "type") && attempts > 0 {
		m.ActionAttempts.Observe(float64(attempts))
	}
}

// Decision observes one decision service call.
func (m *Metrics) Decision(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.DecisionDuration.Observe(elapsed.Seconds())
}

// Session sets the active-session gauge.
func (m *Metrics) Session(active bool) {
	if m == nil {
		return
	}
	if active {
		m.SessionActive.Set(1)
	} else {
		m.SessionActive.Set(0)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
