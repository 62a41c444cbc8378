package metrics

import (
	"net/http"
	"time"

	"tradegate/internal/pkg/circuit"
	"tradegate/internal/pkg/ratelimit"
	"tradegate/internal/pkg/tradelock"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tradegate"

type LimiterSource interface {
	ListAllMetrics() []ratelimit.Metrics
}

type BreakerSource interface {
	Status() circuit.Status
}

type LockSource interface {
	Status() tradelock.Status
}

// Registry holds the event counters plus a scrape-time collector over the live components.
type Registry struct {
	reg *prometheus.Registry

	Activations   *prometheus.CounterVec
	Rounds        *prometheus.CounterVec
	RoundDuration prometheus.Histogram
	Decisions     *prometheus.CounterVec
}

// NewRegistry registers all tradegate metrics on a fresh prometheus registry.
// Nil sources are skipped.
func NewRegistry(limiters LimiterSource, breaker BreakerSource, lock LockSource) *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		Activations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "breaker_activations_total",
				Help:      "Circuit breaker activations by breaker and outcome",
			},
			[]string{"breaker", "outcome"},
		),
		Rounds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rounds_total",
				Help:      "Trading rounds by result (completed, skipped, failed)",
			},
			[]string{"result"},
		),
		RoundDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "round_duration_seconds",
				Help:      "Wall time of completed trading rounds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Agent decisions by final action and verdict (allowed, blocked)",
			},
			[]string{"action", "verdict"},
		),
	}
	r.reg.MustRegister(r.Activations, r.Rounds, r.RoundDuration, r.Decisions)
	r.reg.MustRegister(newStateCollector(limiters, breaker, lock))
	return r
}

func (r *Registry) ObserveActivation(a circuit.Activation) {
	r.Activations.WithLabelValues(string(a.Breaker), string(a.Outcome)).Inc()
}

func (r *Registry) ObserveRound(result string, took time.Duration) {
	r.Rounds.WithLabelValues(result).Inc()
	if result == "completed" {
		r.RoundDuration.Observe(took.Seconds())
	}
}

func (r *Registry) ObserveDecision(action string, allowed bool) {
	verdict := "allowed"
	if !allowed {
		verdict = "blocked"
	}
	r.Decisions.WithLabelValues(action, verdict).Inc()
}

func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler serves the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
