package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradingEngine/internal/ports"
)

const namespace = "trading_engine"

// Recorder implements ports.Metrics with Prometheus collectors on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	decisions      *prometheus.CounterVec
	phaseErrors    *prometheus.CounterVec
	fills          *prometheus.CounterVec
	riskMetrics    *prometheus.GaugeVec
	portfolioValue prometheus.Gauge
	cash           prometheus.Gauge
	engineState    prometheus.Gauge
	iteration      prometheus.Histogram
}

var _ ports.Metrics = (*Recorder)(nil)

// NewRecorder creates a Recorder and registers its collectors along with the Go
// runtime and process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "risk_decisions_total",
				Help:      "Risk decisions by symbol, outcome and deciding check",
			},
			[]string{"symbol", "outcome", "check"},
		),
		phaseErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phase_errors_total",
				Help:      "Failures isolated at a control loop phase boundary",
			},
			[]string{"phase"},
		),
		fills: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fills_total",
				Help:      "Execution reports applied by the control loop",
			},
			[]string{"symbol", "status"},
		),
		riskMetrics: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "risk_metric",
				Help:      "Latest risk metric snapshot",
			},
			[]string{"metric"},
		),
		portfolioValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "portfolio_value",
			Help:      "Total portfolio value at current prices",
		}),
		cash: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "portfolio_cash",
			Help:      "Portfolio cash balance",
		}),
		engineState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_state",
			Help:      "Lifecycle state: 0 initializing, 1 running, 2 shutting down, 3 stopped",
		}),
		iteration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "iteration_duration_seconds",
			Help:      "Duration of one control loop iteration",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
	}

	r.registry.MustRegister(
		r.decisions,
		r.phaseErrors,
		r.fills,
		r.riskMetrics,
		r.portfolioValue,
		r.cash,
		r.engineState,
		r.iteration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveDecision implements ports.Metrics.
func (r *Recorder) ObserveDecision(symbol string, approved bool, check string) {
	outcome := "rejected"
	if approved {
		outcome = "approved"
	}
	r.decisions.WithLabelValues(symbol, outcome, check).Inc()
}

// ObservePhaseError implements ports.Metrics.
func (r *Recorder) ObservePhaseError(phase string) {
	r.phaseErrors.WithLabelValues(phase).Inc()
}

// ObserveFill implements ports.Metrics.
func (r *Recorder) ObserveFill(symbol string, status string) {
	r.fills.WithLabelValues(symbol, status).Inc()
}

// SetRiskMetrics implements ports.Metrics.
func (r *Recorder) SetRiskMetrics(metrics map[string]float64) {
	for name, v := range metrics {
		r.riskMetrics.WithLabelValues(name).Set(v)
	}
}

// SetPortfolio implements ports.Metrics.
func (r *Recorder) SetPortfolio(totalValue, cash float64) {
	r.portfolioValue.Set(totalValue)
	r.cash.Set(cash)
}

// SetEngineState implements ports.Metrics.
func (r *Recorder) SetEngineState(state int) {
	r.engineState.Set(float64(state))
}

// ObserveIteration implements ports.Metrics.
func (r *Recorder) ObserveIteration(seconds float64) {
	r.iteration.Observe(seconds)
}
