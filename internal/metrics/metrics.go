// Package metrics holds the Prometheus collectors for trade commands and the
// position lifecycle.
//
//   - spotbot_trade_commands_total{command,status}  open/close outcomes
//   - spotbot_position_transitions_total{transition} opened|closed
//   - spotbot_fills_total{side,result}              applied|duplicate|ignored
//   - spotbot_tracker_diagnostics_total{reason}     missing_price|size_floored|...
//   - spotbot_exit_order_aborts_total               OCO placement failures that dumped the entry
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector. Collectors are registered on the
// registerer passed to New so tests can use a private registry.
type Metrics struct {
	TradeCommands       *prometheus.CounterVec
	PositionTransitions *prometheus.CounterVec
	Fills               *prometheus.CounterVec
	TrackerDiagnostics  *prometheus.CounterVec
	ExitOrderAborts     prometheus.Counter
}

// New creates and registers the collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TradeCommands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spotbot_trade_commands_total",
				Help: "Trade commands by command and resulting status",
			},
			[]string{"command", "status"},
		),
		PositionTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spotbot_position_transitions_total",
				Help: "Position lifecycle transitions",
			},
			[]string{"transition"},
		),
		Fills: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spotbot_fills_total",
				Help: "Order fills seen by the tracker",
			},
			[]string{"side", "result"},
		),
		TrackerDiagnostics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spotbot_tracker_diagnostics_total",
				Help: "Anomalies observed while applying fills",
			},
			[]string{"reason"},
		),
		ExitOrderAborts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "spotbot_exit_order_aborts_total",
				Help: "Entries dumped because exit orders could not be placed",
			},
		),
	}
	reg.MustRegister(
		m.TradeCommands,
		m.PositionTransitions,
		m.Fills,
		m.TrackerDiagnostics,
		m.ExitOrderAborts,
	)
	return m
}

// NewUnregistered returns collectors attached to a throwaway registry.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler serves the exposition format for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
