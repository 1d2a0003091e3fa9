// Package metrics holds the Prometheus collectors the monitor updates while
// running. They are registered in init() and served at /metrics by the HTTP
// server:
//
//	goldspread_ticks_total                       ticks computed and handed to the engine
//	goldspread_fetch_failures_total{kind}        quote fetch attempts that failed (transient|fatal)
//	goldspread_cycles_skipped_total{reason}      scheduler cycles that produced no tick
//	goldspread_tick_save_failures_total          ticks that could not be persisted
//	goldspread_signals_total{kind,reminder}      open/close signals emitted
//	goldspread_effects_total{effect,result}      outbox side effects by outcome
//	goldspread_outbox_pending                    side effects waiting to be applied
//	goldspread_spread{side}                      latest open/close spread
//	goldspread_positions{status}                 live positions by status
//	goldspread_commands_total{command,result}    operator commands handled
//	goldspread_fetch_latency_seconds             quote request round trip
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/alanyoungcy/goldspread/internal/domain"
)

var (
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "goldspread_ticks_total",
			Help: "Ticks computed and evaluated by the position engine",
		},
	)

	FetchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goldspread_fetch_failures_total",
			Help: "Failed quote fetch attempts by error kind",
		},
		[]string{"kind"},
	)

	CyclesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goldspread_cycles_skipped_total",
			Help: "Scheduler cycles that produced no tick",
		},
		[]string{"reason"},
	)

	TickSaveFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "goldspread_tick_save_failures_total",
			Help: "Ticks that could not be persisted",
		},
	)

	Signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goldspread_signals_total",
			Help: "Open and close signals emitted, reminders included",
		},
		[]string{"kind", "reminder"},
	)

	Effects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goldspread_effects_total",
			Help: "Deferred side effects by kind and outcome (ok|failed)",
		},
		[]string{"effect", "result"},
	)

	OutboxPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "goldspread_outbox_pending",
			Help: "Side effects queued and not yet applied",
		},
	)

	Spread = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "goldspread_spread",
			Help: "Latest observed spread by side (open|close)",
		},
		[]string{"side"},
	)

	Positions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "goldspread_positions",
			Help: "Live positions by status",
		},
		[]string{"status"},
	)

	Commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goldspread_commands_total",
			Help: "Operator commands by verb and result (ok|rejected|unauthorized|rate_limited)",
		},
		[]string{"command", "result"},
	)

	FetchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "goldspread_fetch_latency_seconds",
			Help:    "Quote request round-trip time",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 8),
		},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, FetchFailures, CyclesSkipped, TickSaveFailures)
	prometheus.MustRegister(Signals, Effects, OutboxPending)
	prometheus.MustRegister(Spread, Positions, Commands, FetchLatency)
}

// ObservePositions resets the positions gauge to the given per-status counts.
func ObservePositions(counts map[domain.PositionStatus]int) {
	for _, s := range []domain.PositionStatus{domain.PositionAwaitingOpen, domain.PositionOpen, domain.PositionAwaitingClose} {
		Positions.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}
