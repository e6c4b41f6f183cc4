// Package metrics holds the process-wide Prometheus collectors.
// Low-cardinality labels only.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TriggersRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camguard_triggers_routed_total",
		Help: "Triggers received by source and disposition",
	}, []string{"source", "disposition"})

	PlansCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camguard_plans_created_total",
		Help: "Plans persisted by model",
	}, []string{"model"})

	PlanFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camguard_plan_fallbacks_total",
		Help: "Plans replaced by the deterministic fallback",
	})

	PlanParseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camguard_plan_parse_failures_total",
		Help: "Planner responses rejected by the strict parser",
	})

	GuardDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camguard_guard_denials_total",
		Help: "Actions denied by the safety guard, by reason class",
	}, []string{"reason"})

	ActionsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camguard_actions_executed_total",
		Help: "Plan actions dispatched by type and outcome",
	}, []string{"type", "outcome"})

	ActiveIncidents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camguard_incidents_active",
		Help: "Incident controllers currently running",
	})

	Escalations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camguard_escalations_total",
		Help: "Backup escalations performed",
	})

	TimelineDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camguard_timeline_buffer_dropped_total",
		Help: "Timeline events dropped from the warehouse ring buffer",
	})

	WSSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camguard_ws_subscribers",
		Help: "Connected timeline WebSocket subscribers",
	})

	WSDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camguard_ws_subscribers_dropped_total",
		Help: "Subscribers dropped for slow consumption",
	})

	WarehouseWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camguard_warehouse_writes_total",
		Help: "Warehouse publishes by table and outcome",
	}, []string{"table", "outcome"})

	PlannerLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "camguard_planner_call_seconds",
		Help:    "Planner model call latency in seconds",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
	})
)
