package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Task metrics
	TasksSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scout_tasks_submitted_total",
			Help: "Total number of research tasks submitted",
		},
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scout_tasks_completed_total",
			Help: "Total number of tasks reaching a terminal state",
		},
		[]string{"status"},
	)

	TaskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scout_task_duration_seconds",
			Help:    "End-to-end task processing duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	TaskWritesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scout_task_writes_dropped_total",
			Help: "Task status writes dropped because the entry already expired",
		},
	)

	// Gate metrics
	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scout_gate_decisions_total",
			Help: "Gate check decisions by checkpoint, check and verdict",
		},
		[]string{"checkpoint", "check", "verdict"},
	)

	GateCheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scout_gate_check_duration_seconds",
			Help:    "Individual gate check evaluation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"check"},
	)

	// Interrupt metrics
	InterruptsRaised = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scout_interrupts_raised_total",
			Help: "Total number of human confirmation interrupts raised",
		},
	)

	InterruptsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scout_interrupts_resolved_total",
			Help: "Interrupts resolved by verdict",
		},
		[]string{"verdict"},
	)

	InterruptsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scout_interrupts_expired_total",
			Help: "Interrupts discarded because the task timed out while awaiting approval",
		},
	)

	// Research delegation metrics
	ResearchUnitsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scout_research_units_started_total",
			Help: "Total number of research units dispatched",
		},
	)

	ResearchUnitsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scout_research_units_active",
			Help: "Research units currently executing",
		},
	)

	ResearchUnitIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scout_research_unit_iterations",
			Help:    "Iterations consumed per research unit",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 10},
		},
	)

	ResearchUnitFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scout_research_unit_failures_total",
			Help: "Research units that terminated without any findings",
		},
	)

	// Worker pool metrics
	WorkerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scout_worker_queue_depth",
			Help: "Tasks waiting for a worker slot",
		},
	)

	WorkerActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scout_worker_active_runs",
			Help: "Orchestrator runs currently executing",
		},
	)

	WorkerPanicsRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scout_worker_panics_recovered_total",
			Help: "Panics caught at the orchestrator run boundary",
		},
	)

	// Remote capability metrics
	CapabilityCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scout_capability_calls_total",
			Help: "Remote capability calls by capability and outcome",
		},
		[]string{"capability", "outcome"},
	)

	CapabilityCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scout_capability_call_duration_seconds",
			Help:    "Remote capability call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"capability"},
	)

	// HTTP surface metrics
	RateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scout_ratelimit_rejections_total",
			Help: "Task submissions rejected by the per-thread rate limiter",
		},
	)
)
