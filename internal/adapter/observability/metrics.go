package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mousehunter-quant/crawler-worker/internal/domain"
)

// Registry is the package-level Prometheus registry this module populates.
// cmd/worker serves it on /metrics; any other process may mount it too.
var Registry = prometheus.NewRegistry()

var (
	// TaskOutcomesTotal counts finished tasks by market and error_kind; a
	// successful task is counted with an empty error_kind.
	TaskOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_task_outcomes_total",
			Help: "Total number of tasks completed, by market and error_kind",
		},
		[]string{"market", "error_kind"},
	)
	// TaskDuration records per-task wall-clock duration by market.
	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawler_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 45},
		},
		[]string{"market"},
	)
	// GatePermitsInUse is a gauge of permits currently held per gate pool.
	GatePermitsInUse = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crawler_gate_permits_in_use",
			Help: "Concurrency gate permits currently held",
		},
		[]string{"pool"},
	)
	// QueueDepth is a gauge of pending stream entries per tier/queue.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crawler_queue_depth",
			Help: "Pending entries in a tier's stream queue",
		},
		[]string{"tier", "queue"},
	)
	// InFlightTasks is a gauge of tasks currently executing per worker.
	InFlightTasks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crawler_in_flight_tasks",
			Help: "Tasks currently executing",
		},
		[]string{"worker_id"},
	)
)

func init() {
	Registry.MustRegister(TaskOutcomesTotal)
	Registry.MustRegister(TaskDuration)
	Registry.MustRegister(GatePermitsInUse)
	Registry.MustRegister(QueueDepth)
	Registry.MustRegister(InFlightTasks)
}

// TaskMetrics adapts the registered vectors to task.Metrics.
type TaskMetrics struct{}

// ObserveTaskOutcome implements task.Metrics.
func (TaskMetrics) ObserveTaskOutcome(market domain.Market, errorKind domain.ErrorKind, duration time.Duration) {
	TaskOutcomesTotal.WithLabelValues(string(market), string(errorKind)).Inc()
	TaskDuration.WithLabelValues(string(market)).Observe(duration.Seconds())
}
