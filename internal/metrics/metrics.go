// Package metrics exposes the orchestration engine's Prometheus gauges and
// counters: queue depth, claim latency, review iteration counts, chunking
// fan-out width, lock wait/deadlock counters and executor preflight
// failures.
//
// Grounded on the teacher's internal/metrics/metrics.go: the same
// promauto.NewCounterVec/GaugeVec/HistogramVec shape with package-level
// vars and small Record*/Set* wrapper functions, metric names renamed from
// the `taskqueue_` prefix to `orch_` and re-targeted from
// submit/complete/retry task semantics onto claim/review/chunking/lock
// semantics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Queue metrics (§4.A)
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orch_queue_depth",
			Help: "Current number of QUEUED tasks per namespace",
		},
		[]string{"namespace"},
	)

	ClaimLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orch_claim_latency_seconds",
			Help:    "Time between enqueue and claim",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		},
		[]string{"namespace"},
	)

	TasksClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orch_tasks_claimed_total",
			Help: "Total number of tasks claimed by a poller",
		},
		[]string{"namespace"},
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orch_tasks_completed_total",
			Help: "Total number of tasks reaching a terminal status",
		},
		[]string{"namespace", "status"},
	)

	StaleRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orch_stale_recovered_total",
			Help: "Total number of RUNNING tasks recovered by the Restart Detector",
		},
		[]string{"namespace"},
	)

	// Review loop metrics (§4.E)
	ReviewIterations = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orch_review_iterations",
			Help:    "Number of review-loop iterations per task",
			Buckets: prometheus.LinearBuckets(1, 1, 6),
		},
		[]string{"namespace", "terminal_status"},
	)

	ReviewJudgments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orch_review_judgments_total",
			Help: "Total number of review-loop judgments by verdict",
		},
		[]string{"namespace", "judgment"},
	)

	// Chunking metrics (§4.F)
	ChunkingFanOutWidth = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orch_chunking_fanout_width",
			Help:    "Number of subtasks a decomposed task produced",
			Buckets: prometheus.LinearBuckets(2, 1, 9),
		},
		[]string{"namespace"},
	)

	SubtaskRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orch_subtask_retries_total",
			Help: "Total number of subtask retry attempts",
		},
		[]string{"namespace"},
	)

	// Lock manager metrics (§4.B)
	LockWaitFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orch_lock_wait_failures_total",
			Help: "Total number of non-blocking lock acquisitions that failed immediately",
		},
		[]string{"namespace"},
	)

	DeadlocksDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orch_deadlocks_detected_total",
			Help: "Total number of predicted deadlocks",
		},
		[]string{"namespace"},
	)

	ExecutorSemaphoreInUse = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orch_executor_semaphore_in_use",
			Help: "Current number of executor semaphore slots held",
		},
		[]string{"namespace"},
	)

	ExecutorLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orch_executor_limit_exceeded_total",
			Help: "Total number of times the poller backed off because the semaphore was full",
		},
		[]string{"namespace"},
	)

	// Executor adapter metrics (§4.C, §4.D)
	PreflightFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orch_preflight_failures_total",
			Help: "Total number of preflight failures by reason",
		},
		[]string{"namespace", "reason"},
	)

	TimeoutsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orch_timeouts_total",
			Help: "Total number of idle/hard timeouts fired",
		},
		[]string{"namespace", "reason"},
	)

	// HTTP metrics (§6)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orch_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// RecordClaim records a successful claim and the time it waited in queue.
func RecordClaim(namespace string, queueWaitSeconds float64) {
	TasksClaimed.WithLabelValues(namespace).Inc()
	ClaimLatency.WithLabelValues(namespace).Observe(queueWaitSeconds)
}

// RecordTerminal records a task reaching a terminal status.
func RecordTerminal(namespace, status string) {
	TasksCompleted.WithLabelValues(namespace, status).Inc()
}

// RecordStaleRecovered records recoverStale's per-namespace count.
func RecordStaleRecovered(namespace string, count int) {
	if count > 0 {
		StaleRecovered.WithLabelValues(namespace).Add(float64(count))
	}
}

// RecordReviewLoop records one task's terminal review-loop outcome.
func RecordReviewLoop(namespace, terminalStatus string, iterations int) {
	ReviewIterations.WithLabelValues(namespace, terminalStatus).Observe(float64(iterations))
}

// RecordJudgment records one review iteration's judgment.
func RecordJudgment(namespace, judgment string) {
	ReviewJudgments.WithLabelValues(namespace, judgment).Inc()
}

// RecordChunking records a decomposition's fan-out width.
func RecordChunking(namespace string, subtaskCount int) {
	ChunkingFanOutWidth.WithLabelValues(namespace).Observe(float64(subtaskCount))
}

// RecordSubtaskRetry records one subtask retry attempt.
func RecordSubtaskRetry(namespace string) {
	SubtaskRetries.WithLabelValues(namespace).Inc()
}

// RecordLockWaitFailure records a non-blocking lock acquisition failure.
func RecordLockWaitFailure(namespace string) {
	LockWaitFailures.WithLabelValues(namespace).Inc()
}

// RecordDeadlock records a predicted deadlock.
func RecordDeadlock(namespace string) {
	DeadlocksDetected.WithLabelValues(namespace).Inc()
}

// SetSemaphoreInUse sets the current semaphore occupancy gauge.
func SetSemaphoreInUse(namespace string, inFlight int) {
	ExecutorSemaphoreInUse.WithLabelValues(namespace).Set(float64(inFlight))
}

// RecordExecutorLimitExceeded records the poller backing off on a full semaphore.
func RecordExecutorLimitExceeded(namespace string) {
	ExecutorLimitExceeded.WithLabelValues(namespace).Inc()
}

// RecordPreflightFailure records a preflight failure by reason code.
func RecordPreflightFailure(namespace, reason string) {
	PreflightFailures.WithLabelValues(namespace, reason).Inc()
}

// RecordTimeout records an idle or hard timeout firing.
func RecordTimeout(namespace, reason string) {
	TimeoutsFired.WithLabelValues(namespace, reason).Inc()
}

// RecordHTTPRequest records one HTTP request's duration.
func RecordHTTPRequest(method, path, status string, seconds float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(seconds)
}
