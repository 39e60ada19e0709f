// Package metrics exposes the Prometheus gauges/counters/histograms the
// scheduler, dispatcher, worker orchestrator, and agent executor update on
// their hot paths, grounded on the teacher's promauto-registered
// CounterVec/GaugeVec/HistogramVec pattern with Record*/Set* helper
// functions wrapping each metric.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler metrics (§4.F)
	SchedulesClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_schedules_claimed_total",
			Help: "Total number of schedules claimed by a scheduler tick",
		},
		[]string{"claimant"},
	)

	RunsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_runs_created_total",
			Help: "Total number of Runs created from a fired schedule",
		},
		[]string{"task_key"},
	)

	ConcurrencyRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_concurrency_rejections_total",
			Help: "Total number of schedule fires deferred by the concurrency gate",
		},
		[]string{"schedule_id"},
	)

	// Job queue dispatcher metrics (§4.G)
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_queue_depth",
			Help: "Current number of JobQueueItems by status",
		},
		[]string{"status"},
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_jobs_processed_total",
			Help: "Total number of Jobs completed by the dispatcher, by terminal status",
		},
		[]string{"task_key", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_job_duration_seconds",
			Help:    "Wall time from Job start to terminal status",
			Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1s to ~4.5 hours
		},
		[]string{"task_key", "status"},
	)

	// Worker orchestrator metrics (§4.E)
	WorkersSpawned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_workers_spawned_total",
			Help: "Total number of container spawn attempts, by outcome",
		},
		[]string{"image", "success"},
	)

	ActiveRunsByHost = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_active_runs_by_host",
			Help: "Host active_runs_count soft counter, sampled at dispatch/probe time",
		},
		[]string{"host_id"},
	)

	// GPU registry metrics (§4.D)
	GPUActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_gpu_active_workers",
			Help: "GPUState active_workers soft counter",
		},
		[]string{"host_id", "gpu_id"},
	)

	GPUFreeVRAMMB = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_gpu_free_vram_mb",
			Help: "Last-recorded free VRAM for a GPU",
		},
		[]string{"host_id", "gpu_id"},
	)

	// Agent executor metrics (§4.H)
	AgentRunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_agent_runs_completed_total",
			Help: "Total number of AgentRuns reaching a terminal status",
		},
		[]string{"status"},
	)

	AgentStepRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_agent_step_retries_total",
			Help: "Total number of per-step retry attempts in the agent executor",
		},
		[]string{"step_type"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordScheduleClaim records a scheduler tick's successful claim batch.
func RecordScheduleClaim(claimant string, count int) {
	SchedulesClaimed.WithLabelValues(claimant).Add(float64(count))
}

// RecordRunCreated records a Run created from a fired schedule.
func RecordRunCreated(taskKey string) {
	RunsCreated.WithLabelValues(taskKey).Inc()
}

// RecordConcurrencyRejection records a schedule fire deferred by the
// concurrency gate.
func RecordConcurrencyRejection(scheduleID string) {
	ConcurrencyRejections.WithLabelValues(scheduleID).Inc()
}

// UpdateQueueDepth sets the current JobQueueItem count for a status.
func UpdateQueueDepth(status string, count float64) {
	QueueDepth.WithLabelValues(status).Set(count)
}

// RecordJobProcessed records a terminal Job outcome and its duration.
func RecordJobProcessed(taskKey, status string, durationSeconds float64) {
	JobsProcessed.WithLabelValues(taskKey, status).Inc()
	JobDuration.WithLabelValues(taskKey, status).Observe(durationSeconds)
}

// RecordWorkerSpawn records a container spawn attempt outcome.
func RecordWorkerSpawn(image string, success bool) {
	WorkersSpawned.WithLabelValues(image, successLabel(success)).Inc()
}

// SetActiveRunsByHost samples a host's active_runs_count soft counter.
func SetActiveRunsByHost(hostID string, count float64) {
	ActiveRunsByHost.WithLabelValues(hostID).Set(count)
}

// SetGPUUtilization samples a GPU's active_workers and free VRAM.
func SetGPUUtilization(hostID, gpuID string, activeWorkers, freeVRAMMB float64) {
	GPUActiveWorkers.WithLabelValues(hostID, gpuID).Set(activeWorkers)
	GPUFreeVRAMMB.WithLabelValues(hostID, gpuID).Set(freeVRAMMB)
}

// RecordAgentRunCompleted records an AgentRun reaching a terminal status.
func RecordAgentRunCompleted(status string) {
	AgentRunsCompleted.WithLabelValues(status).Inc()
}

// RecordAgentStepRetry records one retry attempt of a failed step.
func RecordAgentStepRetry(stepType string) {
	AgentStepRetries.WithLabelValues(stepType).Inc()
}

func successLabel(success bool) string {
	if success {
		return "true"
	}
	return "false"
}
