// Package tasks implements the task-key capability interface: one
// implementation per well-known task_key, registered in a dispatch table the
// job queue dispatcher (internal/dispatch) and the agent executor
// (internal/agent) both invoke by key. Each implementation owns recording
// its own LLMCall/RunArtifact rows — the dispatcher never inspects what a
// task produced beyond the Output it returns.
package tasks

import (
	"context"

	"github.com/cyberbrain/orchestrator/internal/clock"
	"github.com/cyberbrain/orchestrator/internal/gpu"
	"github.com/cyberbrain/orchestrator/internal/hosts"
	"github.com/cyberbrain/orchestrator/internal/store"
	"github.com/cyberbrain/orchestrator/internal/store/models"
	"github.com/cyberbrain/orchestrator/internal/worker"
)

// Dependencies are the capability interfaces every task implementation is
// handed at construction time. A task never reaches past these: no direct
// config reads, no global state.
type Dependencies struct {
	Store        store.Store
	Clock        clock.Clock
	GPURegistry  *gpu.Registry
	HostRegistry *hosts.Registry
	Orchestrator *worker.Orchestrator
	LLM          LLMClient
	LogsRoot     string
	UploadsRoot  string
}

// Input is one Job's execution context: the Run it belongs to (for
// DirectiveConfig and RunID) and the Job itself (for TaskKey and JobID).
type Input struct {
	Run *models.Run
	Job *models.Job
}

// Output is what a task reports back to its caller. Result is a small,
// structural JSON summary fit to live on Job.Result — never prompt or
// response text, per §4.J. Failures are reported through Execute's
// returned error.
type Output struct {
	Result models.JSONB
}

// Task is the capability interface one execution path (the dispatcher for
// ordinary Jobs, the agent executor for a task_call step) invokes by key.
type Task interface {
	Execute(ctx context.Context, deps *Dependencies, in Input) (Output, error)
}

// Registry is the dispatch table, keyed by task_key.
type Registry struct {
	tasks map[string]Task
}

// NewRegistry builds the registry with the closed set of well-known tasks.
func NewRegistry() *Registry {
	return &Registry{tasks: map[string]Task{
		models.TaskLogTriage:       &LogTriageTask{},
		models.TaskGPUReport:       &GPUReportTask{},
		models.TaskServiceMap:      &ServiceMapTask{},
		models.TaskRepoCopilotPlan: &RepoCopilotPlanTask{},
	}}
}

// Get looks up a task by key. The bool mirrors a map lookup.
func (r *Registry) Get(taskKey string) (Task, bool) {
	t, ok := r.tasks[taskKey]
	return t, ok
}
