package store

import (
	"context"
	"time"

	"github.com/cyberbrain/orchestrator/internal/store/models"
	"gorm.io/gorm"
)

var AppStore Store

// GetDB returns the underlying gorm.DB connection, for callers (the
// transaction middleware, tests) that need to open their own transactions.
func GetDB() *gorm.DB {
	if store, ok := AppStore.(interface{ GetDB() *gorm.DB }); ok {
		return store.GetDB()
	}
	return nil
}

// Store is the full repository surface, one method group per entity, the
// way the teacher's Store interface groups Project/Job/User operations.
// Every claim-style method (ClaimDueSchedules, ClaimPendingQueueItems) is
// expected to run as a single SELECT...FOR UPDATE SKIP LOCKED transaction
// internally.
type Store interface {
	Initialize() (deferredFunc func(), err error)
	GetDB() *gorm.DB

	// Directive operations
	CreateDirective(ctx context.Context, d *models.Directive) error
	GetDirectiveByID(ctx context.Context, id string) (*models.Directive, error)
	GetDirectiveByName(ctx context.Context, name string) (*models.Directive, error)
	UpdateDirective(ctx context.Context, d *models.Directive) error

	// JobTemplate operations
	GetJobTemplate(ctx context.Context, taskKey string) (*models.JobTemplate, error)

	// Schedule operations
	CreateSchedule(ctx context.Context, s *models.Schedule) error
	GetScheduleByID(ctx context.Context, id string) (*models.Schedule, error)
	UpdateSchedule(ctx context.Context, s *models.Schedule) error
	// ClaimDueSchedules selects up to limit due, unclaimed Schedules with
	// SKIP LOCKED, marks them claimed by claimant until claimUntil, and
	// returns the claimed rows, all within one transaction.
	ClaimDueSchedules(ctx context.Context, now time.Time, limit int, claimant string, claimUntil time.Time) ([]models.Schedule, error)
	ReleaseScheduleClaim(ctx context.Context, scheduleID string) error

	// Run operations
	CreateRun(ctx context.Context, r *models.Run) error
	GetRunByID(ctx context.Context, id string) (*models.Run, error)
	UpdateRun(ctx context.Context, r *models.Run) error
	CountRunningRuns(ctx context.Context) (int64, error)
	CountRunningJobsByTaskKey(ctx context.Context, taskKey string) (int64, error)
	LastSuccessfulRun(ctx context.Context) (*models.Run, error)
	RunsSince(ctx context.Context, since time.Time) ([]models.Run, error)

	// Job operations
	CreateJob(ctx context.Context, j *models.Job) error
	GetJobByID(ctx context.Context, id string) (*models.Job, error)
	UpdateJob(ctx context.Context, j *models.Job) error
	ListJobsByRun(ctx context.Context, runID string) ([]models.Job, error)

	// JobQueueItem operations
	CreateJobQueueItem(ctx context.Context, q *models.JobQueueItem) error
	GetJobQueueItemByJobID(ctx context.Context, jobID string) (*models.JobQueueItem, error)
	UpdateJobQueueItem(ctx context.Context, q *models.JobQueueItem) error
	// ClaimPendingQueueItems selects up to limit pending/expired-claim items
	// with SKIP LOCKED and marks them claimed, incrementing attempts.
	ClaimPendingQueueItems(ctx context.Context, now time.Time, limit int, claimant string, claimUntil time.Time) ([]models.JobQueueItem, error)

	// RunArtifact operations
	CreateRunArtifact(ctx context.Context, a *models.RunArtifact) error
	ListRunArtifacts(ctx context.Context, runID string) ([]models.RunArtifact, error)

	// LLMCall operations
	CreateLLMCall(ctx context.Context, c *models.LLMCall) error
	SumTokensByRun(ctx context.Context, runID string) (int, error)

	// WorkerHost operations
	CreateWorkerHost(ctx context.Context, h *models.WorkerHost) error
	GetWorkerHostByID(ctx context.Context, id string) (*models.WorkerHost, error)
	UpdateWorkerHost(ctx context.Context, h *models.WorkerHost) error
	ListEnabledHosts(ctx context.Context) ([]models.WorkerHost, error)

	// GPUState operations
	UpsertGPUState(ctx context.Context, g *models.GPUState) error
	GetGPUState(ctx context.Context, hostID, gpuID string) (*models.GPUState, error)
	ListAvailableGPUs(ctx context.Context, hostID string) ([]models.GPUState, error)
	// ListAllGPUStates returns every reported GPU across every host,
	// regardless of availability, for reporting tasks.
	ListAllGPUStates(ctx context.Context) ([]models.GPUState, error)
	IncrementGPUActiveWorkers(ctx context.Context, hostID, gpuID string, delta int) error

	// WorkerImageAllowlist / ContainerAllowlist operations
	GetAllowlistEntry(ctx context.Context, image, tag string) (*models.WorkerImageAllowlist, error)
	AddContainerToAllowlist(ctx context.Context, c *models.ContainerAllowlist) error
	ListContainerAllowlist(ctx context.Context) ([]models.ContainerAllowlist, error)

	// WorkerAudit operations
	CreateWorkerAudit(ctx context.Context, a *models.WorkerAudit) error

	// AgentRun / AgentStep operations
	CreateAgentRun(ctx context.Context, a *models.AgentRun) error
	GetAgentRunByID(ctx context.Context, id string) (*models.AgentRun, error)
	UpdateAgentRun(ctx context.Context, a *models.AgentRun) error
	ClaimRunnableAgentRuns(ctx context.Context, limit int) ([]models.AgentRun, error)
	CreateAgentStep(ctx context.Context, s *models.AgentStep) error
	ListAgentSteps(ctx context.Context, agentRunID string) ([]models.AgentStep, error)
	UpdateAgentStep(ctx context.Context, s *models.AgentStep) error

	// Notification operations
	ListEnabledNotificationTargets(ctx context.Context) ([]models.NotificationTarget, error)
	CreateRunNotification(ctx context.Context, n *models.RunNotification) error
	UpdateRunNotification(ctx context.Context, n *models.RunNotification) error
}
