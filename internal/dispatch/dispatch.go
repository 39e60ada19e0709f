// Package dispatch implements the job queue dispatcher: the §4.G state
// machine that claims pending JobQueueItems, assigns a worker host to their
// Run on first touch, executes the Job's task through the tasks registry,
// and keeps the Run's aggregate status current.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/cyberbrain/orchestrator/internal/clock"
	"github.com/cyberbrain/orchestrator/internal/hosts"
	"github.com/cyberbrain/orchestrator/internal/metrics"
	"github.com/cyberbrain/orchestrator/internal/notify"
	"github.com/cyberbrain/orchestrator/internal/orcherr"
	"github.com/cyberbrain/orchestrator/internal/report"
	"github.com/cyberbrain/orchestrator/internal/store"
	"github.com/cyberbrain/orchestrator/internal/store/models"
	"github.com/cyberbrain/orchestrator/internal/tasks"
	"github.com/cyberbrain/orchestrator/internal/worker"
)

// Config controls one dispatcher instance's tick behavior.
type Config struct {
	SelfID       string
	PollInterval time.Duration
	MaxClaim     int
	ClaimTTL     time.Duration
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.MaxClaim <= 0 {
		c.MaxClaim = 10
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 5 * time.Minute
	}
	if c.SelfID == "" {
		c.SelfID = fmt.Sprintf("dispatcher-%d", time.Now().UnixNano())
	}
}

// Dispatcher runs the claim-execute-update loop described by §4.G.
type Dispatcher struct {
	store    store.Store
	clock    clock.Clock
	hosts    *hosts.Registry
	tasks    *tasks.Registry
	taskDeps *tasks.Dependencies
	notifier  *notify.Service
	config    Config
	lifecycle *worker.LifecycleManager
}

func New(st store.Store, clk clock.Clock, hostRegistry *hosts.Registry, taskRegistry *tasks.Registry, taskDeps *tasks.Dependencies, notifier *notify.Service, config Config) *Dispatcher {
	config.setDefaults()
	return &Dispatcher{
		store: st, clock: clk, hosts: hostRegistry,
		tasks: taskRegistry, taskDeps: taskDeps, notifier: notifier, config: config,
	}
}

// WithLifecycle attaches a LifecycleManager that tracks each job's task
// execution while it's in flight, so a shutdown signal can cancel still-
// running task.Execute calls instead of waiting for them unconditionally.
func (d *Dispatcher) WithLifecycle(lm *worker.LifecycleManager) *Dispatcher {
	d.lifecycle = lm
	return d
}

// Run loops Tick on PollInterval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	logging.Log.WithField("claimant", d.config.SelfID).Info("dispatcher starting")
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Log.Info("dispatcher stopping due to context cancellation")
			return
		case <-ticker.C:
			if err := d.Tick(ctx); err != nil {
				logging.Log.WithError(err).Error("dispatcher tick failed")
			}
		}
	}
}

// Tick claims up to MaxClaim pending queue items and executes each.
func (d *Dispatcher) Tick(ctx context.Context) error {
	now := d.clock.Now()
	claimed, err := d.store.ClaimPendingQueueItems(ctx, now, d.config.MaxClaim, d.config.SelfID, now.Add(d.config.ClaimTTL))
	if err != nil {
		return fmt.Errorf("claiming pending queue items: %w", err)
	}
	if len(claimed) == 0 {
		return nil
	}
	logging.Log.WithField("count", len(claimed)).Info("dispatcher: claimed pending queue items")

	for i := range claimed {
		d.executeItem(ctx, &claimed[i])
	}
	return nil
}

// executeItem implements §4.G.2.a-g for a single claimed queue item, on
// every exit path leaving the item in a terminal or released state.
func (d *Dispatcher) executeItem(ctx context.Context, item *models.JobQueueItem) {
	logger := logging.Log.WithField("job_queue_item", item.JobQueueItemID)

	job, err := d.store.GetJobByID(ctx, item.JobID)
	if err != nil {
		logger.WithError(err).Error("dispatcher: job not found, failing queue item")
		d.failItem(ctx, item, "job not found")
		return
	}
	logger = logger.WithField("job", job.JobID).WithField("task_key", job.TaskKey)

	if job.IsTerminal() {
		d.completeItem(ctx, item)
		return
	}

	run, err := d.store.GetRunByID(ctx, job.RunID)
	if err != nil {
		logger.WithError(err).Error("dispatcher: run not found, failing job")
		d.failJob(ctx, job, item, "run not found")
		return
	}

	if run.Status == models.RunCancelled {
		d.completeItem(ctx, item)
		return
	}

	if run.Status == models.RunPending {
		if err := d.assignHost(ctx, run); err != nil {
			logger.WithError(err).Warn("dispatcher: no host available, deferring")
			d.releaseItem(ctx, item, err.Error())
			return
		}
	}

	item.Status = models.QueueRunning
	if err := d.store.UpdateJobQueueItem(ctx, item); err != nil {
		logger.WithError(err).Error("dispatcher: failed to mark queue item running")
	}

	started := d.clock.Now()
	job.StartedAt = &started
	job.Status = models.JobRunning
	if err := d.store.UpdateJob(ctx, job); err != nil {
		logger.WithError(err).Error("dispatcher: failed to mark job running")
	}

	task, ok := d.tasks.Get(job.TaskKey)
	if !ok {
		d.finishJob(ctx, run, job, item, models.JobFailed, nil, fmt.Sprintf("unknown task_key %q", job.TaskKey))
		return
	}

	taskCtx := ctx
	if d.lifecycle != nil {
		var taskCancel context.CancelFunc
		taskCtx, taskCancel = context.WithCancel(ctx)
		d.lifecycle.RegisterJob(job.JobID, taskCancel)
		defer func() {
			d.lifecycle.UnregisterJob(job.JobID)
			taskCancel()
		}()
	}

	out, execErr := task.Execute(taskCtx, d.taskDeps, tasks.Input{Run: run, Job: job})
	if execErr != nil {
		d.finishJob(ctx, run, job, item, models.JobFailed, out.Result, execErr.Error())
		return
	}
	d.finishJob(ctx, run, job, item, models.JobSuccess, out.Result, "")
}

// assignHost picks a host the first time a Run transitions out of pending,
// per §4.C, and moves the Run to running.
func (d *Dispatcher) assignHost(ctx context.Context, run *models.Run) error {
	targetID := ""
	if run.WorkerHostID != nil {
		targetID = *run.WorkerHostID
	}
	host, err := d.hosts.SelectHost(ctx, targetID, false)
	if err != nil {
		return err
	}
	run.WorkerHostID = &host.WorkerHostID
	run.Status = models.RunRunning
	started := d.clock.Now()
	run.StartedAt = &started
	if err := d.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	if err := d.hosts.IncrementActiveRuns(ctx, host.WorkerHostID); err != nil {
		logging.Log.WithError(err).Warn("dispatcher: failed to increment host active runs")
	}
	return nil
}

// finishJob records a Job's terminal outcome, recomputes the owning Run's
// aggregate status, releases the host's active-runs count and fires a
// notification when the Run itself goes terminal.
func (d *Dispatcher) finishJob(ctx context.Context, run *models.Run, job *models.Job, item *models.JobQueueItem, status models.JobStatus, result models.JSONB, errorText string) {
	ended := d.clock.Now()
	job.EndedAt = &ended
	job.Status = status
	job.Result = result
	job.ErrorText = errorText
	if err := d.store.UpdateJob(ctx, job); err != nil {
		logging.Log.WithError(err).WithField("job", job.JobID).Error("dispatcher: failed to update job")
	}
	duration := 0.0
	if job.StartedAt != nil {
		duration = ended.Sub(*job.StartedAt).Seconds()
	}
	metrics.RecordJobProcessed(job.TaskKey, string(status), duration)

	if status == models.JobSuccess {
		d.completeItem(ctx, item)
	} else {
		item.LastError = errorText
		d.failItem(ctx, item, errorText)
	}

	d.updateRunAggregate(ctx, run)
}

func (d *Dispatcher) failJob(ctx context.Context, job *models.Job, item *models.JobQueueItem, errorText string) {
	ended := d.clock.Now()
	job.EndedAt = &ended
	job.Status = models.JobFailed
	job.ErrorText = errorText
	if err := d.store.UpdateJob(ctx, job); err != nil {
		logging.Log.WithError(err).Error("dispatcher: failed to fail job")
	}
	d.failItem(ctx, item, errorText)
}

func (d *Dispatcher) updateRunAggregate(ctx context.Context, run *models.Run) {
	jobs, err := d.store.ListJobsByRun(ctx, run.RunID)
	if err != nil {
		logging.Log.WithError(err).WithField("run", run.RunID).Error("dispatcher: failed to list jobs for aggregate")
		return
	}
	newStatus := models.AggregateStatus(jobs)
	if newStatus == run.Status {
		return
	}
	run.Status = newStatus
	isTerminal := run.IsTerminal()
	if isTerminal && run.EndedAt == nil {
		var ended time.Time
		for _, j := range jobs {
			if j.EndedAt != nil && j.EndedAt.After(ended) {
				ended = *j.EndedAt
			}
		}
		if ended.IsZero() {
			ended = d.clock.Now()
		}
		run.EndedAt = &ended
	}
	sumTokens(run, jobs)
	if isTerminal {
		run.ReportMarkdown, run.ReportJSON = report.Build(run, jobs)
	}
	if err := d.store.UpdateRun(ctx, run); err != nil {
		logging.Log.WithError(err).WithField("run", run.RunID).Error("dispatcher: failed to update run aggregate")
		return
	}

	if isTerminal {
		if run.WorkerHostID != nil {
			if err := d.hosts.DecrementActiveRuns(ctx, *run.WorkerHostID); err != nil {
				logging.Log.WithError(err).Warn("dispatcher: failed to decrement host active runs")
			}
		}
		if d.notifier != nil {
			d.notifier.NotifyRun(ctx, run)
		}
	}
}

func sumTokens(run *models.Run, jobs []models.Job) {
	var prompt, completion, total int
	for _, j := range jobs {
		prompt += j.PromptTokens
		completion += j.CompletionTokens
		total += j.TotalTokens
	}
	run.PromptTokens, run.CompletionTokens, run.TotalTokens = prompt, completion, total
}

func (d *Dispatcher) completeItem(ctx context.Context, item *models.JobQueueItem) {
	item.Status = models.QueueCompleted
	if err := d.store.UpdateJobQueueItem(ctx, item); err != nil {
		logging.Log.WithError(err).Error("dispatcher: failed to complete queue item")
	}
}

func (d *Dispatcher) failItem(ctx context.Context, item *models.JobQueueItem, errText string) {
	item.Status = models.QueueFailed
	item.LastError = errText
	if err := d.store.UpdateJobQueueItem(ctx, item); err != nil {
		logging.Log.WithError(err).Error("dispatcher: failed to fail queue item")
	}
}

// releaseItem returns a claimed item to pending (by clearing its claim)
// without a terminal transition, for transient conditions like "no host
// available yet" that a later tick may resolve.
func (d *Dispatcher) releaseItem(ctx context.Context, item *models.JobQueueItem, reason string) {
	item.Status = models.QueuePending
	item.ClaimedBy = ""
	item.ClaimedUntil = nil
	item.LastError = reason
	if err := d.store.UpdateJobQueueItem(ctx, item); err != nil {
		logging.Log.WithError(err).Error("dispatcher: failed to release queue item")
	}
}

// ExecuteJobNow runs a single Job's task synchronously, bypassing the
// queue entirely. The agent executor's task_call step uses this to reuse
// the same task dispatch table and host-assignment logic without going
// through ClaimPendingQueueItems.
func ExecuteJobNow(ctx context.Context, st store.Store, hostRegistry *hosts.Registry, clk clock.Clock, taskRegistry *tasks.Registry, taskDeps *tasks.Dependencies, run *models.Run, job *models.Job) (models.JSONB, error) {
	if run.Status == models.RunPending {
		targetID := ""
		if run.WorkerHostID != nil {
			targetID = *run.WorkerHostID
		}
		host, err := hostRegistry.SelectHost(ctx, targetID, false)
		if err != nil {
			return nil, err
		}
		run.WorkerHostID = &host.WorkerHostID
		run.Status = models.RunRunning
		started := clk.Now()
		run.StartedAt = &started
		if err := st.UpdateRun(ctx, run); err != nil {
			return nil, fmt.Errorf("updating run: %w", err)
		}
	}

	task, ok := taskRegistry.Get(job.TaskKey)
	if !ok {
		return nil, orcherr.New(orcherr.KindValidation, fmt.Sprintf("unknown task_key %q", job.TaskKey))
	}

	started := clk.Now()
	job.StartedAt = &started
	job.Status = models.JobRunning
	_ = st.UpdateJob(ctx, job)

	out, err := task.Execute(ctx, taskDeps, tasks.Input{Run: run, Job: job})
	ended := clk.Now()
	job.EndedAt = &ended
	job.Result = out.Result
	if err != nil {
		job.Status = models.JobFailed
		job.ErrorText = err.Error()
	} else {
		job.Status = models.JobSuccess
	}
	_ = st.UpdateJob(ctx, job)
	if jobs, lErr := st.ListJobsByRun(ctx, run.RunID); lErr == nil {
		run.Status = models.AggregateStatus(jobs)
		sumTokens(run, jobs)
		if run.IsTerminal() {
			run.EndedAt = &ended
			run.ReportMarkdown, run.ReportJSON = report.Build(run, jobs)
		}
		_ = st.UpdateRun(ctx, run)
	}
	return out.Result, err
}
