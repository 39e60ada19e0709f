// Package agent implements the §4.H agent executor: step-by-step execution
// of an AgentRun's plan under max_steps/time/token budgets, with per-step
// retry and an approval gate, grounded on agent/executor.py's
// AgentExecutor/RunLauncher.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/cyberbrain/orchestrator/internal/clock"
	"github.com/cyberbrain/orchestrator/internal/dispatch"
	"github.com/cyberbrain/orchestrator/internal/hosts"
	"github.com/cyberbrain/orchestrator/internal/metrics"
	"github.com/cyberbrain/orchestrator/internal/store"
	"github.com/cyberbrain/orchestrator/internal/store/models"
	"github.com/cyberbrain/orchestrator/internal/tasks"
	"github.com/cyberbrain/orchestrator/internal/worker"
)

// stepRetryConfig gives RetryWithBackoffCounter a fixed ~2s delay rather
// than its default exponential curve: BackoffFactor 1 and zero jitter
// collapse it to a constant wait, matching executor.py's
// RETRY_DELAY_SECONDS. 2 retries on top of the first attempt gives 3
// attempts total, matching MAX_RETRIES.
var stepRetryConfig = &worker.RetryConfig{
	MaxRetries:     2,
	InitialDelay:   2 * time.Second,
	MaxDelay:       2 * time.Second,
	BackoffFactor:  1,
	JitterFraction: 0,
}

// InterStepDelay is the small pause executor.py takes between successful
// steps.
const InterStepDelay = 500 * time.Millisecond

// Executor runs one AgentRun to completion or to a budget stop.
type Executor struct {
	store    store.Store
	clock    clock.Clock
	hosts    *hosts.Registry
	tasks    *tasks.Registry
	taskDeps *tasks.Dependencies
	sleep    func(time.Duration)
}

func New(st store.Store, clk clock.Clock, hostRegistry *hosts.Registry, taskRegistry *tasks.Registry, taskDeps *tasks.Dependencies) *Executor {
	return &Executor{
		store: st, clock: clk, hosts: hostRegistry,
		tasks: taskRegistry, taskDeps: taskDeps, sleep: time.Sleep,
	}
}

// Execute runs agentRun's steps in order, stopping at the approval gate,
// any exceeded budget, or the first failed step. A run held at the
// approval gate is returned unchanged; once the run has been marked
// running, every exit path sets a terminal status and EndedAt.
func (e *Executor) Execute(ctx context.Context, agentRun *models.AgentRun) error {
	if agentRun.Status == models.AgentPendingApproval {
		logging.Log.WithField("agent_run", agentRun.AgentRunID).Info("agent executor: waiting for approval")
		return nil
	}

	if agentRun.StartedAt == nil {
		started := e.clock.Now()
		agentRun.StartedAt = &started
	}
	agentRun.Status = models.AgentRunning
	if err := e.store.UpdateAgentRun(ctx, agentRun); err != nil {
		return fmt.Errorf("marking agent run running: %w", err)
	}

	directive := e.loadDirective(ctx, agentRun)

	steps, err := e.store.ListAgentSteps(ctx, agentRun.AgentRunID)
	if err != nil {
		return e.finalize(ctx, agentRun, models.AgentFailed, fmt.Sprintf("listing steps: %v", err))
	}

	finalStatus := models.AgentCompleted
	errMsg := ""

	for i := range steps {
		step := &steps[i]

		if step.StepIndex >= agentRun.MaxSteps {
			logging.Log.WithField("agent_run", agentRun.AgentRunID).Info("agent executor: reached max_steps")
			finalStatus = models.AgentCompleted
			break
		}
		if e.timeBudgetExceeded(agentRun) {
			finalStatus = models.AgentTimeout
			break
		}
		if agentRun.TokensUsed >= agentRun.TokenBudget && agentRun.TokenBudget > 0 {
			finalStatus = models.AgentExpired
			break
		}
		if cancelled, cErr := e.isCancelled(ctx, agentRun.AgentRunID); cErr == nil && cancelled {
			finalStatus = models.AgentCancelled
			break
		}

		e.executeStep(ctx, agentRun, step, directive)

		agentRun.CurrentStep = step.StepIndex + 1
		if err := e.store.UpdateAgentRun(ctx, agentRun); err != nil {
			logging.Log.WithError(err).Warn("agent executor: failed to persist current_step")
		}

		if step.Status == models.AgentStepFailed {
			finalStatus = models.AgentFailed
			errMsg = fmt.Sprintf("step %d failed: %s", step.StepIndex, step.ErrorText)
			break
		}

		e.sleep(InterStepDelay)
	}

	return e.finalize(ctx, agentRun, finalStatus, errMsg)
}

func (e *Executor) finalize(ctx context.Context, agentRun *models.AgentRun, status models.AgentRunStatus, errMsg string) error {
	agentRun.Status = status
	ended := e.clock.Now()
	agentRun.EndedAt = &ended
	if err := e.store.UpdateAgentRun(ctx, agentRun); err != nil {
		return fmt.Errorf("finalizing agent run: %w", err)
	}
	metrics.RecordAgentRunCompleted(string(status))
	if errMsg != "" {
		logging.Log.WithField("agent_run", agentRun.AgentRunID).WithField("error", errMsg).Warn("agent executor: run ended with error")
	}
	return nil
}

func (e *Executor) timeBudgetExceeded(agentRun *models.AgentRun) bool {
	if agentRun.StartedAt == nil || agentRun.TimeBudgetMinutes <= 0 {
		return false
	}
	elapsed := e.clock.Now().Sub(*agentRun.StartedAt)
	return elapsed > time.Duration(agentRun.TimeBudgetMinutes)*time.Minute
}

// isCancelled re-reads the AgentRun's persisted status: cancellation is an
// external write (an operator action) this executor only observes.
func (e *Executor) isCancelled(ctx context.Context, agentRunID string) (bool, error) {
	current, err := e.store.GetAgentRunByID(ctx, agentRunID)
	if err != nil {
		return false, err
	}
	return current.Status == models.AgentCancelled, nil
}

// PollerConfig controls the run-agent-executor CLI's poll loop.
type PollerConfig struct {
	PollInterval time.Duration
	MaxClaim     int
}

func (c *PollerConfig) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.MaxClaim <= 0 {
		c.MaxClaim = 5
	}
}

// Poller repeatedly claims runnable (pending/pending_approval) AgentRuns and
// drives each to completion or to its next budget stop, matching the
// scheduler/dispatcher tick shape. AgentRun carries no claimed_by/
// claimed_until lease fields (§3), so a single poller instance is assumed —
// running more than one concurrently against the same store can double-pick
// a row between the claim read and the first status write.
type Poller struct {
	executor  *Executor
	store     store.Store
	config    PollerConfig
	lifecycle *worker.LifecycleManager
}

func NewPoller(executor *Executor, st store.Store, config PollerConfig) *Poller {
	config.setDefaults()
	return &Poller{executor: executor, store: st, config: config}
}

// WithLifecycle attaches a LifecycleManager that tracks each claimed
// AgentRun's execution while it's in flight, so a shutdown signal can
// cancel still-running Execute calls instead of waiting for them
// unconditionally.
func (p *Poller) WithLifecycle(lm *worker.LifecycleManager) *Poller {
	p.lifecycle = lm
	return p
}

// Run loops Tick on PollInterval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	logging.Log.Info("agent executor starting")
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Log.Info("agent executor stopping due to context cancellation")
			return
		case <-ticker.C:
			if err := p.Tick(ctx); err != nil {
				logging.Log.WithError(err).Error("agent executor tick failed")
			}
		}
	}
}

// Tick claims up to MaxClaim runnable AgentRuns and executes each in turn.
func (p *Poller) Tick(ctx context.Context) error {
	runnable, err := p.store.ClaimRunnableAgentRuns(ctx, p.config.MaxClaim)
	if err != nil {
		return fmt.Errorf("claiming runnable agent runs: %w", err)
	}
	for i := range runnable {
		agentRun := &runnable[i]
		runCtx := ctx
		var runCancel context.CancelFunc
		if p.lifecycle != nil {
			runCtx, runCancel = context.WithCancel(ctx)
			p.lifecycle.RegisterJob(agentRun.AgentRunID, runCancel)
		}
		err := p.executor.Execute(runCtx, agentRun)
		if p.lifecycle != nil {
			p.lifecycle.UnregisterJob(agentRun.AgentRunID)
			runCancel()
		}
		if err != nil {
			logging.Log.WithError(err).WithField("agent_run", agentRun.AgentRunID).Error("agent executor: run failed")
		}
	}
	return nil
}

func (e *Executor) loadDirective(ctx context.Context, agentRun *models.AgentRun) *models.Directive {
	if agentRun.DirectiveID == nil {
		return nil
	}
	directive, err := e.store.GetDirectiveByID(ctx, *agentRun.DirectiveID)
	if err != nil {
		logging.Log.WithError(err).Warn("agent executor: failed to load directive")
		return nil
	}
	return directive
}

// executeStep runs one step with up to 3 attempts and a ~2s fixed delay
// between them, matching executor.py's _execute_step.
func (e *Executor) executeStep(ctx context.Context, agentRun *models.AgentRun, step *models.AgentStep, directive *models.Directive) {
	started := e.clock.Now()
	step.StartedAt = &started
	step.Status = models.AgentStepRunning
	if err := e.store.UpdateAgentStep(ctx, step); err != nil {
		logging.Log.WithError(err).Warn("agent executor: failed to mark step running")
	}

	err := worker.RetryWithBackoffCounter(ctx, stepRetryConfig, fmt.Sprintf("agent-step-%s", step.AgentStepID), func(attempt int) error {
		if attempt > 0 {
			metrics.RecordAgentStepRetry(string(step.StepType))
		}
		stepErr := e.dispatchStep(ctx, agentRun, step, directive)
		if stepErr != nil {
			return &worker.RetryableError{Err: stepErr, Retryable: true, Reason: "step execution"}
		}
		return nil
	})

	ended := e.clock.Now()
	step.EndedAt = &ended
	if err != nil {
		step.Status = models.AgentStepFailed
		step.ErrorText = err.Error()
	} else {
		step.Status = models.AgentStepSuccess
	}
	if uErr := e.store.UpdateAgentStep(ctx, step); uErr != nil {
		logging.Log.WithError(uErr).Warn("agent executor: failed to persist step result")
	}
}

func (e *Executor) dispatchStep(ctx context.Context, agentRun *models.AgentRun, step *models.AgentStep, directive *models.Directive) error {
	switch step.StepType {
	case models.StepTaskCall:
		return e.executeTaskCall(ctx, agentRun, step, directive)
	case models.StepWait:
		return e.executeWait(step)
	case models.StepDecision, models.StepNotify:
		return nil
	default:
		return fmt.Errorf("unknown step_type %q", step.StepType)
	}
}

// executeTaskCall launches the step's task_key as a one-off Run, reusing
// dispatch.ExecuteJobNow so task_call steps share the exact execution path
// ordinary scheduled Jobs take, per executor.py's RunLauncher.launch.
func (e *Executor) executeTaskCall(ctx context.Context, agentRun *models.AgentRun, step *models.AgentStep, directive *models.Directive) error {
	if step.TaskKey == "" {
		return fmt.Errorf("task_call step %s missing task_key", step.AgentStepID)
	}

	run := &models.Run{
		DirectiveName:   agentRun.OperatorGoal,
		DirectiveConfig: step.Inputs,
		Status:          models.RunPending,
	}
	if directive != nil {
		run.DirectiveID = &directive.DirectiveID
		run.DirectiveName = directive.Name
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("creating task_call run: %w", err)
	}

	job := &models.Job{RunID: run.RunID, TaskKey: step.TaskKey, Status: models.JobPending}
	if err := e.store.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("creating task_call job: %w", err)
	}

	_, err := dispatch.ExecuteJobNow(ctx, e.store, e.hosts, e.clock, e.tasks, e.taskDeps, run, job)

	step.LaunchedRunID = &run.RunID
	step.OutputsRef = fmt.Sprintf("runs/%s/report", run.RunID)

	tokens, sumErr := e.store.SumTokensByRun(ctx, run.RunID)
	if sumErr == nil {
		agentRun.TokensUsed += tokens
	}

	return err
}

func (e *Executor) executeWait(step *models.AgentStep) error {
	seconds := 1
	if v, ok := step.Inputs["seconds"].(float64); ok {
		seconds = int(v)
	}
	e.sleep(time.Duration(seconds) * time.Second)
	return nil
}
