// Package core implements the §6 external-interface operations as a
// facade over the store, host registry, scheduler, and planner: the single
// place every CLI/API entry point calls into so the operation semantics
// (validation, error taxonomy, idempotency) live in one spot rather than
// being re-derived per transport.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/cyberbrain/orchestrator/internal/clock"
	"github.com/cyberbrain/orchestrator/internal/cronparse"
	"github.com/cyberbrain/orchestrator/internal/hosts"
	"github.com/cyberbrain/orchestrator/internal/orcherr"
	"github.com/cyberbrain/orchestrator/internal/planner"
	"github.com/cyberbrain/orchestrator/internal/report"
	"github.com/cyberbrain/orchestrator/internal/scheduler"
	"github.com/cyberbrain/orchestrator/internal/store"
	"github.com/cyberbrain/orchestrator/internal/store/models"
)

// Service exposes the seven §6 operations. It holds no mutable state of
// its own; every call reads and writes through store.
type Service struct {
	store store.Store
	clock clock.Clock
	hosts *hosts.Registry
}

func New(st store.Store, clk clock.Clock, hostRegistry *hosts.Registry) *Service {
	return &Service{store: st, clock: clk, hosts: hostRegistry}
}

// CreateScheduleParams is the create_schedule operation's input. Exactly
// one kind-specific field must be set, matching models.Schedule's
// "exactly one populated group" invariant.
type CreateScheduleParams struct {
	Name            string
	TaskKey         string
	DirectiveID     *string
	Kind            models.ScheduleKind
	IntervalMinutes *int
	CronExpression  *string
	CronTimezone    *string
	FireAt          *time.Time
	MaxGlobal       int
	MaxPerJob       int
}

// CreateSchedule validates params, computes the schedule's initial
// next_fire_at the same way AdvanceSchedule would on its first tick, and
// persists it enabled.
func (s *Service) CreateSchedule(ctx context.Context, p CreateScheduleParams) (*models.Schedule, error) {
	if p.Name == "" {
		return nil, orcherr.New(orcherr.KindValidation, "name is required")
	}
	if p.TaskKey == "" {
		return nil, orcherr.New(orcherr.KindValidation, "task_key is required")
	}

	sch := &models.Schedule{
		Name:        p.Name,
		TaskKey:     p.TaskKey,
		DirectiveID: p.DirectiveID,
		Kind:        p.Kind,
		MaxGlobal:   p.MaxGlobal,
		MaxPerJob:   p.MaxPerJob,
		Enabled:     true,
	}

	now := s.clock.Now()
	switch p.Kind {
	case models.ScheduleInterval:
		if p.IntervalMinutes == nil || *p.IntervalMinutes <= 0 {
			return nil, orcherr.New(orcherr.KindValidation, "interval schedules require a positive interval_minutes")
		}
		sch.IntervalMinutes = p.IntervalMinutes
		next := now
		sch.NextFireAt = &next
	case models.ScheduleCron:
		if p.CronExpression == nil || *p.CronExpression == "" {
			return nil, orcherr.New(orcherr.KindValidation, "cron schedules require a cron_expression")
		}
		tz := "UTC"
		if p.CronTimezone != nil && *p.CronTimezone != "" {
			tz = *p.CronTimezone
		}
		sch.CronExpression = p.CronExpression
		sch.CronTimezone = &tz
		next, err := cronparse.NextCron(*p.CronExpression, tz, now)
		if err != nil {
			return nil, orcherr.Wrap(orcherr.KindValidation, "invalid cron schedule", err)
		}
		sch.NextFireAt = &next
	case models.ScheduleOneShot:
		if p.FireAt == nil {
			return nil, orcherr.New(orcherr.KindValidation, "one_shot schedules require fire_at")
		}
		sch.FireAt = p.FireAt
		sch.NextFireAt = p.FireAt
	default:
		return nil, orcherr.New(orcherr.KindValidation, fmt.Sprintf("unknown schedule kind %q", p.Kind))
	}

	if err := s.store.CreateSchedule(ctx, sch); err != nil {
		return nil, fmt.Errorf("creating schedule: %w", err)
	}
	return sch, nil
}

// LaunchRun implements launch_run: it resolves the directive, reserves a
// host synchronously, and only then persists the Run and its Jobs. When no
// host is available the call returns NoHostAvailable and creates nothing —
// the host check happens strictly before CreateRun.
func (s *Service) LaunchRun(ctx context.Context, directiveID string, taskKeys []string, targetHostID string) (*models.Run, error) {
	directive, err := s.store.GetDirectiveByID(ctx, directiveID)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindNotFound, "directive not found", err)
	}

	host, err := s.hosts.SelectHost(ctx, targetHostID, false)
	if err != nil {
		return nil, err
	}

	keys := taskKeys
	if len(keys) == 0 {
		keys = directive.TaskList
	}
	permitted := make([]string, 0, len(keys))
	for _, k := range keys {
		if directive.Permits(k) {
			permitted = append(permitted, k)
		} else {
			logWarnSkippedTask(directive.Name, k)
		}
	}
	if len(permitted) == 0 {
		return nil, orcherr.New(orcherr.KindValidation, "no task_keys permitted by directive")
	}

	hostID := host.WorkerHostID
	run := &models.Run{
		DirectiveID:     &directive.DirectiveID,
		DirectiveName:   directive.Name,
		DirectiveConfig: directive.Config,
		Status:          models.RunPending,
		WorkerHostID:    &hostID,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}

	for _, taskKey := range permitted {
		job := &models.Job{RunID: run.RunID, TaskKey: taskKey, Status: models.JobPending}
		if err := s.store.CreateJob(ctx, job); err != nil {
			return nil, fmt.Errorf("creating job for task_key %q: %w", taskKey, err)
		}
		item := &models.JobQueueItem{JobID: job.JobID, Status: models.QueuePending}
		if err := s.store.CreateJobQueueItem(ctx, item); err != nil {
			return nil, fmt.Errorf("creating queue item for task_key %q: %w", taskKey, err)
		}
	}
	return run, nil
}

// RunScheduleNow implements run_schedule_now: it reuses scheduler.BuildRun
// so an ad hoc fire goes through the exact same directive-resolution and
// Run/Job creation path a tick would. A schedule that is already disabled
// (including a one_shot that has already fired) is a no-op returning a nil
// Run — calling this twice in a row on such a schedule produces at most
// one Run total.
func (s *Service) RunScheduleNow(ctx context.Context, scheduleID string) (*models.Run, error) {
	sch, err := s.store.GetScheduleByID(ctx, scheduleID)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindNotFound, "schedule not found", err)
	}
	if !sch.Enabled {
		return nil, nil
	}

	template, err := s.store.GetJobTemplate(ctx, sch.TaskKey)
	if err != nil {
		sch.Enabled = false
		_ = s.store.UpdateSchedule(ctx, sch)
		return nil, orcherr.Wrap(orcherr.KindNotFound, "job template not found", err)
	}
	if !template.Active {
		sch.Enabled = false
		_ = s.store.UpdateSchedule(ctx, sch)
		return nil, orcherr.New(orcherr.KindIllegalTransition, "job template inactive")
	}

	run, err := scheduler.BuildRun(ctx, s.store, sch, template, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("run_schedule_now: %w", err)
	}
	if err := s.store.UpdateSchedule(ctx, sch); err != nil {
		return nil, fmt.Errorf("persisting schedule advance: %w", err)
	}
	return run, nil
}

// LaunchAgentParams is the launch_agent operation's input.
type LaunchAgentParams struct {
	Goal          string
	DirectiveID   string
	MaxSteps      int
	TimeBudgetMin int
	TokenBudget   int
}

// LaunchAgent implements launch_agent: it generates a plan via
// internal/planner and persists an AgentRun with its AgentSteps, pending
// approval first if the directive requires it.
func (s *Service) LaunchAgent(ctx context.Context, p LaunchAgentParams) (*models.AgentRun, []models.AgentStep, error) {
	if p.Goal == "" {
		return nil, nil, orcherr.New(orcherr.KindValidation, "goal is required")
	}
	if p.DirectiveID == "" {
		return nil, nil, orcherr.New(orcherr.KindValidation, "directive_id is required")
	}

	directive, err := s.store.GetDirectiveByID(ctx, p.DirectiveID)
	if err != nil {
		return nil, nil, orcherr.Wrap(orcherr.KindValidation, "directive not found", err)
	}

	steps, err := planner.Plan(p.Goal, directive)
	if err != nil {
		return nil, nil, err
	}

	status := models.AgentPending
	if directive.ApprovalRequired {
		status = models.AgentPendingApproval
	}

	agentRun := &models.AgentRun{
		OperatorGoal:      p.Goal,
		DirectiveID:       &directive.DirectiveID,
		DirectiveName:     directive.Name,
		DirectiveConfig:   directive.Config,
		Status:            status,
		MaxSteps:          p.MaxSteps,
		TimeBudgetMinutes: p.TimeBudgetMin,
		TokenBudget:       p.TokenBudget,
	}
	if err := s.store.CreateAgentRun(ctx, agentRun); err != nil {
		return nil, nil, fmt.Errorf("creating agent run: %w", err)
	}

	for i := range steps {
		steps[i].AgentRunID = agentRun.AgentRunID
		if err := s.store.CreateAgentStep(ctx, &steps[i]); err != nil {
			return nil, nil, fmt.Errorf("creating agent step %d: %w", steps[i].StepIndex, err)
		}
	}
	return agentRun, steps, nil
}

// CancelAgent implements cancel_agent: a terminal AgentRun cannot be
// cancelled again.
func (s *Service) CancelAgent(ctx context.Context, agentRunID string) (models.AgentRunStatus, error) {
	agentRun, err := s.store.GetAgentRunByID(ctx, agentRunID)
	if err != nil {
		return "", orcherr.Wrap(orcherr.KindNotFound, "agent run not found", err)
	}
	if agentRun.IsTerminal() {
		return "", orcherr.New(orcherr.KindIllegalTransition, fmt.Sprintf("agent run already %s", agentRun.Status))
	}

	agentRun.Status = models.AgentCancelled
	ended := s.clock.Now()
	agentRun.EndedAt = &ended
	if err := s.store.UpdateAgentRun(ctx, agentRun); err != nil {
		return "", fmt.Errorf("cancelling agent run: %w", err)
	}
	return agentRun.Status, nil
}

// RunReport is get_run_report's {markdown, json, total_tokens} result.
type RunReport struct {
	Markdown    string
	JSON        models.JSONB
	TotalTokens int
}

// GetRunReport implements get_run_report.
func (s *Service) GetRunReport(ctx context.Context, runID string) (*RunReport, error) {
	run, err := s.store.GetRunByID(ctx, runID)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindNotFound, "run not found", err)
	}
	jobs, err := s.store.ListJobsByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("listing jobs for run: %w", err)
	}

	markdown, reportJSON := report.Build(run, jobs)
	return &RunReport{Markdown: markdown, JSON: reportJSON, TotalTokens: run.TotalTokens}, nil
}

// SinceLastSuccess implements since_last_success: the most recent successful
// Run and every Run created after it, oldest first. When no Run has ever
// succeeded, lastSuccess is nil and runsSince covers every Run ever created.
func (s *Service) SinceLastSuccess(ctx context.Context) (*models.Run, []models.Run, error) {
	since := time.Time{}
	last, err := s.store.LastSuccessfulRun(ctx)
	if err != nil {
		last = nil
	} else if last.EndedAt != nil {
		since = *last.EndedAt
	}

	runs, err := s.store.RunsSince(ctx, since)
	if err != nil {
		return last, nil, fmt.Errorf("listing runs since last success: %w", err)
	}
	return last, runs, nil
}

func logWarnSkippedTask(directiveName, taskKey string) {
	logging.Log.WithField("directive", directiveName).WithField("task_key", taskKey).
		Warn("core: task_key not permitted by directive, skipping")
}
