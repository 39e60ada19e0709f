// Package scheduler implements the scheduler loop: per-tick host
// heartbeats followed by the due-schedule claim-and-dispatch state machine.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/cyberbrain/orchestrator/internal/clock"
	"github.com/cyberbrain/orchestrator/internal/cronparse"
	"github.com/cyberbrain/orchestrator/internal/hosts"
	"github.com/cyberbrain/orchestrator/internal/metrics"
	"github.com/cyberbrain/orchestrator/internal/store"
	"github.com/cyberbrain/orchestrator/internal/store/models"
	"github.com/sirupsen/logrus"
)

// ConcurrencyBackoff is the fixed defer applied when a claimed schedule's
// concurrency gate is exceeded, to prevent a tight reclaim loop.
const ConcurrencyBackoff = 60 * time.Second

// Config controls one scheduler instance's tick behavior.
type Config struct {
	SelfID       string
	PollInterval time.Duration
	MaxClaim     int
	ClaimTTL     time.Duration
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.MaxClaim <= 0 {
		c.MaxClaim = 10
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 2 * time.Minute
	}
	if c.SelfID == "" {
		c.SelfID = fmt.Sprintf("scheduler-%d", time.Now().UnixNano())
	}
}

// Scheduler runs the tick described by §4.F: host heartbeats, then
// due-schedule claim and dispatch.
type Scheduler struct {
	store  store.Store
	clock  clock.Clock
	hosts  *hosts.Registry
	config Config
}

func New(st store.Store, clk clock.Clock, hostRegistry *hosts.Registry, config Config) *Scheduler {
	config.setDefaults()
	return &Scheduler{store: st, clock: clk, hosts: hostRegistry, config: config}
}

// Run loops Tick on PollInterval until ctx is cancelled, matching the
// teacher's ticker+select poller shape.
func (s *Scheduler) Run(ctx context.Context) {
	logging.Log.WithField("claimant", s.config.SelfID).Info("scheduler starting")
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Log.Info("scheduler stopping due to context cancellation")
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				logging.Log.WithError(err).Error("scheduler tick failed")
			}
		}
	}
}

// Tick performs phase 1 (host heartbeats) and phase 2 (schedule claim and
// dispatch). Phase 3 (queue drain, §4.G) is a separate component, run by
// the dispatcher command in its own process.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.clock.Now()
	logging.Log.WithField("claimant", s.config.SelfID).WithField("now", now).Debug("scheduler tick")

	if err := s.heartbeatHosts(ctx); err != nil {
		return fmt.Errorf("phase 1 (host heartbeats): %w", err)
	}

	claimed, err := s.store.ClaimDueSchedules(ctx, now, s.config.MaxClaim, s.config.SelfID, now.Add(s.config.ClaimTTL))
	if err != nil {
		return fmt.Errorf("phase 2 (claim due schedules): %w", err)
	}
	if len(claimed) == 0 {
		logging.Log.Debug("scheduler: no due schedules")
		return nil
	}
	logging.Log.WithField("count", len(claimed)).Info("scheduler: claimed due schedules")
	metrics.RecordScheduleClaim(s.config.SelfID, len(claimed))

	for i := range claimed {
		s.dispatchSchedule(ctx, &claimed[i], now)
	}
	return nil
}

func (s *Scheduler) heartbeatHosts(ctx context.Context) error {
	enabled, err := s.store.ListEnabledHosts(ctx)
	if err != nil {
		return err
	}
	for _, h := range enabled {
		if err := s.hosts.Heartbeat(ctx, h.WorkerHostID); err != nil {
			logging.Log.WithError(err).WithField("host", h.Name).Warn("scheduler: heartbeat failed")
		}
	}
	logging.Log.WithField("count", len(enabled)).Debug("scheduler: heartbeat complete")
	return nil
}

// dispatchSchedule runs steps 2.3.a-f for one claimed schedule. The claim
// acquired in ClaimDueSchedules is always released by the end of this
// function, on every exit path.
func (s *Scheduler) dispatchSchedule(ctx context.Context, sch *models.Schedule, now time.Time) {
	logger := logging.Log.WithField("schedule", sch.Name).WithField("task_key", sch.TaskKey)

	template, err := s.store.GetJobTemplate(ctx, sch.TaskKey)
	if err != nil {
		logger.WithError(err).Warn("scheduler: job template not found, disabling schedule")
		sch.Enabled = false
		s.releaseClaim(ctx, sch)
		return
	}
	if !template.Active {
		logger.Warn("scheduler: job template inactive, disabling schedule")
		sch.Enabled = false
		s.releaseClaim(ctx, sch)
		return
	}

	if !s.concurrencyOK(ctx, sch, logger) {
		metrics.RecordConcurrencyRejection(sch.ScheduleID)
		next := now.Add(ConcurrencyBackoff)
		sch.NextFireAt = &next
		s.releaseClaim(ctx, sch)
		return
	}

	run, err := BuildRun(ctx, s.store, sch, template, now)
	if err != nil {
		logger.WithError(err).Error("scheduler: failed to build run")
		s.releaseClaim(ctx, sch)
		return
	}

	metrics.RecordRunCreated(sch.TaskKey)
	s.releaseClaim(ctx, sch)
	logger.WithField("run_id", run.RunID).Info("scheduler: dispatched run")
}

// BuildRun resolves a schedule's directive, persists one Run and its Jobs,
// and advances the schedule's fire state in place (§4.F.2.c-e). It is
// shared by the tick-driven dispatchSchedule and the ad hoc
// internal/core.RunScheduleNow operation; callers are responsible for
// persisting the schedule afterward.
func BuildRun(ctx context.Context, st store.Store, sch *models.Schedule, template *models.JobTemplate, now time.Time) (*models.Run, error) {
	directive, err := resolveDirective(ctx, st, sch, template)
	if err != nil {
		return nil, fmt.Errorf("resolving directive: %w", err)
	}

	run := &models.Run{
		ScheduleID:      &sch.ScheduleID,
		Status:          models.RunPending,
		DirectiveConfig: directive.Config,
	}
	if directive.DirectiveID != "" {
		run.DirectiveID = &directive.DirectiveID
		run.DirectiveName = directive.Name
	} else {
		run.DirectiveName = fmt.Sprintf("schedule:%s", sch.Name)
	}
	if err := st.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}

	taskKeys := directive.TaskList
	if len(taskKeys) == 0 {
		taskKeys = models.StringList{sch.TaskKey}
	}
	for _, taskKey := range taskKeys {
		job := &models.Job{RunID: run.RunID, TaskKey: taskKey, Status: models.JobPending}
		if err := st.CreateJob(ctx, job); err != nil {
			logging.Log.WithError(err).WithField("job_task_key", taskKey).Error("scheduler: failed to create job")
			continue
		}
		item := &models.JobQueueItem{JobID: job.JobID, Status: models.QueuePending}
		if err := st.CreateJobQueueItem(ctx, item); err != nil {
			logging.Log.WithError(err).WithField("job_id", job.JobID).Error("scheduler: failed to create queue item")
		}
	}

	AdvanceSchedule(sch, now)
	return run, nil
}

// concurrencyOK enforces the global and per-task-key running-count caps.
func (s *Scheduler) concurrencyOK(ctx context.Context, sch *models.Schedule, logger *logrus.Entry) bool {
	if sch.MaxGlobal > 0 {
		running, err := s.store.CountRunningRuns(ctx)
		if err != nil {
			logger.WithError(err).Warn("scheduler: failed to count running runs, deferring")
			return false
		}
		if running >= int64(sch.MaxGlobal) {
			logger.WithField("running", running).Info("scheduler: global concurrency gate exceeded, deferring")
			return false
		}
	}
	if sch.MaxPerJob > 0 {
		running, err := s.store.CountRunningJobsByTaskKey(ctx, sch.TaskKey)
		if err != nil {
			logger.WithError(err).Warn("scheduler: failed to count running jobs by task key, deferring")
			return false
		}
		if running >= int64(sch.MaxPerJob) {
			logger.WithField("running", running).Info("scheduler: per-job concurrency gate exceeded, deferring")
			return false
		}
	}
	return true
}

// resolvedDirective is the snapshot a Run freezes at creation time.
type resolvedDirective struct {
	DirectiveID string
	Name        string
	Config      models.JSONB
	TaskList    models.StringList
}

// resolveDirective prefers the schedule's explicit directive over the job
// template's default, per §4.F.2.c.
func resolveDirective(ctx context.Context, st store.Store, sch *models.Schedule, template *models.JobTemplate) (resolvedDirective, error) {
	directiveID := sch.DirectiveID
	if directiveID == nil {
		directiveID = template.DefaultDirectiveID
	}
	if directiveID == nil {
		return resolvedDirective{TaskList: models.StringList{sch.TaskKey}, Config: template.DefaultConfig}, nil
	}
	d, err := st.GetDirectiveByID(ctx, *directiveID)
	if err != nil {
		return resolvedDirective{}, err
	}
	return resolvedDirective{DirectiveID: d.DirectiveID, Name: d.Name, Config: d.Config, TaskList: d.TaskList}, nil
}

// AdvanceSchedule sets last_fire_at and recomputes next_fire_at, or
// disables a one_shot schedule per §4.F.2.e.
func AdvanceSchedule(sch *models.Schedule, now time.Time) {
	sch.LastFireAt = &now
	switch sch.Kind {
	case models.ScheduleOneShot:
		sch.Enabled = false
		sch.NextFireAt = nil
	case models.ScheduleInterval:
		interval := time.Duration(derefInt(sch.IntervalMinutes)) * time.Minute
		next := cronparse.NextInterval(now, now, interval)
		sch.NextFireAt = &next
	case models.ScheduleCron:
		tz := "UTC"
		if sch.CronTimezone != nil {
			tz = *sch.CronTimezone
		}
		expr := ""
		if sch.CronExpression != nil {
			expr = *sch.CronExpression
		}
		next, err := cronparse.NextCron(expr, tz, now)
		if err != nil {
			logging.Log.WithError(err).WithField("schedule", sch.Name).Error("scheduler: failed to compute next cron fire, disabling")
			sch.Enabled = false
			return
		}
		sch.NextFireAt = &next
	}
}

func (s *Scheduler) releaseClaim(ctx context.Context, sch *models.Schedule) {
	sch.ClaimedBy = ""
	sch.ClaimedUntil = nil
	if err := s.store.UpdateSchedule(ctx, sch); err != nil {
		logging.Log.WithError(err).WithField("schedule", sch.Name).Error("scheduler: failed to release schedule claim")
	}
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
