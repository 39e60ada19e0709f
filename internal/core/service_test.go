package core

import (
	"context"
	"testing"
	"time"

	"github.com/cyberbrain/orchestrator/internal/clock"
	"github.com/cyberbrain/orchestrator/internal/hosts"
	"github.com/cyberbrain/orchestrator/internal/orcherr"
	"github.com/cyberbrain/orchestrator/internal/store/memstore"
	"github.com/cyberbrain/orchestrator/internal/store/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopProber struct{}

func (noopProber) Probe(context.Context, models.WorkerHost) error { return nil }

func newTestService(t *testing.T, now time.Time) (*Service, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	fakeClock := clock.NewFake(now)
	hostRegistry := hosts.New(st, fakeClock, noopProber{}, time.Minute, 5*time.Minute)
	return New(st, fakeClock, hostRegistry), st
}

func TestLaunchRunNoHostAvailableCreatesNoRun(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc, st := newTestService(t, now)
	ctx := context.Background()

	directive := models.Directive{Name: "analyze", Category: "D1", TaskList: models.StringList{"log_triage"}}
	require.NoError(t, st.CreateDirective(ctx, &directive))

	_, err := svc.LaunchRun(ctx, directive.DirectiveID, nil, "")
	require.Error(t, err)
	kind, ok := orcherr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, orcherr.KindNoHostAvailable, kind)
	assert.Equal(t, 0, st.RunCount())
}

func TestLaunchRunSucceedsWhenHostAvailable(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc, st := newTestService(t, now)
	ctx := context.Background()

	directive := models.Directive{Name: "analyze", Category: "D1", TaskList: models.StringList{"log_triage"}}
	require.NoError(t, st.CreateDirective(ctx, &directive))
	require.NoError(t, st.CreateWorkerHost(ctx, &models.WorkerHost{
		Name: "host-1", Kind: models.HostLocalSocket, BaseURL: "/var/run/docker.sock",
		Enabled: true, Healthy: true, LastSeenAt: &now,
	}))

	run, err := svc.LaunchRun(ctx, directive.DirectiveID, nil, "")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, 1, st.RunCount())

	jobs, err := st.ListJobsByRun(ctx, run.RunID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "log_triage", jobs[0].TaskKey)
}

func TestRunScheduleNowIsIdempotentOnDisabledOneShot(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc, st := newTestService(t, now)
	ctx := context.Background()

	st.PutJobTemplate(models.JobTemplate{TaskKey: "log_triage", Active: true})
	fireAt := now.Add(-time.Minute)
	sch := models.Schedule{
		Name: "one-off", TaskKey: "log_triage",
		Kind: models.ScheduleOneShot, FireAt: &fireAt, NextFireAt: &fireAt, Enabled: true,
	}
	require.NoError(t, st.CreateSchedule(ctx, &sch))

	run1, err := svc.RunScheduleNow(ctx, sch.ScheduleID)
	require.NoError(t, err)
	require.NotNil(t, run1)
	assert.Equal(t, 1, st.RunCount())

	updated, err := st.GetScheduleByID(ctx, sch.ScheduleID)
	require.NoError(t, err)
	assert.False(t, updated.Enabled)

	run2, err := svc.RunScheduleNow(ctx, sch.ScheduleID)
	require.NoError(t, err)
	assert.Nil(t, run2)
	assert.Equal(t, 1, st.RunCount())
}

func TestCancelAgentRejectsTerminalRun(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc, st := newTestService(t, now)
	ctx := context.Background()

	agentRun := models.AgentRun{OperatorGoal: "goal", Status: models.AgentCompleted}
	require.NoError(t, st.CreateAgentRun(ctx, &agentRun))

	_, err := svc.CancelAgent(ctx, agentRun.AgentRunID)
	require.Error(t, err)
	kind, ok := orcherr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, orcherr.KindIllegalTransition, kind)
}

func TestLaunchAgentGeneratesPlanAndSteps(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc, st := newTestService(t, now)
	ctx := context.Background()

	directive := models.Directive{Name: "ops", Category: "D1", TaskList: models.StringList{"gpu_report"}}
	require.NoError(t, st.CreateDirective(ctx, &directive))

	agentRun, steps, err := svc.LaunchAgent(ctx, LaunchAgentParams{
		Goal: "check gpu utilization", DirectiveID: directive.DirectiveID, MaxSteps: 5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, steps)
	assert.Equal(t, models.AgentPending, agentRun.Status)

	persisted, err := st.ListAgentSteps(ctx, agentRun.AgentRunID)
	require.NoError(t, err)
	assert.Equal(t, len(steps), len(persisted))
}
