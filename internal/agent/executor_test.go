package agent

import (
	"context"
	"testing"
	"time"

	"github.com/cyberbrain/orchestrator/internal/clock"
	"github.com/cyberbrain/orchestrator/internal/hosts"
	"github.com/cyberbrain/orchestrator/internal/store/memstore"
	"github.com/cyberbrain/orchestrator/internal/store/models"
	"github.com/cyberbrain/orchestrator/internal/tasks"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T) (*Executor, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	clk := clock.NewFake(time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC))
	hostRegistry := hosts.New(st, clk, hosts.NewDockerProber(), time.Minute, time.Minute)
	taskRegistry := tasks.NewRegistry()
	taskDeps := &tasks.Dependencies{Store: st, Clock: clk, HostRegistry: hostRegistry}

	exec := New(st, clk, hostRegistry, taskRegistry, taskDeps)
	exec.sleep = func(time.Duration) {}
	return exec, st
}

func mustCreateAgentRun(t *testing.T, st *memstore.Store, maxSteps, timeBudgetMinutes, tokenBudget int) *models.AgentRun {
	t.Helper()
	run := &models.AgentRun{
		OperatorGoal:      "triage the latest failures",
		Status:            models.AgentPending,
		MaxSteps:          maxSteps,
		TimeBudgetMinutes: timeBudgetMinutes,
		TokenBudget:       tokenBudget,
	}
	require.NoError(t, st.CreateAgentRun(context.Background(), run))
	return run
}

func TestExecuteWaitStepCompletesRun(t *testing.T) {
	exec, st := newTestExecutor(t)
	ctx := context.Background()

	run := mustCreateAgentRun(t, st, 5, 60, 10000)
	step := &models.AgentStep{
		AgentRunID: run.AgentRunID,
		StepIndex:  0,
		StepType:   models.StepWait,
		Inputs:     models.JSONB{"seconds": float64(1)},
		Status:     models.AgentStepPending,
	}
	require.NoError(t, st.CreateAgentStep(ctx, step))

	require.NoError(t, exec.Execute(ctx, run))

	updated, err := st.GetAgentRunByID(ctx, run.AgentRunID)
	require.NoError(t, err)
	require.Equal(t, models.AgentCompleted, updated.Status)
	require.NotNil(t, updated.EndedAt)

	steps, err := st.ListAgentSteps(ctx, run.AgentRunID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	require.Equal(t, models.AgentStepSuccess, steps[0].Status)
}

func TestExecutePendingApprovalStopsImmediately(t *testing.T) {
	exec, st := newTestExecutor(t)
	ctx := context.Background()

	run := mustCreateAgentRun(t, st, 5, 60, 10000)
	run.Status = models.AgentPendingApproval
	require.NoError(t, st.UpdateAgentRun(ctx, run))

	require.NoError(t, exec.Execute(ctx, run))

	updated, err := st.GetAgentRunByID(ctx, run.AgentRunID)
	require.NoError(t, err)
	require.Equal(t, models.AgentPendingApproval, updated.Status)
	require.Nil(t, updated.EndedAt)
}

func TestExecuteMaxStepsExceededCompletesRun(t *testing.T) {
	exec, st := newTestExecutor(t)
	ctx := context.Background()

	run := mustCreateAgentRun(t, st, 0, 60, 10000)
	step := &models.AgentStep{
		AgentRunID: run.AgentRunID,
		StepIndex:  0,
		StepType:   models.StepWait,
		Inputs:     models.JSONB{},
		Status:     models.AgentStepPending,
	}
	require.NoError(t, st.CreateAgentStep(ctx, step))

	require.NoError(t, exec.Execute(ctx, run))

	updated, err := st.GetAgentRunByID(ctx, run.AgentRunID)
	require.NoError(t, err)
	require.Equal(t, models.AgentCompleted, updated.Status)

	steps, err := st.ListAgentSteps(ctx, run.AgentRunID)
	require.NoError(t, err)
	require.Equal(t, models.AgentStepPending, steps[0].Status, "step past max_steps must never execute")
}

func TestExecuteTimeBudgetExceededYieldsTimeout(t *testing.T) {
	exec, st := newTestExecutor(t)
	ctx := context.Background()

	run := mustCreateAgentRun(t, st, 5, 1, 10000)
	started := time.Date(2026, 7, 31, 11, 0, 0, 0, time.UTC)
	run.StartedAt = &started
	require.NoError(t, st.UpdateAgentRun(ctx, run))

	step := &models.AgentStep{
		AgentRunID: run.AgentRunID,
		StepIndex:  0,
		StepType:   models.StepWait,
		Inputs:     models.JSONB{},
		Status:     models.AgentStepPending,
	}
	require.NoError(t, st.CreateAgentStep(ctx, step))

	require.NoError(t, exec.Execute(ctx, run))

	updated, err := st.GetAgentRunByID(ctx, run.AgentRunID)
	require.NoError(t, err)
	require.Equal(t, models.AgentTimeout, updated.Status)
}

func TestExecuteUnknownStepTypeFailsRun(t *testing.T) {
	exec, st := newTestExecutor(t)
	ctx := context.Background()

	run := mustCreateAgentRun(t, st, 5, 60, 10000)
	step := &models.AgentStep{
		AgentRunID: run.AgentRunID,
		StepIndex:  0,
		StepType:   "bogus",
		Inputs:     models.JSONB{},
		Status:     models.AgentStepPending,
	}
	require.NoError(t, st.CreateAgentStep(ctx, step))

	require.NoError(t, exec.Execute(ctx, run))

	updated, err := st.GetAgentRunByID(ctx, run.AgentRunID)
	require.NoError(t, err)
	require.Equal(t, models.AgentFailed, updated.Status)

	steps, err := st.ListAgentSteps(ctx, run.AgentRunID)
	require.NoError(t, err)
	require.Equal(t, models.AgentStepFailed, steps[0].Status)
	require.NotEmpty(t, steps[0].ErrorText)
}
