package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/cyberbrain/orchestrator/internal/clock"
	"github.com/cyberbrain/orchestrator/internal/hosts"
	"github.com/cyberbrain/orchestrator/internal/store/memstore"
	"github.com/cyberbrain/orchestrator/internal/store/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopProber struct{}

func (noopProber) Probe(context.Context, models.WorkerHost) error { return nil }

func newTestScheduler(t *testing.T, now time.Time) (*Scheduler, *memstore.Store, *clock.Fake) {
	t.Helper()
	st := memstore.New()
	fakeClock := clock.NewFake(now)
	hostRegistry := hosts.New(st, fakeClock, noopProber{}, time.Minute, 5*time.Minute)
	sched := New(st, fakeClock, hostRegistry, Config{SelfID: "test-scheduler", MaxClaim: 10, ClaimTTL: 2 * time.Minute})
	return sched, st, fakeClock
}

func TestTickDispatchesDueSchedule(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	sched, st, _ := newTestScheduler(t, now)
	ctx := context.Background()

	st.PutJobTemplate(models.JobTemplate{TaskKey: "log_triage", DisplayName: "Log Triage", Active: true})
	past := now.Add(-time.Minute)
	require.NoError(t, st.CreateSchedule(ctx, &models.Schedule{
		ScheduleID: "sch-1", Name: "nightly-triage", TaskKey: "log_triage",
		Kind: models.ScheduleInterval, IntervalMinutes: intPtr(60),
		NextFireAt: &past, Enabled: true,
	}))

	require.NoError(t, sched.Tick(ctx))

	updated, err := st.GetScheduleByID(ctx, "sch-1")
	require.NoError(t, err)
	assert.Empty(t, updated.ClaimedBy)
	assert.NotNil(t, updated.LastFireAt)
	assert.NotNil(t, updated.NextFireAt)
	assert.True(t, updated.NextFireAt.After(now))
}

func TestTickDisablesScheduleWithInactiveTemplate(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	sched, st, _ := newTestScheduler(t, now)
	ctx := context.Background()

	st.PutJobTemplate(models.JobTemplate{TaskKey: "log_triage", Active: false})
	past := now.Add(-time.Minute)
	require.NoError(t, st.CreateSchedule(ctx, &models.Schedule{
		ScheduleID: "sch-2", Name: "stale-schedule", TaskKey: "log_triage",
		Kind: models.ScheduleOneShot, FireAt: &past, NextFireAt: &past, Enabled: true,
	}))

	require.NoError(t, sched.Tick(ctx))

	updated, err := st.GetScheduleByID(ctx, "sch-2")
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
}

func TestTickDefersWhenConcurrencyGateExceeded(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	sched, st, _ := newTestScheduler(t, now)
	ctx := context.Background()

	st.PutJobTemplate(models.JobTemplate{TaskKey: "log_triage", Active: true})
	require.NoError(t, st.CreateRun(ctx, &models.Run{RunID: "run-running", Status: models.RunRunning}))

	past := now.Add(-time.Minute)
	require.NoError(t, st.CreateSchedule(ctx, &models.Schedule{
		ScheduleID: "sch-3", Name: "capped-schedule", TaskKey: "log_triage",
		Kind: models.ScheduleInterval, IntervalMinutes: intPtr(60),
		NextFireAt: &past, Enabled: true, MaxGlobal: 1,
	}))

	require.NoError(t, sched.Tick(ctx))

	updated, err := st.GetScheduleByID(ctx, "sch-3")
	require.NoError(t, err)
	assert.Empty(t, updated.ClaimedBy)
	assert.Nil(t, updated.LastFireAt)
	require.NotNil(t, updated.NextFireAt)
	assert.True(t, updated.NextFireAt.Equal(now.Add(ConcurrencyBackoff)))
}

func intPtr(v int) *int { return &v }
