package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/cyberbrain/orchestrator/internal/clock"
	"github.com/cyberbrain/orchestrator/internal/store/memstore"
	"github.com/cyberbrain/orchestrator/internal/store/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestUpdateRunAggregatePartialOnMixedOutcome covers S6: a Run whose Jobs
// settle as [success, failed] aggregates to partial, with EndedAt pinned to
// the later of the two Jobs' EndedAt rather than the time of the first
// terminal Job.
func TestUpdateRunAggregatePartialOnMixedOutcome(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fakeClock := clock.NewFake(start)
	st := memstore.New()

	run := &models.Run{Status: models.RunRunning, DirectiveName: "schedule:test"}
	require.NoError(t, st.CreateRun(ctx, run))

	jobOK := &models.Job{RunID: run.RunID, TaskKey: "log_triage", Status: models.JobRunning}
	require.NoError(t, st.CreateJob(ctx, jobOK))
	jobFail := &models.Job{RunID: run.RunID, TaskKey: "gpu_report", Status: models.JobRunning}
	require.NoError(t, st.CreateJob(ctx, jobFail))

	itemOK := &models.JobQueueItem{JobID: jobOK.JobID, Status: models.QueueRunning}
	require.NoError(t, st.CreateJobQueueItem(ctx, itemOK))
	itemFail := &models.JobQueueItem{JobID: jobFail.JobID, Status: models.QueueRunning}
	require.NoError(t, st.CreateJobQueueItem(ctx, itemFail))

	d := &Dispatcher{store: st, clock: fakeClock, config: Config{SelfID: "test"}}
	d.config.setDefaults()

	d.finishJob(ctx, run, jobOK, itemOK, models.JobSuccess, models.JSONB{"ok": true}, "")
	require.Equal(t, models.RunRunning, run.Status, "run stays running until every job is terminal")

	fakeClock.Advance(5 * time.Second)
	d.finishJob(ctx, run, jobFail, itemFail, models.JobFailed, nil, "boom")

	assert.Equal(t, models.RunPartial, run.Status)
	require.NotNil(t, run.EndedAt)
	assert.True(t, run.EndedAt.Equal(*jobFail.EndedAt), "run should end at the later (second) job's completion time")
	assert.True(t, run.EndedAt.After(*jobOK.EndedAt), "run's end time should be after the first job's completion time")
}

func TestUpdateRunAggregateSumsTokensAcrossJobs(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fakeClock := clock.NewFake(start)
	st := memstore.New()

	run := &models.Run{Status: models.RunRunning, DirectiveName: "schedule:test"}
	require.NoError(t, st.CreateRun(ctx, run))

	job1 := &models.Job{RunID: run.RunID, TaskKey: "log_triage", Status: models.JobRunning, PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	require.NoError(t, st.CreateJob(ctx, job1))
	job2 := &models.Job{RunID: run.RunID, TaskKey: "gpu_report", Status: models.JobRunning, PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10}
	require.NoError(t, st.CreateJob(ctx, job2))

	item1 := &models.JobQueueItem{JobID: job1.JobID, Status: models.QueueRunning}
	require.NoError(t, st.CreateJobQueueItem(ctx, item1))
	item2 := &models.JobQueueItem{JobID: job2.JobID, Status: models.QueueRunning}
	require.NoError(t, st.CreateJobQueueItem(ctx, item2))

	d := &Dispatcher{store: st, clock: fakeClock, config: Config{SelfID: "test"}}
	d.config.setDefaults()

	d.finishJob(ctx, run, job1, item1, models.JobSuccess, nil, "")
	d.finishJob(ctx, run, job2, item2, models.JobSuccess, nil, "")

	assert.Equal(t, models.RunSuccess, run.Status)
	assert.Equal(t, 17, run.PromptTokens)
	assert.Equal(t, 8, run.CompletionTokens)
	assert.Equal(t, 25, run.TotalTokens)
}
