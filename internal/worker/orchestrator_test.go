package worker

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/cyberbrain/orchestrator/internal/clock"
	"github.com/cyberbrain/orchestrator/internal/gpu"
	"github.com/cyberbrain/orchestrator/internal/orcherr"
	"github.com/cyberbrain/orchestrator/internal/store/memstore"
	"github.com/cyberbrain/orchestrator/internal/store/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	spawnErr  error
	lastLabels map[string]string
	stopped   []string
	stopErr   error
}

func (f *fakeRunner) SpawnWorker(_ context.Context, config *WorkerConfig) (string, error) {
	if f.spawnErr != nil {
		return "", f.spawnErr
	}
	f.lastLabels = config.Labels
	return "container-123", nil
}

func (f *fakeRunner) StreamLogs(context.Context, string) (io.ReadCloser, io.ReadCloser, error) {
	return nil, nil, nil
}
func (f *fakeRunner) WaitForCompletion(context.Context, string) (int, error) { return 0, nil }
func (f *fakeRunner) Cleanup(context.Context, string) error                  { return nil }
func (f *fakeRunner) Labels(context.Context, string) (map[string]string, error) {
	return f.lastLabels, nil
}
func (f *fakeRunner) ListByLabel(context.Context, map[string]string) ([]string, error) {
	return nil, nil
}
func (f *fakeRunner) Stop(_ context.Context, containerID string, _ int) error {
	f.stopped = append(f.stopped, containerID)
	return f.stopErr
}
func (f *fakeRunner) Inspect(context.Context, string) (ContainerInfo, error) {
	return ContainerInfo{}, nil
}

func newTestOrchestrator(t *testing.T, runner *fakeRunner) (*Orchestrator, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	gpuReg := gpu.New(st, clock.NewFake(time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)))
	orch := NewOrchestrator(st, gpuReg, func(context.Context, models.WorkerHost) (JobRunner, error) {
		return runner, nil
	})
	return orch, st
}

func TestSpawnWorkerRejectsUnallowlistedImage(t *testing.T) {
	runner := &fakeRunner{}
	orch, _ := newTestOrchestrator(t, runner)

	run := &models.Run{RunID: "run-1"}
	job := &models.Job{JobID: "job-1", TaskKey: "log_triage"}

	_, err := orch.SpawnWorker(context.Background(), SpawnRequest{
		Run: run, Job: job, Host: models.WorkerHost{WorkerHostID: "host-1"},
		Image: "untrusted/image", Tag: "latest",
		LogsDir: "/logs", UploadsDir: "/uploads",
	})
	require.Error(t, err)
	kind, ok := orcherr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, orcherr.KindImageNotAllowed, kind)
}

func TestSpawnWorkerSucceedsAndLabels(t *testing.T) {
	runner := &fakeRunner{}
	orch, st := newTestOrchestrator(t, runner)

	st.PutAllowlistEntry(models.WorkerImageAllowlist{
		Image: "orchestrator/runner", Tag: "latest", Active: true,
	})

	run := &models.Run{RunID: "run-1"}
	job := &models.Job{JobID: "job-1", TaskKey: "log_triage"}

	id, err := orch.SpawnWorker(context.Background(), SpawnRequest{
		Run: run, Job: job, Host: models.WorkerHost{WorkerHostID: "host-1"},
		Image: "orchestrator/runner", Tag: "latest",
		LogsDir: "/logs", UploadsDir: "/uploads",
	})
	require.NoError(t, err)
	assert.Equal(t, "container-123", id)
	assert.Equal(t, "run-1", runner.lastLabels["run_id"])
}

func TestSpawnWorkerFailsWithoutGPUWhenRequired(t *testing.T) {
	runner := &fakeRunner{}
	orch, st := newTestOrchestrator(t, runner)

	st.PutAllowlistEntry(models.WorkerImageAllowlist{
		Image: "orchestrator/gpu-runner", Tag: "latest", Active: true,
		RequiresGPU: true, MinVRAMMB: 4096,
	})

	run := &models.Run{RunID: "run-1"}
	job := &models.Job{JobID: "job-1", TaskKey: "gpu_report"}

	_, err := orch.SpawnWorker(context.Background(), SpawnRequest{
		Run: run, Job: job, Host: models.WorkerHost{WorkerHostID: "host-1"},
		Image: "orchestrator/gpu-runner", Tag: "latest", RequireGPU: true,
		LogsDir: "/logs", UploadsDir: "/uploads",
	})
	require.Error(t, err)
	kind, ok := orcherr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, orcherr.KindNoGPUAvailable, kind)
}

func TestStopWorkerIsBestEffortOnError(t *testing.T) {
	runner := &fakeRunner{stopErr: errors.New("stop timed out")}
	orch, _ := newTestOrchestrator(t, runner)

	err := orch.StopWorker(context.Background(), models.WorkerHost{WorkerHostID: "host-1"}, "container-123", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"container-123"}, runner.stopped)
}
