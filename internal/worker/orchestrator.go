// Package worker implements the worker orchestrator: allowlist-checked,
// GPU-aware container spawning with append-only lifecycle auditing.
package worker

import (
	"context"
	"fmt"
	"io"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/cyberbrain/orchestrator/internal/gpu"
	"github.com/cyberbrain/orchestrator/internal/hosts"
	"github.com/cyberbrain/orchestrator/internal/metrics"
	"github.com/cyberbrain/orchestrator/internal/orcherr"
	"github.com/cyberbrain/orchestrator/internal/store"
	"github.com/cyberbrain/orchestrator/internal/store/models"
)

// RunnerFactory resolves a JobRunner for a WorkerHost, choosing DockerRunner
// for local_socket hosts and RemoteRunner for remote_tcp hosts.
type RunnerFactory func(ctx context.Context, host models.WorkerHost) (JobRunner, error)

// DefaultRunnerFactory builds the standard two-backend factory.
func DefaultRunnerFactory() RunnerFactory {
	return func(ctx context.Context, host models.WorkerHost) (JobRunner, error) {
		switch host.Kind {
		case models.HostLocalSocket:
			return NewDockerRunner()
		case models.HostRemoteTCP:
			var cfg hosts.SSHTunnelConfig
			if host.SSHConfig != nil {
				if v, ok := host.SSHConfig["addr"].(string); ok {
					cfg.Addr = v
				}
				if v, ok := host.SSHConfig["user"].(string); ok {
					cfg.User = v
				}
				if v, ok := host.SSHConfig["private_key_pem"].(string); ok {
					cfg.PrivateKeyPEM = v
				}
				if v, ok := host.SSHConfig["remote_socket"].(string); ok {
					cfg.RemoteSocket = v
				}
				if v, ok := host.SSHConfig["host_key_pem"].(string); ok {
					cfg.HostKeyPEM = v
				}
			}
			return NewRemoteRunner(cfg)
		default:
			return nil, fmt.Errorf("unknown worker host kind %q", host.Kind)
		}
	}
}

// SpawnRequest is the input to SpawnWorker.
type SpawnRequest struct {
	Run         *models.Run
	Job         *models.Job
	Host        models.WorkerHost
	Image       string
	Tag         string
	RequireGPU  bool
	ExplicitGPU string
	Env         map[string]string
	LogsDir     string
	UploadsDir  string
}

// Orchestrator implements spawn_worker/stop_worker/list_active/
// cleanup_orphans per §4.E.
type Orchestrator struct {
	store   store.Store
	gpu     *gpu.Registry
	runners RunnerFactory
}

func NewOrchestrator(st store.Store, gpuRegistry *gpu.Registry, runners RunnerFactory) *Orchestrator {
	if runners == nil {
		runners = DefaultRunnerFactory()
	}
	return &Orchestrator{store: st, gpu: gpuRegistry, runners: runners}
}

// SpawnWorker implements the full §4.E contract: allowlist check, GPU
// allocation, fixed-invariant container construction, spawn, and
// append-only auditing.
func (o *Orchestrator) SpawnWorker(ctx context.Context, req SpawnRequest) (containerID string, err error) {
	entry, aErr := o.store.GetAllowlistEntry(ctx, req.Image, req.Tag)
	if aErr != nil {
		o.audit(ctx, models.AuditSpawn, req, "", "", "image not allowlisted", false)
		metrics.RecordWorkerSpawn(req.Image, false)
		return "", orcherr.Wrap(orcherr.KindImageNotAllowed, fmt.Sprintf("image %s:%s is not allowlisted", req.Image, req.Tag), aErr)
	}

	var gpuID, rationale string
	if req.RequireGPU {
		gpuID, rationale, err = o.gpu.SelectGPU(ctx, req.Host.WorkerHostID, entry.MinVRAMMB, req.ExplicitGPU)
		if err != nil {
			o.audit(ctx, models.AuditSpawn, req, "", "", err.Error(), false)
			return "", err
		}
		if gpuID == gpu.CPUFallback && entry.RequiresGPU {
			o.audit(ctx, models.AuditSpawn, req, "", "", "no gpu available for gpu-required image", false)
			return "", orcherr.New(orcherr.KindNoGPUAvailable, "no GPU available for a GPU-required image")
		}
	}

	releaseGPU := func() {
		if gpuID != "" && gpuID != gpu.CPUFallback {
			if relErr := o.gpu.Release(ctx, req.Host.WorkerHostID, gpuID); relErr != nil {
				logging.Log.WithError(relErr).Warn("worker orchestrator: failed to release gpu after failed spawn")
			}
		}
	}

	runner, rErr := o.runners(ctx, req.Host)
	if rErr != nil {
		releaseGPU()
		o.audit(ctx, models.AuditSpawn, req, "", gpuID, rErr.Error(), false)
		return "", rErr
	}

	labels := map[string]string{
		"run_id":   req.Run.RunID,
		"job_id":   req.Job.JobID,
		"task_key": req.Job.TaskKey,
	}
	if gpuID != "" && gpuID != gpu.CPUFallback {
		labels["gpu_device_id"] = gpuID
	}
	config := &WorkerConfig{
		Image:         req.Image,
		Tag:           req.Tag,
		Env:           req.Env,
		LogsDir:       req.LogsDir,
		UploadsDir:    req.UploadsDir,
		MemoryLimitMB: memoryLimitForAllowlist(entry),
		GPUDeviceID:   gpuID,
		Labels:        labels,
		ContainerName: fmt.Sprintf("orchestrator-job-%s", req.Job.JobID),
	}

	id, spawnErr := runner.SpawnWorker(ctx, config)
	if spawnErr != nil {
		releaseGPU()
		o.audit(ctx, models.AuditSpawn, req, "", gpuID, spawnErr.Error(), false)
		metrics.RecordWorkerSpawn(req.Image, false)
		return "", fmt.Errorf("spawning worker: %w", spawnErr)
	}

	o.audit(ctx, models.AuditSpawn, req, id, gpuID, rationale, true)
	metrics.RecordWorkerSpawn(req.Image, true)
	return id, nil
}

// memoryLimitForAllowlist is a placeholder policy: a fixed default cap
// applied to every spawned worker. A future allowlist revision could carry
// a per-image override; none exists in the current schema.
func memoryLimitForAllowlist(_ *models.WorkerImageAllowlist) int {
	return 2048
}

// StopWorker reads the container's labels to recover the GPU id it was
// spawned with, stops-with-timeout, removes, and decrements
// active_workers. Stop failures are best-effort — the error is audited,
// never returned as a fatal condition to the caller.
func (o *Orchestrator) StopWorker(ctx context.Context, host models.WorkerHost, containerID string, timeoutSeconds int) error {
	runner, err := o.runners(ctx, host)
	if err != nil {
		return err
	}

	labels, labelErr := runner.Labels(ctx, containerID)
	var gpuID string
	if labelErr == nil {
		gpuID = labels["gpu_device_id"]
	}

	stopErr := runner.Stop(ctx, containerID, timeoutSeconds)
	if stopErr != nil {
		logging.Log.WithError(stopErr).WithField("container_id", containerID).Warn("worker orchestrator: stop failed, attempting cleanup anyway")
	}
	cleanupErr := runner.Cleanup(ctx, containerID)

	if gpuID != "" {
		if relErr := o.gpu.Release(ctx, host.WorkerHostID, gpuID); relErr != nil {
			logging.Log.WithError(relErr).Warn("worker orchestrator: failed to release gpu on stop")
		}
	}

	success := stopErr == nil && cleanupErr == nil
	errText := ""
	if !success {
		if stopErr != nil {
			errText = stopErr.Error()
		} else if cleanupErr != nil {
			errText = cleanupErr.Error()
		}
	}
	if auditErr := o.store.CreateWorkerAudit(ctx, &models.WorkerAudit{
		Operation:   models.AuditStop,
		ContainerID: containerID,
		GPUID:       gpuID,
		Success:     success,
		ErrorText:   errText,
	}); auditErr != nil {
		logging.Log.WithError(auditErr).Warn("worker orchestrator: failed to write stop audit")
	}

	if cleanupErr != nil {
		return cleanupErr
	}
	return nil
}

// ListActive lists active container ids on a host matching a label
// selector.
func (o *Orchestrator) ListActive(ctx context.Context, host models.WorkerHost, labels map[string]string) ([]string, error) {
	runner, err := o.runners(ctx, host)
	if err != nil {
		return nil, err
	}
	return runner.ListByLabel(ctx, labels)
}

// AwaitCompletion streams a spawned container's stdout to completion and
// returns its exit code alongside everything it wrote. Callers are
// responsible for cleanup (StopWorker) once they've read the result — this
// method only observes, it never stops or removes anything.
func (o *Orchestrator) AwaitCompletion(ctx context.Context, host models.WorkerHost, containerID string) (exitCode int, stdout []byte, err error) {
	runner, rErr := o.runners(ctx, host)
	if rErr != nil {
		return -1, nil, rErr
	}

	out, _, sErr := runner.StreamLogs(ctx, containerID)
	if sErr != nil {
		return -1, nil, sErr
	}

	collected := make(chan []byte, 1)
	go func() {
		defer out.Close()
		data, _ := io.ReadAll(out)
		collected <- data
	}()

	code, wErr := runner.WaitForCompletion(ctx, containerID)
	if wErr != nil {
		return -1, nil, wErr
	}
	return code, <-collected, nil
}

// Inspect reads back a container's name, image and status on a host,
// without requiring the caller to resolve a runner itself.
func (o *Orchestrator) Inspect(ctx context.Context, host models.WorkerHost, containerID string) (ContainerInfo, error) {
	runner, err := o.runners(ctx, host)
	if err != nil {
		return ContainerInfo{}, err
	}
	return runner.Inspect(ctx, containerID)
}

// CleanupOrphans removes exited containers labelled ephemeral=true on a
// host, for periodic sweeping.
func (o *Orchestrator) CleanupOrphans(ctx context.Context, host models.WorkerHost) error {
	runner, err := o.runners(ctx, host)
	if err != nil {
		return err
	}
	ids, err := runner.ListByLabel(ctx, map[string]string{EphemeralLabel: "true"})
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, waitErr := runner.WaitForCompletion(ctx, id); waitErr != nil {
			continue
		}
		if err := runner.Cleanup(ctx, id); err != nil {
			logging.Log.WithError(err).WithField("container_id", id).Warn("worker orchestrator: failed to clean up orphan")
		}
	}
	return nil
}

// audit writes a spawn-path audit record. Per §4.E, callers of SpawnWorker
// are expected to invoke it with a context carrying the same transaction
// as the Job state mutation it accompanies, so the audit row survives a
// crash alongside the state it describes.
func (o *Orchestrator) audit(ctx context.Context, op models.WorkerAuditOp, req SpawnRequest, containerID, gpuID, rationale string, success bool) {
	errText := ""
	if !success {
		errText = rationale
	}
	record := &models.WorkerAudit{
		Operation:   op,
		ContainerID: containerID,
		Image:       req.Image + ":" + req.Tag,
		GPUID:       gpuID,
		Rationale:   rationale,
		Success:     success,
		ErrorText:   errText,
	}
	if req.Run != nil {
		record.RunID = &req.Run.RunID
	}
	if req.Job != nil {
		record.JobID = &req.Job.JobID
	}
	if err := o.store.CreateWorkerAudit(ctx, record); err != nil {
		logging.Log.WithError(err).Warn("worker orchestrator: failed to write spawn audit")
	}
}
