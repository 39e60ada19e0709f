package tasks

import (
	"context"
	"strconv"

	"github.com/cyberbrain/orchestrator/internal/store/models"
)

// GPUReportTask summarizes every reported GPU's telemetry and the
// containers the allowlist knows about, grounded on services.py's
// execute_gpu_report. It never spawns a container — it reads existing
// state through the store (ListAllGPUStates) and the worker orchestrator's inspect
// capability, matching the original's read-only Docker API usage.
type GPUReportTask struct{}

func (t *GPUReportTask) Execute(ctx context.Context, deps *Dependencies, in Input) (Output, error) {
	gpuStates, err := deps.Store.ListAllGPUStates(ctx)
	if err != nil {
		return Output{}, err
	}

	gpus := make([]models.JSONB, 0, len(gpuStates))
	for _, g := range gpuStates {
		gpus = append(gpus, models.JSONB{
			"worker_host_id":  g.WorkerHostID,
			"gpu_id":          g.GPUID,
			"total_vram_mb":   g.TotalVRAMMB,
			"free_vram_mb":    g.FreeVRAMMB,
			"utilization_pct": g.UtilizationPct,
			"is_available":    g.IsAvailable,
			"active_workers":  g.ActiveWorkers,
			"score":           g.Score(),
		})
	}

	containers := inspectAllowedContainers(ctx, deps)

	return Output{Result: models.JSONB{
		"task":       models.TaskGPUReport,
		"gpus":       gpus,
		"containers": containers,
		"summary":    summarizeGPUReport(len(gpuStates), len(containers)),
	}}, nil
}

func summarizeGPUReport(gpuCount, containerCount int) string {
	if gpuCount == 0 {
		return "no GPUs reported"
	}
	return "reported " + strconv.Itoa(gpuCount) + " gpu(s) across " + strconv.Itoa(containerCount) + " allowlisted container(s)"
}

// inspectAllowedContainers walks the container allowlist and inspects each
// entry against every enabled host, since ContainerAllowlist does not pin a
// container to a specific host. The first host that recognizes the id wins.
func inspectAllowedContainers(ctx context.Context, deps *Dependencies) []models.JSONB {
	entries, err := deps.Store.ListContainerAllowlist(ctx)
	if err != nil || deps.Orchestrator == nil || deps.HostRegistry == nil {
		return nil
	}
	hosts, err := deps.Store.ListEnabledHosts(ctx)
	if err != nil {
		return nil
	}

	out := make([]models.JSONB, 0, len(entries))
	for _, entry := range entries {
		for _, host := range hosts {
			info, err := deps.Orchestrator.Inspect(ctx, host, entry.ContainerID)
			if err != nil {
				continue
			}
			out = append(out, models.JSONB{
				"container_id": shortID(info.ID),
				"name":         info.Name,
				"image":        info.Image,
				"status":       info.Status,
			})
			break
		}
	}
	return out
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
