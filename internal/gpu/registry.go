// Package gpu implements the GPU inventory registry: per-host telemetry
// ingestion and the scored selection policy used by the worker
// orchestrator when a job requires a device.
package gpu

import (
	"context"
	"fmt"
	"sort"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/cyberbrain/orchestrator/internal/clock"
	"github.com/cyberbrain/orchestrator/internal/metrics"
	"github.com/cyberbrain/orchestrator/internal/store"
	"github.com/cyberbrain/orchestrator/internal/store/models"
)

// CPUFallback is the sentinel gpu_id SelectGPU returns when no GPU on the
// host satisfies the VRAM requirement.
const CPUFallback = ""

// Registry tracks GPU inventory and scores/selects GPUs for a workload.
type Registry struct {
	store store.Store
	clock clock.Clock
}

func New(st store.Store, clk clock.Clock) *Registry {
	return &Registry{store: st, clock: clk}
}

// GPUMetrics is one host's per-GPU telemetry sample, the shape a worker's
// resource monitor reports on each heartbeat.
type GPUMetrics struct {
	TotalVRAMMB    int
	UsedVRAMMB     int
	FreeVRAMMB     int
	UtilizationPct float64
	IsAvailable    bool
}

// RecordMetrics upserts telemetry for every GPU reported by a host in one
// call.
func (r *Registry) RecordMetrics(ctx context.Context, hostID string, samples map[string]GPUMetrics) error {
	now := r.clock.Now()
	for gpuID, m := range samples {
		state := &models.GPUState{
			WorkerHostID:   hostID,
			GPUID:          gpuID,
			TotalVRAMMB:    m.TotalVRAMMB,
			UsedVRAMMB:     m.UsedVRAMMB,
			FreeVRAMMB:     m.FreeVRAMMB,
			UtilizationPct: m.UtilizationPct,
			IsAvailable:    m.IsAvailable,
			LastUpdated:    now,
		}
		existing, err := r.store.GetGPUState(ctx, hostID, gpuID)
		if err == nil {
			state.ActiveWorkers = existing.ActiveWorkers
		}
		if err := r.store.UpsertGPUState(ctx, state); err != nil {
			return fmt.Errorf("recording metrics for gpu %s/%s: %w", hostID, gpuID, err)
		}
		metrics.SetGPUUtilization(hostID, gpuID, float64(state.ActiveWorkers), float64(m.FreeVRAMMB))
	}
	return nil
}

// MarkUnavailable flips a GPU to unavailable, e.g. after a driver fault is
// reported out of band.
func (r *Registry) MarkUnavailable(ctx context.Context, hostID, gpuID string) error {
	g, err := r.store.GetGPUState(ctx, hostID, gpuID)
	if err != nil {
		return err
	}
	g.IsAvailable = false
	return r.store.UpsertGPUState(ctx, g)
}

// SelectGPU implements the §4.D selection contract: an explicit override
// wins if it's available and has enough VRAM; otherwise the lowest-scoring
// available GPU with enough VRAM wins, ties broken lexically by gpu id;
// if nothing qualifies, cpu_fallback is returned with a rationale.
// Selection increments active_workers on the chosen GPU (a soft counter:
// concurrent selectors may race and pick the same GPU).
func (r *Registry) SelectGPU(ctx context.Context, hostID string, minVRAMMB int, explicitGPUID string) (gpuID string, rationale string, err error) {
	if explicitGPUID != "" {
		g, err := r.store.GetGPUState(ctx, hostID, explicitGPUID)
		if err == nil && g.IsAvailable && g.FreeVRAMMB >= minVRAMMB {
			if incErr := r.store.IncrementGPUActiveWorkers(ctx, hostID, explicitGPUID, 1); incErr != nil {
				return "", "", incErr
			}
			logging.Log.WithField("host_id", hostID).WithField("gpu_id", explicitGPUID).Info("gpu registry: explicit override selected")
			return explicitGPUID, "explicit override", nil
		}
	}

	candidates, err := r.store.ListAvailableGPUs(ctx, hostID)
	if err != nil {
		return "", "", err
	}

	var eligible []models.GPUState
	for _, g := range candidates {
		if g.FreeVRAMMB >= minVRAMMB {
			eligible = append(eligible, g)
		}
	}
	if len(eligible) == 0 {
		return CPUFallback, "no GPU with sufficient VRAM", nil
	}

	sort.Slice(eligible, func(i, j int) bool {
		si, sj := eligible[i].Score(), eligible[j].Score()
		if si != sj {
			return si < sj
		}
		return eligible[i].GPUID < eligible[j].GPUID
	})
	winner := eligible[0]
	rationale = fmt.Sprintf("score=%.4f (free_ratio=%.2f, util=%.1f%%)",
		winner.Score(), freeRatio(winner), winner.UtilizationPct)

	if err := r.store.IncrementGPUActiveWorkers(ctx, hostID, winner.GPUID, 1); err != nil {
		return "", "", err
	}
	logging.Log.WithField("host_id", hostID).WithField("gpu_id", winner.GPUID).WithField("rationale", rationale).
		Info("gpu registry: selected gpu")
	return winner.GPUID, rationale, nil
}

func freeRatio(g models.GPUState) float64 {
	if g.TotalVRAMMB <= 0 {
		return 0
	}
	return float64(g.FreeVRAMMB) / float64(g.TotalVRAMMB)
}

// Release decrements active_workers on a GPU, floored at zero, the
// counterpart to SelectGPU's increment.
func (r *Registry) Release(ctx context.Context, hostID, gpuID string) error {
	if gpuID == CPUFallback {
		return nil
	}
	return r.store.IncrementGPUActiveWorkers(ctx, hostID, gpuID, -1)
}
