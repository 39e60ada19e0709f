package gpu

import (
	"context"
	"testing"
	"time"

	"github.com/cyberbrain/orchestrator/internal/clock"
	"github.com/cyberbrain/orchestrator/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectGPUTieBreakByUtilization(t *testing.T) {
	st := memstore.New()
	reg := New(st, clock.NewFake(time.Now()))
	ctx := context.Background()

	require.NoError(t, reg.RecordMetrics(ctx, "host-1", map[string]GPUMetrics{
		"0": {TotalVRAMMB: 16384, FreeVRAMMB: 8192, UsedVRAMMB: 8192, UtilizationPct: 40, IsAvailable: true},
		"1": {TotalVRAMMB: 16384, FreeVRAMMB: 8192, UsedVRAMMB: 8192, UtilizationPct: 20, IsAvailable: true},
	}))

	gpuID, rationale, err := reg.SelectGPU(ctx, "host-1", 4096, "")
	require.NoError(t, err)
	assert.Equal(t, "1", gpuID)
	assert.Contains(t, rationale, "util=20.0%")
}

func TestSelectGPUExplicitOverride(t *testing.T) {
	st := memstore.New()
	reg := New(st, clock.NewFake(time.Now()))
	ctx := context.Background()

	require.NoError(t, reg.RecordMetrics(ctx, "host-1", map[string]GPUMetrics{
		"0": {TotalVRAMMB: 16384, FreeVRAMMB: 2048, UsedVRAMMB: 14336, UtilizationPct: 90, IsAvailable: true},
		"1": {TotalVRAMMB: 16384, FreeVRAMMB: 15000, UsedVRAMMB: 1384, UtilizationPct: 5, IsAvailable: true},
	}))

	gpuID, rationale, err := reg.SelectGPU(ctx, "host-1", 1024, "0")
	require.NoError(t, err)
	assert.Equal(t, "0", gpuID)
	assert.Equal(t, "explicit override", rationale)
}

func TestSelectGPUCPUFallback(t *testing.T) {
	st := memstore.New()
	reg := New(st, clock.NewFake(time.Now()))
	ctx := context.Background()

	require.NoError(t, reg.RecordMetrics(ctx, "host-1", map[string]GPUMetrics{
		"0": {TotalVRAMMB: 8192, FreeVRAMMB: 1024, UsedVRAMMB: 7168, UtilizationPct: 80, IsAvailable: true},
	}))

	gpuID, rationale, err := reg.SelectGPU(ctx, "host-1", 4096, "")
	require.NoError(t, err)
	assert.Equal(t, CPUFallback, gpuID)
	assert.Equal(t, "no GPU with sufficient VRAM", rationale)
}

func TestSelectGPUIncrementsActiveWorkers(t *testing.T) {
	st := memstore.New()
	reg := New(st, clock.NewFake(time.Now()))
	ctx := context.Background()

	require.NoError(t, reg.RecordMetrics(ctx, "host-1", map[string]GPUMetrics{
		"0": {TotalVRAMMB: 8192, FreeVRAMMB: 8192, UtilizationPct: 0, IsAvailable: true},
	}))

	gpuID, _, err := reg.SelectGPU(ctx, "host-1", 1024, "")
	require.NoError(t, err)
	st1, err := st.GetGPUState(ctx, "host-1", gpuID)
	require.NoError(t, err)
	assert.Equal(t, 1, st1.ActiveWorkers)

	require.NoError(t, reg.Release(ctx, "host-1", gpuID))
	st2, err := st.GetGPUState(ctx, "host-1", gpuID)
	require.NoError(t, err)
	assert.Equal(t, 0, st2.ActiveWorkers)

	require.NoError(t, reg.Release(ctx, "host-1", gpuID))
	st3, err := st.GetGPUState(ctx, "host-1", gpuID)
	require.NoError(t, err)
	assert.Equal(t, 0, st3.ActiveWorkers)
}
