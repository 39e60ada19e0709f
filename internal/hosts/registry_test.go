package hosts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cyberbrain/orchestrator/internal/clock"
	"github.com/cyberbrain/orchestrator/internal/orcherr"
	"github.com/cyberbrain/orchestrator/internal/store/memstore"
	"github.com/cyberbrain/orchestrator/internal/store/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	fail map[string]bool
}

func (f fakeProber) Probe(_ context.Context, host models.WorkerHost) error {
	if f.fail[host.WorkerHostID] {
		return errors.New("probe failed")
	}
	return nil
}

func seedHost(t *testing.T, st *memstore.Store, name string, healthy bool, lastSeen *time.Time, activeRuns int, gpuCount int) models.WorkerHost {
	t.Helper()
	caps := models.JSONB{}
	if gpuCount > 0 {
		caps["gpu_count"] = float64(gpuCount)
	}
	h := models.WorkerHost{
		Name:            name,
		Kind:            models.HostLocalSocket,
		BaseURL:         "/var/run/docker.sock",
		Capabilities:    caps,
		Enabled:         true,
		Healthy:         healthy,
		LastSeenAt:      lastSeen,
		ActiveRunsCount: activeRuns,
	}
	require.NoError(t, st.CreateWorkerHost(context.Background(), &h))
	return h
}

func TestSelectHostFewestActiveRuns(t *testing.T) {
	st := memstore.New()
	now := time.Now()
	seedHost(t, st, "busy", true, &now, 5, 0)
	fewest := seedHost(t, st, "idle", true, &now, 1, 0)

	reg := New(st, clock.NewFake(now), fakeProber{}, time.Minute, DefaultStalenessThreshold)
	selected, err := reg.SelectHost(context.Background(), "", false)
	require.NoError(t, err)
	assert.Equal(t, fewest.WorkerHostID, selected.WorkerHostID)
}

func TestSelectHostExplicitTargetFallsBackWhenStale(t *testing.T) {
	st := memstore.New()
	now := time.Now()
	stale := now.Add(-time.Hour)
	staleHost := seedHost(t, st, "stale-target", true, &stale, 0, 0)
	healthy := seedHost(t, st, "healthy-fallback", true, &now, 2, 0)

	reg := New(st, clock.NewFake(now), fakeProber{}, time.Minute, DefaultStalenessThreshold)
	selected, err := reg.SelectHost(context.Background(), staleHost.WorkerHostID, false)
	require.NoError(t, err)
	assert.Equal(t, healthy.WorkerHostID, selected.WorkerHostID)
}

func TestSelectHostExplicitTargetHonoredWhenHealthy(t *testing.T) {
	st := memstore.New()
	now := time.Now()
	target := seedHost(t, st, "explicit", true, &now, 9, 0)
	seedHost(t, st, "cheaper", true, &now, 0, 0)

	reg := New(st, clock.NewFake(now), fakeProber{}, time.Minute, DefaultStalenessThreshold)
	selected, err := reg.SelectHost(context.Background(), target.WorkerHostID, false)
	require.NoError(t, err)
	assert.Equal(t, target.WorkerHostID, selected.WorkerHostID)
}

func TestSelectHostNoneAvailable(t *testing.T) {
	st := memstore.New()
	now := time.Now()
	stale := now.Add(-time.Hour)
	seedHost(t, st, "stale-only", true, &stale, 0, 0)

	reg := New(st, clock.NewFake(now), fakeProber{}, time.Minute, DefaultStalenessThreshold)
	_, err := reg.SelectHost(context.Background(), "", false)
	require.Error(t, err)
	kind, ok := orcherr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, orcherr.KindNoHostAvailable, kind)
}

func TestSelectHostRequiresGPU(t *testing.T) {
	st := memstore.New()
	now := time.Now()
	seedHost(t, st, "no-gpu", true, &now, 0, 0)
	withGPU := seedHost(t, st, "has-gpu", true, &now, 3, 2)

	reg := New(st, clock.NewFake(now), fakeProber{}, time.Minute, DefaultStalenessThreshold)
	selected, err := reg.SelectHost(context.Background(), "", true)
	require.NoError(t, err)
	assert.Equal(t, withGPU.WorkerHostID, selected.WorkerHostID)
}

func TestProbeMarksHealthyOnSuccessAndUnhealthyOnFailure(t *testing.T) {
	st := memstore.New()
	now := time.Now()
	h := seedHost(t, st, "flaky", false, nil, 0, 0)

	reg := New(st, clock.NewFake(now), fakeProber{}, time.Minute, DefaultStalenessThreshold)
	require.NoError(t, reg.Probe(context.Background(), h.WorkerHostID))
	updated, err := st.GetWorkerHostByID(context.Background(), h.WorkerHostID)
	require.NoError(t, err)
	assert.True(t, updated.Healthy)
	require.NotNil(t, updated.LastSeenAt)

	reg2 := New(st, clock.NewFake(now), fakeProber{fail: map[string]bool{h.WorkerHostID: true}}, time.Minute, DefaultStalenessThreshold)
	err = reg2.Probe(context.Background(), h.WorkerHostID)
	require.Error(t, err)
	updated2, err := st.GetWorkerHostByID(context.Background(), h.WorkerHostID)
	require.NoError(t, err)
	assert.False(t, updated2.Healthy)
}

func TestIncrementDecrementActiveRuns(t *testing.T) {
	st := memstore.New()
	now := time.Now()
	h := seedHost(t, st, "counter", true, &now, 0, 0)

	reg := New(st, clock.NewFake(now), fakeProber{}, time.Minute, DefaultStalenessThreshold)
	require.NoError(t, reg.IncrementActiveRuns(context.Background(), h.WorkerHostID))
	updated, _ := st.GetWorkerHostByID(context.Background(), h.WorkerHostID)
	assert.Equal(t, 1, updated.ActiveRunsCount)

	require.NoError(t, reg.DecrementActiveRuns(context.Background(), h.WorkerHostID))
	updated, _ = st.GetWorkerHostByID(context.Background(), h.WorkerHostID)
	assert.Equal(t, 0, updated.ActiveRunsCount)

	require.NoError(t, reg.DecrementActiveRuns(context.Background(), h.WorkerHostID))
	updated, _ = st.GetWorkerHostByID(context.Background(), h.WorkerHostID)
	assert.Equal(t, 0, updated.ActiveRunsCount)
}
