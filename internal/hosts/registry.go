// Package hosts implements the worker host registry: selection,
// heartbeats, and the two concurrent health activities (periodic probe,
// staleness sweep) described for the worker orchestrator's routing layer.
package hosts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/cyberbrain/orchestrator/internal/clock"
	"github.com/cyberbrain/orchestrator/internal/orcherr"
	"github.com/cyberbrain/orchestrator/internal/store"
	"github.com/cyberbrain/orchestrator/internal/store/models"
)

// DefaultStalenessThreshold is the recommended staleness window: a host
// whose last_seen_at is older than this is treated as unhealthy.
const DefaultStalenessThreshold = 5 * time.Minute

// Prober checks whether a host's container runtime is reachable. Different
// WorkerHostKind values need different transports (local Docker socket vs.
// an SSH-tunneled remote TCP endpoint); the registry only needs the yes/no
// answer.
type Prober interface {
	Probe(ctx context.Context, host models.WorkerHost) error
}

// Registry is the worker host registry described by the worker
// orchestrator's routing contract: list/select eligible hosts, record
// heartbeats, and run the two background health activities.
type Registry struct {
	store    store.Store
	clock    clock.Clock
	prober   Prober
	stale    time.Duration
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Registry. probeInterval governs both the probe and
// staleness-sweep tickers; staleness is the threshold past which an
// unprobed host is considered unhealthy.
func New(st store.Store, clk clock.Clock, prober Prober, probeInterval, staleness time.Duration) *Registry {
	if probeInterval <= 0 {
		probeInterval = 30 * time.Second
	}
	if staleness <= 0 {
		staleness = DefaultStalenessThreshold
	}
	return &Registry{
		store:    st,
		clock:    clk,
		prober:   prober,
		stale:    staleness,
		interval: probeInterval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the probe loop and staleness sweep as background
// goroutines, mirroring the teacher's ResourceMonitor start/stop shape.
func (r *Registry) Start(ctx context.Context) {
	r.wg.Add(2)
	go r.probeLoop(ctx)
	go r.staleSweepLoop(ctx)
}

// Stop signals both background goroutines to exit and waits for them.
func (r *Registry) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Registry) probeLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.probeAll(ctx)
		}
	}
}

func (r *Registry) staleSweepLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweepStale(ctx)
		}
	}
}

func (r *Registry) probeAll(ctx context.Context) {
	hosts, err := r.store.ListEnabledHosts(ctx)
	if err != nil {
		logging.Log.WithError(err).Warn("host registry: failed to list hosts for probe")
		return
	}
	for _, h := range hosts {
		if err := r.Probe(ctx, h.WorkerHostID); err != nil {
			logging.Log.WithError(err).WithField("host", h.Name).Debug("host registry: probe failed")
		}
	}
}

// sweepStale flips any currently-healthy host whose last_seen_at has aged
// past the staleness threshold back to unhealthy, without requiring a
// probe round trip.
func (r *Registry) sweepStale(ctx context.Context) {
	hosts, err := r.store.ListEnabledHosts(ctx)
	if err != nil {
		logging.Log.WithError(err).Warn("host registry: failed to list hosts for staleness sweep")
		return
	}
	now := r.clock.Now()
	for _, h := range hosts {
		if h.Healthy && h.Stale(now, r.stale) {
			h.Healthy = false
			if err := r.store.UpdateWorkerHost(ctx, &h); err != nil {
				logging.Log.WithError(err).WithField("host", h.Name).Warn("host registry: failed to mark host unhealthy")
				continue
			}
			logging.Log.WithField("host", h.Name).Warn("host registry: marked unhealthy (stale)")
		}
	}
}

// Heartbeat records a cheap, unconditional keep-alive for a host (used by
// the scheduler's phase 1, run once per tick for every enabled host).
func (r *Registry) Heartbeat(ctx context.Context, hostID string) error {
	h, err := r.store.GetWorkerHostByID(ctx, hostID)
	if err != nil {
		return err
	}
	now := r.clock.Now()
	h.LastSeenAt = &now
	return r.store.UpdateWorkerHost(ctx, h)
}

// Probe pings the host's container runtime. On success it updates
// last_seen_at and marks the host healthy; on failure it marks the host
// unhealthy. Probe never logs the SSHConfig field (if any).
func (r *Registry) Probe(ctx context.Context, hostID string) error {
	h, err := r.store.GetWorkerHostByID(ctx, hostID)
	if err != nil {
		return err
	}
	probeErr := r.prober.Probe(ctx, *h)
	now := r.clock.Now()
	if probeErr != nil {
		h.Healthy = false
		if err := r.store.UpdateWorkerHost(ctx, h); err != nil {
			return err
		}
		return probeErr
	}
	h.Healthy = true
	h.LastSeenAt = &now
	return r.store.UpdateWorkerHost(ctx, h)
}

// ListAvailableHosts returns enabled, healthy, not-stale hosts, optionally
// filtered to those with at least one GPU.
func (r *Registry) ListAvailableHosts(ctx context.Context, requiresGPU bool) ([]models.WorkerHost, error) {
	hosts, err := r.store.ListEnabledHosts(ctx)
	if err != nil {
		return nil, err
	}
	now := r.clock.Now()
	out := make([]models.WorkerHost, 0, len(hosts))
	for _, h := range hosts {
		if !h.Selectable(now, r.stale) {
			continue
		}
		if requiresGPU && h.GPUCount() == 0 {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// SelectHost implements the routing contract: an explicit targetID wins
// only if it resolves to an enabled, healthy, not-stale host satisfying
// the GPU requirement; otherwise the eligible host with the fewest
// active_runs_count is chosen, ties broken by host id.
func (r *Registry) SelectHost(ctx context.Context, targetID string, requiresGPU bool) (*models.WorkerHost, error) {
	if targetID != "" {
		h, err := r.store.GetWorkerHostByID(ctx, targetID)
		if err == nil && h.Selectable(r.clock.Now(), r.stale) && (!requiresGPU || h.GPUCount() > 0) {
			logging.Log.WithField("host", h.Name).Info("host registry: using explicit target host")
			return h, nil
		}
		if err != nil {
			logging.Log.WithField("host_id", targetID).Warn("host registry: target host not found, falling back to auto-selection")
		} else {
			logging.Log.WithField("host", h.Name).Warn("host registry: target host not available, falling back to auto-selection")
		}
	}

	candidates, err := r.ListAvailableHosts(ctx, requiresGPU)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, orcherr.New(orcherr.KindNoHostAvailable, "no available hosts found")
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].ActiveRunsCount != candidates[j].ActiveRunsCount {
			return candidates[i].ActiveRunsCount < candidates[j].ActiveRunsCount
		}
		return candidates[i].WorkerHostID < candidates[j].WorkerHostID
	})
	selected := candidates[0]
	logging.Log.WithField("host", selected.Name).WithField("active_runs", selected.ActiveRunsCount).
		Info("host registry: selected host")
	return &selected, nil
}

// IncrementActiveRuns bumps active_runs_count at dispatch time. The
// counter is a best-effort load hint (§5), allowed to drift on crash.
func (r *Registry) IncrementActiveRuns(ctx context.Context, hostID string) error {
	h, err := r.store.GetWorkerHostByID(ctx, hostID)
	if err != nil {
		return err
	}
	h.ActiveRunsCount++
	return r.store.UpdateWorkerHost(ctx, h)
}

// DecrementActiveRuns lowers active_runs_count on a Run's terminal
// transition, floored at zero.
func (r *Registry) DecrementActiveRuns(ctx context.Context, hostID string) error {
	h, err := r.store.GetWorkerHostByID(ctx, hostID)
	if err != nil {
		return err
	}
	if h.ActiveRunsCount > 0 {
		h.ActiveRunsCount--
	}
	return r.store.UpdateWorkerHost(ctx, h)
}
