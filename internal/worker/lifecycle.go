package worker

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
)

// LifecycleManager tracks in-flight job executions within a single
// scheduler/dispatcher process and coordinates graceful shutdown. Crash
// recovery itself is not this manager's job — claim TTL expiry on
// Schedule/JobQueueItem rows handles that (a dead instance's
// claims simply expire and another instance re-acquires them at its next
// tick); this manager only avoids abandoning work mid-flight when a
// signal arrives during ordinary operation.
type LifecycleManager struct {
	shutdownTimeout time.Duration
	activeJobs      map[string]context.CancelFunc
	mu              sync.RWMutex
	shutdownCh      chan struct{}
	shutdownOnce    sync.Once
}

func NewLifecycleManager(shutdownTimeout time.Duration) *LifecycleManager {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 60 * time.Second
	}
	return &LifecycleManager{
		shutdownTimeout: shutdownTimeout,
		activeJobs:      make(map[string]context.CancelFunc),
		shutdownCh:      make(chan struct{}),
	}
}

// RegisterJob records a job's cancellation handle while it is in flight.
func (lm *LifecycleManager) RegisterJob(jobID string, cancel context.CancelFunc) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.activeJobs[jobID] = cancel
	logging.Log.WithField("job_id", jobID).WithField("active_jobs", len(lm.activeJobs)).
		Debug("lifecycle: job registered")
}

// UnregisterJob removes a job from active tracking once it reaches a
// terminal state.
func (lm *LifecycleManager) UnregisterJob(jobID string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	delete(lm.activeJobs, jobID)
	logging.Log.WithField("job_id", jobID).WithField("active_jobs", len(lm.activeJobs)).
		Debug("lifecycle: job unregistered")
}

// ActiveJobs returns the ids of jobs currently tracked as in flight.
func (lm *LifecycleManager) ActiveJobs() []string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	ids := make([]string, 0, len(lm.activeJobs))
	for id := range lm.activeJobs {
		ids = append(ids, id)
	}
	return ids
}

// GracefulShutdown signals all active jobs to cancel and waits up to
// shutdownTimeout for them to drain before returning.
func (lm *LifecycleManager) GracefulShutdown(ctx context.Context) {
	lm.shutdownOnce.Do(func() { close(lm.shutdownCh) })

	logging.Log.Info("lifecycle: initiating graceful shutdown")
	lm.mu.RLock()
	for jobID, cancel := range lm.activeJobs {
		logging.Log.WithField("job_id", jobID).Info("lifecycle: cancelling in-flight job")
		cancel()
	}
	lm.mu.RUnlock()

	deadline := time.After(lm.shutdownTimeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		lm.mu.RLock()
		remaining := len(lm.activeJobs)
		lm.mu.RUnlock()
		if remaining == 0 {
			logging.Log.Info("lifecycle: all active jobs drained")
			return
		}
		select {
		case <-deadline:
			logging.Log.WithField("remaining", remaining).Warn("lifecycle: shutdown timeout reached, abandoning remaining jobs")
			return
		case <-ticker.C:
		}
	}
}

// IsShuttingDown reports whether GracefulShutdown has been invoked.
func (lm *LifecycleManager) IsShuttingDown() bool {
	select {
	case <-lm.shutdownCh:
		return true
	default:
		return false
	}
}

// SetupSignalHandlers wires SIGINT/SIGTERM to GracefulShutdown followed
// by cancelling the process's root context.
func (lm *LifecycleManager) SetupSignalHandlers(ctx context.Context, cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			logging.Log.WithField("signal", sig).Info("lifecycle: received shutdown signal")
			lm.GracefulShutdown(ctx)
			cancel()
		case <-ctx.Done():
		}
	}()
}
