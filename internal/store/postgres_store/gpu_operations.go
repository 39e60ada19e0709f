package postgres_store

import (
	"context"

	"github.com/cyberbrain/orchestrator/internal/store/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertGPUState records a host's reported GPU telemetry, replacing the
// prior reading for that (host, gpu) pair.
func (ps PostgresDbStore) UpsertGPUState(ctx context.Context, g *models.GPUState) error {
	return ps.getDB(ctx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "worker_host_id"}, {Name: "gpu_id"}},
		UpdateAll: true,
	}).Create(g).Error
}

func (ps PostgresDbStore) GetGPUState(ctx context.Context, hostID, gpuID string) (*models.GPUState, error) {
	var g models.GPUState
	err := ps.getDB(ctx).WithContext(ctx).
		Where("worker_host_id = ? AND gpu_id = ?", hostID, gpuID).First(&g).Error
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (ps PostgresDbStore) ListAvailableGPUs(ctx context.Context, hostID string) ([]models.GPUState, error) {
	var gpus []models.GPUState
	err := ps.getDB(ctx).WithContext(ctx).
		Where("worker_host_id = ? AND is_available = ?", hostID, true).Find(&gpus).Error
	return gpus, err
}

// ListAllGPUStates returns every reported GPU across every host, for
// reporting tasks that need a full inventory rather than one host's
// available set.
func (ps PostgresDbStore) ListAllGPUStates(ctx context.Context) ([]models.GPUState, error) {
	var gpus []models.GPUState
	err := ps.getDB(ctx).WithContext(ctx).Find(&gpus).Error
	return gpus, err
}

// IncrementGPUActiveWorkers adjusts active_workers by delta, floored at
// zero, matching the soft-counter semantics of §4.D/§5.
func (ps PostgresDbStore) IncrementGPUActiveWorkers(ctx context.Context, hostID, gpuID string, delta int) error {
	return ps.getDB(ctx).WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.GPUState{}).
			Where("worker_host_id = ? AND gpu_id = ?", hostID, gpuID).
			Update("active_workers", gorm.Expr("active_workers + ?", delta)).Error; err != nil {
			return err
		}
		return tx.Model(&models.GPUState{}).
			Where("worker_host_id = ? AND gpu_id = ? AND active_workers < 0", hostID, gpuID).
			Update("active_workers", 0).Error
	})
}
