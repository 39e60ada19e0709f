package postgres_store

import (
	"context"

	"github.com/cyberbrain/orchestrator/internal/store/models"
)

func (ps PostgresDbStore) CreateWorkerHost(ctx context.Context, h *models.WorkerHost) error {
	return ps.getDB(ctx).WithContext(ctx).Create(h).Error
}

func (ps PostgresDbStore) GetWorkerHostByID(ctx context.Context, id string) (*models.WorkerHost, error) {
	var h models.WorkerHost
	if err := ps.getDB(ctx).WithContext(ctx).Where("worker_host_id = ?", id).First(&h).Error; err != nil {
		return nil, err
	}
	return &h, nil
}

func (ps PostgresDbStore) UpdateWorkerHost(ctx context.Context, h *models.WorkerHost) error {
	return ps.getDB(ctx).WithContext(ctx).Save(h).Error
}

func (ps PostgresDbStore) ListEnabledHosts(ctx context.Context) ([]models.WorkerHost, error) {
	var hosts []models.WorkerHost
	err := ps.getDB(ctx).WithContext(ctx).Where("enabled = ?", true).Find(&hosts).Error
	return hosts, err
}
