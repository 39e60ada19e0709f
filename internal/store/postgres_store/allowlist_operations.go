package postgres_store

import (
	"context"

	"github.com/cyberbrain/orchestrator/internal/store/models"
)

func (ps PostgresDbStore) GetAllowlistEntry(ctx context.Context, image, tag string) (*models.WorkerImageAllowlist, error) {
	var a models.WorkerImageAllowlist
	err := ps.getDB(ctx).WithContext(ctx).
		Where("image = ? AND tag = ? AND active = ?", image, tag, true).First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (ps PostgresDbStore) AddContainerToAllowlist(ctx context.Context, c *models.ContainerAllowlist) error {
	return ps.getDB(ctx).WithContext(ctx).Create(c).Error
}

func (ps PostgresDbStore) ListContainerAllowlist(ctx context.Context) ([]models.ContainerAllowlist, error) {
	var entries []models.ContainerAllowlist
	err := ps.getDB(ctx).WithContext(ctx).Find(&entries).Error
	return entries, err
}
