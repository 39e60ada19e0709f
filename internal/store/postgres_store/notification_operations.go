package postgres_store

import (
	"context"

	"github.com/cyberbrain/orchestrator/internal/store/models"
)

func (ps PostgresDbStore) ListEnabledNotificationTargets(ctx context.Context) ([]models.NotificationTarget, error) {
	var targets []models.NotificationTarget
	err := ps.getDB(ctx).WithContext(ctx).Where("enabled = ?", true).Find(&targets).Error
	return targets, err
}

func (ps PostgresDbStore) CreateRunNotification(ctx context.Context, n *models.RunNotification) error {
	return ps.getDB(ctx).WithContext(ctx).Create(n).Error
}

func (ps PostgresDbStore) UpdateRunNotification(ctx context.Context, n *models.RunNotification) error {
	return ps.getDB(ctx).WithContext(ctx).Save(n).Error
}
