package postgres_store

import (
	"context"

	"github.com/cyberbrain/orchestrator/internal/store/models"
)

func (ps PostgresDbStore) CreateRunArtifact(ctx context.Context, a *models.RunArtifact) error {
	return ps.getDB(ctx).WithContext(ctx).Create(a).Error
}

func (ps PostgresDbStore) ListRunArtifacts(ctx context.Context, runID string) ([]models.RunArtifact, error) {
	var artifacts []models.RunArtifact
	err := ps.getDB(ctx).WithContext(ctx).Where("run_id = ?", runID).Order("created_at ASC").Find(&artifacts).Error
	return artifacts, err
}
