package postgres_store

import (
	"context"

	"github.com/cyberbrain/orchestrator/internal/store/models"
)

func (ps PostgresDbStore) CreateJob(ctx context.Context, j *models.Job) error {
	return ps.getDB(ctx).WithContext(ctx).Create(j).Error
}

func (ps PostgresDbStore) GetJobByID(ctx context.Context, id string) (*models.Job, error) {
	var j models.Job
	if err := ps.getDB(ctx).WithContext(ctx).Where("job_id = ?", id).First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (ps PostgresDbStore) UpdateJob(ctx context.Context, j *models.Job) error {
	return ps.getDB(ctx).WithContext(ctx).Save(j).Error
}

func (ps PostgresDbStore) ListJobsByRun(ctx context.Context, runID string) ([]models.Job, error) {
	var jobs []models.Job
	err := ps.getDB(ctx).WithContext(ctx).Where("run_id = ?", runID).Order("created_at ASC").Find(&jobs).Error
	return jobs, err
}
