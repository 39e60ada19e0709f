package postgres_store

import (
	"context"
	"time"

	"github.com/cyberbrain/orchestrator/internal/store/models"
)

func (ps PostgresDbStore) CreateRun(ctx context.Context, r *models.Run) error {
	return ps.getDB(ctx).WithContext(ctx).Create(r).Error
}

func (ps PostgresDbStore) GetRunByID(ctx context.Context, id string) (*models.Run, error) {
	var r models.Run
	if err := ps.getDB(ctx).WithContext(ctx).Where("run_id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

func (ps PostgresDbStore) UpdateRun(ctx context.Context, r *models.Run) error {
	return ps.getDB(ctx).WithContext(ctx).Save(r).Error
}

func (ps PostgresDbStore) CountRunningRuns(ctx context.Context) (int64, error) {
	var count int64
	err := ps.getDB(ctx).WithContext(ctx).Model(&models.Run{}).
		Where("status = ?", models.RunRunning).Count(&count).Error
	return count, err
}

// CountRunningJobsByTaskKey counts Jobs with the given task key that are
// currently running, the concurrency gate's per-job-template input.
func (ps PostgresDbStore) CountRunningJobsByTaskKey(ctx context.Context, taskKey string) (int64, error) {
	var count int64
	err := ps.getDB(ctx).WithContext(ctx).Model(&models.Job{}).
		Where("task_key = ? AND status = ?", taskKey, models.JobRunning).Count(&count).Error
	return count, err
}

func (ps PostgresDbStore) LastSuccessfulRun(ctx context.Context) (*models.Run, error) {
	var r models.Run
	err := ps.getDB(ctx).WithContext(ctx).
		Where("status = ?", models.RunSuccess).
		Order("ended_at DESC").
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (ps PostgresDbStore) RunsSince(ctx context.Context, since time.Time) ([]models.Run, error) {
	var runs []models.Run
	err := ps.getDB(ctx).WithContext(ctx).
		Where("created_at > ?", since).
		Order("created_at ASC").
		Find(&runs).Error
	return runs, err
}
