package postgres_store

import (
	"context"

	"github.com/cyberbrain/orchestrator/internal/store/models"
)

func (ps PostgresDbStore) CreateDirective(ctx context.Context, d *models.Directive) error {
	return ps.getDB(ctx).WithContext(ctx).Create(d).Error
}

func (ps PostgresDbStore) GetDirectiveByID(ctx context.Context, id string) (*models.Directive, error) {
	var d models.Directive
	if err := ps.getDB(ctx).WithContext(ctx).Where("directive_id = ?", id).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (ps PostgresDbStore) GetDirectiveByName(ctx context.Context, name string) (*models.Directive, error) {
	var d models.Directive
	if err := ps.getDB(ctx).WithContext(ctx).Where("name = ?", name).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (ps PostgresDbStore) UpdateDirective(ctx context.Context, d *models.Directive) error {
	return ps.getDB(ctx).WithContext(ctx).Save(d).Error
}

func (ps PostgresDbStore) GetJobTemplate(ctx context.Context, taskKey string) (*models.JobTemplate, error) {
	var t models.JobTemplate
	if err := ps.getDB(ctx).WithContext(ctx).Where("task_key = ?", taskKey).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}
