package postgres_store

import (
	"context"

	"github.com/cyberbrain/orchestrator/internal/store/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (ps PostgresDbStore) CreateAgentRun(ctx context.Context, a *models.AgentRun) error {
	return ps.getDB(ctx).WithContext(ctx).Create(a).Error
}

func (ps PostgresDbStore) GetAgentRunByID(ctx context.Context, id string) (*models.AgentRun, error) {
	var a models.AgentRun
	if err := ps.getDB(ctx).WithContext(ctx).Where("agent_run_id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (ps PostgresDbStore) UpdateAgentRun(ctx context.Context, a *models.AgentRun) error {
	return ps.getDB(ctx).WithContext(ctx).Save(a).Error
}

// ClaimRunnableAgentRuns locks pending/pending_approval rows with SKIP
// LOCKED so concurrent agent-executor instances don't double-drive the
// same AgentRun. Pending rows are flipped to running inline (the executor
// will still observe the approval gate for pending_approval rows and no-op
// on them).
func (ps PostgresDbStore) ClaimRunnableAgentRuns(ctx context.Context, limit int) ([]models.AgentRun, error) {
	var claimed []models.AgentRun

	err := ps.getDB(ctx).WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []models.AgentRun
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status IN ?", []models.AgentRunStatus{models.AgentPending, models.AgentPendingApproval}).
			Order("created_at ASC").
			Limit(limit).
			Find(&rows).Error
		if err != nil {
			return err
		}
		var pendingIDs []string
		for i := range rows {
			if rows[i].Status == models.AgentPending {
				pendingIDs = append(pendingIDs, rows[i].AgentRunID)
				rows[i].Status = models.AgentRunning
			}
		}
		if len(pendingIDs) > 0 {
			if err := tx.Model(&models.AgentRun{}).Where("agent_run_id IN ?", pendingIDs).
				Update("status", models.AgentRunning).Error; err != nil {
				return err
			}
		}
		claimed = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (ps PostgresDbStore) CreateAgentStep(ctx context.Context, s *models.AgentStep) error {
	return ps.getDB(ctx).WithContext(ctx).Create(s).Error
}

func (ps PostgresDbStore) ListAgentSteps(ctx context.Context, agentRunID string) ([]models.AgentStep, error) {
	var steps []models.AgentStep
	err := ps.getDB(ctx).WithContext(ctx).
		Where("agent_run_id = ?", agentRunID).
		Order("step_index ASC").Find(&steps).Error
	return steps, err
}

func (ps PostgresDbStore) UpdateAgentStep(ctx context.Context, s *models.AgentStep) error {
	return ps.getDB(ctx).WithContext(ctx).Save(s).Error
}
