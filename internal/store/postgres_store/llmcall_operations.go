package postgres_store

import (
	"context"

	"github.com/cyberbrain/orchestrator/internal/store/models"
)

// CreateLLMCall persists a token ledger row. The GuardrailViolation check
// runs inside GORM's BeforeSave hook on the model itself (models.LLMCall),
// so a forbidden field aborts this Create before anything reaches the wire.
func (ps PostgresDbStore) CreateLLMCall(ctx context.Context, c *models.LLMCall) error {
	return ps.getDB(ctx).WithContext(ctx).Create(c).Error
}

func (ps PostgresDbStore) SumTokensByRun(ctx context.Context, runID string) (int, error) {
	var total int
	row := ps.getDB(ctx).WithContext(ctx).Model(&models.LLMCall{}).
		Select("COALESCE(SUM(total_tokens), 0)").
		Where("run_id = ?", runID).Row()
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}
