package postgres_store

import (
	"context"

	"github.com/cyberbrain/orchestrator/internal/store/models"
)

// CreateWorkerAudit writes an append-only audit row. Callers are expected
// to invoke this with a context carrying the same transaction as any state
// mutation it accompanies (via ctxkey.TxKey), per §4.E's crash-survival
// requirement.
func (ps PostgresDbStore) CreateWorkerAudit(ctx context.Context, a *models.WorkerAudit) error {
	return ps.getDB(ctx).WithContext(ctx).Create(a).Error
}
