package postgres_store

import (
	"context"
	"time"

	"github.com/cyberbrain/orchestrator/internal/store/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (ps PostgresDbStore) CreateJobQueueItem(ctx context.Context, q *models.JobQueueItem) error {
	return ps.getDB(ctx).WithContext(ctx).Create(q).Error
}

func (ps PostgresDbStore) GetJobQueueItemByJobID(ctx context.Context, jobID string) (*models.JobQueueItem, error) {
	var q models.JobQueueItem
	if err := ps.getDB(ctx).WithContext(ctx).Where("job_id = ?", jobID).First(&q).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

func (ps PostgresDbStore) UpdateJobQueueItem(ctx context.Context, q *models.JobQueueItem) error {
	return ps.getDB(ctx).WithContext(ctx).Save(q).Error
}

// ClaimPendingQueueItems implements §4.G step 1: claim up to limit items
// that are pending, or claimed with an expired lease, via SKIP LOCKED, bump
// attempts, and stamp the new lease — one transaction.
func (ps PostgresDbStore) ClaimPendingQueueItems(ctx context.Context, now time.Time, limit int, claimant string, claimUntil time.Time) ([]models.JobQueueItem, error) {
	var claimed []models.JobQueueItem

	err := ps.getDB(ctx).WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var due []models.JobQueueItem
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? OR (status = ? AND claimed_until < ?)", models.QueuePending, models.QueueClaimed, now).
			Order("created_at ASC").
			Limit(limit).
			Find(&due).Error
		if err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}

		ids := make([]string, 0, len(due))
		for _, q := range due {
			ids = append(ids, q.JobQueueItemID)
		}
		if err := tx.Model(&models.JobQueueItem{}).
			Where("job_queue_item_id IN ?", ids).
			Updates(map[string]interface{}{
				"status":        models.QueueClaimed,
				"claimed_by":    claimant,
				"claimed_until": claimUntil,
				"attempts":      gorm.Expr("attempts + 1"),
			}).Error; err != nil {
			return err
		}

		for i := range due {
			due[i].Status = models.QueueClaimed
			due[i].ClaimedBy = claimant
			due[i].ClaimedUntil = &claimUntil
			due[i].Attempts++
		}
		claimed = due
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}
