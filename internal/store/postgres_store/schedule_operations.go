package postgres_store

import (
	"context"
	"time"

	"github.com/cyberbrain/orchestrator/internal/store/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (ps PostgresDbStore) CreateSchedule(ctx context.Context, s *models.Schedule) error {
	return ps.getDB(ctx).WithContext(ctx).Create(s).Error
}

func (ps PostgresDbStore) GetScheduleByID(ctx context.Context, id string) (*models.Schedule, error) {
	var s models.Schedule
	if err := ps.getDB(ctx).WithContext(ctx).Where("schedule_id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (ps PostgresDbStore) UpdateSchedule(ctx context.Context, s *models.Schedule) error {
	return ps.getDB(ctx).WithContext(ctx).Save(s).Error
}

// ClaimDueSchedules is the concurrent-claim pattern §4.A/§4.F demand: lock
// the due, unclaimed rows with SKIP LOCKED so concurrent scheduler
// instances partition disjoint subsets, stamp the lease, and return the
// claimed rows, all inside one transaction.
func (ps PostgresDbStore) ClaimDueSchedules(ctx context.Context, now time.Time, limit int, claimant string, claimUntil time.Time) ([]models.Schedule, error) {
	var claimed []models.Schedule

	err := ps.getDB(ctx).WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var due []models.Schedule
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("enabled = ? AND next_fire_at <= ? AND (claimed_until IS NULL OR claimed_until < ?)", true, now, now).
			Order("next_fire_at ASC").
			Limit(limit).
			Find(&due).Error
		if err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}

		ids := make([]string, 0, len(due))
		for _, s := range due {
			ids = append(ids, s.ScheduleID)
		}
		if err := tx.Model(&models.Schedule{}).
			Where("schedule_id IN ?", ids).
			Updates(map[string]interface{}{
				"claimed_by":    claimant,
				"claimed_until": claimUntil,
			}).Error; err != nil {
			return err
		}

		for i := range due {
			due[i].ClaimedBy = claimant
			due[i].ClaimedUntil = &claimUntil
		}
		claimed = due
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (ps PostgresDbStore) ReleaseScheduleClaim(ctx context.Context, scheduleID string) error {
	return ps.getDB(ctx).WithContext(ctx).Model(&models.Schedule{}).
		Where("schedule_id = ?", scheduleID).
		Updates(map[string]interface{}{"claimed_by": "", "claimed_until": nil}).Error
}
