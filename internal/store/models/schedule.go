package models

import "time"

// ScheduleKind is the closed set of recurrence rules a Schedule can use.
type ScheduleKind string

const (
	ScheduleInterval ScheduleKind = "interval"
	ScheduleCron     ScheduleKind = "cron"
	ScheduleOneShot  ScheduleKind = "one_shot"
)

// Schedule is a recurrence rule that produces Runs. Exactly one kind-specific
// field group is populated per Kind; claimed_by/claimed_until move together
// as a single lease, never independently.
type Schedule struct {
	ScheduleID      string       `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"schedule_id"`
	CreatedAt       time.Time    `gorm:"autoCreateTime:false;default:timezone('utc', now())" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"autoUpdateTime:false;default:timezone('utc', now())" json:"updated_at"`
	Name            string       `gorm:"type:text;not null" json:"name"`
	TaskKey         string       `gorm:"type:text;not null;index" json:"task_key"`
	DirectiveID     *string      `gorm:"type:uuid" json:"directive_id"`
	Kind            ScheduleKind `gorm:"type:text;not null" json:"kind"`
	IntervalMinutes *int         `json:"interval_minutes"`
	CronExpression  *string      `gorm:"type:text" json:"cron_expression"`
	CronTimezone    *string      `gorm:"type:text" json:"cron_timezone"`
	FireAt          *time.Time   `json:"fire_at"` // one_shot target
	NextFireAt      *time.Time   `gorm:"index:idx_schedule_enabled_next_fire" json:"next_fire_at"`
	LastFireAt      *time.Time   `json:"last_fire_at"`
	Enabled         bool         `gorm:"default:true;index:idx_schedule_enabled_next_fire" json:"enabled"`
	MaxGlobal       int          `gorm:"default:0" json:"max_global"` // 0 = unbounded
	MaxPerJob       int          `gorm:"default:0" json:"max_per_job"`

	ClaimedBy    string     `gorm:"type:text" json:"claimed_by"`
	ClaimedUntil *time.Time `json:"claimed_until"`
}

func (Schedule) TableName() string { return "schedules" }

// IsClaimed reports whether the lease is currently held, given now.
func (s *Schedule) IsClaimed(now time.Time) bool {
	return s.ClaimedBy != "" && s.ClaimedUntil != nil && s.ClaimedUntil.After(now)
}

// Due reports whether the schedule is eligible to fire: enabled, has a
// next_fire_at in the past, and has no live claim.
func (s *Schedule) Due(now time.Time) bool {
	if !s.Enabled || s.NextFireAt == nil {
		return false
	}
	if s.NextFireAt.After(now) {
		return false
	}
	return !s.IsClaimed(now)
}
