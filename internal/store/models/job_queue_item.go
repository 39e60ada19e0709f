package models

import "time"

// QueueItemStatus is the closed set of dispatcher-handle states.
type QueueItemStatus string

const (
	QueuePending   QueueItemStatus = "pending"
	QueueClaimed   QueueItemStatus = "claimed"
	QueueRunning   QueueItemStatus = "running"
	QueueCompleted QueueItemStatus = "completed"
	QueueFailed    QueueItemStatus = "failed"
)

// JobQueueItem is the dispatcher handle for a Job, one-to-one with it.
type JobQueueItem struct {
	JobQueueItemID string          `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"job_queue_item_id"`
	CreatedAt      time.Time       `gorm:"autoCreateTime:false;default:timezone('utc', now());index:idx_queue_status_created" json:"created_at"`
	JobID          string          `gorm:"type:uuid;not null;uniqueIndex" json:"job_id"`
	Status         QueueItemStatus `gorm:"type:text;not null;default:'pending';index:idx_queue_status_claimed" json:"status"`
	ClaimedBy      string          `gorm:"type:text" json:"claimed_by"`
	ClaimedUntil   *time.Time      `gorm:"index:idx_queue_status_claimed" json:"claimed_until"`
	Attempts       int             `gorm:"default:0" json:"attempts"`
	LastError      string          `gorm:"type:text" json:"last_error"`
}

func (JobQueueItem) TableName() string { return "job_queue_items" }

func (q *JobQueueItem) IsTerminal() bool {
	return q.Status == QueueCompleted || q.Status == QueueFailed
}
