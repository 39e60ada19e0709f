package models

import "time"

// WorkerAuditOp is the closed set of worker lifecycle events.
type WorkerAuditOp string

const (
	AuditSpawn  WorkerAuditOp = "spawn"
	AuditStart  WorkerAuditOp = "start"
	AuditStop   WorkerAuditOp = "stop"
	AuditRemove WorkerAuditOp = "remove"
	AuditError  WorkerAuditOp = "error"
)

// WorkerAudit is an append-only record of a worker lifecycle event. Rows
// are never updated or deleted; callers write them in the same transaction
// as the state mutation they describe.
type WorkerAudit struct {
	WorkerAuditID  string        `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"worker_audit_id"`
	CreatedAt      time.Time     `gorm:"autoCreateTime:false;default:timezone('utc', now())" json:"created_at"`
	Operation      WorkerAuditOp `gorm:"type:text;not null" json:"operation"`
	RunID          *string       `gorm:"type:uuid" json:"run_id"`
	JobID          *string       `gorm:"type:uuid" json:"job_id"`
	ContainerID    string        `gorm:"type:text" json:"container_id"`
	Image          string        `gorm:"type:text" json:"image"`
	GPUID          string        `gorm:"type:text" json:"gpu_id"`
	Rationale      string        `gorm:"type:text" json:"rationale"`
	Success        bool          `json:"success"`
	ErrorText      string        `gorm:"type:text" json:"error_text"`
}

func (WorkerAudit) TableName() string { return "worker_audits" }
