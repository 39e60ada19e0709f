package models

import "time"

// JobStatus reuses the Run vocabulary minus partial/cancelled, per §3.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
)

// Job is a unit of work within a Run, keyed by a task_key enumeration.
type Job struct {
	JobID     string     `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"job_id"`
	CreatedAt time.Time  `gorm:"autoCreateTime:false;default:timezone('utc', now())" json:"created_at"`
	RunID     string     `gorm:"type:uuid;not null;index" json:"run_id"`
	TaskKey   string     `gorm:"type:text;not null" json:"task_key"`
	Status    JobStatus  `gorm:"type:text;not null;default:'pending'" json:"status"`
	StartedAt *time.Time `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at"`
	Result    JSONB      `gorm:"type:jsonb" json:"result"`
	ErrorText string     `gorm:"type:text" json:"error_text"`
	PromptTokens     int `gorm:"default:0" json:"prompt_tokens"`
	CompletionTokens int `gorm:"default:0" json:"completion_tokens"`
	TotalTokens      int `gorm:"default:0" json:"total_tokens"`
}

func (Job) TableName() string { return "jobs" }

func (j *Job) IsTerminal() bool {
	return j.Status == JobSuccess || j.Status == JobFailed
}
