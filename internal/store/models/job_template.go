package models

// JobTemplate is a named task kind with a stable, closed-set task key.
type JobTemplate struct {
	TaskKey            string `gorm:"primaryKey;type:text" json:"task_key"`
	DisplayName        string `gorm:"type:text;not null" json:"display_name"`
	DefaultDirectiveID *string `gorm:"type:uuid" json:"default_directive_id"`
	DefaultConfig      JSONB  `gorm:"type:jsonb" json:"default_config"`
	Active             bool   `gorm:"default:true" json:"active"`
}

func (JobTemplate) TableName() string { return "job_templates" }

// Well-known task keys, the closed set §3 names.
const (
	TaskLogTriage       = "log_triage"
	TaskGPUReport       = "gpu_report"
	TaskServiceMap      = "service_map"
	TaskRepoCopilotPlan = "repo_copilot_plan"
)
