package models

import "time"

// AgentStepType is the closed set of step kinds a plan may emit.
type AgentStepType string

const (
	StepTaskCall AgentStepType = "task_call"
	StepWait     AgentStepType = "wait"
	StepDecision AgentStepType = "decision"
	StepNotify   AgentStepType = "notify"
)

// AgentStepStatus mirrors Job's vocabulary for a single step's lifecycle.
type AgentStepStatus string

const (
	AgentStepPending AgentStepStatus = "pending"
	AgentStepRunning AgentStepStatus = "running"
	AgentStepSuccess AgentStepStatus = "success"
	AgentStepFailed  AgentStepStatus = "failed"
)

// AgentStep is one step in an AgentRun's plan, contiguous from 0. Inputs
// must never contain prompt/response text; OutputsRef is a path, never
// content.
type AgentStep struct {
	AgentStepID  string          `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"agent_step_id"`
	AgentRunID   string          `gorm:"type:uuid;not null;index" json:"agent_run_id"`
	StepIndex    int             `gorm:"not null" json:"step_index"`
	StepType     AgentStepType   `gorm:"type:text;not null" json:"step_type"`
	TaskKey      string          `gorm:"type:text" json:"task_key"`
	Inputs       JSONB           `gorm:"type:jsonb" json:"inputs"`
	Status       AgentStepStatus `gorm:"type:text;not null;default:'pending'" json:"status"`
	LaunchedRunID *string        `gorm:"type:uuid" json:"launched_run_id"`
	OutputsRef   string          `gorm:"type:text" json:"outputs_ref"`
	ErrorText    string          `gorm:"type:text" json:"error_text"`
	StartedAt    *time.Time      `json:"started_at"`
	EndedAt      *time.Time      `json:"ended_at"`
}

func (AgentStep) TableName() string { return "agent_steps" }
