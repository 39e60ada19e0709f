package models

import "time"

// AgentRunStatus is the closed set of agent lifecycle states.
type AgentRunStatus string

const (
	AgentPending         AgentRunStatus = "pending"
	AgentPendingApproval AgentRunStatus = "pending_approval"
	AgentRunning         AgentRunStatus = "running"
	AgentCompleted       AgentRunStatus = "completed"
	AgentFailed          AgentRunStatus = "failed"
	AgentCancelled       AgentRunStatus = "cancelled"
	AgentTimeout         AgentRunStatus = "timeout"
	AgentExpired         AgentRunStatus = "expired"
)

// AgentRun is an autonomous multi-step run driven by a plan under explicit
// step/time/token budgets. It owns its AgentSteps.
type AgentRun struct {
	AgentRunID       string         `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"agent_run_id"`
	CreatedAt        time.Time      `gorm:"autoCreateTime:false;default:timezone('utc', now())" json:"created_at"`
	OperatorGoal     string         `gorm:"type:text;not null" json:"operator_goal"`
	DirectiveID      *string        `gorm:"type:uuid" json:"directive_id"`
	DirectiveName    string         `gorm:"type:text" json:"directive_name"`
	DirectiveConfig  JSONB          `gorm:"type:jsonb" json:"directive_config"`
	Status           AgentRunStatus `gorm:"type:text;not null;default:'pending'" json:"status"`
	CurrentStep      int            `gorm:"default:0" json:"current_step"`
	MaxSteps         int            `gorm:"default:0" json:"max_steps"`
	TimeBudgetMinutes int           `gorm:"default:0" json:"time_budget_minutes"`
	TokenBudget      int            `gorm:"default:0" json:"token_budget"`
	TokensUsed       int            `gorm:"default:0" json:"tokens_used"`
	StartedAt        *time.Time     `json:"started_at"`
	EndedAt          *time.Time     `json:"ended_at"`
}

func (AgentRun) TableName() string { return "agent_runs" }

func (a *AgentRun) IsTerminal() bool {
	switch a.Status {
	case AgentCompleted, AgentFailed, AgentCancelled, AgentTimeout, AgentExpired:
		return true
	default:
		return false
	}
}
