package models

import "time"

// RunStatus is the closed set of Run lifecycle states.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSuccess   RunStatus = "success"
	RunFailed    RunStatus = "failed"
	RunPartial   RunStatus = "partial"
	RunCancelled RunStatus = "cancelled"
)

// ApprovalStatus gates Runs that require operator sign-off before dispatch.
type ApprovalStatus string

const (
	ApprovalNone     ApprovalStatus = "none"
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
)

// Run is a single execution instance. DirectiveName/DirectiveConfig are a
// snapshot taken at creation time — never a live reference to the Directive
// row, so later edits to the Directive can't retroactively change a Run.
type Run struct {
	RunID        string         `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"run_id"`
	CreatedAt    time.Time      `gorm:"autoCreateTime:false;default:timezone('utc', now())" json:"created_at"`
	ScheduleID   *string        `gorm:"type:uuid;index" json:"schedule_id"`
	DirectiveID  *string        `gorm:"type:uuid" json:"directive_id"`
	DirectiveName   string      `gorm:"type:text;not null" json:"directive_name"`
	DirectiveConfig JSONB       `gorm:"type:jsonb" json:"directive_config"`
	Status       RunStatus      `gorm:"type:text;not null;default:'pending';index:idx_run_status_ended" json:"status"`
	StartedAt    *time.Time     `json:"started_at"`
	EndedAt      *time.Time     `gorm:"index:idx_run_status_ended" json:"ended_at"`
	WorkerHostID *string        `gorm:"type:uuid" json:"worker_host_id"`
	ApprovalStatus ApprovalStatus `gorm:"type:text;not null;default:'none'" json:"approval_status"`
	PromptTokens     int        `gorm:"default:0" json:"prompt_tokens"`
	CompletionTokens int        `gorm:"default:0" json:"completion_tokens"`
	TotalTokens      int        `gorm:"default:0" json:"total_tokens"`
	ReportMarkdown string      `gorm:"type:text" json:"report_markdown"`
	ReportJSON     JSONB       `gorm:"type:jsonb" json:"report_json"`
	UseRAG         bool        `gorm:"default:false" json:"use_rag"`
}

func (Run) TableName() string { return "runs" }

// IsTerminal reports whether status will never change again.
func (r *Run) IsTerminal() bool {
	switch r.Status {
	case RunSuccess, RunFailed, RunPartial, RunCancelled:
		return true
	default:
		return false
	}
}

// AggregateStatus derives a Run's status from its Jobs' statuses per the
// deterministic rule: any running -> running; else any pending -> pending;
// else any failed with >=1 success -> partial; all failed -> failed; else
// all success -> success.
func AggregateStatus(jobs []Job) RunStatus {
	if len(jobs) == 0 {
		return RunPending
	}
	var running, pending, failed, success int
	for _, j := range jobs {
		switch j.Status {
		case JobRunning:
			running++
		case JobPending:
			pending++
		case JobFailed:
			failed++
		case JobSuccess:
			success++
		}
	}
	if running > 0 {
		return RunRunning
	}
	if pending > 0 {
		return RunPending
	}
	if failed > 0 && success > 0 {
		return RunPartial
	}
	if failed > 0 && success == 0 {
		return RunFailed
	}
	return RunSuccess
}
