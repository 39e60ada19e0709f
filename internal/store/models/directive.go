package models

import "time"

// Directive is a reusable task-plan template, snapshotted into a Run at
// creation time so later edits to the Directive never change a past Run.
type Directive struct {
	DirectiveID  string     `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"directive_id"`
	CreatedAt    time.Time  `gorm:"autoCreateTime:false;default:timezone('utc', now())" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime:false;default:timezone('utc', now())" json:"updated_at"`
	Category     string     `gorm:"type:text;not null;check:category IN ('D1','D2','D3','D4')" json:"category"`
	Name         string     `gorm:"type:text;not null;uniqueIndex" json:"name"`
	Description  string     `gorm:"type:text" json:"description"`
	Config       JSONB      `gorm:"type:jsonb" json:"config"`
	TaskList     StringList `gorm:"type:jsonb" json:"task_list"`
	ApprovalRequired bool   `gorm:"default:false" json:"approval_required"`
	MaxConcurrentRuns int   `gorm:"default:0" json:"max_concurrent_runs"`
	Version      int        `gorm:"default:1;not null" json:"version"`
	IsActive     bool       `gorm:"default:true" json:"is_active"`
}

func (Directive) TableName() string { return "directives" }

// Snapshot captures the fields a Run must freeze at creation time.
type DirectiveSnapshot struct {
	Name   string `json:"name"`
	Config JSONB  `json:"config"`
}

func (d *Directive) Snapshot() DirectiveSnapshot {
	return DirectiveSnapshot{Name: d.Name, Config: d.Config}
}

// Permits reports whether taskKey is in the directive's allowed task list.
func (d *Directive) Permits(taskKey string) bool {
	for _, k := range d.TaskList {
		if k == taskKey {
			return true
		}
	}
	return false
}

// AllowsBranchCreate reports whether this directive's category permits
// creating a branch: D3 and D4 do, D1/D2 are read-only analysis.
func (d *Directive) AllowsBranchCreate() bool {
	return d.Category == "D3" || d.Category == "D4"
}

// AllowsPush reports whether this directive's category permits pushing a
// branch or opening a PR. Only D4 does.
func (d *Directive) AllowsPush() bool {
	return d.Category == "D4"
}
