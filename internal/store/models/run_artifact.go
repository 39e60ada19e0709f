package models

import "time"

// RunArtifact is a reference to a file produced by a Run; contents live
// outside the state store (under LOGS_ROOT), only the path is persisted.
type RunArtifact struct {
	RunArtifactID string    `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"run_artifact_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime:false;default:timezone('utc', now())" json:"created_at"`
	RunID         string    `gorm:"type:uuid;not null;index" json:"run_id"`
	Kind          string    `gorm:"type:text;not null" json:"kind"`
	Path          string    `gorm:"type:text;not null" json:"path"`
	SizeBytes     int64     `json:"size_bytes"`
	MimeType      string    `gorm:"type:text" json:"mime_type"`
}

func (RunArtifact) TableName() string { return "run_artifacts" }
