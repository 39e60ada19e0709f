package models

import "time"

// WorkerHostKind is the closed set of container-runtime transports.
type WorkerHostKind string

const (
	HostLocalSocket WorkerHostKind = "local_socket"
	HostRemoteTCP   WorkerHostKind = "remote_tcp"
)

// WorkerHost is a registered execution target. SSHConfig, when present,
// holds tunnel connection details and must never be logged or returned to a
// caller. Its `json:"-"` tag keeps it out of JSON output; internal/redact's
// log hook only pattern-matches text and does not inspect this field.
type WorkerHost struct {
	WorkerHostID    string         `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"worker_host_id"`
	Name            string         `gorm:"type:text;not null;uniqueIndex" json:"name"`
	Kind            WorkerHostKind `gorm:"type:text;not null" json:"kind"`
	BaseURL         string         `gorm:"type:text;not null" json:"base_url"`
	SSHConfig       JSONB          `gorm:"type:jsonb" json:"-"`
	Capabilities    JSONB          `gorm:"type:jsonb" json:"capabilities"`
	Enabled         bool           `gorm:"default:true;index:idx_host_enabled_healthy" json:"enabled"`
	Healthy         bool           `gorm:"default:false;index:idx_host_enabled_healthy" json:"healthy"`
	LastSeenAt      *time.Time     `json:"last_seen_at"`
	ActiveRunsCount int            `gorm:"default:0" json:"active_runs_count"`
}

func (WorkerHost) TableName() string { return "worker_hosts" }

// Stale reports whether last_seen_at is older than threshold relative to
// now, or was never set.
func (h *WorkerHost) Stale(now time.Time, threshold time.Duration) bool {
	if h.LastSeenAt == nil {
		return true
	}
	return now.Sub(*h.LastSeenAt) > threshold
}

// Selectable reports whether the host is eligible for selection: enabled,
// marked healthy, and not stale.
func (h *WorkerHost) Selectable(now time.Time, staleness time.Duration) bool {
	return h.Enabled && h.Healthy && !h.Stale(now, staleness)
}

// GPUCount reads the "gpu_count" capability, defaulting to 0.
func (h *WorkerHost) GPUCount() int {
	if h.Capabilities == nil {
		return 0
	}
	if v, ok := h.Capabilities["gpu_count"]; ok {
		if f, ok := v.(float64); ok {
			return int(f)
		}
	}
	return 0
}
