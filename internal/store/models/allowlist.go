package models

// WorkerImageAllowlist is a positive-list entry for container images
// eligible for spawn_worker. Unique on (Image, Tag).
type WorkerImageAllowlist struct {
	WorkerImageAllowlistID string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"worker_image_allowlist_id"`
	Image                  string `gorm:"type:text;not null;uniqueIndex:idx_allowlist_image_tag" json:"image"`
	Tag                    string `gorm:"type:text;not null;uniqueIndex:idx_allowlist_image_tag" json:"tag"`
	Active                 bool   `gorm:"default:true" json:"active"`
	RequiresGPU            bool   `gorm:"default:false" json:"requires_gpu"`
	MinVRAMMB              int    `gorm:"default:0" json:"min_vram_mb"`
}

func (WorkerImageAllowlist) TableName() string { return "worker_image_allowlist" }

// ContainerAllowlist keys eligible-for-log-collection containers by id.
type ContainerAllowlist struct {
	ContainerID string `gorm:"primaryKey;type:text" json:"container_id"`
	RunID       string `gorm:"type:uuid;index" json:"run_id"`
}

func (ContainerAllowlist) TableName() string { return "container_allowlist" }
