package models

import "time"

// GPUState is per-GPU telemetry reported by a host's resource monitor.
// UsedVRAMMB + FreeVRAMMB should approximate TotalVRAMMB within tolerance;
// the registry does not enforce this, it only records what's reported.
type GPUState struct {
	WorkerHostID   string    `gorm:"primaryKey;type:uuid" json:"worker_host_id"`
	GPUID          string    `gorm:"primaryKey;type:text" json:"gpu_id"`
	TotalVRAMMB    int       `json:"total_vram_mb"`
	UsedVRAMMB     int       `json:"used_vram_mb"`
	FreeVRAMMB     int       `json:"free_vram_mb"`
	UtilizationPct float64   `gorm:"index:idx_gpu_available_util" json:"utilization_pct"`
	IsAvailable    bool      `gorm:"default:true;index:idx_gpu_available_util" json:"is_available"`
	ActiveWorkers  int       `gorm:"default:0" json:"active_workers"`
	LastUpdated    time.Time `gorm:"autoUpdateTime:false;default:timezone('utc', now())" json:"last_updated"`
}

func (GPUState) TableName() string { return "gpu_states" }

// score implements §4.D's selection formula: lower is better.
func (g *GPUState) score() float64 {
	freeRatio := 0.0
	if g.TotalVRAMMB > 0 {
		freeRatio = float64(g.FreeVRAMMB) / float64(g.TotalVRAMMB)
	}
	return 0.6*(1-freeRatio) + 0.4*(g.UtilizationPct/100)
}

// Score is exported for callers (the GPU registry) that need to rank GPUs
// and build a rationale string from the same components.
func (g *GPUState) Score() float64 { return g.score() }
