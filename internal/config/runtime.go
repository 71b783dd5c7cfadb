package config

import (
	"sync"
	"time"
)

// RuntimeValues are the settings that may change while the device runs.
type RuntimeValues struct {
	Threshold       int           `json:"threshold"`
	MinArea         int           `json:"min_area"`
	MaxArea         int           `json:"max_area"`
	MinAspectRatio  float64       `json:"min_aspect_ratio"`
	MaxAspectRatio  float64       `json:"max_aspect_ratio"`
	CaptureInterval time.Duration `json:"capture_interval"`
	PowerSaveMode   bool          `json:"power_save_mode"`
	CalibrationMode bool          `json:"calibration_mode"`
}

// MinTickInterval is the shortest loop period.
const MinTickInterval = 50 * time.Millisecond

// TickInterval is the loop period; power save doubles it.
func (v RuntimeValues) TickInterval() time.Duration {
	d := v.CaptureInterval
	if d < MinTickInterval {
		d = MinTickInterval
	}
	if v.PowerSaveMode {
		return 2 * d
	}
	return d
}

// Runtime owns the live values. The coordinator is the only writer;
// everyone else reads a Snapshot.
type Runtime struct {
	mu sync.RWMutex
	v  RuntimeValues
}

func NewRuntime(cfg *Config) *Runtime {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Runtime{v: RuntimeValues{
		Threshold:       cfg.Detection.Threshold,
		MinArea:         cfg.Detection.MinArea,
		MaxArea:         cfg.Detection.MaxArea,
		MinAspectRatio:  cfg.Detection.MinAspectRatio,
		MaxAspectRatio:  cfg.Detection.MaxAspectRatio,
		CaptureInterval: cfg.Sampling.CaptureInterval,
		PowerSaveMode:   cfg.Sampling.PowerSaveMode,
	}}
}

func (r *Runtime) Snapshot() RuntimeValues {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.v
}

// Update applies fn to the live values under the write lock.
func (r *Runtime) Update(fn func(v *RuntimeValues)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.v)
}

// SetCalibration reports whether the mode actually changed.
func (r *Runtime) SetCalibration(on bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.v.CalibrationMode == on {
		return false
	}
	r.v.CalibrationMode = on
	return true
}
