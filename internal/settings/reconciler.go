package settings

import (
	"log/slog"
	"time"

	"pancount/internal/config"
	"pancount/internal/model"
)

type Change struct {
	Field string `json:"field"`
	Old   any    `json:"old"`
	New   any    `json:"new"`
}

// Reconciler folds remote overrides into the live runtime values. Absent
// fields and unchanged values are left alone.
type Reconciler struct {
	runtime *config.Runtime
	logger  *slog.Logger
}

func NewReconciler(runtime *config.Runtime, logger *slog.Logger) *Reconciler {
	return &Reconciler{runtime: runtime, logger: logger}
}

func (r *Reconciler) Apply(overrides model.DeviceSettings) []Change {
	var changes []Change
	r.runtime.Update(func(v *config.RuntimeValues) {
		if o := overrides.Threshold; o != nil && *o != v.Threshold {
			changes = append(changes, Change{Field: FieldThreshold, Old: v.Threshold, New: *o})
			v.Threshold = *o
		}
		if o := overrides.MinArea; o != nil && *o != v.MinArea {
			changes = append(changes, Change{Field: FieldMinArea, Old: v.MinArea, New: *o})
			v.MinArea = *o
		}
		if o := overrides.MaxArea; o != nil && *o != v.MaxArea {
			changes = append(changes, Change{Field: FieldMaxArea, Old: v.MaxArea, New: *o})
			v.MaxArea = *o
		}
		if o := overrides.CaptureInterval; o != nil && ValidCaptureInterval(*o) {
			next := time.Duration(*o * float64(time.Second))
			if next != v.CaptureInterval {
				changes = append(changes, Change{Field: FieldCaptureInterval, Old: v.CaptureInterval.Seconds(), New: *o})
				v.CaptureInterval = next
			}
		}
		if o := overrides.PowerSaveMode; o != nil && *o != v.PowerSaveMode {
			changes = append(changes, Change{Field: FieldPowerSaveMode, Old: v.PowerSaveMode, New: *o})
			v.PowerSaveMode = *o
		}
	})
	if r.logger != nil {
		for _, c := range changes {
			r.logger.Info("setting changed", "field", c.Field, "old", c.Old, "new", c.New)
		}
	}
	return changes
}

// ApplyRaw parses a remote record and applies what is usable.
func (r *Reconciler) ApplyRaw(raw map[string]any) []Change {
	overrides, errs := ParseOverrides(raw)
	if r.logger != nil {
		for _, e := range errs {
			r.logger.Warn("ignoring malformed setting", "field", e.Field, "value", e.Value, "err", e.Err)
		}
	}
	return r.Apply(overrides)
}
