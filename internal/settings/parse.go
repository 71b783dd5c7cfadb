package settings

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"pancount/internal/model"
)

const (
	FieldThreshold       = "threshold"
	FieldMinArea         = "minArea"
	FieldMaxArea         = "maxArea"
	FieldCaptureInterval = "captureInterval"
	FieldPowerSaveMode   = "powerSaveMode"
)

// Accepted captureInterval range in seconds.
const (
	MinCaptureInterval = 0.05
	MaxCaptureInterval = 3600.0
)

// ValidCaptureInterval reports whether secs is a usable loop period.
func ValidCaptureInterval(secs float64) bool {
	return !math.IsNaN(secs) && secs >= MinCaptureInterval && secs <= MaxCaptureInterval
}

// FieldError describes one override value that could not be used.
type FieldError struct {
	Field string
	Value any
	Err   error
}

func (e FieldError) Error() string {
	return fmt.Sprintf("setting %s=%v: %v", e.Field, e.Value, e.Err)
}

// ParseOverrides reads a remote settings record. Unknown keys are ignored and
// malformed values are reported without affecting the other fields.
func ParseOverrides(raw map[string]any) (model.DeviceSettings, []FieldError) {
	var out model.DeviceSettings
	var errs []FieldError
	fail := func(field string, v any, err error) {
		errs = append(errs, FieldError{Field: field, Value: v, Err: err})
	}
	if v, ok := raw[FieldThreshold]; ok && v != nil {
		if n, err := toInt(v); err != nil {
			fail(FieldThreshold, v, err)
		} else if n < 0 || n > 255 {
			fail(FieldThreshold, v, fmt.Errorf("out of range 0..255"))
		} else {
			out.Threshold = &n
		}
	}
	if v, ok := raw[FieldMinArea]; ok && v != nil {
		if n, err := toInt(v); err != nil {
			fail(FieldMinArea, v, err)
		} else if n < 0 {
			fail(FieldMinArea, v, fmt.Errorf("negative area"))
		} else {
			out.MinArea = &n
		}
	}
	if v, ok := raw[FieldMaxArea]; ok && v != nil {
		if n, err := toInt(v); err != nil {
			fail(FieldMaxArea, v, err)
		} else if n < 0 {
			fail(FieldMaxArea, v, fmt.Errorf("negative area"))
		} else {
			out.MaxArea = &n
		}
	}
	if v, ok := raw[FieldCaptureInterval]; ok && v != nil {
		if f, err := toFloat(v); err != nil {
			fail(FieldCaptureInterval, v, err)
		} else if !ValidCaptureInterval(f) {
			fail(FieldCaptureInterval, v, fmt.Errorf("out of range %gs..%gs", MinCaptureInterval, MaxCaptureInterval))
		} else {
			out.CaptureInterval = &f
		}
	}
	if v, ok := raw[FieldPowerSaveMode]; ok && v != nil {
		if b, err := toBool(v); err != nil {
			fail(FieldPowerSaveMode, v, err)
		} else {
			out.PowerSaveMode = &b
		}
	}
	return out, errs
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number")
		}
		return f, nil
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}

func toInt(v any) (int, error) {
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, fmt.Errorf("out of range")
	}
	return int(f), nil
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, fmt.Errorf("not a boolean")
		}
		return b, nil
	case float64:
		return t != 0, nil
	}
	return false, fmt.Errorf("unsupported type %T", v)
}
