package settings

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"pancount/internal/config"
	"pancount/internal/model"
)

func newRuntimeForTest() *config.Runtime {
	cfg := config.DefaultConfig()
	cfg.Detection.Threshold = 127
	cfg.Detection.MinArea = 1000
	cfg.Detection.MaxArea = 50000
	cfg.Sampling.CaptureInterval = time.Second
	return config.NewRuntime(cfg)
}

func intPtr(v int) *int { return &v }

func TestApplyOnlyChangedFields(t *testing.T) {
	rt := newRuntimeForTest()
	r := NewReconciler(rt, nil)
	changes := r.Apply(model.DeviceSettings{
		Threshold: intPtr(127),
		MinArea:   intPtr(800),
	})
	want := []Change{{Field: FieldMinArea, Old: 1000, New: 800}}
	if diff := cmp.Diff(want, changes); diff != "" {
		t.Fatalf("changes (-want +got):\n%s", diff)
	}
	snap := rt.Snapshot()
	if snap.MinArea != 800 || snap.MaxArea != 50000 || snap.Threshold != 127 {
		t.Fatalf("runtime: %+v", snap)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	r := NewReconciler(newRuntimeForTest(), nil)
	s := model.DeviceSettings{MaxArea: intPtr(40000)}
	if len(r.Apply(s)) != 1 {
		t.Fatalf("first apply should change max area")
	}
	if got := r.Apply(s); len(got) != 0 {
		t.Fatalf("second apply changed: %+v", got)
	}
}

func TestApplyEmptyOverrides(t *testing.T) {
	rt := newRuntimeForTest()
	before := rt.Snapshot()
	if got := NewReconciler(rt, nil).Apply(model.DeviceSettings{}); len(got) != 0 {
		t.Fatalf("empty overrides changed: %+v", got)
	}
	if rt.Snapshot() != before {
		t.Fatalf("runtime mutated")
	}
}

func TestApplyRawIgnoresMalformedFields(t *testing.T) {
	rt := newRuntimeForTest()
	changes := NewReconciler(rt, nil).ApplyRaw(map[string]any{
		"threshold":       "abc",
		"minArea":         500.0,
		"captureInterval": "2.5",
		"powerSaveMode":   true,
		"unrelated":       "x",
	})
	want := []Change{
		{Field: FieldMinArea, Old: 1000, New: 500},
		{Field: FieldCaptureInterval, Old: 1.0, New: 2.5},
		{Field: FieldPowerSaveMode, Old: false, New: true},
	}
	if diff := cmp.Diff(want, changes); diff != "" {
		t.Fatalf("changes (-want +got):\n%s", diff)
	}
	snap := rt.Snapshot()
	if snap.Threshold != 127 {
		t.Fatalf("malformed threshold applied: %d", snap.Threshold)
	}
	if snap.TickInterval() != 5*time.Second {
		t.Fatalf("tick interval: %s", snap.TickInterval())
	}
}

func TestParseOverridesReportsErrors(t *testing.T) {
	got, errs := ParseOverrides(map[string]any{
		"threshold":       999.0,
		"maxArea":         -1.0,
		"captureInterval": 0.0,
		"powerSaveMode":   "maybe",
		"minArea":         nil,
	})
	if got != (model.DeviceSettings{}) {
		t.Fatalf("expected nothing usable, got %+v", got)
	}
	if len(errs) != 4 {
		t.Fatalf("expected 4 field errors, got %d: %v", len(errs), errs)
	}
}

func TestApplyRawRejectsUnusableCaptureInterval(t *testing.T) {
	for _, raw := range []any{"NaN", "Inf", "-Inf", "1e12", 1e12, 0.001, "-3"} {
		rt := newRuntimeForTest()
		changes := NewReconciler(rt, nil).ApplyRaw(map[string]any{"captureInterval": raw})
		if len(changes) != 0 {
			t.Fatalf("%v: unexpected changes %+v", raw, changes)
		}
		if got := rt.Snapshot().TickInterval(); got != time.Second {
			t.Fatalf("%v: tick interval %s", raw, got)
		}
	}
}

func TestApplySkipsOutOfRangeCaptureInterval(t *testing.T) {
	rt := newRuntimeForTest()
	huge := 1e12
	if changes := NewReconciler(rt, nil).Apply(model.DeviceSettings{CaptureInterval: &huge}); len(changes) != 0 {
		t.Fatalf("unexpected changes %+v", changes)
	}
	if got := rt.Snapshot().TickInterval(); got != time.Second {
		t.Fatalf("tick interval %s", got)
	}
}

func TestParseOverridesRejectsHugeIntegers(t *testing.T) {
	_, errs := ParseOverrides(map[string]any{"minArea": 1e30})
	if len(errs) != 1 || errs[0].Field != FieldMinArea {
		t.Fatalf("expected minArea error, got %v", errs)
	}
}
