package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseYAMLAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
log_level: debug
device:
  id: edge-07
sampling:
  capture_interval: 2s
counter:
  window: 0
mqtt:
  broker: tcp://broker:1883
  topics:
    count: line7/count
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Device.ID != "edge-07" || cfg.Sampling.CaptureInterval != 2*time.Second {
		t.Fatalf("yaml values not applied: %+v", cfg.Device)
	}
	if cfg.Counter.Window != 5 {
		t.Fatalf("window default: %d", cfg.Counter.Window)
	}
	if cfg.MQTT.Topics.Count != "line7/count" || cfg.MQTT.Topics.Command != "pancount/command" {
		t.Fatalf("topics: %+v", cfg.MQTT.Topics)
	}
	if cfg.Schedule.Heartbeat != 30*time.Second || cfg.Schedule.CommandPoll != 3*time.Second {
		t.Fatalf("schedule defaults: %+v", cfg.Schedule)
	}
}

func TestParseJSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"log_level":"warn","cloud":{"enabled":true,"backend":"rest","base_url":"https://example.firebaseio.com"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.LogLevel != "warn" || cfg.Cloud.BaseURL == "" {
		t.Fatalf("json values not applied")
	}
	if cfg.Cloud.Timeout != 5*time.Second {
		t.Fatalf("cloud timeout default: %s", cfg.Cloud.Timeout)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"empty":         ``,
		"cloud url":     `{"cloud":{"enabled":true,"backend":"rest"}}`,
		"cloud backend": `{"cloud":{"enabled":true,"backend":"ftp"}}`,
		"areas":         `{"detection":{"min_area":500,"max_area":100}}`,
		"threshold":     `{"detection":{"threshold":300}}`,
		"kafka export":  `{"export":{"kafka":{"enabled":true}}}`,
	}
	for name, body := range cases {
		if _, err := Parse([]byte(body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestRuntimeTickInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sampling.CaptureInterval = 500 * time.Millisecond
	rt := NewRuntime(cfg)
	if got := rt.Snapshot().TickInterval(); got != 500*time.Millisecond {
		t.Fatalf("interval: %s", got)
	}
	rt.Update(func(v *RuntimeValues) { v.PowerSaveMode = true })
	if got := rt.Snapshot().TickInterval(); got != time.Second {
		t.Fatalf("power save interval: %s", got)
	}
	rt.Update(func(v *RuntimeValues) {
		v.PowerSaveMode = false
		v.CaptureInterval = -5 * time.Second
	})
	if got := rt.Snapshot().TickInterval(); got != MinTickInterval {
		t.Fatalf("non-positive interval not floored: %s", got)
	}
	if !rt.SetCalibration(true) || rt.SetCalibration(true) {
		t.Fatalf("calibration toggle should report change once")
	}
}

func TestManagerWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pancount.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reloaded := make(chan *Config, 1)
	go m.Watch(ctx, 20*time.Millisecond, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}, nil)

	future := time.Now().Add(2 * time.Second)
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	select {
	case cfg := <-reloaded:
		if cfg.LogLevel != "debug" {
			t.Fatalf("reloaded level: %s", cfg.LogLevel)
		}
	case <-ctx.Done():
		t.Fatalf("no reload observed")
	}
	if m.Get().LogLevel != "debug" {
		t.Fatalf("manager not updated")
	}
}
