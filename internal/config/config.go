package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	LogFormat string          `json:"log_format" yaml:"log_format"`
	Device    DeviceConfig    `json:"device" yaml:"device"`
	Sampling  SamplingConfig  `json:"sampling" yaml:"sampling"`
	Detection DetectionConfig `json:"detection" yaml:"detection"`
	Counter   CounterConfig   `json:"counter" yaml:"counter"`
	MQTT      MQTTConfig      `json:"mqtt" yaml:"mqtt"`
	Cloud     CloudConfig     `json:"cloud" yaml:"cloud"`
	Schedule  ScheduleConfig  `json:"schedule" yaml:"schedule"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Export    ExportConfig    `json:"export" yaml:"export"`
	API       APIConfig       `json:"api" yaml:"api"`
	Discovery DiscoveryConfig `json:"discovery" yaml:"discovery"`
	Console   ConsoleConfig   `json:"console" yaml:"console"`
	Activity  ActivityConfig  `json:"activity" yaml:"activity"`
}

type DeviceConfig struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

type SamplingConfig struct {
	CaptureInterval time.Duration `json:"capture_interval" yaml:"capture_interval"`
	PowerSaveMode   bool          `json:"power_save_mode" yaml:"power_save_mode"`
	// ThermalPath is read for the heartbeat cpu temperature, in millidegrees.
	ThermalPath string `json:"thermal_path" yaml:"thermal_path"`
}

type DetectionConfig struct {
	Threshold      int     `json:"threshold" yaml:"threshold"`
	MinArea        int     `json:"min_area" yaml:"min_area"`
	MaxArea        int     `json:"max_area" yaml:"max_area"`
	MinAspectRatio float64 `json:"min_aspect_ratio" yaml:"min_aspect_ratio"`
	MaxAspectRatio float64 `json:"max_aspect_ratio" yaml:"max_aspect_ratio"`
}

type CounterConfig struct {
	Window               int  `json:"window" yaml:"window"`
	AutoConfirm          bool `json:"auto_confirm" yaml:"auto_confirm"`
	AutoConfirmThreshold int  `json:"auto_confirm_threshold" yaml:"auto_confirm_threshold"`
}

type MQTTConfig struct {
	Enabled        bool          `json:"enabled" yaml:"enabled"`
	Broker         string        `json:"broker" yaml:"broker"`
	ClientID       string        `json:"client_id" yaml:"client_id"`
	Username       string        `json:"username" yaml:"username"`
	Password       string        `json:"password" yaml:"password"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	Topics         TopicsConfig  `json:"topics" yaml:"topics"`
	// CommandDedupe drops redelivered commands with the same id or timestamp.
	CommandDedupe time.Duration `json:"command_dedupe" yaml:"command_dedupe"`
	CommandQueue  int           `json:"command_queue" yaml:"command_queue"`
}

type TopicsConfig struct {
	Count            string `json:"count" yaml:"count"`
	BatchComplete    string `json:"batch_complete" yaml:"batch_complete"`
	Status           string `json:"status" yaml:"status"`
	CalibrationImage string `json:"calibration_image" yaml:"calibration_image"`
	Command          string `json:"command" yaml:"command"`
}

type CloudConfig struct {
	Enabled   bool          `json:"enabled" yaml:"enabled"`
	Backend   string        `json:"backend" yaml:"backend"`
	BaseURL   string        `json:"base_url" yaml:"base_url"`
	AuthToken string        `json:"auth_token" yaml:"auth_token"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
	Redis     RedisConfig   `json:"redis" yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Prefix   string `json:"prefix" yaml:"prefix"`
}

type ScheduleConfig struct {
	Heartbeat       time.Duration `json:"heartbeat" yaml:"heartbeat"`
	SettingsRefresh time.Duration `json:"settings_refresh" yaml:"settings_refresh"`
	CommandPoll     time.Duration `json:"command_poll" yaml:"command_poll"`
	ProductRefresh  time.Duration `json:"product_refresh" yaml:"product_refresh"`
}

type IngestConfig struct {
	REST      RESTConfig      `json:"rest" yaml:"rest"`
	TCPStream TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	FileTail  FileTailConfig  `json:"file_tail" yaml:"file_tail"`
	Kafka     KafkaConfig     `json:"kafka" yaml:"kafka"`
	Timezone  string          `json:"timezone" yaml:"timezone"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type ExportConfig struct {
	Kafka KafkaExportConfig `json:"kafka" yaml:"kafka"`
}

type KafkaExportConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type DiscoveryConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	Instance      string        `json:"instance" yaml:"instance"`
	Service       string        `json:"service" yaml:"service"`
	Domain        string        `json:"domain" yaml:"domain"`
	BrowseTimeout time.Duration `json:"browse_timeout" yaml:"browse_timeout"`
}

type ConsoleConfig struct {
	// CPUTempWarn is the edge cpu temperature that raises an operator warning.
	CPUTempWarn float64 `json:"cpu_temp_warn" yaml:"cpu_temp_warn"`
	HubBuffer   int     `json:"hub_buffer" yaml:"hub_buffer"`
}

type ActivityConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Device:    DeviceConfig{ID: "edge-01", Name: "line-1"},
		Sampling: SamplingConfig{
			CaptureInterval: 1 * time.Second,
			ThermalPath:     "/sys/class/thermal/thermal_zone0/temp",
		},
		Detection: DetectionConfig{
			Threshold:      127,
			MinArea:        1000,
			MaxArea:        50000,
			MinAspectRatio: 0.5,
			MaxAspectRatio: 2.0,
		},
		Counter: CounterConfig{Window: 5, AutoConfirm: true},
		MQTT: MQTTConfig{
			Enabled:        true,
			Broker:         "tcp://localhost:1883",
			ClientID:       "pancount",
			ConnectTimeout: 5 * time.Second,
			Topics:         defaultTopics(),
			CommandDedupe:  30 * time.Second,
			CommandQueue:   16,
		},
		Cloud: CloudConfig{
			Enabled: false,
			Backend: "rest",
			Timeout: 5 * time.Second,
			Redis:   RedisConfig{Addr: "localhost:6379", Prefix: "pancount"},
		},
		Schedule: defaultSchedule(),
		Ingest: IngestConfig{
			REST:      RESTConfig{Enabled: true, Addr: ":8090"},
			TCPStream: TCPStreamConfig{Enabled: false, Addr: ":9000"},
			FileTail:  FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:     KafkaConfig{Enabled: false},
			Timezone:  "UTC",
		},
		Storage:   StorageConfig{Enabled: true, Driver: "sqlite", DSN: "file:pancount.db?_pragma=busy_timeout(5000)"},
		Export:    ExportConfig{Kafka: KafkaExportConfig{Enabled: false, Topic: "pancount.batches"}},
		API:       APIConfig{Enabled: true, Addr: ":8081"},
		Discovery: DiscoveryConfig{Enabled: false, Service: "_pancount._tcp", Domain: "local.", BrowseTimeout: 3 * time.Second},
		Console:   ConsoleConfig{CPUTempWarn: 75, HubBuffer: 64},
		Activity:  ActivityConfig{StoreLimit: 500},
	}
}

func defaultTopics() TopicsConfig {
	return TopicsConfig{
		Count:            "pancount/count",
		BatchComplete:    "pancount/batch_complete",
		Status:           "pancount/status",
		CalibrationImage: "pancount/calibration/image",
		Command:          "pancount/command",
	}
}

func defaultSchedule() ScheduleConfig {
	return ScheduleConfig{
		Heartbeat:       30 * time.Second,
		SettingsRefresh: 300 * time.Second,
		CommandPoll:     3 * time.Second,
		ProductRefresh:  30 * time.Second,
	}
}

func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(content)
}

// Parse decodes YAML or JSON config content on top of the defaults.
func Parse(content []byte) (*Config, error) {
	cfg := DefaultConfig()
	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode config: %w", decodeErr)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Sampling.CaptureInterval <= 0 {
		cfg.Sampling.CaptureInterval = 1 * time.Second
	}
	if cfg.Counter.Window <= 0 {
		cfg.Counter.Window = 5
	}
	if cfg.Counter.AutoConfirmThreshold < 0 {
		cfg.Counter.AutoConfirmThreshold = 0
	}
	topics := defaultTopics()
	fill := func(dst *string, def string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = def
		}
	}
	fill(&cfg.MQTT.Topics.Count, topics.Count)
	fill(&cfg.MQTT.Topics.BatchComplete, topics.BatchComplete)
	fill(&cfg.MQTT.Topics.Status, topics.Status)
	fill(&cfg.MQTT.Topics.CalibrationImage, topics.CalibrationImage)
	fill(&cfg.MQTT.Topics.Command, topics.Command)
	if cfg.MQTT.ConnectTimeout <= 0 {
		cfg.MQTT.ConnectTimeout = 5 * time.Second
	}
	if cfg.MQTT.CommandQueue <= 0 {
		cfg.MQTT.CommandQueue = 16
	}
	if cfg.Cloud.Timeout <= 0 {
		cfg.Cloud.Timeout = 5 * time.Second
	}
	fill(&cfg.Cloud.Backend, "rest")
	sched := defaultSchedule()
	for _, d := range []struct {
		dst *time.Duration
		def time.Duration
	}{
		{&cfg.Schedule.Heartbeat, sched.Heartbeat},
		{&cfg.Schedule.SettingsRefresh, sched.SettingsRefresh},
		{&cfg.Schedule.CommandPoll, sched.CommandPoll},
		{&cfg.Schedule.ProductRefresh, sched.ProductRefresh},
	} {
		if *d.dst <= 0 {
			*d.dst = d.def
		}
	}
	fill(&cfg.Ingest.Timezone, "UTC")
	fill(&cfg.Discovery.Service, "_pancount._tcp")
	fill(&cfg.Discovery.Domain, "local.")
	if cfg.Console.HubBuffer <= 0 {
		cfg.Console.HubBuffer = 64
	}
	if cfg.Activity.StoreLimit <= 0 {
		cfg.Activity.StoreLimit = 500
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		return errors.New("mqtt.broker required when mqtt.enabled is true")
	}
	if cfg.Cloud.Enabled {
		switch strings.ToLower(cfg.Cloud.Backend) {
		case "rest":
			if cfg.Cloud.BaseURL == "" {
				return errors.New("cloud.base_url required for the rest backend")
			}
		case "redis":
			if cfg.Cloud.Redis.Addr == "" {
				return errors.New("cloud.redis.addr required for the redis backend")
			}
		default:
			return fmt.Errorf("unsupported cloud backend: %q", cfg.Cloud.Backend)
		}
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Export.Kafka.Enabled && (len(cfg.Export.Kafka.Brokers) == 0 || cfg.Export.Kafka.Topic == "") {
		return errors.New("export.kafka requires brokers and topic")
	}
	if cfg.Detection.MinArea < 0 || cfg.Detection.MaxArea < 0 {
		return errors.New("detection areas must be >= 0")
	}
	if cfg.Detection.MaxArea > 0 && cfg.Detection.MinArea > cfg.Detection.MaxArea {
		return fmt.Errorf("detection.min_area %d exceeds max_area %d", cfg.Detection.MinArea, cfg.Detection.MaxArea)
	}
	if cfg.Detection.Threshold < 0 || cfg.Detection.Threshold > 255 {
		return fmt.Errorf("detection.threshold out of range: %d", cfg.Detection.Threshold)
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := Save(m.path, cfg); err != nil {
		return err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

// Watch polls the config file and reloads it when its mtime moves forward.
func (m *Manager) Watch(ctx context.Context, interval time.Duration, onReload func(*Config), onError func(error)) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-ctx.Done():
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
