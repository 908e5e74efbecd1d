package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/cptspacemanspiff/procpower/internal/collector"
	"github.com/cptspacemanspiff/procpower/internal/power"
)

const (
	maxIntervalSeconds      = 3600
	maxSampleDelaySeconds   = 10
	minCoreID               = 0
	maxCoreID               = 4095
	minRetentionDays        = 1
	maxRetentionDays        = 3650
	minCleanupIntervalHours = 1
	maxCleanupIntervalHours = 720
)

type Config struct {
	Sampling  SamplingConfig  `toml:"sampling" yaml:"sampling"`
	Model     power.Constants `toml:"model" yaml:"model"`
	Telemetry TelemetryConfig `toml:"telemetry" yaml:"telemetry"`
	Log       LogConfig       `toml:"log" yaml:"log"`
	Storage   StorageConfig   `toml:"storage" yaml:"storage"`
	Cleanup   CleanupConfig   `toml:"cleanup" yaml:"cleanup"`
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Export    ExportConfig    `toml:"export" yaml:"export"`
}

type SamplingConfig struct {
	CoreID             int     `toml:"core_id" yaml:"core_id"`
	SampleDelaySeconds float64 `toml:"sample_delay_seconds" yaml:"sample_delay_seconds"`
	IntervalSeconds    float64 `toml:"interval_seconds" yaml:"interval_seconds"`
	DurationSeconds    float64 `toml:"duration_seconds" yaml:"duration_seconds"`
}

type TelemetryConfig struct {
	DefaultVoltage     float64  `toml:"default_voltage" yaml:"default_voltage"`
	VoltageSources     []string `toml:"voltage_sources" yaml:"voltage_sources"`
	FrequencySources   []string `toml:"frequency_sources" yaml:"frequency_sources"`
	TemperatureSources []string `toml:"temperature_sources" yaml:"temperature_sources"`
	UseHwmonSensors    bool     `toml:"use_hwmon_sensors" yaml:"use_hwmon_sensors"`
}

type LogConfig struct {
	Dir string `toml:"dir" yaml:"dir"`
}

type StorageConfig struct {
	DBPath string `toml:"db_path" yaml:"db_path"`
}

type CleanupConfig struct {
	RetentionDays int `toml:"retention_days" yaml:"retention_days"`
	IntervalHours int `toml:"interval_hours" yaml:"interval_hours"`
}

type ServerConfig struct {
	// ListenAddr is the HTTP address for /ws/power, /metrics and /health.
	// Empty disables the server.
	ListenAddr string `toml:"listen_addr" yaml:"listen_addr"`
}

type ExportConfig struct {
	Elasticsearch ElasticsearchConfig `toml:"elasticsearch" yaml:"elasticsearch"`
}

type ElasticsearchConfig struct {
	Enabled   bool     `toml:"enabled" yaml:"enabled"`
	Addresses []string `toml:"addresses" yaml:"addresses"`
	Index     string   `toml:"index" yaml:"index"`
}

func DefaultConfig() *Config {
	tel := collector.DefaultTelemetryConfig()
	return &Config{
		Sampling: SamplingConfig{
			CoreID:             0,
			SampleDelaySeconds: collector.DefaultSampleDelay.Seconds(),
			IntervalSeconds:    1.0,
			DurationSeconds:    10.0,
		},
		Model: power.DefaultConstants(),
		Telemetry: TelemetryConfig{
			DefaultVoltage:     tel.DefaultVoltage,
			VoltageSources:     tel.VoltageSources,
			FrequencySources:   tel.FrequencySources,
			TemperatureSources: tel.TemperatureSources,
			UseHwmonSensors:    tel.UseSensors,
		},
		Log: LogConfig{
			Dir: "logs",
		},
		Storage: StorageConfig{
			DBPath: "/var/lib/procpower/data.db",
		},
		Cleanup: CleanupConfig{
			RetentionDays: 30,
			IntervalHours: 24,
		},
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:9470",
		},
		Export: ExportConfig{
			Elasticsearch: ElasticsearchConfig{
				Addresses: []string{"http://localhost:9200"},
				Index:     "procpower-states",
			},
		},
	}
}

// Load reads a TOML file, or YAML when the extension is .yaml or .yml,
// over the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if isYAML(path) {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return NormalizeAndValidate(cfg)
}

func NormalizeAndValidate(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}

	sanitized := *cfg

	var err error
	sanitized.Storage.DBPath, err = sanitizePath("storage.db_path", sanitized.Storage.DBPath)
	if err != nil {
		return nil, err
	}

	sanitized.Log.Dir = strings.TrimSpace(sanitized.Log.Dir)
	if sanitized.Log.Dir == "" {
		return nil, fmt.Errorf("log.dir must not be empty")
	}
	sanitized.Log.Dir = filepath.Clean(sanitized.Log.Dir)

	if err := validateRange("sampling.core_id", sanitized.Sampling.CoreID, minCoreID, maxCoreID); err != nil {
		return nil, err
	}
	if err := validatePositive("sampling.interval_seconds", sanitized.Sampling.IntervalSeconds, maxIntervalSeconds); err != nil {
		return nil, err
	}
	if err := validatePositive("sampling.duration_seconds", sanitized.Sampling.DurationSeconds, math.MaxFloat64); err != nil {
		return nil, err
	}
	if err := validateNonNegative("sampling.sample_delay_seconds", sanitized.Sampling.SampleDelaySeconds); err != nil {
		return nil, err
	}
	if sanitized.Sampling.SampleDelaySeconds > maxSampleDelaySeconds {
		return nil, fmt.Errorf("sampling.sample_delay_seconds must be at most %d, got %g", maxSampleDelaySeconds, sanitized.Sampling.SampleDelaySeconds)
	}

	if err := validateNonNegative("model.alpha", sanitized.Model.Alpha); err != nil {
		return nil, err
	}
	if err := validateNonNegative("model.c_eff", sanitized.Model.CEff); err != nil {
		return nil, err
	}
	if err := validateNonNegative("model.k_leak", sanitized.Model.KLeak); err != nil {
		return nil, err
	}

	if err := validatePositive("telemetry.default_voltage", sanitized.Telemetry.DefaultVoltage, math.MaxFloat64); err != nil {
		return nil, err
	}
	sanitized.Telemetry.VoltageSources = trimList(sanitized.Telemetry.VoltageSources)
	sanitized.Telemetry.FrequencySources = trimList(sanitized.Telemetry.FrequencySources)
	sanitized.Telemetry.TemperatureSources = trimList(sanitized.Telemetry.TemperatureSources)

	if err := validateRange("cleanup.retention_days", sanitized.Cleanup.RetentionDays, minRetentionDays, maxRetentionDays); err != nil {
		return nil, err
	}
	if err := validateRange("cleanup.interval_hours", sanitized.Cleanup.IntervalHours, minCleanupIntervalHours, maxCleanupIntervalHours); err != nil {
		return nil, err
	}

	sanitized.Server.ListenAddr = strings.TrimSpace(sanitized.Server.ListenAddr)

	es := &sanitized.Export.Elasticsearch
	es.Addresses = trimList(es.Addresses)
	es.Index = strings.TrimSpace(es.Index)
	if es.Enabled {
		if len(es.Addresses) == 0 {
			return nil, fmt.Errorf("export.elasticsearch.addresses must not be empty when enabled")
		}
		if es.Index == "" {
			return nil, fmt.Errorf("export.elasticsearch.index must not be empty when enabled")
		}
	}

	return &sanitized, nil
}

func Save(path string, cfg *Config) error {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return fmt.Errorf("config path must not be empty")
	}

	sanitized, err := NormalizeAndValidate(cfg)
	if err != nil {
		return err
	}

	var data bytes.Buffer
	if isYAML(trimmedPath) {
		enc := yaml.NewEncoder(&data)
		if err := enc.Encode(sanitized); err != nil {
			return fmt.Errorf("encode config YAML: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("encode config YAML: %w", err)
		}
	} else if err := toml.NewEncoder(&data).Encode(sanitized); err != nil {
		return fmt.Errorf("encode config TOML: %w", err)
	}

	dir := filepath.Dir(trimmedPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".config-*"+filepath.Ext(trimmedPath))
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data.Bytes()); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmpFile.Chmod(0o644); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp config file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, trimmedPath); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	tmpPath = ""

	return nil
}

// Interval returns the driver tick period.
func (s SamplingConfig) Interval() time.Duration {
	return seconds(s.IntervalSeconds)
}

// Duration returns the total logging session length.
func (s SamplingConfig) Duration() time.Duration {
	return seconds(s.DurationSeconds)
}

// SampleDelay returns the gap between the two process snapshots.
func (s SamplingConfig) SampleDelay() time.Duration {
	return seconds(s.SampleDelaySeconds)
}

// CollectorConfig converts the telemetry section to the reader's source list.
func (t TelemetryConfig) CollectorConfig() collector.TelemetryConfig {
	return collector.TelemetryConfig{
		DefaultVoltage:     t.DefaultVoltage,
		VoltageSources:     t.VoltageSources,
		FrequencySources:   t.FrequencySources,
		TemperatureSources: t.TemperatureSources,
		UseSensors:         t.UseHwmonSensors,
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func sanitizePath(name, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%s must not be empty", name)
	}
	cleaned := filepath.Clean(trimmed)
	if !filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%s must be an absolute path, got %q", name, value)
	}
	return cleaned, nil
}

func validateRange(name string, value, min, max int) error {
	if value < min || value > max {
		return fmt.Errorf("%s must be between %d and %d, got %d", name, min, max, value)
	}

	return nil
}

// validatePositive requires 0 < value <= max.
func validatePositive(name string, value, max float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 || value > max {
		if max == math.MaxFloat64 {
			return fmt.Errorf("%s must be a positive number, got %g", name, value)
		}
		return fmt.Errorf("%s must be greater than 0 and at most %g, got %g", name, max, value)
	}
	return nil
}

func validateNonNegative(name string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return fmt.Errorf("%s must be a non-negative number, got %g", name, value)
	}
	return nil
}
