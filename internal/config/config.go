// Package config loads the tankwatch configuration file. Every field is
// optional: the Get* accessors fall back to built-in defaults, so a partial
// file (or none at all) is valid.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/tankwatch/internal/decision"
	"github.com/banshee-data/tankwatch/internal/feeder"
	"github.com/banshee-data/tankwatch/internal/measure"
	"github.com/banshee-data/tankwatch/internal/serialmux"
	"github.com/banshee-data/tankwatch/internal/stream"
	"github.com/banshee-data/tankwatch/internal/tracking"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Defaults not owned by another package.
const (
	DefaultPxPerCm   = 12.883
	DefaultOutputDir = "static"
	DefaultDBPath    = "tankwatch.db"
	DefaultModelPath = "models/fish-pose.onnx"
	DefaultModelSize = 640
	DefaultClientID  = "tankwatch"
)

// Config is the root configuration.
type Config struct {
	// Detection filter
	MinConfidence *float64 `json:"min_confidence,omitempty" yaml:"min_confidence,omitempty"`
	MinLengthPx   *float64 `json:"min_length_px,omitempty" yaml:"min_length_px,omitempty"`
	BorderMargin  *float64 `json:"border_margin,omitempty" yaml:"border_margin,omitempty"`

	// Calibration
	PxPerCm *float64 `json:"px_per_cm,omitempty" yaml:"px_per_cm,omitempty"`

	// Tracker
	Tracker         *string  `json:"tracker,omitempty" yaml:"tracker,omitempty"`
	TrackDistancePx *float64 `json:"track_distance_px,omitempty" yaml:"track_distance_px,omitempty"`
	TrackMaxMisses  *int     `json:"track_max_misses,omitempty" yaml:"track_max_misses,omitempty"`

	// Harvest and feeding policy
	ReadyCm        *float64 `json:"ready_cm,omitempty" yaml:"ready_cm,omitempty"`
	ApproachingCm  *float64 `json:"approaching_cm,omitempty" yaml:"approaching_cm,omitempty"`
	TurnDurationMs *int     `json:"turn_duration_ms,omitempty" yaml:"turn_duration_ms,omitempty"`
	TurnGapMs      *int     `json:"turn_gap_ms,omitempty" yaml:"turn_gap_ms,omitempty"`

	// Live stream
	StreamURL         *string  `json:"stream_url,omitempty" yaml:"stream_url,omitempty"`
	RecordFPS         *float64 `json:"record_fps,omitempty" yaml:"record_fps,omitempty"`
	ReconnectDelay    *string  `json:"reconnect_delay,omitempty" yaml:"reconnect_delay,omitempty"`         // duration string like "1s"
	MaxReconnectDelay *string  `json:"max_reconnect_delay,omitempty" yaml:"max_reconnect_delay,omitempty"` // duration string like "30s"

	// Detector
	ModelPath      *string `json:"model_path,omitempty" yaml:"model_path,omitempty"`
	ModelInputSize *int    `json:"model_input_size,omitempty" yaml:"model_input_size,omitempty"`
	OnnxLibrary    *string `json:"onnx_library,omitempty" yaml:"onnx_library,omitempty"`

	// Storage
	OutputDir *string `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`
	DBPath    *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`

	// Feeding
	AutoFeed      *string       `json:"auto_feed,omitempty" yaml:"auto_feed,omitempty"`
	PayloadFormat *string       `json:"payload_format,omitempty" yaml:"payload_format,omitempty"`
	CommandTopic  *string       `json:"command_topic,omitempty" yaml:"command_topic,omitempty"`
	StatusTopic   *string       `json:"status_topic,omitempty" yaml:"status_topic,omitempty"`
	MQTT          *MQTTConfig   `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
	Serial        *SerialConfig `json:"serial,omitempty" yaml:"serial,omitempty"`
}

// MQTTConfig is the broker section. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker   string `json:"broker,omitempty" yaml:"broker,omitempty"`
	ClientID string `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	QoS      int    `json:"qos,omitempty" yaml:"qos,omitempty"`
}

// SerialConfig is the serial feeder section. An empty port disables it.
type SerialConfig struct {
	Port    string                `json:"port,omitempty" yaml:"port,omitempty"`
	Options serialmux.PortOptions `json:"options,omitempty" yaml:"options,omitempty"`
}

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a .json, .yaml or .yml config file. Fields omitted from the file
// keep their defaults.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	format, err := formatOf(cleanPath)
	if err != nil {
		return nil, err
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	switch format {
	case "json":
		err = json.Unmarshal(data, cfg)
	case "yaml":
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", format, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrEmpty behaves like Load but returns an empty config when path does
// not exist.
func LoadOrEmpty(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if _, ferr := formatOf(path); ferr != nil {
			return nil, ferr
		}
		return Empty(), nil
	}
	return Load(path)
}

// Save writes the config in the format implied by the path extension.
func (c *Config) Save(path string) error {
	format, err := formatOf(path)
	if err != nil {
		return err
	}
	var data []byte
	switch format {
	case "json":
		data, err = json.MarshalIndent(c, "", "  ")
		data = append(data, '\n')
	case "yaml":
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func formatOf(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return "json", nil
	case ".yaml", ".yml":
		return "yaml", nil
	default:
		return "", fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}
}

// Validate checks the values that are set. Cross-field rules are checked on
// the resolved values so a partially specified section is judged with its
// defaults filled in.
func (c *Config) Validate() error {
	if err := c.Thresholds().Validate(); err != nil {
		return err
	}
	if c.PxPerCm != nil && *c.PxPerCm <= 0 {
		return fmt.Errorf("px_per_cm must be positive, got %f", *c.PxPerCm)
	}
	if err := c.TrackerConfig().Validate(); err != nil {
		return err
	}
	if err := c.Policy().Validate(); err != nil {
		return err
	}
	if c.RecordFPS != nil && *c.RecordFPS <= 0 {
		return fmt.Errorf("record_fps must be positive, got %f", *c.RecordFPS)
	}
	for name, v := range map[string]*string{"reconnect_delay": c.ReconnectDelay, "max_reconnect_delay": c.MaxReconnectDelay} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.ModelInputSize != nil && (*c.ModelInputSize <= 0 || *c.ModelInputSize%32 != 0) {
		return fmt.Errorf("model_input_size must be a positive multiple of 32, got %d", *c.ModelInputSize)
	}
	if c.AutoFeed != nil {
		if _, err := feeder.ParseAutoPolicy(*c.AutoFeed); err != nil {
			return err
		}
	}
	if c.PayloadFormat != nil {
		if _, err := feeder.ParseFormat(*c.PayloadFormat); err != nil {
			return err
		}
	}
	if c.MQTT != nil && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.Serial != nil && c.Serial.Port != "" {
		if _, err := c.Serial.Options.Normalize(); err != nil {
			return fmt.Errorf("serial options: %w", err)
		}
	}
	return nil
}

// Thresholds returns the detection filter thresholds.
func (c *Config) Thresholds() measure.Thresholds {
	t := measure.DefaultThresholds()
	if c.MinConfidence != nil {
		t.MinConfidence = *c.MinConfidence
	}
	if c.MinLengthPx != nil {
		t.MinLengthPx = *c.MinLengthPx
	}
	if c.BorderMargin != nil {
		t.BorderMargin = *c.BorderMargin
	}
	return t
}

// GetPxPerCm returns the calibration factor.
func (c *Config) GetPxPerCm() float64 {
	if c.PxPerCm == nil {
		return DefaultPxPerCm
	}
	return *c.PxPerCm
}

// TrackerConfig returns the identity tracker configuration.
func (c *Config) TrackerConfig() tracking.Config {
	t := tracking.DefaultConfig()
	if c.Tracker != nil && *c.Tracker != "" {
		t.Kind = *c.Tracker
	}
	if c.TrackDistancePx != nil {
		t.DistanceThreshold = *c.TrackDistancePx
	}
	if c.TrackMaxMisses != nil {
		t.MaxMisses = *c.TrackMaxMisses
	}
	return t
}

// Policy returns the harvest and feeding policy.
func (c *Config) Policy() decision.Policy {
	p := decision.DefaultPolicy()
	if c.ReadyCm != nil {
		p.ReadyCm = *c.ReadyCm
	}
	if c.ApproachingCm != nil {
		p.ApproachingCm = *c.ApproachingCm
	}
	if c.TurnDurationMs != nil {
		p.TurnDurationMs = *c.TurnDurationMs
	}
	if c.TurnGapMs != nil {
		p.TurnGapMs = *c.TurnGapMs
	}
	return p
}

// GetStreamURL returns the live source; "0" means the first local camera.
func (c *Config) GetStreamURL() string {
	if c.StreamURL == nil || *c.StreamURL == "" {
		return "0"
	}
	return *c.StreamURL
}

// GetRecordFPS returns the recording frame rate.
func (c *Config) GetRecordFPS() float64 {
	if c.RecordFPS == nil {
		return stream.DefaultRecordFPS
	}
	return *c.RecordFPS
}

// ReconnectConfig returns the live source reconnect backoff.
func (c *Config) ReconnectConfig() stream.ReconnectConfig {
	r := stream.DefaultReconnectConfig()
	r.RetryDelay = parseDurationOr(c.ReconnectDelay, r.RetryDelay)
	r.MaxRetryDelay = parseDurationOr(c.MaxReconnectDelay, r.MaxRetryDelay)
	if r.MaxRetryDelay < r.RetryDelay {
		r.MaxRetryDelay = r.RetryDelay
	}
	return r
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetModelPath returns the ONNX model path.
func (c *Config) GetModelPath() string {
	if c.ModelPath == nil || *c.ModelPath == "" {
		return DefaultModelPath
	}
	return *c.ModelPath
}

// GetModelInputSize returns the square model input size in pixels.
func (c *Config) GetModelInputSize() int {
	if c.ModelInputSize == nil {
		return DefaultModelSize
	}
	return *c.ModelInputSize
}

// GetOnnxLibrary returns the onnxruntime shared library path, or "" to use
// the platform default.
func (c *Config) GetOnnxLibrary() string {
	if c.OnnxLibrary == nil {
		return ""
	}
	return *c.OnnxLibrary
}

// GetOutputDir returns the root directory for generated artifacts.
func (c *Config) GetOutputDir() string {
	if c.OutputDir == nil || *c.OutputDir == "" {
		return DefaultOutputDir
	}
	return *c.OutputDir
}

// GetDBPath returns the sqlite database path.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return DefaultDBPath
	}
	return *c.DBPath
}

// GetAutoFeed returns the automatic feed policy.
func (c *Config) GetAutoFeed() feeder.AutoPolicy {
	if c.AutoFeed == nil {
		return feeder.AutoDetected
	}
	p, err := feeder.ParseAutoPolicy(*c.AutoFeed)
	if err != nil {
		return feeder.AutoDetected
	}
	return p
}

// FeederConfig returns the dispatcher topics and payload format.
func (c *Config) FeederConfig() feeder.Config {
	fc := feeder.Config{
		CommandTopic: feeder.DefaultCommandTopic,
		StatusTopic:  feeder.DefaultStatusTopic,
		Format:       feeder.FormatJSON,
	}
	if c.CommandTopic != nil && *c.CommandTopic != "" {
		fc.CommandTopic = *c.CommandTopic
	}
	if c.StatusTopic != nil && *c.StatusTopic != "" {
		fc.StatusTopic = *c.StatusTopic
	}
	if c.PayloadFormat != nil {
		if f, err := feeder.ParseFormat(*c.PayloadFormat); err == nil {
			fc.Format = f
		}
	}
	return fc
}

// MQTTEnabled reports whether a broker is configured.
func (c *Config) MQTTEnabled() bool {
	return c.MQTT != nil && c.MQTT.Broker != ""
}

// GetMQTT returns the broker settings with the client ID defaulted.
func (c *Config) GetMQTT() feeder.MQTTConfig {
	if c.MQTT == nil {
		return feeder.MQTTConfig{ClientID: DefaultClientID}
	}
	m := feeder.MQTTConfig{
		Broker:   c.MQTT.Broker,
		ClientID: c.MQTT.ClientID,
		Username: c.MQTT.Username,
		Password: c.MQTT.Password,
		QoS:      byte(c.MQTT.QoS),
	}
	if m.ClientID == "" {
		m.ClientID = DefaultClientID
	}
	return m
}

// SerialEnabled reports whether a serial feeder is configured.
func (c *Config) SerialEnabled() bool {
	return c.Serial != nil && c.Serial.Port != ""
}

// Helpers for building configs in code and tests.
func Float64(v float64) *float64 { return &v }
func Int(v int) *int             { return &v }
func String(v string) *string    { return &v }
