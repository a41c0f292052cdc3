package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
)

// Config represents the application configuration
type Config struct {
	Counter CounterConfig `yaml:"counter"`
	Log     LogConfig     `yaml:"log,omitempty"`
}

// CounterConfig contains the object counter configuration
type CounterConfig struct {
	InstanceID string          `yaml:"instance_id"`
	DataDir    string          `yaml:"data_dir"`
	Model      ModelConfig     `yaml:"model"`
	Inference  InferenceConfig `yaml:"inference"`
	Sources    []SourceConfig  `yaml:"sources"`
	Scheduler  SchedulerConfig `yaml:"scheduler"`
	Notify     NotifyConfig    `yaml:"notify"`
	State      StateConfig     `yaml:"state"`
	Web        WebConfig       `yaml:"web"`
	Health     HealthConfig    `yaml:"health"`
	GRPC       GRPCConfig      `yaml:"grpc"`
}

// ModelConfig contains detection model configuration
type ModelConfig struct {
	Backend             string   `yaml:"backend"` // onnx or remote
	Path                string   `yaml:"path"`    // file path, or service URL for the remote backend
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
	Device              string   `yaml:"device"`
	RuntimeLibrary      string   `yaml:"runtime_library"` // onnxruntime shared library
	Labels              []string `yaml:"labels"`
	InputSize           int      `yaml:"input_size"`
	IOUThreshold        float64  `yaml:"iou_threshold"`
	InputName           string   `yaml:"input_name"`
	OutputName          string   `yaml:"output_name"`
}

// InferenceConfig bounds the suspension points of a count request
type InferenceConfig struct {
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
	InferenceTimeout time.Duration `yaml:"inference_timeout"`
	LoadTimeout      time.Duration `yaml:"load_timeout"`
	JPEGQuality      int           `yaml:"jpeg_quality"`
}

// SourceConfig describes one image source
type SourceConfig struct {
	ID       string `yaml:"id"`
	Type     string `yaml:"type"` // http, file, rtsp, usb
	URL      string `yaml:"url"`
	Path     string `yaml:"path"`
	Username string `yaml:"username"`
	Password string `yaml:"password"` // never logged
}

// SchedulerConfig contains periodic counting configuration
type SchedulerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SourceID string `yaml:"source_id"`
	Schedule string `yaml:"schedule"` // Go duration or cron expression
}

// NotifyConfig contains observer configuration
type NotifyConfig struct {
	EventBusSize    int           `yaml:"event_bus_size"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
	MQTT            MQTTConfig    `yaml:"mqtt"`
}

// MQTTConfig contains MQTT publisher configuration
type MQTTConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	QoS            byte          `yaml:"qos"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"` // never logged
	PublishImage   bool          `yaml:"publish_image"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// StateConfig contains latest-result persistence configuration
type StateConfig struct {
	Enabled        bool   `yaml:"enabled"`
	RestoreOnStart bool   `yaml:"restore_on_start"`
	DBPath         string `yaml:"db_path"`
}

// WebConfig contains web server configuration
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// HealthConfig contains health endpoint configuration
type HealthConfig struct {
	Port int `yaml:"port"`
}

// GRPCConfig contains gRPC health server configuration
type GRPCConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	// Default config path if not provided
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	// Check if file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	// Read file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	return Parse(data)
}

// Parse parses YAML configuration and applies defaults
func Parse(data []byte) (*Config, error) {
	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	// Set defaults
	cfg.setDefaults()

	return &cfg, nil
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/counter.dev.yaml",
		"./config/counter.yaml",
		"../config/counter.yaml",
		"/etc/view-guard-counter/counter.yaml",
	}

	// Try common locations
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	// Return the first default if none found (will error later)
	return paths[0]
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	cc := &c.Counter
	if cc.InstanceID == "" {
		cc.InstanceID = "counter"
	}
	if cc.DataDir == "" {
		cc.DataDir = "./data"
	}

	if cc.Model.Backend == "" {
		cc.Model.Backend = "onnx"
	}
	if cc.Model.ConfidenceThreshold == 0 {
		cc.Model.ConfidenceThreshold = detection.DefaultConfidenceThreshold
	}
	if cc.Model.Device == "" {
		cc.Model.Device = string(detection.DeviceCPU)
	}

	if cc.Inference.FetchTimeout == 0 {
		cc.Inference.FetchTimeout = 10 * time.Second
	}
	if cc.Inference.InferenceTimeout == 0 {
		cc.Inference.InferenceTimeout = 30 * time.Second
	}
	if cc.Inference.LoadTimeout == 0 {
		cc.Inference.LoadTimeout = 2 * time.Minute
	}
	if cc.Inference.JPEGQuality == 0 {
		cc.Inference.JPEGQuality = 85
	}

	if cc.Notify.EventBusSize == 0 {
		cc.Notify.EventBusSize = 100
	}
	if cc.Notify.DeliveryTimeout == 0 {
		cc.Notify.DeliveryTimeout = 5 * time.Second
	}
	if cc.Notify.MQTT.ClientID == "" {
		cc.Notify.MQTT.ClientID = "view-guard-" + cc.InstanceID
	}
	if cc.Notify.MQTT.TopicPrefix == "" {
		cc.Notify.MQTT.TopicPrefix = "view-guard/counter"
	}
	if cc.Notify.MQTT.ConnectTimeout == 0 {
		cc.Notify.MQTT.ConnectTimeout = 5 * time.Second
	}

	if cc.State.DBPath == "" {
		cc.State.DBPath = filepath.Join(cc.DataDir, "db", "counter.db")
	}

	if cc.Web.Host == "" {
		cc.Web.Host = "0.0.0.0"
	}
	if cc.Web.Port == 0 {
		cc.Web.Port = 8090
	}
	if cc.Health.Port == 0 {
		cc.Health.Port = 8081
	}
	if cc.GRPC.Port == 0 {
		cc.GRPC.Port = 9091
	}
}

// ModelConfig builds the immutable model configuration
func (c *Config) ModelConfig() (detection.ModelConfig, error) {
	device, err := detection.ParseDevice(c.Counter.Model.Device)
	if err != nil {
		return detection.ModelConfig{}, err
	}
	labels := make([]string, len(c.Counter.Model.Labels))
	copy(labels, c.Counter.Model.Labels)

	mc := detection.ModelConfig{
		ModelPath:           c.Counter.Model.Path,
		ConfidenceThreshold: c.Counter.Model.ConfidenceThreshold,
		Device:              device,
		Backend:             c.Counter.Model.Backend,
		RuntimeLibrary:      c.Counter.Model.RuntimeLibrary,
		Labels:              labels,
		InputSize:           c.Counter.Model.InputSize,
		IOUThreshold:        c.Counter.Model.IOUThreshold,
		InputName:           c.Counter.Model.InputName,
		OutputName:          c.Counter.Model.OutputName,
	}
	if err := mc.Validate(); err != nil {
		return detection.ModelConfig{}, err
	}
	return mc, nil
}

// Source returns the source configuration with the given id
func (c *Config) Source(id string) (SourceConfig, bool) {
	for _, s := range c.Counter.Sources {
		if s.ID == id {
			return s, true
		}
	}
	return SourceConfig{}, false
}
