package config

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/logger"
)

// Service provides configuration management with environment variable support
type Service struct {
	config     *Config
	configPath string
	logger     *logger.Logger
	mu         sync.RWMutex
	watchers   []ConfigWatcher
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(ctx context.Context, oldConfig, newConfig *Config) error

// NewService loads, overrides and validates the configuration at configPath
func NewService(configPath string, log *logger.Logger) (*Service, error) {
	cfg, err := LoadWithOverrides(configPath)
	if err != nil {
		return nil, err
	}

	return &Service{
		config:     cfg,
		configPath: configPath,
		logger:     log,
		watchers:   make([]ConfigWatcher, 0),
	}, nil
}

// LoadWithOverrides loads a config file, applies environment overrides and validates it
func LoadWithOverrides(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Get returns the current configuration (thread-safe)
func (s *Service) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// SetLogger replaces the logger once the configured one is built
func (s *Service) SetLogger(log *logger.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = log
}

// Reload reloads the configuration from file.
// An invalid file leaves the current configuration in place.
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	oldConfig := s.config
	newConfig, err := LoadWithOverrides(s.configPath)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to reload configuration: %w", err)
	}
	s.config = newConfig
	watchers := make([]ConfigWatcher, len(s.watchers))
	copy(watchers, s.watchers)
	log := s.logger
	s.mu.Unlock()

	for _, watcher := range watchers {
		if err := watcher(ctx, oldConfig, newConfig); err != nil {
			log.Error("Config watcher error", "error", err)
		}
	}

	log.Info("Configuration reloaded", "path", s.configPath)
	return nil
}

// Watch registers a configuration change watcher
func (s *Service) Watch(watcher ConfigWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, watcher)
}

// ModelChanged reports whether the model section differs between two configs.
// The model is loaded once per process, so such changes need a restart.
func ModelChanged(oldConfig, newConfig *Config) bool {
	return !reflect.DeepEqual(oldConfig.Counter.Model, newConfig.Counter.Model)
}

// applyEnvOverrides applies environment variable overrides to configuration
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("COUNTER_INSTANCE_ID"); val != "" {
		cfg.Counter.InstanceID = val
	}
	if val := os.Getenv("COUNTER_DATA_DIR"); val != "" {
		cfg.Counter.DataDir = val
	}

	// Model
	if val := os.Getenv("COUNTER_MODEL_PATH"); val != "" {
		cfg.Counter.Model.Path = val
	}
	if val := os.Getenv("COUNTER_MODEL_BACKEND"); val != "" {
		cfg.Counter.Model.Backend = val
	}
	if val := os.Getenv("COUNTER_CONFIDENCE_THRESHOLD"); val != "" {
		if threshold, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Counter.Model.ConfidenceThreshold = threshold
		}
	}
	if val := os.Getenv("COUNTER_DEVICE"); val != "" {
		cfg.Counter.Model.Device = val
	}
	if val := os.Getenv("COUNTER_ONNXRUNTIME_LIB"); val != "" {
		cfg.Counter.Model.RuntimeLibrary = val
	}
	if val := os.Getenv("COUNTER_LABELS"); val != "" {
		labels := strings.Split(val, ",")
		for i := range labels {
			labels[i] = strings.TrimSpace(labels[i])
		}
		cfg.Counter.Model.Labels = labels
	}

	// Inference
	if val := os.Getenv("COUNTER_FETCH_TIMEOUT"); val != "" {
		if d, err := parseDuration(val); err == nil {
			cfg.Counter.Inference.FetchTimeout = d
		}
	}
	if val := os.Getenv("COUNTER_INFERENCE_TIMEOUT"); val != "" {
		if d, err := parseDuration(val); err == nil {
			cfg.Counter.Inference.InferenceTimeout = d
		}
	}

	// MQTT
	if val := os.Getenv("COUNTER_MQTT_BROKER"); val != "" {
		cfg.Counter.Notify.MQTT.Broker = val
		cfg.Counter.Notify.MQTT.Enabled = true
	}
	if val := os.Getenv("COUNTER_MQTT_USERNAME"); val != "" {
		cfg.Counter.Notify.MQTT.Username = val
	}
	if val := os.Getenv("COUNTER_MQTT_PASSWORD"); val != "" {
		cfg.Counter.Notify.MQTT.Password = val
	}

	// Web
	cfg.Counter.Web.Enabled = GetEnvBool("COUNTER_WEB_ENABLED", cfg.Counter.Web.Enabled)
	cfg.Counter.Web.Port = GetEnvInt("COUNTER_WEB_PORT", cfg.Counter.Web.Port)

	// Log settings
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		cfg.Log.Output = val
	}
}

func parseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(strings.TrimSpace(s))
}

// GetEnvBool gets a boolean environment variable
func GetEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	val = strings.ToLower(val)
	return val == "true" || val == "1" || val == "yes" || val == "on"
}

// GetEnvInt gets an integer environment variable
func GetEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return result
}
