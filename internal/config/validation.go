package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
)

var validSourceTypes = map[string]bool{
	"http": true, "file": true, "rtsp": true, "usb": true,
}

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error)", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	cc := &c.Counter
	if cc.DataDir == "" {
		errors = append(errors, "counter.data_dir is required")
	}

	// Model
	if strings.TrimSpace(cc.Model.Path) == "" {
		errors = append(errors, "counter.model.path is required")
	}
	if cc.Model.Backend != "onnx" && cc.Model.Backend != "remote" {
		errors = append(errors, fmt.Sprintf("invalid counter.model.backend: %s (must be: onnx or remote)", cc.Model.Backend))
	}
	if cc.Model.Backend == "remote" && cc.Model.Path != "" &&
		!strings.HasPrefix(cc.Model.Path, "http://") && !strings.HasPrefix(cc.Model.Path, "https://") {
		errors = append(errors, fmt.Sprintf("counter.model.path must be an http(s) URL for the remote backend, got: %s", cc.Model.Path))
	}
	if !(cc.Model.ConfidenceThreshold >= detection.MinConfidenceThreshold && cc.Model.ConfidenceThreshold <= detection.MaxConfidenceThreshold) {
		errors = append(errors, fmt.Sprintf("counter.model.confidence_threshold must be between %.1f and %.1f, got: %.2f",
			detection.MinConfidenceThreshold, detection.MaxConfidenceThreshold, cc.Model.ConfidenceThreshold))
	}
	if _, err := detection.ParseDevice(cc.Model.Device); err != nil {
		errors = append(errors, fmt.Sprintf("counter.model.device: %v", err))
	}
	if cc.Model.IOUThreshold < 0 || cc.Model.IOUThreshold > 1 {
		errors = append(errors, fmt.Sprintf("counter.model.iou_threshold must be between 0 and 1, got: %.2f", cc.Model.IOUThreshold))
	}
	if cc.Model.InputSize < 0 || cc.Model.InputSize%32 != 0 {
		errors = append(errors, fmt.Sprintf("counter.model.input_size must be a multiple of 32, got: %d", cc.Model.InputSize))
	}

	// Inference
	if cc.Inference.FetchTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("counter.inference.fetch_timeout must be > 0, got: %v", cc.Inference.FetchTimeout))
	}
	if cc.Inference.InferenceTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("counter.inference.inference_timeout must be > 0, got: %v", cc.Inference.InferenceTimeout))
	}
	if cc.Inference.LoadTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("counter.inference.load_timeout must be > 0, got: %v", cc.Inference.LoadTimeout))
	}
	if cc.Inference.JPEGQuality < 1 || cc.Inference.JPEGQuality > 100 {
		errors = append(errors, fmt.Sprintf("counter.inference.jpeg_quality must be between 1 and 100, got: %d", cc.Inference.JPEGQuality))
	}

	// Sources
	seen := make(map[string]bool)
	for i, s := range cc.Sources {
		if s.ID == "" {
			errors = append(errors, fmt.Sprintf("counter.sources[%d].id is required", i))
		} else if seen[s.ID] {
			errors = append(errors, fmt.Sprintf("counter.sources[%d].id %q is duplicated", i, s.ID))
		}
		seen[s.ID] = true

		if !validSourceTypes[s.Type] {
			errors = append(errors, fmt.Sprintf("counter.sources[%d].type %q is invalid (must be: http, file, rtsp, usb)", i, s.Type))
			continue
		}
		switch s.Type {
		case "http", "rtsp":
			if s.URL == "" {
				errors = append(errors, fmt.Sprintf("counter.sources[%d].url is required for %s sources", i, s.Type))
			}
		case "file", "usb":
			if s.Path == "" {
				errors = append(errors, fmt.Sprintf("counter.sources[%d].path is required for %s sources", i, s.Type))
			}
		}
	}

	// Scheduler
	if cc.Scheduler.Enabled {
		if cc.Scheduler.SourceID == "" {
			errors = append(errors, "counter.scheduler.source_id is required when the scheduler is enabled")
		} else if !seen[cc.Scheduler.SourceID] {
			errors = append(errors, fmt.Sprintf("counter.scheduler.source_id %q does not match any source", cc.Scheduler.SourceID))
		}
		if err := ValidateSchedule(cc.Scheduler.Schedule); err != nil {
			errors = append(errors, fmt.Sprintf("counter.scheduler.schedule: %v", err))
		}
	}

	// Notify
	if cc.Notify.EventBusSize <= 0 {
		errors = append(errors, fmt.Sprintf("counter.notify.event_bus_size must be > 0, got: %d", cc.Notify.EventBusSize))
	}
	if cc.Notify.MQTT.Enabled {
		if cc.Notify.MQTT.Broker == "" {
			errors = append(errors, "counter.notify.mqtt.broker is required when mqtt is enabled")
		}
		if cc.Notify.MQTT.QoS > 2 {
			errors = append(errors, fmt.Sprintf("counter.notify.mqtt.qos must be 0, 1 or 2, got: %d", cc.Notify.MQTT.QoS))
		}
	}

	// State
	if cc.State.Enabled && cc.State.DBPath != "" {
		if !filepath.IsAbs(cc.State.DBPath) && !strings.HasPrefix(cc.State.DBPath, "./") &&
			!strings.HasPrefix(cc.State.DBPath, filepath.Clean(cc.DataDir)) {
			cc.State.DBPath = filepath.Join(cc.DataDir, cc.State.DBPath)
		}
	}

	// Listeners
	// Port 0 picks a free port
	if cc.Web.Enabled && (cc.Web.Port < 0 || cc.Web.Port > 65535) {
		errors = append(errors, fmt.Sprintf("counter.web.port must be between 0 and 65535, got: %d", cc.Web.Port))
	}
	if cc.Health.Port < 0 || cc.Health.Port > 65535 {
		errors = append(errors, fmt.Sprintf("counter.health.port must be between 0 and 65535, got: %d", cc.Health.Port))
	}
	if cc.GRPC.Enabled && (cc.GRPC.Port < 0 || cc.GRPC.Port > 65535) {
		errors = append(errors, fmt.Sprintf("counter.grpc.port must be between 0 and 65535, got: %d", cc.GRPC.Port))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// ValidateSchedule accepts a positive Go duration or a five-field cron expression
func ValidateSchedule(schedule string) error {
	if schedule == "" {
		return fmt.Errorf("schedule is required")
	}
	if d, err := parseDuration(schedule); err == nil {
		if d <= 0 {
			return fmt.Errorf("duration must be > 0, got: %v", d)
		}
		return nil
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("%q is neither a duration nor a cron expression: %w", schedule, err)
	}
	return nil
}
