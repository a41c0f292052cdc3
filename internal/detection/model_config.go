package detection

import (
	"fmt"
	"strings"
)

// Device selects where the model executes
type Device string

const (
	DeviceCPU         Device = "cpu"
	DeviceAccelerator Device = "accelerator"
)

const (
	MinConfidenceThreshold     = 0.1
	MaxConfidenceThreshold     = 1.0
	DefaultConfidenceThreshold = 0.5
)

// ParseDevice maps a configured device name to a Device.
// "cuda" and "gpu" are accepted as aliases for the accelerator.
func ParseDevice(s string) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cpu":
		return DeviceCPU, nil
	case "accelerator", "cuda", "gpu":
		return DeviceAccelerator, nil
	default:
		return "", fmt.Errorf("unknown device %q (must be: cpu or accelerator)", s)
	}
}

// ModelConfig is the immutable model configuration consumed at startup
type ModelConfig struct {
	ModelPath           string
	ConfidenceThreshold float64
	Device              Device

	// Backend knobs. Zero values fall back to defaults in the model package.
	Backend        string
	RuntimeLibrary string
	Labels         []string
	InputSize      int
	IOUThreshold   float64
	InputName      string
	OutputName     string
}

// Validate checks the configuration ranges
func (c ModelConfig) Validate() error {
	if strings.TrimSpace(c.ModelPath) == "" {
		return fmt.Errorf("model path is required")
	}
	// NaN fails both comparisons
	if !(c.ConfidenceThreshold >= MinConfidenceThreshold && c.ConfidenceThreshold <= MaxConfidenceThreshold) {
		return fmt.Errorf("confidence threshold must be between %.1f and %.1f, got: %.2f",
			MinConfidenceThreshold, MaxConfidenceThreshold, c.ConfidenceThreshold)
	}
	if c.Device != DeviceCPU && c.Device != DeviceAccelerator {
		return fmt.Errorf("unknown device %q", c.Device)
	}
	if c.IOUThreshold < 0 || c.IOUThreshold > 1 {
		return fmt.Errorf("iou threshold must be between 0 and 1, got: %.2f", c.IOUThreshold)
	}
	if c.InputSize < 0 {
		return fmt.Errorf("input size must be >= 0, got: %d", c.InputSize)
	}
	return nil
}

// Label returns the label for a class id, or a generic name when unknown
func (c ModelConfig) Label(classID int) string {
	if classID >= 0 && classID < len(c.Labels) {
		return c.Labels[classID]
	}
	return fmt.Sprintf("class_%d", classID)
}
