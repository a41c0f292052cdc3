package model

import (
	"context"
	"fmt"
	"image"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/logger"
)

// DetectionModel runs object detection on a decoded image.
// Implementations are not safe for concurrent use; callers serialize access.
type DetectionModel interface {
	// Infer returns detections whose confidence is at least threshold.
	Infer(ctx context.Context, img image.Image, threshold float64) (*Output, error)
	Close() error
}

// Output is the raw result of one inference
type Output struct {
	Detections []detection.Detection
	// Annotated is optional; when nil the caller renders the boxes itself.
	Annotated image.Image
}

// Loader builds a DetectionModel from configuration. It may block for a long time.
type Loader func(ctx context.Context, cfg detection.ModelConfig) (DetectionModel, error)

// LoaderFor returns the loader for the configured backend
func LoaderFor(cfg detection.ModelConfig, log *logger.Logger) (Loader, error) {
	switch cfg.Backend {
	case "", "onnx":
		return NewONNXLoader(log), nil
	case "remote":
		return NewRemoteLoader(log), nil
	default:
		return nil, fmt.Errorf("unknown model backend %q", cfg.Backend)
	}
}
