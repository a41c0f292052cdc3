package camera

import (
	"fmt"
	"net/http"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/logger"
)

// NewSource builds a source from its configuration. grabber may be nil when no
// rtsp or usb sources are configured.
func NewSource(cfg config.SourceConfig, grabber FrameGrabber, httpClient *http.Client) (Source, error) {
	switch cfg.Type {
	case "http":
		return NewHTTPSource(cfg.URL, cfg.Username, cfg.Password, httpClient), nil
	case "file":
		return NewFileSource(cfg.Path), nil
	case "rtsp":
		if grabber == nil {
			return nil, fmt.Errorf("source %s: rtsp sources require ffmpeg", cfg.ID)
		}
		return NewRTSPSource(cfg.URL, cfg.Username, cfg.Password, grabber), nil
	case "usb":
		if grabber == nil {
			return nil, fmt.Errorf("source %s: usb sources require ffmpeg", cfg.ID)
		}
		return NewUSBSource(cfg.Path, grabber), nil
	default:
		return nil, fmt.Errorf("source %s: unsupported type %q", cfg.ID, cfg.Type)
	}
}

// NeedsGrabber reports whether any configured source captures through ffmpeg
func NeedsGrabber(sources []config.SourceConfig) bool {
	for _, s := range sources {
		if s.Type == "rtsp" || s.Type == "usb" {
			return true
		}
	}
	return false
}

// BuildRegistry creates a registry holding every configured source
func BuildRegistry(sources []config.SourceConfig, grabber FrameGrabber, log *logger.Logger) (*Registry, error) {
	registry := NewRegistry(log)
	httpClient := &http.Client{}

	for _, sc := range sources {
		src, err := NewSource(sc, grabber, httpClient)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(sc.ID, src); err != nil {
			return nil, err
		}
	}

	log.Info("Image sources configured", "count", len(sources))
	return registry, nil
}
