package camera

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/video"
)

// FrameGrabber captures one JPEG still from a stream or device
type FrameGrabber interface {
	CaptureFrameJPEG(ctx context.Context, input string, opts video.CaptureOptions) ([]byte, error)
}

// StreamSource grabs stills from an RTSP stream or a USB device through ffmpeg
type StreamSource struct {
	kind     video.InputKind
	input    string
	username string
	password string
	grabber  FrameGrabber
}

// NewRTSPSource creates a source backed by an RTSP stream
func NewRTSPSource(rawURL, username, password string, grabber FrameGrabber) *StreamSource {
	return &StreamSource{
		kind:     video.InputRTSP,
		input:    rawURL,
		username: username,
		password: password,
		grabber:  grabber,
	}
}

// NewUSBSource creates a source backed by a V4L2 device
func NewUSBSource(devicePath string, grabber FrameGrabber) *StreamSource {
	return &StreamSource{
		kind:    video.InputUSB,
		input:   devicePath,
		grabber: grabber,
	}
}

// Kind returns the source kind
func (s *StreamSource) Kind() string {
	return string(s.kind)
}

// Snapshot grabs the current frame
func (s *StreamSource) Snapshot(ctx context.Context) ([]byte, error) {
	input, err := s.inputURL()
	if err != nil {
		return nil, err
	}
	return s.grabber.CaptureFrameJPEG(ctx, input, video.CaptureOptions{Kind: s.kind})
}

// CheckReachable checks the stream answers with media, or that the device node exists
func (s *StreamSource) CheckReachable(ctx context.Context) error {
	if s.kind == video.InputUSB {
		if _, err := os.Stat(s.input); err != nil {
			return fmt.Errorf("device unavailable: %w", err)
		}
		return nil
	}
	_, err := CheckRTSP(ctx, RTSPCheckConfig{
		URL:      s.input,
		Username: s.username,
		Password: s.password,
	})
	return err
}

// inputURL returns the ffmpeg input with credentials applied
func (s *StreamSource) inputURL() (string, error) {
	if s.kind != video.InputRTSP || s.username == "" {
		return s.input, nil
	}

	u, err := url.Parse(s.input)
	if err != nil {
		return "", fmt.Errorf("invalid stream URL: %w", err)
	}
	if u.User == nil {
		u.User = url.UserPassword(s.username, s.password)
	}
	return u.String(), nil
}
