package video

import (
	"bytes"
	"context"
	"fmt"
	"strings"
)

// InputKind tells ffmpeg how to open a capture input
type InputKind string

const (
	InputRTSP InputKind = "rtsp"
	InputUSB  InputKind = "usb"
	InputFile InputKind = "file"
)

// CaptureOptions configures a single still capture
type CaptureOptions struct {
	Kind    InputKind
	Quality int // ffmpeg mjpeg qscale, 2 (best) to 31
}

// captureArgs builds the ffmpeg arguments for one JPEG still on stdout
func captureArgs(input string, opts CaptureOptions) []string {
	qscale := opts.Quality
	if qscale < 2 || qscale > 31 {
		qscale = 2
	}

	args := []string{"-hide_banner", "-loglevel", "error"}
	switch opts.Kind {
	case InputRTSP:
		args = append(args, "-rtsp_transport", "tcp")
	case InputUSB:
		args = append(args, "-f", "v4l2")
	}
	args = append(args,
		"-i", input,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", fmt.Sprintf("%d", qscale),
		"-",
	)
	return args
}

// CaptureFrameJPEG captures a single JPEG frame from an input source.
// The capture is bounded by ctx; the child process is killed when it ends.
func (f *FFmpegWrapper) CaptureFrameJPEG(ctx context.Context, input string, opts CaptureOptions) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := f.BuildCommand(ctx, captureArgs(input, opts))
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	f.logger.Debug("Capturing still", "kind", opts.Kind)
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("ffmpeg capture aborted: %w", ctxErr)
		}
		return nil, fmt.Errorf("ffmpeg capture failed: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}

	frameData := stdout.Bytes()
	if len(frameData) == 0 {
		return nil, fmt.Errorf("no frame data captured")
	}
	return frameData, nil
}
