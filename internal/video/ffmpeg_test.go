package video

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/logger"
)

func setupTestFFmpeg(t *testing.T) *FFmpegWrapper {
	ffmpeg, err := NewFFmpegWrapper(logger.NewNopLogger())
	if err != nil {
		t.Skipf("FFmpeg not available, skipping test: %v", err)
	}
	return ffmpeg
}

func TestCaptureArgs(t *testing.T) {
	args := strings.Join(captureArgs("rtsp://cam/stream", CaptureOptions{Kind: InputRTSP, Quality: 5}), " ")
	if !strings.Contains(args, "-rtsp_transport tcp") {
		t.Errorf("Expected tcp transport for rtsp, got %s", args)
	}
	if !strings.Contains(args, "-i rtsp://cam/stream -frames:v 1") {
		t.Errorf("Expected single frame capture, got %s", args)
	}
	if !strings.Contains(args, "-q:v 5") {
		t.Errorf("Expected qscale 5, got %s", args)
	}

	usb := strings.Join(captureArgs("/dev/video0", CaptureOptions{Kind: InputUSB}), " ")
	if !strings.Contains(usb, "-f v4l2 -i /dev/video0") {
		t.Errorf("Expected v4l2 input for usb, got %s", usb)
	}
	if !strings.Contains(usb, "-q:v 2") {
		t.Errorf("Expected default qscale 2, got %s", usb)
	}
}

func TestNewFFmpegWrapper(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)
	if ffmpeg.Path() == "" {
		t.Error("FFmpeg path should be set")
	}
	if ffmpeg.version == "" {
		t.Error("FFmpeg version should be recorded")
	}
}

func TestCaptureFrameJPEG_FromFile(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)

	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.Set(1, 1, color.Black)
	path := filepath.Join(t.TempDir(), "still.png")
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode png: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("Failed to write png: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	data, err := ffmpeg.CaptureFrameJPEG(ctx, path, CaptureOptions{Kind: InputFile})
	if err != nil {
		t.Fatalf("CaptureFrameJPEG failed: %v", err)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Captured frame is not a JPEG: %v", err)
	}
	if decoded.Bounds().Dx() != 64 || decoded.Bounds().Dy() != 48 {
		t.Errorf("Expected 64x48, got %v", decoded.Bounds())
	}
}

func TestCaptureFrameJPEG_InvalidInput(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := ffmpeg.CaptureFrameJPEG(ctx, filepath.Join(t.TempDir(), "missing.mp4"), CaptureOptions{Kind: InputFile}); err == nil {
		t.Fatal("Expected error for missing input")
	}
}
