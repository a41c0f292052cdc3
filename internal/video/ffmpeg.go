package video

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/logger"
)

// FFmpegWrapper wraps the ffmpeg executable used to grab stills from streams and devices
type FFmpegWrapper struct {
	logger     *logger.Logger
	ffmpegPath string
	version    string
}

// NewFFmpegWrapper locates ffmpeg and records its version
func NewFFmpegWrapper(log *logger.Logger) (*FFmpegWrapper, error) {
	wrapper := &FFmpegWrapper{
		logger:     log,
		ffmpegPath: "ffmpeg",
	}

	// Detect FFmpeg installation
	ffmpegPath, err := detectFFmpeg()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	wrapper.ffmpegPath = ffmpegPath

	// Record the version for the startup log
	version, err := wrapper.GetVersion()
	if err != nil {
		log.Warn("Failed to read ffmpeg version", "error", err)
	}
	wrapper.version = version

	log.Info("FFmpeg wrapper initialized", "path", wrapper.ffmpegPath, "version", version)
	return wrapper, nil
}

// detectFFmpeg finds the ffmpeg executable
func detectFFmpeg() (string, error) {
	paths := []string{"ffmpeg", "/usr/bin/ffmpeg", "/usr/local/bin/ffmpeg"}

	// Try common paths
	for _, path := range paths {
		resolved, err := exec.LookPath(path)
		if err != nil {
			continue
		}
		if err := exec.Command(resolved, "-version").Run(); err == nil {
			return resolved, nil
		}
	}

	return "", fmt.Errorf("ffmpeg not found in PATH or common locations")
}

// Path returns the resolved ffmpeg executable
func (f *FFmpegWrapper) Path() string {
	return f.ffmpegPath
}

// BuildCommand builds an ffmpeg command bound to ctx
func (f *FFmpegWrapper) BuildCommand(ctx context.Context, args []string) *exec.Cmd {
	return exec.CommandContext(ctx, f.ffmpegPath, args...)
}

// GetVersion returns the first line of `ffmpeg -version`
func (f *FFmpegWrapper) GetVersion() (string, error) {
	output, err := exec.Command(f.ffmpegPath, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to get ffmpeg version: %w", err)
	}

	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 && strings.TrimSpace(lines[0]) != "" {
		return strings.TrimSpace(lines[0]), nil
	}
	return "unknown", nil
}
