package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".webp": true,
}

// FileSource reads stills from disk. A directory path yields its most recently modified image.
type FileSource struct {
	path string
}

// NewFileSource creates a file source
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Kind returns the source kind
func (s *FileSource) Kind() string {
	return "file"
}

// Snapshot reads the image file
func (s *FileSource) Snapshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.resolve()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// CheckReachable checks that the path exists
func (s *FileSource) CheckReachable(ctx context.Context) error {
	_, err := s.resolve()
	return err
}

func (s *FileSource) resolve() (string, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return "", fmt.Errorf("image path unavailable: %w", err)
	}
	if !info.IsDir() {
		return s.path, nil
	}

	entries, err := os.ReadDir(s.path)
	if err != nil {
		return "", fmt.Errorf("failed to list %s: %w", s.path, err)
	}

	var latest string
	var latestMod int64
	for _, entry := range entries {
		if entry.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		if mod := fi.ModTime().UnixNano(); latest == "" || mod > latestMod {
			latest = filepath.Join(s.path, entry.Name())
			latestMod = mod
		}
	}

	if latest == "" {
		return "", fmt.Errorf("no images found in %s", s.path)
	}
	return latest, nil
}
