package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/app"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/model"
)

type oneHen struct{}

func (oneHen) Infer(ctx context.Context, img image.Image, threshold float64) (*model.Output, error) {
	return &model.Output{Detections: []detection.Detection{
		{BBox: detection.BBox{X1: 4, Y1: 4, X2: 24, Y2: 30}, Confidence: 0.88, ClassLabel: "chicken"},
		{BBox: detection.BBox{X1: 30, Y1: 4, X2: 40, Y2: 10}, Confidence: 0.2, ClassLabel: "chicken"},
	}}, nil
}

func (oneHen) Close() error { return nil }

func oneHenLoader(ctx context.Context, cfg detection.ModelConfig) (model.DetectionModel, error) {
	return oneHen{}, nil
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	frame := filepath.Join(dir, "frame.png")
	img := image.NewRGBA(image.Rect(0, 0, 48, 32))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	f, err := os.Create(frame)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	cfgPath := filepath.Join(dir, "counter.yaml")
	yaml := fmt.Sprintf(`
counter:
  data_dir: %s
  model:
    path: /models/chickens.onnx
  sources:
    - id: coop
      type: file
      path: %s
log:
  level: error
`, dir, frame)
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0644))
	return cfgPath
}

func TestRun_MissingSourceIsUsageError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-config", "whatever.yaml"}, &stdout, &stderr, app.Options{})

	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), "-source is required")
	assert.Empty(t, stdout.String())
}

func TestRun_BadFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, exitUsage, run(context.Background(), []string{"-bogus"}, &stdout, &stderr, app.Options{}))
}

func TestRun_MissingConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-config", filepath.Join(t.TempDir(), "nope.yaml"), "-source", "coop"}, &stdout, &stderr, app.Options{})

	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr.String(), "Failed to load configuration")
}

func TestRun_UnknownSource(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-config", writeConfig(t), "-source", "barn"}, &stdout, &stderr, app.Options{Loader: oneHenLoader})

	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), `Unknown source "barn"`)
}

func TestRun_CountsOnce(t *testing.T) {
	cfgPath := writeConfig(t)
	outPath := filepath.Join(t.TempDir(), "annotated.jpg")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-config", cfgPath, "-source", "coop", "-out", outPath}, &stdout, &stderr, app.Options{Loader: oneHenLoader})
	require.Equal(t, exitOK, code, stderr.String())

	var got struct {
		Event struct {
			Event    string `json:"event"`
			Count    int    `json:"count"`
			SourceID string `json:"source_id"`
		} `json:"event"`
		Result struct {
			Count  int `json:"count"`
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"result"`
		Image string `json:"image"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &got))

	assert.Equal(t, "detection_complete", got.Event.Event)
	assert.Equal(t, "coop", got.Event.SourceID)
	// the 0.2 detection is below the default 0.5 threshold
	assert.Equal(t, 1, got.Event.Count)
	assert.Equal(t, 1, got.Result.Count)
	assert.Equal(t, 48, got.Result.Width)
	assert.Equal(t, 32, got.Result.Height)
	assert.Equal(t, outPath, got.Image)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Greater(t, len(data), 2)
	assert.Equal(t, []byte{0xff, 0xd8}, data[:2])
}
