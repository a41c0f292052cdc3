package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/coordinator"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/model"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/state"
)

type staticModel struct {
	detections []detection.Detection
}

func (m *staticModel) Infer(ctx context.Context, img image.Image, threshold float64) (*model.Output, error) {
	return &model.Output{Detections: m.detections}, nil
}

func (m *staticModel) Close() error { return nil }

func twoChickens() model.Loader {
	m := &staticModel{detections: []detection.Detection{
		{BBox: detection.BBox{X1: 2, Y1: 2, X2: 20, Y2: 20}, Confidence: 0.92, ClassLabel: "chicken"},
		{BBox: detection.BBox{X1: 30, Y1: 10, X2: 50, Y2: 40}, Confidence: 0.71, ClassLabel: "chicken"},
	}}
	return func(ctx context.Context, cfg detection.ModelConfig) (model.DetectionModel, error) {
		return m, nil
	}
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func testConfig(t *testing.T, dataDir string) *config.Config {
	t.Helper()
	framePath := filepath.Join(dataDir, "frame.png")
	if _, err := os.Stat(framePath); os.IsNotExist(err) {
		writePNG(t, framePath)
	}

	yaml := fmt.Sprintf(`
counter:
  instance_id: henhouse
  data_dir: %[1]s
  model:
    path: /models/chickens.onnx
    confidence_threshold: 0.6
  sources:
    - id: coop
      type: file
      path: %[2]s
  state:
    enabled: true
    restore_on_start: true
  web:
    enabled: true
    host: 127.0.0.1
  grpc:
    enabled: true
log:
  level: debug
`, dataDir, framePath)

	cfg, err := config.Parse([]byte(yaml))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	cfg.Counter.Web.Port = 0
	cfg.Counter.GRPC.Port = 0
	cfg.Counter.Health.Port = 0
	return cfg
}

func closeApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	assert.NoError(t, a.Close(ctx))
}

func TestApp_CountPersistsAndRestores(t *testing.T) {
	dataDir := t.TempDir()
	cfg := testConfig(t, dataDir)
	ctx := context.Background()

	a, err := New(cfg, logger.NewNopLogger(), Options{Loader: twoChickens()})
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	assert.Equal(t, coordinator.StateReady, a.Coordinator.State())

	result, err := a.Coordinator.Count(ctx, "coop")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Count())
	w, h := result.Dimensions()
	assert.Equal(t, 64, w)
	assert.Equal(t, 48, h)

	require.Eventually(t, func() bool {
		stored, err := a.State.LoadResult(ctx, "henhouse")
		return err == nil && stored != nil && stored.Count() == 2
	}, 5*time.Second, 20*time.Millisecond)

	modelState, err := a.State.GetSystemState(ctx, state.ModelStateKey("henhouse"))
	require.NoError(t, err)
	assert.Equal(t, "loaded", modelState)
	closeApp(t, a)

	restarted, err := New(testConfig(t, dataDir), logger.NewNopLogger(), Options{Loader: twoChickens()})
	require.NoError(t, err)
	defer closeApp(t, restarted)
	require.NoError(t, restarted.Start(ctx))

	assert.Equal(t, 2, restarted.Coordinator.CurrentCount())
	last, ok := restarted.Coordinator.LastDetectionTime()
	require.True(t, ok)
	assert.WithinDuration(t, result.ObservedAt(), last, time.Millisecond)
}

func TestApp_ModelLoadFailure(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	ctx := context.Background()

	failing := func(ctx context.Context, cfg detection.ModelConfig) (model.DetectionModel, error) {
		return nil, errors.New("model file is corrupt")
	}
	a, err := New(cfg, logger.NewNopLogger(), Options{Loader: failing})
	require.NoError(t, err)
	defer closeApp(t, a)

	bus := a.Services.GetEventBus().Subscribe(service.EventTypeModelFailed)

	err = a.Start(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, detection.ErrModelLoad))
	assert.Equal(t, coordinator.StateFailed, a.Coordinator.State())

	select {
	case ev := <-bus:
		assert.Equal(t, "/models/chickens.onnx", ev.Data["model_path"])
	case <-time.After(2 * time.Second):
		t.Fatal("model.failed event was not published")
	}

	modelState, err := a.State.GetSystemState(ctx, state.ModelStateKey("henhouse"))
	require.NoError(t, err)
	assert.Equal(t, "failed", modelState)

	_, err = a.Coordinator.Count(ctx, "coop")
	assert.True(t, errors.Is(err, detection.ErrNotReady))
}

func TestApp_ServeBuildsSurfaces(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	ctx := context.Background()

	a, err := New(cfg, logger.NewNopLogger(), Options{Serve: true, Version: "test", Loader: twoChickens()})
	require.NoError(t, err)
	defer closeApp(t, a)

	require.NotNil(t, a.Web)
	require.NotNil(t, a.GRPC)
	require.NotNil(t, a.Scheduler)
	require.NotNil(t, a.Health)

	require.NoError(t, a.Start(ctx))
	assert.NotEmpty(t, a.Web.Addr())
	assert.NotEmpty(t, a.GRPC.Addr())

	report := a.Health.Check(ctx)
	assert.Contains(t, report.Checks, "coordinator")
	assert.Contains(t, report.Checks, "database")
	assert.Equal(t, "healthy", string(report.Checks["coordinator"].Status))
}

func TestApp_OnConfigChangeReschedules(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	ctx := context.Background()

	a, err := New(cfg, logger.NewNopLogger(), Options{Serve: true, Loader: twoChickens()})
	require.NoError(t, err)
	defer closeApp(t, a)
	require.NoError(t, a.Start(ctx))

	_, ok := a.Scheduler.NextRun()
	assert.False(t, ok)

	updated := *cfg
	updated.Counter.Scheduler = config.SchedulerConfig{Enabled: true, SourceID: "coop", Schedule: "1h"}
	require.NoError(t, a.OnConfigChange(ctx, cfg, &updated))

	next, ok := a.Scheduler.NextRun()
	require.True(t, ok)
	assert.True(t, next.After(time.Now()))
}

func TestApp_UnknownSourceType(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Counter.Sources = append(cfg.Counter.Sources, config.SourceConfig{ID: "barn", Type: "carrier-pigeon"})

	_, err := New(cfg, logger.NewNopLogger(), Options{Loader: twoChickens()})
	assert.Error(t, err)
}
