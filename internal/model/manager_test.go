package model

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/logger"
)

type stubModel struct {
	closed atomic.Bool
}

func (s *stubModel) Infer(ctx context.Context, img image.Image, threshold float64) (*Output, error) {
	return &Output{}, nil
}

func (s *stubModel) Close() error {
	s.closed.Store(true)
	return nil
}

func testModelConfig() detection.ModelConfig {
	return detection.ModelConfig{
		ModelPath:           "/models/chickens.onnx",
		ConfidenceThreshold: 0.5,
		Device:              detection.DeviceCPU,
	}
}

func TestManager_LoadOnce(t *testing.T) {
	var calls atomic.Int32
	model := &stubModel{}
	loader := func(ctx context.Context, cfg detection.ModelConfig) (DetectionModel, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return model, nil
	}
	mgr := NewManager(testModelConfig(), loader, logger.NewNopLogger())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := mgr.Load(context.Background())
			if err != nil {
				t.Errorf("Load failed: %v", err)
				return
			}
			if got != model {
				t.Error("Expected the same model instance")
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("Expected loader to run once, ran %d times", calls.Load())
	}
	if mgr.State() != LoadStateLoaded {
		t.Errorf("Expected loaded state, got %s", mgr.State())
	}
	if mgr.LoadedAt().IsZero() {
		t.Error("Expected LoadedAt to be set")
	}
}

func TestManager_FailureIsTerminal(t *testing.T) {
	var calls atomic.Int32
	loader := func(ctx context.Context, cfg detection.ModelConfig) (DetectionModel, error) {
		calls.Add(1)
		return nil, errors.New("corrupt weights")
	}
	mgr := NewManager(testModelConfig(), loader, logger.NewNopLogger())

	for i := 0; i < 3; i++ {
		_, err := mgr.Load(context.Background())
		if !errors.Is(err, detection.ErrModelLoad) {
			t.Fatalf("Expected ModelLoad error, got %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("Expected no retry, loader ran %d times", calls.Load())
	}
	if mgr.State() != LoadStateFailed || mgr.Err() == nil {
		t.Errorf("Expected failed state with error, got %s", mgr.State())
	}
}

func TestManager_InvalidConfigFailsWithoutLoading(t *testing.T) {
	cfg := testModelConfig()
	cfg.ConfidenceThreshold = 2
	called := false
	loader := func(ctx context.Context, cfg detection.ModelConfig) (DetectionModel, error) {
		called = true
		return &stubModel{}, nil
	}
	mgr := NewManager(cfg, loader, logger.NewNopLogger())

	if _, err := mgr.Load(context.Background()); !errors.Is(err, detection.ErrModelLoad) {
		t.Fatalf("Expected ModelLoad error, got %v", err)
	}
	if called {
		t.Error("Loader should not run for an invalid configuration")
	}
}

func TestManager_LoaderPanicBecomesLoadError(t *testing.T) {
	loader := func(ctx context.Context, cfg detection.ModelConfig) (DetectionModel, error) {
		panic("cuda driver exploded")
	}
	mgr := NewManager(testModelConfig(), loader, logger.NewNopLogger())

	if _, err := mgr.Load(context.Background()); !errors.Is(err, detection.ErrModelLoad) {
		t.Fatalf("Expected ModelLoad error, got %v", err)
	}
}

func TestManager_ContextCancelledAbandonsLoad(t *testing.T) {
	release := make(chan struct{})
	model := &stubModel{}
	finished := make(chan struct{})
	loader := func(ctx context.Context, cfg detection.ModelConfig) (DetectionModel, error) {
		defer close(finished)
		<-release
		return model, nil
	}
	mgr := NewManager(testModelConfig(), loader, logger.NewNopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := mgr.Load(ctx); !errors.Is(err, detection.ErrModelLoad) {
		t.Fatalf("Expected ModelLoad error, got %v", err)
	}

	close(release)
	<-finished
	deadline := time.Now().Add(time.Second)
	for !model.closed.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !model.closed.Load() {
		t.Error("Expected late model to be closed")
	}
	if mgr.State() != LoadStateFailed {
		t.Errorf("Expected failed state, got %s", mgr.State())
	}
}

func TestManager_Close(t *testing.T) {
	model := &stubModel{}
	loader := func(ctx context.Context, cfg detection.ModelConfig) (DetectionModel, error) {
		return model, nil
	}
	mgr := NewManager(testModelConfig(), loader, logger.NewNopLogger())
	if _, err := mgr.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := mgr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !model.closed.Load() {
		t.Error("Expected model to be closed")
	}
	if _, err := mgr.Load(context.Background()); !errors.Is(err, detection.ErrNotReady) {
		t.Errorf("Expected NotReady after close, got %v", err)
	}
}

func TestONNXLoader_MissingModelFile(t *testing.T) {
	cfg := testModelConfig()
	cfg.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")
	mgr := NewManager(cfg, NewONNXLoader(logger.NewNopLogger()), logger.NewNopLogger())

	_, err := mgr.Load(context.Background())
	if !errors.Is(err, detection.ErrModelLoad) {
		t.Fatalf("Expected ModelLoad error, got %v", err)
	}
	if mgr.State() != LoadStateFailed {
		t.Errorf("Expected failed state, got %s", mgr.State())
	}
}

func TestONNXLoader_DirectoryIsRejected(t *testing.T) {
	cfg := testModelConfig()
	cfg.ModelPath = t.TempDir()

	_, err := NewONNXLoader(logger.NewNopLogger())(context.Background(), cfg)
	if !errors.Is(err, detection.ErrModelLoad) {
		t.Fatalf("Expected ModelLoad error, got %v", err)
	}
}

func TestLoaderFor(t *testing.T) {
	cfg := testModelConfig()
	for _, backend := range []string{"", "onnx", "remote"} {
		cfg.Backend = backend
		if _, err := LoaderFor(cfg, logger.NewNopLogger()); err != nil {
			t.Errorf("Expected loader for backend %q, got %v", backend, err)
		}
	}
	cfg.Backend = "tflite"
	if _, err := LoaderFor(cfg, logger.NewNopLogger()); err == nil {
		t.Error("Expected error for unknown backend")
	}
}
