package integration

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/app"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/model"
)

// gatedModel reports fixed detections and can be held mid-inference
type gatedModel struct {
	mu         sync.Mutex
	detections []detection.Detection
	gate       chan struct{}
	entered    chan struct{}
}

func (m *gatedModel) Infer(ctx context.Context, img image.Image, threshold float64) (*model.Output, error) {
	m.mu.Lock()
	gate, entered := m.gate, m.entered
	dets := m.detections
	m.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &model.Output{Detections: dets}, nil
}

func (m *gatedModel) Close() error { return nil }

// Hold makes the next inferences block until the returned release func is called
func (m *gatedModel) Hold() (entered <-chan struct{}, release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = make(chan struct{})
	m.entered = make(chan struct{}, 4)
	gate := m.gate
	var once sync.Once
	return m.entered, func() { once.Do(func() { close(gate) }) }
}

// TestEnvironment provides a running counter for integration tests
type TestEnvironment struct {
	TempDir     string
	Config      *config.Config
	App         *app.App
	Model       *gatedModel
	Camera      *httptest.Server
	Logger      *logger.Logger
	CleanupFunc func()
}

// SetupTestEnvironment starts a counter fed by an HTTP snapshot camera
func SetupTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()
	tmpDir := t.TempDir()
	frame := testFrame(t, 320, 240)

	camera := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(frame)
	}))

	cfg := &config.Config{
		Counter: config.CounterConfig{
			InstanceID: "henhouse",
			DataDir:    tmpDir,
			Model: config.ModelConfig{
				Backend:             "onnx",
				Path:                "/models/chickens.onnx",
				ConfidenceThreshold: 0.6,
				Device:              "cpu",
			},
			Inference: config.InferenceConfig{
				FetchTimeout:     5 * time.Second,
				InferenceTimeout: 5 * time.Second,
				LoadTimeout:      5 * time.Second,
				JPEGQuality:      80,
			},
			Sources: []config.SourceConfig{
				{ID: "coop", Type: "http", URL: camera.URL + "/snapshot.jpg"},
			},
			Notify: config.NotifyConfig{
				EventBusSize:    50,
				DeliveryTimeout: 2 * time.Second,
			},
			State: config.StateConfig{
				Enabled: true,
				DBPath:  filepath.Join(tmpDir, "db", "counter.db"),
			},
			Web:  config.WebConfig{Enabled: true, Host: "127.0.0.1"},
			GRPC: config.GRPCConfig{Enabled: true},
		},
		Log: config.LogConfig{Level: "debug", Format: "text"},
	}
	if err := cfg.Validate(); err != nil {
		camera.Close()
		t.Fatalf("Invalid test config: %v", err)
	}

	m := &gatedModel{detections: []detection.Detection{
		{BBox: detection.BBox{X1: 10, Y1: 10, X2: 60, Y2: 80}, Confidence: 0.91, ClassLabel: "chicken"},
		{BBox: detection.BBox{X1: 100, Y1: 40, X2: 150, Y2: 120}, Confidence: 0.77, ClassLabel: "chicken"},
		{BBox: detection.BBox{X1: 200, Y1: 90, X2: 240, Y2: 150}, Confidence: 0.42, ClassLabel: "chicken"},
	}}
	loader := func(ctx context.Context, cfg detection.ModelConfig) (model.DetectionModel, error) {
		return m, nil
	}

	log := logger.NewNopLogger()
	a, err := app.New(cfg, log, app.Options{Serve: true, Version: "integration", Loader: loader})
	if err != nil {
		camera.Close()
		t.Fatalf("Failed to build app: %v", err)
	}

	ctx, cancel := ContextWithTimeout(10 * time.Second)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		camera.Close()
		t.Fatalf("Failed to start app: %v", err)
	}

	cleanup := func() {
		ctx, cancel := ContextWithTimeout(10 * time.Second)
		defer cancel()
		a.Close(ctx)
		camera.Close()
	}

	return &TestEnvironment{
		TempDir:     tmpDir,
		Config:      cfg,
		App:         a,
		Model:       m,
		Camera:      camera,
		Logger:      log,
		CleanupFunc: cleanup,
	}
}

// Cleanup cleans up the test environment
func (e *TestEnvironment) Cleanup() {
	if e.CleanupFunc != nil {
		e.CleanupFunc()
	}
}

// WebURL returns the base URL of the web API
func (e *TestEnvironment) WebURL() string {
	return "http://" + loopback(e.App.Web.Addr())
}

// GRPCAddr returns a dialable gRPC address
func (e *TestEnvironment) GRPCAddr() string {
	return loopback(e.App.GRPC.Addr())
}

func loopback(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return net.JoinHostPort("127.0.0.1", port)
}

func testFrame(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("Failed to encode frame: %v", err)
	}
	return buf.Bytes()
}

// WaitForCondition waits for a condition to become true
func WaitForCondition(timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		<-ticker.C
	}

	return false
}

// ContextWithTimeout creates a context with timeout for tests
func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
