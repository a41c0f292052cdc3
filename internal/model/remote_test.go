package model

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/logger"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 80, A: 255})
		}
	}
	return img
}

func setupTestServer(t *testing.T, ready bool) (*httptest.Server, *InferenceRequest) {
	t.Helper()
	var received InferenceRequest

	mux := http.NewServeMux()
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/inference", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(InferenceResponse{
			BoundingBoxes: []BoundingBox{
				{X1: 10, Y1: 20, X2: 30, Y2: 40, Confidence: 0.85, ClassID: 0, ClassName: "chicken"},
			},
			InferenceTimeMs: 12.5,
			FrameShape:      []int{48, 64},
			DetectionCount:  1,
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &received
}

func TestRemoteLoader_Infer(t *testing.T) {
	server, received := setupTestServer(t, true)

	cfg := testModelConfig()
	cfg.Backend = "remote"
	cfg.ModelPath = server.URL + "/"
	cfg.Labels = []string{"chicken"}

	model, err := NewRemoteLoader(logger.NewNopLogger())(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Loader failed: %v", err)
	}
	defer model.Close()

	out, err := model.Infer(context.Background(), testImage(64, 48), 0.6)
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}

	if len(out.Detections) != 1 {
		t.Fatalf("Expected 1 detection, got %d", len(out.Detections))
	}
	d := out.Detections[0]
	if d.ClassLabel != "chicken" || d.Confidence != 0.85 || d.BBox.X2 != 30 {
		t.Errorf("Unexpected detection: %+v", d)
	}

	if received.ConfidenceThreshold == nil || *received.ConfidenceThreshold != 0.6 {
		t.Errorf("Expected threshold 0.6 to be sent, got %v", received.ConfidenceThreshold)
	}
	if len(received.EnabledClasses) != 1 || received.EnabledClasses[0] != "chicken" {
		t.Errorf("Expected enabled classes to be sent, got %v", received.EnabledClasses)
	}
	raw, err := base64.StdEncoding.DecodeString(received.Image)
	if err != nil {
		t.Fatalf("Image is not base64: %v", err)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Image is not a JPEG: %v", err)
	}
	if decoded.Bounds().Dx() != 64 || decoded.Bounds().Dy() != 48 {
		t.Errorf("Unexpected image size %v", decoded.Bounds())
	}
}

func TestRemoteLoader_NotReady(t *testing.T) {
	server, _ := setupTestServer(t, false)

	cfg := testModelConfig()
	cfg.ModelPath = server.URL

	_, err := NewRemoteLoader(logger.NewNopLogger())(context.Background(), cfg)
	if !errors.Is(err, detection.ErrModelLoad) {
		t.Fatalf("Expected ModelLoad error, got %v", err)
	}
}

func TestRemoteClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("model crashed"))
	}))
	defer server.Close()

	client := NewRemoteClient(server.URL, nil, time.Second, logger.NewNopLogger())
	if _, err := client.Infer(context.Background(), testImage(8, 8), 0.5); err == nil {
		t.Fatal("Expected error for 500 response")
	}
}

func TestRemoteClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := NewRemoteClient(server.URL, nil, 5*time.Second, logger.NewNopLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := client.Infer(ctx, testImage(8, 8), 0.5); err == nil {
		t.Fatal("Expected error for cancelled context")
	}
	if time.Since(start) > time.Second {
		t.Error("Infer did not honour context cancellation")
	}
}
