package model

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/logger"
)

// InferenceRequest represents a request to the inference service
type InferenceRequest struct {
	Image               string   `json:"image"` // Base64-encoded JPEG image
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	EnabledClasses      []string `json:"enabled_classes,omitempty"`
}

// BoundingBox represents a detected object's bounding box
type BoundingBox struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
}

// InferenceResponse represents the response from the inference service
type InferenceResponse struct {
	BoundingBoxes   []BoundingBox `json:"bounding_boxes"`
	InferenceTimeMs float64       `json:"inference_time_ms"`
	FrameShape      []int         `json:"frame_shape"` // [height, width]
	DetectionCount  int           `json:"detection_count"`
}

// RemoteClient is an HTTP client for an external inference service
type RemoteClient struct {
	serviceURL string
	httpClient *http.Client
	labels     []string
	logger     *logger.Logger
}

// NewRemoteClient creates a new inference service client
func NewRemoteClient(serviceURL string, labels []string, timeout time.Duration, log *logger.Logger) *RemoteClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &RemoteClient{
		serviceURL: strings.TrimRight(serviceURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		labels:     labels,
		logger:     log,
	}
}

// NewRemoteLoader returns a Loader that connects to the inference service at
// the configured model path and waits for it to report ready.
func NewRemoteLoader(log *logger.Logger) Loader {
	return func(ctx context.Context, cfg detection.ModelConfig) (DetectionModel, error) {
		client := NewRemoteClient(cfg.ModelPath, cfg.Labels, 0, log)
		if err := client.HealthCheck(ctx); err != nil {
			return nil, detection.NewError(detection.KindModelLoad, "", err)
		}
		return client, nil
	}
}

// Infer sends the image to the service and maps the returned boxes
func (c *RemoteClient) Infer(ctx context.Context, img image.Image, threshold float64) (*Output, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	req := InferenceRequest{
		Image:               base64.StdEncoding.EncodeToString(buf.Bytes()),
		ConfidenceThreshold: &threshold,
		EnabledClasses:      c.labels,
	}
	resp, err := c.inferRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	dets := make([]detection.Detection, 0, len(resp.BoundingBoxes))
	for _, bb := range resp.BoundingBoxes {
		dets = append(dets, detection.Detection{
			BBox:       detection.BBox{X1: bb.X1, Y1: bb.Y1, X2: bb.X2, Y2: bb.Y2},
			Confidence: bb.Confidence,
			ClassID:    bb.ClassID,
			ClassLabel: bb.ClassName,
		})
	}
	return &Output{Detections: dets}, nil
}

// inferRequest performs a single inference request
func (c *RemoteClient) inferRequest(ctx context.Context, req InferenceRequest) (*InferenceResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/inference", c.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Debug("Sending inference request", "url", url)
	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Inference service returned error", "status", resp.StatusCode, "response", string(body))
		return nil, fmt.Errorf("inference service returned status %d: %s", resp.StatusCode, string(body))
	}

	var inferenceResp InferenceResponse
	if err := json.Unmarshal(body, &inferenceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	c.logger.Debug("Inference completed",
		"detection_count", len(inferenceResp.BoundingBoxes),
		"inference_time_ms", inferenceResp.InferenceTimeMs,
		"request_duration_ms", time.Since(startTime).Milliseconds(),
	)

	return &inferenceResp, nil
}

// HealthCheck checks if the inference service is ready
func (c *RemoteClient) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/health/ready", c.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("inference service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service health check failed: status %d", resp.StatusCode)
	}
	return nil
}

// Close is a no-op; the HTTP client holds no model resources
func (c *RemoteClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
