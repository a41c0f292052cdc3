package detection

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResult_DerivesCountAndCopies(t *testing.T) {
	dets := []Detection{
		{BBox: BBox{X1: 1, Y1: 2, X2: 10, Y2: 20}, Confidence: 0.9, ClassID: 0, ClassLabel: "chicken"},
		{BBox: BBox{X1: 5, Y1: 5, X2: 15, Y2: 25}, Confidence: 0.7, ClassID: 0, ClassLabel: "chicken"},
	}
	img := []byte{0xff, 0xd8, 0xff}
	observed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

	res, err := NewResult(ResultParams{
		Detections:     dets,
		AnnotatedImage: img,
		ObservedAt:     observed,
		SourceID:       "coop",
		Width:          640,
		Height:         480,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Count())
	assert.Equal(t, len(res.Detections()), res.Count())
	assert.Equal(t, time.UTC, res.ObservedAt().Location())
	assert.True(t, res.ObservedAt().Equal(observed))

	// Mutating the inputs or outputs must not leak into the result
	dets[0].Confidence = 0.1
	img[0] = 0
	got := res.Detections()
	got[1].ClassLabel = "fox"
	assert.Equal(t, 0.9, res.Detections()[0].Confidence)
	assert.Equal(t, "chicken", res.Detections()[1].ClassLabel)
	assert.Equal(t, byte(0xff), res.AnnotatedImage()[0])

	w, h := res.Dimensions()
	assert.Equal(t, 640, w)
	assert.Equal(t, 480, h)
}

func TestNewResult_ZeroDetections(t *testing.T) {
	res, err := NewResult(ResultParams{AnnotatedImage: []byte{1}, ObservedAt: time.Now(), SourceID: "coop"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count())
	assert.Empty(t, res.Detections())
	assert.NotNil(t, res.Snapshot().Detections)
}

func TestNewResult_RejectsIncomplete(t *testing.T) {
	_, err := NewResult(ResultParams{AnnotatedImage: []byte{1}, ObservedAt: time.Now()})
	assert.Error(t, err)
	_, err = NewResult(ResultParams{SourceID: "coop", ObservedAt: time.Now()})
	assert.Error(t, err)
	_, err = NewResult(ResultParams{SourceID: "coop", AnnotatedImage: []byte{1}})
	assert.Error(t, err)
}

func TestParseDevice(t *testing.T) {
	tests := []struct {
		in      string
		want    Device
		wantErr bool
	}{
		{"", DeviceCPU, false},
		{"cpu", DeviceCPU, false},
		{"CUDA", DeviceAccelerator, false},
		{"gpu", DeviceAccelerator, false},
		{"accelerator", DeviceAccelerator, false},
		{"tpu", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDevice(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestModelConfig_Validate(t *testing.T) {
	base := ModelConfig{ModelPath: "/models/yolo.onnx", ConfidenceThreshold: 0.5, Device: DeviceCPU}
	assert.NoError(t, base.Validate())

	low := base
	low.ConfidenceThreshold = 0.05
	assert.Error(t, low.Validate())

	high := base
	high.ConfidenceThreshold = 1.01
	assert.Error(t, high.Validate())

	edge := base
	edge.ConfidenceThreshold = 1.0
	assert.NoError(t, edge.Validate())

	nan := base
	nan.ConfidenceThreshold = math.NaN()
	assert.Error(t, nan.Validate())

	noPath := base
	noPath.ModelPath = " "
	assert.Error(t, noPath.Validate())

	badDevice := base
	badDevice.Device = "tpu"
	assert.Error(t, badDevice.Validate())
}

func TestModelConfig_Label(t *testing.T) {
	cfg := ModelConfig{Labels: []string{"chicken", "egg"}}
	assert.Equal(t, "egg", cfg.Label(1))
	assert.Equal(t, "class_7", cfg.Label(7))
}

func TestError_IsAndKindOf(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("count: %w", NewError(KindImageAcquisition, "coop", cause))

	assert.True(t, errors.Is(err, ErrImageAcquisition))
	assert.False(t, errors.Is(err, ErrInference))
	assert.True(t, errors.Is(err, cause))

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindImageAcquisition, kind)
	assert.Contains(t, err.Error(), "source coop")
	assert.Contains(t, err.Error(), "connection refused")

	_, ok = KindOf(cause)
	assert.False(t, ok)
}
