package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
)

func TestAnchorCount(t *testing.T) {
	assert.Equal(t, 8400, anchorCount(640))
	assert.Equal(t, 2100, anchorCount(320))
}

// buildOutput lays out predictions as [4+classes, anchors]
func buildOutput(layout yoloLayout, preds map[int][]float32) []float32 {
	data := make([]float32, (4+layout.NumClasses)*layout.NumAnchors)
	for anchor, values := range preds {
		for c, v := range values {
			data[c*layout.NumAnchors+anchor] = v
		}
	}
	return data
}

func TestDecodeYOLO(t *testing.T) {
	layout := yoloLayout{NumClasses: 2, NumAnchors: 6, InputSize: 100}
	data := buildOutput(layout, map[int][]float32{
		0: {50, 50, 20, 10, 0.9, 0.1},  // class 0, confident
		2: {10, 10, 40, 40, 0.2, 0.7},  // class 1, confident, clipped at origin
		4: {80, 80, 10, 10, 0.3, 0.35}, // below threshold
	})

	label := func(id int) string { return []string{"chicken", "egg"}[id] }
	dets, err := decodeYOLO(data, layout, 0.5, 200, 400, label)
	require.NoError(t, err)
	require.Len(t, dets, 2)

	assert.Equal(t, "chicken", dets[0].ClassLabel)
	assert.InDelta(t, 0.9, dets[0].Confidence, 1e-6)
	// scaled by 2 horizontally and 4 vertically
	assert.InDelta(t, 80, dets[0].BBox.X1, 1e-6)
	assert.InDelta(t, 180, dets[0].BBox.Y1, 1e-6)
	assert.InDelta(t, 120, dets[0].BBox.X2, 1e-6)
	assert.InDelta(t, 220, dets[0].BBox.Y2, 1e-6)

	assert.Equal(t, 1, dets[1].ClassID)
	assert.Equal(t, 0.0, dets[1].BBox.X1)
	assert.Equal(t, 0.0, dets[1].BBox.Y1)
}

func TestDecodeYOLO_WrongLength(t *testing.T) {
	_, err := decodeYOLO(make([]float32, 10), yoloLayout{NumClasses: 80, NumAnchors: 8400, InputSize: 640}, 0.5, 640, 640, nil)
	assert.Error(t, err)
}

func TestIoU(t *testing.T) {
	a := detection.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}
	assert.InDelta(t, 1.0, iou(a, a), 1e-9)
	assert.Equal(t, 0.0, iou(a, detection.BBox{X1: 20, Y1: 20, X2: 30, Y2: 30}))

	b := detection.BBox{X1: 5, Y1: 0, X2: 15, Y2: 10}
	assert.InDelta(t, 50.0/150.0, iou(a, b), 1e-9)
}

func TestNonMaxSuppression(t *testing.T) {
	dets := []detection.Detection{
		{BBox: detection.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}, Confidence: 0.6, ClassID: 0},
		{BBox: detection.BBox{X1: 1, Y1: 1, X2: 11, Y2: 11}, Confidence: 0.9, ClassID: 0},
		{BBox: detection.BBox{X1: 1, Y1: 1, X2: 11, Y2: 11}, Confidence: 0.8, ClassID: 1},
		{BBox: detection.BBox{X1: 50, Y1: 50, X2: 60, Y2: 60}, Confidence: 0.7, ClassID: 0},
	}

	kept := nonMaxSuppression(dets, 0.45)
	require.Len(t, kept, 3)
	assert.Equal(t, 0.9, kept[0].Confidence)
	assert.Equal(t, 0.8, kept[1].Confidence)
	assert.Equal(t, 0.7, kept[2].Confidence)

	// Input is left untouched
	assert.Equal(t, 0.6, dets[0].Confidence)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, clamp(-3, 0, 10))
	assert.Equal(t, 10.0, clamp(math.Inf(1), 0, 10))
	assert.Equal(t, 4.5, clamp(4.5, 0, 10))
}
