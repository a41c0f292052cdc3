package model

import (
	"fmt"
	"math"
	"sort"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
)

const (
	defaultInputSize    = 640
	defaultNumClasses   = 80
	defaultIOUThreshold = 0.45
)

// anchorCount returns the number of YOLOv8 prediction cells for a square input
func anchorCount(inputSize int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		side := inputSize / stride
		n += side * side
	}
	return n
}

// yoloLayout describes a [1, 4+classes, anchors] output tensor
type yoloLayout struct {
	NumClasses int
	NumAnchors int
	InputSize  int
}

// decodeYOLO turns raw YOLOv8 output into detections in source image pixels.
// Only the best class per anchor is considered.
func decodeYOLO(data []float32, layout yoloLayout, threshold float64, srcW, srcH int, label func(int) string) ([]detection.Detection, error) {
	want := (4 + layout.NumClasses) * layout.NumAnchors
	if len(data) != want {
		return nil, fmt.Errorf("unexpected output length: got %d, want %d", len(data), want)
	}

	n := layout.NumAnchors
	scaleX := float64(srcW) / float64(layout.InputSize)
	scaleY := float64(srcH) / float64(layout.InputSize)

	dets := make([]detection.Detection, 0, 32)
	for i := 0; i < n; i++ {
		bestClass := -1
		var bestScore float32
		for c := 0; c < layout.NumClasses; c++ {
			score := data[(4+c)*n+i]
			if score > bestScore {
				bestScore = score
				bestClass = c
			}
		}
		if bestClass < 0 || float64(bestScore) < threshold {
			continue
		}

		cx, cy := float64(data[i]), float64(data[n+i])
		w, h := float64(data[2*n+i]), float64(data[3*n+i])
		box := detection.BBox{
			X1: clamp((cx-w/2)*scaleX, 0, float64(srcW)),
			Y1: clamp((cy-h/2)*scaleY, 0, float64(srcH)),
			X2: clamp((cx+w/2)*scaleX, 0, float64(srcW)),
			Y2: clamp((cy+h/2)*scaleY, 0, float64(srcH)),
		}
		if box.Area() == 0 {
			continue
		}

		dets = append(dets, detection.Detection{
			BBox:       box,
			Confidence: float64(bestScore),
			ClassID:    bestClass,
			ClassLabel: label(bestClass),
		})
	}
	return dets, nil
}

// iou returns the intersection over union of two boxes
func iou(a, b detection.BBox) float64 {
	inter := detection.BBox{
		X1: math.Max(a.X1, b.X1),
		Y1: math.Max(a.Y1, b.Y1),
		X2: math.Min(a.X2, b.X2),
		Y2: math.Min(a.Y2, b.Y2),
	}.Area()
	if inter == 0 {
		return 0
	}
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// nonMaxSuppression keeps the most confident box of each overlapping group,
// per class. The result is ordered by descending confidence.
func nonMaxSuppression(dets []detection.Detection, iouThreshold float64) []detection.Detection {
	sorted := make([]detection.Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]detection.Detection, 0, len(sorted))
	suppressed := make([]bool, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] || sorted[j].ClassID != sorted[i].ClassID {
				continue
			}
			if iou(sorted[i].BBox, sorted[j].BBox) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
