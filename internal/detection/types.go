package detection

import (
	"fmt"
	"time"
)

// BBox is an axis-aligned box in source image pixel coordinates
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the box width
func (b BBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the box height
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// Area returns the box area, zero for degenerate boxes
func (b BBox) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Detection is one object found by the model
type Detection struct {
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	ClassLabel string  `json:"class"`
}

// Result is the outcome of one successful inference.
// It is immutable once built; accessors hand out copies.
type Result struct {
	count          int
	detections     []Detection
	annotatedImage []byte
	observedAt     time.Time
	sourceID       string
	width          int
	height         int
}

// ResultParams carries the pieces needed to build a Result
type ResultParams struct {
	Detections     []Detection
	AnnotatedImage []byte
	ObservedAt     time.Time
	SourceID       string
	Width          int
	Height         int
}

// NewResult builds an immutable Result. The count is always derived from the
// detections so the two can never disagree.
func NewResult(p ResultParams) (*Result, error) {
	if p.SourceID == "" {
		return nil, fmt.Errorf("result requires a source id")
	}
	if len(p.AnnotatedImage) == 0 {
		return nil, fmt.Errorf("result requires an annotated image")
	}
	if p.ObservedAt.IsZero() {
		return nil, fmt.Errorf("result requires an observation time")
	}

	dets := make([]Detection, len(p.Detections))
	copy(dets, p.Detections)
	img := make([]byte, len(p.AnnotatedImage))
	copy(img, p.AnnotatedImage)

	return &Result{
		count:          len(dets),
		detections:     dets,
		annotatedImage: img,
		observedAt:     p.ObservedAt.UTC(),
		sourceID:       p.SourceID,
		width:          p.Width,
		height:         p.Height,
	}, nil
}

// Count returns the number of detections
func (r *Result) Count() int { return r.count }

// Detections returns a copy of the detections
func (r *Result) Detections() []Detection {
	out := make([]Detection, len(r.detections))
	copy(out, r.detections)
	return out
}

// AnnotatedImage returns a copy of the encoded annotated image
func (r *Result) AnnotatedImage() []byte {
	out := make([]byte, len(r.annotatedImage))
	copy(out, r.annotatedImage)
	return out
}

// ObservedAt returns the UTC time at which the result was produced
func (r *Result) ObservedAt() time.Time { return r.observedAt }

// SourceID returns the image source the result was computed from
func (r *Result) SourceID() string { return r.sourceID }

// Dimensions returns the source image width and height
func (r *Result) Dimensions() (int, int) { return r.width, r.height }

// Snapshot is the serializable view of a Result
type Snapshot struct {
	Count      int         `json:"count"`
	Detections []Detection `json:"detections"`
	ObservedAt time.Time   `json:"observed_at"`
	SourceID   string      `json:"source_id"`
	Width      int         `json:"width"`
	Height     int         `json:"height"`
}

// Snapshot returns a serializable copy of the result without the image bytes
func (r *Result) Snapshot() Snapshot {
	return Snapshot{
		Count:      r.count,
		Detections: r.Detections(),
		ObservedAt: r.observedAt,
		SourceID:   r.sourceID,
		Width:      r.width,
		Height:     r.height,
	}
}
