package coordinator

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/model"
)

type job struct {
	ctx       context.Context
	sourceID  string
	data      []byte
	model     model.DetectionModel
	threshold float64
	reply     chan jobResult
}

type jobResult struct {
	detections []detection.Detection
	annotated  []byte
	width      int
	height     int
	err        error
}

// worker owns every call into the model; jobs are processed one at a time
func (c *Coordinator) worker() {
	defer close(c.workerDone)
	for {
		select {
		case <-c.closed:
			return
		case j := <-c.jobs:
			j.reply <- c.process(j)
		}
	}
}

func (c *Coordinator) process(j job) jobResult {
	if err := j.ctx.Err(); err != nil {
		return jobResult{err: detection.NewError(detection.KindInference, j.sourceID, err)}
	}

	img, format, err := image.Decode(bytes.NewReader(j.data))
	if err != nil {
		return jobResult{err: detection.NewError(detection.KindImageDecode, j.sourceID, err)}
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return jobResult{err: detection.NewError(detection.KindImageDecode, j.sourceID, fmt.Errorf("decoded %s image is empty", format))}
	}

	out, err := infer(j.ctx, j.model, img, j.threshold)
	if err != nil {
		return jobResult{err: detection.NewError(detection.KindInference, j.sourceID, err)}
	}

	kept, dropped := filterByConfidence(out.Detections, j.threshold)
	for _, d := range dropped {
		c.logger.Warn("Dropping detection below confidence threshold",
			"source_id", j.sourceID,
			"class", d.ClassLabel,
			"confidence", d.Confidence,
			"threshold", j.threshold,
		)
	}

	annotated := out.Annotated
	if annotated == nil || len(dropped) > 0 || annotated.Bounds().Size() != bounds.Size() {
		annotated = c.annotator.Render(img, kept)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, annotated, &jpeg.Options{Quality: c.opts.JPEGQuality}); err != nil {
		return jobResult{err: detection.NewError(detection.KindInference, j.sourceID, fmt.Errorf("failed to encode annotated image: %w", err))}
	}

	return jobResult{
		detections: kept,
		annotated:  buf.Bytes(),
		width:      bounds.Dx(),
		height:     bounds.Dy(),
	}
}

// infer calls the model, turning panics into errors
func infer(ctx context.Context, m model.DetectionModel, img image.Image, threshold float64) (out *model.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model panic: %v", r)
		}
	}()

	out, err = m.Infer(ctx, img, threshold)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("model returned no output")
	}
	return out, nil
}

// filterByConfidence keeps detections with confidence >= threshold.
// NaN confidences are dropped.
func filterByConfidence(dets []detection.Detection, threshold float64) (kept, dropped []detection.Detection) {
	kept = make([]detection.Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence >= threshold {
			kept = append(kept, d)
		} else {
			dropped = append(dropped, d)
		}
	}
	return kept, dropped
}
