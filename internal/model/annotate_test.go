package model

import (
	"image/color"
	"testing"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
)

func TestAnnotator_RenderKeepsResolution(t *testing.T) {
	src := testImage(320, 240)
	dets := []detection.Detection{
		{BBox: detection.BBox{X1: 40, Y1: 60, X2: 200, Y2: 180}, Confidence: 0.91, ClassID: 0, ClassLabel: "chicken"},
	}

	out := NewAnnotator().Render(src, dets)

	if out.Bounds().Dx() != 320 || out.Bounds().Dy() != 240 {
		t.Fatalf("Expected 320x240, got %v", out.Bounds())
	}

	// The box edge is painted with the class colour
	r, g, b, _ := out.At(120, 180).RGBA()
	want := palette[0]
	if uint8(r>>8) != want.R || uint8(g>>8) != want.G || uint8(b>>8) != want.B {
		t.Errorf("Expected box colour at bottom edge, got %d,%d,%d", r>>8, g>>8, b>>8)
	}

	// Pixels far from any box are untouched
	if color.RGBAModel.Convert(out.At(300, 10)) != color.RGBAModel.Convert(src.At(300, 10)) {
		t.Error("Expected pixels outside boxes to be unchanged")
	}

	// The source image is not modified
	sr, sg, sb, _ := src.At(120, 180).RGBA()
	if uint8(sr>>8) == want.R && uint8(sg>>8) == want.G && uint8(sb>>8) == want.B {
		t.Error("Render must not draw on the source image")
	}
}

func TestAnnotator_NoDetections(t *testing.T) {
	src := testImage(16, 16)
	out := NewAnnotator().Render(src, nil)
	if out.Bounds() != src.Bounds() {
		t.Fatalf("Expected same bounds, got %v", out.Bounds())
	}
}

func TestClassColor(t *testing.T) {
	if classColor(len(palette)+1) != 1 {
		t.Error("Expected palette to wrap around")
	}
	if classColor(-2) != 2 {
		t.Error("Expected negative ids to map into the palette")
	}
}
