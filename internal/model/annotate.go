package model

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
)

var labelFont *truetype.Font

func init() {
	var err error
	labelFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

var palette = []color.RGBA{
	{R: 0xff, G: 0x38, B: 0x38, A: 0xff},
	{R: 0xff, G: 0x9d, B: 0x97, A: 0xff},
	{R: 0xff, G: 0x70, B: 0x1f, A: 0xff},
	{R: 0xff, G: 0xb2, B: 0x1d, A: 0xff},
	{R: 0xcf, G: 0xd2, B: 0x31, A: 0xff},
	{R: 0x48, G: 0xf9, B: 0x0a, A: 0xff},
	{R: 0x1a, G: 0x93, B: 0x34, A: 0xff},
	{R: 0x00, G: 0xd4, B: 0xbb, A: 0xff},
}

// Annotator draws detection boxes and labels onto images
type Annotator struct {
	lineWidth float64
	fontSize  float64
}

// NewAnnotator creates an annotator whose stroke scales with the image size
func NewAnnotator() *Annotator {
	return &Annotator{}
}

// Render returns a copy of img, at the same resolution, with every detection drawn
func (a *Annotator) Render(img image.Image, dets []detection.Detection) image.Image {
	dc := gg.NewContextForImage(img)

	lineWidth, fontSize := a.lineWidth, a.fontSize
	if lineWidth == 0 {
		lineWidth = maxf(2, float64(dc.Width()+dc.Height())/600)
	}
	if fontSize == 0 {
		fontSize = maxf(10, lineWidth*6)
	}
	dc.SetFontFace(truetype.NewFace(labelFont, &truetype.Options{Size: fontSize}))

	for _, d := range dets {
		c := palette[classColor(d.ClassID)]
		b := d.BBox

		dc.SetColor(c)
		dc.SetLineWidth(lineWidth)
		dc.DrawRectangle(b.X1, b.Y1, b.Width(), b.Height())
		dc.Stroke()

		text := fmt.Sprintf("%s %.2f", d.ClassLabel, d.Confidence)
		tw, th := dc.MeasureString(text)
		pad := lineWidth
		top := b.Y1 - th - 2*pad
		if top < 0 {
			top = b.Y1
		}
		dc.SetColor(c)
		dc.DrawRectangle(b.X1, top, tw+2*pad, th+2*pad)
		dc.Fill()
		dc.SetColor(color.White)
		dc.DrawStringAnchored(text, b.X1+pad, top+pad, 0, 1)
	}

	return dc.Image()
}

func classColor(classID int) int {
	if classID < 0 {
		classID = -classID
	}
	return classID % len(palette)
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
