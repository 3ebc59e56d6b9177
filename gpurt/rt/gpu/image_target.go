package gpu

import (
	"image"
	"image/color"
	"image/draw"
)

// ImageTarget is the soft device's render target.
type ImageTarget struct {
	Image *image.RGBA
}

func NewImageTarget(width, height int) *ImageTarget {
	return &ImageTarget{Image: image.NewRGBA(image.Rect(0, 0, width, height))}
}

func (t *ImageTarget) Size() (int, int) {
	b := t.Image.Bounds()
	return b.Dx(), b.Dy()
}

func (t *ImageTarget) Clear(c color.Color) {
	draw.Draw(t.Image, t.Image.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}
