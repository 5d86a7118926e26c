package question

import "image"

// BoundingBox is a normalized rectangular region on one page, origin
// top-left, all coordinates in [0,1]. The source is untrusted model output,
// so out-of-range values are clamped rather than rejected.
type BoundingBox struct {
	Page   int     `json:"page"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Clamp forces the box into the unit square: x+width <= 1, y+height <= 1.
func (b *BoundingBox) Clamp() {
	b.X = clamp01(b.X)
	b.Y = clamp01(b.Y)
	b.Width = clamp01(b.Width)
	b.Height = clamp01(b.Height)
	if b.X+b.Width > 1 {
		b.Width = 1 - b.X
	}
	if b.Y+b.Height > 1 {
		b.Height = 1 - b.Y
	}
}

// Empty reports whether the box has no area after clamping.
func (b BoundingBox) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// PixelRect maps the normalized box onto an image of the given dimensions.
func (b BoundingBox) PixelRect(width, height int) image.Rectangle {
	x0 := int(b.X * float64(width))
	y0 := int(b.Y * float64(height))
	x1 := int((b.X + b.Width) * float64(width))
	y1 := int((b.Y + b.Height) * float64(height))
	return image.Rect(x0, y0, x1, y1)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
