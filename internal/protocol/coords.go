package protocol

// Viewport is the pixel size coordinates are normalized against.
type Viewport struct {
	Width  int
	Height int
}

func (v Viewport) Normalize(x, y float64) (float64, float64) {
	return fraction(x, v.Width), fraction(y, v.Height)
}

func (v Viewport) Denormalize(fx, fy float64) (float64, float64) {
	return fx * float64(v.Width), fy * float64(v.Height)
}

func fraction(value float64, size int) float64 {
	if size <= 0 {
		return 0
	}
	return value / float64(size)
}
