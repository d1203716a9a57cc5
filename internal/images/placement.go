package images

import "math"

// Fraction of the viewport a freshly placed image may occupy on each axis
const FitFraction = 0.4

// Placement is an explicit position and size, used when replaying a remote add.
type Placement struct {
	X, Y          float64
	Width, Height float64
	Rotation      float64
}

// DefaultPlacement centres a srcW x srcH image in the viewport, scaled down to
// fit within FitFraction of each dimension with its aspect ratio kept.
func DefaultPlacement(srcW, srcH, viewW, viewH int) Placement {
	if srcW <= 0 || srcH <= 0 {
		return Placement{}
	}
	scale := math.Min(
		FitFraction*float64(viewW)/float64(srcW),
		FitFraction*float64(viewH)/float64(srcH),
	)
	if scale > 1 {
		scale = 1
	}
	w := float64(srcW) * scale
	h := float64(srcH) * scale
	return Placement{
		X:      (float64(viewW) - w) / 2,
		Y:      (float64(viewH) - h) / 2,
		Width:  w,
		Height: h,
	}
}
