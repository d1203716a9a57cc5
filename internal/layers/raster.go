package layers

import (
	"image"
	"image/color"
	"math"
)

// DrawSegment strokes a line from (x0,y0) to (x1,y1) with round caps onto dst.
// A zero-length segment paints a dot.
func DrawSegment(dst *image.RGBA, x0, y0, x1, y1, width float64, c color.Color) {
	r := width / 2
	if r < 0.5 {
		r = 0.5
	}
	src := color.RGBAModel.Convert(c).(color.RGBA)

	b := image.Rect(
		int(math.Floor(math.Min(x0, x1)-r)),
		int(math.Floor(math.Min(y0, y1)-r)),
		int(math.Ceil(math.Max(x0, x1)+r))+1,
		int(math.Ceil(math.Max(y0, y1)+r))+1,
	).Intersect(dst.Bounds())

	dx, dy := x1-x0, y1-y0
	lenSq := dx*dx + dy*dy
	rSq := r * r

	for py := b.Min.Y; py < b.Max.Y; py++ {
		for px := b.Min.X; px < b.Max.X; px++ {
			cx, cy := float64(px)+0.5, float64(py)+0.5
			t := 0.0
			if lenSq > 0 {
				t = ((cx-x0)*dx + (cy-y0)*dy) / lenSq
				t = math.Max(0, math.Min(1, t))
			}
			ex, ey := x0+t*dx-cx, y0+t*dy-cy
			if ex*ex+ey*ey <= rSq {
				blend(dst, px, py, src)
			}
		}
	}
}

// FillRect paints src over the rectangle r.
func FillRect(dst *image.RGBA, r image.Rectangle, c color.Color) {
	src := color.RGBAModel.Convert(c).(color.RGBA)
	r = r.Intersect(dst.Bounds())
	for py := r.Min.Y; py < r.Max.Y; py++ {
		for px := r.Min.X; px < r.Max.X; px++ {
			blend(dst, px, py, src)
		}
	}
}

// StrokeRect outlines r with a border of the given thickness.
func StrokeRect(dst *image.RGBA, r image.Rectangle, thickness int, c color.Color) {
	FillRect(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness), c)
	FillRect(dst, image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y), c)
	FillRect(dst, image.Rect(r.Min.X, r.Min.Y+thickness, r.Min.X+thickness, r.Max.Y-thickness), c)
	FillRect(dst, image.Rect(r.Max.X-thickness, r.Min.Y+thickness, r.Max.X, r.Max.Y-thickness), c)
}

// FillCircle paints a disc of radius r centred on (cx,cy).
func FillCircle(dst *image.RGBA, cx, cy, r float64, c color.Color) {
	DrawSegment(dst, cx, cy, cx, cy, 2*r, c)
}

func blend(dst *image.RGBA, x, y int, src color.RGBA) {
	i := dst.PixOffset(x, y)
	if src.A == 0xff {
		dst.Pix[i+0] = src.R
		dst.Pix[i+1] = src.G
		dst.Pix[i+2] = src.B
		dst.Pix[i+3] = 0xff
		return
	}
	inv := uint32(0xff - src.A)
	dst.Pix[i+0] = uint8(uint32(src.R) + uint32(dst.Pix[i+0])*inv/0xff)
	dst.Pix[i+1] = uint8(uint32(src.G) + uint32(dst.Pix[i+1])*inv/0xff)
	dst.Pix[i+2] = uint8(uint32(src.B) + uint32(dst.Pix[i+2])*inv/0xff)
	dst.Pix[i+3] = uint8(uint32(src.A) + uint32(dst.Pix[i+3])*inv/0xff)
}
