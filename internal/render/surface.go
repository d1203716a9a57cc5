package render

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"sync"

	"github.com/pkg/errors"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"

	"github.com/manpreetbhatti/classboard/internal/images"
	"github.com/manpreetbhatti/classboard/internal/layers"
)

var (
	selectionColor = layers.MustParseColor("#3498db")
	deleteColor    = layers.MustParseColor("#e74c3c")
)

// Painter draws itself on top of the composed frame.
type Painter interface {
	Paint(dst *image.RGBA)
}

// Frame is a read-only view of everything drawn in one redraw.
type Frame struct {
	Background color.Color
	Images     []images.Object
	Layers     []*image.RGBA
	Overlays   []Painter

	// Nil when nothing is selected or the viewer cannot draw
	Selection *images.Object
}

// Surface owns the visible pixel buffer.
type Surface struct {
	buf *image.RGBA
	mu  sync.RWMutex
}

func NewSurface(width, height int) *Surface {
	return &Surface{buf: image.NewRGBA(image.Rect(0, 0, width, height))}
}

func (s *Surface) Resize(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf.Bounds().Dx() == width && s.buf.Bounds().Dy() == height {
		return
	}
	s.buf = image.NewRGBA(image.Rect(0, 0, width, height))
}

func (s *Surface) Bounds() image.Rectangle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buf.Bounds()
}

// Redraw composes background, images in z-order, stroke layers, overlays and
// finally the selection affordances.
func (s *Surface) Redraw(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bg := f.Background
	if bg == nil {
		bg = layers.Background
	}
	xdraw.Draw(s.buf, s.buf.Bounds(), image.NewUniform(bg), image.Point{}, xdraw.Src)

	for _, obj := range f.Images {
		paintImage(s.buf, obj)
	}
	for _, l := range f.Layers {
		xdraw.Draw(s.buf, s.buf.Bounds(), l, image.Point{}, xdraw.Over)
	}
	for _, o := range f.Overlays {
		o.Paint(s.buf)
	}
	if f.Selection != nil {
		paintSelection(s.buf, *f.Selection)
	}
}

// Image returns a copy of the last composed frame.
func (s *Surface) Image() *image.RGBA {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := image.NewRGBA(s.buf.Bounds())
	copy(out.Pix, s.buf.Pix)
	return out
}

func (s *Surface) EncodePNG(w io.Writer) error {
	return errors.Wrap(png.Encode(w, s.Image()), "render: encode png")
}

// paintImage scales the source into the object's box and rotates it about
// the box centre.
func paintImage(dst *image.RGBA, obj images.Object) {
	if obj.Source == nil || obj.Width <= 0 || obj.Height <= 0 {
		return
	}
	sb := obj.Source.Bounds()
	sx := obj.Width / float64(sb.Dx())
	sy := obj.Height / float64(sb.Dy())
	theta := obj.Rotation * math.Pi / 180
	cos, sin := math.Cos(theta), math.Sin(theta)
	cx := obj.X + obj.Width/2
	cy := obj.Y + obj.Height/2

	// src -> box-local (centred) -> rotated -> translated to centre
	ox := -obj.Width/2 - float64(sb.Min.X)*sx
	oy := -obj.Height/2 - float64(sb.Min.Y)*sy
	m := f64.Aff3{
		cos * sx, -sin * sy, cos*ox - sin*oy + cx,
		sin * sx, cos * sy, sin*ox + cos*oy + cy,
	}
	xdraw.BiLinear.Transform(dst, m, obj.Source, sb, xdraw.Over, nil)
}

func paintSelection(dst *image.RGBA, obj images.Object) {
	layers.StrokeRect(dst, obj.Bounds(), 2, selectionColor)
	layers.FillRect(dst, obj.ResizeHandle(), selectionColor)

	del := obj.DeleteButton()
	layers.FillRect(dst, del, deleteColor)
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(del.Min.X+7, del.Max.Y-6),
	}
	d.DrawString("x")
}
