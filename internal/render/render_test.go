package render

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manpreetbhatti/classboard/internal/images"
	"github.com/manpreetbhatti/classboard/internal/layers"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	layers.FillRect(img, img.Bounds(), c)
	return img
}

func TestRedrawPaintOrder(t *testing.T) {
	s := NewSurface(100, 100)
	red := color.RGBA{R: 0xff, A: 0xff}
	blue := color.RGBA{B: 0xff, A: 0xff}

	stroke := image.NewRGBA(image.Rect(0, 0, 100, 100))
	layers.DrawSegment(stroke, 0, 50, 100, 50, 4, blue)

	s.Redraw(Frame{
		Images: []images.Object{{ID: "a", Source: solid(10, 10, red), X: 20, Y: 20, Width: 60, Height: 60}},
		Layers: []*image.RGBA{stroke},
	})
	out := s.Image()

	assert.Equal(t, layers.Background, out.RGBAAt(5, 5))
	assert.Equal(t, red, out.RGBAAt(30, 30))
	assert.Equal(t, blue, out.RGBAAt(50, 50), "strokes sit above images")
}

func TestLaterLayerWinsOnOverlap(t *testing.T) {
	s := NewSurface(10, 10)
	a := solid(10, 10, color.RGBA{R: 0xff, A: 0xff})
	b := solid(10, 10, color.RGBA{G: 0xff, A: 0xff})

	s.Redraw(Frame{Layers: []*image.RGBA{a, b}})
	assert.Equal(t, color.RGBA{G: 0xff, A: 0xff}, s.Image().RGBAAt(5, 5))
}

func TestRotatedImageStaysCentred(t *testing.T) {
	s := NewSurface(100, 100)
	red := color.RGBA{R: 0xff, A: 0xff}

	s.Redraw(Frame{Images: []images.Object{{
		ID: "r", Source: solid(40, 10, red), X: 30, Y: 45, Width: 40, Height: 10, Rotation: 90,
	}}})
	out := s.Image()

	assert.Equal(t, red, out.RGBAAt(50, 35), "rotated 90 degrees the bar is vertical")
	assert.Equal(t, layers.Background, out.RGBAAt(35, 50))
}

func TestSelectionAffordances(t *testing.T) {
	s := NewSurface(200, 200)
	obj := images.Object{ID: "a", X: 50, Y: 50, Width: 100, Height: 100}

	s.Redraw(Frame{Selection: &obj})
	out := s.Image()

	assert.Equal(t, selectionColor, out.RGBAAt(140, 140), "resize handle")
	assert.Equal(t, deleteColor, out.RGBAAt(130, 30), "delete button")
	assert.Equal(t, selectionColor, out.RGBAAt(50, 100), "border")
}

func TestEncodePNG(t *testing.T) {
	s := NewSurface(8, 6)
	s.Redraw(Frame{})

	var buf bytes.Buffer
	require.NoError(t, s.EncodePNG(&buf))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 6), img.Bounds())
}

func TestSchedulerCoalesces(t *testing.T) {
	draws := 0
	sch := NewScheduler(time.Hour, func() { draws++ })

	sch.Flush()
	assert.Equal(t, 0, draws)

	for i := 0; i < 100; i++ {
		sch.Schedule()
	}
	sch.Flush()
	sch.Flush()
	assert.Equal(t, 1, draws)
	assert.Equal(t, int64(1), sch.Frames())
}

func TestSchedulerRun(t *testing.T) {
	done := make(chan struct{}, 1)
	sch := NewScheduler(time.Millisecond, func() {
		select {
		case done <- struct{}{}:
		default:
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sch.Run(ctx)

	sch.Schedule()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled redraw never ran")
	}
	assert.False(t, sch.Pending())
}
