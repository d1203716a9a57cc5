package annotations

import (
	"image"
	"image/color"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/manpreetbhatti/classboard/internal/layers"
)

const (
	DefaultHighlightColor = "rgba(255,235,59,0.35)"
	PinRadius             = 8
)

var (
	highlightBorder = layers.MustParseColor("rgba(255,193,7,0.9)")
	pinFill         = layers.MustParseColor("#e53935")
	pinBorder       = layers.MustParseColor("#b71c1c")
	pinText         = layers.MustParseColor("#1b1b1b")
)

type Highlight struct {
	ID    string
	X     float64
	Y     float64
	W     float64
	H     float64
	Color string
}

type Pin struct {
	ID   string
	X    float64
	Y    float64
	Text string
}

// State is the copyable content of the overlay.
type State struct {
	Highlights []Highlight
	Pins       []Pin
}

func (s State) Clone() State {
	return State{
		Highlights: append([]Highlight(nil), s.Highlights...),
		Pins:       append([]Pin(nil), s.Pins...),
	}
}

func (s State) Len() int {
	return len(s.Highlights) + len(s.Pins)
}

// Overlay holds highlights and pins drawn above strokes.
type Overlay struct {
	state State
	mu    sync.RWMutex
}

func NewOverlay() *Overlay {
	return &Overlay{}
}

func (o *Overlay) GetState() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.Clone()
}

func (o *Overlay) RestoreState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = s.Clone()
}

func (o *Overlay) has(id string) bool {
	for _, h := range o.state.Highlights {
		if h.ID == id {
			return true
		}
	}
	for _, p := range o.state.Pins {
		if p.ID == id {
			return true
		}
	}
	return false
}

// AddHighlight reports false when an annotation with that id exists.
func (o *Overlay) AddHighlight(h Highlight) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.has(h.ID) {
		return false
	}
	if h.Color == "" {
		h.Color = DefaultHighlightColor
	}
	o.state.Highlights = append(o.state.Highlights, h)
	return true
}

func (o *Overlay) AddPin(p Pin) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.has(p.ID) {
		return false
	}
	o.state.Pins = append(o.state.Pins, p)
	return true
}

func (o *Overlay) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = State{}
}

// Paint draws highlights first, then pins with their labels.
func (o *Overlay) Paint(dst *image.RGBA) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	for _, h := range o.state.Highlights {
		fill, err := layers.ParseColor(h.Color)
		if err != nil {
			fill = layers.MustParseColor(DefaultHighlightColor)
		}
		r := image.Rect(int(h.X), int(h.Y), int(h.X+h.W), int(h.Y+h.H))
		layers.FillRect(dst, r, fill)
		layers.StrokeRect(dst, r, 2, highlightBorder)
	}

	for _, p := range o.state.Pins {
		layers.FillCircle(dst, p.X, p.Y, PinRadius+1, pinBorder)
		layers.FillCircle(dst, p.X, p.Y, PinRadius-1, pinFill)
		if p.Text != "" {
			drawLabel(dst, int(p.X)+12, int(p.Y)+4, p.Text, pinText)
		}
	}
}

func drawLabel(dst *image.RGBA, x, y int, text string, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
