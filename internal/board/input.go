package board

import (
	"context"
	"image"
	"math"
	"time"

	"github.com/manpreetbhatti/classboard/internal/annotations"
	"github.com/manpreetbhatti/classboard/internal/images"
	"github.com/manpreetbhatti/classboard/internal/layers"
	"github.com/manpreetbhatti/classboard/internal/permission"
	"github.com/manpreetbhatti/classboard/internal/protocol"
)

// Highlights smaller than this on either side are discarded.
const minHighlightSide = 2

type gesture int

const (
	gestureNone gesture = iota
	gestureStroke
	gestureDrag
	gestureResize
	gestureHighlight
)

type inputState struct {
	tool    Tool
	color   string
	width   float64
	pinText string

	gesture gesture
	start   permission.Pointer
	last    permission.Pointer
	dragID  string
	erase   bool
}

// preview returns the painter for a highlight being dragged out.
func (s inputState) preview() (highlightPreview, bool) {
	if s.gesture != gestureHighlight {
		return highlightPreview{}, false
	}
	return highlightPreview{rect: pointerRect(s.start, s.last)}, true
}

type highlightPreview struct {
	rect image.Rectangle
}

var previewColor = layers.MustParseColor(annotations.DefaultHighlightColor)

func (p highlightPreview) Paint(dst *image.RGBA) {
	layers.FillRect(dst, p.rect, previewColor)
}

func pointerRect(a, b permission.Pointer) image.Rectangle {
	return image.Rect(int(a.X), int(a.Y), int(b.X), int(b.Y)).Canon()
}

func (b *Whiteboard) SetTool(t Tool) {
	b.do(func() { b.input.tool = t })
}

func (b *Whiteboard) SetColor(c string) error {
	if _, err := layers.ParseColor(c); err != nil {
		return err
	}
	b.do(func() { b.input.color = c })
	return nil
}

func (b *Whiteboard) SetWidth(w float64) {
	if w <= 0 {
		return
	}
	b.do(func() { b.input.width = w })
}

// SetPinText sets the label used for the next pins placed.
func (b *Whiteboard) SetPinText(text string) {
	b.do(func() { b.input.pinText = text })
}

// Pointer and keyboard entry points. They dispatch to whichever handler set
// the permission gate currently has bound.

func (b *Whiteboard) PointerDown(x, y float64) {
	b.do(func() { b.gate.Active().PointerDown(permission.Pointer{X: x, Y: y}) })
}

func (b *Whiteboard) PointerMove(x, y float64) {
	b.do(func() { b.gate.Active().PointerMove(permission.Pointer{X: x, Y: y}) })
}

func (b *Whiteboard) PointerUp(x, y float64) {
	b.do(func() { b.gate.Active().PointerUp(permission.Pointer{X: x, Y: y}) })
}

func (b *Whiteboard) Wheel(x, y, deltaY float64, shift bool) {
	b.do(func() { b.gate.Active().Wheel(permission.Pointer{X: x, Y: y}, deltaY, shift) })
}

func (b *Whiteboard) KeyDown(key string) {
	b.do(func() { b.gate.Active().KeyDown(key) })
}

// drawInput is bound while drawing is permitted.
type drawInput struct {
	b *Whiteboard
}

func (h drawInput) PointerDown(p permission.Pointer) {
	b := h.b
	in := &b.input
	if in.gesture != gestureNone {
		return
	}

	if in.tool == ToolPin {
		b.placePin(p)
		return
	}

	obj, ctl := b.images.HitControl(p.X, p.Y)
	switch ctl {
	case images.ControlDelete:
		b.deleteImage(obj.ID)
		return
	case images.ControlResize:
		in.gesture, in.dragID, in.start, in.last = gestureResize, obj.ID, p, p
		b.scheduler.Schedule()
		return
	case images.ControlBody:
		b.images.SetActive(obj.ID)
		b.images.BringToFront(obj.ID)
		in.gesture, in.dragID, in.start, in.last = gestureDrag, obj.ID, p, p
		b.scheduler.Schedule()
		return
	}

	if b.images.ActiveID() != "" {
		b.images.SetActive("")
		b.scheduler.Schedule()
	}

	switch in.tool {
	case ToolSelect:
	case ToolHighlight:
		in.gesture, in.start, in.last = gestureHighlight, p, p
	default:
		b.beginStroke(p)
	}
}

func (h drawInput) PointerMove(p permission.Pointer) {
	h.b.continueGesture(p)
}

func (h drawInput) PointerUp(p permission.Pointer) {
	h.b.endGesture(p)
}

func (h drawInput) Wheel(p permission.Pointer, deltaY float64, shift bool) {
	b := h.b
	if !shift || deltaY == 0 {
		return
	}
	obj, ok := b.images.Active()
	if !ok {
		if obj, ok = b.images.HitTest(p.X, p.Y); !ok {
			return
		}
		b.images.SetActive(obj.ID)
	}
	b.images.Rotate(obj.ID, deltaY*images.WheelRotateFactor)
	b.amend("rotate:" + obj.ID)
	b.emitTransformThrottled(protocol.TransformRotate, obj.ID)
	b.scheduler.Schedule()
}

func (h drawInput) KeyDown(key string) {
	switch key {
	case "Delete", "Backspace":
		if id := h.b.images.ActiveID(); id != "" {
			h.b.deleteImage(id)
		}
	}
}

// viewInput is bound while view-only. A gesture that started before the
// revoke is allowed to finish; nothing new can start.
type viewInput struct {
	b *Whiteboard
}

func (viewInput) PointerDown(permission.Pointer)          {}
func (viewInput) Wheel(permission.Pointer, float64, bool) {}
func (viewInput) KeyDown(string)                          {}

func (h viewInput) PointerMove(p permission.Pointer) {
	h.b.continueGesture(p)
}

func (h viewInput) PointerUp(p permission.Pointer) {
	h.b.endGesture(p)
}

// Gesture helpers; callers hold mu.

func (b *Whiteboard) strokeColor() string {
	if b.input.erase {
		return "#fff"
	}
	return b.input.color
}

func (b *Whiteboard) beginStroke(p permission.Pointer) {
	in := &b.input
	in.gesture, in.start, in.last = gestureStroke, p, p
	in.erase = in.tool == ToolEraser

	c := layers.Background
	if !in.erase {
		c = layers.MustParseColor(in.color)
	}
	layers.DrawSegment(b.layers.GetOrCreate(b.identity), p.X, p.Y, p.X, p.Y, in.width, c)

	fx, fy := b.viewport.Normalize(p.X, p.Y)
	b.emit(protocol.StrokeBegin{X: fx, Y: fy, Color: b.strokeColor(), Width: in.width, Erase: in.erase})
	b.scheduler.Schedule()
}

func (b *Whiteboard) extendStroke(p permission.Pointer) {
	in := &b.input
	c := layers.Background
	if !in.erase {
		c = layers.MustParseColor(in.color)
	}
	layers.DrawSegment(b.layers.GetOrCreate(b.identity), in.last.X, in.last.Y, p.X, p.Y, in.width, c)
	in.last = p

	fx, fy := b.viewport.Normalize(p.X, p.Y)
	b.emit(protocol.StrokeDraw{X: fx, Y: fy})
}

func (b *Whiteboard) continueGesture(p permission.Pointer) {
	in := &b.input
	switch in.gesture {
	case gestureStroke:
		b.extendStroke(p)
	case gestureDrag:
		b.images.Move(in.dragID, p.X-in.last.X, p.Y-in.last.Y)
		in.last = p
		b.emitTransformThrottled(protocol.TransformMove, in.dragID)
	case gestureResize:
		obj, ok := b.images.Get(in.dragID)
		if !ok {
			in.gesture = gestureNone
			return
		}
		b.images.Resize(in.dragID, p.X-obj.X, p.Y-obj.Y)
		in.last = p
		b.emitTransformThrottled(protocol.TransformResize, in.dragID)
	case gestureHighlight:
		in.last = p
	default:
		return
	}
	b.scheduler.Schedule()
}

func (b *Whiteboard) endGesture(p permission.Pointer) {
	in := &b.input
	g := in.gesture
	in.gesture = gestureNone

	switch g {
	case gestureStroke:
		if p != in.last {
			b.extendStroke(p)
		}
		b.emit(protocol.StrokeEnd{})
		b.record("stroke")
		b.recordActivity()
	case gestureDrag, gestureResize:
		kind := protocol.TransformMove
		if g == gestureResize {
			kind = protocol.TransformResize
		}
		b.flushTrailing()
		if _, ok := b.images.Get(in.dragID); ok {
			b.emit(b.transformMessage(kind, in.dragID))
			b.record(string(kind))
		}
		in.dragID = ""
	case gestureHighlight:
		in.last = p
		b.addHighlight(pointerRect(in.start, p))
	default:
		return
	}
	b.scheduler.Schedule()
}

func (b *Whiteboard) addHighlight(r image.Rectangle) {
	if r.Dx() < minHighlightSide || r.Dy() < minHighlightSide {
		return
	}
	hl := annotations.Highlight{
		ID:    b.opts.NewID(),
		X:     float64(r.Min.X),
		Y:     float64(r.Min.Y),
		W:     float64(r.Dx()),
		H:     float64(r.Dy()),
		Color: annotations.DefaultHighlightColor,
	}
	b.overlay.AddHighlight(hl)
	b.record("highlight")

	fx, fy := b.viewport.Normalize(hl.X, hl.Y)
	fw, fh := b.viewport.Normalize(hl.W, hl.H)
	b.emit(protocol.HighlightAdd{ID: hl.ID, X: fx, Y: fy, W: fw, H: fh, Color: hl.Color})
}

func (b *Whiteboard) placePin(p permission.Pointer) {
	pin := annotations.Pin{ID: b.opts.NewID(), X: p.X, Y: p.Y, Text: b.input.pinText}
	b.overlay.AddPin(pin)
	b.record("pin")

	fx, fy := b.viewport.Normalize(pin.X, pin.Y)
	b.emit(protocol.PinAdd{ID: pin.ID, X: fx, Y: fy, Text: pin.Text})
	b.scheduler.Schedule()
}

func (b *Whiteboard) deleteImage(id string) {
	if !b.images.Delete(id) {
		return
	}
	if b.trailing != nil && b.trailing.ID == id {
		b.stopTrailing()
	}
	b.record("image-delete")
	b.emit(protocol.ImageDelete{ID: id})
	b.scheduler.Schedule()
}

// transformMessage describes the current geometry of id in normalized form.
func (b *Whiteboard) transformMessage(kind protocol.TransformKind, id string) protocol.ImageTransform {
	obj, _ := b.images.Get(id)
	fx, fy := b.viewport.Normalize(obj.X, obj.Y)
	fw, fh := b.viewport.Normalize(obj.Width, obj.Height)
	return protocol.ImageTransform{
		Kind:     kind,
		ID:       id,
		X:        fx,
		Y:        fy,
		W:        fw,
		H:        fh,
		Rotation: math.Mod(obj.Rotation, 360),
	}
}

// emitTransformThrottled sends at most one transform per drag interval and
// schedules a trailing send so the final geometry is never lost.
func (b *Whiteboard) emitTransformThrottled(kind protocol.TransformKind, id string) {
	ok, wait := b.throttle.Allow()
	if ok {
		b.stopTrailing()
		b.emit(b.transformMessage(kind, id))
		return
	}
	if b.trailingTimer == nil {
		b.trailingTimer = time.AfterFunc(wait, func() {
			b.do(b.flushTrailing)
		})
	}
	m := b.transformMessage(kind, id)
	b.trailing = &m
}

// flushTrailing emits the pending trailing transform, if any.
func (b *Whiteboard) flushTrailing() {
	pending := b.trailing
	b.stopTrailing()
	if pending == nil {
		return
	}
	if _, ok := b.images.Get(pending.ID); !ok {
		return
	}
	b.emit(b.transformMessage(pending.Kind, pending.ID))
}

func (b *Whiteboard) stopTrailing() {
	if b.trailingTimer != nil {
		b.trailingTimer.Stop()
		b.trailingTimer = nil
	}
	b.trailing = nil
}

// recordActivity reports a completed stroke off the lock.
func (b *Whiteboard) recordActivity() {
	rec := b.opts.Activity
	if rec == nil {
		return
	}
	b.goAsync(func(ctx context.Context) {
		if err := rec.RecordStroke(ctx, b.identity); err != nil {
			b.log.Warn("board: record stroke failed", err)
		}
	})
}
