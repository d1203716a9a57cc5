package board

import (
	"context"
	"image"
	"image/color"

	"github.com/manpreetbhatti/classboard/internal/annotations"
	"github.com/manpreetbhatti/classboard/internal/history"
	"github.com/manpreetbhatti/classboard/internal/images"
	"github.com/manpreetbhatti/classboard/internal/layers"
	"github.com/manpreetbhatti/classboard/internal/permission"
	"github.com/manpreetbhatti/classboard/internal/protocol"
)

// Used when a draw arrives for an author with no stroke in progress.
const (
	fallbackStrokeColor = "#000"
	fallbackStrokeWidth = 3
)

type remoteStroke struct {
	x, y  float64
	width float64
	color color.RGBA
}

// pendingImage is a remote add whose source is still loading. Transforms
// that arrive meanwhile are kept and applied once it lands.
type pendingImage struct {
	add       protocol.ImageAdd
	transform *protocol.ImageTransform
	cancel    context.CancelFunc
}

// Apply is called by the replicator with every inbound message that passed
// echo and duplicate filtering.
func (b *Whiteboard) Apply(author string, m protocol.Message) {
	b.do(func() { b.apply(author, m) })
}

func (b *Whiteboard) apply(author string, m protocol.Message) {
	switch v := m.(type) {
	case protocol.StrokeBegin:
		b.applyBegin(author, v)
	case protocol.StrokeDraw:
		b.applyDraw(author, v)
	case protocol.StrokeEnd:
		delete(b.remote, author)
		b.mirror(author).Push(b.layerSnapshot(author))
	case protocol.StrokeLayer:
		if author == b.identity {
			b.restoreOwnLayer(v)
		} else {
			b.applyLayer(author, v)
		}
	case protocol.StrokeClear:
		b.layers.Clear(author)
		delete(b.remote, author)
		b.mirror(author).Reset(b.layerSnapshot(author))
	case protocol.StrokeClearAll:
		b.clearAll()
		b.notify(NoticeInfo, "The board was cleared")

	case protocol.ImageAdd:
		b.applyImageAdd(v)
	case protocol.ImageTransform:
		b.applyTransform(v)
	case protocol.ImageDelete:
		b.cancelPending(v.ID)
		b.images.Delete(v.ID)
	case protocol.ImageClear, protocol.ImageClearAll:
		b.cancelAllPending()
		b.images.Clear()

	case protocol.HighlightAdd:
		x, y := b.viewport.Denormalize(v.X, v.Y)
		w, h := b.viewport.Denormalize(v.W, v.H)
		b.overlay.AddHighlight(annotations.Highlight{ID: v.ID, X: x, Y: y, W: w, H: h, Color: v.Color})
	case protocol.PinAdd:
		x, y := b.viewport.Denormalize(v.X, v.Y)
		b.overlay.AddPin(annotations.Pin{ID: v.ID, X: x, Y: y, Text: v.Text})
	case protocol.AnnotationClear:
		b.overlay.Clear()

	case protocol.PermissionChange:
		b.applyPermission(v)
	case protocol.HistoryEvent:
		b.applyHistory(author, v)
	case protocol.MetaToggle:
		b.features[v.Feature] = v.Enabled
		feature, enabled := v.Feature, v.Enabled
		b.out.effects = append(b.out.effects, func() { b.opts.View.FeatureChanged(feature, enabled) })
	case protocol.PresenceSync:
		if b.opts.IsTeacher {
			b.schedulePresenceSync(v.Identities)
		}
		return
	default:
		b.log.Debug("board: ignoring message", m.Topic(), m.Type())
		return
	}
	b.scheduler.Schedule()
}

func (b *Whiteboard) applyBegin(author string, v protocol.StrokeBegin) {
	c := layers.Background
	if !v.Erase {
		parsed, err := layers.ParseColor(v.Color)
		if err != nil {
			b.log.Warn("board: bad stroke colour", author, err)
			parsed = layers.MustParseColor(fallbackStrokeColor)
		}
		c = parsed
	}
	width := v.Width
	if width <= 0 {
		width = fallbackStrokeWidth
	}
	b.mirror(author)

	x, y := b.viewport.Denormalize(v.X, v.Y)
	layers.DrawSegment(b.layers.GetOrCreate(author), x, y, x, y, width, c)
	b.remote[author] = &remoteStroke{x: x, y: y, width: width, color: c}
}

func (b *Whiteboard) applyDraw(author string, v protocol.StrokeDraw) {
	x, y := b.viewport.Denormalize(v.X, v.Y)
	rs, ok := b.remote[author]
	if !ok {
		b.mirror(author)
		rs = &remoteStroke{x: x, y: y, width: fallbackStrokeWidth, color: layers.MustParseColor(fallbackStrokeColor)}
		b.remote[author] = rs
	}
	layers.DrawSegment(b.layers.GetOrCreate(author), rs.x, rs.y, x, y, rs.width, rs.color)
	rs.x, rs.y = x, y
}

// applyLayer replaces a remote author's layer wholesale.
func (b *Whiteboard) applyLayer(author string, v protocol.StrokeLayer) {
	img, err := layers.DecodePNG(v.PNG)
	if err != nil {
		b.log.Warn("board: bad layer image", author, err)
		return
	}
	b.layers.Replace(author, img)
	delete(b.remote, author)
	b.mirror(author).Reset(b.layerSnapshot(author))
}

// restoreOwnLayer takes back this identity's layer from a replayed resync,
// as after a reload, and makes it the new undo baseline.
func (b *Whiteboard) restoreOwnLayer(v protocol.StrokeLayer) {
	img, err := layers.DecodePNG(v.PNG)
	if err != nil {
		b.log.Warn("board: bad layer image", b.identity, err)
		return
	}
	b.layers.Replace(b.identity, img)
	b.history.Reset(b.capture("resync"))
	b.lastAmendKey = ""
}

// mirror returns the history kept for a remote author's layer, creating it
// with the layer's current content as the baseline.
func (b *Whiteboard) mirror(author string) *history.Engine {
	e, ok := b.mirrors[author]
	if !ok {
		e = history.NewEngine(b.opts.HistoryCapacity)
		e.Reset(b.layerSnapshot(author))
		b.mirrors[author] = e
	}
	return e
}

func (b *Whiteboard) layerSnapshot(author string) history.Snapshot {
	w, h := b.layers.Size()
	return history.Snapshot{Width: w, Height: h, Pixels: b.layers.Pixels(author), Reason: author}
}

// applyHistory replays a remote author's undo or redo against their mirror.
// The full layer resync that follows corrects any divergence.
func (b *Whiteboard) applyHistory(author string, v protocol.HistoryEvent) {
	e := b.mirror(author)
	w, h := b.layers.Size()

	var (
		s   history.Snapshot
		err error
	)
	switch v.Action {
	case protocol.HistoryUndo:
		s, err = e.Undo(w, h)
	case protocol.HistoryRedo:
		s, err = e.Redo(w, h)
	default:
		return
	}
	if err == history.ErrDimensionMismatch {
		e.Reset(b.layerSnapshot(author))
		return
	}
	if err != nil {
		return
	}
	if err := b.layers.SetPixels(author, s.Pixels); err != nil {
		b.log.Warn("board: mirror restore failed", author, err)
	}
}

func (b *Whiteboard) applyPermission(v protocol.PermissionChange) {
	if b.opts.IsTeacher || !v.Applies(b.identity) {
		return
	}
	if b.gate.Set(permission.FromBool(v.CanDraw)) {
		if v.CanDraw {
			b.notify(NoticeInfo, "You can draw now")
		} else {
			b.notify(NoticeWarning, "Drawing was disabled by the teacher")
		}
	}
}

func (b *Whiteboard) applyImageAdd(v protocol.ImageAdd) {
	if v.Rev > b.revs[v.ID] {
		b.revs[v.ID] = v.Rev
	}
	if _, ok := b.images.Get(v.ID); ok {
		return
	}
	if _, ok := b.pending[v.ID]; ok {
		return
	}
	if b.opts.Loader == nil {
		b.log.Warn("board: no image loader, dropping add", v.ID)
		return
	}

	ctx, cancel := context.WithCancel(b.ctx)
	b.pending[v.ID] = &pendingImage{add: v, cancel: cancel}
	loader := b.opts.Loader
	started := b.goAsync(func(context.Context) {
		defer cancel()
		src, err := loader.Load(ctx, v.URL)
		b.do(func() { b.landImage(v.ID, src, err) })
	})
	if !started {
		b.cancelPending(v.ID)
	}
}

// landImage inserts a finished remote load unless it was cancelled meanwhile.
func (b *Whiteboard) landImage(id string, src image.Image, err error) {
	p, ok := b.pending[id]
	if !ok {
		return
	}
	delete(b.pending, id)
	if err != nil {
		b.log.Warn("board: remote image failed to load", id, err)
		b.notify(NoticeError, "An image could not be loaded")
		return
	}

	geom := p.add
	x, y := b.viewport.Denormalize(geom.X, geom.Y)
	w, h := b.viewport.Denormalize(geom.W, geom.H)
	b.images.Insert(images.Object{
		ID:       id,
		Source:   src,
		URL:      geom.URL,
		X:        x,
		Y:        y,
		Width:    w,
		Height:   h,
		Rotation: geom.Rotation,
	})
	if p.transform != nil {
		b.applyTransform(*p.transform)
	}
	b.scheduler.Schedule()
}

func (b *Whiteboard) applyTransform(v protocol.ImageTransform) {
	if p, ok := b.pending[v.ID]; ok {
		p.transform = &v
		return
	}
	x, y := b.viewport.Denormalize(v.X, v.Y)
	w, h := b.viewport.Denormalize(v.W, v.H)
	b.images.SetGeometry(v.ID, x, y, w, h, v.Rotation)
}

func (b *Whiteboard) cancelPending(id string) {
	if p, ok := b.pending[id]; ok {
		p.cancel()
		delete(b.pending, id)
	}
}

func (b *Whiteboard) cancelAllPending() {
	for id := range b.pending {
		b.cancelPending(id)
	}
}

// clearAll wipes every layer, image and annotation and restarts history
// from the empty board; callers hold mu.
func (b *Whiteboard) clearAll() {
	b.input.gesture = gestureNone
	b.stopTrailing()
	b.cancelAllPending()
	b.layers.ClearAll()
	b.images.Clear()
	b.overlay.Clear()
	b.remote = make(map[string]*remoteStroke)
	b.mirrors = make(map[string]*history.Engine)
	b.history.Reset(b.capture("clear"))
	b.lastAmendKey = ""
}
