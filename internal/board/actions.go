package board

import (
	"bytes"
	"context"
	"image"
	"io"

	"github.com/pkg/errors"

	"github.com/manpreetbhatti/classboard/internal/history"
	"github.com/manpreetbhatti/classboard/internal/images"
	"github.com/manpreetbhatti/classboard/internal/layers"
	"github.com/manpreetbhatti/classboard/internal/protocol"
)

// Undo reverts the last local action. It works regardless of draw
// permission. A history invalidated by a resize is reset to a fresh
// baseline and ErrDimensionMismatch is returned after a notice.
func (b *Whiteboard) Undo() error {
	var err error
	b.do(func() {
		w, h := b.layers.Size()
		before := b.images.Objects()
		var s history.Snapshot
		if s, err = b.history.Undo(w, h); err != nil {
			b.historyFailed(err)
			return
		}
		b.restore(s)
		b.announce(protocol.HistoryUndo, before)
	})
	return err
}

// Redo reapplies the last undone local action.
func (b *Whiteboard) Redo() error {
	var err error
	b.do(func() {
		w, h := b.layers.Size()
		before := b.images.Objects()
		var s history.Snapshot
		if s, err = b.history.Redo(w, h); err != nil {
			b.historyFailed(err)
			return
		}
		b.restore(s)
		b.announce(protocol.HistoryRedo, before)
	})
	return err
}

func (b *Whiteboard) historyFailed(err error) {
	if errors.Is(err, history.ErrDimensionMismatch) {
		b.history.Reset(b.capture("baseline"))
		b.notify(NoticeWarning, "The board was resized, so undo history was cleared")
	}
}

// announce broadcasts a completed undo/redo: the event itself, a full resync
// of the local layer and the image changes the restore made; callers hold mu.
func (b *Whiteboard) announce(action protocol.HistoryAction, before []images.Object) {
	b.dirty = true
	b.emit(protocol.HistoryEvent{Action: action})
	b.emitLayer()
	b.reconcileImages(before)
	b.scheduler.Schedule()
}

func (b *Whiteboard) emitLayer() {
	w, h := b.layers.Size()
	data, err := layers.EncodePNG(b.layers.Snapshot(b.identity))
	if err != nil {
		b.log.Error("board: encode layer", err)
		return
	}
	b.emit(protocol.StrokeLayer{PNG: data, Width: w, Height: h})
}

// reconcileImages tells peers about images a restore removed, moved or
// brought back. A returning id goes out under a new revision so peers that
// already saw its first add accept it again.
func (b *Whiteboard) reconcileImages(before []images.Object) {
	prior := make(map[string]images.Object, len(before))
	for _, o := range before {
		prior[o.ID] = o
	}
	after := make(map[string]images.Object)
	for _, o := range b.images.Objects() {
		after[o.ID] = o
	}
	for _, prev := range before {
		cur, ok := after[prev.ID]
		switch {
		case !ok:
			b.emit(protocol.ImageDelete{ID: prev.ID})
		case cur.X != prev.X || cur.Y != prev.Y || cur.Width != prev.Width ||
			cur.Height != prev.Height || cur.Rotation != prev.Rotation:
			b.emit(b.transformMessage(protocol.TransformGeneral, cur.ID))
		}
	}
	for _, cur := range b.images.Objects() {
		if _, ok := prior[cur.ID]; ok {
			continue
		}
		b.revs[cur.ID]++
		b.emit(b.addMessage(cur.ID))
	}
}

// addMessage describes a local image in viewport fractions; callers hold mu.
func (b *Whiteboard) addMessage(id string) protocol.ImageAdd {
	obj, _ := b.images.Get(id)
	fx, fy := b.viewport.Normalize(obj.X, obj.Y)
	fw, fh := b.viewport.Normalize(obj.Width, obj.Height)
	return protocol.ImageAdd{
		ID:       id,
		URL:      obj.URL,
		X:        fx,
		Y:        fy,
		W:        fw,
		H:        fh,
		Rotation: obj.Rotation,
		Rev:      b.revs[id],
	}
}

// Resize changes the viewport. Layers keep their top-left content; history
// entries of the old size become unusable.
func (b *Whiteboard) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return errors.Errorf("board: invalid viewport %dx%d", width, height)
	}
	b.do(func() {
		if width == b.viewport.Width && height == b.viewport.Height {
			return
		}
		b.viewport = protocol.Viewport{Width: width, Height: height}
		b.layers.ResizeAll(width, height)
		b.surface.Resize(width, height)
		b.scheduler.Schedule()
	})
	return nil
}

// requireDraw refuses explicit actions while view-only; callers hold mu.
func (b *Whiteboard) requireDraw(action string) error {
	if b.gate.CanDraw() {
		return nil
	}
	b.notify(NoticeError, "You don't have permission to "+action)
	return ErrPermission
}

// ClearBoard wipes the whole board for every participant.
func (b *Whiteboard) ClearBoard() error {
	var err error
	b.do(func() {
		if err = b.requireDraw("clear the board"); err != nil {
			return
		}
		b.clearAll()
		b.dirty = true
		b.emit(protocol.StrokeClearAll{})
		b.scheduler.Schedule()
	})
	return err
}

// ClearLayer wipes only the local author's strokes.
func (b *Whiteboard) ClearLayer() error {
	var err error
	b.do(func() {
		if err = b.requireDraw("clear your drawing"); err != nil {
			return
		}
		b.layers.Clear(b.identity)
		b.record("clear-layer")
		b.emit(protocol.StrokeClear{})
		b.scheduler.Schedule()
	})
	return err
}

func (b *Whiteboard) ClearAnnotations() error {
	var err error
	b.do(func() {
		if err = b.requireDraw("clear annotations"); err != nil {
			return
		}
		b.overlay.Clear()
		b.record("clear-annotations")
		b.emit(protocol.AnnotationClear{})
		b.scheduler.Schedule()
	})
	return err
}

// AddImage loads rawURL and places it, centred and scaled down when place
// is nil. The load happens without holding the board.
func (b *Whiteboard) AddImage(ctx context.Context, rawURL string, place *images.Placement) (string, error) {
	if !b.gate.CanDraw() {
		b.do(func() { b.requireDraw("add images") })
		return "", ErrPermission
	}
	if b.opts.Loader == nil {
		return "", errors.Wrap(ErrNoCollaborator, "image loader")
	}

	src, err := b.opts.Loader.Load(ctx, rawURL)
	if err != nil {
		b.do(func() { b.notify(NoticeError, "The image could not be loaded") })
		return "", err
	}

	id := b.opts.NewID()
	b.do(func() {
		p := images.DefaultPlacement(src.Bounds().Dx(), src.Bounds().Dy(), b.viewport.Width, b.viewport.Height)
		if place != nil {
			p = *place
		}
		b.images.Insert(images.Object{
			ID:       id,
			Source:   src,
			URL:      rawURL,
			X:        p.X,
			Y:        p.Y,
			Width:    p.Width,
			Height:   p.Height,
			Rotation: p.Rotation,
		})
		b.images.SetActive(id)
		b.record("image-add")

		b.emit(b.addMessage(id))
		b.scheduler.Schedule()
	})
	return id, nil
}

// Upload stores the file through the upload collaborator and adds the
// resulting image to the board.
func (b *Whiteboard) Upload(ctx context.Context, name string, r io.Reader) (string, error) {
	if !b.gate.CanDraw() {
		b.do(func() { b.requireDraw("upload images") })
		return "", ErrPermission
	}
	if b.opts.Uploader == nil {
		return "", errors.Wrap(ErrNoCollaborator, "uploader")
	}
	url, err := b.opts.Uploader.Upload(ctx, name, r)
	if err != nil {
		b.log.Warn("board: upload failed", name, err)
		b.do(func() { b.notify(NoticeError, "Upload failed") })
		return "", err
	}
	return b.AddImage(ctx, url, nil)
}

// Save persists the composed board. Success clears the unsaved flag.
func (b *Whiteboard) Save(ctx context.Context) error {
	var err error
	b.do(func() { err = b.requireDraw("save the board") })
	if err != nil {
		return err
	}
	if b.opts.Saver == nil {
		return errors.Wrap(ErrNoCollaborator, "snapshot saver")
	}

	var buf bytes.Buffer
	if err := b.ExportPNG(&buf); err != nil {
		return err
	}
	if err := b.opts.Saver.SaveSnapshot(ctx, buf.Bytes()); err != nil {
		b.log.Warn("board: save failed", err)
		b.do(func() { b.notify(NoticeError, "The board could not be saved") })
		return err
	}
	b.do(func() {
		b.dirty = false
		b.notify(NoticeInfo, "Board saved")
	})
	return nil
}

// LoadSnapshot draws a previously saved board into the local layer and
// shares it with every peer.
func (b *Whiteboard) LoadSnapshot(img image.Image) error {
	var err error
	b.do(func() {
		if err = b.requireDraw("load a snapshot"); err != nil {
			return
		}
		b.layers.Replace(b.identity, img)
		b.record("load-snapshot")
		b.emitLayer()
		b.scheduler.Schedule()
	})
	return err
}

// SetParticipantPermission grants or revokes a participant's right to draw.
// The permission authority is updated first; peers are told only on success.
func (b *Whiteboard) SetParticipantPermission(ctx context.Context, identity string, canDraw bool) error {
	if !b.opts.IsTeacher {
		return ErrNotTeacher
	}
	if b.opts.Permissions != nil && identity != protocol.TargetAll {
		if err := b.opts.Permissions.SetCanDraw(ctx, identity, canDraw); err != nil {
			b.log.Warn("board: permission update failed", identity, err)
			b.do(func() { b.notify(NoticeError, "Could not change drawing permission") })
			return err
		}
	}
	b.do(func() {
		b.emit(protocol.PermissionChange{Target: identity, CanDraw: canDraw})
	})
	return nil
}

// SetFeature toggles a session-wide feature such as chat.
func (b *Whiteboard) SetFeature(feature string, enabled bool) error {
	if !b.opts.IsTeacher {
		return ErrNotTeacher
	}
	b.do(func() {
		b.features[feature] = enabled
		b.emit(protocol.MetaToggle{Feature: feature, Enabled: enabled})
	})
	return nil
}
