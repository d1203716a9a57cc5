// Package board is the replicated whiteboard: per-author stroke layers, the
// image table and annotation overlay, local undo history, permission-gated
// input and the reconciliation of local and remote edits.
package board

import (
	"context"
	"image"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/manpreetbhatti/classboard/internal/annotations"
	"github.com/manpreetbhatti/classboard/internal/history"
	"github.com/manpreetbhatti/classboard/internal/images"
	"github.com/manpreetbhatti/classboard/internal/layers"
	"github.com/manpreetbhatti/classboard/internal/logger"
	"github.com/manpreetbhatti/classboard/internal/permission"
	"github.com/manpreetbhatti/classboard/internal/protocol"
	"github.com/manpreetbhatti/classboard/internal/ratelimit"
	"github.com/manpreetbhatti/classboard/internal/render"
	"github.com/manpreetbhatti/classboard/internal/replication"
)

var (
	ErrPermission     = errors.New("board: drawing is not permitted")
	ErrNotTeacher     = errors.New("board: only the session owner may do this")
	ErrNoCollaborator = errors.New("board: collaborator not configured")
	ErrNotJoined      = errors.New("board: not joined")
)

type Options struct {
	Identity  string
	IsTeacher bool
	CanDraw   bool
	Width     int
	Height    int

	HistoryCapacity  int
	DragEmitInterval time.Duration
	FrameInterval    time.Duration
	PresenceDebounce time.Duration

	Transport   replication.Transport
	Loader      images.Loader
	Uploader    Uploader
	Saver       SnapshotSaver
	Permissions PermissionAuthority
	Presence    PresenceSyncer
	Activity    ActivityRecorder
	View        View
	Logger      logger.Logger

	// Defaults to uuid.NewString
	NewID func() string
}

func (o *Options) setDefaults() {
	if o.HistoryCapacity <= 0 {
		o.HistoryCapacity = history.DefaultCapacity
	}
	if o.DragEmitInterval <= 0 {
		o.DragEmitInterval = 80 * time.Millisecond
	}
	if o.FrameInterval <= 0 {
		o.FrameInterval = 16 * time.Millisecond
	}
	if o.PresenceDebounce <= 0 {
		o.PresenceDebounce = 1200 * time.Millisecond
	}
	if o.View == nil {
		o.View = NopView{}
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.IsTeacher {
		o.CanDraw = true
	}
}

// Whiteboard is one participant's replica of the shared board. Every
// mutation runs to completion under mu; outbound messages and view callbacks
// are queued during the mutation and delivered after mu is released.
type Whiteboard struct {
	opts     Options
	identity string
	log      logger.Logger

	viewport protocol.Viewport
	layers   *layers.Store
	images   *images.Table
	overlay  *annotations.Overlay
	history  *history.Engine
	mirrors  map[string]*history.Engine
	gate     *permission.Gate

	surface   *render.Surface
	scheduler *render.Scheduler
	repl      *replication.Replicator
	throttle  *ratelimit.Throttle

	input    inputState
	remote   map[string]*remoteStroke
	pending  map[string]*pendingImage
	revs     map[string]int
	features map[string]bool
	dirty    bool

	lastAmendKey  string
	trailing      *protocol.ImageTransform
	trailingTimer *time.Timer
	presenceTimer *time.Timer

	out    outbox
	mu     sync.RWMutex
	sendMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	loops  sync.WaitGroup
	tasks  sync.WaitGroup
	joined bool

	// taskMu orders tasks.Add against the Wait in Leave.
	taskMu  sync.Mutex
	closing bool
}

type outbox struct {
	sends   []protocol.Message
	effects []func()
}

func New(opts Options) (*Whiteboard, error) {
	if opts.Identity == "" {
		return nil, errors.New("board: identity is required")
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, errors.Errorf("board: invalid viewport %dx%d", opts.Width, opts.Height)
	}
	if opts.Transport == nil {
		return nil, errors.Wrap(ErrNoCollaborator, "transport")
	}
	opts.setDefaults()

	b := &Whiteboard{
		opts:     opts,
		identity: opts.Identity,
		log:      opts.Logger,
		viewport: protocol.Viewport{Width: opts.Width, Height: opts.Height},
		layers:   layers.NewStore(opts.Width, opts.Height),
		images:   images.NewTable(),
		overlay:  annotations.NewOverlay(),
		history:  history.NewEngine(opts.HistoryCapacity),
		mirrors:  make(map[string]*history.Engine),
		gate:     permission.NewGate(permission.FromBool(opts.CanDraw)),
		surface:  render.NewSurface(opts.Width, opts.Height),
		throttle: ratelimit.NewThrottle(opts.DragEmitInterval),
		remote:   make(map[string]*remoteStroke),
		pending:  make(map[string]*pendingImage),
		revs:     make(map[string]int),
		features: make(map[string]bool),
		input:    inputState{tool: ToolPen, color: "#000", width: 3},
	}
	b.scheduler = render.NewScheduler(opts.FrameInterval, b.redraw)
	b.repl = replication.New(opts.Identity, opts.Transport, b, opts.Logger)

	b.gate.Register(permission.DrawEnabled, drawInput{b})
	b.gate.Register(permission.ViewOnly, viewInput{b})
	b.gate.OnChange(func(s permission.State) {
		canDraw := s == permission.DrawEnabled
		b.out.effects = append(b.out.effects, func() { b.opts.View.PermissionChanged(canDraw) })
	})

	b.layers.GetOrCreate(b.identity)
	b.ctx, b.cancel = context.WithCancel(context.Background())
	return b, nil
}

// Join subscribes to the session topics, records the baseline snapshot and
// starts the redraw loop.
func (b *Whiteboard) Join(ctx context.Context) error {
	b.mu.Lock()
	if b.joined {
		b.mu.Unlock()
		return nil
	}
	b.joined = true
	b.history.Reset(b.capture("baseline"))
	b.mu.Unlock()

	if err := b.repl.Start(); err != nil {
		return err
	}

	b.loops.Add(1)
	go func() {
		defer b.loops.Done()
		b.scheduler.Run(b.ctx)
	}()
	b.scheduler.Schedule()

	if b.opts.IsTeacher {
		present := b.repl.Present()
		b.do(func() { b.schedulePresenceSync(present) })
	}
	b.log.Info("board: joined", map[string]interface{}{"identity": b.identity, "teacher": b.opts.IsTeacher})
	return nil
}

// Leave stops background work. A teacher additionally revokes every
// participant's draw permission, best-effort.
func (b *Whiteboard) Leave(ctx context.Context) {
	b.mu.Lock()
	if !b.joined {
		b.mu.Unlock()
		return
	}
	b.joined = false
	if b.presenceTimer != nil {
		b.presenceTimer.Stop()
	}
	if b.trailingTimer != nil {
		b.trailingTimer.Stop()
	}
	b.mu.Unlock()

	if b.opts.IsTeacher {
		if b.opts.Presence != nil {
			if _, err := b.opts.Presence.SyncPresence(ctx, nil); err != nil {
				b.log.Warn("board: revoke on leave failed", err)
			}
		}
		b.do(func() {
			b.emit(protocol.PermissionChange{Target: protocol.TargetAll, CanDraw: false})
		})
	}

	b.taskMu.Lock()
	b.closing = true
	b.taskMu.Unlock()

	b.cancel()
	b.loops.Wait()
	b.tasks.Wait()
	b.log.Info("board: left", b.identity)
}

// Wait blocks until background image loads and collaborator calls finish.
func (b *Whiteboard) Wait() {
	b.tasks.Wait()
}

// do runs fn under the board lock, then sends queued messages in order and
// runs queued effects.
func (b *Whiteboard) do(fn func()) {
	b.mu.Lock()
	fn()
	out := b.out
	b.out = outbox{}
	if len(out.sends) == 0 {
		b.mu.Unlock()
	} else {
		b.sendMu.Lock()
		b.mu.Unlock()
		for _, m := range out.sends {
			if err := b.repl.Broadcast(m); err != nil {
				b.log.Warn("board: broadcast failed", err)
			}
		}
		b.sendMu.Unlock()
	}
	for _, effect := range out.effects {
		effect()
	}
}

// emit queues m for broadcast; callers hold mu.
func (b *Whiteboard) emit(m protocol.Message) {
	b.out.sends = append(b.out.sends, m)
}

// notify queues a view notice; callers hold mu.
func (b *Whiteboard) notify(level NoticeLevel, text string) {
	n := Notice{Level: level, Text: text}
	b.out.effects = append(b.out.effects, func() { b.opts.View.Notify(n) })
}

// goAsync runs fn on a tracked goroutine. It reports false, without
// running fn, once Leave has started.
func (b *Whiteboard) goAsync(fn func(ctx context.Context)) bool {
	b.taskMu.Lock()
	if b.closing {
		b.taskMu.Unlock()
		return false
	}
	b.tasks.Add(1)
	b.taskMu.Unlock()

	go func() {
		defer b.tasks.Done()
		fn(b.ctx)
	}()
	return true
}

// capture snapshots the local author's state; callers hold mu.
func (b *Whiteboard) capture(reason string) history.Snapshot {
	w, h := b.layers.Size()
	return history.Snapshot{
		Width:       w,
		Height:      h,
		Pixels:      b.layers.Pixels(b.identity),
		Images:      b.images.Objects(),
		ActiveID:    b.images.ActiveID(),
		Annotations: b.overlay.GetState(),
		Reason:      reason,
	}
}

// record pushes a history entry for a completed local action; callers hold mu.
func (b *Whiteboard) record(reason string) {
	b.history.Push(b.capture(reason))
	b.lastAmendKey = ""
	b.dirty = true
}

// amend records a continuous action under key, reusing the top entry while
// the same key repeats; callers hold mu.
func (b *Whiteboard) amend(key string) {
	if b.lastAmendKey == key {
		b.history.Amend(b.capture(key))
	} else {
		b.history.Push(b.capture(key))
		b.lastAmendKey = key
	}
	b.dirty = true
}

// restore applies a snapshot to the local state; callers hold mu.
func (b *Whiteboard) restore(s history.Snapshot) {
	if err := b.layers.SetPixels(b.identity, s.Pixels); err != nil {
		b.log.Error("board: restore pixels", err)
	}
	b.images.Restore(s.Images, s.ActiveID)
	b.overlay.RestoreState(s.Annotations)
	b.lastAmendKey = ""
}

func (b *Whiteboard) redraw() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	b.surface.Redraw(b.frame(true))
}

// frame assembles the render input; callers hold mu (read).
func (b *Whiteboard) frame(interactive bool) render.Frame {
	f := render.Frame{
		Background: layers.Background,
		Images:     b.images.Objects(),
		Layers:     b.layers.Layers(b.identity),
		Overlays:   []render.Painter{b.overlay},
	}
	if !interactive {
		return f
	}
	if p, ok := b.input.preview(); ok {
		f.Overlays = append(f.Overlays, p)
	}
	if b.gate.CanDraw() {
		if active, ok := b.images.Active(); ok {
			f.Selection = &active
		}
	}
	return f
}

// compose renders a fresh frame without selection affordances.
func (b *Whiteboard) compose() *render.Surface {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := render.NewSurface(b.viewport.Width, b.viewport.Height)
	s.Redraw(b.frame(false))
	return s
}

// Image returns the currently rendered board, flushing any pending redraw.
func (b *Whiteboard) Image() *image.RGBA {
	b.scheduler.Flush()
	return b.surface.Image()
}

// ExportPNG writes the composed board without selection affordances.
func (b *Whiteboard) ExportPNG(w io.Writer) error {
	return b.compose().EncodePNG(w)
}

func (b *Whiteboard) Identity() string {
	return b.identity
}

func (b *Whiteboard) CanDraw() bool {
	return b.gate.CanDraw()
}

// Dirty reports unsaved local changes.
func (b *Whiteboard) Dirty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dirty
}

func (b *Whiteboard) Viewport() protocol.Viewport {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.viewport
}

func (b *Whiteboard) Images() []images.Object {
	return b.images.Objects()
}

func (b *Whiteboard) ActiveImage() (images.Object, bool) {
	return b.images.Active()
}

func (b *Whiteboard) Annotations() annotations.State {
	return b.overlay.GetState()
}

// Layer returns a copy of author's stroke layer.
func (b *Whiteboard) Layer(author string) (*image.RGBA, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.layers.Get(author); !ok {
		return nil, false
	}
	return b.layers.Snapshot(author), true
}

func (b *Whiteboard) Authors() []string {
	return b.layers.Authors()
}

func (b *Whiteboard) HistoryLen() int {
	return b.history.Len()
}

func (b *Whiteboard) RedoLen() int {
	return b.history.RedoLen()
}

func (b *Whiteboard) Feature(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.features[name]
}

func (b *Whiteboard) Stats() replication.Stats {
	return b.repl.Stats()
}

// Scheduler exposes the redraw scheduler, mostly for frame accounting.
func (b *Whiteboard) Scheduler() *render.Scheduler {
	return b.scheduler
}
