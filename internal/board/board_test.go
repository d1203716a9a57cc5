package board

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manpreetbhatti/classboard/internal/history"
	"github.com/manpreetbhatti/classboard/internal/images"
	"github.com/manpreetbhatti/classboard/internal/protocol"
	"github.com/manpreetbhatti/classboard/internal/realtime"
)

type recordingView struct {
	mu          sync.Mutex
	notices     []Notice
	permissions []bool
	features    map[string]bool
}

func (v *recordingView) Notify(n Notice) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.notices = append(v.notices, n)
}

func (v *recordingView) PermissionChanged(canDraw bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.permissions = append(v.permissions, canDraw)
}

func (v *recordingView) FeatureChanged(feature string, enabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.features == nil {
		v.features = make(map[string]bool)
	}
	v.features[feature] = enabled
}

func (v *recordingView) levels() []NoticeLevel {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]NoticeLevel, len(v.notices))
	for i, n := range v.notices {
		out[i] = n.Level
	}
	return out
}

// solidLoader serves a 100x50 opaque image for any url except "broken".
var solidLoader = images.LoaderFunc(func(_ context.Context, rawURL string) (image.Image, error) {
	if rawURL == "broken" {
		return nil, images.ErrLoad
	}
	img := image.NewRGBA(image.Rect(0, 0, 100, 50))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	return img, nil
})

type fixture struct {
	t      *testing.T
	bus    *realtime.MemoryBus
	boards []*Whiteboard
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, bus: realtime.NewMemoryBus()}
}

func (f *fixture) join(identity string, mod func(o *Options)) (*Whiteboard, *recordingView) {
	f.t.Helper()
	view := &recordingView{}
	opts := Options{
		Identity:  identity,
		CanDraw:   true,
		Width:     200,
		Height:    200,
		Transport: f.bus.Join(identity),
		Loader:    solidLoader,
		View:      view,
	}
	if mod != nil {
		mod(&opts)
	}
	b, err := New(opts)
	require.NoError(f.t, err)
	require.NoError(f.t, b.Join(context.Background()))
	f.t.Cleanup(func() { b.Leave(context.Background()) })
	f.boards = append(f.boards, b)
	return b, view
}

// settle waits until every message and background load has landed.
func (f *fixture) settle() {
	for i := 0; i < 2; i++ {
		f.bus.Settle()
		for _, b := range f.boards {
			b.Wait()
		}
	}
	f.bus.Settle()
}

func (f *fixture) inject(author string, m protocol.Message) {
	f.t.Helper()
	env, err := protocol.Encode(author, m)
	require.NoError(f.t, err)
	f.bus.Inject(env)
}

func stroke(b *Whiteboard, x0, y0, x1, y1 float64) {
	b.PointerDown(x0, y0)
	b.PointerMove((x0+x1)/2, (y0+y1)/2)
	b.PointerMove(x1, y1)
	b.PointerUp(x1, y1)
}

func pixel(t *testing.T, b *Whiteboard, author string, x, y int) color.RGBA {
	t.Helper()
	l, ok := b.Layer(author)
	require.True(t, ok, "no layer for %s", author)
	return l.RGBAAt(x, y)
}

func TestApplyingTheSameImageAddTwiceKeepsOneObject(t *testing.T) {
	f := newFixture(t)
	o, _ := f.join("observer", nil)

	add := protocol.ImageAdd{ID: "X", URL: "a.png", X: 0.1, Y: 0.1, W: 0.2, H: 0.2}
	f.inject("remote", add)
	f.settle()
	f.inject("remote", add)
	f.settle()

	require.Len(t, o.Images(), 1)
	assert.Equal(t, "X", o.Images()[0].ID)
	assert.Equal(t, int64(1), o.Stats().Duplicates)
}

func TestRedeliveredImageAddAppliesOnce(t *testing.T) {
	f := newFixture(t)
	o, _ := f.join("observer", nil)
	f.bus.SetRedelivery(2)

	f.inject("remote", protocol.ImageAdd{ID: "abc", URL: "a.png", X: 0.5, Y: 0.5, W: 0.1, H: 0.1})
	f.settle()

	objs := o.Images()
	require.Len(t, objs, 1)
	assert.Equal(t, "abc", objs[0].ID)
	assert.InDelta(t, 100, objs[0].X, 0.001)
}

func TestErasingOwnLayerNeverTouchesAnotherAuthor(t *testing.T) {
	f := newFixture(t)
	a, _ := f.join("a", nil)
	b, _ := f.join("b", nil)
	o, _ := f.join("observer", nil)

	stroke(a, 10, 50, 90, 50)
	stroke(b, 50, 10, 50, 90)
	a.SetTool(ToolEraser)
	a.SetWidth(10)
	stroke(a, 40, 50, 60, 50)
	f.settle()

	for _, viewer := range []*Whiteboard{a, b, o} {
		assert.Equal(t, color.RGBA{A: 0xff}, pixel(t, viewer, "b", 50, 50), "b's line is intact on %s", viewer.Identity())
		assert.Equal(t, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, pixel(t, viewer, "a", 50, 50))
		assert.Equal(t, color.RGBA{A: 0xff}, pixel(t, viewer, "a", 20, 50))
	}
}

func TestUndoNeverPopsTheBaseline(t *testing.T) {
	f := newFixture(t)
	a, _ := f.join("a", nil)

	assert.ErrorIs(t, a.Undo(), history.ErrNothingToUndo)
	assert.Equal(t, 1, a.HistoryLen())

	stroke(a, 10, 10, 50, 10)
	require.NoError(t, a.Undo())
	assert.ErrorIs(t, a.Undo(), history.ErrNothingToUndo)
	assert.Equal(t, 1, a.HistoryLen())
	assert.Zero(t, pixel(t, a, "a", 30, 10).A)
}

func TestNewActionAfterUndoDropsRedo(t *testing.T) {
	f := newFixture(t)
	a, _ := f.join("a", nil)

	stroke(a, 10, 10, 50, 10)
	require.NoError(t, a.Undo())
	assert.Equal(t, 1, a.RedoLen())

	stroke(a, 10, 30, 50, 30)
	assert.Equal(t, 0, a.RedoLen())
	assert.ErrorIs(t, a.Redo(), history.ErrNothingToRedo)
	assert.Zero(t, pixel(t, a, "a", 30, 10).A, "the undone stroke stays undone")
}

func TestRedoRestoresUndoneStroke(t *testing.T) {
	f := newFixture(t)
	a, _ := f.join("a", nil)
	o, _ := f.join("observer", nil)

	stroke(a, 10, 10, 50, 10)
	require.NoError(t, a.Undo())
	require.NoError(t, a.Redo())
	f.settle()

	assert.Equal(t, uint8(0xff), pixel(t, a, "a", 30, 10).A)
	assert.Equal(t, uint8(0xff), pixel(t, o, "a", 30, 10).A)
}

func TestResizeInvalidatesHistory(t *testing.T) {
	f := newFixture(t)
	a, view := f.join("a", nil)

	stroke(a, 10, 10, 50, 10)
	require.NoError(t, a.Resize(300, 150))

	assert.ErrorIs(t, a.Undo(), history.ErrDimensionMismatch)
	assert.Equal(t, 1, a.HistoryLen())
	assert.Contains(t, view.levels(), NoticeWarning)
	assert.Equal(t, uint8(0xff), pixel(t, a, "a", 30, 10).A, "top-left content survives")

	stroke(a, 10, 100, 50, 100)
	require.NoError(t, a.Undo(), "history works again after the reset")
}

func TestOwnStrokeEchoIsNotReapplied(t *testing.T) {
	f := newFixture(t)
	a, _ := f.join("a", nil)
	o, _ := f.join("observer", nil)

	f.inject("a", protocol.StrokeBegin{X: 0.5, Y: 0.5, Color: "#000", Width: 6})
	f.inject("a", protocol.StrokeDraw{X: 0.6, Y: 0.5})
	f.inject("a", protocol.StrokeEnd{})
	f.settle()

	assert.Zero(t, pixel(t, a, "a", 110, 100).A)
	assert.Equal(t, int64(3), a.Stats().Echoes)
	assert.Equal(t, uint8(0xff), pixel(t, o, "a", 110, 100).A)
}

func TestConcurrentStrokesLandOnSeparateLayers(t *testing.T) {
	f := newFixture(t)
	b, _ := f.join("B", nil)
	o, _ := f.join("observer", nil)

	f.inject("A", protocol.StrokeBegin{X: 0.1, Y: 0.1, Color: "#000"})
	b.PointerDown(150, 20)
	f.inject("A", protocol.StrokeDraw{X: 0.2, Y: 0.2})
	b.PointerMove(150, 100)
	f.inject("A", protocol.StrokeEnd{})
	b.PointerUp(150, 180)
	f.settle()

	assert.Equal(t, uint8(0xff), pixel(t, o, "A", 30, 30).A)
	assert.Zero(t, pixel(t, o, "A", 150, 100).A)
	assert.Equal(t, uint8(0xff), pixel(t, o, "B", 150, 100).A)
	assert.Zero(t, pixel(t, o, "B", 30, 30).A)

	frame := o.Image()
	assert.Equal(t, color.RGBA{A: 0xff}, frame.RGBAAt(30, 30))
	assert.Equal(t, color.RGBA{A: 0xff}, frame.RGBAAt(150, 100))
	assert.Equal(t, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, frame.RGBAAt(100, 150))
}

func TestRevokeMidStrokeLetsTheStrokeFinish(t *testing.T) {
	f := newFixture(t)
	teacher, _ := f.join("teacher", func(o *Options) { o.IsTeacher = true })
	s, view := f.join("student", nil)

	s.PointerDown(10, 10)
	require.NoError(t, teacher.SetParticipantPermission(context.Background(), "student", false))
	f.settle()
	require.False(t, s.CanDraw())

	s.PointerMove(60, 10)
	s.PointerUp(60, 10)
	assert.Equal(t, uint8(0xff), pixel(t, s, "student", 40, 10).A)

	stroke(s, 10, 100, 60, 100)
	assert.Zero(t, pixel(t, s, "student", 40, 100).A)
	assert.Equal(t, []bool{false}, view.permissions)

	require.NoError(t, teacher.SetParticipantPermission(context.Background(), protocol.TargetAll, true))
	f.settle()
	assert.True(t, s.CanDraw())
	stroke(s, 10, 100, 60, 100)
	assert.Equal(t, uint8(0xff), pixel(t, s, "student", 40, 100).A)
}

func TestUndoStaysAvailableWhileViewOnly(t *testing.T) {
	f := newFixture(t)
	teacher, _ := f.join("teacher", func(o *Options) { o.IsTeacher = true })
	s, _ := f.join("student", nil)

	stroke(s, 10, 10, 60, 10)
	require.NoError(t, teacher.SetParticipantPermission(context.Background(), "student", false))
	f.settle()

	require.NoError(t, s.Undo())
	f.settle()
	assert.Zero(t, pixel(t, s, "student", 40, 10).A)
	assert.Zero(t, pixel(t, teacher, "student", 40, 10).A)
}

func TestClearAllWipesEveryParticipant(t *testing.T) {
	f := newFixture(t)
	a, _ := f.join("a", nil)
	b, _ := f.join("b", nil)

	stroke(a, 10, 10, 60, 10)
	_, err := a.AddImage(context.Background(), "photo.png", nil)
	require.NoError(t, err)
	stroke(b, 10, 40, 60, 40)
	b.SetTool(ToolPin)
	b.PointerDown(100, 100)
	f.settle()
	require.Len(t, b.Images(), 1)
	require.Equal(t, 1, a.Annotations().Len())

	require.NoError(t, a.ClearBoard())
	f.settle()

	for _, viewer := range []*Whiteboard{a, b} {
		assert.Empty(t, viewer.Images())
		assert.Zero(t, viewer.Annotations().Len())
		assert.Equal(t, 1, viewer.HistoryLen())
		for _, author := range []string{"a", "b"} {
			assert.Zero(t, pixel(t, viewer, author, 30, 10).A)
			assert.Zero(t, pixel(t, viewer, author, 30, 40).A)
		}
	}
}

func TestClearBoardRequiresPermission(t *testing.T) {
	f := newFixture(t)
	a, view := f.join("a", func(o *Options) { o.CanDraw = false })

	assert.ErrorIs(t, a.ClearBoard(), ErrPermission)
	assert.Equal(t, []NoticeLevel{NoticeError}, view.levels())
}

func TestDraggedImageReplicatesAcrossViewports(t *testing.T) {
	f := newFixture(t)
	a, _ := f.join("a", nil)
	o, _ := f.join("observer", func(o *Options) { o.Width, o.Height = 400, 400 })

	id, err := a.AddImage(context.Background(), "photo.png", nil)
	require.NoError(t, err)
	f.settle()

	obj, ok := a.ActiveImage()
	require.True(t, ok)
	assert.Equal(t, id, obj.ID)
	assert.InDelta(t, 60, obj.X, 0.001)
	assert.InDelta(t, 80, obj.Width, 0.001)

	require.Len(t, o.Images(), 1)
	assert.InDelta(t, 120, o.Images()[0].X, 0.001)

	a.PointerDown(100, 100)
	a.PointerMove(115, 105)
	a.PointerMove(130, 110)
	a.PointerUp(130, 110)
	f.settle()

	moved := o.Images()[0]
	assert.InDelta(t, 180, moved.X, 0.001)
	assert.InDelta(t, 180, moved.Y, 0.001)
	assert.InDelta(t, 160, moved.Width, 0.001)
}

func TestShiftWheelRotationIsOneHistoryEntry(t *testing.T) {
	f := newFixture(t)
	a, _ := f.join("a", func(o *Options) { o.DragEmitInterval = 5 * time.Millisecond })
	o, _ := f.join("observer", nil)

	_, err := a.AddImage(context.Background(), "photo.png", nil)
	require.NoError(t, err)
	f.settle()
	before := a.HistoryLen()

	a.Wheel(100, 100, 100, false)
	assert.Equal(t, before, a.HistoryLen(), "plain wheel does nothing")

	a.Wheel(100, 100, 100, true)
	a.Wheel(100, 100, 100, true)
	assert.Equal(t, before+1, a.HistoryLen())

	obj, _ := a.ActiveImage()
	assert.InDelta(t, -20, obj.Rotation, 0.001)

	require.Eventually(t, func() bool {
		f.settle()
		objs := o.Images()
		return len(objs) == 1 && objs[0].Rotation == -20
	}, time.Second, 10*time.Millisecond)
}

func TestDeleteControlRemovesImageEverywhere(t *testing.T) {
	f := newFixture(t)
	a, _ := f.join("a", nil)
	o, _ := f.join("observer", nil)

	_, err := a.AddImage(context.Background(), "photo.png", nil)
	require.NoError(t, err)
	f.settle()
	require.Len(t, o.Images(), 1)

	obj, _ := a.ActiveImage()
	btn := obj.DeleteButton()
	a.PointerDown(float64(btn.Min.X+5), float64(btn.Min.Y+5))
	a.PointerUp(float64(btn.Min.X+5), float64(btn.Min.Y+5))
	f.settle()

	assert.Empty(t, a.Images())
	assert.Empty(t, o.Images())

	require.NoError(t, a.Undo())
	assert.Len(t, a.Images(), 1, "undo brings the image back locally")
}

func TestBrokenImageIsNotInserted(t *testing.T) {
	f := newFixture(t)
	a, view := f.join("a", nil)

	_, err := a.AddImage(context.Background(), "broken", nil)
	assert.ErrorIs(t, err, images.ErrLoad)
	assert.Empty(t, a.Images())
	assert.Equal(t, []NoticeLevel{NoticeError}, view.levels())
}

func TestHighlightAndPinReplicate(t *testing.T) {
	f := newFixture(t)
	a, _ := f.join("a", nil)
	o, _ := f.join("observer", func(o *Options) { o.Width, o.Height = 100, 100 })

	a.SetTool(ToolHighlight)
	a.PointerDown(10, 10)
	a.PointerMove(30, 20)
	a.PointerUp(50, 40)

	a.SetTool(ToolPin)
	a.SetPinText("look")
	a.PointerDown(100, 100)
	f.settle()

	state := o.Annotations()
	require.Len(t, state.Highlights, 1)
	require.Len(t, state.Pins, 1)
	assert.InDelta(t, 20, state.Highlights[0].W, 0.001)
	assert.InDelta(t, 15, state.Highlights[0].H, 0.001)
	assert.Equal(t, "look", state.Pins[0].Text)
	assert.InDelta(t, 50, state.Pins[0].X, 0.001)

	require.NoError(t, a.Undo())
	assert.Len(t, a.Annotations().Pins, 0)
	assert.Len(t, a.Annotations().Highlights, 1)
}

type memorySaver struct {
	mu   sync.Mutex
	data [][]byte
	err  error
}

func (s *memorySaver) SaveSnapshot(_ context.Context, png []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.data = append(s.data, png)
	return nil
}

func TestSaveClearsDirtyFlag(t *testing.T) {
	f := newFixture(t)
	saver := &memorySaver{}
	a, _ := f.join("a", func(o *Options) { o.Saver = saver })

	assert.False(t, a.Dirty())
	stroke(a, 10, 10, 60, 10)
	assert.True(t, a.Dirty())

	require.NoError(t, a.Save(context.Background()))
	assert.False(t, a.Dirty())
	require.Len(t, saver.data, 1)

	img, err := png.Decode(bytes.NewReader(saver.data[0]))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 200, 200), img.Bounds())
}

func TestFailedSaveKeepsDirtyFlag(t *testing.T) {
	f := newFixture(t)
	saver := &memorySaver{err: errors.New("offline")}
	a, view := f.join("a", func(o *Options) { o.Saver = saver })

	stroke(a, 10, 10, 60, 10)
	assert.Error(t, a.Save(context.Background()))
	assert.True(t, a.Dirty())
	assert.Equal(t, []NoticeLevel{NoticeError}, view.levels())
}

type fakePresence struct {
	mu      sync.Mutex
	calls   [][]string
	revoked []string
}

func (p *fakePresence) SyncPresence(_ context.Context, present []string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, present)
	return p.revoked, nil
}

func TestTeacherRevokesWhatPresenceSyncReports(t *testing.T) {
	f := newFixture(t)
	presence := &fakePresence{revoked: []string{"student"}}
	f.join("teacher", func(o *Options) {
		o.IsTeacher = true
		o.Presence = presence
		o.PresenceDebounce = 5 * time.Millisecond
	})
	s, _ := f.join("student", nil)

	require.Eventually(t, func() bool {
		f.settle()
		return !s.CanDraw()
	}, time.Second, 10*time.Millisecond)

	presence.mu.Lock()
	defer presence.mu.Unlock()
	assert.NotEmpty(t, presence.calls)
}

func TestFeatureToggleIsTeacherOnly(t *testing.T) {
	f := newFixture(t)
	teacher, _ := f.join("teacher", func(o *Options) { o.IsTeacher = true })
	s, view := f.join("student", nil)

	assert.ErrorIs(t, s.SetFeature("chat", true), ErrNotTeacher)
	require.NoError(t, teacher.SetFeature("chat", true))
	f.settle()

	assert.True(t, s.Feature("chat"))
	assert.True(t, view.features["chat"])
}

func TestLoadSnapshotReplacesLayerEverywhere(t *testing.T) {
	f := newFixture(t)
	a, _ := f.join("a", nil)
	b, _ := f.join("b", nil)

	saved := image.NewRGBA(image.Rect(0, 0, 200, 200))
	red := color.RGBA{R: 0xff, A: 0xff}
	for y := 40; y < 60; y++ {
		for x := 40; x < 60; x++ {
			saved.SetRGBA(x, y, red)
		}
	}

	require.NoError(t, a.LoadSnapshot(saved))
	f.settle()

	assert.Equal(t, 2, a.HistoryLen())
	assert.True(t, a.Dirty())
	assert.Equal(t, red, pixel(t, a, "a", 50, 50))
	assert.Equal(t, red, pixel(t, b, "a", 50, 50))

	var buf bytes.Buffer
	require.NoError(t, b.ExportPNG(&buf))
	decoded, err := png.Decode(&buf)
	require.NoError(t, err)
	r, g, bl, _ := decoded.At(50, 50).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0, 0}, [3]uint32{r, g, bl})
}

func TestTeacherLeaveRevokesEveryone(t *testing.T) {
	f := newFixture(t)
	teacher, _ := f.join("teacher", func(o *Options) { o.IsTeacher = true })
	student, _ := f.join("student", nil)
	f.settle()
	require.True(t, student.CanDraw())

	teacher.Leave(context.Background())
	f.settle()

	assert.False(t, student.CanDraw())
}

func encodeLayer(t *testing.T, paint func(img *image.RGBA)) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 200))
	if paint != nil {
		paint(img)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func redSquare(img *image.RGBA) {
	for y := 5; y < 15; y++ {
		for x := 5; x < 15; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 0xff, A: 0xff})
		}
	}
}

func TestReplayedOwnLayerAndImageComeBack(t *testing.T) {
	f := newFixture(t)
	a, _ := f.join("a", nil)
	o, _ := f.join("observer", nil)

	f.inject("a", protocol.StrokeLayer{PNG: encodeLayer(t, redSquare), Width: 200, Height: 200})
	f.inject("a", protocol.ImageAdd{ID: "mine", URL: "a.png", X: 0.5, Y: 0.5, W: 0.1, H: 0.1})
	f.settle()

	assert.Equal(t, color.RGBA{R: 0xff, A: 0xff}, pixel(t, a, "a", 10, 10))
	require.Len(t, a.Images(), 1)
	assert.Equal(t, "mine", a.Images()[0].ID)

	assert.ErrorIs(t, a.Undo(), history.ErrNothingToUndo, "the replayed layer is the new baseline")
	f.settle()
	assert.Equal(t, color.RGBA{R: 0xff, A: 0xff}, pixel(t, a, "a", 10, 10))
	assert.Equal(t, color.RGBA{R: 0xff, A: 0xff}, pixel(t, o, "a", 10, 10))
}

func TestImageBroughtBackByRedoReachesPeers(t *testing.T) {
	f := newFixture(t)
	a, _ := f.join("a", nil)
	o, _ := f.join("observer", nil)

	id, err := a.AddImage(context.Background(), "photo.png", nil)
	require.NoError(t, err)
	f.settle()
	require.Len(t, o.Images(), 1)

	require.NoError(t, a.Undo())
	f.settle()
	assert.Empty(t, o.Images())

	require.NoError(t, a.Redo())
	f.settle()
	require.Len(t, a.Images(), 1)
	require.Len(t, o.Images(), 1, "observer converges with the author")
	assert.Equal(t, id, o.Images()[0].ID)
	assert.InDelta(t, a.Images()[0].X, o.Images()[0].X, 0.001)

	require.NoError(t, a.Undo())
	require.NoError(t, a.Redo())
	f.settle()
	assert.Len(t, o.Images(), 1)
	assert.Zero(t, o.Stats().Duplicates)
}

func remoteLine(f *fixture) {
	f.inject("remote", protocol.StrokeBegin{X: 0.1, Y: 0.5, Color: "#000", Width: 6})
	f.inject("remote", protocol.StrokeDraw{X: 0.5, Y: 0.5})
	f.inject("remote", protocol.StrokeEnd{})
}

func TestRemoteUndoRevertsMirrorWithoutResending(t *testing.T) {
	f := newFixture(t)
	b, _ := f.join("b", nil)

	remoteLine(f)
	f.settle()
	require.Equal(t, uint8(0xff), pixel(t, b, "remote", 60, 100).A)
	sent := b.Stats().Sent

	f.inject("remote", protocol.HistoryEvent{Action: protocol.HistoryUndo})
	f.settle()
	assert.Zero(t, pixel(t, b, "remote", 60, 100).A, "undo reverts the remote layer")

	f.inject("remote", protocol.HistoryEvent{Action: protocol.HistoryRedo})
	f.settle()
	assert.Equal(t, uint8(0xff), pixel(t, b, "remote", 60, 100).A)

	assert.Equal(t, sent, b.Stats().Sent, "history events are never sent back")
	assert.Zero(t, pixel(t, b, "b", 60, 100).A, "the local layer is untouched")
	assert.Equal(t, 1, b.HistoryLen())
}

func TestLayerAheadOfRemoteUndoMakesItANoop(t *testing.T) {
	f := newFixture(t)
	b, _ := f.join("b", nil)

	remoteLine(f)
	f.settle()

	f.inject("remote", protocol.StrokeLayer{PNG: encodeLayer(t, redSquare), Width: 200, Height: 200})
	f.inject("remote", protocol.HistoryEvent{Action: protocol.HistoryUndo})
	f.settle()

	assert.Equal(t, color.RGBA{R: 0xff, A: 0xff}, pixel(t, b, "remote", 10, 10))
	assert.Zero(t, pixel(t, b, "remote", 60, 100).A)

	f.inject("remote", protocol.HistoryEvent{Action: protocol.HistoryRedo})
	f.settle()
	assert.Equal(t, color.RGBA{R: 0xff, A: 0xff}, pixel(t, b, "remote", 10, 10))
	assert.Zero(t, pixel(t, b, "remote", 60, 100).A)
	assert.Zero(t, b.Stats().Sent)
}

func TestImageAddAfterLeaveStartsNoLoad(t *testing.T) {
	f := newFixture(t)
	var loads int32
	o, _ := f.join("observer", func(o *Options) {
		o.Loader = images.LoaderFunc(func(ctx context.Context, rawURL string) (image.Image, error) {
			atomic.AddInt32(&loads, 1)
			return solidLoader(ctx, rawURL)
		})
	})
	o.Leave(context.Background())

	o.Apply("remote", protocol.ImageAdd{ID: "late", URL: "a.png", W: 0.1, H: 0.1})
	o.Wait()

	assert.Zero(t, atomic.LoadInt32(&loads))
	assert.Empty(t, o.Images())
	o.mu.RLock()
	assert.Empty(t, o.pending)
	o.mu.RUnlock()
}
