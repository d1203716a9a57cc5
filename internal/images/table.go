package images

import (
	"image"
	"sync"
)

const (
	ResizeHandleSize = 15
	DeleteButtonSize = 22
	MinSize          = 30

	// Wheel delta to degrees for shift+wheel rotation
	WheelRotateFactor = -0.1
)

// Object is one placed image. Source is owned by the Table; painters only borrow it.
type Object struct {
	ID       string
	Source   image.Image
	URL      string
	X        float64
	Y        float64
	Width    float64
	Height   float64
	Rotation float64
}

func (o Object) Contains(x, y float64) bool {
	return x >= o.X && x <= o.X+o.Width && y >= o.Y && y <= o.Y+o.Height
}

// Bounds returns the unrotated integer rectangle.
func (o Object) Bounds() image.Rectangle {
	return image.Rect(int(o.X), int(o.Y), int(o.X+o.Width), int(o.Y+o.Height))
}

func (o Object) ResizeHandle() image.Rectangle {
	return image.Rect(
		int(o.X+o.Width)-ResizeHandleSize, int(o.Y+o.Height)-ResizeHandleSize,
		int(o.X+o.Width), int(o.Y+o.Height),
	)
}

// DeleteButton sits above the top-right corner, outside the object.
func (o Object) DeleteButton() image.Rectangle {
	return image.Rect(
		int(o.X+o.Width)-DeleteButtonSize, int(o.Y)-DeleteButtonSize,
		int(o.X+o.Width), int(o.Y),
	)
}

type Control int

const (
	ControlNone Control = iota
	ControlBody
	ControlResize
	ControlDelete
)

func (c Control) String() string {
	switch c {
	case ControlBody:
		return "body"
	case ControlResize:
		return "resize"
	case ControlDelete:
		return "delete"
	}
	return "none"
}

// Table is the ordered image collection; slice order is z-order, last is topmost.
type Table struct {
	objects  []*Object
	activeID string
	mu       sync.RWMutex
}

func NewTable() *Table {
	return &Table{}
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.objects)
}

func (t *Table) indexOf(id string) int {
	for i, o := range t.objects {
		if o.ID == id {
			return i
		}
	}
	return -1
}

func (t *Table) Get(id string) (Object, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i := t.indexOf(id); i >= 0 {
		return *t.objects[i], true
	}
	return Object{}, false
}

// Objects returns copies in z-order.
func (t *Table) Objects() []Object {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Object, len(t.objects))
	for i, o := range t.objects {
		out[i] = *o
	}
	return out
}

// Insert appends o on top. It reports false when the id is already present.
func (t *Table) Insert(o Object) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.indexOf(o.ID) >= 0 {
		return false
	}
	obj := o
	t.objects = append(t.objects, &obj)
	return true
}

// HitTest returns the topmost object whose unrotated box contains (x,y).
func (t *Table) HitTest(x, y float64) (Object, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := len(t.objects) - 1; i >= 0; i-- {
		if t.objects[i].Contains(x, y) {
			return *t.objects[i], true
		}
	}
	return Object{}, false
}

// HitControl resolves a press: the active object's delete button and resize
// handle win over any body hit.
func (t *Table) HitControl(x, y float64) (Object, Control) {
	t.mu.RLock()
	if i := t.indexOf(t.activeID); i >= 0 {
		active := *t.objects[i]
		pt := image.Pt(int(x), int(y))
		if pt.In(active.DeleteButton()) {
			t.mu.RUnlock()
			return active, ControlDelete
		}
		if pt.In(active.ResizeHandle()) {
			t.mu.RUnlock()
			return active, ControlResize
		}
	}
	t.mu.RUnlock()

	if o, ok := t.HitTest(x, y); ok {
		return o, ControlBody
	}
	return Object{}, ControlNone
}

func (t *Table) Delete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.indexOf(id)
	if i < 0 {
		return false
	}
	t.objects = append(t.objects[:i], t.objects[i+1:]...)
	if t.activeID == id {
		t.activeID = ""
	}
	return true
}

func (t *Table) update(id string, fn func(o *Object)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.indexOf(id)
	if i < 0 {
		return false
	}
	fn(t.objects[i])
	return true
}

func (t *Table) Move(id string, dx, dy float64) bool {
	return t.update(id, func(o *Object) {
		o.X += dx
		o.Y += dy
	})
}

func (t *Table) MoveTo(id string, x, y float64) bool {
	return t.update(id, func(o *Object) {
		o.X, o.Y = x, y
	})
}

// Resize sets the size, never below MinSize on either axis.
func (t *Table) Resize(id string, w, h float64) bool {
	return t.update(id, func(o *Object) {
		o.Width = clampSize(w)
		o.Height = clampSize(h)
	})
}

func (t *Table) Rotate(id string, deltaDegrees float64) bool {
	return t.update(id, func(o *Object) {
		o.Rotation += deltaDegrees
	})
}

// SetGeometry applies an absolute transform.
func (t *Table) SetGeometry(id string, x, y, w, h, rotation float64) bool {
	return t.update(id, func(o *Object) {
		o.X, o.Y = x, y
		o.Width, o.Height = w, h
		o.Rotation = rotation
	})
}

func (t *Table) BringToFront(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.indexOf(id)
	if i < 0 {
		return false
	}
	o := t.objects[i]
	t.objects = append(t.objects[:i], t.objects[i+1:]...)
	t.objects = append(t.objects, o)
	return true
}

func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.objects = nil
	t.activeID = ""
}

// SetActive selects id; an empty or unknown id clears the selection.
func (t *Table) SetActive(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.indexOf(id) < 0 {
		id = ""
	}
	t.activeID = id
}

func (t *Table) ActiveID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.activeID
}

func (t *Table) Active() (Object, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i := t.indexOf(t.activeID); i >= 0 {
		return *t.objects[i], true
	}
	return Object{}, false
}

// Restore replaces the table contents with objs and selects activeID.
func (t *Table) Restore(objs []Object, activeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.objects = make([]*Object, len(objs))
	for i := range objs {
		o := objs[i]
		t.objects[i] = &o
	}
	t.activeID = ""
	if t.indexOf(activeID) >= 0 {
		t.activeID = activeID
	}
}

func clampSize(v float64) float64 {
	if v < MinSize {
		return MinSize
	}
	return v
}
