package history

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/manpreetbhatti/classboard/internal/annotations"
	"github.com/manpreetbhatti/classboard/internal/images"
)

const DefaultCapacity = 50

var (
	ErrNothingToUndo     = errors.New("history: nothing to undo")
	ErrNothingToRedo     = errors.New("history: nothing to redo")
	ErrDimensionMismatch = errors.New("history: snapshot size differs from the current layer")
)

// Snapshot is a restorable copy of the local drawing state.
type Snapshot struct {
	Width       int
	Height      int
	Pixels      []byte
	Images      []images.Object
	ActiveID    string
	Annotations annotations.State
	Reason      string
}

func (s Snapshot) Fits(width, height int) bool {
	return s.Width == width && s.Height == height
}

// Engine is a bounded undo stack paired with a redo stack. The bottom undo
// entry is the baseline and is never popped.
type Engine struct {
	capacity int
	undo     []Snapshot
	redo     []Snapshot
	mu       sync.Mutex
}

func NewEngine(capacity int) *Engine {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Engine{capacity: capacity}
}

// Push records a forward action and drops the redo stack.
func (e *Engine) Push(s Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.push(s)
	e.redo = nil
}

func (e *Engine) push(s Snapshot) {
	e.undo = append(e.undo, s)
	if over := len(e.undo) - e.capacity; over > 0 {
		e.undo = append([]Snapshot(nil), e.undo[over:]...)
	}
}

// Undo moves the current top to the redo stack and returns the new top for
// restoring. Any entry involved that was sized differently from
// width x height clears both stacks and returns ErrDimensionMismatch.
func (e *Engine) Undo(width, height int) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.undo) == 0 {
		return Snapshot{}, ErrNothingToUndo
	}
	if !e.undo[len(e.undo)-1].Fits(width, height) {
		e.undo, e.redo = nil, nil
		return Snapshot{}, ErrDimensionMismatch
	}
	if len(e.undo) == 1 {
		return Snapshot{}, ErrNothingToUndo
	}
	target := e.undo[len(e.undo)-2]
	if !target.Fits(width, height) {
		e.undo, e.redo = nil, nil
		return Snapshot{}, ErrDimensionMismatch
	}
	top := e.undo[len(e.undo)-1]
	e.undo = e.undo[:len(e.undo)-1]
	e.redo = append(e.redo, top)
	return target, nil
}

// Amend replaces the top entry, or pushes when empty. Continuous gestures
// such as wheel rotation use it to occupy a single entry.
func (e *Engine) Amend(s Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.redo = nil
	if len(e.undo) <= 1 {
		e.push(s)
		return
	}
	e.undo[len(e.undo)-1] = s
}

// Redo pops the latest undone entry back onto the undo stack and returns it.
func (e *Engine) Redo(width, height int) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.redo) == 0 {
		return Snapshot{}, ErrNothingToRedo
	}
	target := e.redo[len(e.redo)-1]
	if !target.Fits(width, height) {
		e.undo, e.redo = nil, nil
		return Snapshot{}, ErrDimensionMismatch
	}
	e.redo = e.redo[:len(e.redo)-1]
	e.push(target)
	return target, nil
}

// Reset discards everything and starts over from baseline.
func (e *Engine) Reset(baseline Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.undo = []Snapshot{baseline}
	e.redo = nil
}

func (e *Engine) Top() (Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.undo) == 0 {
		return Snapshot{}, false
	}
	return e.undo[len(e.undo)-1], true
}

func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.undo)
}

func (e *Engine) RedoLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.redo)
}

func (e *Engine) Capacity() int {
	return e.capacity
}
