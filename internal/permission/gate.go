package permission

import "sync"

type State int

const (
	ViewOnly State = iota
	DrawEnabled
)

func (s State) String() string {
	if s == DrawEnabled {
		return "draw-enabled"
	}
	return "view-only"
}

func FromBool(canDraw bool) State {
	if canDraw {
		return DrawEnabled
	}
	return ViewOnly
}

// Pointer is a position in local viewport pixels.
type Pointer struct {
	X, Y float64
}

// Handler receives input events while its state is active.
type Handler interface {
	PointerDown(p Pointer)
	PointerMove(p Pointer)
	PointerUp(p Pointer)
	Wheel(p Pointer, deltaY float64, shift bool)
	KeyDown(key string)
}

// Gate keeps one handler set per state and swaps the active set whenever the
// permission changes.
type Gate struct {
	state     State
	handlers  map[State]Handler
	listeners []func(State)
	mu        sync.RWMutex
}

func NewGate(initial State) *Gate {
	return &Gate{
		state:    initial,
		handlers: make(map[State]Handler, 2),
	}
}

func (g *Gate) Register(state State, h Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[state] = h
}

// OnChange registers fn to run after every transition.
func (g *Gate) OnChange(fn func(State)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, fn)
}

func (g *Gate) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

func (g *Gate) CanDraw() bool {
	return g.State() == DrawEnabled
}

// Set transitions to state and reports whether anything changed.
func (g *Gate) Set(state State) bool {
	g.mu.Lock()
	if g.state == state {
		g.mu.Unlock()
		return false
	}
	g.state = state
	listeners := append(([]func(State))(nil), g.listeners...)
	g.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
	return true
}

// Active returns the handler set bound to the current state.
func (g *Gate) Active() Handler {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if h, ok := g.handlers[g.state]; ok {
		return h
	}
	return Ignore{}
}

// Ignore drops every event.
type Ignore struct{}

func (Ignore) PointerDown(Pointer)          {}
func (Ignore) PointerMove(Pointer)          {}
func (Ignore) PointerUp(Pointer)            {}
func (Ignore) Wheel(Pointer, float64, bool) {}
func (Ignore) KeyDown(string)               {}
