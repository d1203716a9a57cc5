package realtime

import (
	"sort"
	"sync"

	"github.com/manpreetbhatti/classboard/internal/protocol"
)

// MemoryBus is an in-process relay with the same delivery model as the
// websocket hub: fan-out to other subscribers, asynchronous per peer, and
// presence sync on every join and leave.
type MemoryBus struct {
	peers      map[string]*MemoryTransport
	redelivery int
	inflight   inflight
	mu         sync.Mutex
}

func NewMemoryBus() *MemoryBus {
	b := &MemoryBus{peers: make(map[string]*MemoryTransport)}
	b.inflight.cond = sync.NewCond(&b.inflight.mu)
	return b
}

// inflight counts queued deliveries.
type inflight struct {
	n    int
	mu   sync.Mutex
	cond *sync.Cond
}

func (c *inflight) add(delta int) {
	c.mu.Lock()
	c.n += delta
	if c.n <= 0 {
		c.n = 0
		c.cond.Broadcast()
	}
	c.mu.Unlock()
}

func (c *inflight) wait() {
	c.mu.Lock()
	for c.n > 0 {
		c.cond.Wait()
	}
	c.mu.Unlock()
}

// SetRedelivery makes every delivery repeat n extra times.
func (b *MemoryBus) SetRedelivery(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.redelivery = n
}

// Join connects identity and returns its transport.
func (b *MemoryBus) Join(identity string) *MemoryTransport {
	t := &MemoryTransport{
		bus:      b,
		identity: identity,
		topics:   make(map[protocol.Topic]bool),
		handlers: make(map[protocol.Topic][]func(protocol.Envelope)),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go t.run()

	b.mu.Lock()
	b.peers[identity] = t
	b.mu.Unlock()

	b.announcePresence()
	return t
}

func (b *MemoryBus) Leave(identity string) {
	b.mu.Lock()
	t, ok := b.peers[identity]
	delete(b.peers, identity)
	b.mu.Unlock()
	if !ok {
		return
	}
	t.close()
	b.announcePresence()
}

// Settle blocks until every queued delivery has been handled.
func (b *MemoryBus) Settle() {
	b.inflight.wait()
}

func (b *MemoryBus) Present() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.peers))
	for id := range b.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Inject delivers env to every subscriber including its author, as a
// transport redelivering a message would.
func (b *MemoryBus) Inject(env protocol.Envelope) {
	b.publish("", env)
}

func (b *MemoryBus) publish(sender string, env protocol.Envelope) {
	b.mu.Lock()
	targets := make([]*MemoryTransport, 0, len(b.peers))
	for id, t := range b.peers {
		if id != sender && t.subscribed(env.Topic) {
			targets = append(targets, t)
		}
	}
	copies := 1 + b.redelivery
	b.mu.Unlock()

	for _, t := range targets {
		for i := 0; i < copies; i++ {
			t.enqueue(env)
		}
	}
}

func (b *MemoryBus) announcePresence() {
	env, err := protocol.Encode("", protocol.PresenceSync{Identities: b.Present()})
	if err != nil {
		return
	}
	b.publish("", env)
}

// MemoryTransport is one peer's end of a MemoryBus.
type MemoryTransport struct {
	bus      *MemoryBus
	identity string

	topics   map[protocol.Topic]bool
	handlers map[protocol.Topic][]func(protocol.Envelope)
	queue    []protocol.Envelope
	closed   bool
	mu       sync.Mutex

	wake chan struct{}
	done chan struct{}
}

func (t *MemoryTransport) Identity() string {
	return t.identity
}

func (t *MemoryTransport) Subscribe(topic protocol.Topic) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.topics[topic] = true
	return nil
}

func (t *MemoryTransport) subscribed(topic protocol.Topic) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.topics[topic] && !t.closed
}

func (t *MemoryTransport) Send(topic protocol.Topic, env protocol.Envelope) error {
	env.Topic = topic
	t.bus.publish(t.identity, env)
	return nil
}

func (t *MemoryTransport) OnMessage(topic protocol.Topic, handler func(protocol.Envelope)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[topic] = append(t.handlers[topic], handler)
}

func (t *MemoryTransport) Present() []string {
	return t.bus.Present()
}

func (t *MemoryTransport) enqueue(env protocol.Envelope) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.bus.inflight.add(1)
	t.queue = append(t.queue, env)
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *MemoryTransport) run() {
	for {
		select {
		case <-t.done:
			return
		case <-t.wake:
		}
		for {
			t.mu.Lock()
			if len(t.queue) == 0 {
				t.mu.Unlock()
				break
			}
			env := t.queue[0]
			t.queue = t.queue[1:]
			handlers := append(([]func(protocol.Envelope))(nil), t.handlers[env.Topic]...)
			t.mu.Unlock()

			for _, h := range handlers {
				h(env)
			}
			t.bus.inflight.add(-1)
		}
	}
}

func (t *MemoryTransport) close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	dropped := len(t.queue)
	t.queue = nil
	t.mu.Unlock()

	t.bus.inflight.add(-dropped)
	close(t.done)
}
