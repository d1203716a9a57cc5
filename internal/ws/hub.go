package ws

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/manpreetbhatti/classboard/internal/protocol"
	"github.com/manpreetbhatti/classboard/internal/ratelimit"
	"github.com/manpreetbhatti/classboard/internal/room"
)

// Recorder observes every relayed message.
type Recorder interface {
	Relayed(fanout int, elapsed time.Duration)
}

type Options struct {
	MessagesPerSecond float64
	MessageBurst      int
	Recorder          Recorder
}

func DefaultOptions() Options {
	return Options{MessagesPerSecond: 100, MessageBurst: 200}
}

// The set of active clients per classroom session; relays envelopes to the
// other subscribers of their topic
type Hub struct {
	// Registered clients by session
	rooms map[string]map[*Client]bool

	// Retained traffic by session, for late joiners
	roomStates map[string]*room.Room

	// Inbound messages from clients
	broadcast chan *Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Topic subscription requests from clients
	subscribe chan *subscription

	limiters *ratelimit.ConnLimiters
	recorder Recorder
	done     chan struct{}
	mu       sync.RWMutex
}

type Message struct {
	RoomID   string
	Envelope protocol.Envelope
	Sender   *Client
	received time.Time
}

type subscription struct {
	client *Client
	topics []protocol.Topic
}

func NewHub(opts Options) *Hub {
	if opts.MessagesPerSecond <= 0 || opts.MessageBurst <= 0 {
		def := DefaultOptions()
		opts.MessagesPerSecond, opts.MessageBurst = def.MessagesPerSecond, def.MessageBurst
	}
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		roomStates: make(map[string]*room.Room),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan *subscription),
		limiters:   ratelimit.NewConnLimiters(opts.MessagesPerSecond, opts.MessageBurst),
		recorder:   opts.Recorder,
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.rooms[client.roomID]; !ok {
				h.rooms[client.roomID] = make(map[*Client]bool)
			}
			h.rooms[client.roomID][client] = true
			clientCount := len(h.rooms[client.roomID])
			h.mu.Unlock()

			log.Printf("%s joined session %s (total: %d)", client.identity, client.roomID, clientCount)
			h.syncPresence(client.roomID)

		case client := <-h.unregister:
			h.mu.Lock()
			left := h.remove(client)
			h.mu.Unlock()
			if left {
				h.syncPresence(client.roomID)
			}

		case sub := <-h.subscribe:
			h.handleSubscribe(sub)

		case message := <-h.broadcast:
			h.relay(message)
		}
	}
}

// Stop ends Run and releases the rate limiters.
func (h *Hub) Stop() {
	close(h.done)
	h.limiters.Stop()
}

// remove unregisters client; callers hold mu.
func (h *Hub) remove(client *Client) bool {
	clients, ok := h.rooms[client.roomID]
	if !ok || !clients[client] {
		return false
	}
	delete(clients, client)
	close(client.send)
	h.limiters.Forget(client.clientID)

	if len(clients) == 0 {
		delete(h.rooms, client.roomID)
		log.Printf("Session %s closed (empty)", client.roomID)
	} else {
		log.Printf("%s left session %s (remaining: %d)", client.identity, client.roomID, len(clients))
	}
	return true
}

func (h *Hub) handleSubscribe(sub *subscription) {
	h.mu.RLock()
	registered := h.rooms[sub.client.roomID][sub.client]
	h.mu.RUnlock()
	if !registered {
		return
	}

	state := h.getRoomState(sub.client.roomID)
	for _, topic := range sub.topics {
		if !sub.client.subscribeTopic(topic) {
			continue
		}
		if topic == protocol.TopicPresence {
			if data, ok := h.presenceFrame(sub.client.roomID); ok {
				h.deliver(sub.client, data)
			}
			continue
		}
		for _, env := range state.Replay(topic) {
			data, err := protocol.Marshal(env)
			if err != nil {
				continue
			}
			h.deliver(sub.client, data)
		}
	}
}

func (h *Hub) relay(message *Message) {
	env := message.Envelope
	if message.RoomID != "" {
		h.getRoomState(message.RoomID).Retain(env)
	}

	data, err := protocol.Marshal(env)
	if err != nil {
		log.Printf("⚠️ Dropping unencodable message: %v", err)
		return
	}

	fanout := 0
	var slow []*Client
	h.mu.RLock()
	for client := range h.rooms[message.RoomID] {
		if client == message.Sender || !client.subscribed(env.Topic) {
			continue
		}
		if h.deliver(client, data) {
			fanout++
		} else {
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	if len(slow) > 0 {
		h.mu.Lock()
		for _, client := range slow {
			log.Printf("🚫 Dropping slow client %s in session %s", client.identity, client.roomID)
			h.remove(client)
		}
		h.mu.Unlock()
		h.syncPresence(message.RoomID)
	}

	if h.recorder != nil && !message.received.IsZero() {
		h.recorder.Relayed(fanout, time.Since(message.received))
	}
}

func (h *Hub) deliver(client *Client, data []byte) bool {
	select {
	case client.send <- data:
		return true
	default:
		return false
	}
}

func (h *Hub) presenceFrame(roomID string) ([]byte, bool) {
	env, err := protocol.Encode("", protocol.PresenceSync{Identities: h.Presence(roomID)})
	if err != nil {
		return nil, false
	}
	data, err := protocol.Marshal(env)
	return data, err == nil
}

// syncPresence tells every presence subscriber of roomID who is connected.
func (h *Hub) syncPresence(roomID string) {
	data, ok := h.presenceFrame(roomID)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.rooms[roomID] {
		if client.subscribed(protocol.TopicPresence) {
			h.deliver(client, data)
		}
	}
}

func (h *Hub) getRoomState(roomID string) *room.Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.roomStates[roomID]
	if !ok {
		state = room.NewRoom(roomID)
		h.roomStates[roomID] = state
	}
	return state
}

// Presence returns the sorted identities connected to roomID.
func (h *Hub) Presence(roomID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[string]bool)
	ids := make([]string, 0)
	for client := range h.rooms[roomID] {
		if !seen[client.identity] {
			seen[client.identity] = true
			ids = append(ids, client.identity)
		}
	}
	sort.Strings(ids)
	return ids
}

// Retained returns how many messages are kept for late joiners of roomID.
func (h *Hub) Retained(roomID string) int {
	h.mu.RLock()
	state, ok := h.roomStates[roomID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	return state.Len()
}

// ResetRoom forgets the retained traffic of roomID.
func (h *Hub) ResetRoom(roomID string) {
	h.mu.Lock()
	delete(h.roomStates, roomID)
	h.mu.Unlock()
}

func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, clients := range h.rooms {
		count += len(clients)
	}
	return count
}

func (h *Hub) GetActiveRooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		rooms = append(rooms, id)
	}
	sort.Strings(rooms)
	return rooms
}
