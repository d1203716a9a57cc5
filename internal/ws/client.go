package ws

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/classboard/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	roomID   string
	identity string
	clientID string

	topics map[protocol.Topic]bool
	mu     sync.Mutex
}

func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("session")
	identity := r.URL.Query().Get("user")
	if roomID == "" || identity == "" {
		http.Error(w, "session and user are required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}

	client := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 512),
		roomID:   roomID,
		identity: identity,
		clientID: uuid.NewString(),
		topics:   make(map[protocol.Topic]bool),
	}

	hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) subscribed(topic protocol.Topic) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics[topic]
}

// subscribeTopic reports whether topic was newly added.
func (c *Client) subscribeTopic(topic protocol.Topic) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.topics[topic] {
		return false
	}
	c.topics[topic] = true
	return true
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	limiter := c.hub.limiters.For(c.clientID)
	rateLimitWarnings := 0

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
		received := time.Now()

		if !limiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				log.Printf("⚠️ Rate limit exceeded for %s in session %s (warning #%d)",
					c.identity, c.roomID, rateLimitWarnings)
			}
			if rateLimitWarnings > 1000 {
				log.Printf("🚫 Disconnecting %s for excessive rate limit violations", c.identity)
				return
			}
			continue
		}

		env, err := validateEnvelope(data, c.identity)
		if err != nil {
			log.Printf("⚠️ Invalid message from %s: %v", c.identity, err)
			continue
		}

		if env.Topic == protocol.TopicControl {
			sub, err := protocol.DecodeSubscribe(env)
			if err != nil {
				log.Printf("⚠️ Invalid subscribe from %s: %v", c.identity, err)
				continue
			}
			c.hub.subscribe <- &subscription{client: c, topics: sub.Topics}
			continue
		}

		c.hub.broadcast <- &Message{
			RoomID:   c.roomID,
			Envelope: env,
			Sender:   c,
			received: received,
		}
	}
}

// validateEnvelope parses a client frame. Only the relay may speak on the
// presence topic, and the author is always the connection's identity.
func validateEnvelope(data []byte, identity string) (protocol.Envelope, error) {
	if len(data) == 0 {
		return protocol.Envelope{}, fmt.Errorf("empty message")
	}
	env, err := protocol.Unmarshal(data)
	if err != nil {
		return protocol.Envelope{}, err
	}
	if env.Topic == protocol.TopicPresence {
		return protocol.Envelope{}, fmt.Errorf("presence is relay-only")
	}
	if err := env.Validate(); err != nil {
		return protocol.Envelope{}, err
	}
	env.Author = identity
	return env, nil
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
