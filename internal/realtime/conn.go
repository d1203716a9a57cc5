package realtime

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/manpreetbhatti/classboard/internal/logger"
	"github.com/manpreetbhatti/classboard/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024 * 1024
	sendBuffer     = 512
)

var ErrClosed = errors.New("realtime: connection closed")

// Conn is the websocket client side of the relay.
type Conn struct {
	identity string
	ws       *websocket.Conn
	send     chan []byte
	log      logger.Logger

	handlers map[protocol.Topic][]func(protocol.Envelope)
	present  []string
	mu       sync.RWMutex

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects identity to session on the relay at serverURL (ws:// or wss://).
func Dial(ctx context.Context, serverURL, session, identity string, log logger.Logger) (*Conn, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, errors.Wrap(err, "realtime: parse url")
	}
	q := u.Query()
	q.Set("session", session)
	q.Set("user", identity)
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "realtime: dial %s", u.Host)
	}
	if log == nil {
		log = logger.Nop()
	}

	c := &Conn{
		identity: identity,
		ws:       ws,
		send:     make(chan []byte, sendBuffer),
		log:      log,
		handlers: make(map[protocol.Topic][]func(protocol.Envelope)),
		done:     make(chan struct{}),
	}
	go c.writePump()
	go c.readPump()
	return c, nil
}

func (c *Conn) Identity() string {
	return c.identity
}

func (c *Conn) Subscribe(topic protocol.Topic) error {
	env, err := protocol.Encode(c.identity, protocol.Subscribe{Topics: []protocol.Topic{topic}})
	if err != nil {
		return err
	}
	return c.write(env)
}

func (c *Conn) Send(topic protocol.Topic, env protocol.Envelope) error {
	env.Topic = topic
	return c.write(env)
}

func (c *Conn) OnMessage(topic protocol.Topic, handler func(protocol.Envelope)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = append(c.handlers[topic], handler)
}

// Present returns the identities from the latest presence sync.
func (c *Conn) Present() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.present...)
}

// Done is closed once the connection is gone.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Close() error {
	c.shutdown()
	return nil
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Conn) write(env protocol.Envelope) error {
	data, err := protocol.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	case c.send <- data:
		return nil
	}
}

func (c *Conn) dispatch(env protocol.Envelope) {
	if env.Topic == protocol.TopicPresence {
		if m, err := protocol.Decode(env); err == nil {
			if ps, ok := m.(protocol.PresenceSync); ok {
				c.mu.Lock()
				c.present = append([]string(nil), ps.Identities...)
				c.mu.Unlock()
			}
		}
	}

	c.mu.RLock()
	handlers := append(([]func(protocol.Envelope))(nil), c.handlers[env.Topic]...)
	c.mu.RUnlock()
	for _, h := range handlers {
		h(env)
	}
}

func (c *Conn) readPump() {
	defer func() {
		c.shutdown()
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("realtime: read failed", err)
			}
			return
		}
		env, err := protocol.Unmarshal(data)
		if err != nil {
			c.log.Warn("realtime: bad frame", err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Warn("realtime: write failed", err)
				c.shutdown()
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		}
	}
}
