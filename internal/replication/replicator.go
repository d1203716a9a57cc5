package replication

import (
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/manpreetbhatti/classboard/internal/logger"
	"github.com/manpreetbhatti/classboard/internal/protocol"
)

// Transport is the publish/subscribe collaborator. Delivery is at-least-once
// and only ordered per topic per sender.
type Transport interface {
	Subscribe(topic protocol.Topic) error
	Send(topic protocol.Topic, env protocol.Envelope) error
	OnMessage(topic protocol.Topic, handler func(protocol.Envelope))
	Present() []string
}

// Applier receives decoded inbound messages that survived filtering.
type Applier interface {
	Apply(author string, m protocol.Message)
}

type ApplierFunc func(author string, m protocol.Message)

func (f ApplierFunc) Apply(author string, m protocol.Message) { f(author, m) }

type Stats struct {
	Sent       int64
	Applied    int64
	Echoes     int64
	Duplicates int64
	Rejected   int64
}

// Replicator turns local mutations into envelopes and filters inbound ones
// before they reach the board.
type Replicator struct {
	identity  string
	transport Transport
	applier   Applier
	log       logger.Logger

	seen  map[string]struct{}
	stats Stats
	mu    sync.Mutex
}

func New(identity string, transport Transport, applier Applier, log logger.Logger) *Replicator {
	if log == nil {
		log = logger.Nop()
	}
	return &Replicator{
		identity:  identity,
		transport: transport,
		applier:   applier,
		log:       log,
		seen:      make(map[string]struct{}),
	}
}

func (r *Replicator) Identity() string {
	return r.identity
}

// Start registers handlers and subscribes to every board topic.
func (r *Replicator) Start() error {
	for _, topic := range protocol.BoardTopics {
		r.transport.OnMessage(topic, r.Receive)
	}
	for _, topic := range protocol.BoardTopics {
		if err := r.transport.Subscribe(topic); err != nil {
			return errors.Wrapf(err, "replication: subscribe %s", topic)
		}
	}
	return nil
}

// Broadcast sends m authored by the local identity. Ids of messages that
// create objects are recorded so echoes of them are ignored.
func (r *Replicator) Broadcast(m protocol.Message) error {
	env, err := protocol.Encode(r.identity, m)
	if err != nil {
		return err
	}
	if key, ok := createKey(m); ok {
		r.MarkSeen(key)
	}
	r.mu.Lock()
	r.stats.Sent++
	r.mu.Unlock()
	return errors.Wrapf(r.transport.Send(m.Topic(), env), "replication: send %s/%s", m.Topic(), m.Type())
}

// Present proxies the transport's presence set.
func (r *Replicator) Present() []string {
	return r.transport.Present()
}

// MarkSeen records a create key; it reports false if it was already known.
func (r *Replicator) MarkSeen(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[key]; ok {
		return false
	}
	r.seen[key] = struct{}{}
	return true
}

func (r *Replicator) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Receive decodes and filters one inbound envelope.
func (r *Replicator) Receive(env protocol.Envelope) {
	m, err := protocol.Decode(env)
	if err != nil {
		r.count(func(s *Stats) { s.Rejected++ })
		r.log.Warn("replication: dropping message", err)
		return
	}

	if env.Author == r.identity && isSelfFiltered(m) {
		r.count(func(s *Stats) { s.Echoes++ })
		return
	}

	if key, ok := createKey(m); ok && !r.MarkSeen(key) {
		r.count(func(s *Stats) { s.Duplicates++ })
		r.log.Debug("replication: duplicate create ignored", key)
		return
	}

	r.count(func(s *Stats) { s.Applied++ })
	r.applier.Apply(env.Author, m)
}

func (r *Replicator) count(fn func(s *Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

// Own incremental stroke events and own history announcements are already
// reflected locally.
func isSelfFiltered(m protocol.Message) bool {
	switch m.(type) {
	case protocol.StrokeBegin, protocol.StrokeDraw, protocol.StrokeEnd, protocol.HistoryEvent:
		return true
	}
	return false
}

func createKey(m protocol.Message) (string, bool) {
	switch v := m.(type) {
	case protocol.ImageAdd:
		key := "image:" + v.ID
		if v.Rev > 0 {
			key += "#" + strconv.Itoa(v.Rev)
		}
		return key, v.ID != ""
	case protocol.HighlightAdd:
		return "annotation:" + v.ID, v.ID != ""
	case protocol.PinAdd:
		return "annotation:" + v.ID, v.ID != ""
	}
	return "", false
}
