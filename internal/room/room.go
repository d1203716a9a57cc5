package room

import (
	"sync"

	"github.com/manpreetbhatti/classboard/internal/protocol"
)

// A classroom session's retained board traffic, replayed to late joiners
type Room struct {
	ID  string
	log []entry
	mu  sync.RWMutex
}

type entry struct {
	env protocol.Envelope
	msg protocol.Message
}

// Creates a new room with the given ID
func NewRoom(id string) *Room {
	return &Room{
		ID:  id,
		log: make([]entry, 0),
	}
}

// Retain records env for replay, compacting what it supersedes. It reports
// whether anything changed. Undecodable or transient messages are skipped.
func (r *Room) Retain(env protocol.Envelope) bool {
	m, err := protocol.Decode(env)
	if err != nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	author := env.Author
	switch v := m.(type) {
	case protocol.StrokeBegin, protocol.StrokeDraw, protocol.StrokeEnd:
		r.append(env, m)
	case protocol.StrokeLayer:
		r.drop(func(e entry) bool { return e.env.Topic == protocol.TopicStroke && e.env.Author == author })
		r.append(env, m)
	case protocol.StrokeClear:
		r.drop(func(e entry) bool { return e.env.Topic == protocol.TopicStroke && e.env.Author == author })
	case protocol.StrokeClearAll:
		r.drop(func(e entry) bool {
			return e.env.Topic == protocol.TopicStroke || e.env.Topic == protocol.TopicImage ||
				e.env.Topic == protocol.TopicAnnotation
		})

	case protocol.ImageAdd:
		r.append(env, m)
	case protocol.ImageTransform:
		r.drop(func(e entry) bool {
			t, ok := e.msg.(protocol.ImageTransform)
			return ok && t.ID == v.ID
		})
		r.append(env, m)
	case protocol.ImageDelete:
		r.drop(func(e entry) bool { return imageID(e.msg) == v.ID })
	case protocol.ImageClear, protocol.ImageClearAll:
		r.drop(func(e entry) bool { return e.env.Topic == protocol.TopicImage })

	case protocol.HighlightAdd, protocol.PinAdd:
		r.append(env, m)
	case protocol.AnnotationClear:
		r.drop(func(e entry) bool { return e.env.Topic == protocol.TopicAnnotation })

	case protocol.MetaToggle:
		r.drop(func(e entry) bool {
			t, ok := e.msg.(protocol.MetaToggle)
			return ok && t.Feature == v.Feature
		})
		r.append(env, m)

	default:
		// permission, history and presence are only meaningful live
		return false
	}
	return true
}

func (r *Room) append(env protocol.Envelope, m protocol.Message) {
	r.log = append(r.log, entry{env: env, msg: m})
}

func (r *Room) drop(match func(e entry) bool) {
	kept := r.log[:0]
	for _, e := range r.log {
		if !match(e) {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(r.log); i++ {
		r.log[i] = entry{}
	}
	r.log = kept
}

func imageID(m protocol.Message) string {
	switch v := m.(type) {
	case protocol.ImageAdd:
		return v.ID
	case protocol.ImageTransform:
		return v.ID
	}
	return ""
}

// Replay returns the retained messages of one topic, oldest first
func (r *Room) Replay(topic protocol.Topic) []protocol.Envelope {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.Envelope, 0)
	for _, e := range r.log {
		if e.env.Topic == topic {
			out = append(out, e.env)
		}
	}
	return out
}

func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.log)
}

// Removes everything retained
func (r *Room) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = make([]entry, 0)
}
