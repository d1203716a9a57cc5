package replication

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manpreetbhatti/classboard/internal/protocol"
)

type fakeTransport struct {
	mu         sync.Mutex
	subscribed []protocol.Topic
	handlers   map[protocol.Topic]func(protocol.Envelope)
	sent       []protocol.Envelope
	present    []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[protocol.Topic]func(protocol.Envelope))}
}

func (f *fakeTransport) Subscribe(topic protocol.Topic) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	return nil
}

func (f *fakeTransport) Send(_ protocol.Topic, env protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeTransport) OnMessage(topic protocol.Topic, h func(protocol.Envelope)) {
	f.handlers[topic] = h
}

func (f *fakeTransport) Present() []string { return f.present }

func (f *fakeTransport) deliver(t *testing.T, author string, m protocol.Message) {
	t.Helper()
	env, err := protocol.Encode(author, m)
	require.NoError(t, err)
	h, ok := f.handlers[m.Topic()]
	require.True(t, ok, "no handler for %s", m.Topic())
	h(env)
}

type applied struct {
	author string
	msg    protocol.Message
}

func setup(t *testing.T) (*Replicator, *fakeTransport, *[]applied) {
	t.Helper()
	var got []applied
	tr := newFakeTransport()
	r := New("me", tr, ApplierFunc(func(author string, m protocol.Message) {
		got = append(got, applied{author, m})
	}), nil)
	require.NoError(t, r.Start())
	return r, tr, &got
}

func TestStartSubscribesBoardTopics(t *testing.T) {
	_, tr, _ := setup(t)
	assert.ElementsMatch(t, protocol.BoardTopics, tr.subscribed)
}

func TestSelfEchoSuppressedForIncrementalStrokes(t *testing.T) {
	_, tr, got := setup(t)

	tr.deliver(t, "me", protocol.StrokeBegin{X: 0.1, Y: 0.1, Color: "#000", Width: 3})
	tr.deliver(t, "me", protocol.StrokeDraw{X: 0.2, Y: 0.2})
	tr.deliver(t, "me", protocol.StrokeEnd{})
	assert.Empty(t, *got)

	tr.deliver(t, "me", protocol.StrokeLayer{PNG: []byte{1}})
	tr.deliver(t, "other", protocol.StrokeBegin{})
	require.Len(t, *got, 2)
	assert.Equal(t, protocol.TypeLayer, (*got)[0].msg.Type())
	assert.Equal(t, "other", (*got)[1].author)
}

func TestDuplicateCreatesApplyOnce(t *testing.T) {
	r, tr, got := setup(t)

	for i := 0; i < 3; i++ {
		tr.deliver(t, "other", protocol.ImageAdd{ID: "abc", URL: "/u/a.png"})
	}
	tr.deliver(t, "other", protocol.PinAdd{ID: "p1"})
	tr.deliver(t, "other", protocol.PinAdd{ID: "p1"})

	assert.Len(t, *got, 2)
	assert.Equal(t, int64(3), r.Stats().Duplicates)
}

func TestBroadcastMarksOwnCreatesSeen(t *testing.T) {
	r, tr, got := setup(t)

	require.NoError(t, r.Broadcast(protocol.ImageAdd{ID: "mine"}))
	require.Len(t, tr.sent, 1)
	assert.Equal(t, "me", tr.sent[0].Author)

	tr.deliver(t, "me", protocol.ImageAdd{ID: "mine"})
	assert.Empty(t, *got)
}

func TestRevisedImageAddIsNotADuplicate(t *testing.T) {
	r, tr, got := setup(t)

	tr.deliver(t, "other", protocol.ImageAdd{ID: "abc"})
	tr.deliver(t, "other", protocol.ImageAdd{ID: "abc", Rev: 1})
	tr.deliver(t, "other", protocol.ImageAdd{ID: "abc", Rev: 1})

	require.Len(t, *got, 2)
	assert.Equal(t, 1, (*got)[1].msg.(protocol.ImageAdd).Rev)
	assert.Equal(t, int64(1), r.Stats().Duplicates)
}

func TestUnknownTagsRejected(t *testing.T) {
	r, tr, got := setup(t)
	tr.handlers[protocol.TopicStroke](protocol.Envelope{Topic: protocol.TopicStroke, Type: "smudge", Author: "x"})

	assert.Empty(t, *got)
	assert.Equal(t, int64(1), r.Stats().Rejected)
}
