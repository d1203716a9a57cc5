package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manpreetbhatti/classboard/internal/protocol"
	"github.com/manpreetbhatti/classboard/internal/realtime"
)

const waitFor = 2 * time.Second

type recorder struct {
	mu      sync.Mutex
	relayed int
}

func (r *recorder) Relayed(int, time.Duration) {
	r.mu.Lock()
	r.relayed++
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.relayed
}

// Collects envelopes delivered to a realtime client
type inbox struct {
	envs []protocol.Envelope
	mu   sync.Mutex
}

func (i *inbox) handle(env protocol.Envelope) {
	i.mu.Lock()
	i.envs = append(i.envs, env)
	i.mu.Unlock()
}

func (i *inbox) get() []protocol.Envelope {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]protocol.Envelope(nil), i.envs...)
}

func startHub(t *testing.T) (*Hub, string, *recorder) {
	t.Helper()
	rec := &recorder{}
	opts := DefaultOptions()
	opts.Recorder = rec
	hub := NewHub(opts)
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http"), rec
}

func dial(t *testing.T, url, identity string, topics ...protocol.Topic) (*realtime.Conn, *inbox) {
	t.Helper()
	conn, err := realtime.Dial(context.Background(), url, "session-1", identity, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	in := &inbox{}
	for _, topic := range topics {
		conn.OnMessage(topic, in.handle)
		require.NoError(t, conn.Subscribe(topic))
	}
	return conn, in
}

func send(t *testing.T, conn *realtime.Conn, author string, m protocol.Message) {
	t.Helper()
	env, err := protocol.Encode(author, m)
	require.NoError(t, err)
	require.NoError(t, conn.Send(m.Topic(), env))
}

func TestHubCreation(t *testing.T) {
	hub := NewHub(Options{})
	if hub == nil {
		t.Fatal("Hub should not be nil")
	}
	if hub.rooms == nil {
		t.Error("Hub rooms map should be initialized")
	}
	if hub.roomStates == nil {
		t.Error("Hub roomStates map should be initialized")
	}
	hub.Stop()
}

func TestHubGetRoomState(t *testing.T) {
	hub := NewHub(DefaultOptions())
	defer hub.Stop()

	state1 := hub.getRoomState("test-room")
	if state1 == nil {
		t.Fatal("Room state should not be nil")
	}
	if state2 := hub.getRoomState("test-room"); state1 != state2 {
		t.Error("Should return same room state instance")
	}
	if state3 := hub.getRoomState("other-room"); state1 == state3 {
		t.Error("Different rooms should have different states")
	}
	if hub.GetRoomCount() != 0 {
		t.Errorf("Expected 0 active rooms without clients, got %d", hub.GetRoomCount())
	}
}

func TestValidateEnvelope(t *testing.T) {
	good, _ := protocol.Marshal(protocol.Envelope{Topic: protocol.TopicStroke, Type: "end", Author: "mallory"})
	env, err := validateEnvelope(good, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", env.Author, "author is forced to the connection identity")

	for name, frame := range map[string]string{
		"empty":        ``,
		"garbage":      `{nope`,
		"unknown type": `{"topic":"stroke","type":"scribble"}`,
		"no type":      `{"topic":"image"}`,
		"bad topic":    `{"topic":"chat","type":"add"}`,
		"presence":     `{"topic":"presence","type":"sync","payload":{"identities":["x"]}}`,
	} {
		_, err := validateEnvelope([]byte(frame), "alice")
		assert.Error(t, err, name)
	}
}

func TestRelayToOtherSubscribers(t *testing.T) {
	hub, url, rec := startHub(t)
	alice, aliceIn := dial(t, url, "alice", protocol.TopicStroke)
	bob, bobIn := dial(t, url, "bob", protocol.TopicStroke)

	send(t, alice, "mallory", protocol.StrokeBegin{X: 0.1, Y: 0.2, Color: "#000", Width: 3})
	require.Eventually(t, func() bool { return len(bobIn.get()) == 1 }, waitFor, 10*time.Millisecond)

	got := bobIn.get()[0]
	assert.Equal(t, "alice", got.Author)
	m, err := protocol.Decode(got)
	require.NoError(t, err)
	assert.Equal(t, protocol.StrokeBegin{X: 0.1, Y: 0.2, Color: "#000", Width: 3}, m)

	send(t, bob, "bob", protocol.StrokeEnd{})
	require.Eventually(t, func() bool { return len(aliceIn.get()) == 1 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, "bob", aliceIn.get()[0].Author, "the sender never gets its own message")

	assert.Equal(t, 1, hub.GetRoomCount())
	assert.Equal(t, 2, hub.GetClientCount())
	assert.Equal(t, []string{"session-1"}, hub.GetActiveRooms())
	assert.Equal(t, 2, hub.Retained("session-1"))
	assert.GreaterOrEqual(t, rec.count(), 1)
}

func TestLateJoinerReplay(t *testing.T) {
	hub, url, _ := startHub(t)
	alice, _ := dial(t, url, "alice")

	send(t, alice, "alice", protocol.ImageAdd{ID: "img-1", URL: "/uploads/a.png", W: 0.2, H: 0.2})
	send(t, alice, "alice", protocol.ImageAdd{ID: "img-2", URL: "/uploads/b.png", W: 0.2, H: 0.2})
	send(t, alice, "alice", protocol.ImageDelete{ID: "img-1"})
	send(t, alice, "alice", protocol.PermissionChange{Target: "all", CanDraw: true})

	require.Eventually(t, func() bool {
		replay := hub.getRoomState("session-1").Replay(protocol.TopicImage)
		return len(replay) == 1 && strings.Contains(string(replay[0].Payload), "img-2")
	}, waitFor, 10*time.Millisecond)

	_, carolIn := dial(t, url, "carol", protocol.TopicImage, protocol.TopicPermission)
	require.Eventually(t, func() bool { return len(carolIn.get()) == 1 }, waitFor, 10*time.Millisecond)
	m, err := protocol.Decode(carolIn.get()[0])
	require.NoError(t, err)
	assert.Equal(t, "img-2", m.(protocol.ImageAdd).ID)
}

func TestPresenceFollowsConnections(t *testing.T) {
	hub, url, _ := startHub(t)
	bob, _ := dial(t, url, "bob", protocol.TopicPresence)
	alice, _ := dial(t, url, "alice")

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"alice", "bob"}, bob.Present())
	}, waitFor, 10*time.Millisecond)

	require.NoError(t, alice.Close())
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"bob"}, bob.Present())
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, []string{"bob"}, hub.Presence("session-1"))
}

func TestServeWsRequiresIdentity(t *testing.T) {
	hub := NewHub(DefaultOptions())
	defer hub.Stop()

	rr := httptest.NewRecorder()
	ServeWs(hub, rr, httptest.NewRequest(http.MethodGet, "/ws?session=s", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
