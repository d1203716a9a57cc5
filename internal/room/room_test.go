package room

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manpreetbhatti/classboard/internal/protocol"
)

func env(t *testing.T, author string, m protocol.Message) protocol.Envelope {
	t.Helper()
	e, err := protocol.Encode(author, m)
	require.NoError(t, err)
	return e
}

func types(envs []protocol.Envelope) []string {
	out := make([]string, len(envs))
	for i, e := range envs {
		out[i] = e.Author + ":" + e.Type
	}
	return out
}

func TestLayerResyncCompactsOnlyItsAuthor(t *testing.T) {
	r := NewRoom("s")
	r.Retain(env(t, "a", protocol.StrokeBegin{}))
	r.Retain(env(t, "b", protocol.StrokeBegin{}))
	r.Retain(env(t, "a", protocol.StrokeDraw{}))
	r.Retain(env(t, "a", protocol.StrokeEnd{}))
	r.Retain(env(t, "a", protocol.StrokeLayer{PNG: []byte{1}}))
	r.Retain(env(t, "b", protocol.StrokeEnd{}))

	assert.Equal(t, []string{"b:begin", "a:layer", "b:end"}, types(r.Replay(protocol.TopicStroke)))
}

func TestImageDeleteForgetsTheImage(t *testing.T) {
	r := NewRoom("s")
	r.Retain(env(t, "a", protocol.ImageAdd{ID: "1"}))
	r.Retain(env(t, "a", protocol.ImageAdd{ID: "2"}))
	r.Retain(env(t, "a", protocol.ImageTransform{Kind: protocol.TransformMove, ID: "1", X: 0.1}))
	r.Retain(env(t, "b", protocol.ImageTransform{Kind: protocol.TransformRotate, ID: "1", Rotation: 5}))
	r.Retain(env(t, "a", protocol.ImageTransform{Kind: protocol.TransformMove, ID: "2"}))

	replay := r.Replay(protocol.TopicImage)
	require.Len(t, replay, 4)
	assert.Equal(t, "b:rotate", types(replay)[2], "only the latest transform per image is kept")

	r.Retain(env(t, "a", protocol.ImageDelete{ID: "1"}))
	assert.Equal(t, []string{"a:add", "a:move"}, types(r.Replay(protocol.TopicImage)))
}

func TestClearAllDropsBoardContent(t *testing.T) {
	r := NewRoom("s")
	r.Retain(env(t, "a", protocol.StrokeBegin{}))
	r.Retain(env(t, "a", protocol.ImageAdd{ID: "1"}))
	r.Retain(env(t, "a", protocol.PinAdd{ID: "p"}))
	r.Retain(env(t, "t", protocol.MetaToggle{Feature: "chat", Enabled: true}))
	r.Retain(env(t, "t", protocol.StrokeClearAll{}))

	assert.Equal(t, 1, r.Len())
	assert.Len(t, r.Replay(protocol.TopicMeta), 1)
}

func TestTransientMessagesAreNotRetained(t *testing.T) {
	r := NewRoom("s")
	assert.False(t, r.Retain(env(t, "t", protocol.PermissionChange{Target: "all"})))
	assert.False(t, r.Retain(env(t, "a", protocol.HistoryEvent{Action: protocol.HistoryUndo})))
	assert.False(t, r.Retain(protocol.Envelope{Topic: "bogus", Type: "x"}))
	assert.Zero(t, r.Len())
}

func TestMetaToggleKeepsLatestPerFeature(t *testing.T) {
	r := NewRoom("s")
	r.Retain(env(t, "t", protocol.MetaToggle{Feature: "chat", Enabled: true}))
	r.Retain(env(t, "t", protocol.MetaToggle{Feature: "hands", Enabled: true}))
	r.Retain(env(t, "t", protocol.MetaToggle{Feature: "chat", Enabled: false}))

	replay := r.Replay(protocol.TopicMeta)
	require.Len(t, replay, 2)
	m, err := protocol.Decode(replay[1])
	require.NoError(t, err)
	assert.Equal(t, protocol.MetaToggle{Feature: "chat", Enabled: false}, m)
}

func TestRoomConcurrency(t *testing.T) {
	r := NewRoom("s")
	draw := env(t, "a", protocol.StrokeDraw{X: 0.5})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Retain(draw)
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, r.Len())
}
