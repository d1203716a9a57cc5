package collab

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manpreetbhatti/classboard/internal/api"
	"github.com/manpreetbhatti/classboard/internal/db"
	"github.com/manpreetbhatti/classboard/internal/ws"
)

type server struct {
	url      string
	database *db.Database
	session  string
}

func startServer(t *testing.T) *server {
	t.Helper()
	dir, err := os.MkdirTemp("", "classboard-collab-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	database, err := db.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	hub := ws.NewHub(ws.DefaultOptions())
	go hub.Run()
	t.Cleanup(hub.Stop)

	a := api.New(hub, database, nil, api.Options{UploadDir: filepath.Join(dir, "uploads")}, nil)
	srv := httptest.NewServer(a.Echo())
	t.Cleanup(srv.Close)

	s, err := database.CreateSession("sess-1", "Geometry", "GEO123", "teacher")
	require.NoError(t, err)
	_, err = database.JoinParticipant(s.ID, "student", "Student")
	require.NoError(t, err)

	return &server{url: srv.URL, database: database, session: s.ID}
}

func boardPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 48))))
	return buf.Bytes()
}

func TestSaveSnapshot(t *testing.T) {
	srv := startServer(t)
	c := New(srv.url, srv.session, "teacher")

	require.NoError(t, c.SaveSnapshot(context.Background(), boardPNG(t)))

	n, err := srv.database.CountSnapshots(srv.session)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSaveSnapshotRejected(t *testing.T) {
	srv := startServer(t)
	c := New(srv.url, srv.session, "student")

	err := c.SaveSnapshot(context.Background(), boardPNG(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRejected))
	assert.Contains(t, err.Error(), "permission_denied")
}

func TestUpload(t *testing.T) {
	srv := startServer(t)
	c := New(srv.url, srv.session, "teacher")

	url, err := c.Upload(context.Background(), "diagram.png", bytes.NewReader(boardPNG(t)))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "/uploads/"+srv.session+"/"))
	assert.True(t, strings.HasSuffix(url, ".png"))
}

func TestPermissionAndPresence(t *testing.T) {
	srv := startServer(t)
	teacher := New(srv.url, srv.session, "teacher")
	ctx := context.Background()

	require.NoError(t, teacher.SetCanDraw(ctx, "student", true))
	p, err := srv.database.GetParticipant(srv.session, "student")
	require.NoError(t, err)
	assert.True(t, p.CanDraw)

	revoked, err := teacher.SyncPresence(ctx, []string{"teacher"})
	require.NoError(t, err)
	assert.Equal(t, []string{"student"}, revoked)

	revoked, err = teacher.SyncPresence(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, revoked)

	student := New(srv.url, srv.session, "student")
	err = student.SetCanDraw(ctx, "student", true)
	assert.True(t, errors.Is(err, ErrRejected))
}

func TestRecordStroke(t *testing.T) {
	srv := startServer(t)
	c := New(srv.url, srv.session, "student")

	require.NoError(t, c.RecordStroke(context.Background(), "student"))
	p, err := srv.database.GetParticipant(srv.session, "student")
	require.NoError(t, err)
	assert.Equal(t, 1, p.StrokesCount)
}

func TestUnknownSession(t *testing.T) {
	srv := startServer(t)
	c := New(srv.url, "missing", "teacher")

	err := c.RecordStroke(context.Background(), "teacher")
	assert.True(t, errors.Is(err, ErrRejected))
}
