// Package collab talks to the classboard HTTP API on behalf of a board. It
// implements the board's upload, snapshot, permission, presence and
// activity collaborators.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/manpreetbhatti/classboard/internal/board"
)

// ErrRejected is returned when the server answers {ok:false}.
var ErrRejected = errors.New("collab: rejected")

const identityHeader = "X-Classboard-User"

var (
	_ board.Uploader            = (*Client)(nil)
	_ board.SnapshotSaver       = (*Client)(nil)
	_ board.PermissionAuthority = (*Client)(nil)
	_ board.PresenceSyncer      = (*Client)(nil)
	_ board.ActivityRecorder    = (*Client)(nil)
)

// Client is bound to one session and acts as one identity.
type Client struct {
	base     string
	session  string
	identity string
	rest     *rest.Client
}

func New(baseURL, session, identity string) *Client {
	return &Client{
		base:     strings.TrimRight(baseURL, "/"),
		session:  session,
		identity: identity,
		rest:     &rest.Client{HTTPClient: &http.Client{Timeout: 30 * time.Second}},
	}
}

// reply is the union of every collaborator response body.
type reply struct {
	OK      bool     `json:"ok"`
	Error   string   `json:"error"`
	URL     string   `json:"url"`
	FileURL string   `json:"file_url"`
	Revoked []string `json:"revoked"`
}

func (c *Client) path(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.base + "/api/sessions/" + url.PathEscape(c.session) + "/" + strings.Join(escaped, "/")
}

func (c *Client) send(ctx context.Context, method rest.Method, endpoint, contentType string, body []byte) (*reply, error) {
	req := rest.Request{
		Method:  method,
		BaseURL: endpoint,
		Headers: map[string]string{
			identityHeader: c.identity,
			"Accept":       "application/json",
		},
		Body: body,
	}
	if contentType != "" {
		req.Headers["Content-Type"] = contentType
	}

	resp, err := c.rest.SendWithContext(ctx, req)
	if err != nil {
		return nil, errors.Wrapf(err, "collab: %s %s", method, endpoint)
	}

	var r reply
	if err := json.Unmarshal([]byte(resp.Body), &r); err != nil {
		return nil, errors.Wrapf(err, "collab: decode %d response", resp.StatusCode)
	}
	if !r.OK || resp.StatusCode >= http.StatusBadRequest {
		if r.Error == "" {
			r.Error = http.StatusText(resp.StatusCode)
		}
		return nil, errors.Wrap(ErrRejected, r.Error)
	}
	return &r, nil
}

func (c *Client) sendJSON(ctx context.Context, method rest.Method, endpoint string, v interface{}) (*reply, error) {
	var body []byte
	if v != nil {
		var err error
		if body, err = json.Marshal(v); err != nil {
			return nil, err
		}
	}
	return c.send(ctx, method, endpoint, "application/json", body)
}

func (c *Client) sendFile(ctx context.Context, endpoint, field, name string, r io.Reader) (*reply, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, name)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, errors.Wrap(err, "collab: read "+name)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return c.send(ctx, rest.Post, endpoint, mw.FormDataContentType(), buf.Bytes())
}

// Upload stores an attachment and returns its public URL.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (string, error) {
	resp, err := c.sendFile(ctx, c.path("uploads"), "file", name, r)
	if err != nil {
		return "", err
	}
	if resp.FileURL == "" {
		return "", errors.Wrap(ErrRejected, "no file_url")
	}
	return resp.FileURL, nil
}

// SaveSnapshot submits the composed board as a PNG.
func (c *Client) SaveSnapshot(ctx context.Context, png []byte) error {
	_, err := c.sendFile(ctx, c.path("snapshots"), "image", "whiteboard.png", bytes.NewReader(png))
	return err
}

func (c *Client) SetCanDraw(ctx context.Context, identity string, canDraw bool) error {
	_, err := c.sendJSON(ctx, rest.Put, c.path("participants", identity, "can-draw"),
		map[string]bool{"can_draw": canDraw})
	return err
}

// SyncPresence reports who is connected and returns whose draw permission
// the server revoked.
func (c *Client) SyncPresence(ctx context.Context, present []string) ([]string, error) {
	if present == nil {
		present = []string{}
	}
	resp, err := c.sendJSON(ctx, rest.Post, c.path("presence"),
		map[string][]string{"present": present})
	if err != nil {
		return nil, err
	}
	return resp.Revoked, nil
}

func (c *Client) RecordStroke(ctx context.Context, identity string) error {
	_, err := c.sendJSON(ctx, rest.Post, c.path("strokes"), nil)
	return err
}
