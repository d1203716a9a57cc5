package board

import (
	"context"
	"io"
)

type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeWarning
	NoticeError
)

func (l NoticeLevel) String() string {
	switch l {
	case NoticeWarning:
		return "warning"
	case NoticeError:
		return "error"
	}
	return "info"
}

// Notice is a short user-facing message.
type Notice struct {
	Level NoticeLevel
	Text  string
}

// View receives state the host UI has to surface. Calls happen outside the
// board lock, possibly from transport goroutines.
type View interface {
	Notify(n Notice)
	PermissionChanged(canDraw bool)
	FeatureChanged(feature string, enabled bool)
}

type NopView struct{}

func (NopView) Notify(Notice)               {}
func (NopView) PermissionChanged(bool)      {}
func (NopView) FeatureChanged(string, bool) {}

// Uploader stores an image file and returns the URL it is served from.
type Uploader interface {
	Upload(ctx context.Context, name string, r io.Reader) (string, error)
}

// SnapshotSaver persists a composed PNG of the board.
type SnapshotSaver interface {
	SaveSnapshot(ctx context.Context, png []byte) error
}

// PermissionAuthority is the server-side record of who may draw.
type PermissionAuthority interface {
	SetCanDraw(ctx context.Context, identity string, canDraw bool) error
}

// PresenceSyncer reports the present participants and returns the ids whose
// permission the server revoked as a result.
type PresenceSyncer interface {
	SyncPresence(ctx context.Context, present []string) ([]string, error)
}

// ActivityRecorder is told about every completed local stroke.
type ActivityRecorder interface {
	RecordStroke(ctx context.Context, identity string) error
}

type Tool int

const (
	ToolPen Tool = iota
	ToolEraser
	ToolHighlight
	ToolPin
	ToolSelect
)

func (t Tool) String() string {
	switch t {
	case ToolEraser:
		return "eraser"
	case ToolHighlight:
		return "highlight"
	case ToolPin:
		return "pin"
	case ToolSelect:
		return "select"
	}
	return "pen"
}
