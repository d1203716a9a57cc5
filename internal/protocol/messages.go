package protocol

// Type discriminators
const (
	TypeBegin        = "begin"
	TypeDraw         = "draw"
	TypeEnd          = "end"
	TypeLayer        = "layer"
	TypeClear        = "clear"
	TypeClearAll     = "clear_all"
	TypeAdd          = "add"
	TypeDelete       = "delete"
	TypeHighlightAdd = "highlight-add"
	TypePinAdd       = "pin-add"
	TypeSet          = "set"
	TypeToggle       = "toggle"
	TypeSync         = "sync"
	TypeSubscribe    = "subscribe"
)

// All spatial fields below are fractions of the sender's viewport.

type StrokeBegin struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Color string  `json:"color"`
	Width float64 `json:"width"`
	Erase bool    `json:"erase,omitempty"`
}

type StrokeDraw struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type StrokeEnd struct{}

// StrokeLayer replaces the author's whole layer on every peer.
type StrokeLayer struct {
	PNG    []byte `json:"png"`
	Width  int    `json:"w"`
	Height int    `json:"h"`
}

// StrokeClear wipes the author's own layer (legacy).
type StrokeClear struct{}

type StrokeClearAll struct{}

func (StrokeBegin) Topic() Topic    { return TopicStroke }
func (StrokeDraw) Topic() Topic     { return TopicStroke }
func (StrokeEnd) Topic() Topic      { return TopicStroke }
func (StrokeLayer) Topic() Topic    { return TopicStroke }
func (StrokeClear) Topic() Topic    { return TopicStroke }
func (StrokeClearAll) Topic() Topic { return TopicStroke }

func (StrokeBegin) Type() string    { return TypeBegin }
func (StrokeDraw) Type() string     { return TypeDraw }
func (StrokeEnd) Type() string      { return TypeEnd }
func (StrokeLayer) Type() string    { return TypeLayer }
func (StrokeClear) Type() string    { return TypeClear }
func (StrokeClearAll) Type() string { return TypeClearAll }

type ImageAdd struct {
	ID       string  `json:"id"`
	URL      string  `json:"url"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	W        float64 `json:"w"`
	H        float64 `json:"h"`
	Rotation float64 `json:"rotation"`
	// Rev is bumped each time an undo or redo brings the id back.
	Rev int `json:"rev,omitempty"`
}

type TransformKind string

const (
	TransformMove    TransformKind = "move"
	TransformResize  TransformKind = "resize"
	TransformRotate  TransformKind = "rotate"
	TransformGeneral TransformKind = "transform"
)

// ImageTransform carries the absolute geometry after the change, so the
// last one applied wins regardless of Kind.
type ImageTransform struct {
	Kind     TransformKind `json:"-"`
	ID       string        `json:"id"`
	X        float64       `json:"x"`
	Y        float64       `json:"y"`
	W        float64       `json:"w"`
	H        float64       `json:"h"`
	Rotation float64       `json:"rotation"`
}

type ImageDelete struct {
	ID string `json:"id"`
}

type ImageClear struct{}

type ImageClearAll struct{}

func (ImageAdd) Topic() Topic       { return TopicImage }
func (ImageTransform) Topic() Topic { return TopicImage }
func (ImageDelete) Topic() Topic    { return TopicImage }
func (ImageClear) Topic() Topic     { return TopicImage }
func (ImageClearAll) Topic() Topic  { return TopicImage }

func (ImageAdd) Type() string { return TypeAdd }
func (m ImageTransform) Type() string {
	if m.Kind == "" {
		return string(TransformGeneral)
	}
	return string(m.Kind)
}
func (ImageDelete) Type() string   { return TypeDelete }
func (ImageClear) Type() string    { return TypeClear }
func (ImageClearAll) Type() string { return TypeClearAll }

type HighlightAdd struct {
	ID    string  `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	W     float64 `json:"w"`
	H     float64 `json:"h"`
	Color string  `json:"color,omitempty"`
}

type PinAdd struct {
	ID   string  `json:"id"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Text string  `json:"text"`
}

type AnnotationClear struct{}

func (HighlightAdd) Topic() Topic    { return TopicAnnotation }
func (PinAdd) Topic() Topic          { return TopicAnnotation }
func (AnnotationClear) Topic() Topic { return TopicAnnotation }

func (HighlightAdd) Type() string    { return TypeHighlightAdd }
func (PinAdd) Type() string          { return TypePinAdd }
func (AnnotationClear) Type() string { return TypeClear }

// Target of a permission change matching every participant
const TargetAll = "all"

type PermissionChange struct {
	Target  string `json:"target"`
	CanDraw bool   `json:"can_draw"`
}

func (PermissionChange) Topic() Topic { return TopicPermission }
func (PermissionChange) Type() string { return TypeSet }

// Applies reports whether the change is addressed to identity.
func (m PermissionChange) Applies(identity string) bool {
	return m.Target == TargetAll || m.Target == identity
}

type HistoryAction string

const (
	HistoryUndo HistoryAction = "undo"
	HistoryRedo HistoryAction = "redo"
)

// HistoryEvent announces an undo/redo; the acting author is the envelope author.
type HistoryEvent struct {
	Action HistoryAction `json:"-"`
}

func (HistoryEvent) Topic() Topic   { return TopicHistory }
func (m HistoryEvent) Type() string { return string(m.Action) }

type MetaToggle struct {
	Feature string `json:"feature"`
	Enabled bool   `json:"enabled"`
}

func (MetaToggle) Topic() Topic { return TopicMeta }
func (MetaToggle) Type() string { return TypeToggle }

type PresenceSync struct {
	Identities []string `json:"identities"`
}

func (PresenceSync) Topic() Topic { return TopicPresence }
func (PresenceSync) Type() string { return TypeSync }

// Subscribe asks the relay to deliver the listed topics to this connection.
type Subscribe struct {
	Topics []Topic `json:"topics"`
}

func (Subscribe) Topic() Topic { return TopicControl }
func (Subscribe) Type() string { return TypeSubscribe }
