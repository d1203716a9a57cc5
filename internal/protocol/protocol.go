package protocol

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Logical channel a message travels on
type Topic string

const (
	TopicStroke     Topic = "stroke"
	TopicImage      Topic = "image"
	TopicAnnotation Topic = "annotation"
	TopicPermission Topic = "permission"
	TopicHistory    Topic = "history"
	TopicMeta       Topic = "meta"

	// Emitted by the relay only
	TopicPresence Topic = "presence"

	// Relay control (subscriptions); never delivered to board handlers
	TopicControl Topic = "control"
)

// Topics a board subscribes to on join
var BoardTopics = []Topic{
	TopicStroke,
	TopicImage,
	TopicAnnotation,
	TopicPermission,
	TopicHistory,
	TopicMeta,
	TopicPresence,
}

var (
	ErrUnknownTopic = errors.New("protocol: unknown topic")
	ErrUnknownType  = errors.New("protocol: unknown message type")
	ErrEmptyType    = errors.New("protocol: empty message type")
)

// Envelope is the transport-level frame: a topic, a type discriminator,
// the originating identity and the type-specific payload.
type Envelope struct {
	Topic   Topic           `json:"topic"`
	Type    string          `json:"type"`
	Author  string          `json:"author,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message is implemented by every typed payload variant.
type Message interface {
	Topic() Topic
	Type() string
}

// Encode wraps m in an envelope authored by author.
func Encode(author string, m Message) (Envelope, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return Envelope{}, errors.Wrapf(err, "protocol: encode %s/%s", m.Topic(), m.Type())
	}
	return Envelope{Topic: m.Topic(), Type: m.Type(), Author: author, Payload: payload}, nil
}

// Decode turns an envelope into its typed variant.
func Decode(env Envelope) (Message, error) {
	types, ok := registry[env.Topic]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTopic, "%q", env.Topic)
	}
	dec, ok := types[env.Type]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownType, "%s/%q", env.Topic, env.Type)
	}
	m, err := dec(env.Type, env.Payload)
	if err != nil {
		return nil, errors.Wrapf(err, "protocol: decode %s/%s", env.Topic, env.Type)
	}
	return m, nil
}

// Validate checks the frame shape without decoding the payload.
func (e Envelope) Validate() error {
	if e.Topic == TopicControl {
		if e.Type != TypeSubscribe {
			return errors.Wrapf(ErrUnknownType, "control/%q", e.Type)
		}
		return nil
	}
	types, ok := registry[e.Topic]
	if !ok {
		return errors.Wrapf(ErrUnknownTopic, "%q", e.Topic)
	}
	if e.Type == "" {
		return ErrEmptyType
	}
	if _, ok := types[e.Type]; !ok {
		return errors.Wrapf(ErrUnknownType, "%s/%q", e.Topic, e.Type)
	}
	return nil
}

func Marshal(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	return data, errors.Wrap(err, "protocol: marshal envelope")
}

func Unmarshal(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, errors.Wrap(err, "protocol: unmarshal envelope")
	}
	return env, nil
}

type decoder func(typ string, payload json.RawMessage) (Message, error)

func plain[T Message]() decoder {
	return func(_ string, payload json.RawMessage) (Message, error) {
		var m T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &m); err != nil {
				return nil, err
			}
		}
		return m, nil
	}
}

func transform(typ string, payload json.RawMessage) (Message, error) {
	var m ImageTransform
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, err
		}
	}
	m.Kind = TransformKind(typ)
	return m, nil
}

func history(typ string, _ json.RawMessage) (Message, error) {
	return HistoryEvent{Action: HistoryAction(typ)}, nil
}

var registry = map[Topic]map[string]decoder{
	TopicStroke: {
		TypeBegin:    plain[StrokeBegin](),
		TypeDraw:     plain[StrokeDraw](),
		TypeEnd:      plain[StrokeEnd](),
		TypeLayer:    plain[StrokeLayer](),
		TypeClear:    plain[StrokeClear](),
		TypeClearAll: plain[StrokeClearAll](),
	},
	TopicImage: {
		TypeAdd:                  plain[ImageAdd](),
		string(TransformMove):    transform,
		string(TransformResize):  transform,
		string(TransformRotate):  transform,
		string(TransformGeneral): transform,
		TypeDelete:               plain[ImageDelete](),
		TypeClear:                plain[ImageClear](),
		TypeClearAll:             plain[ImageClearAll](),
	},
	TopicAnnotation: {
		TypeHighlightAdd: plain[HighlightAdd](),
		TypePinAdd:       plain[PinAdd](),
		TypeClear:        plain[AnnotationClear](),
	},
	TopicPermission: {
		TypeSet: plain[PermissionChange](),
	},
	TopicHistory: {
		string(HistoryUndo): history,
		string(HistoryRedo): history,
	},
	TopicMeta: {
		TypeToggle: plain[MetaToggle](),
	},
	TopicPresence: {
		TypeSync: plain[PresenceSync](),
	},
}

// DecodeSubscribe reads a control/subscribe frame.
func DecodeSubscribe(env Envelope) (Subscribe, error) {
	var m Subscribe
	if env.Topic != TopicControl || env.Type != TypeSubscribe {
		return m, errors.Wrapf(ErrUnknownType, "%s/%q", env.Topic, env.Type)
	}
	if err := json.Unmarshal(env.Payload, &m); err != nil {
		return m, errors.Wrap(err, "protocol: decode subscribe")
	}
	return m, nil
}
