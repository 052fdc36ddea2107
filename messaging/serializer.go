package messaging

import (
	"encoding/json"
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

// Headers set by the JSON serializer.
const (
	HeaderType        = "type"
	HeaderContentType = "Content-Type"

	contentTypeJSON = "application/json"
)

// EncodedMessage is the wire form of an envelope.
type EncodedMessage struct {
	Body    []byte
	Headers map[string]string
	// Key is nil for unkeyed messages.
	Key []byte
}

// Serializer converts envelopes to and from their wire form. Decode must
// return a *MessageDecodingFailedError when the input is malformed.
type Serializer interface {
	Encode(env *Envelope) (EncodedMessage, error)
	Decode(msg EncodedMessage) (*Envelope, error)
}

// JSONSerializer encodes messages as JSON and names their type in the "type"
// header. Message types must be registered on both ends.
type JSONSerializer struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

// NewJSONSerializer returns a serializer with no registered types.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
}

// Register associates name with the type of sample. Pointers and values of
// the same struct share the registration; decoding yields a pointer.
func (s *JSONSerializer) Register(name string, sample interface{}) {
	t := reflect.TypeOf(sample)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	s.mu.Lock()
	s.byName[name] = t
	s.byType[t] = name
	s.mu.Unlock()
}

// Encode implements Serializer.
func (s *JSONSerializer) Encode(env *Envelope) (EncodedMessage, error) {
	if env == nil || env.Message == nil {
		return EncodedMessage{}, errors.New("cannot encode an empty envelope")
	}

	t := reflect.TypeOf(env.Message)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	s.mu.RLock()
	name, ok := s.byType[t]
	s.mu.RUnlock()
	if !ok {
		return EncodedMessage{}, errors.Errorf("message type %s is not registered", t)
	}

	body, err := json.Marshal(env.Message)
	if err != nil {
		return EncodedMessage{}, errors.Wrapf(err, "failed encoding message of type %s", name)
	}

	msg := EncodedMessage{
		Body: body,
		Headers: map[string]string{
			HeaderType:        name,
			HeaderContentType: contentTypeJSON,
		},
	}

	if ks, ok := LastStamp[PartitionKeyStamp](env.WithoutNonSendable()); ok {
		msg.Key = []byte(ks.Key)
	}

	return msg, nil
}

// Decode implements Serializer.
func (s *JSONSerializer) Decode(msg EncodedMessage) (*Envelope, error) {
	if len(msg.Body) == 0 {
		return nil, DecodingFailed(nil, "encoded envelope should have at least a body")
	}

	name := msg.Headers[HeaderType]
	if name == "" {
		return nil, DecodingFailed(nil, "encoded envelope does not have a %q header", HeaderType)
	}

	s.mu.RLock()
	t, ok := s.byName[name]
	s.mu.RUnlock()
	if !ok {
		return nil, DecodingFailed(nil, "unknown message type %q", name)
	}

	v := reflect.New(t)
	if err := json.Unmarshal(msg.Body, v.Interface()); err != nil {
		return nil, DecodingFailed(err, "invalid body for message type %q", name)
	}

	env := NewEnvelope(v.Interface())
	if msg.Key != nil {
		env = env.With(PartitionKeyStamp{Key: string(msg.Key)})
	}
	return env, nil
}
