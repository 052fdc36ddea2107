package main

import (
	"github.com/netlify/messenger-kafka/messaging"
	"github.com/pkg/errors"
)

// rawMessage is what the raw serializer sends and receives.
type rawMessage struct {
	Body    []byte
	Headers map[string]string
	Key     []byte
}

// rawSerializer passes bodies through untouched so the CLI can talk to
// producers and consumers written with any serializer.
type rawSerializer struct{}

func (rawSerializer) Encode(env *messaging.Envelope) (messaging.EncodedMessage, error) {
	msg, ok := env.Message.(*rawMessage)
	if !ok {
		return messaging.EncodedMessage{}, errors.Errorf("cannot encode %T as a raw message", env.Message)
	}

	encoded := messaging.EncodedMessage{Body: msg.Body, Headers: msg.Headers, Key: msg.Key}
	if ks, ok := messaging.LastStamp[messaging.PartitionKeyStamp](env); ok {
		encoded.Key = []byte(ks.Key)
	}
	return encoded, nil
}

func (rawSerializer) Decode(msg messaging.EncodedMessage) (*messaging.Envelope, error) {
	return messaging.NewEnvelope(&rawMessage{Body: msg.Body, Headers: msg.Headers, Key: msg.Key}), nil
}

type jsonRawSerializer struct {
	*messaging.JSONSerializer
}

// jsonBody is registered as the "raw" type so JSON consumers can read what
// the CLI sends.
type jsonBody struct {
	Body string `json:"body"`
}

func (s jsonRawSerializer) Encode(env *messaging.Envelope) (messaging.EncodedMessage, error) {
	if msg, ok := env.Message.(*rawMessage); ok {
		env = messaging.NewEnvelope(&jsonBody{Body: string(msg.Body)}, env.Stamps()...)
	}
	return s.JSONSerializer.Encode(env)
}

func newSerializer(name string) (messaging.Serializer, error) {
	switch name {
	case "", "raw":
		return rawSerializer{}, nil
	case "json":
		s := messaging.NewJSONSerializer()
		s.Register("raw", jsonBody{})
		return jsonRawSerializer{s}, nil
	}
	return nil, errors.Errorf("unknown serializer %q, expected raw or json", name)
}
