package kafka

import (
	"context"

	"github.com/netlify/messenger-kafka/messaging"
	"github.com/netlify/messenger-kafka/tracing"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Sender implements messaging.Sender on top of a Connection.
type Sender struct {
	conn       *Connection
	serializer messaging.Serializer
	log        logrus.FieldLogger
}

// NewSender creates a Sender encoding envelopes with serializer.
func NewSender(conn *Connection, serializer messaging.Serializer, log logrus.FieldLogger) *Sender {
	return &Sender{conn: conn, serializer: serializer, log: log}
}

// Send encodes env and publishes it to every topic of the connection. The
// envelope is returned unchanged. Stamps that cannot be sent, like a
// ReceivedStamp, are stripped before encoding.
func (s *Sender) Send(ctx context.Context, env *messaging.Envelope) (*messaging.Envelope, error) {
	if env == nil {
		return nil, messaging.LogicErrorf("cannot send a nil envelope")
	}

	encoded, err := s.serializer.Encode(env.WithoutNonSendable())
	if err != nil {
		return nil, errors.Wrap(err, "failed encoding envelope")
	}

	span, _ := tracing.StartProducerSpan(ctx, "kafka.send", s.conn.Config().TopicNames()...)
	defer span.Finish()

	headers := make(map[string]string, len(encoded.Headers))
	for k, v := range encoded.Headers {
		headers[k] = v
	}
	if err := tracing.Inject(span, headers); err != nil {
		s.log.WithError(err).Debug("Failed propagating the trace context")
	}

	if err := s.conn.Send(encoded.Body, headers, encoded.Key); err != nil {
		tracing.LogErrorToSpan(span, err)
		return nil, messaging.NewTransportError(err)
	}
	return env, nil
}
