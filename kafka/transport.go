package kafka

import (
	"context"

	"github.com/netlify/messenger-kafka/messaging"
	"github.com/sirupsen/logrus"
)

// Transport sends and receives through one Connection. The receiver and the
// sender are created on first use.
type Transport struct {
	conn       *Connection
	serializer messaging.Serializer
	log        logrus.FieldLogger

	receiver *Receiver
	sender   *Sender
}

// NewTransport creates a Transport over conn.
func NewTransport(conn *Connection, serializer messaging.Serializer, log logrus.FieldLogger) *Transport {
	return &Transport{conn: conn, serializer: serializer, log: log}
}

func (t *Transport) getReceiver() *Receiver {
	if t.receiver == nil {
		t.receiver = NewReceiver(t.conn, t.serializer, t.log)
	}
	return t.receiver
}

func (t *Transport) getSender() *Sender {
	if t.sender == nil {
		t.sender = NewSender(t.conn, t.serializer, t.log)
	}
	return t.sender
}

// Get implements messaging.Receiver.
func (t *Transport) Get(ctx context.Context) ([]*messaging.Envelope, error) {
	return t.getReceiver().Get(ctx)
}

// Ack implements messaging.Receiver.
func (t *Transport) Ack(ctx context.Context, env *messaging.Envelope) error {
	return t.getReceiver().Ack(ctx, env)
}

// Reject implements messaging.Receiver.
func (t *Transport) Reject(ctx context.Context, env *messaging.Envelope) error {
	return t.getReceiver().Reject(ctx, env)
}

// Send implements messaging.Sender.
func (t *Transport) Send(ctx context.Context, env *messaging.Envelope) (*messaging.Envelope, error) {
	return t.getSender().Send(ctx, env)
}

// Close flushes pending messages and releases the Kafka handles.
func (t *Transport) Close() error {
	return t.conn.Close()
}
