package kafka

import (
	"context"

	"github.com/netlify/messenger-kafka/messaging"
	"github.com/netlify/messenger-kafka/tracing"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Receiver implements messaging.Receiver on top of a Connection.
type Receiver struct {
	conn       *Connection
	serializer messaging.Serializer
	log        logrus.FieldLogger
}

// NewReceiver creates a Receiver decoding messages with serializer.
func NewReceiver(conn *Connection, serializer messaging.Serializer, log logrus.FieldLogger) *Receiver {
	return &Receiver{conn: conn, serializer: serializer, log: log}
}

// Get polls the connection once and returns at most one envelope. Decode
// failures are returned as *messaging.MessageDecodingFailedError, anything
// else as *messaging.TransportError.
func (r *Receiver) Get(ctx context.Context) ([]*messaging.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msg, err := r.conn.ReceiveOne()
	if err != nil {
		return nil, messaging.NewTransportError(err)
	}
	if msg == nil {
		return nil, nil
	}

	headers := fromKafkaHeaders(msg.Headers)

	span, _ := tracing.StartConsumerSpan(ctx, "kafka.receive", headers)
	ext.MessageBusDestination.Set(span, topicOf(msg))
	span.SetTag("kafka.partition", partitionLabel(msg.TopicPartition.Partition))
	span.SetTag("kafka.offset", msg.TopicPartition.Offset.String())
	defer span.Finish()

	env, err := r.serializer.Decode(messaging.EncodedMessage{
		Body:    msg.Value,
		Headers: headers,
		Key:     msg.Key,
	})
	if err != nil {
		tracing.LogErrorToSpan(span, err)
		r.log.WithError(err).WithFields(logrus.Fields{
			"kafka_topic":     topicOf(msg),
			"kafka_partition": msg.TopicPartition.Partition,
			"kafka_offset":    msg.TopicPartition.Offset,
		}).Warn("Failed decoding Kafka message")

		var decodeErr *messaging.MessageDecodingFailedError
		if errors.As(err, &decodeErr) {
			return nil, err
		}
		return nil, messaging.DecodingFailed(err, "invalid payload on topic %s", topicOf(msg))
	}

	return []*messaging.Envelope{env.With(ReceivedStamp{Message: msg})}, nil
}

// Ack commits the offset of an envelope returned by Get.
func (r *Receiver) Ack(_ context.Context, env *messaging.Envelope) error {
	stamp, err := receivedStamp(env)
	if err != nil {
		return err
	}

	if err := r.conn.Acknowledge(stamp.Message); err != nil {
		return messaging.NewTransportError(err)
	}
	return nil
}

// Reject does nothing on the broker: Kafka has no negative acknowledgment.
// The offset stays uncommitted and the message is delivered again after a
// restart or a rebalance.
func (r *Receiver) Reject(_ context.Context, env *messaging.Envelope) error {
	if stamp, err := receivedStamp(env); err == nil {
		r.log.WithFields(logrus.Fields{
			"kafka_topic":     topicOf(stamp.Message),
			"kafka_partition": stamp.Message.TopicPartition.Partition,
			"kafka_offset":    stamp.Message.TopicPartition.Offset,
		}).Debug("Rejected Kafka message left uncommitted")
	}
	return nil
}

func receivedStamp(env *messaging.Envelope) (ReceivedStamp, error) {
	if env == nil {
		return ReceivedStamp{}, messaging.LogicErrorf("cannot acknowledge a nil envelope")
	}
	stamp, ok := messaging.LastStamp[ReceivedStamp](env)
	if !ok || stamp.Message == nil {
		return ReceivedStamp{}, messaging.LogicErrorf("no ReceivedStamp found on the envelope")
	}
	return stamp, nil
}
