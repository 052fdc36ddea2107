package kafka

import (
	"context"
	"sort"
	"time"

	kafkalib "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/hashicorp/go-multierror"
	"github.com/netlify/messenger-kafka/messaging"
	"github.com/netlify/messenger-kafka/metriks"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Metric names reported by Connection.
const (
	MetricReceived   = "kafka.received"
	MetricEmptyPolls = "kafka.empty_polls"
	MetricAcked      = "kafka.acked"
	MetricSent       = "kafka.sent"
	MetricErrors     = "kafka.errors"
	MetricQueueSize  = "kafka.producer_queue"

	MetricReceiveTime = "kafka.receive_time"
	MetricSendTime    = "kafka.send_time"
)

// Connection owns the consumer and producer handles of a transport. Both are
// created on first use and kept until Close. A Connection must not be used
// from several goroutines at once.
type Connection struct {
	conf    ConnectionConfig
	factory ClientFactory
	log     logrus.FieldLogger

	consumer   Consumer
	producer   Producer
	subscribed bool
}

// NewConnection creates a Connection. No handle is built until needed.
func NewConnection(conf ConnectionConfig, factory ClientFactory, log logrus.FieldLogger) *Connection {
	return &Connection{
		conf:    conf,
		factory: factory,
		log:     log,
	}
}

// Config returns the configuration the connection was built with.
func (c *Connection) Config() ConnectionConfig {
	return c.conf
}

func (c *Connection) consumerHandle() (Consumer, error) {
	if c.consumer == nil {
		consumer, err := c.factory.CreateConsumer(c.conf)
		if err != nil {
			return nil, messaging.NewTransportError(err)
		}
		c.consumer = consumer
	}
	return c.consumer, nil
}

func (c *Connection) subscribedConsumer() (Consumer, error) {
	consumer, err := c.consumerHandle()
	if err != nil {
		return nil, err
	}

	if !c.subscribed {
		topics := c.conf.TopicNames()
		c.log.WithField("kafka_topics", topics).Debug("Subscribing to Kafka topics")
		if err := consumer.SubscribeTopics(topics, nil); err != nil {
			return nil, messaging.NewTransportError(errors.Wrap(err, "error subscribing to topics"))
		}
		c.subscribed = true
	}
	return consumer, nil
}

func (c *Connection) producerHandle() (Producer, error) {
	if c.producer == nil {
		producer, err := c.factory.CreateProducer(c.conf)
		if err != nil {
			return nil, messaging.NewTransportError(err)
		}
		c.producer = producer
	}
	return c.producer, nil
}

// ReceiveOne polls the consumer once, waiting up to the read timeout. It
// returns a nil message when nothing is available: timeouts, the end of a
// partition and transient transport errors are not errors.
func (c *Connection) ReceiveOne() (*kafkalib.Message, error) {
	consumer, err := c.subscribedConsumer()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ev := consumer.Poll(int(c.conf.ReadTimeout.Milliseconds()))
	metriks.MeasureSince(MetricReceiveTime, start)

	msg, err := c.classify(ev)
	if err != nil {
		metriks.Inc(MetricErrors, 1, metriks.L("op", "receive"))
		return nil, err
	}
	if msg == nil {
		metriks.Inc(MetricEmptyPolls, 1)
		return nil, nil
	}

	metriks.Inc(MetricReceived, 1, metriks.L("topic", topicOf(msg)))
	return msg, nil
}

func (c *Connection) classify(ev kafkalib.Event) (*kafkalib.Message, error) {
	switch e := ev.(type) {
	case nil:
		return nil, nil
	case *kafkalib.Message:
		if e.TopicPartition.Error != nil {
			return nil, c.pollError(e.TopicPartition.Error)
		}
		return e, nil
	case kafkalib.Error:
		return nil, c.pollError(e)
	case kafkalib.OffsetsCommitted:
		if e.Error != nil {
			c.log.WithError(e.Error).Warn("Asynchronous Kafka commit failed")
		}
		return nil, nil
	default:
		c.log.WithField("kafka_event", e.String()).Debug("Ignoring Kafka event")
		return nil, nil
	}
}

func (c *Connection) pollError(err error) error {
	kerr, ok := err.(kafkalib.Error)
	if !ok {
		return messaging.NewTransportError(err)
	}

	switch kerr.Code() {
	case kafkalib.ErrPartitionEOF, kafkalib.ErrTimedOut, kafkalib.ErrTransport:
		c.log.WithError(kerr).WithField("kafka_err_code", kerr.Code()).Debug("Empty Kafka poll")
		return nil
	}

	c.log.WithError(kerr).WithField("kafka_err_fatal", kerr.IsFatal()).Error("failed fetching Kafka message")
	return &messaging.TransportError{Code: int(kerr.Code()), Message: kerr.Error(), Err: kerr}
}

// Acknowledge commits the offset of msg, synchronously unless the
// connection is configured with commit_async.
func (c *Connection) Acknowledge(msg *kafkalib.Message) error {
	consumer, err := c.consumerHandle()
	if err != nil {
		return err
	}

	if c.conf.CommitAsync {
		_, err = consumer.StoreMessage(msg)
	} else {
		_, err = consumer.CommitMessage(msg)
	}
	if err != nil {
		metriks.Inc(MetricErrors, 1, metriks.L("op", "ack"))
		return messaging.NewTransportError(errors.Wrap(err, "failed committing Kafka message"))
	}

	metriks.Inc(MetricAcked, 1, metriks.L("topic", topicOf(msg)))
	return nil
}

// Send publishes one record per configured topic. Every topic is attempted
// even when an earlier one fails; the failures are returned together.
func (c *Connection) Send(body []byte, headers map[string]string, key []byte) error {
	producer, err := c.producerHandle()
	if err != nil {
		return err
	}
	defer metriks.MeasureSince(MetricSendTime, time.Now())

	kafkaHeaders := toKafkaHeaders(headers)
	var result *multierror.Error
	for _, t := range c.conf.Topics {
		topic := c.factory.CreateTopic(producer, t)
		if err := topic.Produce(body, key, kafkaHeaders); err != nil {
			metriks.Inc(MetricErrors, 1, metriks.L("op", "send"), metriks.L("topic", t.Name))
			result = multierror.Append(result, errors.Wrapf(err, "failed to produce a kafka message to %s", t.Name))
			continue
		}
		metriks.Inc(MetricSent, 1, metriks.L("topic", t.Name))
	}

	c.drainEvents(producer)
	metriks.Gauge(MetricQueueSize, float32(producer.Len()))

	if err := result.ErrorOrNil(); err != nil {
		return messaging.NewTransportError(err)
	}
	return nil
}

// drainEvents serves the delivery reports that are already queued without
// blocking.
func (c *Connection) drainEvents(producer Producer) {
	events := producer.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case *kafkalib.Message:
				if e.TopicPartition.Error != nil {
					metriks.Inc(MetricErrors, 1, metriks.L("op", "delivery"), metriks.L("topic", topicOf(e)))
					c.log.WithError(e.TopicPartition.Error).WithField("kafka_topic", topicOf(e)).Error("Kafka message delivery failed")
				}
			case kafkalib.Error:
				c.log.WithError(e).WithField("kafka_err_fatal", e.IsFatal()).Error("Kafka producer error")
			}
		default:
			return
		}
	}
}

// Close flushes the producer and closes both handles. The flush waits at
// most the shutdown timeout when one is configured.
func (c *Connection) Close() error {
	var result *multierror.Error

	if c.producer != nil {
		ctx, cancel := context.Background(), context.CancelFunc(func() {})
		if c.conf.ShutdownTimeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, c.conf.ShutdownTimeout)
		}
		if err := flushProducer(ctx, c.producer, c.log); err != nil {
			result = multierror.Append(result, err)
		}
		cancel()
		c.producer.Close()
		c.producer = nil
	}

	if c.consumer != nil {
		if err := c.consumer.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "failed closing Kafka consumer"))
		}
		c.consumer = nil
		c.subscribed = false
	}

	return result.ErrorOrNil()
}

func toKafkaHeaders(headers map[string]string) []kafkalib.Header {
	if len(headers) == 0 {
		return nil
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]kafkalib.Header, 0, len(keys))
	for _, k := range keys {
		out = append(out, kafkalib.Header{Key: k, Value: []byte(headers[k])})
	}
	return out
}

func fromKafkaHeaders(headers []kafkalib.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[h.Key] = string(h.Value)
	}
	return out
}

func topicOf(msg *kafkalib.Message) string {
	if msg == nil || msg.TopicPartition.Topic == nil {
		return ""
	}
	return *msg.TopicPartition.Topic
}
