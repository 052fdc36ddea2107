// Package kafkatest provides in-memory stand-ins for the librdkafka handles
// so connections and transports can be exercised without a broker.
package kafkatest

import (
	"sync"

	kafkalib "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/netlify/messenger-kafka/kafka"
	"github.com/sirupsen/logrus"
)

// KafkaPipe returns a consumer that receives everything the producer
// successfully publishes.
func KafkaPipe(log logrus.FieldLogger) (*FakeConsumer, *FakeProducer) {
	c := NewFakeConsumer(log)
	p := NewFakeProducer(log)
	p.consumers = append(p.consumers, c)
	return c, p
}

// FakeConsumer serves queued events on Poll and records commits.
type FakeConsumer struct {
	mu     sync.Mutex
	events []kafkalib.Event
	log    logrus.FieldLogger

	// SubscribeErr and CommitErr are returned by the matching calls when set.
	SubscribeErr error
	CommitErr    error

	Subscriptions [][]string
	PollTimeouts  []int
	Committed     []*kafkalib.Message
	Stored        []*kafkalib.Message
	Closed        bool
}

// NewFakeConsumer returns a consumer with nothing to poll.
func NewFakeConsumer(log logrus.FieldLogger) *FakeConsumer {
	return &FakeConsumer{log: log}
}

// Push queues events returned by the next calls to Poll.
func (f *FakeConsumer) Push(events ...kafkalib.Event) {
	f.mu.Lock()
	f.events = append(f.events, events...)
	f.mu.Unlock()
}

// SubscribeTopics implements kafka.Consumer.
func (f *FakeConsumer) SubscribeTopics(topics []string, _ kafkalib.RebalanceCb) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubscribeErr != nil {
		return f.SubscribeErr
	}
	f.Subscriptions = append(f.Subscriptions, append([]string(nil), topics...))
	return nil
}

// Poll implements kafka.Consumer. It returns nil when nothing is queued,
// which is what librdkafka does when the timeout expires.
func (f *FakeConsumer) Poll(timeoutMs int) kafkalib.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PollTimeouts = append(f.PollTimeouts, timeoutMs)
	if len(f.events) == 0 {
		return nil
	}
	ev := f.events[0]
	f.events = f.events[1:]
	f.log.WithField("kafka_event", ev.String()).Trace("offering event")
	return ev
}

// CommitMessage implements kafka.Consumer.
func (f *FakeConsumer) CommitMessage(m *kafkalib.Message) ([]kafkalib.TopicPartition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CommitErr != nil {
		return nil, f.CommitErr
	}
	f.Committed = append(f.Committed, m)
	return []kafkalib.TopicPartition{m.TopicPartition}, nil
}

// StoreMessage implements kafka.Consumer.
func (f *FakeConsumer) StoreMessage(m *kafkalib.Message) ([]kafkalib.TopicPartition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CommitErr != nil {
		return nil, f.CommitErr
	}
	f.Stored = append(f.Stored, m)
	return []kafkalib.TopicPartition{m.TopicPartition}, nil
}

// Close implements kafka.Consumer.
func (f *FakeConsumer) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// FakeProducer records produced messages and queues a delivery report for
// each of them.
type FakeProducer struct {
	mu        sync.Mutex
	events    chan kafkalib.Event
	consumers []*FakeConsumer
	offsets   map[string]kafkalib.Offset
	log       logrus.FieldLogger

	// ProduceErrs fails Produce for the given topics.
	ProduceErrs map[string]error
	// Pending is what Flush reports as still queued.
	Pending int

	Produced []*kafkalib.Message
	Flushes  int
	Closed   bool
}

// NewFakeProducer returns a producer that accepts everything.
func NewFakeProducer(log logrus.FieldLogger) *FakeProducer {
	return &FakeProducer{
		events:      make(chan kafkalib.Event, 1000),
		offsets:     make(map[string]kafkalib.Offset),
		log:         log,
		ProduceErrs: make(map[string]error),
	}
}

// Produce implements kafka.Producer.
func (f *FakeProducer) Produce(msg *kafkalib.Message, deliveryChan chan kafkalib.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	topic := ""
	if msg.TopicPartition.Topic != nil {
		topic = *msg.TopicPartition.Topic
	}
	if err := f.ProduceErrs[topic]; err != nil {
		return err
	}

	delivered := *msg
	delivered.TopicPartition.Partition = 0
	delivered.TopicPartition.Offset = f.offsets[topic]
	f.offsets[topic]++
	f.Produced = append(f.Produced, &delivered)

	events := f.events
	if deliveryChan != nil {
		events = deliveryChan
	}
	select {
	case events <- &delivered:
	default: // drop if channel is full
	}

	for _, c := range f.consumers {
		c.Push(&delivered)
	}
	f.log.WithField("kafka_topic", topic).Trace("produced message")
	return nil
}

// Events implements kafka.Producer.
func (f *FakeProducer) Events() chan kafkalib.Event {
	return f.events
}

// Flush implements kafka.Producer.
func (f *FakeProducer) Flush(int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Flushes++
	return f.Pending
}

// Len implements kafka.Producer.
func (f *FakeProducer) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Pending + len(f.events)
}

// Close implements kafka.Producer.
func (f *FakeProducer) Close() {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
}

// Messages returns the produced messages for topic.
func (f *FakeProducer) Messages(topic string) []*kafkalib.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*kafkalib.Message
	for _, m := range f.Produced {
		if m.TopicPartition.Topic != nil && *m.TopicPartition.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// FakeFactory hands out the same fake handles to every caller and counts
// how many times each was requested.
type FakeFactory struct {
	Consumer *FakeConsumer
	Producer *FakeProducer

	ConsumerErr error
	ProducerErr error

	ConsumersCreated int
	ProducersCreated int
	TopicsCreated    []string
}

// NewFakeFactory returns a factory whose consumer receives what its
// producer publishes.
func NewFakeFactory(log logrus.FieldLogger) *FakeFactory {
	c, p := KafkaPipe(log)
	return &FakeFactory{Consumer: c, Producer: p}
}

// CreateConsumer implements kafka.ClientFactory.
func (f *FakeFactory) CreateConsumer(kafka.ConnectionConfig) (kafka.Consumer, error) {
	if f.ConsumerErr != nil {
		return nil, f.ConsumerErr
	}
	f.ConsumersCreated++
	return f.Consumer, nil
}

// CreateProducer implements kafka.ClientFactory.
func (f *FakeFactory) CreateProducer(kafka.ConnectionConfig) (kafka.Producer, error) {
	if f.ProducerErr != nil {
		return nil, f.ProducerErr
	}
	f.ProducersCreated++
	return f.Producer, nil
}

// CreateTopic implements kafka.ClientFactory.
func (f *FakeFactory) CreateTopic(p kafka.Producer, t kafka.Topic) kafka.TopicHandle {
	f.TopicsCreated = append(f.TopicsCreated, t.Name)
	return kafka.NewTopicHandle(p, t)
}

// NewMessage builds a message as the consumer would return it.
func NewMessage(topic string, partition int32, offset int64, key, value []byte, headers ...kafkalib.Header) *kafkalib.Message {
	return &kafkalib.Message{
		TopicPartition: kafkalib.TopicPartition{
			Topic:     &topic,
			Partition: partition,
			Offset:    kafkalib.Offset(offset),
		},
		Key:     key,
		Value:   value,
		Headers: headers,
	}
}
