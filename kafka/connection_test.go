package kafka_test

import (
	"testing"

	"github.com/armon/go-metrics"
	kafkalib "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/netlify/messenger-kafka/kafka"
	"github.com/netlify/messenger-kafka/kafka/kafkatest"
	"github.com/netlify/messenger-kafka/messaging"
	"github.com/netlify/messenger-kafka/metriks"
	"github.com/netlify/messenger-kafka/testutil"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConnection(t *testing.T, dsn string) (*kafka.Connection, *kafkatest.FakeFactory) {
	t.Helper()
	log, _ := testutil.TestLogger(t)

	conf, err := kafka.ParseDSN(dsn, nil)
	require.NoError(t, err)

	factory := kafkatest.NewFakeFactory(log)
	return kafka.NewConnection(conf, factory, log), factory
}

func TestConnectionSubscribesOnce(t *testing.T) {
	conn, factory := newConnection(t, "kafka://localhost/orders,invoices?read_timeout=25")

	for i := 0; i < 3; i++ {
		msg, err := conn.ReceiveOne()
		require.NoError(t, err)
		assert.Nil(t, msg)
	}

	assert.Equal(t, 1, factory.ConsumersCreated)
	assert.Equal(t, [][]string{{"orders", "invoices"}}, factory.Consumer.Subscriptions)
	assert.Equal(t, []int{25, 25, 25}, factory.Consumer.PollTimeouts)
	assert.Zero(t, factory.ProducersCreated)
}

func TestConnectionReceivesMessage(t *testing.T) {
	conn, factory := newConnection(t, "kafka://localhost/orders")
	expected := kafkatest.NewMessage("orders", 2, 42, []byte("key"), []byte("body"))
	factory.Consumer.Push(expected)

	msg, err := conn.ReceiveOne()
	require.NoError(t, err)
	assert.Same(t, expected, msg)
}

func TestConnectionEmptyPolls(t *testing.T) {
	eof := kafkatest.NewMessage("orders", 0, 3, nil, nil)
	eof.TopicPartition.Error = kafkalib.NewError(kafkalib.ErrPartitionEOF, "end of partition", false)

	testCases := []struct {
		desc  string
		event kafkalib.Event
	}{
		{desc: "timed out", event: kafkalib.NewError(kafkalib.ErrTimedOut, "timed out", false)},
		{desc: "partition eof", event: kafkalib.NewError(kafkalib.ErrPartitionEOF, "end of partition", false)},
		{desc: "transport", event: kafkalib.NewError(kafkalib.ErrTransport, "broker went away", false)},
		{desc: "eof on message", event: eof},
		{desc: "offsets committed", event: kafkalib.OffsetsCommitted{}},
		{desc: "failed async commit", event: kafkalib.OffsetsCommitted{Error: errors.New("rebalancing")}},
		{desc: "other event", event: kafkalib.PartitionEOF{}},
	}
	for _, tC := range testCases {
		t.Run(tC.desc, func(t *testing.T) {
			conn, factory := newConnection(t, "kafka://localhost/orders")
			factory.Consumer.Push(tC.event)

			msg, err := conn.ReceiveOne()
			require.NoError(t, err)
			assert.Nil(t, msg)
		})
	}
}

func TestConnectionPollError(t *testing.T) {
	conn, factory := newConnection(t, "kafka://localhost/orders")
	factory.Consumer.Push(kafkalib.NewError(kafkalib.ErrUnknownTopicOrPart, "Broker: Unknown topic or partition", false))

	_, err := conn.ReceiveOne()
	require.Error(t, err)

	var te *messaging.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, int(kafkalib.ErrUnknownTopicOrPart), te.Code)
	assert.Equal(t, "Broker: Unknown topic or partition", te.Message)
}

func TestConnectionSubscribeError(t *testing.T) {
	conn, factory := newConnection(t, "kafka://localhost/orders")
	factory.Consumer.SubscribeErr = errors.New("no such topic")

	_, err := conn.ReceiveOne()
	var te *messaging.TransportError
	require.True(t, errors.As(err, &te))
	assert.Contains(t, te.Error(), "no such topic")

	// the subscription is retried on the next receive
	factory.Consumer.SubscribeErr = nil
	_, err = conn.ReceiveOne()
	require.NoError(t, err)
	assert.Len(t, factory.Consumer.Subscriptions, 1)
}

func TestConnectionHandleErrors(t *testing.T) {
	conn, factory := newConnection(t, "kafka://localhost/orders")
	factory.ConsumerErr = errors.New("invalid group.id")
	factory.ProducerErr = errors.New("invalid bootstrap.servers")

	var te *messaging.TransportError
	_, err := conn.ReceiveOne()
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "transport error: invalid group.id", err.Error())

	err = conn.Send([]byte("body"), nil, nil)
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "transport error: invalid bootstrap.servers", err.Error())
}

func TestConnectionAcknowledge(t *testing.T) {
	msg := kafkatest.NewMessage("orders", 0, 7, nil, []byte("body"))

	t.Run("async stores the offset", func(t *testing.T) {
		conn, factory := newConnection(t, "kafka://localhost/orders")
		require.NoError(t, conn.Acknowledge(msg))
		assert.Equal(t, []*kafkalib.Message{msg}, factory.Consumer.Stored)
		assert.Empty(t, factory.Consumer.Committed)
	})

	t.Run("sync commits the offset", func(t *testing.T) {
		conn, factory := newConnection(t, "kafka://localhost/orders?commit_async=false")
		require.NoError(t, conn.Acknowledge(msg))
		assert.Equal(t, []*kafkalib.Message{msg}, factory.Consumer.Committed)
		assert.Empty(t, factory.Consumer.Stored)
	})

	t.Run("commit failure", func(t *testing.T) {
		conn, factory := newConnection(t, "kafka://localhost/orders?commit_async=0")
		factory.Consumer.CommitErr = kafkalib.NewError(kafkalib.ErrIllegalGeneration, "Broker: Specified group generation id is not valid", false)

		err := conn.Acknowledge(msg)
		var te *messaging.TransportError
		require.True(t, errors.As(err, &te))
		assert.Contains(t, te.Message, "failed committing Kafka message")
	})
}

func TestConnectionSendFansOut(t *testing.T) {
	conn, factory := newConnection(t, "kafka://localhost/orders,audit")

	headers := map[string]string{"type": "order", "Content-Type": "application/json"}
	require.NoError(t, conn.Send([]byte(`{"id":1}`), headers, []byte("customer-1")))

	orders := factory.Producer.Messages("orders")
	audit := factory.Producer.Messages("audit")
	require.Len(t, orders, 1)
	require.Len(t, audit, 1)

	for _, m := range []*kafkalib.Message{orders[0], audit[0]} {
		assert.Equal(t, []byte(`{"id":1}`), m.Value)
		assert.Equal(t, []byte("customer-1"), m.Key)
		assert.Equal(t, []kafkalib.Header{
			{Key: "Content-Type", Value: []byte("application/json")},
			{Key: "type", Value: []byte("order")},
		}, m.Headers)
	}

	assert.Equal(t, []string{"orders", "audit"}, factory.TopicsCreated)
	assert.Equal(t, 1, factory.ProducersCreated)
	// delivery reports are served right away
	assert.Empty(t, factory.Producer.Events())
}

func TestConnectionSendIsBestEffort(t *testing.T) {
	conn, factory := newConnection(t, "kafka://localhost/orders,audit,billing")
	factory.Producer.ProduceErrs["orders"] = kafkalib.NewError(kafkalib.ErrQueueFull, "Local: Queue full", false)
	factory.Producer.ProduceErrs["billing"] = errors.New("unknown topic")

	err := conn.Send([]byte("body"), nil, nil)
	require.Error(t, err)

	var te *messaging.TransportError
	require.True(t, errors.As(err, &te))
	assert.Contains(t, te.Message, "failed to produce a kafka message to orders: Local: Queue full")
	assert.Contains(t, te.Message, "failed to produce a kafka message to billing: unknown topic")

	assert.Empty(t, factory.Producer.Messages("orders"))
	assert.Len(t, factory.Producer.Messages("audit"), 1)
	assert.Empty(t, factory.Producer.Messages("billing"))
}

func TestConnectionSendLogsFailedDeliveries(t *testing.T) {
	log, hook := testutil.TestLogger(t)
	conf, err := kafka.ParseDSN("kafka://localhost/orders", nil)
	require.NoError(t, err)
	factory := kafkatest.NewFakeFactory(log)
	conn := kafka.NewConnection(conf, factory, log)

	failed := kafkatest.NewMessage("orders", 0, 1, nil, nil)
	failed.TopicPartition.Error = kafkalib.NewError(kafkalib.ErrMsgTimedOut, "Local: Message timed out", false)
	factory.Producer.Events() <- failed

	require.NoError(t, conn.Send([]byte("body"), nil, nil))
	assert.NotNil(t, testutil.FindEntry(hook, "Kafka message delivery failed"))
}

func TestConnectionReportsTimings(t *testing.T) {
	sink, err := metriks.InitWithURL("conntest", "inmem://?interval=10s&retain=30s")
	require.NoError(t, err)
	defer func() {
		_, _ = metriks.InitWithURL("conntest", "discard://")
	}()

	conn, _ := newConnection(t, "kafka://localhost/orders")
	require.NoError(t, conn.Send([]byte("body"), nil, nil))
	_, err = conn.ReceiveOne()
	require.NoError(t, err)

	samples := map[string]int{}
	for _, interval := range sink.(*metrics.InmemSink).Data() {
		for _, s := range interval.Samples {
			samples[s.Name] += s.Count
		}
	}
	assert.Equal(t, 1, samples["conntest."+kafka.MetricSendTime])
	assert.Equal(t, 1, samples["conntest."+kafka.MetricReceiveTime])
}

func TestConnectionClose(t *testing.T) {
	conn, factory := newConnection(t, "kafka://localhost/orders")

	// nothing to close yet
	require.NoError(t, conn.Close())
	assert.False(t, factory.Consumer.Closed)
	assert.False(t, factory.Producer.Closed)

	_, err := conn.ReceiveOne()
	require.NoError(t, err)
	require.NoError(t, conn.Send([]byte("body"), nil, nil))

	require.NoError(t, conn.Close())
	assert.True(t, factory.Consumer.Closed)
	assert.True(t, factory.Producer.Closed)
	assert.Equal(t, 1, factory.Producer.Flushes)

	// handles are recreated after a close
	_, err = conn.ReceiveOne()
	require.NoError(t, err)
	assert.Equal(t, 2, factory.ConsumersCreated)
	assert.Len(t, factory.Consumer.Subscriptions, 2)
}

func TestConnectionCloseFlushTimeout(t *testing.T) {
	conn, factory := newConnection(t, "kafka://localhost/orders?shutdown_timeout=20")
	require.NoError(t, conn.Send([]byte("body"), nil, nil))
	factory.Producer.Pending = 2

	err := conn.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 messages were not delivered before the flush deadline")
	assert.True(t, factory.Producer.Closed)
}
