package kafkatest

import (
	"testing"

	kafkalib "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/netlify/messenger-kafka/kafka"
	"github.com/netlify/messenger-kafka/testutil"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaPipe(t *testing.T) {
	log, _ := testutil.TestLogger(t)
	c, p := KafkaPipe(log)

	topic := kafka.NewTopicHandle(p, kafka.Topic{Name: "orders"})
	require.NoError(t, topic.Produce([]byte(`val1`), []byte(`key1`), nil))
	require.NoError(t, topic.Produce([]byte(`val2`), []byte(`key2`), nil))

	msg, ok := c.Poll(100).(*kafkalib.Message)
	require.True(t, ok)
	assert.Equal(t, "key1", string(msg.Key))
	assert.Equal(t, "val1", string(msg.Value))
	assert.EqualValues(t, 0, msg.TopicPartition.Offset)

	msg, ok = c.Poll(100).(*kafkalib.Message)
	require.True(t, ok)
	assert.Equal(t, "key2", string(msg.Key))
	assert.EqualValues(t, 1, msg.TopicPartition.Offset)

	assert.Nil(t, c.Poll(100))
	assert.Equal(t, []int{100, 100, 100}, c.PollTimeouts)

	_, err := c.CommitMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, []*kafkalib.Message{msg}, c.Committed)

	assert.Len(t, p.Messages("orders"), 2)
	assert.Len(t, p.Events(), 2)
}

func TestFakeProducerFailures(t *testing.T) {
	log, _ := testutil.TestLogger(t)
	p := NewFakeProducer(log)
	p.ProduceErrs["broken"] = errors.New("queue full")

	err := kafka.NewTopicHandle(p, kafka.Topic{Name: "broken"}).Produce([]byte(`v`), nil, nil)
	require.EqualError(t, err, "queue full")
	assert.Empty(t, p.Produced)
}
