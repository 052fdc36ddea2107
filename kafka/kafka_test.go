package kafka

import (
	"context"
	"io"
	"testing"
	"time"

	kafkalib "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/netlify/messenger-kafka/graceful"
	"github.com/netlify/messenger-kafka/tls"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumerConfig(t *testing.T) {
	conf := testConfig(t, "kafka://broker:9093/orders?connection[client.id]=gotest&connection[auto.offset.reset]=latest")
	f := NewConfluentFactory(logger(), WithConfigOpts(WithPartitionerAlgorithm(PartitionerMurMur2)))

	kafkaConf, err := f.consumerConfig(conf)
	require.NoError(t, err)

	assertKey(t, kafkaConf, "bootstrap.servers", "broker:9093")
	assertKey(t, kafkaConf, "group.id", conf.GroupID)
	assertKey(t, kafkaConf, "enable.auto.offset.store", false)
	assertKey(t, kafkaConf, "log_level", DefaultLogLevel)
	assertKey(t, kafkaConf, "partitioner", "murmur2")
	assertKey(t, kafkaConf, "client.id", "gotest")
	// broker settings from the DSN have the last word
	assertKey(t, kafkaConf, "auto.offset.reset", "latest")
}

func TestProducerConfig(t *testing.T) {
	conf := testConfig(t, "kafka://broker/orders?write_retries=3&write_timeout=1500&topic[acks]=all")
	f := NewConfluentFactory(logger())

	kafkaConf, err := f.producerConfig(conf)
	require.NoError(t, err)

	assertKey(t, kafkaConf, "bootstrap.servers", "broker:9092")
	assertKey(t, kafkaConf, "message.send.max.retries", 3)
	assertKey(t, kafkaConf, "message.timeout.ms", 1500)
	assertKey(t, kafkaConf, "acks", "all")

	_, ok := (*kafkaConf)["group.id"]
	assert.False(t, ok, "producers do not join a group")
}

func TestConfigureAuth(t *testing.T) {
	testCases := []struct {
		authType  string
		protocol  string
		mechanism string
	}{
		{AuthTypePlain, "sasl_plaintext", "PLAIN"},
		{AuthTypeSCRAM256, "sasl_ssl", "SCRAM-SHA-256"},
		{AuthTypeSCRAM512, "sasl_ssl", "SCRAM-SHA-512"},
	}
	for _, tC := range testCases {
		t.Run(tC.authType, func(t *testing.T) {
			f := NewConfluentFactory(logger(), WithAuth(Auth{
				Type:      tC.authType,
				User:      "user",
				Password:  "secret",
				CAPEMFile: "/etc/kafka/ca.pem",
			}))

			kafkaConf, err := f.baseConfig(testConfig(t, "kafka://broker/orders"))
			require.NoError(t, err)

			assertKey(t, kafkaConf, "security.protocol", tC.protocol)
			assertKey(t, kafkaConf, "sasl.mechanism", tC.mechanism)
			assertKey(t, kafkaConf, "sasl.username", "user")
			assertKey(t, kafkaConf, "sasl.password", "secret")
			assertKey(t, kafkaConf, "ssl.ca.location", "/etc/kafka/ca.pem")
		})
	}

	f := NewConfluentFactory(logger(), WithAuth(Auth{Type: "kerberos"}))
	_, err := f.consumerConfig(testConfig(t, "kafka://broker/orders"))
	require.EqualError(t, err, "error configuring the Kafka consumer: unknown auth type: kerberos")
}

func TestBaseConfigTLS(t *testing.T) {
	f := NewConfluentFactory(logger(), WithTLS(tls.Config{
		Enabled:  true,
		CAFiles:  []string{"/etc/kafka/ca.pem"},
		CertFile: "/etc/kafka/client.pem",
		KeyFile:  "/etc/kafka/client.key",
		Insecure: true,
	}))

	kafkaConf, err := f.baseConfig(testConfig(t, "kafka://broker/orders"))
	require.NoError(t, err)

	assertKey(t, kafkaConf, "security.protocol", "ssl")
	assertKey(t, kafkaConf, "ssl.ca.location", "/etc/kafka/ca.pem")
	assertKey(t, kafkaConf, "ssl.certificate.location", "/etc/kafka/client.pem")
	assertKey(t, kafkaConf, "ssl.key.location", "/etc/kafka/client.key")
	assertKey(t, kafkaConf, "enable.ssl.certificate.verification", "false")
}

func TestCreateConsumerWithoutBroker(t *testing.T) {
	f := NewConfluentFactory(logger())

	// librdkafka connects lazily, no broker is needed to build a handle
	c, err := f.CreateConsumer(testConfig(t, "kafka://127.0.0.1:1/gotest"))
	require.NoError(t, err)
	checkClose(t, c)
}

func TestCreateProducerRegistersFlush(t *testing.T) {
	closer := new(graceful.Closer)
	f := NewConfluentFactory(logger(), WithCloser(closer))

	p, err := f.CreateProducer(testConfig(t, "kafka://127.0.0.1:1/gotest?shutdown_timeout=200"))
	require.NoError(t, err)
	require.Equal(t, 1, closer.Len())

	assert.Zero(t, p.Len())
	require.NoError(t, closer.Shutdown(logger()))

	p.Close()
	p.Close() // closing twice is a no-op
}

func TestProducerShutdownAfterClose(t *testing.T) {
	closer := new(graceful.Closer)
	f := NewConfluentFactory(logger(), WithCloser(closer))

	p, err := f.CreateProducer(testConfig(t, "kafka://127.0.0.1:1/gotest"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Close()
	}()
	require.NoError(t, closer.Shutdown(logger()))
	<-done

	// a closed producer is never flushed
	cp := p.(*confluentProducer)
	require.NoError(t, cp.Shutdown(context.Background()))
	assert.True(t, cp.closed)
}

func TestFlushProducerDeadline(t *testing.T) {
	p := &stuckProducer{pending: 3}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := flushProducer(ctx, p, logger())
	require.EqualError(t, err, "3 messages were not delivered before the flush deadline")
	assert.Greater(t, p.flushes, 0)
}

func TestFlushProducerEmptiesQueue(t *testing.T) {
	p := &stuckProducer{pending: 3, drainPerFlush: 1}

	require.NoError(t, flushProducer(context.Background(), p, logger()))
	assert.Equal(t, 3, p.flushes)
}

func TestTopicHandle(t *testing.T) {
	p := &stuckProducer{}
	h := NewTopicHandle(p, Topic{Name: "orders"})
	assert.Equal(t, "orders", h.Name())

	headers := []kafkalib.Header{{Key: "type", Value: []byte("order")}}
	require.NoError(t, h.Produce([]byte("body"), []byte("key"), headers))

	require.Len(t, p.produced, 1)
	msg := p.produced[0]
	assert.Equal(t, "orders", *msg.TopicPartition.Topic)
	assert.Equal(t, kafkalib.PartitionAny, msg.TopicPartition.Partition)
	assert.Equal(t, []byte("body"), msg.Value)
	assert.Equal(t, []byte("key"), msg.Key)
	assert.Equal(t, headers, msg.Headers)
}

type stuckProducer struct {
	pending       int
	drainPerFlush int
	flushes       int
	produced      []*kafkalib.Message
}

func (p *stuckProducer) Produce(msg *kafkalib.Message, _ chan kafkalib.Event) error {
	p.produced = append(p.produced, msg)
	return nil
}

func (p *stuckProducer) Events() chan kafkalib.Event { return nil }

func (p *stuckProducer) Flush(int) int {
	p.flushes++
	p.pending -= p.drainPerFlush
	if p.pending < 0 {
		p.pending = 0
	}
	return p.pending
}

func (p *stuckProducer) Len() int { return p.pending }
func (p *stuckProducer) Close()   {}

func assertKey(t *testing.T, c *kafkalib.ConfigMap, key string, expected kafkalib.ConfigValue) {
	t.Helper()
	v, err := c.Get(key, nil)
	require.NoError(t, err)
	assert.Equal(t, expected, v, key)
}

func testConfig(t *testing.T, dsn string) ConnectionConfig {
	conf, err := ParseDSN(dsn, nil)
	require.NoError(t, err)
	return conf
}

func checkClose(t *testing.T, c io.Closer) {
	require.NoError(t, c.Close())
}

func logger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
