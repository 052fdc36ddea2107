package kafka

import (
	"context"
	"fmt"
	"log/syslog"
	"strconv"
	"sync"
	"time"

	kafkalib "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/netlify/messenger-kafka/graceful"
	"github.com/netlify/messenger-kafka/tls"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Supported auth types
const (
	AuthTypePlain    = "plain"
	AuthTypeSCRAM256 = "scram-sha256"
	AuthTypeSCRAM512 = "scram-sha512"
)

type PartitionerAlgorithm string

const (
	PartitionerRandom           = PartitionerAlgorithm("random")            // random distribution
	PartitionerConsistent       = PartitionerAlgorithm("consistent")        //  CRC32 hash of key (Empty and NULL keys are mapped to single partition)
	PartitionerConsistentRandom = PartitionerAlgorithm("consistent_random") // CRC32 hash of key (Empty and NULL keys are randomly partitioned)
	PartitionerMurMur2          = PartitionerAlgorithm("murmur2")           // Java Producer compatible Murmur2 hash of key (NULL keys are mapped to single partition)
	PartitionerMurMur2Random    = PartitionerAlgorithm("murmur2_random")    // Java Producer compatible Murmur2 hash of key (NULL keys are randomly partitioned. Default partitioner in the Java Producer.)
	PartitionerFNV1A            = PartitionerAlgorithm("fnv1a")             // FNV-1a hash of key (NULL keys are mapped to single partition)
	PartitionerFNV1ARandom      = PartitionerAlgorithm("fnv1a_random")      // FNV-1a hash of key (NULL keys are randomly partitioned).
)

// flushInterval bounds each Flush call so shutdown can notice a cancelled context.
const flushInterval = 100 * time.Millisecond

// Consumer is the part of *kafka.Consumer a Connection uses.
type Consumer interface {
	SubscribeTopics(topics []string, rebalanceCb kafkalib.RebalanceCb) error
	Poll(timeoutMs int) kafkalib.Event
	CommitMessage(m *kafkalib.Message) ([]kafkalib.TopicPartition, error)
	StoreMessage(m *kafkalib.Message) ([]kafkalib.TopicPartition, error)
	Close() error
}

// Producer is the part of *kafka.Producer a Connection uses.
type Producer interface {
	Produce(msg *kafkalib.Message, deliveryChan chan kafkalib.Event) error
	Events() chan kafkalib.Event
	Flush(timeoutMs int) int
	Len() int
	Close()
}

// TopicHandle publishes records to a single topic.
type TopicHandle interface {
	Name() string
	Produce(value, key []byte, headers []kafkalib.Header) error
}

// ClientFactory builds the native handles of a Connection.
type ClientFactory interface {
	CreateConsumer(conf ConnectionConfig) (Consumer, error)
	CreateProducer(conf ConnectionConfig) (Producer, error)
	CreateTopic(p Producer, t Topic) TopicHandle
}

// Auth holds SASL credentials for the brokers.
type Auth struct {
	Type      string `json:"auth" envconfig:"auth_type"`
	User      string `json:"user"`
	Password  string `json:"password"`
	CAPEMFile string `json:"ca_pem_file" split_words:"true"`
}

// ConfigOpt tweaks the librdkafka configuration of every handle a
// ConfluentFactory builds.
type ConfigOpt func(c *kafkalib.ConfigMap)

// WithPartitionerAlgorithm sets the partitioner algorithm
func WithPartitionerAlgorithm(algorithm PartitionerAlgorithm) ConfigOpt {
	return func(c *kafkalib.ConfigMap) {
		_ = c.SetKey("partitioner", string(algorithm))
	}
}

// FactoryOpt configures a ConfluentFactory.
type FactoryOpt func(f *ConfluentFactory)

// WithAuth enables SASL authentication.
func WithAuth(auth Auth) FactoryOpt {
	return func(f *ConfluentFactory) {
		f.auth = auth
	}
}

// WithTLS connects to the brokers over TLS using the given material.
func WithTLS(conf tls.Config) FactoryOpt {
	return func(f *ConfluentFactory) {
		f.tls = &conf
	}
}

// WithCloser registers producer flushes with closer instead of the process
// wide graceful closer.
func WithCloser(closer *graceful.Closer) FactoryOpt {
	return func(f *ConfluentFactory) {
		f.closer = closer
	}
}

// WithConfigOpts adds raw librdkafka tweaks. Broker settings from the DSN are
// applied after them.
func WithConfigOpts(opts ...ConfigOpt) FactoryOpt {
	return func(f *ConfluentFactory) {
		f.configOpts = append(f.configOpts, opts...)
	}
}

// ConfluentFactory builds handles backed by confluent-kafka-go.
type ConfluentFactory struct {
	log        logrus.FieldLogger
	auth       Auth
	tls        *tls.Config
	closer     *graceful.Closer
	configOpts []ConfigOpt
}

// NewConfluentFactory returns a ClientFactory for librdkafka handles.
// Client logs are forwarded to log.
func NewConfluentFactory(log logrus.FieldLogger, opts ...FactoryOpt) *ConfluentFactory {
	f := &ConfluentFactory{
		log:    log,
		closer: graceful.DefaultCloser(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// baseConfig provides the config shared by consumers and producers.
func (f *ConfluentFactory) baseConfig(conf ConnectionConfig) (*kafkalib.ConfigMap, error) {
	// See Reference at https://github.com/edenhill/librdkafka/blob/master/CONFIGURATION.md
	kafkaConf := &kafkalib.ConfigMap{
		"bootstrap.servers":       conf.BootstrapServers(),
		"socket.keepalive.enable": true,
	}

	if conf.LogLevel != "" {
		_ = kafkaConf.SetKey("log_level", conf.LogLevel)
	}

	if err := f.configureAuth(kafkaConf); err != nil {
		return nil, err
	}

	if f.tls != nil {
		settings, err := f.tls.BrokerSettings()
		if err != nil {
			return nil, errors.Wrap(err, "invalid TLS configuration for Kafka")
		}
		for k, v := range settings {
			_ = kafkaConf.SetKey(k, v)
		}
	}

	return kafkaConf, nil
}

func (f *ConfluentFactory) configureAuth(configMap *kafkalib.ConfigMap) error {
	switch f.auth.Type {
	case "":
		// No auth mechanism
		return nil
	case AuthTypePlain:
		_ = configMap.SetKey("security.protocol", "sasl_plaintext")
		_ = configMap.SetKey("sasl.mechanism", "PLAIN")
	case AuthTypeSCRAM256:
		_ = configMap.SetKey("security.protocol", "sasl_ssl")
		_ = configMap.SetKey("sasl.mechanism", "SCRAM-SHA-256")
	case AuthTypeSCRAM512:
		_ = configMap.SetKey("security.protocol", "sasl_ssl")
		_ = configMap.SetKey("sasl.mechanism", "SCRAM-SHA-512")
	default:
		return fmt.Errorf("unknown auth type: %s", f.auth.Type)
	}

	_ = configMap.SetKey("sasl.username", f.auth.User)
	_ = configMap.SetKey("sasl.password", f.auth.Password)
	if f.auth.CAPEMFile != "" {
		_ = configMap.SetKey("ssl.ca.location", f.auth.CAPEMFile)
	}

	return nil
}

// applyOverrides runs the raw tweaks and then the broker settings, which
// always have the last word.
func (f *ConfluentFactory) applyOverrides(kafkaConf *kafkalib.ConfigMap, conf ConnectionConfig) {
	for _, opt := range f.configOpts {
		opt(kafkaConf)
	}
	for k, v := range conf.BrokerSettings {
		_ = kafkaConf.SetKey(k, v)
	}
}

func (f *ConfluentFactory) consumerConfig(conf ConnectionConfig) (*kafkalib.ConfigMap, error) {
	kafkaConf, err := f.baseConfig(conf)
	if err != nil {
		return nil, errors.Wrap(err, "error configuring the Kafka consumer")
	}

	_ = kafkaConf.SetKey("group.id", conf.GroupID)
	// offsets are stored explicitly on ack. Async commits are left to the auto commit loop.
	_ = kafkaConf.SetKey("enable.auto.offset.store", false)

	// In case we try to assign an offset out of range (greater than log-end-offset), consumer will use start consuming from offset zero.
	_ = kafkaConf.SetKey("auto.offset.reset", "earliest")

	f.applyOverrides(kafkaConf, conf)
	return kafkaConf, nil
}

func (f *ConfluentFactory) producerConfig(conf ConnectionConfig) (*kafkalib.ConfigMap, error) {
	kafkaConf, err := f.baseConfig(conf)
	if err != nil {
		return nil, errors.Wrap(err, "error configuring the Kafka producer")
	}

	if conf.WriteRetries > 0 {
		_ = kafkaConf.SetKey("message.send.max.retries", conf.WriteRetries)
	}
	if conf.WriteTimeout > 0 {
		_ = kafkaConf.SetKey("message.timeout.ms", int(conf.WriteTimeout.Milliseconds()))
	}

	// librdkafka accepts topic level properties globally as the default topic config
	for k, v := range conf.TopicSettings {
		_ = kafkaConf.SetKey(k, v)
	}

	f.applyOverrides(kafkaConf, conf)
	return kafkaConf, nil
}

// CreateConsumer implements ClientFactory.
func (f *ConfluentFactory) CreateConsumer(conf ConnectionConfig) (c Consumer, err error) {
	kafkaConf, err := f.consumerConfig(conf)
	if err != nil {
		return nil, err
	}

	stopLogs := f.forwardLogs(kafkaConf, f.log.WithField("kafka_client", "consumer"))

	// catch when NewConsumer panics
	defer func() {
		if r := recover(); r != nil {
			stopLogs()
			c = nil
			err = fmt.Errorf("failed to create consumer: %v", r)
		}
	}()

	consumer, err := kafkalib.NewConsumer(kafkaConf)
	if err != nil {
		stopLogs()
		return nil, errors.Wrap(err, "failed to create consumer")
	}

	return &confluentConsumer{Consumer: consumer, stopLogs: stopLogs}, nil
}

// CreateProducer implements ClientFactory. The producer is flushed when the
// graceful closer shuts down, waiting at most conf.ShutdownTimeout, or until
// the queue is empty when the timeout is not positive.
func (f *ConfluentFactory) CreateProducer(conf ConnectionConfig) (p Producer, err error) {
	kafkaConf, err := f.producerConfig(conf)
	if err != nil {
		return nil, err
	}

	log := f.log.WithField("kafka_client", "producer")
	stopLogs := f.forwardLogs(kafkaConf, log)

	// catch when NewProducer panics
	defer func() {
		if r := recover(); r != nil {
			stopLogs()
			p = nil
			err = fmt.Errorf("failed to create producer: %v", r)
		}
	}()

	producer, err := kafkalib.NewProducer(kafkaConf)
	if err != nil {
		stopLogs()
		return nil, errors.Wrap(err, "failed to create producer")
	}

	cp := &confluentProducer{Producer: producer, stopLogs: stopLogs, log: log}
	f.closer.Register("kafka-producer-"+producer.String(), cp, conf.ShutdownTimeout)
	return cp, nil
}

// CreateTopic implements ClientFactory.
func (f *ConfluentFactory) CreateTopic(p Producer, t Topic) TopicHandle {
	return NewTopicHandle(p, t)
}

// forwardLogs routes librdkafka logs to log until the returned func is called.
func (f *ConfluentFactory) forwardLogs(c *kafkalib.ConfigMap, log logrus.FieldLogger) func() {
	syslogToLogrusLevelMapping := map[syslog.Priority]logrus.Level{
		// We don't want to let the app to panic so considering Error Level as the highest severity.
		syslog.LOG_EMERG:   logrus.ErrorLevel,
		syslog.LOG_ALERT:   logrus.ErrorLevel,
		syslog.LOG_CRIT:    logrus.ErrorLevel,
		syslog.LOG_ERR:     logrus.ErrorLevel,
		syslog.LOG_WARNING: logrus.WarnLevel,
		syslog.LOG_NOTICE:  logrus.InfoLevel,
		syslog.LOG_INFO:    logrus.InfoLevel,
		syslog.LOG_DEBUG:   logrus.DebugLevel,
	}

	logsChan := make(chan kafkalib.LogEvent, 10000)
	_ = c.SetKey("go.logs.channel.enable", true)
	_ = c.SetKey("go.logs.channel", logsChan)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-logsChan:
				if !ok {
					return
				}
				l := log.WithFields(logrus.Fields{
					"kafka_context": m.Tag,
					"kafka_name":    m.Name,
				}).WithTime(m.Timestamp)

				logrusLevel := syslogToLogrusLevelMapping[syslog.Priority(m.Level)]
				switch logrusLevel {
				case logrus.ErrorLevel:
					l.WithError(errors.New(m.Message)).Error("Error in Kafka client")
				default:
					l.Log(logrusLevel, m.Message)
				}
			}
		}
	}()

	return cancel
}

type confluentConsumer struct {
	*kafkalib.Consumer
	stopLogs func()
}

func (c *confluentConsumer) Close() error {
	defer c.stopLogs()
	return c.Consumer.Close()
}

type confluentProducer struct {
	*kafkalib.Producer
	stopLogs func()
	log      logrus.FieldLogger

	// mu keeps a shutdown flush and Close from running at the same time
	mu     sync.Mutex
	closed bool
}

// Shutdown flushes the outbound queue. It implements graceful.Shutdownable.
func (p *confluentProducer) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	return flushProducer(ctx, p.Producer, p.log)
}

func (p *confluentProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.Producer.Close()
	p.stopLogs()
}

// flushProducer waits for the delivery of queued messages until the queue
// is empty or ctx is done.
func flushProducer(ctx context.Context, p Producer, log logrus.FieldLogger) error {
	for {
		remaining := p.Flush(int(flushInterval.Milliseconds()))
		if remaining == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			log.WithField("kafka_pending_messages", remaining).Warn("Kafka producer closed with messages still in queue")
			return errors.Errorf("%d messages were not delivered before the flush deadline", remaining)
		default:
		}
	}
}

type topicHandle struct {
	producer Producer
	name     string
}

// NewTopicHandle returns a handle publishing to t through p on any partition.
func NewTopicHandle(p Producer, t Topic) TopicHandle {
	return &topicHandle{producer: p, name: t.Name}
}

func (t *topicHandle) Name() string { return t.name }

func (t *topicHandle) Produce(value, key []byte, headers []kafkalib.Header) error {
	topic := t.name
	return t.producer.Produce(&kafkalib.Message{
		TopicPartition: kafkalib.TopicPartition{Topic: &topic, Partition: kafkalib.PartitionAny},
		Value:          value,
		Key:            key,
		Headers:        headers,
	}, nil)
}

func partitionLabel(p int32) string {
	return strconv.Itoa(int(p))
}
