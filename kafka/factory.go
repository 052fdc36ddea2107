package kafka

import (
	"strings"

	"github.com/netlify/messenger-kafka/messaging"
	"github.com/sirupsen/logrus"
)

// TransportFactory builds Kafka transports from kafka:// DSNs.
type TransportFactory struct {
	log     logrus.FieldLogger
	clients ClientFactory
}

// TransportFactoryOpt configures a TransportFactory.
type TransportFactoryOpt func(f *TransportFactory)

// WithClientFactory replaces the confluent-kafka-go handles, mostly for tests.
func WithClientFactory(clients ClientFactory) TransportFactoryOpt {
	return func(f *TransportFactory) {
		f.clients = clients
	}
}

// NewTransportFactory returns a factory backed by confluent-kafka-go unless
// another ClientFactory is given.
func NewTransportFactory(log logrus.FieldLogger, opts ...TransportFactoryOpt) *TransportFactory {
	f := &TransportFactory{log: log}
	for _, opt := range opts {
		opt(f)
	}
	if f.clients == nil {
		f.clients = NewConfluentFactory(log)
	}
	return f
}

// Supports implements messaging.TransportFactory.
func (f *TransportFactory) Supports(dsn string, _ map[string]interface{}) bool {
	return strings.HasPrefix(dsn, Scheme+"://")
}

// CreateTransport implements messaging.TransportFactory.
func (f *TransportFactory) CreateTransport(dsn string, options map[string]interface{}, serializer messaging.Serializer) (messaging.Transport, error) {
	return f.Create(dsn, options, serializer)
}

// Create is CreateTransport returning the concrete type.
func (f *TransportFactory) Create(dsn string, options map[string]interface{}, serializer messaging.Serializer) (*Transport, error) {
	conf, err := ParseDSN(dsn, options)
	if err != nil {
		return nil, err
	}

	log := f.log.WithFields(logrus.Fields{
		"kafka_topics":   conf.TopicNames(),
		"kafka_group_id": conf.GroupID,
	})
	return NewTransport(NewConnection(conf, f.clients, log), serializer, log), nil
}
