// Package kafka is the Kafka transport of the messenger.
//
// A transport is built from a DSN:
//
//	kafka://{host|default}[:port]/topic1,topic2?read_timeout=500&connection[security.protocol]=ssl&topic[acks]=all
//
// Messages are sent to every topic of the DSN and received from all of them
// through a single consumer group. Offsets are committed on Ack; Reject leaves
// them alone so the message comes back after a restart or a rebalance.
//
// It relies on https://github.com/confluentinc/confluent-kafka-go which is a Go wrapper on top of https://github.com/edenhill/librdkafka.
// This provides a reliable implementation, fully supported by the community, but also from Confluent, the creators of Kafka.
package kafka
