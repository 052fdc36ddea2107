package kafka

import (
	kafkalib "github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// ReceivedStamp marks an envelope received from Kafka. It keeps the native
// message so the offset can be committed on ack. It is never sent.
type ReceivedStamp struct {
	Message *kafkalib.Message
}

// NonSendable implements messaging.NonSendableStamp.
func (ReceivedStamp) NonSendable() {}
