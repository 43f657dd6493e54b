// README: Kafka reader and writer for the location feed and the request event stream.
package infra

import (
	"github.com/segmentio/kafka-go"
)

// NewLocationReader joins groupID on topic. Offsets are committed by the reader as messages are read.
func NewLocationReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// NewEventWriter publishes keyed messages; the hash balancer keeps one key on one partition.
func NewEventWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}
