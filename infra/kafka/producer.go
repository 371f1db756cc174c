// Package kafka publishes egress events to a Kafka topic.
package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Sink delivers one keyed message and returns once the broker has it.
type Sink interface {
	Send(ctx context.Context, key, value []byte) error
	Close() error
}

// WriterSink is a Sink over a kafka-go Writer.
type WriterSink struct {
	writer *kafka.Writer
}

func NewWriterSink(brokers []string, topic string) *WriterSink {
	return &WriterSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *WriterSink) Send(ctx context.Context, key, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: value,
	})
}

func (p *WriterSink) Close() error {
	return p.writer.Close()
}
