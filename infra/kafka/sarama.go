package kafka

import (
	"context"

	"github.com/IBM/sarama"
)

// SaramaSink is a Sink over a sarama SyncProducer.
type SaramaSink struct {
	producer sarama.SyncProducer
	topic    string
}

func NewSaramaSink(brokers []string, topic string) (*SaramaSink, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return NewSaramaSinkFromProducer(producer, topic), nil
}

// NewSaramaSinkFromProducer wraps an existing producer, e.g. a sarama mock.
func NewSaramaSinkFromProducer(p sarama.SyncProducer, topic string) *SaramaSink {
	return &SaramaSink{producer: p, topic: topic}
}

func (s *SaramaSink) Send(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	})
	return err
}

func (s *SaramaSink) Close() error {
	return s.producer.Close()
}
