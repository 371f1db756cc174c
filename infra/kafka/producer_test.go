package kafka

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Sink = (*WriterSink)(nil)
	_ Sink = (*SaramaSink)(nil)
)

func TestWriterSinkConfig(t *testing.T) {
	s := NewWriterSink([]string{"k1:9092", "k2:9092"}, "events")
	defer s.Close()

	assert.Equal(t, "events", s.writer.Topic)
	assert.Equal(t, kafka.RequireAll, s.writer.RequiredAcks)
	assert.IsType(t, &kafka.Hash{}, s.writer.Balancer)
	assert.False(t, s.writer.Async)
}

func TestWriterSinkFailsOnCancelledContext(t *testing.T) {
	s := NewWriterSink([]string{"127.0.0.1:1"}, "events")
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, s.Send(ctx, []byte("1"), []byte("{}")))
}
