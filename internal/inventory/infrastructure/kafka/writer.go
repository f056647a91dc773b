package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Writer mirrors relayed envelopes to Kafka. Messages carry their own topic,
// so one writer serves any topic. The relay keys each message by aggregate id
// and the hash balancer maps a key to a fixed partition, which keeps the
// events of one item in order on the mirror.
type Writer struct {
	*kafka.Writer
}

func NewWriter(brokers []string) *Writer {
	return &Writer{
		Writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
	}
}

func (w *Writer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	return w.Writer.WriteMessages(ctx, msgs...)
}
