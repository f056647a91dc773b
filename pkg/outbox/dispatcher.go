package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/dmehra2102/inventory-cqrs/pkg/stream"
	"github.com/dmehra2102/inventory-cqrs/pkg/tracing"
)

// ErrPermanent marks a row that can never be delivered, such as a payload
// that is not JSON. The relay fails it without further attempts.
var ErrPermanent = errors.New("permanent")

type StreamPublisher interface {
	PublishEnvelope(ctx context.Context, env stream.Envelope) error
}

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Dispatcher delivers outbox rows to the event stream and, when a producer is
// configured, mirrors them to a Kafka topic.
type Dispatcher struct {
	log      *slog.Logger
	stream   StreamPublisher
	producer Producer
	topic    string
}

func NewDispatcher(log *slog.Logger, pub StreamPublisher) *Dispatcher {
	return &Dispatcher{log: log, stream: pub}
}

// WithMirror enables the Kafka copy. A nil producer leaves it disabled.
func (d *Dispatcher) WithMirror(producer Producer, topic string) *Dispatcher {
	d.producer = producer
	d.topic = topic
	return d
}

func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	if !json.Valid(event.Payload) {
		return fmt.Errorf("%w: event %s payload is not json", ErrPermanent, event.ID)
	}

	env := stream.Envelope{ID: event.ID, Type: event.Type, Payload: event.Payload}
	if err := d.stream.PublishEnvelope(ctx, env); err != nil {
		return err
	}

	if d.producer == nil {
		d.log.Debug("outbox dispatched", "event_id", event.ID, "type", event.Type)
		return nil
	}

	headers := make([]kafka.Header, 0, len(event.Headers)+3)
	for k, v := range event.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	headers = append(headers,
		kafka.Header{Key: "event_id", Value: []byte(event.ID)},
		kafka.Header{Key: "event_type", Value: []byte(event.Type)},
	)
	headers = tracing.InjectKafkaHeaders(ctx, headers)

	msg := kafka.Message{
		Topic:   d.topic,
		Key:     []byte(event.AggregateID),
		Value:   event.Payload,
		Headers: headers,
	}
	if err := d.producer.WriteMessages(ctx, msg); err != nil {
		d.log.Error("outbox mirror failed", "event_id", event.ID, "err", err)
		return fmt.Errorf("mirror %s to kafka: %w", event.ID, err)
	}
	d.log.Debug("outbox dispatched", "event_id", event.ID, "type", event.Type, "mirrored", true)
	return nil
}
