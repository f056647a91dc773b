package application

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmehra2102/inventory-cqrs/internal/inventory/domain"
	"github.com/dmehra2102/inventory-cqrs/pkg/outbox"
	"github.com/dmehra2102/inventory-cqrs/pkg/tracing"
)

const aggregateType = "inventory_item"

// OutboxSink stores the event as an outbox row in the command's transaction.
// The relay publishes it later, using the row id as the envelope id.
type OutboxSink struct {
	writer OutboxWriter
}

func NewOutboxSink(writer OutboxWriter) *OutboxSink {
	return &OutboxSink{writer: writer}
}

func (s *OutboxSink) Emit(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.EventType(), err)
	}

	return s.writer.Insert(ctx, outbox.Event{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   ev.AggregateID(),
		Type:          ev.EventType(),
		Payload:       payload,
		Headers:       map[string]string{"source": "inventory-commands"},
		Traceparent:   tracing.Traceparent(ctx),
	})
}

// PublisherSink appends the event straight to the stream. A publish failure
// fails the command and rolls its write back.
type PublisherSink struct {
	pub EnvelopePublisher
}

func NewPublisherSink(pub EnvelopePublisher) *PublisherSink {
	return &PublisherSink{pub: pub}
}

func (s *PublisherSink) Emit(ctx context.Context, ev domain.Event) error {
	_, err := s.pub.Publish(ctx, ev.EventType(), ev, "")
	return err
}
