// Package projection keeps the inventory_search read model in step with the
// inventory event stream.
package projection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/inventory-cqrs/internal/inventory/domain"
	"github.com/dmehra2102/inventory-cqrs/pkg/idempotency"
	"github.com/dmehra2102/inventory-cqrs/pkg/stream"
)

// errAlreadyProcessed aborts the transaction when a concurrent worker
// recorded the same event id first.
var errAlreadyProcessed = errors.New("event already processed")

type Transactor interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}

type Guard interface {
	Seen(ctx context.Context, db idempotency.DB, eventID string) (bool, error)
	Mark(ctx context.Context, db idempotency.DB, eventID, eventType string) (bool, error)
}

type Store interface {
	ApplySnapshot(ctx context.Context, snap domain.Snapshot) error
	Remove(ctx context.Context, key domain.ItemKey, version int64) error
}

type Projector struct {
	log    *slog.Logger
	tx     Transactor
	guard  Guard
	store  Store
	tracer trace.Tracer
}

func NewProjector(log *slog.Logger, tx Transactor, guard Guard, store Store) *Projector {
	return &Projector{
		log:    log,
		tx:     tx,
		guard:  guard,
		store:  store,
		tracer: otel.Tracer("inventory-projector"),
	}
}

// Dispatch applies env at most once. The idempotency check, the projection
// write and the processed record share one transaction.
func (p *Projector) Dispatch(ctx context.Context, env stream.Envelope) error {
	ctx, span := p.tracer.Start(ctx, "projector.Apply")
	defer span.End()
	span.SetAttributes(attribute.String("event.id", env.ID), attribute.String("event.type", env.Type))

	err := p.tx.Do(ctx, func(ctx context.Context, tx pgx.Tx) error {
		seen, err := p.guard.Seen(ctx, tx, env.ID)
		if err != nil {
			return err
		}
		if seen {
			return errAlreadyProcessed
		}

		ev, err := Decode(env)
		switch {
		case errors.Is(err, ErrUnknownEventType):
			unknownEvents.Inc()
			p.log.Warn("unknown event type, skipping", "event_id", env.ID, "type", env.Type)
		case err != nil:
			return err
		default:
			if err := p.apply(ctx, ev); err != nil {
				return err
			}
		}

		inserted, err := p.guard.Mark(ctx, tx, env.ID, env.Type)
		if err != nil {
			return err
		}
		if !inserted {
			return errAlreadyProcessed
		}
		return nil
	})
	if errors.Is(err, errAlreadyProcessed) {
		duplicatesSkipped.Inc()
		p.log.Info("duplicate event skipped", "event_id", env.ID, "type", env.Type)
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}
	eventsApplied.WithLabelValues(env.Type).Inc()
	return nil
}

func (p *Projector) apply(ctx context.Context, ev domain.Event) error {
	switch e := ev.(type) {
	case domain.ItemUpserted:
		return p.applySnapshot(ctx, e.Snapshot)
	case domain.ItemAdjusted:
		return p.applySnapshot(ctx, e.Snapshot)
	case domain.ItemReserved:
		return p.applySnapshot(ctx, e.Snapshot)
	case domain.ItemReleased:
		return p.applySnapshot(ctx, e.Snapshot)
	case domain.ItemRemoved:
		if err := e.ItemKey.Validate(); err != nil {
			return fmt.Errorf("%s: %w", ev.EventType(), err)
		}
		return p.store.Remove(ctx, e.ItemKey, e.Version)
	default:
		return fmt.Errorf("no projection for %T", ev)
	}
}

func (p *Projector) applySnapshot(ctx context.Context, s domain.Snapshot) error {
	if err := s.ItemKey.Validate(); err != nil {
		return err
	}
	if s.QtyOnHand < 0 || s.QtyReserved < 0 {
		return domain.ErrInvalidQuantity
	}
	return p.store.ApplySnapshot(ctx, s)
}
