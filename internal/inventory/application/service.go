package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/inventory-cqrs/internal/inventory/domain"
)

type Service struct {
	log    *slog.Logger
	tx     Transactor
	items  ItemRepository
	sink   EventSink
	tracer trace.Tracer
}

func NewService(log *slog.Logger, tx Transactor, items ItemRepository, sink EventSink) *Service {
	return &Service{
		log:    log,
		tx:     tx,
		items:  items,
		sink:   sink,
		tracer: otel.Tracer("inventory-commands"),
	}
}

// UpsertItem creates the item or overwrites its on-hand quantity and attributes.
func (s *Service) UpsertItem(ctx context.Context, key domain.ItemKey, qtyOnHand int64, attrs domain.Attributes) (domain.Item, error) {
	if err := key.Validate(); err != nil {
		return domain.Item{}, err
	}
	if qtyOnHand < 0 {
		return domain.Item{}, domain.ErrInvalidQuantity
	}
	return s.run(ctx, "UpsertItem", key, func(ctx context.Context) (domain.Item, domain.Event, error) {
		it, err := s.items.GetForUpdate(ctx, key)
		switch {
		case errors.Is(err, domain.ErrItemNotFound):
			it, err = domain.NewItem(key, qtyOnHand, attrs)
		case err == nil:
			err = it.Set(qtyOnHand, attrs)
		}
		if err != nil {
			return domain.Item{}, nil, err
		}
		if err := s.items.Save(ctx, it); err != nil {
			return domain.Item{}, nil, err
		}
		return it, domain.ItemUpserted{Snapshot: domain.SnapshotOf(it)}, nil
	})
}

func (s *Service) AdjustItem(ctx context.Context, key domain.ItemKey, delta int64) (domain.Item, error) {
	if err := key.Validate(); err != nil {
		return domain.Item{}, err
	}
	if delta == 0 {
		return domain.Item{}, domain.ErrInvalidQuantity
	}
	return s.mutate(ctx, "AdjustItem", key, func(it *domain.Item) (domain.Event, error) {
		if err := it.Adjust(delta); err != nil {
			return nil, err
		}
		return domain.ItemAdjusted{Snapshot: domain.SnapshotOf(*it), Delta: delta}, nil
	})
}

func (s *Service) ReserveItem(ctx context.Context, key domain.ItemKey, qty int64) (domain.Item, error) {
	if err := key.Validate(); err != nil {
		return domain.Item{}, err
	}
	if qty <= 0 {
		return domain.Item{}, domain.ErrInvalidQuantity
	}
	return s.mutate(ctx, "ReserveItem", key, func(it *domain.Item) (domain.Event, error) {
		if err := it.Reserve(qty); err != nil {
			return nil, err
		}
		return domain.ItemReserved{Snapshot: domain.SnapshotOf(*it), Qty: qty}, nil
	})
}

func (s *Service) ReleaseReservation(ctx context.Context, key domain.ItemKey, qty int64) (domain.Item, error) {
	if err := key.Validate(); err != nil {
		return domain.Item{}, err
	}
	if qty <= 0 {
		return domain.Item{}, domain.ErrInvalidQuantity
	}
	return s.mutate(ctx, "ReleaseReservation", key, func(it *domain.Item) (domain.Event, error) {
		if err := it.Release(qty); err != nil {
			return nil, err
		}
		return domain.ItemReleased{Snapshot: domain.SnapshotOf(*it), Qty: qty}, nil
	})
}

func (s *Service) RemoveItem(ctx context.Context, key domain.ItemKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	_, err := s.run(ctx, "RemoveItem", key, func(ctx context.Context) (domain.Item, domain.Event, error) {
		it, err := s.items.GetForUpdate(ctx, key)
		if err != nil {
			return domain.Item{}, nil, err
		}
		it.Retire()
		if err := s.items.Delete(ctx, key); err != nil {
			return domain.Item{}, nil, err
		}
		return it, domain.ItemRemoved{ItemKey: key, Version: it.Version}, nil
	})
	return err
}

// mutate loads and locks an existing item, applies fn and persists the result.
func (s *Service) mutate(ctx context.Context, name string, key domain.ItemKey, fn func(*domain.Item) (domain.Event, error)) (domain.Item, error) {
	return s.run(ctx, name, key, func(ctx context.Context) (domain.Item, domain.Event, error) {
		it, err := s.items.GetForUpdate(ctx, key)
		if err != nil {
			return domain.Item{}, nil, err
		}
		ev, err := fn(&it)
		if err != nil {
			return domain.Item{}, nil, err
		}
		if err := s.items.Save(ctx, it); err != nil {
			return domain.Item{}, nil, err
		}
		return it, ev, nil
	})
}

// run executes one command in a unit of work; the event is emitted in the
// same transaction as the write.
func (s *Service) run(ctx context.Context, name string, key domain.ItemKey, fn func(ctx context.Context) (domain.Item, domain.Event, error)) (domain.Item, error) {
	ctx, span := s.tracer.Start(ctx, name)
	defer span.End()
	span.SetAttributes(attribute.String("item.key", key.String()))

	var out domain.Item
	err := s.tx.Do(ctx, func(ctx context.Context, _ pgx.Tx) error {
		it, ev, err := fn(ctx)
		if err != nil {
			return err
		}
		if err := s.sink.Emit(ctx, ev); err != nil {
			return err
		}
		out = it
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Warn("command rejected", "command", name, "key", key.String(), "err", err)
		return domain.Item{}, err
	}
	s.log.Info("command applied", "command", name, "key", key.String(), "version", out.Version)
	return out, nil
}
