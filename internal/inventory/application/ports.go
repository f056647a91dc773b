package application

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/dmehra2102/inventory-cqrs/internal/inventory/domain"
	"github.com/dmehra2102/inventory-cqrs/pkg/outbox"
)

// ItemRepository reads and writes the write-side item table. Implementations
// use the transaction carried by ctx when there is one.
type ItemRepository interface {
	GetForUpdate(ctx context.Context, key domain.ItemKey) (domain.Item, error)
	Save(ctx context.Context, item domain.Item) error
	Delete(ctx context.Context, key domain.ItemKey) error
}

// EventSink receives the event of a command inside the command's transaction.
type EventSink interface {
	Emit(ctx context.Context, ev domain.Event) error
}

type Transactor interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}

type OutboxWriter interface {
	Insert(ctx context.Context, ev outbox.Event) error
}

type EnvelopePublisher interface {
	Publish(ctx context.Context, eventType string, payload any, id string) (string, error)
}
