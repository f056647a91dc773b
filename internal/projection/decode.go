package projection

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmehra2102/inventory-cqrs/internal/inventory/domain"
	"github.com/dmehra2102/inventory-cqrs/pkg/stream"
)

// ErrUnknownEventType is returned for envelope types outside the inventory
// event set. Dispatch treats it as a no-op.
var ErrUnknownEventType = errors.New("unknown event type")

// Decode maps an envelope onto its typed event.
func Decode(env stream.Envelope) (domain.Event, error) {
	switch env.Type {
	case domain.TypeItemUpserted:
		return decodeAs[domain.ItemUpserted](env)
	case domain.TypeItemAdjusted:
		return decodeAs[domain.ItemAdjusted](env)
	case domain.TypeItemReserved:
		return decodeAs[domain.ItemReserved](env)
	case domain.TypeItemReleased:
		return decodeAs[domain.ItemReleased](env)
	case domain.TypeItemRemoved:
		return decodeAs[domain.ItemRemoved](env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
	}
}

type keyResolver interface {
	ResolveKey(raw []byte) error
}

func decodeAs[T domain.Event](env stream.Envelope) (domain.Event, error) {
	var ev T
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", env.Type, env.ID, err)
	}
	if r, ok := any(&ev).(keyResolver); ok {
		if err := r.ResolveKey(env.Payload); err != nil {
			return nil, fmt.Errorf("decode %s %s key: %w", env.Type, env.ID, err)
		}
	}
	return ev, nil
}
