package domain

const (
	TypeItemUpserted = "ItemUpserted"
	TypeItemAdjusted = "ItemAdjusted"
	TypeItemReserved = "ItemReserved"
	TypeItemReleased = "ItemReleased"
	TypeItemRemoved  = "ItemRemoved"
)

// Event is a domain event emitted by a command.
type Event interface {
	EventType() string
	AggregateID() string
}

// Snapshot is the item state after the command that produced the event.
type Snapshot struct {
	ItemKey
	QtyOnHand   int64 `json:"qty_on_hand"`
	QtyReserved int64 `json:"qty_reserved"`
	Attributes
	Version int64 `json:"version"`
}

func SnapshotOf(i Item) Snapshot {
	return Snapshot{
		ItemKey:     i.Key,
		QtyOnHand:   i.QtyOnHand,
		QtyReserved: i.QtyReserved,
		Attributes:  i.Attributes,
		Version:     i.Version,
	}
}

type ItemUpserted struct {
	Snapshot
}

type ItemAdjusted struct {
	Snapshot
	Delta int64 `json:"delta"`
}

type ItemReserved struct {
	Snapshot
	Qty int64 `json:"qty"`
}

type ItemReleased struct {
	Snapshot
	Qty int64 `json:"qty"`
}

type ItemRemoved struct {
	ItemKey
	Version int64 `json:"version"`
}

func (ItemUpserted) EventType() string { return TypeItemUpserted }
func (ItemAdjusted) EventType() string { return TypeItemAdjusted }
func (ItemReserved) EventType() string { return TypeItemReserved }
func (ItemReleased) EventType() string { return TypeItemReleased }
func (ItemRemoved) EventType() string  { return TypeItemRemoved }

func (e ItemUpserted) AggregateID() string { return e.ItemKey.String() }
func (e ItemAdjusted) AggregateID() string { return e.ItemKey.String() }
func (e ItemReserved) AggregateID() string { return e.ItemKey.String() }
func (e ItemReleased) AggregateID() string { return e.ItemKey.String() }
func (e ItemRemoved) AggregateID() string  { return e.ItemKey.String() }
